package pitch

import (
	"math"

	vecmath "github.com/cwbudde/algo-vecmath"
)

// hann returns a symmetric Hann window of length n.
func hann(n int) []float64 {
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return w
}

// periodicHann returns a periodic Hann window of length n, suited to
// overlap-add at hops of n/4.
func periodicHann(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n))
	}
	return w
}

// applyWindow writes samples*window into dst. All three slices must have
// equal length.
func applyWindow(dst, samples, window []float64) {
	vecmath.MulBlock(dst, samples, window)
}
