package resample

import (
	"errors"
	"fmt"
	"math"
)

// filterBank is a prototype low-pass FIR split into up polyphase branches.
type filterBank struct {
	taps   []float64
	phases [][]float64
}

func designPolyphaseFIR(up, down int, cfg polyConfig) (filterBank, error) {
	if up <= 0 || down <= 0 {
		return filterBank{}, ErrInvalidRatio
	}
	if cfg.tapsPerPhase <= 0 {
		return filterBank{}, errors.New("resample: taps per phase must be > 0")
	}
	if cfg.cutoffScale <= 0 || cfg.cutoffScale > 1 {
		return filterBank{}, errors.New("resample: cutoff scale must be in (0,1]")
	}

	nTaps := cfg.tapsPerPhase * up
	if nTaps%2 == 0 {
		// Odd length keeps the centre tap on an integer position.
		nTaps++
	}

	fc := (0.5 / float64(max(up, down))) * cfg.cutoffScale
	if fc <= 0 || fc >= 0.5 {
		return filterBank{}, fmt.Errorf("resample: invalid cutoff %.6f", fc)
	}

	taps := make([]float64, nTaps)
	centre := 0.5 * float64(nTaps-1)
	i0Beta := besselI0(cfg.kaiserBeta)
	for n := range nTaps {
		t := float64(n) - centre
		taps[n] = 2 * fc * sinc(2*fc*t) * kaiserWindow(n, nTaps, cfg.kaiserBeta, i0Beta)
	}

	var sum float64
	for _, v := range taps {
		sum += v
	}
	if sum == 0 {
		return filterBank{}, errors.New("resample: designed zero-sum filter")
	}
	scale := float64(up) / sum
	for i := range taps {
		taps[i] *= scale
	}

	phases := make([][]float64, up)
	for p := range up {
		phase := make([]float64, 0, (nTaps-p+up-1)/up)
		for i := p; i < nTaps; i += up {
			phase = append(phase, taps[i])
		}
		phases[p] = phase
	}
	return filterBank{taps: taps, phases: phases}, nil
}

func sinc(x float64) float64 {
	if math.Abs(x) < 1e-12 {
		return 1
	}
	pix := math.Pi * x
	return math.Sin(pix) / pix
}

func kaiserWindow(i, n int, beta, i0Beta float64) float64 {
	if n <= 1 || beta == 0 {
		return 1
	}
	t := 2*float64(i)/float64(n-1) - 1
	a := math.Sqrt(math.Max(0, 1-t*t))
	return besselI0(beta*a) / i0Beta
}

// besselI0 evaluates the zeroth-order modified Bessel function of the first
// kind by power series.
func besselI0(x float64) float64 {
	sum := 1.0
	term := 1.0
	x2 := (x * x) / 4
	for k := 1; k < 64; k++ {
		term *= x2 / float64(k*k)
		sum += term
		if term < 1e-16*sum {
			break
		}
	}
	return sum
}
