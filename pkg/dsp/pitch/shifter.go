package pitch

import (
	"fmt"
	"math"
)

// Shifter transposes a waveform without changing its duration.
type Shifter interface {
	// Shift returns samples transposed by semitones. The output has exactly
	// len(samples) samples.
	Shift(samples []float64, rate int, semitones float64) ([]float64, error)
}

// ShifterFunc adapts a plain function to the Shifter interface.
type ShifterFunc func(samples []float64, rate int, semitones float64) ([]float64, error)

// Shift implements Shifter.
func (f ShifterFunc) Shift(samples []float64, rate int, semitones float64) ([]float64, error) {
	return f(samples, rate, semitones)
}

const (
	// Longer sequences keep several periods of low voices inside the
	// correlation window, which improves segment selection for speech.
	defaultSequenceMs = 82.0
	defaultOverlapMs  = 10.0
	defaultSearchMs   = 28.0

	minShiftRatio = 0.25
	maxShiftRatio = 4.0

	identityEps = 1e-9
	tiny        = 1e-12
)

// WSOLA is a time-domain pitch shifter: a waveform-similarity overlap-add
// stretch by the pitch ratio followed by Hermite resampling back to the input
// length. A WSOLA value holds only its timing parameters and is safe for
// concurrent use.
type WSOLA struct {
	SequenceMs float64
	OverlapMs  float64
	SearchMs   float64
}

var _ Shifter = (*WSOLA)(nil)

// NewWSOLA returns a WSOLA shifter with 82/10/28 ms sequence, overlap and
// search windows.
func NewWSOLA() *WSOLA {
	return &WSOLA{
		SequenceMs: defaultSequenceMs,
		OverlapMs:  defaultOverlapMs,
		SearchMs:   defaultSearchMs,
	}
}

// wsolaPlan holds the per-call window sizes derived from the sample rate.
type wsolaPlan struct {
	ratio       float64
	sequenceLen int
	overlapLen  int
	searchLen   int
	stepOut     int
	fadeIn      []float64
	fadeOut     []float64
}

// Shift implements Shifter.
func (s *WSOLA) Shift(samples []float64, rate int, semitones float64) ([]float64, error) {
	ratio, err := semitoneRatio(semitones)
	if err != nil {
		return nil, err
	}
	if rate <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidRate, rate)
	}
	if len(samples) == 0 {
		return nil, nil
	}
	if math.Abs(ratio-1) <= identityEps {
		out := make([]float64, len(samples))
		copy(out, samples)
		return out, nil
	}

	plan, err := s.plan(float64(rate), ratio)
	if err != nil {
		return nil, err
	}
	stretched := plan.timeStretch(samples)
	return resampleHermite(stretched, len(samples)), nil
}

func semitoneRatio(semitones float64) (float64, error) {
	if math.IsNaN(semitones) || math.IsInf(semitones, 0) {
		return 0, fmt.Errorf("pitch: semitones must be finite: %f", semitones)
	}
	ratio := math.Pow(2, semitones/12)
	if ratio < minShiftRatio-identityEps || ratio > maxShiftRatio+identityEps {
		return 0, fmt.Errorf("pitch: shift ratio must be in [%g, %g]: %g", minShiftRatio, maxShiftRatio, ratio)
	}
	return ratio, nil
}

func (s *WSOLA) plan(sampleRate, ratio float64) (*wsolaPlan, error) {
	if s.OverlapMs >= s.SequenceMs {
		return nil, fmt.Errorf("pitch: overlap must be smaller than sequence: overlap=%g sequence=%g",
			s.OverlapMs, s.SequenceMs)
	}
	p := &wsolaPlan{ratio: ratio}

	p.sequenceLen = max(32, int(math.Round(s.SequenceMs*0.001*sampleRate)))
	p.overlapLen = max(8, int(math.Round(s.OverlapMs*0.001*sampleRate)))
	if p.overlapLen >= p.sequenceLen {
		return nil, fmt.Errorf("pitch: overlap too large for sequence: overlap=%d sequence=%d",
			p.overlapLen, p.sequenceLen)
	}
	p.stepOut = p.sequenceLen - p.overlapLen
	if p.stepOut < 4 {
		return nil, fmt.Errorf("pitch: output hop too small: %d", p.stepOut)
	}
	p.searchLen = max(1, int(math.Round(s.SearchMs*0.001*sampleRate)))

	p.fadeIn = make([]float64, p.overlapLen)
	p.fadeOut = make([]float64, p.overlapLen)
	for i := range p.overlapLen {
		t := float64(i) / float64(p.overlapLen-1)
		in := 0.5 - 0.5*math.Cos(math.Pi*t)
		p.fadeIn[i] = in
		p.fadeOut[i] = 1 - in
	}
	return p, nil
}

// timeStretch lengthens input by ratio, splicing each new sequence at the
// offset within the search window that best matches the previous overlap.
func (p *wsolaPlan) timeStretch(input []float64) []float64 {
	targetLen := max(1, int(math.Round(float64(len(input))*p.ratio)))
	nominalInStep := math.Max(1, float64(p.stepOut)/p.ratio)

	nFrames := targetLen/p.stepOut + 4
	out := make([]float64, nFrames*p.stepOut+p.sequenceLen+1)

	for i := 0; i < p.sequenceLen; i++ {
		out[i] = sampleZero(input, i)
	}
	outLen := p.sequenceLen
	prevStart := 0
	nextNominal := nominalInStep
	ref := make([]float64, p.overlapLen)

	for outLen < targetLen+p.sequenceLen {
		refStart := prevStart + p.stepOut
		for i := range ref {
			ref[i] = sampleZero(input, refStart+i)
		}

		candStart := p.bestOverlap(ref, input, int(math.Round(nextNominal)))

		outStart := outLen - p.overlapLen
		if outStart+p.sequenceLen > len(out) {
			break
		}
		for i := 0; i < p.overlapLen; i++ {
			out[outStart+i] = out[outStart+i]*p.fadeOut[i] + sampleZero(input, candStart+i)*p.fadeIn[i]
		}
		for i := p.overlapLen; i < p.sequenceLen; i++ {
			out[outStart+i] = sampleZero(input, candStart+i)
		}

		outLen = outStart + p.sequenceLen
		prevStart = candStart
		nextNominal += nominalInStep

		if prevStart > len(input)+p.sequenceLen && outLen >= targetLen {
			break
		}
	}
	return out[:targetLen]
}

// bestOverlap returns the candidate start around predicted whose normalised
// cross-correlation with ref is highest.
func (p *wsolaPlan) bestOverlap(ref, input []float64, predicted int) int {
	best := predicted
	bestScore := math.Inf(-1)

	refEnergy := tiny
	for _, v := range ref {
		refEnergy += v * v
	}
	for cand := predicted - p.searchLen; cand <= predicted+p.searchLen; cand++ {
		dot := 0.0
		candEnergy := tiny
		for i, rv := range ref {
			cv := sampleZero(input, cand+i)
			dot += rv * cv
			candEnergy += cv * cv
		}
		score := dot / math.Sqrt(refEnergy*candEnergy)
		if score > bestScore {
			bestScore = score
			best = cand
		}
	}
	return best
}

// resampleHermite maps input onto outLen samples with four-point Hermite
// interpolation, pinning the first and last samples.
func resampleHermite(input []float64, outLen int) []float64 {
	if outLen <= 0 || len(input) == 0 {
		return nil
	}
	out := make([]float64, outLen)
	if len(input) == 1 || outLen == 1 {
		for i := range out {
			out[i] = input[0]
		}
		return out
	}

	step := float64(len(input)-1) / float64(outLen-1)
	for i := range out {
		pos := float64(i) * step
		idx := int(math.Floor(pos))
		frac := pos - float64(idx)
		out[i] = hermite4(frac,
			sampleClamp(input, idx-1),
			sampleClamp(input, idx),
			sampleClamp(input, idx+1),
			sampleClamp(input, idx+2),
		)
	}
	return out
}

// hermite4 evaluates the 4-point, 3rd-order Hermite polynomial at t in [0, 1)
// between x0 and x1.
func hermite4(t, xm1, x0, x1, x2 float64) float64 {
	c0 := x0
	c1 := 0.5 * (x1 - xm1)
	c2 := xm1 - 2.5*x0 + 2*x1 - 0.5*x2
	c3 := 0.5*(x2-xm1) + 1.5*(x0-x1)
	return ((c3*t+c2)*t+c1)*t + c0
}

func sampleZero(x []float64, idx int) float64 {
	if idx < 0 || idx >= len(x) {
		return 0
	}
	return x[idx]
}

func sampleClamp(x []float64, idx int) float64 {
	if idx < 0 {
		return x[0]
	}
	if idx >= len(x) {
		return x[len(x)-1]
	}
	return x[idx]
}
