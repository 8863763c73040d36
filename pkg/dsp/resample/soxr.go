package resample

import (
	"fmt"
	"math"
	"sync"

	resampling "github.com/tphakala/go-audio-resampling"

	"github.com/MrWong99/voicemimic/pkg/audio"
)

// Soxr resamples with the pure-Go libsoxr port. A fresh engine is built per
// call, so a single Soxr value is safe for concurrent use.
//
// The engine delays its output by the group delay of its filter cascade.
// Soxr measures that delay once per rate pair from the engine's impulse
// response and drops it from the head of every output, so output sample i
// lines up with input time i*from/to.
type Soxr struct {
	quality Quality

	// delays caches the measured output delay in samples per rate pair.
	delays sync.Map // ratePair -> int
}

type ratePair struct{ from, to int }

var _ Resampler = (*Soxr)(nil)

// NewSoxr returns a Soxr resampler at quality q.
func NewSoxr(q Quality) *Soxr {
	return &Soxr{quality: q}
}

// Resample implements Resampler.
func (s *Soxr) Resample(samples []float64, from, to int) ([]float64, error) {
	if err := checkRates(from, to); err != nil {
		return nil, err
	}
	if from == to || len(samples) == 0 {
		return copyOf(samples), nil
	}

	delay, err := s.delay(from, to)
	if err != nil {
		return nil, err
	}
	out, err := s.run(samples, from, to)
	if err != nil {
		return nil, err
	}
	if delay >= len(out) {
		out = nil
	} else {
		out = out[delay:]
	}
	return audio.FitLength(out, OutputLen(len(samples), from, to)), nil
}

// Delay returns the number of leading output samples the engine emits before
// the first input sample appears, for a conversion from rate from to rate to.
// Resample already removes it; it is exported for diagnostics.
func (s *Soxr) Delay(from, to int) (int, error) {
	if err := checkRates(from, to); err != nil {
		return 0, err
	}
	if from == to {
		return 0, nil
	}
	return s.delay(from, to)
}

// run feeds samples through a new engine and returns the processed output
// followed by the flushed tail.
func (s *Soxr) run(samples []float64, from, to int) ([]float64, error) {
	r, err := resampling.New(&resampling.Config{
		InputRate:  float64(from),
		OutputRate: float64(to),
		Channels:   1,
		Quality:    s.spec(),
	})
	if err != nil {
		return nil, fmt.Errorf("resample: soxr %d -> %d: %w", from, to, err)
	}
	out, err := r.Process(samples)
	if err != nil {
		return nil, fmt.Errorf("resample: soxr process: %w", err)
	}
	tail, err := r.Flush()
	if err != nil {
		return nil, fmt.Errorf("resample: soxr flush: %w", err)
	}
	return append(out, tail...), nil
}

func (s *Soxr) delay(from, to int) (int, error) {
	key := ratePair{from, to}
	if d, ok := s.delays.Load(key); ok {
		return d.(int), nil
	}
	d, err := s.measureDelay(from, to)
	if err != nil {
		return 0, err
	}
	s.delays.Store(key, d)
	return d, nil
}

// measureDelay locates the peak of the engine's impulse response. The filters
// are linear phase, so the peak sits exactly at the cascade's group delay.
// The impulse is placed on an input index that maps to a whole output index
// whenever the rate pair allows it.
func (s *Soxr) measureDelay(from, to int) (int, error) {
	n := max(from/4, 4096)
	step := from / gcd(from, to)
	pos := n / 4
	if step <= pos {
		pos -= pos % step
	}

	impulse := make([]float64, n)
	impulse[pos] = 1
	out, err := s.run(impulse, from, to)
	if err != nil {
		return 0, err
	}

	best, bestIdx := 0.0, -1
	for i, v := range out {
		if a := math.Abs(v); a > best {
			best, bestIdx = a, i
		}
	}
	if bestIdx < 0 {
		return 0, fmt.Errorf("resample: soxr %d -> %d: impulse response is silent", from, to)
	}
	expected := float64(pos) * float64(to) / float64(from)
	return max(0, int(math.Round(float64(bestIdx)-expected))), nil
}

func (s *Soxr) spec() resampling.QualitySpec {
	switch s.quality {
	case QualityFast:
		return resampling.QualitySpec{Preset: resampling.QualityLow}
	case QualityBest:
		return resampling.QualitySpec{Preset: resampling.QualityVeryHigh}
	default:
		return resampling.QualitySpec{Preset: resampling.QualityHigh}
	}
}
