// Package pitch provides fundamental-frequency estimation and
// duration-preserving pitch shifting for mono waveforms.
//
// [Autocorrelation] estimates F0 per analysis frame with a windowed,
// window-corrected autocorrelation and averages the voiced frames.
// [WSOLA] and [Vocoder] transpose a waveform by a number of semitones without
// changing its length.
package pitch

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// ErrInvalidRate is returned for a non-positive sample rate.
var ErrInvalidRate = errors.New("pitch: invalid sample rate")

// Estimator measures the mean fundamental frequency of a waveform.
type Estimator interface {
	// MeanPitch returns the mean F0 in Hertz over the voiced frames of samples.
	// It returns 0 when no frame is voiced.
	MeanPitch(samples []float64, rate int) (float64, error)
}

// EstimatorFunc adapts a plain function to the Estimator interface.
type EstimatorFunc func(samples []float64, rate int) (float64, error)

// MeanPitch implements Estimator.
func (f EstimatorFunc) MeanPitch(samples []float64, rate int) (float64, error) {
	return f(samples, rate)
}

// Frame is one entry of a pitch track.
type Frame struct {
	// Time is the centre of the analysis frame in seconds.
	Time float64

	// Hz is the estimated F0, or 0 for an unvoiced frame.
	Hz float64

	// Strength is the normalised autocorrelation peak in [0, 1].
	Strength float64
}

// Voiced reports whether the frame carries a pitch.
func (f Frame) Voiced() bool { return f.Hz > 0 }

// Autocorrelation is an [Estimator] following the autocorrelation method used
// by phonetic analysis tools: Hann-windowed frames three periods of the
// floor pitch long, autocorrelation divided by the window's own
// autocorrelation, parabolic peak refinement and an octave cost that favours
// higher candidates. The zero value is not usable; construct with
// [NewAutocorrelation].
type Autocorrelation struct {
	MinHz            float64
	MaxHz            float64
	TimeStep         float64 // seconds between frames
	VoicingThreshold float64 // minimum normalised peak for a voiced frame
	SilenceThreshold float64 // frames quieter than this fraction of the global peak are unvoiced
	OctaveCost       float64 // per-octave bonus for higher candidates
}

var _ Estimator = (*Autocorrelation)(nil)

// NewAutocorrelation returns an estimator with a 75–600 Hz search range and a
// 10 ms time step.
func NewAutocorrelation() *Autocorrelation {
	return &Autocorrelation{
		MinHz:            75,
		MaxHz:            600,
		TimeStep:         0.01,
		VoicingThreshold: 0.45,
		SilenceThreshold: 0.03,
		OctaveCost:       0.01,
	}
}

// MeanPitch implements Estimator.
func (a *Autocorrelation) MeanPitch(samples []float64, rate int) (float64, error) {
	track, err := a.Track(samples, rate)
	if err != nil {
		return 0, err
	}
	var sum float64
	var n int
	for _, f := range track {
		if f.Voiced() {
			sum += f.Hz
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return sum / float64(n), nil
}

// Track returns the per-frame pitch track of samples. Signals shorter than one
// analysis frame yield an empty track.
func (a *Autocorrelation) Track(samples []float64, rate int) ([]Frame, error) {
	if rate <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidRate, rate)
	}
	if a.MinHz <= 0 || a.MaxHz <= a.MinHz {
		return nil, fmt.Errorf("pitch: invalid search range [%g, %g] Hz", a.MinHz, a.MaxHz)
	}
	for i, v := range samples {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("pitch: non-finite sample at index %d", i)
		}
	}

	sr := float64(rate)
	frameLen := int(math.Ceil(3 * sr / a.MinHz))
	if len(samples) < frameLen {
		return nil, nil
	}
	minLag := max(2, int(math.Floor(sr/a.MaxHz)))
	maxLag := min(frameLen/2, int(math.Ceil(sr/a.MinHz)))
	hop := max(1, int(math.Round(a.TimeStep*sr)))

	globalPeak := 0.0
	for _, v := range samples {
		globalPeak = math.Max(globalPeak, math.Abs(v))
	}
	if globalPeak == 0 {
		return nil, nil
	}

	nfft := nextPow2(2 * frameLen)
	fft := fourier.NewFFT(nfft)
	win := hann(frameLen)
	winAC := autocorrelate(fft, win, nfft)

	frame := make([]float64, frameLen)
	windowed := make([]float64, frameLen)
	var track []Frame

	for start := 0; start+frameLen <= len(samples); start += hop {
		copy(frame, samples[start:start+frameLen])
		centre := (float64(start) + float64(frameLen)/2) / sr

		var mean float64
		for _, v := range frame {
			mean += v
		}
		mean /= float64(frameLen)
		localPeak := 0.0
		for i := range frame {
			frame[i] -= mean
			localPeak = math.Max(localPeak, math.Abs(frame[i]))
		}
		if localPeak < a.SilenceThreshold*globalPeak {
			track = append(track, Frame{Time: centre})
			continue
		}

		applyWindow(windowed, frame, win)
		ac := autocorrelate(fft, windowed, nfft)
		if ac[0] <= 0 {
			track = append(track, Frame{Time: centre})
			continue
		}

		r := func(lag int) float64 {
			if winAC[lag] <= 0 {
				return 0
			}
			return (ac[lag] / ac[0]) / (winAC[lag] / winAC[0])
		}

		bestHz, bestStrength, bestScore := 0.0, 0.0, math.Inf(-1)
		for lag := minLag; lag < maxLag; lag++ {
			prev, cur, next := r(lag-1), r(lag), r(lag+1)
			if cur < prev || cur < next {
				continue
			}
			// Parabolic refinement around the discrete peak.
			denom := prev - 2*cur + next
			shift := 0.0
			if denom != 0 {
				shift = 0.5 * (prev - next) / denom
			}
			refinedLag := float64(lag) + shift
			strength := math.Min(1, cur-0.25*(prev-next)*shift)
			if refinedLag <= 0 || strength < a.VoicingThreshold {
				continue
			}
			score := strength - a.OctaveCost*math.Log2(a.MinHz*refinedLag/sr)
			if score > bestScore {
				bestScore = score
				bestStrength = strength
				bestHz = sr / refinedLag
			}
		}
		track = append(track, Frame{Time: centre, Hz: bestHz, Strength: bestStrength})
	}
	return track, nil
}

// autocorrelate returns the linear autocorrelation of x for lags 0..len(x)-1
// computed through the power spectrum of the zero-padded signal.
func autocorrelate(fft *fourier.FFT, x []float64, nfft int) []float64 {
	padded := make([]float64, nfft)
	copy(padded, x)
	coeffs := fft.Coefficients(nil, padded)
	for i, c := range coeffs {
		re, im := real(c), imag(c)
		coeffs[i] = complex(re*re+im*im, 0)
	}
	seq := fft.Sequence(nil, coeffs)
	return seq[:len(x)]
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
