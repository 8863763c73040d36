package pitch

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/MrWong99/voicemimic/pkg/audio"
	"github.com/MrWong99/voicemimic/pkg/dsp/resample"
)

const normFloor = 1e-12

// Vocoder is a frequency-domain pitch shifter. It time-stretches the input
// with a phase vocoder using identity phase locking and then resamples the
// stretched signal back to the input length.
type Vocoder struct {
	// FrameSize is the STFT length in samples; must be even.
	FrameSize int

	// AnalysisHop is the STFT hop in samples.
	AnalysisHop int

	// Resampler converts the stretched signal back to the input length.
	Resampler resample.Resampler
}

var _ Shifter = (*Vocoder)(nil)

// NewVocoder returns a Vocoder with a 1024-sample frame, a hop of 256 and r
// as its resampler.
func NewVocoder(r resample.Resampler) *Vocoder {
	return &Vocoder{FrameSize: 1024, AnalysisHop: 256, Resampler: r}
}

// Shift implements Shifter.
func (v *Vocoder) Shift(samples []float64, rate int, semitones float64) ([]float64, error) {
	ratio, err := semitoneRatio(semitones)
	if err != nil {
		return nil, err
	}
	if rate <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidRate, rate)
	}
	if v.FrameSize < 64 || v.FrameSize%2 != 0 || v.AnalysisHop <= 0 || v.AnalysisHop > v.FrameSize/2 {
		return nil, fmt.Errorf("pitch: invalid vocoder geometry frame=%d hop=%d", v.FrameSize, v.AnalysisHop)
	}
	if v.Resampler == nil {
		return nil, fmt.Errorf("pitch: vocoder has no resampler")
	}
	if len(samples) == 0 {
		return nil, nil
	}
	if math.Abs(ratio-1) <= identityEps {
		out := make([]float64, len(samples))
		copy(out, samples)
		return out, nil
	}

	synthesisHop := max(1, int(math.Round(float64(v.AnalysisHop)*ratio)))
	if synthesisHop == v.AnalysisHop {
		out := make([]float64, len(samples))
		copy(out, samples)
		return out, nil
	}

	stretched := v.stretch(samples, synthesisHop)
	shifted, err := v.Resampler.Resample(stretched, synthesisHop, v.AnalysisHop)
	if err != nil {
		return nil, fmt.Errorf("pitch: vocoder resample: %w", err)
	}
	return audio.FitLength(shifted, len(samples)), nil
}

func (v *Vocoder) stretch(input []float64, synthesisHop int) []float64 {
	n := v.FrameSize
	half := n / 2
	fft := fourier.NewFFT(n)
	win := periodicHann(n)

	frameCount := 1 + (len(input)-1)/v.AnalysisHop
	outLen := (frameCount-1)*synthesisHop + n
	out := make([]float64, outLen)
	norm := make([]float64, outLen)

	omega := make([]float64, half+1)
	for k := range omega {
		omega[k] = 2 * math.Pi * float64(k) / float64(n)
	}
	prevPhase := make([]float64, half+1)
	sumPhase := make([]float64, half+1)
	mag := make([]float64, half+1)
	phase := make([]float64, half+1)
	instFreq := make([]float64, half+1)
	synth := make([]complex128, half+1)
	frame := make([]float64, n)
	windowed := make([]float64, n)
	var peaks []int

	ha := float64(v.AnalysisHop)
	hs := float64(synthesisHop)
	invN := 1 / float64(n)

	for f := range frameCount {
		inPos := f * v.AnalysisHop
		for i := range frame {
			frame[i] = sampleZero(input, inPos+i)
		}
		applyWindow(windowed, frame, win)
		spec := fft.Coefficients(nil, windowed)

		for k := 0; k <= half; k++ {
			mag[k] = cmplx.Abs(spec[k])
			phase[k] = cmplx.Phase(spec[k])
			delta := wrapPhase(phase[k] - prevPhase[k] - omega[k]*ha)
			instFreq[k] = omega[k] + delta/ha
			prevPhase[k] = phase[k]
		}

		peaks = peaks[:0]
		for k := 1; k < half; k++ {
			if mag[k] >= mag[k-1] && mag[k] > mag[k+1] {
				peaks = append(peaks, k)
			}
		}

		if len(peaks) == 0 {
			for k := 0; k <= half; k++ {
				sumPhase[k] += instFreq[k] * hs
			}
		} else {
			// Identity phase locking: bins follow the phase of their nearest peak.
			for _, pk := range peaks {
				sumPhase[pk] += instFreq[pk] * hs
			}
			pi := 0
			for k := 0; k <= half; k++ {
				for pi+1 < len(peaks) && absInt(peaks[pi+1]-k) < absInt(peaks[pi]-k) {
					pi++
				}
				if pk := peaks[pi]; k != pk {
					sumPhase[k] = sumPhase[pk] + (phase[k] - phase[pk])
				}
			}
		}
		for k := 0; k <= half; k++ {
			synth[k] = cmplx.Rect(mag[k], sumPhase[k])
		}
		synth[0] = complex(real(synth[0]), 0)
		synth[half] = complex(real(synth[half]), 0)

		seq := fft.Sequence(nil, synth)
		outPos := f * synthesisHop
		for i := range n {
			w := win[i]
			out[outPos+i] += seq[i] * invN * w
			norm[outPos+i] += w * w
		}
	}

	for i := range out {
		if norm[i] > normFloor {
			out[i] /= norm[i]
		}
	}
	return out
}

func wrapPhase(x float64) float64 {
	return x - 2*math.Pi*math.Round(x/(2*math.Pi))
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
