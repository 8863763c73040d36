// Package fbank provides an in-process speaker Extractor built on log mel
// filterbank statistics.
//
// The recording is pre-emphasised, cut into 25 ms Hamming-windowed frames with
// a 10 ms shift, projected onto a triangular mel filterbank and log-compressed.
// The embedding is the per-channel mean followed by the per-channel standard
// deviation over all frames, L2-normalised. It needs no model files and is
// deterministic, which makes it the default extractor.
package fbank

import (
	"context"
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/MrWong99/voicemimic/pkg/audio"
	"github.com/MrWong99/voicemimic/pkg/provider/speaker"
)

var _ speaker.Extractor = (*Extractor)(nil)

// Config configures the filterbank front end.
type Config struct {
	NumMels     int     // mel channels (default 80)
	FrameLength int     // samples per frame (default 400, 25 ms)
	FrameShift  int     // samples between frames (default 160, 10 ms)
	PreEmphasis float64 // pre-emphasis coefficient (default 0.97)
	EnergyFloor float64 // floor applied before the log (default 1e-10)
}

// DefaultConfig returns the configuration for 16 kHz input.
func DefaultConfig() Config {
	return Config{
		NumMels:     80,
		FrameLength: 400,
		FrameShift:  160,
		PreEmphasis: 0.97,
		EnergyFloor: 1e-10,
	}
}

// Extractor implements speaker.Extractor with log mel statistics pooling.
// Safe for concurrent use.
type Extractor struct {
	cfg        Config
	fftSize    int
	window     []float64
	filterbank [][]float64

	// FFT plans carry scratch space, so each goroutine takes its own.
	ffts sync.Pool
}

// New returns an Extractor. Zero fields in cfg take their default values.
func New(cfg Config) *Extractor {
	def := DefaultConfig()
	if cfg.NumMels <= 0 {
		cfg.NumMels = def.NumMels
	}
	if cfg.FrameLength <= 0 {
		cfg.FrameLength = def.FrameLength
	}
	if cfg.FrameShift <= 0 {
		cfg.FrameShift = def.FrameShift
	}
	if cfg.PreEmphasis < 0 || cfg.PreEmphasis >= 1 {
		cfg.PreEmphasis = def.PreEmphasis
	}
	if cfg.EnergyFloor <= 0 {
		cfg.EnergyFloor = def.EnergyFloor
	}
	n := nextPow2(cfg.FrameLength)
	e := &Extractor{
		cfg:        cfg,
		fftSize:    n,
		window:     hammingWindow(cfg.FrameLength),
		filterbank: melFilterbank(cfg.NumMels, n, speaker.SampleRate),
	}
	e.ffts.New = func() any { return fourier.NewFFT(n) }
	return e
}

// Dimensions returns twice the number of mel channels (mean and deviation).
func (e *Extractor) Dimensions() int { return 2 * e.cfg.NumMels }

// ModelID identifies the feature pipeline.
func (e *Extractor) ModelID() string {
	return fmt.Sprintf("fbank-stats-%d", e.cfg.NumMels)
}

// Embed computes the embedding of w, which must be at speaker.SampleRate.
func (e *Extractor) Embed(ctx context.Context, w audio.Waveform) ([]float32, error) {
	if w.SampleRate != speaker.SampleRate {
		return nil, fmt.Errorf("fbank: %w (got %d Hz)", speaker.ErrSampleRate, w.SampleRate)
	}
	if w.Len() < e.cfg.FrameLength {
		return nil, speaker.ErrTooShort
	}
	if i := audio.FirstNonFinite(w.Samples); i >= 0 {
		return nil, fmt.Errorf("fbank: %w at sample %d", audio.ErrNonFinite, i)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	frames := e.Compute(w.Samples)
	nm := e.cfg.NumMels
	mean := make([]float64, nm)
	sq := make([]float64, nm)
	for _, f := range frames {
		for m, v := range f {
			mean[m] += v
			sq[m] += v * v
		}
	}
	inv := 1 / float64(len(frames))
	vec := make([]float32, 2*nm)
	for m := range nm {
		mu := mean[m] * inv
		variance := max(sq[m]*inv-mu*mu, 0)
		vec[m] = float32(mu)
		vec[nm+m] = float32(math.Sqrt(variance))
	}
	speaker.Normalize(vec)
	return vec, nil
}

// Compute returns the log mel filterbank energies of samples as
// [frames][NumMels]. It returns nil when samples is shorter than one frame.
func (e *Extractor) Compute(samples []float64) [][]float64 {
	cfg := e.cfg
	if len(samples) < cfg.FrameLength {
		return nil
	}
	x := make([]float64, len(samples))
	copy(x, samples)
	for i := len(x) - 1; i > 0; i-- {
		x[i] -= cfg.PreEmphasis * x[i-1]
	}
	x[0] *= 1 - cfg.PreEmphasis

	numFrames := (len(x)-cfg.FrameLength)/cfg.FrameShift + 1
	fft := e.ffts.Get().(*fourier.FFT)
	defer e.ffts.Put(fft)

	buf := make([]float64, e.fftSize)
	coeffs := make([]complex128, e.fftSize/2+1)
	power := make([]float64, len(coeffs))
	out := make([][]float64, numFrames)
	for f := range numFrames {
		off := f * cfg.FrameShift
		clear(buf)
		for i := range cfg.FrameLength {
			buf[i] = x[off+i] * e.window[i]
		}
		coeffs = fft.Coefficients(coeffs, buf)
		for k, c := range coeffs {
			re, im := real(c), imag(c)
			power[k] = re*re + im*im
		}
		frame := make([]float64, cfg.NumMels)
		for m, weights := range e.filterbank {
			var energy float64
			for k, wt := range weights {
				energy += wt * power[k]
			}
			frame[m] = math.Log(max(energy, cfg.EnergyFloor))
		}
		out[f] = frame
	}
	return out
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func hammingWindow(n int) []float64 {
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}
	for i := range w {
		w[i] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return w
}

func hzToMel(hz float64) float64 { return 2595 * math.Log10(1+hz/700) }

func melToHz(mel float64) float64 { return 700 * (math.Pow(10, mel/2595) - 1) }

// melFilterbank builds triangular filters spaced evenly on the mel scale
// between 0 Hz and Nyquist. Returns [numMels][fftSize/2+1] weights.
func melFilterbank(numMels, fftSize, sampleRate int) [][]float64 {
	half := fftSize/2 + 1
	lo, hi := hzToMel(0), hzToMel(float64(sampleRate)/2)

	bins := make([]int, numMels+2)
	for i := range bins {
		mel := lo + float64(i)*(hi-lo)/float64(numMels+1)
		b := int(math.Floor(melToHz(mel) * float64(fftSize) / float64(sampleRate)))
		bins[i] = min(b, half-1)
	}

	fb := make([][]float64, numMels)
	for m := range numMels {
		fb[m] = make([]float64, half)
		left, center, right := bins[m], bins[m+1], bins[m+2]
		if center > left {
			for k := left; k <= center; k++ {
				fb[m][k] = float64(k-left) / float64(center-left)
			}
		}
		if right > center {
			for k := center; k <= right; k++ {
				fb[m][k] = float64(right-k) / float64(right-center)
			}
		}
	}
	return fb
}
