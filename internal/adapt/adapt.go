// Package adapt biases synthesized speech towards a reference speaker.
//
// [Transform.Adapt] estimates the mean pitch of a synthesized utterance and of
// a reference recording, shifts the utterance by the bounded ratio between the
// two, approximates a formant shift with a double resampling and renormalises
// the peak amplitude. It never fails: every error degrades to the unmodified
// input, and the [Result] says why.
package adapt

import (
	"errors"
	"fmt"
	"math"

	vecmath "github.com/cwbudde/algo-vecmath"

	"github.com/MrWong99/voicemimic/pkg/audio"
	"github.com/MrWong99/voicemimic/pkg/dsp/pitch"
	"github.com/MrWong99/voicemimic/pkg/dsp/resample"
)

// Bounds and constants of the transform.
const (
	MinShift = 0.5
	MaxShift = 2.0

	AlphaBase  = 0.85
	AlphaSlope = 0.3
	MinAlpha   = 0.8
	MaxAlpha   = 1.2

	// TargetPeak is the absolute peak of every adapted waveform.
	TargetPeak = 0.9
)

// SkipReason names why a transform fell back to its input.
type SkipReason string

// Skip reasons. The empty reason means the waveform was adapted.
const (
	SkipNone                SkipReason = ""
	SkipPitchDetection      SkipReason = "PitchDetectionFailure"
	SkipResampling          SkipReason = "ResamplingError"
	SkipDegenerateSignal    SkipReason = "DegenerateSignalError"
	SkipUnexpectedTransform SkipReason = "UnexpectedTransformError"
)

// String returns the reason, or "none" for [SkipNone].
func (r SkipReason) String() string {
	if r == SkipNone {
		return "none"
	}
	return string(r)
}

// Sentinel errors carried in [Result.Err].
var (
	ErrNoPitch      = errors.New("adapt: no voiced frames")
	ErrZeroPeak     = errors.New("adapt: output peak is zero")
	ErrNonFinite    = errors.New("adapt: non-finite sample")
	ErrInvalidInput = errors.New("adapt: invalid input waveform")
)

// Params are the values derived for one call. They are never cached.
type Params struct {
	SourcePitch float64 // mean F0 of the synthesized waveform
	TargetPitch float64 // mean F0 of the reference
	Ratio       float64 // TargetPitch / SourcePitch
	ShiftFactor float64 // Ratio clamped to [MinShift, MaxShift]
	Semitones   float64 // 12 * log2(ShiftFactor)
	Alpha       float64 // formant resampling factor
	FormantRate int     // intermediate rate of the formant approximation
}

// ComputeParams derives the shift and formant parameters for a source and
// target pitch at rate. Both pitches must be positive.
func ComputeParams(source, target float64, rate int) Params {
	ratio := target / source
	shift := clamp(ratio, MinShift, MaxShift)
	alpha := clamp(AlphaBase+AlphaSlope*(1-shift), MinAlpha, MaxAlpha)
	return Params{
		SourcePitch: source,
		TargetPitch: target,
		Ratio:       ratio,
		ShiftFactor: shift,
		Semitones:   12 * math.Log2(shift),
		Alpha:       alpha,
		FormantRate: int(math.Round(float64(rate) * alpha)),
	}
}

// Result is the outcome of [Transform.Adapt].
type Result struct {
	// Waveform is the adapted waveform, or a copy of the input when Adapted
	// is false.
	Waveform audio.Waveform

	// Adapted reports whether the transform completed.
	Adapted bool

	// Skip is set when Adapted is false.
	Skip SkipReason

	// Params holds whatever parameters were computed before any skip.
	Params Params

	// Err is the underlying error for a skip.
	Err error
}

// Transform is the voice adaptation transform. It holds only immutable
// collaborators and is safe for concurrent use.
type Transform struct {
	estimator pitch.Estimator
	shifter   pitch.Shifter
	resampler resample.Resampler
}

// Option configures a [Transform].
type Option func(*Transform)

// WithEstimator sets the pitch estimator. Default: [pitch.NewAutocorrelation].
func WithEstimator(e pitch.Estimator) Option {
	return func(t *Transform) { t.estimator = e }
}

// WithShifter sets the duration-preserving pitch shifter. Default:
// [pitch.NewWSOLA].
func WithShifter(s pitch.Shifter) Option {
	return func(t *Transform) { t.shifter = s }
}

// WithResampler sets the resampler used for rate normalisation and the
// formant approximation. Default: [resample.NewSoxr] at balanced quality.
func WithResampler(r resample.Resampler) Option {
	return func(t *Transform) { t.resampler = r }
}

// New returns a Transform with the given options applied over the defaults.
func New(opts ...Option) *Transform {
	t := &Transform{
		estimator: pitch.NewAutocorrelation(),
		shifter:   pitch.NewWSOLA(),
		resampler: resample.NewSoxr(resample.QualityBalanced),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Adapt moves the pitch of synth towards that of ref. The output always has
// the length and sample rate of synth. On any failure the result carries an
// unmodified copy of synth.
func (t *Transform) Adapt(synth, ref audio.Waveform) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = passthrough(synth, SkipUnexpectedTransform, fmt.Errorf("adapt: panic: %v", r))
		}
	}()

	if err := synth.Validate(); err != nil {
		return passthrough(synth, SkipUnexpectedTransform, fmt.Errorf("%w: synthesized: %w", ErrInvalidInput, err))
	}
	if err := ref.Validate(); err != nil {
		if errors.Is(err, audio.ErrEmpty) {
			return passthrough(synth, SkipPitchDetection, fmt.Errorf("%w: empty reference", ErrNoPitch))
		}
		return passthrough(synth, SkipUnexpectedTransform, fmt.Errorf("%w: reference: %w", ErrInvalidInput, err))
	}

	rate := synth.SampleRate
	refSamples := ref.Samples
	if ref.SampleRate != rate {
		var err error
		refSamples, err = t.resampler.Resample(ref.Samples, ref.SampleRate, rate)
		if err != nil {
			return passthrough(synth, SkipResampling, fmt.Errorf("adapt: resample reference: %w", err))
		}
	}

	source, err := t.estimator.MeanPitch(synth.Samples, rate)
	if err != nil {
		return passthrough(synth, SkipUnexpectedTransform, fmt.Errorf("adapt: estimate source pitch: %w", err))
	}
	target, err := t.estimator.MeanPitch(refSamples, rate)
	if err != nil {
		return passthrough(synth, SkipUnexpectedTransform, fmt.Errorf("adapt: estimate target pitch: %w", err))
	}
	if !(source > 0) || !(target > 0) || math.IsInf(source, 0) || math.IsInf(target, 0) {
		res = passthrough(synth, SkipPitchDetection,
			fmt.Errorf("%w: source %.2f Hz, target %.2f Hz", ErrNoPitch, source, target))
		res.Params = Params{SourcePitch: source, TargetPitch: target}
		return res
	}

	params := ComputeParams(source, target, rate)
	skip := func(reason SkipReason, err error) Result {
		r := passthrough(synth, reason, err)
		r.Params = params
		return r
	}

	shifted, err := t.shifter.Shift(synth.Samples, rate, params.Semitones)
	if err != nil {
		return skip(SkipUnexpectedTransform, fmt.Errorf("adapt: pitch shift: %w", err))
	}
	shifted = audio.FitLength(shifted, len(synth.Samples))
	if i := audio.FirstNonFinite(shifted); i >= 0 {
		return skip(SkipUnexpectedTransform, fmt.Errorf("%w: after pitch shift at %d", ErrNonFinite, i))
	}

	// Double resampling stands in for a spectral-envelope formant shift.
	formant, err := t.resampler.Resample(shifted, rate, params.FormantRate)
	if err != nil {
		return skip(SkipResampling, fmt.Errorf("adapt: formant resample to %d Hz: %w", params.FormantRate, err))
	}
	formant, err = t.resampler.Resample(formant, params.FormantRate, rate)
	if err != nil {
		return skip(SkipResampling, fmt.Errorf("adapt: formant resample to %d Hz: %w", rate, err))
	}
	formant = audio.FitLength(formant, len(synth.Samples))
	if i := audio.FirstNonFinite(formant); i >= 0 {
		return skip(SkipUnexpectedTransform, fmt.Errorf("%w: after formant resample at %d", ErrNonFinite, i))
	}

	peak := audio.Peak(formant)
	if peak == 0 {
		return skip(SkipDegenerateSignal, ErrZeroPeak)
	}
	out := make([]float64, len(formant))
	vecmath.ScaleBlock(out, formant, TargetPeak/peak)
	if i := audio.FirstNonFinite(out); i >= 0 {
		return skip(SkipUnexpectedTransform, fmt.Errorf("%w: after normalisation at %d", ErrNonFinite, i))
	}

	return Result{
		Waveform: audio.Waveform{Samples: out, SampleRate: rate},
		Adapted:  true,
		Params:   params,
	}
}

func passthrough(w audio.Waveform, reason SkipReason, err error) Result {
	return Result{Waveform: w.Clone(), Skip: reason, Err: err}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
