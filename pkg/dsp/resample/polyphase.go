package resample

import (
	"math"
)

// Profile exposes the anti-aliasing filter parameters of a quality mode.
type Profile struct {
	TapsPerPhase      int
	CutoffScale       float64
	KaiserBeta        float64
	NominalStopbandDB float64
}

// QualityProfile returns the filter profile used by quality q.
func QualityProfile(q Quality) Profile {
	switch q {
	case QualityFast:
		return Profile{TapsPerPhase: 16, CutoffScale: 0.88, KaiserBeta: 5.0, NominalStopbandDB: 55}
	case QualityBest:
		return Profile{TapsPerPhase: 64, CutoffScale: 0.96, KaiserBeta: 9.0, NominalStopbandDB: 90}
	default:
		return Profile{TapsPerPhase: 32, CutoffScale: 0.92, KaiserBeta: 7.5, NominalStopbandDB: 75}
	}
}

type polyConfig struct {
	quality      Quality
	tapsPerPhase int
	cutoffScale  float64
	kaiserBeta   float64
	maxDen       int
}

// PolyphaseOption configures a [Polyphase] resampler.
type PolyphaseOption func(*polyConfig)

// WithQuality selects a predefined anti-aliasing quality mode.
func WithQuality(q Quality) PolyphaseOption {
	return func(cfg *polyConfig) {
		cfg.quality = q
	}
}

// WithTapsPerPhase overrides taps per polyphase branch.
func WithTapsPerPhase(n int) PolyphaseOption {
	return func(cfg *polyConfig) {
		if n > 0 {
			cfg.tapsPerPhase = n
		}
	}
}

// WithKaiserBeta overrides the Kaiser window beta parameter.
func WithKaiserBeta(beta float64) PolyphaseOption {
	return func(cfg *polyConfig) {
		if beta > 0 {
			cfg.kaiserBeta = beta
		}
	}
}

// WithMaxDenominator caps the up/down factors. Rate pairs whose reduced ratio
// exceeds it are approximated by continued fractions.
func WithMaxDenominator(n int) PolyphaseOption {
	return func(cfg *polyConfig) {
		if n > 0 {
			cfg.maxDen = n
		}
	}
}

// Polyphase performs rational sample-rate conversion with a Kaiser-windowed
// sinc polyphase FIR. Each call designs its own filter bank, so one value is
// safe for concurrent use.
type Polyphase struct {
	cfg polyConfig
}

var _ Resampler = (*Polyphase)(nil)

// NewPolyphase returns a Polyphase resampler. Without options it uses
// [QualityBalanced] and a maximum denominator of 4096.
func NewPolyphase(opts ...PolyphaseOption) *Polyphase {
	cfg := polyConfig{quality: QualityBalanced, maxDen: 4096}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	p := QualityProfile(cfg.quality)
	if cfg.tapsPerPhase <= 0 {
		cfg.tapsPerPhase = p.TapsPerPhase
	}
	if cfg.cutoffScale <= 0 || cfg.cutoffScale > 1 {
		cfg.cutoffScale = p.CutoffScale
	}
	if cfg.kaiserBeta <= 0 {
		cfg.kaiserBeta = p.KaiserBeta
	}
	return &Polyphase{cfg: cfg}
}

// Resample implements Resampler.
//
// The input is treated as zero outside its bounds. Output sample j is taken at
// upsampled position j*down plus the filter's centre tap, which removes the
// group delay that a streaming polyphase filter would introduce.
func (p *Polyphase) Resample(samples []float64, from, to int) ([]float64, error) {
	if err := checkRates(from, to); err != nil {
		return nil, err
	}
	if from == to || len(samples) == 0 {
		return copyOf(samples), nil
	}

	up, down := reduce(to, from)
	if up > p.cfg.maxDen || down > p.cfg.maxDen {
		up, down = approximateRatio(float64(to)/float64(from), p.cfg.maxDen)
	}

	bank, err := designPolyphaseFIR(up, down, p.cfg)
	if err != nil {
		return nil, err
	}

	nOut := OutputLen(len(samples), from, to)
	out := make([]float64, nOut)
	centre := (len(bank.taps) - 1) / 2
	for j := range out {
		m := j*down + centre
		phase := bank.phases[m%up]
		base := m / up
		var y float64
		for i, c := range phase {
			idx := base - i
			if idx < 0 {
				break
			}
			if idx >= len(samples) {
				continue
			}
			y += c * samples[idx]
		}
		out[j] = y
	}
	return out, nil
}

func reduce(up, down int) (int, int) {
	g := gcd(up, down)
	return up / g, down / g
}

func approximateRatio(v float64, maxDen int) (num, den int) {
	if maxDen <= 0 {
		maxDen = 4096
	}
	if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 1, 1
	}

	p0, q0 := 1.0, 0.0
	p1, q1 := math.Floor(v), 1.0
	x := v
	for {
		frac := x - math.Floor(x)
		if frac < 1e-12 {
			break
		}
		x = 1 / frac
		a := math.Floor(x)
		p2 := a*p1 + p0
		q2 := a*q1 + q0
		if q2 > float64(maxDen) || p2 > float64(maxDen) {
			break
		}
		p0, q0 = p1, q1
		p1, q1 = p2, q2
	}

	num = int(math.Round(p1))
	den = int(math.Round(q1))
	if num <= 0 || den <= 0 {
		return 1, 1
	}
	return reduce(num, den)
}

func gcd(a, b int) int {
	if a < 0 {
		a = -a
	}
	if b < 0 {
		b = -b
	}
	for b != 0 {
		a, b = b, a%b
	}
	if a == 0 {
		return 1
	}
	return a
}
