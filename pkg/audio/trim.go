package audio

import "math"

const (
	trimFrameLength = 2048
	trimHopLength   = 512
	trimPowerFloor  = 1e-10
)

// TrimSilence removes leading and trailing frames whose energy is more than
// topDB decibels below the loudest frame. Frames are 2048 samples long with a
// hop of 512 and centred on their hop position. A waveform that is silent
// throughout is returned empty.
func TrimSilence(w Waveform, topDB float64) Waveform {
	n := len(w.Samples)
	if n == 0 {
		return w
	}

	frames := 1 + n/trimHopLength
	power := make([]float64, frames)
	maxPower := 0.0
	half := trimFrameLength / 2
	for f := range frames {
		centre := f * trimHopLength
		var sum float64
		for i := centre - half; i < centre+half; i++ {
			if i < 0 || i >= n {
				continue
			}
			v := w.Samples[i]
			sum += v * v
		}
		power[f] = sum / trimFrameLength
		if power[f] > maxPower {
			maxPower = power[f]
		}
	}

	ref := 10 * math.Log10(math.Max(maxPower, trimPowerFloor))
	first, last := -1, -1
	for f, p := range power {
		db := 10*math.Log10(math.Max(p, trimPowerFloor)) - ref
		if db > -topDB {
			if first < 0 {
				first = f
			}
			last = f
		}
	}
	if first < 0 || maxPower <= trimPowerFloor {
		return Waveform{SampleRate: w.SampleRate}
	}

	start := first * trimHopLength
	end := min(n, (last+1)*trimHopLength)
	out := make([]float64, end-start)
	copy(out, w.Samples[start:end])
	return Waveform{Samples: out, SampleRate: w.SampleRate}
}
