package audio

import (
	"encoding/binary"
	"math"
)

// PCM16ToFloat converts little-endian int16 PCM to samples in [-1, 1).
// A trailing odd byte is ignored.
func PCM16ToFloat(pcm []byte) []float64 {
	n := len(pcm) / 2
	out := make([]float64, n)
	for i := range n {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		out[i] = float64(s) / 32768
	}
	return out
}

// FloatToPCM16 converts samples to little-endian int16 PCM, clamping values
// outside [-1, 1].
func FloatToPCM16(samples []float64) []byte {
	out := make([]byte, len(samples)*2)
	for i, v := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(floatToInt16(v)))
	}
	return out
}

// floatToInt16 scales v to the int16 range with clamping. NaN maps to 0.
func floatToInt16(v float64) int16 {
	if math.IsNaN(v) {
		return 0
	}
	s := math.Round(v * 32767)
	if s > 32767 {
		s = 32767
	} else if s < -32768 {
		s = -32768
	}
	return int16(s)
}

// Downmix averages interleaved frames of the given channel count into mono.
// A trailing partial frame is dropped.
func Downmix(interleaved []float64, channels int) []float64 {
	if channels <= 1 {
		return interleaved
	}
	frames := len(interleaved) / channels
	out := make([]float64, frames)
	inv := 1 / float64(channels)
	for i := range frames {
		var sum float64
		for c := range channels {
			sum += interleaved[i*channels+c]
		}
		out[i] = sum * inv
	}
	return out
}

// intToFloat normalises integer PCM of the given bit depth to [-1, 1).
// go-audio decodes 8-bit WAV as unsigned bytes, so they are re-centred first.
func intToFloat(data []int, bitDepth int) []float64 {
	out := make([]float64, len(data))
	if bitDepth <= 8 {
		for i, v := range data {
			out[i] = float64(v-128) / 128
		}
		return out
	}
	scale := 1 / float64(int64(1)<<(bitDepth-1))
	for i, v := range data {
		out[i] = float64(v) * scale
	}
	return out
}
