package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// wavFormatPCM is the RIFF audio format tag for integer PCM.
const wavFormatPCM = 1

// ErrNotWAV is returned by [DecodeWAV] when the input is not an integer PCM
// RIFF/WAVE stream.
var ErrNotWAV = errors.New("audio: not a PCM WAV stream")

// DecodeWAV reads a PCM WAV stream and returns it as a mono waveform at the
// file's native sample rate. Multi-channel files are downmixed.
func DecodeWAV(r io.ReadSeeker) (Waveform, error) {
	dec := wav.NewDecoder(r)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Waveform{}, fmt.Errorf("%w: %v", ErrNotWAV, err)
	}
	if dec.WavAudioFormat != wavFormatPCM {
		return Waveform{}, fmt.Errorf("%w: audio format tag %d", ErrNotWAV, dec.WavAudioFormat)
	}
	if buf == nil || buf.Format == nil || buf.Format.SampleRate <= 0 {
		return Waveform{}, fmt.Errorf("%w: missing format chunk", ErrNotWAV)
	}

	bitDepth := buf.SourceBitDepth
	if bitDepth == 0 {
		bitDepth = int(dec.BitDepth)
	}
	samples := Downmix(intToFloat(buf.Data, bitDepth), buf.Format.NumChannels)
	return Waveform{Samples: samples, SampleRate: buf.Format.SampleRate}, nil
}

// DecodeWAVBytes is [DecodeWAV] over an in-memory WAV file.
func DecodeWAVBytes(data []byte) (Waveform, error) {
	return DecodeWAV(bytes.NewReader(data))
}

// EncodeWAV writes w as a 16-bit mono PCM WAV stream. Samples outside [-1, 1]
// are clamped.
func EncodeWAV(ws io.WriteSeeker, w Waveform) error {
	if w.SampleRate <= 0 {
		return fmt.Errorf("audio: encode wav: %w", ErrInvalidRate)
	}
	enc := wav.NewEncoder(ws, w.SampleRate, 16, 1, wavFormatPCM)
	data := make([]int, len(w.Samples))
	for i, v := range w.Samples {
		data[i] = int(floatToInt16(v))
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: w.SampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("audio: encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("audio: finalise wav: %w", err)
	}
	return nil
}

// EncodeWAVBytes returns w encoded as an in-memory 16-bit mono WAV file.
func EncodeWAVBytes(w Waveform) ([]byte, error) {
	var sb seekBuffer
	if err := EncodeWAV(&sb, w); err != nil {
		return nil, err
	}
	return sb.buf, nil
}

// WriteWAVFile writes w to path, creating or truncating the file.
func WriteWAVFile(path string, w Waveform) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("audio: create %q: %w", path, err)
	}
	if err := EncodeWAV(f, w); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadWAVFile decodes the WAV file at path.
func ReadWAVFile(path string) (Waveform, error) {
	f, err := os.Open(path)
	if err != nil {
		return Waveform{}, fmt.Errorf("audio: open %q: %w", path, err)
	}
	defer f.Close()
	return DecodeWAV(f)
}

// seekBuffer is an in-memory io.WriteSeeker. The WAV encoder seeks back to
// patch the RIFF and data chunk sizes once all samples are written.
type seekBuffer struct {
	buf []byte
	pos int
}

func (s *seekBuffer) Write(p []byte) (int, error) {
	end := s.pos + len(p)
	if end > len(s.buf) {
		if end > cap(s.buf) {
			grown := make([]byte, end, max(end, 2*cap(s.buf)))
			copy(grown, s.buf)
			s.buf = grown
		} else {
			s.buf = s.buf[:end]
		}
	}
	copy(s.buf[s.pos:], p)
	s.pos = end
	return len(p), nil
}

func (s *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(s.pos) + offset
	case io.SeekEnd:
		abs = int64(len(s.buf)) + offset
	default:
		return 0, errors.New("audio: seek: invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("audio: seek: negative position")
	}
	s.pos = int(abs)
	return abs, nil
}
