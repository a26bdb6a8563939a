// Package wav reads and writes RIFF/WAVE files as PCM16.
package wav

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-audio/audio"
	gowav "github.com/go-audio/wav"

	"github.com/frymanofer/enginehub/pkg/audio/pcm16"
)

// ErrInvalidFile is returned for input that is not a PCM WAV file.
var ErrInvalidFile = errors.New("wav: invalid file")

// Audio is decoded WAV content with interleaved samples.
type Audio struct {
	SampleRate int
	Channels   int
	Samples    []int16
}

// Decode reads a PCM WAV stream and converts every sample to 16 bits.
func Decode(r io.ReadSeeker) (*Audio, error) {
	d := gowav.NewDecoder(r)
	if !d.IsValidFile() {
		return nil, ErrInvalidFile
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("wav: decode: %w", err)
	}
	if buf.Format == nil || buf.Format.SampleRate <= 0 || buf.Format.NumChannels <= 0 {
		return nil, ErrInvalidFile
	}

	depth := int(d.BitDepth)
	samples := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		switch depth {
		case 8:
			samples[i] = int16((v - 128) << 8)
		case 16:
			samples[i] = int16(v)
		case 24:
			samples[i] = int16(v >> 8)
		case 32:
			samples[i] = int16(v >> 16)
		default:
			return nil, fmt.Errorf("wav: unsupported bit depth %d: %w", depth, ErrInvalidFile)
		}
	}
	return &Audio{
		SampleRate: buf.Format.SampleRate,
		Channels:   buf.Format.NumChannels,
		Samples:    samples,
	}, nil
}

// Mono returns the audio downmixed to one channel at rate.
func (a *Audio) Mono(rate int) ([]int16, error) {
	mono := pcm16.Downmix(a.Samples, a.Channels)
	return pcm16.Resample(mono, a.SampleRate, rate)
}

// ReadFile decodes the WAV file at path into mono PCM16 at rate.
func ReadFile(path string, rate int) ([]int16, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	a, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return a.Mono(rate)
}

// Encode writes mono PCM16 samples as a WAV stream.
func Encode(w io.WriteSeeker, samples []int16, rate int) error {
	enc := gowav.NewEncoder(w, rate, 16, 1, 1)
	data := make([]int, len(samples))
	for i, v := range samples {
		data[i] = int(v)
	}
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: rate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("wav: encode: %w", err)
	}
	return enc.Close()
}

// WriteFile writes mono PCM16 samples to a WAV file at path.
func WriteFile(path string, samples []int16, rate int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Encode(f, samples, rate); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Bytes encodes samples into an in-memory WAV file.
func Bytes(samples []int16, rate int) ([]byte, error) {
	var ws writeSeeker
	if err := Encode(&ws, samples, rate); err != nil {
		return nil, err
	}
	return ws.buf.Bytes(), nil
}

// writeSeeker is an in-memory io.WriteSeeker; the encoder seeks back to
// patch the RIFF header sizes.
type writeSeeker struct {
	buf bytes.Buffer
	pos int
}

func (w *writeSeeker) Write(p []byte) (int, error) {
	end := w.pos + len(p)
	if end > w.buf.Len() {
		w.buf.Grow(end - w.buf.Len())
		w.buf.Write(make([]byte, end-w.buf.Len()))
	}
	copy(w.buf.Bytes()[w.pos:], p)
	w.pos = end
	return len(p), nil
}

func (w *writeSeeker) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(w.pos) + offset
	case io.SeekEnd:
		abs = int64(w.buf.Len()) + offset
	default:
		return 0, fmt.Errorf("wav: invalid whence %d", whence)
	}
	if abs < 0 {
		return 0, fmt.Errorf("wav: negative position")
	}
	w.pos = int(abs)
	return abs, nil
}
