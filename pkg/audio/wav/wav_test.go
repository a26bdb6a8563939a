package wav

import (
	"bytes"
	"errors"
	"path/filepath"
	"slices"
	"testing"

	"github.com/frymanofer/enginehub/pkg/audio/pcm16"
)

func TestFileRoundTrip(t *testing.T) {
	samples := make([]int16, 1600)
	for i := range samples {
		samples[i] = int16((i%200)*100 - 10000)
	}
	path := filepath.Join(t.TempDir(), "clip.wav")
	if err := WriteFile(path, samples, pcm16.SampleRate); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err := ReadFile(path, pcm16.SampleRate)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !slices.Equal(got, samples) {
		t.Fatalf("samples differ: got %d, want %d", len(got), len(samples))
	}
}

func TestDecodeInMemory(t *testing.T) {
	b, err := Bytes([]int16{1, -1, 2, -2}, 8000)
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	if !bytes.HasPrefix(b, []byte("RIFF")) {
		t.Fatalf("missing RIFF header: %q", b[:4])
	}
	a, err := Decode(bytes.NewReader(b))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if a.SampleRate != 8000 || a.Channels != 1 || !slices.Equal(a.Samples, []int16{1, -1, 2, -2}) {
		t.Errorf("decoded %+v", a)
	}
}

func TestDecodeInvalid(t *testing.T) {
	_, err := Decode(bytes.NewReader([]byte("definitely not a wav file")))
	if !errors.Is(err, ErrInvalidFile) {
		t.Fatalf("Decode = %v, want ErrInvalidFile", err)
	}
}
