package fbank

import (
	"io"
	"sync"
	"time"

	"github.com/frymanofer/enginehub/pkg/audio/pcm16"
)

// Source delivers captured microphone audio at pcm16.SampleRate. Read blocks
// until samples are available and returns io.EOF when capture ends.
type Source interface {
	Read(p []int16) (int, error)
}

// SliceSource replays fixed samples as if captured live. With Realtime set,
// Read paces delivery to the wall clock.
type SliceSource struct {
	Realtime bool

	mu   sync.Mutex
	pcm  []int16
	once sync.Once
	done chan struct{}
}

// NewSliceSource creates a Source over pcm.
func NewSliceSource(pcm []int16) *SliceSource {
	return &SliceSource{pcm: pcm, done: make(chan struct{})}
}

func (s *SliceSource) Read(p []int16) (int, error) {
	s.mu.Lock()
	if len(s.pcm) == 0 {
		s.mu.Unlock()
		s.markDone()
		return 0, io.EOF
	}
	n := copy(p, s.pcm)
	s.pcm = s.pcm[n:]
	s.mu.Unlock()
	if s.Realtime {
		time.Sleep(pcm16.Duration(n, pcm16.SampleRate))
	}
	return n, nil
}

func (s *SliceSource) markDone() {
	s.once.Do(func() { close(s.done) })
}

// Done is closed once every sample has been read.
func (s *SliceSource) Done() <-chan struct{} {
	return s.done
}
