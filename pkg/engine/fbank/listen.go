package fbank

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/frymanofer/enginehub/pkg/audio/pcm16"
	"github.com/frymanofer/enginehub/pkg/engine"
)

type detection struct {
	phrase string
	score  float32
}

func (e *Engine) StartListening(threshold float32) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case e.closed:
		return errClosed
	case e.opts.RequireLicense && !e.licensed:
		return engine.ErrLicenseDenied
	case e.micBusy:
		return errBusy
	}
	e.threshold = threshold
	if e.listening {
		return nil
	}
	e.listening = true
	for _, s := range e.models {
		s.streak = 0
	}
	if e.opts.Source != nil {
		e.stop = make(chan struct{})
		go e.capture(e.stop)
	}
	e.logger.Info("fbank: listening", "threshold", threshold, "models", len(e.models))
	return nil
}

func (e *Engine) StopListening() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errClosed
	}
	e.stopLocked()
	return nil
}

// stopLocked signals the capture goroutine without waiting for it: the
// caller may be a listener running on that very goroutine.
func (e *Engine) stopLocked() {
	if !e.listening {
		return
	}
	e.listening = false
	if e.stop != nil {
		close(e.stop)
		e.stop = nil
	}
	e.logger.Info("fbank: stopped listening")
}

func (e *Engine) ReplaceModel(ctx context.Context, cfg engine.ModelConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s, err := loadSlot(cfg)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errClosed
	}
	e.models = []*slot{s}
	e.logger.Info("fbank: model replaced", "model", cfg.Model, "phrase", s.model.Phrase)
	return nil
}

// Process consumes captured audio. While listening, it scores the trailing
// window every hop and emits detections on the calling goroutine.
func (e *Engine) Process(pcm []int16) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return errClosed
	}
	if !e.listening {
		e.history.Write(pcm)
		e.mu.Unlock()
		return nil
	}
	hop := e.hop()
	var found []detection
	for len(pcm) > 0 {
		n := min(hop-e.sinceScore, len(pcm))
		e.history.Write(pcm[:n])
		pcm = pcm[n:]
		e.sinceScore += n
		if e.sinceScore >= hop {
			e.sinceScore = 0
			found = append(found, e.scoreLocked(time.Now())...)
		}
	}
	e.mu.Unlock()

	if e.spec.Emit != nil {
		for _, d := range found {
			e.spec.Emit(d.phrase, d.score)
		}
	}
	return nil
}

func (e *Engine) scoreLocked(now time.Time) []detection {
	var found []detection
	embs := make(map[int][]float32)
	for _, s := range e.models {
		w := s.model.Window
		if e.history.Len() < w/2 {
			continue
		}
		emb, ok := embs[w]
		if !ok {
			emb = e.x.embed(pcm16.TrailingWindow(e.history.Last(w), w))
			embs[w] = emb
		}
		score := max(0, engine.Cosine(emb, s.model.Template))
		if score < max(e.threshold, s.cfg.Threshold) {
			s.streak = 0
			continue
		}
		s.streak++
		if s.streak < max(1, s.cfg.BufferCount) {
			continue
		}
		if !s.last.IsZero() && now.Sub(s.last) < s.cfg.Debounce() {
			continue
		}
		s.last = now
		s.streak = 0
		found = append(found, detection{phrase: s.model.Phrase, score: score})
	}
	return found
}

// capture feeds the source into Process until stop is closed or the source
// ends.
func (e *Engine) capture(stop <-chan struct{}) {
	buf := make([]int16, pcm16.Samples(e.opts.Hop, pcm16.SampleRate))
	for {
		select {
		case <-stop:
			return
		default:
		}
		n, err := e.opts.Source.Read(buf)
		if n > 0 {
			if perr := e.Process(buf[:n]); errors.Is(perr, errClosed) {
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				e.logger.Warn("fbank: capture failed", "error", err)
			}
			return
		}
	}
}
