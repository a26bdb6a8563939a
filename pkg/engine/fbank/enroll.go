package fbank

import (
	"errors"
	"io"
	"time"

	"github.com/frymanofer/enginehub/pkg/audio/pcm16"
	"github.com/frymanofer/enginehub/pkg/audio/wav"
	"github.com/frymanofer/enginehub/pkg/engine"
)

// collector accumulates the voiced part of incoming audio.
type collector struct {
	gate   float64
	voiced []int16
}

func (c *collector) add(block []int16) {
	if pcm16.RMS(block) >= c.gate {
		c.voiced = append(c.voiced, block...)
	}
}

func (c *collector) duration() time.Duration {
	return pcm16.Duration(len(c.voiced), pcm16.SampleRate)
}

// addChunked feeds pcm in hop-sized blocks so the gate applies per block.
func (c *collector) addChunked(pcm []int16, hop int) {
	for len(pcm) > 0 {
		n := min(hop, len(pcm))
		c.add(pcm[:n])
		pcm = pcm[n:]
	}
}

func (e *Engine) newCollector() *collector {
	return &collector{gate: e.opts.VoiceRMS}
}

func (e *Engine) hop() int {
	return pcm16.Samples(e.opts.Hop, pcm16.SampleRate)
}

// enroll adds the embedding of voiced audio to the targets and persists them.
func (e *Engine) enroll(c *collector) (*engine.OnboardingResult, error) {
	emb := e.x.embed(c.voiced)
	if emb == nil {
		return nil, errTooShort
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, errClosed
	}
	e.targets.add(emb)
	if err := e.saveTargetsLocked(); err != nil {
		return nil, err
	}
	e.logger.Info("fbank: speaker enrolled", "voiced", c.duration(), "mean_count", e.targets.count)
	return &engine.OnboardingResult{
		Embedding:     emb,
		VoicedSeconds: float32(c.duration().Seconds()),
		Enrolled:      true,
	}, nil
}

func (e *Engine) verify(c *collector) (*engine.VerificationResult, error) {
	emb := e.x.embed(c.voiced)
	if emb == nil {
		return nil, errTooShort
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.targets.empty() {
		return nil, errNoTargets
	}
	score := e.targets.score(emb)
	return &engine.VerificationResult{
		Score:         score,
		Accepted:      score >= e.opts.AcceptScore,
		VoicedSeconds: float32(c.duration().Seconds()),
	}, nil
}

type onboardingStream struct {
	e    *Engine
	c    *collector
	need time.Duration
}

func (s *onboardingStream) Feed(block []int16) (*engine.OnboardingResult, error) {
	s.c.add(block)
	if s.c.duration() < s.need {
		return nil, nil
	}
	return s.e.enroll(s.c)
}

// Finish enrolls whatever voiced audio arrived. Too little audio yields a
// result that is not enrolled rather than an error.
func (s *onboardingStream) Finish() (*engine.OnboardingResult, error) {
	res, err := s.e.enroll(s.c)
	if errors.Is(err, errTooShort) {
		return &engine.OnboardingResult{VoicedSeconds: float32(s.c.duration().Seconds())}, nil
	}
	return res, err
}

type verificationStream struct {
	e    *Engine
	c    *collector
	need time.Duration
}

func (s *verificationStream) Feed(block []int16) (*engine.VerificationResult, error) {
	s.c.add(block)
	if s.c.duration() < s.need {
		return nil, nil
	}
	return s.e.verify(s.c)
}

func (s *verificationStream) Finish() (*engine.VerificationResult, error) {
	res, err := s.e.verify(s.c)
	if errors.Is(err, errTooShort) {
		return nil, nil
	}
	return res, err
}

func (e *Engine) StartOnboarding() (engine.Stream[engine.OnboardingResult], error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, errClosed
	}
	return &onboardingStream{e: e, c: e.newCollector(), need: e.opts.OnboardTarget}, nil
}

func (e *Engine) StartVerification() (engine.Stream[engine.VerificationResult], error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, errClosed
	}
	if e.targets.empty() {
		return nil, errNoTargets
	}
	return &verificationStream{e: e, c: e.newCollector(), need: e.opts.VerifyTarget}, nil
}

// record captures from the source until target voiced audio was heard,
// budget elapsed or the source ended.
func (e *Engine) record(target, budget time.Duration) (*collector, error) {
	e.mu.Lock()
	switch {
	case e.closed:
		e.mu.Unlock()
		return nil, errClosed
	case e.opts.Source == nil:
		e.mu.Unlock()
		return nil, errNoSource
	case e.listening || e.micBusy:
		e.mu.Unlock()
		return nil, errBusy
	}
	e.micBusy = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.micBusy = false
		e.mu.Unlock()
	}()

	c := e.newCollector()
	buf := make([]int16, e.hop())
	deadline := time.Now().Add(budget)
	for time.Now().Before(deadline) && c.duration() < target {
		n, err := e.opts.Source.Read(buf)
		if n > 0 {
			c.add(buf[:n])
			e.mu.Lock()
			e.history.Write(buf[:n])
			e.mu.Unlock()
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (e *Engine) OnboardFromMicrophone(budget time.Duration) (*engine.OnboardingResult, error) {
	c, err := e.record(e.opts.OnboardTarget, budget)
	if err != nil {
		return nil, err
	}
	return e.enroll(c)
}

func (e *Engine) OnboardFromMicrophoneUntil(targetVoiced, hardTimeout time.Duration) (*engine.OnboardingResult, error) {
	c, err := e.record(targetVoiced, hardTimeout)
	if err != nil {
		return nil, err
	}
	return e.enroll(c)
}

// OnboardEmbeddingsFromMicrophone captures up to n utterances of
// OnboardTarget voiced audio each and enrolls every one as its own
// embedding. It stops early when budget runs out or the source ends; the
// result carries the last embedding and the number enrolled.
func (e *Engine) OnboardEmbeddingsFromMicrophone(n int, budget time.Duration) (*engine.OnboardingResult, error) {
	deadline := time.Now().Add(budget)
	var out *engine.OnboardingResult
	var voiced float32
	for i := 0; i < n; i++ {
		left := time.Until(deadline)
		if left <= 0 {
			break
		}
		c, err := e.record(e.opts.OnboardTarget, left)
		if err != nil {
			return nil, err
		}
		res, err := e.enroll(c)
		if errors.Is(err, errTooShort) && out != nil {
			break
		}
		if err != nil {
			return nil, err
		}
		voiced += res.VoicedSeconds
		res.Embeddings = i + 1
		out = res
	}
	if out == nil {
		return nil, errTooShort
	}
	out.VoicedSeconds = voiced
	return out, nil
}

func (e *Engine) VerifyFromMicrophone(budget time.Duration) (*engine.VerificationResult, error) {
	c, err := e.record(e.opts.VerifyTarget, budget)
	if err != nil {
		return nil, err
	}
	return e.verify(c)
}

func (e *Engine) fromFile(path string) (*collector, error) {
	pcm, err := wav.ReadFile(path, pcm16.SampleRate)
	if err != nil {
		return nil, err
	}
	c := e.newCollector()
	c.addChunked(pcm, e.hop())
	return c, nil
}

func (e *Engine) OnboardFromFile(path string) (*engine.OnboardingResult, error) {
	c, err := e.fromFile(path)
	if err != nil {
		return nil, err
	}
	return e.enroll(c)
}

func (e *Engine) VerifyFromFile(path string) (*engine.VerificationResult, error) {
	c, err := e.fromFile(path)
	if err != nil {
		return nil, err
	}
	return e.verify(c)
}
