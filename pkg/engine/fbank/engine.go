// Package fbank is a pure-Go reference engine for enginehub.
//
// Keyword models are template embeddings built from a reference recording
// (see BuildModel). While listening, the engine embeds the trailing window of
// captured audio every hop and emits a detection when the cosine similarity
// to a template reaches its threshold for BufferCount consecutive hops.
//
// Speaker enrollment accumulates voiced audio (an RMS gate) into a running
// mean embedding plus a bounded cluster of recent embeddings. Verification
// scores against both.
//
// Embeddings are averaged log mel filterbank frames, mean-centred and
// L2-normalised. This is a deterministic stand-in for a neural engine, good
// enough to exercise the hub end to end.
package fbank

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/frymanofer/enginehub/pkg/audio/pcm16"
	"github.com/frymanofer/enginehub/pkg/audio/wav"
	"github.com/frymanofer/enginehub/pkg/buffer"
	"github.com/frymanofer/enginehub/pkg/engine"
)

var (
	errClosed    = errors.New("fbank: engine closed")
	errNoSource  = errors.New("fbank: no audio source")
	errBusy      = errors.New("fbank: audio source busy listening")
	errNoTargets = errors.New("fbank: no enrolled speaker")
	errTooShort  = errors.New("fbank: not enough voiced audio")
)

// Options configures engines built by Factory.
type Options struct {
	// DataDir holds per-instance target files and recordings under
	// DataDir/<key>. Empty keeps targets in memory and recordings in the
	// system temp dir.
	DataDir string

	// RequireLicense makes StartListening fail until SetLicense accepts a
	// key.
	RequireLicense bool

	// CheckLicense validates license keys. Default accepts any non-empty key.
	CheckLicense func(key string) bool

	// Source is the microphone. nil disables capture and the microphone
	// flows; audio can still be pushed with Process.
	Source Source

	Features FeatureConfig

	// Hop is the scoring interval while listening. Default 100ms.
	Hop time.Duration

	// VoiceRMS is the RMS level in [0,1] above which a block counts as
	// voiced. Default 0.01.
	VoiceRMS float64

	// OnboardTarget is the voiced duration that completes onboarding.
	// Default 3s, or 1s for the wake word profile.
	OnboardTarget time.Duration

	// VerifyTarget is the voiced duration that completes verification.
	// Default 1.5s.
	VerifyTarget time.Duration

	// AcceptScore is the verification acceptance threshold. Default 0.6.
	AcceptScore float32

	// ClusterSize bounds the enrolled embedding cluster. Default 10.
	ClusterSize int

	// History is how much recent audio RecordingRef keeps. Default 5s.
	History time.Duration
}

func (o *Options) defaults(profile engine.Profile) {
	if o.CheckLicense == nil {
		o.CheckLicense = func(key string) bool { return key != "" }
	}
	if o.Hop <= 0 {
		o.Hop = 100 * time.Millisecond
	}
	if o.VoiceRMS <= 0 {
		o.VoiceRMS = 0.01
	}
	if o.OnboardTarget <= 0 {
		o.OnboardTarget = 3 * time.Second
		if profile == engine.ProfileWakeWord {
			o.OnboardTarget = time.Second
		}
	}
	if o.VerifyTarget <= 0 {
		o.VerifyTarget = 1500 * time.Millisecond
	}
	if o.AcceptScore <= 0 {
		o.AcceptScore = 0.6
	}
	if o.ClusterSize <= 0 {
		o.ClusterSize = 10
	}
	if o.History <= 0 {
		o.History = 5 * time.Second
	}
}

// Factory returns an engine.Factory building fbank engines with opts.
func Factory(opts Options) engine.Factory {
	return func(ctx context.Context, spec engine.Spec) (engine.Engine, error) {
		return New(ctx, spec, opts)
	}
}

// Engine is the reference engine. Safe for concurrent use: Process may run
// on a capture goroutine while the hub calls other methods.
type Engine struct {
	spec   engine.Spec
	opts   Options
	logger *slog.Logger
	x      *extractor

	mu         sync.Mutex
	closed     bool
	licensed   bool
	foreground bool
	models     []*slot
	listening  bool
	threshold  float32
	stop       chan struct{}
	history    *buffer.Ring[int16]
	sinceScore int
	targets    *targets
	micBusy    bool
}

// slot is a loaded model with its detection state.
type slot struct {
	cfg    engine.ModelConfig
	model  *Model
	streak int
	last   time.Time
}

var (
	_ engine.Detector           = (*Engine)(nil)
	_ engine.Licensed           = (*Engine)(nil)
	_ engine.Foreground         = (*Engine)(nil)
	_ engine.Recorder           = (*Engine)(nil)
	_ engine.Enroller           = (*Engine)(nil)
	_ engine.Verifier           = (*Engine)(nil)
	_ engine.Embedder           = (*Engine)(nil)
	_ engine.MicrophoneEnroller = (*Engine)(nil)
	_ engine.FileEnroller       = (*Engine)(nil)
	_ engine.TargetStore        = (*Engine)(nil)
	_ engine.Exporter           = (*Engine)(nil)
)

// New builds an engine for spec, loading every model file up front.
func New(ctx context.Context, spec engine.Spec, opts Options) (*Engine, error) {
	opts.defaults(spec.Profile)
	logger := spec.Logger
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		spec:    spec,
		opts:    opts,
		logger:  logger.With("engine", "fbank", "key", spec.Key),
		x:       newExtractor(opts.Features),
		history: buffer.RingN[int16](pcm16.Samples(opts.History, pcm16.SampleRate)),
		targets: newTargets(opts.ClusterSize),
	}
	for _, cfg := range spec.Models {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s, err := loadSlot(cfg)
		if err != nil {
			return nil, err
		}
		e.models = append(e.models, s)
	}
	e.logger.Debug("fbank: engine ready", "models", len(e.models), "profile", spec.Profile)
	return e, nil
}

func loadSlot(cfg engine.ModelConfig) (*slot, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m, err := LoadModel(cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("fbank: load model: %w", err)
	}
	return &slot{cfg: cfg, model: m}, nil
}

// dir returns the per-instance data directory, or "" without DataDir.
func (e *Engine) dir() string {
	if e.opts.DataDir == "" {
		return ""
	}
	return filepath.Join(e.opts.DataDir, e.spec.Key)
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.stopLocked()
	e.logger.Debug("fbank: engine closed")
	return nil
}

func (e *Engine) SetLicense(key string) bool {
	ok := e.opts.CheckLicense(key)
	e.mu.Lock()
	e.licensed = e.licensed || ok
	e.mu.Unlock()
	return ok
}

func (e *Engine) StartForeground() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errClosed
	}
	e.foreground = true
	return nil
}

func (e *Engine) StopForeground() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.foreground = false
	return nil
}

// RecordingRef writes the recent audio history to a WAV file and returns its
// path.
func (e *Engine) RecordingRef() (string, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return "", errClosed
	}
	pcm := e.history.Items()
	e.mu.Unlock()
	if len(pcm) == 0 {
		return "", errors.New("fbank: nothing recorded yet")
	}

	dir := e.dir()
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("recording-%d.wav", time.Now().UnixMilli()))
	if err := wav.WriteFile(path, pcm, pcm16.SampleRate); err != nil {
		return "", err
	}
	return path, nil
}

// DeriveEmbedding embeds pcm.
func (e *Engine) DeriveEmbedding(pcm []int16) ([]float32, error) {
	emb := e.x.embed(pcm)
	if emb == nil {
		return nil, errTooShort
	}
	return emb, nil
}

// Similarity is the cosine similarity.
func (e *Engine) Similarity(a, b []float32) float32 {
	return engine.Cosine(a, b)
}
