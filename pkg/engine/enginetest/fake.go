// Package enginetest provides a scriptable in-memory engine for tests.
//
// A Fake implements every capability in package engine. Its embeddings are
// one-hot vectors chosen by the first sample of the input, so audio filled
// with the same value always embeds identically and audio filled with
// different values is orthogonal.
package enginetest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/frymanofer/enginehub/pkg/audio/pcm16"
	"github.com/frymanofer/enginehub/pkg/engine"
)

// Dim is the embedding dimension of a Fake.
const Dim = 8

// Embed returns the one-hot embedding of pcm.
func Embed(pcm []int16) []float32 {
	v := make([]float32, Dim)
	if len(pcm) == 0 {
		return v
	}
	i := int(pcm[0]) % Dim
	if i < 0 {
		i += Dim
	}
	v[i] = 1
	return v
}

// Tone returns n samples all equal to value.
func Tone(value int16, n int) []int16 {
	s := make([]int16, n)
	for i := range s {
		s[i] = value
	}
	return s
}

// Hooks override Fake behaviour. Nil hooks use the defaults.
type Hooks struct {
	StartListening func(threshold float32) error
	StopListening  func() error
	ReplaceModel   func(cfg engine.ModelConfig) error
	Close          func() error
	Embed          func(pcm []int16) ([]float32, error)
	License        func(key string) bool
}

// Fake is a scriptable engine. Safe for concurrent use.
type Fake struct {
	Spec engine.Spec

	// BlocksToComplete is how many fed blocks complete a stream. Default 3.
	BlocksToComplete int

	Hooks Hooks

	mu         sync.Mutex
	calls      []string
	listening  bool
	threshold  float32
	license    string
	foreground bool
	closed     int
	models     []engine.ModelConfig
	target     []float32
	windows    [][]int16
}

var (
	_ engine.Detector           = (*Fake)(nil)
	_ engine.Licensed           = (*Fake)(nil)
	_ engine.Foreground         = (*Fake)(nil)
	_ engine.Recorder           = (*Fake)(nil)
	_ engine.Enroller           = (*Fake)(nil)
	_ engine.Verifier           = (*Fake)(nil)
	_ engine.Embedder           = (*Fake)(nil)
	_ engine.MicrophoneEnroller = (*Fake)(nil)
	_ engine.FileEnroller       = (*Fake)(nil)
	_ engine.TargetStore        = (*Fake)(nil)
	_ engine.Exporter           = (*Fake)(nil)
)

// NewFake creates a Fake for spec.
func NewFake(spec engine.Spec) *Fake {
	return &Fake{Spec: spec, models: slices.Clone(spec.Models)}
}

func (f *Fake) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

// Calls returns the names of the methods invoked so far, in order.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

// Called reports whether method was invoked.
func (f *Fake) Called(method string) bool {
	return slices.Contains(f.Calls(), method)
}

// Listening reports the listening state and threshold.
func (f *Fake) Listening() (bool, float32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listening, f.threshold
}

// Models returns the current model records.
func (f *Fake) Models() []engine.ModelConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.models)
}

// Closed returns how many times Close ran.
func (f *Fake) Closed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Windows returns every PCM window passed to DeriveEmbedding.
func (f *Fake) Windows() [][]int16 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.windows)
}

// Detect simulates a detection by invoking the spec's emit callback on the
// calling goroutine.
func (f *Fake) Detect(phrase string, score float32) {
	if f.Spec.Emit != nil {
		f.Spec.Emit(phrase, score)
	}
}

func (f *Fake) Close() error {
	f.record("Close")
	f.mu.Lock()
	f.closed++
	f.listening = false
	f.mu.Unlock()
	if f.Hooks.Close != nil {
		return f.Hooks.Close()
	}
	return nil
}

func (f *Fake) StartListening(threshold float32) error {
	f.record("StartListening")
	if f.Hooks.StartListening != nil {
		if err := f.Hooks.StartListening(threshold); err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.listening, f.threshold = true, threshold
	f.mu.Unlock()
	return nil
}

func (f *Fake) StopListening() error {
	f.record("StopListening")
	if f.Hooks.StopListening != nil {
		if err := f.Hooks.StopListening(); err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.listening = false
	f.mu.Unlock()
	return nil
}

func (f *Fake) ReplaceModel(_ context.Context, cfg engine.ModelConfig) error {
	f.record("ReplaceModel")
	if f.Hooks.ReplaceModel != nil {
		if err := f.Hooks.ReplaceModel(cfg); err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.models = []engine.ModelConfig{cfg}
	f.mu.Unlock()
	return nil
}

func (f *Fake) SetLicense(key string) bool {
	f.record("SetLicense")
	ok := key != ""
	if f.Hooks.License != nil {
		ok = f.Hooks.License(key)
	}
	if ok {
		f.mu.Lock()
		f.license = key
		f.mu.Unlock()
	}
	return ok
}

func (f *Fake) StartForeground() error {
	f.record("StartForeground")
	f.mu.Lock()
	f.foreground = true
	f.mu.Unlock()
	return nil
}

func (f *Fake) StopForeground() error {
	f.record("StopForeground")
	f.mu.Lock()
	f.foreground = false
	f.mu.Unlock()
	return nil
}

func (f *Fake) RecordingRef() (string, error) {
	f.record("RecordingRef")
	return "mem://" + f.Spec.Key + "/last.wav", nil
}

func (f *Fake) DeriveEmbedding(pcm []int16) ([]float32, error) {
	f.record("DeriveEmbedding")
	f.mu.Lock()
	f.windows = append(f.windows, slices.Clone(pcm))
	f.mu.Unlock()
	if f.Hooks.Embed != nil {
		return f.Hooks.Embed(pcm)
	}
	return Embed(pcm), nil
}

func (f *Fake) Similarity(a, b []float32) float32 {
	return engine.Cosine(a, b)
}

func (f *Fake) blocksToComplete() int {
	if f.BlocksToComplete > 0 {
		return f.BlocksToComplete
	}
	return 3
}

func (f *Fake) enroll(pcm []int16) *engine.OnboardingResult {
	emb := Embed(pcm)
	f.mu.Lock()
	f.target = emb
	f.mu.Unlock()
	return &engine.OnboardingResult{
		Embedding:     emb,
		VoicedSeconds: float32(pcm16.Duration(len(pcm), pcm16.SampleRate).Seconds()),
		Enrolled:      true,
	}
}

func (f *Fake) verify(pcm []int16) *engine.VerificationResult {
	f.mu.Lock()
	target := f.target
	f.mu.Unlock()
	score := engine.Cosine(Embed(pcm), target)
	return &engine.VerificationResult{
		Score:         score,
		Accepted:      score >= 0.5,
		VoicedSeconds: float32(pcm16.Duration(len(pcm), pcm16.SampleRate).Seconds()),
	}
}

func (f *Fake) StartOnboarding() (engine.Stream[engine.OnboardingResult], error) {
	f.record("StartOnboarding")
	return &stream[engine.OnboardingResult]{need: f.blocksToComplete(), done: f.enroll}, nil
}

func (f *Fake) StartVerification() (engine.Stream[engine.VerificationResult], error) {
	f.record("StartVerification")
	return &stream[engine.VerificationResult]{need: f.blocksToComplete(), done: f.verify}, nil
}

func (f *Fake) OnboardFromMicrophone(budget time.Duration) (*engine.OnboardingResult, error) {
	f.record("OnboardFromMicrophone")
	return f.enroll(Tone(1, pcm16.Samples(budget, pcm16.SampleRate))), nil
}

func (f *Fake) OnboardFromMicrophoneUntil(targetVoiced, hardTimeout time.Duration) (*engine.OnboardingResult, error) {
	f.record("OnboardFromMicrophoneUntil")
	return f.enroll(Tone(1, pcm16.Samples(min(targetVoiced, hardTimeout), pcm16.SampleRate))), nil
}

func (f *Fake) OnboardEmbeddingsFromMicrophone(n int, budget time.Duration) (*engine.OnboardingResult, error) {
	f.record("OnboardEmbeddingsFromMicrophone")
	res := f.enroll(Tone(1, pcm16.Samples(budget, pcm16.SampleRate)))
	res.Embeddings = n
	return res, nil
}

func (f *Fake) VerifyFromMicrophone(budget time.Duration) (*engine.VerificationResult, error) {
	f.record("VerifyFromMicrophone")
	return f.verify(Tone(1, pcm16.Samples(budget, pcm16.SampleRate))), nil
}

func (f *Fake) OnboardFromFile(path string) (*engine.OnboardingResult, error) {
	f.record("OnboardFromFile")
	if path == "" {
		return nil, errors.New("no file")
	}
	return f.enroll(Tone(1, pcm16.SampleRate)), nil
}

func (f *Fake) VerifyFromFile(path string) (*engine.VerificationResult, error) {
	f.record("VerifyFromFile")
	if path == "" {
		return nil, errors.New("no file")
	}
	return f.verify(Tone(1, pcm16.SampleRate)), nil
}

func (f *Fake) InitVerificationWithFiles(meanPath, clusterPath string) (bool, error) {
	f.record("InitVerificationWithFiles")
	if meanPath == "" || clusterPath == "" {
		return false, nil
	}
	f.mu.Lock()
	f.target = Embed([]int16{1})
	f.mu.Unlock()
	return true, nil
}

func (f *Fake) InitVerificationUsingDefaults() (bool, error) {
	f.record("InitVerificationUsingDefaults")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.target != nil, nil
}

func (f *Fake) WipeTargets() error {
	f.record("WipeTargets")
	f.mu.Lock()
	f.target = nil
	f.mu.Unlock()
	return nil
}

func (f *Fake) ExportMean(w io.Writer) error {
	f.record("ExportMean")
	_, err := fmt.Fprintf(w, "mean:%s", f.Spec.Key)
	return err
}

func (f *Fake) ExportMeanCount(w io.Writer) error {
	f.record("ExportMeanCount")
	_, err := fmt.Fprintf(w, "count:%s", f.Spec.Key)
	return err
}

func (f *Fake) ExportCluster(w io.Writer) error {
	f.record("ExportCluster")
	_, err := fmt.Fprintf(w, "cluster:%s", f.Spec.Key)
	return err
}

// stream completes after need blocks. Finish returns the partial result
// when any audio was fed.
type stream[R any] struct {
	need int
	pcm  []int16
	fed  int
	done func([]int16) *R
}

func (s *stream[R]) Feed(block []int16) (*R, error) {
	s.pcm = append(s.pcm, block...)
	s.fed++
	if s.fed >= s.need {
		return s.done(s.pcm), nil
	}
	return nil, nil
}

func (s *stream[R]) Finish() (*R, error) {
	if s.fed == 0 {
		return nil, nil
	}
	return s.done(s.pcm), nil
}
