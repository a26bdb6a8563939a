// Package engine defines the capability surface of the audio engines managed
// by enginehub.
//
// Every engine implements [Engine]. Everything else is optional and is
// discovered by type assertion at call time:
//
//	if d, ok := eng.(engine.Detector); ok {
//	    err = d.StartListening(0.8)
//	}
//
// Callers that find a capability missing report [ErrUnsupported].
//
// Implementations are not required to be safe for concurrent use. enginehub
// serializes every call on one engine through the owning registry entry.
package engine

import (
	"context"
	"io"
	"log/slog"
	"time"
)

// Engine is the minimum every managed engine provides.
type Engine interface {
	// Close releases native resources. It is called exactly once, when the
	// owning instance is destroyed.
	Close() error
}

// Detector is a keyword detector that can listen for its configured models.
type Detector interface {
	StartListening(threshold float32) error
	StopListening() error
	ReplaceModel(ctx context.Context, cfg ModelConfig) error
}

// Licensed engines accept a license key. SetLicense reports whether the key
// was accepted.
type Licensed interface {
	SetLicense(key string) bool
}

// Foreground engines integrate with a host foreground service.
type Foreground interface {
	StartForeground() error
	StopForeground() error
}

// Recorder exposes a reference to the engine's most recent audio recording.
type Recorder interface {
	RecordingRef() (string, error)
}

// Stream is an incremental onboarding or verification stream. Feed returns a
// non-nil result once the engine has collected enough audio. Finish flushes
// whatever has been collected and may return nil.
type Stream[R any] interface {
	Feed(block []int16) (*R, error)
	Finish() (*R, error)
}

// Enroller opens incremental onboarding streams.
type Enroller interface {
	StartOnboarding() (Stream[OnboardingResult], error)
}

// Verifier opens incremental verification streams.
type Verifier interface {
	StartVerification() (Stream[VerificationResult], error)
}

// Embedder derives speaker embeddings and compares them.
type Embedder interface {
	DeriveEmbedding(pcm []int16) ([]float32, error)
	Similarity(a, b []float32) float32
}

// MicrophoneEnroller runs blocking microphone flows. The budget is a wall
// clock limit enforced by the engine.
//
// OnboardEmbeddingsFromMicrophone enrolls up to n separate embeddings, one
// per captured utterance, within a single budget.
type MicrophoneEnroller interface {
	OnboardFromMicrophone(budget time.Duration) (*OnboardingResult, error)
	OnboardFromMicrophoneUntil(targetVoiced, hardTimeout time.Duration) (*OnboardingResult, error)
	OnboardEmbeddingsFromMicrophone(n int, budget time.Duration) (*OnboardingResult, error)
	VerifyFromMicrophone(budget time.Duration) (*VerificationResult, error)
}

// FileEnroller onboards and verifies from audio files.
type FileEnroller interface {
	OnboardFromFile(path string) (*OnboardingResult, error)
	VerifyFromFile(path string) (*VerificationResult, error)
}

// TargetStore manages the enrolled speaker targets.
type TargetStore interface {
	InitVerificationWithFiles(meanPath, clusterPath string) (bool, error)
	InitVerificationUsingDefaults() (bool, error)
	WipeTargets() error
}

// Exporter writes the enrolled targets in the engine's file format.
type Exporter interface {
	ExportMean(w io.Writer) error
	ExportMeanCount(w io.Writer) error
	ExportCluster(w io.Writer) error
}

// EmitFunc receives detections. It is invoked on the engine's own goroutine.
type EmitFunc func(phrase string, score float32)

// Spec is everything a Factory needs to construct an engine.
type Spec struct {
	Key     string
	Profile Profile
	Models  []ModelConfig
	Emit    EmitFunc
	Logger  *slog.Logger
}

// Factory constructs an engine for one instance.
type Factory func(ctx context.Context, spec Spec) (Engine, error)
