// Package enginehub runs many independent audio engine instances in one
// process, addressed by caller-chosen keys.
//
// A Hub owns the instance registry, the global detection listener, the
// onboarding and verification streaming sessions, and the embedding clusters
// of every instance. Every call on a key runs under that key's token, so
// calls on one instance are totally ordered while different instances work
// in parallel.
//
// Engines are supplied by an engine.Factory. Capabilities an engine does not
// implement fail with ErrUnsupported.
package enginehub

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/frymanofer/enginehub/pkg/cluster"
	"github.com/frymanofer/enginehub/pkg/engine"
	"github.com/frymanofer/enginehub/pkg/listener"
	"github.com/frymanofer/enginehub/pkg/metrics"
	"github.com/frymanofer/enginehub/pkg/registry"
	"github.com/frymanofer/enginehub/pkg/stream"
)

// Types shared with the engine and listener packages.
type (
	ModelConfig        = engine.ModelConfig
	OnboardingResult   = engine.OnboardingResult
	VerificationResult = engine.VerificationResult
	Detection          = listener.Detection
	Listener           = listener.Listener
	ListenerFunc       = listener.ListenerFunc
	SessionInfo        = stream.Info
)

// Config configures a Hub.
type Config struct {
	// Factory builds the engine of each instance. Required.
	Factory engine.Factory

	// Profile is the default engine profile. Default engine.ProfileStandard.
	Profile engine.Profile

	// Cluster configures the embedding cluster store. Its Metrics and Logger
	// default to the hub's.
	Cluster cluster.Config

	// Workers bounds the parallelism of DestroyAll. Default 8.
	Workers int

	// Registerer receives the hub metrics. nil disables metrics.
	Registerer prometheus.Registerer

	// Logger, nil means slog.Default().
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Profile == "" {
		c.Profile = engine.ProfileStandard
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Hub is safe for concurrent use.
type Hub struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	instances    *registry.Registry
	listeners    *listener.Hub
	onboarding   *stream.Manager[engine.OnboardingResult]
	verification *stream.Manager[engine.VerificationResult]
	clusters     *cluster.Store

	closed atomic.Bool
}

// New creates a Hub. It panics without a Factory.
func New(cfg Config) *Hub {
	if cfg.Factory == nil {
		panic("enginehub: Config.Factory is required")
	}
	cfg.defaults()

	var m *metrics.Metrics
	if cfg.Registerer != nil {
		m = metrics.New(cfg.Registerer)
	}
	if cfg.Cluster.Metrics == nil {
		cfg.Cluster.Metrics = m
	}
	if cfg.Cluster.Logger == nil {
		cfg.Cluster.Logger = cfg.Logger
	}

	h := &Hub{
		cfg:     cfg,
		logger:  cfg.Logger,
		metrics: m,
		listeners: listener.New(listener.Config{
			Metrics: m,
			Logger:  cfg.Logger,
		}),
		clusters: cluster.New(cfg.Cluster),
	}
	sc := stream.Config{Metrics: m, Logger: cfg.Logger}
	h.onboarding = stream.NewManager("onboarding", stream.OpenOnboarding, sc)
	h.verification = stream.NewManager("verification", stream.OpenVerification, sc)
	h.instances = registry.New(registry.Config{
		Cleanup: h.cleanup,
		Workers: cfg.Workers,
		Metrics: m,
		Logger:  cfg.Logger,
	})
	return h
}

// cleanup releases everything the hub holds for an instance being
// destroyed. It runs under the instance token, before the engine closes.
func (h *Hub) cleanup(key string, eng engine.Engine) error {
	var err error
	if d, ok := eng.(engine.Detector); ok {
		err = d.StopListening()
	}
	h.onboarding.Drop(key)
	h.verification.Drop(key)
	h.clusters.Drop(key)
	return err
}

// Close destroys every instance. The Hub rejects new instances afterwards.
func (h *Hub) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	n := h.instances.DestroyAll()
	h.logger.Info("enginehub: closed", "destroyed", n)
	return nil
}

// SetGlobalListener installs l as the receiver of every detection of every
// instance, replacing the previous one. nil clears it.
func (h *Hub) SetGlobalListener(l Listener) {
	h.listeners.Set(l)
}

func wrap(op, key string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("enginehub: %s %q: %w", op, key, err)
}

// do runs fn under the token of key and records the outcome of op.
func (h *Hub) do(op, key string, fn func(engine.Engine) error) error {
	err := h.instances.Do(key, fn)
	h.metrics.Op(op, err)
	return wrap(op, key, err)
}

func call[T any](h *Hub, op, key string, fn func(engine.Engine) (T, error)) (T, error) {
	out, err := registry.Call(h.instances, key, fn)
	h.metrics.Op(op, err)
	return out, wrap(op, key, err)
}

// as returns the capability C of eng.
func as[C any](eng engine.Engine) (C, error) {
	c, ok := eng.(C)
	if !ok {
		return c, engine.ErrUnsupported
	}
	return c, nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrInvalidArgument)...)
}

