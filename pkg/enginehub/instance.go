package enginehub

import (
	"context"
	"slices"

	"github.com/frymanofer/enginehub/pkg/engine"
)

// InstanceOption adjusts the engine spec of a new instance.
type InstanceOption func(*engine.Spec)

// WithProfile builds the instance with profile p instead of the hub default.
func WithProfile(p engine.Profile) InstanceOption {
	return func(s *engine.Spec) { s.Profile = p }
}

// CreateInstance creates an instance under key with a single model.
func (h *Hub) CreateInstance(ctx context.Context, key string, cfg ModelConfig, opts ...InstanceOption) error {
	return h.CreateInstanceMulti(ctx, key, []ModelConfig{cfg}, opts...)
}

// CreateInstanceParallel creates an instance from parallel arrays, one
// element per model. All arrays must have the same non-zero length.
func (h *Hub) CreateInstanceParallel(ctx context.Context, key string, models []string, thresholds []float32, bufferCounts []int, msBetweenCallbacks []int64, opts ...InstanceOption) error {
	cfgs, err := engine.ModelsFromParallel(models, thresholds, bufferCounts, msBetweenCallbacks)
	if err != nil {
		h.metrics.Op("create", err)
		return wrap("create", key, err)
	}
	return h.CreateInstanceMulti(ctx, key, cfgs, opts...)
}

// CreateInstanceMulti creates an instance under key with several models.
// The whole batch is validated before the engine is built. Creating a key
// that exists fails with ErrAlreadyExists.
func (h *Hub) CreateInstanceMulti(ctx context.Context, key string, cfgs []ModelConfig, opts ...InstanceOption) error {
	if h.closed.Load() {
		return wrap("create", key, ErrClosed)
	}
	if err := engine.ValidateModels(cfgs); err != nil {
		h.metrics.Op("create", err)
		return wrap("create", key, err)
	}
	spec := engine.Spec{
		Key:     key,
		Profile: h.cfg.Profile,
		Models:  slices.Clone(cfgs),
		Emit:    h.listeners.Emitter(key),
		Logger:  h.logger,
	}
	for _, opt := range opts {
		opt(&spec)
	}
	_, err := h.instances.Create(ctx, key, func(ctx context.Context) (engine.Engine, error) {
		return h.cfg.Factory(ctx, spec)
	})
	return wrap("create", key, err)
}

// HasInstance reports whether key names a live instance.
func (h *Hub) HasInstance(key string) bool {
	return h.instances.Has(key)
}

// ListInstanceIDs returns the keys of live instances, sorted.
func (h *Hub) ListInstanceIDs() []string {
	return h.instances.Keys()
}

// DestroyInstance stops and releases the instance under key. Calls already
// running on it finish first; calls still waiting fail with ErrNotFound.
// The key can be created again once DestroyInstance returns.
func (h *Hub) DestroyInstance(key string) error {
	return wrap("destroy", key, h.instances.Destroy(key))
}

// DestroyAll destroys every instance and returns how many it destroyed.
func (h *Hub) DestroyAll() int {
	return h.instances.DestroyAll()
}

// ReplaceModel swaps the models of key for cfg.
func (h *Hub) ReplaceModel(ctx context.Context, key string, cfg ModelConfig) error {
	if err := cfg.Validate(); err != nil {
		return wrap("replace_model", key, err)
	}
	return h.do("replace_model", key, func(eng engine.Engine) error {
		d, err := as[engine.Detector](eng)
		if err != nil {
			return err
		}
		return engine.Wrap("replace_model", d.ReplaceModel(ctx, cfg))
	})
}

// SetLicense hands a license key to the engine of key and reports whether
// the engine accepted it.
func (h *Hub) SetLicense(key, license string) (bool, error) {
	return call(h, "set_license", key, func(eng engine.Engine) (bool, error) {
		l, err := as[engine.Licensed](eng)
		if err != nil {
			return false, err
		}
		ok := l.SetLicense(license)
		if !ok {
			h.logger.Warn("enginehub: license rejected", "key", key)
		}
		return ok, nil
	})
}

func (h *Hub) StartForeground(key string) error {
	return h.do("start_foreground", key, func(eng engine.Engine) error {
		f, err := as[engine.Foreground](eng)
		if err != nil {
			return err
		}
		return engine.Wrap("start_foreground", f.StartForeground())
	})
}

func (h *Hub) StopForeground(key string) error {
	return h.do("stop_foreground", key, func(eng engine.Engine) error {
		f, err := as[engine.Foreground](eng)
		if err != nil {
			return err
		}
		return engine.Wrap("stop_foreground", f.StopForeground())
	})
}

// StartDetection starts keyword detection on key. Detections reach the
// global listener on the engine's goroutine. An engine that requires a
// license it does not hold fails with ErrLicenseDenied.
func (h *Hub) StartDetection(key string, threshold float32) error {
	if threshold < 0 || threshold > 1 {
		return wrap("start_detection", key, invalid("threshold %v out of [0,1]", threshold))
	}
	return h.do("start_detection", key, func(eng engine.Engine) error {
		d, err := as[engine.Detector](eng)
		if err != nil {
			return err
		}
		if err := d.StartListening(threshold); err != nil {
			return engine.Wrap("start_detection", err)
		}
		h.logger.Info("enginehub: detection started", "key", key, "threshold", threshold)
		return nil
	})
}

func (h *Hub) StopDetection(key string) error {
	return h.do("stop_detection", key, func(eng engine.Engine) error {
		d, err := as[engine.Detector](eng)
		if err != nil {
			return err
		}
		return engine.Wrap("stop_detection", d.StopListening())
	})
}

// RecordingRef returns a reference to the engine's most recent recording.
func (h *Hub) RecordingRef(key string) (string, error) {
	return call(h, "recording_ref", key, func(eng engine.Engine) (string, error) {
		r, err := as[engine.Recorder](eng)
		if err != nil {
			return "", err
		}
		ref, err := r.RecordingRef()
		return ref, engine.Wrap("recording_ref", err)
	})
}
