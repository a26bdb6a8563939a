// Package registry keeps the live engine instances of a hub, keyed by
// caller-chosen strings.
//
// Every entry carries its own mutex, the per-key token. All work on one
// instance runs while holding that token, so calls on a key are totally
// ordered while different keys proceed in parallel. The key map itself is a
// sharded concurrent map and never blocks on engine work.
//
// Destruction is two-phase and runs entirely under the entry's token: the
// entry is first unlinked from the map and then torn down. In-flight calls on
// the old engine drain before either phase, and the key becomes available to
// Create only once teardown is complete, so state the hub keeps per key never
// outlives its instance into a successor.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/panjf2000/ants/v2"

	"github.com/frymanofer/enginehub/pkg/engine"
	"github.com/frymanofer/enginehub/pkg/metrics"
)

var (
	// ErrAlreadyExists is returned by Create for a key that is taken.
	ErrAlreadyExists = errors.New("registry: instance already exists")

	// ErrNotFound is returned for keys without a live instance.
	ErrNotFound = errors.New("registry: instance not found")
)

// Constructor builds the engine of a new instance.
type Constructor func(ctx context.Context) (engine.Engine, error)

// CleanupFunc runs under the token while an instance is destroyed, before
// the engine is closed.
type CleanupFunc func(key string, eng engine.Engine) error

// Config configures a Registry.
type Config struct {
	// Cleanup releases per-instance state held outside the engine.
	Cleanup CleanupFunc

	// Workers bounds the parallelism of DestroyAll. Default 8.
	Workers int

	Metrics *metrics.Metrics

	// Logger, nil means slog.Default().
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Registry is safe for concurrent use.
type Registry struct {
	cfg     Config
	entries cmap.ConcurrentMap[string, *entry]
}

type entry struct {
	key   string
	mu    sync.Mutex
	eng   engine.Engine
	ready atomic.Bool
	gone  bool // guarded by mu
}

// New creates an empty Registry.
func New(cfg Config) *Registry {
	cfg.defaults()
	return &Registry{cfg: cfg, entries: cmap.New[*entry]()}
}

// Create constructs and registers a new instance under key.
//
// The key is reserved before construct runs, with the new entry's token
// held, so of several concurrent creators exactly one constructs and the
// rest fail with ErrAlreadyExists. If construction fails or panics, the
// reservation is withdrawn and nothing is left behind.
func (r *Registry) Create(ctx context.Context, key string, construct Constructor) (eng engine.Engine, err error) {
	defer func() { r.cfg.Metrics.Op("create", err) }()
	if key == "" {
		return nil, fmt.Errorf("registry: empty key: %w", engine.ErrInvalidArgument)
	}
	if construct == nil {
		return nil, fmt.Errorf("registry: nil constructor: %w", engine.ErrInvalidArgument)
	}

	e := &entry{key: key}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !r.entries.SetIfAbsent(key, e) {
		return nil, fmt.Errorf("registry: %q: %w", key, ErrAlreadyExists)
	}

	ok := false
	defer func() {
		if ok {
			return
		}
		e.gone = true
		r.entries.RemoveCb(key, func(_ string, v *entry, exists bool) bool {
			return exists && v == e
		})
	}()

	eng, err = construct(ctx)
	if err != nil {
		return nil, engine.Wrap("create", err)
	}
	if eng == nil {
		return nil, engine.Wrap("create", errors.New("constructor returned no engine"))
	}
	e.eng = eng
	e.ready.Store(true)
	ok = true

	r.cfg.Metrics.InstanceAdded()
	r.cfg.Logger.Info("registry: instance created", "key", key)
	return eng, nil
}

// lookup returns the ready entry of key.
func (r *Registry) lookup(key string) (*entry, bool) {
	e, ok := r.entries.Get(key)
	if !ok || !e.ready.Load() {
		return nil, false
	}
	return e, true
}

// Has reports whether key names a live instance.
func (r *Registry) Has(key string) bool {
	_, ok := r.lookup(key)
	return ok
}

// Get returns the engine of key without taking the token. Use Do to call it.
func (r *Registry) Get(key string) (engine.Engine, error) {
	e, ok := r.lookup(key)
	if !ok {
		return nil, fmt.Errorf("registry: %q: %w", key, ErrNotFound)
	}
	return e.eng, nil
}

// Keys returns a sorted snapshot of the live keys.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, r.entries.Count())
	for t := range r.entries.IterBuffered() {
		if t.Val.ready.Load() {
			keys = append(keys, t.Key)
		}
	}
	slices.Sort(keys)
	return keys
}

// Len returns the number of live instances.
func (r *Registry) Len() int {
	return len(r.Keys())
}

// Do runs fn with the engine of key while holding the key's token. It fails
// with ErrNotFound if the key is absent or was destroyed while waiting for
// the token. A key whose construction is still running is absent. The token
// is released on every exit path, panics included.
func (r *Registry) Do(key string, fn func(engine.Engine) error) error {
	e, ok := r.lookup(key)
	if !ok {
		return fmt.Errorf("registry: %q: %w", key, ErrNotFound)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gone || e.eng == nil {
		return fmt.Errorf("registry: %q: %w", key, ErrNotFound)
	}
	return fn(e.eng)
}

// Call is Do for functions with a result.
func Call[T any](r *Registry, key string, fn func(engine.Engine) (T, error)) (T, error) {
	var out T
	err := r.Do(key, func(eng engine.Engine) error {
		var err error
		out, err = fn(eng)
		return err
	})
	return out, err
}

// Destroy removes key and tears its instance down. It waits for the call
// holding the token, then unlinks and tears down without releasing it, so a
// Create of the same key fails with ErrAlreadyExists until teardown is done.
// Cleanup and close failures are logged, never returned.
func (r *Registry) Destroy(key string) error {
	e, ok := r.lookup(key)
	if !ok {
		r.cfg.Metrics.Op("destroy", ErrNotFound)
		return fmt.Errorf("registry: %q: %w", key, ErrNotFound)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gone {
		// Lost the race to another Destroy.
		r.cfg.Metrics.Op("destroy", ErrNotFound)
		return fmt.Errorf("registry: %q: %w", key, ErrNotFound)
	}
	e.gone = true
	r.entries.RemoveCb(key, func(_ string, v *entry, exists bool) bool {
		return exists && v == e
	})
	r.teardown(e)
	r.cfg.Metrics.Op("destroy", nil)
	return nil
}

// teardown releases the instance of e. Callers hold e.mu.
func (r *Registry) teardown(e *entry) {
	r.cfg.Metrics.InstanceRemoved()

	log := r.cfg.Logger.With("key", e.key)
	if r.cfg.Cleanup != nil {
		if err := guard(func() error { return r.cfg.Cleanup(e.key, e.eng) }); err != nil {
			r.cfg.Metrics.CleanupFailed()
			log.Warn("registry: cleanup failed", "error", err)
		}
	}
	if err := guard(e.eng.Close); err != nil {
		r.cfg.Metrics.CleanupFailed()
		log.Warn("registry: close failed", "error", err)
	}
	log.Info("registry: instance destroyed")
}

// DestroyAll destroys every instance present at the time of the call and
// returns how many it destroyed. Keys destroyed concurrently by others are
// skipped; one failing teardown never stops the rest.
func (r *Registry) DestroyAll() int {
	keys := r.Keys()
	if len(keys) == 0 {
		return 0
	}

	var n atomic.Int64
	destroy := func(key string) {
		if err := r.Destroy(key); err == nil {
			n.Add(1)
		}
	}

	pool, err := ants.NewPool(min(r.cfg.Workers, len(keys)))
	if err != nil {
		r.cfg.Logger.Warn("registry: worker pool unavailable, destroying serially", "error", err)
		for _, k := range keys {
			destroy(k)
		}
		return int(n.Load())
	}
	defer pool.Release()

	var wg sync.WaitGroup
	for _, k := range keys {
		wg.Add(1)
		task := func() {
			defer wg.Done()
			destroy(k)
		}
		if err := pool.Submit(task); err != nil {
			task()
		}
	}
	wg.Wait()

	r.cfg.Logger.Info("registry: destroyed all instances", "count", n.Load(), "requested", len(keys))
	return int(n.Load())
}

// guard converts a panic in fn into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn()
}
