// Package cluster keeps bounded speaker-embedding clusters per instance.
//
// A cluster is a FIFO of at most capacity embeddings, each derived from the
// trailing window of a pushed audio buffer, plus an optional baseline
// embedding. Verification scores an embedding against every member and the
// baseline and reports the best match.
//
// The baseline is fixed for the lifetime of a cluster: it is either the mean
// restored from persisted state or one set explicitly. The running mean of
// pushed embeddings is what gets persisted, so the next lifetime starts with
// it as its baseline.
//
// Store methods that take an engine must be called while holding the
// instance's registry token.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/frymanofer/enginehub/pkg/audio/pcm16"
	"github.com/frymanofer/enginehub/pkg/buffer"
	"github.com/frymanofer/enginehub/pkg/engine"
	"github.com/frymanofer/enginehub/pkg/metrics"
)

var (
	// ErrNotFound is returned for cluster ids that were never initialised
	// for the instance.
	ErrNotFound = errors.New("cluster: cluster not found")

	// ErrInsufficientAudio is returned for empty audio buffers.
	ErrInsufficientAudio = fmt.Errorf("cluster: insufficient audio: %w", engine.ErrInvalidArgument)

	// ErrEmptyCluster is returned by Verify when there is nothing to score
	// against.
	ErrEmptyCluster = errors.New("cluster: cluster is empty")
)

// Config configures a Store.
type Config struct {
	// SampleRate of pushed audio. Default pcm16.SampleRate.
	SampleRate int

	// Window is the trailing audio span embedded per push. Default 1s.
	Window time.Duration

	// Persister stores cluster state. nil keeps clusters in memory only.
	Persister Persister

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

func (c *Config) defaults() {
	if c.SampleRate <= 0 {
		c.SampleRate = pcm16.SampleRate
	}
	if c.Window <= 0 {
		c.Window = time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Store holds the clusters of every instance. Safe for concurrent use.
type Store struct {
	cfg    Config
	window int

	mu        sync.Mutex
	instances map[string]*clusters
}

type clusters struct {
	nextID  int
	records map[int]*record
}

type record struct {
	ring     *buffer.Ring[[]float32]
	baseline []float32
	sum      []float64
	count    int
}

// New creates an empty Store.
func New(cfg Config) *Store {
	cfg.defaults()
	return &Store{
		cfg:       cfg,
		window:    pcm16.Samples(cfg.Window, cfg.SampleRate),
		instances: make(map[string]*clusters),
	}
}

// WindowSamples returns the number of samples embedded per push.
func (s *Store) WindowSamples() int { return s.window }

// Init creates a cluster of the given capacity for key and returns its id.
// Ids count up from 1 per instance. Persisted state for (key, id) is
// restored, keeping the newest capacity entries.
func (s *Store) Init(ctx context.Context, key string, capacity int) (int, error) {
	if capacity <= 0 {
		return 0, fmt.Errorf("cluster: capacity %d: %w", capacity, engine.ErrInvalidArgument)
	}

	s.mu.Lock()
	c := s.instances[key]
	if c == nil {
		c = &clusters{records: make(map[int]*record)}
		s.instances[key] = c
	}
	c.nextID++
	id := c.nextID
	rec := &record{ring: buffer.RingN[[]float32](capacity)}
	c.records[id] = rec
	s.mu.Unlock()

	if s.cfg.Persister == nil {
		return id, nil
	}
	snap, err := s.cfg.Persister.Load(ctx, key, id)
	if err != nil {
		s.cfg.Logger.Warn("cluster: restore failed, starting empty", "key", key, "cluster", id, "error", err)
		return id, nil
	}
	if snap == nil {
		return id, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range snap.Entries {
		rec.ring.Add(e)
	}
	if snap.Count > 0 && len(snap.Mean) > 0 {
		rec.baseline = slices.Clone(snap.Mean)
		rec.sum = make([]float64, len(snap.Mean))
		for i, v := range snap.Mean {
			rec.sum[i] = float64(v) * float64(snap.Count)
		}
		rec.count = snap.Count
	}
	s.cfg.Logger.Info("cluster: restored", "key", key, "cluster", id, "entries", rec.ring.Len(), "mean_count", rec.count)
	return id, nil
}

func (s *Store) record(key string, id int) (*record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c := s.instances[key]; c != nil {
		if rec := c.records[id]; rec != nil {
			return rec, nil
		}
	}
	return nil, fmt.Errorf("cluster: %q/%d: %w", key, id, ErrNotFound)
}

func embedder(eng engine.Engine) (engine.Embedder, error) {
	e, ok := eng.(engine.Embedder)
	if !ok {
		return nil, fmt.Errorf("cluster: embeddings: %w", engine.ErrUnsupported)
	}
	return e, nil
}

// embed derives the embedding of the trailing window of pcm.
func (s *Store) embed(eng engine.Engine, pcm []int16) ([]float32, engine.Embedder, error) {
	if len(pcm) == 0 {
		return nil, nil, ErrInsufficientAudio
	}
	e, err := embedder(eng)
	if err != nil {
		return nil, nil, err
	}
	emb, err := e.DeriveEmbedding(pcm16.TrailingWindow(pcm, s.window))
	if err != nil {
		return nil, nil, engine.Wrap("derive_embedding", err)
	}
	if len(emb) == 0 {
		return nil, nil, engine.Wrap("derive_embedding", errors.New("empty embedding"))
	}
	return emb, e, nil
}

// Push embeds the trailing window of pcm into cluster id of key, evicting
// the oldest entry when full, and persists the new state. Persistence
// failures are logged and leave the in-memory state authoritative.
func (s *Store) Push(ctx context.Context, key string, eng engine.Engine, id int, pcm []int16) error {
	rec, err := s.record(key, id)
	if err != nil {
		return err
	}
	emb, _, err := s.embed(eng, pcm)
	if err != nil {
		return err
	}

	s.mu.Lock()
	rec.ring.Add(emb)
	if len(rec.sum) != len(emb) {
		// Dimension change restarts the running mean.
		rec.sum = make([]float64, len(emb))
		rec.count = 0
	}
	for i, v := range emb {
		rec.sum[i] += float64(v)
	}
	rec.count++
	snap := rec.snapshot()
	s.mu.Unlock()

	s.cfg.Metrics.ClusterPushed()
	if s.cfg.Persister != nil {
		if err := s.cfg.Persister.Save(ctx, key, id, snap); err != nil {
			s.cfg.Metrics.PersistFailed()
			s.cfg.Logger.Warn("cluster: persist failed", "key", key, "cluster", id, "error", err)
		}
	}
	return nil
}

// Verify returns the highest similarity between the embedding of pcm's
// trailing window and the cluster's baseline and entries. It does not modify
// the cluster. Empty audio fails with ErrInsufficientAudio before an empty
// cluster fails with ErrEmptyCluster.
func (s *Store) Verify(ctx context.Context, key string, eng engine.Engine, id int, pcm []int16) (float32, error) {
	rec, err := s.record(key, id)
	if err != nil {
		return 0, err
	}
	if len(pcm) == 0 {
		return 0, ErrInsufficientAudio
	}

	s.mu.Lock()
	refs := rec.ring.Items()
	if rec.baseline != nil {
		refs = append(refs, rec.baseline)
	}
	s.mu.Unlock()
	if len(refs) == 0 {
		return 0, fmt.Errorf("cluster: %q/%d: %w", key, id, ErrEmptyCluster)
	}

	emb, e, err := s.embed(eng, pcm)
	if err != nil {
		return 0, err
	}
	best := float32(-1)
	for _, ref := range refs {
		best = max(best, e.Similarity(emb, ref))
	}
	return best, nil
}

// Entries returns the current FIFO entries of a cluster, oldest first.
func (s *Store) Entries(key string, id int) ([][]float32, error) {
	rec, err := s.record(key, id)
	if err != nil {
		return nil, err
	}
	return rec.ring.Items(), nil
}

// Baseline returns the baseline embedding, or nil when there is none.
func (s *Store) Baseline(key string, id int) ([]float32, error) {
	rec, err := s.record(key, id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(rec.baseline), nil
}

// SetBaseline replaces the baseline embedding of a cluster.
func (s *Store) SetBaseline(key string, id int, baseline []float32) error {
	rec, err := s.record(key, id)
	if err != nil {
		return err
	}
	if len(baseline) == 0 {
		return fmt.Errorf("cluster: empty baseline: %w", engine.ErrInvalidArgument)
	}
	s.mu.Lock()
	rec.baseline = slices.Clone(baseline)
	s.mu.Unlock()
	return nil
}

// IDs returns the cluster ids of key in ascending order.
func (s *Store) IDs(key string) []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.instances[key]
	if c == nil {
		return nil
	}
	ids := make([]int, 0, len(c.records))
	for id := range c.records {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Drop forgets every cluster of key. Persisted state is kept.
func (s *Store) Drop(key string) {
	s.mu.Lock()
	delete(s.instances, key)
	s.mu.Unlock()
}

// snapshot captures the persisted form. Callers hold s.mu.
func (r *record) snapshot() *Snapshot {
	snap := &Snapshot{
		Capacity: r.ring.Cap(),
		Entries:  r.ring.Items(),
		Count:    r.count,
	}
	if r.count > 0 {
		snap.Mean = make([]float32, len(r.sum))
		for i, v := range r.sum {
			snap.Mean[i] = float32(v / float64(r.count))
		}
	}
	return snap
}
