package cluster_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"testing"

	"github.com/frymanofer/enginehub/pkg/cluster"
	"github.com/frymanofer/enginehub/pkg/engine"
	"github.com/frymanofer/enginehub/pkg/engine/enginetest"
	"github.com/frymanofer/enginehub/pkg/kv"
	"github.com/frymanofer/enginehub/pkg/metrics"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func newStore(p cluster.Persister) *cluster.Store {
	return cluster.New(cluster.Config{Persister: p, Metrics: metrics.New(nil), Logger: quiet})
}

func fake() *enginetest.Fake {
	return enginetest.NewFake(engine.Spec{Key: "a"})
}

// onehot is the embedding the fake derives from audio filled with v.
func onehot(v int16) []float32 {
	return enginetest.Embed([]int16{v})
}

func TestInitIDs(t *testing.T) {
	ctx := context.Background()
	s := newStore(nil)
	for want := 1; want <= 3; want++ {
		id, err := s.Init(ctx, "a", 2)
		if err != nil || id != want {
			t.Fatalf("Init = %d, %v; want %d", id, err, want)
		}
	}
	if id, _ := s.Init(ctx, "b", 2); id != 1 {
		t.Fatalf("ids are not per instance: %d", id)
	}
	if _, err := s.Init(ctx, "a", 0); !errors.Is(err, engine.ErrInvalidArgument) {
		t.Fatalf("Init(0) = %v", err)
	}
	if got := s.IDs("a"); !slices.Equal(got, []int{1, 2, 3}) {
		t.Fatalf("IDs = %v", got)
	}
}

func TestFIFOBound(t *testing.T) {
	ctx := context.Background()
	s := newStore(nil)
	eng := fake()
	id, _ := s.Init(ctx, "a", 3)

	for v := int16(1); v <= 6; v++ {
		if err := s.Push(ctx, "a", eng, id, enginetest.Tone(v, 4000)); err != nil {
			t.Fatalf("Push %d: %v", v, err)
		}
		entries, _ := s.Entries("a", id)
		if len(entries) > 3 {
			t.Fatalf("cluster holds %d entries", len(entries))
		}
	}
	entries, _ := s.Entries("a", id)
	want := [][]float32{onehot(4), onehot(5), onehot(6)}
	for i := range want {
		if !slices.Equal(entries[i], want[i]) {
			t.Fatalf("entry %d = %v, want %v", i, entries[i], want[i])
		}
	}
}

// Push four distinct embeddings into a cluster of three; audio matching
// only the evicted first embedding must not score a match.
func TestEvictedEntryNoLongerMatches(t *testing.T) {
	ctx := context.Background()
	s := newStore(nil)
	eng := fake()
	id, _ := s.Init(ctx, "a", 3)
	for v := int16(1); v <= 4; v++ {
		s.Push(ctx, "a", eng, id, enginetest.Tone(v, 16000))
	}

	score, err := s.Verify(ctx, "a", eng, id, enginetest.Tone(1, 16000))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if score != 0 {
		t.Fatalf("E1 audio scored %v", score)
	}
	score, _ = s.Verify(ctx, "a", eng, id, enginetest.Tone(3, 16000))
	if score != 1 {
		t.Fatalf("E3 audio scored %v", score)
	}
	if entries, _ := s.Entries("a", id); len(entries) != 3 {
		t.Fatalf("Verify changed the cluster: %d entries", len(entries))
	}
}

func TestWindowPadding(t *testing.T) {
	ctx := context.Background()
	s := newStore(nil)
	eng := fake()
	id, _ := s.Init(ctx, "a", 4)

	short := []int16{7, 8, 9}
	s.Push(ctx, "a", eng, id, short)
	s.Push(ctx, "a", eng, id, slices.Clone(short))

	long := make([]int16, 20000)
	for i := range long {
		long[i] = int16(i)
	}
	s.Push(ctx, "a", eng, id, long)

	w := eng.Windows()
	if len(w) != 3 {
		t.Fatalf("%d windows", len(w))
	}
	for i, win := range w {
		if len(win) != s.WindowSamples() {
			t.Fatalf("window %d has %d samples", i, len(win))
		}
	}
	if !slices.Equal(w[0], w[1]) {
		t.Fatal("padding differs for identical input")
	}
	if w[0][0] != 7 || w[0][3] != 7 || w[0][5] != 9 {
		t.Fatalf("padding not cyclic: %v", w[0][:6])
	}
	if w[2][0] != int16(20000-s.WindowSamples()) {
		t.Fatalf("long buffer window starts at %d", w[2][0])
	}
}

func TestStructuralErrors(t *testing.T) {
	ctx := context.Background()
	s := newStore(nil)
	eng := fake()

	if err := s.Push(ctx, "a", eng, 1, []int16{1}); !errors.Is(err, cluster.ErrNotFound) {
		t.Fatalf("Push unknown = %v", err)
	}
	id, _ := s.Init(ctx, "a", 2)
	if _, err := s.Verify(ctx, "a", eng, id, []int16{1}); !errors.Is(err, cluster.ErrEmptyCluster) {
		t.Fatalf("Verify empty = %v", err)
	}
	if _, err := s.Verify(ctx, "a", eng, id, nil); !errors.Is(err, cluster.ErrInsufficientAudio) {
		t.Fatalf("Verify empty audio on empty cluster = %v", err)
	}
	err := s.Push(ctx, "a", eng, id, nil)
	if !errors.Is(err, cluster.ErrInsufficientAudio) || !errors.Is(err, engine.ErrInvalidArgument) {
		t.Fatalf("Push empty = %v", err)
	}
	if eng.Called("DeriveEmbedding") {
		t.Fatal("engine called for structurally invalid requests")
	}
	if err := s.Push(ctx, "a", bare{}, id, []int16{1}); !errors.Is(err, engine.ErrUnsupported) {
		t.Fatalf("Push without embedder = %v", err)
	}
}

func TestEngineFailure(t *testing.T) {
	ctx := context.Background()
	s := newStore(nil)
	eng := fake()
	boom := errors.New("inference failed")
	eng.Hooks.Embed = func([]int16) ([]float32, error) { return nil, boom }
	id, _ := s.Init(ctx, "a", 2)
	err := s.Push(ctx, "a", eng, id, []int16{1})
	if !errors.Is(err, engine.ErrEngine) || !errors.Is(err, boom) {
		t.Fatalf("Push = %v", err)
	}
	if entries, _ := s.Entries("a", id); len(entries) != 0 {
		t.Fatal("failed push added an entry")
	}
}

func TestBaseline(t *testing.T) {
	ctx := context.Background()
	s := newStore(nil)
	eng := fake()
	id, _ := s.Init(ctx, "a", 2)
	if err := s.SetBaseline("a", id, onehot(5)); err != nil {
		t.Fatalf("SetBaseline: %v", err)
	}
	score, err := s.Verify(ctx, "a", eng, id, enginetest.Tone(5, 100))
	if err != nil || score != 1 {
		t.Fatalf("Verify against baseline = %v, %v", score, err)
	}
	s.Push(ctx, "a", eng, id, enginetest.Tone(2, 100))
	if b, _ := s.Baseline("a", id); !slices.Equal(b, onehot(5)) {
		t.Fatalf("push changed the baseline: %v", b)
	}
}

func TestPersistRestore(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory(nil)
	p := &cluster.KVPersister{Store: store, Logger: quiet}
	eng := fake()

	s1 := newStore(p)
	id, _ := s1.Init(ctx, "a", 3)
	for _, v := range []int16{1, 1, 2, 3} {
		if err := s1.Push(ctx, "a", eng, id, enginetest.Tone(v, 800)); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}

	// A later lifetime restores entries and takes the running mean as its
	// baseline.
	s2 := newStore(p)
	id2, _ := s2.Init(ctx, "a", 2)
	if id2 != id {
		t.Fatalf("restored id %d, want %d", id2, id)
	}
	entries, _ := s2.Entries("a", id2)
	if len(entries) != 2 || !slices.Equal(entries[0], onehot(2)) || !slices.Equal(entries[1], onehot(3)) {
		t.Fatalf("restored entries = %v", entries)
	}
	base, _ := s2.Baseline("a", id2)
	want := []float32{0, 0.5, 0.25, 0.25, 0, 0, 0, 0}
	if !slices.Equal(base, want) {
		t.Fatalf("baseline = %v, want %v", base, want)
	}

	// A different instance key starts empty.
	id3, _ := s2.Init(ctx, "b", 3)
	if e, _ := s2.Entries("b", id3); len(e) != 0 {
		t.Fatal("instance b restored a's state")
	}
}

type failingStore struct{ kv.Store }

func (failingStore) Set(context.Context, kv.Key, []byte) error { return errors.New("disk full") }

func TestPersistFailureKeepsMemory(t *testing.T) {
	ctx := context.Background()
	p := &cluster.KVPersister{Store: failingStore{kv.NewMemory(nil)}, MaxElapsed: 1}
	s := newStore(p)
	eng := fake()
	id, _ := s.Init(ctx, "a", 2)
	if err := s.Push(ctx, "a", eng, id, enginetest.Tone(4, 10)); err != nil {
		t.Fatalf("Push with failing persistence = %v", err)
	}
	if score, _ := s.Verify(ctx, "a", eng, id, enginetest.Tone(4, 10)); score != 1 {
		t.Fatalf("in-memory entry lost: score %v", score)
	}
}

func TestDrop(t *testing.T) {
	ctx := context.Background()
	s := newStore(nil)
	id, _ := s.Init(ctx, "a", 2)
	s.Drop("a")
	if _, err := s.Entries("a", id); !errors.Is(err, cluster.ErrNotFound) {
		t.Fatalf("Entries after Drop = %v", err)
	}
	if id, _ := s.Init(ctx, "a", 2); id != 1 {
		t.Fatalf("ids not reset after Drop: %d", id)
	}
}

type bare struct{}

func (bare) Close() error { return nil }
