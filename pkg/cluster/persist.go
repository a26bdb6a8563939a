package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/frymanofer/enginehub/pkg/kv"
)

// Snapshot is the persisted state of one cluster.
type Snapshot struct {
	Capacity int         `msgpack:"capacity"`
	Entries  [][]float32 `msgpack:"entries"`
	Mean     []float32   `msgpack:"mean"`
	Count    int         `msgpack:"count"`
}

// Persister loads and saves cluster snapshots.
type Persister interface {
	// Load returns nil, nil when nothing is stored for (key, id).
	Load(ctx context.Context, key string, id int) (*Snapshot, error)
	Save(ctx context.Context, key string, id int, snap *Snapshot) error
}

// KVPersister stores snapshots as msgpack under {Prefix..., key, id} in a
// kv.Store. Writes are retried with exponential backoff.
type KVPersister struct {
	Store  kv.Store
	Prefix kv.Key

	// MaxElapsed bounds the retries of one Save. Default 2s.
	MaxElapsed time.Duration

	Logger *slog.Logger
}

func (p *KVPersister) key(key string, id int) kv.Key {
	prefix := p.Prefix
	if len(prefix) == 0 {
		prefix = kv.Key{"cluster"}
	}
	return prefix.With(key, strconv.Itoa(id))
}

func (p *KVPersister) Load(ctx context.Context, key string, id int) (*Snapshot, error) {
	b, err := p.Store.Get(ctx, p.key(key, id))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cluster: load %s/%d: %w", key, id, err)
	}
	var snap Snapshot
	if err := msgpack.Unmarshal(b, &snap); err != nil {
		return nil, fmt.Errorf("cluster: decode %s/%d: %w", key, id, err)
	}
	return &snap, nil
}

func (p *KVPersister) Save(ctx context.Context, key string, id int, snap *Snapshot) error {
	b, err := msgpack.Marshal(snap)
	if err != nil {
		return fmt.Errorf("cluster: encode %s/%d: %w", key, id, err)
	}
	k := p.key(key, id)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 20 * time.Millisecond
	bo.MaxElapsedTime = p.MaxElapsed
	if bo.MaxElapsedTime <= 0 {
		bo.MaxElapsedTime = 2 * time.Second
	}
	notify := func(err error, wait time.Duration) {
		if p.Logger != nil {
			p.Logger.Debug("cluster: retrying save", "key", key, "cluster", id, "wait", wait, "error", err)
		}
	}
	return backoff.RetryNotify(func() error {
		return p.Store.Set(ctx, k, b)
	}, backoff.WithContext(bo, ctx), notify)
}
