package enginehub

import (
	"context"

	"github.com/frymanofer/enginehub/pkg/engine"
)

// InitCluster creates an embedding cluster of the given capacity on key and
// returns its id. State persisted for the same id is restored.
func (h *Hub) InitCluster(ctx context.Context, key string, capacity int) (int, error) {
	return call(h, "init_cluster", key, func(engine.Engine) (int, error) {
		return h.clusters.Init(ctx, key, capacity)
	})
}

// PushEmbeddingToCluster embeds the trailing window of pcm and adds it to
// cluster id of key, evicting the oldest entry when full. Audio shorter than
// the window is padded by repeating it.
func (h *Hub) PushEmbeddingToCluster(ctx context.Context, key string, id int, pcm []int16) error {
	return h.do("push_cluster", key, func(eng engine.Engine) error {
		return h.clusters.Push(ctx, key, eng, id, pcm)
	})
}

// VerifyEmbeddingFromCluster scores pcm against cluster id of key and
// returns the best similarity. The cluster is not modified.
func (h *Hub) VerifyEmbeddingFromCluster(ctx context.Context, key string, id int, pcm []int16) (float32, error) {
	return call(h, "verify_cluster", key, func(eng engine.Engine) (float32, error) {
		return h.clusters.Verify(ctx, key, eng, id, pcm)
	})
}

// SetClusterBaseline sets the reference embedding that cluster id of key
// scores against besides its entries.
func (h *Hub) SetClusterBaseline(key string, id int, baseline []float32) error {
	return h.do("set_baseline", key, func(engine.Engine) error {
		return h.clusters.SetBaseline(key, id, baseline)
	})
}

// ClusterEntries returns the entries of cluster id of key, oldest first.
func (h *Hub) ClusterEntries(key string, id int) ([][]float32, error) {
	return call(h, "cluster_entries", key, func(engine.Engine) ([][]float32, error) {
		return h.clusters.Entries(key, id)
	})
}
