package fbank

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/frymanofer/enginehub/pkg/buffer"
	"github.com/frymanofer/enginehub/pkg/engine"
)

// Target file names under the instance data directory.
const (
	MeanFile      = "mean.msgpack"
	MeanCountFile = "mean_count.msgpack"
	ClusterFile   = "cluster.msgpack"
)

type meanRecord struct {
	Mean []float32 `msgpack:"mean"`
}

type countRecord struct {
	Count int `msgpack:"count"`
}

type clusterRecord struct {
	Entries [][]float32 `msgpack:"entries"`
}

// targets is the enrolled speaker: a running mean and the most recent
// enrollment embeddings.
type targets struct {
	sum     []float64
	count   int
	cluster *buffer.Ring[[]float32]
}

func newTargets(size int) *targets {
	return &targets{cluster: buffer.RingN[[]float32](size)}
}

func (t *targets) empty() bool {
	return t.count == 0 && t.cluster.Len() == 0
}

func (t *targets) add(emb []float32) {
	if len(t.sum) != len(emb) {
		t.sum = make([]float64, len(emb))
		t.count = 0
	}
	for i, v := range emb {
		t.sum[i] += float64(v)
	}
	t.count++
	t.cluster.Add(emb)
}

func (t *targets) mean() []float32 {
	if t.count == 0 {
		return nil
	}
	m := make([]float32, len(t.sum))
	for i, v := range t.sum {
		m[i] = float32(v / float64(t.count))
	}
	return m
}

func (t *targets) setMean(mean []float32, count int) {
	t.count = max(count, 1)
	t.sum = make([]float64, len(mean))
	for i, v := range mean {
		t.sum[i] = float64(v) * float64(t.count)
	}
}

// score is the best cosine similarity of emb to the mean or any cluster
// member.
func (t *targets) score(emb []float32) float32 {
	best := float32(-1)
	if m := t.mean(); m != nil {
		best = engine.Cosine(emb, m)
	}
	for _, e := range t.cluster.Items() {
		best = max(best, engine.Cosine(emb, e))
	}
	return best
}

func (t *targets) reset() {
	t.sum = nil
	t.count = 0
	t.cluster.Reset()
}

func writeRecord(w io.Writer, v any) error {
	return msgpack.NewEncoder(w).Encode(v)
}

func readRecord(path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := msgpack.NewDecoder(f).Decode(v); err != nil {
		return fmt.Errorf("fbank: %s: %w", path, err)
	}
	return nil
}

func writeFile(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := writeRecord(f, v); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// saveTargetsLocked persists the targets to the instance data directory.
func (e *Engine) saveTargetsLocked() error {
	dir := e.dir()
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	t := e.targets
	return errors.Join(
		writeFile(filepath.Join(dir, MeanFile), meanRecord{Mean: t.mean()}),
		writeFile(filepath.Join(dir, MeanCountFile), countRecord{Count: t.count}),
		writeFile(filepath.Join(dir, ClusterFile), clusterRecord{Entries: t.cluster.Items()}),
	)
}

// loadTargets reads mean and cluster files. A missing count file means the
// mean stands for the cluster size.
func (e *Engine) loadTargets(meanPath, clusterPath, countPath string) (bool, error) {
	var m meanRecord
	var c clusterRecord
	if err := readRecord(meanPath, &m); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if err := readRecord(clusterPath, &c); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	count := len(c.Entries)
	if countPath != "" {
		var n countRecord
		if err := readRecord(countPath, &n); err == nil {
			count = n.Count
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false, errClosed
	}
	e.targets.reset()
	for _, emb := range c.Entries {
		e.targets.cluster.Add(emb)
	}
	if len(m.Mean) > 0 {
		e.targets.setMean(m.Mean, count)
	}
	e.logger.Info("fbank: targets loaded", "mean_count", e.targets.count, "cluster", e.targets.cluster.Len())
	return !e.targets.empty(), nil
}

func (e *Engine) InitVerificationWithFiles(meanPath, clusterPath string) (bool, error) {
	return e.loadTargets(meanPath, clusterPath, "")
}

// InitVerificationUsingDefaults loads the targets saved in the instance data
// directory.
func (e *Engine) InitVerificationUsingDefaults() (bool, error) {
	dir := e.dir()
	if dir == "" {
		e.mu.Lock()
		defer e.mu.Unlock()
		return !e.targets.empty(), nil
	}
	return e.loadTargets(
		filepath.Join(dir, MeanFile),
		filepath.Join(dir, ClusterFile),
		filepath.Join(dir, MeanCountFile),
	)
}

// WipeTargets forgets the enrolled speaker, on disk too.
func (e *Engine) WipeTargets() error {
	e.mu.Lock()
	e.targets.reset()
	e.mu.Unlock()
	dir := e.dir()
	if dir == "" {
		return nil
	}
	var errs []error
	for _, name := range []string{MeanFile, MeanCountFile, ClusterFile} {
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) ExportMean(w io.Writer) error {
	e.mu.Lock()
	rec := meanRecord{Mean: e.targets.mean()}
	e.mu.Unlock()
	return writeRecord(w, rec)
}

func (e *Engine) ExportMeanCount(w io.Writer) error {
	e.mu.Lock()
	rec := countRecord{Count: e.targets.count}
	e.mu.Unlock()
	return writeRecord(w, rec)
}

func (e *Engine) ExportCluster(w io.Writer) error {
	e.mu.Lock()
	rec := clusterRecord{Entries: e.targets.cluster.Items()}
	e.mu.Unlock()
	return writeRecord(w, rec)
}
