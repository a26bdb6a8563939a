package fbank

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/frymanofer/enginehub/pkg/audio/pcm16"
)

// Model is a keyword template: the embedding of a reference utterance.
type Model struct {
	Phrase     string    `msgpack:"phrase"`
	SampleRate int       `msgpack:"sample_rate"`
	Window     int       `msgpack:"window"` // samples scored per detection
	Template   []float32 `msgpack:"template"`
}

// BuildModel derives a model for phrase from a reference recording at
// pcm16.SampleRate.
func BuildModel(phrase string, pcm []int16, cfg FeatureConfig) (*Model, error) {
	x := newExtractor(cfg)
	emb := x.embed(pcm)
	if emb == nil {
		return nil, fmt.Errorf("fbank: reference for %q shorter than one frame", phrase)
	}
	return &Model{
		Phrase:     phrase,
		SampleRate: x.cfg.SampleRate,
		Window:     len(pcm),
		Template:   emb,
	}, nil
}

// Save writes the model to path.
func (m *Model) Save(path string) error {
	b, err := msgpack.Marshal(m)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// LoadModel reads a model file. A model without a phrase is named after the
// file.
func LoadModel(path string) (*Model, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Model
	if err := msgpack.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("fbank: %s: %w", path, err)
	}
	if len(m.Template) == 0 {
		return nil, fmt.Errorf("fbank: %s: %w", path, errors.New("empty template"))
	}
	if m.Phrase == "" {
		m.Phrase = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if m.SampleRate == 0 {
		m.SampleRate = pcm16.SampleRate
	}
	if m.Window <= 0 {
		m.Window = m.SampleRate
	}
	return &m, nil
}
