package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/frymanofer/enginehub/pkg/engine"
)

// ModelBatch is the file format of a multi-model instance:
//
//	models:
//	  - model: hey_hub.fbm
//	    threshold: 0.8
//	    buffer_count: 2
//	    ms_between_callbacks: 1000
type ModelBatch struct {
	Models []engine.ModelConfig `yaml:"models" json:"models"`
}

// LoadModels reads a model batch from a YAML or JSON file. Relative model
// paths are resolved against the batch file directory.
func LoadModels(path string) ([]engine.ModelConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	var b ModelBatch
	if err := ParseRequest(data, path, &b); err != nil {
		return nil, err
	}
	if len(b.Models) == 0 {
		return nil, errors.New("no models in " + path)
	}
	dir := filepath.Dir(path)
	for i := range b.Models {
		if m := b.Models[i].Model; m != "" && !filepath.IsAbs(m) {
			b.Models[i].Model = filepath.Join(dir, m)
		}
	}
	if err := engine.ValidateModels(b.Models); err != nil {
		return nil, err
	}
	return b.Models, nil
}

// ParseRequest parses request data based on file extension or content
func ParseRequest(data []byte, filename string, v any) error {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, v); err != nil {
			return fmt.Errorf("failed to parse YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, v); err != nil {
			return fmt.Errorf("failed to parse JSON: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, v); err != nil {
			if err2 := json.Unmarshal(data, v); err2 != nil {
				return fmt.Errorf("failed to parse file (tried YAML and JSON)")
			}
		}
	}
	return nil
}
