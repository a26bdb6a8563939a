package engine

import (
	"fmt"
	"time"
)

// Profile selects the engine flavour built for an instance.
type Profile string

const (
	// ProfileStandard is a plain speaker verification engine.
	ProfileStandard Profile = "standard"
	// ProfileWakeWord is speaker verification bound to a wake word.
	ProfileWakeWord Profile = "wakeword"
)

// ModelConfig describes one detection model of an instance.
type ModelConfig struct {
	Model       string  `yaml:"model" json:"model" msgpack:"model"`
	Threshold   float32 `yaml:"threshold" json:"threshold" msgpack:"threshold"`
	BufferCount int     `yaml:"buffer_count" json:"buffer_count" msgpack:"buffer_count"`

	// Sticky is accepted for compatibility and has no effect.
	Sticky bool `yaml:"sticky,omitempty" json:"sticky,omitempty" msgpack:"sticky"`

	MsBetweenCallbacks int64 `yaml:"ms_between_callbacks" json:"ms_between_callbacks" msgpack:"ms_between_callbacks"`
}

// Debounce returns the minimum gap between two detections of this model.
func (c ModelConfig) Debounce() time.Duration {
	return time.Duration(c.MsBetweenCallbacks) * time.Millisecond
}

// Validate checks a single record.
func (c ModelConfig) Validate() error {
	switch {
	case c.Model == "":
		return fmt.Errorf("engine: empty model name: %w", ErrInvalidArgument)
	case c.Threshold < 0 || c.Threshold > 1:
		return fmt.Errorf("engine: model %q: threshold %v out of [0,1]: %w", c.Model, c.Threshold, ErrInvalidArgument)
	case c.BufferCount < 0:
		return fmt.Errorf("engine: model %q: negative buffer count: %w", c.Model, ErrInvalidArgument)
	case c.MsBetweenCallbacks < 0:
		return fmt.Errorf("engine: model %q: negative callback interval: %w", c.Model, ErrInvalidArgument)
	}
	return nil
}

// ValidateModels checks a whole batch. The batch must be non-empty and every
// record valid.
func ValidateModels(cfgs []ModelConfig) error {
	if len(cfgs) == 0 {
		return fmt.Errorf("engine: no models: %w", ErrInvalidArgument)
	}
	for i, c := range cfgs {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("model %d: %w", i, err)
		}
	}
	return nil
}

// ModelsFromParallel builds model records from parallel arrays. All arrays
// must have the same non-zero length.
func ModelsFromParallel(models []string, thresholds []float32, bufferCounts []int, msBetweenCallbacks []int64) ([]ModelConfig, error) {
	n := len(models)
	if n == 0 || len(thresholds) != n || len(bufferCounts) != n || len(msBetweenCallbacks) != n {
		return nil, fmt.Errorf("engine: all input arrays must have the same non-zero length: %w", ErrInvalidArgument)
	}
	cfgs := make([]ModelConfig, n)
	for i := range cfgs {
		cfgs[i] = ModelConfig{
			Model:              models[i],
			Threshold:          thresholds[i],
			BufferCount:        bufferCounts[i],
			MsBetweenCallbacks: msBetweenCallbacks[i],
		}
	}
	if err := ValidateModels(cfgs); err != nil {
		return nil, err
	}
	return cfgs, nil
}
