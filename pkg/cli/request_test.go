package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/frymanofer/enginehub/pkg/engine"
)

func TestLoadModels(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		file string
		body string
	}{
		{"batch.yaml", "models:\n  - model: hey.fbm\n    threshold: 0.8\n    buffer_count: 2\n    ms_between_callbacks: 500\n"},
		{"batch.json", `{"models":[{"model":"hey.fbm","threshold":0.8,"buffer_count":2,"ms_between_callbacks":500}]}`},
		{"batch.txt", "models:\n  - model: hey.fbm\n    threshold: 0.8\n    buffer_count: 2\n    ms_between_callbacks: 500\n"},
	}

	want := engine.ModelConfig{
		Model:              filepath.Join(dir, "hey.fbm"),
		Threshold:          0.8,
		BufferCount:        2,
		MsBetweenCallbacks: 500,
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			path := filepath.Join(dir, tt.file)
			if err := os.WriteFile(path, []byte(tt.body), 0o644); err != nil {
				t.Fatal(err)
			}
			got, err := LoadModels(path)
			if err != nil {
				t.Fatalf("LoadModels error: %v", err)
			}
			if len(got) != 1 || got[0] != want {
				t.Errorf("LoadModels = %+v, want [%+v]", got, want)
			}
		})
	}
}

func TestLoadModels_Invalid(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name string
		body string
		want string
	}{
		{"empty", "models: []\n", "no models"},
		{"threshold", "models:\n  - model: /abs.fbm\n    threshold: 1.5\n", "out of [0,1]"},
		{"garbage", "{{{", "failed to parse"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".yaml")
			if err := os.WriteFile(path, []byte(tt.body), 0o644); err != nil {
				t.Fatal(err)
			}
			_, err := LoadModels(path)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("LoadModels error = %v, want containing %q", err, tt.want)
			}
		})
	}

	if _, err := LoadModels(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("missing file should fail")
	}
}
