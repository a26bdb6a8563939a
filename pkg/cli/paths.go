package cli

import (
	"os"
	"path/filepath"
)

// Paths provides access to the enginehub directory structure
type Paths struct {
	// HomeDir is the user's home directory
	HomeDir string
}

// NewPaths creates a Paths rooted at the user's home directory
func NewPaths() (*Paths, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return &Paths{HomeDir: home}, nil
}

// BaseDir returns the base directory (~/.enginehub)
func (p *Paths) BaseDir() string {
	return filepath.Join(p.HomeDir, DefaultBaseDir)
}

// ConfigFile returns the config file path (~/.enginehub/config.yaml)
func (p *Paths) ConfigFile() string {
	return filepath.Join(p.BaseDir(), DefaultConfigFile)
}

// DataDir returns the data directory (~/.enginehub/data)
func (p *Paths) DataDir() string {
	return filepath.Join(p.BaseDir(), "data")
}

// ModelDir returns the directory for built models (~/.enginehub/models)
func (p *Paths) ModelDir() string {
	return filepath.Join(p.BaseDir(), "models")
}

// ModelPath returns a path within the model directory
func (p *Paths) ModelPath(name string) string {
	return filepath.Join(p.ModelDir(), name)
}

// EnsureDataDir creates the data directory if it doesn't exist
func (p *Paths) EnsureDataDir() error {
	return os.MkdirAll(p.DataDir(), 0o755)
}

// EnsureModelDir creates the model directory if it doesn't exist
func (p *Paths) EnsureModelDir() error {
	return os.MkdirAll(p.ModelDir(), 0o755)
}
