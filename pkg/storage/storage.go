// Package storage is the destination for exported speaker targets. A
// FileStore is either a local directory or an S3 bucket prefix.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// FileStore is a minimal interface for file-oriented storage.
//
// Paths are forward-slash separated and relative to the store root.
// Implementations must be safe for concurrent use.
type FileStore interface {
	// Read opens the named file. Missing files yield an error wrapping
	// os.ErrNotExist.
	Read(ctx context.Context, path string) (io.ReadCloser, error)

	// Write truncates or creates the named file. Data is committed when the
	// returned writer is closed.
	Write(ctx context.Context, path string) (io.WriteCloser, error)

	// Delete is idempotent.
	Delete(ctx context.Context, path string) error

	Exists(ctx context.Context, path string) (bool, error)
}

// Kind names a FileStore backend.
type Kind string

const (
	KindLocal Kind = "local"
	KindS3    Kind = "s3"
)

// Config selects and configures a backend.
type Config struct {
	Kind Kind `yaml:"kind" json:"kind"`

	// Dir is the root directory for KindLocal.
	Dir string `yaml:"dir,omitempty" json:"dir,omitempty"`

	Bucket   string `yaml:"bucket,omitempty" json:"bucket,omitempty"`
	Prefix   string `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	Region   string `yaml:"region,omitempty" json:"region,omitempty"`
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`

	// AccessKeyID and SecretAccessKey fall back to AWS_ACCESS_KEY_ID and
	// AWS_SECRET_ACCESS_KEY when empty.
	AccessKeyID     string `yaml:"access_key_id,omitempty" json:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" json:"secret_access_key,omitempty"`
}

// Open builds the FileStore described by cfg. An empty Kind means local.
func Open(cfg Config) (FileStore, error) {
	switch cfg.Kind {
	case "", KindLocal:
		if cfg.Dir == "" {
			return nil, errors.New("storage: local store needs a dir")
		}
		return NewLocal(cfg.Dir)
	case KindS3:
		if cfg.Bucket == "" {
			return nil, errors.New("storage: s3 store needs a bucket")
		}
		return NewS3(newS3Client(cfg), cfg.Bucket, cfg.Prefix), nil
	default:
		return nil, fmt.Errorf("storage: unknown kind %q", cfg.Kind)
	}
}

// Put writes one file by handing fill a writer and committing on success.
func Put(ctx context.Context, fs FileStore, path string, fill func(io.Writer) error) error {
	w, err := fs.Write(ctx, path)
	if err != nil {
		return fmt.Errorf("storage: open %s: %w", path, err)
	}
	if err := fill(w); err != nil {
		if ce, ok := w.(interface{ CloseWithError(error) error }); ok {
			ce.CloseWithError(err)
		} else {
			w.Close()
		}
		return err
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("storage: commit %s: %w", path, err)
	}
	return nil
}
