package enginehub

import (
	"errors"

	"github.com/frymanofer/enginehub/pkg/cluster"
	"github.com/frymanofer/enginehub/pkg/engine"
	"github.com/frymanofer/enginehub/pkg/registry"
	"github.com/frymanofer/enginehub/pkg/stream"
)

// Error kinds returned by Hub methods. Match them with errors.Is.
var (
	ErrAlreadyExists        = registry.ErrAlreadyExists
	ErrNotFound             = registry.ErrNotFound
	ErrClusterNotFound      = cluster.ErrNotFound
	ErrInvalidArgument      = engine.ErrInvalidArgument
	ErrInsufficientAudio    = cluster.ErrInsufficientAudio
	ErrEmptyCluster         = cluster.ErrEmptyCluster
	ErrSessionAlreadyActive = stream.ErrSessionAlreadyActive
	ErrSessionNotStarted    = stream.ErrSessionNotStarted
	ErrEngine               = engine.ErrEngine
	ErrLicenseDenied        = engine.ErrLicenseDenied
	ErrUnsupported          = engine.ErrUnsupported

	// ErrClosed is returned when creating instances on a closed Hub.
	ErrClosed = errors.New("enginehub: hub closed")
)
