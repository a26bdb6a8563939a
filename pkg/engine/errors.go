package engine

import "errors"

var (
	// ErrEngine marks a failure reported by the engine itself.
	ErrEngine = errors.New("engine: engine failure")

	// ErrInvalidArgument marks a structurally invalid request.
	ErrInvalidArgument = errors.New("engine: invalid argument")

	// ErrUnsupported is returned when an engine lacks a capability.
	ErrUnsupported = errors.New("engine: capability not supported")

	// ErrLicenseDenied is returned when an operation needs a license the
	// engine does not hold.
	ErrLicenseDenied = errors.New("engine: license denied")
)

// OpError is an engine failure annotated with the operation that produced
// it. It matches both ErrEngine and the underlying cause under errors.Is.
type OpError struct {
	Op  string
	Err error
}

func (e *OpError) Error() string {
	if e.Err == nil {
		return "engine: " + e.Op + " failed"
	}
	return "engine: " + e.Op + ": " + e.Err.Error()
}

func (e *OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrEngine}
	}
	return []error{ErrEngine, e.Err}
}

// Wrap annotates err as an engine failure of op. It returns nil for a nil
// err and leaves errors that already carry an OpError untouched.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var oe *OpError
	if errors.As(err, &oe) {
		return err
	}
	return &OpError{Op: op, Err: err}
}
