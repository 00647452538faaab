package supervisor

import (
	"errors"
	"fmt"
)

var (
	// ErrPathsMissing is matched by a ConfigError raised for an empty
	// executable or script path.
	ErrPathsMissing = errors.New("paths are missing")
	// ErrNotRunning is returned internally when an operation needs a live child.
	ErrNotRunning = errors.New("process not running")
	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("supervisor closed")
)

// ConfigError reports a caller-correctable problem. No process was started.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return e.Msg }

// Is lets errors.Is(err, ErrPathsMissing) match.
func (e *ConfigError) Is(target error) bool {
	return target == ErrPathsMissing
}

// SpawnError reports that the OS refused to create the child.
type SpawnError struct {
	Path string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to run %s: %v", e.Path, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }
