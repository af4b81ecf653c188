package pipeline

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
)

// ErrOptionalLayoutAbsent signals that an optional deliverable's layout
// description is missing. Callers log a note and continue; it is the only
// non-fatal condition in the pipeline.
var ErrOptionalLayoutAbsent = errors.New("optional partition layout is absent")

// ConfigError reports a required configuration parameter that is missing
// or cannot be parsed as the expected type. Fatal, no retry.
type ConfigError struct {
	// Key is the configuration symbol or field at fault.
	Key string
	// Err is the underlying cause, if any.
	Err error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration parameter %s: %v", e.Key, e.Err)
	}

	return fmt.Sprintf("configuration parameter %s is required", e.Key)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError wraps err as a ConfigError for the given key.
func NewConfigError(key string, err error) error {
	return &ConfigError{Key: key, Err: err}
}

// MissingArtifactError reports a required upstream binary artifact absent
// at its expected path. The pipeline cannot regenerate compiled artifacts,
// so the message always names the exact path.
type MissingArtifactError struct {
	// Path is the expected artifact location.
	Path string
}

func (e *MissingArtifactError) Error() string {
	return fmt.Sprintf("required artifact not found: %s", e.Path)
}

// CapacityError reports a payload placement that would overlap or exceed
// a reserved address window. Both byte counts are part of the message so
// the violation is diagnosable without re-running.
type CapacityError struct {
	// What names the artifact or region that does not fit.
	What string
	// Required is the byte count the placement needs.
	Required int64
	// Available is the byte count the window offers.
	Available int64
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("%s does not fit: required %d bytes (%s), available %d bytes (%s)",
		e.What,
		e.Required, humanize.IBytes(uint64(e.Required)),
		e.Available, humanize.IBytes(uint64(max(e.Available, 0))))
}
