package gpu

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrRuntimeUnavailable is returned when the CUDA runtime library cannot be loaded,
	// or the binary was built without the cuda tag.
	ErrRuntimeUnavailable = errors.New("gpu: CUDA runtime unavailable")

	// ErrNoDevice is returned when no device is visible to the runtime.
	ErrNoDevice = errors.New("gpu: no CUDA device visible")

	// ErrUnsupported is returned by a Driver that cannot report an attribute on this platform.
	ErrUnsupported = errors.New("gpu: attribute not supported")
)

// InvalidDeviceError reports a device ordinal outside [0, Count).
// Count is -1 when the ordinal was rejected before the device count was known.
type InvalidDeviceError struct {
	Device int
	Count  int
}

func (e *InvalidDeviceError) Error() string {
	if e.Count < 0 {
		return fmt.Sprintf("gpu: invalid device %d", e.Device)
	}
	return fmt.Sprintf("gpu: invalid device %d (%d visible)", e.Device, e.Count)
}

// RuntimeQueryError wraps a failed query against the device runtime.
type RuntimeQueryError struct {
	Op  string
	Err error
}

func (e *RuntimeQueryError) Error() string {
	return fmt.Sprintf("gpu: %s: %v", e.Op, e.Err)
}

func (e *RuntimeQueryError) Unwrap() error {
	return e.Err
}

// ConfigurationError is returned when a required toolkit include directory cannot be found.
type ConfigurationError struct {
	Header   string
	Searched []string
}

func (e *ConfigurationError) Error() string {
	if len(e.Searched) == 0 {
		return fmt.Sprintf("gpu: could not find %s: no candidate directories", e.Header)
	}
	return fmt.Sprintf("gpu: could not find %s in %s", e.Header, strings.Join(e.Searched, ", "))
}
