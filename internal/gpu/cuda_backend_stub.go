//go:build !cuda || !linux
// +build !cuda !linux

package gpu

import (
	"github.com/fxnlabs/devinfo/internal/config"
	"go.uber.org/zap"
)

// RuntimeDriver is a stub type when CUDA support is not compiled in
type RuntimeDriver struct{}

// NewRuntimeDriver returns a driver whose queries all fail with ErrRuntimeUnavailable
func NewRuntimeDriver(_ config.RuntimeConfig, logger *zap.Logger) *RuntimeDriver {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Debug("CUDA runtime driver not compiled in, build with -tags cuda")
	return &RuntimeDriver{}
}

// Stub implementations to satisfy Driver interface
func (d *RuntimeDriver) DeviceCount() (int, error) {
	return 0, ErrRuntimeUnavailable
}

func (d *RuntimeDriver) CurrentDevice() (int, error) {
	return 0, ErrRuntimeUnavailable
}

func (d *RuntimeDriver) ComputeCapability(int) (int, int, error) {
	return 0, 0, ErrRuntimeUnavailable
}

func (d *RuntimeDriver) MultiprocessorCount(int) (int, error) {
	return 0, ErrRuntimeUnavailable
}

func (d *RuntimeDriver) StreamPriorityRange(int) (int, int, error) {
	return 0, 0, ErrRuntimeUnavailable
}

func (d *RuntimeDriver) MulticastSupported(int) (bool, error) {
	return false, ErrRuntimeUnavailable
}

func (d *RuntimeDriver) RuntimeVersion() (int, error) {
	return 0, ErrRuntimeUnavailable
}
