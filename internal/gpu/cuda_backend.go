//go:build cuda && linux
// +build cuda,linux

package gpu

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/ebitengine/purego"
	"github.com/fxnlabs/devinfo/internal/config"
	"go.uber.org/zap"
)

// cudaError is a CUDA runtime API status code
type cudaError int32

const (
	cudaSuccess                  cudaError = 0
	cudaErrorInvalidValue        cudaError = 1
	cudaErrorInitializationError cudaError = 3
	cudaErrorInsufficientDriver  cudaError = 35
	cudaErrorNoDevice            cudaError = 100
	cudaErrorInvalidDevice       cudaError = 101
)

func (e cudaError) Error() string {
	switch e {
	case cudaSuccess:
		return "Success"
	case cudaErrorInvalidValue:
		return "Invalid value"
	case cudaErrorInitializationError:
		return "Initialization error"
	case cudaErrorInsufficientDriver:
		return "Insufficient driver"
	case cudaErrorNoDevice:
		return "No CUDA device"
	case cudaErrorInvalidDevice:
		return "Invalid device"
	default:
		return fmt.Sprintf("Unknown error (%d)", int32(e))
	}
}

// cuResult is a CUDA driver API status code
type cuResult int32

const (
	cuSuccess           cuResult = 0
	cuErrorInvalidValue cuResult = 1
)

func (r cuResult) Error() string {
	return fmt.Sprintf("CUDA driver error (%d)", int32(r))
}

// Device attributes, shared numbering between cudaDeviceAttr and CUdevice_attribute
const (
	attrMultiprocessorCount    int32 = 16
	attrComputeCapabilityMajor int32 = 75
	attrComputeCapabilityMinor int32 = 76
	attrMulticastSupported     int32 = 132
)

// multicastMinRuntime is the first runtime version defining the multicast attribute
const multicastMinRuntime = 12010

// RuntimeDriver implements Driver on the CUDA runtime, loaded with dlopen so the
// binary does not link against CUDA. The driver library is optional and only
// needed for the multicast attribute.
type RuntimeDriver struct {
	cfg    config.RuntimeConfig
	logger *zap.Logger

	loadOnce sync.Once
	loadErr  error

	cudaGetDeviceCount               func(count *int32) cudaError
	cudaGetDevice                    func(device *int32) cudaError
	cudaSetDevice                    func(device int32) cudaError
	cudaDeviceGetAttribute           func(value *int32, attr int32, device int32) cudaError
	cudaDeviceGetStreamPriorityRange func(least, greatest *int32) cudaError
	cudaRuntimeGetVersion            func(version *int32) cudaError

	driverOnce           sync.Once
	driverErr            error
	cuInit               func(flags uint32) cuResult
	cuDeviceGet          func(device *int32, ordinal int32) cuResult
	cuDeviceGetAttribute func(value *int32, attr int32, device int32) cuResult
}

// NewRuntimeDriver creates a driver backed by the CUDA runtime library.
// Libraries are loaded on first query.
func NewRuntimeDriver(cfg config.RuntimeConfig, logger *zap.Logger) *RuntimeDriver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RuntimeDriver{
		cfg:    cfg,
		logger: logger,
	}
}

// load opens the runtime library and binds its entry points
func (d *RuntimeDriver) load() error {
	d.loadOnce.Do(func() {
		lib, name, err := dlopenFirst(d.cfg.Libraries)
		if err != nil {
			d.loadErr = fmt.Errorf("%w: %v", ErrRuntimeUnavailable, err)
			d.logger.Warn("CUDA runtime not available", zap.Error(err))
			return
		}
		binds := []struct {
			fptr any
			name string
		}{
			{&d.cudaGetDeviceCount, "cudaGetDeviceCount"},
			{&d.cudaGetDevice, "cudaGetDevice"},
			{&d.cudaSetDevice, "cudaSetDevice"},
			{&d.cudaDeviceGetAttribute, "cudaDeviceGetAttribute"},
			{&d.cudaDeviceGetStreamPriorityRange, "cudaDeviceGetStreamPriorityRange"},
			{&d.cudaRuntimeGetVersion, "cudaRuntimeGetVersion"},
		}
		for _, b := range binds {
			if err := bind(b.fptr, lib, b.name); err != nil {
				d.loadErr = fmt.Errorf("%w: %s: %v", ErrRuntimeUnavailable, name, err)
				return
			}
		}
		d.logger.Debug("CUDA runtime loaded", zap.String("library", name))
	})
	return d.loadErr
}

// loadDriver opens the driver library and initializes the driver API
func (d *RuntimeDriver) loadDriver() error {
	d.driverOnce.Do(func() {
		lib, name, err := dlopenFirst(d.cfg.DriverLibraries)
		if err != nil {
			d.driverErr = fmt.Errorf("%w: %v", ErrUnsupported, err)
			return
		}
		for _, b := range []struct {
			fptr any
			name string
		}{
			{&d.cuInit, "cuInit"},
			{&d.cuDeviceGet, "cuDeviceGet"},
			{&d.cuDeviceGetAttribute, "cuDeviceGetAttribute"},
		} {
			if err := bind(b.fptr, lib, b.name); err != nil {
				d.driverErr = fmt.Errorf("%w: %s: %v", ErrUnsupported, name, err)
				return
			}
		}
		if r := d.cuInit(0); r != cuSuccess {
			d.driverErr = fmt.Errorf("cuInit: %w", r)
			return
		}
		d.logger.Debug("CUDA driver loaded", zap.String("library", name))
	})
	return d.driverErr
}

func (d *RuntimeDriver) DeviceCount() (int, error) {
	if err := d.load(); err != nil {
		return 0, err
	}
	var n int32
	if e := d.cudaGetDeviceCount(&n); e != cudaSuccess {
		// The runtime reports an absent device as an error; that is a count of zero.
		if e == cudaErrorNoDevice {
			return 0, nil
		}
		return 0, e
	}
	return int(n), nil
}

// CurrentDevice reports the device of the OS thread the calling goroutine runs on
func (d *RuntimeDriver) CurrentDevice() (int, error) {
	if err := d.load(); err != nil {
		return 0, err
	}
	var dev int32
	if e := d.cudaGetDevice(&dev); e != cudaSuccess {
		return 0, e
	}
	return int(dev), nil
}

func (d *RuntimeDriver) attribute(attr int32, device int) (int, error) {
	if err := d.load(); err != nil {
		return 0, err
	}
	var v int32
	if e := d.cudaDeviceGetAttribute(&v, attr, int32(device)); e != cudaSuccess {
		return 0, e
	}
	return int(v), nil
}

func (d *RuntimeDriver) ComputeCapability(device int) (int, int, error) {
	major, err := d.attribute(attrComputeCapabilityMajor, device)
	if err != nil {
		return 0, 0, err
	}
	minor, err := d.attribute(attrComputeCapabilityMinor, device)
	if err != nil {
		return 0, 0, err
	}
	return major, minor, nil
}

func (d *RuntimeDriver) MultiprocessorCount(device int) (int, error) {
	return d.attribute(attrMultiprocessorCount, device)
}

// StreamPriorityRange queries the range on device. The runtime only answers for the
// current device, so the thread switches to device and back while locked to the goroutine.
func (d *RuntimeDriver) StreamPriorityRange(device int) (low, high int, err error) {
	if err := d.load(); err != nil {
		return 0, 0, err
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var prev int32
	if e := d.cudaGetDevice(&prev); e != cudaSuccess {
		return 0, 0, e
	}
	if int(prev) != device {
		if e := d.cudaSetDevice(int32(device)); e != cudaSuccess {
			return 0, 0, e
		}
		defer func() {
			if e := d.cudaSetDevice(prev); e != cudaSuccess && err == nil {
				err = fmt.Errorf("restore device %d: %w", prev, e)
			}
		}()
	}

	var least, greatest int32
	if e := d.cudaDeviceGetStreamPriorityRange(&least, &greatest); e != cudaSuccess {
		return 0, 0, e
	}
	return int(least), int(greatest), nil
}

func (d *RuntimeDriver) MulticastSupported(device int) (bool, error) {
	version, err := d.RuntimeVersion()
	if err != nil {
		return false, err
	}
	if version < multicastMinRuntime {
		return false, ErrUnsupported
	}
	if err := d.loadDriver(); err != nil {
		return false, err
	}

	var dev int32
	if r := d.cuDeviceGet(&dev, int32(device)); r != cuSuccess {
		return false, r
	}
	var v int32
	if r := d.cuDeviceGetAttribute(&v, attrMulticastSupported, dev); r != cuSuccess {
		// Drivers predating the attribute reject it as an invalid value.
		if r == cuErrorInvalidValue {
			return false, ErrUnsupported
		}
		return false, r
	}
	return v != 0, nil
}

func (d *RuntimeDriver) RuntimeVersion() (int, error) {
	if err := d.load(); err != nil {
		return 0, err
	}
	var v int32
	if e := d.cudaRuntimeGetVersion(&v); e != cudaSuccess {
		return 0, e
	}
	return int(v), nil
}

// dlopenFirst opens the first library in names that loads
func dlopenFirst(names []string) (uintptr, string, error) {
	if len(names) == 0 {
		return 0, "", errors.New("no library names configured")
	}
	var errs []error
	for _, name := range names {
		lib, err := purego.Dlopen(name, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err == nil {
			return lib, name, nil
		}
		errs = append(errs, err)
	}
	return 0, "", errors.Join(errs...)
}

// bind registers fptr against symbol name, failing instead of panicking when it is missing
func bind(fptr any, lib uintptr, name string) error {
	if _, err := purego.Dlsym(lib, name); err != nil {
		return fmt.Errorf("resolve %s: %w", name, err)
	}
	purego.RegisterLibFunc(fptr, lib, name)
	return nil
}
