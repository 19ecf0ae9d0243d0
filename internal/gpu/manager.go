package gpu

import (
	"sync"

	"github.com/fxnlabs/devinfo/internal/config"
)

// The process-wide Introspector. Built lazily on first use from the CUDA runtime
// driver and the default configuration, and kept until process exit.
var (
	defaultMu           sync.RWMutex
	defaultIntrospector *Introspector
)

// Default returns the process-wide Introspector
func Default() *Introspector {
	defaultMu.RLock()
	in := defaultIntrospector
	defaultMu.RUnlock()
	if in != nil {
		return in
	}

	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultIntrospector == nil {
		cfg := config.Default()
		defaultIntrospector = NewIntrospector(
			NewRuntimeDriver(cfg.Runtime, nil),
			WithIncludeResolver(NewIncludeResolverFromConfig(cfg.Toolkit)),
		)
	}
	return defaultIntrospector
}

// SetDefault replaces the process-wide Introspector and returns the previous one.
// Passing nil makes the next Default call build a fresh runtime-backed one.
func SetDefault(in *Introspector) *Introspector {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	prev := defaultIntrospector
	defaultIntrospector = in
	return prev
}

// DeviceCount returns the number of visible devices
func DeviceCount() (int, error) {
	return Default().DeviceCount()
}

// CurrentDevice returns the ordinal of the current device
func CurrentDevice() (int, error) {
	return Default().CurrentDevice()
}

// ComputeCapability returns major*10+minor for dev
func ComputeCapability(dev Device) (int, error) {
	return Default().ComputeCapability(dev)
}

// MultiprocessorCount returns the SM count of dev
func MultiprocessorCount(dev Device) (int, error) {
	return Default().MultiprocessorCount(dev)
}

// StreamPriorityRange returns the stream priority range of dev
func StreamPriorityRange(dev Device) (PriorityRange, error) {
	return Default().StreamPriorityRange(dev)
}

// SupportsMulticast reports multicast support of dev
func SupportsMulticast(dev Device) (bool, error) {
	return Default().SupportsMulticast(dev)
}

// IncludeDirectory returns the CUDA toolkit header directory
func IncludeDirectory(required bool) (string, error) {
	return Default().IncludeDirectory(required)
}

// RuntimeVersion returns the linked CUDA runtime version
func RuntimeVersion() (int, error) {
	return Default().RuntimeVersion()
}
