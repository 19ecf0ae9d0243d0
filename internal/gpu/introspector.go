package gpu

import (
	"errors"
	"fmt"
	"sync"

	"github.com/fxnlabs/devinfo/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// fact names a cached answer. Its metric handles are resolved once so that
// cache hits never go through a label lookup.
type fact struct {
	name     string
	hits     prometheus.Counter
	misses   prometheus.Counter
	queries  prometheus.Counter
	failures prometheus.Counter
}

func newFact(name string) *fact {
	return &fact{
		name:     name,
		hits:     metrics.CacheLookups.WithLabelValues(name, metrics.ResultHit),
		misses:   metrics.CacheLookups.WithLabelValues(name, metrics.ResultMiss),
		queries:  metrics.DriverQueries.WithLabelValues(name),
		failures: metrics.DriverQueryErrors.WithLabelValues(name),
	}
}

var (
	factDeviceCount         = newFact("device_count")
	factCurrentDevice       = newFact("current_device")
	factComputeCapability   = newFact("compute_capability")
	factMultiprocessorCount = newFact("multiprocessor_count")
	factStreamPriorityRange = newFact("stream_priority_range")
	factMulticast           = newFact("multicast")
	factRuntimeVersion      = newFact("runtime_version")
)

// processWide keys facts that do not depend on a device.
const processWide = -1

type cacheKey struct {
	device int
	fact   *fact
}

var deviceCountKey = cacheKey{processWide, factDeviceCount}

func (k cacheKey) String() string {
	return fmt.Sprintf("%s/%d", k.fact.name, k.device)
}

// Introspector answers device capability and runtime questions, caching every
// answer for the lifetime of the process. Safe for concurrent use.
//
// Each (device, fact) pair is queried from the Driver at most once: concurrent
// first requests share one in-flight query and later requests read the cached
// value without locking. Failed queries are not cached.
type Introspector struct {
	driver  Driver
	include *IncludeResolver
	logger  *zap.Logger

	entries sync.Map // cacheKey -> value
	flights singleflight.Group
}

// Option configures an Introspector
type Option func(*Introspector)

// WithLogger sets the logger used for cache population events
func WithLogger(logger *zap.Logger) Option {
	return func(in *Introspector) {
		if logger != nil {
			in.logger = logger
		}
	}
}

// WithIncludeResolver sets the resolver backing IncludeDirectory
func WithIncludeResolver(r *IncludeResolver) Option {
	return func(in *Introspector) {
		if r != nil {
			in.include = r
		}
	}
}

// NewIntrospector creates an Introspector querying driver on cache misses
func NewIntrospector(driver Driver, opts ...Option) *Introspector {
	in := &Introspector{
		driver: driver,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(in)
	}
	if in.include == nil {
		in.include = NewIncludeResolver(WithResolverLogger(in.logger))
	}
	return in
}

// cached returns the value stored under key, running query exactly once per key to populate it.
func cached[T any](in *Introspector, key cacheKey, query func() (T, error)) (T, error) {
	if v, ok := in.entries.Load(key); ok {
		key.fact.hits.Inc()
		return v.(T), nil
	}
	key.fact.misses.Inc()

	v, err, _ := in.flights.Do(key.String(), func() (any, error) {
		// A flight that finished between Load and Do has already stored the value.
		if v, ok := in.entries.Load(key); ok {
			return v, nil
		}
		key.fact.queries.Inc()
		v, err := query()
		if err != nil {
			key.fact.failures.Inc()
			in.logger.Warn("device query failed",
				zap.String("fact", key.fact.name),
				zap.Int("device", key.device),
				zap.Error(err))
			return nil, err
		}
		in.entries.Store(key, v)
		in.logger.Debug("cached device fact",
			zap.String("fact", key.fact.name),
			zap.Int("device", key.device),
			zap.Any("value", v))
		return v, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// DeviceCount returns the number of visible devices
func (in *Introspector) DeviceCount() (int, error) {
	return cached(in, deviceCountKey, func() (int, error) {
		n, err := in.driver.DeviceCount()
		if err != nil {
			return 0, &RuntimeQueryError{Op: "device count", Err: err}
		}
		if n < 0 {
			return 0, &RuntimeQueryError{Op: "device count", Err: fmt.Errorf("runtime reported %d devices", n)}
		}
		metrics.VisibleDevices.Set(float64(n))
		return n, nil
	})
}

// visibleDevices is DeviceCount without lookup metrics, used to validate ordinals
func (in *Introspector) visibleDevices() (int, error) {
	if v, ok := in.entries.Load(deviceCountKey); ok {
		return v.(int), nil
	}
	return in.DeviceCount()
}

// CurrentDevice returns the ordinal of the current device. It is never cached.
func (in *Introspector) CurrentDevice() (int, error) {
	count, err := in.DeviceCount()
	if err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, &RuntimeQueryError{Op: "current device", Err: ErrNoDevice}
	}

	factCurrentDevice.queries.Inc()
	id, err := in.driver.CurrentDevice()
	if err != nil {
		factCurrentDevice.failures.Inc()
		return 0, &RuntimeQueryError{Op: "current device", Err: err}
	}
	if id < 0 || id >= count {
		return 0, &RuntimeQueryError{
			Op:  "current device",
			Err: fmt.Errorf("runtime reported device %d outside [0, %d)", id, count),
		}
	}
	return id, nil
}

// resolve maps dev to a validated ordinal
func (in *Introspector) resolve(dev Device) (int, error) {
	id, explicit := dev.ID()
	if !explicit {
		return in.CurrentDevice()
	}
	if id < 0 {
		return 0, &InvalidDeviceError{Device: id, Count: -1}
	}
	count, err := in.visibleDevices()
	if err != nil {
		return 0, err
	}
	if id >= count {
		return 0, &InvalidDeviceError{Device: id, Count: count}
	}
	return id, nil
}

// ComputeCapability returns the compute capability of dev encoded as major*10+minor
func (in *Introspector) ComputeCapability(dev Device) (int, error) {
	id, err := in.resolve(dev)
	if err != nil {
		return 0, err
	}
	return cached(in, cacheKey{id, factComputeCapability}, func() (int, error) {
		major, minor, err := in.driver.ComputeCapability(id)
		if err != nil {
			return 0, &RuntimeQueryError{Op: fmt.Sprintf("compute capability of device %d", id), Err: err}
		}
		return major*10 + minor, nil
	})
}

// MultiprocessorCount returns the number of streaming multiprocessors of dev
func (in *Introspector) MultiprocessorCount(dev Device) (int, error) {
	id, err := in.resolve(dev)
	if err != nil {
		return 0, err
	}
	return cached(in, cacheKey{id, factMultiprocessorCount}, func() (int, error) {
		n, err := in.driver.MultiprocessorCount(id)
		if err != nil {
			return 0, &RuntimeQueryError{Op: fmt.Sprintf("multiprocessor count of device %d", id), Err: err}
		}
		return n, nil
	})
}

// StreamPriorityRange returns the least and greatest stream priorities of dev
func (in *Introspector) StreamPriorityRange(dev Device) (PriorityRange, error) {
	id, err := in.resolve(dev)
	if err != nil {
		return PriorityRange{}, err
	}
	return cached(in, cacheKey{id, factStreamPriorityRange}, func() (PriorityRange, error) {
		low, high, err := in.driver.StreamPriorityRange(id)
		if err != nil {
			return PriorityRange{}, &RuntimeQueryError{Op: fmt.Sprintf("stream priority range of device %d", id), Err: err}
		}
		return PriorityRange{Low: low, High: high}, nil
	})
}

// SupportsMulticast reports multicast support of dev.
// Platforms that cannot report the flag yield false rather than an error.
func (in *Introspector) SupportsMulticast(dev Device) (bool, error) {
	id, err := in.resolve(dev)
	if err != nil {
		return false, err
	}
	return cached(in, cacheKey{id, factMulticast}, func() (bool, error) {
		ok, err := in.driver.MulticastSupported(id)
		if errors.Is(err, ErrUnsupported) {
			return false, nil
		}
		if err != nil {
			return false, &RuntimeQueryError{Op: fmt.Sprintf("multicast support of device %d", id), Err: err}
		}
		return ok, nil
	})
}

// RuntimeVersion returns the version of the linked CUDA runtime, e.g. 12040
func (in *Introspector) RuntimeVersion() (int, error) {
	return cached(in, cacheKey{processWide, factRuntimeVersion}, func() (int, error) {
		v, err := in.driver.RuntimeVersion()
		if err != nil {
			return 0, &RuntimeQueryError{Op: "runtime version", Err: err}
		}
		return v, nil
	})
}

// IncludeDirectory returns the toolkit header directory.
// When nothing is found it returns "" or, if required, a *ConfigurationError.
func (in *Introspector) IncludeDirectory(required bool) (string, error) {
	return in.include.Resolve(required)
}

// Snapshot collects every per-device fact of dev
func (in *Introspector) Snapshot(dev Device) (DeviceInfo, error) {
	id, err := in.resolve(dev)
	if err != nil {
		return DeviceInfo{}, err
	}
	info := DeviceInfo{Ordinal: id}
	d := Ordinal(id)
	if info.ComputeCapability, err = in.ComputeCapability(d); err != nil {
		return DeviceInfo{}, err
	}
	if info.Multiprocessors, err = in.MultiprocessorCount(d); err != nil {
		return DeviceInfo{}, err
	}
	if info.StreamPriorities, err = in.StreamPriorityRange(d); err != nil {
		return DeviceInfo{}, err
	}
	if info.Multicast, err = in.SupportsMulticast(d); err != nil {
		return DeviceInfo{}, err
	}
	return info, nil
}
