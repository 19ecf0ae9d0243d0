package gpu_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fxnlabs/devinfo/internal/gpu"
	"github.com/fxnlabs/devinfo/internal/metrics"
	mockgpu "github.com/fxnlabs/devinfo/mocks/gpu"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestIntrospector_Memoization(t *testing.T) {
	drv := mockgpu.NewMockDriver(2)
	in := gpu.NewIntrospector(drv, gpu.WithLogger(zaptest.NewLogger(t)))

	for i := 0; i < 3; i++ {
		count, err := in.DeviceCount()
		require.NoError(t, err)
		assert.Equal(t, 2, count)

		for dev := 0; dev < 2; dev++ {
			cc, err := in.ComputeCapability(gpu.Ordinal(dev))
			require.NoError(t, err)
			assert.Equal(t, 90, cc)

			sms, err := in.MultiprocessorCount(gpu.Ordinal(dev))
			require.NoError(t, err)
			assert.Equal(t, 132, sms)

			prio, err := in.StreamPriorityRange(gpu.Ordinal(dev))
			require.NoError(t, err)
			assert.Equal(t, gpu.PriorityRange{Low: 0, High: -5}, prio)

			mc, err := in.SupportsMulticast(gpu.Ordinal(dev))
			require.NoError(t, err)
			assert.True(t, mc)
		}

		version, err := in.RuntimeVersion()
		require.NoError(t, err)
		assert.Equal(t, 12040, version)
	}

	drv.AssertNumberOfCalls(t, "DeviceCount", 1)
	drv.AssertNumberOfCalls(t, "RuntimeVersion", 1)
	drv.AssertNumberOfCalls(t, "ComputeCapability", 2)
	drv.AssertNumberOfCalls(t, "MultiprocessorCount", 2)
	drv.AssertNumberOfCalls(t, "StreamPriorityRange", 2)
	drv.AssertNumberOfCalls(t, "MulticastSupported", 2)
}

func TestIntrospector_SingleFlight(t *testing.T) {
	drv := new(mockgpu.MockDriver)
	drv.On("DeviceCount").Return(1, nil)
	// Hold the first query long enough for every goroutine to arrive while it is in flight.
	drv.On("MultiprocessorCount", 0).Return(108, nil).After(50 * time.Millisecond)
	in := gpu.NewIntrospector(drv)

	queries := metrics.DriverQueries.WithLabelValues("multiprocessor_count")
	before := testutil.ToFloat64(queries)

	const goroutines = 32
	var wg sync.WaitGroup
	start := make(chan struct{})
	results := make([]int, goroutines)
	errs := make([]error, goroutines)
	for i := 0; i < goroutines; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			results[i], errs[i] = in.MultiprocessorCount(gpu.Ordinal(0))
		}()
	}
	close(start)
	wg.Wait()

	for i := 0; i < goroutines; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, 108, results[i])
	}
	drv.AssertNumberOfCalls(t, "MultiprocessorCount", 1)
	drv.AssertNumberOfCalls(t, "DeviceCount", 1)
	assert.Equal(t, before+1, testutil.ToFloat64(queries))
}

func TestIntrospector_UnrelatedKeysPopulateConcurrently(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	drv := new(mockgpu.MockDriver)
	drv.On("DeviceCount").Return(2, nil)
	drv.On("MultiprocessorCount", 0).Return(108, nil).Run(func(mock.Arguments) {
		close(entered)
		<-release
	})
	drv.On("MultiprocessorCount", 1).Return(80, nil)
	in := gpu.NewIntrospector(drv)

	done := make(chan int, 1)
	go func() {
		n, _ := in.MultiprocessorCount(gpu.Ordinal(0))
		done <- n
	}()
	<-entered

	// Device 1 resolves while device 0 is still blocked in the driver.
	n, err := in.MultiprocessorCount(gpu.Ordinal(1))
	require.NoError(t, err)
	assert.Equal(t, 80, n)

	close(release)
	assert.Equal(t, 108, <-done)
}

func TestIntrospector_CacheLookupMetrics(t *testing.T) {
	in := gpu.NewIntrospector(mockgpu.NewMockDriver(1))

	hits := metrics.CacheLookups.WithLabelValues("multiprocessor_count", metrics.ResultHit)
	misses := metrics.CacheLookups.WithLabelValues("multiprocessor_count", metrics.ResultMiss)
	countHits := metrics.CacheLookups.WithLabelValues("device_count", metrics.ResultHit)
	hitsBefore := testutil.ToFloat64(hits)
	missesBefore := testutil.ToFloat64(misses)
	countHitsBefore := testutil.ToFloat64(countHits)

	for i := 0; i < 4; i++ {
		n, err := in.MultiprocessorCount(gpu.Ordinal(0))
		require.NoError(t, err)
		assert.Equal(t, 132, n)
	}

	assert.Equal(t, missesBefore+1, testutil.ToFloat64(misses))
	assert.Equal(t, hitsBefore+3, testutil.ToFloat64(hits))
	// Validating the ordinal reads the cached count without recording a lookup.
	assert.Equal(t, countHitsBefore, testutil.ToFloat64(countHits))
}

func TestIntrospector_InvalidDevice(t *testing.T) {
	t.Run("ordinal beyond count", func(t *testing.T) {
		drv := mockgpu.NewMockDriver(2)
		in := gpu.NewIntrospector(drv)

		for _, id := range []int{2, 3, 100} {
			_, err := in.ComputeCapability(gpu.Ordinal(id))
			var invalid *gpu.InvalidDeviceError
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, id, invalid.Device)
			assert.Equal(t, 2, invalid.Count)

			_, err = in.MultiprocessorCount(gpu.Ordinal(id))
			assert.ErrorAs(t, err, &invalid)
			_, err = in.StreamPriorityRange(gpu.Ordinal(id))
			assert.ErrorAs(t, err, &invalid)
			_, err = in.SupportsMulticast(gpu.Ordinal(id))
			assert.ErrorAs(t, err, &invalid)
		}

		drv.AssertNumberOfCalls(t, "DeviceCount", 1)
		drv.AssertNotCalled(t, "ComputeCapability", mock.Anything)
		drv.AssertNotCalled(t, "MultiprocessorCount", mock.Anything)
		drv.AssertNotCalled(t, "StreamPriorityRange", mock.Anything)
		drv.AssertNotCalled(t, "MulticastSupported", mock.Anything)
	})

	t.Run("negative ordinal", func(t *testing.T) {
		drv := mockgpu.NewMockDriver(2)
		in := gpu.NewIntrospector(drv)

		_, err := in.MultiprocessorCount(gpu.Ordinal(-1))
		var invalid *gpu.InvalidDeviceError
		require.ErrorAs(t, err, &invalid)
		assert.Equal(t, -1, invalid.Device)

		// Rejected before any driver call, including the device count.
		assert.Empty(t, drv.Calls)
	})
}

func TestIntrospector_CurrentDevice(t *testing.T) {
	t.Run("resolves current device at call time", func(t *testing.T) {
		drv := new(mockgpu.MockDriver)
		drv.On("DeviceCount").Return(2, nil)
		drv.On("CurrentDevice").Return(1, nil).Once()
		drv.On("CurrentDevice").Return(0, nil).Once()
		drv.On("ComputeCapability", 1).Return(8, 6, nil)
		drv.On("ComputeCapability", 0).Return(9, 0, nil)
		in := gpu.NewIntrospector(drv)

		cc, err := in.ComputeCapability(gpu.Current)
		require.NoError(t, err)
		assert.Equal(t, 86, cc)

		// The current device is not cached: the second call sees the switch to device 0.
		cc, err = in.ComputeCapability(gpu.Current)
		require.NoError(t, err)
		assert.Equal(t, 90, cc)
		drv.AssertNumberOfCalls(t, "CurrentDevice", 2)
	})

	t.Run("no devices visible", func(t *testing.T) {
		drv := mockgpu.NewMockDriver(0)
		in := gpu.NewIntrospector(drv)

		_, err := in.CurrentDevice()
		var rqe *gpu.RuntimeQueryError
		require.ErrorAs(t, err, &rqe)
		assert.ErrorIs(t, err, gpu.ErrNoDevice)

		_, err = in.MultiprocessorCount(gpu.Current)
		assert.ErrorAs(t, err, &rqe)

		_, err = in.MultiprocessorCount(gpu.Ordinal(0))
		var invalid *gpu.InvalidDeviceError
		assert.ErrorAs(t, err, &invalid)
		drv.AssertNotCalled(t, "CurrentDevice")
	})

	t.Run("runtime reports device out of range", func(t *testing.T) {
		drv := new(mockgpu.MockDriver)
		drv.On("DeviceCount").Return(1, nil)
		drv.On("CurrentDevice").Return(3, nil)
		in := gpu.NewIntrospector(drv)

		_, err := in.CurrentDevice()
		var rqe *gpu.RuntimeQueryError
		assert.ErrorAs(t, err, &rqe)
	})
}

func TestIntrospector_RuntimeErrors(t *testing.T) {
	t.Run("runtime unavailable", func(t *testing.T) {
		drv := new(mockgpu.MockDriver)
		drv.On("DeviceCount").Return(0, gpu.ErrRuntimeUnavailable)
		drv.On("RuntimeVersion").Return(0, gpu.ErrRuntimeUnavailable)
		in := gpu.NewIntrospector(drv)

		_, err := in.DeviceCount()
		var rqe *gpu.RuntimeQueryError
		require.ErrorAs(t, err, &rqe)
		assert.Equal(t, "device count", rqe.Op)
		assert.ErrorIs(t, err, gpu.ErrRuntimeUnavailable)

		_, err = in.CurrentDevice()
		assert.ErrorIs(t, err, gpu.ErrRuntimeUnavailable)

		_, err = in.RuntimeVersion()
		assert.ErrorAs(t, err, &rqe)
	})

	t.Run("failures are not cached", func(t *testing.T) {
		transient := errors.New("driver busy")
		drv := new(mockgpu.MockDriver)
		drv.On("DeviceCount").Return(1, nil)
		drv.On("MultiprocessorCount", 0).Return(0, transient).Once()
		drv.On("MultiprocessorCount", 0).Return(108, nil).Once()
		in := gpu.NewIntrospector(drv)

		_, err := in.MultiprocessorCount(gpu.Ordinal(0))
		assert.ErrorIs(t, err, transient)

		n, err := in.MultiprocessorCount(gpu.Ordinal(0))
		require.NoError(t, err)
		assert.Equal(t, 108, n)

		n, err = in.MultiprocessorCount(gpu.Ordinal(0))
		require.NoError(t, err)
		assert.Equal(t, 108, n)
		drv.AssertNumberOfCalls(t, "MultiprocessorCount", 2)
	})
}

func TestIntrospector_Multicast(t *testing.T) {
	t.Run("unsupported degrades to false", func(t *testing.T) {
		drv := new(mockgpu.MockDriver)
		drv.On("DeviceCount").Return(1, nil)
		drv.On("MulticastSupported", 0).Return(false, gpu.ErrUnsupported)
		in := gpu.NewIntrospector(drv)

		mc, err := in.SupportsMulticast(gpu.Ordinal(0))
		require.NoError(t, err)
		assert.False(t, mc)

		// The fallback is cached like any other answer.
		_, err = in.SupportsMulticast(gpu.Ordinal(0))
		require.NoError(t, err)
		drv.AssertNumberOfCalls(t, "MulticastSupported", 1)
	})

	t.Run("other driver errors propagate", func(t *testing.T) {
		drv := new(mockgpu.MockDriver)
		drv.On("DeviceCount").Return(1, nil)
		drv.On("MulticastSupported", 0).Return(false, errors.New("boom"))
		in := gpu.NewIntrospector(drv)

		_, err := in.SupportsMulticast(gpu.Ordinal(0))
		var rqe *gpu.RuntimeQueryError
		assert.ErrorAs(t, err, &rqe)
	})
}

func TestIntrospector_ComputeCapabilityEncoding(t *testing.T) {
	cases := []struct{ major, minor int }{{7, 0}, {7, 5}, {8, 0}, {8, 6}, {8, 9}, {9, 0}, {10, 0}, {12, 1}}
	for _, tc := range cases {
		drv := new(mockgpu.MockDriver)
		drv.On("DeviceCount").Return(1, nil)
		drv.On("ComputeCapability", 0).Return(tc.major, tc.minor, nil)
		in := gpu.NewIntrospector(drv)

		v, err := in.ComputeCapability(gpu.Ordinal(0))
		require.NoError(t, err)
		major, minor := gpu.SplitComputeCapability(v)
		assert.Equal(t, tc.major, major)
		assert.Equal(t, tc.minor, minor)
	}
}

func TestIntrospector_Snapshot(t *testing.T) {
	drv := mockgpu.NewMockDriver(2)
	in := gpu.NewIntrospector(drv)

	info, err := in.Snapshot(gpu.Ordinal(1))
	require.NoError(t, err)
	assert.Equal(t, gpu.DeviceInfo{
		Ordinal:           1,
		ComputeCapability: 90,
		Multiprocessors:   132,
		StreamPriorities:  gpu.PriorityRange{Low: 0, High: -5},
		Multicast:         true,
	}, info)

	info, err = in.Snapshot(gpu.Current)
	require.NoError(t, err)
	assert.Equal(t, 0, info.Ordinal)

	_, err = in.Snapshot(gpu.Ordinal(2))
	var invalid *gpu.InvalidDeviceError
	assert.ErrorAs(t, err, &invalid)
}

func TestDefault(t *testing.T) {
	drv := mockgpu.NewMockDriver(4)
	in := gpu.NewIntrospector(drv)
	prev := gpu.SetDefault(in)
	defer gpu.SetDefault(prev)

	assert.Same(t, in, gpu.Default())

	count, err := gpu.DeviceCount()
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	dev, err := gpu.CurrentDevice()
	require.NoError(t, err)
	assert.Equal(t, 0, dev)

	cc, err := gpu.ComputeCapability(gpu.Ordinal(3))
	require.NoError(t, err)
	assert.Equal(t, 90, cc)

	sms, err := gpu.MultiprocessorCount(gpu.Current)
	require.NoError(t, err)
	assert.Equal(t, 132, sms)

	prio, err := gpu.StreamPriorityRange(gpu.Current)
	require.NoError(t, err)
	assert.Equal(t, -5, prio.High)

	mc, err := gpu.SupportsMulticast(gpu.Current)
	require.NoError(t, err)
	assert.True(t, mc)

	version, err := gpu.RuntimeVersion()
	require.NoError(t, err)
	assert.Equal(t, 12040, version)

	_, err = gpu.IncludeDirectory(false)
	assert.NoError(t, err)
}
