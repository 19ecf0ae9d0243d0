package gpu

import (
	"github.com/fxnlabs/devinfo/internal/gpu"
	"github.com/stretchr/testify/mock"
)

// MockDriver is a testify mock of gpu.Driver
type MockDriver struct {
	mock.Mock
}

var _ gpu.Driver = (*MockDriver)(nil)

func (m *MockDriver) DeviceCount() (int, error) {
	args := m.Called()
	return args.Int(0), args.Error(1)
}

func (m *MockDriver) CurrentDevice() (int, error) {
	args := m.Called()
	return args.Int(0), args.Error(1)
}

func (m *MockDriver) ComputeCapability(device int) (int, int, error) {
	args := m.Called(device)
	return args.Int(0), args.Int(1), args.Error(2)
}

func (m *MockDriver) MultiprocessorCount(device int) (int, error) {
	args := m.Called(device)
	return args.Int(0), args.Error(1)
}

func (m *MockDriver) StreamPriorityRange(device int) (int, int, error) {
	args := m.Called(device)
	return args.Int(0), args.Int(1), args.Error(2)
}

func (m *MockDriver) MulticastSupported(device int) (bool, error) {
	args := m.Called(device)
	return args.Bool(0), args.Error(1)
}

func (m *MockDriver) RuntimeVersion() (int, error) {
	args := m.Called()
	return args.Int(0), args.Error(1)
}

// NewMockDriver returns a MockDriver reporting count identical devices.
// Every expectation may be called any number of times; tests needing call
// counts assert them with AssertNumberOfCalls.
func NewMockDriver(count int) *MockDriver {
	m := new(MockDriver)
	m.On("DeviceCount").Return(count, nil)
	m.On("CurrentDevice").Return(0, nil)
	m.On("RuntimeVersion").Return(12040, nil)
	for i := 0; i < count; i++ {
		m.On("ComputeCapability", i).Return(9, 0, nil)
		m.On("MultiprocessorCount", i).Return(132, nil)
		m.On("StreamPriorityRange", i).Return(0, -5, nil)
		m.On("MulticastSupported", i).Return(true, nil)
	}
	return m
}
