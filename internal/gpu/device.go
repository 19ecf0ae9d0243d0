package gpu

import "strconv"

// Device selects the device an accessor applies to. The zero value is Current.
type Device struct {
	ordinal  int
	explicit bool
}

// Current resolves to the calling thread's current device at call time.
var Current = Device{}

// Ordinal selects the device with the given ordinal.
func Ordinal(n int) Device {
	return Device{ordinal: n, explicit: true}
}

// ID returns the ordinal and whether one was given explicitly.
func (d Device) ID() (int, bool) {
	return d.ordinal, d.explicit
}

func (d Device) String() string {
	if !d.explicit {
		return "current"
	}
	return strconv.Itoa(d.ordinal)
}

// SplitComputeCapability decodes a major*10+minor compute capability.
func SplitComputeCapability(v int) (major, minor int) {
	return v / 10, v % 10
}

// SplitRuntimeVersion decodes a runtime version such as 12040 into 12 and 4.
func SplitRuntimeVersion(v int) (major, minor int) {
	return v / 1000, v % 1000 / 10
}
