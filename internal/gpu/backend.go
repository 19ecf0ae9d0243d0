package gpu

// DeviceInfo is a snapshot of the cached capability record of one device
type DeviceInfo struct {
	Ordinal           int           `json:"ordinal"`
	ComputeCapability int           `json:"computeCapability"` // major*10+minor
	Multiprocessors   int           `json:"multiprocessors"`
	StreamPriorities  PriorityRange `json:"streamPriorities"`
	Multicast         bool          `json:"multicast"`
}

// PriorityRange is the stream priority range of a device as reported by the runtime.
// Low is the least urgent priority and High the most urgent one; with CUDA the
// numeric value of High is usually smaller than Low.
type PriorityRange struct {
	Low  int `json:"low"`
	High int `json:"high"`
}

// Driver defines the device/driver query capability the Introspector sits in front of.
// The CUDA runtime is the production implementation; tests substitute fakes.
//
// Implementation notes:
// - Implementations must not cache; caching is owned by the Introspector
// - Every method may reach the platform runtime and block briefly
// - Implementations must be safe for concurrent use
// - Device ordinals passed in have already been validated against DeviceCount
type Driver interface {
	// DeviceCount returns the number of visible devices
	DeviceCount() (int, error)

	// CurrentDevice returns the ordinal of the device the calling thread currently uses
	CurrentDevice() (int, error)

	// ComputeCapability returns the major and minor compute capability revisions
	ComputeCapability(device int) (major, minor int, err error)

	// MultiprocessorCount returns the number of streaming multiprocessors
	MultiprocessorCount(device int) (int, error)

	// StreamPriorityRange returns the least and greatest stream priorities.
	// Implementations that must switch devices to answer restore the previous device.
	StreamPriorityRange(device int) (low, high int, err error)

	// MulticastSupported reports the multicast support flag.
	// Returns ErrUnsupported when the platform cannot report the flag at all.
	MulticastSupported(device int) (bool, error)

	// RuntimeVersion returns the version of the linked runtime library, e.g. 12040
	RuntimeVersion() (int, error)
}
