package gpumgr

import "fmt"

const GiB uint64 = 1 << 30

// MemorySample is a whole-gigabyte snapshot of a device's memory at one polling instant.
type MemorySample struct {
	UsedGB int
	FreeGB int
}

// Unavailable is returned for device ids the host can't see.
var Unavailable = MemorySample{UsedGB: -1, FreeGB: -1}

func (s MemorySample) Available() bool {
	return s.UsedGB != -1
}

func (s MemorySample) String() string {
	if !s.Available() {
		return "unavailable"
	}
	return fmt.Sprintf("used=%dGB free=%dGB", s.UsedGB, s.FreeGB)
}

// NewMemorySample floor divides byte counts into GiB units.
func NewMemorySample(usedBytes, freeBytes uint64) MemorySample {
	return MemorySample{UsedGB: int(usedBytes / GiB), FreeGB: int(freeBytes / GiB)}
}

// StatusProvider answers memory queries for a device index.
// Out of range indexes yield Unavailable and no error, nothing is cached between calls.
type StatusProvider interface {
	Status(deviceID int) (MemorySample, error)
}
