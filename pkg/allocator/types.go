package allocator

import (
	"fmt"

	"github.com/AccessibleAI/occupiedgpus/pkg/gpumgr"
)

// Mode decides when a device counts as free enough to claim.
type Mode int

const (
	// Passive claims only devices with no observable load.
	Passive Mode = iota
	// Forced claims any device with more than 1GB of slack, loaded or not.
	Forced
)

func ModeFromOptions(options int) Mode {
	if options != 0 {
		return Forced
	}
	return Passive
}

func (m Mode) String() string {
	switch m {
	case Passive:
		return "passive"
	case Forced:
		return "forced"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// Qualifies never holds for an Unavailable sample.
func (m Mode) Qualifies(s gpumgr.MemorySample) bool {
	if !s.Available() {
		return false
	}
	if m == Forced {
		return s.FreeGB > 1
	}
	return s.UsedGB == 0
}

// Launcher starts the background work for a freshly claimed device and returns right away.
type Launcher interface {
	Launch(deviceID, position, total int, sample gpumgr.MemorySample)
}

type LauncherFunc func(deviceID, position, total int, sample gpumgr.MemorySample)

func (f LauncherFunc) Launch(deviceID, position, total int, sample gpumgr.MemorySample) {
	f(deviceID, position, total, sample)
}

type Claim struct {
	DeviceID int
	Position int
	Pass     int
	Sample   gpumgr.MemorySample
}

type Result struct {
	Passes int
	Claims []Claim
}

// ClaimTable records claimed devices. An entry only ever goes from absent to true.
type ClaimTable map[int]bool

func (t ClaimTable) Claimed(deviceID int) bool {
	return t[deviceID]
}

func (t ClaimTable) Claim(deviceID int) bool {
	if t[deviceID] {
		return false
	}
	t[deviceID] = true
	return true
}
