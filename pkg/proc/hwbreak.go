package proc

import "errors"

// InvalidHardwareIndex is returned when a hardware breakpoint or watchpoint
// can not be installed.
const InvalidHardwareIndex = -1

// ErrHardwareUnsupported is returned by SetHardwareBreakpoint and
// SetHardwareWatchpoint when the backend has no debug registers.
var ErrHardwareUnsupported = errors.New("hardware breakpoints are not supported")

func (rc *RegisterContext) hardware() (HardwareDebugger, bool) {
	hw, ok := rc.backend.(HardwareDebugger)
	return hw, ok
}

// NumSupportedHardwareBreakpoints returns the number of hardware
// breakpoint slots of the thread.
func (rc *RegisterContext) NumSupportedHardwareBreakpoints() int {
	if hw, ok := rc.hardware(); ok {
		return hw.NumSupportedHardwareBreakpoints()
	}
	return 0
}

// SetHardwareBreakpoint installs a hardware breakpoint at addr and returns
// its slot.
func (rc *RegisterContext) SetHardwareBreakpoint(addr uint64, size int) (int, error) {
	if hw, ok := rc.hardware(); ok {
		return hw.SetHardwareBreakpoint(addr, size)
	}
	return InvalidHardwareIndex, ErrHardwareUnsupported
}

// ClearHardwareBreakpoint removes the hardware breakpoint in slot idx.
func (rc *RegisterContext) ClearHardwareBreakpoint(idx int) bool {
	if hw, ok := rc.hardware(); ok {
		return hw.ClearHardwareBreakpoint(idx)
	}
	return false
}

// NumSupportedHardwareWatchpoints returns the number of hardware
// watchpoint slots of the thread.
func (rc *RegisterContext) NumSupportedHardwareWatchpoints() int {
	if hw, ok := rc.hardware(); ok {
		return hw.NumSupportedHardwareWatchpoints()
	}
	return 0
}

// SetHardwareWatchpoint installs a hardware watchpoint on size bytes at
// addr and returns its slot.
func (rc *RegisterContext) SetHardwareWatchpoint(addr uint64, size int, read, write bool) (int, error) {
	if hw, ok := rc.hardware(); ok {
		return hw.SetHardwareWatchpoint(addr, size, read, write)
	}
	return InvalidHardwareIndex, ErrHardwareUnsupported
}

// ClearHardwareWatchpoint removes the hardware watchpoint in slot idx.
func (rc *RegisterContext) ClearHardwareWatchpoint(idx int) bool {
	if hw, ok := rc.hardware(); ok {
		return hw.ClearHardwareWatchpoint(idx)
	}
	return false
}

// HardwareSingleStep enables or disables hardware single stepping.
func (rc *RegisterContext) HardwareSingleStep(enable bool) bool {
	if hw, ok := rc.hardware(); ok {
		return hw.HardwareSingleStep(enable)
	}
	return false
}
