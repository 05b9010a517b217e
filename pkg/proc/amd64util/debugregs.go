package amd64util

import (
	"errors"
	"fmt"
)

// NumDebugAddrRegisters is the number of debug address registers, DR0
// through DR3.
const NumDebugAddrRegisters = 4

// DebugRegisters represents x86 debug registers described in the Intel 64
// and IA-32 Architectures Software Developer's Manual, Vol. 3B, section
// 17.2
type DebugRegisters struct {
	Addrs    [NumDebugAddrRegisters]uint64
	DR6, DR7 uint64
	// Dirty is set when the registers have changed since they were loaded.
	Dirty bool
}

func lenrwBitsOffset(idx int) uint {
	return 16 + uint(idx)*4
}

func enableBitOffset(idx int) uint {
	return uint(idx) * 2
}

// Enabled returns true if the debug address register idx is in use.
func (drs *DebugRegisters) Enabled(idx int) bool {
	if idx < 0 || idx >= NumDebugAddrRegisters {
		return false
	}
	return drs.DR7&(1<<enableBitOffset(idx)) != 0
}

// Breakpoint returns the settings of the hardware breakpoint in slot idx.
// Execution breakpoints have neither read nor write set.
func (drs *DebugRegisters) Breakpoint(idx int) (addr uint64, read, write bool, sz int, ok bool) {
	if !drs.Enabled(idx) {
		return 0, false, false, 0, false
	}
	addr = drs.Addrs[idx]
	lenrw := (drs.DR7 >> lenrwBitsOffset(idx)) & 0xf
	write = (lenrw & 0x1) != 0
	read = (lenrw & 0x2) != 0
	switch lenrw >> 2 {
	case 0x0:
		sz = 1
	case 0x1:
		sz = 2
	case 0x2:
		sz = 8 // sic
	case 0x3:
		sz = 4
	}
	return addr, read, write, sz, true
}

// FreeSlot returns the first debug address register not in use.
func (drs *DebugRegisters) FreeSlot() (int, bool) {
	for idx := 0; idx < NumDebugAddrRegisters; idx++ {
		if !drs.Enabled(idx) {
			return idx, true
		}
	}
	return -1, false
}

// SetBreakpoint sets hardware breakpoint at index 'idx' to the specified
// address, read/write flags and size. A breakpoint with neither read nor
// write set triggers on instruction execution and must have size 1.
// If the breakpoint is already in use but the parameters match it does
// nothing.
func (drs *DebugRegisters) SetBreakpoint(idx int, addr uint64, read, write bool, sz int) error {
	if idx < 0 || idx >= NumDebugAddrRegisters {
		return fmt.Errorf("hardware breakpoints exhausted")
	}
	if curaddr, curread, curwrite, cursz, ok := drs.Breakpoint(idx); ok {
		if (curaddr != addr) || (curread != read) || (curwrite != write) || (cursz != sz) {
			return fmt.Errorf("hardware breakpoint %d already in use (address %#x)", idx, curaddr)
		}
		// hardware breakpoint already set
		return nil
	}

	if read && !write {
		return errors.New("break on read only not supported")
	}

	var lenrw uint64
	if write {
		lenrw |= 0x1
	}
	if read {
		lenrw |= 0x2
	}
	switch sz {
	case 1:
		// already ok
	case 2:
		lenrw |= 0x1 << 2
	case 4:
		lenrw |= 0x3 << 2
	case 8:
		lenrw |= 0x2 << 2
	default:
		return fmt.Errorf("data breakpoint of size %d not supported", sz)
	}
	if lenrw&0x3 == 0 && sz != 1 {
		return fmt.Errorf("execution breakpoint of size %d not supported", sz)
	}
	if sz > 1 && addr%uint64(sz) != 0 {
		return fmt.Errorf("address %#x is not aligned to %d bytes", addr, sz)
	}
	drs.Addrs[idx] = addr
	drs.DR7 &^= (0xf << lenrwBitsOffset(idx)) // clear old settings
	drs.DR7 |= lenrw << lenrwBitsOffset(idx)
	drs.DR7 |= 1 << enableBitOffset(idx) // enable
	drs.Dirty = true
	return nil
}

// ClearBreakpoint disables the hardware breakpoint at index 'idx'. It
// returns false if the breakpoint was already disabled.
func (drs *DebugRegisters) ClearBreakpoint(idx int) bool {
	if !drs.Enabled(idx) {
		return false
	}
	drs.DR7 &^= (1 << enableBitOffset(idx))
	drs.DR7 &^= (0xf << lenrwBitsOffset(idx))
	drs.Addrs[idx] = 0
	drs.Dirty = true
	return true
}

// ActiveBreakpoint returns the hardware breakpoint that stopped the thread
// and resets the condition flags.
func (drs *DebugRegisters) ActiveBreakpoint() (idx int, ok bool) {
	for idx := 0; idx < NumDebugAddrRegisters; idx++ {
		if !drs.Enabled(idx) {
			continue
		}
		if drs.DR6&(1<<uint(idx)) != 0 {
			drs.DR6 &^= 0xf // it is our responsibility to clear the condition bits
			drs.Dirty = true
			return idx, true
		}
	}
	return 0, false
}
