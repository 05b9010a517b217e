package amd64util

import (
	"errors"
	"fmt"

	"github.com/go-delve/regctx/pkg/proc"
)

var drNames = [...]string{"dr0", "dr1", "dr2", "dr3", "dr6", "dr7"}

const (
	dr6Idx = 4
	dr7Idx = 5

	eflagsTrap = 0x100
)

// DebugRegisterBank is a proc.RegisterBank for amd64 threads that also
// manages hardware breakpoints and watchpoints through the dr0-dr7
// registers of its table.
type DebugRegisterBank struct {
	*proc.RegisterBank
	table  *proc.RegisterTable
	drs    [len(drNames)]*proc.RegisterInfo
	eflags *proc.RegisterInfo
}

var _ proc.HardwareDebugger = &DebugRegisterBank{}

// NewDebugRegisterBank wraps bank. The table of bank must describe dr0,
// dr1, dr2, dr3, dr6 and dr7.
func NewDebugRegisterBank(table *proc.RegisterTable, bank *proc.RegisterBank) (*DebugRegisterBank, error) {
	b := &DebugRegisterBank{RegisterBank: bank, table: table}
	for i, name := range drNames {
		b.drs[i] = table.InfoByName(name, 0)
		if b.drs[i] == nil {
			return nil, fmt.Errorf("register table %s has no %s register", table.Arch(), name)
		}
	}
	b.eflags = table.InfoFor(proc.KindGeneric, proc.GenericFlags)
	return b, nil
}

// DebugRegisters returns the current contents of the debug registers.
func (b *DebugRegisterBank) DebugRegisters() (*DebugRegisters, error) {
	var vals [len(drNames)]uint64
	for i, info := range b.drs {
		var val proc.RegisterValue
		if err := b.ReadRegister(info, &val); err != nil {
			return nil, err
		}
		x, err := val.Uint64()
		if err != nil {
			return nil, err
		}
		vals[i] = x
	}
	drs := &DebugRegisters{DR6: vals[dr6Idx], DR7: vals[dr7Idx]}
	copy(drs.Addrs[:], vals[:NumDebugAddrRegisters])
	return drs, nil
}

// SetDebugRegisters writes drs back to the thread, if they changed.
func (b *DebugRegisterBank) SetDebugRegisters(drs *DebugRegisters) error {
	if !drs.Dirty {
		return nil
	}
	vals := [len(drNames)]uint64{drs.Addrs[0], drs.Addrs[1], drs.Addrs[2], drs.Addrs[3], drs.DR6, drs.DR7}
	for i, info := range b.drs {
		if err := b.writeUint(info, vals[i]); err != nil {
			return err
		}
	}
	drs.Dirty = false
	return nil
}

func (b *DebugRegisterBank) writeUint(info *proc.RegisterInfo, x uint64) error {
	var val proc.RegisterValue
	if err := val.SetUint(x, info.ByteSize, b.table.ByteOrder()); err != nil {
		return err
	}
	return b.WriteRegister(info, &val)
}

func (b *DebugRegisterBank) set(addr uint64, read, write bool, sz int) (int, error) {
	drs, err := b.DebugRegisters()
	if err != nil {
		return proc.InvalidHardwareIndex, err
	}
	for idx := 0; idx < NumDebugAddrRegisters; idx++ {
		if curaddr, curread, curwrite, cursz, ok := drs.Breakpoint(idx); ok && curaddr == addr && curread == read && curwrite == write && cursz == sz {
			return idx, nil
		}
	}
	idx, ok := drs.FreeSlot()
	if !ok {
		return proc.InvalidHardwareIndex, errors.New("hardware breakpoints exhausted")
	}
	if err := drs.SetBreakpoint(idx, addr, read, write, sz); err != nil {
		return proc.InvalidHardwareIndex, err
	}
	if err := b.SetDebugRegisters(drs); err != nil {
		return proc.InvalidHardwareIndex, err
	}
	return idx, nil
}

func (b *DebugRegisterBank) clear(idx int, watchpoint bool) bool {
	drs, err := b.DebugRegisters()
	if err != nil {
		return false
	}
	_, read, write, _, ok := drs.Breakpoint(idx)
	if !ok || (read || write) != watchpoint {
		return false
	}
	drs.ClearBreakpoint(idx)
	return b.SetDebugRegisters(drs) == nil
}

// NumSupportedHardwareBreakpoints implements proc.HardwareDebugger.
func (b *DebugRegisterBank) NumSupportedHardwareBreakpoints() int {
	return NumDebugAddrRegisters
}

// SetHardwareBreakpoint implements proc.HardwareDebugger. Execution
// breakpoints always cover a single byte.
func (b *DebugRegisterBank) SetHardwareBreakpoint(addr uint64, size int) (int, error) {
	return b.set(addr, false, false, 1)
}

// ClearHardwareBreakpoint implements proc.HardwareDebugger.
func (b *DebugRegisterBank) ClearHardwareBreakpoint(idx int) bool {
	return b.clear(idx, false)
}

// NumSupportedHardwareWatchpoints implements proc.HardwareDebugger.
// Watchpoints and breakpoints share the same slots.
func (b *DebugRegisterBank) NumSupportedHardwareWatchpoints() int {
	return NumDebugAddrRegisters
}

// SetHardwareWatchpoint implements proc.HardwareDebugger.
func (b *DebugRegisterBank) SetHardwareWatchpoint(addr uint64, size int, read, write bool) (int, error) {
	if !read && !write {
		return proc.InvalidHardwareIndex, errors.New("watchpoint must trigger on read or write")
	}
	return b.set(addr, read, write, size)
}

// ClearHardwareWatchpoint implements proc.HardwareDebugger.
func (b *DebugRegisterBank) ClearHardwareWatchpoint(idx int) bool {
	return b.clear(idx, true)
}

// HardwareSingleStep sets or clears the trap flag.
func (b *DebugRegisterBank) HardwareSingleStep(enable bool) bool {
	if b.eflags == nil {
		return false
	}
	var val proc.RegisterValue
	if err := b.ReadRegister(b.eflags, &val); err != nil {
		return false
	}
	flags, err := val.Uint64()
	if err != nil {
		return false
	}
	if enable {
		flags |= eflagsTrap
	} else {
		flags &^= eflagsTrap
	}
	return b.writeUint(b.eflags, flags) == nil
}
