package amd64util

import (
	"testing"

	"github.com/go-delve/regctx/pkg/proc"
)

func newTestDebugBank(t *testing.T) (*DebugRegisterBank, []byte) {
	t.Helper()
	table := proc.AMD64Arch().RegisterTable()
	regs := make([]byte, table.BankSize())
	bank := proc.NewRegisterBank(table, proc.RegisterBankConfig{
		Load:  func(data []byte) error { copy(data, regs); return nil },
		Store: func(data []byte) error { copy(regs, data); return nil },
	})
	b, err := NewDebugRegisterBank(table, bank)
	if err != nil {
		t.Fatal(err)
	}
	return b, regs
}

func TestDebugRegisterBankBreakpoints(t *testing.T) {
	b, _ := newTestDebugBank(t)

	bp, err := b.SetHardwareBreakpoint(0x401000, 1)
	if err != nil || bp != 0 {
		t.Fatalf("SetHardwareBreakpoint: %d %v", bp, err)
	}
	wp, err := b.SetHardwareWatchpoint(0x602000, 8, false, true)
	if err != nil || wp != 1 {
		t.Fatalf("SetHardwareWatchpoint: %d %v", wp, err)
	}
	if again, _ := b.SetHardwareWatchpoint(0x602000, 8, false, true); again != wp {
		t.Errorf("same watchpoint got a new slot %d", again)
	}

	drs, err := b.DebugRegisters()
	if err != nil {
		t.Fatal(err)
	}
	if drs.Addrs[0] != 0x401000 || drs.Addrs[1] != 0x602000 {
		t.Errorf("wrong addresses %#x", drs.Addrs)
	}

	if b.ClearHardwareBreakpoint(wp) {
		t.Error("watchpoint cleared as a breakpoint")
	}
	if b.ClearHardwareWatchpoint(bp) {
		t.Error("breakpoint cleared as a watchpoint")
	}
	if !b.ClearHardwareWatchpoint(wp) || !b.ClearHardwareBreakpoint(bp) {
		t.Error("could not clear slots")
	}
	drs, _ = b.DebugRegisters()
	if drs.DR7 != 0 {
		t.Errorf("DR7 not cleared: %#x", drs.DR7)
	}
}

func TestDebugRegisterBankExhausted(t *testing.T) {
	b, _ := newTestDebugBank(t)
	for i := 0; i < b.NumSupportedHardwareWatchpoints(); i++ {
		if _, err := b.SetHardwareWatchpoint(uint64(0x1000+8*i), 8, true, true); err != nil {
			t.Fatal(err)
		}
	}
	idx, err := b.SetHardwareBreakpoint(0x401000, 1)
	if err == nil || idx != proc.InvalidHardwareIndex {
		t.Errorf("expected failure, got %d %v", idx, err)
	}
	if _, err := b.SetHardwareWatchpoint(0x2000, 4, false, false); err == nil {
		t.Error("watchpoint without access type accepted")
	}
}

func TestDebugRegisterBankSingleStep(t *testing.T) {
	b, _ := newTestDebugBank(t)
	table := proc.AMD64Arch().RegisterTable()
	rflags := table.InfoByName("rflags", 0)

	read := func() uint64 {
		var val proc.RegisterValue
		if err := b.ReadRegister(rflags, &val); err != nil {
			t.Fatal(err)
		}
		x, _ := val.Uint64()
		return x
	}

	if !b.HardwareSingleStep(true) {
		t.Fatal("could not enable single stepping")
	}
	if read()&eflagsTrap == 0 {
		t.Error("trap flag not set")
	}
	if !b.HardwareSingleStep(false) {
		t.Fatal("could not disable single stepping")
	}
	if read()&eflagsTrap != 0 {
		t.Error("trap flag not cleared")
	}
}

func TestNewDebugRegisterBankMissingRegisters(t *testing.T) {
	table := proc.ARM64Arch().RegisterTable()
	bank := proc.NewRegisterBank(table, proc.RegisterBankConfig{})
	if _, err := NewDebugRegisterBank(table, bank); err == nil {
		t.Error("table without debug registers accepted")
	}
}
