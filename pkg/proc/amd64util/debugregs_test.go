package amd64util

import "testing"

func TestDebugRegistersSetClear(t *testing.T) {
	var drs DebugRegisters
	if err := drs.SetBreakpoint(1, 0x1000, false, true, 8); err != nil {
		t.Fatal(err)
	}
	if !drs.Dirty {
		t.Error("registers not marked dirty")
	}
	addr, read, write, sz, ok := drs.Breakpoint(1)
	if !ok || addr != 0x1000 || read || !write || sz != 8 {
		t.Fatalf("wrong breakpoint %#x %v %v %d %v", addr, read, write, sz, ok)
	}
	if drs.DR7 != 0x900004 {
		t.Errorf("wrong DR7 %#x", drs.DR7)
	}

	// same parameters are accepted, different ones aren't
	if err := drs.SetBreakpoint(1, 0x1000, false, true, 8); err != nil {
		t.Errorf("resetting same breakpoint: %v", err)
	}
	if err := drs.SetBreakpoint(1, 0x2000, false, true, 8); err == nil {
		t.Error("overwriting breakpoint in use did not fail")
	}

	if idx, ok := drs.FreeSlot(); !ok || idx != 0 {
		t.Errorf("wrong free slot %d %v", idx, ok)
	}
	if !drs.ClearBreakpoint(1) {
		t.Error("clear returned false")
	}
	if drs.ClearBreakpoint(1) {
		t.Error("second clear returned true")
	}
	if drs.DR7 != 0 || drs.Addrs[1] != 0 {
		t.Errorf("breakpoint not cleared %#x %#x", drs.DR7, drs.Addrs[1])
	}
}

func TestDebugRegistersInvalid(t *testing.T) {
	var drs DebugRegisters
	for _, tc := range []struct {
		idx         int
		addr        uint64
		read, write bool
		sz          int
	}{
		{4, 0x1000, false, true, 4},
		{0, 0x1000, true, false, 4},
		{0, 0x1000, false, true, 3},
		{0, 0x1000, false, false, 4},
		{0, 0x1002, false, true, 4},
	} {
		if err := drs.SetBreakpoint(tc.idx, tc.addr, tc.read, tc.write, tc.sz); err == nil {
			t.Errorf("SetBreakpoint(%d, %#x, %v, %v, %d) did not fail", tc.idx, tc.addr, tc.read, tc.write, tc.sz)
		}
	}
	if drs.Dirty {
		t.Error("failed calls changed registers")
	}
}

func TestDebugRegistersExhausted(t *testing.T) {
	var drs DebugRegisters
	for i := 0; i < NumDebugAddrRegisters; i++ {
		idx, ok := drs.FreeSlot()
		if !ok {
			t.Fatalf("no free slot at %d", i)
		}
		if err := drs.SetBreakpoint(idx, uint64(0x1000+i), false, false, 1); err != nil {
			t.Fatal(err)
		}
	}
	if _, ok := drs.FreeSlot(); ok {
		t.Error("free slot found with all registers in use")
	}
}

func TestDebugRegistersActive(t *testing.T) {
	var drs DebugRegisters
	if err := drs.SetBreakpoint(2, 0x4000, true, true, 4); err != nil {
		t.Fatal(err)
	}
	drs.Dirty = false
	if _, ok := drs.ActiveBreakpoint(); ok {
		t.Error("active breakpoint with empty DR6")
	}
	drs.DR6 = 1 << 2
	idx, ok := drs.ActiveBreakpoint()
	if !ok || idx != 2 {
		t.Fatalf("wrong active breakpoint %d %v", idx, ok)
	}
	if drs.DR6 != 0 || !drs.Dirty {
		t.Errorf("condition bits not reset %#x %v", drs.DR6, drs.Dirty)
	}
}
