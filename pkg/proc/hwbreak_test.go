package proc

import (
	"errors"
	"testing"
)

func TestHardwareDefaults(t *testing.T) {
	rc, _, _ := newTestContext(t, AMD64Arch(), RegisterContextConfig{})
	if n := rc.NumSupportedHardwareBreakpoints(); n != 0 {
		t.Errorf("%d hardware breakpoints", n)
	}
	if n := rc.NumSupportedHardwareWatchpoints(); n != 0 {
		t.Errorf("%d hardware watchpoints", n)
	}
	if idx, err := rc.SetHardwareBreakpoint(0x1000, 1); idx != InvalidHardwareIndex || !errors.Is(err, ErrHardwareUnsupported) {
		t.Errorf("SetHardwareBreakpoint: %d %v", idx, err)
	}
	if idx, err := rc.SetHardwareWatchpoint(0x1000, 8, false, true); idx != InvalidHardwareIndex || !errors.Is(err, ErrHardwareUnsupported) {
		t.Errorf("SetHardwareWatchpoint: %d %v", idx, err)
	}
	if rc.ClearHardwareBreakpoint(0) || rc.ClearHardwareWatchpoint(0) || rc.HardwareSingleStep(true) {
		t.Error("hardware operation succeeded")
	}
}

type fakeHardwareBackend struct {
	*mapBackend
	slots [4]uint64
	step  bool
}

func (b *fakeHardwareBackend) NumSupportedHardwareBreakpoints() int { return len(b.slots) }
func (b *fakeHardwareBackend) NumSupportedHardwareWatchpoints() int { return len(b.slots) }

func (b *fakeHardwareBackend) SetHardwareBreakpoint(addr uint64, size int) (int, error) {
	return b.SetHardwareWatchpoint(addr, size, false, false)
}

func (b *fakeHardwareBackend) SetHardwareWatchpoint(addr uint64, size int, read, write bool) (int, error) {
	for i := range b.slots {
		if b.slots[i] == 0 {
			b.slots[i] = addr
			return i, nil
		}
	}
	return InvalidHardwareIndex, errors.New("no free slot")
}

func (b *fakeHardwareBackend) ClearHardwareBreakpoint(idx int) bool {
	return b.ClearHardwareWatchpoint(idx)
}

func (b *fakeHardwareBackend) ClearHardwareWatchpoint(idx int) bool {
	if idx < 0 || idx >= len(b.slots) || b.slots[idx] == 0 {
		return false
	}
	b.slots[idx] = 0
	return true
}

func (b *fakeHardwareBackend) HardwareSingleStep(enable bool) bool {
	b.step = enable
	return true
}

func TestHardwareBackend(t *testing.T) {
	rc, th, _ := newTestContext(t, AMD64Arch(), RegisterContextConfig{})
	hw := &fakeHardwareBackend{mapBackend: newMapBackend()}
	hrc := NewRegisterContext(th, 0, rc.Table(), hw, RegisterContextConfig{})
	if n := hrc.NumSupportedHardwareBreakpoints(); n != 4 {
		t.Errorf("%d hardware breakpoints", n)
	}
	idx, err := hrc.SetHardwareBreakpoint(0x401000, 1)
	if err != nil || idx != 0 {
		t.Fatalf("SetHardwareBreakpoint: %d %v", idx, err)
	}
	if idx, _ := hrc.SetHardwareWatchpoint(0x601000, 8, true, true); idx != 1 {
		t.Errorf("watchpoint in slot %d", idx)
	}
	if !hrc.ClearHardwareBreakpoint(0) || hrc.ClearHardwareBreakpoint(0) {
		t.Error("ClearHardwareBreakpoint")
	}
	if !hrc.HardwareSingleStep(true) || !hw.step {
		t.Error("HardwareSingleStep")
	}
}
