package core

import (
	"errors"
	"testing"

	"github.com/go-delve/regctx/pkg/proc"
)

func newTestProcess(t *testing.T, arch *proc.Arch, cfg Config) (*Process, *Thread) {
	t.Helper()
	p, err := NewProcess(NewSession(), 100, arch, cfg)
	if err != nil {
		t.Fatal(err)
	}
	th, err := p.AddThread(101)
	if err != nil {
		t.Fatal(err)
	}
	return p, th
}

func TestProcessStopInvalidates(t *testing.T) {
	p, th := newTestProcess(t, proc.AMD64Arch(), Config{})
	rc, _ := th.RegisterContext()

	if err := th.SetRegister("rip", 0x401000); err != nil {
		t.Fatal(err)
	}
	if pc := rc.PC(0); pc != 0x401000 {
		t.Fatalf("wrong pc %#x", pc)
	}

	// change the registers behind the back of the context, they stay
	// cached until the process stops
	copy(th.regs[rc.InfoByName("rip", 0).Offset:], []byte{0x00, 0x20, 0x40, 0, 0, 0, 0, 0})
	if pc := rc.PC(0); pc != 0x401000 {
		t.Errorf("registers reloaded without a stop: %#x", pc)
	}
	p.Stop()
	if pc := rc.PC(0); pc != 0x402000 {
		t.Errorf("registers not reloaded after stop: %#x", pc)
	}
	if rc.StopID() != p.StopID() {
		t.Errorf("context stop %d, process stop %d", rc.StopID(), p.StopID())
	}
}

func TestProcessDetach(t *testing.T) {
	p, th := newTestProcess(t, proc.AMD64Arch(), Config{})
	rc, _ := th.RegisterContext()
	th.SetRegister("rsp", 0x7ffc0000)

	p.Detach()
	if _, err := th.Process(); !errors.Is(err, proc.ErrProcessGone) {
		t.Errorf("expected ErrProcessGone, got %v", err)
	}
	if !rc.InvalidateIfNeeded(false) {
		t.Error("context not invalidated after detach")
	}
	if rc.StopID() != proc.InvalidStopID {
		t.Errorf("wrong stop id %#x", rc.StopID())
	}
	if exe := rc.ExecutionContext(); exe.Process != nil {
		t.Error("execution context has a process")
	}
}

func TestProcessDuplicates(t *testing.T) {
	sess := NewSession()
	p, err := NewProcess(sess, 1, proc.ARM64Arch(), Config{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewProcess(sess, 1, proc.ARM64Arch(), Config{}); err == nil {
		t.Error("duplicate process accepted")
	}
	if _, err := p.AddThread(1); err != nil {
		t.Fatal(err)
	}
	if _, err := p.AddThread(1); !errors.Is(err, ErrThreadExists) {
		t.Errorf("expected ErrThreadExists, got %v", err)
	}
	p.AddThread(3)
	p.AddThread(2)
	var ids []int
	for _, th := range p.Threads() {
		ids = append(ids, th.ThreadID())
	}
	if len(ids) != 3 || ids[0] != 1 || ids[1] != 2 || ids[2] != 3 {
		t.Errorf("wrong thread order %v", ids)
	}
	if pids := sess.Pids(); len(pids) != 1 || pids[0] != 1 {
		t.Errorf("wrong pids %v", pids)
	}
}

func TestReadOnlyProcess(t *testing.T) {
	p, th := newTestProcess(t, proc.AMD64Arch(), Config{ReadOnly: true})
	p.AddMemory(0x1000, []byte{1, 2, 3, 4})
	rc, _ := th.RegisterContext()

	if err := th.SetRegister("rax", 42); err != nil {
		t.Fatalf("setting up a read only thread: %v", err)
	}
	if x := rc.ReadRegisterAsUnsigned(rc.InfoByName("rax", 0), 0); x != 42 {
		t.Errorf("wrong rax %d", x)
	}
	if err := rc.WriteRegisterFromUnsigned(rc.InfoByName("rax", 0), 1); !errors.Is(err, proc.ErrReadOnly) {
		t.Errorf("expected ErrReadOnly, got %v", err)
	}
	if _, err := p.WriteMemory(0x1000, []byte{0}); err != ErrWriteCore {
		t.Errorf("expected ErrWriteCore, got %v", err)
	}
	if _, err := rc.SetHardwareBreakpoint(0x401000, 1); err == nil {
		t.Error("hardware breakpoint set on read only process")
	}
}

func TestRegisterMemoryTransfer(t *testing.T) {
	p, th := newTestProcess(t, proc.AMD64Arch(), Config{})
	p.AddMemory(0x1000, make([]byte, 16))
	rc, _ := th.RegisterContext()
	rax := rc.InfoByName("rax", 0)
	th.SetRegister("rax", 0x1122334455667788)

	var val proc.RegisterValue
	if err := rc.ReadRegister(rax, &val); err != nil {
		t.Fatal(err)
	}
	if err := rc.WriteRegisterValueToMemory(rax, 0x1000, 8, &val); err != nil {
		t.Fatal(err)
	}
	var back proc.RegisterValue
	if err := rc.ReadRegisterValueFromMemory(rax, 0x1000, 8, &back); err != nil {
		t.Fatal(err)
	}
	if !back.Equal(&val) {
		t.Errorf("round trip mismatch %v %v", back, val)
	}

	err := rc.ReadRegisterValueFromMemory(rax, 0x100c, 8, &back)
	if !errors.Is(err, proc.ErrShortTransfer) {
		t.Errorf("expected short transfer, got %v", err)
	}
}
