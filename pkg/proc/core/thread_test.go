package core

import (
	"testing"

	"github.com/go-delve/regctx/pkg/proc"
)

func TestThreadFrames(t *testing.T) {
	_, th := newTestProcess(t, proc.AMD64Arch(), Config{})
	th.SetRegister("rip", 0x401000)
	th.SetRegister("rsp", 0x7ffc0000)
	th.SetCallers([]uint64{0x402000, 0x403000})

	frames := th.Frames()
	if len(frames) != 3 {
		t.Fatalf("wrong number of frames %d", len(frames))
	}
	for i, pc := range []uint64{0x401000, 0x402000, 0x403000} {
		if frames[i].PC() != pc || frames[i].Index() != i {
			t.Errorf("frame %d: pc %#x index %d", i, frames[i].PC(), frames[i].Index())
		}
	}

	rc, err := frames[2].RegisterContext()
	if err != nil {
		t.Fatal(err)
	}
	if rc.ConcreteFrameIndex() != 2 {
		t.Errorf("wrong frame index %d", rc.ConcreteFrameIndex())
	}
	if pc := rc.PC(0); pc != 0x403000 {
		t.Errorf("wrong pc in frame 2 %#x", pc)
	}
	if sp := rc.SP(0); sp != 0x7ffc0000 {
		t.Errorf("sp not copied to frame 2: %#x", sp)
	}

	// outer frames do not write through to the thread
	if err := rc.SetSP(0x1234); err != nil {
		t.Fatal(err)
	}
	thrc, _ := th.RegisterContext()
	if sp := thrc.SP(0); sp != 0x7ffc0000 {
		t.Errorf("frame 2 changed the thread sp: %#x", sp)
	}
}

func TestThreadSetPC(t *testing.T) {
	_, th := newTestProcess(t, proc.AMD64Arch(), Config{})
	th.SetRegister("rip", 0x401000)
	th.SetCallers([]uint64{0x402000})
	rc, _ := th.RegisterContext()

	frame0 := th.Frames()[0]
	if err := rc.SetPC(0x401010); err != nil {
		t.Fatal(err)
	}
	if frame0.PC() != 0x401010 {
		t.Errorf("frame pc not updated: %#x", frame0.PC())
	}
	if th.frames == nil {
		t.Error("frames discarded although frame 0 exists")
	}

	// a context for a frame the thread does not have discards all frames
	orphan := proc.NewRegisterContext(th, 5, th.table, th.raw, proc.RegisterContextConfig{})
	if err := orphan.SetPC(0x405000); err != nil {
		t.Fatal(err)
	}
	if th.frames != nil {
		t.Error("frames not discarded")
	}
}

func TestThreadSetRegisterErrors(t *testing.T) {
	_, th := newTestProcess(t, proc.AMD64Arch(), Config{})
	if err := th.SetRegister("nosuchreg", 1); err == nil {
		t.Error("unknown register accepted")
	}
	if err := th.SetRegister("al", 0x100); err == nil {
		t.Error("oversized value accepted")
	}
	if err := th.SetRegister("al", 0x7f); err != nil {
		t.Fatal(err)
	}
	rc, _ := th.RegisterContext()
	if x := rc.ReadRegisterAsUnsigned(rc.InfoByName("rax", 0), 0); x != 0x7f {
		t.Errorf("pseudo register did not write through: %#x", x)
	}
}

func TestThreadHardwareBreakpoints(t *testing.T) {
	_, th := newTestProcess(t, proc.AMD64Arch(), Config{})
	rc, _ := th.RegisterContext()
	if n := rc.NumSupportedHardwareBreakpoints(); n != 4 {
		t.Fatalf("wrong number of hardware breakpoints %d", n)
	}
	idx, err := rc.SetHardwareBreakpoint(0x401000, 1)
	if err != nil || idx != 0 {
		t.Fatalf("SetHardwareBreakpoint: %d %v", idx, err)
	}
	if x := rc.ReadRegisterAsUnsigned(rc.InfoByName("dr0", 0), 0); x != 0x401000 {
		t.Errorf("dr0 = %#x", x)
	}
	if !rc.ClearHardwareBreakpoint(idx) {
		t.Error("could not clear hardware breakpoint")
	}

	// arm64 threads have no debug registers in their table
	_, th64 := newTestProcess(t, proc.ARM64Arch(), Config{})
	rc64, _ := th64.RegisterContext()
	if n := rc64.NumSupportedHardwareBreakpoints(); n != 0 {
		t.Errorf("arm64 thread has %d hardware breakpoints", n)
	}
	if idx, err := rc64.SetHardwareBreakpoint(0x401000, 4); err == nil || idx != proc.InvalidHardwareIndex {
		t.Errorf("expected failure, got %d %v", idx, err)
	}
}

func TestThreadDynamicSize(t *testing.T) {
	p, th := newTestProcess(t, proc.MIPS64Arch(), Config{})
	rc, _ := th.RegisterContext()
	f0 := rc.InfoByName("f0", 0)

	if sz := rc.RegisterByteSize(f0); sz != 4 {
		t.Errorf("f0 with FR clear: %d bytes", sz)
	}
	th.SetRegister("sr", 1<<26)
	if sz := rc.RegisterByteSize(f0); sz != 8 {
		t.Errorf("f0 with FR set: %d bytes", sz)
	}

	// the resolved size is kept until the next stop
	copy(th.regs[rc.InfoByName("sr", 0).Offset:], make([]byte, 8))
	if sz := rc.RegisterByteSize(f0); sz != 8 {
		t.Errorf("size changed without a stop: %d bytes", sz)
	}
	p.Stop()
	if sz := rc.RegisterByteSize(f0); sz != 4 {
		t.Errorf("size not recomputed after stop: %d bytes", sz)
	}
}
