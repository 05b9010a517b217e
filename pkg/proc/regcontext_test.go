package proc

import (
	"errors"
	"testing"
)

func TestInvalidateIfNeeded(t *testing.T) {
	rc, th, tgt := newTestContext(t, AMD64Arch(), RegisterContextConfig{})
	tgt.regs[0] = 0x42 // rax

	if got := mustRead(t, rc, "rax"); got != 0x42 {
		t.Fatalf("rax = %#x", got)
	}
	mustRead(t, rc, "rbx")
	if tgt.loads != 1 {
		t.Fatalf("registers loaded %d times in the same stop", tgt.loads)
	}

	// the thread state changes behind our back, without a stop the cached
	// value is still returned
	tgt.regs[0] = 0x43
	if got := mustRead(t, rc, "rax"); got != 0x42 {
		t.Fatalf("rax = %#x, expected cached value", got)
	}

	th.proc.stopID++
	if got := mustRead(t, rc, "rax"); got != 0x43 {
		t.Fatalf("rax = %#x after stop", got)
	}
	if rc.StopID() != th.proc.stopID {
		t.Errorf("stop ID %d, expected %d", rc.StopID(), th.proc.stopID)
	}

	if rc.InvalidateIfNeeded(false) {
		t.Error("invalidated without a stop")
	}
	if !rc.InvalidateIfNeeded(true) {
		t.Error("forced invalidation did not happen")
	}
	if rc.InvalidateIfNeeded(false) {
		t.Error("second invalidation in the same stop")
	}

	th.gone = true
	if !rc.InvalidateIfNeeded(false) {
		t.Error("not invalidated after process exit")
	}
	if rc.StopID() != InvalidStopID {
		t.Errorf("stop ID %#x after process exit", rc.StopID())
	}
}

func TestReadWriteUnsigned(t *testing.T) {
	rc, _, tgt := newTestContext(t, AMD64Arch(), RegisterContextConfig{})

	mustWrite(t, rc, "rax", 0x1122334455667788)
	if got := mustRead(t, rc, "rax"); got != 0x1122334455667788 {
		t.Fatalf("rax = %#x", got)
	}
	if tgt.regs[0] != 0x88 || tgt.regs[7] != 0x11 {
		t.Fatalf("rax not stored little endian: % x", tgt.regs[:8])
	}
	if got := mustRead(t, rc, "eax"); got != 0x55667788 {
		t.Errorf("eax = %#x", got)
	}
	if got := mustRead(t, rc, "al"); got != 0x88 {
		t.Errorf("al = %#x", got)
	}

	mustWrite(t, rc, "eax", 0xdeadbeef)
	if got := mustRead(t, rc, "rax"); got != 0x11223344deadbeef {
		t.Errorf("rax = %#x after writing eax", got)
	}

	err := rc.WriteRegisterFromUnsigned(mustInfo(t, rc, "ax"), 0x10000)
	if err == nil {
		t.Error("value larger than ax accepted")
	}
	if got := mustRead(t, rc, "rax"); got != 0x11223344deadbeef {
		t.Errorf("rax = %#x after failed write", got)
	}

	idx := rc.ConvertKindToNumber(KindNative, amd64NativeRbx)
	if err := rc.WriteRegisterIndexFromUnsigned(idx, 7); err != nil {
		t.Fatal(err)
	}
	if got := rc.ReadRegisterIndexAsUnsigned(idx, 0); got != 7 {
		t.Errorf("rbx = %d", got)
	}
	if got := rc.ReadRegisterKindAsUnsigned(KindDWARF, 3, 0); got != 7 {
		t.Errorf("DWARF register 3 = %d", got)
	}
}

func TestWriteTooLarge(t *testing.T) {
	rc, _, _ := newTestContext(t, AMD64Arch(), RegisterContextConfig{})
	var val RegisterValue
	if err := val.SetBytes(make([]byte, 9), rc.Table().ByteOrder()); err != nil {
		t.Fatal(err)
	}
	err := rc.WriteRegister(mustInfo(t, rc, "rax"), &val)
	if !errors.Is(err, ErrRegisterTooSmall) {
		t.Errorf("expected ErrRegisterTooSmall, got %v", err)
	}
}

func TestUnknownRegister(t *testing.T) {
	rc, _, _ := newTestContext(t, AMD64Arch(), RegisterContextConfig{})
	var val RegisterValue
	if err := rc.ReadRegister(nil, &val); !errors.Is(err, ErrUnknownRegister) {
		t.Errorf("ReadRegister(nil): %v", err)
	}
	if err := rc.WriteRegisterIndexFromUnsigned(InvalidRegNum, 1); !errors.Is(err, ErrUnknownRegister) {
		t.Errorf("WriteRegisterIndexFromUnsigned(invalid): %v", err)
	}
	if got := rc.ReadRegisterAsUnsigned(nil, 7); got != 7 {
		t.Errorf("ReadRegisterAsUnsigned(nil) = %d", got)
	}
	if got := rc.ReadRegisterIndexAsUnsigned(InvalidRegNum, 5); got != 5 {
		t.Errorf("ReadRegisterIndexAsUnsigned(invalid) = %d", got)
	}
	if got := rc.ReadRegisterIndexAsUnsigned(uint32(rc.RegisterCount()), 5); got != 5 {
		t.Errorf("ReadRegisterIndexAsUnsigned(count) = %d", got)
	}
	if rc.InfoAtIndex(-1) != nil || rc.InfoAtIndex(rc.RegisterCount()) != nil {
		t.Error("out of range register found")
	}
	if rc.RegisterName(rc.RegisterCount()) != "" {
		t.Error("out of range register has a name")
	}
	// values wider than 8 bytes can not be read as integers
	if got := rc.ReadRegisterAsUnsigned(mustInfo(t, rc, "xmm0"), 9); got != 9 {
		t.Errorf("xmm0 as unsigned = %d", got)
	}
}

func TestReadFailure(t *testing.T) {
	rc, _, tgt := newTestContext(t, AMD64Arch(), RegisterContextConfig{})
	tgt.loadErr = errors.New("thread is running")
	if got := rc.PC(0xbad); got != 0xbad {
		t.Errorf("PC = %#x", got)
	}
	var val RegisterValue
	err := rc.ReadRegister(mustInfo(t, rc, "rip"), &val)
	if !errors.Is(err, tgt.loadErr) {
		t.Errorf("unexpected error %v", err)
	}
}

func TestGenericRegisters(t *testing.T) {
	rc, _, _ := newTestContext(t, AMD64Arch(), RegisterContextConfig{})
	mustWrite(t, rc, "rip", 0x401000)
	mustWrite(t, rc, "rsp", 0x7ff000)
	mustWrite(t, rc, "rbp", 0x7ff010)
	mustWrite(t, rc, "rflags", 0x246)

	if got := rc.PC(0); got != 0x401000 {
		t.Errorf("PC = %#x", got)
	}
	if got := rc.SP(0); got != 0x7ff000 {
		t.Errorf("SP = %#x", got)
	}
	if got := rc.FP(0); got != 0x7ff010 {
		t.Errorf("FP = %#x", got)
	}
	if got := rc.Flags(0); got != 0x246 {
		t.Errorf("Flags = %#x", got)
	}
	if got := rc.ReturnAddress(0xfeed); got != 0xfeed {
		t.Errorf("ReturnAddress = %#x on an architecture without a return address register", got)
	}

	if err := rc.SetSP(0x1000); err != nil {
		t.Fatal(err)
	}
	if err := rc.SetFP(0x2000); err != nil {
		t.Fatal(err)
	}
	if mustRead(t, rc, "sp") != 0x1000 || mustRead(t, rc, "fp") != 0x2000 {
		t.Error("SetSP/SetFP did not change rsp/rbp")
	}

	arm, _, _ := newTestContext(t, ARM64Arch(), RegisterContextConfig{})
	mustWrite(t, arm, "lr", 0x1234)
	if got := arm.ReturnAddress(0); got != 0x1234 {
		t.Errorf("arm64 ReturnAddress = %#x", got)
	}
	if got := mustRead(t, arm, "x30"); got != 0x1234 {
		t.Errorf("x30 = %#x", got)
	}
}

func TestSetPC(t *testing.T) {
	rc, th, _ := newTestContext(t, AMD64Arch(), RegisterContextConfig{})
	if err := rc.SetPC(0x401234); err != nil {
		t.Fatal(err)
	}
	if !th.frames[0].changed || th.frames[0].pc != 0x401234 {
		t.Errorf("frame not updated: %#v", th.frames[0])
	}
	if th.cleared {
		t.Error("stack frames cleared")
	}

	// a context whose frame does not exist anymore
	other, _ := newFrameContext(th, 5, rc.Table(), RegisterContextConfig{})
	if err := other.SetPC(0x500000); err != nil {
		t.Fatal(err)
	}
	if !th.cleared {
		t.Error("stack frames not cleared")
	}
}

type thumbThread struct {
	*fakeThread
}

func (thumbThread) OpcodeLoadAddress(pc uint64) uint64 { return pc &^ 1 }

func TestOpcodeAddressFilter(t *testing.T) {
	table := ARM64Arch().RegisterTable()
	th := thumbThread{&fakeThread{id: 1, proc: newFakeProcess(table.ByteOrder())}}
	tgt := &fakeTarget{regs: make([]byte, table.BankSize())}
	rc := NewRegisterContext(th, 0, table, NewRegisterBank(table, RegisterBankConfig{Load: tgt.load, Store: tgt.store}), RegisterContextConfig{})
	mustWrite(t, rc, "pc", 0x8001)
	if got := rc.PC(0); got != 0x8000 {
		t.Errorf("PC = %#x", got)
	}
	if got := rc.PC(0xffff); got != 0x8000 {
		t.Errorf("PC = %#x", got)
	}
}

func TestReadOnlyBackend(t *testing.T) {
	table := AMD64Arch().RegisterTable()
	th := &fakeThread{id: 1, proc: newFakeProcess(table.ByteOrder())}
	tgt := &fakeTarget{regs: make([]byte, table.BankSize())}
	tgt.regs[0] = 1
	rc := NewRegisterContext(th, 0, table, NewRegisterBank(table, RegisterBankConfig{Load: tgt.load}), RegisterContextConfig{})
	if got := mustRead(t, rc, "rax"); got != 1 {
		t.Errorf("rax = %d", got)
	}
	err := rc.WriteRegisterFromUnsigned(mustInfo(t, rc, "rax"), 2)
	if !errors.Is(err, ErrReadOnly) {
		t.Errorf("expected ErrReadOnly, got %v", err)
	}
}

func TestCopyFrom(t *testing.T) {
	rc, th, _ := newTestContext(t, AMD64Arch(), RegisterContextConfig{})
	mustWrite(t, rc, "rax", 1)
	mustWrite(t, rc, "rip", 0x401000)
	mustWrite(t, rc, "r15", 15)

	src := newMapBackend()
	table := rc.Table()
	srcrc := NewRegisterContext(th, 1, table, src, RegisterContextConfig{})
	mustWrite(t, srcrc, "rax", 0xaa)
	mustWrite(t, srcrc, "rbx", 0xbb)
	src.failRead[table.InfoByName("r15", 0).Index] = true

	dst := newMapBackend()
	dstrc := NewRegisterContext(th, 1, table, dst, RegisterContextConfig{})
	if err := dstrc.CopyFrom(srcrc); err != nil {
		t.Fatal(err)
	}
	if got := mustRead(t, dstrc, "rax"); got != 0xaa {
		t.Errorf("rax = %#x", got)
	}
	if got := mustRead(t, dstrc, "rbx"); got != 0xbb {
		t.Errorf("rbx = %#x", got)
	}
	// not readable in src, taken from frame zero
	if got := mustRead(t, dstrc, "r15"); got != 15 {
		t.Errorf("r15 = %d", got)
	}
	for _, idx := range dst.writes {
		if table.InfoAtIndex(idx).IsPseudo() {
			t.Errorf("pseudo-register %s copied", table.InfoAtIndex(idx).Name)
		}
	}
}

func TestCopyFromOtherThread(t *testing.T) {
	rc, _, _ := newTestContext(t, AMD64Arch(), RegisterContextConfig{})
	th2 := &fakeThread{id: 2, proc: newFakeProcess(rc.Table().ByteOrder())}
	src := newMapBackend()
	srcrc := NewRegisterContext(th2, 0, rc.Table(), src, RegisterContextConfig{})
	dst := newMapBackend()
	dstrc := NewRegisterContext(rc.Thread(), 1, rc.Table(), dst, RegisterContextConfig{})

	err := dstrc.CopyFrom(srcrc)
	if !errors.Is(err, ErrThreadMismatch) {
		t.Fatalf("expected ErrThreadMismatch, got %v", err)
	}
	if len(src.reads) != 0 || len(dst.reads) != 0 || len(dst.writes) != 0 {
		t.Errorf("registers accessed: %d %d %d", len(src.reads), len(dst.reads), len(dst.writes))
	}
	if err := dstrc.CopyFrom(dstrc); err != nil {
		t.Errorf("copy from itself: %v", err)
	}
}

func TestCopyFromDifferentTables(t *testing.T) {
	rc, th, _ := newTestContext(t, AMD64Arch(), RegisterContextConfig{})
	armrc, _ := newFrameContext(th, 1, ARM64Arch().RegisterTable(), RegisterContextConfig{})
	if err := armrc.CopyFrom(rc); err == nil {
		t.Error("copy between different architectures succeeded")
	}
}

func TestCopyFromDifferentSets(t *testing.T) {
	rc, th, _ := newTestContext(t, AMD64Arch(), RegisterContextConfig{})
	table := rc.Table()
	all := make([]int, table.Count())
	regs := make([]RegisterInfo, table.Count())
	for i := range regs {
		all[i] = i
		regs[i] = *table.InfoAtIndex(i)
	}
	merged, err := NewRegisterTable(RegisterTableConfig{
		Arch:      table.Arch(),
		ByteOrder: table.ByteOrder(),
		AddrSize:  table.AddrSize(),
		Registers: regs,
		Sets:      []RegisterSet{{Name: "All Registers", ShortName: "all", Registers: all}},
	})
	if err != nil {
		t.Fatal(err)
	}

	src := newMapBackend()
	srcrc := NewRegisterContext(th, 1, merged, src, RegisterContextConfig{})
	if srcrc.RegisterCount() != rc.RegisterCount() || srcrc.RegisterSetCount() == rc.RegisterSetCount() {
		t.Fatalf("unexpected merged table: %d registers, %d sets", srcrc.RegisterCount(), srcrc.RegisterSetCount())
	}
	dst := newMapBackend()
	dstrc := NewRegisterContext(th, 1, table, dst, RegisterContextConfig{})
	if err := dstrc.CopyFrom(srcrc); err == nil {
		t.Fatal("copy between contexts with different register sets succeeded")
	}
	if len(src.reads) != 0 || len(dst.writes) != 0 {
		t.Errorf("registers accessed: %d %d", len(src.reads), len(dst.writes))
	}
}

func TestRegisterSets(t *testing.T) {
	rc, _, _ := newTestContext(t, AMD64Arch(), RegisterContextConfig{})
	if rc.RegisterSetCount() != 3 {
		t.Fatalf("got %d register sets", rc.RegisterSetCount())
	}
	gpr := rc.RegisterSetAtIndex(0)
	if gpr.ShortName != "gpr" || rc.RegisterName(gpr.Registers[0]) != "rax" {
		t.Errorf("unexpected first register set %#v", gpr)
	}
	if rc.RegisterSetAtIndex(3) != nil {
		t.Error("out of range register set found")
	}
	exe := rc.ExecutionContext()
	if exe.Thread != rc.Thread() || exe.Process == nil {
		t.Errorf("bad execution context %#v", exe)
	}
	if rc.ThreadID() != 1 || rc.ConcreteFrameIndex() != 0 {
		t.Errorf("thread %d frame %d", rc.ThreadID(), rc.ConcreteFrameIndex())
	}
}
