package proc

import (
	"encoding/binary"
	"errors"
	"testing"
)

type fakeProcess struct {
	stopID uint32
	order  binary.ByteOrder
	mem    map[uint64]byte
	// readLimit and writeLimit cap the number of bytes moved by a single
	// memory access, -1 means no limit.
	readLimit  int
	writeLimit int
	reads      int
}

func newFakeProcess(order binary.ByteOrder) *fakeProcess {
	return &fakeProcess{stopID: 1, order: order, mem: map[uint64]byte{}, readLimit: -1, writeLimit: -1}
}

func (p *fakeProcess) StopID() uint32              { return p.stopID }
func (p *fakeProcess) ByteOrder() binary.ByteOrder { return p.order }

func (p *fakeProcess) ReadMemory(buf []byte, addr uint64) (int, error) {
	p.reads++
	n := len(buf)
	if p.readLimit >= 0 && n > p.readLimit {
		n = p.readLimit
	}
	for i := 0; i < n; i++ {
		buf[i] = p.mem[addr+uint64(i)]
	}
	return n, nil
}

func (p *fakeProcess) WriteMemory(addr uint64, data []byte) (int, error) {
	n := len(data)
	if p.writeLimit >= 0 && n > p.writeLimit {
		n = p.writeLimit
	}
	for i := 0; i < n; i++ {
		p.mem[addr+uint64(i)] = data[i]
	}
	return n, nil
}

func (p *fakeProcess) poke(addr uint64, data ...byte) {
	for i := range data {
		p.mem[addr+uint64(i)] = data[i]
	}
}

func (p *fakeProcess) peek(addr uint64, n int) []byte {
	r := make([]byte, n)
	for i := range r {
		r[i] = p.mem[addr+uint64(i)]
	}
	return r
}

type fakeFrame struct {
	pc      uint64
	changed bool
}

func (f *fakeFrame) ChangePC(pc uint64) {
	f.pc = pc
	f.changed = true
}

type fakeThread struct {
	id        int
	proc      *fakeProcess
	gone      bool
	frames    []*fakeFrame
	cleared   bool
	frameZero *RegisterContext
}

func (th *fakeThread) ThreadID() int { return th.id }

func (th *fakeThread) Process() (Process, error) {
	if th.gone {
		return nil, ErrProcessGone
	}
	return th.proc, nil
}

func (th *fakeThread) FrameAtConcreteIndex(idx int) (Frame, bool) {
	if idx < 0 || idx >= len(th.frames) {
		return nil, false
	}
	return th.frames[idx], true
}

func (th *fakeThread) ClearStackFrames() {
	th.cleared = true
	th.frames = nil
}

func (th *fakeThread) RegisterContext() (*RegisterContext, error) {
	if th.frameZero == nil {
		return nil, errors.New("no registers")
	}
	return th.frameZero, nil
}

// fakeTarget holds the registers of a thread as the hardware would.
type fakeTarget struct {
	regs    []byte
	loads   int
	stores  int
	loadErr error
}

func (tgt *fakeTarget) load(data []byte) error {
	tgt.loads++
	if tgt.loadErr != nil {
		return tgt.loadErr
	}
	copy(data, tgt.regs)
	return nil
}

func (tgt *fakeTarget) store(data []byte) error {
	tgt.stores++
	copy(tgt.regs, data)
	return nil
}

func newTestContext(t *testing.T, arch *Arch, cfg RegisterContextConfig) (*RegisterContext, *fakeThread, *fakeTarget) {
	t.Helper()
	table := arch.RegisterTable()
	th := &fakeThread{id: 1, proc: newFakeProcess(table.ByteOrder()), frames: []*fakeFrame{{}, {}}}
	rc, tgt := newFrameContext(th, 0, table, cfg)
	th.frameZero = rc
	return rc, th, tgt
}

func newFrameContext(th *fakeThread, frame int, table *RegisterTable, cfg RegisterContextConfig) (*RegisterContext, *fakeTarget) {
	tgt := &fakeTarget{regs: make([]byte, table.BankSize())}
	bank := NewRegisterBank(table, RegisterBankConfig{Load: tgt.load, Store: tgt.store})
	return NewRegisterContext(th, frame, table, bank, cfg), tgt
}

// mapBackend stores registers independently of each other and records
// every access.
type mapBackend struct {
	vals          map[int]RegisterValue
	failRead      map[int]bool
	reads         []int
	writes        []int
	invalidations int
}

func newMapBackend() *mapBackend {
	return &mapBackend{vals: map[int]RegisterValue{}, failRead: map[int]bool{}}
}

func (b *mapBackend) ReadRegister(info *RegisterInfo, val *RegisterValue) error {
	b.reads = append(b.reads, info.Index)
	if b.failRead[info.Index] {
		return errors.New("register unavailable")
	}
	v, ok := b.vals[info.Index]
	if !ok {
		return val.SetUint(0, info.ByteSize, binary.LittleEndian)
	}
	*val = v
	return nil
}

func (b *mapBackend) WriteRegister(info *RegisterInfo, val *RegisterValue) error {
	b.writes = append(b.writes, info.Index)
	b.vals[info.Index] = *val
	return nil
}

func (b *mapBackend) InvalidateAllRegisters() { b.invalidations++ }

type stubEvaluator struct {
	result int64
	err    error
	calls  int
}

func (e *stubEvaluator) Evaluate(program DataView, exe *ExecutionContext, regs *RegisterContext) (int64, error) {
	e.calls++
	return e.result, e.err
}

// countingEvaluator wraps the DWARF evaluator counting evaluations.
type countingEvaluator struct {
	DwarfEvaluator
	calls int
}

func (e *countingEvaluator) Evaluate(program DataView, exe *ExecutionContext, regs *RegisterContext) (int64, error) {
	e.calls++
	return e.DwarfEvaluator.Evaluate(program, exe, regs)
}

func mustInfo(t *testing.T, rc *RegisterContext, name string) *RegisterInfo {
	t.Helper()
	ri := rc.InfoByName(name, 0)
	if ri == nil {
		t.Fatalf("register %s not found", name)
	}
	return ri
}

func mustWrite(t *testing.T, rc *RegisterContext, name string, x uint64) {
	t.Helper()
	if err := rc.WriteRegisterFromUnsigned(mustInfo(t, rc, name), x); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
}

func mustRead(t *testing.T, rc *RegisterContext, name string) uint64 {
	t.Helper()
	var val RegisterValue
	if err := rc.ReadRegister(mustInfo(t, rc, name), &val); err != nil {
		t.Fatalf("reading %s: %v", name, err)
	}
	x, err := val.Uint64()
	if err != nil {
		t.Fatalf("reading %s: %v", name, err)
	}
	return x
}
