package core

import (
	"fmt"

	"github.com/go-delve/regctx/pkg/proc"
	"github.com/go-delve/regctx/pkg/proc/amd64util"
)

// Thread is a thread of an in-memory Process.
type Thread struct {
	sess *Session
	pid  int
	id   int

	table *proc.RegisterTable
	regs  []byte
	raw   *proc.RegisterBank // always writable, used to set up the thread
	rc    *proc.RegisterContext

	callers []uint64
	frames  []*Frame
}

var _ proc.Thread = &Thread{}

func newThread(p *Process, tid int) (*Thread, error) {
	table := p.arch.RegisterTable()
	th := &Thread{
		sess:  p.sess,
		pid:   p.pid,
		id:    tid,
		table: table,
		regs:  make([]byte, table.BankSize()),
	}
	th.raw = proc.NewRegisterBank(table, proc.RegisterBankConfig{Load: th.load, Store: th.store})

	cfg := proc.RegisterBankConfig{Load: th.load}
	if !p.cfg.ReadOnly {
		cfg.Store = th.store
	}
	bank := proc.NewRegisterBank(table, cfg)
	var backend proc.RegisterBackend = bank
	if table.InfoByName("dr7", 0) != nil {
		hw, err := amd64util.NewDebugRegisterBank(table, bank)
		if err != nil {
			return nil, err
		}
		backend = hw
	}
	th.rc = proc.NewRegisterContext(th, 0, table, backend, th.contextConfig(p))
	return th, nil
}

func (th *Thread) contextConfig(p *Process) proc.RegisterContextConfig {
	return proc.RegisterContextConfig{Evaluator: p.cfg.Evaluator, DynamicSizeCache: p.cfg.DynamicSizeCache}
}

func (th *Thread) load(data []byte) error {
	copy(data, th.regs)
	return nil
}

func (th *Thread) store(data []byte) error {
	copy(th.regs, data)
	return nil
}

// ThreadID implements proc.Thread.
func (th *Thread) ThreadID() int { return th.id }

func (th *Thread) process() (*Process, error) {
	p, ok := th.sess.Process(th.pid)
	if !ok {
		return nil, proc.ErrProcessGone
	}
	return p, nil
}

// Process implements proc.Thread.
func (th *Thread) Process() (proc.Process, error) {
	p, err := th.process()
	if err != nil {
		return nil, err
	}
	return p, nil
}

// RegisterContext implements proc.Thread.
func (th *Thread) RegisterContext() (*proc.RegisterContext, error) {
	return th.rc, nil
}

// SetRegister sets the register called name to x, bypassing the read only
// state of the process. It is used to set up the initial state of the
// thread.
func (th *Thread) SetRegister(name string, x uint64) error {
	info := th.table.InfoByName(name, 0)
	if info == nil {
		return fmt.Errorf("%s: %w", name, proc.ErrUnknownRegister)
	}
	var val proc.RegisterValue
	if err := val.SetUint(x, info.ByteSize, th.table.ByteOrder()); err != nil {
		return fmt.Errorf("register %s: %v", info.Name, err)
	}
	if err := th.raw.WriteRegister(info, &val); err != nil {
		return err
	}
	th.raw.InvalidateAllRegisters()
	th.rc.InvalidateAllRegisters()
	return nil
}

// SetCallers sets the return addresses used as the program counters of the
// frames above the innermost one, innermost first.
func (th *Thread) SetCallers(pcs []uint64) {
	th.callers = append([]uint64(nil), pcs...)
	th.ClearStackFrames()
}

// Frames returns the stack frames of the thread, building them if needed.
// Frame 0 takes its program counter from the registers, the others from
// the caller list.
func (th *Thread) Frames() []*Frame {
	if th.frames != nil {
		return th.frames
	}
	const noPC = ^uint64(0)
	pc := th.rc.PC(noPC)
	if pc == noPC {
		return nil
	}
	th.frames = make([]*Frame, 0, len(th.callers)+1)
	th.frames = append(th.frames, &Frame{th: th, idx: 0, pc: pc, rc: th.rc})
	for i, ret := range th.callers {
		th.frames = append(th.frames, &Frame{th: th, idx: i + 1, pc: ret})
	}
	return th.frames
}

// FrameAtConcreteIndex implements proc.Thread.
func (th *Thread) FrameAtConcreteIndex(idx int) (proc.Frame, bool) {
	frames := th.Frames()
	if idx < 0 || idx >= len(frames) {
		return nil, false
	}
	return frames[idx], true
}

// ClearStackFrames implements proc.Thread.
func (th *Thread) ClearStackFrames() {
	th.frames = nil
}

// Frame is a stack frame of a Thread.
type Frame struct {
	th  *Thread
	idx int
	pc  uint64
	rc  *proc.RegisterContext
}

var _ proc.Frame = &Frame{}

// Index returns the concrete index of the frame, 0 being the innermost.
func (f *Frame) Index() int { return f.idx }

// PC returns the program counter of the frame.
func (f *Frame) PC() uint64 { return f.pc }

// ChangePC implements proc.Frame.
func (f *Frame) ChangePC(pc uint64) { f.pc = pc }

// RegisterContext returns the registers of the frame. The registers of the
// outer frames are a copy of the innermost frame with the program counter
// replaced; changing them does not affect the thread.
func (f *Frame) RegisterContext() (*proc.RegisterContext, error) {
	if f.rc != nil {
		return f.rc, nil
	}
	p, err := f.th.process()
	if err != nil {
		return nil, err
	}
	regs := make([]byte, f.th.table.BankSize())
	bank := proc.NewRegisterBank(f.th.table, proc.RegisterBankConfig{
		Load:  func(data []byte) error { copy(data, regs); return nil },
		Store: func(data []byte) error { copy(regs, data); return nil },
	})
	rc := proc.NewRegisterContext(f.th, f.idx, f.th.table, bank, f.th.contextConfig(p))
	if err := rc.CopyFrom(f.th.rc); err != nil {
		return nil, err
	}
	if err := rc.SetPC(f.pc); err != nil {
		return nil, err
	}
	f.rc = rc
	return rc, nil
}
