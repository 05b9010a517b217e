// Package native implements the register backend of processes controlled
// through the ptrace system call.
package native

import (
	"encoding/binary"
	"errors"
	"sort"

	"github.com/go-delve/regctx/pkg/proc"
)

// ErrNativeUnsupported is returned on the platforms where the native
// backend is not implemented.
var ErrNativeUnsupported = errors.New("native register backend not supported on this platform")

// Config contains the options of a Process.
type Config struct {
	DynamicSizeCache int
}

// Process is a process attached with ptrace.
type Process struct {
	pid     int
	arch    *proc.Arch
	cfg     Config
	stopID  uint32
	threads map[int]*Thread

	// ptrace calls must all be issued from the same OS thread, see
	// handlePtraceFuncs.
	ptraceChan     chan func()
	ptraceDoneChan chan interface{}

	detached bool
}

var _ proc.Process = &Process{}

func newProcess(pid int, arch *proc.Arch, cfg Config) *Process {
	dbp := &Process{
		pid:            pid,
		arch:           arch,
		cfg:            cfg,
		threads:        make(map[int]*Thread),
		ptraceChan:     make(chan func()),
		ptraceDoneChan: make(chan interface{}),
	}
	go dbp.handlePtraceFuncs()
	return dbp
}

func (dbp *Process) execPtraceFunc(fn func()) {
	dbp.ptraceChan <- fn
	<-dbp.ptraceDoneChan
}

func (dbp *Process) closePtrace() {
	dbp.detached = true
	close(dbp.ptraceChan)
}

// Pid returns the process ID.
func (dbp *Process) Pid() int { return dbp.pid }

// Arch returns the architecture of the process.
func (dbp *Process) Arch() *proc.Arch { return dbp.arch }

// StopID implements proc.Process.
func (dbp *Process) StopID() uint32 { return dbp.stopID }

// ByteOrder implements proc.Process.
func (dbp *Process) ByteOrder() binary.ByteOrder { return dbp.arch.ByteOrder() }

func (dbp *Process) stopped() {
	dbp.stopID++
	if dbp.stopID == proc.InvalidStopID {
		dbp.stopID = 0
	}
	for _, th := range dbp.threads {
		th.ClearStackFrames()
	}
}

// Thread returns the thread with the given ID.
func (dbp *Process) Thread(tid int) (*Thread, bool) {
	th, ok := dbp.threads[tid]
	return th, ok
}

// Threads returns all threads sorted by ID.
func (dbp *Process) Threads() []*Thread {
	r := make([]*Thread, 0, len(dbp.threads))
	for _, th := range dbp.threads {
		r = append(r, th)
	}
	sort.Slice(r, func(i, j int) bool { return r[i].id < r[j].id })
	return r
}

// Thread is a thread of a Process.
type Thread struct {
	dbp   *Process
	id    int
	rc    *proc.RegisterContext
	frame *frame
}

var _ proc.Thread = &Thread{}

// ThreadID implements proc.Thread.
func (t *Thread) ThreadID() int { return t.id }

// Process implements proc.Thread.
func (t *Thread) Process() (proc.Process, error) {
	if t.dbp.detached {
		return nil, proc.ErrProcessGone
	}
	return t.dbp, nil
}

// RegisterContext implements proc.Thread.
func (t *Thread) RegisterContext() (*proc.RegisterContext, error) {
	return t.rc, nil
}

// FrameAtConcreteIndex implements proc.Thread. Only the innermost frame is
// known to the native backend.
func (t *Thread) FrameAtConcreteIndex(idx int) (proc.Frame, bool) {
	if idx != 0 {
		return nil, false
	}
	if t.frame == nil {
		const noPC = ^uint64(0)
		pc := t.rc.PC(noPC)
		if pc == noPC {
			return nil, false
		}
		t.frame = &frame{pc: pc}
	}
	return t.frame, true
}

// ClearStackFrames implements proc.Thread.
func (t *Thread) ClearStackFrames() {
	t.frame = nil
}

type frame struct {
	pc uint64
}

func (f *frame) ChangePC(pc uint64) { f.pc = pc }
