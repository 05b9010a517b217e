package core

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/go-delve/regctx/pkg/proc"
)

var (
	// ErrWriteCore is returned when attempting to write to the memory of a
	// read only process.
	ErrWriteCore = errors.New("can not write to core process")

	// ErrThreadExists is returned by AddThread for a duplicate thread ID.
	ErrThreadExists = errors.New("thread already exists")
)

// Config contains the options of a Process.
type Config struct {
	// ReadOnly processes behave like core files: memory and register
	// writes fail.
	ReadOnly bool
	// Evaluator computes the size of dynamically sized registers. Defaults
	// to proc.DwarfEvaluator.
	Evaluator proc.Evaluator
	// DynamicSizeCache is passed to the register contexts of the threads.
	DynamicSizeCache int
}

// Process is an in-memory target process: a memory image and a set of
// threads with their registers. Its stop generation only changes when
// Stop is called.
type Process struct {
	sess    *Session
	pid     int
	arch    *proc.Arch
	cfg     Config
	stopID  uint32
	mem     splicedMemory
	threads map[int]*Thread
}

var _ proc.Process = &Process{}

// NewProcess creates a process and adds it to sess.
func NewProcess(sess *Session, pid int, arch *proc.Arch, cfg Config) (*Process, error) {
	if arch == nil {
		return nil, errors.New("nil architecture")
	}
	if cfg.Evaluator == nil {
		cfg.Evaluator = proc.DwarfEvaluator{}
	}
	p := &Process{
		sess:    sess,
		pid:     pid,
		arch:    arch,
		cfg:     cfg,
		threads: make(map[int]*Thread),
	}
	if !sess.add(p) {
		return nil, fmt.Errorf("process %d already exists", pid)
	}
	return p, nil
}

// Pid returns the process ID.
func (p *Process) Pid() int { return p.pid }

// Arch returns the architecture of the process.
func (p *Process) Arch() *proc.Arch { return p.arch }

// ReadOnly returns true if the memory and registers of the process can not
// be changed.
func (p *Process) ReadOnly() bool { return p.cfg.ReadOnly }

// StopID implements proc.Process.
func (p *Process) StopID() uint32 { return p.stopID }

// Stop simulates the process stopping after having run: the stop generation
// is incremented and the stack frames of all threads are discarded.
func (p *Process) Stop() {
	p.stopID++
	if p.stopID == proc.InvalidStopID {
		p.stopID = 0
	}
	for _, th := range p.threads {
		th.ClearStackFrames()
	}
}

// Detach removes the process from its session. Its threads will report
// proc.ErrProcessGone from then on.
func (p *Process) Detach() {
	p.sess.remove(p.pid)
}

// ByteOrder implements proc.Process.
func (p *Process) ByteOrder() binary.ByteOrder { return p.arch.ByteOrder() }

// ReadMemory implements proc.Process.
func (p *Process) ReadMemory(buf []byte, addr uint64) (int, error) {
	return p.mem.ReadMemory(buf, addr)
}

// WriteMemory implements proc.Process.
func (p *Process) WriteMemory(addr uint64, data []byte) (int, error) {
	if p.cfg.ReadOnly {
		return 0, ErrWriteCore
	}
	return p.mem.WriteMemory(addr, data)
}

// AddMemory maps data at addr, on top of any region already mapped there.
// It works on read only processes too.
func (p *Process) AddMemory(addr uint64, data []byte) {
	p.mem.Add(addr, data)
}

// AddThread creates a thread with all registers set to zero.
func (p *Process) AddThread(tid int) (*Thread, error) {
	if _, exists := p.threads[tid]; exists {
		return nil, fmt.Errorf("%w: %d", ErrThreadExists, tid)
	}
	th, err := newThread(p, tid)
	if err != nil {
		return nil, err
	}
	p.threads[tid] = th
	return th, nil
}

// Thread returns the thread with the given ID.
func (p *Process) Thread(tid int) (*Thread, bool) {
	th, ok := p.threads[tid]
	return th, ok
}

// Threads returns all threads sorted by ID.
func (p *Process) Threads() []*Thread {
	r := make([]*Thread, 0, len(p.threads))
	for _, th := range p.threads {
		r = append(r, th)
	}
	sort.Slice(r, func(i, j int) bool { return r[i].id < r[j].id })
	return r
}
