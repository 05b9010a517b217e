package dap

import (
	"fmt"

	"github.com/go-delve/regctx/pkg/proc"
	"github.com/go-delve/regctx/pkg/proc/core"
)

// Target is the stopped process whose registers are served to the client.
type Target interface {
	// ThreadIDs returns the threads of the process.
	ThreadIDs() []int
	// Stacktrace returns the program counter of each frame of a thread,
	// innermost frame first.
	Stacktrace(tid int) ([]uint64, error)
	// FrameRegisterContext returns the register context of a frame.
	FrameRegisterContext(tid, frame int) (*proc.RegisterContext, error)
	ReadMemory(buf []byte, addr uint64) (int, error)
}

type coreTarget struct {
	p *core.Process
}

// NewCoreTarget returns a Target serving the threads of p.
func NewCoreTarget(p *core.Process) Target {
	return &coreTarget{p}
}

func (t *coreTarget) ThreadIDs() []int {
	threads := t.p.Threads()
	r := make([]int, len(threads))
	for i, th := range threads {
		r[i] = th.ThreadID()
	}
	return r
}

func (t *coreTarget) thread(tid int) (*core.Thread, error) {
	th, ok := t.p.Thread(tid)
	if !ok {
		return nil, fmt.Errorf("unknown thread %d", tid)
	}
	return th, nil
}

func (t *coreTarget) Stacktrace(tid int) ([]uint64, error) {
	th, err := t.thread(tid)
	if err != nil {
		return nil, err
	}
	frames := th.Frames()
	r := make([]uint64, len(frames))
	for i, f := range frames {
		r[i] = f.PC()
	}
	return r, nil
}

func (t *coreTarget) FrameRegisterContext(tid, frame int) (*proc.RegisterContext, error) {
	th, err := t.thread(tid)
	if err != nil {
		return nil, err
	}
	frames := th.Frames()
	if frame < 0 || frame >= len(frames) {
		return nil, fmt.Errorf("thread %d has no frame %d", tid, frame)
	}
	return frames[frame].RegisterContext()
}

func (t *coreTarget) ReadMemory(buf []byte, addr uint64) (int, error) {
	return t.p.ReadMemory(buf, addr)
}
