package native

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"

	sys "golang.org/x/sys/unix"

	"github.com/go-delve/regctx/pkg/logflags"
	"github.com/go-delve/regctx/pkg/proc"
)

// Attach attaches to all the threads of process pid and stops them.
func Attach(pid int, cfg Config) (*Process, error) {
	arch, err := proc.ArchByName(runtime.GOARCH)
	if err != nil {
		return nil, err
	}
	dbp := newProcess(pid, arch, cfg)

	dbp.execPtraceFunc(func() { err = ptraceAttach(pid) })
	if err != nil {
		dbp.closePtrace()
		return nil, fmt.Errorf("could not attach to pid %d: %v", pid, err)
	}
	if err := dbp.wait(pid); err != nil {
		dbp.closePtrace()
		return nil, err
	}
	if err := dbp.addThread(pid); err != nil {
		dbp.Detach()
		return nil, err
	}

	tids, err := taskIDs(pid)
	if err != nil {
		dbp.Detach()
		return nil, err
	}
	for _, tid := range tids {
		if tid == pid {
			continue
		}
		dbp.execPtraceFunc(func() { err = ptraceAttach(tid) })
		if err == sys.ESRCH {
			// thread exited in the meantime
			continue
		}
		if err == nil {
			err = dbp.wait(tid)
		}
		if err == nil {
			err = dbp.addThread(tid)
		}
		if err != nil {
			dbp.Detach()
			return nil, fmt.Errorf("could not attach to thread %d: %v", tid, err)
		}
	}
	dbp.stopped()
	return dbp, nil
}

func taskIDs(pid int) ([]int, error) {
	ents, err := os.ReadDir(fmt.Sprintf("/proc/%d/task", pid))
	if err != nil {
		return nil, err
	}
	tids := make([]int, 0, len(ents))
	for _, ent := range ents {
		tid, err := strconv.Atoi(ent.Name())
		if err != nil {
			continue
		}
		tids = append(tids, tid)
	}
	return tids, nil
}

func (dbp *Process) wait(tid int) error {
	var status sys.WaitStatus
	_, err := sys.Wait4(tid, &status, sys.WALL, nil)
	if err != nil {
		return err
	}
	if status.Exited() || status.Signaled() {
		return fmt.Errorf("thread %d exited", tid)
	}
	return nil
}

func (dbp *Process) addThread(tid int) error {
	th := &Thread{dbp: dbp, id: tid}
	backend, err := newThreadBackend(dbp, tid)
	if err != nil {
		return err
	}
	th.rc = proc.NewRegisterContext(th, 0, dbp.arch.RegisterTable(), backend, proc.RegisterContextConfig{
		Evaluator:        proc.DwarfEvaluator{},
		DynamicSizeCache: dbp.cfg.DynamicSizeCache,
	})
	dbp.threads[tid] = th
	return nil
}

// Step executes a single instruction of thread tid. All register contexts
// of the process are invalidated by the new stop.
func (dbp *Process) Step(tid int) error {
	if dbp.detached {
		return proc.ErrProcessGone
	}
	if _, ok := dbp.threads[tid]; !ok {
		return fmt.Errorf("unknown thread %d", tid)
	}
	var err error
	dbp.execPtraceFunc(func() { err = ptraceSingleStep(tid, 0) })
	if err != nil {
		return err
	}
	if err := dbp.wait(tid); err != nil {
		return err
	}
	dbp.stopped()
	return nil
}

// Detach detaches from all threads, letting the process run.
func (dbp *Process) Detach() error {
	if dbp.detached {
		return nil
	}
	var errs []error
	for _, th := range dbp.Threads() {
		var err error
		dbp.execPtraceFunc(func() { err = ptraceDetach(th.id, 0) })
		if err != nil && err != sys.ESRCH {
			errs = append(errs, fmt.Errorf("thread %d: %v", th.id, err))
		}
	}
	dbp.closePtrace()
	if logflags.Native() {
		logflags.NativeLogger().Debugf("detached from %d", dbp.pid)
	}
	return errors.Join(errs...)
}

// ReadMemory implements proc.Process.
func (dbp *Process) ReadMemory(buf []byte, addr uint64) (int, error) {
	if dbp.detached {
		return 0, proc.ErrProcessGone
	}
	return processVmRead(dbp.pid, uintptr(addr), buf)
}

// WriteMemory implements proc.Process.
func (dbp *Process) WriteMemory(addr uint64, data []byte) (int, error) {
	if dbp.detached {
		return 0, proc.ErrProcessGone
	}
	return processVmWrite(dbp.pid, uintptr(addr), data)
}
