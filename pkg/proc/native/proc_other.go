//go:build !linux

package native

// Attach is not supported on this platform.
func Attach(pid int, cfg Config) (*Process, error) {
	return nil, ErrNativeUnsupported
}

func (dbp *Process) handlePtraceFuncs() {
	for fn := range dbp.ptraceChan {
		fn()
		dbp.ptraceDoneChan <- nil
	}
}

// Step is not supported on this platform.
func (dbp *Process) Step(tid int) error {
	return ErrNativeUnsupported
}

// Detach is not supported on this platform.
func (dbp *Process) Detach() error {
	return ErrNativeUnsupported
}

// ReadMemory implements proc.Process.
func (dbp *Process) ReadMemory(buf []byte, addr uint64) (int, error) {
	return 0, ErrNativeUnsupported
}

// WriteMemory implements proc.Process.
func (dbp *Process) WriteMemory(addr uint64, data []byte) (int, error) {
	return 0, ErrNativeUnsupported
}
