package proc

import "encoding/binary"

// Process is the target owning the threads whose registers are accessed.
type Process interface {
	// StopID returns the stop generation of the process, a counter
	// incremented every time the process stops.
	StopID() uint32
	// ReadMemory reads len(buf) bytes at addr, returning the number of
	// bytes read.
	ReadMemory(buf []byte, addr uint64) (int, error)
	// WriteMemory writes data at addr, returning the number of bytes
	// written.
	WriteMemory(addr uint64, data []byte) (int, error)
	ByteOrder() binary.ByteOrder
}

// Frame is a stack frame of a thread.
type Frame interface {
	// ChangePC updates the cached program counter of the frame.
	ChangePC(pc uint64)
}

// Thread is a thread of execution of a Process.
type Thread interface {
	ThreadID() int
	// Process returns the process owning the thread, or ErrProcessGone if
	// it does not exist anymore.
	Process() (Process, error)
	// FrameAtConcreteIndex returns the frame at idx, if the thread has
	// one.
	FrameAtConcreteIndex(idx int) (Frame, bool)
	// ClearStackFrames discards all the frames computed for the thread.
	ClearStackFrames()
	// RegisterContext returns the register context of the innermost frame
	// of the thread.
	RegisterContext() (*RegisterContext, error)
}

// OpcodeAddressFilter is implemented by threads whose program counter
// values carry extra information (mode bits, pointer authentication codes)
// that must be removed before the address can be used.
type OpcodeAddressFilter interface {
	OpcodeLoadAddress(pc uint64) uint64
}

// RegisterBackend stores the registers of a RegisterContext.
type RegisterBackend interface {
	// ReadRegister reads the register described by info into val.
	// For registers with a dynamic size info.ByteSize is the resolved
	// size.
	ReadRegister(info *RegisterInfo, val *RegisterValue) error
	// WriteRegister writes val into the register described by info.
	WriteRegister(info *RegisterInfo, val *RegisterValue) error
	// InvalidateAllRegisters discards any cached register value.
	InvalidateAllRegisters()
}

// RegisterBankBackend is implemented by backends that can save and restore
// all of their registers at once. The format of the data is decided by the
// backend.
type RegisterBankBackend interface {
	ReadAllRegisterValues() ([]byte, error)
	WriteAllRegisterValues(data []byte) error
}

// HardwareDebugger is implemented by backends that can manage hardware
// breakpoints, watchpoints and single stepping.
type HardwareDebugger interface {
	NumSupportedHardwareBreakpoints() int
	SetHardwareBreakpoint(addr uint64, size int) (int, error)
	ClearHardwareBreakpoint(idx int) bool
	NumSupportedHardwareWatchpoints() int
	SetHardwareWatchpoint(addr uint64, size int, read, write bool) (int, error)
	ClearHardwareWatchpoint(idx int) bool
	HardwareSingleStep(enable bool) bool
}

// DataView is a buffer of target data together with the information needed
// to decode it.
type DataView struct {
	Data      []byte
	ByteOrder binary.ByteOrder
	AddrSize  int
}

// ExecutionContext identifies the thread and process a register context
// belongs to.
type ExecutionContext struct {
	Thread  Thread
	Process Process
}

// Evaluator evaluates DWARF expressions.
type Evaluator interface {
	// Evaluate runs program and returns the scalar it computes. Registers
	// and memory are read through regs and exe.
	Evaluate(program DataView, exe *ExecutionContext, regs *RegisterContext) (int64, error)
}
