package proc

import (
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru"

	"github.com/go-delve/regctx/pkg/logflags"
)

// InvalidStopID is the stop generation of a register context whose process
// is gone.
const InvalidStopID = ^uint32(0)

const defaultDynamicSizeCache = 64

// RegisterContextConfig contains the optional parameters of a
// RegisterContext.
type RegisterContextConfig struct {
	// Evaluator is used to compute the size of registers with a dynamic
	// size. If nil all registers have their static size.
	Evaluator Evaluator
	// DynamicSizeCache is the maximum number of resolved dynamic sizes
	// remembered between two invalidations.
	DynamicSizeCache int
}

// RegisterContext gives access to the registers of a thread, as seen by one
// of its stack frames. The values read by a RegisterContext are only valid
// for the stop generation of the process they were read in.
//
// RegisterContext is not safe for concurrent use.
type RegisterContext struct {
	thread   Thread
	frameIdx int
	table    *RegisterTable
	backend  RegisterBackend
	eval     Evaluator
	stopID   uint32

	sizes     *lru.Cache // register index -> resolved size
	resolving map[int]bool
}

// NewRegisterContext returns a register context for frame frameIdx of
// thread, describing registers with table and storing them in backend.
func NewRegisterContext(thread Thread, frameIdx int, table *RegisterTable, backend RegisterBackend, cfg RegisterContextConfig) *RegisterContext {
	n := cfg.DynamicSizeCache
	if n <= 0 {
		n = defaultDynamicSizeCache
	}
	sizes, _ := lru.New(n)
	rc := &RegisterContext{
		thread:    thread,
		frameIdx:  frameIdx,
		table:     table,
		backend:   backend,
		eval:      cfg.Evaluator,
		stopID:    InvalidStopID,
		sizes:     sizes,
		resolving: make(map[int]bool),
	}
	if p, err := thread.Process(); err == nil {
		rc.stopID = p.StopID()
	}
	return rc
}

// Thread returns the thread owning the registers.
func (rc *RegisterContext) Thread() Thread { return rc.thread }

// ThreadID returns the ID of the thread owning the registers.
func (rc *RegisterContext) ThreadID() int { return rc.thread.ThreadID() }

// ConcreteFrameIndex returns the index of the frame this context describes.
func (rc *RegisterContext) ConcreteFrameIndex() int { return rc.frameIdx }

// Table returns the register table of the context.
func (rc *RegisterContext) Table() *RegisterTable { return rc.table }

// Backend returns the storage of the registers.
func (rc *RegisterContext) Backend() RegisterBackend { return rc.backend }

// StopID returns the stop generation the cached register values belong to.
func (rc *RegisterContext) StopID() uint32 { return rc.stopID }

// ExecutionContext returns the thread and process of the context. Process
// is nil if the process is gone.
func (rc *RegisterContext) ExecutionContext() *ExecutionContext {
	exe := &ExecutionContext{Thread: rc.thread}
	if p, err := rc.thread.Process(); err == nil {
		exe.Process = p
	}
	return exe
}

// InvalidateIfNeeded discards all cached register values if force is set,
// if the process has stopped since they were read or if the process is
// gone. It returns true if the registers were invalidated.
func (rc *RegisterContext) InvalidateIfNeeded(force bool) bool {
	stopID := InvalidStopID
	invalidate := force
	if p, err := rc.thread.Process(); err == nil {
		stopID = p.StopID()
	} else {
		invalidate = true
	}
	if !invalidate {
		invalidate = stopID != rc.stopID
	}
	if !invalidate {
		return false
	}
	if logflags.RegisterContext() {
		logflags.RegisterContextLogger().Debugf("thread %d frame %d: invalidating registers (stop %#x -> %#x)", rc.thread.ThreadID(), rc.frameIdx, rc.stopID, stopID)
	}
	rc.InvalidateAllRegisters()
	rc.stopID = stopID
	return true
}

// InvalidateAllRegisters discards all cached register values.
func (rc *RegisterContext) InvalidateAllRegisters() {
	rc.sizes.Purge()
	rc.backend.InvalidateAllRegisters()
}

// RegisterCount returns the number of registers.
func (rc *RegisterContext) RegisterCount() int { return rc.table.Count() }

// InfoAtIndex returns the descriptor of register idx, or nil. The size of
// registers with a dynamic size is resolved for the current stop.
func (rc *RegisterContext) InfoAtIndex(idx int) *RegisterInfo {
	return rc.resolveInfo(rc.table.InfoAtIndex(idx))
}

// RegisterName returns the name of register idx, or the empty string.
func (rc *RegisterContext) RegisterName(idx int) string {
	if ri := rc.table.InfoAtIndex(idx); ri != nil {
		return ri.Name
	}
	return ""
}

// RegisterSetCount returns the number of register sets.
func (rc *RegisterContext) RegisterSetCount() int { return rc.table.SetCount() }

// RegisterSetAtIndex returns register set idx, or nil.
func (rc *RegisterContext) RegisterSetAtIndex(idx int) *RegisterSet {
	return rc.table.SetAtIndex(idx)
}

// InfoByName returns the first register at or after index start whose name
// or alternate name matches name, ignoring case.
func (rc *RegisterContext) InfoByName(name string, start int) *RegisterInfo {
	return rc.resolveInfo(rc.table.InfoByName(name, start))
}

// InfoFor returns the register numbered num in the given kind, or nil.
func (rc *RegisterContext) InfoFor(kind RegisterKind, num uint32) *RegisterInfo {
	return rc.resolveInfo(rc.table.InfoFor(kind, num))
}

// ConvertKindToNumber returns the index of the register numbered num in the
// given kind, or InvalidRegNum.
func (rc *RegisterContext) ConvertKindToNumber(kind RegisterKind, num uint32) uint32 {
	return rc.table.ConvertKindToNumber(kind, num)
}

// ConvertBetweenRegisterKinds translates a register number from kind src
// to kind dst.
func (rc *RegisterContext) ConvertBetweenRegisterKinds(src RegisterKind, num uint32, dst RegisterKind) (uint32, bool) {
	return rc.table.Translate(src, num, dst)
}

// RegisterByteSize returns the size of the register described by info at
// the current stop.
func (rc *RegisterContext) RegisterByteSize(info *RegisterInfo) int {
	if info == nil {
		return 0
	}
	if !info.HasDynamicSize() {
		return info.ByteSize
	}
	return rc.dynamicSize(info)
}

func (rc *RegisterContext) resolveInfo(info *RegisterInfo) *RegisterInfo {
	if info == nil || !info.HasDynamicSize() {
		return info
	}
	sz := rc.dynamicSize(info)
	if sz == info.ByteSize {
		return info
	}
	r := *info
	r.ByteSize = sz
	return &r
}

// ReadRegister reads the register described by info into val.
func (rc *RegisterContext) ReadRegister(info *RegisterInfo, val *RegisterValue) error {
	if info == nil {
		return ErrUnknownRegister
	}
	rc.InvalidateIfNeeded(false)
	if err := rc.backend.ReadRegister(rc.resolveInfo(info), val); err != nil {
		return fmt.Errorf("could not read register %s: %w", info.Name, err)
	}
	return nil
}

// WriteRegister writes val into the register described by info.
func (rc *RegisterContext) WriteRegister(info *RegisterInfo, val *RegisterValue) error {
	if info == nil {
		return ErrUnknownRegister
	}
	rc.InvalidateIfNeeded(false)
	ri := rc.resolveInfo(info)
	if val.Size() > ri.ByteSize {
		return fmt.Errorf("%d byte value does not fit in register %s (%d bytes): %w", val.Size(), ri.Name, ri.ByteSize, ErrRegisterTooSmall)
	}
	if logflags.RegisterContext() {
		logflags.RegisterContextLogger().Debugf("thread %d frame %d: %s = %v", rc.thread.ThreadID(), rc.frameIdx, ri.Name, val)
	}
	err := rc.backend.WriteRegister(ri, val)
	// a write can change the control registers dynamic sizes depend on
	rc.sizes.Purge()
	if err != nil {
		return fmt.Errorf("could not write register %s: %w", info.Name, err)
	}
	return nil
}

// ReadRegisterAsUnsigned returns the value of the register described by
// info, or failValue if it can not be read or is larger than 8 bytes.
func (rc *RegisterContext) ReadRegisterAsUnsigned(info *RegisterInfo, failValue uint64) uint64 {
	if info == nil {
		return failValue
	}
	var val RegisterValue
	if err := rc.ReadRegister(info, &val); err != nil {
		return failValue
	}
	x, err := val.Uint64()
	if err != nil {
		return failValue
	}
	return x
}

// ReadRegisterIndexAsUnsigned is like ReadRegisterAsUnsigned for the
// register at index idx.
func (rc *RegisterContext) ReadRegisterIndexAsUnsigned(idx uint32, failValue uint64) uint64 {
	if idx == InvalidRegNum {
		return failValue
	}
	return rc.ReadRegisterAsUnsigned(rc.table.InfoAtIndex(int(idx)), failValue)
}

// ReadRegisterKindAsUnsigned is like ReadRegisterAsUnsigned for the
// register numbered num in kind.
func (rc *RegisterContext) ReadRegisterKindAsUnsigned(kind RegisterKind, num uint32, failValue uint64) uint64 {
	return rc.ReadRegisterIndexAsUnsigned(rc.table.ConvertKindToNumber(kind, num), failValue)
}

// WriteRegisterFromUnsigned writes x into the register described by info.
func (rc *RegisterContext) WriteRegisterFromUnsigned(info *RegisterInfo, x uint64) error {
	if info == nil {
		return ErrUnknownRegister
	}
	var val RegisterValue
	if err := val.SetUint(x, rc.RegisterByteSize(info), rc.table.ByteOrder()); err != nil {
		return fmt.Errorf("register %s: %w", info.Name, err)
	}
	return rc.WriteRegister(info, &val)
}

// WriteRegisterIndexFromUnsigned is like WriteRegisterFromUnsigned for the
// register at index idx.
func (rc *RegisterContext) WriteRegisterIndexFromUnsigned(idx uint32, x uint64) error {
	if idx == InvalidRegNum {
		return ErrUnknownRegister
	}
	return rc.WriteRegisterFromUnsigned(rc.table.InfoAtIndex(int(idx)), x)
}

func (rc *RegisterContext) genericInfo(role uint32) *RegisterInfo {
	return rc.table.InfoFor(KindGeneric, role)
}

// PC returns the program counter, or failValue.
func (rc *RegisterContext) PC(failValue uint64) uint64 {
	pc := rc.ReadRegisterAsUnsigned(rc.genericInfo(GenericPC), failValue)
	if pc != failValue {
		if f, ok := rc.thread.(OpcodeAddressFilter); ok {
			pc = f.OpcodeLoadAddress(pc)
		}
	}
	return pc
}

// SetPC changes the program counter. On success the frame described by the
// context is updated, or all frames of the thread are discarded if the
// frame can not be found.
func (rc *RegisterContext) SetPC(pc uint64) error {
	if err := rc.WriteRegisterFromUnsigned(rc.genericInfo(GenericPC), pc); err != nil {
		return err
	}
	if frame, ok := rc.thread.FrameAtConcreteIndex(rc.frameIdx); ok {
		frame.ChangePC(pc)
	} else {
		rc.thread.ClearStackFrames()
	}
	return nil
}

// SP returns the stack pointer, or failValue.
func (rc *RegisterContext) SP(failValue uint64) uint64 {
	return rc.ReadRegisterAsUnsigned(rc.genericInfo(GenericSP), failValue)
}

// SetSP changes the stack pointer.
func (rc *RegisterContext) SetSP(sp uint64) error {
	return rc.WriteRegisterFromUnsigned(rc.genericInfo(GenericSP), sp)
}

// FP returns the frame pointer, or failValue.
func (rc *RegisterContext) FP(failValue uint64) uint64 {
	return rc.ReadRegisterAsUnsigned(rc.genericInfo(GenericFP), failValue)
}

// SetFP changes the frame pointer.
func (rc *RegisterContext) SetFP(fp uint64) error {
	return rc.WriteRegisterFromUnsigned(rc.genericInfo(GenericFP), fp)
}

// ReturnAddress returns the contents of the return address register, or
// failValue.
func (rc *RegisterContext) ReturnAddress(failValue uint64) uint64 {
	return rc.ReadRegisterAsUnsigned(rc.genericInfo(GenericRA), failValue)
}

// Flags returns the flags register, or failValue.
func (rc *RegisterContext) Flags(failValue uint64) uint64 {
	return rc.ReadRegisterAsUnsigned(rc.genericInfo(GenericFlags), failValue)
}

// CopyFrom copies the value of every register of src into rc. Both
// contexts must belong to the same thread. Pseudo-registers are skipped.
// Registers src can not read are taken from the innermost frame of the
// thread; registers neither can read are left untouched.
func (rc *RegisterContext) CopyFrom(src *RegisterContext) error {
	if src == nil {
		return errors.New("nil register context")
	}
	if src == rc {
		return nil
	}
	if src.thread.ThreadID() != rc.thread.ThreadID() {
		return fmt.Errorf("%w: %d and %d", ErrThreadMismatch, src.thread.ThreadID(), rc.thread.ThreadID())
	}
	n := rc.RegisterCount()
	if src.RegisterCount() != n {
		return fmt.Errorf("can not copy %d registers into %d registers", src.RegisterCount(), n)
	}
	if src.RegisterSetCount() != rc.RegisterSetCount() {
		return fmt.Errorf("can not copy %d register sets into %d register sets", src.RegisterSetCount(), rc.RegisterSetCount())
	}

	frameZero, err := rc.thread.RegisterContext()
	if err != nil || frameZero == rc {
		frameZero = nil
	}

	for i := 0; i < n; i++ {
		info := rc.table.InfoAtIndex(i)
		if info.IsPseudo() {
			continue
		}
		var val RegisterValue
		err := src.ReadRegister(info, &val)
		if err != nil && frameZero != nil {
			err = frameZero.ReadRegister(info, &val)
		}
		if err != nil {
			continue
		}
		if err := rc.WriteRegister(info, &val); err != nil && logflags.RegisterContext() {
			logflags.RegisterContextLogger().WithError(err).Debugf("thread %d: register %s not copied", rc.thread.ThreadID(), info.Name)
		}
	}
	return nil
}
