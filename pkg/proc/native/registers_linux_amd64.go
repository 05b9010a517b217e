package native

import (
	"encoding/binary"
	"syscall"
	"unsafe"

	sys "golang.org/x/sys/unix"

	"github.com/go-delve/regctx/pkg/logflags"
	"github.com/go-delve/regctx/pkg/proc"
	"github.com/go-delve/regctx/pkg/proc/amd64util"
)

const debugRegUserOffset = 848 // offset of debug registers in the user struct, see source/arch/x86/kernel/ptrace.c

// amd64Registers is the register file of a thread, as returned by
// PTRACE_GETREGS, PTRACE_GETFPREGS and PTRACE_PEEKUSR.
type amd64Registers struct {
	gp    sys.PtraceRegs
	fp    amd64util.AMD64PtraceFpRegs
	debug [8]uint64
}

func (regs *amd64Registers) words() *[proc.AMD64NumGPRegisters]uint64 {
	return (*[proc.AMD64NumGPRegisters]uint64)(unsafe.Pointer(&regs.gp))
}

// debugRegIndex returns the index in the u_debugreg array of the register
// with native number num.
func debugRegIndex(num uint32) (int, bool) {
	off := uint64(num) * 8
	if off < debugRegUserOffset || off >= debugRegUserOffset+8*8 {
		return 0, false
	}
	return int((off - debugRegUserOffset) / 8), true
}

// encode lays out regs into data according to the offsets of table.
func (regs *amd64Registers) encode(table *proc.RegisterTable, data []byte) {
	words := regs.words()
	var buf [8]byte
	for i := 0; i < table.Count(); i++ {
		info := table.InfoAtIndex(i)
		if info.IsPseudo() {
			continue
		}
		slot := data[info.Offset : info.Offset+info.ByteSize]
		num := info.Num(proc.KindNative)
		switch {
		case num < proc.AMD64NumGPRegisters:
			binary.LittleEndian.PutUint64(buf[:], words[num])
			copy(slot, buf[:])
		case num != proc.InvalidRegNum:
			if idx, ok := debugRegIndex(num); ok {
				binary.LittleEndian.PutUint64(buf[:], regs.debug[idx])
				copy(slot, buf[:])
			}
		default:
			if val, ok := regs.fp.Register(info.Name); ok {
				copy(slot, val)
			}
		}
	}
}

// decode is the inverse of encode.
func (regs *amd64Registers) decode(table *proc.RegisterTable, data []byte) {
	words := regs.words()
	for i := 0; i < table.Count(); i++ {
		info := table.InfoAtIndex(i)
		if info.IsPseudo() {
			continue
		}
		var buf [8]byte
		slot := data[info.Offset : info.Offset+info.ByteSize]
		num := info.Num(proc.KindNative)
		switch {
		case num < proc.AMD64NumGPRegisters:
			copy(buf[:], slot)
			words[num] = binary.LittleEndian.Uint64(buf[:])
		case num != proc.InvalidRegNum:
			if idx, ok := debugRegIndex(num); ok {
				copy(buf[:], slot)
				regs.debug[idx] = binary.LittleEndian.Uint64(buf[:])
			}
		default:
			regs.fp.SetRegister(info.Name, slot)
		}
	}
}

type amd64Thread struct {
	dbp    *Process
	tid    int
	table  *proc.RegisterTable
	loaded amd64Registers
}

func newThreadBackend(dbp *Process, tid int) (proc.RegisterBackend, error) {
	t := &amd64Thread{dbp: dbp, tid: tid, table: dbp.arch.RegisterTable()}
	bank := proc.NewRegisterBank(t.table, proc.RegisterBankConfig{Load: t.load, Store: t.store})
	return amd64util.NewDebugRegisterBank(t.table, bank)
}

func (t *amd64Thread) load(data []byte) error {
	var regs amd64Registers
	var err error
	t.dbp.execPtraceFunc(func() {
		err = sys.PtraceGetRegs(t.tid, &regs.gp)
		if err != nil {
			return
		}
		var fpregs [amd64util.AMD64PtraceFpRegsSize]byte
		_, _, errno := syscall.Syscall6(syscall.SYS_PTRACE, sys.PTRACE_GETFPREGS, uintptr(t.tid), 0, uintptr(unsafe.Pointer(&fpregs[0])), 0, 0)
		if errno != 0 {
			err = errno
			return
		}
		var fp *amd64util.AMD64PtraceFpRegs
		fp, err = amd64util.ParseFpRegs(fpregs[:])
		if err != nil {
			return
		}
		regs.fp = *fp
		for i := range regs.debug {
			if i == 4 || i == 5 {
				// Linux will return EIO for DR4 and DR5
				continue
			}
			regs.debug[i], err = ptracePeekUser(t.tid, debugRegUserOffset+uintptr(i)*8)
			if err != nil {
				return
			}
		}
	})
	if err != nil {
		return err
	}
	regs.encode(t.table, data)
	t.loaded = regs
	return nil
}

func (t *amd64Thread) store(data []byte) error {
	regs := t.loaded
	regs.decode(t.table, data)

	gpChanged := regs.gp != t.loaded.gp
	fpChanged := regs.fp != t.loaded.fp
	debugChanged := regs.debug != t.loaded.debug
	if logflags.Native() {
		logflags.NativeLogger().Debugf("thread %d: storing registers (gp %v, fp %v, debug %v)", t.tid, gpChanged, fpChanged, debugChanged)
	}

	var err error
	t.dbp.execPtraceFunc(func() {
		if gpChanged {
			if err = sys.PtraceSetRegs(t.tid, &regs.gp); err != nil {
				return
			}
		}
		if fpChanged {
			fpregs := regs.fp.Bytes()
			_, _, errno := syscall.Syscall6(syscall.SYS_PTRACE, sys.PTRACE_SETFPREGS, uintptr(t.tid), 0, uintptr(unsafe.Pointer(&fpregs[0])), 0, 0)
			if errno != 0 {
				err = errno
				return
			}
		}
		if debugChanged {
			// DR7 last, the kernel validates it against the addresses
			for _, i := range []int{0, 1, 2, 3, 6, 7} {
				if regs.debug[i] == t.loaded.debug[i] {
					continue
				}
				if err = ptracePokeUser(t.tid, debugRegUserOffset+uintptr(i)*8, regs.debug[i]); err != nil {
					return
				}
			}
		}
	})
	if err != nil {
		return err
	}
	t.loaded = regs
	return nil
}
