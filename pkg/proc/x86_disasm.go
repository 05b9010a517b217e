package proc

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/arch/x86/x86asm"
)

// BranchTarget is the destination of a call or jump instruction.
type BranchTarget struct {
	// PC is the address of the instruction following the branch.
	PC uint64
	// Dest is the address the branch transfers control to.
	Dest uint64
	Call bool
	// Text is the disassembly of the branch instruction.
	Text string
}

// ErrNotBranch is returned by ResolveBranchTarget when the instruction is
// neither a call nor a jump.
var ErrNotBranch = errors.New("not a branch instruction")

// AsmRegisterValue returns the contents of the register reg of the
// x86asm package. Registers narrower than 64 bits are read through the
// corresponding pseudo-registers.
func AsmRegisterValue(rc *RegisterContext, reg x86asm.Reg) (uint64, error) {
	if reg == 0 {
		return 0, nil
	}
	info := rc.InfoByName(strings.ToLower(reg.String()), 0)
	if info == nil {
		return 0, fmt.Errorf("%v: %w", reg, ErrUnknownRegister)
	}
	var val RegisterValue
	if err := rc.ReadRegister(info, &val); err != nil {
		return 0, err
	}
	return val.Uint64()
}

// ResolveBranchTarget decodes the amd64 instruction at the start of code,
// located at pc, and computes its destination using the registers of rc
// and the memory of its process.
func ResolveBranchTarget(rc *RegisterContext, code []byte, pc uint64) (*BranchTarget, error) {
	if arch := rc.Table().Arch(); arch != "amd64" {
		return nil, fmt.Errorf("can not decode %s instructions", arch)
	}
	inst, err := x86asm.Decode(code, 64)
	if err != nil {
		return nil, err
	}
	bt := &BranchTarget{
		PC:   pc + uint64(inst.Len),
		Text: x86asm.IntelSyntax(inst, pc, func(uint64) (string, uint64) { return "", 0 }),
	}
	switch inst.Op {
	case x86asm.CALL, x86asm.LCALL:
		bt.Call = true
	case x86asm.JMP, x86asm.LJMP:
	default:
		return nil, fmt.Errorf("%s: %w", bt.Text, ErrNotBranch)
	}

	switch arg := inst.Args[0].(type) {
	case x86asm.Rel:
		bt.Dest = uint64(int64(bt.PC) + int64(arg))
	case x86asm.Imm:
		bt.Dest = uint64(arg)
	case x86asm.Reg:
		bt.Dest, err = AsmRegisterValue(rc, arg)
		if err != nil {
			return nil, err
		}
	case x86asm.Mem:
		if arg.Segment != 0 {
			return nil, fmt.Errorf("%s: segment relative branch", bt.Text)
		}
		var base uint64
		if arg.Base == x86asm.RIP {
			base = bt.PC
		} else if base, err = AsmRegisterValue(rc, arg.Base); err != nil {
			return nil, err
		}
		index, err := AsmRegisterValue(rc, arg.Index)
		if err != nil {
			return nil, err
		}
		addr := uint64(int64(base) + int64(index*uint64(arg.Scale)) + arg.Disp)
		bt.Dest, err = readUintRaw(rc, addr, inst.MemBytes)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%s: unsupported branch operand", bt.Text)
	}
	return bt, nil
}

func readUintRaw(rc *RegisterContext, addr uint64, size int) (uint64, error) {
	if size <= 0 || size > 8 {
		return 0, fmt.Errorf("invalid memory operand size %d", size)
	}
	p, err := rc.Thread().Process()
	if err != nil {
		return 0, err
	}
	buf := make([]byte, size)
	n, err := p.ReadMemory(buf, addr)
	if err != nil {
		return 0, err
	}
	if n != size {
		return 0, fmt.Errorf("read %d of %d bytes at %#x: %w", n, size, addr, ErrShortTransfer)
	}
	var val RegisterValue
	if err := val.SetBytes(buf, p.ByteOrder()); err != nil {
		return 0, err
	}
	return val.Uint64()
}
