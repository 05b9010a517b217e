package proc

import (
	"encoding/binary"
	"fmt"

	"github.com/go-delve/regctx/pkg/dwarf/op"
	"github.com/go-delve/regctx/pkg/dwarf/regnum"
)

// Native numbers of mips64 registers are the register numbers of
// PTRACE_PEEKUSR.
const (
	mips64NativeFPRBase  = 32
	mips64NativePC       = 64
	mips64NativeCause    = 65
	mips64NativeBadVAddr = 66
	mips64NativeHi       = 67
	mips64NativeLo       = 68
	mips64NativeFCSR     = 69
	mips64NativeFIR      = 70
)

// mips64FRSizeExpr computes the FR bit of the status register: the
// floating point registers are 8 bytes wide when it is set, 4 bytes wide
// otherwise.
var mips64FRSizeExpr = []byte{
	byte(op.DW_OP_bregx), regnum.MIPS64_SR, 0x00,
	byte(op.DW_OP_lit0 + regnum.MIPS64_SR_FR),
	byte(op.DW_OP_shr),
	byte(op.DW_OP_lit1),
	byte(op.DW_OP_and),
}

// mips64BreakInstruction is the BREAK instruction.
var mips64BreakInstruction = []byte{0x00, 0x00, 0x00, 0x0d}

var mips64GPRAltNames = [32]string{
	"zero", "at", "v0", "v1", "a0", "a1", "a2", "a3",
	"a4", "a5", "a6", "a7", "t0", "t1", "t2", "t3",
	"s0", "s1", "s2", "s3", "s4", "s5", "s6", "s7",
	"t8", "t9", "k0", "k1", "gp", "sp", "fp", "ra",
}

// MIPS64Arch returns the big endian MIPS64 CPU architecture.
func MIPS64Arch() *Arch { return mips64Arch }

var mips64Arch = registerArch(&Arch{
	Name:                  "mips64",
	aliases:               []string{"mips64be"},
	ptrSize:               8,
	maxInstructionLength:  4,
	breakpointInstruction: mips64BreakInstruction,
	buildTable:            mips64RegisterTable,
})

func mips64RegisterTable() (*RegisterTable, error) {
	b := newTableBuilder()

	b.set("General Purpose Registers", "gpr")
	for i := uint32(0); i < 32; i++ {
		ri := RegisterInfo{
			Name:     fmt.Sprintf("r%d", i),
			AltName:  mips64GPRAltNames[i],
			ByteSize: 8,
			Encoding: EncodingUint,
			Kinds:    Kinds(regnum.MIPS64_R0+i, regnum.MIPS64_R0+i, InvalidRegNum, i),
		}
		switch i {
		case regnum.MIPS64_SP:
			ri.Kinds[KindGeneric] = GenericSP
		case regnum.MIPS64_FP:
			ri.Kinds[KindGeneric] = GenericFP
		case regnum.MIPS64_RA:
			ri.Kinds[KindGeneric] = GenericRA
		}
		b.add(ri)
	}
	ctrl := func(name string, dwarf, generic, native uint32, flags flagRegisterDescr) {
		b.add(RegisterInfo{
			Name:     name,
			ByteSize: 8,
			Encoding: EncodingUint,
			Kinds:    Kinds(dwarf, dwarf, generic, native),
			flags:    flags,
		})
	}
	ctrl("sr", regnum.MIPS64_SR, GenericFlags, InvalidRegNum, mipsStatusDescription)
	ctrl("lo", regnum.MIPS64_Lo, InvalidRegNum, mips64NativeLo, nil)
	ctrl("hi", regnum.MIPS64_Hi, InvalidRegNum, mips64NativeHi, nil)
	ctrl("badvaddr", regnum.MIPS64_BadVAddr, InvalidRegNum, mips64NativeBadVAddr, nil)
	ctrl("cause", regnum.MIPS64_Cause, InvalidRegNum, mips64NativeCause, nil)
	ctrl("pc", regnum.MIPS64_PC, GenericPC, mips64NativePC, nil)

	b.set("Floating Point Registers", "fpu")
	for i := uint32(0); i < 32; i++ {
		b.add(RegisterInfo{
			Name:            fmt.Sprintf("f%d", i),
			ByteSize:        8,
			Encoding:        EncodingIEEE754,
			Kinds:           Kinds(regnum.MIPS64_F0+i, regnum.MIPS64_F0+i, InvalidRegNum, mips64NativeFPRBase+i),
			DynamicSizeExpr: mips64FRSizeExpr,
		})
	}
	b.add(RegisterInfo{
		Name:     "fcsr",
		ByteSize: 4,
		Encoding: EncodingUint,
		Kinds:    Kinds(regnum.MIPS64_FCSR, regnum.MIPS64_FCSR, InvalidRegNum, mips64NativeFCSR),
	})
	b.add(RegisterInfo{
		Name:     "fir",
		ByteSize: 4,
		Encoding: EncodingUint,
		Kinds:    Kinds(regnum.MIPS64_FIR, regnum.MIPS64_FIR, InvalidRegNum, mips64NativeFIR),
	})

	return b.build("mips64", binary.BigEndian, 8)
}
