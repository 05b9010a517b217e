package proc

import (
	"encoding/binary"
	"fmt"

	"github.com/go-delve/regctx/pkg/dwarf/regnum"
)

// Native numbers of amd64 registers are their word index in the linux
// struct user, whose first member is struct user_regs_struct.
const (
	amd64NativeR15 = iota
	amd64NativeR14
	amd64NativeR13
	amd64NativeR12
	amd64NativeRbp
	amd64NativeRbx
	amd64NativeR11
	amd64NativeR10
	amd64NativeR9
	amd64NativeR8
	amd64NativeRax
	amd64NativeRcx
	amd64NativeRdx
	amd64NativeRsi
	amd64NativeRdi
	amd64NativeOrigRax
	amd64NativeRip
	amd64NativeCs
	amd64NativeEflags
	amd64NativeRsp
	amd64NativeSs
	amd64NativeFsBase
	amd64NativeGsBase
	amd64NativeDs
	amd64NativeEs
	amd64NativeFs
	amd64NativeGs

	// offsetof(struct user, u_debugreg) / 8
	amd64NativeDR0 = 106
)

// AMD64NumGPRegisters is the number of words of the linux
// user_regs_struct.
const AMD64NumGPRegisters = amd64NativeGs + 1

var amd64BreakInstruction = []byte{0xCC}

// AMD64Arch returns the AMD64 CPU architecture.
func AMD64Arch() *Arch { return amd64Arch }

var amd64Arch = registerArch(&Arch{
	Name:                  "amd64",
	aliases:               []string{"x86_64", "x86-64"},
	ptrSize:               8,
	maxInstructionLength:  15,
	breakpointInstruction: amd64BreakInstruction,
	buildTable:            amd64RegisterTable,
})

func amd64RegisterTable() (*RegisterTable, error) {
	b := newTableBuilder()
	gpr := func(name, alt string, dwarf, native, generic uint32) {
		b.add(RegisterInfo{
			Name:     name,
			AltName:  alt,
			ByteSize: 8,
			Encoding: EncodingUint,
			Kinds:    Kinds(dwarf, dwarf, generic, native),
		})
	}

	b.set("General Purpose Registers", "gpr")
	gpr("rax", "", regnum.AMD64_Rax, amd64NativeRax, InvalidRegNum)
	gpr("rbx", "", regnum.AMD64_Rbx, amd64NativeRbx, InvalidRegNum)
	gpr("rcx", "arg4", regnum.AMD64_Rcx, amd64NativeRcx, InvalidRegNum)
	gpr("rdx", "arg3", regnum.AMD64_Rdx, amd64NativeRdx, InvalidRegNum)
	gpr("rsi", "arg2", regnum.AMD64_Rsi, amd64NativeRsi, InvalidRegNum)
	gpr("rdi", "arg1", regnum.AMD64_Rdi, amd64NativeRdi, InvalidRegNum)
	gpr("rbp", "fp", regnum.AMD64_Rbp, amd64NativeRbp, GenericFP)
	gpr("rsp", "sp", regnum.AMD64_Rsp, amd64NativeRsp, GenericSP)
	gpr("r8", "arg5", regnum.AMD64_R8, amd64NativeR8, InvalidRegNum)
	gpr("r9", "arg6", regnum.AMD64_R9, amd64NativeR9, InvalidRegNum)
	gpr("r10", "", regnum.AMD64_R10, amd64NativeR10, InvalidRegNum)
	gpr("r11", "", regnum.AMD64_R11, amd64NativeR11, InvalidRegNum)
	gpr("r12", "", regnum.AMD64_R12, amd64NativeR12, InvalidRegNum)
	gpr("r13", "", regnum.AMD64_R13, amd64NativeR13, InvalidRegNum)
	gpr("r14", "", regnum.AMD64_R14, amd64NativeR14, InvalidRegNum)
	gpr("r15", "", regnum.AMD64_R15, amd64NativeR15, InvalidRegNum)
	gpr("rip", "pc", regnum.AMD64_Rip, amd64NativeRip, GenericPC)
	b.add(RegisterInfo{
		Name:     "rflags",
		AltName:  "eflags",
		ByteSize: 8,
		Encoding: EncodingUint,
		Kinds:    Kinds(regnum.AMD64_Rflags, regnum.AMD64_Rflags, GenericFlags, amd64NativeEflags),
		flags:    eflagsDescription,
	})
	gpr("cs", "", regnum.AMD64_Cs, amd64NativeCs, InvalidRegNum)
	gpr("ss", "", regnum.AMD64_Ss, amd64NativeSs, InvalidRegNum)
	gpr("ds", "", regnum.AMD64_Ds, amd64NativeDs, InvalidRegNum)
	gpr("es", "", regnum.AMD64_Es, amd64NativeEs, InvalidRegNum)
	gpr("fs", "", regnum.AMD64_Fs, amd64NativeFs, InvalidRegNum)
	gpr("gs", "", regnum.AMD64_Gs, amd64NativeGs, InvalidRegNum)
	gpr("fs_base", "", regnum.AMD64_Fs_base, amd64NativeFsBase, InvalidRegNum)
	gpr("gs_base", "", regnum.AMD64_Gs_base, amd64NativeGsBase, InvalidRegNum)
	b.add(RegisterInfo{
		Name:     "orig_rax",
		ByteSize: 8,
		Encoding: EncodingUint,
		Kinds:    Kinds(InvalidRegNum, InvalidRegNum, InvalidRegNum, amd64NativeOrigRax),
	})
	for _, r := range []string{"ax", "bx", "cx", "dx", "si", "di", "bp", "sp"} {
		b.pseudo("e"+r, 4, "r"+r)
	}
	for i := 8; i <= 15; i++ {
		b.pseudo(fmt.Sprintf("r%dd", i), 4, fmt.Sprintf("r%d", i))
	}
	for _, r := range []string{"ax", "bx", "cx", "dx"} {
		b.pseudo(r, 2, "r"+r)
		b.pseudo(r[:1]+"l", 1, "r"+r)
	}

	b.set("Floating Point Registers", "fpu")
	for i := uint32(0); i < 8; i++ {
		b.add(RegisterInfo{
			Name:     fmt.Sprintf("st%d", i),
			ByteSize: 10,
			Encoding: EncodingVector,
			Kinds:    Kinds(regnum.AMD64_ST0+i, regnum.AMD64_ST0+i, InvalidRegNum, InvalidRegNum),
		})
	}
	b.add(RegisterInfo{Name: "fcw", ByteSize: 2, Kinds: Kinds(regnum.AMD64_CW, regnum.AMD64_CW, InvalidRegNum, InvalidRegNum)})
	b.add(RegisterInfo{Name: "fsw", ByteSize: 2, Kinds: Kinds(regnum.AMD64_SW, regnum.AMD64_SW, InvalidRegNum, InvalidRegNum)})
	for i := uint32(0); i < 16; i++ {
		b.add(RegisterInfo{
			Name:     fmt.Sprintf("xmm%d", i),
			ByteSize: 16,
			Encoding: EncodingVector,
			Kinds:    Kinds(regnum.AMD64_XMM0+i, regnum.AMD64_XMM0+i, InvalidRegNum, InvalidRegNum),
		})
	}
	b.add(RegisterInfo{
		Name:     "mxcsr",
		ByteSize: 4,
		Encoding: EncodingUint,
		Kinds:    Kinds(regnum.AMD64_MXCSR, regnum.AMD64_MXCSR, InvalidRegNum, InvalidRegNum),
		flags:    mxcsrDescription,
	})

	b.set("Debug Registers", "dbg")
	for _, i := range []uint32{0, 1, 2, 3, 6, 7} {
		b.add(RegisterInfo{
			Name:     fmt.Sprintf("dr%d", i),
			ByteSize: 8,
			Encoding: EncodingUint,
			Kinds:    Kinds(InvalidRegNum, InvalidRegNum, InvalidRegNum, amd64NativeDR0+i),
		})
	}

	return b.build("amd64", binary.LittleEndian, 8)
}
