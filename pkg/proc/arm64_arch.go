package proc

import (
	"encoding/binary"
	"fmt"

	"github.com/go-delve/regctx/pkg/dwarf/regnum"
)

// Native numbers of arm64 registers are their index in the linux
// struct user_pt_regs.
const (
	arm64NativeX0     = 0
	arm64NativeSP     = 31
	arm64NativePC     = 32
	arm64NativePstate = 33
)

// arm64BreakInstruction is the BRK #0 instruction.
var arm64BreakInstruction = []byte{0x0, 0x0, 0x20, 0xd4}

// ARM64Arch returns the ARM64 CPU architecture.
func ARM64Arch() *Arch { return arm64Arch }

var arm64Arch = registerArch(&Arch{
	Name:                  "arm64",
	aliases:               []string{"aarch64"},
	ptrSize:               8,
	maxInstructionLength:  4,
	breakpointInstruction: arm64BreakInstruction,
	buildTable:            arm64RegisterTable,
})

func arm64RegisterTable() (*RegisterTable, error) {
	b := newTableBuilder()

	b.set("General Purpose Registers", "gpr")
	for i := uint32(0); i <= 30; i++ {
		ri := RegisterInfo{
			Name:     fmt.Sprintf("x%d", i),
			ByteSize: 8,
			Encoding: EncodingUint,
			Kinds:    Kinds(regnum.ARM64_X0+i, regnum.ARM64_X0+i, InvalidRegNum, arm64NativeX0+i),
		}
		switch {
		case i < 8:
			ri.AltName = fmt.Sprintf("arg%d", i+1)
		case i == regnum.ARM64_BP:
			ri.AltName = "fp"
			ri.Kinds[KindGeneric] = GenericFP
		case i == regnum.ARM64_LR:
			ri.AltName = "lr"
			ri.Kinds[KindGeneric] = GenericRA
		}
		b.add(ri)
	}
	b.add(RegisterInfo{
		Name:     "sp",
		ByteSize: 8,
		Encoding: EncodingUint,
		Kinds:    Kinds(regnum.ARM64_SP, regnum.ARM64_SP, GenericSP, arm64NativeSP),
	})
	b.add(RegisterInfo{
		Name:     "pc",
		ByteSize: 8,
		Encoding: EncodingUint,
		Kinds:    Kinds(regnum.ARM64_PC, regnum.ARM64_PC, GenericPC, arm64NativePC),
	})
	b.add(RegisterInfo{
		Name:     "cpsr",
		AltName:  "pstate",
		ByteSize: 4,
		Encoding: EncodingUint,
		Kinds:    Kinds(InvalidRegNum, InvalidRegNum, GenericFlags, arm64NativePstate),
	})
	for i := 0; i <= 30; i++ {
		b.pseudo(fmt.Sprintf("w%d", i), 4, fmt.Sprintf("x%d", i))
	}

	b.set("Floating Point Registers", "fpu")
	for i := uint32(0); i < 32; i++ {
		b.add(RegisterInfo{
			Name:     fmt.Sprintf("v%d", i),
			ByteSize: 16,
			Encoding: EncodingVector,
			Kinds:    Kinds(regnum.ARM64_V0+i, regnum.ARM64_V0+i, InvalidRegNum, InvalidRegNum),
		})
	}
	b.add(RegisterInfo{Name: "fpsr", ByteSize: 4, Kinds: NoKinds()})
	b.add(RegisterInfo{Name: "fpcr", ByteSize: 4, Kinds: NoKinds()})
	for i := 0; i < 32; i++ {
		b.pseudo(fmt.Sprintf("d%d", i), 8, fmt.Sprintf("v%d", i))
		b.pseudo(fmt.Sprintf("s%d", i), 4, fmt.Sprintf("v%d", i))
	}

	return b.build("arm64", binary.LittleEndian, 8)
}
