package regnum

import (
	"fmt"
)

// DWARF numbering used for MIPS64 by GCC and LLVM: general purpose
// registers first, then the coprocessor 0 state registers and the
// floating point unit.

const (
	MIPS64_R0       = 0 // R1 through R31 follow
	MIPS64_SP       = 29
	MIPS64_FP       = 30
	MIPS64_RA       = 31
	MIPS64_SR       = 32
	MIPS64_Lo       = 33
	MIPS64_Hi       = 34
	MIPS64_BadVAddr = 35
	MIPS64_Cause    = 36
	MIPS64_PC       = 37
	MIPS64_F0       = 38 // F1 through F31 follow
	MIPS64_FCSR     = 70
	MIPS64_FIR      = 71
)

// MIPS64_SR_FR is the bit of the status register selecting 64-bit wide
// floating point registers.
const MIPS64_SR_FR = 26

// MIPS64ToName returns the canonical name of DWARF register num.
func MIPS64ToName(num uint64) string {
	switch {
	case num < MIPS64_SR:
		return fmt.Sprintf("r%d", num)
	case num >= MIPS64_F0 && num < MIPS64_FCSR:
		return fmt.Sprintf("f%d", num-MIPS64_F0)
	}
	switch num {
	case MIPS64_SR:
		return "sr"
	case MIPS64_Lo:
		return "lo"
	case MIPS64_Hi:
		return "hi"
	case MIPS64_BadVAddr:
		return "badvaddr"
	case MIPS64_Cause:
		return "cause"
	case MIPS64_PC:
		return "pc"
	case MIPS64_FCSR:
		return "fcsr"
	case MIPS64_FIR:
		return "fir"
	}
	return fmt.Sprintf("unknown%d", num)
}
