package proc

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// RegisterKind identifies one of the independent numbering schemes used to
// name the same physical register.
type RegisterKind uint8

const (
	// KindEHFrame is the numbering used by .eh_frame unwind tables.
	KindEHFrame RegisterKind = iota
	// KindDWARF is the numbering used by DWARF debug information.
	KindDWARF
	// KindGeneric maps registers to their architecture independent role,
	// see GenericPC and following.
	KindGeneric
	// KindNative is the numbering used by the backend that stores the
	// register (ptrace slot, remote protocol register number, etc).
	KindNative

	numRegisterKinds
)

var registerKindNames = [numRegisterKinds]string{
	KindEHFrame: "ehframe",
	KindDWARF:   "dwarf",
	KindGeneric: "generic",
	KindNative:  "native",
}

func (k RegisterKind) String() string {
	if k < numRegisterKinds {
		return registerKindNames[k]
	}
	return fmt.Sprintf("RegisterKind(%d)", uint8(k))
}

// ParseRegisterKind parses the name of a register kind.
func ParseRegisterKind(s string) (RegisterKind, error) {
	for k, name := range registerKindNames {
		if strings.EqualFold(s, name) {
			return RegisterKind(k), nil
		}
	}
	return 0, fmt.Errorf("unknown register kind %q", s)
}

// InvalidRegNum marks a register that has no number in a given kind. It is
// also returned by lookups that fail.
const InvalidRegNum = ^uint32(0)

// Register numbers of KindGeneric.
const (
	GenericPC uint32 = iota
	GenericSP
	GenericFP
	GenericRA
	GenericFlags
)

var genericRoleNames = []string{
	GenericPC:    "pc",
	GenericSP:    "sp",
	GenericFP:    "fp",
	GenericRA:    "ra",
	GenericFlags: "flags",
}

// GenericRoleName returns the name of a KindGeneric register number.
func GenericRoleName(num uint32) string {
	if num < uint32(len(genericRoleNames)) {
		return genericRoleNames[num]
	}
	return fmt.Sprintf("generic%d", num)
}

// ParseGenericRole parses the name of a generic register role.
func ParseGenericRole(s string) (uint32, error) {
	for i, name := range genericRoleNames {
		if strings.EqualFold(s, name) {
			return uint32(i), nil
		}
	}
	return InvalidRegNum, fmt.Errorf("unknown generic register %q", s)
}

// Encoding describes how the bytes of a register should be interpreted
// when displayed.
type Encoding uint8

const (
	EncodingUint Encoding = iota
	EncodingSint
	EncodingIEEE754
	EncodingVector
)

func (e Encoding) String() string {
	switch e {
	case EncodingUint:
		return "uint"
	case EncodingSint:
		return "sint"
	case EncodingIEEE754:
		return "ieee754"
	case EncodingVector:
		return "vector"
	}
	return fmt.Sprintf("Encoding(%d)", uint8(e))
}

// RegisterInfo describes a register of an architecture. RegisterInfo
// values returned by a RegisterTable are shared and must not be modified.
type RegisterInfo struct {
	Name    string
	AltName string
	// ByteSize is the size of the register. For registers with a
	// DynamicSizeExpr it is the size used when the expression can not be
	// evaluated, and the size of the storage reserved for the register.
	ByteSize int
	// Offset of the register in the register bank of backends that store
	// registers contiguously.
	Offset   int
	Encoding Encoding
	// Kinds maps each RegisterKind to the number of this register in that
	// kind, or InvalidRegNum.
	Kinds [numRegisterKinds]uint32
	// ValueRegs lists the indices of the registers this register is
	// composed of. A register with ValueRegs is a pseudo-register.
	ValueRegs []int
	// DynamicSizeExpr is a DWARF expression evaluating to 0 if the
	// register is 4 bytes wide and to 1 if it is 8 bytes wide.
	DynamicSizeExpr []byte

	// Index of the register in its table.
	Index int

	flags flagRegisterDescr
}

// Num returns the number of the register in the given kind.
func (ri *RegisterInfo) Num(kind RegisterKind) uint32 {
	if kind >= numRegisterKinds {
		return InvalidRegNum
	}
	return ri.Kinds[kind]
}

// IsPseudo returns true if the register is derived from other registers.
func (ri *RegisterInfo) IsPseudo() bool {
	return len(ri.ValueRegs) > 0
}

// HasDynamicSize returns true if the size of the register depends on the
// state of the target.
func (ri *RegisterInfo) HasDynamicSize() bool {
	return len(ri.DynamicSizeExpr) > 0
}

func (ri *RegisterInfo) matchesName(name string) bool {
	return strings.EqualFold(name, ri.Name) || (ri.AltName != "" && strings.EqualFold(name, ri.AltName))
}

// NoKinds returns a kind mapping where every kind is InvalidRegNum.
func NoKinds() [numRegisterKinds]uint32 {
	var r [numRegisterKinds]uint32
	for i := range r {
		r[i] = InvalidRegNum
	}
	return r
}

// Kinds builds a kind mapping, ehframe, dwarf, generic and native numbers
// in this order.
func Kinds(ehframe, dwarf, generic, native uint32) [numRegisterKinds]uint32 {
	return [numRegisterKinds]uint32{
		KindEHFrame: ehframe,
		KindDWARF:   dwarf,
		KindGeneric: generic,
		KindNative:  native,
	}
}

// RegisterSet is a named group of registers.
type RegisterSet struct {
	Name      string
	ShortName string
	Registers []int
}

var (
	// ErrUnknownRegister is returned when the value of an unknown
	// register is requested.
	ErrUnknownRegister = errors.New("unknown register")
	// ErrProcessGone is returned when the process owning a register context
	// does not exist anymore.
	ErrProcessGone = errors.New("invalid process")
	// ErrShortTransfer is returned when fewer bytes than requested were
	// moved to or from target memory.
	ErrShortTransfer = errors.New("short memory transfer")
	// ErrRegisterTooSmall is returned when more bytes than a register value
	// can hold are moved into it.
	ErrRegisterTooSmall = errors.New("register too small to receive memory data")
	// ErrThreadMismatch is returned when register values are copied between
	// contexts of different threads.
	ErrThreadMismatch = errors.New("register contexts belong to different threads")
	// ErrReadOnly is returned by backends that can not write registers.
	ErrReadOnly = errors.New("registers are read only")
)

// FormatRegister returns a human readable description of val.
func FormatRegister(info *RegisterInfo, val *RegisterValue) string {
	if info.flags != nil {
		if x, err := val.Uint64(); err == nil {
			return info.flags.Describe(x, val.Size()*8)
		}
	}
	switch {
	case info.Encoding == EncodingIEEE754 && val.Size() == 4:
		x, _ := val.Uint64()
		return fmt.Sprintf("%#08x\t%g", x, math.Float32frombits(uint32(x)))
	case info.Encoding == EncodingIEEE754 && val.Size() == 8:
		x, _ := val.Uint64()
		return fmt.Sprintf("%#016x\t%g", x, math.Float64frombits(x))
	case val.Size() <= 8:
		x, _ := val.Uint64()
		return fmt.Sprintf("%#0*x", val.Size()*2, x)
	}
	return val.String()
}

type flagRegisterDescr []flagDescr
type flagDescr struct {
	name string
	mask uint64
}

var mxcsrDescription flagRegisterDescr = []flagDescr{
	{"FZ", 1 << 15},
	{"RZ/RN", 1<<14 | 1<<13},
	{"PM", 1 << 12},
	{"UM", 1 << 11},
	{"OM", 1 << 10},
	{"ZM", 1 << 9},
	{"DM", 1 << 8},
	{"IM", 1 << 7},
	{"DAZ", 1 << 6},
	{"PE", 1 << 5},
	{"UE", 1 << 4},
	{"OE", 1 << 3},
	{"ZE", 1 << 2},
	{"DE", 1 << 1},
	{"IE", 1 << 0},
}

var eflagsDescription flagRegisterDescr = []flagDescr{
	{"CF", 1 << 0},
	{"", 1 << 1},
	{"PF", 1 << 2},
	{"AF", 1 << 4},
	{"ZF", 1 << 6},
	{"SF", 1 << 7},
	{"TF", 1 << 8},
	{"IF", 1 << 9},
	{"DF", 1 << 10},
	{"OF", 1 << 11},
	{"IOPL", 1<<12 | 1<<13},
	{"NT", 1 << 14},
	{"RF", 1 << 16},
	{"VM", 1 << 17},
	{"AC", 1 << 18},
	{"VIF", 1 << 19},
	{"VIP", 1 << 20},
	{"ID", 1 << 21},
}

var mipsStatusDescription flagRegisterDescr = []flagDescr{
	{"IE", 1 << 0},
	{"EXL", 1 << 1},
	{"ERL", 1 << 2},
	{"KSU", 1<<3 | 1<<4},
	{"UX", 1 << 5},
	{"SX", 1 << 6},
	{"KX", 1 << 7},
	{"IM", 0xff << 8},
	{"FR", 1 << 26},
	{"CU1", 1 << 29},
}

func (descr flagRegisterDescr) Mask() uint64 {
	var r uint64
	for _, f := range descr {
		r = r | f.mask
	}
	return r
}

func (descr flagRegisterDescr) Describe(reg uint64, bitsize int) string {
	var r []string
	for _, f := range descr {
		if f.name == "" {
			continue
		}
		// rbm is f.mask with only the right-most bit set:
		// 0001 1100 -> 0000 0100
		rbm := f.mask & -f.mask
		if rbm == f.mask {
			if reg&f.mask != 0 {
				r = append(r, f.name)
			}
		} else {
			x := (reg & f.mask) >> uint64(math.Log2(float64(rbm)))
			r = append(r, fmt.Sprintf("%s=%x", f.name, x))
		}
	}
	if reg & ^descr.Mask() != 0 {
		r = append(r, fmt.Sprintf("unknown_flags=%x", reg&^descr.Mask()))
	}
	return fmt.Sprintf("%#0*x\t[%s]", bitsize/4, reg, strings.Join(r, " "))
}
