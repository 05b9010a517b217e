package op

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/go-delve/regctx/pkg/dwarf/leb128"
)

// Opcode represent a DWARF stack program instruction.
// See ./opcodes.go for a full list.
type Opcode byte

type stackfn func(Opcode, *context) error

// ReadMemoryFunc reads len(buf) bytes of target memory at addr into buf.
type ReadMemoryFunc func(buf []byte, addr uint64) (int, error)

type context struct {
	buf        *bytes.Reader
	prog       []byte
	stack      []int64
	pieces     []Piece
	reg        bool
	ptrSize    int
	byteOrder  binary.ByteOrder
	readMemory ReadMemoryFunc

	DwarfRegisters
}

// Piece is a piece of memory stored either at an address or in a register.
type Piece struct {
	Size       int
	Addr       int64
	RegNum     uint64
	IsRegister bool
}

var (
	// ErrStackUnderflow is returned when an operation pops more values than
	// the stack holds.
	ErrStackUnderflow = errors.New("DWARF stack underflow")
	// ErrEmptyStack is returned when a program terminates without leaving a
	// value on the stack.
	ErrEmptyStack = errors.New("empty OP stack")
)

var oplut map[Opcode]stackfn

func init() {
	oplut = map[Opcode]stackfn{
		DW_OP_call_frame_cfa: callframecfa,
		DW_OP_addr:           addr,
		DW_OP_deref:          deref,
		DW_OP_deref_size:     deref,
		DW_OP_const1u:        constn,
		DW_OP_const1s:        constn,
		DW_OP_const2u:        constn,
		DW_OP_const2s:        constn,
		DW_OP_const4u:        constn,
		DW_OP_const4s:        constn,
		DW_OP_const8u:        constn,
		DW_OP_const8s:        constn,
		DW_OP_constu:         constu,
		DW_OP_consts:         consts,
		DW_OP_dup:            dup,
		DW_OP_drop:           drop,
		DW_OP_over:           pick,
		DW_OP_pick:           pick,
		DW_OP_swap:           swap,
		DW_OP_rot:            rot,
		DW_OP_abs:            unary,
		DW_OP_neg:            unary,
		DW_OP_not:            unary,
		DW_OP_and:            binop,
		DW_OP_div:            binop,
		DW_OP_minus:          binop,
		DW_OP_mod:            binop,
		DW_OP_mul:            binop,
		DW_OP_or:             binop,
		DW_OP_plus:           binop,
		DW_OP_shl:            binop,
		DW_OP_shr:            binop,
		DW_OP_shra:           binop,
		DW_OP_xor:            binop,
		DW_OP_eq:             binop,
		DW_OP_ge:             binop,
		DW_OP_gt:             binop,
		DW_OP_le:             binop,
		DW_OP_lt:             binop,
		DW_OP_ne:             binop,
		DW_OP_plus_uconst:    plusuconsts,
		DW_OP_bra:            branch,
		DW_OP_skip:           branch,
		DW_OP_fbreg:          framebase,
		DW_OP_regx:           register,
		DW_OP_bregx:          bregister,
		DW_OP_piece:          piece,
		DW_OP_nop:            nop,
		DW_OP_stack_value:    nop,
	}
	for i := Opcode(0); i <= DW_OP_lit31-DW_OP_lit0; i++ {
		oplut[DW_OP_lit0+i] = literal
		oplut[DW_OP_reg0+i] = register
		oplut[DW_OP_breg0+i] = bregister
	}
}

// ExecuteStackProgram executes a DWARF location expression and returns
// either an address (int64), or a slice of Pieces for location expressions
// that don't evaluate to an address (such as register and composite expressions).
// Multi-byte operands are decoded using regs.ByteOrder, little endian if
// unset. readMemory may be nil, in which case dereferencing operations fail.
func ExecuteStackProgram(regs DwarfRegisters, instructions []byte, ptrSize int, readMemory ReadMemoryFunc) (int64, []Piece, error) {
	ctxt := &context{
		buf:            bytes.NewReader(instructions),
		prog:           instructions,
		stack:          make([]int64, 0, 3),
		DwarfRegisters: regs,
		ptrSize:        ptrSize,
		byteOrder:      regs.ByteOrder,
		readMemory:     readMemory,
	}
	if ctxt.byteOrder == nil {
		ctxt.byteOrder = binary.LittleEndian
	}

	for {
		opcodeByte, err := ctxt.buf.ReadByte()
		if err != nil {
			break
		}
		opcode := Opcode(opcodeByte)
		if ctxt.reg && opcode != DW_OP_piece {
			break
		}
		fn, ok := oplut[opcode]
		if !ok {
			return 0, nil, fmt.Errorf("invalid instruction %#v", opcode)
		}

		err = fn(opcode, ctxt)
		if err != nil {
			return 0, nil, err
		}
	}

	if ctxt.pieces != nil {
		return 0, ctxt.pieces, nil
	}

	if len(ctxt.stack) == 0 {
		return 0, nil, ErrEmptyStack
	}

	return ctxt.stack[len(ctxt.stack)-1], nil, nil
}

// PrettyPrint prints the DWARF stack program instructions to `out`.
func PrettyPrint(out io.Writer, instructions []byte, byteOrder binary.ByteOrder, ptrSize int) {
	in := bytes.NewReader(instructions)
	if byteOrder == nil {
		byteOrder = binary.LittleEndian
	}

	for {
		opcode, err := in.ReadByte()
		if err != nil {
			break
		}
		if name, hasname := opcodeName[Opcode(opcode)]; hasname {
			io.WriteString(out, name)
			out.Write([]byte{' '})
		} else {
			fmt.Fprintf(out, "%#x ", opcode)
		}
		for _, arg := range opcodeArgs[Opcode(opcode)] {
			switch arg {
			case 's':
				n, _, _ := leb128.DecodeSigned(in)
				fmt.Fprintf(out, "%#x ", n)
			case 'u':
				n, _, _ := leb128.DecodeUnsigned(in)
				fmt.Fprintf(out, "%#x ", n)
			case 'a':
				x, _ := readUint(in, byteOrder, ptrSize)
				fmt.Fprintf(out, "%#x ", x)
			default:
				x, _ := readUint(in, byteOrder, int(arg-'0'))
				fmt.Fprintf(out, "%#x ", x)
			}
		}
	}
}

func readUint(in io.Reader, order binary.ByteOrder, size int) (uint64, error) {
	var buf [8]byte
	if size <= 0 || size > len(buf) {
		return 0, fmt.Errorf("unsupported operand size %d", size)
	}
	if _, err := io.ReadFull(in, buf[:size]); err != nil {
		return 0, fmt.Errorf("truncated operand: %v", err)
	}
	return decodeUint(buf[:size], order), nil
}

func decodeUint(b []byte, order binary.ByteOrder) uint64 {
	switch len(b) {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(order.Uint16(b))
	case 4:
		return uint64(order.Uint32(b))
	case 8:
		return order.Uint64(b)
	}
	var v uint64
	if order == binary.BigEndian {
		for _, x := range b {
			v = v<<8 | uint64(x)
		}
		return v
	}
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func signExtend(v uint64, size int) int64 {
	shift := 64 - 8*uint(size)
	return int64(v<<shift) >> shift
}

func (ctxt *context) push(v int64) {
	ctxt.stack = append(ctxt.stack, v)
}

func (ctxt *context) pop() (int64, error) {
	if len(ctxt.stack) == 0 {
		return 0, ErrStackUnderflow
	}
	v := ctxt.stack[len(ctxt.stack)-1]
	ctxt.stack = ctxt.stack[:len(ctxt.stack)-1]
	return v, nil
}

func (ctxt *context) uleb() (uint64, error) {
	n, _, err := leb128.DecodeUnsigned(ctxt.buf)
	return n, err
}

func (ctxt *context) sleb() (int64, error) {
	n, _, err := leb128.DecodeSigned(ctxt.buf)
	return n, err
}

func callframecfa(opcode Opcode, ctxt *context) error {
	if ctxt.CFA == 0 {
		return errors.New("could not retrieve CFA for current PC")
	}
	ctxt.push(ctxt.CFA)
	return nil
}

func addr(opcode Opcode, ctxt *context) error {
	v, err := readUint(ctxt.buf, ctxt.byteOrder, ctxt.ptrSize)
	if err != nil {
		return err
	}
	ctxt.push(int64(v + ctxt.StaticBase))
	return nil
}

func deref(opcode Opcode, ctxt *context) error {
	sz := ctxt.ptrSize
	if opcode == DW_OP_deref_size {
		b, err := ctxt.buf.ReadByte()
		if err != nil {
			return fmt.Errorf("truncated operand: %v", err)
		}
		sz = int(b)
	}
	if sz <= 0 || sz > 8 {
		return fmt.Errorf("invalid dereference size %d", sz)
	}
	a, err := ctxt.pop()
	if err != nil {
		return err
	}
	if ctxt.readMemory == nil {
		return errors.New("memory not available")
	}
	buf := make([]byte, sz)
	n, err := ctxt.readMemory(buf, uint64(a))
	if err != nil {
		return err
	}
	if n != sz {
		return fmt.Errorf("read %d of %d bytes at %#x", n, sz, uint64(a))
	}
	ctxt.push(int64(decodeUint(buf, ctxt.byteOrder)))
	return nil
}

func literal(opcode Opcode, ctxt *context) error {
	ctxt.push(int64(opcode - DW_OP_lit0))
	return nil
}

func constn(opcode Opcode, ctxt *context) error {
	var sz int
	switch opcode {
	case DW_OP_const1u, DW_OP_const1s:
		sz = 1
	case DW_OP_const2u, DW_OP_const2s:
		sz = 2
	case DW_OP_const4u, DW_OP_const4s:
		sz = 4
	default:
		sz = 8
	}
	v, err := readUint(ctxt.buf, ctxt.byteOrder, sz)
	if err != nil {
		return err
	}
	switch opcode {
	case DW_OP_const1s, DW_OP_const2s, DW_OP_const4s, DW_OP_const8s:
		ctxt.push(signExtend(v, sz))
	default:
		ctxt.push(int64(v))
	}
	return nil
}

func constu(opcode Opcode, ctxt *context) error {
	num, err := ctxt.uleb()
	if err != nil {
		return err
	}
	ctxt.push(int64(num))
	return nil
}

func consts(opcode Opcode, ctxt *context) error {
	num, err := ctxt.sleb()
	if err != nil {
		return err
	}
	ctxt.push(num)
	return nil
}

func dup(opcode Opcode, ctxt *context) error {
	if len(ctxt.stack) == 0 {
		return ErrStackUnderflow
	}
	ctxt.push(ctxt.stack[len(ctxt.stack)-1])
	return nil
}

func drop(opcode Opcode, ctxt *context) error {
	_, err := ctxt.pop()
	return err
}

func pick(opcode Opcode, ctxt *context) error {
	idx := 1
	if opcode == DW_OP_pick {
		b, err := ctxt.buf.ReadByte()
		if err != nil {
			return fmt.Errorf("truncated operand: %v", err)
		}
		idx = int(b)
	}
	if idx >= len(ctxt.stack) {
		return ErrStackUnderflow
	}
	ctxt.push(ctxt.stack[len(ctxt.stack)-1-idx])
	return nil
}

func swap(opcode Opcode, ctxt *context) error {
	n := len(ctxt.stack)
	if n < 2 {
		return ErrStackUnderflow
	}
	ctxt.stack[n-1], ctxt.stack[n-2] = ctxt.stack[n-2], ctxt.stack[n-1]
	return nil
}

func rot(opcode Opcode, ctxt *context) error {
	n := len(ctxt.stack)
	if n < 3 {
		return ErrStackUnderflow
	}
	ctxt.stack[n-1], ctxt.stack[n-2], ctxt.stack[n-3] = ctxt.stack[n-2], ctxt.stack[n-3], ctxt.stack[n-1]
	return nil
}

func unary(opcode Opcode, ctxt *context) error {
	v, err := ctxt.pop()
	if err != nil {
		return err
	}
	switch opcode {
	case DW_OP_abs:
		if v < 0 {
			v = -v
		}
	case DW_OP_neg:
		v = -v
	case DW_OP_not:
		v = ^v
	}
	ctxt.push(v)
	return nil
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func binop(opcode Opcode, ctxt *context) error {
	b, err := ctxt.pop()
	if err != nil {
		return err
	}
	a, err := ctxt.pop()
	if err != nil {
		return err
	}
	var r int64
	switch opcode {
	case DW_OP_and:
		r = a & b
	case DW_OP_or:
		r = a | b
	case DW_OP_xor:
		r = a ^ b
	case DW_OP_plus:
		r = a + b
	case DW_OP_minus:
		r = a - b
	case DW_OP_mul:
		r = a * b
	case DW_OP_div:
		if b == 0 {
			return errors.New("division by zero")
		}
		r = a / b
	case DW_OP_mod:
		if b == 0 {
			return errors.New("division by zero")
		}
		r = int64(uint64(a) % uint64(b))
	case DW_OP_shl:
		r = a << uint64(b)
	case DW_OP_shr:
		r = int64(uint64(a) >> uint64(b))
	case DW_OP_shra:
		r = a >> uint64(b)
	case DW_OP_eq:
		r = boolToInt(a == b)
	case DW_OP_ge:
		r = boolToInt(a >= b)
	case DW_OP_gt:
		r = boolToInt(a > b)
	case DW_OP_le:
		r = boolToInt(a <= b)
	case DW_OP_lt:
		r = boolToInt(a < b)
	case DW_OP_ne:
		r = boolToInt(a != b)
	}
	ctxt.push(r)
	return nil
}

func plusuconsts(opcode Opcode, ctxt *context) error {
	num, err := ctxt.uleb()
	if err != nil {
		return err
	}
	if len(ctxt.stack) == 0 {
		return ErrStackUnderflow
	}
	ctxt.stack[len(ctxt.stack)-1] += int64(num)
	return nil
}

func branch(opcode Opcode, ctxt *context) error {
	v, err := readUint(ctxt.buf, ctxt.byteOrder, 2)
	if err != nil {
		return err
	}
	off := signExtend(v, 2)
	if opcode == DW_OP_bra {
		cond, err := ctxt.pop()
		if err != nil {
			return err
		}
		if cond == 0 {
			return nil
		}
	}
	pos := int64(len(ctxt.prog)-ctxt.buf.Len()) + off
	if pos < 0 || pos > int64(len(ctxt.prog)) {
		return fmt.Errorf("branch target %d out of range", pos)
	}
	_, err = ctxt.buf.Seek(pos, io.SeekStart)
	return err
}

func framebase(opcode Opcode, ctxt *context) error {
	num, err := ctxt.sleb()
	if err != nil {
		return err
	}
	ctxt.push(ctxt.FrameBase + num)
	return nil
}

func register(opcode Opcode, ctxt *context) error {
	ctxt.reg = true
	if opcode == DW_OP_regx {
		n, err := ctxt.uleb()
		if err != nil {
			return err
		}
		ctxt.pieces = append(ctxt.pieces, Piece{IsRegister: true, RegNum: n})
	} else {
		ctxt.pieces = append(ctxt.pieces, Piece{IsRegister: true, RegNum: uint64(opcode - DW_OP_reg0)})
	}
	return nil
}

func bregister(opcode Opcode, ctxt *context) error {
	var regnum uint64
	if opcode == DW_OP_bregx {
		n, err := ctxt.uleb()
		if err != nil {
			return err
		}
		regnum = n
	} else {
		regnum = uint64(opcode - DW_OP_breg0)
	}
	off, err := ctxt.sleb()
	if err != nil {
		return err
	}
	reg, err := ctxt.RegErr(regnum)
	if err != nil {
		return err
	}
	ctxt.push(int64(reg.Uint64Val) + off)
	return nil
}

func piece(opcode Opcode, ctxt *context) error {
	sz, err := ctxt.uleb()
	if err != nil {
		return err
	}
	if ctxt.reg {
		ctxt.reg = false
		ctxt.pieces[len(ctxt.pieces)-1].Size = int(sz)
		return nil
	}

	if len(ctxt.stack) == 0 {
		return ErrEmptyStack
	}

	addr := ctxt.stack[len(ctxt.stack)-1]
	ctxt.pieces = append(ctxt.pieces, Piece{Size: int(sz), Addr: addr})
	ctxt.stack = ctxt.stack[:0]
	return nil
}

func nop(opcode Opcode, ctxt *context) error {
	return nil
}
