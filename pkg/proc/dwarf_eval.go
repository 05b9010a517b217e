package proc

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/go-delve/regctx/pkg/dwarf/op"
)

// DwarfEvaluator is an Evaluator for DWARF expressions. Registers used by
// the expression are read from the register context, memory from the
// process of the execution context.
type DwarfEvaluator struct{}

// Evaluate implements Evaluator.
func (DwarfEvaluator) Evaluate(program DataView, exe *ExecutionContext, rc *RegisterContext) (int64, error) {
	if rc == nil {
		return 0, errors.New("no register context")
	}
	order := program.ByteOrder
	if order == nil {
		order = rc.table.ByteOrder()
	}
	dwarfNum := func(role uint32) uint64 {
		if info := rc.table.InfoFor(KindGeneric, role); info != nil {
			return uint64(info.Kinds[KindDWARF])
		}
		return uint64(InvalidRegNum)
	}
	regs := op.NewDwarfRegisters(0, nil, order, dwarfNum(GenericPC), dwarfNum(GenericSP), dwarfNum(GenericFP))
	regs.SetFetchFunc(func(regnum uint64) (*op.DwarfRegister, error) {
		return readDwarfRegister(rc, regnum)
	})

	var readMemory op.ReadMemoryFunc
	if exe != nil && exe.Process != nil {
		readMemory = exe.Process.ReadMemory
	}
	addrSize := program.AddrSize
	if addrSize == 0 {
		addrSize = rc.table.AddrSize()
	}
	val, pieces, err := op.ExecuteStackProgram(*regs, program.Data, addrSize, readMemory)
	if err != nil {
		return 0, err
	}
	switch {
	case len(pieces) == 0:
		return val, nil
	case len(pieces) == 1 && pieces[0].IsRegister:
		reg, err := readDwarfRegister(rc, pieces[0].RegNum)
		if err != nil {
			return 0, err
		}
		return int64(reg.Uint64Val), nil
	}
	return 0, fmt.Errorf("expression does not compute a scalar (%d pieces)", len(pieces))
}

func readDwarfRegister(rc *RegisterContext, regnum uint64) (*op.DwarfRegister, error) {
	if regnum >= uint64(InvalidRegNum) {
		return nil, fmt.Errorf("DWARF register %d: %w", regnum, ErrUnknownRegister)
	}
	info := rc.table.InfoFor(KindDWARF, uint32(regnum))
	if info == nil {
		return nil, fmt.Errorf("DWARF register %d: %w", regnum, ErrUnknownRegister)
	}
	var val RegisterValue
	if err := rc.ReadRegister(info, &val); err != nil {
		return nil, err
	}
	if val.Size() > 8 && isBigEndian(val.ByteOrder()) {
		// only the first 8 bytes are decoded, which would be the most
		// significant ones
		le := val.littleEndian()
		return op.DwarfRegisterFromBytes(le[:val.Size()], binary.LittleEndian), nil
	}
	return op.DwarfRegisterFromBytes(val.Bytes(), val.ByteOrder()), nil
}
