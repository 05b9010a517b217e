package op

import (
	"encoding/binary"
	"fmt"
)

// DwarfRegisters holds the value of stack program registers.
type DwarfRegisters struct {
	StaticBase uint64

	CFA       int64
	FrameBase int64
	ObjBase   int64
	regs      []*DwarfRegister

	ByteOrder binary.ByteOrder
	PCRegNum  uint64
	SPRegNum  uint64
	BPRegNum  uint64

	fetch RegisterFetchFunc
}

type DwarfRegister struct {
	Uint64Val uint64
	Bytes     []byte
}

// RegisterFetchFunc is called to load a register that has not been added
// to a DwarfRegisters object yet.
type RegisterFetchFunc func(regnum uint64) (*DwarfRegister, error)

// NewDwarfRegisters returns a new DwarfRegisters object.
func NewDwarfRegisters(staticBase uint64, regs []*DwarfRegister, byteOrder binary.ByteOrder, pcRegNum, spRegNum, bpRegNum uint64) *DwarfRegisters {
	return &DwarfRegisters{
		StaticBase: staticBase,
		regs:       regs,
		ByteOrder:  byteOrder,
		PCRegNum:   pcRegNum,
		SPRegNum:   spRegNum,
		BPRegNum:   bpRegNum,
	}
}

// SetFetchFunc sets a function that will be called the first time the user
// of regs tries to access an undefined register. Fetched registers are
// remembered.
func (regs *DwarfRegisters) SetFetchFunc(fn RegisterFetchFunc) {
	regs.fetch = fn
}

// CurrentSize returns the current number of known registers. This number might be
// wrong if a fetch function has been set.
func (regs *DwarfRegisters) CurrentSize() int {
	return len(regs.regs)
}

// Uint64Val returns the uint64 value of register idx.
func (regs *DwarfRegisters) Uint64Val(idx uint64) uint64 {
	reg := regs.Reg(idx)
	if reg == nil {
		return 0
	}
	return reg.Uint64Val
}

// Bytes returns the bytes value of register idx, nil if the register is not
// defined.
func (regs *DwarfRegisters) Bytes(idx uint64) []byte {
	reg := regs.Reg(idx)
	if reg == nil {
		return nil
	}
	if reg.Bytes == nil {
		reg.Bytes = make([]byte, 8)
		regs.byteOrder().PutUint64(reg.Bytes, reg.Uint64Val)
	}
	return reg.Bytes
}

func (regs *DwarfRegisters) byteOrder() binary.ByteOrder {
	if regs.ByteOrder == nil {
		return binary.LittleEndian
	}
	return regs.ByteOrder
}

// Reg returns register idx or nil if the register is not defined.
func (regs *DwarfRegisters) Reg(idx uint64) *DwarfRegister {
	reg, _ := regs.RegErr(idx)
	return reg
}

// RegErr returns register idx or an error describing why it could not be
// loaded.
func (regs *DwarfRegisters) RegErr(idx uint64) (*DwarfRegister, error) {
	if idx < uint64(len(regs.regs)) && regs.regs[idx] != nil {
		return regs.regs[idx], nil
	}
	if regs.fetch == nil {
		return nil, fmt.Errorf("register %d not available", idx)
	}
	reg, err := regs.fetch(idx)
	if err != nil {
		return nil, fmt.Errorf("register %d not available: %v", idx, err)
	}
	if reg == nil {
		return nil, fmt.Errorf("register %d not available", idx)
	}
	regs.AddReg(idx, reg)
	return reg, nil
}

func (regs *DwarfRegisters) PC() uint64 {
	return regs.Uint64Val(regs.PCRegNum)
}

func (regs *DwarfRegisters) SP() uint64 {
	return regs.Uint64Val(regs.SPRegNum)
}

func (regs *DwarfRegisters) BP() uint64 {
	return regs.Uint64Val(regs.BPRegNum)
}

// AddReg adds register idx to regs.
func (regs *DwarfRegisters) AddReg(idx uint64, reg *DwarfRegister) {
	if idx >= uint64(len(regs.regs)) {
		newRegs := make([]*DwarfRegister, idx+1)
		copy(newRegs, regs.regs)
		regs.regs = newRegs
	}
	regs.regs[idx] = reg
}

// ClearRegisters clears all registers.
func (regs *DwarfRegisters) ClearRegisters() {
	for regnum := range regs.regs {
		regs.regs[regnum] = nil
	}
}

func DwarfRegisterFromUint64(v uint64) *DwarfRegister {
	return &DwarfRegister{Uint64Val: v}
}

// DwarfRegisterFromBytes creates a DwarfRegister from its memory
// representation, the integer value is taken from the first 8 bytes at
// most.
func DwarfRegisterFromBytes(bytes []byte, order binary.ByteOrder) *DwarfRegister {
	if order == nil {
		order = binary.LittleEndian
	}
	var v uint64
	switch len(bytes) {
	case 1:
		v = uint64(bytes[0])
	case 2:
		v = uint64(order.Uint16(bytes))
	case 4:
		v = uint64(order.Uint32(bytes))
	default:
		if len(bytes) >= 8 {
			v = order.Uint64(bytes[:8])
		} else {
			v = decodeUint(bytes, order)
		}
	}
	return &DwarfRegister{Uint64Val: v, Bytes: bytes}
}
