package proc

import (
	"errors"
	"fmt"
)

// RegisterBankConfig describes how a RegisterBank moves registers to and
// from the thread they belong to.
type RegisterBankConfig struct {
	// Load fills data, laid out according to the offsets of the register
	// table, with the current registers of the thread.
	Load func(data []byte) error
	// Store writes data back to the thread. A bank without Store is read
	// only.
	Store func(data []byte) error
}

// RegisterBank is a RegisterBackend that keeps all the registers of a
// thread in a single buffer, loaded at most once per invalidation.
// Pseudo-registers alias the bytes of the registers they are composed of.
type RegisterBank struct {
	table *RegisterTable
	cfg   RegisterBankConfig
	data  []byte
	valid bool
}

// NewRegisterBank returns a RegisterBank for table.
func NewRegisterBank(table *RegisterTable, cfg RegisterBankConfig) *RegisterBank {
	return &RegisterBank{
		table: table,
		cfg:   cfg,
		data:  make([]byte, table.BankSize()),
	}
}

// Layout returns the table describing the data returned by
// ReadAllRegisterValues.
func (b *RegisterBank) Layout() *RegisterTable { return b.table }

func (b *RegisterBank) load() error {
	if b.valid {
		return nil
	}
	if b.cfg.Load == nil {
		return errors.New("register bank has no source")
	}
	if err := b.cfg.Load(b.data); err != nil {
		return err
	}
	b.valid = true
	return nil
}

func (b *RegisterBank) slot(info *RegisterInfo) (int, int, error) {
	static := b.table.InfoAtIndex(info.Index)
	if static == nil || static.Name != info.Name {
		return 0, 0, fmt.Errorf("%s: %w", info.Name, ErrUnknownRegister)
	}
	off, sz := static.Offset, info.ByteSize
	if sz > static.ByteSize {
		return 0, 0, fmt.Errorf("register %s can not be %d bytes wide", info.Name, sz)
	}
	if isBigEndian(b.table.ByteOrder()) {
		off += static.ByteSize - sz
	}
	if off+sz > len(b.data) {
		return 0, 0, fmt.Errorf("register %s is outside of the register bank", info.Name)
	}
	return off, sz, nil
}

// ReadRegister implements RegisterBackend.
func (b *RegisterBank) ReadRegister(info *RegisterInfo, val *RegisterValue) error {
	off, sz, err := b.slot(info)
	if err != nil {
		return err
	}
	if err := b.load(); err != nil {
		return err
	}
	return val.SetBytes(b.data[off:off+sz], b.table.ByteOrder())
}

// WriteRegister implements RegisterBackend.
func (b *RegisterBank) WriteRegister(info *RegisterInfo, val *RegisterValue) error {
	if b.cfg.Store == nil {
		return ErrReadOnly
	}
	off, sz, err := b.slot(info)
	if err != nil {
		return err
	}
	if err := b.load(); err != nil {
		return err
	}
	var buf [MaxRegisterByteSize]byte
	if _, err := val.GetAsMemoryData(info, buf[:sz], b.table.ByteOrder()); err != nil {
		return err
	}
	copy(b.data[off:off+sz], buf[:sz])
	if err := b.cfg.Store(b.data); err != nil {
		b.valid = false
		return err
	}
	return nil
}

// InvalidateAllRegisters implements RegisterBackend.
func (b *RegisterBank) InvalidateAllRegisters() {
	b.valid = false
}

// ReadAllRegisterValues implements RegisterBankBackend.
func (b *RegisterBank) ReadAllRegisterValues() ([]byte, error) {
	if err := b.load(); err != nil {
		return nil, err
	}
	return append([]byte(nil), b.data...), nil
}

// WriteAllRegisterValues implements RegisterBankBackend.
func (b *RegisterBank) WriteAllRegisterValues(data []byte) error {
	if b.cfg.Store == nil {
		return ErrReadOnly
	}
	if len(data) != len(b.data) {
		return fmt.Errorf("register bank is %d bytes, checkpoint is %d bytes", len(b.data), len(data))
	}
	copy(b.data, data)
	b.valid = true
	if err := b.cfg.Store(b.data); err != nil {
		b.valid = false
		return err
	}
	return nil
}
