package proc

import (
	"errors"
	"testing"
)

func TestRegisterBank(t *testing.T) {
	table := MIPS64Arch().RegisterTable()
	tgt := &fakeTarget{regs: make([]byte, table.BankSize())}
	bank := NewRegisterBank(table, RegisterBankConfig{Load: tgt.load, Store: tgt.store})

	pc := table.InfoByName("pc", 0)
	var val RegisterValue
	val.SetUint(0x120000000, 8, table.ByteOrder())
	if err := bank.WriteRegister(pc, &val); err != nil {
		t.Fatal(err)
	}
	if got := tgt.regs[pc.Offset : pc.Offset+8]; string(got) != "\x00\x00\x00\x01\x20\x00\x00\x00" {
		t.Errorf("pc stored as % x", got)
	}

	var out RegisterValue
	if err := bank.ReadRegister(pc, &out); err != nil {
		t.Fatal(err)
	}
	if !out.Equal(&val) {
		t.Errorf("read %v", out)
	}
	if tgt.loads != 1 {
		t.Errorf("%d loads", tgt.loads)
	}

	data, err := bank.ReadAllRegisterValues()
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != table.BankSize() {
		t.Errorf("bank data is %d bytes", len(data))
	}
	if err := bank.WriteAllRegisterValues(data[:4]); err == nil {
		t.Error("short bank data accepted")
	}

	bogus := &RegisterInfo{Name: "bogus", ByteSize: 8, Index: 1000}
	if err := bank.ReadRegister(bogus, &out); !errors.Is(err, ErrUnknownRegister) {
		t.Errorf("bogus register: %v", err)
	}
	wide := *pc
	wide.ByteSize = 16
	if err := bank.ReadRegister(&wide, &out); err == nil {
		t.Error("register read with a size larger than its slot")
	}

	bank.InvalidateAllRegisters()
	tgt.loadErr = errors.New("no such process")
	if err := bank.ReadRegister(pc, &out); !errors.Is(err, tgt.loadErr) {
		t.Errorf("unexpected error %v", err)
	}
}

func TestRegisterBankReadOnly(t *testing.T) {
	table := AMD64Arch().RegisterTable()
	bank := NewRegisterBank(table, RegisterBankConfig{Load: func([]byte) error { return nil }})
	var val RegisterValue
	val.SetUint(1, 8, table.ByteOrder())
	if err := bank.WriteRegister(table.InfoByName("rax", 0), &val); !errors.Is(err, ErrReadOnly) {
		t.Errorf("WriteRegister: %v", err)
	}
	if err := bank.WriteAllRegisterValues(make([]byte, table.BankSize())); !errors.Is(err, ErrReadOnly) {
		t.Errorf("WriteAllRegisterValues: %v", err)
	}
	nosrc := NewRegisterBank(table, RegisterBankConfig{})
	if err := nosrc.ReadRegister(table.InfoByName("rax", 0), &val); err == nil {
		t.Error("register read without source")
	}
}
