package native

import (
	"bytes"
	"testing"

	"github.com/go-delve/regctx/pkg/proc"
)

func TestAMD64RegistersLayout(t *testing.T) {
	table := proc.AMD64Arch().RegisterTable()
	var regs amd64Registers
	regs.gp.Rip = 0x401000
	regs.gp.Rsp = 0x7ffc0000
	regs.gp.Rax = 0x1122334455667788
	regs.gp.Eflags = 0x246
	regs.fp.Mxcsr = 0x1f80
	regs.fp.XmmSpace[16] = 0xab // xmm1
	regs.debug[0] = 0x601000
	regs.debug[7] = 0xd0001

	data := make([]byte, table.BankSize())
	regs.encode(table, data)

	bank := proc.NewRegisterBank(table, proc.RegisterBankConfig{
		Load: func(buf []byte) error { copy(buf, data); return nil },
	})
	read := func(name string) []byte {
		var val proc.RegisterValue
		if err := bank.ReadRegister(table.InfoByName(name, 0), &val); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		return val.Bytes()
	}
	readUint := func(name string) uint64 {
		var val proc.RegisterValue
		if err := bank.ReadRegister(table.InfoByName(name, 0), &val); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		x, _ := val.Uint64()
		return x
	}

	for _, tc := range []struct {
		name string
		want uint64
	}{
		{"rip", 0x401000},
		{"rsp", 0x7ffc0000},
		{"rax", 0x1122334455667788},
		{"eax", 0x55667788},
		{"rflags", 0x246},
		{"mxcsr", 0x1f80},
		{"dr0", 0x601000},
		{"dr7", 0xd0001},
	} {
		if got := readUint(tc.name); got != tc.want {
			t.Errorf("%s: got %#x expected %#x", tc.name, got, tc.want)
		}
	}
	if xmm1 := read("xmm1"); xmm1[0] != 0xab || !bytes.Equal(xmm1[1:], make([]byte, 15)) {
		t.Errorf("wrong xmm1 %x", xmm1)
	}

	var back amd64Registers
	back.decode(table, data)
	if back != regs {
		t.Errorf("decode(encode(regs)) != regs:\n%#v\n%#v", back, regs)
	}
}

func TestDebugRegIndex(t *testing.T) {
	for num, want := range map[uint32]int{106: 0, 109: 3, 112: 6, 113: 7} {
		if idx, ok := debugRegIndex(num); !ok || idx != want {
			t.Errorf("debugRegIndex(%d) = %d %v", num, idx, ok)
		}
	}
	for _, num := range []uint32{0, 16, 105, 114} {
		if _, ok := debugRegIndex(num); ok {
			t.Errorf("debugRegIndex(%d) succeeded", num)
		}
	}
}
