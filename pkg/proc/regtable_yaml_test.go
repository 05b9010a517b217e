package proc

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const toyTable = `
arch: toy
byte-order: big
addr-size: 4
registers:
  - name: r0
    alt-name: acc
    size: 4
    kinds: {dwarf: 0, ehframe: 0, native: 0}
  - name: sp
    size: 4
    kinds: {dwarf: 1, generic: sp}
  - name: pc
    size: 4
    kinds: {dwarf: 2, generic: pc}
  - name: psw
    size: 4
    kinds: {generic: flags}
  - name: r0l
    size: 2
    value-regs: [r0]
  - name: f0
    size: 8
    encoding: ieee754
    kinds: {dwarf: 0x10}
    dynamic-size: "92 03 00 1a"
sets:
  - name: General Purpose Registers
    short-name: gpr
    registers: [r0, sp, pc, psw, r0l]
  - name: Floating Point Registers
    registers: [f0]
`

func TestParseRegisterTable(t *testing.T) {
	table, err := ParseRegisterTable(strings.NewReader(toyTable))
	if err != nil {
		t.Fatal(err)
	}
	if table.Arch() != "toy" || table.ByteOrder() != binary.BigEndian || table.AddrSize() != 4 {
		t.Errorf("unexpected table header %s %v %d", table.Arch(), table.ByteOrder(), table.AddrSize())
	}
	if table.Count() != 6 || table.SetCount() != 2 {
		t.Fatalf("%d registers %d sets", table.Count(), table.SetCount())
	}
	if ri := table.InfoFor(KindGeneric, GenericPC); ri == nil || ri.Name != "pc" {
		t.Errorf("generic pc: %v", ri)
	}
	if ri := table.InfoFor(KindDWARF, 16); ri == nil || ri.Name != "f0" || ri.Encoding != EncodingIEEE754 || len(ri.DynamicSizeExpr) != 4 {
		t.Errorf("f0: %#v", ri)
	}
	r0l := table.InfoByName("r0l", 0)
	if !r0l.IsPseudo() || r0l.ValueRegs[0] != 0 || r0l.Offset != 2 {
		t.Errorf("r0l: %#v", r0l)
	}
	if table.InfoByName("ACC", 0).Name != "r0" {
		t.Error("alt name not found")
	}
	if set := table.SetAtIndex(0); set.ShortName != "gpr" || len(set.Registers) != 5 {
		t.Errorf("set: %#v", set)
	}
}

func TestParseRegisterTableErrors(t *testing.T) {
	tests := []struct {
		name, table, err string
	}{
		{"order", "arch: x\nbyte-order: middle\nregisters: [{name: a, size: 4}]\n", "byte order"},
		{"kind", "arch: x\nregisters: [{name: a, size: 4, kinds: {foo: 1}}]\n", "unknown register kind"},
		{"generic", "arch: x\nregisters: [{name: a, size: 4, kinds: {generic: lr}}]\n", "invalid generic register number"},
		{"valueregs", "arch: x\nregisters: [{name: a, size: 4, value-regs: [b]}]\n", "unknown register \"b\""},
		{"set", "arch: x\nregisters: [{name: a, size: 4}]\nsets: [{name: s, registers: [b]}]\n", "register set s"},
		{"field", "arch: x\nregisters: [{name: a, size: 4, color: red}]\n", "unable to decode"},
		{"encoding", "arch: x\nregisters: [{name: a, size: 4, encoding: bcd}]\n", "unknown encoding"},
		{"dynsize", "arch: x\nregisters: [{name: a, size: 4, dynamic-size: zz}]\n", "dynamic-size"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseRegisterTable(strings.NewReader(tc.table))
			if err == nil {
				t.Fatal("no error")
			}
			if !strings.Contains(err.Error(), tc.err) {
				t.Errorf("error %q does not contain %q", err, tc.err)
			}
		})
	}
}

func TestLoadRegisterTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "toy.yml")
	if err := os.WriteFile(path, []byte(toyTable), 0o600); err != nil {
		t.Fatal(err)
	}
	table, err := LoadRegisterTable(path)
	if err != nil {
		t.Fatal(err)
	}
	if table.Arch() != "toy" {
		t.Errorf("arch %s", table.Arch())
	}
	if _, err := LoadRegisterTable(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Error("missing file loaded")
	}
}
