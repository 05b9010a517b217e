package proc

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestBankCheckpoint(t *testing.T) {
	rc, _, tgt := newTestContext(t, AMD64Arch(), RegisterContextConfig{})
	mustWrite(t, rc, "rax", 1)
	mustWrite(t, rc, "rip", 0x401000)

	cp, err := rc.ReadAllRegisterValues()
	if err != nil {
		t.Fatal(err)
	}
	if cp.Arch() != "amd64" || cp.ThreadID() != 1 || cp.Len() != rc.Table().BankSize() {
		t.Errorf("unexpected checkpoint %s %d %d", cp.Arch(), cp.ThreadID(), cp.Len())
	}
	saved, err := cp.Registers()
	if err != nil {
		t.Fatal(err)
	}
	for _, idx := range saved {
		if rc.InfoAtIndex(idx).IsPseudo() {
			t.Errorf("pseudo-register %s saved", rc.RegisterName(idx))
		}
	}

	mustWrite(t, rc, "rax", 2)
	mustWrite(t, rc, "rip", 0x500000)
	cp2, err := rc.ReadAllRegisterValues()
	if err != nil {
		t.Fatal(err)
	}
	diff, err := cp.Diff(cp2)
	if err != nil {
		t.Fatal(err)
	}
	want := []int{rc.InfoByName("rax", 0).Index, rc.InfoByName("rip", 0).Index}
	if d := cmp.Diff(want, diff); d != "" {
		t.Errorf("Diff mismatch (-want +got):\n%s", d)
	}
	stores := tgt.stores
	if err := rc.WriteAllRegisterValues(cp); err != nil {
		t.Fatal(err)
	}
	if tgt.stores != stores+1 {
		t.Errorf("registers stored %d times", tgt.stores-stores)
	}
	if got := mustRead(t, rc, "rax"); got != 1 {
		t.Errorf("rax = %d after restore", got)
	}
	if got := rc.PC(0); got != 0x401000 {
		t.Errorf("PC = %#x after restore", got)
	}

	arm, _, _ := newTestContext(t, ARM64Arch(), RegisterContextConfig{})
	if err := arm.WriteAllRegisterValues(cp); err == nil {
		t.Error("amd64 checkpoint restored into arm64 registers")
	}
}

func TestGenericCheckpoint(t *testing.T) {
	rc, th, _ := newTestContext(t, AMD64Arch(), RegisterContextConfig{})
	table := rc.Table()
	backend := newMapBackend()
	mrc := NewRegisterContext(th, 1, table, backend, RegisterContextConfig{})
	mustWrite(t, mrc, "rax", 0xaa)
	backend.failRead[table.InfoByName("xmm3", 0).Index] = true

	cp, err := mrc.ReadAllRegisterValues()
	if err != nil {
		t.Fatal(err)
	}
	saved, err := cp.Registers()
	if err != nil {
		t.Fatal(err)
	}
	for _, idx := range saved {
		if table.InfoAtIndex(idx).IsPseudo() {
			t.Errorf("pseudo-register %s saved", table.InfoAtIndex(idx).Name)
		}
		if table.InfoAtIndex(idx).Name == "xmm3" {
			t.Error("unreadable register saved")
		}
	}

	mustWrite(t, mrc, "rax", 0xbb)
	mustWrite(t, mrc, "rbx", 0xcc)
	backend.failRead = map[int]bool{}
	cp2, err := mrc.ReadAllRegisterValues()
	if err != nil {
		t.Fatal(err)
	}
	diff, err := cp.Diff(cp2)
	if err != nil {
		t.Fatal(err)
	}
	want := []int{
		table.InfoByName("rax", 0).Index,
		table.InfoByName("rbx", 0).Index,
		table.InfoByName("xmm3", 0).Index,
	}
	if d := cmp.Diff(want, diff); d != "" {
		t.Errorf("checkpoint diff mismatch (-want +got):\n%s", d)
	}

	if err := mrc.WriteAllRegisterValues(cp); err != nil {
		t.Fatal(err)
	}
	if got := mustRead(t, mrc, "rax"); got != 0xaa {
		t.Errorf("rax = %#x after restore", got)
	}
}

func TestCheckpointCorrupted(t *testing.T) {
	rc, th, _ := newTestContext(t, AMD64Arch(), RegisterContextConfig{})
	mrc := NewRegisterContext(th, 1, rc.Table(), newMapBackend(), RegisterContextConfig{})
	for _, data := range [][]byte{{0x80}, {0x01, 0x08, 0x00}, {0x7f, 0x01, 0x00}} {
		cp := &RegisterCheckpoint{arch: "amd64", data: data}
		if err := mrc.WriteAllRegisterValues(cp); err == nil {
			t.Errorf("% x: corrupted checkpoint restored", data)
		}
	}
	if err := mrc.WriteAllRegisterValues(nil); err == nil {
		t.Error("nil checkpoint restored")
	}
}
