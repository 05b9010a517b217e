package proc

import (
	"strings"
	"testing"
)

func TestDwarfEvaluator(t *testing.T) {
	rc, th, _ := newTestContext(t, AMD64Arch(), RegisterContextConfig{})
	mustWrite(t, rc, "rax", 0x10)
	mustWrite(t, rc, "rsp", 0x7ff000)
	th.proc.poke(0x18, 0x88, 0x77, 0x66, 0x55, 0x44, 0x33, 0x22, 0x11)

	tests := []struct {
		name string
		prog []byte
		val  int64
		err  string
	}{
		{"breg", []byte{0x70, 0x08}, 0x18, ""},
		{"reg", []byte{0x50}, 0x10, ""},
		{"regx", []byte{0x90, 0x07}, 0x7ff000, ""},
		{"deref", []byte{0x70, 0x08, 0x06}, 0x1122334455667788, ""},
		{"lit", []byte{0x31, 0x32, 0x22}, 3, ""},
		{"pieces", []byte{0x50, 0x93, 0x04, 0x51, 0x93, 0x04}, 0, "does not compute a scalar"},
		{"unknown", []byte{0x92, 0xe8, 0x07, 0x00}, 0, "not available"},
		{"empty", []byte{}, 0, "empty OP stack"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			val, err := DwarfEvaluator{}.Evaluate(DataView{Data: tc.prog}, rc.ExecutionContext(), rc)
			if tc.err != "" {
				if err == nil || !strings.Contains(err.Error(), tc.err) {
					t.Fatalf("expected error containing %q, got %v", tc.err, err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if val != tc.val {
				t.Errorf("got %#x, expected %#x", val, tc.val)
			}
		})
	}

	if _, err := (DwarfEvaluator{}).Evaluate(DataView{Data: []byte{0x30}}, nil, nil); err == nil {
		t.Error("evaluated without registers")
	}
}

func TestDwarfEvaluatorBigEndian(t *testing.T) {
	rc, _, _ := newTestContext(t, MIPS64Arch(), RegisterContextConfig{})
	mustWrite(t, rc, "sr", 1<<26|1)
	val, err := DwarfEvaluator{}.Evaluate(DataView{Data: mips64FRSizeExpr}, rc.ExecutionContext(), rc)
	if err != nil {
		t.Fatal(err)
	}
	if val != 1 {
		t.Errorf("FR = %d", val)
	}
}
