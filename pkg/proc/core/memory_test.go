package core

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSplicedMemory(t *testing.T) {
	data := []byte{}
	data2 := []byte{}
	for i := 0; i < 100; i++ {
		data = append(data, byte(i))
		data2 = append(data2, byte(i+100))
	}
	type region struct {
		data   []byte
		off    uint64
		length uint64
	}
	tests := []struct {
		name     string
		regions  []region
		readAddr uint64
		readLen  int
		want     []byte
	}{
		{"Insert after", []region{{data, 0, 1}, {data2, 1, 1}}, 0, 2, []byte{0, 101}},
		{"Insert before", []region{{data, 1, 1}, {data2, 0, 1}}, 0, 2, []byte{100, 1}},
		{"Completely overwrite", []region{{data, 1, 1}, {data2, 0, 3}}, 0, 3, []byte{100, 101, 102}},
		{"Overwrite end", []region{{data, 0, 2}, {data2, 1, 2}}, 0, 3, []byte{0, 101, 102}},
		{"Overwrite start", []region{{data, 0, 3}, {data2, 0, 2}}, 0, 3, []byte{100, 101, 2}},
		{"Punch hole", []region{{data, 0, 5}, {data2, 1, 3}}, 0, 5, []byte{0, 101, 102, 103, 4}},
		{"Overlap two", []region{{data, 10, 4}, {data, 14, 4}, {data2, 12, 4}}, 10, 8, []byte{10, 11, 112, 113, 114, 115, 16, 17}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			mem := &splicedMemory{}
			for _, region := range test.regions {
				buf := append([]byte(nil), region.data[region.off:region.off+region.length]...)
				mem.Add(region.off, buf)
			}
			got := make([]byte, test.readLen)
			n, err := mem.ReadMemory(got, test.readAddr)
			if n != test.readLen || err != nil {
				t.Fatalf("ReadMemory = %v, %v, want %v, nil", n, err, test.readLen)
			}
			if diff := cmp.Diff(test.want, got); diff != "" {
				t.Errorf("ReadMemory mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSplicedMemoryUnmapped(t *testing.T) {
	mem := &splicedMemory{}
	mem.Add(0x1000, make([]byte, 8))
	mem.Add(0x1010, make([]byte, 8))

	buf := make([]byte, 16)
	n, err := mem.ReadMemory(buf, 0x1004)
	if err != nil || n != 4 {
		t.Errorf("read across hole: %d %v", n, err)
	}
	if _, err := mem.ReadMemory(buf, 0x2000); err == nil {
		t.Error("read of unmapped address succeeded")
	}
	if _, err := mem.ReadMemory(buf, 0x1008); err == nil {
		t.Error("read inside hole succeeded")
	}
}

func TestSplicedMemoryWrite(t *testing.T) {
	mem := &splicedMemory{}
	mem.Add(0x1000, make([]byte, 4))
	mem.Add(0x1004, make([]byte, 4))

	n, err := mem.WriteMemory(0x1002, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	if err != nil || n != 6 {
		t.Fatalf("WriteMemory = %d, %v", n, err)
	}
	got := make([]byte, 8)
	if _, err := mem.ReadMemory(got, 0x1000); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]byte{0, 0, 1, 2, 3, 4, 5, 6}, got); diff != "" {
		t.Errorf("memory mismatch (-want +got):\n%s", diff)
	}
}
