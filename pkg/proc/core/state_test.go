package core

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testState = `
arch: amd64
pid: 4242
read-only: true
memory:
  - addr: 0x601000
    data: "efbeadde 00000000"
threads:
  - id: 4242
    registers:
      rip: 0x401000
      rsp: 0x7ffc0000
      eax: 0x2a
    callers: [0x401200, 0x401300]
  - id: 4243
    registers:
      rip: 0x405000
`

func TestParseState(t *testing.T) {
	st, err := ParseState(strings.NewReader(testState))
	if err != nil {
		t.Fatal(err)
	}
	sess := NewSession()
	p, err := NewProcessFromState(sess, st, Config{})
	if err != nil {
		t.Fatal(err)
	}
	if p.Pid() != 4242 || !p.ReadOnly() || p.Arch().Name != "amd64" {
		t.Errorf("wrong process %d %v %s", p.Pid(), p.ReadOnly(), p.Arch().Name)
	}

	buf := make([]byte, 8)
	if n, err := p.ReadMemory(buf, 0x601000); err != nil || n != 8 {
		t.Fatalf("ReadMemory: %d %v", n, err)
	}
	if x := p.ByteOrder().Uint64(buf); x != 0xdeadbeef {
		t.Errorf("wrong memory contents %#x", x)
	}

	th, ok := p.Thread(4242)
	if !ok {
		t.Fatal("thread 4242 missing")
	}
	rc, _ := th.RegisterContext()
	if pc, sp := rc.PC(0), rc.SP(0); pc != 0x401000 || sp != 0x7ffc0000 {
		t.Errorf("wrong pc/sp %#x %#x", pc, sp)
	}
	if x := rc.ReadRegisterAsUnsigned(rc.InfoByName("rax", 0), 0); x != 0x2a {
		t.Errorf("wrong rax %#x", x)
	}
	if frames := th.Frames(); len(frames) != 3 || frames[2].PC() != 0x401300 {
		t.Errorf("wrong frames %d", len(frames))
	}
	if _, ok := p.Thread(4243); !ok {
		t.Error("thread 4243 missing")
	}
}

func TestParseStateErrors(t *testing.T) {
	for _, tc := range []struct {
		name, state string
	}{
		{"unknown key", "arch: amd64\npid: 1\nbogus: 1\nthreads: [{id: 1}]\n"},
		{"unknown arch", "arch: vax\npid: 1\nthreads: [{id: 1}]\n"},
		{"no threads", "arch: amd64\npid: 1\n"},
		{"bad hex", "arch: amd64\npid: 1\nmemory: [{addr: 0, data: xyz}]\nthreads: [{id: 1}]\n"},
		{"unknown register", "arch: amd64\npid: 1\nthreads: [{id: 1, registers: {foo: 1}}]\n"},
		{"duplicate thread", "arch: amd64\npid: 1\nthreads: [{id: 1}, {id: 1}]\n"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			sess := NewSession()
			st, err := ParseState(strings.NewReader(tc.state))
			if err == nil {
				_, err = NewProcessFromState(sess, st, Config{})
			}
			if err == nil {
				t.Fatal("no error")
			}
			if len(sess.Pids()) != 0 {
				t.Error("failed process left in the session")
			}
		})
	}
}

func TestLoadState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yml")
	if err := os.WriteFile(path, []byte(testState), 0600); err != nil {
		t.Fatal(err)
	}
	st, err := LoadState(path)
	if err != nil {
		t.Fatal(err)
	}
	if st.Pid != 4242 || len(st.Threads) != 2 || st.Threads[0].Callers[1] != 0x401300 {
		t.Errorf("wrong state %#v", st)
	}
	if _, err := LoadState(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Error("missing file loaded")
	}
}
