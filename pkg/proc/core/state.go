package core

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/go-delve/regctx/pkg/proc"
)

// State describes the initial state of a Process. It is usually loaded
// from a YAML file:
//
//	arch: amd64
//	pid: 1234
//	read-only: true
//	memory:
//	  - addr: 0x601000
//	    data: "0010400000000000"
//	threads:
//	  - id: 1234
//	    registers:
//	      rip: 0x401000
//	      rsp: 0x7ffc0000
//	    callers: [0x401200, 0x401300]
type State struct {
	Arch     string        `yaml:"arch"`
	Pid      int           `yaml:"pid"`
	ReadOnly bool          `yaml:"read-only"`
	Memory   []MemoryState `yaml:"memory"`
	Threads  []ThreadState `yaml:"threads"`
}

// MemoryState is a region of memory of a State, with its contents encoded
// in hexadecimal.
type MemoryState struct {
	Addr uint64 `yaml:"addr"`
	Data string `yaml:"data"`
}

// ThreadState is a thread of a State.
type ThreadState struct {
	ID        int               `yaml:"id"`
	Registers map[string]uint64 `yaml:"registers"`
	Callers   []uint64          `yaml:"callers"`
}

// LoadState reads a State from the YAML file at path.
func LoadState(path string) (*State, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	st, err := ParseState(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", path, err)
	}
	return st, nil
}

// ParseState reads a State in YAML format from r.
func ParseState(r io.Reader) (*State, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var st State
	if err := yaml.UnmarshalStrict(buf, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// NewProcessFromState creates a process in sess with the contents of st.
// The ReadOnly flag of st overrides the one in cfg.
func NewProcessFromState(sess *Session, st *State, cfg Config) (*Process, error) {
	arch, err := proc.ArchByName(st.Arch)
	if err != nil {
		return nil, err
	}
	if len(st.Threads) == 0 {
		return nil, fmt.Errorf("process %d has no threads", st.Pid)
	}
	cfg.ReadOnly = st.ReadOnly
	p, err := NewProcess(sess, st.Pid, arch, cfg)
	if err != nil {
		return nil, err
	}
	if err := p.applyState(st); err != nil {
		p.Detach()
		return nil, err
	}
	return p, nil
}

func (p *Process) applyState(st *State) error {
	for _, m := range st.Memory {
		data, err := hex.DecodeString(strings.Join(strings.Fields(m.Data), ""))
		if err != nil {
			return fmt.Errorf("memory at %#x: %v", m.Addr, err)
		}
		p.AddMemory(m.Addr, data)
	}
	for _, ts := range st.Threads {
		th, err := p.AddThread(ts.ID)
		if err != nil {
			return err
		}
		names := make([]string, 0, len(ts.Registers))
		for name := range ts.Registers {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if err := th.SetRegister(name, ts.Registers[name]); err != nil {
				return fmt.Errorf("thread %d: %w", ts.ID, err)
			}
		}
		th.SetCallers(ts.Callers)
	}
	return nil
}
