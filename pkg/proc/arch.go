package proc

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Arch represents a CPU architecture.
type Arch struct {
	Name string

	ptrSize               int
	maxInstructionLength  int
	breakpointInstruction []byte
	// aliases are alternative names of the architecture accepted by
	// ArchByName.
	aliases []string

	tableOnce  sync.Once
	table      *RegisterTable
	tableErr   error
	buildTable func() (*RegisterTable, error)
}

// PtrSize returns the size of a pointer on this architecture.
func (a *Arch) PtrSize() int { return a.ptrSize }

// MaxInstructionLength returns the maximum length of an instruction.
func (a *Arch) MaxInstructionLength() int { return a.maxInstructionLength }

// BreakpointInstruction returns the breakpoint instruction for this
// architecture.
func (a *Arch) BreakpointInstruction() []byte { return a.breakpointInstruction }

// BreakpointSize returns the size of the breakpoint instruction on this
// architecture.
func (a *Arch) BreakpointSize() int { return len(a.breakpointInstruction) }

// RegisterTable returns the register table of the architecture.
func (a *Arch) RegisterTable() *RegisterTable {
	a.tableOnce.Do(func() {
		a.table, a.tableErr = a.buildTable()
	})
	if a.tableErr != nil {
		panic(fmt.Errorf("%s: %w", a.Name, a.tableErr))
	}
	return a.table
}

// ByteOrder returns the byte order of the architecture.
func (a *Arch) ByteOrder() binary.ByteOrder { return a.RegisterTable().ByteOrder() }

var (
	archMu sync.Mutex
	archs  = map[string]*Arch{}
)

func registerArch(a *Arch) *Arch {
	archMu.Lock()
	defer archMu.Unlock()
	archs[a.Name] = a
	for _, alias := range a.aliases {
		archs[alias] = a
	}
	return a
}

// ArchByName returns the architecture called name.
func ArchByName(name string) (*Arch, error) {
	archMu.Lock()
	defer archMu.Unlock()
	if a, ok := archs[strings.ToLower(name)]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("unknown architecture %q", name)
}

// ArchNames returns the names of all known architectures.
func ArchNames() []string {
	archMu.Lock()
	defer archMu.Unlock()
	var r []string
	for name, a := range archs {
		if name == a.Name {
			r = append(r, name)
		}
	}
	sort.Strings(r)
	return r
}

// tableBuilder accumulates the registers of a table, grouping them in sets
// in the order they are added.
type tableBuilder struct {
	regs  []RegisterInfo
	sets  []RegisterSet
	index map[string]int
}

func newTableBuilder() *tableBuilder {
	return &tableBuilder{index: make(map[string]int)}
}

func (b *tableBuilder) set(name, shortName string) {
	b.sets = append(b.sets, RegisterSet{Name: name, ShortName: shortName})
}

func (b *tableBuilder) add(ri RegisterInfo) {
	idx := len(b.regs)
	b.regs = append(b.regs, ri)
	b.index[ri.Name] = idx
	if len(b.sets) > 0 {
		s := &b.sets[len(b.sets)-1]
		s.Registers = append(s.Registers, idx)
	}
}

// pseudo adds a register made of the low order size bytes of register of.
func (b *tableBuilder) pseudo(name string, size int, of string) {
	base, ok := b.index[of]
	if !ok {
		panic(fmt.Errorf("pseudo-register %s of unknown register %s", name, of))
	}
	b.add(RegisterInfo{
		Name:      name,
		ByteSize:  size,
		Encoding:  EncodingUint,
		Kinds:     NoKinds(),
		ValueRegs: []int{base},
	})
}

func (b *tableBuilder) build(arch string, order binary.ByteOrder, addrSize int) (*RegisterTable, error) {
	return NewRegisterTable(RegisterTableConfig{
		Arch:      arch,
		ByteOrder: order,
		AddrSize:  addrSize,
		Registers: b.regs,
		Sets:      b.sets,
	})
}
