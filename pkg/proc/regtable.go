package proc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/derekparker/trie"
)

// RegisterTableConfig describes the registers of an architecture.
type RegisterTableConfig struct {
	Arch      string
	ByteOrder binary.ByteOrder
	// AddrSize is the size of a pointer in bytes.
	AddrSize  int
	Registers []RegisterInfo
	Sets      []RegisterSet
	// ConvertKindToNumber, if set, replaces the default mapping of a
	// (kind, number) pair to a register index.
	ConvertKindToNumber func(kind RegisterKind, num uint32) uint32
}

// RegisterTable is the immutable, ordered set of register descriptors of
// an architecture. Register indices are dense, in the range [0, Count()).
type RegisterTable struct {
	arch      string
	byteOrder binary.ByteOrder
	addrSize  int
	infos     []RegisterInfo
	sets      []RegisterSet
	byKind    [numRegisterKinds]map[uint32]int
	names     *trie.Trie
	convert   func(kind RegisterKind, num uint32) uint32
	bankSize  int
}

// NewRegisterTable validates cfg and returns the corresponding table.
// Register offsets are assigned sequentially unless at least one register
// of cfg has a non-zero Offset. Pseudo-registers are placed on the
// low-order bytes of their first constituent.
func NewRegisterTable(cfg RegisterTableConfig) (*RegisterTable, error) {
	if cfg.Arch == "" {
		return nil, errors.New("register table without architecture name")
	}
	if len(cfg.Registers) == 0 {
		return nil, fmt.Errorf("%s: register table is empty", cfg.Arch)
	}
	t := &RegisterTable{
		arch:      cfg.Arch,
		byteOrder: cfg.ByteOrder,
		addrSize:  cfg.AddrSize,
		infos:     make([]RegisterInfo, len(cfg.Registers)),
		sets:      make([]RegisterSet, len(cfg.Sets)),
		names:     trie.New(),
		convert:   cfg.ConvertKindToNumber,
	}
	if t.byteOrder == nil {
		t.byteOrder = binary.LittleEndian
	}
	if t.addrSize == 0 {
		t.addrSize = 8
	}
	copy(t.infos, cfg.Registers)
	copy(t.sets, cfg.Sets)
	for k := range t.byKind {
		t.byKind[k] = make(map[uint32]int)
	}

	explicitOffsets := false
	for i := range t.infos {
		if t.infos[i].Offset != 0 {
			explicitOffsets = true
			break
		}
	}

	for i := range t.infos {
		ri := &t.infos[i]
		ri.Index = i
		if ri.Name == "" {
			return nil, fmt.Errorf("%s: register %d has no name", t.arch, i)
		}
		if ri.ByteSize <= 0 || ri.ByteSize > MaxRegisterByteSize {
			return nil, fmt.Errorf("%s: register %s has invalid size %d", t.arch, ri.Name, ri.ByteSize)
		}
		if ri.HasDynamicSize() && ri.ByteSize != 4 && ri.ByteSize != 8 {
			return nil, fmt.Errorf("%s: register %s has a dynamic size but its static size is %d", t.arch, ri.Name, ri.ByteSize)
		}
		for k, num := range ri.Kinds {
			if num == InvalidRegNum {
				continue
			}
			if j, dup := t.byKind[k][num]; dup {
				return nil, fmt.Errorf("%s: registers %s and %s have the same %s number %d", t.arch, t.infos[j].Name, ri.Name, RegisterKind(k), num)
			}
			t.byKind[k][num] = i
		}
		for _, vr := range ri.ValueRegs {
			if vr < 0 || vr >= len(t.infos) {
				return nil, fmt.Errorf("%s: register %s is composed of register %d which does not exist", t.arch, ri.Name, vr)
			}
			if vr == i || len(cfg.Registers[vr].ValueRegs) > 0 {
				return nil, fmt.Errorf("%s: register %s is composed of pseudo-register %s", t.arch, ri.Name, cfg.Registers[vr].Name)
			}
		}
		t.names.Add(strings.ToLower(ri.Name), i)
		if ri.AltName != "" {
			t.names.Add(strings.ToLower(ri.AltName), i)
		}
	}

	if !explicitOffsets {
		off := 0
		for i := range t.infos {
			if t.infos[i].IsPseudo() {
				continue
			}
			t.infos[i].Offset = off
			off += t.infos[i].ByteSize
		}
	}
	for i := range t.infos {
		ri := &t.infos[i]
		if end := ri.Offset + ri.ByteSize; !ri.IsPseudo() && end > t.bankSize {
			t.bankSize = end
		}
		if !ri.IsPseudo() || explicitOffsets {
			continue
		}
		base := &t.infos[ri.ValueRegs[0]]
		if ri.ByteSize > base.ByteSize {
			return nil, fmt.Errorf("%s: pseudo-register %s is larger than %s", t.arch, ri.Name, base.Name)
		}
		ri.Offset = base.Offset
		if isBigEndian(t.byteOrder) {
			ri.Offset += base.ByteSize - ri.ByteSize
		}
	}

	for s := range t.sets {
		set := &t.sets[s]
		if set.Name == "" {
			return nil, fmt.Errorf("%s: register set %d has no name", t.arch, s)
		}
		for _, idx := range set.Registers {
			if idx < 0 || idx >= len(t.infos) {
				return nil, fmt.Errorf("%s: register set %s contains register %d which does not exist", t.arch, set.Name, idx)
			}
		}
	}
	return t, nil
}

// Arch returns the name of the architecture described by the table.
func (t *RegisterTable) Arch() string { return t.arch }

// ByteOrder returns the byte order of the architecture.
func (t *RegisterTable) ByteOrder() binary.ByteOrder { return t.byteOrder }

// AddrSize returns the size of a pointer on the architecture.
func (t *RegisterTable) AddrSize() int { return t.addrSize }

// BankSize returns the number of bytes needed to store all non pseudo
// registers of the table contiguously.
func (t *RegisterTable) BankSize() int { return t.bankSize }

// Count returns the number of registers in the table.
func (t *RegisterTable) Count() int { return len(t.infos) }

// InfoAtIndex returns the descriptor of register idx, or nil.
func (t *RegisterTable) InfoAtIndex(idx int) *RegisterInfo {
	if idx < 0 || idx >= len(t.infos) {
		return nil
	}
	return &t.infos[idx]
}

// SetCount returns the number of register sets.
func (t *RegisterTable) SetCount() int { return len(t.sets) }

// SetAtIndex returns the register set idx, or nil.
func (t *RegisterTable) SetAtIndex(idx int) *RegisterSet {
	if idx < 0 || idx >= len(t.sets) {
		return nil
	}
	return &t.sets[idx]
}

// InfoByName returns the first register, starting at index start, whose
// name or alternate name matches name ignoring case.
func (t *RegisterTable) InfoByName(name string, start int) *RegisterInfo {
	if name == "" || start < 0 {
		return nil
	}
	for i := start; i < len(t.infos); i++ {
		if t.infos[i].matchesName(name) {
			return &t.infos[i]
		}
	}
	return nil
}

// ConvertKindToNumber returns the index of the register with number num
// in the given kind, or InvalidRegNum.
func (t *RegisterTable) ConvertKindToNumber(kind RegisterKind, num uint32) uint32 {
	if t.convert != nil {
		return t.convert(kind, num)
	}
	if kind >= numRegisterKinds || num == InvalidRegNum {
		return InvalidRegNum
	}
	if idx, ok := t.byKind[kind][num]; ok {
		return uint32(idx)
	}
	return InvalidRegNum
}

// InfoFor returns the descriptor of the register with number num in the
// given kind, or nil.
func (t *RegisterTable) InfoFor(kind RegisterKind, num uint32) *RegisterInfo {
	idx := t.ConvertKindToNumber(kind, num)
	if idx == InvalidRegNum {
		return nil
	}
	return t.InfoAtIndex(int(idx))
}

// Translate converts the number of a register from one kind to another.
// The first register, in index order, numbered num in kind src is used.
// Translating to the same kind returns num unchanged.
func (t *RegisterTable) Translate(src RegisterKind, num uint32, dst RegisterKind) (uint32, bool) {
	if src >= numRegisterKinds || dst >= numRegisterKinds || num == InvalidRegNum {
		return InvalidRegNum, false
	}
	for i := range t.infos {
		if t.infos[i].Kinds[src] == num {
			r := t.infos[i].Kinds[dst]
			return r, r != InvalidRegNum
		}
	}
	return InvalidRegNum, false
}

// CompleteName returns the sorted list of register names and alternate
// names starting with prefix.
func (t *RegisterTable) CompleteName(prefix string) []string {
	r := t.names.PrefixSearch(strings.ToLower(prefix))
	sort.Strings(r)
	return r
}

func isBigEndian(order binary.ByteOrder) bool {
	if order == nil {
		return false
	}
	return order.Uint16([]byte{0x00, 0x01}) == 1
}
