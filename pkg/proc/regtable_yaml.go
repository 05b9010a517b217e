package proc

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"
)

type yamlTable struct {
	Arch      string         `yaml:"arch"`
	ByteOrder string         `yaml:"byte-order"`
	AddrSize  int            `yaml:"addr-size"`
	Registers []yamlRegister `yaml:"registers"`
	Sets      []yamlSet      `yaml:"sets"`
}

type yamlRegister struct {
	Name     string            `yaml:"name"`
	AltName  string            `yaml:"alt-name"`
	Size     int               `yaml:"size"`
	Offset   int               `yaml:"offset"`
	Encoding string            `yaml:"encoding"`
	Kinds    map[string]string `yaml:"kinds"`
	// ValueRegs are the names of the registers this one is composed of.
	ValueRegs []string `yaml:"value-regs"`
	// DynamicSize is a hex encoded DWARF expression.
	DynamicSize string `yaml:"dynamic-size"`
}

type yamlSet struct {
	Name      string   `yaml:"name"`
	ShortName string   `yaml:"short-name"`
	Registers []string `yaml:"registers"`
}

// LoadRegisterTable reads a register table from the YAML file at path.
func LoadRegisterTable(path string) (*RegisterTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	t, err := ParseRegisterTable(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// ParseRegisterTable reads a register table in YAML format:
//
//	arch: toy
//	byte-order: little
//	addr-size: 8
//	registers:
//	  - name: pc
//	    size: 8
//	    kinds: {dwarf: 16, generic: pc}
//	  - name: ipl
//	    size: 4
//	    value-regs: [pc]
//	sets:
//	  - name: General Purpose Registers
//	    registers: [pc, ipl]
//
// Registers are referred to by name in value-regs and sets.
func ParseRegisterTable(r io.Reader) (*RegisterTable, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var yt yamlTable
	if err := yaml.UnmarshalStrict(data, &yt); err != nil {
		return nil, fmt.Errorf("unable to decode register table: %w", err)
	}

	var order binary.ByteOrder
	switch strings.ToLower(yt.ByteOrder) {
	case "", "little", "little-endian", "le":
		order = binary.LittleEndian
	case "big", "big-endian", "be":
		order = binary.BigEndian
	default:
		return nil, fmt.Errorf("unknown byte order %q", yt.ByteOrder)
	}

	index := make(map[string]int, len(yt.Registers))
	for i, yr := range yt.Registers {
		index[strings.ToLower(yr.Name)] = i
	}
	lookup := func(name string) (int, error) {
		idx, ok := index[strings.ToLower(name)]
		if !ok {
			return 0, fmt.Errorf("unknown register %q", name)
		}
		return idx, nil
	}

	cfg := RegisterTableConfig{Arch: yt.Arch, ByteOrder: order, AddrSize: yt.AddrSize}
	for _, yr := range yt.Registers {
		ri := RegisterInfo{
			Name:     yr.Name,
			AltName:  yr.AltName,
			ByteSize: yr.Size,
			Offset:   yr.Offset,
			Kinds:    NoKinds(),
		}
		if ri.Encoding, err = parseEncoding(yr.Encoding); err != nil {
			return nil, fmt.Errorf("register %s: %w", yr.Name, err)
		}
		for kindName, numstr := range yr.Kinds {
			kind, err := ParseRegisterKind(kindName)
			if err != nil {
				return nil, fmt.Errorf("register %s: %w", yr.Name, err)
			}
			num, err := parseRegNum(kind, numstr)
			if err != nil {
				return nil, fmt.Errorf("register %s: %w", yr.Name, err)
			}
			ri.Kinds[kind] = num
		}
		for _, vr := range yr.ValueRegs {
			idx, err := lookup(vr)
			if err != nil {
				return nil, fmt.Errorf("register %s: %w", yr.Name, err)
			}
			ri.ValueRegs = append(ri.ValueRegs, idx)
		}
		if yr.DynamicSize != "" {
			ri.DynamicSizeExpr, err = hex.DecodeString(strings.ReplaceAll(yr.DynamicSize, " ", ""))
			if err != nil {
				return nil, fmt.Errorf("register %s: dynamic-size: %w", yr.Name, err)
			}
		}
		cfg.Registers = append(cfg.Registers, ri)
	}
	for _, ys := range yt.Sets {
		set := RegisterSet{Name: ys.Name, ShortName: ys.ShortName}
		for _, name := range ys.Registers {
			idx, err := lookup(name)
			if err != nil {
				return nil, fmt.Errorf("register set %s: %w", ys.Name, err)
			}
			set.Registers = append(set.Registers, idx)
		}
		cfg.Sets = append(cfg.Sets, set)
	}
	return NewRegisterTable(cfg)
}

func parseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(s) {
	case "", "uint":
		return EncodingUint, nil
	case "sint":
		return EncodingSint, nil
	case "ieee754", "float":
		return EncodingIEEE754, nil
	case "vector":
		return EncodingVector, nil
	}
	return 0, fmt.Errorf("unknown encoding %q", s)
}

func parseRegNum(kind RegisterKind, s string) (uint32, error) {
	if kind == KindGeneric {
		if num, err := ParseGenericRole(s); err == nil {
			return num, nil
		}
	}
	n, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return InvalidRegNum, fmt.Errorf("invalid %s register number %q", kind, s)
	}
	if uint32(n) == InvalidRegNum {
		return InvalidRegNum, fmt.Errorf("invalid %s register number %q", kind, s)
	}
	return uint32(n), nil
}
