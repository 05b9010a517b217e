package starbind

import (
	"fmt"
	"strings"

	"go.starlark.net/starlark"

	"github.com/go-delve/regctx/pkg/proc"
)

type builtinFn func(thread *starlark.Thread, rc *proc.RegisterContext, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error)

type registerInfo struct {
	Name     string
	AltName  string
	Size     int
	Offset   int
	Encoding string
	Pseudo   bool
	Kinds    map[string]uint64
}

func (env *Env) starlarkPredeclare() (starlark.StringDict, map[string]string) {
	r := starlark.StringDict{}
	doc := make(map[string]string)

	add := func(name, args, descr string, fn builtinFn) {
		r[name] = starlark.NewBuiltin(name, func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if err := isCancelled(thread); err != nil {
				return starlark.None, decorateError(thread, err)
			}
			rc, err := env.ctx.RegisterContext()
			if err != nil {
				return starlark.None, decorateError(thread, err)
			}
			v, err := fn(thread, rc, args, kwargs)
			if err != nil {
				return starlark.None, decorateError(thread, err)
			}
			return v, nil
		})
		doc[name] = "builtin " + name + args + "\n\n" + name + " " + descr
	}

	add("read_register", "(Name)", "returns the value of register Name. Registers larger than 8 bytes are returned as bytes.", func(thread *starlark.Thread, rc *proc.RegisterContext, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var name string
		if err := starlark.UnpackArgs("read_register", args, kwargs, "name", &name); err != nil {
			return nil, err
		}
		info, err := lookup(rc, name)
		if err != nil {
			return nil, err
		}
		var val proc.RegisterValue
		if err := rc.ReadRegister(info, &val); err != nil {
			return nil, err
		}
		return registerValueToStarlarkValue(&val), nil
	})

	add("write_register", "(Name, Value)", "sets register Name to Value, an int or bytes in target byte order.", func(thread *starlark.Thread, rc *proc.RegisterContext, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var name string
		var value starlark.Value
		if err := starlark.UnpackArgs("write_register", args, kwargs, "name", &name, "value", &value); err != nil {
			return nil, err
		}
		info, err := lookup(rc, name)
		if err != nil {
			return nil, err
		}
		switch value := value.(type) {
		case starlark.Int:
			x, ok := value.Uint64()
			if !ok {
				return nil, fmt.Errorf("%s does not fit in 64 bits", value)
			}
			return starlark.None, rc.WriteRegisterFromUnsigned(info, x)
		case starlark.Bytes:
			var val proc.RegisterValue
			if err := val.SetBytes([]byte(value), rc.Table().ByteOrder()); err != nil {
				return nil, err
			}
			return starlark.None, rc.WriteRegister(info, &val)
		default:
			return nil, fmt.Errorf("can not write %s to a register", value.Type())
		}
	})

	add("registers", "(Set)", "returns a dictionary with the values of the registers in register set Set (name or index), or of all registers if Set is None. Registers that can not be read are omitted.", func(thread *starlark.Thread, rc *proc.RegisterContext, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var set starlark.Value = starlark.None
		if err := starlark.UnpackArgs("registers", args, kwargs, "set?", &set); err != nil {
			return nil, err
		}
		idxs, err := registerSetIndexes(rc, set)
		if err != nil {
			return nil, err
		}
		d := starlark.NewDict(len(idxs))
		for _, idx := range idxs {
			info := rc.InfoAtIndex(idx)
			var val proc.RegisterValue
			if err := rc.ReadRegister(info, &val); err != nil {
				continue
			}
			d.SetKey(starlark.String(info.Name), registerValueToStarlarkValue(&val))
		}
		return d, nil
	})

	add("register_info", "(Name)", "returns the description of register Name.", func(thread *starlark.Thread, rc *proc.RegisterContext, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var name string
		if err := starlark.UnpackArgs("register_info", args, kwargs, "name", &name); err != nil {
			return nil, err
		}
		info, err := lookup(rc, name)
		if err != nil {
			return nil, err
		}
		ri := registerInfo{
			Name:     info.Name,
			AltName:  info.AltName,
			Size:     info.ByteSize,
			Offset:   info.Offset,
			Encoding: info.Encoding.String(),
			Pseudo:   info.IsPseudo(),
			Kinds:    make(map[string]uint64),
		}
		for _, kind := range []proc.RegisterKind{proc.KindEHFrame, proc.KindDWARF, proc.KindGeneric, proc.KindNative} {
			if num := info.Num(kind); num != proc.InvalidRegNum {
				ri.Kinds[kind.String()] = uint64(num)
			}
		}
		return env.interfaceToStarlarkValue(ri), nil
	})

	add("translate", "(From, Num, To)", "converts register number Num from numbering kind From to kind To (ehframe, dwarf, generic or native). Returns None if there is no such register.", func(thread *starlark.Thread, rc *proc.RegisterContext, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var from, to string
		var num starlark.Value
		if err := starlark.UnpackArgs("translate", args, kwargs, "from", &from, "num", &num, "to", &to); err != nil {
			return nil, err
		}
		src, err := proc.ParseRegisterKind(from)
		if err != nil {
			return nil, err
		}
		dst, err := proc.ParseRegisterKind(to)
		if err != nil {
			return nil, err
		}
		var n uint32
		switch num := num.(type) {
		case starlark.Int:
			x, ok := num.Uint64()
			if !ok || x > 0xffffffff {
				return nil, fmt.Errorf("invalid register number %s", num)
			}
			n = uint32(x)
		case starlark.String:
			// generic roles can be named: pc, sp, fp, ra, flags
			n, err = proc.ParseGenericRole(string(num))
			if err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("invalid register number %s", num)
		}
		r, ok := rc.ConvertBetweenRegisterKinds(src, n, dst)
		if !ok {
			return starlark.None, nil
		}
		return starlark.MakeUint64(uint64(r)), nil
	})

	add("pc", "()", "returns the program counter.", func(thread *starlark.Thread, rc *proc.RegisterContext, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		return genericRegister(rc, "pc", args, kwargs, rc.PC)
	})
	add("sp", "()", "returns the stack pointer.", func(thread *starlark.Thread, rc *proc.RegisterContext, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		return genericRegister(rc, "sp", args, kwargs, rc.SP)
	})
	add("fp", "()", "returns the frame pointer.", func(thread *starlark.Thread, rc *proc.RegisterContext, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		return genericRegister(rc, "fp", args, kwargs, rc.FP)
	})
	add("flags", "()", "returns the flags register.", func(thread *starlark.Thread, rc *proc.RegisterContext, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		return genericRegister(rc, "flags", args, kwargs, rc.Flags)
	})

	add("set_pc", "(Addr)", "sets the program counter to Addr.", func(thread *starlark.Thread, rc *proc.RegisterContext, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var addr uint64
		if err := unpackUint64("set_pc", args, kwargs, "addr", &addr); err != nil {
			return nil, err
		}
		return starlark.None, rc.SetPC(addr)
	})

	add("frame_pc", "(Frame)", "returns the program counter of frame Frame of the current thread.", func(thread *starlark.Thread, rc *proc.RegisterContext, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var idx int
		if err := starlark.UnpackArgs("frame_pc", args, kwargs, "frame", &idx); err != nil {
			return nil, err
		}
		frc, err := env.ctx.FrameRegisterContext(idx)
		if err != nil {
			return nil, err
		}
		return genericRegister(frc, "frame_pc", nil, nil, frc.PC)
	})

	add("read_memory", "(Addr, Len)", "reads Len bytes of memory at Addr.", func(thread *starlark.Thread, rc *proc.RegisterContext, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var addr starlark.Int
		var n int
		if err := starlark.UnpackArgs("read_memory", args, kwargs, "addr", &addr, "len", &n); err != nil {
			return nil, err
		}
		a, ok := addr.Uint64()
		if !ok {
			return nil, fmt.Errorf("invalid address %s", addr)
		}
		if n < 0 {
			return nil, fmt.Errorf("invalid length %d", n)
		}
		exe := rc.ExecutionContext()
		if exe.Process == nil {
			return nil, proc.ErrProcessGone
		}
		buf := make([]byte, n)
		read, err := exe.Process.ReadMemory(buf, a)
		if err != nil {
			return nil, err
		}
		return starlark.Bytes(buf[:read]), nil
	})

	add("checkpoint", "()", "saves the values of all registers.", func(thread *starlark.Thread, rc *proc.RegisterContext, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := starlark.UnpackArgs("checkpoint", args, kwargs); err != nil {
			return nil, err
		}
		cp, err := rc.ReadAllRegisterValues()
		if err != nil {
			return nil, err
		}
		return checkpointValue{cp}, nil
	})

	add("restore", "(Checkpoint)", "restores the registers saved by checkpoint.", func(thread *starlark.Thread, rc *proc.RegisterContext, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var cp checkpointValue
		if err := unpackCheckpoints("restore", args, kwargs, &cp); err != nil {
			return nil, err
		}
		return starlark.None, rc.WriteAllRegisterValues(cp.cp)
	})

	add("changed", "(Old, New)", "returns the names of the registers that differ between two checkpoints. If New is None the current registers are used.", func(thread *starlark.Thread, rc *proc.RegisterContext, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var old, cur checkpointValue
		if err := unpackCheckpoints("changed", args, kwargs, &old, &cur); err != nil {
			return nil, err
		}
		if cur.cp == nil {
			var err error
			cur.cp, err = rc.ReadAllRegisterValues()
			if err != nil {
				return nil, err
			}
		}
		idxs, err := old.cp.Diff(cur.cp)
		if err != nil {
			return nil, err
		}
		names := make([]starlark.Value, 0, len(idxs))
		for _, idx := range idxs {
			names = append(names, starlark.String(rc.RegisterName(idx)))
		}
		return starlark.NewList(names), nil
	})

	add("set_hw_breakpoint", "(Addr)", "installs a hardware breakpoint at Addr and returns its slot.", func(thread *starlark.Thread, rc *proc.RegisterContext, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var addr uint64
		if err := unpackUint64("set_hw_breakpoint", args, kwargs, "addr", &addr); err != nil {
			return nil, err
		}
		idx, err := rc.SetHardwareBreakpoint(addr, 1)
		if err != nil {
			return nil, err
		}
		return starlark.MakeInt(idx), nil
	})

	add("clear_hw_breakpoint", "(Slot)", "removes the hardware breakpoint in Slot. Returns False if there was none.", func(thread *starlark.Thread, rc *proc.RegisterContext, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var idx int
		if err := starlark.UnpackArgs("clear_hw_breakpoint", args, kwargs, "slot", &idx); err != nil {
			return nil, err
		}
		return starlark.Bool(rc.ClearHardwareBreakpoint(idx)), nil
	})

	add("complete", "(Prefix)", "returns the names of the registers starting with Prefix.", func(thread *starlark.Thread, rc *proc.RegisterContext, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var prefix string
		if err := starlark.UnpackArgs("complete", args, kwargs, "prefix", &prefix); err != nil {
			return nil, err
		}
		names := rc.Table().CompleteName(prefix)
		r := make([]starlark.Value, len(names))
		for i := range names {
			r[i] = starlark.String(names[i])
		}
		return starlark.NewList(r), nil
	})

	return r, doc
}

func lookup(rc *proc.RegisterContext, name string) (*proc.RegisterInfo, error) {
	info := rc.InfoByName(name, 0)
	if info == nil {
		return nil, fmt.Errorf("%s: %w", name, proc.ErrUnknownRegister)
	}
	return info, nil
}

func genericRegister(rc *proc.RegisterContext, fnname string, args starlark.Tuple, kwargs []starlark.Tuple, get func(uint64) uint64) (starlark.Value, error) {
	if err := starlark.UnpackArgs(fnname, args, kwargs); err != nil {
		return nil, err
	}
	const fail = ^uint64(0)
	x := get(fail)
	if x == fail {
		return starlark.None, nil
	}
	return starlark.MakeUint64(x), nil
}

func unpackUint64(fnname string, args starlark.Tuple, kwargs []starlark.Tuple, param string, dst *uint64) error {
	var v starlark.Int
	if err := starlark.UnpackArgs(fnname, args, kwargs, param, &v); err != nil {
		return err
	}
	x, ok := v.Uint64()
	if !ok {
		return fmt.Errorf("%s: %s is not a valid %s", fnname, v, param)
	}
	*dst = x
	return nil
}

func unpackCheckpoints(fnname string, args starlark.Tuple, kwargs []starlark.Tuple, dst ...*checkpointValue) error {
	if len(kwargs) > 0 {
		return fmt.Errorf("%s: unexpected keyword arguments", fnname)
	}
	if len(args) < 1 || len(args) > len(dst) {
		return fmt.Errorf("%s: wrong number of arguments", fnname)
	}
	for i, arg := range args {
		if arg == starlark.None && i > 0 {
			continue
		}
		cp, ok := arg.(checkpointValue)
		if !ok {
			return fmt.Errorf("%s: argument %d is %s, not a Checkpoint", fnname, i+1, arg.Type())
		}
		*dst[i] = cp
	}
	return nil
}

// registerSetIndexes returns the indexes of the registers in set, which is
// a set name, a set index or None for all registers except pseudo
// registers.
func registerSetIndexes(rc *proc.RegisterContext, set starlark.Value) ([]int, error) {
	var rs *proc.RegisterSet
	switch set := set.(type) {
	case starlark.NoneType:
		r := make([]int, 0, rc.RegisterCount())
		for i := 0; i < rc.RegisterCount(); i++ {
			if !rc.InfoAtIndex(i).IsPseudo() {
				r = append(r, i)
			}
		}
		return r, nil
	case starlark.Int:
		idx, ok := set.Int64()
		if !ok {
			return nil, fmt.Errorf("invalid register set %s", set)
		}
		rs = rc.RegisterSetAtIndex(int(idx))
	case starlark.String:
		for i := 0; i < rc.RegisterSetCount(); i++ {
			cur := rc.RegisterSetAtIndex(i)
			if strings.EqualFold(cur.Name, string(set)) || strings.EqualFold(cur.ShortName, string(set)) {
				rs = cur
				break
			}
		}
	default:
		return nil, fmt.Errorf("invalid register set %s", set)
	}
	if rs == nil {
		return nil, fmt.Errorf("unknown register set %s", set)
	}
	return rs.Registers, nil
}
