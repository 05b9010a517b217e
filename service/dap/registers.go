package dap

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-delve/regctx/pkg/proc"
	"github.com/google/go-dap"
)

// unavailableValue is shown for registers that can not be read.
const unavailableValue = "<unavailable>"

// registersScope returns the "Registers" scope of a frame. Its children
// are the register sets of rc, each of which expands to its registers.
func registersScope(rc *proc.RegisterContext, handles *variablesHandlesMap) dap.Scope {
	return dap.Scope{
		Name:               "Registers",
		PresentationHint:   "registers",
		VariablesReference: handles.create(&registerGroup{rc: rc, set: allRegisterSets}),
		NamedVariables:     rc.RegisterSetCount(),
		Expensive:          true,
	}
}

// registerVariables returns the children of g.
func registerVariables(g *registerGroup, handles *variablesHandlesMap) []dap.Variable {
	if g.set == allRegisterSets {
		vars := make([]dap.Variable, 0, g.rc.RegisterSetCount())
		for i := 0; i < g.rc.RegisterSetCount(); i++ {
			set := g.rc.RegisterSetAtIndex(i)
			vars = append(vars, dap.Variable{
				Name:               set.Name,
				Value:              fmt.Sprintf("[%d registers]", len(set.Registers)),
				VariablesReference: handles.create(&registerGroup{rc: g.rc, set: i}),
				NamedVariables:     len(set.Registers),
			})
		}
		return vars
	}
	set := g.rc.RegisterSetAtIndex(g.set)
	if set == nil {
		return nil
	}
	vars := make([]dap.Variable, 0, len(set.Registers))
	for _, idx := range set.Registers {
		if info := g.rc.InfoAtIndex(idx); info != nil {
			vars = append(vars, convertRegister(g.rc, info))
		}
	}
	return vars
}

// convertRegister converts the current value of a register into a DAP
// variable.
func convertRegister(rc *proc.RegisterContext, info *proc.RegisterInfo) dap.Variable {
	v := dap.Variable{
		Name:         info.Name,
		Type:         registerType(info, rc.RegisterByteSize(info)),
		EvaluateName: info.Name,
	}
	var val proc.RegisterValue
	if err := rc.ReadRegister(info, &val); err != nil {
		v.Value = unavailableValue
		v.PresentationHint = &dap.VariablePresentationHint{Attributes: []string{"readOnly"}}
		return v
	}
	v.Value = strings.Replace(proc.FormatRegister(info, &val), "\t", " ", -1)
	if info.IsPseudo() {
		v.PresentationHint = &dap.VariablePresentationHint{Kind: "virtual"}
	}
	return v
}

func registerType(info *proc.RegisterInfo, size int) string {
	switch info.Encoding {
	case proc.EncodingSint:
		return fmt.Sprintf("int%d", size*8)
	case proc.EncodingIEEE754:
		return fmt.Sprintf("float%d", size*8)
	case proc.EncodingVector:
		return fmt.Sprintf("[%d]uint8", size)
	}
	return fmt.Sprintf("uint%d", size*8)
}

var errNotInRegisterSet = errors.New("register is not part of this register set")

// setRegister writes value into the register called name, which must be
// one of the registers of g. It returns the variable describing the new
// value of the register.
func setRegister(g *registerGroup, name, value string) (dap.Variable, error) {
	info := g.rc.InfoByName(name, 0)
	if info == nil {
		return dap.Variable{}, fmt.Errorf("%w: %s", proc.ErrUnknownRegister, name)
	}
	if g.set != allRegisterSets {
		set := g.rc.RegisterSetAtIndex(g.set)
		found := false
		for _, idx := range set.Registers {
			if idx == info.Index {
				found = true
				break
			}
		}
		if !found {
			return dap.Variable{}, errNotInRegisterSet
		}
	}
	x, err := strconv.ParseUint(strings.TrimSpace(value), 0, 64)
	if err != nil {
		return dap.Variable{}, fmt.Errorf("invalid register value %q: %w", value, err)
	}
	if err := g.rc.WriteRegisterFromUnsigned(info, x); err != nil {
		return dap.Variable{}, err
	}
	return convertRegister(g.rc, info), nil
}
