package cmds

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/go-delve/regctx/pkg/proc"
)

const (
	terminalHighlightEscapeCode string = "\033[%2dm"
	terminalResetEscapeCode     string = "\033[0m"

	ansiRed    = 31
	ansiYellow = 33
)

var errInvalidColor = errors.New("color must be one of auto, always or never")

// outputWriter returns the writer register dumps are written to and
// whether they should be colorized.
func outputWriter(out io.Writer, when string) (io.Writer, bool) {
	f, isFile := out.(*os.File)
	switch when {
	case "always":
		if isFile {
			return colorable.NewColorable(f), true
		}
		return out, true
	case "never":
		return out, false
	}
	if !isFile || strings.ToLower(os.Getenv("TERM")) == "dumb" {
		return out, false
	}
	if !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd()) {
		return out, false
	}
	return colorable.NewColorable(f), true
}

// registerDumper prints the registers of a context grouped by register
// set.
type registerDumper struct {
	w     io.Writer
	color bool
	// changed holds the indices of registers that are highlighted.
	changed map[int]bool
	// set restricts the output to one register set, matched by name or
	// short name.
	set string
}

func (d *registerDumper) dump(rc *proc.RegisterContext) error {
	found := false
	for i := 0; i < rc.RegisterSetCount(); i++ {
		set := rc.RegisterSetAtIndex(i)
		if d.set != "" && !strings.EqualFold(d.set, set.Name) && !strings.EqualFold(d.set, set.ShortName) {
			continue
		}
		found = true
		d.dumpSet(rc, set)
	}
	if !found {
		return fmt.Errorf("no register set %q", d.set)
	}
	return nil
}

func (d *registerDumper) dumpSet(rc *proc.RegisterContext, set *proc.RegisterSet) {
	fmt.Fprintf(d.w, "%s:\n", set.Name)
	maxlen := 0
	for _, idx := range set.Registers {
		if n := len(rc.RegisterName(idx)); n > maxlen {
			maxlen = n
		}
	}
	for _, idx := range set.Registers {
		info := rc.InfoAtIndex(idx)
		var val proc.RegisterValue
		var s string
		if err := rc.ReadRegister(info, &val); err != nil {
			s = fmt.Sprintf("<%v>", err)
		} else {
			s = proc.FormatRegister(info, &val)
		}
		line := fmt.Sprintf("%*s = %s", maxlen, info.Name, s)
		if d.changed[idx] {
			if d.color {
				line = fmt.Sprintf(terminalHighlightEscapeCode, ansiYellow) + line + terminalResetEscapeCode
			} else {
				line += " *"
			}
		}
		fmt.Fprintln(d.w, line)
	}
}

// changedRegisters returns the registers whose value differs between the
// contexts of two snapshots of the same thread. Non-pseudo registers are
// compared through checkpoints, pseudo-registers by value.
func changedRegisters(before, after *proc.RegisterContext) (map[int]bool, error) {
	if before.Table().Arch() != after.Table().Arch() {
		return nil, fmt.Errorf("can not compare %s registers with %s registers", before.Table().Arch(), after.Table().Arch())
	}
	cpBefore, err := before.ReadAllRegisterValues()
	if err != nil {
		return nil, err
	}
	cpAfter, err := after.ReadAllRegisterValues()
	if err != nil {
		return nil, err
	}
	diff, err := cpBefore.Diff(cpAfter)
	if err != nil {
		return nil, err
	}
	changed := make(map[int]bool, len(diff))
	for _, idx := range diff {
		changed[idx] = true
	}
	for i := 0; i < after.RegisterCount(); i++ {
		info := after.InfoAtIndex(i)
		if !info.IsPseudo() {
			continue
		}
		var a, b proc.RegisterValue
		errA := before.ReadRegister(before.InfoAtIndex(i), &a)
		errB := after.ReadRegister(info, &b)
		if (errA == nil) != (errB == nil) || (errA == nil && !a.Equal(&b)) {
			changed[i] = true
		}
	}
	return changed, nil
}

func printError(w io.Writer, color bool, err error) {
	if color {
		fmt.Fprintf(w, terminalHighlightEscapeCode+"%v"+terminalResetEscapeCode+"\n", ansiRed, err)
		return
	}
	fmt.Fprintln(w, err)
}
