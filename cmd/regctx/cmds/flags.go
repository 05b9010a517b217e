package cmds

import (
	"strings"

	"github.com/spf13/pflag"

	"github.com/go-delve/regctx/pkg/proc"
)

// registerKindValue is a pflag.Value accepting the names of register
// kinds.
type registerKindValue proc.RegisterKind

var _ pflag.Value = new(registerKindValue)

func (v *registerKindValue) String() string { return proc.RegisterKind(*v).String() }

func (v *registerKindValue) Set(s string) error {
	k, err := proc.ParseRegisterKind(s)
	if err != nil {
		return err
	}
	*v = registerKindValue(k)
	return nil
}

func (v *registerKindValue) Type() string { return "kind" }

// colorValue is a pflag.Value for the --color flag.
type colorValue string

var _ pflag.Value = new(colorValue)

func (v *colorValue) String() string { return string(*v) }

func (v *colorValue) Set(s string) error {
	switch s = strings.ToLower(s); s {
	case "auto", "always", "never":
		*v = colorValue(s)
		return nil
	}
	return errInvalidColor
}

func (v *colorValue) Type() string { return "when" }
