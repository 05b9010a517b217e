package main

import (
	"fmt"
	"os"

	"github.com/go-delve/regctx/cmd/regctx/cmds"
	"github.com/go-delve/regctx/pkg/version"
)

// Build is the git sha of this binaries build.
var Build string

func main() {
	if Build != "" {
		version.RegctxVersion.Build = Build
	}
	if err := cmds.New(false).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
