package cmds

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.starlark.net/starlark"

	"github.com/go-delve/regctx/pkg/config"
	"github.com/go-delve/regctx/pkg/logflags"
	"github.com/go-delve/regctx/pkg/proc"
	"github.com/go-delve/regctx/pkg/proc/core"
	"github.com/go-delve/regctx/pkg/proc/native"
	"github.com/go-delve/regctx/pkg/terminal/starbind"
	"github.com/go-delve/regctx/pkg/version"
	"github.com/go-delve/regctx/service/dap"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string
	// archName is the architecture or register table used by commands
	// that do not read a target.
	archName string
	// color controls colorized register dumps.
	color colorValue

	// statePath is the YAML snapshot of a stopped process.
	statePath string
	// threadID selects a thread of the snapshot, 0 is its first thread.
	threadID int
	// frameIdx selects a frame of the thread.
	frameIdx int

	dumpBaseline string
	dumpSet      string

	translateFrom registerKindValue
	translateTo   registerKindValue

	scriptArgs string

	// addr is the DAP server listen address.
	addr string

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command

	conf *config.Config
)

const regctxCommandLongDesc = `regctx inspects the registers of stopped processes.

Register tables describe the registers of an architecture: their sizes,
their offsets in the register bank and their numbers in each numbering
scheme (ehframe, dwarf, generic and native). Built in tables exist for
amd64, arm64 and mips64, more can be loaded from YAML files.

Stopped processes are read from YAML snapshots (see 'regctx help state')
or, on linux/amd64, attached with ptrace.`

// New returns an initialized command tree.
func New(docCall bool) *cobra.Command {
	// Config setup and load.
	var err error
	conf, err = config.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}

	// Main regctx root command.
	rootCommand = &cobra.Command{
		Use:           "regctx",
		Short:         "regctx inspects the registers of stopped processes.",
		Long:          regctxCommandLongDesc,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("log-output") && conf.LogOutput != "" && log {
				logOutput = conf.LogOutput
			}
			return logflags.Setup(log, logOutput, logDest)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logflags.Close()
		},
	}

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (see 'regctx help log')`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor (see 'regctx help log').")
	rootCommand.PersistentFlags().StringVarP(&archName, "arch", "a", conf.GetDefaultArch(), "Architecture name or register table.")
	color = colorValue(conf.Color)
	if color == "" {
		color = "auto"
	}
	rootCommand.PersistentFlags().Var(&color, "color", "Colorize register dumps: auto, always or never.")

	stateFlags := func(cmd *cobra.Command) {
		cmd.Flags().StringVarP(&statePath, "state", "s", "", "YAML snapshot of the stopped process.")
		cmd.Flags().IntVarP(&threadID, "thread", "t", 0, "Thread to inspect, defaults to the first thread.")
		cmd.MarkFlagRequired("state")
	}

	// 'tables' subcommand.
	tablesCommand := &cobra.Command{
		Use:   "tables",
		Short: "Lists the available register tables.",
		Long: `Lists the built in register tables and the YAML register tables found in
the directories listed by table-directories in the configuration file.`,
		Args: cobra.NoArgs,
		RunE: tablesCmd,
	}
	rootCommand.AddCommand(tablesCommand)

	// 'describe' subcommand.
	describeCommand := &cobra.Command{
		Use:   "describe [table]",
		Short: "Describes the registers of a register table.",
		Long: `Describes every register of a register table, grouped by register set.

The table is the value of --arch unless specified. It can be the name of an
architecture, the path of a YAML table or the name of a YAML table found in
one of the table directories.`,
		Args: cobra.MaximumNArgs(1),
		RunE: describeCmd,
	}
	rootCommand.AddCommand(describeCommand)

	// 'translate' subcommand.
	translateCommand := &cobra.Command{
		Use:   "translate <number>",
		Short: "Translates a register number between numbering schemes.",
		Long: `Translates a register number from the numbering scheme of --from to the
numbering scheme of --to.

Numbers of the generic scheme can also be specified by role: pc, sp, fp, ra
or flags.

	regctx translate --from dwarf --to native 16
	regctx translate --from generic --to dwarf sp
`,
		Args: cobra.ExactArgs(1),
		RunE: translateCmd,
	}
	translateFrom = registerKindValue(proc.KindDWARF)
	translateTo = registerKindValue(proc.KindNative)
	translateCommand.Flags().Var(&translateFrom, "from", "Numbering scheme of the argument: ehframe, dwarf, generic or native.")
	translateCommand.Flags().Var(&translateTo, "to", "Numbering scheme of the result.")
	rootCommand.AddCommand(translateCommand)

	// 'complete' subcommand.
	completeCommand := &cobra.Command{
		Use:   "complete <prefix>",
		Short: "Lists the register names starting with prefix.",
		Args:  cobra.ExactArgs(1),
		RunE:  completeCmd,
	}
	rootCommand.AddCommand(completeCommand)

	// 'dump' subcommand.
	dumpCommand := &cobra.Command{
		Use:   "dump",
		Short: "Prints the registers of a thread.",
		Long: `Prints the registers of a thread of a process snapshot.

If --baseline specifies an earlier snapshot of the same process the registers
that changed since then are highlighted.`,
		Args: cobra.NoArgs,
		RunE: dumpCmd,
	}
	stateFlags(dumpCommand)
	dumpCommand.Flags().IntVarP(&frameIdx, "frame", "f", 0, "Frame to inspect.")
	dumpCommand.Flags().StringVar(&dumpBaseline, "baseline", "", "Earlier snapshot to compare with.")
	dumpCommand.Flags().StringVar(&dumpSet, "set", "", "Only print this register set.")
	rootCommand.AddCommand(dumpCommand)

	// 'branch' subcommand.
	branchCommand := &cobra.Command{
		Use:   "branch",
		Short: "Computes the destination of the branch instruction at the current PC.",
		Long: `Decodes the instruction at the program counter of a thread and, if it is a
call or a jump, computes its destination from the registers and memory of
the snapshot. Only amd64 is supported.`,
		Args: cobra.NoArgs,
		RunE: branchCmd,
	}
	stateFlags(branchCommand)
	rootCommand.AddCommand(branchCommand)

	// 'script' subcommand.
	scriptCommand := &cobra.Command{
		Use:   "script <file.star> [args...]",
		Short: "Runs a starlark script against a thread.",
		Long: `Runs a starlark script with the registers of a thread of a snapshot.

If the script defines a function main it is called with the list of
arguments following the script path, followed by the fields of --args.
Fields of --args can be quoted with single quotes.`,
		Args: cobra.MinimumNArgs(1),
		RunE: scriptCmd,
	}
	stateFlags(scriptCommand)
	scriptCommand.Flags().StringVar(&scriptArgs, "args", "", "Additional arguments of main.")
	rootCommand.AddCommand(scriptCommand)

	// 'dap' subcommand.
	dapCommand := &cobra.Command{
		Use:   "dap",
		Short: "Starts a TCP server serving the registers of a snapshot via Debug Adaptor Protocol (DAP).",
		Long: `Starts a TCP server serving the registers of a snapshot via Debug Adaptor Protocol (DAP).

Every stack frame has a "Registers" scope, registers can be changed with
setVariable requests. The server accepts a single client connection and
exits when the client disconnects.`,
		Args: cobra.NoArgs,
		RunE: dapCmd,
	}
	stateFlags(dapCommand)
	dapCommand.Flags().StringVarP(&addr, "listen", "l", "127.0.0.1:0", "DAP server listen address.")
	rootCommand.AddCommand(dapCommand)

	// 'attach' subcommand.
	attachCommand := &cobra.Command{
		Use:   "attach <pid>",
		Short: "Attaches to a running process and prints the registers of its threads.",
		Long: `Attaches to a running process with ptrace, prints the registers of all its
threads and detaches. Only linux/amd64 is supported.`,
		Args: cobra.ExactArgs(1),
		RunE: attachCmd,
	}
	attachCommand.Flags().StringVar(&dumpSet, "set", "", "Only print this register set.")
	rootCommand.AddCommand(attachCommand)

	// 'version' subcommand.
	var buildInfo bool
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "regctx\n%s\n", version.RegctxVersion)
			if buildInfo {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\n", version.BuildInfo())
			}
		},
	}
	versionCommand.Flags().BoolVarP(&buildInfo, "verbose", "v", false, "print build info")
	rootCommand.AddCommand(versionCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Help about logging flags.",
		Long: `Logging can be enabled by specifying the --log flag and using the
--log-output flag to select which components should produce logs.

The argument of --log-output must be a comma separated list of component
names selected from this list:

	regctx		Log register context invalidation, copies and PC changes (default)
	dynsize		Log dynamic register size resolution
	xfer		Log register transfers to and from memory
	native		Log ptrace register transfers
	starlark	Log starlark script execution
	dap		Log all DAP messages

Additionally --log-dest can be used to specify where the logs should be
written.
If the argument is a number it will be interpreted as a file descriptor,
otherwise as a file path.

`,
	})

	rootCommand.AddCommand(&cobra.Command{
		Use:   "state",
		Short: "Help about process snapshots.",
		Long: `Process snapshots are YAML files describing a stopped process:

	arch: amd64
	pid: 1234
	read-only: false
	memory:
	  - addr: 0x601000
	    data: "efbeadde00000000"
	threads:
	  - id: 1234
	    registers:
	      rip: 0x401000
	      rsp: 0x7ffc0000
	    callers: [0x401200, 0x401300]

Registers not listed are zero. The callers of a thread are the return
addresses of its outer frames, innermost first. Read-only snapshots behave
like core files: register and memory writes fail.
`,
	})

	rootCommand.DisableAutoGenTag = true

	return rootCommand
}

// loadTable returns the register table called name: the table of a built
// in architecture, a YAML table file or a YAML table in one of the
// configured table directories.
func loadTable(name string) (*proc.RegisterTable, error) {
	if a, err := proc.ArchByName(name); err == nil {
		return a.RegisterTable(), nil
	}
	if _, err := os.Stat(name); err == nil {
		return proc.LoadRegisterTable(name)
	}
	for _, dir := range conf.TableDirectories {
		for _, ext := range []string{".yml", ".yaml"} {
			path := filepath.Join(dir, name+ext)
			if _, err := os.Stat(path); err == nil {
				return proc.LoadRegisterTable(path)
			}
		}
	}
	return nil, fmt.Errorf("unknown register table %q", name)
}

func tablesCmd(cmd *cobra.Command, args []string) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 2, ' ', 0)
	defer w.Flush()
	for _, name := range proc.ArchNames() {
		a, _ := proc.ArchByName(name)
		fmt.Fprintf(w, "%s\tbuilt in\t%d registers\n", name, a.RegisterTable().Count())
	}
	for _, dir := range conf.TableDirectories {
		var paths []string
		for _, pattern := range []string{"*.yml", "*.yaml"} {
			m, _ := filepath.Glob(filepath.Join(dir, pattern))
			paths = append(paths, m...)
		}
		sort.Strings(paths)
		for _, path := range paths {
			table, err := proc.LoadRegisterTable(path)
			if err != nil {
				fmt.Fprintf(w, "%s\t%s\t%v\n", filepath.Base(path), path, err)
				continue
			}
			fmt.Fprintf(w, "%s\t%s\t%d registers\n", strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)), path, table.Count())
		}
	}
	return nil
}

func formatRegNum(kind proc.RegisterKind, num uint32) string {
	switch {
	case num == proc.InvalidRegNum:
		return "-"
	case kind == proc.KindGeneric:
		return proc.GenericRoleName(num)
	}
	return strconv.FormatUint(uint64(num), 10)
}

func describeCmd(cmd *cobra.Command, args []string) error {
	name := archName
	if len(args) > 0 {
		name = args[0]
	}
	table, err := loadTable(name)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: %d registers, %d byte register bank, %s\n", table.Arch(), table.Count(), table.BankSize(), table.ByteOrder())
	for i := 0; i < table.SetCount(); i++ {
		set := table.SetAtIndex(i)
		fmt.Fprintf(out, "\n%s (%s):\n", set.Name, set.ShortName)
		w := tabwriter.NewWriter(out, 0, 8, 1, ' ', 0)
		fmt.Fprintf(w, "name\talt\tsize\toffset\tencoding\tehframe\tdwarf\tgeneric\tnative\t\n")
		for _, idx := range set.Registers {
			info := table.InfoAtIndex(idx)
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t", info.Name, info.AltName, info.ByteSize, info.Offset, info.Encoding)
			for k := proc.KindEHFrame; k <= proc.KindNative; k++ {
				fmt.Fprintf(w, "%s\t", formatRegNum(k, info.Num(k)))
			}
			var notes []string
			if info.IsPseudo() {
				parts := make([]string, len(info.ValueRegs))
				for j, v := range info.ValueRegs {
					parts[j] = table.InfoAtIndex(v).Name
				}
				notes = append(notes, "part of "+strings.Join(parts, ","))
			}
			if info.HasDynamicSize() {
				notes = append(notes, "dynamic size")
			}
			fmt.Fprintf(w, "%s\n", strings.Join(notes, "; "))
		}
		w.Flush()
	}
	return nil
}

func translateCmd(cmd *cobra.Command, args []string) error {
	table, err := loadTable(archName)
	if err != nil {
		return err
	}
	from, to := proc.RegisterKind(translateFrom), proc.RegisterKind(translateTo)
	var num uint32
	if role, err := proc.ParseGenericRole(args[0]); err == nil && from == proc.KindGeneric {
		num = role
	} else {
		n, err := strconv.ParseUint(args[0], 0, 32)
		if err != nil {
			return fmt.Errorf("invalid register number %q", args[0])
		}
		num = uint32(n)
	}
	info := table.InfoFor(from, num)
	if info == nil {
		return fmt.Errorf("no %s register %s", from, formatRegNum(from, num))
	}
	r, ok := table.Translate(from, num, to)
	if !ok {
		return fmt.Errorf("register %s has no %s number", info.Name, to)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", formatRegNum(to, r), info.Name)
	return nil
}

func completeCmd(cmd *cobra.Command, args []string) error {
	table, err := loadTable(archName)
	if err != nil {
		return err
	}
	for _, name := range table.CompleteName(args[0]) {
		fmt.Fprintln(cmd.OutOrStdout(), name)
	}
	return nil
}

// loadThread loads the snapshot at path and returns the selected thread.
func loadThread(path string, tid int) (*core.Process, *core.Thread, error) {
	st, err := core.LoadState(path)
	if err != nil {
		return nil, nil, err
	}
	p, err := core.NewProcessFromState(core.NewSession(), st, core.Config{DynamicSizeCache: conf.GetDynamicSizeCache()})
	if err != nil {
		return nil, nil, err
	}
	if tid == 0 {
		threads := p.Threads()
		if len(threads) == 0 {
			return nil, nil, fmt.Errorf("%s: no threads", path)
		}
		return p, threads[0], nil
	}
	th, ok := p.Thread(tid)
	if !ok {
		return nil, nil, fmt.Errorf("%s: no thread %d", path, tid)
	}
	return p, th, nil
}

func frameRegisterContext(th *core.Thread, idx int) (*proc.RegisterContext, error) {
	frames := th.Frames()
	if idx < 0 || idx >= len(frames) {
		return nil, fmt.Errorf("thread %d has no frame %d", th.ThreadID(), idx)
	}
	return frames[idx].RegisterContext()
}

func dumpCmd(cmd *cobra.Command, args []string) error {
	_, th, err := loadThread(statePath, threadID)
	if err != nil {
		return err
	}
	rc, err := frameRegisterContext(th, frameIdx)
	if err != nil {
		return err
	}
	w, colorize := outputWriter(cmd.OutOrStdout(), string(color))
	d := &registerDumper{w: w, color: colorize, set: dumpSet}
	if dumpBaseline != "" {
		_, bth, err := loadThread(dumpBaseline, th.ThreadID())
		if err != nil {
			return err
		}
		brc, err := frameRegisterContext(bth, frameIdx)
		if err != nil {
			return err
		}
		d.changed, err = changedRegisters(brc, rc)
		if err != nil {
			return err
		}
	}
	fmt.Fprintf(w, "Thread %d frame %d pc=%#x\n", th.ThreadID(), frameIdx, rc.PC(0))
	return d.dump(rc)
}

func branchCmd(cmd *cobra.Command, args []string) error {
	p, th, err := loadThread(statePath, threadID)
	if err != nil {
		return err
	}
	rc, err := th.RegisterContext()
	if err != nil {
		return err
	}
	pc := rc.PC(0)
	code := make([]byte, p.Arch().MaxInstructionLength())
	n, err := p.ReadMemory(code, pc)
	if n == 0 {
		return fmt.Errorf("could not read instruction at %#x: %v", pc, err)
	}
	bt, err := proc.ResolveBranchTarget(rc, code[:n], pc)
	if err != nil {
		return err
	}
	kind := "jump"
	if bt.Call {
		kind = "call"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%#x: %s\n%s to %#x, returning to %#x\n", pc, bt.Text, kind, bt.Dest, bt.PC)
	return nil
}

// threadContext implements starbind.Context over a snapshot thread.
type threadContext struct {
	th *core.Thread
}

func (ctx *threadContext) RegisterContext() (*proc.RegisterContext, error) {
	return ctx.th.RegisterContext()
}

func (ctx *threadContext) FrameRegisterContext(idx int) (*proc.RegisterContext, error) {
	return frameRegisterContext(ctx.th, idx)
}

func scriptCmd(cmd *cobra.Command, args []string) error {
	_, th, err := loadThread(statePath, threadID)
	if err != nil {
		return err
	}
	mainArgs := append([]string{}, args[1:]...)
	if scriptArgs != "" {
		mainArgs = append(mainArgs, config.SplitQuotedFields(scriptArgs, '\'')...)
	}
	env := starbind.New(&threadContext{th}, cmd.OutOrStdout())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	defer signal.Stop(sigChan)
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-sigChan:
			env.Cancel()
		case <-done:
		}
	}()

	v, err := env.Execute(args[0], nil, "main", []interface{}{mainArgs})
	if err != nil {
		return err
	}
	if v != nil && v != starlark.None {
		fmt.Fprintln(cmd.OutOrStdout(), v)
	}
	return nil
}

func dapCmd(cmd *cobra.Command, args []string) error {
	p, _, err := loadThread(statePath, threadID)
	if err != nil {
		return err
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("couldn't start listener: %s", err)
	}
	disconnectChan := make(chan struct{})
	server := dap.NewServer(&dap.Config{
		Listener:       listener,
		Target:         dap.NewCoreTarget(p),
		DisconnectChan: disconnectChan,
	})
	defer server.Stop()

	fmt.Fprintf(cmd.OutOrStdout(), "DAP server listening at: %s\n", listener.Addr())
	server.Run()
	waitForDisconnectSignal(disconnectChan)
	return nil
}

// waitForDisconnectSignal is a blocking function that waits for either
// a SIGINT (Ctrl-C) signal from the OS or for disconnectChan to be closed
// by the server when the client disconnects.
func waitForDisconnectSignal(disconnectChan chan struct{}) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt)
	defer signal.Stop(ch)
	select {
	case <-ch:
	case <-disconnectChan:
	}
}

func attachCmd(cmd *cobra.Command, args []string) (err error) {
	pid, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid pid: %s", args[0])
	}
	p, err := native.Attach(pid, native.Config{DynamicSizeCache: conf.GetDynamicSizeCache()})
	if err != nil {
		if errors.Is(err, native.ErrNativeUnsupported) {
			return fmt.Errorf("attach: %w", err)
		}
		return fmt.Errorf("could not attach to pid %d: %w", pid, err)
	}
	defer func() {
		if derr := p.Detach(); derr != nil && err == nil {
			err = derr
		}
	}()
	w, colorize := outputWriter(cmd.OutOrStdout(), string(color))
	d := &registerDumper{w: w, color: colorize, set: dumpSet}
	for _, th := range p.Threads() {
		fmt.Fprintf(w, "Thread %d\n", th.ThreadID())
		rc, err := th.RegisterContext()
		if err != nil {
			printError(w, colorize, err)
			continue
		}
		if err := d.dump(rc); err != nil {
			return err
		}
	}
	return nil
}
