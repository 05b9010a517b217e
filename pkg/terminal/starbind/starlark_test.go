package starbind

import (
	"bytes"
	"strings"
	"testing"

	"go.starlark.net/starlark"

	"github.com/go-delve/regctx/pkg/proc"
	"github.com/go-delve/regctx/pkg/proc/core"
)

type testContext struct {
	th *core.Thread
}

func (ctx *testContext) RegisterContext() (*proc.RegisterContext, error) {
	return ctx.th.RegisterContext()
}

func (ctx *testContext) FrameRegisterContext(idx int) (*proc.RegisterContext, error) {
	frames := ctx.th.Frames()
	if idx < 0 || idx >= len(frames) {
		return nil, proc.ErrUnknownRegister
	}
	return frames[idx].RegisterContext()
}

const testState = `
arch: amd64
pid: 10
memory:
  - addr: 0x1000
    data: "0102030405060708"
threads:
  - id: 10
    registers:
      rip: 0x401000
      rsp: 0x7ffc0000
      rax: 0x2a
    callers: [0x402000]
`

func newTestEnv(t *testing.T) (*Env, *core.Thread, *bytes.Buffer) {
	t.Helper()
	st, err := core.ParseState(strings.NewReader(testState))
	if err != nil {
		t.Fatal(err)
	}
	p, err := core.NewProcessFromState(core.NewSession(), st, core.Config{})
	if err != nil {
		t.Fatal(err)
	}
	th, _ := p.Thread(10)
	out := new(bytes.Buffer)
	return New(&testContext{th}, out), th, out
}

func execute(t *testing.T, env *Env, script string) starlark.Value {
	t.Helper()
	v, err := env.Execute("test.star", script, "main", nil)
	if err != nil {
		t.Fatalf("script failed: %v", err)
	}
	return v
}

func TestStarlarkReadWrite(t *testing.T) {
	env, th, _ := newTestEnv(t)
	v := execute(t, env, `
def main():
    write_register("rbx", read_register("rax") + 1)
    write_register("cl", 0x7f)
    return [read_register("rbx"), read_register("ecx"), pc(), sp()]
`)
	if v.String() != "[43, 127, 4198400, 2147221504]" {
		t.Errorf("wrong result %s", v)
	}
	rc, _ := th.RegisterContext()
	if x := rc.ReadRegisterAsUnsigned(rc.InfoByName("rbx", 0), 0); x != 43 {
		t.Errorf("rbx not written: %d", x)
	}
}

func TestStarlarkRegisterInfo(t *testing.T) {
	env, _, _ := newTestEnv(t)
	v := execute(t, env, `
def main():
    ri = register_info("eax")
    return [ri.Name, ri.Size, ri.Pseudo, translate("generic", "pc", "dwarf"), translate("dwarf", 1000, "native"), complete("xmm1")]
`)
	if v.String() != `["eax", 4, True, 16, None, ["xmm1", "xmm10", "xmm11", "xmm12", "xmm13", "xmm14", "xmm15"]]` {
		t.Errorf("wrong result %s", v)
	}
}

func TestStarlarkCheckpoint(t *testing.T) {
	env, _, _ := newTestEnv(t)
	v := execute(t, env, `
def main():
    cp = checkpoint()
    write_register("rdx", 5)
    set_pc(0x401010)
    diff = changed(cp)
    restore(cp)
    return [diff, read_register("rdx"), pc()]
`)
	if v.String() != `[["rdx", "rip"], 0, 4198400]` {
		t.Errorf("wrong result %s", v)
	}
}

func TestStarlarkRegisters(t *testing.T) {
	env, _, _ := newTestEnv(t)
	v := execute(t, env, `
def main():
    gpr = registers("gpr")
    all = registers()
    return [gpr["rax"], "eax" in gpr, "eax" in all, len(registers("dbg"))]
`)
	if v.String() != "[42, True, False, 6]" {
		t.Errorf("wrong result %s", v)
	}
	if _, err := env.Execute("test.star", `registers("nosuchset")`, "", nil); err == nil {
		t.Error("unknown register set accepted")
	}
}

func TestStarlarkMemoryAndFrames(t *testing.T) {
	env, _, _ := newTestEnv(t)
	v := execute(t, env, `
def main():
    return [read_memory(0x1002, 4), frame_pc(1), set_hw_breakpoint(0x401000), clear_hw_breakpoint(0)]
`)
	if v.String() != `[b"\x03\x04\x05\x06", 4202496, 0, True]` {
		t.Errorf("wrong result %s", v)
	}
}

func TestStarlarkErrors(t *testing.T) {
	env, _, _ := newTestEnv(t)
	for _, script := range []string{
		`read_register("nosuchreg")`,
		`write_register("al", 0x100)`,
		`write_register("rax", "str")`,
		`restore(1)`,
		`translate("bogus", 1, "dwarf")`,
	} {
		if _, err := env.Execute("test.star", script, "", nil); err == nil {
			t.Errorf("%s: no error", script)
		}
	}
}

func TestStarlarkExportAndHelp(t *testing.T) {
	env, _, out := newTestEnv(t)
	execute(t, env, "Answer = 42\n")
	v := execute(t, env, `
def main():
    help(read_register)
    return Answer
`)
	if v.String() != "42" {
		t.Errorf("exported global not visible: %s", v)
	}
	if !strings.Contains(out.String(), "read_register(Name)") {
		t.Errorf("help output missing: %q", out.String())
	}
}
