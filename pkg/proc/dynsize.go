package proc

import (
	"fmt"

	"github.com/go-delve/regctx/pkg/logflags"
)

// ResolveDynamicSize evaluates the dynamic size expression of info. An
// expression that evaluates to 0 means the register is 4 bytes wide, 1
// means it is 8 bytes wide. In every other case, including evaluation
// errors, the static size of the register is returned together with the
// reason why the expression could not be used.
func ResolveDynamicSize(eval Evaluator, info *RegisterInfo, view DataView, exe *ExecutionContext, regs *RegisterContext) (int, error) {
	if !info.HasDynamicSize() {
		return info.ByteSize, nil
	}
	if eval == nil {
		return info.ByteSize, fmt.Errorf("register %s: no expression evaluator", info.Name)
	}
	view.Data = info.DynamicSizeExpr
	result, err := eval.Evaluate(view, exe, regs)
	if err != nil {
		return info.ByteSize, fmt.Errorf("register %s: evaluating dynamic size: %w", info.Name, err)
	}
	switch result {
	case 0:
		return 4, nil
	case 1:
		return 8, nil
	}
	return info.ByteSize, fmt.Errorf("register %s: dynamic size expression returned %d", info.Name, result)
}

// dynamicSize returns the resolved size of info, evaluating its dynamic size
// expression at most once per stop.
func (rc *RegisterContext) dynamicSize(info *RegisterInfo) int {
	rc.InvalidateIfNeeded(false)
	if v, ok := rc.sizes.Get(info.Index); ok {
		return v.(int)
	}
	if rc.resolving[info.Index] {
		// the expression reads the register itself
		return info.ByteSize
	}
	rc.resolving[info.Index] = true
	defer delete(rc.resolving, info.Index)

	view := DataView{ByteOrder: rc.table.ByteOrder(), AddrSize: rc.table.AddrSize()}
	sz, err := ResolveDynamicSize(rc.eval, info, view, rc.ExecutionContext(), rc)
	if err != nil {
		logflags.DynamicSizeLogger().WithError(err).Errorf("thread %d: using static size %d", rc.thread.ThreadID(), sz)
	} else if logflags.DynamicSize() {
		logflags.DynamicSizeLogger().Debugf("thread %d: register %s is %d bytes", rc.thread.ThreadID(), info.Name, sz)
	}
	rc.sizes.Add(info.Index, sz)
	return sz
}
