//go:build !linux || !amd64

package native

import "github.com/go-delve/regctx/pkg/proc"

func newThreadBackend(dbp *Process, tid int) (proc.RegisterBackend, error) {
	return nil, ErrNativeUnsupported
}
