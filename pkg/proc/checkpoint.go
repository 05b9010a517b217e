package proc

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/go-delve/regctx/pkg/dwarf/leb128"
)

// RegisterCheckpoint is a snapshot of the registers of a thread that can
// later be restored with WriteAllRegisterValues. Its contents are opaque.
type RegisterCheckpoint struct {
	arch     string
	threadID int
	// bank is set when the data was produced by a RegisterBankBackend,
	// otherwise data is a list of (index, size, bytes) records written
	// by the context itself.
	bank bool
	// layout describes the bank data, if the backend exposes it.
	layout *RegisterTable
	data   []byte
}

// bankLayout is implemented by RegisterBankBackends whose data is laid out
// according to the offsets of a register table.
type bankLayout interface {
	Layout() *RegisterTable
}

// Arch returns the architecture of the registers saved in the checkpoint.
func (cp *RegisterCheckpoint) Arch() string { return cp.arch }

// ThreadID returns the thread the registers were read from.
func (cp *RegisterCheckpoint) ThreadID() int { return cp.threadID }

// Len returns the size of the checkpoint data.
func (cp *RegisterCheckpoint) Len() int { return len(cp.data) }

// ReadAllRegisterValues saves the contents of all registers into a
// checkpoint. Pseudo-registers are not saved, they are restored through
// the registers they are composed of.
func (rc *RegisterContext) ReadAllRegisterValues() (*RegisterCheckpoint, error) {
	rc.InvalidateIfNeeded(false)
	cp := &RegisterCheckpoint{arch: rc.table.Arch(), threadID: rc.thread.ThreadID()}
	if bb, ok := rc.backend.(RegisterBankBackend); ok {
		data, err := bb.ReadAllRegisterValues()
		if err != nil {
			return nil, err
		}
		cp.bank = true
		cp.data = data
		if l, ok := rc.backend.(bankLayout); ok {
			cp.layout = l.Layout()
		}
		return cp, nil
	}
	var buf bytes.Buffer
	for i := 0; i < rc.table.Count(); i++ {
		info := rc.table.InfoAtIndex(i)
		if info.IsPseudo() {
			continue
		}
		var val RegisterValue
		if err := rc.ReadRegister(info, &val); err != nil {
			continue
		}
		leb128.EncodeUnsigned(&buf, uint64(i))
		leb128.EncodeUnsigned(&buf, uint64(val.Size()))
		buf.Write(val.Bytes())
	}
	cp.data = buf.Bytes()
	return cp, nil
}

// WriteAllRegisterValues restores the registers saved in cp.
func (rc *RegisterContext) WriteAllRegisterValues(cp *RegisterCheckpoint) error {
	if cp == nil {
		return errors.New("nil register checkpoint")
	}
	if cp.arch != rc.table.Arch() {
		return fmt.Errorf("can not restore %s registers into a %s register context", cp.arch, rc.table.Arch())
	}
	rc.InvalidateIfNeeded(false)
	if cp.bank {
		bb, ok := rc.backend.(RegisterBankBackend)
		if !ok {
			return errors.New("register checkpoint was created by a different backend")
		}
		err := bb.WriteAllRegisterValues(cp.data)
		rc.sizes.Purge()
		return err
	}
	entries, err := cp.entries()
	if err != nil {
		return err
	}
	for _, e := range entries {
		info := rc.table.InfoAtIndex(e.index)
		if info == nil {
			return fmt.Errorf("corrupted register checkpoint: unknown register %d", e.index)
		}
		var val RegisterValue
		if err := val.SetBytes(e.data, rc.table.ByteOrder()); err != nil {
			return err
		}
		if err := rc.WriteRegister(info, &val); err != nil {
			return err
		}
	}
	return nil
}

// Registers returns the indices of the registers saved in cp. Checkpoints
// of a RegisterBankBackend can only be decoded if the backend describes
// its layout.
func (cp *RegisterCheckpoint) Registers() ([]int, error) {
	entries, err := cp.entries()
	if err != nil {
		return nil, err
	}
	r := make([]int, len(entries))
	for i := range entries {
		r[i] = entries[i].index
	}
	return r, nil
}

// Diff returns the indices of the registers whose saved value differs
// between cp and other. Registers saved in only one of the checkpoints are
// also reported.
func (cp *RegisterCheckpoint) Diff(other *RegisterCheckpoint) ([]int, error) {
	a, err := cp.entries()
	if err != nil {
		return nil, err
	}
	b, err := other.entries()
	if err != nil {
		return nil, err
	}
	vals := make(map[int][]byte, len(b))
	for _, e := range b {
		vals[e.index] = e.data
	}
	var r []int
	for _, e := range a {
		d, ok := vals[e.index]
		if !ok || !bytes.Equal(d, e.data) {
			r = append(r, e.index)
		}
		delete(vals, e.index)
	}
	for _, e := range b {
		if _, ok := vals[e.index]; ok {
			r = append(r, e.index)
		}
	}
	return r, nil
}

type checkpointEntry struct {
	index int
	data  []byte
}

func (cp *RegisterCheckpoint) entries() ([]checkpointEntry, error) {
	if cp.bank {
		return cp.bankEntries()
	}
	var r []checkpointEntry
	buf := bytes.NewReader(cp.data)
	for buf.Len() > 0 {
		idx, _, err := leb128.DecodeUnsigned(buf)
		if err != nil {
			return nil, fmt.Errorf("corrupted register checkpoint: %w", err)
		}
		sz, _, err := leb128.DecodeUnsigned(buf)
		if err != nil {
			return nil, fmt.Errorf("corrupted register checkpoint: %w", err)
		}
		if sz > MaxRegisterByteSize || int(sz) > buf.Len() {
			return nil, errors.New("corrupted register checkpoint: truncated register value")
		}
		data := make([]byte, sz)
		buf.Read(data)
		r = append(r, checkpointEntry{index: int(idx), data: data})
	}
	return r, nil
}

func (cp *RegisterCheckpoint) bankEntries() ([]checkpointEntry, error) {
	if cp.layout == nil {
		return nil, errors.New("register bank checkpoints can not be decoded")
	}
	if len(cp.data) != cp.layout.BankSize() {
		return nil, fmt.Errorf("corrupted register checkpoint: %d bytes, expected %d", len(cp.data), cp.layout.BankSize())
	}
	var r []checkpointEntry
	for i := 0; i < cp.layout.Count(); i++ {
		info := cp.layout.InfoAtIndex(i)
		if info.IsPseudo() {
			continue
		}
		r = append(r, checkpointEntry{index: i, data: cp.data[info.Offset : info.Offset+info.ByteSize]})
	}
	return r, nil
}
