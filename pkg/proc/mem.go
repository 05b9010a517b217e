package proc

import (
	"errors"
	"fmt"

	"github.com/go-delve/regctx/pkg/logflags"
)

// ReadRegisterValueFromMemory reads length bytes at addr, in the byte
// order of the process, and stores them in dst as the value of the register
// described by info. Values shorter than the register are zero extended.
// dst is not modified when an error is returned.
func (rc *RegisterContext) ReadRegisterValueFromMemory(info *RegisterInfo, addr uint64, length int, dst *RegisterValue) error {
	if info == nil {
		return errors.New("invalid register info argument")
	}
	if length < 0 {
		return fmt.Errorf("invalid length %d", length)
	}
	if length > MaxRegisterByteSize {
		return ErrRegisterTooSmall
	}
	ri := rc.resolveInfo(info)
	if length > ri.ByteSize {
		return fmt.Errorf("%d bytes is too big to store in register %s (%d bytes): %w", length, ri.Name, ri.ByteSize, ErrRegisterTooSmall)
	}
	p, err := rc.thread.Process()
	if err != nil {
		return err
	}

	var src [MaxRegisterByteSize]byte
	n, err := p.ReadMemory(src[:length], addr)
	if logflags.Transfer() {
		logflags.TransferLogger().Debugf("read %d of %d bytes at %#x for register %s", n, length, addr, ri.Name)
	}
	if n != length {
		if err == nil {
			err = fmt.Errorf("read %d of %d bytes: %w", n, length, ErrShortTransfer)
		}
		return err
	}
	if err != nil {
		return err
	}
	return dst.SetFromMemoryData(ri, src[:length], p.ByteOrder())
}

// WriteRegisterValueToMemory converts val to the byte order of the process,
// truncating or zero extending it to length bytes, and writes it at addr.
func (rc *RegisterContext) WriteRegisterValueToMemory(info *RegisterInfo, addr uint64, length int, val *RegisterValue) error {
	if info == nil {
		return errors.New("invalid register info argument")
	}
	if length < 0 || length > MaxRegisterByteSize {
		return fmt.Errorf("invalid length %d", length)
	}
	p, err := rc.thread.Process()
	if err != nil {
		return err
	}

	var dst [MaxRegisterByteSize]byte
	n, err := val.GetAsMemoryData(rc.resolveInfo(info), dst[:length], p.ByteOrder())
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.New("byte copy failed")
	}
	written, err := p.WriteMemory(addr, dst[:n])
	if logflags.Transfer() {
		logflags.TransferLogger().Debugf("wrote %d of %d bytes at %#x for register %s", written, n, addr, info.Name)
	}
	if written != n {
		if err == nil {
			err = fmt.Errorf("only wrote %d of %d bytes: %w", written, n, ErrShortTransfer)
		}
		return err
	}
	return err
}
