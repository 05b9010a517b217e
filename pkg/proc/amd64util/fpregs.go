package amd64util

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// AMD64PtraceFpRegs tracks user_fpregs_struct in /usr/include/x86_64-linux-gnu/sys/user.h
// which has the same layout as the legacy FXSAVE area. See Section 10.5.1
// of Intel® 64 and IA-32 Architectures Software Developer’s Manual,
// Volume 1: Basic Architecture.
type AMD64PtraceFpRegs struct {
	Cwd      uint16
	Swd      uint16
	Ftw      uint16
	Fop      uint16
	Rip      uint64
	Rdp      uint64
	Mxcsr    uint32
	MxcrMask uint32
	StSpace  [32]uint32
	XmmSpace [256]byte
	Padding  [24]uint32
}

// AMD64PtraceFpRegsSize is the size of user_fpregs_struct.
const AMD64PtraceFpRegsSize = 512

const (
	x87RegSize = 10
	xmmRegSize = 16
)

// ParseFpRegs decodes a user_fpregs_struct.
func ParseFpRegs(buf []byte) (*AMD64PtraceFpRegs, error) {
	if len(buf) < AMD64PtraceFpRegsSize {
		return nil, fmt.Errorf("FXSAVE area too short: %d bytes", len(buf))
	}
	var fpregs AMD64PtraceFpRegs
	if err := binary.Read(bytes.NewReader(buf[:AMD64PtraceFpRegsSize]), binary.LittleEndian, &fpregs); err != nil {
		return nil, fmt.Errorf("could not parse FXSAVE area: %v", err)
	}
	return &fpregs, nil
}

// Bytes encodes fpregs back into a user_fpregs_struct.
func (fpregs *AMD64PtraceFpRegs) Bytes() []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, fpregs)
	return buf.Bytes()
}

// Register returns the little endian contents of the named register:
// fcw, fsw, st0 through st7, xmm0 through xmm15 or mxcsr.
func (fpregs *AMD64PtraceFpRegs) Register(name string) ([]byte, bool) {
	name = strings.ToLower(name)
	switch name {
	case "fcw":
		return binary.LittleEndian.AppendUint16(nil, fpregs.Cwd), true
	case "fsw":
		return binary.LittleEndian.AppendUint16(nil, fpregs.Swd), true
	case "mxcsr":
		return binary.LittleEndian.AppendUint32(nil, fpregs.Mxcsr), true
	}
	if n, ok := regIndex(name, "st", 8); ok {
		buf := make([]byte, 0, x87RegSize)
		buf = binary.LittleEndian.AppendUint32(buf, fpregs.StSpace[n*4])
		buf = binary.LittleEndian.AppendUint32(buf, fpregs.StSpace[n*4+1])
		buf = binary.LittleEndian.AppendUint16(buf, uint16(fpregs.StSpace[n*4+2]))
		return buf, true
	}
	if n, ok := regIndex(name, "xmm", 16); ok {
		buf := make([]byte, xmmRegSize)
		copy(buf, fpregs.XmmSpace[n*xmmRegSize:])
		return buf, true
	}
	return nil, false
}

// SetRegister replaces the contents of the named register. Data is little
// endian and is truncated or zero extended to the size of the register.
func (fpregs *AMD64PtraceFpRegs) SetRegister(name string, data []byte) error {
	name = strings.ToLower(name)
	widen := func(sz int) []byte {
		buf := make([]byte, sz)
		copy(buf, data)
		return buf
	}
	switch name {
	case "fcw":
		fpregs.Cwd = binary.LittleEndian.Uint16(widen(2))
		return nil
	case "fsw":
		fpregs.Swd = binary.LittleEndian.Uint16(widen(2))
		return nil
	case "mxcsr":
		fpregs.Mxcsr = binary.LittleEndian.Uint32(widen(4))
		return nil
	}
	if n, ok := regIndex(name, "st", 8); ok {
		buf := widen(x87RegSize)
		fpregs.StSpace[n*4] = binary.LittleEndian.Uint32(buf[0:])
		fpregs.StSpace[n*4+1] = binary.LittleEndian.Uint32(buf[4:])
		fpregs.StSpace[n*4+2] = uint32(binary.LittleEndian.Uint16(buf[8:]))
		fpregs.StSpace[n*4+3] = 0
		return nil
	}
	if n, ok := regIndex(name, "xmm", 16); ok {
		copy(fpregs.XmmSpace[n*xmmRegSize:(n+1)*xmmRegSize], widen(xmmRegSize))
		return nil
	}
	return fmt.Errorf("unknown floating point register %q", name)
}

func regIndex(name, prefix string, count int) (int, bool) {
	if !strings.HasPrefix(name, prefix) {
		return 0, false
	}
	n, err := strconv.Atoi(name[len(prefix):])
	if err != nil || n < 0 || n >= count {
		return 0, false
	}
	return n, true
}
