package proc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// MaxRegisterByteSize is the size of the largest register a RegisterValue
// can hold.
const MaxRegisterByteSize = 64

// RegisterValue holds the contents of a register. The bytes are stored in
// the order they have in target memory, as indicated by ByteOrder.
// The zero value is an empty register value.
type RegisterValue struct {
	buf   [MaxRegisterByteSize]byte
	size  int
	order binary.ByteOrder
}

// Size returns the number of valid bytes in the value.
func (v *RegisterValue) Size() int { return v.size }

// ByteOrder returns the byte order of the value.
func (v *RegisterValue) ByteOrder() binary.ByteOrder {
	if v.order == nil {
		return binary.LittleEndian
	}
	return v.order
}

// Bytes returns a copy of the contents of the value.
func (v *RegisterValue) Bytes() []byte {
	return append([]byte(nil), v.buf[:v.size]...)
}

// SetBytes replaces the contents of the value with a copy of b, which is
// interpreted using order.
func (v *RegisterValue) SetBytes(b []byte, order binary.ByteOrder) error {
	if len(b) > MaxRegisterByteSize {
		return fmt.Errorf("%d bytes do not fit in a register value: %w", len(b), ErrRegisterTooSmall)
	}
	v.buf = [MaxRegisterByteSize]byte{}
	copy(v.buf[:], b)
	v.size = len(b)
	v.order = order
	return nil
}

// SetUint sets the value to x, stored in size bytes.
func (v *RegisterValue) SetUint(x uint64, size int, order binary.ByteOrder) error {
	if size <= 0 || size > MaxRegisterByteSize {
		return fmt.Errorf("invalid register value size %d", size)
	}
	if size < 8 && x>>(uint(size)*8) != 0 {
		return fmt.Errorf("value %#x does not fit in %d bytes", x, size)
	}
	var le [MaxRegisterByteSize]byte
	binary.LittleEndian.PutUint64(le[:8], x)
	v.setFromLittleEndian(&le, size, order)
	return nil
}

// Uint64 returns the contents of the value, zero extended, as an
// unsigned integer.
func (v *RegisterValue) Uint64() (uint64, error) {
	if v.size <= 0 || v.size > 8 {
		return 0, fmt.Errorf("can not convert %d byte register value to an integer", v.size)
	}
	le := v.littleEndian()
	return binary.LittleEndian.Uint64(le[:8]), nil
}

// Int64 returns the contents of the value, sign extended, as a signed
// integer.
func (v *RegisterValue) Int64() (int64, error) {
	x, err := v.Uint64()
	if err != nil {
		return 0, err
	}
	shift := uint(64 - v.size*8)
	return int64(x<<shift) >> shift, nil
}

// SetFromMemoryData sets the value to the contents of src, read from
// target memory with the byte order srcOrder, and resizes it to the size
// of the register described by info. When src is shorter than the
// register the value is padded with zeroes in its most significant bytes:
// at the end of the buffer for little endian data and at its start for big
// endian data. The value is not modified when an error is returned.
func (v *RegisterValue) SetFromMemoryData(info *RegisterInfo, src []byte, srcOrder binary.ByteOrder) error {
	if info == nil {
		return errors.New("invalid register info argument")
	}
	dstLen := info.ByteSize
	if len(src) > MaxRegisterByteSize || dstLen > MaxRegisterByteSize {
		return ErrRegisterTooSmall
	}
	if len(src) > dstLen {
		return fmt.Errorf("%d bytes is too big to store in register %s (%d bytes)", len(src), info.Name, dstLen)
	}
	var buf [MaxRegisterByteSize]byte
	if isBigEndian(srcOrder) {
		copy(buf[dstLen-len(src):dstLen], src)
	} else {
		copy(buf[:], src)
	}
	v.buf = buf
	v.size = dstLen
	v.order = srcOrder
	return nil
}

// GetAsMemoryData converts the value to the byte order dstOrder and
// copies it into dst, truncating or zero extending it to len(dst) bytes.
// It returns the number of bytes written to dst.
func (v *RegisterValue) GetAsMemoryData(info *RegisterInfo, dst []byte, dstOrder binary.ByteOrder) (int, error) {
	if info == nil {
		return 0, errors.New("invalid register info argument")
	}
	if v.size == 0 {
		return 0, errors.New("invalid register value to copy into memory")
	}
	if len(dst) > MaxRegisterByteSize {
		return 0, errors.New("destination is too big")
	}
	if v.size > info.ByteSize {
		return 0, fmt.Errorf("%d byte value does not fit in register %s (%d bytes)", v.size, info.Name, info.ByteSize)
	}
	le := v.littleEndian()
	n := len(dst)
	big := isBigEndian(dstOrder)
	for i := 0; i < n; i++ {
		if big {
			dst[n-1-i] = le[i]
		} else {
			dst[i] = le[i]
		}
	}
	return n, nil
}

// Equal returns true if v and w hold the same number, regardless of their
// size and byte order.
func (v *RegisterValue) Equal(w *RegisterValue) bool {
	return v.littleEndian() == w.littleEndian()
}

func (v RegisterValue) String() string {
	if v.size == 0 {
		return "<empty>"
	}
	le := v.littleEndian()
	var sb strings.Builder
	sb.WriteString("0x")
	for i := v.size - 1; i >= 0; i-- {
		fmt.Fprintf(&sb, "%02x", le[i])
	}
	return sb.String()
}

// littleEndian returns the contents of v as a zero extended little endian
// number.
func (v *RegisterValue) littleEndian() [MaxRegisterByteSize]byte {
	var le [MaxRegisterByteSize]byte
	if !isBigEndian(v.order) {
		copy(le[:], v.buf[:v.size])
		return le
	}
	for i := 0; i < v.size; i++ {
		le[i] = v.buf[v.size-1-i]
	}
	return le
}

func (v *RegisterValue) setFromLittleEndian(le *[MaxRegisterByteSize]byte, size int, order binary.ByteOrder) {
	v.buf = [MaxRegisterByteSize]byte{}
	if isBigEndian(order) {
		for i := 0; i < size; i++ {
			v.buf[size-1-i] = le[i]
		}
	} else {
		copy(v.buf[:size], le[:size])
	}
	v.size = size
	v.order = order
}
