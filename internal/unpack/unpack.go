// Package unpack decodes the MODIFY_TASK_VAL wire value types: a closed set
// of struct-style format characters borrowed from the Python prototype's
// struct.unpack table, each mapped to a fixed-width Go type.
package unpack

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ErrBadSize is returned when raw's length doesn't match typeCode's width.
type ErrBadSize struct {
	Code byte
	Want int
	Got  int
}

func (e *ErrBadSize) Error() string {
	return fmt.Sprintf("unpack: type code %q wants %d byte(s), got %d", e.Code, e.Want, e.Got)
}

// ErrUnknownType is returned for a type code outside the closed set
// {?, c, b, B, h, H, i, I, q, Q, e, f, d, n, N}.
type ErrUnknownType struct{ Code byte }

func (e *ErrUnknownType) Error() string {
	return fmt.Sprintf("unpack: unknown type code %q", e.Code)
}

// Value decodes raw as typeCode, using order little-endian if littleEndian
// else big-endian. The returned value's concrete Go type depends on
// typeCode:
//
//	?  bool       c  byte        b  int8        B  uint8
//	h  int16      H  uint16      i  int32        I  uint32
//	q  int64      Q  uint64      n  int64        N  uint64
//	e  float32 (widened from IEEE binary16)
//	f  float32    d  float64
func Value(typeCode byte, littleEndian bool, raw []byte) (any, error) {
	var order binary.ByteOrder = binary.BigEndian
	if littleEndian {
		order = binary.LittleEndian
	}

	want := widthOf(typeCode)
	if want == 0 {
		return nil, &ErrUnknownType{Code: typeCode}
	}
	if len(raw) != want {
		return nil, &ErrBadSize{Code: typeCode, Want: want, Got: len(raw)}
	}

	switch typeCode {
	case '?':
		return raw[0] != 0, nil
	case 'c':
		return raw[0], nil
	case 'b':
		return int8(raw[0]), nil
	case 'B':
		return raw[0], nil
	case 'h':
		return int16(order.Uint16(raw)), nil
	case 'H':
		return order.Uint16(raw), nil
	case 'i':
		return int32(order.Uint32(raw)), nil
	case 'I':
		return order.Uint32(raw), nil
	case 'q':
		return int64(order.Uint64(raw)), nil
	case 'Q':
		return order.Uint64(raw), nil
	case 'n':
		return int64(order.Uint64(raw)), nil
	case 'N':
		return order.Uint64(raw), nil
	case 'e':
		return half2float(order.Uint16(raw)), nil
	case 'f':
		return math.Float32frombits(order.Uint32(raw)), nil
	case 'd':
		return math.Float64frombits(order.Uint64(raw)), nil
	default:
		return nil, &ErrUnknownType{Code: typeCode}
	}
}

func widthOf(typeCode byte) int {
	switch typeCode {
	case '?', 'c', 'b', 'B':
		return 1
	case 'h', 'H', 'e':
		return 2
	case 'i', 'I', 'f':
		return 4
	case 'q', 'Q', 'n', 'N', 'd':
		return 8
	default:
		return 0
	}
}

// half2float widens an IEEE-754 binary16 bit pattern to float32.
func half2float(bits uint16) float32 {
	sign := uint32(bits>>15) & 0x1
	exp := int32(bits>>10) & 0x1f
	frac := uint32(bits) & 0x3ff

	var f32bits uint32
	switch {
	case exp == 0 && frac == 0:
		f32bits = sign << 31
	case exp == 0x1f:
		f32bits = sign<<31 | 0xff<<23 | frac<<13
	case exp == 0:
		// Subnormal half -> normalize into float32.
		for frac&0x400 == 0 {
			frac <<= 1
			exp--
		}
		exp++
		frac &= ^uint32(0x400)
		f32bits = sign<<31 | uint32(exp+112)<<23 | frac<<13
	default:
		f32bits = sign<<31 | uint32(exp+112)<<23 | frac<<13
	}
	return math.Float32frombits(f32bits)
}
