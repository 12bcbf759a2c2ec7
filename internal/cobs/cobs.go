// Package cobs implements Consistent Overhead Byte Stuffing framing.
//
// A COBS-encoded buffer contains no zero bytes except the single trailing
// delimiter, so 0x00 on the wire unambiguously marks the end of a frame.
// The algorithm here follows the classical approach (a running "code" byte
// plus a back-patch index) used by Jacques Fortier's reference
// implementation, the same one the scheduler's packet layer was built
// against.
package cobs

import "errors"

// ErrFrameInvalid is returned by Decode when the encoded buffer is
// internally inconsistent: a code byte points past the end of the input.
var ErrFrameInvalid = errors.New("cobs: frame invalid")

// MaxOverhead is the maximum number of code bytes Encode adds to a buffer
// of length l: one per full run of 254 bytes, plus one. The trailing
// delimiter is one byte more.
func MaxOverhead(l int) int {
	return (l+253)/254 + 1
}

// Encode transforms src into a COBS frame terminated by a single 0x00 byte.
// Encode is total: it never fails, for any input including the empty slice.
func Encode(src []byte) []byte {
	length := len(src)
	out := make([]byte, length+MaxOverhead(length)+1)

	code := byte(1)
	codeIndex := 0
	writeIndex := 1
	readIndex := 0

	for readIndex < length {
		b := src[readIndex]
		readIndex++

		if b != 0 {
			out[writeIndex] = b
			writeIndex++
			code++
		}

		if b == 0 || code == 255 {
			out[codeIndex] = code
			code = 1
			codeIndex = writeIndex
			writeIndex++
		}
	}

	out[writeIndex] = 0 // COBS delimiter
	out[codeIndex] = code
	writeIndex++

	return out[:writeIndex]
}

// Decode reverses Encode. enc must not include the trailing delimiter byte;
// callers peel a frame off an inbound byte stream at the first 0x00 and pass
// everything before it here.
//
// Decode fails with ErrFrameInvalid when a code byte would read past the end
// of the buffer (and is not the single-byte code 1), and when decoding
// yields an empty result.
func Decode(enc []byte) ([]byte, error) {
	readIndex := 0
	writeIndex := 0
	length := len(enc)
	out := make([]byte, length)

	for readIndex < length {
		code := int(enc[readIndex])

		if readIndex+code > length && code != 1 {
			return nil, ErrFrameInvalid
		}

		readIndex++

		for i := 1; i < code; i++ {
			out[writeIndex] = enc[readIndex]
			readIndex++
			writeIndex++
		}

		if code != 255 && readIndex != length {
			out[writeIndex] = 0
			writeIndex++
		}
	}

	if writeIndex == 0 {
		return nil, ErrFrameInvalid
	}

	return out[:writeIndex], nil
}
