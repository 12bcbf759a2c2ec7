// Package packet assembles and parses the scheduler's wire frames.
//
// Decoded layout is a fixed 4-byte header followed by 0-MaxPayload bytes of
// payload:
//
//	offset  width  field
//	0       2      crc16 (little-endian; 0 accepted as a valid placeholder)
//	2       1      task id
//	3       1      task type (0 internal, 1 external)
//	4       N      payload
//
// Encoded frames are the decoded header+payload run through cobs.Encode,
// which appends the 0x00 delimiter.
package packet

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/mculink/hostbench/internal/cobs"
	"github.com/mculink/hostbench/internal/crc16"
)

// Task type discriminator (offset 3 of the decoded header).
type TaskType uint8

const (
	Internal TaskType = 0
	External TaskType = 1
)

func (t TaskType) String() string {
	if t == Internal {
		return "internal"
	}
	return "external"
}

const (
	MaxPayload         = 25
	DecodedHeaderSize  = 4
	EncodedHeaderSize  = 5 // header + 1 COBS length byte
	MaxAllowedPktSize  = 255
	MaxDecodedBufSize  = DecodedHeaderSize + MaxPayload
	MaxEncodedBufSize  = EncodedHeaderSize + MaxPayload + 1
	crc16Offset        = 0
	taskIDOffset       = 2
	taskTypeOffset     = 3
	payloadOffset      = 4
)

// Sentinel errors from the §7 error taxonomy. Exactly one of these (or a
// wrapping of one) is returned by Parse/Assemble on failure.
var (
	ErrFrameInvalid     = cobs.ErrFrameInvalid
	ErrShortHeader      = errors.New("packet: short header")
	ErrCRCFail          = errors.New("packet: crc16 checksum mismatch")
	ErrUnknownTask      = errors.New("packet: unknown task id")
	ErrSizeMismatch     = errors.New("packet: payload size mismatch")
	ErrAssemblyTooLarge = errors.New("packet: payload exceeds MaxPayload")
)

// Packet is the decoded view of a frame.
type Packet struct {
	CRC16    uint16
	TaskID   uint8
	TaskType TaskType
	Payload  []byte
}

// Lookup resolves an external task id to its declared payload size.
// declaredSize < 0 means "variable, not validated".
type Lookup func(taskID uint8) (declaredSize int, ok bool)

// Assemble builds an encoded, delimiter-terminated frame for
// (taskID, taskType, payload), computing crc16 with crc over the task
// id + task type + payload region.
func Assemble(taskID uint8, taskType TaskType, payload []byte, crc crc16.Func) ([]byte, error) {
	if DecodedHeaderSize+len(payload) > MaxDecodedBufSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrAssemblyTooLarge, len(payload))
	}

	decoded := make([]byte, DecodedHeaderSize, DecodedHeaderSize+len(payload))
	decoded[taskIDOffset] = taskID
	decoded[taskTypeOffset] = byte(taskType)
	decoded = append(decoded, payload...)

	sum := crc(decoded[taskIDOffset:])
	binary.LittleEndian.PutUint16(decoded[crc16Offset:], sum)

	return cobs.Encode(decoded), nil
}

// Parse decodes and validates a completed encoded frame (including its
// trailing delimiter). lookup is consulted only for external tasks; pass
// nil if the caller never parses external tasks (e.g. an outgoing-only
// path).
func Parse(encoded []byte, crc crc16.Func, lookup Lookup) (Packet, error) {
	if len(encoded) < EncodedHeaderSize {
		return Packet{}, fmt.Errorf("%w: %d bytes", ErrShortHeader, len(encoded))
	}

	// Strip the trailing delimiter before handing the run to cobs.Decode.
	body := encoded
	if body[len(body)-1] == 0 {
		body = body[:len(body)-1]
	}

	decoded, err := cobs.Decode(body)
	if err != nil {
		return Packet{}, err
	}
	if len(decoded) < DecodedHeaderSize {
		return Packet{}, fmt.Errorf("%w: decoded to %d bytes", ErrShortHeader, len(decoded))
	}

	gotCRC := binary.LittleEndian.Uint16(decoded[crc16Offset:])
	if gotCRC != 0 {
		want := crc(decoded[taskIDOffset:])
		if gotCRC != want {
			return Packet{}, ErrCRCFail
		}
	}

	p := Packet{
		CRC16:    gotCRC,
		TaskID:   decoded[taskIDOffset],
		TaskType: TaskType(decoded[taskTypeOffset]),
		Payload:  decoded[payloadOffset:],
	}

	if p.TaskType == External {
		if lookup == nil {
			return Packet{}, fmt.Errorf("%w: %d", ErrUnknownTask, p.TaskID)
		}
		declared, ok := lookup(p.TaskID)
		if !ok {
			return Packet{}, fmt.Errorf("%w: %d", ErrUnknownTask, p.TaskID)
		}
		if declared >= 0 && len(p.Payload) != declared {
			return Packet{}, fmt.Errorf("%w: task %d wants %d got %d",
				ErrSizeMismatch, p.TaskID, declared, len(p.Payload))
		}
	}

	return p, nil
}
