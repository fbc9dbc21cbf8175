package slotipc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
	"unsafe"
)

// isLittleEndian is true if the CPU uses little-endian byte order.
// Computed once at package init time. The wire format is little-endian
// and peers may be non-Go processes, so big-endian hosts are rejected
// at open time rather than silently byte-swapped.
var isLittleEndian = func() bool {
	var x uint32 = 0x04030201

	return *(*byte)(unsafe.Pointer(&x)) == 0x01
}()

// Status is the lifecycle state stored in the first 4 bytes of a slot.
type Status uint32

// Slot lifecycle states. Transitions form a fixed cycle:
// EMPTY -> REQUEST -> PROCESSING -> RESPONSE -> EMPTY, with ERROR
// reachable from PROCESSING (and from administrative marking).
// ERROR leaves only via a region reset.
const (
	StatusEmpty      Status = 0
	StatusRequest    Status = 1
	StatusProcessing Status = 2
	StatusResponse   Status = 3
	StatusError      Status = 4
)

func (s Status) String() string {
	switch s {
	case StatusEmpty:
		return "EMPTY"
	case StatusRequest:
		return "REQUEST"
	case StatusProcessing:
		return "PROCESSING"
	case StatusResponse:
		return "RESPONSE"
	case StatusError:
		return "ERROR"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint32(s))
	}
}

// Slot header field offsets (bytes from slot start). All integers are
// little-endian. The layout is fixed; non-Go peers depend on it.
const (
	offStatus     = 0  // uint32
	offTimestamp  = 4  // uint64, milliseconds since Unix epoch
	offRequestID  = 12 // [32]byte, ASCII right-padded with spaces
	offDataLength = 44 // uint32
	offPayload    = 48 // data_length bytes of UTF-8 JSON

	// HeaderSize is the fixed per-slot header size in bytes.
	HeaderSize = offPayload

	// RequestIDSize is the fixed width of the request_id field.
	RequestIDSize = 32
)

// Safe integer conversion constants.
const (
	maxUint32 = ^uint32(0)
)

// intToUint32Checked converts a non-negative int to uint32.
// Returns ErrInvalidInput if the value is negative or exceeds uint32 max.
//
// Geometry is validated upfront in [Options.validate]; this exists to
// avoid unsafe silent truncation on payload lengths.
func intToUint32Checked(v int) (uint32, error) {
	if v < 0 {
		return 0, fmt.Errorf("int %d is negative, cannot convert to uint32: %w", v, ErrInvalidInput)
	}

	u64 := uint64(v)

	if u64 > uint64(maxUint32) {
		return 0, fmt.Errorf("int %d exceeds uint32 max: %w", v, ErrInvalidInput)
	}

	return uint32(u64), nil
}

// slotStatus reads the status field of a slot buffer.
func slotStatus(slot []byte) Status {
	return Status(binary.LittleEndian.Uint32(slot[offStatus:]))
}

// setSlotStatus writes the status field of a slot buffer.
func setSlotStatus(slot []byte, s Status) {
	binary.LittleEndian.PutUint32(slot[offStatus:], uint32(s))
}

// encodeRequestID truncates id to at most RequestIDSize bytes on a UTF-8
// boundary and right-pads with ASCII spaces to the fixed width.
func encodeRequestID(id string) [RequestIDSize]byte {
	var out [RequestIDSize]byte

	raw := []byte(id)
	if len(raw) > RequestIDSize {
		cut := RequestIDSize
		for cut > 0 && !utf8.RuneStart(raw[cut]) {
			cut--
		}
		raw = raw[:cut]
	}

	copy(out[:], raw)
	for i := len(raw); i < RequestIDSize; i++ {
		out[i] = ' '
	}

	return out
}

// decodeRequestID strips the space padding and any stray NULs from a
// stored request_id field.
func decodeRequestID(field []byte) string {
	id := strings.TrimRight(string(field), " ")

	return strings.ReplaceAll(id, "\x00", "")
}

// encodePayload writes timestamp, request id, data_length and payload
// into the slot buffer. It never touches the status field; callers flip
// status separately so peers observe a fully written slot.
//
// Possible errors:
//   - [ErrTooLarge]: payload exceeds len(slot) - HeaderSize
//   - [ErrInvalidInput]: slot buffer smaller than the header
func encodePayload(slot []byte, requestID string, payload []byte, now time.Time) error {
	if len(slot) < HeaderSize {
		return fmt.Errorf("slot buffer %d bytes, need at least %d: %w", len(slot), HeaderSize, ErrInvalidInput)
	}

	capacity := len(slot) - HeaderSize
	if len(payload) > capacity {
		return fmt.Errorf("payload %d bytes exceeds slot capacity %d: %w", len(payload), capacity, ErrTooLarge)
	}

	length, err := intToUint32Checked(len(payload))
	if err != nil {
		return err
	}

	ms := now.UnixMilli()
	if ms < 0 {
		ms = 0
	}

	binary.LittleEndian.PutUint64(slot[offTimestamp:], uint64(ms))

	id := encodeRequestID(requestID)
	copy(slot[offRequestID:offRequestID+RequestIDSize], id[:])

	binary.LittleEndian.PutUint32(slot[offDataLength:], length)
	copy(slot[offPayload:offPayload+len(payload)], payload)

	return nil
}

// decodePayload reads the request id, timestamp and payload from a slot
// buffer. The payload must be valid UTF-8; if it is not, a recovery pass
// strips interior NULs and re-validates before giving up.
//
// The returned payload is a copy; it stays valid after the slot is
// overwritten or the region unmapped.
//
// Possible errors:
//   - [ErrInvalidPayload]: data_length is zero or out of range, or the
//     payload is not valid UTF-8 even after NUL stripping
func decodePayload(slot []byte) (requestID string, timestampMS uint64, payload []byte, err error) {
	if len(slot) < HeaderSize {
		return "", 0, nil, fmt.Errorf("slot buffer %d bytes, need at least %d: %w", len(slot), HeaderSize, ErrInvalidInput)
	}

	length := binary.LittleEndian.Uint32(slot[offDataLength:])
	capacity := uint32(len(slot) - HeaderSize)

	if length == 0 {
		return "", 0, nil, fmt.Errorf("data_length is zero: %w", ErrInvalidPayload)
	}

	if length > capacity {
		return "", 0, nil, fmt.Errorf("data_length %d exceeds slot capacity %d: %w", length, capacity, ErrInvalidPayload)
	}

	requestID = decodeRequestID(slot[offRequestID : offRequestID+RequestIDSize])
	timestampMS = binary.LittleEndian.Uint64(slot[offTimestamp:])

	payload = make([]byte, length)
	copy(payload, slot[offPayload:offPayload+int(length)])

	if !utf8.Valid(payload) {
		// Recovery: a peer may have left stray NULs in the payload area.
		stripped := bytes.ReplaceAll(payload, []byte{0}, nil)
		if !utf8.Valid(stripped) {
			return "", 0, nil, fmt.Errorf("payload is not valid UTF-8: %w", ErrInvalidPayload)
		}

		payload = stripped
	}

	return requestID, timestampMS, payload, nil
}

// clearSlot resets a slot header after its response has been consumed.
// Only the header fields are cleared; stale payload bytes are harmless
// because data_length is authoritative on every decode.
func clearSlot(slot []byte) {
	setSlotStatus(slot, StatusEmpty)
	binary.LittleEndian.PutUint64(slot[offTimestamp:], 0)

	for i := offRequestID; i < offRequestID+RequestIDSize; i++ {
		slot[i] = 0
	}

	binary.LittleEndian.PutUint32(slot[offDataLength:], 0)
}
