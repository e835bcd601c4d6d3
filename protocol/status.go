package protocol

import (
	"fmt"
	"strings"
)

// StatusBits is the 32-bit axis status word. Bits without a name here are
// kept as-is so a newer device's flags survive a decode/encode cycle.
type StatusBits uint32

// Documented status bit positions
const (
	StatusBusy       StatusBits = 1 << 0
	StatusError      StatusBits = 1 << 1
	StatusLowerLimit StatusBits = 1 << 2
	StatusUpperLimit StatusBits = 1 << 3
	StatusLocked     StatusBits = 1 << 4

	statusKnown = StatusBusy | StatusError | StatusLowerLimit | StatusUpperLimit | StatusLocked
)

// StatusSize is the wire size of a status word.
const StatusSize = 4

// DecodeStatus reads a status word from the first four payload bytes.
func DecodeStatus(payload []byte) (StatusBits, error) {
	if len(payload) < StatusSize {
		return 0, &DecodeError{Want: StatusSize, Got: len(payload)}
	}
	return StatusBits(byteOrder.Uint32(payload)), nil
}

// Encode returns the wire form of s.
func (s StatusBits) Encode() []byte {
	return AppendULong(nil, uint32(s))
}

func (s StatusBits) Busy() bool         { return s&StatusBusy != 0 }
func (s StatusBits) HasError() bool     { return s&StatusError != 0 }
func (s StatusBits) AtLowerLimit() bool { return s&StatusLowerLimit != 0 }
func (s StatusBits) AtUpperLimit() bool { return s&StatusUpperLimit != 0 }
func (s StatusBits) AtLimit() bool      { return s&(StatusLowerLimit|StatusUpperLimit) != 0 }
func (s StatusBits) Locked() bool       { return s&StatusLocked != 0 }

// Reserved returns the bits this package does not interpret.
func (s StatusBits) Reserved() StatusBits {
	return s &^ statusKnown
}

func (s StatusBits) String() string {
	var parts []string
	names := []struct {
		bit  StatusBits
		name string
	}{
		{StatusBusy, "busy"},
		{StatusError, "error"},
		{StatusLowerLimit, "lower-limit"},
		{StatusUpperLimit, "upper-limit"},
		{StatusLocked, "locked"},
	}
	for _, n := range names {
		if s&n.bit != 0 {
			parts = append(parts, n.name)
		}
	}
	if r := s.Reserved(); r != 0 {
		parts = append(parts, fmt.Sprintf("reserved=0x%08x", uint32(r)))
	}
	if len(parts) == 0 {
		return "idle"
	}
	return strings.Join(parts, "|")
}

// MoveMode selects how a position command's value is interpreted.
type MoveMode uint8

const (
	MoveAbsolute MoveMode = iota
	MoveRelative
	MoveVelocityProfile
	MoveSeekLowerLimit
	MoveSeekUpperLimit
)

// Wire values for each move mode
var moveModeWire = [...]byte{
	MoveAbsolute:        0x00,
	MoveRelative:        0x01,
	MoveVelocityProfile: 0x02,
	MoveSeekLowerLimit:  0x08,
	MoveSeekUpperLimit:  0x09,
}

var moveModeNames = [...]string{
	MoveAbsolute:        "absolute",
	MoveRelative:        "relative",
	MoveVelocityProfile: "velocity",
	MoveSeekLowerLimit:  "seek-lower",
	MoveSeekUpperLimit:  "seek-upper",
}

// EncodeMoveMode maps m to its wire byte.
func EncodeMoveMode(m MoveMode) (byte, error) {
	if int(m) >= len(moveModeWire) {
		return 0, &EncodeError{Field: "move mode", Value: int(m), Limit: len(moveModeWire) - 1}
	}
	return moveModeWire[m], nil
}

// DecodeMoveMode maps a wire byte back to a MoveMode.
func DecodeMoveMode(b byte) (MoveMode, error) {
	for m, w := range moveModeWire {
		if w == b {
			return MoveMode(m), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown move mode 0x%02x", ErrUnexpectedPayload, b)
}

// ParseMoveMode parses a move mode name as printed by String.
func ParseMoveMode(s string) (MoveMode, error) {
	for m, name := range moveModeNames {
		if strings.EqualFold(s, name) {
			return MoveMode(m), nil
		}
	}
	return 0, fmt.Errorf("unknown move mode %q", s)
}

func (m MoveMode) String() string {
	if int(m) < len(moveModeNames) {
		return moveModeNames[m]
	}
	return fmt.Sprintf("MoveMode(%d)", uint8(m))
}

// IsLimitSeek reports whether m drives the axis into a hardware stop.
func (m MoveMode) IsLimitSeek() bool {
	return m == MoveSeekLowerLimit || m == MoveSeekUpperLimit
}
