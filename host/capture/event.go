package capture

import (
	"time"

	"can29/protocol"
)

// Event is one captured occurrence on a link.
type Event struct {
	Timestamp time.Time `cbor:"1,keyasint"`

	// SessionID identifies one open/close cycle of a link (UUID).
	SessionID string `cbor:"2,keyasint"`

	Direction Direction `cbor:"3,keyasint"`
	Kind      Kind      `cbor:"4,keyasint"`

	// Raw wire bytes, for KindFrame and KindFrameError.
	Raw []byte `cbor:"5,keyasint,omitempty"`

	// Decoded frame, for KindFrame.
	Frame *FrameInfo `cbor:"6,keyasint,omitempty"`

	// Route taken by an inbound frame.
	Route Route `cbor:"7,keyasint,omitempty"`

	// Link state transition, for KindLinkState.
	Link *LinkChange `cbor:"8,keyasint,omitempty"`

	// Error text for KindFrameError and failed requests.
	Error string `cbor:"9,keyasint,omitempty"`
}

// Direction of the captured bytes.
type Direction uint8

const (
	DirectionIn  Direction = 0
	DirectionOut Direction = 1
)

func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Kind classifies an event.
type Kind uint8

const (
	KindFrame      Kind = 0
	KindFrameError Kind = 1
	KindLinkState  Kind = 2
	KindTimeout    Kind = 3
)

func (k Kind) String() string {
	switch k {
	case KindFrame:
		return "FRAME"
	case KindFrameError:
		return "FRAME_ERROR"
	case KindLinkState:
		return "LINK"
	case KindTimeout:
		return "TIMEOUT"
	default:
		return "UNKNOWN"
	}
}

// Route records where the dispatcher delivered an inbound frame.
type Route uint8

const (
	RouteNone      Route = 0
	RoutePending   Route = 1
	RouteComponent Route = 2
	RouteDropped   Route = 3
)

func (r Route) String() string {
	switch r {
	case RoutePending:
		return "pending"
	case RouteComponent:
		return "component"
	case RouteDropped:
		return "dropped"
	default:
		return "-"
	}
}

// FrameInfo is the decoded header and payload of a frame.
type FrameInfo struct {
	Destination uint8  `cbor:"1,keyasint"`
	Source      uint8  `cbor:"2,keyasint"`
	Class       uint8  `cbor:"3,keyasint"`
	Command     uint8  `cbor:"4,keyasint"`
	Process     uint8  `cbor:"5,keyasint"`
	DeviceID    uint8  `cbor:"6,keyasint"`
	Payload     []byte `cbor:"7,keyasint,omitempty"`
}

// NewFrameInfo copies f into a FrameInfo.
func NewFrameInfo(f protocol.Frame) *FrameInfo {
	return &FrameInfo{
		Destination: f.Destination,
		Source:      f.Source,
		Class:       f.Class,
		Command:     f.Command,
		Process:     f.Process,
		DeviceID:    f.DeviceID,
		Payload:     append([]byte(nil), f.Payload...),
	}
}

// Frame converts back to a protocol.Frame.
func (fi *FrameInfo) Frame() protocol.Frame {
	f := protocol.Frame{
		Destination: fi.Destination,
		Source:      fi.Source,
		Class:       fi.Class,
		Command:     fi.Command,
		Process:     fi.Process,
		DeviceID:    fi.DeviceID,
	}
	if len(fi.Payload) > 0 {
		f.Payload = append([]byte(nil), fi.Payload...)
	}
	return f
}

// LinkChange is a link state transition.
type LinkChange struct {
	From   string `cbor:"1,keyasint"`
	To     string `cbor:"2,keyasint"`
	Reason string `cbor:"3,keyasint,omitempty"`
}
