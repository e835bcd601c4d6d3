// Package protocol implements the CAN29 serial wire protocol: frame encoding
// and decoding, stream scanning, payload helpers and status/move-mode
// interpretation. Nothing in this package performs I/O.
package protocol

// Frame delimiters. DLE bytes inside a frame body are doubled on the wire.
const (
	DLE = 0x10
	STX = 0x02
	ETX = 0x03
)

// Header layout (unstuffed body offsets)
const (
	PosLength      = 0
	PosDestination = 1
	PosSource      = 2
	PosClass       = 3
	PosCommand     = 4
	PosProcess     = 5
	PosDeviceID    = 6

	HeaderSize  = 7 // LEN DST SRC CLASS CMD PROC DEVID
	MarkerSize  = 2 // DLE STX / DLE ETX
	PayloadHard = 255

	DefaultMaxPayload = 64

	// BroadcastAddress reaches every node on the bus.
	BroadcastAddress = 0xFF
)

// Command classes. A device answers a request class with the same class
// with ReplyBit cleared.
const (
	ReplyBit uint8 = 0x10

	ClassEvent   uint8 = 0x07 // unsolicited push
	ClassReply   uint8 = 0x08
	ClassAck     uint8 = 0x0B
	ClassQuery   uint8 = 0x18
	ClassCommand uint8 = 0x1B
)

// ReplyClass returns the class a device uses to answer class c.
func ReplyClass(c uint8) uint8 {
	return c &^ ReplyBit
}

// IsRequestClass reports whether c is a host-to-device request class.
func IsRequestClass(c uint8) bool {
	return c&ReplyBit != 0
}
