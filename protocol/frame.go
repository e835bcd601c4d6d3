package protocol

import (
	"bytes"
	"fmt"
)

// Frame is one decoded CAN29 message. The integrity field is not part of
// the value; it is computed by Encode and verified by Decode.
//
// A nil and an empty Payload encode identically. Decode returns nil for a
// frame without data bytes.
type Frame struct {
	Destination uint8
	Source      uint8
	Class       uint8 // command class (ClassQuery, ClassEvent, ...)
	Command     uint8
	Process     uint8 // transaction id stamped by the host, echoed by devices
	DeviceID    uint8
	Payload     []byte
}

// IsReplyTo reports whether f answers req: swapped addresses, same device,
// same command and the matching reply class.
func (f Frame) IsReplyTo(req Frame) bool {
	return f.Source == req.Destination &&
		f.Destination == req.Source &&
		f.DeviceID == req.DeviceID &&
		f.Command == req.Command &&
		f.Class == ReplyClass(req.Class)
}

func (f Frame) String() string {
	return fmt.Sprintf("%02x->%02x dev=%d cls=0x%02x cmd=0x%02x proc=%d data=% x",
		f.Source, f.Destination, f.DeviceID, f.Class, f.Command, f.Process, f.Payload)
}

// Codec holds the link-specific parts of the wire format.
type Codec struct {
	Checksum   Checksum
	MaxPayload int
}

// DefaultCodec uses CRC16 and a 64 byte payload limit.
var DefaultCodec = &Codec{Checksum: ChecksumCRC16, MaxPayload: DefaultMaxPayload}

// NewCodec builds a codec from configuration values.
func NewCodec(checksum string, maxPayload int) (*Codec, error) {
	cs, err := LookupChecksum(checksum)
	if err != nil {
		return nil, err
	}
	if maxPayload == 0 {
		maxPayload = DefaultMaxPayload
	}
	if maxPayload < 0 || maxPayload > PayloadHard {
		return nil, fmt.Errorf("max payload %d out of range 1..%d", maxPayload, PayloadHard)
	}
	return &Codec{Checksum: cs, MaxPayload: maxPayload}, nil
}

// Encode encodes f with DefaultCodec.
func Encode(f Frame) ([]byte, error) {
	return DefaultCodec.Encode(f)
}

// Decode decodes one wire frame with DefaultCodec.
func Decode(data []byte) (Frame, error) {
	return DefaultCodec.Decode(data)
}

// MaxWireSize is the longest possible stuffed frame for this codec.
func (c *Codec) MaxWireSize() int {
	return 2*MarkerSize + 2*(HeaderSize+c.MaxPayload+c.Checksum.Size())
}

// Encode builds the stuffed wire representation of f.
func (c *Codec) Encode(f Frame) ([]byte, error) {
	if len(f.Payload) > c.MaxPayload {
		return nil, &EncodeError{Field: "payload length", Value: len(f.Payload), Limit: c.MaxPayload}
	}

	body := make([]byte, 0, HeaderSize+len(f.Payload)+c.Checksum.Size())
	body = append(body,
		uint8(len(f.Payload)),
		f.Destination,
		f.Source,
		f.Class,
		f.Command,
		f.Process,
		f.DeviceID,
	)
	body = append(body, f.Payload...)
	body = c.Checksum.Append(body, body)

	out := make([]byte, 0, 2*MarkerSize+len(body)+4)
	out = append(out, DLE, STX)
	for _, b := range body {
		if b == DLE {
			out = append(out, DLE)
		}
		out = append(out, b)
	}
	return append(out, DLE, ETX), nil
}

// Decode parses exactly one stuffed wire frame. It never panics; any input
// that is not a valid frame yields a *FrameError.
func (c *Codec) Decode(data []byte) (Frame, error) {
	if len(data) < MarkerSize || data[0] != DLE || data[1] != STX {
		return Frame{}, malformed("missing frame start")
	}
	if len(data) < 2*MarkerSize || data[len(data)-2] != DLE || data[len(data)-1] != ETX {
		return Frame{}, truncated("missing frame end")
	}

	body, lone := unstuff(data[MarkerSize : len(data)-MarkerSize])

	// A lone DLE in the checksum bytes is left to the checksum compare.
	csSize := c.Checksum.Size()
	if lone.at >= 0 && lone.at < len(body)-csSize {
		return Frame{}, malformed("unescaped DLE at offset %d", lone.wire)
	}
	if len(body) < HeaderSize+csSize {
		return Frame{}, truncated("%d body bytes, need at least %d", len(body), HeaderSize+csSize)
	}

	n := int(body[PosLength])
	dataEnd := HeaderSize + n
	switch have := len(body) - csSize; {
	case have < dataEnd:
		return Frame{}, truncated("length field %d, only %d payload bytes", n, have-HeaderSize)
	case have > dataEnd:
		return Frame{}, malformed("length field %d, found %d payload bytes", n, have-HeaderSize)
	}

	want := c.Checksum.Append(nil, body[:dataEnd])
	if !bytes.Equal(want, body[dataEnd:]) {
		return Frame{}, &FrameError{
			Kind:   FrameChecksumMismatch,
			Reason: fmt.Sprintf("got % x, computed % x", body[dataEnd:], want),
		}
	}
	if lone.at >= 0 {
		return Frame{}, malformed("unescaped DLE at offset %d", lone.wire)
	}

	f := Frame{
		Destination: body[PosDestination],
		Source:      body[PosSource],
		Class:       body[PosClass],
		Command:     body[PosCommand],
		Process:     body[PosProcess],
		DeviceID:    body[PosDeviceID],
	}
	if n > 0 {
		f.Payload = append([]byte(nil), body[HeaderSize:dataEnd]...)
	}
	return f, nil
}

// loneDLE locates the first DLE that is not doubled, by index into the
// unstuffed body and by wire offset. at is -1 when every DLE is escaped.
type loneDLE struct {
	at   int
	wire int
}

// unstuff removes DLE doubling. A lone DLE is kept as a literal byte and
// reported so the caller can classify it.
func unstuff(stuffed []byte) ([]byte, loneDLE) {
	body := make([]byte, 0, len(stuffed))
	lone := loneDLE{at: -1}
	for i := 0; i < len(stuffed); i++ {
		b := stuffed[i]
		if b == DLE {
			if i+1 < len(stuffed) && stuffed[i+1] == DLE {
				i++
			} else if lone.at < 0 {
				lone = loneDLE{at: len(body), wire: i + MarkerSize}
			}
		}
		body = append(body, b)
	}
	return body, lone
}
