package protocol

import (
	"bytes"
	"encoding/binary"
)

// Multi-byte payload fields are big-endian.
var byteOrder = binary.BigEndian

// AppendLong appends a signed 32-bit value.
func AppendLong(dst []byte, v int32) []byte {
	return byteOrder.AppendUint32(dst, uint32(v))
}

// AppendULong appends an unsigned 32-bit value.
func AppendULong(dst []byte, v uint32) []byte {
	return byteOrder.AppendUint32(dst, v)
}

// PayloadReader consumes typed fields from a reply payload. Every short
// read is reported as a *DecodeError carrying the frame's command.
type PayloadReader struct {
	cmd  uint8
	data []byte
	want int
}

// NewPayloadReader reads the payload of f.
func NewPayloadReader(f Frame) *PayloadReader {
	return &PayloadReader{cmd: f.Command, data: f.Payload}
}

func (r *PayloadReader) take(n int) ([]byte, error) {
	r.want += n
	if len(r.data) < n {
		return nil, &DecodeError{Command: r.cmd, Want: r.want, Got: r.want - n + len(r.data)}
	}
	b := r.data[:n]
	r.data = r.data[n:]
	return b, nil
}

// Byte reads one byte.
func (r *PayloadReader) Byte() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// Long reads a signed 32-bit value.
func (r *PayloadReader) Long() (int32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return int32(byteOrder.Uint32(b)), nil
}

// ULong reads an unsigned 32-bit value.
func (r *PayloadReader) ULong() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return byteOrder.Uint32(b), nil
}

// String consumes the rest of the payload as text, stopping at the first NUL.
func (r *PayloadReader) String() string {
	s := r.data
	if i := bytes.IndexByte(s, 0); i >= 0 {
		s = s[:i]
	}
	r.want += len(r.data)
	r.data = nil
	return string(s)
}

// Remaining returns the number of unread bytes.
func (r *PayloadReader) Remaining() int {
	return len(r.data)
}

// Done fails when unread bytes are left over.
func (r *PayloadReader) Done() error {
	if len(r.data) != 0 {
		return &DecodeError{Command: r.cmd, Want: r.want, Got: r.want + len(r.data)}
	}
	return nil
}
