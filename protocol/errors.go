package protocol

import "fmt"

// FrameErrorKind classifies a frame that could not be decoded.
type FrameErrorKind uint8

const (
	FrameMalformed FrameErrorKind = iota + 1
	FrameTruncated
	FrameChecksumMismatch
)

func (k FrameErrorKind) String() string {
	switch k {
	case FrameMalformed:
		return "malformed frame"
	case FrameTruncated:
		return "truncated frame"
	case FrameChecksumMismatch:
		return "checksum mismatch"
	default:
		return "frame error"
	}
}

// FrameError is returned by Decode and the Scanner. It never leaves the
// dispatcher's receive loop.
type FrameError struct {
	Kind   FrameErrorKind
	Reason string
}

func (e *FrameError) Error() string {
	if e.Reason == "" {
		return "can29: " + e.Kind.String()
	}
	return "can29: " + e.Kind.String() + ": " + e.Reason
}

// Is matches any FrameError of the same kind, so callers can test against
// the Err* sentinels.
func (e *FrameError) Is(target error) bool {
	t, ok := target.(*FrameError)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is
var (
	ErrMalformed        = &FrameError{Kind: FrameMalformed}
	ErrTruncated        = &FrameError{Kind: FrameTruncated}
	ErrChecksumMismatch = &FrameError{Kind: FrameChecksumMismatch}
)

func malformed(format string, args ...any) error {
	return &FrameError{Kind: FrameMalformed, Reason: fmt.Sprintf(format, args...)}
}

func truncated(format string, args ...any) error {
	return &FrameError{Kind: FrameTruncated, Reason: fmt.Sprintf(format, args...)}
}

// EncodeError reports a field that does not fit the wire format.
type EncodeError struct {
	Field string
	Value int
	Limit int
}

func (e *EncodeError) Error() string {
	if e.Field == "" {
		return "can29: field overflow"
	}
	return fmt.Sprintf("can29: field overflow: %s=%d exceeds %d", e.Field, e.Value, e.Limit)
}

// Is matches any EncodeError.
func (e *EncodeError) Is(target error) bool {
	_, ok := target.(*EncodeError)
	return ok
}

// ErrFieldOverflow matches every EncodeError.
var ErrFieldOverflow = &EncodeError{}

// DecodeError reports a reply whose payload does not have the shape the
// command requires.
type DecodeError struct {
	Command uint8
	Want    int
	Got     int
}

func (e *DecodeError) Error() string {
	if e.Want == 0 && e.Got == 0 {
		return "can29: unexpected payload shape"
	}
	return fmt.Sprintf("can29: unexpected payload shape for command 0x%02x: want %d bytes, got %d",
		e.Command, e.Want, e.Got)
}

// Is matches any DecodeError.
func (e *DecodeError) Is(target error) bool {
	_, ok := target.(*DecodeError)
	return ok
}

// ErrUnexpectedPayload matches every DecodeError.
var ErrUnexpectedPayload = &DecodeError{}
