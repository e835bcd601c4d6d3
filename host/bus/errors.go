package bus

import (
	"errors"
	"fmt"
)

// ProtocolErrorKind classifies a failed request.
type ProtocolErrorKind uint8

const (
	Timeout ProtocolErrorKind = iota + 1
	RequestInFlight
	LinkFault
)

func (k ProtocolErrorKind) String() string {
	switch k {
	case Timeout:
		return "request timed out"
	case RequestInFlight:
		return "request already in flight"
	case LinkFault:
		return "link fault"
	default:
		return "protocol error"
	}
}

// ProtocolError is what SendRequest reports when no reply was delivered.
type ProtocolError struct {
	Kind     ProtocolErrorKind
	Identity Identity
	Command  uint8
	Err      error
}

func (e *ProtocolError) Error() string {
	msg := "can29"
	if e.Identity != (Identity{}) || e.Command != 0 {
		msg += fmt.Sprintf(" %s cmd 0x%02x", e.Identity, e.Command)
	}
	msg += ": " + e.Kind.String()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// Is matches any ProtocolError of the same kind.
func (e *ProtocolError) Is(target error) bool {
	t, ok := target.(*ProtocolError)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is
var (
	ErrTimeout         = &ProtocolError{Kind: Timeout}
	ErrRequestInFlight = &ProtocolError{Kind: RequestInFlight}
	ErrLinkFault       = &ProtocolError{Kind: LinkFault}
)

var (
	// ErrLinkClosed is the cause of a LinkFault raised by Close or by a
	// request on a link that is not open.
	ErrLinkClosed = errors.New("link closed")

	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("bus already started")

	// Registry errors
	ErrDuplicateIdentity = errors.New("identity already registered")
	ErrNotFound          = errors.New("identity not registered")
)

// IsTransient reports whether retrying the same request can succeed.
// Timeouts and in-flight collisions are transient; a link fault is not.
func IsTransient(err error) bool {
	var pe *ProtocolError
	if !errors.As(err, &pe) {
		return false
	}
	return pe.Kind == Timeout || pe.Kind == RequestInFlight
}
