package capture

import (
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// Writer and reader modes. Capture files are only produced by this package,
// so the decoder accepts nothing the encoder would not write: definite
// lengths, unique keys and no fields outside Event.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encMode, err = cbor.EncOptions{
		Sort:          cbor.SortCoreDeterministic,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("capture: CBOR encoder mode: %v", err))
	}

	decMode, err = cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyEnforcedAPF,
		IndefLength:       cbor.IndefLengthForbidden,
		MaxNestedLevels:   4,
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("capture: CBOR decoder mode: %v", err))
	}
}

// ErrInvalidEvent is wrapped by errors for events that decode but lack the
// fields their kind requires.
var ErrInvalidEvent = errors.New("invalid capture event")

// Validate checks that e carries the fields its kind needs.
func (e Event) Validate() error {
	missing := func(field string) error {
		return fmt.Errorf("%w: %s event without %s", ErrInvalidEvent, e.Kind, field)
	}
	if e.Direction > DirectionOut {
		return fmt.Errorf("%w: direction %d", ErrInvalidEvent, e.Direction)
	}
	if e.Route > RouteDropped {
		return fmt.Errorf("%w: route %d", ErrInvalidEvent, e.Route)
	}
	switch e.Kind {
	case KindFrame:
		if e.Frame == nil {
			return missing("frame")
		}
	case KindTimeout:
		if e.Frame == nil {
			return missing("frame")
		}
	case KindFrameError:
		if e.Error == "" {
			return missing("error")
		}
	case KindLinkState:
		if e.Link == nil {
			return missing("link change")
		}
	default:
		return fmt.Errorf("%w: kind %d", ErrInvalidEvent, e.Kind)
	}
	return nil
}

// EncodeEvent validates and encodes one event.
func EncodeEvent(event Event) ([]byte, error) {
	if err := event.Validate(); err != nil {
		return nil, err
	}
	return encMode.Marshal(event)
}

// DecodeEvent decodes and validates one event.
func DecodeEvent(data []byte) (Event, error) {
	var event Event
	if err := decMode.Unmarshal(data, &event); err != nil {
		return Event{}, err
	}
	if err := event.Validate(); err != nil {
		return Event{}, err
	}
	return event, nil
}

func newEncoder(w io.Writer) *cbor.Encoder {
	return encMode.NewEncoder(w)
}

func newDecoder(r io.Reader) *cbor.Decoder {
	return decMode.NewDecoder(r)
}
