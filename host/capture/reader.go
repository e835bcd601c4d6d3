package capture

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fxamacker/cbor/v2"
)

// Reader iterates over the events of a capture stream.
type Reader struct {
	dec  *cbor.Decoder
	read int
}

// NewReader reads events from r.
func NewReader(r io.Reader) *Reader {
	return &Reader{dec: newDecoder(r)}
}

// Next returns the next event, or io.EOF at the end of the stream. An event
// that is not well formed ends the stream with an error naming its index;
// a file cut off mid-event yields io.ErrUnexpectedEOF.
func (r *Reader) Next() (Event, error) {
	var event Event
	if err := r.dec.Decode(&event); err != nil {
		if errors.Is(err, io.EOF) {
			return Event{}, io.EOF
		}
		return Event{}, fmt.Errorf("event %d: %w", r.read, err)
	}
	if err := event.Validate(); err != nil {
		return Event{}, fmt.Errorf("event %d: %w", r.read, err)
	}
	r.read++
	return event, nil
}

// ReadFile loads every event in the capture file at path. On error it
// returns the events read before the bad one.
func ReadFile(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var events []Event
	r := NewReader(f)
	for {
		ev, err := r.Next()
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return events, fmt.Errorf("%s: %w", path, err)
		}
		events = append(events, ev)
	}
}
