package capture

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"

	"can29/protocol"
)

type recordingLogger struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingLogger) Log(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func sampleEvent() Event {
	f := protocol.Frame{Destination: 0x11, Source: 3, Class: protocol.ClassEvent, Command: 1, DeviceID: 1,
		Payload: []byte{0, 0, 0, 1}}
	raw, _ := protocol.Encode(f)
	return Event{
		Timestamp: time.Date(2026, 10, 19, 9, 30, 0, 123456789, time.UTC),
		SessionID: "5a0c3f2e-3d1b-4b8e-9d55-0f6f6d0d1a11",
		Direction: DirectionIn,
		Kind:      KindFrame,
		Raw:       raw,
		Frame:     NewFrameInfo(f),
		Route:     RouteComponent,
	}
}

func TestEventEncodeDecode(t *testing.T) {
	ev := sampleEvent()

	data, err := EncodeEvent(ev)
	if err != nil {
		t.Fatalf("EncodeEvent failed: %v", err)
	}
	got, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("DecodeEvent failed: %v", err)
	}

	if !got.Timestamp.Equal(ev.Timestamp) {
		t.Errorf("Timestamp: got %v, want %v", got.Timestamp, ev.Timestamp)
	}
	if got.Route != RouteComponent || got.Frame == nil {
		t.Fatalf("Route/frame lost: %+v", got)
	}
	if !reflect.DeepEqual(got.Frame.Frame(), ev.Frame.Frame()) {
		t.Errorf("Frame: got %v, want %v", got.Frame.Frame(), ev.Frame.Frame())
	}
}

func TestFileLoggerAppendsAndReads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "link.cap")

	for i := 0; i < 2; i++ {
		fl, err := NewFileLogger(path)
		if err != nil {
			t.Fatalf("NewFileLogger failed: %v", err)
		}
		ev := sampleEvent()
		ev.Frame.Process = uint8(i)
		fl.Log(ev)
		if err := fl.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
		fl.Log(ev) // ignored after close
	}

	events, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}
	for i, ev := range events {
		if ev.Frame.Process != uint8(i) {
			t.Errorf("Event %d out of order: process %d", i, ev.Frame.Process)
		}
	}
}

func TestMultiLogger(t *testing.T) {
	a, b := &recordingLogger{}, &recordingLogger{}
	m := NewMultiLogger(a, nil, b)

	m.Log(sampleEvent())

	if len(a.events) != 1 || len(b.events) != 1 {
		t.Errorf("Expected one event in each logger, got %d and %d", len(a.events), len(b.events))
	}
}

func TestSlogAdapter(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	NewSlogAdapter(logger).Log(sampleEvent())
	NewSlogAdapter(logger).Log(Event{Kind: KindLinkState, Link: &LinkChange{From: "open", To: "draining", Reason: "io"}})

	out := buf.String()
	for _, want := range []string{"kind=FRAME", "route=component", "dev=1", "to=draining", "reason=io"} {
		if !strings.Contains(out, want) {
			t.Errorf("Output missing %q:\n%s", want, out)
		}
	}
}

func TestDecodeEventRejectsForeignInput(t *testing.T) {
	unknownKey, err := cbor.Marshal(map[uint64]any{
		4:  uint8(KindLinkState),
		8:  map[uint64]any{1: "open", 2: "closed"},
		42: "extra",
	})
	if err != nil {
		t.Fatal(err)
	}

	testCases := []struct {
		name string
		data []byte
		want any
	}{
		{"unknown key", unknownKey, &cbor.UnknownFieldError{}},
		{"duplicate key", []byte{0xa2, 0x04, 0x02, 0x04, 0x02}, &cbor.DupMapKeyError{}},
		{"indefinite map", []byte{0xbf, 0x04, 0x02, 0xff}, nil},
		{"frame event without frame", []byte{0xa1, 0x04, 0x00}, ErrInvalidEvent},
		{"link event without change", []byte{0xa1, 0x04, 0x02}, ErrInvalidEvent},
		{"unknown kind", []byte{0xa1, 0x04, 0x09}, ErrInvalidEvent},
	}

	for _, tc := range testCases {
		_, err := DecodeEvent(tc.data)
		if err == nil {
			t.Errorf("%s: expected an error", tc.name)
			continue
		}
		switch want := tc.want.(type) {
		case *cbor.UnknownFieldError:
			if !errors.As(err, &want) {
				t.Errorf("%s: expected %T, got %v", tc.name, want, err)
			}
		case *cbor.DupMapKeyError:
			if !errors.As(err, &want) {
				t.Errorf("%s: expected %T, got %v", tc.name, want, err)
			}
		case error:
			if !errors.Is(err, want) {
				t.Errorf("%s: expected %v, got %v", tc.name, want, err)
			}
		}
	}
}

func TestEncodeEventRejectsIncompleteEvent(t *testing.T) {
	_, err := EncodeEvent(Event{Kind: KindTimeout, Error: "no reply"})
	if !errors.Is(err, ErrInvalidEvent) {
		t.Errorf("Expected ErrInvalidEvent, got %v", err)
	}
}

func TestReaderStopsAtInvalidEvent(t *testing.T) {
	var stream bytes.Buffer
	for i := 0; i < 2; i++ {
		data, err := EncodeEvent(sampleEvent())
		if err != nil {
			t.Fatal(err)
		}
		stream.Write(data)
	}
	stream.Write([]byte{0xa1, 0x04, 0x03}) // timeout without a frame

	r := NewReader(&stream)
	for i := 0; i < 2; i++ {
		if _, err := r.Next(); err != nil {
			t.Fatalf("Event %d: %v", i, err)
		}
	}
	_, err := r.Next()
	if !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("Expected ErrInvalidEvent, got %v", err)
	}
	if !strings.Contains(err.Error(), "event 2") {
		t.Errorf("Error does not name the event: %v", err)
	}
}

func TestReaderTruncatedEvent(t *testing.T) {
	data, err := EncodeEvent(sampleEvent())
	if err != nil {
		t.Fatal(err)
	}

	r := NewReader(bytes.NewReader(data[:len(data)-3]))
	_, err = r.Next()
	if err == nil || errors.Is(err, io.EOF) {
		t.Errorf("Expected a decode error for a cut-off event, got %v", err)
	}
}

func TestFileLoggerKeepsFirstError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "link.cap")
	fl, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}

	fl.Log(sampleEvent())
	fl.Log(Event{Kind: KindLinkState}) // no link change
	fl.Log(sampleEvent())

	if fl.Count() != 2 {
		t.Errorf("Expected 2 events written, got %d", fl.Count())
	}
	if !errors.Is(fl.Err(), ErrInvalidEvent) {
		t.Errorf("Expected ErrInvalidEvent from Err, got %v", fl.Err())
	}
	if err := fl.Close(); !errors.Is(err, ErrInvalidEvent) {
		t.Errorf("Expected Close to report the log failure, got %v", err)
	}

	events, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if len(events) != 2 {
		t.Errorf("Expected 2 events, got %d", len(events))
	}
}
