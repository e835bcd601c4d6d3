package bus

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"can29/host/capture"
	"can29/host/serial"
	"can29/protocol"
)

const (
	testHost    = DefaultHostAddress
	testAddress = 3
	testDevice  = 1
)

// fakeDevice is the far end of a pipe. It decodes what the host sends and
// writes whatever the test scripts.
type fakeDevice struct {
	t       *testing.T
	port    *serial.Pipe
	scanner *protocol.Scanner
	frames  chan protocol.Frame
}

func newFakeDevice(t *testing.T, port *serial.Pipe) *fakeDevice {
	d := &fakeDevice{
		t:       t,
		port:    port,
		scanner: protocol.NewScanner(nil),
		frames:  make(chan protocol.Frame, 32),
	}
	go func() {
		buf := make([]byte, 64)
		for {
			n, err := port.Read(buf)
			if n > 0 {
				d.scanner.Feed(buf[:n], func(f protocol.Frame, _ []byte, err error) {
					if err == nil {
						d.frames <- f
					}
				})
			}
			if err != nil {
				return
			}
		}
	}()
	return d
}

// next returns the next frame the host wrote.
func (d *fakeDevice) next() protocol.Frame {
	d.t.Helper()
	select {
	case f := <-d.frames:
		return f
	case <-time.After(time.Second):
		d.t.Fatal("device: no frame from host")
		return protocol.Frame{}
	}
}

func (d *fakeDevice) send(f protocol.Frame) {
	d.t.Helper()
	raw, err := protocol.Encode(f)
	require.NoError(d.t, err)
	_, err = d.port.Write(raw)
	require.NoError(d.t, err)
}

func (d *fakeDevice) sendRaw(raw []byte) {
	d.t.Helper()
	_, err := d.port.Write(raw)
	require.NoError(d.t, err)
}

// reply answers req with payload.
func (d *fakeDevice) reply(req protocol.Frame, payload []byte) {
	d.send(protocol.Frame{
		Destination: req.Source,
		Source:      req.Destination,
		Class:       protocol.ReplyClass(req.Class),
		Command:     req.Command,
		Process:     req.Process,
		DeviceID:    req.DeviceID,
		Payload:     payload,
	})
}

func (d *fakeDevice) push(command uint8, payload []byte) {
	d.send(protocol.Frame{
		Destination: testHost,
		Source:      testAddress,
		Class:       protocol.ClassEvent,
		Command:     command,
		DeviceID:    testDevice,
		Payload:     payload,
	})
}

// recorder keeps every capture event.
type recorder struct {
	mu     sync.Mutex
	events []capture.Event
}

func (r *recorder) Log(e capture.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// inbound returns the routes of decoded inbound frames, in order.
func (r *recorder) inbound() []capture.Route {
	r.mu.Lock()
	defer r.mu.Unlock()
	var routes []capture.Route
	for _, e := range r.events {
		if e.Direction == capture.DirectionIn && e.Kind == capture.KindFrame {
			routes = append(routes, e.Route)
		}
	}
	return routes
}

func (r *recorder) count(kind capture.Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

type mockHandler struct {
	mock.Mock
}

func (m *mockHandler) ReceiveMessageHandler(f protocol.Frame) {
	m.Called(f)
}

func (m *mockHandler) LinkFault(reason error) {
	m.Called(reason)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startBus wires a started bus to a fake device.
func startBus(t *testing.T, cfg Config) (*Bus, *fakeDevice, *serial.Pipe) {
	t.Helper()
	host, dev := serial.NewPipe()
	if cfg.Logger == nil {
		cfg.Logger = quietLogger()
	}
	b := New(host, cfg)
	require.NoError(t, b.Start())
	t.Cleanup(func() { b.Close() })
	return b, newFakeDevice(t, dev), host
}

func query(command uint8) protocol.Frame {
	return protocol.Frame{
		Destination: testAddress,
		Class:       protocol.ClassQuery,
		Command:     command,
		DeviceID:    testDevice,
	}
}

type reply struct {
	frame protocol.Frame
	err   error
}

func sendAsync(b *Bus, req protocol.Frame, timeout time.Duration) <-chan reply {
	ch := make(chan reply, 1)
	go func() {
		f, err := b.SendRequest(req, nil, timeout)
		ch <- reply{f, err}
	}()
	return ch
}

func await(t *testing.T, ch <-chan reply) reply {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("request did not complete")
		return reply{}
	}
}
