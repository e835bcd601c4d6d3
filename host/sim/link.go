// Package sim simulates CAN29 devices on the far end of a serial port. It
// is the device half of the protocol: it decodes host requests, dispatches
// them to per-command handlers and answers or pushes frames back.
package sim

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"can29/host/serial"
	"can29/protocol"
)

// Device is one simulated logical device attached to a Link.
type Device interface {
	Address() uint8
	DeviceID() uint8

	// Handle answers req. A nil payload with a nil error is an empty reply;
	// ErrNoReply suppresses the reply altogether.
	Handle(req protocol.Frame) ([]byte, error)

	attach(l *Link)
}

// Link serves any number of simulated devices over one port.
type Link struct {
	port    serial.Port
	codec   *protocol.Codec
	scanner *protocol.Scanner
	logger  *slog.Logger

	mu      sync.RWMutex
	devices map[[2]uint8]Device

	writeMu sync.Mutex
	done    chan struct{}
}

// NewLink creates a device-side link on port. codec nil means the default.
func NewLink(port serial.Port, codec *protocol.Codec, logger *slog.Logger) *Link {
	if codec == nil {
		codec = protocol.DefaultCodec
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Link{
		port:    port,
		codec:   codec,
		scanner: protocol.NewScanner(codec),
		logger:  logger.With("component", "can29-sim"),
		devices: make(map[[2]uint8]Device),
		done:    make(chan struct{}),
	}
}

// Attach adds d to the link.
func (l *Link) Attach(d Device) error {
	key := [2]uint8{d.Address(), d.DeviceID()}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.devices[key]; exists {
		return fmt.Errorf("sim: device %d/%d already attached", key[0], key[1])
	}
	l.devices[key] = d
	d.attach(l)
	return nil
}

// Run serves requests until the port fails or is closed.
func (l *Link) Run() {
	defer close(l.done)

	buf := make([]byte, 128)
	for {
		n, err := l.port.Read(buf)
		if n > 0 {
			l.scanner.Feed(buf[:n], l.serve)
		}
		if err != nil {
			l.logger.Debug("link stopped", "error", err)
			return
		}
	}
}

// Done is closed when Run returns.
func (l *Link) Done() <-chan struct{} {
	return l.done
}

// Close closes the port, which ends Run.
func (l *Link) Close() error {
	return l.port.Close()
}

func (l *Link) serve(req protocol.Frame, _ []byte, err error) {
	if err != nil {
		l.logger.Debug("bad request bytes", "error", err)
		return
	}
	if !protocol.IsRequestClass(req.Class) {
		return
	}

	l.mu.RLock()
	d, ok := l.devices[[2]uint8{req.Destination, req.DeviceID}]
	l.mu.RUnlock()
	if !ok {
		return
	}

	payload, err := d.Handle(req)
	if errors.Is(err, ErrNoReply) {
		return
	}
	if err != nil {
		l.logger.Warn("request failed", "frame", req.String(), "error", err)
		return
	}

	l.send(protocol.Frame{
		Destination: req.Source,
		Source:      req.Destination,
		Class:       protocol.ReplyClass(req.Class),
		Command:     req.Command,
		Process:     req.Process,
		DeviceID:    req.DeviceID,
		Payload:     payload,
	})
}

// push sends an unsolicited frame to the host.
func (l *Link) push(host uint8, from Device, command uint8, payload []byte) {
	l.send(protocol.Frame{
		Destination: host,
		Source:      from.Address(),
		Class:       protocol.ClassEvent,
		Command:     command,
		DeviceID:    from.DeviceID(),
		Payload:     payload,
	})
}

func (l *Link) send(f protocol.Frame) {
	raw, err := l.codec.Encode(f)
	if err != nil {
		l.logger.Warn("encode failed", "frame", f.String(), "error", err)
		return
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if _, err := l.port.Write(raw); err != nil {
		l.logger.Debug("write failed", "error", err)
	}
}
