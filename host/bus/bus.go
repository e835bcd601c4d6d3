package bus

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"can29/host/capture"
	"can29/host/serial"
	"can29/protocol"
)

// State is the link state.
type State int32

const (
	StateClosed State = iota
	StateOpen
	StateDraining
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateDraining:
		return "draining"
	default:
		return "unknown"
	}
}

// Defaults
const (
	DefaultHostAddress    = 0x11
	DefaultRequestTimeout = time.Second
	DefaultReadBufferSize = 256
)

// Config configures a Bus.
type Config struct {
	// HostAddress is stamped as the source of every request.
	HostAddress uint8

	// RequestTimeout applies when SendRequest is called with timeout <= 0.
	RequestTimeout time.Duration

	// Codec selects checksum and payload limit; nil means protocol.DefaultCodec.
	Codec *protocol.Codec

	ReadBufferSize int

	Logger  *slog.Logger
	Capture capture.Logger
	Metrics *Metrics
}

func (c *Config) applyDefaults() {
	if c.HostAddress == 0 {
		c.HostAddress = DefaultHostAddress
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.Codec == nil {
		c.Codec = protocol.DefaultCodec
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = DefaultReadBufferSize
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Capture == nil {
		c.Capture = capture.NoopLogger{}
	}
}

// Predicate decides whether an inbound frame answers a pending request.
type Predicate func(reply protocol.Frame) bool

// signature keys the pending table: the reply a request expects.
type signature struct {
	address  uint8
	deviceID uint8
	class    uint8
	command  uint8
}

func replySignature(f protocol.Frame) signature {
	return signature{address: f.Source, deviceID: f.DeviceID, class: f.Class, command: f.Command}
}

type result struct {
	frame protocol.Frame
	err   error
}

type pendingRequest struct {
	sig   signature
	match Predicate
	done  chan result // buffered; receives exactly one result
}

// Bus is the dispatcher for one physical link. It is the only owner of the
// port and of the pending request table.
type Bus struct {
	cfg      Config
	port     serial.Port
	codec    *protocol.Codec
	scanner  *protocol.Scanner
	registry *Registry
	logger   *slog.Logger

	session string
	state   atomic.Int32
	started atomic.Bool
	process atomic.Uint32

	// writeMu serialises "register pending + write" so frames reach the
	// wire in the order callers acquire the link.
	writeMu sync.Mutex

	// pendingMu guards pending and state transitions out of Open.
	pendingMu sync.Mutex
	pending   map[signature]*pendingRequest

	done chan struct{}
}

// New creates a bus over port. The link stays closed until Start.
func New(port serial.Port, cfg Config) *Bus {
	cfg.applyDefaults()
	b := &Bus{
		cfg:      cfg,
		port:     port,
		codec:    cfg.Codec,
		scanner:  protocol.NewScanner(cfg.Codec),
		registry: NewRegistry(),
		session:  uuid.NewString(),
		pending:  make(map[signature]*pendingRequest),
		done:     make(chan struct{}),
	}
	b.logger = cfg.Logger.With("component", "can29-bus", "session", b.session)
	cfg.Metrics.linkState(StateClosed)
	return b
}

// Start purges stale input, opens the link and starts the receive loop.
// A bus can be started once.
func (b *Bus) Start() error {
	if !b.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	if err := b.port.Purge(); err != nil {
		b.logger.Warn("purge failed", "error", err)
	}

	b.setState(StateOpen, "")
	go b.receiveLoop()
	return nil
}

// Close drains the link without a fault broadcast and waits for the
// receive loop to exit. It must not be called from a component handler.
func (b *Bus) Close() error {
	b.shutdown(nil)
	if b.started.Load() {
		<-b.done
	}
	return nil
}

// Done is closed when the receive loop has exited.
func (b *Bus) Done() <-chan struct{} {
	return b.done
}

// State returns the current link state.
func (b *Bus) State() State {
	return State(b.state.Load())
}

// HostAddress is the source address stamped on requests.
func (b *Bus) HostAddress() uint8 {
	return b.cfg.HostAddress
}

// SessionID identifies this link session in captures and logs.
func (b *Bus) SessionID() string {
	return b.session
}

// Registry returns the component registry.
func (b *Bus) Registry() *Registry {
	return b.registry
}

// Register adds a component for unsolicited frames from id.
func (b *Bus) Register(id Identity, h Handler) error {
	return b.registry.Register(id, h)
}

// Deregister removes the component registered under id.
func (b *Bus) Deregister(id Identity) {
	b.registry.Deregister(id)
}

// SendRequest writes req and blocks until a matching reply arrives, the
// timeout expires or the link faults. A nil match accepts the frame for
// which reply.IsReplyTo(req) holds and which echoes the process id stamped
// on req. Only one request per (device, reply
// class, command) may be outstanding; a second one fails with
// RequestInFlight without touching the first.
func (b *Bus) SendRequest(req protocol.Frame, match Predicate, timeout time.Duration) (protocol.Frame, error) {
	if timeout <= 0 {
		timeout = b.cfg.RequestTimeout
	}
	req.Source = b.cfg.HostAddress
	req.Process = uint8(b.process.Add(1))
	if match == nil {
		expect := req
		match = func(reply protocol.Frame) bool {
			return reply.IsReplyTo(expect) && reply.Process == expect.Process
		}
	}

	id := Identity{Address: req.Destination, DeviceID: req.DeviceID}
	p := &pendingRequest{
		sig: signature{
			address:  req.Destination,
			deviceID: req.DeviceID,
			class:    protocol.ReplyClass(req.Class),
			command:  req.Command,
		},
		match: match,
		done:  make(chan result, 1),
	}
	fail := func(kind ProtocolErrorKind, cause error) error {
		return &ProtocolError{Kind: kind, Identity: id, Command: req.Command, Err: cause}
	}

	b.writeMu.Lock()

	b.pendingMu.Lock()
	if b.State() != StateOpen {
		b.pendingMu.Unlock()
		b.writeMu.Unlock()
		b.cfg.Metrics.request("link_fault", 0)
		return protocol.Frame{}, fail(LinkFault, ErrLinkClosed)
	}
	if _, busy := b.pending[p.sig]; busy {
		b.pendingMu.Unlock()
		b.writeMu.Unlock()
		b.cfg.Metrics.request("in_flight", 0)
		return protocol.Frame{}, fail(RequestInFlight, nil)
	}
	b.pending[p.sig] = p
	b.pendingMu.Unlock()

	raw, err := b.codec.Encode(req)
	if err != nil {
		b.removePending(p)
		b.writeMu.Unlock()
		b.cfg.Metrics.request("encode", 0)
		return protocol.Frame{}, err
	}

	if err := b.write(raw); err != nil {
		b.writeMu.Unlock()
		b.fault(fmt.Errorf("write: %w", err))
		r := <-p.done
		return r.frame, r.err
	}
	b.writeMu.Unlock()

	sent := time.Now()
	b.cfg.Metrics.frameSent()
	b.cfg.Capture.Log(capture.Event{
		Timestamp: sent,
		SessionID: b.session,
		Direction: capture.DirectionOut,
		Kind:      capture.KindFrame,
		Raw:       raw,
		Frame:     capture.NewFrameInfo(req),
	})

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-p.done:
		b.recordResult(r.err, time.Since(sent))
		return r.frame, r.err
	case <-timer.C:
		if !b.removePending(p) {
			// Fulfilled or failed between the timer firing and removal.
			r := <-p.done
			b.recordResult(r.err, time.Since(sent))
			return r.frame, r.err
		}
		b.cfg.Metrics.request("timeout", 0)
		b.cfg.Capture.Log(capture.Event{
			Timestamp: time.Now(),
			SessionID: b.session,
			Direction: capture.DirectionOut,
			Kind:      capture.KindTimeout,
			Frame:     capture.NewFrameInfo(req),
			Error:     fmt.Sprintf("no reply within %v", timeout),
		})
		return protocol.Frame{}, fail(Timeout, fmt.Errorf("no reply within %v", timeout))
	}
}

func (b *Bus) recordResult(err error, elapsed time.Duration) {
	switch {
	case err == nil:
		b.cfg.Metrics.request("ok", elapsed)
	case errors.Is(err, ErrLinkFault):
		b.cfg.Metrics.request("link_fault", elapsed)
	default:
		b.cfg.Metrics.request("error", elapsed)
	}
}

// removePending deletes p if it is still the pending entry for its
// signature, and reports whether it did.
func (b *Bus) removePending(p *pendingRequest) bool {
	b.pendingMu.Lock()
	defer b.pendingMu.Unlock()

	if cur, ok := b.pending[p.sig]; ok && cur == p {
		delete(b.pending, p.sig)
		return true
	}
	return false
}

func (b *Bus) write(msg []byte) error {
	n, err := b.port.Write(msg)
	if err != nil {
		return err
	}
	if n != len(msg) {
		return fmt.Errorf("incomplete write: %d/%d bytes", n, len(msg))
	}
	return nil
}

// receiveLoop continuously reads from the port and routes decoded frames
// in arrival order.
func (b *Bus) receiveLoop() {
	defer close(b.done)

	buffer := make([]byte, b.cfg.ReadBufferSize)
	for {
		n, err := b.port.Read(buffer)
		if n > 0 {
			b.scanner.Feed(buffer[:n], b.route)
		}
		if err != nil {
			b.fault(fmt.Errorf("read: %w", err))
			return
		}
		if b.State() != StateOpen {
			return
		}
	}
}

// route delivers one scanner result.
func (b *Bus) route(f protocol.Frame, raw []byte, err error) {
	now := time.Now()

	if err != nil {
		kind := "frame"
		var fe *protocol.FrameError
		if errors.As(err, &fe) {
			kind = strings.ReplaceAll(fe.Kind.String(), " ", "_")
		}
		b.cfg.Metrics.frameError(kind)
		b.logger.Debug("discarding inbound bytes", "error", err, "len", len(raw))
		b.cfg.Capture.Log(capture.Event{
			Timestamp: now,
			SessionID: b.session,
			Direction: capture.DirectionIn,
			Kind:      capture.KindFrameError,
			Raw:       raw,
			Error:     err.Error(),
		})
		return
	}

	route := b.dispatch(f)
	b.cfg.Metrics.frameReceived(route.String())
	b.cfg.Capture.Log(capture.Event{
		Timestamp: now,
		SessionID: b.session,
		Direction: capture.DirectionIn,
		Kind:      capture.KindFrame,
		Raw:       raw,
		Frame:     capture.NewFrameInfo(f),
		Route:     route,
	})
}

func (b *Bus) dispatch(f protocol.Frame) capture.Route {
	if f.Destination != b.cfg.HostAddress && f.Destination != protocol.BroadcastAddress {
		b.logger.Debug("frame not addressed to host", "frame", f.String())
		return capture.RouteDropped
	}

	if b.fulfil(f) {
		return capture.RoutePending
	}

	h, err := b.registry.Lookup(IdentityOf(f))
	if err != nil {
		b.logger.Debug("frame from unknown device", "frame", f.String())
		return capture.RouteDropped
	}
	h.ReceiveMessageHandler(f)
	return capture.RouteComponent
}

// fulfil hands f to the pending request it answers, if any.
func (b *Bus) fulfil(f protocol.Frame) bool {
	b.pendingMu.Lock()
	p, ok := b.pending[replySignature(f)]
	if !ok || !p.match(f) {
		b.pendingMu.Unlock()
		return false
	}
	delete(b.pending, p.sig)
	b.pendingMu.Unlock()

	p.done <- result{frame: f}
	return true
}

// fault drains the link after an I/O failure.
func (b *Bus) fault(reason error) {
	b.shutdown(reason)
}

// shutdown moves an open link through Draining to Closed. A nil reason is
// an orderly close: pending requests still fail, but components are not
// told about a fault.
func (b *Bus) shutdown(reason error) {
	b.pendingMu.Lock()
	if b.State() != StateOpen {
		b.pendingMu.Unlock()
		return
	}
	why := ""
	if reason != nil {
		why = reason.Error()
	}
	b.setState(StateDraining, why)
	pending := b.pending
	b.pending = make(map[signature]*pendingRequest)
	b.pendingMu.Unlock()

	cause := reason
	if cause == nil {
		cause = ErrLinkClosed
	}
	for _, p := range pending {
		p.done <- result{err: &ProtocolError{
			Kind:     LinkFault,
			Identity: Identity{Address: p.sig.address, DeviceID: p.sig.deviceID},
			Command:  p.sig.command,
			Err:      cause,
		}}
	}

	if reason != nil {
		b.logger.Error("link fault", "error", reason, "pending", len(pending))
		b.registry.BroadcastFault(&ProtocolError{Kind: LinkFault, Err: reason})
	}

	b.setState(StateClosed, why)
	if err := b.port.Close(); err != nil {
		b.logger.Debug("closing port", "error", err)
	}
}

func (b *Bus) setState(s State, reason string) {
	old := State(b.state.Swap(int32(s)))
	b.cfg.Metrics.linkState(s)
	b.logger.Debug("link state", "from", old.String(), "to", s.String())
	b.cfg.Capture.Log(capture.Event{
		Timestamp: time.Now(),
		SessionID: b.session,
		Kind:      capture.KindLinkState,
		Link:      &capture.LinkChange{From: old.String(), To: s.String(), Reason: reason},
	})
}
