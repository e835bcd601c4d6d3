// Package axis is the protocol client for a CAN29 motorised axis.
//
// Every quantity has a query form (GetXCmd) that asks the device and a
// cached form (GetX) that returns the last value seen, either from a query
// or from a push frame received while monitoring is enabled.
package axis

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"can29/host/bus"
	"can29/protocol"
)

// Bus is the part of the dispatcher an axis uses.
type Bus interface {
	SendRequest(req protocol.Frame, match bus.Predicate, timeout time.Duration) (protocol.Frame, error)
	Register(id bus.Identity, h bus.Handler) error
	Deregister(id bus.Identity)
}

// Options configures an Axis.
type Options struct {
	// Timeout for each request; zero uses the bus default.
	Timeout time.Duration

	// Monitor enables push updates during Initialize.
	Monitor bool

	// OnUpdate is called after every applied push, outside the state lock.
	// It runs on the bus receive loop and must not block.
	OnUpdate func(State)

	Logger *slog.Logger
}

// State is the cached device state.
type State struct {
	Status       protocol.StatusBits
	Position     int32
	Velocity     int32
	Acceleration int32
	Monitoring   bool

	// Busy is set when a move is issued and cleared by the next status
	// update without the busy bit.
	Busy bool

	// Updates counts push frames applied to the state.
	Updates uint64

	// Fault is the reason of the last link fault, if any.
	Fault error
}

// Axis is one motorised axis on a CAN29 bus.
type Axis struct {
	id       bus.Identity
	bus      Bus
	timeout  time.Duration
	onUpdate func(State)
	monitor  bool
	logger   *slog.Logger

	// mu guards the fields below. It is never held across a bus call.
	mu       sync.Mutex
	state    State
	moveMode protocol.MoveMode
}

// New creates an axis at address/deviceID. It does not touch the bus until
// Initialize.
func New(b Bus, address, deviceID uint8, opts Options) *Axis {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Axis{
		id:       bus.Identity{Address: address, DeviceID: deviceID},
		bus:      b,
		timeout:  opts.Timeout,
		onUpdate: opts.OnUpdate,
		monitor:  opts.Monitor,
		logger:   logger.With("component", "can29-axis", "addr", address, "dev", deviceID),
	}
}

// Identity returns the axis' bus identity.
func (a *Axis) Identity() bus.Identity {
	return a.id
}

// Initialize registers the axis for push frames, reads the current status
// and position and starts monitoring when configured to.
func (a *Axis) Initialize() error {
	if err := a.bus.Register(a.id, a); err != nil {
		return err
	}

	a.mu.Lock()
	a.state.Fault = nil
	a.mu.Unlock()

	if err := a.initialize(); err != nil {
		a.bus.Deregister(a.id)
		return fmt.Errorf("initialize axis %s: %w", a.id, err)
	}
	a.logger.Info("axis initialized", "status", a.GetStatus().String(), "position", a.GetPosition())
	return nil
}

func (a *Axis) initialize() error {
	if _, err := a.GetStatusCmd(); err != nil {
		return err
	}
	if _, err := a.GetPositionCmd(); err != nil {
		return err
	}
	if a.monitor {
		return a.StartMonitoring()
	}
	return nil
}

// UnInitialize stops monitoring and deregisters the axis. The axis is
// deregistered even when the device cannot be reached.
func (a *Axis) UnInitialize() error {
	defer a.bus.Deregister(a.id)

	if a.Snapshot().Monitoring {
		if err := a.StopMonitoring(); err != nil {
			return fmt.Errorf("uninitialize axis %s: %w", a.id, err)
		}
	}
	return nil
}

// ReceiveMessageHandler applies push frames while monitoring is enabled.
// A status push carrying only the status word leaves the cached position
// as it was; the position changes only through a position push, a status
// push with a trailing position, or a position query.
func (a *Axis) ReceiveMessageHandler(f protocol.Frame) {
	if f.Class != protocol.ClassEvent {
		a.logger.Debug("ignoring unsolicited frame", "frame", f.String())
		return
	}

	a.mu.Lock()
	if !a.state.Monitoring {
		a.mu.Unlock()
		a.logger.Debug("push while not monitoring", "frame", f.String())
		return
	}
	err := a.applyPushLocked(f)
	if err == nil {
		a.state.Updates++
	}
	snapshot := a.state
	a.mu.Unlock()

	if err != nil {
		a.logger.Warn("bad push frame", "frame", f.String(), "error", err)
		return
	}
	if a.onUpdate != nil {
		a.onUpdate(snapshot)
	}
}

func (a *Axis) applyPushLocked(f protocol.Frame) error {
	r := protocol.NewPayloadReader(f)
	switch f.Command {
	case protocol.CmdStatus:
		status, err := r.ULong()
		if err != nil {
			return err
		}
		if r.Remaining() > 0 {
			pos, err := r.Long()
			if err != nil {
				return err
			}
			if err := r.Done(); err != nil {
				return err
			}
			a.state.Position = pos
		}
		a.setStatusLocked(protocol.StatusBits(status))
		return nil
	case protocol.CmdPosition:
		pos, err := r.Long()
		if err != nil {
			return err
		}
		if err := r.Done(); err != nil {
			return err
		}
		a.state.Position = pos
		return nil
	default:
		return fmt.Errorf("unexpected push command 0x%02x", f.Command)
	}
}

// LinkFault records the fault. Monitoring stops; the next Initialize
// re-enables it.
func (a *Axis) LinkFault(reason error) {
	a.mu.Lock()
	a.state.Fault = reason
	a.state.Monitoring = false
	a.state.Busy = false
	a.mu.Unlock()

	a.logger.Warn("link fault", "reason", reason)
}

// Snapshot returns a copy of the cached state.
func (a *Axis) Snapshot() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Axis) setStatusLocked(s protocol.StatusBits) {
	a.state.Status = s
	a.state.Busy = s.Busy()
}

// update runs fn under the state lock.
func (a *Axis) update(fn func(s *State)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fn(&a.state)
}

func (a *Axis) request(class, command uint8, payload []byte) (protocol.Frame, error) {
	return a.bus.SendRequest(protocol.Frame{
		Destination: a.id.Address,
		DeviceID:    a.id.DeviceID,
		Class:       class,
		Command:     command,
		Payload:     payload,
	}, nil, a.timeout)
}

func (a *Axis) query(command uint8) (*protocol.PayloadReader, error) {
	reply, err := a.request(protocol.ClassQuery, command, nil)
	if err != nil {
		return nil, err
	}
	return protocol.NewPayloadReader(reply), nil
}

func (a *Axis) command(command uint8, payload []byte) error {
	_, err := a.request(protocol.ClassCommand, command, payload)
	return err
}

// queryLong reads a single Long quantity.
func (a *Axis) queryLong(command uint8) (int32, error) {
	r, err := a.query(command)
	if err != nil {
		return 0, err
	}
	v, err := r.Long()
	if err != nil {
		return 0, err
	}
	return v, r.Done()
}

var _ bus.Component = (*Axis)(nil)
