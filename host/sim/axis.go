package sim

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"can29/protocol"
)

// ErrNoReply makes a handler stay silent, as a device does when it ignores
// a request.
var ErrNoReply = errors.New("sim: no reply")

// CommandHandler answers one request. It runs with the axis lock held.
type CommandHandler func(a *Axis, req protocol.Frame) ([]byte, error)

type handlerKey struct {
	class   uint8
	command uint8
}

// AxisState is the simulated device's register file.
type AxisState struct {
	ApplicationName string
	Status          protocol.StatusBits
	Position        int32
	Velocity        int32
	Acceleration    int32
	LowerStop       int32
	UpperStop       int32
	Monitoring      bool
}

// Axis simulates a motorised axis. Moves complete after MoveTime; while
// monitoring is enabled every status change is pushed to the host.
type Axis struct {
	address  uint8
	deviceID uint8

	// MoveTime is how long any move takes.
	MoveTime time.Duration

	mu       sync.Mutex
	state    AxisState
	handlers map[handlerKey]CommandHandler
	muted    map[uint8]bool
	host     uint8
	move     *time.Timer
	target   int32
	reached  protocol.StatusBits
	link     *Link
}

// NewAxis creates an idle axis reporting name.
func NewAxis(address, deviceID uint8, name string) *Axis {
	a := &Axis{
		address:  address,
		deviceID: deviceID,
		MoveTime: 20 * time.Millisecond,
		state: AxisState{
			ApplicationName: name,
			Velocity:        1000,
			Acceleration:    500,
			LowerStop:       -100000,
			UpperStop:       100000,
		},
		handlers: make(map[handlerKey]CommandHandler),
		muted:    make(map[uint8]bool),
	}
	a.registerDefaults()
	return a
}

func (a *Axis) Address() uint8  { return a.address }
func (a *Axis) DeviceID() uint8 { return a.deviceID }

func (a *Axis) attach(l *Link) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.link = l
}

// Register installs handler for (class, command), replacing any default.
func (a *Axis) Register(class, command uint8, handler CommandHandler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handlers[handlerKey{class, command}] = handler
}

// Mute makes the axis ignore requests for command.
func (a *Axis) Mute(command uint8, muted bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.muted[command] = muted
}

// State returns a copy of the register file.
func (a *Axis) State() AxisState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// SetState replaces the register file.
func (a *Axis) SetState(s AxisState) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = s
}

// Handle dispatches req to its command handler.
func (a *Axis) Handle(req protocol.Frame) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.muted[req.Command] {
		return nil, ErrNoReply
	}
	h, ok := a.handlers[handlerKey{req.Class, req.Command}]
	if !ok {
		return nil, fmt.Errorf("unknown command 0x%02x class 0x%02x", req.Command, req.Class)
	}
	a.host = req.Source
	return h(a, req)
}

// PushStatus sends the current status and position to the host regardless
// of the monitoring flag.
func (a *Axis) PushStatus() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pushStatusLocked()
}

func (a *Axis) pushStatusLocked() {
	if a.link == nil {
		return
	}
	payload := protocol.AppendLong(a.state.Status.Encode(), a.state.Position)
	a.link.push(a.host, a, protocol.CmdStatus, payload)
}

func (a *Axis) changed() {
	if a.state.Monitoring {
		a.pushStatusLocked()
	}
}

// startMove begins a move to target. Called with the lock held.
func (a *Axis) startMove(target int32, seek protocol.StatusBits) {
	if a.move != nil {
		a.move.Stop()
	}
	a.target = target
	a.state.Status &^= protocol.StatusLowerLimit | protocol.StatusUpperLimit
	a.state.Status |= protocol.StatusBusy
	a.changed()

	a.reached = seek
	var t *time.Timer
	t = time.AfterFunc(a.MoveTime, func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		if a.move == t {
			a.finishMoveLocked()
		}
	})
	a.move = t
}

// CompleteMove finishes the move in progress now instead of after MoveTime.
func (a *Axis) CompleteMove() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.move != nil && a.move.Stop() {
		a.finishMoveLocked()
	}
}

func (a *Axis) finishMoveLocked() {
	a.state.Position = a.target
	a.state.Status &^= protocol.StatusBusy
	a.state.Status |= a.reached
	a.move = nil
	a.changed()
}

func (a *Axis) stopMove() {
	if a.move != nil {
		a.move.Stop()
		a.move = nil
	}
	if a.state.Status.Busy() {
		a.state.Status &^= protocol.StatusBusy
		a.changed()
	}
}

func (a *Axis) registerDefaults() {
	long := func(get func(s *AxisState) int32) CommandHandler {
		return func(a *Axis, _ protocol.Frame) ([]byte, error) {
			return protocol.AppendLong(nil, get(&a.state)), nil
		}
	}
	setLong := func(set func(s *AxisState, v int32)) CommandHandler {
		return func(a *Axis, req protocol.Frame) ([]byte, error) {
			r := protocol.NewPayloadReader(req)
			v, err := r.Long()
			if err != nil {
				return nil, err
			}
			set(&a.state, v)
			return nil, r.Done()
		}
	}
	flag := func(apply func(a *Axis, on bool)) CommandHandler {
		return func(a *Axis, req protocol.Frame) ([]byte, error) {
			r := protocol.NewPayloadReader(req)
			b, err := r.Byte()
			if err != nil {
				return nil, err
			}
			apply(a, b != 0)
			return nil, r.Done()
		}
	}

	q, c := protocol.ClassQuery, protocol.ClassCommand

	a.handlers[handlerKey{q, protocol.CmdApplicationName}] = func(a *Axis, _ protocol.Frame) ([]byte, error) {
		return append([]byte(a.state.ApplicationName), 0), nil
	}
	a.handlers[handlerKey{q, protocol.CmdStatus}] = func(a *Axis, _ protocol.Frame) ([]byte, error) {
		return a.state.Status.Encode(), nil
	}
	a.handlers[handlerKey{q, protocol.CmdPosition}] = long(func(s *AxisState) int32 { return s.Position })
	a.handlers[handlerKey{q, protocol.CmdLowerStop}] = long(func(s *AxisState) int32 { return s.LowerStop })
	a.handlers[handlerKey{q, protocol.CmdUpperStop}] = long(func(s *AxisState) int32 { return s.UpperStop })
	a.handlers[handlerKey{q, protocol.CmdVelocity}] = long(func(s *AxisState) int32 { return s.Velocity })
	a.handlers[handlerKey{q, protocol.CmdAcceleration}] = long(func(s *AxisState) int32 { return s.Acceleration })

	a.handlers[handlerKey{c, protocol.CmdVelocity}] = setLong(func(s *AxisState, v int32) { s.Velocity = v })
	a.handlers[handlerKey{c, protocol.CmdAcceleration}] = setLong(func(s *AxisState, v int32) { s.Acceleration = v })

	a.handlers[handlerKey{c, protocol.CmdSetPosition}] = moveHandler(false)
	a.handlers[handlerKey{c, protocol.CmdSetRelative}] = moveHandler(true)

	a.handlers[handlerKey{c, protocol.CmdStop}] = func(a *Axis, _ protocol.Frame) ([]byte, error) {
		a.stopMove()
		return nil, nil
	}
	a.handlers[handlerKey{c, protocol.CmdLock}] = flag(func(a *Axis, on bool) {
		if on {
			a.state.Status |= protocol.StatusLocked
		} else {
			a.state.Status &^= protocol.StatusLocked
		}
		a.changed()
	})
	a.handlers[handlerKey{c, protocol.CmdMonitor}] = flag(func(a *Axis, on bool) {
		a.state.Monitoring = on
	})
}

func moveHandler(relative bool) CommandHandler {
	return func(a *Axis, req protocol.Frame) ([]byte, error) {
		r := protocol.NewPayloadReader(req)
		b, err := r.Byte()
		if err != nil {
			return nil, err
		}
		mode, err := protocol.DecodeMoveMode(b)
		if err != nil {
			return nil, err
		}
		v, err := r.Long()
		if err != nil {
			return nil, err
		}
		if err := r.Done(); err != nil {
			return nil, err
		}
		if a.state.Status.Locked() {
			a.state.Status |= protocol.StatusError
			a.changed()
			return nil, nil
		}

		target := v
		if relative || mode == protocol.MoveRelative {
			target = a.state.Position + v
		}
		var reached protocol.StatusBits
		switch mode {
		case protocol.MoveSeekLowerLimit:
			target, reached = a.state.LowerStop, protocol.StatusLowerLimit
		case protocol.MoveSeekUpperLimit:
			target, reached = a.state.UpperStop, protocol.StatusUpperLimit
		}
		a.state.Status &^= protocol.StatusError
		a.startMove(target, reached)
		return nil, nil
	}
}

var _ Device = (*Axis)(nil)
