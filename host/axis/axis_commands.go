package axis

import (
	"errors"

	"can29/host/bus"
	"can29/protocol"
)

// GetApplicationName asks the device for its firmware application name.
func (a *Axis) GetApplicationName() (string, error) {
	r, err := a.query(protocol.CmdApplicationName)
	if err != nil {
		return "", err
	}
	return r.String(), nil
}

// GetPresent reports whether the device answers with the expected
// application name. A different name or no answer at all means absent.
func (a *Axis) GetPresent(expectedApplicationName string) (bool, error) {
	name, err := a.GetApplicationName()
	if errors.Is(err, bus.ErrTimeout) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if name != expectedApplicationName {
		a.logger.Debug("application name mismatch", "want", expectedApplicationName, "got", name)
		return false, nil
	}
	return true, nil
}

// GetStatusCmd reads the status word from the device.
func (a *Axis) GetStatusCmd() (protocol.StatusBits, error) {
	r, err := a.query(protocol.CmdStatus)
	if err != nil {
		return 0, err
	}
	v, err := r.ULong()
	if err != nil {
		return 0, err
	}
	if err := r.Done(); err != nil {
		return 0, err
	}

	status := protocol.StatusBits(v)
	a.update(func(s *State) {
		s.Status = status
		s.Busy = status.Busy()
	})
	return status, nil
}

// GetStatus returns the cached status word.
func (a *Axis) GetStatus() protocol.StatusBits {
	return a.Snapshot().Status
}

// IsBusy reports whether a move is in progress, as far as the cache knows.
func (a *Axis) IsBusy() bool {
	return a.Snapshot().Busy
}

// IsLocked returns the cached lock bit.
func (a *Axis) IsLocked() bool {
	return a.Snapshot().Status.Locked()
}

// GetPositionCmd reads the position from the device.
func (a *Axis) GetPositionCmd() (int32, error) {
	pos, err := a.queryLong(protocol.CmdPosition)
	if err != nil {
		return 0, err
	}
	a.update(func(s *State) { s.Position = pos })
	return pos, nil
}

// GetPosition returns the cached position.
func (a *Axis) GetPosition() int32 {
	return a.Snapshot().Position
}

// GetLowerHardwareStop reads the position of the lower hardware stop.
func (a *Axis) GetLowerHardwareStop() (int32, error) {
	return a.queryLong(protocol.CmdLowerStop)
}

// GetUpperHardwareStop reads the position of the upper hardware stop.
func (a *Axis) GetUpperHardwareStop() (int32, error) {
	return a.queryLong(protocol.CmdUpperStop)
}

func (a *Axis) GetTrajectoryVelocityCmd() (int32, error) {
	v, err := a.queryLong(protocol.CmdVelocity)
	if err != nil {
		return 0, err
	}
	a.update(func(s *State) { s.Velocity = v })
	return v, nil
}

func (a *Axis) GetTrajectoryVelocity() int32 {
	return a.Snapshot().Velocity
}

func (a *Axis) GetTrajectoryAccelerationCmd() (int32, error) {
	v, err := a.queryLong(protocol.CmdAcceleration)
	if err != nil {
		return 0, err
	}
	a.update(func(s *State) { s.Acceleration = v })
	return v, nil
}

func (a *Axis) GetTrajectoryAcceleration() int32 {
	return a.Snapshot().Acceleration
}

// SetTrajectoryVelocity sets the velocity used by subsequent moves.
func (a *Axis) SetTrajectoryVelocity(velocity int32) error {
	if err := a.command(protocol.CmdVelocity, protocol.AppendLong(nil, velocity)); err != nil {
		return err
	}
	a.update(func(s *State) { s.Velocity = velocity })
	return nil
}

// SetTrajectoryAcceleration sets the acceleration used by subsequent moves.
func (a *Axis) SetTrajectoryAcceleration(acceleration int32) error {
	if err := a.command(protocol.CmdAcceleration, protocol.AppendLong(nil, acceleration)); err != nil {
		return err
	}
	a.update(func(s *State) { s.Acceleration = acceleration })
	return nil
}

// SetPosition starts a move to position. The axis reads busy from now until
// a status update clears the busy bit; the call itself does not wait for
// the move.
func (a *Axis) SetPosition(position int32, mode protocol.MoveMode) error {
	return a.move(protocol.CmdSetPosition, position, mode)
}

// SetRelativePosition starts a move by distance from the current position.
func (a *Axis) SetRelativePosition(distance int32, mode protocol.MoveMode) error {
	return a.move(protocol.CmdSetRelative, distance, mode)
}

// FindLowerHardwareStop drives the axis into its lower hardware stop.
func (a *Axis) FindLowerHardwareStop() error {
	return a.SetPosition(0, protocol.MoveSeekLowerLimit)
}

// FindUpperHardwareStop drives the axis into its upper hardware stop.
func (a *Axis) FindUpperHardwareStop() error {
	return a.SetPosition(0, protocol.MoveSeekUpperLimit)
}

// MoveMode returns the mode of the last move issued.
func (a *Axis) MoveMode() protocol.MoveMode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.moveMode
}

func (a *Axis) move(command uint8, value int32, mode protocol.MoveMode) error {
	wire, err := protocol.EncodeMoveMode(mode)
	if err != nil {
		return err
	}

	// Set before the request: the completion push may arrive before the ack.
	a.mu.Lock()
	a.moveMode = mode
	a.state.Busy = true
	a.mu.Unlock()

	if err := a.command(command, protocol.AppendLong([]byte{wire}, value)); err != nil {
		a.update(func(s *State) { s.Busy = s.Status.Busy() })
		return err
	}
	return nil
}

// Stop halts any move in progress.
func (a *Axis) Stop() error {
	return a.command(protocol.CmdStop, nil)
}

// Lock engages the axis brake; a locked axis refuses moves.
func (a *Axis) Lock() error {
	return a.setLock(true)
}

// Unlock releases the axis brake.
func (a *Axis) Unlock() error {
	return a.setLock(false)
}

func (a *Axis) setLock(locked bool) error {
	if err := a.command(protocol.CmdLock, flag(locked)); err != nil {
		return err
	}
	a.update(func(s *State) {
		if locked {
			s.Status |= protocol.StatusLocked
		} else {
			s.Status &^= protocol.StatusLocked
		}
	})
	return nil
}

// StartMonitoring asks the device to push status and position changes and
// starts applying them to the cached state.
func (a *Axis) StartMonitoring() error {
	a.update(func(s *State) { s.Monitoring = true })
	if err := a.command(protocol.CmdMonitor, flag(true)); err != nil {
		a.update(func(s *State) { s.Monitoring = false })
		return err
	}
	a.logger.Debug("monitoring started")
	return nil
}

// StopMonitoring stops applying pushes and asks the device to stop sending
// them.
func (a *Axis) StopMonitoring() error {
	a.update(func(s *State) { s.Monitoring = false })
	if err := a.command(protocol.CmdMonitor, flag(false)); err != nil {
		return err
	}
	a.logger.Debug("monitoring stopped")
	return nil
}

func flag(on bool) []byte {
	if on {
		return []byte{1}
	}
	return []byte{0}
}
