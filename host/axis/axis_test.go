package axis

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"can29/host/bus"
	"can29/host/serial"
	"can29/host/sim"
	"can29/protocol"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type rig struct {
	bus    *bus.Bus
	device *sim.Axis
	host   *serial.Pipe
}

// newRig connects a bus to a simulated axis at 3/1. Moves only complete
// when the test calls device.CompleteMove.
func newRig(t *testing.T) *rig {
	t.Helper()
	host, dev := serial.NewPipe()

	link := sim.NewLink(dev, nil, quiet())
	device := sim.NewAxis(3, 1, "StageX")
	device.MoveTime = time.Hour
	require.NoError(t, link.Attach(device))
	go link.Run()

	b := bus.New(host, bus.Config{Logger: quiet(), RequestTimeout: time.Second})
	require.NoError(t, b.Start())
	t.Cleanup(func() {
		b.Close()
		<-link.Done()
	})
	return &rig{bus: b, device: device, host: host}
}

// updates collects OnUpdate snapshots.
type updates struct {
	mu     sync.Mutex
	states []State
}

func (u *updates) record(s State) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.states = append(u.states, s)
}

func (u *updates) len() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.states)
}

func (u *updates) all() []State {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]State(nil), u.states...)
}

func TestInitializeReadsState(t *testing.T) {
	r := newRig(t)
	r.device.SetState(sim.AxisState{ApplicationName: "StageX", Position: 42, Status: protocol.StatusLocked})

	a := New(r.bus, 3, 1, Options{Logger: quiet()})
	require.NoError(t, a.Initialize())

	assert.Equal(t, int32(42), a.GetPosition())
	assert.True(t, a.IsLocked())
	assert.False(t, a.IsBusy())
	assert.False(t, a.Snapshot().Monitoring)
	assert.Equal(t, 1, r.bus.Registry().Len())

	require.NoError(t, a.UnInitialize())
	assert.Equal(t, 0, r.bus.Registry().Len())
}

func TestInitializeTwiceFails(t *testing.T) {
	r := newRig(t)
	a := New(r.bus, 3, 1, Options{Logger: quiet()})
	require.NoError(t, a.Initialize())

	other := New(r.bus, 3, 1, Options{Logger: quiet()})
	assert.ErrorIs(t, other.Initialize(), bus.ErrDuplicateIdentity)
}

func TestSetPositionBusyUntilPushClearsIt(t *testing.T) {
	r := newRig(t)
	u := &updates{}
	a := New(r.bus, 3, 1, Options{Logger: quiet(), Monitor: true, OnUpdate: u.record})
	require.NoError(t, a.Initialize())
	require.True(t, r.device.State().Monitoring)

	require.NoError(t, a.SetPosition(1000, protocol.MoveAbsolute))
	assert.True(t, a.IsBusy())
	assert.Equal(t, protocol.MoveAbsolute, a.MoveMode())

	before := u.len()
	r.device.CompleteMove()
	require.Eventually(t, func() bool { return u.len() > before }, time.Second, time.Millisecond)

	assert.False(t, a.IsBusy())
	assert.Equal(t, int32(1000), a.GetPosition())
}

func TestFindHardwareStops(t *testing.T) {
	r := newRig(t)
	a := New(r.bus, 3, 1, Options{Logger: quiet(), Monitor: true})
	require.NoError(t, a.Initialize())

	lower, err := a.GetLowerHardwareStop()
	require.NoError(t, err)
	upper, err := a.GetUpperHardwareStop()
	require.NoError(t, err)
	assert.Less(t, lower, upper)

	require.NoError(t, a.FindLowerHardwareStop())
	assert.Equal(t, protocol.MoveSeekLowerLimit, a.MoveMode())
	assert.True(t, a.IsBusy())
	r.device.CompleteMove()
	require.Eventually(t, func() bool { return !a.IsBusy() }, time.Second, time.Millisecond)
	assert.True(t, a.GetStatus().AtLowerLimit())
	assert.Equal(t, lower, a.GetPosition())

	require.NoError(t, a.FindUpperHardwareStop())
	r.device.CompleteMove()
	require.Eventually(t, func() bool { return !a.IsBusy() }, time.Second, time.Millisecond)
	assert.True(t, a.GetStatus().AtUpperLimit())
	assert.Equal(t, upper, a.GetPosition())
}

func TestRelativeMoveAndStop(t *testing.T) {
	r := newRig(t)
	r.device.SetState(sim.AxisState{ApplicationName: "StageX", Position: 100})
	a := New(r.bus, 3, 1, Options{Logger: quiet()})
	require.NoError(t, a.Initialize())

	require.NoError(t, a.SetRelativePosition(50, protocol.MoveRelative))
	assert.True(t, a.IsBusy())

	require.NoError(t, a.Stop())
	status, err := a.GetStatusCmd()
	require.NoError(t, err)
	assert.False(t, status.Busy())
	assert.False(t, a.IsBusy())

	require.NoError(t, a.SetRelativePosition(50, protocol.MoveRelative))
	r.device.CompleteMove()
	pos, err := a.GetPositionCmd()
	require.NoError(t, err)
	assert.Equal(t, int32(150), pos)
}

func TestTrajectoryParameters(t *testing.T) {
	r := newRig(t)
	a := New(r.bus, 3, 1, Options{Logger: quiet()})

	require.NoError(t, a.SetTrajectoryVelocity(2500))
	require.NoError(t, a.SetTrajectoryAcceleration(-7))
	assert.Equal(t, int32(2500), a.GetTrajectoryVelocity())

	v, err := a.GetTrajectoryVelocityCmd()
	require.NoError(t, err)
	assert.Equal(t, int32(2500), v)
	acc, err := a.GetTrajectoryAccelerationCmd()
	require.NoError(t, err)
	assert.Equal(t, int32(-7), acc)
	assert.Equal(t, int32(-7), a.GetTrajectoryAcceleration())

	assert.Equal(t, int32(2500), r.device.State().Velocity)
}

func TestLockUnlock(t *testing.T) {
	r := newRig(t)
	a := New(r.bus, 3, 1, Options{Logger: quiet()})
	require.NoError(t, a.Initialize())

	require.NoError(t, a.Lock())
	assert.True(t, a.IsLocked())
	assert.True(t, r.device.State().Status.Locked())

	require.NoError(t, a.Unlock())
	assert.False(t, a.IsLocked())
	status, err := a.GetStatusCmd()
	require.NoError(t, err)
	assert.False(t, status.Locked())
}

func TestGetPresent(t *testing.T) {
	r := newRig(t)
	a := New(r.bus, 3, 1, Options{Logger: quiet()})

	name, err := a.GetApplicationName()
	require.NoError(t, err)
	assert.Equal(t, "StageX", name)

	present, err := a.GetPresent("StageX")
	require.NoError(t, err)
	assert.True(t, present)

	r.device.SetState(sim.AxisState{ApplicationName: "StageY"})
	present, err = a.GetPresent("StageX")
	require.NoError(t, err)
	assert.False(t, present)
}

func TestGetPresentNoAnswer(t *testing.T) {
	r := newRig(t)
	r.device.Mute(protocol.CmdApplicationName, true)

	a := New(r.bus, 3, 1, Options{Logger: quiet(), Timeout: 20 * time.Millisecond})
	present, err := a.GetPresent("StageX")
	require.NoError(t, err)
	assert.False(t, present)
}

func TestStatusOnlyPushKeepsCachedPosition(t *testing.T) {
	r := newRig(t)
	u := &updates{}
	a := New(r.bus, 3, 1, Options{Logger: quiet(), Monitor: true, OnUpdate: u.record})
	require.NoError(t, a.Initialize())
	start := a.GetPosition()

	require.NoError(t, a.SetPosition(start+1000, protocol.MoveAbsolute))
	require.True(t, a.IsBusy())
	before := u.len()

	// Device reports the move finished without a trailing position.
	a.ReceiveMessageHandler(protocol.Frame{
		Destination: bus.DefaultHostAddress,
		Source:      3,
		Class:       protocol.ClassEvent,
		Command:     protocol.CmdStatus,
		DeviceID:    1,
		Payload:     protocol.StatusBits(0).Encode(),
	})

	s := a.Snapshot()
	assert.False(t, s.Busy)
	assert.Equal(t, start, s.Position)
	assert.Equal(t, before+1, u.len())

	pos, err := a.GetPositionCmd()
	require.NoError(t, err)
	assert.Equal(t, pos, a.GetPosition())
}

func TestPushesAppliedInOrder(t *testing.T) {
	r := newRig(t)
	u := &updates{}
	a := New(r.bus, 3, 1, Options{Logger: quiet(), Monitor: true, OnUpdate: u.record})
	require.NoError(t, a.Initialize())

	const n = 25
	done := make(chan struct{})
	go func() {
		defer close(done)
		// Queries racing the pushes on the same component.
		for i := 0; i < n; i++ {
			a.GetTrajectoryVelocityCmd()
		}
	}()
	for i := 1; i <= n; i++ {
		r.device.SetState(sim.AxisState{ApplicationName: "StageX", Position: int32(i), Monitoring: true})
		r.device.PushStatus()
	}
	<-done

	require.Eventually(t, func() bool { return u.len() == n }, time.Second, time.Millisecond)
	for i, s := range u.all() {
		assert.Equal(t, int32(i+1), s.Position)
		assert.Equal(t, uint64(i+1), s.Updates)
	}
	assert.Equal(t, uint64(n), a.Snapshot().Updates)
}

func TestPushIgnoredWhenNotMonitoring(t *testing.T) {
	r := newRig(t)
	a := New(r.bus, 3, 1, Options{Logger: quiet(), Monitor: true})
	require.NoError(t, a.Initialize())
	require.NoError(t, a.StopMonitoring())
	assert.False(t, r.device.State().Monitoring)

	r.device.SetState(sim.AxisState{Position: 77})
	r.device.PushStatus()

	// A query after the push is routed after it.
	_, err := a.GetTrajectoryVelocityCmd()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), a.Snapshot().Updates)
	assert.NotEqual(t, int32(77), a.GetPosition())
}

func TestLinkFaultReachesAxis(t *testing.T) {
	r := newRig(t)
	a := New(r.bus, 3, 1, Options{Logger: quiet(), Monitor: true})
	require.NoError(t, a.Initialize())

	r.host.FailReads(errors.New("unplugged"))
	<-r.bus.Done()

	s := a.Snapshot()
	assert.ErrorIs(t, s.Fault, bus.ErrLinkFault)
	assert.False(t, s.Monitoring)

	_, err := a.GetStatusCmd()
	assert.ErrorIs(t, err, bus.ErrLinkFault)
}

// mockBus scripts the dispatcher for error paths.
type mockBus struct {
	mock.Mock
}

func (m *mockBus) SendRequest(req protocol.Frame, match bus.Predicate, timeout time.Duration) (protocol.Frame, error) {
	args := m.Called(req.Class, req.Command, req.Payload)
	return args.Get(0).(protocol.Frame), args.Error(1)
}

func (m *mockBus) Register(id bus.Identity, h bus.Handler) error {
	return m.Called(id).Error(0)
}

func (m *mockBus) Deregister(id bus.Identity) {
	m.Called(id)
}

func TestDecodeErrorsSurface(t *testing.T) {
	b := &mockBus{}
	b.On("SendRequest", protocol.ClassQuery, protocol.CmdPosition, mock.Anything).
		Return(protocol.Frame{Command: protocol.CmdPosition, Payload: []byte{1, 2}}, nil)
	b.On("SendRequest", protocol.ClassQuery, protocol.CmdStatus, mock.Anything).
		Return(protocol.Frame{Command: protocol.CmdStatus, Payload: []byte{0, 0, 0, 1, 9}}, nil)

	a := New(b, 3, 1, Options{Logger: quiet()})

	_, err := a.GetPositionCmd()
	assert.ErrorIs(t, err, protocol.ErrUnexpectedPayload)
	_, err = a.GetStatusCmd()
	assert.ErrorIs(t, err, protocol.ErrUnexpectedPayload)
	assert.Equal(t, protocol.StatusBits(0), a.GetStatus())
}

func TestMoveFailureRestoresBusy(t *testing.T) {
	b := &mockBus{}
	timeout := &bus.ProtocolError{Kind: bus.Timeout}
	b.On("SendRequest", protocol.ClassCommand, protocol.CmdSetPosition, []byte{0x00, 0, 0, 0x03, 0xE8}).
		Return(protocol.Frame{}, timeout)

	a := New(b, 3, 1, Options{Logger: quiet()})
	err := a.SetPosition(1000, protocol.MoveAbsolute)
	assert.Same(t, timeout, err)
	assert.False(t, a.IsBusy())

	assert.Error(t, a.SetPosition(1, protocol.MoveMode(99)))
	b.AssertNumberOfCalls(t, "SendRequest", 1)
}

func TestInitializeFailureDeregisters(t *testing.T) {
	b := &mockBus{}
	id := bus.Identity{Address: 3, DeviceID: 1}
	b.On("Register", id).Return(nil)
	b.On("Deregister", id).Return()
	b.On("SendRequest", protocol.ClassQuery, protocol.CmdStatus, mock.Anything).
		Return(protocol.Frame{}, &bus.ProtocolError{Kind: bus.LinkFault})

	a := New(b, 3, 1, Options{Logger: quiet()})
	err := a.Initialize()
	assert.ErrorIs(t, err, bus.ErrLinkFault)
	b.AssertExpectations(t)
}
