package blmc

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/go-daq/canbus"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/gwillem/njoint/pkg/robot"
)

// fakeConn records sent frames and delivers pushed ones.
type fakeConn struct {
	mu     sync.Mutex
	sent   []canbus.Frame
	onSend func(canbus.Frame)

	recv      chan canbus.Frame
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		recv:   make(chan canbus.Frame, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) Send(f canbus.Frame) (int, error) {
	c.mu.Lock()
	c.sent = append(c.sent, f)
	hook := c.onSend
	c.mu.Unlock()
	if hook != nil {
		hook(f)
	}
	return len(f.Data), nil
}

func (c *fakeConn) Recv() (canbus.Frame, error) {
	select {
	case f := <-c.recv:
		return f, nil
	case <-c.closed:
		return canbus.Frame{}, errors.New("closed")
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) frames(id uint32) []canbus.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []canbus.Frame
	for _, f := range c.sent {
		if f.ID == id {
			out = append(out, f)
		}
	}
	return out
}

type noSleep struct{}

func (noSleep) Sleep(time.Duration) {}

var testMotor = robot.MotorParameters{TorqueConstantNmpA: 0.02, GearRatio: 9}

func newTestModules(t *testing.T, n int) (*JointModules, []*Board, []*fakeConn) {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()
	var boards []*Board
	var conns []*fakeConn
	for i := 0; i < (n+1)/2; i++ {
		conn := newFakeConn()
		conns = append(conns, conn)
		boards = append(boards, NewBoard(conn, "can"+string(rune('0'+i)), logger))
	}
	m, err := NewJointModules(boards, n, testMotor, 2, logger, WithSleeper(noSleep{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	m.SetPositionControlGains(robot.Constant(n, 10), robot.Constant(n, 0.1))
	return m, boards, conns
}

func TestBoard_Receive(t *testing.T) {
	conn := newFakeConn()
	b := NewBoard(conn, "can0", zaptest.NewLogger(t).Sugar())

	conn.recv <- StatusFrame(Status{SystemEnabled: true, MotorReady: [2]bool{true, true}})
	conn.recv <- MeasurementFrame(IDPosition, 0.5, -0.25)
	conn.recv <- IndexFrame(IndexEvent{Motor: 1, Position: 0.75})

	require.Eventually(t, func() bool {
		return b.Measurements().IndexCount[1] == 1
	}, time.Second, time.Millisecond)

	s, ok := b.Status()
	assert.True(t, ok)
	assert.True(t, s.SystemEnabled)
	meas := b.Measurements()
	assert.Equal(t, [2]float64{0.5, -0.25}, meas.Position)
	assert.Equal(t, 0.75, meas.IndexPosition[1])

	require.NoError(t, b.Close())
	select {
	case <-b.done:
	case <-time.After(time.Second):
		t.Fatal("receive goroutine did not stop")
	}
}

func TestBoard_PauseAndResume(t *testing.T) {
	conn := newFakeConn()
	b := NewBoard(conn, "can0", nil)
	t.Cleanup(func() { _ = b.Close() })

	require.NoError(t, b.Enable())
	require.NoError(t, b.SetCurrents(0.5, 0))
	assert.Len(t, conn.frames(IDCommand), 4)

	require.NoError(t, b.Pause())
	assert.Len(t, conn.frames(IDCommand), 6)
	assert.Equal(t, CommandFrame(CmdEnableMotor2, 0), conn.frames(IDCommand)[5])

	// paused motors are enabled again by the next current reference
	require.NoError(t, b.SetCurrents(0.5, 0))
	assert.Len(t, conn.frames(IDCommand), 8)
}

func TestJointModules_Conversions(t *testing.T) {
	m, boards, _ := newTestModules(t, 3)

	require.NoError(t, boards[0].handle(MeasurementFrame(IDPosition, 9, -4.5)))
	require.NoError(t, boards[1].handle(MeasurementFrame(IDPosition, 0.9, 0)))
	require.NoError(t, boards[0].handle(MeasurementFrame(IDVelocity, 0.06, 0)))
	require.NoError(t, boards[1].handle(MeasurementFrame(IDCurrent, 1, 0)))

	pos := m.MeasuredPosition()
	assert.InDeltaSlice(t, robot.Vector{2 * math.Pi, -math.Pi, 0.2 * math.Pi}, pos, 1e-6)

	// 0.06 krpm = 1 rev/s at the motor
	assert.InDelta(t, 2*math.Pi/9, m.MeasuredVelocity()[0], 1e-6)
	assert.InDelta(t, 0.18, m.MeasuredTorque()[2], 1e-6)
	assert.Equal(t, 2, m.NumBoards())
}

func TestJointModules_SetAndSendTorques(t *testing.T) {
	m, _, conns := newTestModules(t, 3)

	// 0.18 N·m = 1 A, 1 N·m saturates at 2 A
	m.SetAndSendTorques(robot.Vector{0.18, -1, 0.18})

	frames := conns[0].frames(IDCurrentRef)
	require.Len(t, frames, 1)
	pair, err := decodePair(frames[0].Data)
	require.NoError(t, err)
	assert.InDelta(t, 1, pair[0], 1e-6)
	assert.InDelta(t, -2, pair[1], 1e-6)

	frames = conns[1].frames(IDCurrentRef)
	require.Len(t, frames, 1)
	pair, err = decodePair(frames[0].Data)
	require.NoError(t, err)
	assert.InDelta(t, 1, pair[0], 1e-6)
	assert.Equal(t, 0.0, pair[1], "unused motor")
}

func TestJointModules_HomingAtCurrentPosition(t *testing.T) {
	m, boards, _ := newTestModules(t, 2)
	require.NoError(t, boards[0].handle(MeasurementFrame(IDPosition, 0.9, -0.9)))

	require.Equal(t, robot.HomingSucceeded, m.ExecuteHomingAtCurrentPosition(robot.Vector{0.1, 0.2}))
	assert.InDeltaSlice(t, robot.Vector{-0.1, -0.2}, m.MeasuredPosition(), 1e-6)
}

func TestJointModules_IndexSearch(t *testing.T) {
	m, boards, conns := newTestModules(t, 2)

	// the board reports the index of motor 0 on the 3rd and of motor 1 on
	// the 5th current reference
	var refs int
	conns[0].onSend = func(f canbus.Frame) {
		if f.ID != IDCurrentRef {
			return
		}
		refs++
		switch refs {
		case 3:
			_ = boards[0].handle(IndexFrame(IndexEvent{Motor: 0, Position: 0.45}))
		case 5:
			_ = boards[0].handle(IndexFrame(IndexEvent{Motor: 1, Position: -0.9}))
		}
	}

	offset := robot.Vector{0.1, 0}
	status := m.ExecuteHomingIndexSearch(1, offset, robot.Vector{0.0003, -0.0003})
	require.Equal(t, robot.HomingSucceeded, status)

	// the index reads -offset, the motors did not move in this fake
	assert.InDeltaSlice(t, robot.Vector{-0.45*2*math.Pi/9 - 0.1, 0.9 * 2 * math.Pi / 9}, m.MeasuredPosition(), 1e-6)

	frames := conns[0].frames(IDCurrentRef)
	require.Len(t, frames, 6)

	// both joints follow their ramp
	second, err := decodePair(frames[1].Data)
	require.NoError(t, err)
	assert.InDelta(t, 10*0.0006/(0.02*9), second[0], 1e-4)
	assert.InDelta(t, -10*0.0006/(0.02*9), second[1], 1e-4)

	// joint 0 is pulled towards its index (clamped to the max current)
	// while joint 1 keeps searching
	fourth, err := decodePair(frames[3].Data)
	require.NoError(t, err)
	assert.InDelta(t, 2, fourth[0], 1e-4)
	assert.InDelta(t, -10*0.0012/(0.02*9), fourth[1], 1e-4)

	// the search ends with zero torque
	last, err := decodePair(frames[len(frames)-1].Data)
	require.NoError(t, err)
	assert.Equal(t, [2]float64{0, 0}, last)
}

func TestJointModules_IndexSearchNotFound(t *testing.T) {
	m, _, conns := newTestModules(t, 2)

	status := m.ExecuteHomingIndexSearch(0.00305, robot.NewVector(2), robot.Vector{0.0003, 0.0003})
	assert.Equal(t, robot.HomingNotFound, status)
	// ten steps within the limit plus the final zero torque
	assert.Len(t, conns[0].frames(IDCurrentRef), 11)
}

func TestJointModules_IndexSearchFault(t *testing.T) {
	m, boards, _ := newTestModules(t, 2)
	require.NoError(t, boards[0].handle(StatusFrame(Status{ErrorCode: robot.FaultCANRecvTimeout})))

	assert.Equal(t, robot.FaultCANRecvTimeout, m.BoardError(0))
	assert.Equal(t, robot.HomingFault, m.ExecuteHomingIndexSearch(1, robot.NewVector(2), robot.Vector{0.0003, 0.0003}))
	assert.Equal(t, robot.HomingFault, m.ExecuteHomingAtCurrentPosition(robot.NewVector(2)))
}

func TestNewJointModules_BoardCount(t *testing.T) {
	_, err := NewJointModules(nil, 3, testMotor, 2, nil)
	assert.Error(t, err)
}
