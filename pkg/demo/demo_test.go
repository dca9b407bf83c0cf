package demo

import (
	"context"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/gwillem/njoint/pkg/driver"
	"github.com/gwillem/njoint/pkg/robot"
	"github.com/gwillem/njoint/pkg/sim"
)

// instantClock lets the driver run without waiting.
type instantClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *instantClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *instantClock) Sleep(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testDriver(t *testing.T) *driver.Driver {
	t.Helper()
	n := 2
	cfg := &robot.Config{
		NJoints:                    n,
		Backend:                    robot.BackendSim,
		MaxCurrentA:                2,
		Motor:                      robot.MotorParameters{TorqueConstantNmpA: 0.02, GearRatio: 9},
		HomingMethod:               robot.HomingNone,
		MoveToPositionToleranceRad: 0.01,
		Calibration:                robot.CalibrationParameters{EndstopSearchTorquesNm: robot.NewVector(n), MoveSteps: 300},
		SafetyKd:                   robot.NewVector(n),
		PositionControlGains:       robot.Gains{Kp: robot.Constant(n, 10), Kd: robot.Constant(n, 0.1)},
		HardPositionLimitsLower:    robot.Constant(n, -3),
		HardPositionLimitsUpper:    robot.Constant(n, 3),
		SoftPositionLimitsLower:    robot.Constant(n, math.Inf(-1)),
		SoftPositionLimitsUpper:    robot.Constant(n, math.Inf(1)),
		HomeOffsetRad:              robot.NewVector(n),
		InitialPositionRad:         robot.NewVector(n),
	}
	require.NoError(t, cfg.Validate())
	d := driver.New(cfg, sim.NewPlant(n), zaptest.NewLogger(t).Sugar(),
		driver.WithClock(&instantClock{now: time.Unix(0, 0)}))
	require.NoError(t, d.Initialize())
	return d
}

// fakeRobot reports a fixed fault and counts calls.
type fakeRobot struct {
	fault     string
	applyErr  error
	applied   int
	shutdowns int
}

func (r *fakeRobot) ApplyAction(a robot.Action) (robot.Action, error) {
	r.applied++
	return a, r.applyErr
}
func (r *fakeRobot) LatestObservation() robot.Observation { return robot.Observation{} }
func (r *fakeRobot) IdleAction() robot.Action             { return robot.ZeroAction(1) }
func (r *fakeRobot) Fault() string                        { return r.fault }
func (r *fakeRobot) ActionCount() uint64                  { return uint64(r.applied) }
func (r *fakeRobot) Shutdown() error {
	r.shutdowns++
	return nil
}

func TestController_Goals(t *testing.T) {
	d := testDriver(t)
	start := d.ActionCount()
	goals := []robot.Vector{{0.2, 0.2}, {-0.2, 0.1}}

	ctrl, err := NewController(d, Config{
		Mode:      ModeGoals,
		Goals:     goals,
		GoalSteps: 500,
		Steps:     1000,
		Clock:     clock.NewMock(),
	}, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)

	require.NoError(t, ctrl.Start(context.Background()))
	assert.Equal(t, driver.StateStopped, d.State())
	assert.Equal(t, start+1000, d.ActionCount())

	state := <-ctrl.States()
	assert.Equal(t, goals[1], state.Goal)
	assert.InDeltaSlice(t, goals[1], state.Observation.Position, 0.01)
	assert.Equal(t, start+1000, state.ActionCount)

	first := <-ctrl.Logs()
	assert.True(t, strings.HasSuffix(first, "Action loop started"), first)
}

func TestController_Hold(t *testing.T) {
	d := testDriver(t)
	ctrl, err := NewController(d, Config{Steps: 10, Clock: clock.NewMock()}, nil)
	require.NoError(t, err)

	require.NoError(t, ctrl.Start(context.Background()))
	state := <-ctrl.States()
	assert.Nil(t, state.Goal)
	assert.Equal(t, d.IdleAction().Position, state.Applied.Position)
}

func TestController_Cancel(t *testing.T) {
	d := testDriver(t)
	ctrl, err := NewController(d, Config{Mode: ModePassive, Clock: clock.NewMock()}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.True(t, errors.Is(ctrl.Start(ctx), context.Canceled))
	assert.Equal(t, driver.StateStopped, d.State())
}

func TestController_Fault(t *testing.T) {
	r := &fakeRobot{fault: "[Board 0] Encoder Error"}
	ctrl, err := NewController(r, Config{PublishHz: 1000}, nil)
	require.NoError(t, err)

	err = ctrl.Start(context.Background())
	assert.True(t, errors.Is(err, ErrFault))
	assert.Contains(t, err.Error(), "Encoder Error")
	assert.Equal(t, 1, r.shutdowns)
}

func TestController_ApplyError(t *testing.T) {
	r := &fakeRobot{applyErr: driver.ErrInvalidState}
	ctrl, err := NewController(r, Config{Clock: clock.NewMock()}, nil)
	require.NoError(t, err)

	err = ctrl.Start(context.Background())
	assert.True(t, errors.Is(err, driver.ErrInvalidState))
	assert.Equal(t, 1, r.applied)
	assert.Equal(t, 1, r.shutdowns)
}

func TestController_AlreadyRunning(t *testing.T) {
	ctrl, err := NewController(&fakeRobot{}, Config{Clock: clock.NewMock()}, nil)
	require.NoError(t, err)
	ctrl.running = true
	assert.Error(t, ctrl.Start(context.Background()))
}

func TestNewController_GoalsRequired(t *testing.T) {
	_, err := NewController(&fakeRobot{}, Config{Mode: ModeGoals}, nil)
	assert.Error(t, err)
}
