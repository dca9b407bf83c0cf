package driver

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/gwillem/njoint/pkg/robot"
	"github.com/gwillem/njoint/pkg/sim"
)

// fakeClock advances only when slept on.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// testConfig returns a valid config for n simulated joints with homing
// disabled. Odd joints start at -0.3, even ones at 0.3.
func testConfig(t *testing.T, n int) *robot.Config {
	t.Helper()
	cfg := &robot.Config{
		NJoints:                    n,
		Backend:                    robot.BackendSim,
		MaxCurrentA:                2,
		Motor:                      robot.MotorParameters{TorqueConstantNmpA: 0.02, GearRatio: 9},
		HasEndstop:                 true,
		HomingMethod:               robot.HomingNone,
		MoveToPositionToleranceRad: 0.01,
		Calibration: robot.CalibrationParameters{
			EndstopSearchTorquesNm: robot.Constant(n, -0.1),
			MoveSteps:              500,
		},
		SafetyKd: robot.NewVector(n),
		PositionControlGains: robot.Gains{
			Kp: robot.Constant(n, 10),
			Kd: robot.Constant(n, 0.1),
		},
		HardPositionLimitsLower: robot.Constant(n, -3),
		HardPositionLimitsUpper: robot.Constant(n, 3),
		SoftPositionLimitsLower: robot.Constant(n, math.Inf(-1)),
		SoftPositionLimitsUpper: robot.Constant(n, math.Inf(1)),
		HomeOffsetRad:           robot.NewVector(n),
		InitialPositionRad:      robot.NewVector(n),
	}
	for i := range cfg.InitialPositionRad {
		cfg.InitialPositionRad[i] = 0.3
		if i%2 == 1 {
			cfg.InitialPositionRad[i] = -0.3
		}
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

func newTestDriver(t *testing.T, cfg *robot.Config, opts ...sim.Option) (*Driver, *sim.Plant, *fakeClock) {
	t.Helper()
	plant := sim.NewPlant(cfg.NJoints, opts...)
	clk := newFakeClock()
	d := New(cfg, plant, zaptest.NewLogger(t).Sugar(), WithClock(clk))
	return d, plant, clk
}
