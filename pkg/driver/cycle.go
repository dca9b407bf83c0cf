package driver

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gwillem/njoint/pkg/control"
	"github.com/gwillem/njoint/pkg/robot"
)

// CyclePeriod is the period of one control cycle.
const CyclePeriod = time.Millisecond

// Cycle executes single control cycles: read the observation, process the
// action, send the torques and wait for the end of the period.
type Cycle struct {
	act robot.JointActuation
	cfg *robot.Config
	clk Clock

	// mu serializes access to the actuation.
	mu          sync.Mutex
	initialized atomic.Bool
	count       atomic.Uint64
	noLimits    [2]robot.Vector
}

// NewCycle returns a control cycle on act. Soft limits are disabled until
// SetInitialized(true).
func NewCycle(act robot.JointActuation, cfg *robot.Config, clk Clock) *Cycle {
	return &Cycle{
		act: act,
		cfg: cfg,
		clk: clk,
		noLimits: [2]robot.Vector{
			robot.Constant(cfg.NJoints, math.Inf(-1)),
			robot.Constant(cfg.NJoints, math.Inf(1)),
		},
	}
}

// SetInitialized switches between the unlimited (homing) and the soft
// position limits.
func (c *Cycle) SetInitialized(v bool) {
	c.initialized.Store(v)
}

// Initialized reports whether soft limits are active.
func (c *Cycle) Initialized() bool {
	return c.initialized.Load()
}

// Count returns the number of executed cycles.
func (c *Cycle) Count() uint64 {
	return c.count.Load()
}

// Observation reads the current joint state.
func (c *Cycle) Observation() robot.Observation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.observation()
}

func (c *Cycle) observation() robot.Observation {
	return robot.Observation{
		Position: c.act.MeasuredPosition(),
		Velocity: c.act.MeasuredVelocity(),
		Torque:   c.act.MeasuredTorque(),
	}
}

func (c *Cycle) params() control.Params {
	p := control.Params{
		MaxTorque: c.cfg.MaxTorque(),
		SafetyKd:  c.cfg.SafetyKd,
		DefaultKp: c.cfg.PositionControlGains.Kp,
		DefaultKd: c.cfg.PositionControlGains.Kd,
		Lower:     c.noLimits[0],
		Upper:     c.noLimits[1],
	}
	if c.initialized.Load() {
		p.Lower = c.cfg.SoftPositionLimitsLower
		p.Upper = c.cfg.SoftPositionLimitsUpper
	}
	return p
}

// Step runs one control cycle with the desired action and returns the
// applied action. It blocks until one period after it started.
func (c *Cycle) Step(desired robot.Action) robot.Action {
	start := c.clk.Now()

	c.mu.Lock()
	obs := c.observation()
	applied := control.ProcessAction(desired, obs, c.params())
	c.act.SetAndSendTorques(applied.Torque)
	c.mu.Unlock()

	c.count.Add(1)

	if d := start.Add(CyclePeriod).Sub(c.clk.Now()); d > 0 {
		c.clk.Sleep(d)
	}
	return applied
}

// Pause stops actuation.
func (c *Cycle) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.act.Pause()
}

// BoardErrors returns the fault code of every board.
func (c *Cycle) BoardErrors() []robot.FaultCode {
	c.mu.Lock()
	defer c.mu.Unlock()
	codes := make([]robot.FaultCode, c.act.NumBoards())
	for i := range codes {
		codes[i] = c.act.BoardError(i)
	}
	return codes
}

// setGains passes the default PD gains to actuations that run their own
// position controller.
func (c *Cycle) setGains(kp, kd robot.Vector) bool {
	gs, ok := c.act.(robot.GainSetter)
	if !ok {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	gs.SetPositionControlGains(kp, kd)
	return true
}
