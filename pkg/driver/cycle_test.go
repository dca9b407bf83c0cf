package driver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwillem/njoint/pkg/robot"
	"github.com/gwillem/njoint/pkg/sim"
)

func TestCycle_Pacing(t *testing.T) {
	cfg := testConfig(t, 2)
	clk := newFakeClock()
	plant := sim.NewPlant(2)
	c := NewCycle(plant, cfg, clk)

	start := clk.Now()
	for i := 0; i < 10; i++ {
		c.Step(robot.ZeroAction(2))
	}

	assert.Equal(t, 10*time.Millisecond, clk.Now().Sub(start))
	assert.Equal(t, uint64(10), c.Count())
	assert.Equal(t, 10, plant.Commands())
}

func TestCycle_LimitsFollowInitialization(t *testing.T) {
	cfg := testConfig(t, 2)
	cfg.SoftPositionLimitsLower = robot.Vector{-1, -1}
	cfg.SoftPositionLimitsUpper = robot.Vector{1, 1}
	c := NewCycle(sim.NewPlant(2), cfg, newFakeClock())

	desired := robot.PositionAction(robot.Vector{-2, 0.5})

	applied := c.Step(desired)
	assert.Equal(t, -2.0, applied.Position[0], "no limits before initialization")

	c.SetInitialized(true)
	applied = c.Step(desired)
	assert.Equal(t, -1.0, applied.Position[0])
	assert.Equal(t, 0.5, applied.Position[1])
}

func TestCycle_MoveTo(t *testing.T) {
	cfg := testConfig(t, 2)
	plant := sim.NewPlant(2)
	c := NewCycle(plant, cfg, newFakeClock())

	goal := robot.Vector{0.5, -0.4}
	require.True(t, c.MoveTo(goal, 0.01, 500))
	assert.Equal(t, uint64(500), c.Count())
	assert.InDeltaSlice(t, goal, c.Observation().Position, 0.01)
}

func TestCycle_MoveToBlocked(t *testing.T) {
	cfg := testConfig(t, 2)
	plant := sim.NewPlant(2)
	// steady-state error of 0.3 / kp = 0.03 rad
	plant.SetExternalTorque(robot.Vector{0.3, 0})
	c := NewCycle(plant, cfg, newFakeClock())

	assert.False(t, c.MoveTo(robot.Vector{0.5, -0.4}, 0.01, 500))
	assert.Equal(t, uint64(500), c.Count(), "no retry")
}

func TestCycle_RunTrajectoryStopsAtFirstFailure(t *testing.T) {
	cfg := testConfig(t, 2)
	plant := sim.NewPlant(2, sim.WithEndstops(robot.Vector{-10, -10}, robot.Vector{1, 1}))
	c := NewCycle(plant, cfg, newFakeClock())

	steps := []robot.TrajectoryStep{
		{TargetPositionRad: robot.Vector{0.2, 0.2}, MoveSteps: 300},
		{TargetPositionRad: robot.Vector{1.5, 0}, MoveSteps: 400},
		{TargetPositionRad: robot.Vector{0, 0}, MoveSteps: 500},
	}
	done, ok := c.RunTrajectory(steps, 0.01)
	assert.False(t, ok)
	assert.Equal(t, 1, done)
	assert.Equal(t, uint64(700), c.Count())
}

func TestCycle_BoardErrors(t *testing.T) {
	cfg := testConfig(t, 3)
	plant := sim.NewPlant(3)
	plant.SetBoardError(1, robot.FaultCriticalTemperature)
	c := NewCycle(plant, cfg, newFakeClock())

	assert.Equal(t, []robot.FaultCode{robot.FaultNone, robot.FaultCriticalTemperature}, c.BoardErrors())
}
