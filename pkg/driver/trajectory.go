package driver

import (
	"github.com/gwillem/njoint/pkg/control"
	"github.com/gwillem/njoint/pkg/robot"
)

// MoveTo moves all joints to goal along a minimum-jerk trajectory lasting
// steps cycles. It reports whether every joint ended within tolerance of
// the goal. There is no retry.
func (c *Cycle) MoveTo(goal robot.Vector, tolerance float64, steps int) bool {
	initial := c.Observation().Position
	for t := 0; t < steps; t++ {
		waypoint := control.MinJerkWaypoint(initial, goal, t, steps)
		c.Step(robot.PositionAction(waypoint))
	}
	final := c.Observation().Position
	return goal.Sub(final).Abs().AllBelow(tolerance)
}

// RunTrajectory executes the steps in order and stops at the first one that
// does not reach its target. It returns the number of completed steps.
func (c *Cycle) RunTrajectory(steps []robot.TrajectoryStep, tolerance float64) (int, bool) {
	for i, step := range steps {
		if !c.MoveTo(step.TargetPositionRad, tolerance, step.MoveSteps) {
			return i, false
		}
	}
	return len(steps), true
}
