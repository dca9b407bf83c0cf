package control

import "github.com/gwillem/njoint/pkg/robot"

// MinJerk is the minimum-jerk blend s(alpha) = 10a³ - 15a⁴ + 6a⁵. It maps
// [0, 1] onto [0, 1] with zero velocity and acceleration at both ends.
func MinJerk(alpha float64) float64 {
	a3 := alpha * alpha * alpha
	return a3 * (10 - 15*alpha + 6*alpha*alpha)
}

// MinJerkWaypoint returns the position at step t of steps on the minimum
// jerk path from initial to goal.
func MinJerkWaypoint(initial, goal robot.Vector, t, steps int) robot.Vector {
	s := MinJerk(float64(t) / float64(steps))
	out := make(robot.Vector, len(initial))
	for i := range out {
		out[i] = initial[i] + (goal[i]-initial[i])*s
	}
	return out
}
