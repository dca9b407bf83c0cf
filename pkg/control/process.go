// Package control holds the pure, allocation-light math of the control
// loop: action processing, minimum-jerk interpolation and the detector that
// tells when joints have stopped moving.
package control

import (
	"math"

	"github.com/gwillem/njoint/pkg/robot"
)

// Params are the safety and controller parameters ProcessAction applies.
type Params struct {
	MaxTorque float64
	SafetyKd  robot.Vector
	DefaultKp robot.Vector
	DefaultKd robot.Vector
	Lower     robot.Vector
	Upper     robot.Vector
}

// ProcessAction turns a desired action into the action that is sent to the
// joints. It enforces the position limits, runs the PD position controller
// for joints with a target position and applies torque saturation and
// velocity damping. The result never contains a NaN torque. The inputs are
// not modified.
func ProcessAction(desired robot.Action, obs robot.Observation, p Params) robot.Action {
	a := desired.Clone()
	n := len(a.Torque)

	for i := 0; i < n; i++ {
		// NaN compares false on both sides and is kept.
		if a.Position[i] < p.Lower[i] {
			a.Position[i] = p.Lower[i]
		} else if a.Position[i] > p.Upper[i] {
			a.Position[i] = p.Upper[i]
		}

		// The override looks at the measured position, after the command
		// was clamped above.
		if obs.Position[i] < p.Lower[i] {
			holdAtLimit(&a, i, -1, p.Lower[i], p)
		} else if obs.Position[i] > p.Upper[i] {
			holdAtLimit(&a, i, +1, p.Upper[i], p)
		}
	}

	if !a.Position.AllNaN() {
		for i := 0; i < n; i++ {
			if math.IsNaN(a.PositionKp[i]) {
				a.PositionKp[i] = p.DefaultKp[i]
			}
			if math.IsNaN(a.PositionKd[i]) {
				a.PositionKd[i] = p.DefaultKd[i]
			}

			u := a.PositionKp[i]*(a.Position[i]-obs.Position[i]) - a.PositionKd[i]*obs.Velocity[i]
			// joints without target position contribute nothing
			if math.IsNaN(u) {
				u = 0
			}
			a.Torque[i] += u
		}
	}

	a.Torque.Clamp(p.MaxTorque)
	for i := 0; i < n; i++ {
		a.Torque[i] -= p.SafetyKd[i] * obs.Velocity[i]
	}
	a.Torque.Clamp(p.MaxTorque)
	for i := 0; i < n; i++ {
		// only reachable with a NaN in the torque command or the velocity
		if math.IsNaN(a.Torque[i]) {
			a.Torque[i] = 0
		}
	}

	return a
}

// holdAtLimit replaces the command of joint i, which is beyond a limit, by a
// position command to that limit. sign is the direction pointing out of the
// valid range.
func holdAtLimit(a *robot.Action, i int, sign, limit float64, p Params) {
	if a.Torque[i]*sign > 0 {
		a.Torque[i] = 0
	}
	if math.IsNaN(a.Position[i]) {
		a.Position[i] = limit
	}
	// custom gains are not allowed at the limit
	a.PositionKp[i] = p.DefaultKp[i]
	a.PositionKd[i] = p.DefaultKd[i]
}
