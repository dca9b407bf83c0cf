package robot

import "github.com/pkg/errors"

// Action is a command for all joints. Unset (NaN) positions mean "no
// position target" for that joint, unset gains fall back to the configured
// defaults.
type Action struct {
	Position   Vector
	Torque     Vector
	PositionKp Vector
	PositionKd Vector
}

// NewAction builds an action from its parts. Nil parts are unset.
func NewAction(n int, torque, position, kp, kd Vector) Action {
	a := Action{
		Torque:     NewVector(n),
		Position:   NaNVector(n),
		PositionKp: NaNVector(n),
		PositionKd: NaNVector(n),
	}
	if torque != nil {
		a.Torque = torque.Clone()
	}
	if position != nil {
		a.Position = position.Clone()
	}
	if kp != nil {
		a.PositionKp = kp.Clone()
	}
	if kd != nil {
		a.PositionKd = kd.Clone()
	}
	return a
}

// TorqueAction is a pure torque command.
func TorqueAction(torque Vector) Action {
	return NewAction(len(torque), torque, nil, nil, nil)
}

// PositionAction is a pure position command with default gains.
func PositionAction(position Vector) Action {
	return NewAction(len(position), nil, position, nil, nil)
}

// ZeroAction commands zero torque and no position for n joints.
func ZeroAction(n int) Action {
	return NewAction(n, nil, nil, nil, nil)
}

// Clone returns a deep copy of a.
func (a Action) Clone() Action {
	return Action{
		Position:   a.Position.Clone(),
		Torque:     a.Torque.Clone(),
		PositionKp: a.PositionKp.Clone(),
		PositionKd: a.PositionKd.Clone(),
	}
}

// Complete returns a copy of a in which missing parts are filled for n
// joints: nil torque becomes zero, nil position and gains become unset. It
// fails if a part has the wrong length.
func (a Action) Complete(n int) (Action, error) {
	out := NewAction(n, a.Torque, a.Position, a.PositionKp, a.PositionKd)
	for name, v := range map[string]Vector{
		"torque":      out.Torque,
		"position":    out.Position,
		"position_kp": out.PositionKp,
		"position_kd": out.PositionKd,
	} {
		if len(v) != n {
			return Action{}, errors.Errorf("action %s has %d values, want %d", name, len(v), n)
		}
	}
	return out, nil
}

// Observation is the measured joint state of one control cycle.
type Observation struct {
	Position Vector
	Velocity Vector
	Torque   Vector
}
