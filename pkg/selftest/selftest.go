// Package selftest checks that a robot reaches the goals it should reach
// and is blocked before the goals it should not.
package selftest

import (
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"github.com/gwillem/njoint/pkg/robot"
)

// Defaults for an empty SelfTestConfig.
const (
	DefaultPositionTolerance = 0.2
	DefaultHoldSteps         = 1000
)

// Robot is the driver surface the self test needs.
type Robot interface {
	ApplyAction(desired robot.Action) (robot.Action, error)
	LatestObservation() robot.Observation
	IdleAction() robot.Action
}

// Check is the outcome for one goal.
type Check struct {
	Goal      robot.Vector
	Reachable bool
	Position  robot.Vector
	Distance  float64
	Passed    bool
}

func (c Check) String() string {
	kind := "reachable"
	if !c.Reachable {
		kind = "unreachable"
	}
	verdict := "ok"
	if !c.Passed {
		verdict = "FAILED"
	}
	return kind + " goal " + c.Goal.String() + ": " + verdict
}

// Result lists the checks in execution order.
type Result struct {
	Checks []Check
}

// Passed reports whether every check passed.
func (r Result) Passed() bool {
	return r.Err() == nil
}

// Err describes every failed check.
func (r Result) Err() error {
	var err error
	for _, c := range r.Checks {
		if c.Passed {
			continue
		}
		if c.Reachable {
			err = multierr.Append(err, errors.Errorf(
				"did not reach goal %s, position %s", c.Goal.String(), c.Position.String()))
		} else {
			err = multierr.Append(err, errors.Errorf(
				"reached goal %s which should not be reachable, position %s",
				c.Goal.String(), c.Position.String()))
		}
	}
	return err
}

// Run holds every reachable goal and requires the robot to end within the
// tolerance, then holds every unreachable goal, each from the initial pose,
// and requires it to stay outside. The returned error is only set if the
// robot refused an action.
func Run(r Robot, cfg robot.SelfTestConfig, logger *zap.SugaredLogger) (Result, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	tolerance := cfg.PositionTolerance
	if tolerance <= 0 {
		tolerance = DefaultPositionTolerance
	}
	steps := cfg.HoldSteps
	if steps <= 0 {
		steps = DefaultHoldSteps
	}

	var res Result
	for _, goal := range cfg.ReachableGoals {
		pos, err := hold(r, goal, steps)
		if err != nil {
			return res, err
		}
		c := newCheck(goal, pos, true)
		c.Passed = c.Distance <= tolerance
		logger.Infow("self test", "check", c.String(), "distance", c.Distance)
		res.Checks = append(res.Checks, c)
	}

	initial := r.IdleAction().Position
	for _, goal := range cfg.UnreachableGoals {
		if _, err := hold(r, initial, steps); err != nil {
			return res, err
		}
		pos, err := hold(r, goal, steps)
		if err != nil {
			return res, err
		}
		c := newCheck(goal, pos, false)
		c.Passed = c.Distance > tolerance
		logger.Infow("self test", "check", c.String(), "distance", c.Distance)
		res.Checks = append(res.Checks, c)
	}
	return res, nil
}

func hold(r Robot, goal robot.Vector, steps int) (robot.Vector, error) {
	action := robot.PositionAction(goal)
	for i := 0; i < steps; i++ {
		if _, err := r.ApplyAction(action); err != nil {
			return nil, errors.Wrap(err, "self test")
		}
	}
	return r.LatestObservation().Position, nil
}

func newCheck(goal, pos robot.Vector, reachable bool) Check {
	return Check{
		Goal:      goal,
		Reachable: reachable,
		Position:  pos,
		Distance:  floats.Distance(goal, pos, 2),
	}
}
