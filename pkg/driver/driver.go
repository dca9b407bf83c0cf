// Package driver runs an N-joint torque-controlled robot: homing, the
// safety-filtered 1 kHz control cycle, minimum-jerk moves and the shutdown
// sequence. The hardware is reached through robot.JointActuation.
package driver

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/gwillem/njoint/pkg/robot"
)

// State is the lifecycle state of a Driver.
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateShuttingDown
	StateStopped
)

var stateNames = [...]string{
	StateUninitialized: "uninitialized",
	StateInitializing:  "initializing",
	StateReady:         "ready",
	StateShuttingDown:  "shutting down",
	StateStopped:       "stopped",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int32(s))
	}
	return stateNames[s]
}

var (
	// ErrInvalidState is returned when an operation is not allowed in the
	// current state, e.g. ApplyAction before Initialize.
	ErrInvalidState = errors.New("invalid driver state")
	// ErrHomingFailed is returned by Initialize when homing did not succeed.
	ErrHomingFailed = errors.New("homing failed")
	// ErrTrajectoryIncomplete is returned by Shutdown when the shutdown
	// trajectory was aborted. The robot may need manual intervention.
	ErrTrajectoryIncomplete = errors.New("failed to reach rest position, robot may be blocked")
)

// Option configures a Driver.
type Option func(*Driver)

// WithClock replaces the wall clock pacing the control cycle.
func WithClock(clk Clock) Option {
	return func(d *Driver) { d.clk = clk }
}

// Driver owns the lifecycle of the robot.
type Driver struct {
	cfg    *robot.Config
	act    robot.JointActuation
	logger *zap.SugaredLogger
	clk    Clock
	cycle  *Cycle
	state  atomic.Int32
}

// New returns an uninitialized driver for the joints behind act.
func New(cfg *robot.Config, act robot.JointActuation, logger *zap.SugaredLogger, opts ...Option) *Driver {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	d := &Driver{
		cfg:    cfg,
		act:    act,
		logger: logger,
		clk:    defaultClock(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.cycle = NewCycle(act, cfg, d.clk)
	return d
}

// Config returns the configuration the driver runs with.
func (d *Driver) Config() *robot.Config {
	return d.cfg
}

// State returns the lifecycle state.
func (d *Driver) State() State {
	return State(d.state.Load())
}

// ActionCount returns the number of control cycles executed so far,
// including those of homing and trajectories.
func (d *Driver) ActionCount() uint64 {
	return d.cycle.Count()
}

func (d *Driver) transition(from, to State) error {
	if !d.state.CompareAndSwap(int32(from), int32(to)) {
		return errors.Wrapf(ErrInvalidState, "want %s, have %s", from, d.State())
	}
	d.logger.Infow("driver state", "from", from, "to", to)
	return nil
}

// Initialize homes the joints and moves them to the initial pose. It blocks
// until done. The driver becomes ready only if homing succeeded; otherwise
// it stays uninitialized and Initialize may be called again.
func (d *Driver) Initialize() error {
	if err := d.transition(StateUninitialized, StateInitializing); err != nil {
		return err
	}

	var (
		homed bool
		err   error
	)
	runRealtime(d.logger, func() {
		homed, err = d.initialize()
	})

	if err != nil || !homed {
		d.state.Store(int32(StateUninitialized))
		if err != nil {
			return errors.Wrap(err, "initialize")
		}
		return ErrHomingFailed
	}
	return d.transition(StateInitializing, StateReady)
}

func (d *Driver) initialize() (bool, error) {
	gains := d.cfg.PositionControlGains
	if d.cycle.setGains(gains.Kp, gains.Kd) {
		d.logger.Debug("passed position control gains to actuation")
	}

	h := homing{cycle: d.cycle, act: d.act, cfg: d.cfg, logger: d.logger}
	homed, err := h.run()
	if err != nil {
		return false, err
	}
	d.cycle.Pause()

	// soft limits stay off: homing may end outside of them
	if homed {
		waypoint := d.cycle.Observation().Position
		reached := false
		for i := range waypoint {
			waypoint[i] = d.cfg.InitialPositionRad[i]
			reached = d.cycle.MoveTo(waypoint, d.cfg.MoveToPositionToleranceRad, d.cfg.Calibration.MoveSteps)
		}
		if !reached {
			d.logger.Warnw("failed to reach initial position", "goal", waypoint,
				"position", d.cycle.Observation().Position)
		}
	}
	d.cycle.Pause()

	d.cycle.SetInitialized(homed)
	return homed, nil
}

// ApplyAction runs one control cycle with the desired action and returns
// the action that was actually applied. Missing parts of the action are
// filled in: nil torque is zero, nil position and gains are unset.
func (d *Driver) ApplyAction(desired robot.Action) (robot.Action, error) {
	if s := d.State(); s != StateReady {
		return robot.Action{}, errors.Wrapf(ErrInvalidState,
			"apply action in state %s, run Initialize first", s)
	}
	a, err := desired.Complete(d.cfg.NJoints)
	if err != nil {
		return robot.Action{}, err
	}
	return d.cycle.Step(a), nil
}

// IdleAction holds the initial pose.
func (d *Driver) IdleAction() robot.Action {
	return robot.PositionAction(d.cfg.InitialPositionRad)
}

// LatestObservation reads the current joint state.
func (d *Driver) LatestObservation() robot.Observation {
	return d.cycle.Observation()
}

// Fault describes the active hardware faults, one "[Board i] <text>" per
// faulty board, followed by a notice if the joints are outside the hard
// limits. It returns the empty string if there is no fault.
func (d *Driver) Fault() string {
	var msgs []string
	for i, code := range d.cycle.BoardErrors() {
		if code != robot.FaultNone {
			msgs = append(msgs, fmt.Sprintf("[Board %d] %s", i, code))
		}
	}
	msg := strings.Join(msgs, "  ")

	if !d.cfg.IsWithinHardPositionLimits(d.LatestObservation().Position) {
		if msg != "" {
			msg += " | "
		}
		msg += "Position limits exceeded."
	}
	return msg
}

// Shutdown moves along the shutdown trajectory, pauses the actuation and
// appends the run duration to the configured log files. The trajectory
// stops at the first step that misses its target. On a robot that was
// never initialized it runs without soft limits. The actuation is paused
// in any case.
func (d *Driver) Shutdown() error {
	from := d.State()
	if from != StateReady && from != StateUninitialized {
		return errors.Wrapf(ErrInvalidState, "shutdown in state %s", from)
	}
	if err := d.transition(from, StateShuttingDown); err != nil {
		return err
	}

	var errs error
	runRealtime(d.logger, func() {
		errs = d.shutdown()
	})

	d.state.Store(int32(StateStopped))
	d.logger.Infow("driver state", "from", StateShuttingDown, "to", StateStopped)
	return errs
}

func (d *Driver) shutdown() error {
	var errs error
	done, ok := d.cycle.RunTrajectory(d.cfg.ShutdownTrajectory, d.cfg.MoveToPositionToleranceRad)
	if !ok {
		d.logger.Warnw("failed to reach rest position, robot may be blocked",
			"completed_steps", done, "steps", len(d.cfg.ShutdownTrajectory))
		errs = ErrTrajectoryIncomplete
	}
	d.cycle.Pause()

	err := writeRunDurationLogs(d.cfg.RunDurationLogfiles, d.clk.Now().Unix(), d.cycle.Count(), d.logger)
	return multierr.Append(errs, err)
}
