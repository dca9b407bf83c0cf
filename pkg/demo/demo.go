// Package demo runs an initialized robot from a steady action loop and
// publishes its state for display.
package demo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/gwillem/njoint/pkg/robot"
)

// Robot is the driver surface the controller needs.
type Robot interface {
	ApplyAction(desired robot.Action) (robot.Action, error)
	LatestObservation() robot.Observation
	IdleAction() robot.Action
	Fault() string
	ActionCount() uint64
	Shutdown() error
}

// Mode selects the actions the controller sends.
type Mode int

const (
	// ModeHold holds the idle action.
	ModeHold Mode = iota
	// ModeGoals cycles through position goals.
	ModeGoals
	// ModePassive sends zero torque, so the joints can be moved by hand.
	ModePassive
)

// ErrFault is returned by Start when the robot reports a fault.
var ErrFault = errors.New("robot fault")

// State is a snapshot of the robot.
type State struct {
	Observation robot.Observation
	Applied     robot.Action
	Goal        robot.Vector
	ActionCount uint64
	Timestamp   time.Time
	Error       error
}

// Config configures a Controller.
type Config struct {
	Mode  Mode
	Goals []robot.Vector
	// GoalSteps is the number of cycles every goal is held.
	GoalSteps int
	// Steps stops the loop after this many cycles; zero runs until the
	// context is cancelled.
	Steps int
	// PublishHz is the rate of state updates.
	PublishHz int
	Clock     clock.Clock
}

// Controller manages the action loop.
type Controller struct {
	robot  Robot
	cfg    Config
	clk    clock.Clock
	logger *zap.SugaredLogger

	mu      sync.Mutex
	running bool
	stateCh chan State
	logCh   chan string
}

// NewController returns a controller for an initialized robot.
func NewController(r Robot, cfg Config, logger *zap.SugaredLogger) (*Controller, error) {
	if cfg.Mode == ModeGoals && len(cfg.Goals) == 0 {
		return nil, errors.New("goal mode needs at least one goal")
	}
	if cfg.GoalSteps <= 0 {
		cfg.GoalSteps = 500
	}
	if cfg.PublishHz <= 0 {
		cfg.PublishHz = 30
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Controller{
		robot:   r,
		cfg:     cfg,
		clk:     cfg.Clock,
		logger:  logger,
		stateCh: make(chan State, 1),
		logCh:   make(chan string, 10),
	}, nil
}

// States returns a channel that receives state updates.
func (c *Controller) States() <-chan State {
	return c.stateCh
}

// Logs returns a channel that receives log messages.
func (c *Controller) Logs() <-chan string {
	return c.logCh
}

func (c *Controller) log(format string, args ...any) {
	text := fmt.Sprintf(format, args...)
	c.logger.Info(text)
	msg := fmt.Sprintf("[%s] %s", c.clk.Now().Format("15:04:05"), text)
	select {
	case c.logCh <- msg:
	default:
		// drop if nobody listens
	}
}

// Start runs the action loop until the context is cancelled, the step
// limit is reached or the robot reports a fault. The robot is shut down
// before Start returns.
func (c *Controller) Start(ctx context.Context) (err error) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return errors.New("already running")
	}
	c.running = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		if serr := c.shutdown(); serr != nil && err == nil {
			err = serr
		}
	}()

	c.log("Action loop started")

	ticker := c.clk.Ticker(time.Second / time.Duration(c.cfg.PublishHz))
	defer ticker.Stop()

	var state State
	for step := 0; c.cfg.Steps == 0 || step < c.cfg.Steps; step++ {
		if ctx.Err() != nil {
			c.sendState(state)
			return ctx.Err()
		}

		state = c.step(step)
		if state.Error != nil {
			c.sendState(state)
			return state.Error
		}

		select {
		case <-ticker.C:
			c.sendState(state)
			if fault := c.robot.Fault(); fault != "" {
				c.log("Fault: %s", fault)
				return errors.Wrap(ErrFault, fault)
			}
		default:
		}
	}
	c.sendState(state)
	c.log("Finished %d steps", c.cfg.Steps)
	return nil
}

// goal returns the position goal at a step, nil if there is none.
func (c *Controller) goal(step int) robot.Vector {
	if c.cfg.Mode != ModeGoals {
		return nil
	}
	return c.cfg.Goals[(step/c.cfg.GoalSteps)%len(c.cfg.Goals)]
}

func (c *Controller) step(step int) State {
	var action robot.Action
	goal := c.goal(step)
	switch c.cfg.Mode {
	case ModeGoals:
		action = robot.PositionAction(goal)
		if step%c.cfg.GoalSteps == 0 {
			c.log("Moving to %v", goal)
		}
	case ModePassive:
		action = robot.Action{}
	default:
		action = c.robot.IdleAction()
	}

	applied, err := c.robot.ApplyAction(action)
	if err != nil {
		c.log("Apply error: %v", err)
	}
	return State{
		Observation: c.robot.LatestObservation(),
		Applied:     applied,
		Goal:        goal,
		ActionCount: c.robot.ActionCount(),
		Timestamp:   c.clk.Now(),
		Error:       err,
	}
}

func (c *Controller) sendState(s State) {
	select {
	case c.stateCh <- s:
	default:
		// replace the unread state with the new one
		select {
		case <-c.stateCh:
		default:
		}
		c.stateCh <- s
	}
}

func (c *Controller) shutdown() error {
	c.log("Shutting down")
	if err := c.robot.Shutdown(); err != nil {
		c.log("Shutdown: %v", err)
		return errors.Wrap(err, "shutdown")
	}
	c.log("Stopped after %d actions", c.robot.ActionCount())
	return nil
}
