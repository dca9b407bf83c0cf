package servo

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/gwillem/njoint/pkg/robot"
)

const (
	// DefaultCompliance converts a torque command into a position offset
	// when none is configured.
	DefaultCompliance = 1.0 // rad/N·m
	busTimeout        = 20 * time.Millisecond
)

// Joints are position servos exposed as torque-controlled joints. Joint i
// is the servo of calibration entry i. All servos share one bus, which
// counts as a single board.
type Joints struct {
	bus        Bus
	cal        robot.Calibration
	compliance float64
	logger     *zap.SugaredLogger
	clk        clock.Clock

	// angle is the calibrated angle, the measured position is angle - zero
	angle    robot.Vector
	zero     robot.Vector
	velocity robot.Vector
	torque   robot.Vector
	lastRead time.Time
	enabled  bool
	fault    robot.FaultCode
}

// Option configures Joints.
type Option func(*Joints)

// WithClock sets the clock used to differentiate positions.
func WithClock(clk clock.Clock) Option {
	return func(j *Joints) { j.clk = clk }
}

// Open connects to the servo bus named in the config.
func Open(cfg *robot.Config, logger *zap.SugaredLogger, opts ...Option) (*Joints, error) {
	sc := cfg.Servo
	bus, err := OpenBus(sc.Port, sc.BaudRate, sc.Calibration.MotorIDs())
	if err != nil {
		return nil, err
	}
	j, err := New(bus, sc.Calibration, sc.ComplianceRadPerNm, logger, opts...)
	if err != nil {
		return nil, multierr.Append(err, bus.Close())
	}
	return j, nil
}

// New returns joints on bus and reads their initial position. Servos stay
// passive until the first torque command.
func New(bus Bus, cal robot.Calibration, compliance float64, logger *zap.SugaredLogger, opts ...Option) (*Joints, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if compliance <= 0 {
		compliance = DefaultCompliance
	}
	n := len(cal)
	j := &Joints{
		bus:        bus,
		cal:        cal,
		compliance: compliance,
		logger:     logger,
		clk:        clock.New(),
		angle:      robot.NewVector(n),
		zero:       robot.NewVector(n),
		velocity:   robot.NewVector(n),
		torque:     robot.NewVector(n),
	}
	for _, opt := range opts {
		opt(j)
	}

	ctx, cancel := context.WithTimeout(context.Background(), busTimeout)
	defer cancel()
	raw, err := bus.ReadPositions(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "read initial positions")
	}
	for id := range raw {
		if _, _, ok := cal.ByID(id); !ok {
			logger.Warnw("servo without calibration", "id", id)
		}
	}
	for i, mc := range cal {
		pos, ok := raw[mc.ID]
		if !ok {
			return nil, errors.Errorf("servo %d did not respond", mc.ID)
		}
		j.angle[i] = mc.ToRadians(pos)
	}
	j.lastRead = j.clk.Now()
	return j, nil
}

// refresh reads the positions and updates the velocity estimate. A failed
// read flags the bus with a receive timeout until the next good read.
func (j *Joints) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), busTimeout)
	defer cancel()
	raw, err := j.bus.ReadPositions(ctx)
	now := j.clk.Now()
	if err != nil {
		j.fault = robot.FaultCANRecvTimeout
		j.logger.Debugw("servo read failed", "error", err)
		return
	}
	j.fault = robot.FaultNone

	dt := now.Sub(j.lastRead).Seconds()
	for i, mc := range j.cal {
		pos, ok := raw[mc.ID]
		if !ok {
			j.fault = robot.FaultCANRecvTimeout
			continue
		}
		angle := mc.ToRadians(pos)
		if dt > 0 {
			j.velocity[i] = (angle - j.angle[i]) / dt
		}
		j.angle[i] = angle
	}
	j.lastRead = now
}

func (j *Joints) MeasuredPosition() robot.Vector {
	return j.angle.Sub(j.zero)
}

func (j *Joints) MeasuredVelocity() robot.Vector {
	return j.velocity.Clone()
}

// MeasuredTorque returns the last commanded torque; the servos have no
// torque sensing.
func (j *Joints) MeasuredTorque() robot.Vector {
	return j.torque.Clone()
}

// SetAndSendTorques offsets every servo's goal from its current angle by
// torque times compliance, then reads back the positions.
func (j *Joints) SetAndSendTorques(torques robot.Vector) {
	ctx, cancel := context.WithTimeout(context.Background(), busTimeout)
	defer cancel()

	if !j.enabled {
		if err := j.bus.EnableAll(ctx); err != nil {
			j.logger.Debugw("enable servos failed", "error", err)
			j.fault = robot.FaultOther
			return
		}
		j.enabled = true
	}

	goals := make(map[int]int, len(j.cal))
	for i, mc := range j.cal {
		goals[mc.ID] = mc.FromRadians(j.angle[i] + torques[i]*j.compliance)
	}
	if err := j.bus.WritePositions(ctx, goals); err != nil {
		j.logger.Debugw("servo write failed", "error", err)
		j.fault = robot.FaultOther
		return
	}
	copy(j.torque, torques)
	j.refresh()
}

// ExecuteHomingIndexSearch uses the absolute encoders: the calibrated
// centre plays the role of the index and reads -offset afterwards. No
// search motion is needed.
func (j *Joints) ExecuteHomingIndexSearch(_ float64, offset, _ robot.Vector) robot.HomingStatus {
	j.refresh()
	if j.fault != robot.FaultNone {
		return robot.HomingFault
	}
	copy(j.zero, offset)
	return robot.HomingSucceeded
}

// ExecuteHomingAtCurrentPosition makes the current position read -offset.
func (j *Joints) ExecuteHomingAtCurrentPosition(offset robot.Vector) robot.HomingStatus {
	j.refresh()
	if j.fault != robot.FaultNone {
		return robot.HomingFault
	}
	for i := range j.zero {
		j.zero[i] = j.angle[i] + offset[i]
	}
	return robot.HomingSucceeded
}

// Pause disables the servo torque.
func (j *Joints) Pause() {
	ctx, cancel := context.WithTimeout(context.Background(), busTimeout)
	defer cancel()
	if err := j.bus.DisableAll(ctx); err != nil {
		j.logger.Warnw("disable servos failed", "error", err)
	}
	j.enabled = false
	for i := range j.torque {
		j.torque[i] = 0
	}
}

func (j *Joints) NumBoards() int {
	return 1
}

func (j *Joints) BoardError(int) robot.FaultCode {
	return j.fault
}

// Close disables the servos and closes the bus.
func (j *Joints) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), busTimeout)
	defer cancel()
	return multierr.Combine(
		errors.Wrap(j.bus.DisableAll(ctx), "disable servos"),
		j.bus.Close(),
	)
}
