package blmc

import (
	"context"
	"math"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/gwillem/njoint/pkg/robot"
)

const (
	// readyTimeout bounds the wait for the boards after enabling them.
	readyTimeout = 10 * time.Second
	// homingPeriod is the control period of the index search.
	homingPeriod = time.Millisecond
)

// Sleeper paces the index search loop. clock.Clock satisfies it.
type Sleeper interface {
	Sleep(d time.Duration)
}

// JointModules are the joints driven by a set of boards. Joint i is motor
// i%2 of board i/2.
type JointModules struct {
	boards []*Board
	n      int
	logger *zap.SugaredLogger
	sleep  Sleeper

	gearRatio      float64
	torqueConstant float64
	maxCurrent     float64

	zero   robot.Vector
	torque robot.Vector
	kp, kd robot.Vector
}

// Option configures JointModules.
type Option func(*JointModules)

// WithSleeper replaces the wall clock pacing the index search.
func WithSleeper(s Sleeper) Option {
	return func(m *JointModules) { m.sleep = s }
}

// NewJointModules returns n joints on boards. The boards are expected to
// be enabled.
func NewJointModules(boards []*Board, n int, motor robot.MotorParameters, maxCurrent float64,
	logger *zap.SugaredLogger, opts ...Option,
) (*JointModules, error) {
	if len(boards) != (n+1)/2 {
		return nil, errors.Errorf("%d joints need %d boards, got %d", n, (n+1)/2, len(boards))
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	m := &JointModules{
		boards:         boards,
		n:              n,
		logger:         logger,
		sleep:          clock.New(),
		gearRatio:      motor.GearRatio,
		torqueConstant: motor.TorqueConstantNmpA,
		maxCurrent:     maxCurrent,
		zero:           robot.NewVector(n),
		torque:         robot.NewVector(n),
		kp:             robot.NewVector(n),
		kd:             robot.NewVector(n),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Open connects to one board per CAN port of the config, enables them and
// waits until all motors are ready.
func Open(cfg *robot.Config, logger *zap.SugaredLogger, opts ...Option) (*JointModules, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	var boards []*Board
	closeAll := func(err error) error {
		for _, b := range boards {
			err = multierr.Append(err, b.Close())
		}
		return err
	}

	for _, port := range cfg.CANPorts {
		conn, err := Dial(port)
		if err != nil {
			return nil, closeAll(err)
		}
		boards = append(boards, NewBoard(conn, port, logger))
	}

	ctx, cancel := context.WithTimeout(context.Background(), readyTimeout)
	defer cancel()
	for _, b := range boards {
		if err := b.Enable(); err != nil {
			return nil, closeAll(err)
		}
	}
	for _, b := range boards {
		if err := b.WaitUntilReady(ctx); err != nil {
			return nil, closeAll(err)
		}
	}
	logger.Infow("boards ready", "ports", cfg.CANPorts)

	m, err := NewJointModules(boards, cfg.NJoints, cfg.Motor, cfg.MaxCurrentA, logger, opts...)
	if err != nil {
		return nil, closeAll(err)
	}
	return m, nil
}

func (m *JointModules) board(joint int) (*Board, int) {
	return m.boards[joint/2], joint % 2
}

// motorToJoint converts motor revolutions to a joint angle in rad.
func (m *JointModules) motorToJoint(rev float64) float64 {
	return rev * 2 * math.Pi / m.gearRatio
}

func (m *JointModules) rawPositions() robot.Vector {
	out := robot.NewVector(m.n)
	for i := range out {
		b, motor := m.board(i)
		out[i] = m.motorToJoint(b.Measurements().Position[motor])
	}
	return out
}

func (m *JointModules) MeasuredPosition() robot.Vector {
	return m.rawPositions().Sub(m.zero)
}

func (m *JointModules) MeasuredVelocity() robot.Vector {
	out := robot.NewVector(m.n)
	for i := range out {
		b, motor := m.board(i)
		// krpm to motor rad/s
		out[i] = m.motorToJoint(b.Measurements().Velocity[motor] * 1000 / 60)
	}
	return out
}

func (m *JointModules) MeasuredTorque() robot.Vector {
	out := robot.NewVector(m.n)
	for i := range out {
		b, motor := m.board(i)
		out[i] = b.Measurements().Current[motor] * m.torqueConstant * m.gearRatio
	}
	return out
}

// SetAndSendTorques converts the torques to motor currents, saturated at
// the maximum current, and sends them to the boards.
func (m *JointModules) SetAndSendTorques(torques robot.Vector) {
	copy(m.torque, torques)
	for bi, b := range m.boards {
		var currents [2]float64
		for motor := 0; motor < 2; motor++ {
			joint := 2*bi + motor
			if joint >= m.n {
				break
			}
			current := torques[joint] / (m.torqueConstant * m.gearRatio)
			currents[motor] = math.Max(-m.maxCurrent, math.Min(m.maxCurrent, current))
		}
		if err := b.SetCurrents(currents[0], currents[1]); err != nil {
			m.logger.Debugw("send currents failed", "error", err)
		}
	}
}

// SetPositionControlGains sets the gains of the index search controller.
func (m *JointModules) SetPositionControlGains(kp, kd robot.Vector) {
	m.kp = kp.Clone()
	m.kd = kd.Clone()
}

// ExecuteHomingIndexSearch moves every joint with a PD controller along a
// ramp of stepSizes per cycle until its motor reports an encoder index. The
// index angle then reads -offset and the joint is held there until every
// joint found its index. The search fails if a joint moved farther
// than distanceLimit or a board reports an error.
func (m *JointModules) ExecuteHomingIndexSearch(distanceLimit float64, offset, stepSizes robot.Vector) robot.HomingStatus {
	start := m.MeasuredPosition()
	startCount := make([]int, m.n)
	for i := range startCount {
		b, motor := m.board(i)
		startCount[i] = b.Measurements().IndexCount[motor]
	}
	found := make([]bool, m.n)
	zeroTorque := robot.NewVector(m.n)

	for step := 1; ; step++ {
		if m.anyBoardError() {
			m.SetAndSendTorques(zeroTorque)
			return robot.HomingFault
		}

		pos := m.MeasuredPosition()
		vel := m.MeasuredVelocity()
		torques := robot.NewVector(m.n)
		searching := false
		for i := 0; i < m.n; i++ {
			b, motor := m.board(i)
			meas := b.Measurements()
			if !found[i] && meas.IndexCount[motor] != startCount[i] {
				m.zero[i] = m.motorToJoint(meas.IndexPosition[motor]) + offset[i]
				pos[i] = m.motorToJoint(meas.Position[motor]) - m.zero[i]
				found[i] = true
				m.logger.Debugw("found encoder index", "joint", i, "steps", step)
			}
			if found[i] {
				// hold the index until the other joints found theirs
				torques[i] = m.kp[i]*(-offset[i]-pos[i]) - m.kd[i]*vel[i]
				continue
			}

			target := start[i] + float64(step)*stepSizes[i]
			if math.Abs(target-start[i]) > distanceLimit {
				m.SetAndSendTorques(zeroTorque)
				m.logger.Infow("encoder index not found", "joint", i, "distance_limit", distanceLimit)
				return robot.HomingNotFound
			}
			torques[i] = m.kp[i]*(target-pos[i]) - m.kd[i]*vel[i]
			searching = true
		}

		if !searching {
			m.SetAndSendTorques(zeroTorque)
			return robot.HomingSucceeded
		}
		m.SetAndSendTorques(torques)
		m.sleep.Sleep(homingPeriod)
	}
}

// ExecuteHomingAtCurrentPosition makes the current position read -offset.
func (m *JointModules) ExecuteHomingAtCurrentPosition(offset robot.Vector) robot.HomingStatus {
	if m.anyBoardError() {
		return robot.HomingFault
	}
	raw := m.rawPositions()
	for i := range m.zero {
		m.zero[i] = raw[i] + offset[i]
	}
	return robot.HomingSucceeded
}

// Pause sends zero current and disables the motors.
func (m *JointModules) Pause() {
	for i := range m.torque {
		m.torque[i] = 0
	}
	for _, b := range m.boards {
		if err := b.Pause(); err != nil {
			m.logger.Warnw("pause board failed", "board", b.name, "error", err)
		}
	}
}

func (m *JointModules) NumBoards() int {
	return len(m.boards)
}

func (m *JointModules) BoardError(board int) robot.FaultCode {
	s, ok := m.boards[board].Status()
	if !ok {
		return robot.FaultNone
	}
	return s.ErrorCode
}

func (m *JointModules) anyBoardError() bool {
	for i := range m.boards {
		if m.BoardError(i) != robot.FaultNone {
			return true
		}
	}
	return false
}

// Close pauses and closes all boards.
func (m *JointModules) Close() error {
	var err error
	for _, b := range m.boards {
		err = multierr.Append(err, b.Close())
	}
	return err
}
