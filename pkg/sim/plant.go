// Package sim simulates the joints of a torque-controlled robot. The plant
// implements robot.JointActuation and advances by one control period every
// time torques are sent, so tests run at full speed and deterministically.
package sim

import (
	"math"

	"github.com/gwillem/njoint/pkg/robot"
)

// Defaults of the simulated joints.
const (
	DefaultInertia   = 0.0005 // kg·m²
	DefaultFriction  = 0.01   // N·m·s/rad
	DefaultPeriod    = 0.001  // s
	DefaultGearRatio = 9
)

// Plant is a set of independent rigid joints with viscous friction and
// mechanical end-stops.
type Plant struct {
	n        int
	dt       float64
	inertia  float64
	friction float64

	// raw is the position in the plant frame, the measured position is
	// raw - zero.
	raw   robot.Vector
	vel   robot.Vector
	zero  robot.Vector
	lower robot.Vector
	upper robot.Vector

	external    robot.Vector
	torque      robot.Vector
	indexPeriod float64
	indexOffset float64

	faults         []robot.FaultCode
	indexResult    *robot.HomingStatus
	currentResult  *robot.HomingStatus
	positionOffset robot.Vector

	kp, kd robot.Vector

	commands    int
	pauses      int
	paused      bool
	indexSearch int
	sent        []robot.Vector
	record      bool
}

// Option configures a Plant.
type Option func(*Plant)

// WithInertia sets the inertia of every joint.
func WithInertia(kgm2 float64) Option {
	return func(p *Plant) { p.inertia = kgm2 }
}

// WithFriction sets the viscous friction of every joint.
func WithFriction(nms float64) Option {
	return func(p *Plant) { p.friction = nms }
}

// WithEndstops places mechanical end-stops in the plant frame.
func WithEndstops(lower, upper robot.Vector) Option {
	return func(p *Plant) {
		p.lower = lower.Clone()
		p.upper = upper.Clone()
	}
}

// WithStartPosition sets the initial raw position.
func WithStartPosition(pos robot.Vector) Option {
	return func(p *Plant) { p.raw = pos.Clone() }
}

// WithGearRatio places one encoder index per motor revolution.
func WithGearRatio(ratio float64) Option {
	return func(p *Plant) { p.indexPeriod = 2 * math.Pi / ratio }
}

// WithIndexOffset shifts the encoder indices in the plant frame.
func WithIndexOffset(rad float64) Option {
	return func(p *Plant) { p.indexOffset = rad }
}

// WithRecording keeps every sent torque vector, see Sent.
func WithRecording() Option {
	return func(p *Plant) { p.record = true }
}

// NewPlant returns a plant with n joints at rest at raw position zero.
func NewPlant(n int, opts ...Option) *Plant {
	p := &Plant{
		n:              n,
		dt:             DefaultPeriod,
		inertia:        DefaultInertia,
		friction:       DefaultFriction,
		raw:            robot.NewVector(n),
		vel:            robot.NewVector(n),
		zero:           robot.NewVector(n),
		lower:          robot.Constant(n, math.Inf(-1)),
		upper:          robot.Constant(n, math.Inf(1)),
		external:       robot.NewVector(n),
		torque:         robot.NewVector(n),
		indexPeriod:    2 * math.Pi / DefaultGearRatio,
		faults:         make([]robot.FaultCode, (n+1)/2),
		positionOffset: robot.NewVector(n),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// FromConfig builds a plant from the sim section of a robot config.
func FromConfig(cfg *robot.Config) *Plant {
	opts := []Option{WithGearRatio(cfg.Motor.GearRatio)}
	sc := cfg.Sim
	if sc.InertiaKgm2 > 0 {
		opts = append(opts, WithInertia(sc.InertiaKgm2))
	}
	if sc.FrictionNms > 0 {
		opts = append(opts, WithFriction(sc.FrictionNms))
	}
	if len(sc.EndstopLowerRad) == cfg.NJoints && len(sc.EndstopUpperRad) == cfg.NJoints {
		opts = append(opts, WithEndstops(sc.EndstopLowerRad, sc.EndstopUpperRad))
	}
	if len(sc.StartPositionRad) == cfg.NJoints {
		opts = append(opts, WithStartPosition(sc.StartPositionRad))
	}
	if sc.IndexOffsetRad != 0 {
		opts = append(opts, WithIndexOffset(sc.IndexOffsetRad))
	}
	return NewPlant(cfg.NJoints, opts...)
}

func (p *Plant) MeasuredPosition() robot.Vector {
	out := p.raw.Sub(p.zero)
	for i := range out {
		out[i] += p.positionOffset[i]
	}
	return out
}

func (p *Plant) MeasuredVelocity() robot.Vector {
	return p.vel.Clone()
}

func (p *Plant) MeasuredTorque() robot.Vector {
	return p.torque.Clone()
}

// SetAndSendTorques applies the torques for one period.
func (p *Plant) SetAndSendTorques(torques robot.Vector) {
	p.commands++
	p.paused = false
	copy(p.torque, torques)
	if p.record {
		p.sent = append(p.sent, torques.Clone())
	}
	p.step(torques)
}

func (p *Plant) step(torques robot.Vector) {
	for i := 0; i < p.n; i++ {
		acc := (torques[i] + p.external[i] - p.friction*p.vel[i]) / p.inertia
		p.vel[i] += acc * p.dt
		p.raw[i] += p.vel[i] * p.dt

		if p.raw[i] <= p.lower[i] {
			p.raw[i] = p.lower[i]
			p.vel[i] = math.Max(p.vel[i], 0)
		} else if p.raw[i] >= p.upper[i] {
			p.raw[i] = p.upper[i]
			p.vel[i] = math.Min(p.vel[i], 0)
		}
	}
}

// ExecuteHomingIndexSearch moves every joint to the next encoder index in
// the direction of its step size.
func (p *Plant) ExecuteHomingIndexSearch(distanceLimit float64, offset, stepSizes robot.Vector) robot.HomingStatus {
	p.indexSearch++
	if p.indexResult != nil {
		return *p.indexResult
	}
	if p.anyFault() {
		return robot.HomingFault
	}

	found := robot.NewVector(p.n)
	for i := 0; i < p.n; i++ {
		idx := p.nextIndex(p.raw[i], stepSizes[i])
		if math.Abs(idx-p.raw[i]) > distanceLimit || idx < p.lower[i] || idx > p.upper[i] {
			return robot.HomingNotFound
		}
		found[i] = idx
	}
	for i := 0; i < p.n; i++ {
		p.raw[i] = found[i]
		p.vel[i] = 0
		p.zero[i] = found[i] + offset[i]
	}
	return robot.HomingSucceeded
}

func (p *Plant) nextIndex(pos, step float64) float64 {
	k := (pos - p.indexOffset) / p.indexPeriod
	if step < 0 {
		return (math.Ceil(k)-1)*p.indexPeriod + p.indexOffset
	}
	return (math.Floor(k)+1)*p.indexPeriod + p.indexOffset
}

// ExecuteHomingAtCurrentPosition makes the current position read -offset.
func (p *Plant) ExecuteHomingAtCurrentPosition(offset robot.Vector) robot.HomingStatus {
	if p.currentResult != nil {
		return *p.currentResult
	}
	for i := 0; i < p.n; i++ {
		p.zero[i] = p.raw[i] + offset[i]
	}
	return robot.HomingSucceeded
}

// Pause stops the torque output. The joints keep their state.
func (p *Plant) Pause() {
	p.pauses++
	p.paused = true
	for i := range p.torque {
		p.torque[i] = 0
	}
}

func (p *Plant) NumBoards() int {
	return len(p.faults)
}

func (p *Plant) BoardError(board int) robot.FaultCode {
	return p.faults[board]
}

// SetPositionControlGains implements robot.GainSetter.
func (p *Plant) SetPositionControlGains(kp, kd robot.Vector) {
	p.kp = kp.Clone()
	p.kd = kd.Clone()
}

// Close implements io.Closer.
func (p *Plant) Close() error {
	return nil
}

func (p *Plant) anyFault() bool {
	for _, f := range p.faults {
		if f != robot.FaultNone {
			return true
		}
	}
	return false
}

// SetBoardError injects a fault code on a board.
func (p *Plant) SetBoardError(board int, code robot.FaultCode) {
	p.faults[board] = code
}

// SetExternalTorque applies a constant disturbance torque.
func (p *Plant) SetExternalTorque(t robot.Vector) {
	p.external = t.Clone()
}

// SetPositionOffset adds a fixed offset to the measured position, as a
// miscalibrated encoder would.
func (p *Plant) SetPositionOffset(off robot.Vector) {
	p.positionOffset = off.Clone()
}

// SetIndexSearchResult forces the result of the next index searches.
func (p *Plant) SetIndexSearchResult(s robot.HomingStatus) {
	p.indexResult = &s
}

// SetCurrentPositionHomingResult forces the result of homing at the current
// position.
func (p *Plant) SetCurrentPositionHomingResult(s robot.HomingStatus) {
	p.currentResult = &s
}

// SetRawPosition teleports the joints, e.g. beyond a limit.
func (p *Plant) SetRawPosition(pos robot.Vector) {
	copy(p.raw, pos)
	for i := range p.vel {
		p.vel[i] = 0
	}
}

// RawPosition returns the position in the plant frame.
func (p *Plant) RawPosition() robot.Vector {
	return p.raw.Clone()
}

// Commands returns the number of torque commands received.
func (p *Plant) Commands() int { return p.commands }

// Pauses returns the number of Pause calls.
func (p *Plant) Pauses() int { return p.pauses }

// Paused reports whether the last call was Pause.
func (p *Plant) Paused() bool { return p.paused }

// IndexSearches returns the number of index searches requested.
func (p *Plant) IndexSearches() int { return p.indexSearch }

// Gains returns the gains set through SetPositionControlGains.
func (p *Plant) Gains() (kp, kd robot.Vector) { return p.kp, p.kd }

// Sent returns the recorded torque commands (WithRecording).
func (p *Plant) Sent() []robot.Vector { return p.sent }
