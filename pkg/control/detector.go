package control

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"

	"github.com/gwillem/njoint/pkg/robot"
)

// Defaults of the end-stop search.
const (
	// MinStepsMoveToEndstop is the minimum number of cycles of the search.
	MinStepsMoveToEndstop = 1000
	// VelocityWindowSize is the number of cycles the velocity is averaged
	// over.
	VelocityWindowSize = 100
	// StopVelocity is the mean absolute velocity (rad/s) below which a
	// joint counts as blocked.
	StopVelocity = 0.01
)

// BlockingDetector tells when all joints have stopped moving, based on the
// mean absolute velocity over a sliding window.
type BlockingDetector struct {
	minSteps     int
	stopVelocity float64
	window       []robot.Vector
	sum          robot.Vector
	invalid      []int // non-finite samples per joint in the window
	steps        int
}

// NewBlockingDetector returns a detector for n joints. minSteps has to be
// larger than window, otherwise the mean would be taken over a partially
// filled window.
func NewBlockingDetector(n, minSteps, window int, stopVelocity float64) (*BlockingDetector, error) {
	if window <= 0 {
		return nil, errors.Errorf("velocity window must be positive, got %d", window)
	}
	if minSteps <= window {
		return nil, errors.Errorf("min steps (%d) must be larger than the velocity window (%d)", minSteps, window)
	}
	return &BlockingDetector{
		minSteps:     minSteps,
		stopVelocity: stopVelocity,
		window:       make([]robot.Vector, window),
		sum:          robot.NewVector(n),
		invalid:      make([]int, n),
	}, nil
}

// Add records the measured velocity of one cycle. A NaN or infinite
// component counts as moving for as long as it is in the window.
func (d *BlockingDetector) Add(velocity robot.Vector) {
	idx := d.steps % len(d.window)
	if d.steps >= len(d.window) {
		d.accumulate(d.window[idx], -1)
	}
	abs := velocity.Abs()
	d.window[idx] = abs
	d.accumulate(abs, 1)
	d.steps++
}

func (d *BlockingDetector) accumulate(v robot.Vector, sign int) {
	for i, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			d.invalid[i] += sign
			continue
		}
		d.sum[i] += float64(sign) * x
	}
}

// Blocked reports whether the minimum number of cycles has passed and the
// mean velocity of every joint is at most the stop velocity.
func (d *BlockingDetector) Blocked() bool {
	if d.steps < d.minSteps {
		return false
	}
	for _, n := range d.invalid {
		if n > 0 {
			return false
		}
	}
	return floats.Max(d.sum)/float64(len(d.window)) <= d.stopVelocity
}

// Steps returns the number of recorded cycles.
func (d *BlockingDetector) Steps() int {
	return d.steps
}
