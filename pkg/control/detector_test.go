package control

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwillem/njoint/pkg/robot"
)

func TestNewBlockingDetector_WindowLargerThanMinSteps(t *testing.T) {
	_, err := NewBlockingDetector(2, 100, 100, StopVelocity)
	require.Error(t, err)

	_, err = NewBlockingDetector(2, 10, 0, StopVelocity)
	require.Error(t, err)
}

func TestBlockingDetector_MinSteps(t *testing.T) {
	d, err := NewBlockingDetector(2, 20, 5, 0.01)
	require.NoError(t, err)

	for i := 0; i < 19; i++ {
		d.Add(robot.Vector{0, 0})
		assert.False(t, d.Blocked(), "blocked after %d steps", d.Steps())
	}
	d.Add(robot.Vector{0, 0})
	assert.True(t, d.Blocked())
}

func TestBlockingDetector_WindowedMean(t *testing.T) {
	d, err := NewBlockingDetector(2, 10, 4, 0.01)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		d.Add(robot.Vector{1, -1})
	}
	assert.False(t, d.Blocked())

	// one joint still moving slowly keeps the group unblocked
	for i := 0; i < 4; i++ {
		d.Add(robot.Vector{0, -0.05})
	}
	assert.False(t, d.Blocked())

	// the old samples leave the window
	for i := 0; i < 3; i++ {
		d.Add(robot.Vector{0, 0})
		assert.False(t, d.Blocked())
	}
	d.Add(robot.Vector{0, 0})
	assert.True(t, d.Blocked())
}

func TestBlockingDetector_NonFiniteVelocity(t *testing.T) {
	d, err := NewBlockingDetector(2, 10, 4, 0.01)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		d.Add(robot.Vector{0, 0})
	}
	require.True(t, d.Blocked())

	d.Add(robot.Vector{0, math.NaN()})
	assert.False(t, d.Blocked())
	d.Add(robot.Vector{math.Inf(-1), 0})
	assert.False(t, d.Blocked())

	// blocked again once the bad samples left the window
	d.Add(robot.Vector{0, 0})
	d.Add(robot.Vector{0, 0})
	assert.False(t, d.Blocked())
	d.Add(robot.Vector{0, 0})
	assert.False(t, d.Blocked())
	d.Add(robot.Vector{0, 0})
	assert.True(t, d.Blocked())
}
