package backend

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/gwillem/njoint/pkg/robot"
	"github.com/gwillem/njoint/pkg/sim"
)

func TestOpen_Sim(t *testing.T) {
	cfg := &robot.Config{
		NJoints: 3,
		Backend: robot.BackendSim,
		Motor:   robot.MotorParameters{GearRatio: 9},
	}
	act, err := Open(cfg, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	defer act.Close()

	assert.IsType(t, &sim.Plant{}, act)
	assert.Equal(t, 2, act.NumBoards())
	assert.Len(t, act.MeasuredPosition(), 3)
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open(&robot.Config{NJoints: 1, Backend: "ethercat"}, nil)
	var cerr *robot.ConfigError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "backend", cerr.Field)
}

func TestOpen_ServoPortMissing(t *testing.T) {
	cfg := &robot.Config{
		NJoints: 1,
		Backend: robot.BackendServo,
		Servo: robot.ServoConfig{
			Port:        "/dev/does-not-exist",
			Calibration: robot.Calibration{{ID: 1, RangeMax: 4096}},
		},
	}
	act, err := Open(cfg, nil)
	assert.Error(t, err)
	assert.Nil(t, act)
}
