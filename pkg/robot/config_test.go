package robot

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validConfig = `
n_joints: 3
backend: sim
max_current_A: 2.0
motor:
  torque_constant_NmpA: 0.02
  gear_ratio: 9
has_endstop: true
homing_method: ENDSTOP_RELEASE
move_to_position_tolerance_rad: 0.05
calibration:
  endstop_search_torques_Nm: [-0.2, -0.2, 0.2]
  move_steps: 500
safety_kd: [0.08, 0.08, 0.04]
position_control_gains:
  kp: [10, 10, 9]
  kd: [0.1, 0.3, 0.02]
hard_position_limits_lower: [-0.5, 0, -2.9]
hard_position_limits_upper: [1.0, 1.6, 0]
home_offset_rad: [-0.54, -0.17, 0.0]
initial_position_rad: [0, 0.9, -1.7]
shutdown_trajectory:
  - target_position_rad: [0, 0.9, -1.7]
    move_steps: 1000
  - target_position_rad: [0, 1.3, -2.5]
    move_steps: 500
run_duration_logfiles:
  - /tmp/run_duration.log
`

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(validConfig))
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.NJoints)
	assert.Equal(t, BackendSim, cfg.Backend)
	assert.Equal(t, HomingEndstopRelease, cfg.HomingMethod)
	assert.InDelta(t, 0.36, cfg.MaxTorque(), 1e-12)
	assert.Equal(t, 500, cfg.Calibration.MoveSteps)
	assert.Equal(t, Vector{-0.2, -0.2, 0.2}, cfg.Calibration.EndstopSearchTorquesNm)
	require.Len(t, cfg.ShutdownTrajectory, 2)
	assert.Equal(t, 500, cfg.ShutdownTrajectory[1].MoveSteps)
	assert.Equal(t, []string{"/tmp/run_duration.log"}, cfg.RunDurationLogfiles)
	assert.Empty(t, cfg.Warnings)

	// soft limits are optional and default to no limit
	for i := 0; i < 3; i++ {
		assert.True(t, math.IsInf(cfg.SoftPositionLimitsLower[i], -1))
		assert.True(t, math.IsInf(cfg.SoftPositionLimitsUpper[i], 1))
	}
}

func TestParseConfig_HomingMethodDefault(t *testing.T) {
	tests := []struct {
		hasEndstop string
		expected   HomingMethod
	}{
		{"true", HomingEndstopIndex},
		{"false", HomingNextIndex},
	}

	for _, tt := range tests {
		data := strings.Replace(validConfig, "homing_method: ENDSTOP_RELEASE\n", "", 1)
		data = strings.Replace(data, "has_endstop: true", "has_endstop: "+tt.hasEndstop, 1)

		cfg, err := ParseConfig([]byte(data))
		require.NoError(t, err)
		assert.Equal(t, tt.expected, cfg.HomingMethod)
		require.Len(t, cfg.Warnings, 1)
		assert.Contains(t, cfg.Warnings[0], "homing_method")
	}
}

func TestParseConfig_Errors(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(string) string
		field string
	}{
		{
			name:  "obsolete homing_with_index",
			edit:  func(s string) string { return s + "homing_with_index: true\n" },
			field: "homing_with_index",
		},
		{
			name: "unknown homing method",
			edit: func(s string) string {
				return strings.Replace(s, "ENDSTOP_RELEASE", "SOMEWHERE", 1)
			},
			field: "homing_method",
		},
		{
			name: "wrong vector length",
			edit: func(s string) string {
				return strings.Replace(s, "safety_kd: [0.08, 0.08, 0.04]", "safety_kd: [0.08]", 1)
			},
			field: "safety_kd",
		},
		{
			name: "negative calibration move steps",
			edit: func(s string) string {
				return strings.Replace(s, "move_steps: 500", "move_steps: -1", 1)
			},
			field: "calibration.move_steps",
		},
		{
			name: "non-positive shutdown move steps",
			edit: func(s string) string {
				return strings.Replace(s, "move_steps: 1000", "move_steps: 0", 1)
			},
			field: "shutdown_trajectory[0].move_steps",
		},
		{
			name: "missing CAN ports for blmc",
			edit: func(s string) string {
				return strings.Replace(s, "backend: sim", "backend: blmc", 1)
			},
			field: "can_ports",
		},
		{
			name: "unknown backend",
			edit: func(s string) string {
				return strings.Replace(s, "backend: sim", "backend: ethercat", 1)
			},
			field: "backend",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.edit(validConfig)))
			require.Error(t, err)

			var cerr *ConfigError
			require.True(t, errors.As(err, &cerr), "expected *ConfigError, got %T: %v", err, err)
			assert.Equal(t, tt.field, cerr.Field)
		})
	}
}

func TestConfig_SaveAndLoad(t *testing.T) {
	cfg, err := ParseConfig([]byte(validConfig))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "robot.yml")
	require.NoError(t, cfg.SaveTo(path))

	loaded, err := LoadConfigFrom(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.HomingMethod, loaded.HomingMethod)
	assert.Equal(t, cfg.InitialPositionRad, loaded.InitialPositionRad)
	assert.Equal(t, cfg.ShutdownTrajectory, loaded.ShutdownTrajectory)
	assert.True(t, math.IsInf(loaded.SoftPositionLimitsUpper[0], 1))
}

func TestDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "robot.yml")
	require.NoError(t, DefaultConfig(4, BackendSim).SaveTo(path))

	loaded, err := LoadConfigFrom(path)
	require.NoError(t, err)
	assert.Equal(t, 4, loaded.NJoints)
	assert.Equal(t, HomingNone, loaded.HomingMethod)
	assert.Len(t, loaded.SoftPositionLimitsLower, 4)
	assert.Empty(t, loaded.Warnings)

	// the servo backend needs a port and a calibration
	require.NoError(t, DefaultConfig(2, BackendServo).SaveTo(path))
	_, err = LoadConfigFrom(path)
	var cerr *ConfigError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "servo.port", cerr.Field)
}

func TestLoadConfigFrom_Missing(t *testing.T) {
	_, err := LoadConfigFrom(filepath.Join(t.TempDir(), "nope.yml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestConfig_IsWithinHardPositionLimits(t *testing.T) {
	cfg, err := ParseConfig([]byte(validConfig))
	require.NoError(t, err)

	assert.True(t, cfg.IsWithinHardPositionLimits(Vector{0, 0.9, -1.7}))
	assert.True(t, cfg.IsWithinHardPositionLimits(Vector{1.0, 0, -2.9}))
	assert.False(t, cfg.IsWithinHardPositionLimits(Vector{1.01, 0.9, -1.7}))
	assert.False(t, cfg.IsWithinHardPositionLimits(Vector{0, 0.9, 0.1}))
}

func TestConfig_JointNames(t *testing.T) {
	cfg := &Config{NJoints: 3}
	assert.Equal(t, []string{"joint_0", "joint_1", "joint_2"}, cfg.AllJoints())

	cfg.JointNames = []string{"upper", "middle", "lower"}
	assert.Equal(t, "middle", cfg.JointName(1))
	assert.Equal(t, cfg.JointNames, cfg.AllJoints())
}

func TestConfig_Describe(t *testing.T) {
	cfg, err := ParseConfig([]byte(validConfig))
	require.NoError(t, err)

	rows := make(map[string]string)
	for _, kv := range cfg.Describe() {
		rows[kv[0]] = kv[1]
	}
	assert.Equal(t, "ENDSTOP_RELEASE", rows["homing_method"])
	assert.Equal(t, "0.36", rows["max_torque_Nm"])
	assert.Equal(t, "-0.540 -0.170  0.000", rows["home_offset_rad"])
	assert.Equal(t, " 0.000  1.300 -2.500 in 500 steps", rows["shutdown_trajectory[1]"])
	assert.Equal(t, "/tmp/run_duration.log", rows["run_duration_logfiles"])
}

func TestConfig_ValidateMoveSteps(t *testing.T) {
	cfg := DefaultConfig(2, BackendSim)
	cfg.SoftPositionLimitsLower = Constant(2, math.Inf(-1))
	cfg.SoftPositionLimitsUpper = Constant(2, math.Inf(1))
	require.NoError(t, cfg.Validate())

	cfg.Calibration.MoveSteps = 0
	var cerr *ConfigError
	require.True(t, errors.As(cfg.Validate(), &cerr))
	assert.Equal(t, "calibration.move_steps", cerr.Field)
	assert.Contains(t, cerr.Error(), "must be positive")
}
