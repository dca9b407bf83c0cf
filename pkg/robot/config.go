package robot

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const DefaultConfigFile = "njoint.yml"

// Backend names.
const (
	BackendBLMC  = "blmc"
	BackendServo = "servo"
	BackendSim   = "sim"
)

const defaultMoveSteps = 1000

// Config holds the robot configuration.
type Config struct {
	NJoints    int      `yaml:"n_joints"`
	JointNames []string `yaml:"joint_names,omitempty"`
	Backend    string   `yaml:"backend"`

	// CANPorts lists one CAN interface per motor board (blmc backend).
	CANPorts []string `yaml:"can_ports,omitempty"`

	MaxCurrentA float64         `yaml:"max_current_A"`
	Motor       MotorParameters `yaml:"motor"`

	HasEndstop   bool         `yaml:"has_endstop"`
	HomingMethod HomingMethod `yaml:"homing_method"`

	MoveToPositionToleranceRad float64               `yaml:"move_to_position_tolerance_rad"`
	Calibration                CalibrationParameters `yaml:"calibration"`

	SafetyKd             Vector `yaml:"safety_kd"`
	PositionControlGains Gains  `yaml:"position_control_gains"`

	// Hard limits are the mechanical range. Leaving them is a fault.
	HardPositionLimitsLower Vector `yaml:"hard_position_limits_lower"`
	HardPositionLimitsUpper Vector `yaml:"hard_position_limits_upper"`
	// Soft limits are enforced once the robot is initialized.
	SoftPositionLimitsLower Vector `yaml:"soft_position_limits_lower,omitempty"`
	SoftPositionLimitsUpper Vector `yaml:"soft_position_limits_upper,omitempty"`

	HomeOffsetRad      Vector `yaml:"home_offset_rad"`
	InitialPositionRad Vector `yaml:"initial_position_rad"`

	ShutdownTrajectory  []TrajectoryStep `yaml:"shutdown_trajectory,omitempty"`
	RunDurationLogfiles []string         `yaml:"run_duration_logfiles,omitempty"`

	Servo    ServoConfig    `yaml:"servo,omitempty"`
	Sim      SimConfig      `yaml:"sim,omitempty"`
	SelfTest SelfTestConfig `yaml:"self_test,omitempty"`

	// Warnings collects non-fatal remarks from loading.
	Warnings []string `yaml:"-"`
}

// MotorParameters describe the motors behind every joint.
type MotorParameters struct {
	TorqueConstantNmpA float64 `yaml:"torque_constant_NmpA"`
	GearRatio          float64 `yaml:"gear_ratio"`
}

// CalibrationParameters configure homing and the move to the initial pose.
type CalibrationParameters struct {
	// EndstopSearchTorquesNm is applied while searching the end-stops. Its
	// sign also gives the index search direction (opposite).
	EndstopSearchTorquesNm Vector `yaml:"endstop_search_torques_Nm"`
	MoveSteps              int    `yaml:"move_steps"`
}

// Gains of the joint PD controller.
type Gains struct {
	Kp Vector `yaml:"kp"`
	Kd Vector `yaml:"kd"`
}

// TrajectoryStep is one waypoint of the shutdown trajectory.
type TrajectoryStep struct {
	TargetPositionRad Vector `yaml:"target_position_rad"`
	MoveSteps         int    `yaml:"move_steps"`
}

// ServoConfig configures the Feetech servo backend.
type ServoConfig struct {
	Port               string      `yaml:"port,omitempty"`
	BaudRate           int         `yaml:"baud_rate,omitempty"`
	ComplianceRadPerNm float64     `yaml:"compliance_rad_per_Nm,omitempty"`
	Calibration        Calibration `yaml:"calibration,omitempty"`
}

// SimConfig configures the simulated plant.
type SimConfig struct {
	InertiaKgm2      float64 `yaml:"inertia_kgm2,omitempty"`
	FrictionNms      float64 `yaml:"friction_Nms,omitempty"`
	EndstopLowerRad  Vector  `yaml:"endstop_lower_rad,omitempty"`
	EndstopUpperRad  Vector  `yaml:"endstop_upper_rad,omitempty"`
	StartPositionRad Vector  `yaml:"start_position_rad,omitempty"`
	IndexOffsetRad   float64 `yaml:"index_offset_rad,omitempty"`
}

// SelfTestConfig lists the goals checked by the self test.
type SelfTestConfig struct {
	PositionTolerance float64  `yaml:"position_tolerance,omitempty"`
	HoldSteps         int      `yaml:"hold_steps,omitempty"`
	ReachableGoals    []Vector `yaml:"reachable_goals,omitempty"`
	UnreachableGoals  []Vector `yaml:"unreachable_goals,omitempty"`
}

// DefaultConfig returns a starting configuration for n joints on backend:
// moderate gains, no homing and limits of ±π. Soft limits are left unset
// and get their defaults when the file is loaded.
func DefaultConfig(n int, backend string) *Config {
	return &Config{
		NJoints:                    n,
		Backend:                    backend,
		MaxCurrentA:                2,
		Motor:                      MotorParameters{TorqueConstantNmpA: 0.02, GearRatio: 9},
		HomingMethod:               HomingNone,
		MoveToPositionToleranceRad: 0.1,
		Calibration: CalibrationParameters{
			EndstopSearchTorquesNm: NewVector(n),
			MoveSteps:              defaultMoveSteps,
		},
		SafetyKd:                NewVector(n),
		PositionControlGains:    Gains{Kp: Constant(n, 5), Kd: Constant(n, 0.05)},
		HardPositionLimitsLower: Constant(n, -math.Pi),
		HardPositionLimitsUpper: Constant(n, math.Pi),
		HomeOffsetRad:           NewVector(n),
		InitialPositionRad:      NewVector(n),
	}
}

// MaxTorque returns the torque limit per joint in N·m.
func (c *Config) MaxTorque() float64 {
	return c.MaxCurrentA * c.Motor.TorqueConstantNmpA * c.Motor.GearRatio
}

// IsWithinHardPositionLimits reports whether position lies within the hard
// limits.
func (c *Config) IsWithinHardPositionLimits(position Vector) bool {
	return position.Within(c.HardPositionLimitsLower, c.HardPositionLimitsUpper)
}

// NumBoards returns how many two-motor boards drive the joints.
func (c *Config) NumBoards() int {
	return (c.NJoints + 1) / 2
}

// LoadConfig loads configuration from the default config file
func LoadConfig() (*Config, error) {
	return LoadConfigFrom(DefaultConfigFile)
}

// LoadConfigFrom loads configuration from a specific file
func LoadConfigFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}
	return ParseConfig(data)
}

// ParseConfig parses and validates a YAML configuration. Semantic problems
// are reported as *ConfigError.
func ParseConfig(data []byte) (*Config, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, NewConfigError("", "parse YAML: %v", err)
	}
	if len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, NewConfigError("", "expected a mapping at the top level")
	}
	keys := topLevelKeys(doc.Content[0])
	if keys["homing_with_index"] {
		return nil, NewConfigError("homing_with_index",
			"option is obsolete, use 'homing_method' instead")
	}

	cfg := Config{Backend: BackendBLMC}
	if err := doc.Content[0].Decode(&cfg); err != nil {
		var cerr *ConfigError
		if errors.As(err, &cerr) {
			return nil, cerr
		}
		return nil, NewConfigError("", "%v", err)
	}

	if !keys["homing_method"] {
		if cfg.HasEndstop {
			cfg.HomingMethod = HomingEndstopIndex
		} else {
			cfg.HomingMethod = HomingNextIndex
		}
		cfg.Warnings = append(cfg.Warnings, fmt.Sprintf(
			"'homing_method' is not specified, using backward-compatible default %s. "+
				"Explicitly specify a homing method to silence this warning.", cfg.HomingMethod))
	}

	if err := cfg.setDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func topLevelKeys(m *yaml.Node) map[string]bool {
	keys := make(map[string]bool, len(m.Content)/2)
	for i := 0; i+1 < len(m.Content); i += 2 {
		keys[m.Content[i].Value] = true
	}
	return keys
}

func (c *Config) setDefaults() error {
	if c.NJoints <= 0 {
		return NewConfigError("n_joints", "must be positive, got %d", c.NJoints)
	}
	n := c.NJoints
	if c.SoftPositionLimitsLower == nil {
		c.SoftPositionLimitsLower = Constant(n, math.Inf(-1))
	}
	if c.SoftPositionLimitsUpper == nil {
		c.SoftPositionLimitsUpper = Constant(n, math.Inf(1))
	}
	if c.PositionControlGains.Kp == nil {
		c.PositionControlGains.Kp = NewVector(n)
	}
	if c.PositionControlGains.Kd == nil {
		c.PositionControlGains.Kd = NewVector(n)
	}
	if c.Calibration.EndstopSearchTorquesNm == nil {
		c.Calibration.EndstopSearchTorquesNm = NewVector(n)
	}
	if c.Calibration.MoveSteps == 0 {
		c.Calibration.MoveSteps = defaultMoveSteps
	}
	if c.Backend == "" {
		c.Backend = BackendBLMC
	}
	return nil
}

// Validate checks vector sizes and value ranges. It does not check the
// combination of homing method and end-stop, that is reported by homing.
func (c *Config) Validate() error {
	n := c.NJoints
	vectors := []struct {
		name string
		v    Vector
	}{
		{"safety_kd", c.SafetyKd},
		{"position_control_gains.kp", c.PositionControlGains.Kp},
		{"position_control_gains.kd", c.PositionControlGains.Kd},
		{"hard_position_limits_lower", c.HardPositionLimitsLower},
		{"hard_position_limits_upper", c.HardPositionLimitsUpper},
		{"soft_position_limits_lower", c.SoftPositionLimitsLower},
		{"soft_position_limits_upper", c.SoftPositionLimitsUpper},
		{"home_offset_rad", c.HomeOffsetRad},
		{"initial_position_rad", c.InitialPositionRad},
		{"calibration.endstop_search_torques_Nm", c.Calibration.EndstopSearchTorquesNm},
	}
	for _, vec := range vectors {
		if len(vec.v) != n {
			return NewConfigError(vec.name, "expected %d values, got %d", n, len(vec.v))
		}
	}
	if c.JointNames != nil && len(c.JointNames) != n {
		return NewConfigError("joint_names", "expected %d names, got %d", n, len(c.JointNames))
	}
	if c.Calibration.MoveSteps <= 0 {
		return NewConfigError("calibration.move_steps", "must be positive")
	}
	if c.MoveToPositionToleranceRad <= 0 {
		return NewConfigError("move_to_position_tolerance_rad", "must be positive")
	}
	if c.MaxCurrentA < 0 {
		return NewConfigError("max_current_A", "must not be negative")
	}
	if c.Motor.GearRatio <= 0 {
		return NewConfigError("motor.gear_ratio", "must be positive")
	}
	for i, step := range c.ShutdownTrajectory {
		field := fmt.Sprintf("shutdown_trajectory[%d]", i)
		if len(step.TargetPositionRad) != n {
			return NewConfigError(field+".target_position_rad",
				"expected %d values, got %d", n, len(step.TargetPositionRad))
		}
		if step.MoveSteps <= 0 {
			return NewConfigError(field+".move_steps", "must be positive")
		}
	}

	switch c.Backend {
	case BackendBLMC:
		if len(c.CANPorts) != c.NumBoards() {
			return NewConfigError("can_ports", "expected %d ports, got %d", c.NumBoards(), len(c.CANPorts))
		}
	case BackendServo:
		if c.Servo.Port == "" {
			return NewConfigError("servo.port", "required for the servo backend")
		}
		if len(c.Servo.Calibration) != n {
			return NewConfigError("servo.calibration", "expected %d motors, got %d", n, len(c.Servo.Calibration))
		}
	case BackendSim:
	default:
		return NewConfigError("backend", "unknown backend %q", c.Backend)
	}
	return nil
}

// Save saves configuration to the default config file
func (c *Config) Save() error {
	return c.SaveTo(DefaultConfigFile)
}

// SaveTo saves configuration to a specific file
func (c *Config) SaveTo(path string) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return errors.Wrap(err, "encode config")
	}
	if err := enc.Close(); err != nil {
		return errors.Wrap(err, "encode config")
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}

// ConfigExists returns true if the default config file exists
func ConfigExists() bool {
	_, err := os.Stat(DefaultConfigFile)
	return err == nil
}

// Describe returns the configuration as label/value rows for display.
func (c *Config) Describe() [][2]string {
	rows := [][2]string{
		{"backend", c.Backend},
		{"n_joints", fmt.Sprint(c.NJoints)},
		{"can_ports", strings.Join(c.CANPorts, " ")},
		{"max_current_A", fmt.Sprint(c.MaxCurrentA)},
		{"max_torque_Nm", fmt.Sprintf("%.4g", c.MaxTorque())},
		{"has_endstop", fmt.Sprint(c.HasEndstop)},
		{"homing_method", c.HomingMethod.String()},
		{"move_to_position_tolerance_rad", fmt.Sprint(c.MoveToPositionToleranceRad)},
		{"calibration.endstop_search_torques_Nm", c.Calibration.EndstopSearchTorquesNm.String()},
		{"calibration.move_steps", fmt.Sprint(c.Calibration.MoveSteps)},
		{"safety_kd", c.SafetyKd.String()},
		{"position_control_gains.kp", c.PositionControlGains.Kp.String()},
		{"position_control_gains.kd", c.PositionControlGains.Kd.String()},
		{"hard_position_limits_lower", c.HardPositionLimitsLower.String()},
		{"hard_position_limits_upper", c.HardPositionLimitsUpper.String()},
		{"soft_position_limits_lower", c.SoftPositionLimitsLower.String()},
		{"soft_position_limits_upper", c.SoftPositionLimitsUpper.String()},
		{"home_offset_rad", c.HomeOffsetRad.String()},
		{"initial_position_rad", c.InitialPositionRad.String()},
	}
	if len(c.ShutdownTrajectory) == 0 {
		rows = append(rows, [2]string{"shutdown_trajectory", "None"})
	}
	for i, step := range c.ShutdownTrajectory {
		rows = append(rows, [2]string{
			fmt.Sprintf("shutdown_trajectory[%d]", i),
			fmt.Sprintf("%s in %d steps", step.TargetPositionRad.String(), step.MoveSteps),
		})
	}
	logs := "None"
	if len(c.RunDurationLogfiles) > 0 {
		logs = strings.Join(c.RunDurationLogfiles, " ")
	}
	rows = append(rows, [2]string{"run_duration_logfiles", logs})
	return rows
}
