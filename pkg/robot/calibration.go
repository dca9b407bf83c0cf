package robot

import "math"

// TicksPerRevolution is the resolution of the servo's absolute encoder.
const TicksPerRevolution = 4096

// MotorCalibration holds calibration data for a single servo.
type MotorCalibration struct {
	ID int `yaml:"id"`
	// DriveMode 1 inverts the direction of the joint.
	DriveMode    int `yaml:"drive_mode"`
	HomingOffset int `yaml:"homing_offset"`
	RangeMin     int `yaml:"range_min"`
	RangeMax     int `yaml:"range_max"`
}

// Calibration holds calibration data for all servos, in joint order.
type Calibration []MotorCalibration

// ToRadians converts a raw servo position to a joint angle. Zero is the
// centre of the calibrated range shifted by the homing offset.
func (c MotorCalibration) ToRadians(raw int) float64 {
	ticks := float64(raw - c.center())
	rad := ticks * 2 * math.Pi / TicksPerRevolution
	if c.DriveMode == 1 {
		rad = -rad
	}
	return rad
}

// FromRadians converts a joint angle to a raw servo position, clamped to the
// calibrated range.
func (c MotorCalibration) FromRadians(rad float64) int {
	if c.DriveMode == 1 {
		rad = -rad
	}
	raw := int(math.Round(rad*TicksPerRevolution/(2*math.Pi))) + c.center()
	if raw < c.RangeMin {
		return c.RangeMin
	}
	if raw > c.RangeMax {
		return c.RangeMax
	}
	return raw
}

func (c MotorCalibration) center() int {
	return (c.RangeMin+c.RangeMax)/2 + c.HomingOffset
}

// MotorIDs returns the servo IDs in joint order.
func (c Calibration) MotorIDs() []int {
	ids := make([]int, 0, len(c))
	for _, mc := range c {
		ids = append(ids, mc.ID)
	}
	return ids
}

// ByID returns the joint index and calibration for a given servo ID.
func (c Calibration) ByID(id int) (int, MotorCalibration, bool) {
	for joint, mc := range c {
		if mc.ID == id {
			return joint, mc, true
		}
	}
	return -1, MotorCalibration{}, false
}
