package driver

import (
	"math"

	"go.uber.org/zap"

	"github.com/gwillem/njoint/pkg/control"
	"github.com/gwillem/njoint/pkg/robot"
)

const (
	// IndexSearchStepSize is the distance (rad) the index search target
	// moves per cycle.
	IndexSearchStepSize = 0.0003
	// indexSearchMotorRevolutions bounds the index search distance.
	indexSearchMotorRevolutions = 1.5
	// releaseSteps is the number of zero-torque cycles before homing at
	// the end-stop with ENDSTOP_RELEASE.
	releaseSteps = 1000
)

// referencePhase is the second homing phase, establishing the reference.
type referencePhase int

const (
	referenceNone referencePhase = iota
	referenceIndex
	referenceCurrentPosition
	referenceReleaseCurrentPosition
)

// homingPlan says which phases a homing method runs.
type homingPlan struct {
	endstop   bool
	reference referencePhase
}

var homingPlans = map[robot.HomingMethod]homingPlan{
	robot.HomingNone:            {endstop: false, reference: referenceNone},
	robot.HomingCurrentPosition: {endstop: false, reference: referenceCurrentPosition},
	robot.HomingNextIndex:       {endstop: false, reference: referenceIndex},
	robot.HomingEndstop:         {endstop: true, reference: referenceCurrentPosition},
	robot.HomingEndstopIndex:    {endstop: true, reference: referenceIndex},
	robot.HomingEndstopRelease:  {endstop: true, reference: referenceReleaseCurrentPosition},
}

func planFor(m robot.HomingMethod) (homingPlan, error) {
	plan, ok := homingPlans[m]
	if !ok {
		return homingPlan{}, robot.NewConfigError("homing_method", "unsupported homing method %s", m)
	}
	return plan, nil
}

// IndexSearchDistanceLimit returns the maximum index search distance in
// joint space: 1.5 motor revolutions.
func IndexSearchDistanceLimit(gearRatio float64) float64 {
	return indexSearchMotorRevolutions / gearRatio * 2 * math.Pi
}

// IndexSearchStepSizes returns the per-cycle index search steps. Every
// joint searches away from its end-stop, i.e. opposite to the end-stop
// search torque.
func IndexSearchStepSizes(endstopSearchTorques robot.Vector) robot.Vector {
	steps := robot.Constant(len(endstopSearchTorques), IndexSearchStepSize)
	for i, t := range endstopSearchTorques {
		if t > 0 {
			steps[i] *= -1
		}
	}
	return steps
}

// homing runs the homing procedure of a driver.
type homing struct {
	cycle  *Cycle
	act    robot.JointActuation
	cfg    *robot.Config
	logger *zap.SugaredLogger
}

// run executes the phases of the configured method. It returns false if
// any phase failed. Configuration faults are returned as *robot.ConfigError
// before anything moves.
func (h *homing) run() (bool, error) {
	plan, err := planFor(h.cfg.HomingMethod)
	if err != nil {
		return false, err
	}
	if err := h.check(plan); err != nil {
		return false, err
	}

	h.logger.Infow("start homing", "method", h.cfg.HomingMethod)

	if plan.endstop {
		if err := h.moveUntilBlocking(h.cfg.Calibration.EndstopSearchTorquesNm); err != nil {
			return false, err
		}
		h.logger.Info("reached end stop")
	}

	status := h.reference(plan.reference)
	h.logger.Infow("finished homing", "status", status)
	return status == robot.HomingSucceeded, nil
}

// check validates the configuration for the phases of plan.
func (h *homing) check(plan homingPlan) error {
	searchTorques := h.cfg.Calibration.EndstopSearchTorquesNm
	if plan.endstop {
		if !h.cfg.HasEndstop {
			return robot.NewConfigError("homing_method",
				"%s needs an end-stop but 'has_endstop' is false", h.cfg.HomingMethod)
		}
		if searchTorques.IsZero() {
			return robot.NewConfigError("calibration.endstop_search_torques_Nm",
				"%s searches the end-stop but the search torques are zero", h.cfg.HomingMethod)
		}
	}
	if plan.reference == referenceIndex && searchTorques.IsZero() {
		return robot.NewConfigError("calibration.endstop_search_torques_Nm",
			"%s searches the encoder index but the search torques are zero; their sign "+
				"gives the search direction (opposite to the end-stop search)", h.cfg.HomingMethod)
	}
	return nil
}

// moveUntilBlocking applies torques until all joints stopped moving, but at
// least for control.MinStepsMoveToEndstop cycles. There is no timeout: a
// joint that never stops keeps the search going.
func (h *homing) moveUntilBlocking(torques robot.Vector) error {
	detector, err := control.NewBlockingDetector(
		h.cfg.NJoints, control.MinStepsMoveToEndstop, control.VelocityWindowSize, control.StopVelocity)
	if err != nil {
		return err
	}
	action := robot.TorqueAction(torques)
	for !detector.Blocked() {
		h.cycle.Step(action)
		detector.Add(h.cycle.Observation().Velocity)
	}
	h.logger.Debugw("joints blocked", "steps", detector.Steps())
	return nil
}

func (h *homing) reference(phase referencePhase) robot.HomingStatus {
	offset := h.cfg.HomeOffsetRad
	switch phase {
	case referenceNone:
		return robot.HomingSucceeded

	case referenceIndex:
		return h.act.ExecuteHomingIndexSearch(
			IndexSearchDistanceLimit(h.cfg.Motor.GearRatio),
			offset,
			IndexSearchStepSizes(h.cfg.Calibration.EndstopSearchTorquesNm))

	case referenceCurrentPosition:
		return h.act.ExecuteHomingAtCurrentPosition(offset)

	case referenceReleaseCurrentPosition:
		// stop pressing against the end-stop before taking the position
		zero := robot.ZeroAction(h.cfg.NJoints)
		for i := 0; i < releaseSteps; i++ {
			h.cycle.Step(zero)
		}
		return h.act.ExecuteHomingAtCurrentPosition(offset)
	}
	return robot.HomingNotInitialized
}
