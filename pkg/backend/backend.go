// Package backend opens the joint actuation a config names.
package backend

import (
	"io"

	"go.uber.org/zap"

	"github.com/gwillem/njoint/pkg/blmc"
	"github.com/gwillem/njoint/pkg/robot"
	"github.com/gwillem/njoint/pkg/servo"
	"github.com/gwillem/njoint/pkg/sim"
)

// Actuation is a joint actuation that holds resources.
type Actuation interface {
	robot.JointActuation
	io.Closer
}

var (
	_ Actuation        = (*blmc.JointModules)(nil)
	_ Actuation        = (*servo.Joints)(nil)
	_ Actuation        = (*sim.Plant)(nil)
	_ robot.GainSetter = (*blmc.JointModules)(nil)
	_ robot.GainSetter = (*sim.Plant)(nil)
)

// Open connects to the backend of cfg.
func Open(cfg *robot.Config, logger *zap.SugaredLogger) (Actuation, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	logger = logger.With("backend", cfg.Backend)

	switch cfg.Backend {
	case robot.BackendBLMC:
		m, err := blmc.Open(cfg, logger)
		if err != nil {
			return nil, err
		}
		return m, nil
	case robot.BackendServo:
		j, err := servo.Open(cfg, logger)
		if err != nil {
			return nil, err
		}
		return j, nil
	case robot.BackendSim:
		logger.Info("using simulated joints")
		return sim.FromConfig(cfg), nil
	}
	return nil, robot.NewConfigError("backend", "unknown backend %q", cfg.Backend)
}
