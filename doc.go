// Package njoint drives torque-controlled robots with N joints.
//
// The driver owns the control cycle: every action is checked against the
// joint limits, damped and clamped before the torques are sent to the
// motor boards. It also homes the joints on startup and moves them to a
// rest position on shutdown.
//
// # Installation
//
//	go install github.com/gwillem/njoint/cmd/njoint@latest
//
// # Usage
//
// Write a configuration, then initialize the robot and watch it:
//
//	njoint setup
//	njoint run --goal 0.5,0,-0.5 --goal 0,0,0
//
// # Packages
//
//   - cmd/njoint: CLI with setup, config, run, position and selftest commands
//   - pkg/robot: vectors, actions, configuration and the actuation interface
//   - pkg/control: action processing, minimum-jerk trajectories, blocking detection
//   - pkg/driver: control cycle, homing, initialization and shutdown
//   - pkg/blmc: BLMC motor boards on SocketCAN
//   - pkg/servo: Feetech position servos on a serial bus
//   - pkg/sim: simulated joints
//   - pkg/backend: opens the actuation a configuration names
//   - pkg/demo: steady action loop publishing the robot state
//   - pkg/selftest: reachable and unreachable goal checks
package njoint
