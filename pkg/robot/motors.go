// Package robot holds the data model of an N-joint torque-controlled robot:
// joint vectors, actions, observations, configuration and the interface to
// the joint actuation hardware.
package robot

import "fmt"

// JointName returns the display name of joint i.
func (c *Config) JointName(i int) string {
	if i < len(c.JointNames) {
		return c.JointNames[i]
	}
	return fmt.Sprintf("joint_%d", i)
}

// AllJoints returns the display names of all joints in order.
func (c *Config) AllJoints() []string {
	names := make([]string, c.NJoints)
	for i := range names {
		names[i] = c.JointName(i)
	}
	return names
}
