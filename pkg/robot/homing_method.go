package robot

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// HomingMethod selects how the absolute joint reference is established.
type HomingMethod int

const (
	// HomingNone skips homing. The current zero is kept.
	HomingNone HomingMethod = iota
	// HomingCurrentPosition homes at the position the joints are in.
	HomingCurrentPosition
	// HomingNextIndex searches the next encoder index.
	HomingNextIndex
	// HomingEndstop moves to the end-stop and homes there.
	HomingEndstop
	// HomingEndstopIndex moves to the end-stop, then searches the next
	// encoder index.
	HomingEndstopIndex
	// HomingEndstopRelease moves to the end-stop, releases the motors and
	// homes where they came to rest.
	HomingEndstopRelease
)

var homingMethodNames = map[HomingMethod]string{
	HomingNone:            "NONE",
	HomingCurrentPosition: "CURRENT_POSITION",
	HomingNextIndex:       "NEXT_INDEX",
	HomingEndstop:         "ENDSTOP",
	HomingEndstopIndex:    "ENDSTOP_INDEX",
	HomingEndstopRelease:  "ENDSTOP_RELEASE",
}

func (m HomingMethod) String() string {
	if name, ok := homingMethodNames[m]; ok {
		return name
	}
	return fmt.Sprintf("HomingMethod(%d)", int(m))
}

// ParseHomingMethod parses a method name as written in config files.
func ParseHomingMethod(name string) (HomingMethod, error) {
	for m, n := range homingMethodNames {
		if strings.EqualFold(n, name) {
			return m, nil
		}
	}
	return 0, NewConfigError("homing_method", "invalid homing method %q", name)
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (m *HomingMethod) UnmarshalYAML(value *yaml.Node) error {
	var name string
	if err := value.Decode(&name); err != nil {
		return NewConfigError("homing_method", "expected a string")
	}
	parsed, err := ParseHomingMethod(name)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (m HomingMethod) MarshalYAML() (any, error) {
	return m.String(), nil
}
