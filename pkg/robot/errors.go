package robot

import "fmt"

// ConfigError is a malformed or contradictory configuration. It is detected
// before any motion and the affected procedure refuses to run.
type ConfigError struct {
	Field string
	Msg   string
}

// NewConfigError returns a *ConfigError for field.
func NewConfigError(field, format string, args ...any) *ConfigError {
	return &ConfigError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "invalid config: " + e.Msg
	}
	return fmt.Sprintf("invalid config: %s: %s", e.Field, e.Msg)
}
