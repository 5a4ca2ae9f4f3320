package bridge

import "fmt"

// NotFoundError reports a qualified tool name that resolves to no
// hosted capability and no configured remote server.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("unknown server: %s", e.Name)
}

// ConfigError reports a missing credential or environment binding.
// It fails the whole workflow; the loop does not retry past it.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "configuration: " + e.Reason
}
