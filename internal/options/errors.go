package options

import "fmt"

// ConfigurationError is returned when adapter configuration is malformed.
// Compilation never starts once one is reported.
type ConfigurationError struct {
	Key     string
	Message string
	Err     error
}

func (e *ConfigurationError) Error() string {
	msg := e.Message
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	if e.Key == "" {
		return "invalid configuration: " + msg
	}
	return fmt.Sprintf("invalid configuration for %q: %s", e.Key, msg)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// NewConfigurationError creates a configuration error for key.
func NewConfigurationError(key, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{
		Key:     key,
		Message: fmt.Sprintf(format, args...),
	}
}
