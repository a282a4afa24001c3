package project

import (
	"strings"

	"go.uber.org/multierr"
)

// ConfigurationError collects every problem found while building a
// snapshot. It is fatal for load and checkconfig.
type ConfigurationError struct {
	Problems []error
}

func newConfigurationError(err error) error {
	if err == nil {
		return nil
	}
	return &ConfigurationError{Problems: multierr.Errors(err)}
}

func (e *ConfigurationError) Error() string {
	if len(e.Problems) == 1 {
		return "configuration error: " + e.Problems[0].Error()
	}
	var b strings.Builder
	b.WriteString("configuration errors:")
	for _, p := range e.Problems {
		b.WriteString("\n  - ")
		b.WriteString(p.Error())
	}
	return b.String()
}

func (e *ConfigurationError) Unwrap() []error { return e.Problems }
