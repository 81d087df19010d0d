package config

import (
	"fmt"
	"strings"

	"github.com/webadmin-gateway/authbroker/internal/throttle"
)

// ValidationResult separates fatal configuration errors (which block
// startup) from warnings (logged, then the default takes over — matching
// spec.md §4.6's "illegal values revert all three to defaults with a
// warning").
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

func (r *ValidationResult) HasFatals() bool { return len(r.Fatals) > 0 }

var validActions = map[string]bool{
	"spawn-login-with-header":  true,
	"spawn-login-with-decoded": true,
	"remote-login-ssh":         true,
	"none":                     true,
}

// ValidateTiered checks the config and, per spec.md, treats an invalid
// MaxStartups as a warning-and-revert-to-defaults rather than a fatal — the
// broker must still start with sane admission control. An empty or
// zero-length Schemes map is fatal: a broker with no authentication scheme
// configured cannot do its job.
func (c *Config) ValidateTiered() *ValidationResult {
	result := &ValidationResult{}

	if _, _, _, err := throttle.ParseMaxStartups(c.MaxStartups); err != nil {
		result.Warnings = append(result.Warnings, fmt.Errorf("config: %w, reverting to defaults", err))
		c.MaxStartups = fmt.Sprintf("%d:%d:%d", throttle.DefaultBegin, throttle.DefaultRate, throttle.DefaultMax)
	}

	if len(c.Schemes) == 0 {
		result.Fatals = append(result.Fatals, fmt.Errorf("config: no authentication schemes configured"))
	}

	for name, sc := range c.Schemes {
		if sc.Action != "" && !validActions[sc.Action] {
			result.Warnings = append(result.Warnings, fmt.Errorf(
				"config: scheme %q has unrecognized action %q, dispatcher will fall through to the none driver", name, sc.Action))
		}
	}

	if c.ServiceIdleSeconds <= 0 {
		result.Warnings = append(result.Warnings, fmt.Errorf(
			"config: service_idle_seconds %d is not positive, using default %d", c.ServiceIdleSeconds, DefaultServiceIdleSeconds))
		c.ServiceIdleSeconds = DefaultServiceIdleSeconds
	}
	if c.ProcessIdleSeconds <= 0 {
		result.Warnings = append(result.Warnings, fmt.Errorf(
			"config: process_idle_seconds %d is not positive, using default %d", c.ProcessIdleSeconds, DefaultProcessIdleSeconds))
		c.ProcessIdleSeconds = DefaultProcessIdleSeconds
	}

	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		result.Warnings = append(result.Warnings, fmt.Errorf("config: log_format %q is not valid (use text or json)", c.LogFormat))
		c.LogFormat = "text"
	}

	if c.LogLevel != "" && !validLogLevel(c.LogLevel) {
		result.Warnings = append(result.Warnings, fmt.Errorf("config: log_level %q is not valid", c.LogLevel))
		c.LogLevel = "info"
	}

	return result
}

func validLogLevel(s string) bool {
	switch strings.ToLower(s) {
	case "debug", "info", "warn", "warning", "error":
		return true
	default:
		return false
	}
}
