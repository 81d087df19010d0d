// Package config loads the broker's configuration: global keys at the top
// level of the file (admission throttle parameters, idle timeouts, cookie
// policy, logging, audit) and one entry per authentication scheme under
// "schemes.<name>" (in INI form, [schemes.basic], [schemes.negotiate], ...)
// naming the helper command, dispatch action, and per-scheme timeouts. A
// [WebService] section or a bare [<scheme>] section is not mapped onto
// these fields. The file is read through viper the same way the reference
// stack reads its agent.yaml, with hot-reload wired through
// viper.WatchConfig so scheme settings can be retuned without a restart;
// a reload does not change the admission throttle, which is built once from
// MaxStartups when the broker starts.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/webadmin-gateway/authbroker/internal/logging"
)

var log = logging.L("config")

// SchemeConfig is one schemes.<name> entry: the helper command to spawn, the
// dispatch action that picks a driver, and the scheme's own timeouts.
type SchemeConfig struct {
	Command         string `mapstructure:"command"`
	Action          string `mapstructure:"action"`
	Timeout         int    `mapstructure:"timeout"`
	ResponseTimeout int    `mapstructure:"response-timeout"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
}

// Config is the broker's full configuration: the global top-level keys
// plus a schemes.<name> entry per authentication scheme.
type Config struct {
	// Global keys
	MaxStartups        string `mapstructure:"max_startups"`
	CookieInsecure     bool   `mapstructure:"cookie_insecure"`
	ServiceIdleSeconds int    `mapstructure:"service_idle_seconds"`
	ProcessIdleSeconds int    `mapstructure:"process_idle_seconds"`
	LoopbackSSH        bool   `mapstructure:"loopback_ssh"`

	// Logging
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
	LogFile   string `mapstructure:"log_file"`

	// Audit
	AuditEnabled    bool `mapstructure:"audit_enabled"`
	AuditMaxSizeMB  int  `mapstructure:"audit_max_size_mb"`
	AuditMaxBackups int  `mapstructure:"audit_max_backups"`

	// One entry per authentication scheme, keyed by lowercased scheme name.
	Schemes map[string]SchemeConfig `mapstructure:"schemes"`
}

// MinAuthTimeout and MaxAuthTimeout bound every per-scheme timeout, in
// seconds, per spec.md §4.4.1 step 3.
const (
	MinAuthTimeout = 1
	MaxAuthTimeout = 900
)

const (
	DefaultServiceIdleSeconds = 15
	DefaultProcessIdleSeconds = 90
)

// Default returns the configuration used when no file is present or a key
// is omitted.
func Default() *Config {
	return &Config{
		MaxStartups:        "10:100:10",
		CookieInsecure:     false,
		ServiceIdleSeconds: DefaultServiceIdleSeconds,
		ProcessIdleSeconds: DefaultProcessIdleSeconds,
		LoopbackSSH:        false,

		LogLevel:  "info",
		LogFormat: "text",

		AuditEnabled:    true,
		AuditMaxSizeMB:  50,
		AuditMaxBackups: 3,

		Schemes: map[string]SchemeConfig{
			"basic": {
				Command: "/usr/libexec/cockpit-session",
				Action:  "spawn-login-with-decoded",
				Timeout: 30,
			},
			"negotiate": {
				Command: "/usr/libexec/cockpit-session",
				Action:  "spawn-login-with-header",
				Timeout: 30,
			},
		},
	}
}

// Load reads configuration from cfgFile (or the platform default search
// path, if empty), overlays it onto Default(), and clamps every per-scheme
// timeout into [MinAuthTimeout, MaxAuthTimeout]. A missing file is not an
// error — the defaults apply. A malformed file is.
func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("authbroker")
		v.SetConfigType("ini")
		v.AddConfigPath(configDir())
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("AUTHBROKER")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read %s: %w", cfgFile, err)
		}
	} else if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	clampTimeouts(cfg)
	return cfg, nil
}

// WatchAndReload re-reads the config file on every write and invokes onChange
// with the freshly loaded Config. Each reload yields a new *Config rather
// than mutating the old one, so a login reading the previous snapshot is
// unaffected. The admission throttle is not rebuilt from a reloaded
// MaxStartups.
func WatchAndReload(cfgFile string, onChange func(*Config)) error {
	v := viper.New()
	if cfgFile == "" {
		return fmt.Errorf("config: WatchAndReload requires an explicit file path")
	}
	v.SetConfigFile(cfgFile)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("config: read %s: %w", cfgFile, err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		log.Info("config file changed, reloading", "path", e.Name)
		cfg, err := Load(cfgFile)
		if err != nil {
			log.Warn("config reload failed, keeping previous configuration", "error", err)
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}

// SchemeFor returns the configuration for scheme, or the zero value and
// false if the scheme has no section.
func (c *Config) SchemeFor(scheme string) (SchemeConfig, bool) {
	sc, ok := c.Schemes[strings.ToLower(scheme)]
	return sc, ok
}

func clampTimeouts(cfg *Config) {
	for name, sc := range cfg.Schemes {
		sc.Timeout = clamp(sc.Timeout, MinAuthTimeout, MaxAuthTimeout)
		if sc.ResponseTimeout != 0 {
			sc.ResponseTimeout = clamp(sc.ResponseTimeout, MinAuthTimeout, MaxAuthTimeout)
		}
		cfg.Schemes[name] = sc
	}
}

// clamp bounds v into [min, max]; a non-positive v (parse failure or an
// explicit "0"/"-1") reverts to min, per spec.md §9's open question:
// no UINT_MAX comparison, just a straightforward two-sided clamp.
func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// GetDataDir returns the platform-specific data directory for audit logs.
func GetDataDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "AuthBroker", "data")
	case "darwin":
		return "/Library/Application Support/AuthBroker/data"
	default:
		return "/var/lib/authbroker"
	}
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "AuthBroker")
	case "darwin":
		return "/Library/Application Support/AuthBroker"
	default:
		return "/etc/authbroker"
	}
}
