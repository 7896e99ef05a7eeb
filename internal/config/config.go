// Package config loads vrepper settings from a YAML file, VREPPER_*
// environment variables and defaults, in increasing order of precedence
// below command line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/psantana5/vrepper/internal/driver"
	"github.com/psantana5/vrepper/internal/launcher"
	"github.com/psantana5/vrepper/internal/logging"
	"github.com/psantana5/vrepper/internal/recorder"
	"github.com/psantana5/vrepper/internal/session"
)

// EnvPrefix is the prefix of environment overrides, e.g.
// VREPPER_SIMULATOR_PORT=20001.
const EnvPrefix = "VREPPER"

var ErrInvalid = errors.New("config: invalid")

// Config is the full settings tree.
type Config struct {
	Simulator SimulatorConfig `mapstructure:"simulator" yaml:"simulator"`
	Driver    DriverConfig    `mapstructure:"driver" yaml:"driver"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	Tracing   TracingConfig   `mapstructure:"tracing" yaml:"tracing"`
	Recorder  recorder.Config `mapstructure:"recorder" yaml:"recorder"`
}

// SimulatorConfig covers process launch and the connection handshake.
type SimulatorConfig struct {
	Executable    string   `mapstructure:"executable" yaml:"executable"`
	Host          string   `mapstructure:"host" yaml:"host"`
	Port          int      `mapstructure:"port" yaml:"port"`
	Debug         bool     `mapstructure:"debug" yaml:"debug"`
	PreEnableSync bool     `mapstructure:"pre_enable_sync" yaml:"pre_enable_sync"`
	Headless      bool     `mapstructure:"headless" yaml:"headless"`
	ExtraArgs     []string `mapstructure:"extra_args" yaml:"extra_args"`
	StatusMessage string   `mapstructure:"status_message" yaml:"status_message"`
	RetryCap      int      `mapstructure:"retry_cap" yaml:"retry_cap"`

	AttemptTimeout  time.Duration `mapstructure:"attempt_timeout" yaml:"-"`
	CommThreadCycle time.Duration `mapstructure:"comm_thread_cycle" yaml:"-"`
}

// MarshalYAML writes durations as "1s" rather than nanoseconds.
func (s SimulatorConfig) MarshalYAML() (interface{}, error) {
	type plain SimulatorConfig
	return struct {
		plain           `yaml:",inline"`
		AttemptTimeout  string `yaml:"attempt_timeout"`
		CommThreadCycle string `yaml:"comm_thread_cycle"`
	}{plain(s), s.AttemptTimeout.String(), s.CommThreadCycle.String()}, nil
}

// DriverConfig is the stepping run of `vrepper run`.
type DriverConfig struct {
	Scene        string        `mapstructure:"scene" yaml:"scene"`
	Objects      []string      `mapstructure:"objects" yaml:"objects"`
	Steps        int           `mapstructure:"steps" yaml:"steps"`
	StepInterval time.Duration `mapstructure:"step_interval" yaml:"-"`
	// Linger keeps the simulator up after the run, for a look at the scene.
	Linger time.Duration `mapstructure:"linger" yaml:"-"`
}

// MarshalYAML writes durations as strings.
func (d DriverConfig) MarshalYAML() (interface{}, error) {
	type plain DriverConfig
	return struct {
		plain        `yaml:",inline"`
		StepInterval string `yaml:"step_interval"`
		Linger       string `yaml:"linger"`
	}{plain(d), d.StepInterval.String(), d.Linger.String()}, nil
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"` // text or json
	File   string `mapstructure:"file" yaml:"file"`
}

// MetricsConfig enables the status server when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	Endpoint    string `mapstructure:"endpoint" yaml:"endpoint"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
}

// Default returns the built-in settings.
func Default() *Config {
	sess := session.DefaultConfig()
	drv := driver.DefaultConfig()
	return &Config{
		Simulator: SimulatorConfig{
			Host:            sess.Host,
			PreEnableSync:   sess.Launch.PreEnableSync,
			StatusMessage:   sess.StatusMessage,
			RetryCap:        sess.RetryCap,
			AttemptTimeout:  sess.AttemptTimeout,
			CommThreadCycle: sess.CommThreadCycle,
			ExtraArgs:       []string{},
		},
		Driver: DriverConfig{
			Scene:        drv.Scene,
			Objects:      drv.Objects,
			Steps:        drv.Steps,
			StepInterval: drv.StepInterval,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Tracing: TracingConfig{
			Endpoint:    "localhost:4318",
			ServiceName: "vrepper",
		},
		Recorder: recorder.Config{
			Type: "sqlite",
		},
	}
}

// SetDefaults registers every key of Default on v so environment
// variables are honoured for keys absent from the file.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("simulator.executable", d.Simulator.Executable)
	v.SetDefault("simulator.host", d.Simulator.Host)
	v.SetDefault("simulator.port", d.Simulator.Port)
	v.SetDefault("simulator.debug", d.Simulator.Debug)
	v.SetDefault("simulator.pre_enable_sync", d.Simulator.PreEnableSync)
	v.SetDefault("simulator.headless", d.Simulator.Headless)
	v.SetDefault("simulator.extra_args", d.Simulator.ExtraArgs)
	v.SetDefault("simulator.status_message", d.Simulator.StatusMessage)
	v.SetDefault("simulator.retry_cap", d.Simulator.RetryCap)
	v.SetDefault("simulator.attempt_timeout", d.Simulator.AttemptTimeout)
	v.SetDefault("simulator.comm_thread_cycle", d.Simulator.CommThreadCycle)

	v.SetDefault("driver.scene", d.Driver.Scene)
	v.SetDefault("driver.objects", d.Driver.Objects)
	v.SetDefault("driver.steps", d.Driver.Steps)
	v.SetDefault("driver.step_interval", d.Driver.StepInterval)
	v.SetDefault("driver.linger", d.Driver.Linger)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", d.Log.File)

	v.SetDefault("metrics.addr", d.Metrics.Addr)

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.endpoint", d.Tracing.Endpoint)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)

	v.SetDefault("recorder.type", d.Recorder.Type)
	v.SetDefault("recorder.dsn", d.Recorder.DSN)
}

// DefaultPath is $HOME/.vrepper/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("finding home directory: %w", err)
	}
	return filepath.Join(home, ".vrepper", "config.yaml"), nil
}

// Load reads path into v, or the default path when path is empty. A
// missing default file is not an error; a missing explicit one is.
func Load(v *viper.Viper, path string) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else if def, err := DefaultPath(); err == nil {
		v.SetConfigFile(def)
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, os.ErrNotExist) {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config %s: %w", def, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and enums.
func (c *Config) Validate() error {
	var errs []error
	if c.Simulator.Port < 0 || c.Simulator.Port > 65535 {
		errs = append(errs, fmt.Errorf("simulator.port %d out of range", c.Simulator.Port))
	}
	if c.Simulator.RetryCap < 0 {
		errs = append(errs, fmt.Errorf("simulator.retry_cap must not be negative"))
	}
	if c.Simulator.AttemptTimeout <= 0 {
		errs = append(errs, fmt.Errorf("simulator.attempt_timeout must be positive"))
	}
	if c.Driver.Steps <= 0 {
		errs = append(errs, fmt.Errorf("driver.steps must be positive"))
	}
	if c.Driver.StepInterval < 0 {
		errs = append(errs, fmt.Errorf("driver.step_interval must not be negative"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not text or json", c.Log.Format))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error", "fatal":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is unknown", c.Log.Level))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// Session converts the simulator section.
func (c *Config) Session() session.Config {
	s := c.Simulator
	return session.Config{
		Host:       s.Host,
		Port:       s.Port,
		Executable: s.Executable,
		Launch: launcher.Options{
			Debug:         s.Debug,
			PreEnableSync: s.PreEnableSync,
			Headless:      s.Headless,
			Extra:         s.ExtraArgs,
		},
		RetryCap:        s.RetryCap,
		AttemptTimeout:  s.AttemptTimeout,
		CommThreadCycle: s.CommThreadCycle,
		StatusMessage:   s.StatusMessage,
	}
}

// DriverRun converts the driver section.
func (c *Config) DriverRun() driver.Config {
	return driver.Config{
		Scene:        c.Driver.Scene,
		Objects:      c.Driver.Objects,
		Steps:        c.Driver.Steps,
		StepInterval: c.Driver.StepInterval,
	}
}

// Logger builds the logger described by the log section.
func (c *Config) Logger() (*logging.Logger, error) {
	level := logging.ParseLevel(c.Log.Level)
	json := strings.EqualFold(c.Log.Format, "json")
	if c.Log.File != "" {
		return logging.NewFileLogger(c.Log.File, level, json)
	}
	return logging.NewLogger(level, json), nil
}

// Marshal renders c as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Save writes c to path, creating the directory. An existing file is
// only replaced when overwrite is set.
func Save(c *Config, path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config %s already exists", path)
		}
	}
	data, err := c.Marshal()
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}
