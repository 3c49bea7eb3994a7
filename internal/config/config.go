package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/stackd/internal/logger"
)

// Health tunes the monitor.
type Health struct {
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	ProbeTimeout     time.Duration `mapstructure:"probe_timeout"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
}

// Timeouts bound the startup and stop sequences.
type Timeouts struct {
	GroupStartup time.Duration `mapstructure:"group_startup"`
	UnitStop     time.Duration `mapstructure:"unit_stop"`
}

// Config is the supervisor's own configuration, read from TOML.
// Unit descriptors live in their own files under UnitsDir; see
// internal/discovery.
type Config struct {
	UnitsDir    string `mapstructure:"units_dir"`
	PIDDir      string `mapstructure:"pid_dir"`
	LockFile    string `mapstructure:"lock_file"`
	JournalPath string `mapstructure:"journal_path"`
	// HTTPAddr is the embedded status API listen address; empty disables it.
	HTTPAddr string `mapstructure:"http_addr"`

	Env      []string `mapstructure:"env"`
	EnvFiles []string `mapstructure:"env_files"`
	UseOSEnv bool     `mapstructure:"use_os_env"`

	// Group skip toggles, the config-file form of --no-ui and
	// --no-observability.
	SkipUI        bool `mapstructure:"skip_ui"`
	SkipTelemetry bool `mapstructure:"skip_telemetry"`

	Log      logger.Config `mapstructure:"log"`
	Health   Health        `mapstructure:"health"`
	Timeouts Timeouts      `mapstructure:"timeouts"`
}

// Default returns the built-in configuration rooted at dir.
func Default(dir string) Config {
	return Config{
		UnitsDir: filepath.Join(dir, "units"),
		PIDDir:   filepath.Join(dir, ".stackd", "pids"),
		LockFile: filepath.Join(dir, ".stackd", "stackd.lock"),
		HTTPAddr: "127.0.0.1:9123",
		UseOSEnv: true,
		Log:      logger.Config{Dir: filepath.Join(dir, "logs")},
		Health: Health{
			PollInterval:     2 * time.Second,
			ProbeTimeout:     2 * time.Second,
			FailureThreshold: 3,
		},
		Timeouts: Timeouts{
			GroupStartup: 30 * time.Second,
			UnitStop:     10 * time.Second,
		},
	}
}

// Load reads the TOML config at path on top of the defaults rooted at the
// config file's directory. A missing or unreadable path is an error; config
// failure is fatal to start.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := Default(filepath.Dir(path))
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the invariants the rest of the system assumes.
func (c Config) Validate() error {
	if c.UnitsDir == "" {
		return fmt.Errorf("units_dir must be set")
	}
	if c.PIDDir == "" {
		return fmt.Errorf("pid_dir must be set")
	}
	if c.LockFile == "" {
		return fmt.Errorf("lock_file must be set")
	}
	if c.Health.FailureThreshold < 1 {
		return fmt.Errorf("health.failure_threshold must be at least 1")
	}
	if c.Health.PollInterval <= 0 || c.Health.ProbeTimeout <= 0 {
		return fmt.Errorf("health intervals must be positive")
	}
	if c.Timeouts.GroupStartup <= 0 || c.Timeouts.UnitStop <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	return nil
}

// MergedEnv composes the base child environment. Precedence: OS env (when
// use_os_env), then env_files in order, then the top-level env list last.
func (c Config) MergedEnv() ([]string, error) {
	m := make(map[string]string)
	if c.UseOSEnv {
		for _, kv := range os.Environ() {
			if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
				m[k] = v
			}
		}
	}
	for _, p := range c.EnvFiles {
		pairs, err := loadEnvFile(p)
		if err != nil {
			return nil, err
		}
		for k, v := range pairs {
			m[k] = v
		}
	}
	for _, kv := range c.Env {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			m[k] = v
		}
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out, nil
}

// loadEnvFile parses a simple KEY=VALUE file; '#' starts a comment, blank
// lines are skipped, surrounding quotes on values are stripped.
func loadEnvFile(path string) (map[string]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("env file %s: %w", path, err)
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok || strings.TrimSpace(k) == "" {
			continue
		}
		v = strings.TrimSpace(v)
		if n := len(v); n >= 2 {
			if (v[0] == '"' && v[n-1] == '"') || (v[0] == '\'' && v[n-1] == '\'') {
				v = v[1 : n-1]
			}
		}
		m[strings.TrimSpace(k)] = v
	}
	return m, nil
}

// EnsureDirs creates the PID and log directories. Failure here is fatal to
// start; per-unit problems later are not.
func (c Config) EnsureDirs() error {
	for _, d := range []string{c.PIDDir, c.Log.Dir, filepath.Dir(c.LockFile)} {
		if d == "" {
			continue
		}
		if err := os.MkdirAll(d, 0o750); err != nil {
			return fmt.Errorf("create %s: %w", d, err)
		}
	}
	return nil
}
