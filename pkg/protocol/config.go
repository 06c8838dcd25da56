package protocol

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/turtacn/Lingua/pkg/consts"
	"github.com/turtacn/Lingua/pkg/errors"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// Load reads the YAML configuration at path, applies .env and LINGUA_* overrides,
// fills defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(errors.ErrCodeConfigInvalid, "LoadConfig", "cannot read config file", err)
	}
	// A missing .env file is normal outside development.
	_ = godotenv.Load()
	return Parse(data)
}

// LoadDefaults builds a Config from defaults plus .env and LINGUA_* overrides,
// for hosts started without a config file.
func LoadDefaults() (*Config, error) {
	_ = godotenv.Load()
	return Parse(nil)
}

// Parse decodes raw YAML into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.New(errors.ErrCodeConfigInvalid, "ParseConfig", "malformed YAML", err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(consts.EnvLogLevel); v != "" {
		c.Observability.LogLevel = v
	}
	if v := os.Getenv(consts.EnvLogFormat); v != "" {
		c.Observability.LogFormat = v
	}
	if v := os.Getenv(consts.EnvMetricsPort); v != "" {
		c.Observability.MetricsPort = v
	}
	if v := os.Getenv(consts.EnvScriptRoot); v != "" {
		c.Scripts.Root = v
	}
}

func (c *Config) applyDefaults() {
	if c.Scripts.Root == "" {
		c.Scripts.Root = consts.DefaultScriptRoot
	}
	if c.Interpreter.Language == "" {
		c.Interpreter.Language = string(consts.LanguageTengo)
	}
	if c.Invocation.CleanupSchedule == "" {
		c.Invocation.CleanupSchedule = consts.DefaultCleanupSchedule
	}
	if c.Observability.MetricsPort == "" {
		c.Observability.MetricsPort = consts.DefaultMetricsPort
	}
	if c.Observability.LogLevel == "" {
		c.Observability.LogLevel = "info"
	}
}

// Validate checks struct constraints and duration fields.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.New(errors.ErrCodeConfigInvalid, "ValidateConfig", "constraint violation", err)
	}
	for name, raw := range map[string]string{
		"interpreter.max_execution_time": c.Interpreter.MaxExecutionTime,
		"interpreter.grace_period":       c.Interpreter.GracePeriod,
	} {
		if raw == "" {
			continue
		}
		if _, err := time.ParseDuration(raw); err != nil {
			return errors.New(errors.ErrCodeConfigInvalid, "ValidateConfig", fmt.Sprintf("invalid duration for %s", name), err)
		}
	}
	return nil
}

// MaxExecution returns the per-run time limit.
func (ic InterpreterConfig) MaxExecution() time.Duration {
	return durationOr(ic.MaxExecutionTime, consts.DefaultMaxExecutionTime)
}

// Grace returns how long a graceful stop waits before the run is cancelled.
func (ic InterpreterConfig) Grace() time.Duration {
	return durationOr(ic.GracePeriod, consts.DefaultGracePeriod)
}

func durationOr(raw string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// Personal.AI order the ending
