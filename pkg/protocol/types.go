package protocol

// Config represents the root configuration of a Lingua host.
type Config struct {
	Version       string              `yaml:"version"`
	Service       ServiceConfig       `yaml:"service"`
	Scripts       ScriptsConfig       `yaml:"scripts"`
	Interpreter   InterpreterConfig   `yaml:"interpreter"`
	Invocation    InvocationConfig    `yaml:"invocation"`
	Addons        []AddonConfig       `yaml:"addons" validate:"dive"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type ServiceConfig struct {
	Name string `yaml:"name"`
}

type ScriptsConfig struct {
	Root  string `yaml:"root" validate:"required"`
	Watch bool   `yaml:"watch"`
}

type InterpreterConfig struct {
	Language         string   `yaml:"language" validate:"oneof=tengo"`
	MaxExecutionTime string   `yaml:"max_execution_time"`
	GracePeriod      string   `yaml:"grace_period"`
	AllowedModules   []string `yaml:"allowed_modules"`
}

type InvocationConfig struct {
	// Reuse keeps worker goroutines alive between runs of the same script.
	Reuse           bool   `yaml:"reuse"`
	CleanupSchedule string `yaml:"cleanup_schedule"`
}

type AddonConfig struct {
	ID        string   `yaml:"id" validate:"required"`
	Name      string   `yaml:"name"`
	Version   string   `yaml:"version" validate:"required"`
	Script    string   `yaml:"script" validate:"required"`
	Args      []string `yaml:"args"`
	Reusable  bool     `yaml:"reusable"`
	Autostart bool     `yaml:"autostart"`
}

type ObservabilityConfig struct {
	MetricsPort string `yaml:"metrics_port"`
	LogLevel    string `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
	LogFormat   string `yaml:"log_format" validate:"omitempty,oneof=json text"`
}

// Personal.AI order the ending
