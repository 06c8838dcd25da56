package consts

import "time"

// Language identifies the interpreter that runs a script.
type Language string

const (
	LanguageTengo Language = "tengo"
)

// ScriptExtensions maps file extensions to the language that runs them.
var ScriptExtensions = map[string]Language{
	".tengo": LanguageTengo,
}

// Invocation defaults
const (
	// CleanupAtExitCeiling bounds how long shutdown waits for a worker. Not configurable.
	CleanupAtExitCeiling    = 1 * time.Second
	DefaultCleanupSchedule  = "@every 1s"
	DefaultMaxExecutionTime = 30 * time.Second
	DefaultGracePeriod      = 5 * time.Second
	DefaultScriptRoot       = "scripts"
	DefaultMetricsPort      = ":9090"
)

// Relay topics and metadata keys
const (
	EventTopic       = "lingua.invoker.events"
	MetaKeyEventKind = "event_kind"
	MetaKeyInvoker   = "invoker_id"
)

// Environment overrides applied on top of the YAML configuration
const (
	EnvLogLevel    = "LINGUA_LOG_LEVEL"
	EnvLogFormat   = "LINGUA_LOG_FORMAT"
	EnvMetricsPort = "LINGUA_METRICS_PORT"
	EnvScriptRoot  = "LINGUA_SCRIPT_ROOT"
)

// Personal.AI order the ending
