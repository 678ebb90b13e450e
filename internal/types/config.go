package types

// RunMode is the process role selected at startup.
type RunMode string

const (
	ModeLocal     RunMode = "local"
	ModeServer    RunMode = "server"
	ModeScheduler RunMode = "scheduler"
	ModeConsumer  RunMode = "consumer"
)

// LogLevel controls logger verbosity.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)
