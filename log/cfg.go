package log

import "fmt"

// LogCfg configures the runtime logger. All fields support hot-reload through
// the config manager; the logger re-reads level and appender settings when the
// "logger" configuration changes.
type LogCfg struct {
	// LogPath specifies the target log file path for file-based logging.
	LogPath string `mapstructure:"path"`

	// LogLevel defines the minimum log level for filtering log entries.
	LogLevel Level `mapstructure:"level"`

	// FileSplitMB determines the file rotation threshold in megabytes.
	// When the log file exceeds this size, rotation creates a new file.
	FileSplitMB int `mapstructure:"splitmb"`

	// IsAsync enables asynchronous log writing to prevent I/O blocking
	// on the connection-serving goroutines.
	IsAsync bool `mapstructure:"isasync"`

	// AsyncCacheSize limits the maximum buffered log entries in async mode.
	AsyncCacheSize int `mapstructure:"asynccachesize"`

	// AsyncWriteMillSec defines the async flush interval in milliseconds.
	AsyncWriteMillSec int `mapstructure:"asyncwritemillsec"`

	// CallerSkip specifies extra stack frames to skip for caller information,
	// for wrapper functions layered above the logger.
	CallerSkip int `mapstructure:"callerSkip"`

	// FileAppender enables file-based logging output.
	FileAppender bool `mapstructure:"fileAppender"`

	// ConsoleAppender enables console (stdout) logging output.
	ConsoleAppender bool `mapstructure:"consoleAppender"`

	// EnabledCallerInfo adds file:line of the call site to each entry.
	EnabledCallerInfo bool `mapstructure:"enabledCallerInfo"`
}

// GetName returns the configuration name for LogCfg.
func (cfg *LogCfg) GetName() string {
	return "logger"
}

// Validate validates the LogCfg parameters.
func (cfg *LogCfg) Validate() error {
	if cfg.FileAppender && cfg.LogPath == "" {
		return fmt.Errorf("LogPath cannot be empty when FileAppender is enabled")
	}
	if cfg.IsAsync && cfg.AsyncCacheSize < 0 {
		return fmt.Errorf("AsyncCacheSize must be non-negative")
	}
	return nil
}

var _defaultCfg = &LogCfg{
	LogPath:         "./fastrpc.log",
	LogLevel:        DebugLevel,
	FileSplitMB:     50,
	IsAsync:         false,
	CallerSkip:      0,
	FileAppender:    false,
	ConsoleAppender: true,
}

func getDefaultCfg() *LogCfg {
	return _defaultCfg
}
