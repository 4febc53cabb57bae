// Package log implements the structured logger used across the fastrpc
// runtime. Entries are built with a fluent event API and fanned out to
// pluggable appenders:
//
//	log.Info().Str("api", name).Uint32("packetID", id).Msg("call dispatched")
//
// The logger integrates with the config package for hot-reload of level and
// appender settings.
package log

import (
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/lcx/fastrpc/config"
)

// Logger is the framework logging contract.
type Logger interface {
	Debug() *LogEvent
	Info() *LogEvent
	Warn() *LogEvent
	Error() *LogEvent
	Fatal() *LogEvent
	GetAppender() []LogAppender
	AddAppender(appender LogAppender)
	OnEventEnd(e *LogEvent)
}

var _defaultLogger *RuntimeLogger

func init() {
	_defaultLogger = NewLogger(nil)

	// config cannot import this package, it hands diagnostics through a sink
	config.SetDiagnosticFunc(func(configName, msg string, err error) {
		Warn().Str("configName", configName).Err(err).Msg(msg)
	})
}

// AddAppender adds a new log appender to the default logger.
func AddAppender(appender LogAppender) {
	_defaultLogger.AddAppender(appender)
}

// Refresh triggers a refresh operation on all appenders of the default logger.
func Refresh() {
	_defaultLogger.Refresh()
}

// SetDefaultLogger replaces the default logger with a custom instance.
func SetDefaultLogger(logger *RuntimeLogger) {
	_defaultLogger = logger
}

// InitializeWithConfigManager loads the "logger" configuration from the config
// manager, installs a hot-reloadable default logger, and registers it as a
// configuration change listener.
func InitializeWithConfigManager(configManager config.ConfigManager) error {
	if configManager == nil {
		return nil
	}

	logCfg := &LogCfg{}
	if err := configManager.LoadConfig("logger", logCfg); err != nil {
		return err
	}

	SetDefaultLogger(NewLoggerWithConfigManager(logCfg, configManager))
	return nil
}

// Debug 默认logger.
func Debug() *LogEvent { return _defaultLogger.Debug() }

// Info 默认logger.
func Info() *LogEvent { return _defaultLogger.Info() }

// Warn 默认logger.
func Warn() *LogEvent { return _defaultLogger.Warn() }

// Error 默认logger.
func Error() *LogEvent { return _defaultLogger.Error() }

// Fatal 默认logger.
func Fatal() *LogEvent { return _defaultLogger.Fatal() }

// RuntimeLogger is the standard Logger implementation. Events are pooled to
// keep steady-state logging allocation-free, and configuration can be swapped
// at runtime through the config manager listener interface.
type RuntimeLogger struct {
	appenders         []LogAppender
	minLevel          Level
	callerSkip        int
	enabledCallerInfo bool
	eventPool         *sync.Pool
	configMutex       sync.RWMutex
	currentConfig     *LogCfg
}

// NewLogger creates a RuntimeLogger. A nil cfg selects the default
// console-only configuration.
func NewLogger(cfg *LogCfg) *RuntimeLogger {
	if cfg == nil {
		cfg = getDefaultCfg()
	}

	logger := &RuntimeLogger{
		minLevel:          cfg.LogLevel,
		callerSkip:        cfg.CallerSkip,
		enabledCallerInfo: cfg.EnabledCallerInfo,
		currentConfig:     cfg,
	}

	logger.eventPool = &sync.Pool{
		New: func() any {
			return newEvent(logger)
		},
	}

	if cfg.FileAppender {
		logger.AddAppender(NewFileAppender(cfg))
	}
	if cfg.ConsoleAppender {
		logger.AddAppender(NewConsoleAppender())
	}

	return logger
}

// NewLoggerWithConfigManager creates a RuntimeLogger registered for
// configuration hot-reload.
func NewLoggerWithConfigManager(cfg *LogCfg, configManager config.ConfigManager) *RuntimeLogger {
	logger := NewLogger(cfg)
	if configManager != nil {
		configManager.AddChangeListener(logger)
	}
	return logger
}

// OnConfigChanged implements the config.ConfigChangeListener interface.
// Level and caller settings are applied in place; appenders are rebuilt.
func (x *RuntimeLogger) OnConfigChanged(configName string, newConfig, oldConfig config.Config) error {
	if configName != "logger" {
		return nil
	}

	newCfg, ok := newConfig.(*LogCfg)
	if !ok {
		return fmt.Errorf("invalid configuration type for logger")
	}
	if err := newCfg.Validate(); err != nil {
		return fmt.Errorf("invalid logger configuration: %w", err)
	}

	x.configMutex.Lock()
	defer x.configMutex.Unlock()

	for _, a := range x.appenders {
		_ = a.Close()
	}
	x.appenders = nil

	x.minLevel = newCfg.LogLevel
	x.callerSkip = newCfg.CallerSkip
	x.enabledCallerInfo = newCfg.EnabledCallerInfo
	x.currentConfig = newCfg

	if newCfg.FileAppender {
		x.appenders = append(x.appenders, NewFileAppender(newCfg))
	}
	if newCfg.ConsoleAppender {
		x.appenders = append(x.appenders, NewConsoleAppender())
	}

	return nil
}

// GetConfigName implements the config.ConfigChangeListener interface.
func (x *RuntimeLogger) GetConfigName() string {
	return "logger"
}

// GetCurrentConfig returns the active configuration.
func (x *RuntimeLogger) GetCurrentConfig() *LogCfg {
	x.configMutex.RLock()
	defer x.configMutex.RUnlock()
	return x.currentConfig
}

func (x *RuntimeLogger) checkLevel(level Level) bool {
	x.configMutex.RLock()
	defer x.configMutex.RUnlock()
	return level >= x.minLevel
}

// AddAppender ...
func (x *RuntimeLogger) AddAppender(appender LogAppender) {
	x.appenders = append(x.appenders, appender)
}

// GetAppender ...
func (x *RuntimeLogger) GetAppender() []LogAppender {
	return x.appenders
}

// Refresh flushes all appenders.
func (x *RuntimeLogger) Refresh() {
	for _, appender := range x.appenders {
		appender.Refresh()
	}
}

// OnEventEnd hands the finished event to the appenders and recycles it.
// Fatal events panic after the entry is written.
func (x *RuntimeLogger) OnEventEnd(e *LogEvent) {
	x.configMutex.RLock()
	appenders := x.appenders
	x.configMutex.RUnlock()

	for _, appender := range appenders {
		appender.Write(e.buf.Bytes())
	}

	if e.level == FatalLevel {
		panic(e.buf.String())
	}

	x.eventPool.Put(e)
}

// Debug ...
func (x *RuntimeLogger) Debug() *LogEvent { return x.log(DebugLevel) }

// Info ...
func (x *RuntimeLogger) Info() *LogEvent { return x.log(InfoLevel) }

// Warn ...
func (x *RuntimeLogger) Warn() *LogEvent { return x.log(WarnLevel) }

// Error ...
func (x *RuntimeLogger) Error() *LogEvent { return x.log(ErrorLevel) }

// Fatal ...
func (x *RuntimeLogger) Fatal() *LogEvent { return x.log(FatalLevel) }

func (x *RuntimeLogger) log(level Level) *LogEvent {
	if !x.checkLevel(level) {
		return nil
	}

	e := x.eventPool.Get().(*LogEvent)
	e.Reset()
	e.level = level

	e.buf.WriteString(time.Now().Format("2006-01-02 15:04:05.000"))
	e.buf.WriteByte(' ')
	e.buf.WriteString(level.String())

	if x.enabledCallerInfo {
		if file, line, ok := x.callerInfo(); ok {
			fmt.Fprintf(&e.buf, " [%s:%d]", file, line)
		}
	}

	return e
}

func (x *RuntimeLogger) callerInfo() (string, int, bool) {
	_, file, line, ok := runtime.Caller(3 + x.callerSkip)
	if !ok {
		return "", 0, false
	}
	// keep the last two path elements only
	if idx := strings.LastIndexByte(file, '/'); idx > 0 {
		if idx2 := strings.LastIndexByte(file[:idx], '/'); idx2 >= 0 {
			file = file[idx2+1:]
		}
	}
	return file, line, true
}
