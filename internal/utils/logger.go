package utils

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync/atomic"
)

// LogLevel represents different logging levels
type LogLevel int32

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	DISABLED
)

// String returns the string representation of log level
func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case DISABLED:
		return "DISABLED"
	default:
		return "UNKNOWN"
	}
}

// ParseLogLevel maps a level name to a LogLevel. Unknown names yield INFO.
func ParseLogLevel(name string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "DEBUG":
		return DEBUG
	case "WARN":
		return WARN
	case "ERROR":
		return ERROR
	case "DISABLED":
		return DISABLED
	default:
		return INFO
	}
}

// Logger provides leveled logging tagged with a component name
type Logger struct {
	level int32 // atomic access
	name  string
}

// Global logger instance
var globalLogger *Logger

func init() {
	globalLogger = NewLogger("GLOBAL")

	if envLevel := os.Getenv("LOG_LEVEL"); envLevel != "" {
		globalLogger.SetLevel(ParseLogLevel(envLevel))
	}
}

// NewLogger creates a new logger with the given name
func NewLogger(name string) *Logger {
	return &Logger{
		level: int32(INFO),
		name:  name,
	}
}

// SetLevel sets the minimum log level
func (l *Logger) SetLevel(level LogLevel) {
	atomic.StoreInt32(&l.level, int32(level))
}

// GetLevel returns the current log level
func (l *Logger) GetLevel() LogLevel {
	return LogLevel(atomic.LoadInt32(&l.level))
}

// shouldLog checks if a level should be logged (fast path)
func (l *Logger) shouldLog(level LogLevel) bool {
	return LogLevel(atomic.LoadInt32(&l.level)) <= level
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.shouldLog(DEBUG) {
		l.logf(DEBUG, format, args...)
	}
}

// Info logs an info message
func (l *Logger) Info(format string, args ...interface{}) {
	if l.shouldLog(INFO) {
		l.logf(INFO, format, args...)
	}
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.shouldLog(WARN) {
		l.logf(WARN, format, args...)
	}
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	if l.shouldLog(ERROR) {
		l.logf(ERROR, format, args...)
	}
}

func (l *Logger) logf(level LogLevel, format string, args ...interface{}) {
	var prefix string
	if l.name != "" {
		prefix = fmt.Sprintf("[%s:%s] ", l.name, level.String())
	} else {
		prefix = fmt.Sprintf("[%s] ", level.String())
	}

	log.Printf(prefix+format, args...)
}

// SetGlobalLevel sets the global logger level
func SetGlobalLevel(level LogLevel) {
	globalLogger.SetLevel(level)
}

// GetGlobalLevel returns the global logger level
func GetGlobalLevel() LogLevel {
	return globalLogger.GetLevel()
}

// IsDebugEnabled returns true if debug logging is enabled
func IsDebugEnabled() bool {
	return globalLogger.shouldLog(DEBUG)
}

// Component-specific loggers for different parts of the system
var (
	EngineLogger      = NewLogger("ENGINE")
	SearchLogger      = NewLogger("SEARCH")
	ProjectsLogger    = NewLogger("PROJECTS")
	ServerLogger      = NewLogger("SERVER")
	BroadcasterLogger = NewLogger("BROADCASTER")
)

var componentLoggers = map[string]*Logger{
	"ENGINE":      EngineLogger,
	"SEARCH":      SearchLogger,
	"PROJECTS":    ProjectsLogger,
	"SERVER":      ServerLogger,
	"BROADCASTER": BroadcasterLogger,
}

// ComponentLogger returns the logger registered for a component, or a fresh
// named logger at the global level.
func ComponentLogger(component string) *Logger {
	if l, ok := componentLoggers[component]; ok {
		return l
	}
	l := NewLogger(component)
	l.SetLevel(GetGlobalLevel())
	return l
}

// InitializeComponentLoggers sets up component loggers with appropriate levels
func InitializeComponentLoggers(level LogLevel) {
	SetGlobalLevel(level)
	for _, l := range componentLoggers {
		l.SetLevel(level)
	}

	if os.Getenv("ENABLE_DEBUG_LOGS") == "true" {
		for _, l := range componentLoggers {
			l.SetLevel(DEBUG)
		}
		return
	}

	// Per-layer fetch chatter is noisy at INFO
	if level == INFO {
		SearchLogger.SetLevel(WARN)
	}
}

// Convenience functions for common logging patterns
func LogInfo(component, message string, args ...interface{}) {
	ComponentLogger(component).Info(message, args...)
}

func LogWarn(component, message string, args ...interface{}) {
	ComponentLogger(component).Warn(message, args...)
}

func LogError(component, message string, args ...interface{}) {
	ComponentLogger(component).Error(message, args...)
}

func LogDebug(component, message string, args ...interface{}) {
	ComponentLogger(component).Debug(message, args...)
}
