package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

// Level represents the severity of a log message
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	}
	return "INFO"
}

// Logger writes leveled key/value lines and redacts credentials
type Logger struct {
	mu     sync.RWMutex
	level  Level
	logger *log.Logger
	isDev  bool
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// New creates a logger writing to out
func New(out io.Writer, level Level, isDev bool) *Logger {
	return &Logger{
		level:  level,
		logger: log.New(out, "", log.LstdFlags),
		isDev:  isDev,
	}
}

// Initialize sets up the default logger instance
func Initialize(level Level, isDev bool) {
	once.Do(func() {
		defaultLogger = New(os.Stdout, level, isDev)
	})
}

// GetLogger returns the default logger, creating it at INFO on first use
func GetLogger() *Logger {
	Initialize(INFO, false)
	return defaultLogger
}

// SetLevel updates the log level
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	l.level = level
	l.mu.Unlock()
}

// truncate keeps the first characters of an opaque credential
func truncate(s string) string {
	if len(s) <= 8 {
		return "****"
	}
	return s[:6] + "****"
}

func redactEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "****"
	}
	local := parts[0]
	if len(local) <= 2 {
		return "****@" + parts[1]
	}
	return local[0:1] + "****" + local[len(local)-1:] + "@" + parts[1]
}

// redactValue redacts sensitive values based on the key name
func redactValue(key string, value interface{}) interface{} {
	keyLower := strings.ToLower(key)
	valueStr := fmt.Sprintf("%v", value)

	switch {
	case strings.Contains(keyLower, "password"):
		return "[REDACTED]"
	case strings.Contains(keyLower, "token"), strings.Contains(keyLower, "authorization"):
		return truncate(valueStr)
	case strings.Contains(keyLower, "email"):
		return redactEmail(valueStr)
	}
	return value
}

func (l *Logger) formatMessage(level Level, msg string, keysAndValues ...interface{}) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("[%s] %s", level, msg))

	if len(keysAndValues) > 0 {
		b.WriteString(" {")
		for i := 0; i < len(keysAndValues); i += 2 {
			key := fmt.Sprintf("%v", keysAndValues[i])
			var value interface{} = ""
			if i+1 < len(keysAndValues) {
				value = keysAndValues[i+1]
			}
			if !l.isDev || l.level > DEBUG {
				value = redactValue(key, value)
			}
			b.WriteString(fmt.Sprintf(" %s=%v", key, value))
		}
		b.WriteString(" }")
	}
	return b.String()
}

func (l *Logger) shouldLog(level Level) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return level >= l.level
}

func (l *Logger) write(level Level, msg string, keysAndValues ...interface{}) {
	if l.shouldLog(level) {
		l.logger.Println(l.formatMessage(level, msg, keysAndValues...))
	}
}

func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.write(DEBUG, msg, keysAndValues...)
}

func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.write(INFO, msg, keysAndValues...)
}

func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.write(WARN, msg, keysAndValues...)
}

func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.write(ERROR, msg, keysAndValues...)
}

// Package-level convenience functions

func Debug(msg string, keysAndValues ...interface{}) {
	GetLogger().Debug(msg, keysAndValues...)
}

func Info(msg string, keysAndValues ...interface{}) {
	GetLogger().Info(msg, keysAndValues...)
}

func Warn(msg string, keysAndValues ...interface{}) {
	GetLogger().Warn(msg, keysAndValues...)
}

func Error(msg string, keysAndValues ...interface{}) {
	GetLogger().Error(msg, keysAndValues...)
}

// ParseLevel converts a string to a Level, defaulting to INFO
func ParseLevel(level string) Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return DEBUG
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}
