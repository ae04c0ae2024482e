package go_oscar

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

// Log levels for LogInit and Logger.setLogLevel
const (
	DEBUG = iota
	INFO
	WARNING
	ERROR
	FATAL
)

// LoggerTags defines the type for logger tags
type LoggerTags = uint32

// Tag bits attached to log output so the collaborator layer can route
// wire-level noise away from user-facing diagnostics.
const (
	TAG_PROTOCOL LoggerTags = 1 << iota
	TAG_RATE
	TAG_RENDEZVOUS
	TAG_SSI
)

var logInstance = logrus.New()

// LogInit initializes the package logger with the specified level.
func LogInit(level int) {
	logInstance.SetOutput(os.Stderr)
	switch level {
	case DEBUG:
		logInstance.SetLevel(logrus.DebugLevel)
	case INFO:
		logInstance.SetLevel(logrus.InfoLevel)
	case WARNING:
		logInstance.SetLevel(logrus.WarnLevel)
	case FATAL:
		logInstance.SetLevel(logrus.ErrorLevel)
	default:
		logInstance.SetLevel(logrus.ErrorLevel)
	}
}

func (l *Logger) log(tags LoggerTags, format string, args ...interface{}) {
	if l.callbacks != nil && l.callbacks.onLog != nil {
		if len(args) != 0 {
			l.callbacks.onLog(l, tags, fmt.Sprintf(format, args...))
		} else {
			l.callbacks.onLog(l, tags, format)
		}
		return
	}
	if len(args) != 0 {
		logInstance.Warnf(format, args...)
		return
	}
	logInstance.Warn(format)
}

func (l *Logger) setLogLevel(level int) {
	switch level {
	case DEBUG, INFO, WARNING, ERROR, FATAL:
		l.logLevel = level
	default:
		l.logLevel = ERROR
	}
}

// tagName maps a tag bit to its logrus field value.
func tagName(tags LoggerTags) string {
	switch tags {
	case TAG_PROTOCOL:
		return "protocol"
	case TAG_RATE:
		return "rate"
	case TAG_RENDEZVOUS:
		return "rendezvous"
	case TAG_SSI:
		return "ssi"
	default:
		return "oscar"
	}
}

// logTagged logs a debug message with a subsystem tag field.
func logTagged(tags LoggerTags, message string, args ...interface{}) {
	entry := logInstance.WithField("subsystem", tagName(tags))
	if len(args) == 0 {
		entry.Debug(message)
		return
	}
	entry.Debugf(message, args...)
}

// Debug logs a debug message with optional arguments.
func Debug(message string, args ...interface{}) {
	if len(args) == 0 {
		logInstance.Debug(message)
		return
	}
	logInstance.Debugf(message, args...)
}

// Info logs an info message with optional arguments.
func Info(message string, args ...interface{}) {
	if len(args) == 0 {
		logInstance.Info(message)
		return
	}
	logInstance.Infof(message, args...)
}

// Warning logs a warning message with optional arguments.
func Warning(message string, args ...interface{}) {
	if len(args) == 0 {
		logInstance.Warn(message)
		return
	}
	logInstance.Warnf(message, args...)
}

// Error logs an error message with optional arguments.
func Error(message string, args ...interface{}) {
	if len(args) == 0 {
		logInstance.Error(message)
		return
	}
	logInstance.Errorf(message, args...)
}

// Fatal logs a fatal-severity message with optional arguments. It does
// not exit the process; session teardown is the caller's decision.
func Fatal(message string, args ...interface{}) {
	if len(args) == 0 {
		logInstance.Error(message)
		return
	}
	logInstance.Errorf(message, args...)
}
