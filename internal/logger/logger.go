package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var Logger *logrus.Logger

// Init builds the process logger. format is "json" or "text"; an unknown
// level falls back to info.
func Init(level, format string) *logrus.Logger {
	return InitWithOutput(level, format, os.Stderr)
}

// InitWithOutput is Init writing to out.
func InitWithOutput(level, format string, out io.Writer) *logrus.Logger {
	log := logrus.New()

	if parsed, err := logrus.ParseLevel(strings.ToLower(level)); err == nil {
		log.SetLevel(parsed)
	} else {
		log.SetLevel(logrus.InfoLevel)
		defer log.WithField("invalid_level", level).Warn("Invalid log level, using INFO")
	}

	if strings.ToLower(format) == "json" {
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	} else {
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}

	log.SetOutput(out)

	Logger = log
	return log
}

// GetLogger returns the global logger instance
func GetLogger() *logrus.Logger {
	if Logger == nil {
		return Init("info", "text")
	}
	return Logger
}

// WithComponent creates a logger tagged with a component name.
func WithComponent(component string) *logrus.Entry {
	return GetLogger().WithField("component", component)
}
