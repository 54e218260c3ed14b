package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var logg = newDefault()

func newDefault() *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.JSONFormatter{})
	l.SetLevel(logrus.InfoLevel)
	l.SetOutput(os.Stdout)
	return l
}

// GetLogger returns the process-wide logger.
func GetLogger() *logrus.Logger {
	return logg
}

// Configure builds a logger for the given level and format ("json" or "text") and
// installs it as the process-wide logger.
func Configure(level, format string, out io.Writer) (*logrus.Logger, error) {
	l := logrus.New()
	if out == nil {
		out = os.Stdout
	}
	l.SetOutput(out)

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	case "text":
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}

	if strings.TrimSpace(level) == "" {
		level = "info"
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	l.SetLevel(parsed)

	logg = l
	return l, nil
}

// LogError records err with the module and function it came from.
func LogError(logger logrus.FieldLogger, moduleName, funcName, context string, data any, err error) {
	fields := logrus.Fields{
		"module":   moduleName,
		"funcName": funcName,
		"context":  context,
	}
	if data != nil {
		fields["data"] = data
	}
	logger.WithFields(fields).Error(err.Error())
}
