// Package logger provides structured, leveled logging shared across the
// agent runtime. Every call site attaches a component name so log lines can
// be filtered per subsystem (agent, memory, providers, bus, ...).
package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

var base = newBase()

func newBase() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// SetLevel parses and applies a log level (debug, info, warn, error).
func SetLevel(level string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return
	}
	base.SetLevel(lvl)
}

func withComponent(component string, fields map[string]interface{}) *logrus.Entry {
	f := logrus.Fields{"component": component}
	for k, v := range fields {
		f[k] = v
	}
	return base.WithFields(f)
}

func DebugCF(component, message string, fields map[string]interface{}) {
	withComponent(component, fields).Debug(message)
}

func InfoCF(component, message string, fields map[string]interface{}) {
	withComponent(component, fields).Info(message)
}

func WarnCF(component, message string, fields map[string]interface{}) {
	withComponent(component, fields).Warn(message)
}

func ErrorCF(component, message string, fields map[string]interface{}) {
	withComponent(component, fields).Error(message)
}
