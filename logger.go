package ringpool

import (
	"os"

	"github.com/sirupsen/logrus"
)

var logger = newLogger()

// log is the package-wide entry every pool transition is traced through.
var log = logger.WithField("component", "ringpool")

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.WarnLevel)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	return l
}

// SetLogLevel changes the verbosity of the package logger. Accepts the logrus
// level names ("trace", "debug", "info", "warn", "error").
func SetLogLevel(level string) error {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return configError("log level %q: %v", level, err)
	}
	logger.SetLevel(parsed)
	return nil
}

// Logger exposes the package logger so callers can redirect its output or
// attach hooks.
func Logger() *logrus.Logger {
	return logger
}
