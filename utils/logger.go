package utils

import (
	"io"
	"os"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

var (
	logger = newLogger(os.Stdout)
	// base holds the fields attached to every entry, e.g. the instance id
	base atomic.Pointer[log.Entry]
)

func init() {
	base.Store(log.NewEntry(logger))
}

func newLogger(w io.Writer) *log.Logger {
	l := log.New()
	l.SetFormatter(&log.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05Z07:00",
	})
	l.SetOutput(w)
	l.SetLevel(log.InfoLevel)
	return l
}

// SetLevel changes the log level. Unknown levels keep the current one.
func SetLevel(level string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return err
	}
	logger.SetLevel(lvl)
	return nil
}

// SetOutput redirects log output, used by tests to silence or capture logs
func SetOutput(w io.Writer) {
	logger.SetOutput(w)
}

// SetBaseFields replaces the fields added to every log entry
func SetBaseFields(fields map[string]any) {
	base.Store(log.NewEntry(logger).WithFields(fields))
}

func entry(fields map[string]any) *log.Entry {
	return base.Load().WithFields(fields)
}

func Debug(message string, fields map[string]any) {
	entry(fields).Debug(message)
}

func Info(message string, fields map[string]any) {
	entry(fields).Info(message)
}

func Warn(message string, fields map[string]any) {
	entry(fields).Warn(message)
}

func Error(message string, fields map[string]any) {
	entry(fields).Error(message)
}

// Fatal logs and exits the process
func Fatal(message string, fields map[string]any) {
	entry(fields).Fatal(message)
}
