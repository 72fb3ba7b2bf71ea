// Package definition provides the default, concrete collaborators a
// coap-server/coap-client process wires into pkg/coap and pkg/sharedrive
// at construction time: a logrus-backed Logger. (Config lives in
// pkg/coap/core.)
package definition

import (
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-colorable"
	"github.com/sirupsen/logrus"

	"github.com/dtudor/coap-share-drive/pkg/coap/types"
)

// Logger wraps a *logrus.Entry so it satisfies types.Logger, with
// colorized level prefixes on terminals that support it (the Go
// continuation of the source's LogColor enum).
type Logger struct {
	entry *logrus.Entry
}

// NewLogger builds a Logger writing to stderr, colorized when attached
// to a terminal, at the given level ("debug", "info", "warn", "error").
func NewLogger(level string) *Logger {
	base := logrus.New()
	base.SetOutput(colorable.NewColorableStderr())
	base.SetFormatter(&logrus.TextFormatter{
		ForceColors:   color.NoColor == false,
		FullTimestamp: true,
	})
	if parsed, err := logrus.ParseLevel(level); err == nil {
		base.SetLevel(parsed)
	} else {
		base.SetLevel(logrus.InfoLevel)
	}
	return &Logger{entry: logrus.NewEntry(base)}
}

// WithField returns a Logger whose subsequent lines all carry key=value.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{entry: l.entry.WithField(key, value)}
}

func (l *Logger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

var _ types.Logger = (*Logger)(nil)

func init() {
	// share-drive runs as a terminal-facing CLI; follow the source's
	// LogColor behaviour of degrading gracefully to plain text when
	// stderr isn't a tty instead of leaving raw escape codes in logs.
	if fi, err := os.Stderr.Stat(); err == nil && fi.Mode()&os.ModeCharDevice == 0 {
		color.NoColor = true
	}
}
