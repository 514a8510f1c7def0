package log

import (
	"os"
	"strconv"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

var debug atomic.Bool

// Logger is a global interface for livefx loggers.
type Logger interface {
	Debug(...interface{})
	Info(...interface{})
	Warn(...interface{})
	Error(...interface{})
}

func init() {
	d, err := strconv.ParseBool(os.Getenv("LIVEFX_DEBUG"))
	if err != nil {
		d = false
	}
	debug.Store(d)
}

// SetDebug enables debug level for loggers created afterwards.
func SetDebug(d bool) {
	debug.Store(d)
}

// GetLogger returns a new logger instance
func GetLogger() *logrus.Logger {
	l := logrus.New()
	if debug.Load() {
		l.SetLevel(logrus.DebugLevel)
	}
	return l
}

// With returns logger entry tagged with provided key and value.
func With(key string, value interface{}) *logrus.Entry {
	return GetLogger().WithField(key, value)
}
