// Package log provides the project logger: a small interface backed by logrus.
package log

import (
	"sync"

	"firestige.xyz/fwip/internal/config"
)

// Logger is the logging surface used across fwip.
type Logger interface {
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})
	Info(args ...interface{})
	Infof(format string, args ...interface{})
	Warn(args ...interface{})
	Warnf(format string, args ...interface{})
	Error(args ...interface{})
	Errorf(format string, args ...interface{})

	WithField(field string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
	WithError(err error) Logger

	IsDebugEnabled() bool
	IsInfoEnabled() bool
}

var (
	mu     sync.RWMutex
	logger Logger
	output *MultiWriter
)

func init() {
	l, out, err := build(config.LogConfig{Level: "info", Format: "text"})
	if err != nil {
		panic(err)
	}
	logger, output = l, out
}

// GetLogger returns the process logger. It is usable before Init.
func GetLogger() Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Init replaces the process logger according to cfg and closes the
// appenders of the one it replaces.
func Init(cfg config.LogConfig) error {
	l, out, err := build(cfg)
	if err != nil {
		return err
	}
	mu.Lock()
	prev := output
	logger, output = l, out
	mu.Unlock()
	return prev.Close()
}
