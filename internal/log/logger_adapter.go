package log

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"firestige.xyz/fwip/internal/config"
)

const (
	defaultPattern = "%time [%level] %field %msg%n"
	defaultTime    = "2006-01-02 15:04:05.000"
)

// entryLogger adapts a logrus entry to Logger. Every method forwards to the
// entry, so fields attached with WithField travel with the returned value.
type entryLogger struct {
	*logrus.Entry
}

func (e entryLogger) WithField(field string, value interface{}) Logger {
	return entryLogger{e.Entry.WithField(field, value)}
}

func (e entryLogger) WithFields(fields map[string]interface{}) Logger {
	return entryLogger{e.Entry.WithFields(fields)}
}

func (e entryLogger) WithError(err error) Logger {
	return entryLogger{e.Entry.WithError(err)}
}

func (e entryLogger) IsDebugEnabled() bool { return e.Logger.IsLevelEnabled(logrus.DebugLevel) }
func (e entryLogger) IsInfoEnabled() bool  { return e.Logger.IsLevelEnabled(logrus.InfoLevel) }

func newFormatter(cfg config.LogConfig) (logrus.Formatter, error) {
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		f := &formatter{pattern: cfg.Pattern, time: cfg.TimeFormat}
		if f.pattern == "" {
			f.pattern = defaultPattern
		}
		if f.time == "" {
			f.time = defaultTime
		}
		return f, nil
	case "json":
		return &logrus.JSONFormatter{TimestampFormat: cfg.TimeFormat}, nil
	}
	return nil, fmt.Errorf("unsupported log format: %s (must be json or text)", cfg.Format)
}

// build creates a logger and the appenders it writes to.
func build(cfg config.LogConfig) (Logger, *MultiWriter, error) {
	f, err := newFormatter(cfg)
	if err != nil {
		return nil, nil, err
	}
	level := logrus.InfoLevel
	if cfg.Level != "" {
		if level, err = logrus.ParseLevel(cfg.Level); err != nil {
			return nil, nil, fmt.Errorf("invalid log level: %w", err)
		}
	}

	out := NewMultiWriter(os.Stdout)
	if cfg.Outputs.File.Enabled {
		if err := out.AddFileAppender(cfg.Outputs.File); err != nil {
			return nil, nil, err
		}
	}

	l := logrus.New()
	l.SetFormatter(f)
	l.SetLevel(level)
	l.SetOutput(out)
	return entryLogger{logrus.NewEntry(l)}, out, nil
}
