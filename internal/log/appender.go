package log

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"firestige.xyz/fwip/internal/config"
)

// MultiWriter fans log output out to every appender. A failing appender does
// not stop the others.
type MultiWriter struct {
	mu       sync.Mutex
	writers  []io.Writer
	failures int
}

// NewMultiWriter returns a writer over the given appenders.
func NewMultiWriter(writers ...io.Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

func (m *MultiWriter) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	for _, w := range m.writers {
		if _, err := w.Write(p); err != nil {
			m.failures++
			errs = append(errs, err)
		}
	}
	return len(p), errors.Join(errs...)
}

// Failures reports how many appender writes have failed.
func (m *MultiWriter) Failures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures
}

// AddFileAppender adds a size-rotated log file.
func (m *MultiWriter) AddFileAppender(fc config.FileOutputConfig) error {
	if fc.Path == "" {
		return fmt.Errorf("file output requires 'path' field")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writers = append(m.writers, &lumberjack.Logger{
		Filename:   fc.Path,
		MaxSize:    fc.Rotation.MaxSizeMB,
		MaxBackups: fc.Rotation.MaxBackups,
		MaxAge:     fc.Rotation.MaxAgeDays,
		Compress:   fc.Rotation.Compress,
	})
	return nil
}

// Close closes the rotated log files. Standard streams stay open.
func (m *MultiWriter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	for _, w := range m.writers {
		if f, ok := w.(*lumberjack.Logger); ok {
			errs = append(errs, f.Close())
		}
	}
	return errors.Join(errs...)
}
