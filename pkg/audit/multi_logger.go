package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// MultiLogger fans events out to several sinks
type MultiLogger struct {
	loggers []Logger
	async   bool
	wg      sync.WaitGroup
	errMu   sync.Mutex
	errs    []error
}

// NewMultiLogger creates a synchronous fan-out sink
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{loggers: loggers}
}

// SetAsync switches delivery to one goroutine per sink; errors are collected for Errors
func (m *MultiLogger) SetAsync(async bool) {
	m.async = async
}

// Log delivers the event to every sink, continuing past failures
func (m *MultiLogger) Log(ctx context.Context, event *AuditEvent) error {
	if m.async {
		for _, logger := range m.loggers {
			m.wg.Add(1)
			go func(l Logger) {
				defer m.wg.Done()
				if err := l.Log(context.WithoutCancel(ctx), event); err != nil {
					m.recordErr(err)
				}
			}(logger)
		}
		return nil
	}

	var errs []error
	for _, logger := range m.loggers {
		if err := logger.Log(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MultiLogger) recordErr(err error) {
	m.errMu.Lock()
	defer m.errMu.Unlock()
	m.errs = append(m.errs, err)
}

// Wait blocks until pending async deliveries finish
func (m *MultiLogger) Wait() {
	m.wg.Wait()
}

// Errors drains errors collected from async deliveries
func (m *MultiLogger) Errors() []error {
	m.errMu.Lock()
	defer m.errMu.Unlock()
	errs := m.errs
	m.errs = nil
	return errs
}

// Close waits for pending deliveries and closes every sink
func (m *MultiLogger) Close() error {
	m.wg.Wait()

	var errs []error
	for _, logger := range m.loggers {
		if err := logger.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close audit logger: %w", err))
		}
	}
	return errors.Join(errs...)
}
