package logging

import "context"

// NoopLogger discards all log output. Used in tests and as a safe default
// when components are constructed without an explicit logger.
type NoopLogger struct{}

// NewNoopLogger creates a logger that discards everything
func NewNoopLogger() Logger { return &NoopLogger{} }

func (n *NoopLogger) Debug(string, ...interface{}) {}
func (n *NoopLogger) Info(string, ...interface{})  {}
func (n *NoopLogger) Warn(string, ...interface{})  {}
func (n *NoopLogger) Error(string, ...interface{}) {}

func (n *NoopLogger) DebugContext(context.Context, string, ...interface{}) {}
func (n *NoopLogger) InfoContext(context.Context, string, ...interface{})  {}
func (n *NoopLogger) WarnContext(context.Context, string, ...interface{})  {}
func (n *NoopLogger) ErrorContext(context.Context, string, ...interface{}) {}

func (n *NoopLogger) WithTraceID(string) Logger   { return n }
func (n *NoopLogger) WithComponent(string) Logger { return n }
