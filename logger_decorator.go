package modhost

// LoggerDecorator defines the interface for decorating loggers.
type LoggerDecorator interface {
	Logger

	// GetInnerLogger returns the wrapped logger
	GetInnerLogger() Logger
}

// BaseLoggerDecorator forwards every call to the wrapped logger.
type BaseLoggerDecorator struct {
	inner Logger
}

// NewBaseLoggerDecorator creates a new base decorator wrapping the given logger.
func NewBaseLoggerDecorator(inner Logger) *BaseLoggerDecorator {
	return &BaseLoggerDecorator{inner: inner}
}

// GetInnerLogger returns the wrapped logger
func (d *BaseLoggerDecorator) GetInnerLogger() Logger {
	return d.inner
}

func (d *BaseLoggerDecorator) Info(msg string, args ...any) {
	d.inner.Info(msg, args...)
}

func (d *BaseLoggerDecorator) Error(msg string, args ...any) {
	d.inner.Error(msg, args...)
}

func (d *BaseLoggerDecorator) Warn(msg string, args ...any) {
	d.inner.Warn(msg, args...)
}

func (d *BaseLoggerDecorator) Debug(msg string, args ...any) {
	d.inner.Debug(msg, args...)
}

// ValueInjectionLoggerDecorator prepends fixed key-value pairs to every log call.
// The host uses it to tag everything a module context logs with the module id.
type ValueInjectionLoggerDecorator struct {
	*BaseLoggerDecorator
	injectedArgs []any
}

// NewValueInjectionLoggerDecorator creates a decorator that automatically injects values into log events.
func NewValueInjectionLoggerDecorator(inner Logger, injectedArgs ...any) *ValueInjectionLoggerDecorator {
	return &ValueInjectionLoggerDecorator{
		BaseLoggerDecorator: NewBaseLoggerDecorator(inner),
		injectedArgs:        injectedArgs,
	}
}

func (d *ValueInjectionLoggerDecorator) combineArgs(originalArgs []any) []any {
	if len(d.injectedArgs) == 0 {
		return originalArgs
	}
	if len(originalArgs) == 0 {
		return d.injectedArgs
	}
	combined := make([]any, 0, len(d.injectedArgs)+len(originalArgs))
	combined = append(combined, d.injectedArgs...)
	combined = append(combined, originalArgs...)
	return combined
}

func (d *ValueInjectionLoggerDecorator) Info(msg string, args ...any) {
	d.inner.Info(msg, d.combineArgs(args)...)
}

func (d *ValueInjectionLoggerDecorator) Error(msg string, args ...any) {
	d.inner.Error(msg, d.combineArgs(args)...)
}

func (d *ValueInjectionLoggerDecorator) Warn(msg string, args ...any) {
	d.inner.Warn(msg, d.combineArgs(args)...)
}

func (d *ValueInjectionLoggerDecorator) Debug(msg string, args ...any) {
	d.inner.Debug(msg, d.combineArgs(args)...)
}

// moduleLogger returns the logger handed to a module context.
func moduleLogger(base Logger, moduleID string) Logger {
	return NewValueInjectionLoggerDecorator(base, "module", moduleID)
}
