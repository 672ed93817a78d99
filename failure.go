package modhost

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"
)

// Lifecycle phases recorded on failures.
const (
	PhaseStart = "start"
	PhaseStop  = "stop"
	PhaseLoad  = "load"
)

// FailureRecord describes the most recent contained failure of a module.
type FailureRecord struct {
	ModuleID string    `json:"moduleId"`
	Phase    string    `json:"phase"`
	Message  string    `json:"message"`
	Detail   string    `json:"detail,omitempty"`
	Time     time.Time `json:"time"`
	Err      error     `json:"-"`
}

func newFailure(moduleID, phase string, err error) *FailureRecord {
	f := &FailureRecord{
		ModuleID: moduleID,
		Phase:    phase,
		Message:  err.Error(),
		Detail:   fmt.Sprintf("%+v", err),
		Time:     time.Now(),
		Err:      err,
	}
	var pe *panicError
	if errors.As(err, &pe) {
		f.Detail = pe.stack
	}
	return f
}

func (f *FailureRecord) Error() string {
	return fmt.Sprintf("module %s failed to %s: %s", f.ModuleID, f.Phase, f.Message)
}

func (f *FailureRecord) Unwrap() error { return f.Err }

type panicError struct {
	value any
	stack string
}

func (p *panicError) Error() string {
	return fmt.Sprintf("%s: %v", ErrModulePanicked, p.value)
}

func (p *panicError) Unwrap() error { return ErrModulePanicked }

// safeCall runs module code, converting a panic into an error.
func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r, stack: string(debug.Stack())}
		}
	}()
	return fn()
}

// safeCallCtx is safeCall for hooks taking a context.
func safeCallCtx(ctx context.Context, fn func(context.Context) error) error {
	return safeCall(func() error { return fn(ctx) })
}
