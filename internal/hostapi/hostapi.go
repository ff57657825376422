// Package hostapi defines the call-context contract foreign (host)
// functions are implemented against. It sits below funcreg,
// classreg and vmcore so all three can depend on it without a cycle:
// a ForeignFunction is stored in the FunctionRegistry, invoked by the
// Dispatcher, and built by the Host-Call API — none of which need to know
// about each other's internals to share this one shape.
package hostapi

import "phlang/internal/value"

// Status is the foreign function's return code. StatusAbort is the
// distinguished value that halts the VM.
type Status int

const (
	StatusOK Status = iota
	StatusAbort
)

// Severity mirrors errors.Severity without importing that package (which
// would pull value/errors into a cycle with basically nothing gained);
// DiagnosticSink implementations translate this into a real *errors.VMError.
type Severity int

const (
	SeverityNotice Severity = iota
	SeverityWarning
	SeverityRecoverable
	SeverityFatal
)

// DiagnosticSink lets a foreign function raise a diagnostic the same way
// the dispatcher itself does, without importing the dispatcher.
type DiagnosticSink interface {
	Emit(sev Severity, message string)
}

// Allocator tracks per-call cleanup so a foreign function's scratch
// resources are torn down exactly once, when the call context ends: a
// private allocator whose chunks free automatically at context teardown.
// Go doesn't need manual buffer allocation, but the contract — register
// cleanup, guarantee it runs once, in reverse order —
// is still real for host resources (open files, DB cursors) a foreign
// function opens mid-call.
type Allocator struct {
	cleanups []func()
}

// Defer registers fn to run when the context tears down.
func (a *Allocator) Defer(fn func()) {
	a.cleanups = append(a.cleanups, fn)
}

// Close runs every registered cleanup in reverse registration order.
func (a *Allocator) Close() {
	for i := len(a.cleanups) - 1; i >= 0; i-- {
		a.cleanups[i]()
	}
	a.cleanups = nil
}

// CallContext is what a foreign function receives.
type CallContext struct {
	Args     []value.Value
	Result   value.Value
	UserData any
	This     value.Value // bound $this for a method-shaped foreign call, else Null
	Alloc    *Allocator
	Sink     DiagnosticSink
}

// NewCallContext builds a context over args, ready for a ForeignFunction.
func NewCallContext(args []value.Value, userData any, sink DiagnosticSink) *CallContext {
	return &CallContext{
		Args:     args,
		Result:   value.Null(),
		UserData: userData,
		This:     value.Null(),
		Alloc:    &Allocator{},
		Sink:     sink,
	}
}

// Notice/Warning/Error/Fatal are convenience wrappers over Sink.Emit,
// the facilities a foreign function uses to emit notices/warnings/errors.
// A nil Sink silently drops the diagnostic (used by tests that don't
// care about diagnostic routing).
func (c *CallContext) Notice(message string) {
	if c.Sink != nil {
		c.Sink.Emit(SeverityNotice, message)
	}
}

func (c *CallContext) Warning(message string) {
	if c.Sink != nil {
		c.Sink.Emit(SeverityWarning, message)
	}
}

func (c *CallContext) Error(message string) {
	if c.Sink != nil {
		c.Sink.Emit(SeverityRecoverable, message)
	}
}

func (c *CallContext) Fatal(message string) {
	if c.Sink != nil {
		c.Sink.Emit(SeverityFatal, message)
	}
}

// Teardown releases the context's allocator. Callers (the dispatcher's
// CALL handler) must invoke this exactly once after the foreign function
// returns.
func (c *CallContext) Teardown() {
	c.Alloc.Close()
}

// ForeignFunction is a registered host implementation: a name, the
// implementation pointer, and a user-data value carried from
// registration.
type ForeignFunction struct {
	Name     string
	Impl     func(ctx *CallContext) Status
	UserData any
}
