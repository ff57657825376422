// Package errors implements the VM's diagnostic taxonomy: every condition
// the dispatcher or host-call layer raises is a *VMError carrying a
// Severity and a category (ErrorType), plus the source location and call
// stack active when it was raised.
package errors

import (
	"fmt"
	"strings"
)

// ErrorType categorizes what went wrong.
type ErrorType string

const (
	SyntaxError    ErrorType = "SyntaxError"
	RuntimeError   ErrorType = "RuntimeError"
	TypeError      ErrorType = "TypeError"
	ReferenceError ErrorType = "ReferenceError"
	ImportError    ErrorType = "ImportError"
	CompileError   ErrorType = "CompileError"
)

// Severity is the four-level diagnostic taxonomy.
type Severity int

const (
	// Notice: auto-vivification, undefined-variable read with create,
	// default-value substitution on a null argument. Execution continues
	// unchanged.
	Notice Severity = iota
	// Warning: missing array index, bad operand types, unresolved
	// method/class/attribute lookup. Execution continues with a
	// substituted value.
	Warning
	// Recoverable: division by zero, typed-argument constraint violation,
	// reading a constant as a variable. A diagnostic is emitted and
	// null/zero/false is substituted.
	Recoverable
	// Fatal: out-of-memory, consumer abort, an uncaught exception that
	// reached the outermost dispatcher invocation. The VM stops.
	Fatal
)

func (s Severity) String() string {
	switch s {
	case Notice:
		return "Notice"
	case Warning:
		return "Warning"
	case Recoverable:
		return "Recoverable"
	case Fatal:
		return "Fatal"
	default:
		return "Unknown"
	}
}

// SourceLocation is a location in the script that produced the bytecode.
type SourceLocation struct {
	File   string
	Line   int
	Column int
}

// StackFrame is a single entry in a formatted call stack.
type StackFrame struct {
	Function string
	File     string
	Line     int
	Column   int
}

// VMError is the error value raised by the dispatcher, RefTable,
// ClassRegistry, FunctionRegistry, and Host-Call API.
type VMError struct {
	Type      ErrorType
	Severity  Severity
	Message   string
	Location  SourceLocation
	CallStack []StackFrame
	Source    string
}

func (e *VMError) Error() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("%s %s: %s\n", e.Severity, e.Type, e.Message))

	if e.Location.File != "" {
		sb.WriteString(fmt.Sprintf("  at %s:%d:%d\n",
			e.Location.File, e.Location.Line, e.Location.Column))

		if e.Source != "" {
			sb.WriteString(fmt.Sprintf("\n  %d | %s\n", e.Location.Line, e.Source))
			sb.WriteString(fmt.Sprintf("  %s", strings.Repeat(" ", len(fmt.Sprintf("%d | ", e.Location.Line)))))
			if e.Location.Column > 0 {
				sb.WriteString(strings.Repeat(" ", e.Location.Column-1))
			}
			sb.WriteString("^\n")
		}
	}

	if len(e.CallStack) > 0 {
		sb.WriteString("\nCall Stack:\n")
		for _, frame := range e.CallStack {
			if frame.Function != "" {
				sb.WriteString(fmt.Sprintf("  at %s (%s:%d:%d)\n",
					frame.Function, frame.File, frame.Line, frame.Column))
			} else {
				sb.WriteString(fmt.Sprintf("  at %s:%d:%d\n",
					frame.File, frame.Line, frame.Column))
			}
		}
	}

	return sb.String()
}

// Catchable reports whether a script-level try/catch may intercept this
// condition. Only Fatal diagnostics bypass the exception unit entirely.
func (e *VMError) Catchable() bool {
	return e.Severity != Fatal
}

func newAt(et ErrorType, sev Severity, message, file string, line, column int) *VMError {
	return &VMError{
		Type:     et,
		Severity: sev,
		Message:  message,
		Location: SourceLocation{File: file, Line: line, Column: column},
	}
}

// NewSyntaxError constructs a Fatal SyntaxError diagnostic, the kind the
// asmtext assembler returns for a malformed listing.
func NewSyntaxError(message, file string, line, column int) *VMError {
	return newAt(SyntaxError, Fatal, message, file, line, column)
}

// NewRuntimeError constructs the dispatcher's default recoverable
// diagnostic (division by zero, bad coercion, failed lookup).
func NewRuntimeError(message, file string, line, column int) *VMError {
	return newAt(RuntimeError, Recoverable, message, file, line, column)
}

// NewTypeError constructs a typed-argument constraint violation.
func NewTypeError(message, file string, line, column int) *VMError {
	return newAt(TypeError, Recoverable, message, file, line, column)
}

// NewReferenceError constructs an unresolved class/method/attribute lookup.
func NewReferenceError(message, file string, line, column int) *VMError {
	return newAt(ReferenceError, Warning, message, file, line, column)
}

// NewNotice constructs a Notice-severity RuntimeError (auto-vivification,
// undefined-variable read, default substitution).
func NewNotice(message, file string, line, column int) *VMError {
	return newAt(RuntimeError, Notice, message, file, line, column)
}

// NewFatal constructs a Fatal diagnostic: out-of-memory, consumer abort,
// or an uncaught exception reaching the outermost dispatcher.
func NewFatal(message, file string, line, column int) *VMError {
	return newAt(RuntimeError, Fatal, message, file, line, column)
}

func (e *VMError) WithSource(source string) *VMError {
	e.Source = source
	return e
}

func (e *VMError) WithStack(stack []StackFrame) *VMError {
	e.CallStack = stack
	return e
}

func (e *VMError) AddStackFrame(function, file string, line, column int) *VMError {
	e.CallStack = append(e.CallStack, StackFrame{
		Function: function,
		File:     file,
		Line:     line,
		Column:   column,
	})
	return e
}
