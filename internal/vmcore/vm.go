// Package vmcore implements the bytecode dispatcher, the exception-unwind
// machinery, and the host-call surface embedders use to invoke script
// functions from Go. It wires together value, reftable, frame, classreg
// and funcreg, all of which it alone depends on (none of them depend back
// on it) as a single monolithic interpreter package.
package vmcore

import (
	"phlang/internal/bytecode"
	"phlang/internal/classreg"
	"phlang/internal/errors"
	"phlang/internal/frame"
	"phlang/internal/funcreg"
	"phlang/internal/hostapi"
	"phlang/internal/reftable"
	"phlang/internal/value"
)

// ConsumerStatus is the output sink's return code.
type ConsumerStatus int

const (
	ConsumerOK ConsumerStatus = iota
	ConsumerAbort
)

// OutputConsumer is the caller-supplied byte sink used for program output
// and diagnostics.
type OutputConsumer func(data []byte, userData any) ConsumerStatus

// outputBuffer is one level of the re-entrant output-buffering stack.
type outputBuffer struct {
	data      []byte
	transform func([]byte) []byte
}

// StreamDevice is a registered I/O-stream device: a named handle to
// something foreign functions can read from or write to (sockets, files,
// in-process pipes).
type StreamDevice interface {
	Name() string
	Write(p []byte) (int, error)
	Read(p []byte) (int, error)
	Close() error
}

// VM is one interpreter instance: strictly single-threaded, owning every
// resource it touches. Nothing here is shared across VM instances.
type VM struct {
	RT        *reftable.RefTable
	Classes   *classreg.ClassRegistry
	Functions *funcreg.FunctionRegistry

	consumer   OutputConsumer
	consumerUD any
	obStack    []*outputBuffer

	superglobals map[string]int // name -> pinned RefTable slot
	importPaths  []string

	maxRecursionDepth int
	callDepth         int

	shutdownCallbacks []value.Value
	uncaughtHandler   value.Value
	hasUncaught       bool

	errorLogCallback func(*errors.VMError)
	lastError        *errors.VMError

	scriptReturn value.Value

	streamDevices map[string]StreamDevice

	globalFrame *frame.Frame

	// constCache holds the expansion callbacks of built-in constants
	// registered via RegisterConstant; ResolveConstant calls the callback
	// on every lookup and does not store the result.
	constCache map[string]func() value.Value

	// importedPrograms holds the instruction vectors an embedder
	// pre-registered for `include` to dispatch to, keyed by the
	// path a script passes. No lexer/parser is in scope for this module,
	// so nothing here compiles source on demand.
	importedPrograms map[string]*bytecode.Program
}

// New returns a ready-to-run VM. Foreign functions, classes and
// superglobals are registered afterward through the configuration verbs
// below and through Functions/Classes directly.
func New() *VM {
	vm := &VM{
		RT:                reftable.New(),
		Classes:           classreg.New(),
		Functions:         funcreg.New(),
		superglobals:      make(map[string]int),
		maxRecursionDepth: 256,
		streamDevices:     make(map[string]StreamDevice),
		constCache:        make(map[string]func() value.Value),
		scriptReturn:      value.Null(),
		importedPrograms:  make(map[string]*bytecode.Program),
	}
	vm.globalFrame = frame.New(nil)
	vm.registerIntrinsicClasses()
	value.ResolveSlot = vm.RT.Get
	value.ReserveSlot = func(v value.Value) int {
		slot := vm.RT.Reserve()
		vm.RT.Set(slot, v)
		return slot
	}
	return vm
}

// registerIntrinsicClasses defines the Throwable marker interface every
// exception class must implement to be catchable.
func (vm *VM) registerIntrinsicClasses() {
	throwable := classreg.NewClass("Throwable")
	throwable.Flags |= classreg.FlagInterface | classreg.FlagThrowable
	vm.Classes.Define(throwable)

	base := classreg.NewClass("Exception")
	base.Interfaces["Throwable"] = true
	base.Flags |= classreg.FlagThrowable
	base.Attrs["message"] = &classreg.AttrDef{Name: "message", Kind: classreg.AttrInstance, Default: value.InitFromString("")}
	vm.Classes.Define(base)
}

// ---- Configuration verbs ----

// SetOutputConsumer registers the byte sink for program output and
// diagnostics.
func (vm *VM) SetOutputConsumer(c OutputConsumer, userData any) {
	vm.consumer = c
	vm.consumerUD = userData
}

// AppendImportPath adds a directory to the search path `include`/`import`
// resolve relative paths against.
func (vm *VM) AppendImportPath(path string) {
	vm.importPaths = append(vm.importPaths, path)
}

// ImportPaths returns the configured import-path list, in search order.
func (vm *VM) ImportPaths() []string { return append([]string(nil), vm.importPaths...) }

// RegisterImport associates path with a pre-assembled program, making it
// reachable from script-level `include`. The embedder calls this
// ahead of time for every file a script might include, since this
// module has no compiler of its own to invoke lazily.
func (vm *VM) RegisterImport(path string, prog *bytecode.Program) {
	vm.importedPrograms[path] = prog
}

// ResolveImport looks up a program registered under path, or under any
// configured import-path directory joined with path.
func (vm *VM) ResolveImport(path string) (*bytecode.Program, bool) {
	if prog, ok := vm.importedPrograms[path]; ok {
		return prog, true
	}
	for _, dir := range vm.importPaths {
		if prog, ok := vm.importedPrograms[dir+"/"+path]; ok {
			return prog, true
		}
	}
	return nil, false
}

// SetRecursionDepth configures the ceiling the dispatcher enforces on
// nested user-function calls.
func (vm *VM) SetRecursionDepth(n int) { vm.maxRecursionDepth = n }

// OutputLength reports how many bytes are currently buffered in the
// active (innermost) output buffer, or -1 if buffering is off.
func (vm *VM) OutputLength() int {
	if len(vm.obStack) == 0 {
		return -1
	}
	return len(vm.obStack[len(vm.obStack)-1].data)
}

// DefineSuperglobal creates (or re-seeds) a pinned global variable such as
// $_SERVER/$_GET/$_POST/$_COOKIE/$_SESSION/$_ENV/$_HEADER/argv.
func (vm *VM) DefineSuperglobal(name string, v value.Value) int {
	slot, ok := vm.superglobals[name]
	if !ok {
		slot = vm.RT.Reserve()
		vm.RT.Pin(slot)
		vm.superglobals[name] = slot
		vm.globalFrame.Bind(name, slot)
	}
	vm.RT.Set(slot, v)
	return slot
}

// SetErrorLogCallback installs a callback that receives every structured
// diagnostic the VM raises, in addition to routing it through the output
// consumer.
func (vm *VM) SetErrorLogCallback(cb func(*errors.VMError)) {
	vm.errorLogCallback = cb
}

// LastError returns the most recently raised diagnostic, or nil.
func (vm *VM) LastError() *errors.VMError { return vm.lastError }

// ScriptReturnValue is the script-return-value extractor: the value the
// outermost DONE carried (or Null if the program never reached one).
func (vm *VM) ScriptReturnValue() value.Value { return vm.scriptReturn }

// RegisterStreamDevice installs an I/O-stream device foreign functions can
// address by name.
func (vm *VM) RegisterStreamDevice(d StreamDevice) {
	vm.streamDevices[d.Name()] = d
}

// StreamDevice looks up a previously registered device.
func (vm *VM) StreamDevice(name string) (StreamDevice, bool) {
	d, ok := vm.streamDevices[name]
	return d, ok
}

// RegisterConstant installs a built-in constant under name. expand is
// called each time ResolveConstant looks the name up; no opcode of the
// instruction set reads constants, so only host code resolves them.
func (vm *VM) RegisterConstant(name string, expand func() value.Value) {
	vm.constCache[name] = expand
}

// ResolveConstant expands and returns a registered constant.
func (vm *VM) ResolveConstant(name string) (value.Value, bool) {
	expand, ok := vm.constCache[name]
	if !ok {
		return value.Null(), false
	}
	return expand(), true
}

// RegisterShutdownCallback appends a callable name to the shutdown list,
// run in registration order after DONE.
func (vm *VM) RegisterShutdownCallback(callable value.Value) {
	vm.shutdownCallbacks = append(vm.shutdownCallbacks, callable)
}

// SetUncaughtExceptionHandler installs the callback invoked when an
// exception reaches the outermost dispatcher with no catch clause left
// to try.
func (vm *VM) SetUncaughtExceptionHandler(callable value.Value) {
	vm.uncaughtHandler = callable
	vm.hasUncaught = true
}

// GlobalFrame returns the VM's root frame (superglobals and top-level
// variables live here).
func (vm *VM) GlobalFrame() *frame.Frame { return vm.globalFrame }

// ---- Output plumbing ----

// emit writes bytes to the active output buffer, or directly to the
// consumer if no buffer is active. Returns false if the consumer
// requested an abort.
func (vm *VM) emit(p []byte) bool {
	if len(vm.obStack) > 0 {
		buf := vm.obStack[len(vm.obStack)-1]
		buf.data = append(buf.data, p...)
		return true
	}
	if vm.consumer == nil {
		return true
	}
	return vm.consumer(p, vm.consumerUD) == ConsumerOK
}

// PushOutputBuffer starts output buffering (`ob_start`-equivalent).
func (vm *VM) PushOutputBuffer(transform func([]byte) []byte) {
	vm.obStack = append(vm.obStack, &outputBuffer{transform: transform})
}

// PopOutputBuffer ends the innermost buffer, flushing (transformed)
// contents to whatever is beneath it (another buffer, or the consumer).
func (vm *VM) PopOutputBuffer() []byte {
	if len(vm.obStack) == 0 {
		return nil
	}
	buf := vm.obStack[len(vm.obStack)-1]
	vm.obStack = vm.obStack[:len(vm.obStack)-1]
	out := buf.data
	if buf.transform != nil {
		out = buf.transform(out)
	}
	vm.emit(out)
	return out
}

// diagnosticSink adapts the VM to hostapi.DiagnosticSink for foreign
// functions, and is also used internally by the dispatcher.
type diagnosticSink struct{ vm *VM }

func (s diagnosticSink) Emit(sev hostapi.Severity, message string) {
	s.vm.raise(toSeverity(sev), errors.RuntimeError, message)
}

func toSeverity(sev hostapi.Severity) errors.Severity {
	switch sev {
	case hostapi.SeverityNotice:
		return errors.Notice
	case hostapi.SeverityWarning:
		return errors.Warning
	case hostapi.SeverityRecoverable:
		return errors.Recoverable
	default:
		return errors.Fatal
	}
}

// raise builds a VMError, stores it as lastError, forwards it to the
// error-log callback if any, and always writes its formatted text through
// emit; there is no switch that disables this, so embedders that want
// silence configure a no-op OutputConsumer.
func (vm *VM) raise(sev errors.Severity, et errors.ErrorType, message string) *errors.VMError {
	e := &errors.VMError{Type: et, Severity: sev, Message: message}
	vm.lastError = e
	if vm.errorLogCallback != nil {
		vm.errorLogCallback(e)
	}
	vm.emit([]byte(e.Error()))
	return e
}

// CurrentRecursionDepth reports the dispatcher's live call depth.
func (vm *VM) CurrentRecursionDepth() int { return vm.callDepth }

var _ = bytecode.OpDone // keep bytecode imported for godoc cross-reference
