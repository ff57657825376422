package vmcore

import (
	"fmt"
	"strings"

	"phlang/internal/bytecode"
	"phlang/internal/classreg"
	"phlang/internal/errors"
	"phlang/internal/frame"
	"phlang/internal/funcreg"
	"phlang/internal/hostapi"
	"phlang/internal/reftable"
	"phlang/internal/value"
)

// typeMatches checks v against a declared parameter type constraint: a
// scalar keyword, or a class/interface name checked via instanceof.
func (vm *VM) typeMatches(typeName string, v value.Value) bool {
	switch strings.ToLower(typeName) {
	case "mixed":
		return true
	case "int", "integer":
		return v.Kind() == value.KindInt
	case "real", "float", "double":
		return v.Kind() == value.KindReal || v.Kind() == value.KindInt
	case "string":
		return v.Kind() == value.KindString
	case "bool", "boolean":
		return v.Kind() == value.KindBool
	case "array":
		return v.Kind() == value.KindArray
	case "object":
		return v.Kind() == value.KindObject
	case "callable":
		return v.Kind() == value.KindString || v.Kind() == value.KindResource
	case "null":
		return v.Kind() == value.KindNull
	default:
		if v.Kind() != value.KindObject {
			return false
		}
		cls, ok := vm.Classes.Lookup(v.RawObject().ClassName())
		if !ok {
			return false
		}
		target, ok := vm.Classes.Lookup(typeName)
		if !ok {
			return false
		}
		return classreg.IsInstanceOf(cls, target)
	}
}

// argKind renders a value's runtime type the way funcreg's overload
// resolution expects: object arguments contribute their class name so a
// class-typed overload can match it.
func argKind(v value.Value) string {
	if v.Kind() == value.KindObject {
		return v.RawObject().ClassName()
	}
	return v.Kind().String()
}

func argKinds(args []value.Value) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = argKind(a)
	}
	return out
}

// invokeUserFunction runs fn with args bound to its declared parameters
// (by value, or by reference when both the parameter and the argument
// allow it) and this bound if non-null. callerFrame is only used for
// diagnostics; the callee's Frame.Parent is purely informational since
// Lookup never walks a non-helper frame's parent: locals are flat per call.
func (vm *VM) invokeUserFunction(fn *funcreg.UserFunction, args []value.Value, this value.Value, callerFrame *frame.Frame, isCallback bool) Outcome {
	if vm.callDepth >= vm.maxRecursionDepth {
		vm.raise(errors.Fatal, errors.RuntimeError, "maximum recursion depth exceeded")
		return Outcome{value.Null(), StatusAbort}
	}
	vm.callDepth++
	defer func() { vm.callDepth-- }()

	callee := frame.New(callerFrame)
	callee.FunctionName = fn.Name

	for i, p := range fn.Params {
		var arg value.Value
		haveArg := i < len(args)
		switch {
		case haveArg:
			arg = args[i]
		case p.Default != nil:
			out := vm.runProgram(p.Default, frame.New(callee), false)
			arg = out.Value
		default:
			arg = value.Null()
		}

		if p.TypeName != "" && haveArg && !vm.typeMatches(p.TypeName, arg) {
			vm.raise(errors.Recoverable, errors.TypeError, fmt.Sprintf(
				"argument $%s of %s() must be of type %s, %s given",
				p.Name, fn.Name, p.TypeName, argKind(arg)))
		}

		if p.ByRef && haveArg && arg.Addressable() {
			slot := arg.Index()
			callee.Bind(p.Name, slot)
			callee.MarkAliased(slot)
			vm.RT.InstallVarRef(slot, reftable.VarBackref{Frame: callee, Name: p.Name}, false)
			continue
		}
		slot := vm.RT.Reserve()
		vm.RT.Set(slot, arg)
		callee.Bind(p.Name, slot)
		callee.MarkOwned(slot)
	}

	if fn.Closure != nil {
		for name, raw := range fn.Closure {
			if slot, ok := raw.(int); ok {
				// Captured slots belong to the closure, not to this call, so
				// they are not released when the callee frame exits.
				callee.Bind(name, slot)
			}
		}
	}

	if this.Kind() != value.KindNull {
		slot := vm.RT.Reserve()
		vm.RT.Set(slot, this)
		callee.This = slot
		callee.Bind("this", slot)
		callee.MarkOwned(slot)
	} else {
		callee.This = -1
	}

	out := vm.runProgram(fn.Code, callee, isCallback)
	vm.releaseFrameSlots(callee)
	return out
}

// invokeForeign builds a CallContext, runs ff, and tears the context down.
func (vm *VM) invokeForeign(ff *hostapi.ForeignFunction, args []value.Value, this value.Value) Outcome {
	ctx := hostapi.NewCallContext(args, ff.UserData, diagnosticSink{vm})
	ctx.This = this
	status := ff.Impl(ctx)
	ctx.Teardown()
	if status == hostapi.StatusAbort {
		return Outcome{ctx.Result, StatusAbort}
	}
	return Outcome{ctx.Result, StatusDone}
}

// invokeCallable resolves a first-class callable value (a function-name
// string, or a closure packed into a Resource by LOAD_CLOSURE) and
// invokes it. Used by shutdown callbacks and the uncaught-exception
// handler, both of which are configured as plain Values rather than
// pre-resolved functions.
func (vm *VM) invokeCallable(callable value.Value, args []value.Value, this value.Value, isCallback bool) Outcome {
	switch callable.Kind() {
	case value.KindString:
		name := callable.ToString()
		if head, ok := vm.Functions.Lookup(name); ok {
			fn := funcreg.ResolveOverload(head, argKinds(args))
			if fn == nil {
				fn = head
			}
			return vm.invokeUserFunction(fn, args, this, vm.globalFrame, isCallback)
		}
		if ff, ok := vm.Functions.LookupForeign(name); ok {
			return vm.invokeForeign(ff, args, this)
		}
		vm.raise(errors.Recoverable, errors.ReferenceError, "call to undefined function "+name)
		return Outcome{value.Null(), StatusDone}
	case value.KindResource:
		res := callable.RawResource()
		if res != nil && res.Kind == "closure" {
			if fn, ok := res.Data.(*funcreg.UserFunction); ok {
				return vm.invokeUserFunction(fn, args, this, vm.globalFrame, isCallback)
			}
		}
	}
	vm.raise(errors.Recoverable, errors.TypeError, "value is not callable")
	return Outcome{value.Null(), StatusDone}
}

// execCall implements the CALL opcode: pop ins.P1 arguments (and, for
// method/closure shapes, the receiver beneath them), resolve the callee,
// invoke it, and return the Outcome the dispatcher should act on.
func (vm *VM) execCall(ins bytecode.Instruction, stack *[]value.Value, currentClass *classreg.Class) Outcome {
	spec, _ := ins.P3.(*bytecode.CallSpec)
	if spec == nil {
		vm.raise(errors.Fatal, errors.RuntimeError, "CALL instruction missing call spec")
		return Outcome{value.Null(), StatusAbort}
	}
	n := int(ins.P1)
	s := *stack
	if len(s) < n {
		vm.raise(errors.Fatal, errors.RuntimeError, "operand stack underflow in CALL")
		return Outcome{value.Null(), StatusAbort}
	}
	args := append([]value.Value(nil), s[len(s)-n:]...)
	s = s[:len(s)-n]

	var out Outcome
	switch spec.Kind {
	case bytecode.CallFunction:
		if head, ok := vm.Functions.Lookup(spec.Name); ok {
			fn := funcreg.ResolveOverload(head, argKinds(args))
			if fn == nil {
				fn = head
			}
			out = vm.invokeUserFunction(fn, args, value.Null(), vm.globalFrame, false)
		} else if ff, ok := vm.Functions.LookupForeign(spec.Name); ok {
			out = vm.invokeForeign(ff, args, value.Null())
		} else {
			vm.raise(errors.Recoverable, errors.ReferenceError, "call to undefined function "+spec.Name)
			out = Outcome{value.Null(), StatusDone}
		}

	case bytecode.CallMethod:
		if len(s) < 1 {
			vm.raise(errors.Fatal, errors.RuntimeError, "operand stack underflow in method CALL")
			*stack = s
			return Outcome{value.Null(), StatusAbort}
		}
		obj := s[len(s)-1]
		s = s[:len(s)-1]
		out = vm.dispatchMethodCall(obj, spec.Name, args, currentClass)

	case bytecode.CallStaticMethod:
		cls, ok := vm.Classes.Lookup(spec.ClassName)
		if !ok {
			vm.raise(errors.Recoverable, errors.ReferenceError, "call to undefined class "+spec.ClassName)
			out = Outcome{value.Null(), StatusDone}
			break
		}
		m, ok := classreg.LookupMethod(cls, spec.Name)
		if !ok {
			vm.raise(errors.Recoverable, errors.ReferenceError, "call to undefined method "+spec.ClassName+"::"+spec.Name)
			out = Outcome{value.Null(), StatusDone}
			break
		}
		out = vm.invokeUserFunction(m.Fn, args, value.Null(), vm.globalFrame, false)

	case bytecode.CallClosureTOS:
		if len(s) < 1 {
			vm.raise(errors.Fatal, errors.RuntimeError, "operand stack underflow in closure CALL")
			*stack = s
			return Outcome{value.Null(), StatusAbort}
		}
		closure := s[len(s)-1]
		s = s[:len(s)-1]
		out = vm.invokeCallable(closure, args, value.Null(), false)

	default:
		vm.raise(errors.Fatal, errors.RuntimeError, "unknown call kind")
		out = Outcome{value.Null(), StatusAbort}
	}

	*stack = s
	return out
}

// dispatchMethodCall resolves and invokes an instance method, applying
// the public/protected/private visibility rule against the class that
// lexically encloses the call site.
func (vm *VM) dispatchMethodCall(obj value.Value, name string, args []value.Value, callerClass *classreg.Class) Outcome {
	if obj.Kind() != value.KindObject {
		vm.raise(errors.Recoverable, errors.TypeError, "method call on a non-object")
		return Outcome{value.Null(), StatusDone}
	}
	cls, ok := vm.Classes.Lookup(obj.RawObject().ClassName())
	if !ok {
		vm.raise(errors.Recoverable, errors.ReferenceError, "call to method on unregistered class "+obj.RawObject().ClassName())
		return Outcome{value.Null(), StatusDone}
	}
	m, ok := classreg.LookupMethod(cls, name)
	if !ok {
		vm.raise(errors.Recoverable, errors.ReferenceError, "call to undefined method "+cls.Name+"::"+name)
		return Outcome{value.Null(), StatusDone}
	}
	if !classreg.CheckVisibility(m.Visibility, m.DeclClass, callerClass) {
		vm.raise(errors.Recoverable, errors.ReferenceError, "call to "+visibilityLabel(m.Visibility)+" method "+cls.Name+"::"+name+" from invalid context")
		return Outcome{value.Null(), StatusDone}
	}
	return vm.invokeUserFunction(m.Fn, args, obj, vm.globalFrame, false)
}

func visibilityLabel(v classreg.Visibility) string {
	switch v {
	case classreg.Private:
		return "private"
	case classreg.Protected:
		return "protected"
	default:
		return "public"
	}
}
