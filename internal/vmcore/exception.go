package vmcore

import (
	"phlang/internal/bytecode"
	"phlang/internal/classreg"
	"phlang/internal/errors"
	"phlang/internal/frame"
	"phlang/internal/value"
)

// tryEntry is one live protected region: the catch clauses guarding it,
// the operand-stack depth to restore to on throw, and the helper frame
// LOAD_EXCEPTION pushed for it.
type tryEntry struct {
	Block      *bytecode.ExceptionBlock
	StackDepth int
	Helper     *frame.Frame
}

// isThrowable reports whether v can be the operand of THROW: an object
// whose class (or an ancestor) carries FlagThrowable.
func (vm *VM) isThrowable(v value.Value) (*classreg.Class, bool) {
	if v.Kind() != value.KindObject {
		return nil, false
	}
	obj := v.RawObject()
	cls, ok := vm.Classes.Lookup(obj.ClassName())
	if !ok {
		return nil, false
	}
	for c := cls; c != nil; c = c.Parent {
		if c.Flags&classreg.FlagThrowable != 0 {
			return cls, true
		}
	}
	return nil, false
}

// dispatchThrow searches tryStack (innermost first) for a catch clause
// matching thrown's class, popping non-matching try entries as it goes
// (their protected region is being unwound). On a match it binds the
// clause's variable, repositions ip and the operand stack, and returns
// true. On exhaustion it returns false: the caller must mark its frame
// Throw and return StatusException.
func (vm *VM) dispatchThrow(
	thrown value.Value,
	thrownClass *classreg.Class,
	tryStack *[]tryEntry,
	fr **frame.Frame,
	stack *[]value.Value,
	ip *int,
) bool {
	for len(*tryStack) > 0 {
		top := (*tryStack)[len(*tryStack)-1]
		*tryStack = (*tryStack)[:len(*tryStack)-1]

		for _, c := range top.Block.Catches {
			targetClass, ok := vm.Classes.Lookup(c.ClassName)
			if !ok || !classreg.IsInstanceOf(thrownClass, targetClass) {
				continue
			}
			catchFrame := frame.NewHelper(*fr, frame.FlagCatch, int(c.StartIP))
			catchFrame.Code = (*fr).Code
			if c.VarName != "" {
				slot := vm.RT.Reserve()
				vm.RT.Set(slot, thrown)
				catchFrame.Bind(c.VarName, slot)
				catchFrame.MarkOwned(slot)
			}
			*fr = catchFrame
			*stack = (*stack)[:top.StackDepth]
			*ip = int(c.StartIP)
			return true
		}
		// Release the helper frame this try block installed before moving to
		// the next (outer) one.
		if top.Helper != nil {
			vm.releaseFrameSlots(top.Helper)
		}
	}
	return false
}

// releaseFrameSlots runs a frame's release list against the RefTable:
// leaving a frame frees each local slot it owns unless pinned.
func (vm *VM) releaseFrameSlots(fr *frame.Frame) {
	for _, slot := range fr.ReleaseList() {
		vm.RT.Release(slot, false)
	}
}

// dispatchUncaught invokes the configured uncaught-exception handler, if
// any, otherwise raises a Fatal diagnostic. Run calls it when an
// exception escapes the top-level program, and unwind calls it when an
// exception escapes a callback invocation (isCallback).
func (vm *VM) dispatchUncaught(thrown value.Value) {
	if vm.hasUncaught {
		vm.invokeCallable(vm.uncaughtHandler, []value.Value{thrown}, value.Null(), true)
		return
	}
	msg := "Uncaught exception"
	if thrown.Kind() == value.KindObject {
		msg = "Uncaught " + thrown.RawObject().ClassName()
	}
	vm.raise(errors.Fatal, errors.RuntimeError, msg)
}
