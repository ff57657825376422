package vmcore

import (
	"phlang/internal/frame"
	"phlang/internal/funcreg"
)

// closureTemplate is the P3 payload LOAD_CLOSURE carries: the function
// body to run plus the names it captures from the enclosing scope.
// Captures are by value unless listed in ByRef, matching `use($c)` vs.
// `use(&$c)`. It lives in vmcore (not bytecode) because resolving a
// capture name against a live Frame is a vmcore-level concern.
type closureTemplate struct {
	Fn       *funcreg.UserFunction
	Captures []string
	ByRef    map[string]bool
}

// NewClosureTemplate builds the opaque P3 payload a LOAD_CLOSURE
// instruction carries. Exported so a code generator (here, asmtext) can
// populate LOAD_CLOSURE instructions without vmcore exposing its
// internal representation as part of the Instruction.P3 contract. byRef
// names a subset of captures bound by reference; pass nil for an
// all-by-value closure.
func NewClosureTemplate(fn *funcreg.UserFunction, captures []string, byRef map[string]bool) any {
	return &closureTemplate{Fn: fn, Captures: captures, ByRef: byRef}
}

// bindClosure produces a fresh UserFunction carrying a Closure map of
// captured-name -> RefTable slot, resolved against fr at the point
// LOAD_CLOSURE executes. Spec.md S6: `use($c)` captures the *value* of
// $c at closure-creation time — later mutating $c in the enclosing scope
// must not alter what the closure sees — so a by-value capture gets its
// own fresh slot seeded with a copy, never the enclosing variable's slot.
// Only a capture explicitly marked ByRef aliases the enclosing slot.
func (vm *VM) bindClosure(t *closureTemplate, fr *frame.Frame) *funcreg.UserFunction {
	bound := *t.Fn
	bound.Closure = make(map[string]any, len(t.Captures))
	for _, name := range t.Captures {
		slot, ok := frame.Lookup(fr, name)
		if !ok {
			slot = vm.RT.Reserve()
			frame.NearestNonHelper(fr).Bind(name, slot)
		}
		if t.ByRef != nil && t.ByRef[name] {
			bound.Closure[name] = slot
			continue
		}
		copySlot := vm.RT.Reserve()
		vm.RT.Set(copySlot, vm.RT.Get(slot))
		bound.Closure[name] = copySlot
	}
	return &bound
}
