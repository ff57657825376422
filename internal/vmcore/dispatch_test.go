package vmcore_test

import (
	"strings"
	"testing"

	"phlang/internal/asmtext"
	"phlang/internal/frame"
	"phlang/internal/funcreg"
	"phlang/internal/value"
	"phlang/internal/vmcore"
)

// newTestVM returns a VM wired to an in-memory output buffer, the way a
// host embedding this module would capture script output without going
// through os.Stdout.
func newTestVM(t *testing.T) (*vmcore.VM, *strings.Builder) {
	t.Helper()
	vm := vmcore.New()
	var out strings.Builder
	vm.SetOutputConsumer(func(data []byte, _ any) vmcore.ConsumerStatus {
		out.Write(data)
		return vmcore.ConsumerOK
	}, nil)
	return vm, &out
}

// seed binds name to a fresh slot holding v in the VM's global frame,
// standing in for the argument-passing an embedder does before Run: this
// module has no lexer/parser, so literal values reach a program the way
// any host value does — pre-bound in the frame LOAD then reads from.
func seed(vm *vmcore.VM, name string, v value.Value) {
	slot := vm.RT.Reserve()
	vm.RT.Set(slot, v)
	vm.GlobalFrame().Bind(name, slot)
}

// S1-style check: LOAD two pre-seeded operands, ADD them, and flush the
// result through CONSUME. Exercises the ins.P1 argument-count fix: CONSUME
// 1 must join exactly the one value ADD left on the stack, not silently
// flush every operand ever pushed.
func TestConsumeRespectsArgCount(t *testing.T) {
	vm, out := newTestVM(t)
	seed(vm, "a", value.InitFromInt(1))
	seed(vm, "b", value.InitFromInt(2))

	src := `
LOAD a
LOAD b
ADD
CONSUME 1
DONE
`
	prog, err := asmtext.Assemble("consume_test", src, nil)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	outcome := vm.Run(prog)
	if outcome.Status != vmcore.StatusDone {
		t.Fatalf("unexpected status: %v", outcome.Status)
	}
	if got := out.String(); got != "3" {
		t.Fatalf("CONSUME 1 output = %q, want %q", got, "3")
	}
}

// A bare CONSUME (no count argument) must still default to joining
// exactly one operand, matching the textual assembler's documented
// zero-arg default.
func TestConsumeDefaultsToOne(t *testing.T) {
	vm, out := newTestVM(t)
	seed(vm, "a", value.InitFromInt(1))
	seed(vm, "b", value.InitFromInt(2))

	src := `
LOAD a
LOAD b
ADD
CONSUME
DONE
`
	prog, err := asmtext.Assemble("consume_default_test", src, nil)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	vm.Run(prog)
	if got := out.String(); got != "3" {
		t.Fatalf("bare CONSUME output = %q, want %q", got, "3")
	}
}

// S6: a closure captures $c by value at creation time. Mutating the
// enclosing variable afterward must not be visible inside the closure,
// even though the closure is invoked twice around the mutation.
func TestClosureCapturesByValue(t *testing.T) {
	vm, out := newTestVM(t)
	seed(vm, "c", value.InitFromInt(5))

	inc := &funcreg.UserFunction{Name: "<closure>"}
	incSrc := `
LOAD c
CONSUME 1
DONE
`
	incProg, err := asmtext.Assemble("closure_body", incSrc, nil)
	if err != nil {
		t.Fatalf("assemble closure body: %v", err)
	}
	inc.Code = incProg

	resolve := func(name string) any {
		if name == "inc" {
			return inc
		}
		return nil
	}

	prog1Src := `
LOAD_CLOSURE inc c
STORE f
LOAD f
CALL 0 CLOSURE
DONE
`
	prog1, err := asmtext.Assemble("closure_call1", prog1Src, resolve)
	if err != nil {
		t.Fatalf("assemble call1: %v", err)
	}
	vm.Run(prog1)
	if got := out.String(); got != "5" {
		t.Fatalf("first closure invocation output = %q, want %q", got, "5")
	}

	slot, ok := frame.Lookup(vm.GlobalFrame(), "c")
	if !ok {
		t.Fatalf("expected $c to still be bound after first run")
	}
	vm.RT.Set(slot, value.InitFromInt(99))

	out.Reset()
	prog2Src := `
LOAD f
CALL 0 CLOSURE
DONE
`
	prog2, err := asmtext.Assemble("closure_call2", prog2Src, resolve)
	if err != nil {
		t.Fatalf("assemble call2: %v", err)
	}
	vm.Run(prog2)
	if got := out.String(); got != "5" {
		t.Fatalf("second closure invocation output = %q, want %q (by-value capture must freeze at creation)", got, "5")
	}
}

// The LOAD opcode's lookup-only form (P1 != 0) must read a missing
// variable as null without creating it in the frame, while an ordinary
// LOAD of a missing variable still auto-vivifies it.
func TestLoadLookupOnlyDoesNotVivify(t *testing.T) {
	vm, _ := newTestVM(t)

	src := `
LOAD missing LOOKUP
LOAD missing LOOKUP
DONE
`
	prog, err := asmtext.Assemble("lookup_only_test", src, nil)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	outcome := vm.Run(prog)
	if outcome.Status != vmcore.StatusDone {
		t.Fatalf("unexpected status: %v", outcome.Status)
	}
	if _, ok := frame.Lookup(vm.GlobalFrame(), "missing"); ok {
		t.Fatalf("lookup-only LOAD must not create the variable in the frame")
	}
}

// An ordinary (non-lookup-only) LOAD of a missing variable still
// auto-vivifies it into the nearest non-helper frame, matching the
// pre-existing behavior LOOKUP is meant to opt out of.
func TestLoadWithoutLookupVivifies(t *testing.T) {
	vm, _ := newTestVM(t)

	src := `
LOAD missing
DONE
`
	prog, err := asmtext.Assemble("vivify_test", src, nil)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	vm.Run(prog)
	if _, ok := frame.Lookup(vm.GlobalFrame(), "missing"); !ok {
		t.Fatalf("plain LOAD of a missing variable should create it in the frame")
	}
}
