package vmcore

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"phlang/internal/bytecode"
	"phlang/internal/classreg"
	"phlang/internal/errors"
	"phlang/internal/frame"
	"phlang/internal/reftable"
	"phlang/internal/value"
)

// Run executes prog in the VM's global frame and returns once it reaches
// DONE/HALT, the output consumer aborts, or an exception escapes
// uncaught. It is the public entry point embedders use to start a
// program; the dispatcher uses the unexported runProgram for every nested
// CALL. Shutdown callbacks run only when the program ends with
// StatusDone (not after HALT or an abort).
func (vm *VM) Run(prog *bytecode.Program) Outcome {
	vm.globalFrame.Code = prog
	out := vm.runProgram(prog, vm.globalFrame, false)
	if out.Status == StatusException {
		vm.dispatchUncaught(out.Value)
		out.Status = StatusDone
	}
	if out.Status == StatusDone {
		vm.runShutdownCallbacks()
	}
	return out
}

// runShutdownCallbacks invokes every registered shutdown callback, in
// registration order, after the script's own DONE. It runs each
// callback through an errgroup capped at one in-flight goroutine:
// g.Go blocks until the previous callback's goroutine has returned, so
// registration order is preserved exactly as if the loop were written
// by hand, while g.Wait() still gives us the idiomatic "first error
// wins" aggregation for surfacing a Fatal diagnostic.
func (vm *VM) runShutdownCallbacks() {
	cbs := vm.shutdownCallbacks
	vm.shutdownCallbacks = nil
	var g errgroup.Group
	g.SetLimit(1)
	for _, cb := range cbs {
		cb := cb
		g.Go(func() error {
			outcome := vm.invokeCallable(cb, nil, value.Null(), true)
			if outcome.Status == StatusException {
				return fmt.Errorf("uncaught exception in shutdown callback")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		vm.raise(errors.Fatal, errors.RuntimeError, err.Error())
	}
}

// runProgram is the dispatcher: it owns one instruction vector, one
// operand stack, and one try/foreach cursor stack. A nested CALL recurses
// into a fresh invocation of this same function rather than continuing
// the caller's loop, so DONE always means "this function/script is
// finished", never "control returns to whoever called it one opcode ago".
func (vm *VM) runProgram(prog *bytecode.Program, fr *frame.Frame, isCallback bool) Outcome {
	fr.Code = prog
	stack := make([]value.Value, 0, prog.Len()+8)
	var tryStack []tryEntry
	var foreachStack []*foreachIter

	currentClass := func() *classreg.Class {
		nf := frame.NearestNonHelper(fr)
		if nf == nil || nf.ClassName == "" {
			return nil
		}
		c, _ := vm.Classes.Lookup(nf.ClassName)
		return c
	}

	pop := func() value.Value {
		n := len(stack)
		v := stack[n-1]
		stack = stack[:n-1]
		return v
	}
	push := func(v value.Value) { stack = append(stack, v) }

	// pushOrJump implements the jump-fused comparison form: a nonzero
	// target means "pop, and jump there if cond holds, otherwise fall
	// through" rather than pushing a bool, matching asmtext's
	// assembleCompare (only non-"0" jump targets set P2).
	pushOrJump := func(cond bool, target uint32, nextIP *int) {
		if target != 0 {
			if cond {
				*nextIP = int(target)
			}
			return
		}
		push(value.InitFromBool(cond))
	}

	ip := 0
	for {
		if ip < 0 || ip >= len(prog.Instructions) {
			return Outcome{value.Null(), StatusDone}
		}
		ins := prog.Instructions[ip]
		fr.IP = ip
		nextIP := ip + 1

		switch ins.Op {
		case bytecode.OpDone:
			rv := value.Null()
			if ins.P1 != 0 && len(stack) > 0 {
				rv = pop()
			}
			if fr == vm.globalFrame {
				vm.scriptReturn = rv
			}
			return Outcome{rv, StatusDone}

		case bytecode.OpHalt:
			rv := value.Null()
			if ins.P1 != 0 && len(stack) > 0 {
				rv = pop()
			}
			return Outcome{rv, StatusHalt}

		case bytecode.OpNoop:
			// no-op

		case bytecode.OpJmp:
			nextIP = int(ins.P2)

		case bytecode.OpJz:
			var tv value.Value
			if ins.P1 != 0 {
				tv = stack[len(stack)-1]
			} else {
				tv = pop()
			}
			if !tv.ToBool() {
				nextIP = int(ins.P2)
			}

		case bytecode.OpJnz:
			var tv value.Value
			if ins.P1 != 0 {
				tv = stack[len(stack)-1]
			} else {
				tv = pop()
			}
			if tv.ToBool() {
				nextIP = int(ins.P2)
			}

		case bytecode.OpPop:
			pop()

		case bytecode.OpCvtInt:
			push(value.InitFromInt(pop().ToInt()))
		case bytecode.OpCvtReal:
			push(value.InitFromReal(pop().ToReal()))
		case bytecode.OpCvtStr:
			push(value.InitFromString(pop().ToString()))
		case bytecode.OpCvtBool:
			push(value.InitFromBool(pop().ToBool()))
		case bytecode.OpCvtNull:
			pop()
			push(value.Null())
		case bytecode.OpCvtNumc:
			push(pop().ToNumeric())
		case bytecode.OpCvtArray:
			push(value.InitFromArray(pop().ToHashmap()))
		case bytecode.OpCvtObj:
			// Scalar-to-object casting is an embedder (builtins) concern;
			// the dispatcher only passes objects through unchanged.
			v := pop()
			push(v)

		case bytecode.OpLoad:
			name, _ := ins.P3.(string)
			slot, ok := frame.Lookup(fr, name)
			if !ok {
				vm.raise(errors.Notice, errors.RuntimeError, "undefined variable $"+name)
				if ins.P1 != 0 {
					// Lookup-only: a missing variable reads as null and is
					// never created in the frame.
					push(value.Null())
					break
				}
				slot = vm.RT.Reserve()
				frame.NearestNonHelper(fr).Bind(name, slot)
				frame.NearestNonHelper(fr).MarkOwned(slot)
			}
			push(vm.RT.Get(slot).WithIndex(slot))

		case bytecode.OpLoadRef:
			name, _ := ins.P3.(string)
			slot, ok := frame.Lookup(fr, name)
			if !ok {
				slot = vm.RT.Reserve()
				frame.NearestNonHelper(fr).Bind(name, slot)
				frame.NearestNonHelper(fr).MarkOwned(slot)
			}
			push(vm.RT.Get(slot).WithIndex(slot))

		case bytecode.OpLoadIdx:
			key := vm.toKey(pop())
			arrVal := pop()
			switch arrVal.Kind() {
			case value.KindArray:
				slot, ok := arrVal.RawArray().Get(key)
				if !ok {
					if ins.P2 != 0 {
						newSlot := vm.RT.Reserve()
						vm.RT.Set(newSlot, value.Null())
						arrVal.RawArray().Insert(key, newSlot)
						push(vm.RT.Get(newSlot).WithIndex(newSlot))
						break
					}
					vm.raise(errors.Warning, errors.RuntimeError, "undefined array key "+key.String())
					push(value.Null())
					break
				}
				push(vm.RT.Get(slot).WithIndex(slot))

			case value.KindString:
				s := arrVal.ToString()
				if key.IsInt && key.I >= 0 && int(key.I) < len(s) {
					push(value.InitFromString(string(s[key.I])))
				} else {
					vm.raise(errors.Warning, errors.RuntimeError, "uninitialized string offset")
					push(value.InitFromString(""))
				}

			case value.KindObject:
				out := vm.dispatchMethodCall(arrVal, "offsetGet", []value.Value{keyToValue(key)}, currentClass())
				push(out.Value)

			default:
				vm.raise(errors.Warning, errors.RuntimeError, "subscript on a non-array value")
				push(value.Null())
			}

		case bytecode.OpLoadList:
			n := int(ins.P2)
			h := value.NewHashmap()
			items := make([]value.Value, n)
			for i := n - 1; i >= 0; i-- {
				items[i] = pop()
			}
			for _, it := range items {
				slot := vm.RT.Reserve()
				vm.RT.Set(slot, it)
				h.Append(slot)
			}
			push(value.InitFromArray(h))

		case bytecode.OpLoadMap:
			n := int(ins.P2)
			h := value.NewHashmap()
			pairs := make([][2]value.Value, n)
			for i := n - 1; i >= 0; i-- {
				v := pop()
				k := pop()
				pairs[i] = [2]value.Value{k, v}
			}
			for _, kv := range pairs {
				slot := vm.RT.Reserve()
				vm.RT.Set(slot, kv[1])
				h.Insert(vm.toKey(kv[0]), slot)
			}
			push(value.InitFromArray(h))

		case bytecode.OpLoadClosure:
			fn, _ := ins.P3.(*closureTemplate)
			if fn == nil {
				push(value.Null())
				break
			}
			push(value.InitFromResource(&value.Resource{Kind: "closure", Data: vm.bindClosure(fn, fr)}))

		case bytecode.OpLoadException:
			block, _ := ins.P3.(*bytecode.ExceptionBlock)
			helper := frame.NewHelper(fr, frame.FlagException, int(ins.P2))
			helper.Code = fr.Code
			tryStack = append(tryStack, tryEntry{Block: block, StackDepth: len(stack), Helper: helper})
			fr = helper

		case bytecode.OpPopException:
			if fr.IsHelper() {
				vm.releaseFrameSlots(fr)
				fr = fr.Parent
			}
			if len(tryStack) > 0 {
				tryStack = tryStack[:len(tryStack)-1]
			}

		case bytecode.OpStore:
			name, _ := ins.P3.(string)
			v := pop()
			target := frame.NearestNonHelper(fr)
			slot, ok := target.Locals[name]
			if !ok {
				slot = vm.RT.Reserve()
				target.Bind(name, slot)
				target.MarkOwned(slot)
			}
			vm.RT.Set(slot, v)
			push(vm.RT.Get(slot).WithIndex(slot))

		case bytecode.OpStoreRef:
			name, _ := ins.P3.(string)
			src := pop()
			target := frame.NearestNonHelper(fr)
			if !src.Addressable() {
				vm.raise(errors.Recoverable, errors.RuntimeError, "cannot bind reference to a non-addressable value")
				push(src)
				break
			}
			target.Bind(name, src.Index())
			target.MarkAliased(src.Index())
			push(src)

		case bytecode.OpStoreIdx:
			v := pop()
			key := vm.toKey(pop())
			arrVal := pop()
			push(vm.storeIntoArray(&arrVal, key, v, currentClass()))

		case bytecode.OpStoreIdxRef:
			ref := pop()
			key := vm.toKey(pop())
			arrVal := pop()
			if arrVal.Kind() != value.KindArray {
				h := value.NewHashmap()
				arrVal = value.InitFromArray(h)
			}
			if ref.Addressable() {
				arrVal.RawArray().Insert(key, ref.Index())
				vm.RT.InstallArrayRef(ref.Index(), reftable.ArrayBackref{Map: arrVal.RawArray(), Key: key})
			}
			push(ref)

		case bytecode.OpUplink:
			name, _ := ins.P3.(string)
			slot, ok := vm.globalFrame.Locals[name]
			if !ok {
				slot = vm.RT.Reserve()
				vm.globalFrame.Bind(name, slot)
			}
			target := frame.NearestNonHelper(fr)
			target.Bind(name, slot)
			target.MarkAliased(slot)

		case bytecode.OpIncr, bytecode.OpDecr:
			v := pop()
			delta := value.InitFromInt(1)
			var nv value.Value
			if ins.Op == bytecode.OpIncr {
				nv = value.Add(v, delta, false)
			} else {
				nv = value.Add(v, value.InitFromInt(-1), false)
			}
			if v.Addressable() {
				vm.RT.Set(v.Index(), nv)
				nv = nv.WithIndex(v.Index())
			}
			push(nv)

		case bytecode.OpUminus:
			v := pop().ToNumeric()
			if v.Kind() == value.KindReal {
				push(value.InitFromReal(-v.RawReal()))
			} else {
				push(value.InitFromInt(-v.RawInt()))
			}
		case bytecode.OpUplus:
			push(pop().ToNumeric())
		case bytecode.OpBitnot:
			push(value.InitFromInt(^pop().ToInt()))
		case bytecode.OpLnot:
			push(value.InitFromBool(!pop().ToBool()))

		case bytecode.OpAdd:
			b, a := pop(), pop()
			push(value.Add(a, b, false))
		case bytecode.OpSub:
			b, a := pop(), pop()
			push(numericOp(a, b, func(x, y float64) float64 { return x - y }, func(x, y int64) int64 { return x - y }))
		case bytecode.OpMul:
			b, a := pop(), pop()
			push(numericOp(a, b, func(x, y float64) float64 { return x * y }, func(x, y int64) int64 { return x * y }))
		case bytecode.OpDiv:
			b, a := pop(), pop()
			bf := b.ToReal()
			if bf == 0 {
				vm.raise(errors.Recoverable, errors.RuntimeError, "division by zero")
				push(value.InitFromBool(false))
				break
			}
			push(value.InitFromReal(a.ToReal() / bf))
		case bytecode.OpMod:
			b, a := pop(), pop()
			bi := b.ToInt()
			if bi == 0 {
				vm.raise(errors.Recoverable, errors.RuntimeError, "modulo by zero")
				push(value.InitFromBool(false))
				break
			}
			push(value.InitFromInt(a.ToInt() % bi))

		case bytecode.OpShl:
			b, a := pop(), pop()
			push(value.InitFromInt(a.ToInt() << uint(b.ToInt())))
		case bytecode.OpShr:
			b, a := pop(), pop()
			push(value.InitFromInt(a.ToInt() >> uint(b.ToInt())))
		case bytecode.OpBand:
			b, a := pop(), pop()
			push(value.InitFromInt(a.ToInt() & b.ToInt()))
		case bytecode.OpBor:
			b, a := pop(), pop()
			push(value.InitFromInt(a.ToInt() | b.ToInt()))
		case bytecode.OpBxor:
			b, a := pop(), pop()
			push(value.InitFromInt(a.ToInt() ^ b.ToInt()))

		case bytecode.OpCat:
			b, a := pop(), pop()
			push(value.InitFromString(a.ToString() + b.ToString()))

		case bytecode.OpAddStore, bytecode.OpSubStore, bytecode.OpMulStore, bytecode.OpDivStore,
			bytecode.OpModStore, bytecode.OpShlStore, bytecode.OpShrStore, bytecode.OpBandStore,
			bytecode.OpBorStore, bytecode.OpBxorStore, bytecode.OpCatStore:
			rhs := pop()
			cur := pop()
			nv := vm.compoundAssign(ins.Op, cur, rhs)
			if cur.Addressable() {
				vm.RT.Set(cur.Index(), nv)
				nv = nv.WithIndex(cur.Index())
			}
			push(nv)

		case bytecode.OpEq:
			b, a := pop(), pop()
			pushOrJump(value.LooseEqual(a, b), ins.P2, &nextIP)
		case bytecode.OpNeq:
			b, a := pop(), pop()
			pushOrJump(!value.LooseEqual(a, b), ins.P2, &nextIP)
		case bytecode.OpLt:
			b, a := pop(), pop()
			pushOrJump(value.Compare(a, b, false) < 0, ins.P2, &nextIP)
		case bytecode.OpLe:
			b, a := pop(), pop()
			pushOrJump(value.Compare(a, b, false) <= 0, ins.P2, &nextIP)
		case bytecode.OpGt:
			b, a := pop(), pop()
			pushOrJump(value.Compare(a, b, false) > 0, ins.P2, &nextIP)
		case bytecode.OpGe:
			b, a := pop(), pop()
			pushOrJump(value.Compare(a, b, false) >= 0, ins.P2, &nextIP)
		case bytecode.OpTeq:
			b, a := pop(), pop()
			push(value.InitFromBool(value.StrictEqual(a, b)))
		case bytecode.OpTne:
			b, a := pop(), pop()
			push(value.InitFromBool(!value.StrictEqual(a, b)))
		case bytecode.OpSeq:
			b, a := pop(), pop()
			push(value.InitFromBool(vm.sameIdentity(a, b)))
		case bytecode.OpSne:
			b, a := pop(), pop()
			push(value.InitFromBool(!vm.sameIdentity(a, b)))

		case bytecode.OpLand:
			b, a := pop(), pop()
			push(value.InitFromBool(a.ToBool() && b.ToBool()))
		case bytecode.OpLor:
			b, a := pop(), pop()
			push(value.InitFromBool(a.ToBool() || b.ToBool()))
		case bytecode.OpLxor:
			b, a := pop(), pop()
			push(value.InitFromBool(a.ToBool() != b.ToBool()))

		case bytecode.OpIsA:
			target, _ := ins.P3.(string)
			v := pop()
			result := false
			if v.Kind() == value.KindObject {
				if cls, ok := vm.Classes.Lookup(v.RawObject().ClassName()); ok {
					if tc, ok := vm.Classes.Lookup(target); ok {
						result = classreg.IsInstanceOf(cls, tc)
					}
				}
			}
			push(value.InitFromBool(result))

		case bytecode.OpMember:
			v := pop()
			out := vm.execMember(ins, v, currentClass())
			push(out.Value)

		case bytecode.OpNew:
			out := vm.execNew(ins, &stack)
			push(out.Value)

		case bytecode.OpClone:
			out := vm.execClone(pop())
			push(out.Value)

		case bytecode.OpSwitch:
			table, _ := ins.P3.(*bytecode.SwitchTable)
			v := pop()
			matched := false
			if table != nil {
				for _, c := range table.Cases {
					if c.ConstIndex < 0 || c.ConstIndex >= len(prog.Constants) {
						continue
					}
					if value.LooseEqual(v, constantValue(prog.Constants[c.ConstIndex])) {
						nextIP = int(c.Jmp)
						matched = true
						break
					}
				}
				if !matched && table.HasDefault {
					nextIP = int(table.DefaultJmp)
				}
			}

		case bytecode.OpCall:
			out := vm.execCall(ins, &stack, currentClass())
			switch out.Status {
			case StatusAbort:
				return out
			case StatusException:
				if vm.dispatchThrow(out.Value, vm.classOf(out.Value), &tryStack, &fr, &stack, &nextIP) {
					break
				}
				frame.NearestNonHelper(fr).Flags |= frame.FlagThrow
				vm.releaseFrameSlots(fr)
				return vm.unwind(out.Value, isCallback)
			default:
				push(out.Value)
			}

		case bytecode.OpForeachInit:
			desc, _ := ins.P3.(*bytecode.ForeachDescriptor)
			v := pop()
			it := &foreachIter{}
			if desc != nil {
				it.keyVar, it.valueVar, it.byRef = desc.KeyVar, desc.ValueVar, desc.ByRef
			}
			switch v.Kind() {
			case value.KindArray:
				it.keys = v.RawArray().Keys()
				it.slots = v.RawArray().Slots()
			case value.KindObject:
				if inst, ok := v.RawObject().(*classreg.Instance); ok {
					caller := currentClass()
					names := make([]string, 0, len(inst.Attrs))
					for name := range inst.Attrs {
						if attr, ok := classreg.LookupAttr(inst.Class, name); ok {
							if !classreg.CheckVisibility(attr.Visibility, inst.Class, caller) {
								continue
							}
						}
						names = append(names, name)
					}
					sort.Strings(names)
					for _, name := range names {
						it.keys = append(it.keys, value.StringKey(name))
						it.slots = append(it.slots, inst.Attrs[name])
					}
				}
			}
			foreachStack = append(foreachStack, it)

		case bytecode.OpForeachStep:
			if len(foreachStack) == 0 {
				nextIP = int(ins.P2)
				break
			}
			it := foreachStack[len(foreachStack)-1]
			if it.pos >= len(it.keys) {
				foreachStack = foreachStack[:len(foreachStack)-1]
				nextIP = int(ins.P2)
				break
			}
			k, slot := it.keys[it.pos], it.slots[it.pos]
			it.pos++
			target := frame.NearestNonHelper(fr)
			if it.keyVar != "" {
				kslot := vm.RT.Reserve()
				vm.RT.Set(kslot, keyToValue(k))
				target.Bind(it.keyVar, kslot)
				target.MarkOwned(kslot)
			}
			if it.byRef {
				target.Bind(it.valueVar, slot)
				target.MarkAliased(slot)
			} else {
				vslot := vm.RT.Reserve()
				vm.RT.Set(vslot, vm.RT.Get(slot))
				target.Bind(it.valueVar, vslot)
				target.MarkOwned(vslot)
			}

		case bytecode.OpErrCtrl:
			// Suppression scoping (the `@` operator) is intentionally
			// unimplemented: every diagnostic this module raises is already
			// non-fatal by default except Fatal severity, which @ cannot
			// suppress in the first place.

		case bytecode.OpConsume:
			n := int(ins.P1)
			if n <= 0 {
				n = 1
			}
			if n > len(stack) {
				n = len(stack)
			}
			parts := make([]string, n)
			for i := n - 1; i >= 0; i-- {
				parts[i] = pop().ToString()
			}
			if !vm.emit([]byte(strings.Join(parts, ""))) {
				return Outcome{value.Null(), StatusAbort}
			}

		case bytecode.OpThrow:
			v := pop()
			cls, ok := vm.isThrowable(v)
			if !ok {
				vm.raise(errors.Recoverable, errors.TypeError, "thrown value does not implement Throwable")
				break
			}
			if vm.dispatchThrow(v, cls, &tryStack, &fr, &stack, &nextIP) {
				break
			}
			frame.NearestNonHelper(fr).Flags |= frame.FlagThrow
			vm.releaseFrameSlots(fr)
			return vm.unwind(v, isCallback)

		default:
			vm.raise(errors.Fatal, errors.RuntimeError, "unimplemented opcode "+ins.Op.String())
			return Outcome{value.Null(), StatusAbort}
		}

		ip = nextIP
	}
}

// unwind decides what an exception that escaped this invocation uncaught
// becomes: if this invocation was entered directly from the host (the
// Host-Call API's is_callback flag), there is no enclosing script frame
// left to offer it to, so it goes straight to the uncaught-exception
// handler; otherwise it is handed back as StatusException for a nested
// CALL's caller to attempt its own catch.
func (vm *VM) unwind(thrown value.Value, isCallback bool) Outcome {
	if isCallback {
		vm.dispatchUncaught(thrown)
		return Outcome{value.Null(), StatusDone}
	}
	return Outcome{thrown, StatusException}
}

// classOf returns v's runtime class, or nil if v is not an object of a
// registered class.
func (vm *VM) classOf(v value.Value) *classreg.Class {
	if v.Kind() != value.KindObject {
		return nil
	}
	cls, _ := vm.Classes.Lookup(v.RawObject().ClassName())
	return cls
}

// sameIdentity implements the identity comparison SEQ/SNE use: scalars
// compare strictly equal; objects/arrays compare by the underlying
// Hashmap/Instance pointer rather than structural equality.
func (vm *VM) sameIdentity(a, b value.Value) bool {
	if a.Kind() != b.Kind() {
		return false
	}
	switch a.Kind() {
	case value.KindObject:
		return a.RawObject() == b.RawObject()
	case value.KindArray:
		return a.RawArray() == b.RawArray()
	default:
		return value.StrictEqual(a, b)
	}
}

// toKey normalizes an operand-stack value into a Hashmap key: ints key
// as themselves, numeric-canonical strings key as the integer they
// denote, everything else keys as its string form.
func (vm *VM) toKey(v value.Value) value.Key {
	if v.Kind() == value.KindInt {
		return value.IntKey(v.RawInt())
	}
	return value.StringKey(v.ToString())
}

func keyToValue(k value.Key) value.Value {
	if k.IsInt {
		return value.InitFromInt(k.I)
	}
	return value.InitFromString(k.S)
}

// storeIntoArray implements STORE_IDX's auto-vivification rule: a null,
// addressable operand becomes a fresh array written back to its own slot
// before the index assignment proceeds.
func (vm *VM) storeIntoArray(arrVal *value.Value, key value.Key, v value.Value, callerClass *classreg.Class) value.Value {
	switch arrVal.Kind() {
	case value.KindString:
		return vm.storeIntoStringOffset(arrVal, key, v)

	case value.KindObject:
		vm.dispatchMethodCall(*arrVal, "offsetSet", []value.Value{keyToValue(key), v}, callerClass)
		return v

	case value.KindArray:
		// handled below

	default:
		h := value.NewHashmap()
		newArr := value.InitFromArray(h)
		if arrVal.Addressable() {
			vm.RT.Set(arrVal.Index(), newArr)
		}
		*arrVal = newArr
	}

	h := arrVal.RawArray()
	if slot, ok := h.Get(key); ok {
		vm.RT.Set(slot, v)
		return vm.RT.Get(slot).WithIndex(slot)
	}
	slot := vm.RT.Reserve()
	vm.RT.Set(slot, v)
	h.Insert(key, slot)
	vm.RT.InstallArrayRef(slot, reftable.ArrayBackref{Map: h, Key: key})
	return vm.RT.Get(slot).WithIndex(slot)
}

// storeIntoStringOffset implements `$s[$i] = $c`: the first byte of $c
// replaces the byte at $i, extending $s with spaces if $i runs past its
// current length, matching the host language's string-offset write rule.
func (vm *VM) storeIntoStringOffset(arrVal *value.Value, key value.Key, v value.Value) value.Value {
	s := []byte(arrVal.ToString())
	idx := int(key.I)
	if !key.IsInt || idx < 0 {
		vm.raise(errors.Recoverable, errors.RuntimeError, "illegal string offset")
		return *arrVal
	}
	ch := v.ToString()
	if ch == "" {
		ch = "\x00"
	}
	for len(s) <= idx {
		s = append(s, ' ')
	}
	s[idx] = ch[0]
	nv := value.InitFromString(string(s))
	if arrVal.Addressable() {
		vm.RT.Set(arrVal.Index(), nv)
		nv = nv.WithIndex(arrVal.Index())
	}
	*arrVal = nv
	return nv
}

// numericOp applies the real/int promotion rule shared by SUB/MUL:
// if either operand is Real, the result is Real.
func numericOp(a, b value.Value, onReal func(x, y float64) float64, onInt func(x, y int64) int64) value.Value {
	an, bn := a.ToNumeric(), b.ToNumeric()
	if an.Kind() == value.KindReal || bn.Kind() == value.KindReal {
		return value.InitFromReal(onReal(an.ToReal(), bn.ToReal()))
	}
	return value.InitFromInt(onInt(an.RawInt(), bn.RawInt()))
}

// compoundAssign implements the *_STORE family: combine cur and rhs the
// same way the corresponding binary opcode would, without re-pushing both
// operands through the stack.
func (vm *VM) compoundAssign(op bytecode.OpCode, cur, rhs value.Value) value.Value {
	switch op {
	case bytecode.OpAddStore:
		return value.Add(cur, rhs, false)
	case bytecode.OpSubStore:
		return numericOp(cur, rhs, func(x, y float64) float64 { return x - y }, func(x, y int64) int64 { return x - y })
	case bytecode.OpMulStore:
		return numericOp(cur, rhs, func(x, y float64) float64 { return x * y }, func(x, y int64) int64 { return x * y })
	case bytecode.OpDivStore:
		bf := rhs.ToReal()
		if bf == 0 {
			vm.raise(errors.Recoverable, errors.RuntimeError, "division by zero")
			return value.InitFromBool(false)
		}
		return value.InitFromReal(cur.ToReal() / bf)
	case bytecode.OpModStore:
		bi := rhs.ToInt()
		if bi == 0 {
			vm.raise(errors.Recoverable, errors.RuntimeError, "modulo by zero")
			return value.InitFromBool(false)
		}
		return value.InitFromInt(cur.ToInt() % bi)
	case bytecode.OpShlStore:
		return value.InitFromInt(cur.ToInt() << uint(rhs.ToInt()))
	case bytecode.OpShrStore:
		return value.InitFromInt(cur.ToInt() >> uint(rhs.ToInt()))
	case bytecode.OpBandStore:
		return value.InitFromInt(cur.ToInt() & rhs.ToInt())
	case bytecode.OpBorStore:
		return value.InitFromInt(cur.ToInt() | rhs.ToInt())
	case bytecode.OpBxorStore:
		return value.InitFromInt(cur.ToInt() ^ rhs.ToInt())
	case bytecode.OpCatStore:
		return value.InitFromString(cur.ToString() + rhs.ToString())
	default:
		return cur
	}
}

// constantValue adapts a Program.Constants entry (stored as `any` by the
// assembler) into a value.Value for SWITCH comparisons.
func constantValue(c any) value.Value {
	switch t := c.(type) {
	case value.Value:
		return t
	case int64:
		return value.InitFromInt(t)
	case int:
		return value.InitFromInt(int64(t))
	case float64:
		return value.InitFromReal(t)
	case string:
		return value.InitFromString(t)
	case bool:
		return value.InitFromBool(t)
	default:
		return value.Null()
	}
}
