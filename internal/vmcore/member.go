package vmcore

import (
	"phlang/internal/bytecode"
	"phlang/internal/classreg"
	"phlang/internal/errors"
	"phlang/internal/value"
)

// execNew implements NEW: pop ins.P1 constructor arguments, instantiate
// the named class (reserving a RefTable slot per declared instance
// attribute), and run its constructor if it declares one.
func (vm *VM) execNew(ins bytecode.Instruction, stack *[]value.Value) Outcome {
	name, _ := ins.P3.(string)
	cls, ok := vm.Classes.Lookup(name)
	if !ok {
		vm.raise(errors.Recoverable, errors.ReferenceError, "instantiation of undefined class "+name)
		return Outcome{value.Null(), StatusDone}
	}
	n := int(ins.P1)
	s := *stack
	args := append([]value.Value(nil), s[len(s)-n:]...)
	s = s[:len(s)-n]
	*stack = s

	inst := classreg.Instantiate(vm.RT, cls)
	obj := value.InitFromObject(inst)
	if ctor, ok := classreg.LookupMethod(cls, "__construct"); ok {
		vm.invokeUserFunction(ctor.Fn, args, obj, vm.globalFrame, false)
	}
	return Outcome{obj, StatusDone}
}

// execClone implements CLONE: a shallow per-instance-attribute copy (each
// attribute gets a fresh slot seeded from the original's current value),
// followed by __clone if the class declares one.
func (vm *VM) execClone(v value.Value) Outcome {
	if v.Kind() != value.KindObject {
		vm.raise(errors.Recoverable, errors.TypeError, "clone of a non-object")
		return Outcome{v, StatusDone}
	}
	orig, ok := v.RawObject().(*classreg.Instance)
	if !ok {
		return Outcome{v, StatusDone}
	}
	dup := &classreg.Instance{Class: orig.Class, Attrs: make(map[string]int, len(orig.Attrs))}
	dup.Retain()
	for name, slot := range orig.Attrs {
		newSlot := vm.RT.Reserve()
		vm.RT.Set(newSlot, vm.RT.Get(slot))
		dup.Attrs[name] = newSlot
	}
	obj := value.InitFromObject(dup)
	if m, ok := classreg.LookupMethod(orig.Class, "__clone"); ok {
		vm.invokeUserFunction(m.Fn, nil, obj, vm.globalFrame, false)
	}
	return Outcome{obj, StatusDone}
}

// execMember implements MEMBER: resolve an attribute on an object (or a
// static/constant attribute on a class referenced by name) and push its
// current value, honoring visibility against the enclosing method's
// class.
func (vm *VM) execMember(ins bytecode.Instruction, v value.Value, callerClass *classreg.Class) Outcome {
	name, _ := ins.P3.(string)

	if v.Kind() == value.KindObject {
		inst, ok := v.RawObject().(*classreg.Instance)
		if !ok {
			return Outcome{value.Null(), StatusDone}
		}
		if slot, ok := inst.Attrs[name]; ok {
			if attr, ok := classreg.LookupAttr(inst.Class, name); ok {
				if !classreg.CheckVisibility(attr.Visibility, inst.Class, callerClass) {
					vm.raise(errors.Recoverable, errors.ReferenceError, "cannot access "+visibilityLabel(attr.Visibility)+" property "+inst.Class.Name+"::$"+name)
					return Outcome{value.Null(), StatusDone}
				}
			}
			return Outcome{vm.RT.Get(slot).WithIndex(slot), StatusDone}
		}
		if attr, ok := classreg.LookupAttr(inst.Class, name); ok {
			if !classreg.CheckVisibility(attr.Visibility, inst.Class, callerClass) {
				vm.raise(errors.Recoverable, errors.ReferenceError, "cannot access "+visibilityLabel(attr.Visibility)+" property "+inst.Class.Name+"::$"+name)
				return Outcome{value.Null(), StatusDone}
			}
			return Outcome{vm.RT.Get(attr.Slot).WithIndex(attr.Slot), StatusDone}
		}
		vm.raise(errors.Warning, errors.ReferenceError, "undefined property "+inst.Class.Name+"::$"+name)
		return Outcome{value.Null(), StatusDone}
	}

	if v.Kind() == value.KindString {
		cls, ok := vm.Classes.Lookup(v.ToString())
		if !ok {
			vm.raise(errors.Recoverable, errors.ReferenceError, "reference to undefined class "+v.ToString())
			return Outcome{value.Null(), StatusDone}
		}
		attr, ok := classreg.LookupAttr(cls, name)
		if !ok {
			vm.raise(errors.Warning, errors.ReferenceError, "undefined static attribute "+cls.Name+"::$"+name)
			return Outcome{value.Null(), StatusDone}
		}
		if !classreg.CheckVisibility(attr.Visibility, cls, callerClass) {
			vm.raise(errors.Recoverable, errors.ReferenceError, "cannot access "+visibilityLabel(attr.Visibility)+" attribute "+cls.Name+"::$"+name)
			return Outcome{value.Null(), StatusDone}
		}
		return Outcome{vm.RT.Get(attr.Slot).WithIndex(attr.Slot), StatusDone}
	}

	vm.raise(errors.Recoverable, errors.TypeError, "member access on a non-object")
	return Outcome{value.Null(), StatusDone}
}
