// Package classreg implements the ClassRegistry: class, interface,
// method and attribute metadata, instance creation, and method lookup
// (including the MEMBER/CALL visibility rule).
package classreg

import (
	"phlang/internal/funcreg"
	"phlang/internal/reftable"
	"phlang/internal/value"
)

// Visibility is a class member's declared access level.
type Visibility int

const (
	Public Visibility = iota
	Protected
	Private
)

// ClassFlag is a bitmask of a class's declared traits.
type ClassFlag uint8

const (
	FlagInterface ClassFlag = 1 << iota
	FlagAbstract
	FlagThrowable
	FlagArrayAccess
)

// Method is a class method: a UserFunction plus the metadata that
// distinguishes it from a free function.
type Method struct {
	Fn         *funcreg.UserFunction
	Visibility Visibility
	Static     bool
	Abstract   bool
	DeclClass  *Class // the class that declared this method (for `parent::`)
}

// AttrKind distinguishes the three attribute storage classes: constant,
// static, instance.
type AttrKind int

const (
	AttrConstant AttrKind = iota
	AttrStatic
	AttrInstance
)

// AttrDef is a declared attribute: name, storage kind, visibility, and
// (for constant/static) the pinned RefTable slot shared by every instance.
type AttrDef struct {
	Name       string
	Kind       AttrKind
	Visibility Visibility
	Slot       int // valid for Kind != AttrInstance; the shared/pinned slot
	Default    value.Value
}

// Class is the script-level class metadata: not a mirror of any
// particular host language's class system, but a model of its own.
type Class struct {
	Name       string
	Parent     *Class
	Interfaces map[string]bool
	Attrs      map[string]*AttrDef
	Methods    map[string]*Method
	Derived    []*Class
	Flags      ClassFlag
}

func NewClass(name string) *Class {
	return &Class{
		Name:       name,
		Interfaces: make(map[string]bool),
		Attrs:      make(map[string]*AttrDef),
		Methods:    make(map[string]*Method),
	}
}

// Implements reports whether c implements iface directly or transitively
// via any ancestor.
func (c *Class) Implements(iface string) bool {
	for cls := c; cls != nil; cls = cls.Parent {
		if cls.Interfaces[iface] {
			return true
		}
	}
	return false
}

// Instance is a live object.
type Instance struct {
	Class    *Class
	Attrs    map[string]int // per-instance attribute -> RefTable slot
	refCount int32
}

// ClassName implements value.Objecter.
func (o *Instance) ClassName() string { return o.Class.Name }

func (o *Instance) Retain() { o.refCount++ }
func (o *Instance) Release() int32 {
	o.refCount--
	return o.refCount
}
func (o *Instance) RefCount() int32 { return o.refCount }

var _ value.Objecter = (*Instance)(nil)

// ClassRegistry maps class names to their metadata.
type ClassRegistry struct {
	classes map[string]*Class
}

func New() *ClassRegistry {
	return &ClassRegistry{classes: make(map[string]*Class)}
}

// Define registers a class. If it declares a Parent, the class is added to
// the parent's Derived back-set.
func (r *ClassRegistry) Define(c *Class) {
	r.classes[c.Name] = c
	if c.Parent != nil {
		c.Parent.Derived = append(c.Parent.Derived, c)
	}
}

func (r *ClassRegistry) Lookup(name string) (*Class, bool) {
	c, ok := r.classes[name]
	return c, ok
}

// LookupMethod walks c's inheritance chain for name, returning the method
// and the class that declared it.
func LookupMethod(c *Class, name string) (*Method, bool) {
	for cls := c; cls != nil; cls = cls.Parent {
		if m, ok := cls.Methods[name]; ok {
			return m, true
		}
	}
	return nil, false
}

// LookupAttr walks c's inheritance chain for a declared attribute (used
// for MEMBER resolution of static/const attributes; per-instance
// attributes are resolved through Instance.Attrs instead).
func LookupAttr(c *Class, name string) (*AttrDef, bool) {
	for cls := c; cls != nil; cls = cls.Parent {
		if a, ok := cls.Attrs[name]; ok {
			return a, true
		}
	}
	return nil, false
}

// IsInstanceOf reports whether an instance of class c would satisfy an
// `instanceof target` check: target may be an ancestor class or an
// implemented interface, at any depth.
func IsInstanceOf(c *Class, target *Class) bool {
	if c == nil || target == nil {
		return false
	}
	for cls := c; cls != nil; cls = cls.Parent {
		if cls == target {
			return true
		}
	}
	return c.Implements(target.Name)
}

// CheckVisibility implements the access rule: public is always
// permitted; private requires identical class; protected requires
// derivation (either direction) or identity. declClass is the class that
// declared the member; callerClass is the nearest enclosing method's
// class (nil outside any method).
func CheckVisibility(vis Visibility, declClass, callerClass *Class) bool {
	switch vis {
	case Public:
		return true
	case Private:
		return callerClass == declClass
	case Protected:
		if callerClass == declClass {
			return true
		}
		return isDerivedEitherWay(declClass, callerClass)
	default:
		return false
	}
}

func isDerivedEitherWay(a, b *Class) bool {
	if a == nil || b == nil {
		return false
	}
	for c := a; c != nil; c = c.Parent {
		if c == b {
			return true
		}
	}
	for c := b; c != nil; c = c.Parent {
		if c == a {
			return true
		}
	}
	return false
}

// Instantiate allocates an Instance of c, reserving a RefTable slot (via
// rt) for each declared instance attribute and seeding it with that
// attribute's default value. Static/constant attribute slots are not
// touched here — the embedder reserves them once when it builds the
// class (AttrDef.Slot), not per instance.
func Instantiate(rt *reftable.RefTable, c *Class) *Instance {
	inst := &Instance{Class: c, Attrs: make(map[string]int), refCount: 1}
	for cls := c; cls != nil; cls = cls.Parent {
		for name, attr := range cls.Attrs {
			if attr.Kind != AttrInstance {
				continue
			}
			if _, exists := inst.Attrs[name]; exists {
				continue // child class's attribute shadows parent's
			}
			slot := rt.Reserve()
			rt.Set(slot, attr.Default)
			inst.Attrs[name] = slot
		}
	}
	return inst
}
