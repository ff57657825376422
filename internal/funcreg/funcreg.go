// Package funcreg implements the FunctionRegistry: user functions stored
// under their name, overloaded by a same-name linked list, resolved at
// call time by longest-common-prefix signature match; and the foreign
// (host) function table.
package funcreg

import (
	"strings"

	"phlang/internal/bytecode"
	"phlang/internal/hostapi"
)

// Arg is one formal argument: name, an optional default-value bytecode
// (evaluated lazily when a call omits it), a type constraint name (empty
// for untyped), and whether it binds by reference.
type Arg struct {
	Name       string
	Default    *bytecode.Program
	TypeName   string
	ByRef      bool
}

// UserFunction is a compiled script function or method.
type UserFunction struct {
	Name      string
	Code      *bytecode.Program
	Params    []Arg
	Statics   map[string]any // persistent across calls; holds value.Value, kept as `any` to avoid importing value for a field funcreg never inspects
	Closure   map[string]any // captured environment for LOAD_CLOSURE-built functions
	Signature string         // fixed char per declared parameter type, built at registration

	Next *UserFunction // same-name collision chain (most-recently-registered first)
}

// Arity reports the declared parameter count.
func (f *UserFunction) Arity() int { return len(f.Params) }

// FunctionRegistry stores user functions (with their overload chains) and
// foreign functions, both keyed by name.
type FunctionRegistry struct {
	user    map[string]*UserFunction
	foreign map[string]*hostapi.ForeignFunction
}

// New returns an empty registry.
func New() *FunctionRegistry {
	return &FunctionRegistry{
		user:    make(map[string]*UserFunction),
		foreign: make(map[string]*hostapi.ForeignFunction),
	}
}

// DefineUser registers a user function. A second definition with the same
// name does not overwrite: it is prepended to the overload chain.
func (r *FunctionRegistry) DefineUser(fn *UserFunction) {
	if existing, ok := r.user[fn.Name]; ok {
		fn.Next = existing
	}
	r.user[fn.Name] = fn
}

// Lookup returns the head of name's overload chain, if any.
func (r *FunctionRegistry) Lookup(name string) (*UserFunction, bool) {
	fn, ok := r.user[name]
	return fn, ok
}

// RegisterForeign installs a foreign function under name; re-registration
// overwrites.
func (r *FunctionRegistry) RegisterForeign(ff *hostapi.ForeignFunction) {
	r.foreign[ff.Name] = ff
}

// LookupForeign resolves a foreign function by name, case-sensitively.
func (r *FunctionRegistry) LookupForeign(name string) (*hostapi.ForeignFunction, bool) {
	ff, ok := r.foreign[name]
	return ff, ok
}

// argTypeChar renders one call-site argument's type as a fixed
// per-type character, with class instances contributing their class
// name (used verbatim, not reduced to a char, since it must
// disambiguate between classes in the same call).
func argTypeChar(kind string) string {
	switch kind {
	case "null":
		return "n"
	case "bool":
		return "b"
	case "int":
		return "i"
	case "real":
		return "d"
	case "string":
		return "s"
	case "array":
		return "a"
	case "resource":
		return "r"
	default:
		return "O:" + kind // object: class name follows, see BuildSignature
	}
}

// BuildSignature turns a call site's argument Kind/ClassName list into
// the signature string used for overload resolution.
func BuildSignature(argKinds []string) string {
	var sb strings.Builder
	for _, k := range argKinds {
		sb.WriteString(argTypeChar(k))
		sb.WriteByte(';')
	}
	return sb.String()
}

// ResolveOverload walks name's overload chain and selects the candidate
// whose Signature shares the longest common prefix with callSig, after
// discarding every candidate whose arity != len(argKinds). Ties break to
// the earliest-registered candidate, which — because
// DefineUser prepends — is the one closest to the tail of the chain.
func ResolveOverload(head *UserFunction, argKinds []string) *UserFunction {
	callSig := BuildSignature(argKinds)
	n := len(argKinds)

	var candidates []*UserFunction
	for f := head; f != nil; f = f.Next {
		if f.Arity() == n {
			candidates = append(candidates, f)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	if len(candidates) == 1 {
		return candidates[0]
	}

	best := candidates[len(candidates)-1] // earliest-registered, for ties
	bestPrefix := -1
	for i := len(candidates) - 1; i >= 0; i-- {
		f := candidates[i]
		p := commonPrefixLen(f.Signature, callSig)
		if p > bestPrefix {
			bestPrefix = p
			best = f
		}
	}
	return best
}

func commonPrefixLen(a, b string) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}
