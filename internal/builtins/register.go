// Package builtins supplies the foreign-function bodies the VM itself
// does not implement: id generation, formatting, crypto, storage and
// streaming. Each file groups the builtins that share a single
// third-party dependency, mirroring how the teacher's internal/stdlib
// groups builtins by the backing module (database_funcs.go wraps
// internal/database). A ForeignFunction's UserData carries an env holding
// the shared *reftable.RefTable (for allocating array-element slots) and
// the *vmcore.VM.
package builtins

import (
	"phlang/internal/funcreg"
	"phlang/internal/hostapi"
	"phlang/internal/reftable"
	"phlang/internal/value"
	"phlang/internal/vmcore"
)

// env is the UserData every builtin in this package receives: the bits
// of VM state a foreign function needs that CallContext itself doesn't
// carry (hostapi stays VM-agnostic by design, see hostapi.go's package
// doc), namely slot allocation and the shutdown/uncaught-handler verbs.
type env struct {
	rt *reftable.RefTable
	vm *vmcore.VM
}

// Register installs every builtin in this package into vm's function
// registry, threading one env (vm's RefTable and vm itself) through as
// each ForeignFunction's UserData.
func Register(vm *vmcore.VM) {
	e := &env{rt: vm.RT, vm: vm}
	registerIDGen(vm.Functions, e)
	registerFormat(vm.Functions, e)
	registerCrypto(vm.Functions, e)
	registerStorage(vm.Functions, e)
	registerStream(vm.Functions, e)
	registerIntrinsics(vm.Functions, e)
}

func register(fr *funcreg.FunctionRegistry, e *env, name string, impl func(*hostapi.CallContext) hostapi.Status) {
	fr.RegisterForeign(&hostapi.ForeignFunction{Name: name, Impl: impl, UserData: e})
}

func ctxEnv(ctx *hostapi.CallContext) *env {
	return ctx.UserData.(*env)
}

func ctxRT(ctx *hostapi.CallContext) *reftable.RefTable {
	return ctxEnv(ctx).rt
}

// newArray builds a freshly insertion-indexed array value out of items,
// reserving one RefTable slot per element the way OpLoadMap does.
func newArray(rt *reftable.RefTable, items ...value.Value) value.Value {
	h := value.NewHashmap()
	for _, item := range items {
		slot := rt.Reserve()
		rt.Set(slot, item)
		h.Append(slot)
	}
	return value.InitFromArray(h)
}

// newAssoc builds an array from parallel key/value slices.
func newAssoc(rt *reftable.RefTable, keys []string, items []value.Value) value.Value {
	h := value.NewHashmap()
	for i, item := range items {
		slot := rt.Reserve()
		rt.Set(slot, item)
		h.Insert(value.StringKey(keys[i]), slot)
	}
	return value.InitFromArray(h)
}

func arg(ctx *hostapi.CallContext, i int) value.Value {
	if i < 0 || i >= len(ctx.Args) {
		return value.Null()
	}
	return ctx.Args[i]
}

func argString(ctx *hostapi.CallContext, i int) string {
	return arg(ctx, i).ToString()
}

func argInt(ctx *hostapi.CallContext, i int) int64 {
	return arg(ctx, i).ToInt()
}
