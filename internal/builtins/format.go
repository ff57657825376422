package builtins

import (
	"github.com/dustin/go-humanize"

	"phlang/internal/funcreg"
	"phlang/internal/hostapi"
	"phlang/internal/value"
)

// registerFormat wires the human-readable display helpers scripts use
// for reporting: byte counts, thousands-grouped numbers and ordinals,
// the things a teacher-style CLI tool prints in a summary line.
func registerFormat(fr *funcreg.FunctionRegistry, e *env) {
	register(fr, e, "humanize_bytes", func(ctx *hostapi.CallContext) hostapi.Status {
		n := argInt(ctx, 0)
		if n < 0 {
			n = 0
		}
		ctx.Result = value.InitFromString(humanize.Bytes(uint64(n)))
		return hostapi.StatusOK
	})
	register(fr, e, "humanize_number", func(ctx *hostapi.CallContext) hostapi.Status {
		ctx.Result = value.InitFromString(humanize.Comma(argInt(ctx, 0)))
		return hostapi.StatusOK
	})
	register(fr, e, "humanize_ordinal", func(ctx *hostapi.CallContext) hostapi.Status {
		ctx.Result = value.InitFromString(humanize.Ordinal(int(argInt(ctx, 0))))
		return hostapi.StatusOK
	})
	register(fr, e, "humanize_commaf", func(ctx *hostapi.CallContext) hostapi.Status {
		ctx.Result = value.InitFromString(humanize.Commaf(arg(ctx, 0).ToReal()))
		return hostapi.StatusOK
	})
}
