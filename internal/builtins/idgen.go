package builtins

import (
	"github.com/google/uuid"

	"phlang/internal/funcreg"
	"phlang/internal/hostapi"
	"phlang/internal/value"
)

// registerIDGen wires uuid_v4/uuid_valid, the host-side identifier
// generator scripts reach for when building resource handles or
// correlation ids (session tokens, request ids) that must not collide
// across a long-running embed.
func registerIDGen(fr *funcreg.FunctionRegistry, e *env) {
	register(fr, e, "uuid_v4", func(ctx *hostapi.CallContext) hostapi.Status {
		ctx.Result = value.InitFromString(uuid.NewString())
		return hostapi.StatusOK
	})
	register(fr, e, "uuid_valid", func(ctx *hostapi.CallContext) hostapi.Status {
		_, err := uuid.Parse(argString(ctx, 0))
		ctx.Result = value.InitFromBool(err == nil)
		return hostapi.StatusOK
	})
	register(fr, e, "uuid_nil", func(ctx *hostapi.CallContext) hostapi.Status {
		ctx.Result = value.InitFromString(uuid.Nil.String())
		return hostapi.StatusOK
	})
}
