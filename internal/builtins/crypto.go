package builtins

import (
	"crypto/ed25519"
	"encoding/hex"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/bcrypt"

	"phlang/internal/funcreg"
	"phlang/internal/hostapi"
	"phlang/internal/value"
)

// registerCrypto wires password hashing (bcrypt, for credential storage
// a host script manages), Ed25519 keypair/sign/verify (crypto/ed25519),
// and scalar reduction over the Ed25519 group order (edwards25519, for
// deterministic sub-key derivation a raw ed25519 seed can't do alone).
func registerCrypto(fr *funcreg.FunctionRegistry, e *env) {
	register(fr, e, "keypair_ed25519", func(ctx *hostapi.CallContext) hostapi.Status {
		seedHex := argString(ctx, 0)
		seed, err := hex.DecodeString(seedHex)
		if err != nil || len(seed) != ed25519.SeedSize {
			ctx.Error("keypair_ed25519: expected a 32-byte hex seed")
			ctx.Result = value.Null()
			return hostapi.StatusOK
		}
		priv := ed25519.NewKeyFromSeed(seed)
		pub := priv.Public().(ed25519.PublicKey)
		rt := ctxRT(ctx)
		ctx.Result = newAssoc(rt,
			[]string{"public", "private"},
			[]value.Value{
				value.InitFromString(hex.EncodeToString(pub)),
				value.InitFromString(hex.EncodeToString(priv)),
			})
		return hostapi.StatusOK
	})
	register(fr, e, "sign_ed25519", func(ctx *hostapi.CallContext) hostapi.Status {
		priv, err := hex.DecodeString(argString(ctx, 0))
		if err != nil || len(priv) != ed25519.PrivateKeySize {
			ctx.Error("sign_ed25519: malformed private key")
			ctx.Result = value.Null()
			return hostapi.StatusOK
		}
		sig := ed25519.Sign(ed25519.PrivateKey(priv), []byte(argString(ctx, 1)))
		ctx.Result = value.InitFromString(hex.EncodeToString(sig))
		return hostapi.StatusOK
	})
	register(fr, e, "verify_ed25519", func(ctx *hostapi.CallContext) hostapi.Status {
		pub, err1 := hex.DecodeString(argString(ctx, 0))
		sig, err2 := hex.DecodeString(argString(ctx, 2))
		if err1 != nil || err2 != nil || len(pub) != ed25519.PublicKeySize {
			ctx.Result = value.InitFromBool(false)
			return hostapi.StatusOK
		}
		ctx.Result = value.InitFromBool(ed25519.Verify(ed25519.PublicKey(pub), []byte(argString(ctx, 1)), sig))
		return hostapi.StatusOK
	})
	register(fr, e, "password_hash", func(ctx *hostapi.CallContext) hostapi.Status {
		cost := bcrypt.DefaultCost
		if len(ctx.Args) > 1 {
			cost = int(argInt(ctx, 1))
		}
		hashed, err := bcrypt.GenerateFromPassword([]byte(argString(ctx, 0)), cost)
		if err != nil {
			ctx.Error("password_hash: " + err.Error())
			ctx.Result = value.InitFromBool(false)
			return hostapi.StatusOK
		}
		ctx.Result = value.InitFromString(string(hashed))
		return hostapi.StatusOK
	})
	register(fr, e, "password_verify", func(ctx *hostapi.CallContext) hostapi.Status {
		err := bcrypt.CompareHashAndPassword([]byte(argString(ctx, 1)), []byte(argString(ctx, 0)))
		ctx.Result = value.InitFromBool(err == nil)
		return hostapi.StatusOK
	})
	register(fr, e, "ed25519_scalar_reduce", func(ctx *hostapi.CallContext) hostapi.Status {
		raw, err := hex.DecodeString(argString(ctx, 0))
		if err != nil || len(raw) == 0 {
			ctx.Error("ed25519_scalar_reduce: expected a hex-encoded seed")
			ctx.Result = value.Null()
			return hostapi.StatusOK
		}
		wide := make([]byte, 64)
		copy(wide, raw)
		s, err := edwards25519.NewScalar().SetUniformBytes(wide)
		if err != nil {
			ctx.Error("ed25519_scalar_reduce: " + err.Error())
			ctx.Result = value.Null()
			return hostapi.StatusOK
		}
		ctx.Result = value.InitFromString(hex.EncodeToString(s.Bytes()))
		return hostapi.StatusOK
	})
}
