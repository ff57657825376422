// assembleLine dispatches one tokenized source line to the opcode it
// names. It is the bulk of the textual assembler: the contract it
// satisfies is the same one a real code generator must (see
// bytecode.Program's doc comment) — every P3 auxiliary structure fully
// built before the instruction referencing it is appended, and the
// program ends in a trailing DONE (enforced defensively by
// EnsureTrailingDone for hand-written listings that forget it).
package asmtext

import (
	"fmt"
	"strings"

	"phlang/internal/bytecode"
	"phlang/internal/funcreg"
	"phlang/internal/vmcore"
)

func (b *builder) assembleLine(ln sourceLine) error {
	toks := ln.tokens
	mnem := strings.ToUpper(toks[0])
	args := toks[1:]

	switch mnem {
	case "DONE", "HALT":
		op := bytecode.OpDone
		if mnem == "HALT" {
			op = bytecode.OpHalt
		}
		p1, err := b.optIntFlag(args, ln.no)
		if err != nil {
			return err
		}
		b.prog.Append(bytecode.Instruction{Op: op, P1: p1})

	case "JMP":
		return b.assembleJump(bytecode.OpJmp, ln, args, 0)
	case "JZ":
		return b.assembleKeepJump(bytecode.OpJz, ln, args)
	case "JNZ":
		return b.assembleKeepJump(bytecode.OpJnz, ln, args)

	case "POP":
		n, err := b.argInt(args, 0, ln.no)
		if err != nil {
			return err
		}
		b.prog.Append(bytecode.Instruction{Op: bytecode.OpPop, P1: int32(n)})

	case "CVT_INT":
		b.prog.Append(bytecode.Instruction{Op: bytecode.OpCvtInt})
	case "CVT_REAL":
		b.prog.Append(bytecode.Instruction{Op: bytecode.OpCvtReal})
	case "CVT_STR":
		b.prog.Append(bytecode.Instruction{Op: bytecode.OpCvtStr})
	case "CVT_BOOL":
		b.prog.Append(bytecode.Instruction{Op: bytecode.OpCvtBool})
	case "CVT_NULL":
		b.prog.Append(bytecode.Instruction{Op: bytecode.OpCvtNull})
	case "CVT_NUMC":
		b.prog.Append(bytecode.Instruction{Op: bytecode.OpCvtNumc})
	case "CVT_ARRAY":
		b.prog.Append(bytecode.Instruction{Op: bytecode.OpCvtArray})
	case "CVT_OBJ":
		b.prog.Append(bytecode.Instruction{Op: bytecode.OpCvtObj})

	case "LOAD":
		if len(args) == 0 {
			return b.errf(ln.no, "LOAD requires a variable name")
		}
		lookupOnly := int32(0)
		if len(args) > 1 && strings.EqualFold(args[1], "LOOKUP") {
			lookupOnly = 1
		}
		b.prog.Append(bytecode.Instruction{Op: bytecode.OpLoad, P1: lookupOnly, P3: unquote(args[0])})

	case "LOAD_REF":
		b.prog.Append(bytecode.Instruction{Op: bytecode.OpLoadRef})

	case "LOAD_MAP":
		n, err := b.argInt(args, 0, ln.no)
		if err != nil {
			return err
		}
		b.prog.Append(bytecode.Instruction{Op: bytecode.OpLoadMap, P2: uint32(n)})

	case "LOAD_LIST":
		n, err := b.argInt(args, 0, ln.no)
		if err != nil {
			return err
		}
		b.prog.Append(bytecode.Instruction{Op: bytecode.OpLoadList, P2: uint32(n)})

	case "LOAD_IDX":
		hasKey, createIfMissing := int32(1), uint32(0)
		if len(args) > 0 {
			v, err := mustInt(args[0], ln.no, b.file)
			if err != nil {
				return err
			}
			hasKey = int32(v)
		}
		if len(args) > 1 {
			v, err := mustInt(args[1], ln.no, b.file)
			if err != nil {
				return err
			}
			createIfMissing = uint32(v)
		}
		b.prog.Append(bytecode.Instruction{Op: bytecode.OpLoadIdx, P1: hasKey, P2: createIfMissing})

	case "LOAD_CLOSURE":
		if len(args) == 0 {
			return b.errf(ln.no, "LOAD_CLOSURE requires a function name")
		}
		fnName := unquote(args[0])
		var fn *funcreg.UserFunction
		if b.resolveFunc != nil {
			if f, ok := b.resolveFunc(fnName).(*funcreg.UserFunction); ok {
				fn = f
			}
		}
		if fn == nil {
			return b.errf(ln.no, "LOAD_CLOSURE: undefined function template %q", fnName)
		}
		var captures []string
		byRef := make(map[string]bool)
		if len(args) > 1 {
			for _, c := range splitCSV(args[1]) {
				name := c
				if strings.HasPrefix(name, "&") {
					name = name[1:]
					byRef[name] = true
				}
				captures = append(captures, name)
			}
		}
		b.prog.Append(bytecode.Instruction{Op: bytecode.OpLoadClosure, P3: vmcore.NewClosureTemplate(fn, captures, byRef)})

	case "STORE":
		if len(args) == 0 {
			return b.errf(ln.no, "STORE requires a variable name")
		}
		memberTarget := uint32(0)
		if len(args) > 1 && strings.EqualFold(args[1], "MEMBER") {
			memberTarget = 1
		}
		b.prog.Append(bytecode.Instruction{Op: bytecode.OpStore, P2: memberTarget, P3: unquote(args[0])})

	case "STORE_REF":
		if len(args) == 0 {
			return b.errf(ln.no, "STORE_REF requires a variable name")
		}
		b.prog.Append(bytecode.Instruction{Op: bytecode.OpStoreRef, P3: unquote(args[0])})

	case "STORE_IDX":
		hasKey := int32(1)
		if len(args) > 0 {
			v, err := mustInt(args[0], ln.no, b.file)
			if err != nil {
				return err
			}
			hasKey = int32(v)
		}
		b.prog.Append(bytecode.Instruction{Op: bytecode.OpStoreIdx, P1: hasKey})

	case "STORE_IDX_REF":
		hasKey := int32(1)
		if len(args) > 0 {
			v, err := mustInt(args[0], ln.no, b.file)
			if err != nil {
				return err
			}
			hasKey = int32(v)
		}
		b.prog.Append(bytecode.Instruction{Op: bytecode.OpStoreIdxRef, P1: hasKey})

	case "UPLINK":
		if len(args) == 0 {
			return b.errf(ln.no, "UPLINK requires at least one name")
		}
		for _, name := range splitCSV(args[0]) {
			b.prog.Append(bytecode.Instruction{Op: bytecode.OpUplink, P3: name})
		}

	case "INCR", "DECR":
		op := bytecode.OpIncr
		if mnem == "DECR" {
			op = bytecode.OpDecr
		}
		pre, err := b.optIntFlag(args, ln.no)
		if err != nil {
			return err
		}
		b.prog.Append(bytecode.Instruction{Op: op, P1: pre})

	case "UMINUS":
		b.prog.Append(bytecode.Instruction{Op: bytecode.OpUminus})
	case "UPLUS":
		b.prog.Append(bytecode.Instruction{Op: bytecode.OpUplus})
	case "BITNOT":
		b.prog.Append(bytecode.Instruction{Op: bytecode.OpBitnot})
	case "LNOT":
		b.prog.Append(bytecode.Instruction{Op: bytecode.OpLnot})

	case "ADD":
		b.prog.Append(bytecode.Instruction{Op: bytecode.OpAdd})
	case "SUB":
		b.prog.Append(bytecode.Instruction{Op: bytecode.OpSub})
	case "MUL":
		b.prog.Append(bytecode.Instruction{Op: bytecode.OpMul})
	case "DIV":
		b.prog.Append(bytecode.Instruction{Op: bytecode.OpDiv})
	case "MOD":
		b.prog.Append(bytecode.Instruction{Op: bytecode.OpMod})

	case "SHL":
		b.prog.Append(bytecode.Instruction{Op: bytecode.OpShl})
	case "SHR":
		b.prog.Append(bytecode.Instruction{Op: bytecode.OpShr})
	case "BAND":
		b.prog.Append(bytecode.Instruction{Op: bytecode.OpBand})
	case "BOR":
		b.prog.Append(bytecode.Instruction{Op: bytecode.OpBor})
	case "BXOR":
		b.prog.Append(bytecode.Instruction{Op: bytecode.OpBxor})

	case "ADD_STORE":
		b.prog.Append(bytecode.Instruction{Op: bytecode.OpAddStore})
	case "SUB_STORE":
		b.prog.Append(bytecode.Instruction{Op: bytecode.OpSubStore})
	case "MUL_STORE":
		b.prog.Append(bytecode.Instruction{Op: bytecode.OpMulStore})
	case "DIV_STORE":
		b.prog.Append(bytecode.Instruction{Op: bytecode.OpDivStore})
	case "MOD_STORE":
		b.prog.Append(bytecode.Instruction{Op: bytecode.OpModStore})
	case "SHL_STORE":
		b.prog.Append(bytecode.Instruction{Op: bytecode.OpShlStore})
	case "SHR_STORE":
		b.prog.Append(bytecode.Instruction{Op: bytecode.OpShrStore})
	case "BAND_STORE":
		b.prog.Append(bytecode.Instruction{Op: bytecode.OpBandStore})
	case "BOR_STORE":
		b.prog.Append(bytecode.Instruction{Op: bytecode.OpBorStore})
	case "BXOR_STORE":
		b.prog.Append(bytecode.Instruction{Op: bytecode.OpBxorStore})
	case "CAT_STORE":
		b.prog.Append(bytecode.Instruction{Op: bytecode.OpCatStore})

	case "CAT":
		n, err := b.argInt(args, 0, ln.no)
		if err != nil {
			return err
		}
		b.prog.Append(bytecode.Instruction{Op: bytecode.OpCat, P1: int32(n)})

	case "EQ", "NEQ", "LT", "LE", "GT", "GE":
		return b.assembleCompare(mnem, ln, args)

	case "TEQ":
		b.prog.Append(bytecode.Instruction{Op: bytecode.OpTeq})
	case "TNE":
		b.prog.Append(bytecode.Instruction{Op: bytecode.OpTne})
	case "SEQ":
		b.prog.Append(bytecode.Instruction{Op: bytecode.OpSeq})
	case "SNE":
		b.prog.Append(bytecode.Instruction{Op: bytecode.OpSne})

	case "LAND":
		b.prog.Append(bytecode.Instruction{Op: bytecode.OpLand})
	case "LOR":
		b.prog.Append(bytecode.Instruction{Op: bytecode.OpLor})
	case "LXOR":
		b.prog.Append(bytecode.Instruction{Op: bytecode.OpLxor})

	case "IS_A":
		if len(args) == 0 {
			return b.errf(ln.no, "IS_A requires a class name")
		}
		b.prog.Append(bytecode.Instruction{Op: bytecode.OpIsA, P3: unquote(args[0])})

	case "MEMBER":
		if len(args) < 3 {
			return b.errf(ln.no, "MEMBER requires static-access, is-method, name")
		}
		static, err := mustInt(args[0], ln.no, b.file)
		if err != nil {
			return err
		}
		isMethod, err := mustInt(args[1], ln.no, b.file)
		if err != nil {
			return err
		}
		b.prog.Append(bytecode.Instruction{Op: bytecode.OpMember, P1: int32(static), P2: uint32(isMethod), P3: unquote(args[2])})

	case "NEW":
		if len(args) < 2 {
			return b.errf(ln.no, "NEW requires arg-count, class-name")
		}
		n, err := mustInt(args[0], ln.no, b.file)
		if err != nil {
			return err
		}
		b.prog.Append(bytecode.Instruction{Op: bytecode.OpNew, P1: int32(n), P3: unquote(args[1])})

	case "CLONE":
		b.prog.Append(bytecode.Instruction{Op: bytecode.OpClone})

	case "CALL":
		return b.assembleCall(ln, args)

	case "FOREACH_INIT":
		return b.assembleForeachInit(ln, args)
	case "FOREACH_STEP":
		return b.assembleJump(bytecode.OpForeachStep, ln, args, 0)

	case "ERR_CTRL":
		b.prog.Append(bytecode.Instruction{Op: bytecode.OpErrCtrl})
	case "NOOP":
		b.prog.Append(bytecode.Instruction{Op: bytecode.OpNoop})

	case "CONSUME":
		n, err := b.argInt(args, 0, ln.no)
		if err != nil {
			return err
		}
		if len(args) == 0 {
			n = 1
		}
		b.prog.Append(bytecode.Instruction{Op: bytecode.OpConsume, P1: int32(n)})

	case "THROW":
		b.prog.Append(bytecode.Instruction{Op: bytecode.OpThrow})

	case "TRY":
		b.tryStack = append(b.tryStack, &bytecode.ExceptionBlock{})
		b.pendingTryJump = append(b.pendingTryJump, b.prog.Append(bytecode.Instruction{Op: bytecode.OpLoadException}))

	case "CATCH":
		if len(args) < 2 {
			return b.errf(ln.no, "CATCH requires class-name, variable-name")
		}
		if len(b.tryStack) == 0 {
			return b.errf(ln.no, "CATCH without an open TRY")
		}
		blk := b.tryStack[len(b.tryStack)-1]
		blk.Catches = append(blk.Catches, bytecode.CatchClause{
			ClassName: unquote(args[0]),
			VarName:   unquote(args[1]),
			StartIP:   uint32(len(b.prog.Instructions)),
		})

	case "ENDTRY":
		if len(b.tryStack) == 0 {
			return b.errf(ln.no, "ENDTRY without an open TRY")
		}
		blk := b.tryStack[len(b.tryStack)-1]
		b.tryStack = b.tryStack[:len(b.tryStack)-1]
		loadAt := b.pendingTryJump[len(b.pendingTryJump)-1]
		b.pendingTryJump = b.pendingTryJump[:len(b.pendingTryJump)-1]
		b.prog.Instructions[loadAt].P3 = blk
		b.prog.Instructions[loadAt].P2 = uint32(len(b.prog.Instructions))
		b.prog.Append(bytecode.Instruction{Op: bytecode.OpPopException})

	case "SWITCH":
		b.switchStack = append(b.switchStack, &switchBuilder{at: b.prog.Append(bytecode.Instruction{Op: bytecode.OpSwitch})})

	case "CASE":
		if len(b.switchStack) == 0 {
			return b.errf(ln.no, "CASE outside SWITCH")
		}
		if len(args) < 2 {
			return b.errf(ln.no, "CASE requires a constant and a jump target")
		}
		sw := b.switchStack[len(b.switchStack)-1]
		idx := b.prog.AddConstant(parseConstant(args[0]))
		sw.pendingCases = append(sw.pendingCases, pendingCase{constIndex: idx, label: args[1]})

	case "DEFAULT":
		if len(b.switchStack) == 0 {
			return b.errf(ln.no, "DEFAULT outside SWITCH")
		}
		if len(args) < 1 {
			return b.errf(ln.no, "DEFAULT requires a jump target")
		}
		sw := b.switchStack[len(b.switchStack)-1]
		sw.table.HasDefault = true
		sw.pendingDefault = args[0]

	case "ENDSWITCH":
		if len(b.switchStack) == 0 {
			return b.errf(ln.no, "ENDSWITCH without an open SWITCH")
		}
		sw := b.switchStack[len(b.switchStack)-1]
		b.switchStack = b.switchStack[:len(b.switchStack)-1]
		b.prog.Instructions[sw.at].P3 = &sw.table
		// Case/default targets are resolved in the same deferred backpatch
		// pass as ordinary jumps, since a switch commonly jumps forward to
		// code that hasn't been scanned yet.
		for _, pc := range sw.pendingCases {
			b.switchPatches = append(b.switchPatches, switchPatch{table: &sw.table, caseIdx: len(sw.table.Cases), label: pc.label, line: ln.no})
			sw.table.Cases = append(sw.table.Cases, bytecode.SwitchCase{ConstIndex: pc.constIndex})
		}
		if sw.pendingDefault != "" {
			b.switchPatches = append(b.switchPatches, switchPatch{table: &sw.table, caseIdx: -1, label: sw.pendingDefault, line: ln.no})
		}

	default:
		return b.errf(ln.no, "unrecognized mnemonic %q", mnem)
	}
	return nil
}

// switchBuilder accumulates a SWITCH block's cases across CASE/DEFAULT
// lines until ENDSWITCH finalizes the table, backpatching any label that
// hadn't been seen yet (a forward reference).
type switchBuilder struct {
	at             int
	table          bytecode.SwitchTable
	pendingCases   []pendingCase
	pendingDefault string
}

type pendingCase struct {
	constIndex int
	label      string
}

// switchPatch is a forward label reference inside a SWITCH block awaiting
// resolution: either one Cases[caseIdx].Jmp (caseIdx >= 0) or
// DefaultJmp (caseIdx == -1).
type switchPatch struct {
	table   *bytecode.SwitchTable
	caseIdx int
	label   string
	line    int
}

func parseConstant(tok string) any {
	if strings.HasPrefix(tok, "\"") {
		return unquote(tok)
	}
	if tok == "true" || tok == "false" {
		return tok == "true"
	}
	if strings.ContainsAny(tok, ".eE") {
		var f float64
		if _, err := fmt.Sscanf(tok, "%g", &f); err == nil {
			return f
		}
	}
	var n int64
	if _, err := fmt.Sscanf(tok, "%d", &n); err == nil {
		return n
	}
	return tok
}

func (b *builder) assembleJump(op bytecode.OpCode, ln sourceLine, args []string, p1 int32) error {
	if len(args) == 0 {
		return b.errf(ln.no, "%s requires a jump target", op)
	}
	at := b.prog.Append(bytecode.Instruction{Op: op, P1: p1})
	target, err := b.jumpOperand(at, ln.no, args[0])
	if err != nil {
		return err
	}
	b.prog.Instructions[at].P2 = target
	return nil
}

func (b *builder) assembleKeepJump(op bytecode.OpCode, ln sourceLine, args []string) error {
	if len(args) < 2 {
		return b.errf(ln.no, "%s requires keep-flag, jump target", op)
	}
	keep, err := mustInt(args[0], ln.no, b.file)
	if err != nil {
		return err
	}
	at := b.prog.Append(bytecode.Instruction{Op: op, P1: int32(keep)})
	target, err := b.jumpOperand(at, ln.no, args[1])
	if err != nil {
		return err
	}
	b.prog.Instructions[at].P2 = target
	return nil
}

func (b *builder) assembleCompare(mnem string, ln sourceLine, args []string) error {
	var op bytecode.OpCode
	switch mnem {
	case "EQ":
		op = bytecode.OpEq
	case "NEQ":
		op = bytecode.OpNeq
	case "LT":
		op = bytecode.OpLt
	case "LE":
		op = bytecode.OpLe
	case "GT":
		op = bytecode.OpGt
	case "GE":
		op = bytecode.OpGe
	}
	if len(args) == 0 || args[0] == "0" {
		b.prog.Append(bytecode.Instruction{Op: op})
		return nil
	}
	at := b.prog.Append(bytecode.Instruction{Op: op})
	target, err := b.jumpOperand(at, ln.no, args[0])
	if err != nil {
		return err
	}
	b.prog.Instructions[at].P2 = target
	return nil
}

func (b *builder) assembleCall(ln sourceLine, args []string) error {
	if len(args) < 2 {
		return b.errf(ln.no, "CALL requires arg-count, kind, name[, class-name]")
	}
	n, err := mustInt(args[0], ln.no, b.file)
	if err != nil {
		return err
	}
	var kind bytecode.CallKind
	switch strings.ToUpper(args[1]) {
	case "FUNC":
		kind = bytecode.CallFunction
	case "METHOD":
		kind = bytecode.CallMethod
	case "STATIC":
		kind = bytecode.CallStaticMethod
	case "CLOSURE":
		kind = bytecode.CallClosureTOS
	default:
		return b.errf(ln.no, "CALL: unknown kind %q", args[1])
	}
	name := ""
	if len(args) > 2 {
		name = unquote(args[2])
	}
	className := ""
	if kind == bytecode.CallStaticMethod && len(args) > 3 {
		className = unquote(args[3])
	}
	spec := &bytecode.CallSpec{Kind: kind, Name: name, ClassName: className, ArgCount: int(n)}
	b.prog.Append(bytecode.Instruction{Op: bytecode.OpCall, P1: int32(n), P3: spec})
	return nil
}

func (b *builder) assembleForeachInit(ln sourceLine, args []string) error {
	desc := &bytecode.ForeachDescriptor{}
	if len(args) > 0 && args[0] != "-" {
		desc.KeyVar = unquote(args[0])
	}
	if len(args) > 1 {
		desc.ValueVar = unquote(args[1])
	}
	if len(args) > 2 {
		v, err := mustInt(args[2], ln.no, b.file)
		if err != nil {
			return err
		}
		desc.ByRef = v != 0
	}
	b.prog.Append(bytecode.Instruction{Op: bytecode.OpForeachInit, P3: desc})
	return nil
}

// argInt fetches args[i] as an integer, or 0 if args is too short.
func (b *builder) argInt(args []string, i int, line int) (int64, error) {
	if i >= len(args) {
		return 0, nil
	}
	return mustInt(args[i], line, b.file)
}

// optIntFlag parses an optional single 0/1 flag argument (P1 on
// DONE/HALT/INCR/DECR), defaulting to 0 when absent.
func (b *builder) optIntFlag(args []string, line int) (int32, error) {
	if len(args) == 0 {
		return 0, nil
	}
	v, err := mustInt(args[0], line, b.file)
	if err != nil {
		return 0, err
	}
	return int32(v), nil
}
