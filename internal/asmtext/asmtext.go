// Package asmtext implements a textual assembler that builds a
// bytecode.Program directly from a line-oriented instruction listing. It
// stands in for the code generator a lexer/parser/compiler pipeline would
// normally supply: it satisfies the same contract (a flat instruction
// vector ending in DONE, every referenced constant/function/class already
// registered) without attempting to reimplement the generator itself.
//
// One line is one instruction, except for labels (`name:`), comments
// (`;` to end of line), and the TRY/CATCH/ENDTRY block macro, which
// expands to the LOAD_EXCEPTION/POP_EXCEPTION pair plus catch-clause
// bookkeeping. Forward jump targets are resolved by a backpatch pass once
// the whole body has been scanned.
package asmtext

import (
	"fmt"
	"strconv"
	"strings"

	"phlang/internal/bytecode"
	"phlang/internal/errors"
)

// sourceLine is one pre-split, comment-stripped input line.
type sourceLine struct {
	no     int
	tokens []string
}

// builder assembles a single instruction stream (a function body, a
// method body, or the top-level script) into a *bytecode.Program.
type builder struct {
	file    string
	prog    *bytecode.Program
	labels  map[string]int
	patches []patch

	tryStack       []*bytecode.ExceptionBlock
	pendingTryJump []int // index of the LOAD_EXCEPTION instruction matching tryStack's top

	switchStack   []*switchBuilder
	switchPatches []switchPatch

	resolveFunc func(name string) any // returns a *funcreg.UserFunction, or nil
}

// patch is a forward jump reference awaiting resolution: instruction at
// index `at` needs its P2 field set to the final position of `label`.
type patch struct {
	at    int
	label string
	line  int
}

func newBuilder(file string, resolveFunc func(name string) any) *builder {
	return &builder{
		file:        file,
		prog:        bytecode.NewProgram(),
		labels:      make(map[string]int),
		resolveFunc: resolveFunc,
	}
}

// assembleBody runs the single-pass assembler over lines and returns the
// finished program, backpatching every forward jump it recorded.
func assembleBody(file string, lines []sourceLine, resolveFunc func(name string) any) (*bytecode.Program, error) {
	b := newBuilder(file, resolveFunc)
	for _, ln := range lines {
		if len(ln.tokens) == 0 {
			continue
		}
		head := ln.tokens[0]
		if strings.HasSuffix(head, ":") && len(ln.tokens) == 1 {
			b.labels[strings.TrimSuffix(head, ":")] = len(b.prog.Instructions)
			continue
		}
		if err := b.assembleLine(ln); err != nil {
			return nil, err
		}
	}
	if len(b.tryStack) != 0 {
		return nil, b.errf(lines[len(lines)-1].no, "unterminated TRY block (missing ENDTRY)")
	}
	if len(b.switchStack) != 0 {
		return nil, b.errf(lines[len(lines)-1].no, "unterminated SWITCH block (missing ENDSWITCH)")
	}
	for _, p := range b.patches {
		target, ok := b.labels[p.label]
		if !ok {
			return nil, b.errf(p.line, "undefined label %q", p.label)
		}
		b.prog.Instructions[p.at].P2 = uint32(target)
	}
	for _, sp := range b.switchPatches {
		target, ok := b.labels[sp.label]
		if !ok {
			return nil, b.errf(sp.line, "undefined label %q in SWITCH", sp.label)
		}
		if sp.caseIdx < 0 {
			sp.table.DefaultJmp = uint32(target)
		} else {
			sp.table.Cases[sp.caseIdx].Jmp = uint32(target)
		}
	}
	b.prog.EnsureTrailingDone()
	return b.prog, nil
}

// Assemble builds a *bytecode.Program from a textual listing. resolveFunc
// resolves a LOAD_CLOSURE template's name to a *funcreg.UserFunction
// already registered by the embedder; pass nil if the listing declares
// no closures.
func Assemble(file, src string, resolveFunc func(name string) any) (*bytecode.Program, error) {
	lines := splitLines(src)
	prog, err := assembleBody(file, lines, resolveFunc)
	if err != nil {
		return nil, err
	}
	prog.EntryFile = file
	return prog, nil
}

func (b *builder) errf(line int, format string, args ...any) error {
	return errors.NewSyntaxError(fmt.Sprintf(format, args...), b.file, line, 0)
}

// jumpOperand parses tok as a jump target: a bare integer is taken as an
// already-resolved instruction index, anything else is a label resolved
// by backpatch once the whole body has been scanned.
func (b *builder) jumpOperand(at int, line int, tok string) (uint32, error) {
	if n, err := strconv.Atoi(tok); err == nil {
		return uint32(n), nil
	}
	if target, ok := b.labels[tok]; ok {
		return uint32(target), nil
	}
	b.patches = append(b.patches, patch{at: at, label: tok, line: line})
	return 0, nil
}

func mustInt(tok string, line int, file string) (int64, error) {
	n, err := strconv.ParseInt(tok, 10, 64)
	if err != nil {
		return 0, errors.NewSyntaxError("expected integer operand, got "+tok, file, line, 0)
	}
	return n, nil
}

func splitCSV(tok string) []string {
	if tok == "" || tok == "-" {
		return nil
	}
	return strings.Split(tok, ",")
}
