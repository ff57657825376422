// Command phlang is the CLI front end for the embeddable VM: run an
// assembled program, or drop into a line-oriented REPL. There is no
// lexer/parser/codegen in this module (see SPEC_FULL.md §1), so `run`
// and `asm` both take the internal/asmtext textual assembly form rather
// than PHP-like source.
package main

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"strings"

	"phlang/internal/asmtext"
	"phlang/internal/builtins"
	"phlang/internal/vmcore"
)

const version = "0.1.0"

var commandAliases = map[string]string{
	"r": "run",
	"a": "asm",
	"i": "repl",
	"v": "version",
	"h": "help",
}

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		showUsage()
		return
	}

	cmd := args[0]
	if alias, ok := commandAliases[cmd]; ok {
		cmd = alias
	}

	switch cmd {
	case "--help", "-h", "help":
		showUsage()
	case "--version", "-v", "version":
		fmt.Printf("phlang %s\n", version)
	case "run":
		if len(args) < 2 {
			log.Fatal("usage: phlang run <file.phasm>")
		}
		runFile(args[1])
	case "asm":
		if len(args) < 2 {
			log.Fatal("usage: phlang asm <file.phasm>")
		}
		assembleOnly(args[1])
	case "repl":
		runRepl()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		showUsage()
		os.Exit(1)
	}
}

func newVM() *vmcore.VM {
	vm := vmcore.New()
	vm.SetOutputConsumer(func(data []byte, _ any) vmcore.ConsumerStatus {
		os.Stdout.Write(data)
		return vmcore.ConsumerOK
	}, nil)
	builtins.Register(vm)
	return vm
}

func runFile(path string) {
	src, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("could not read %s: %v", path, err)
	}
	vm := newVM()
	prog, err := asmtext.Assemble(path, string(src), nil)
	if err != nil {
		log.Fatalf("assemble error: %v", err)
	}
	outcome := vm.Run(prog)
	if outcome.Status == vmcore.StatusException {
		fmt.Fprintf(os.Stderr, "uncaught exception: %s\n", outcome.Value.ToString())
		os.Exit(1)
	}
}

func assembleOnly(path string) {
	src, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("could not read %s: %v", path, err)
	}
	prog, err := asmtext.Assemble(path, string(src), nil)
	if err != nil {
		log.Fatalf("assemble error: %v", err)
	}
	fmt.Printf("%d instructions, %d constants\n", prog.Len(), len(prog.Constants))
}

// runRepl accepts one assembly line at a time, assembling and running
// it as a tiny one-line program against a persistent VM — there is no
// incremental statement model to speak of without a parser, so each
// line must be a complete, self-terminating instruction.
func runRepl() {
	vm := newVM()
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("phlang REPL — one assembly instruction per line, Ctrl-D to exit")
	for {
		fmt.Print("phlang> ")
		if !scanner.Scan() {
			fmt.Println()
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		prog, err := asmtext.Assemble("<repl>", line+"\n", nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		vm.Run(prog)
	}
}

func showUsage() {
	fmt.Println("phlang — embeddable scripting VM")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  phlang run <file.phasm>    Assemble and run a program   (alias: r)")
	fmt.Println("  phlang asm <file.phasm>    Assemble without running     (alias: a)")
	fmt.Println("  phlang repl                Start the line REPL          (alias: i)")
	fmt.Println("  phlang version             Show version                 (alias: v)")
	fmt.Println("  phlang help                Show this message            (alias: h)")
}
