package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/ilvm-project/ilvm/internal/arena"
	"github.com/ilvm-project/ilvm/internal/cli"
	"github.com/ilvm-project/ilvm/internal/compiler"
	"github.com/ilvm-project/ilvm/internal/log"
	"github.com/ilvm-project/ilvm/internal/objfile"
	"github.com/ilvm-project/ilvm/internal/sexpr"
)

// Compiler is the command that translates a parsed s-expression tree into
// object code.
//
//	ilvm compile -o a.out file.sexpr
func Compiler() cli.Command {
	return new(compileCmd)
}

type compileCmd struct {
	debug  bool
	output string
}

func (compileCmd) Description() string {
	return "compile a program into object code"
}

func (compileCmd) Usage(out io.Writer) error {
	_, err := fmt.Fprintln(out, `compile [-o file.out] file.sexpr

Compile a parsed program into object code.`)

	return err
}

func (c *compileCmd) FlagSet() *cli.FlagSet {
	fs := flag.NewFlagSet("compile", flag.ExitOnError)
	fs.BoolVar(&c.debug, "debug", false, "enable debug logging")
	fs.StringVar(&c.output, "o", "a.out", "output `filename`")

	return fs
}

// Run reads args[0] as a single top-level form, compiles it, and writes the
// resulting object code to the configured output file. Reading source text
// into an ast.Node tree is internal/sexpr's job, a minimal literal reader
// kept apart from the compiler proper.
func (c *compileCmd) Run(_ context.Context, args []string, _ io.Writer, logger *log.Logger) int {
	if c.debug {
		log.LogLevel.Set(log.Debug)
	}

	if len(args) != 1 {
		logger.Error("compile: expected exactly one input file")
		return 1
	}

	f, err := os.Open(args[0])
	if err != nil {
		logger.Error("compile: open failed", "file", args[0], "err", err)
		return 1
	}
	defer f.Close()

	tree, err := sexpr.Read(f)
	if err != nil {
		logger.Error("compile: parse error", "file", args[0], "err", err)
		return 1
	}

	layout := arena.DefaultLayout()

	prog, err := compiler.Compile(tree, layout)
	if err != nil {
		logger.Error("compile: error", "err", err)
		return 1
	}

	file := objfile.File{Code: prog.Code, Strings: prog.Strings}

	text, err := file.MarshalText()
	if err != nil {
		logger.Error("compile: encode error", "err", err)
		return 1
	}

	if err := os.WriteFile(c.output, text, 0o644); err != nil {
		logger.Error("compile: write failed", "file", c.output, "err", err)
		return 1
	}

	logger.Debug("compiled", "out", c.output, "words", len(prog.Code), "strings", len(prog.Strings))

	return 0
}
