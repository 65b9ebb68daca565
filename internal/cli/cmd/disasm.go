package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/ilvm-project/ilvm/internal/asmfmt"
	"github.com/ilvm-project/ilvm/internal/cli"
	"github.com/ilvm-project/ilvm/internal/log"
)

// Disassembler is the command that prints compiled object code as readable
// assembly text.
//
//	ilvm disasm a.out
func Disassembler() cli.Command {
	return new(disasmCmd)
}

type disasmCmd struct {
	debug bool
}

func (disasmCmd) Description() string {
	return "disassemble object code"
}

func (disasmCmd) Usage(out io.Writer) error {
	_, err := fmt.Fprintln(out, `disasm a.out

Print object code as one instruction per line.`)

	return err
}

func (d *disasmCmd) FlagSet() *cli.FlagSet {
	fs := flag.NewFlagSet("disasm", flag.ExitOnError)
	fs.BoolVar(&d.debug, "debug", false, "enable debug logging")

	return fs
}

func (d *disasmCmd) Run(_ context.Context, args []string, stdout io.Writer, logger *log.Logger) int {
	if d.debug {
		log.LogLevel.Set(log.Debug)
	}

	if len(args) != 1 {
		logger.Error("disasm: expected exactly one object file")
		return 1
	}

	var runCmd runner

	file, err := runCmd.loadObjfile(args[0])
	if err != nil {
		logger.Error("disasm: decode failed", "file", args[0], "err", err)
		return 1
	}

	if err := asmfmt.Disassemble(stdout, file.Code, 0, nil); err != nil {
		logger.Error("disasm: write failed", "err", err)
		return 1
	}

	return 0
}
