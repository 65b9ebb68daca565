// ilvm is the command-line interface to the ILVM virtual machine: it
// compiles s-expression programs to bytecode, runs bytecode, disassembles
// it, and checkpoints a run so it can be resumed later.
package main

import (
	"context"
	"os"

	"github.com/ilvm-project/ilvm/internal/cli"
	"github.com/ilvm-project/ilvm/internal/cli/cmd"
)

var commands = []cli.Command{
	cmd.Compiler(),
	cmd.Runner(),
	cmd.Checkpointer(),
	cmd.Disassembler(),
	cmd.Stepper(),
}

func main() {
	result :=
		cli.New(context.Background()).
			WithLogger(os.Stderr).
			WithCommands(commands).
			WithHelp(cmd.Help(commands)).
			Execute(os.Args[1:])

	os.Exit(result)
}
