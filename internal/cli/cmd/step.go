package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"github.com/ilvm-project/ilvm/internal/asmfmt"
	"github.com/ilvm-project/ilvm/internal/cli"
	"github.com/ilvm-project/ilvm/internal/engine"
	"github.com/ilvm-project/ilvm/internal/latch"
	"github.com/ilvm-project/ilvm/internal/log"
)

// Stepper is the interactive single-step command: it loads object code and
// advances one instruction per keypress, printing the instruction about to
// run and the register file after it runs. It puts the terminal into raw
// mode for the duration of the session so a bare keypress (no Enter) steps,
// the same discipline the teacher's console tooling used for polling a
// keyboard device -- ilvm has no keyboard device of its own, so this is the
// only place raw terminal mode earns its keep.
//
//	ilvm step a.out
func Stepper() cli.Command {
	return new(stepCmd)
}

type stepCmd struct {
	debug bool
}

func (stepCmd) Description() string {
	return "single-step object code interactively"
}

func (stepCmd) Usage(out io.Writer) error {
	_, err := fmt.Fprintln(out, `step a.out

Load object code and advance one instruction per keypress. Press 'q' to quit.`)

	return err
}

func (s *stepCmd) FlagSet() *cli.FlagSet {
	fs := flag.NewFlagSet("step", flag.ExitOnError)
	fs.BoolVar(&s.debug, "debug", false, "enable debug logging")

	return fs
}

func (s *stepCmd) Run(_ context.Context, args []string, stdout io.Writer, logger *log.Logger) int {
	if s.debug {
		log.LogLevel.Set(log.Debug)
	}

	if len(args) != 1 {
		logger.Error("step: expected exactly one object file")
		return 1
	}

	var runCmd runner

	file, err := runCmd.loadObjfile(args[0])
	if err != nil {
		logger.Error("step: load error", "file", args[0], "err", err)
		return 1
	}

	e, err := engine.New(
		engine.WithLatch(&latch.Latch{}),
		engine.WithStdout(stdout),
		engine.WithLogger(logger),
	)
	if err != nil {
		logger.Error("step: engine init failed", "err", err)
		return 1
	}

	if err := e.Load(file.Code, file.Strings); err != nil {
		logger.Error("step: load failed", "err", err)
		return 1
	}

	fd := int(os.Stdin.Fd())

	if !term.IsTerminal(fd) {
		logger.Error("step: stdin is not a terminal")
		return 1
	}

	prev, err := term.MakeRaw(fd)
	if err != nil {
		logger.Error("step: raw mode failed", "err", err)
		return 1
	}
	defer term.Restore(fd, prev)

	fmt.Fprint(stdout, "press any key to step, 'q' to quit\r\n")

	buf := make([]byte, 1)

	for {
		fmt.Fprint(stdout, s.instructionLine(e))

		if _, err := os.Stdin.Read(buf); err != nil {
			logger.Error("step: read failed", "err", err)
			return 1
		}

		if buf[0] == 'q' || buf[0] == 'Q' || buf[0] == 0x03 {
			fmt.Fprint(stdout, "\r\nquit\r\n")
			return 0
		}

		stop, err := e.Step()
		_ = e.Flush()

		if err != nil {
			fmt.Fprintf(stdout, "\r\nfault: %s\r\n", err)
			return 2
		}

		fmt.Fprintf(stdout, "\r\nIP=%s SP=%s BP=%s\r\n", e.IP, e.SP, e.BP)

		if stop {
			fmt.Fprint(stdout, "halted\r\n")
			return 0
		}
	}
}

// instructionLine disassembles the single instruction at e's current IP,
// for display before it executes.
func (stepCmd) instructionLine(e *engine.Engine) string {
	op := engine.Opcode(e.Arena().View(e.IP, 1)[0])
	window := e.Arena().View(e.IP, 1+op.Operands())

	var buf fmtBuffer

	_ = asmfmt.Disassemble(&buf, window, e.IP, nil)

	return buf.String()
}

// fmtBuffer is a tiny io.Writer sink, avoiding a bytes.Buffer import just to
// capture one line of text.
type fmtBuffer struct {
	s string
}

func (b *fmtBuffer) Write(p []byte) (int, error) {
	b.s += string(p)
	return len(p), nil
}

func (b *fmtBuffer) String() string {
	return b.s
}
