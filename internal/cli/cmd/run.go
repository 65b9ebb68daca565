package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ilvm-project/ilvm/internal/cli"
	"github.com/ilvm-project/ilvm/internal/engine"
	"github.com/ilvm-project/ilvm/internal/latch"
	"github.com/ilvm-project/ilvm/internal/log"
	"github.com/ilvm-project/ilvm/internal/objfile"
)

// Runner is the command that loads compiled object code and executes it.
//
//	ilvm run [-budget n] [-timeout d] a.out
func Runner() cli.Command {
	return &runner{timeout: 10 * time.Second}
}

type runner struct {
	debug   bool
	budget  uint64
	timeout time.Duration
}

func (runner) Description() string {
	return "run compiled object code"
}

func (runner) Usage(out io.Writer) error {
	_, err := fmt.Fprintln(out, `run [-budget n] [-timeout d] a.out

Load and execute object code written by the compile sub-command.`)

	return err
}

func (r *runner) FlagSet() *cli.FlagSet {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	fs.BoolVar(&r.debug, "debug", false, "enable debug logging")
	fs.Uint64Var(&r.budget, "budget", 0, "stop after `n` instructions (0: unlimited)")
	fs.DurationVar(&r.timeout, "timeout", r.timeout, "wall-clock `duration` before the run is cancelled")

	return fs
}

// Run loads args[0] as object code and executes it to completion, or until
// the instruction budget or timeout is hit.
func (r *runner) Run(ctx context.Context, args []string, stdout io.Writer, logger *log.Logger) int {
	if r.debug {
		log.LogLevel.Set(log.Debug)
	}

	if len(args) != 1 {
		logger.Error("run: expected exactly one object file")
		return 1
	}

	file, err := r.loadObjfile(args[0])
	if err != nil {
		logger.Error("run: load error", "file", args[0], "err", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	opts := []engine.OptionFn{
		engine.WithLatch(&latch.Latch{}),
		engine.WithStdout(stdout),
		engine.WithLogger(logger),
	}

	if r.budget > 0 {
		opts = append(opts, engine.WithBudget(r.budget))
	}

	e, err := engine.New(opts...)
	if err != nil {
		logger.Error("run: engine init failed", "err", err)
		return 1
	}

	if err := e.Load(file.Code, file.Strings); err != nil {
		logger.Error("run: load failed", "err", err)
		return 1
	}

	logger.Debug("running", "file", args[0], "words", len(file.Code))

	err = e.Run(ctx)

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		logger.Error("run: timed out", "timeout", r.timeout)
		return 2
	case err != nil:
		logger.Error("run: engine error", "err", err)
		return 2
	case e.HitLimit():
		logger.Warn("run: instruction budget exhausted", "budget", r.budget)
		return 3
	default:
		logger.Debug("run: halted", "sp", e.SP, "ip", e.IP)
		return 0
	}
}

func (runner) loadObjfile(fn string) (objfile.File, error) {
	bs, err := os.ReadFile(fn)
	if err != nil {
		return objfile.File{}, err
	}

	var file objfile.File
	if err := file.UnmarshalText(bs); err != nil {
		return objfile.File{}, err
	}

	return file, nil
}
