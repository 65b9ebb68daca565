// Package checkpoint implements deep snapshot/restore of engine state, for
// debugging and for the instruction-budget-yield/resume cycle the CLI
// drives. It is grounded on internal/monitor's system-image load/dump
// shape in the teacher repo, generalised from "load a fixed boot ROM" to
// "capture and restore arbitrary live machine state."
package checkpoint

import (
	"github.com/ilvm-project/ilvm/internal/engine"
	"github.com/ilvm-project/ilvm/internal/latch"
	"github.com/ilvm-project/ilvm/internal/word"
)

// Checkpoint is a complete, engine-independent snapshot of one machine: its
// registers, every committed arena page, the signal-handler table, and the
// profiling counters. Per spec §4.F, the OS-level signal latch is
// deliberately excluded -- a checkpoint is pure VM state, not process
// state.
type Checkpoint struct {
	Registers engine.Registers

	Pages  map[uint32][]word.Word
	Sealed bool

	Handlers [latch.MaxSignal + 1]word.Word

	TotalSteps uint64
	OpCounts   map[engine.Opcode]uint64

	Budget    uint64
	BudgetSet bool
}

// Capture snapshots e's entire state.
func Capture(e *engine.Engine) *Checkpoint {
	total, perOp := e.Counters()
	budget, budgetSet := e.Budget()

	return &Checkpoint{
		Registers:  e.Registers,
		Pages:      e.Arena().Snapshot(),
		Sealed:     e.Arena().Sealed(),
		Handlers:   e.Handlers(),
		TotalSteps: total,
		OpCounts:   perOp,
		Budget:     budget,
		BudgetSet:  budgetSet,
	}
}

// Restore overwrites every piece of e's state captured in cp. Per property
// test 3 in spec.md §8, restoring a checkpoint taken of e and then running
// any program from it must be indistinguishable from having never left that
// state.
func Restore(e *engine.Engine, cp *Checkpoint) error {
	if err := e.Arena().Restore(cp.Pages, cp.Sealed); err != nil {
		return err
	}

	e.Registers = cp.Registers
	e.SetHandlers(cp.Handlers)
	e.SetCounters(cp.TotalSteps, cp.OpCounts)
	e.SetBudget(cp.Budget, cp.BudgetSet)

	return nil
}
