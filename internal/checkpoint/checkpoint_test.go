package checkpoint_test

import (
	"context"
	"testing"

	"github.com/ilvm-project/ilvm/internal/checkpoint"
	"github.com/ilvm-project/ilvm/internal/engine"
	"github.com/ilvm-project/ilvm/internal/word"
)

type asm struct {
	code []word.Word
}

func (a *asm) emit(op engine.Opcode, operands ...word.Word) *asm {
	a.code = append(a.code, word.Word(op))
	a.code = append(a.code, operands...)

	return a
}

// TestRestoreIsNoop exercises property 3 from spec.md §8: checkpoint
// immediately followed by restore, then running the rest of the program,
// yields the same terminal state as never having checkpointed at all.
func TestRestoreIsNoop(t *testing.T) {
	a := &asm{}
	a.emit(engine.PUSH, 1).
		emit(engine.PUSH, 2).
		emit(engine.ADD).
		emit(engine.PUSH, 3).
		emit(engine.MUL).
		emit(engine.HALT)

	baseline, err := engine.New()
	if err != nil {
		t.Fatalf("New: %s", err)
	}

	if err := baseline.Load(a.code, nil); err != nil {
		t.Fatalf("Load: %s", err)
	}

	if err := baseline.Run(context.Background()); err != nil {
		t.Fatalf("Run: %s", err)
	}

	wantTop, err := baseline.Arena().Read(baseline.SP)
	if err != nil {
		t.Fatalf("Read: %s", err)
	}

	// Second engine: run three instructions, checkpoint, restore onto a
	// third fresh engine, then run the rest from there.
	mid, err := engine.New(engine.WithBudget(3))
	if err != nil {
		t.Fatalf("New: %s", err)
	}

	if err := mid.Load(a.code, nil); err != nil {
		t.Fatalf("Load: %s", err)
	}

	if err := mid.Run(context.Background()); err != nil {
		t.Fatalf("Run: %s", err)
	}

	if !mid.HitLimit() {
		t.Fatalf("expected budget to be hit after 3 instructions")
	}

	cp := checkpoint.Capture(mid)

	restored, err := engine.New()
	if err != nil {
		t.Fatalf("New: %s", err)
	}

	if err := checkpoint.Restore(restored, cp); err != nil {
		t.Fatalf("Restore: %s", err)
	}

	restored.SetBudget(0, false)

	if err := restored.Run(context.Background()); err != nil {
		t.Fatalf("Run (restored): %s", err)
	}

	got, err := restored.Arena().Read(restored.SP)
	if err != nil {
		t.Fatalf("Read: %s", err)
	}

	if got != wantTop {
		t.Fatalf("restored top of stack = %d, want %d", got, wantTop)
	}
}

// TestCountersRoundTrip checks that profiling counters captured mid-run are
// restored exactly, since they are part of VM state per spec §4.F even
// though they don't affect program semantics.
func TestCountersRoundTrip(t *testing.T) {
	a := &asm{}
	a.emit(engine.PUSH, 1).emit(engine.PUSH, 1).emit(engine.ADD).emit(engine.HALT)

	e, err := engine.New(engine.WithProfiling(true))
	if err != nil {
		t.Fatalf("New: %s", err)
	}

	if err := e.Load(a.code, nil); err != nil {
		t.Fatalf("Load: %s", err)
	}

	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run: %s", err)
	}

	wantTotal, wantPerOp := e.Counters()

	cp := checkpoint.Capture(e)

	restored, err := engine.New(engine.WithProfiling(true))
	if err != nil {
		t.Fatalf("New: %s", err)
	}

	if err := checkpoint.Restore(restored, cp); err != nil {
		t.Fatalf("Restore: %s", err)
	}

	gotTotal, gotPerOp := restored.Counters()

	if gotTotal != wantTotal {
		t.Fatalf("TotalSteps = %d, want %d", gotTotal, wantTotal)
	}

	for op, want := range wantPerOp {
		if gotPerOp[op] != want {
			t.Fatalf("OpCounts[%s] = %d, want %d", op, gotPerOp[op], want)
		}
	}
}
