// Package engine implements the execution engine: the fetch-decode-dispatch
// loop over ILVM bytecode, the stack/frame discipline of the calling
// convention, and interrupt injection from the signal latch. It is grounded
// on the teacher's internal/vm package -- the register file, the two-phase
// option construction, and the Run(ctx)/Step() split all follow
// internal/vm/vm.go and internal/vm/exec.go -- generalised from the LC-3's
// micro-architectural pipeline (fetch/decode/eval-address/fetch-operands
// /execute/writeback) to a flat switch dispatch, since ILVM's instruction
// set has no variable addressing modes to resolve in a separate stage.
package engine

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/ilvm-project/ilvm/internal/arena"
	"github.com/ilvm-project/ilvm/internal/latch"
	"github.com/ilvm-project/ilvm/internal/log"
	"github.com/ilvm-project/ilvm/internal/word"
)

// Registers holds the engine's four word registers plus its two flags, as a
// plain value so it can be captured and restored wholesale by the
// checkpoint package.
type Registers struct {
	IP, SP, BP, HP word.Word
	IntEnabled     bool
	Halted         bool
}

// Engine is one ILVM machine: an arena, its registers, a signal-handler
// table, and optional profiling/budget state. The zero value is not usable;
// construct with New.
type Engine struct {
	Registers

	arena   *arena.Arena
	latch   *latch.Latch
	handlers [latch.MaxSignal + 1]word.Word

	stdout *bufio.Writer

	profiling  bool
	totalSteps uint64
	opCounts   map[Opcode]uint64

	budgetSet   bool
	budget      uint64
	hitLimit    bool

	log *log.Logger
}

// OptionFn configures an Engine at construction time, following the
// teacher's two-phase early/late functional-options convention: options run
// in the order given, after the zero-value defaults are set and before the
// engine is handed back to the caller.
type OptionFn func(*Engine)

// WithArena sets the engine's memory arena. If omitted, New allocates one
// with arena.DefaultLayout().
func WithArena(a *arena.Arena) OptionFn {
	return func(e *Engine) { e.arena = a }
}

// WithLatch sets the signal latch the engine polls for interrupts. If
// omitted, New uses latch.Default().
func WithLatch(l *latch.Latch) OptionFn {
	return func(e *Engine) { e.latch = l }
}

// WithStdout sets the writer PRINT and PRINT_STR write to. Defaults to
// os.Stdout.
func WithStdout(w io.Writer) OptionFn {
	return func(e *Engine) { e.stdout = bufio.NewWriter(w) }
}

// WithBudget sets an instruction-dispatch budget; Step reports hit-limit
// once it has been exhausted rather than continuing to execute.
func WithBudget(n uint64) OptionFn {
	return func(e *Engine) {
		e.budgetSet = true
		e.budget = n
	}
}

// WithProfiling enables the per-opcode and total-instruction counters.
func WithProfiling(enabled bool) OptionFn {
	return func(e *Engine) { e.profiling = enabled }
}

// WithLogger overrides the engine's logger.
func WithLogger(l *log.Logger) OptionFn {
	return func(e *Engine) { e.log = l }
}

// New constructs an Engine, applying opts after the zero-value defaults are
// in place -- the same early/late shape as vm.New(opts ...OptionFn) in the
// teacher package.
func New(opts ...OptionFn) (*Engine, error) {
	e := &Engine{
		log:      log.DefaultLogger(),
		opCounts: make(map[Opcode]uint64),
		stdout:   bufio.NewWriter(os.Stdout),
		latch:    latch.Default(),
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.arena == nil {
		a, err := arena.New(arena.DefaultLayout())
		if err != nil {
			return nil, fmt.Errorf("engine: new: %w", err)
		}

		e.arena = a
	}

	layout := e.arena.Layout()
	e.SP = layout.StackBase
	e.BP = layout.StackBase
	e.HP = layout.HeapStart

	return e, nil
}

// Arena returns the engine's memory arena.
func (e *Engine) Arena() *arena.Arena { return e.arena }

// Load places bytecode at word 0 and packs strings sequentially into the
// heap region starting at HeapStart, in the order the compiler interned
// them -- the same order its allocator used when it baked each literal's
// address into the PUSH instructions referencing it. It seals the code
// region against further writes once done.
func (e *Engine) Load(code []word.Word, strings []string) error {
	if err := e.arena.BulkLoad(0, code); err != nil {
		return fmt.Errorf("engine: load: code: %w", err)
	}

	addr := e.arena.Layout().HeapStart

	for _, s := range strings {
		n, err := WriteString(e.arena, addr, s)
		if err != nil {
			return fmt.Errorf("engine: load: strings: %w", err)
		}

		addr += n
		addr = word.AlignUp(addr)
	}

	e.HP = addr
	e.arena.Seal()

	return nil
}

// HitLimit reports whether the last Step/Run call stopped because the
// instruction budget was exhausted, as opposed to HALT or a fault.
func (e *Engine) HitLimit() bool { return e.hitLimit }

// Flush writes any buffered stdout output. Run calls this before returning;
// callers driving Step() directly should call it themselves once done.
func (e *Engine) Flush() error { return e.stdout.Flush() }

// Run executes until HALT, a fault, the instruction budget is exhausted, or
// ctx is cancelled. It mirrors internal/vm/exec.go's Run(ctx) error loop:
// check for cancellation, take one step, repeat.
func (e *Engine) Run(ctx context.Context) error {
	defer e.stdout.Flush()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if e.Halted {
			return nil
		}

		stop, err := e.Step()
		if err != nil {
			return err
		}

		if stop {
			return nil
		}
	}
}

// Step executes at most one dispatch: either one interrupt-service
// transfer, or one fetched instruction, or nothing (signalled by stop=true)
// if the budget has just been exhausted. HALT sets Halted and also reports
// stop=true.
func (e *Engine) Step() (stop bool, err error) {
	if e.Halted {
		return true, nil
	}

	if e.IntEnabled && e.latch.HasPending() {
		if sig, ok := e.pendingHandled(); ok {
			if err := e.enterHandler(sig); err != nil {
				return true, err
			}

			return false, nil
		}
	}

	if e.budgetSet {
		if e.budget == 0 {
			e.hitLimit = true
			return true, nil
		}

		e.budget--
	}

	return e.dispatch()
}

// pendingHandled finds the lowest-numbered signal that is both latched and
// has a registered handler, per "the engine selects the lowest-numbered
// signal with a registered handler" (spec §5).
func (e *Engine) pendingHandled() (int, bool) {
	for sig := latch.MinSignal; sig <= latch.MaxSignal; sig++ {
		if e.latch.Count(sig) > 0 && e.handlers[sig] != 0 {
			return sig, true
		}
	}

	return 0, false
}

func (e *Engine) enterHandler(sig int) error {
	e.latch.Consume(sig)

	if err := e.push(e.IP); err != nil {
		return err
	}

	e.IntEnabled = false
	e.IP = e.handlers[sig]

	return nil
}

// Handlers returns a copy of the signal-handler table, for checkpointing.
func (e *Engine) Handlers() [latch.MaxSignal + 1]word.Word {
	return e.handlers
}

// SetHandlers overwrites the signal-handler table, for restoring from a
// checkpoint.
func (e *Engine) SetHandlers(h [latch.MaxSignal + 1]word.Word) {
	e.handlers = h
}

// Counters returns the total dispatched-instruction count and a copy of the
// per-opcode counters.
func (e *Engine) Counters() (total uint64, perOp map[Opcode]uint64) {
	cp := make(map[Opcode]uint64, len(e.opCounts))
	for k, v := range e.opCounts {
		cp[k] = v
	}

	return e.totalSteps, cp
}

// SetCounters overwrites the profiling counters, for restoring from a
// checkpoint.
func (e *Engine) SetCounters(total uint64, perOp map[Opcode]uint64) {
	e.totalSteps = total
	e.opCounts = make(map[Opcode]uint64, len(perOp))

	for k, v := range perOp {
		e.opCounts[k] = v
	}
}

// SetBudget installs or clears the instruction-dispatch budget and resets
// the hit-limit flag, for resuming after a prior hit-limit stop.
func (e *Engine) SetBudget(n uint64, enabled bool) {
	e.budgetSet = enabled
	e.budget = n
	e.hitLimit = false
}

// Budget reports the remaining budget and whether one is set.
func (e *Engine) Budget() (n uint64, enabled bool) {
	return e.budget, e.budgetSet
}
