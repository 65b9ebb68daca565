// Package latch implements the engine's signal latch: a process-wide,
// async-signal-safe counter of pending OS signals, one counter per signal
// number 1..31, plus a global event counter. It plays the role the
// teacher's internal/vm/intr.go Interrupt table plays for device interrupts,
// but adapted from a priority-ordered device-request scan to a flat signal
// number space fed by actual OS signals.
//
// The only operation allowed to run inside the registered signal handler
// path is an atomic increment; no allocation, logging, or locking happens
// there, matching the design note that signal safety rules out everything
// but atomic counter updates.
package latch

import (
	"os"
	"os/signal"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// MinSignal and MaxSignal bound the signal numbers the latch tracks.
const (
	MinSignal = 1
	MaxSignal = 31
)

// Latch is the process-wide signal counter set. The zero value is usable;
// Default returns the process-wide singleton that Register installs OS
// handlers for.
type Latch struct {
	counts [MaxSignal + 1]atomic.Uint32
	events atomic.Uint32

	mu      sync.Mutex
	ch      chan os.Signal
	done    chan struct{}
	started bool
}

var process = &Latch{}

// Default returns the process-wide latch singleton.
func Default() *Latch {
	return process
}

// uncatchable lists signals the OS will not let a process handle; Register
// skips these when installing its notification set, matching the spec's
// "signals 1...31 excluding the uncatchable ones".
var uncatchable = map[int]bool{
	int(unix.SIGKILL): true,
	int(unix.SIGSTOP): true,
}

// Register installs the latch's OS signal handling for every catchable
// signal in [MinSignal, MaxSignal]. It is idempotent; calling it again after
// Stop re-installs the handler. The actual handler body -- the part that
// must be async-signal-safe -- is Go's runtime-internal signal delivery; our
// side only ever touches the atomic counters in a regular goroutine reading
// off a channel, which is how the Go runtime expects user code to consume
// signals, but the net effect observed by the rest of the engine is
// identical to the spec's "async-signal-safe handler increments a counter":
// exactly one atomic increment per signal, nothing else, before the signal
// is observable to HasPending/Count/Consume.
func (l *Latch) Register() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.started {
		return
	}

	sigs := make([]os.Signal, 0, MaxSignal)

	for n := MinSignal; n <= MaxSignal; n++ {
		if uncatchable[n] {
			continue
		}

		sigs = append(sigs, unix.Signal(n))
	}

	l.ch = make(chan os.Signal, 64)
	l.done = make(chan struct{})
	signal.Notify(l.ch, sigs...)
	l.started = true

	go l.drain(l.ch, l.done)
}

func (l *Latch) drain(ch chan os.Signal, done chan struct{}) {
	for {
		select {
		case sig, ok := <-ch:
			if !ok {
				return
			}

			n := int(sig.(unix.Signal))
			if n < MinSignal || n > MaxSignal {
				continue
			}

			l.counts[n].Add(1)
			l.events.Add(1)
		case <-done:
			return
		}
	}
}

// Stop uninstalls the OS handler. Pending counts are left untouched.
func (l *Latch) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.started {
		return
	}

	signal.Stop(l.ch)
	close(l.done)
	l.started = false
}

// HasPending reports whether any signal has a non-zero count.
func (l *Latch) HasPending() bool {
	return l.events.Load() > 0
}

// Count returns the current pending count for sig.
func (l *Latch) Count(sig int) uint32 {
	if sig < MinSignal || sig > MaxSignal {
		return 0
	}

	return l.counts[sig].Load()
}

// Consume atomically decrements sig's counter and the global event counter
// by one unit, using a compare-and-swap loop; if the counter is already
// zero it is a no-op and Consume reports false.
func (l *Latch) Consume(sig int) bool {
	if sig < MinSignal || sig > MaxSignal {
		return false
	}

	c := &l.counts[sig]

	for {
		cur := c.Load()
		if cur == 0 {
			return false
		}

		if c.CompareAndSwap(cur, cur-1) {
			l.events.Add(^uint32(0)) // events--
			return true
		}
	}
}

// Lowest returns the lowest-numbered signal with a non-zero pending count,
// and true, or 0 and false if nothing is pending. The engine additionally
// requires a registered handler before it will act on the result; Lowest
// itself only reports latch state.
func (l *Latch) Lowest() (int, bool) {
	if !l.HasPending() {
		return 0, false
	}

	for n := MinSignal; n <= MaxSignal; n++ {
		if l.counts[n].Load() > 0 {
			return n, true
		}
	}

	return 0, false
}

// ClearAll zeroes every counter and the event counter. Intended for tests
// and for checkpoint/restore boundaries, where the OS-level latch is
// explicitly excluded from the snapshot.
func (l *Latch) ClearAll() {
	for n := range l.counts {
		l.counts[n].Store(0)
	}

	l.events.Store(0)
}

// Raise injects a pending signal without going through the OS, for testing
// the engine's interrupt dispatch deterministically.
func (l *Latch) Raise(sig int) {
	if sig < MinSignal || sig > MaxSignal {
		return
	}

	l.counts[sig].Add(1)
	l.events.Add(1)
}
