package arena_test

import (
	"errors"
	"testing"

	"github.com/ilvm-project/ilvm/internal/arena"
	"github.com/ilvm-project/ilvm/internal/word"
)

func TestReadWrite(t *testing.T) {
	a, err := arena.New(arena.DefaultLayout())
	if err != nil {
		t.Fatalf("New: %s", err)
	}

	if err := a.Write(100, 42); err != nil {
		t.Fatalf("Write: %s", err)
	}

	got, err := a.Read(100)
	if err != nil {
		t.Fatalf("Read: %s", err)
	}

	if got != 42 {
		t.Fatalf("Read(100) = %d, want 42", got)
	}
}

func TestReadUntouchedPageIsZero(t *testing.T) {
	a, err := arena.New(arena.DefaultLayout())
	if err != nil {
		t.Fatalf("New: %s", err)
	}

	got, err := a.Read(1 << 20)
	if err != nil {
		t.Fatalf("Read: %s", err)
	}

	if got != 0 {
		t.Fatalf("Read of untouched page = %d, want 0", got)
	}

	if a.Pages() != 0 {
		t.Fatalf("Pages() = %d, want 0 (read must not commit memory)", a.Pages())
	}
}

func TestBoundsViolation(t *testing.T) {
	a, err := arena.New(arena.DefaultLayout())
	if err != nil {
		t.Fatalf("New: %s", err)
	}

	layout := a.Layout()

	err = a.Write(layout.ArenaEnd, 1)
	if !errors.Is(err, arena.ErrRegion) {
		t.Fatalf("Write past ArenaEnd: err = %v, want ErrRegion", err)
	}
}

func TestCodeRegionSealedAfterLoad(t *testing.T) {
	a, err := arena.New(arena.DefaultLayout())
	if err != nil {
		t.Fatalf("New: %s", err)
	}

	if err := a.BulkLoad(0, []word.Word{1, 2, 3}); err != nil {
		t.Fatalf("BulkLoad: %s", err)
	}

	a.Seal()

	err = a.Write(1, 99)
	if !errors.Is(err, arena.ErrRegion) {
		t.Fatalf("Write to sealed code region: err = %v, want ErrRegion", err)
	}
}

func TestRegionOf(t *testing.T) {
	a, err := arena.New(arena.DefaultLayout())
	if err != nil {
		t.Fatalf("New: %s", err)
	}

	layout := a.Layout()

	cases := []struct {
		addr word.Word
		want arena.Region
	}{
		{0, arena.Code},
		{layout.CodeEnd, arena.Globals},
		{layout.HeapStart, arena.Heap},
	}

	for _, c := range cases {
		if got := layout.RegionOf(c.addr); got != c.want {
			t.Errorf("RegionOf(%s) = %s, want %s", c.addr, got, c.want)
		}
	}
}
