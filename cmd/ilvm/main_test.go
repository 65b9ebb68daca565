package main_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ilvm-project/ilvm/internal/cli/cmd"
	"github.com/ilvm-project/ilvm/internal/log"
)

// TestCompileAndRun exercises the whole ilvm pipeline end to end: compile
// writes object code, run loads and executes it, the same two sub-commands
// wired together in main's command table.
func TestCompileAndRun(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "prog.sexpr")
	obj := filepath.Join(dir, "prog.out")

	if err := os.WriteFile(src, []byte(`(+ (* 6 7) 0)`), 0o644); err != nil {
		t.Fatalf("WriteFile: %s", err)
	}

	logger := log.NewFormattedLogger(testLogWriter{t})

	compile := cmd.Compiler()
	compile.FlagSet().Parse([]string{"-o", obj, src})

	if rc := compile.Run(context.Background(), []string{src}, &bytes.Buffer{}, logger); rc != 0 {
		t.Fatalf("compile: exit code %d", rc)
	}

	if _, err := os.Stat(obj); err != nil {
		t.Fatalf("compile did not write %s: %s", obj, err)
	}

	runCmd := cmd.Runner()
	runCmd.FlagSet().Parse(nil)

	var out bytes.Buffer
	if rc := runCmd.Run(context.Background(), []string{obj}, &out, logger); rc != 0 {
		t.Fatalf("run: exit code %d", rc)
	}
}

type testLogWriter struct{ t *testing.T }

func (w testLogWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}
