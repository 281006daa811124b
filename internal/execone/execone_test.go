package execone

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/onyxsvc/onyx/internal/logbuf"
)

func writeScript(t *testing.T, dir, name, body string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestRunSuccess(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "start", "echo hello\nexit 0\n")

	buf := logbuf.New(10)
	res, err := Run(context.Background(), dir, ActionStart, nil, buf, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Success() {
		t.Fatalf("expected success, got %+v", res)
	}
	lines := buf.Lines()
	if len(lines) == 0 || lines[0] != "hello" {
		t.Errorf("got lines %v, want [hello]", lines)
	}
}

func TestRunNonZeroExit(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "start", "exit 7\n")

	buf := logbuf.New(10)
	res, err := Run(context.Background(), dir, ActionStart, nil, buf, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Success() {
		t.Fatal("expected failure")
	}
	if res.ExitCode != 7 {
		t.Errorf("got exit code %d, want 7", res.ExitCode)
	}
}

func TestRunMissingStopScriptIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	buf := logbuf.New(10)
	res, err := Run(context.Background(), dir, ActionStop, nil, buf, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Success() {
		t.Fatalf("expected a missing stop script to be treated as success, got %+v", res)
	}
}

func TestRunMissingStartScriptIsAnError(t *testing.T) {
	dir := t.TempDir()
	buf := logbuf.New(10)
	if _, err := Run(context.Background(), dir, ActionStart, nil, buf, nil); err == nil {
		t.Fatal("expected an error for a missing start script")
	}
}

func TestRunTimeout(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "start", "sleep 5\n")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	buf := logbuf.New(10)
	res, err := Run(ctx, dir, ActionStart, nil, buf, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.TimedOut {
		t.Fatalf("expected TimedOut, got %+v", res)
	}
}

func TestRunCapturesProgress(t *testing.T) {
	dir := t.TempDir()
	// fd 3 is the progress pipe exposed as ExtraFiles[0].
	writeScript(t, dir, "start", "echo 50 >&3\nexit 0\n")

	buf := logbuf.New(10)
	var got []byte
	res, err := Run(context.Background(), dir, ActionStart, nil, buf, func(b []byte) {
		got = append(got, b...)
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Success() {
		t.Fatalf("expected success, got %+v", res)
	}
	if string(got) != "50\n" {
		t.Errorf("got progress %q, want %q", got, "50\n")
	}
}
