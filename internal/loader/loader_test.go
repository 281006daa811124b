package loader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/onyxsvc/onyx/internal/observer"
	"github.com/onyxsvc/onyx/internal/repo"
	"github.com/onyxsvc/onyx/internal/table"
)

func mkOneshot(t *testing.T, root, name string, needs ...string) {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "start"), []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	if len(needs) > 0 {
		needsDir := filepath.Join(dir, "needs")
		if err := os.MkdirAll(needsDir, 0o755); err != nil {
			t.Fatal(err)
		}
		for _, n := range needs {
			os.WriteFile(filepath.Join(needsDir, n), nil, 0o644)
		}
	}
}

func TestEnsureLoadedLinearChain(t *testing.T) {
	root := t.TempDir()
	mkOneshot(t, root, "a")
	mkOneshot(t, root, "b", "a")
	mkOneshot(t, root, "c", "b")

	tbl := table.New()
	rp := repo.New(root)
	l := New(tbl, rp, observer.Noop{}, nil, 7)

	c, err := tbl.GetOrCreate("c")
	if err != nil {
		t.Fatal(err)
	}
	if err := l.EnsureLoaded(c, ModeStart, false); err != nil {
		t.Fatalf("EnsureLoaded: %v", err)
	}

	for _, name := range []string{"a", "b", "c"} {
		h, _ := tbl.GetOrCreate(name)
		rec := tbl.Lookup(h)
		if rec.LoadState != table.Loaded {
			t.Errorf("%s: got state %v, want Loaded", name, rec.LoadState)
		}
	}

	bH, _ := tbl.GetOrCreate("b")
	aH, _ := tbl.GetOrCreate("a")
	if !table.ContainsEdge(tbl.Lookup(bH).Needs, aH) {
		t.Error("expected b.needs to contain a")
	}
	if !table.ContainsEdge(tbl.Lookup(bH).After, aH) {
		t.Error("expected b.after to contain a (needs implies after)")
	}
}

func TestEnsureLoadedIdempotent(t *testing.T) {
	root := t.TempDir()
	mkOneshot(t, root, "a")

	tbl := table.New()
	rp := repo.New(root)
	l := New(tbl, rp, observer.Noop{}, nil, 7)

	h, _ := tbl.GetOrCreate("a")
	if err := l.EnsureLoaded(h, ModeStart, false); err != nil {
		t.Fatalf("first EnsureLoaded: %v", err)
	}
	if err := l.EnsureLoaded(h, ModeStart, false); err != nil {
		t.Fatalf("second EnsureLoaded should be a no-op success: %v", err)
	}
}

func TestEnsureLoadedMissingNeedsRecordsDependency(t *testing.T) {
	root := t.TempDir()
	mkOneshot(t, root, "b", "missing")

	tbl := table.New()
	rp := repo.New(root)

	var failed []string
	obs := &recordingObserver{onLoadFailed: func(service, kind, name string, err error) {
		failed = append(failed, name)
	}}
	l := New(tbl, rp, obs, nil, 7)

	h, _ := tbl.GetOrCreate("b")
	if err := l.EnsureLoaded(h, ModeStart, false); err != nil {
		t.Fatalf("EnsureLoaded should not itself fail: %v", err)
	}

	rec := tbl.Lookup(h)
	if rec.LoadErr == nil {
		t.Fatal("expected LoadErr to be set for missing needs target")
	}
	if len(failed) != 1 || failed[0] != "missing" {
		t.Errorf("got LoadFailed calls %v, want [missing]", failed)
	}
}

func TestEnsureLoadedStartAlreadyUpShortCircuits(t *testing.T) {
	root := t.TempDir()
	mkOneshot(t, root, "a")
	dir := filepath.Join(root, "a")
	// Write a persisted "started" status record directly.
	if err := os.WriteFile(filepath.Join(dir, "status"), startedStatusBytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	tbl := table.New()
	rp := repo.New(root)
	l := New(tbl, rp, observer.Noop{}, nil, 7)

	h, _ := tbl.GetOrCreate("a")
	err := l.EnsureLoaded(h, ModeStart, false)
	if err == nil {
		t.Fatal("expected ErrAlreadyUp")
	}
	if _, ok := err.(*ErrAlreadyUp); !ok {
		t.Fatalf("got %T, want *ErrAlreadyUp", err)
	}
}

func TestLoggerAutoLinkSkippedForLoggerItself(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "svc")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "run"), []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	logDir := filepath.Join(dir, "log")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(logDir, "run"), []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	tbl := table.New()
	rp := repo.New(root)
	l := New(tbl, rp, observer.Noop{}, nil, 7)

	logH, _ := tbl.GetOrCreate("svc/log")
	if err := l.EnsureLoaded(logH, ModeStart, false); err != nil {
		t.Fatalf("EnsureLoaded(svc/log): %v", err)
	}
	// svc/log is itself a logger; it must not recurse into svc/log/log.
	if tbl.Lookup(logH) == nil {
		t.Fatal("expected svc/log record to exist")
	}
}

type recordingObserver struct {
	observer.Noop
	onLoadFailed func(service, kind, name string, err error)
}

func (o *recordingObserver) LoadFailed(service, kind, name string, err error) {
	if o.onLoadFailed != nil {
		o.onLoadFailed(service, kind, name, err)
	}
}

func startedStatusBytes() []byte {
	// event=Started(2), code=0, zero stamp, empty message.
	return []byte{2, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}
}
