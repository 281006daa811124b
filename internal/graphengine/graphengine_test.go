package graphengine

import (
	"testing"

	"github.com/onyxsvc/onyx/internal/observer"
	"github.com/onyxsvc/onyx/internal/table"
)

type recordingObserver struct {
	observer.Noop
	breaks int
	lastIsNeedsCycle bool
}

func (o *recordingObserver) CycleBroken(anchor, cur, next string, isNeedsCycle bool) {
	o.breaks++
	o.lastIsNeedsCycle = isNeedsCycle
}

func loadAndActivate(t *testing.T, tbl *table.Table, name string) table.Handle {
	t.Helper()
	h, err := tbl.GetOrCreate(name)
	if err != nil {
		t.Fatalf("GetOrCreate(%q): %v", name, err)
	}
	rec := tbl.Lookup(h)
	rec.LoadState = table.Loaded
	tbl.AddActive(h)
	return h
}

func TestCheckCyclesBreaksAfterOnlyCycle(t *testing.T) {
	tbl := table.New()
	a := loadAndActivate(t, tbl, "a")
	b := loadAndActivate(t, tbl, "b")

	tbl.Lookup(a).After = []table.Handle{b}
	tbl.Lookup(b).After = []table.Handle{a}

	obs := &recordingObserver{}
	eng := New(tbl, obs)
	eng.CheckCycles()

	if obs.breaks != 1 {
		t.Fatalf("got %d cycle breaks, want 1", obs.breaks)
	}
	if obs.lastIsNeedsCycle {
		t.Error("expected a soft (after-only) break, got needs cycle")
	}
	if tbl.Lookup(a).LoadState != table.Verified || tbl.Lookup(b).LoadState != table.Verified {
		t.Error("expected both services Verified after cycle break")
	}
	if len(tbl.Scratch()) != 0 {
		t.Error("expected empty scratch list after CheckCycles")
	}
}

func TestCheckCyclesBreaksNeedsOnlyCycleHard(t *testing.T) {
	tbl := table.New()
	a := loadAndActivate(t, tbl, "a")
	b := loadAndActivate(t, tbl, "b")

	tbl.Lookup(a).After = []table.Handle{b}
	tbl.Lookup(a).Needs = []table.Handle{b}
	tbl.Lookup(b).After = []table.Handle{a}
	tbl.Lookup(b).Needs = []table.Handle{a}

	obs := &recordingObserver{}
	eng := New(tbl, obs)
	eng.CheckCycles()

	if obs.breaks != 1 {
		t.Fatalf("got %d cycle breaks, want 1", obs.breaks)
	}
	if !obs.lastIsNeedsCycle {
		t.Error("expected a hard (needs) break")
	}
}

func TestCheckCyclesNoCycleLeavesEdgesIntact(t *testing.T) {
	tbl := table.New()
	a := loadAndActivate(t, tbl, "a")
	b := loadAndActivate(t, tbl, "b")
	tbl.Lookup(b).After = []table.Handle{a}

	eng := New(tbl, observer.Noop{})
	eng.CheckCycles()

	if len(tbl.Lookup(b).After) != 1 {
		t.Error("expected the acyclic after edge to survive")
	}
	if tbl.Lookup(a).LoadState != table.Verified || tbl.Lookup(b).LoadState != table.Verified {
		t.Error("expected both services Verified")
	}
}

func TestScheduleExecutesWhenAfterDrained(t *testing.T) {
	tbl := table.New()
	a := loadAndActivate(t, tbl, "a")
	b := loadAndActivate(t, tbl, "b")
	tbl.Lookup(b).After = []table.Handle{a}

	eng := New(tbl, observer.Noop{})

	var order []table.Handle
	exec := func(h table.Handle) bool {
		order = append(order, h)
		tbl.RemoveActive(h)
		return true
	}
	isOK := func(table.Handle) bool { return true }
	inFlight := func(table.Handle) bool { return false }

	eng.Schedule(exec, isOK, inFlight)

	if len(order) != 2 || order[0] != a || order[1] != b {
		t.Fatalf("got exec order %v, want [a b] (%d, %d)", order, a, b)
	}
}

func TestScheduleDependencyFailurePropagates(t *testing.T) {
	tbl := table.New()
	a := loadAndActivate(t, tbl, "a")
	b := loadAndActivate(t, tbl, "b")
	tbl.Lookup(b).Needs = []table.Handle{a}

	obs := &recordingObserver{}
	eng := New(tbl, obs)

	exec := func(h table.Handle) bool {
		// "a" executes and immediately leaves the active list as failed.
		if h == a {
			tbl.RemoveActive(h)
		}
		return true
	}
	isOK := func(h table.Handle) bool { return false } // a failed
	inFlight := func(table.Handle) bool { return false }

	eng.Schedule(exec, isOK, inFlight)

	if tbl.InActive(b) {
		t.Error("expected b removed from active list on dependency failure")
	}
	if tbl.Lookup(b).LoadErr == nil {
		t.Error("expected b.LoadErr to be set")
	}
}
