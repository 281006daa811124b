// Package graphengine implements the two-pass graph algorithm over the
// active list: a cycle check across `after` edges, then a scheduling
// pass that prunes stale edges and invokes execution as services become
// eligible.
package graphengine

import (
	"log/slog"

	"github.com/onyxsvc/onyx/internal/observer"
	"github.com/onyxsvc/onyx/internal/table"
)

var log = slog.With("component", "graphengine")

// Engine runs the cycle-check and scheduling passes over a Table's
// active list.
type Engine struct {
	tbl *table.Table
	obs observer.Observer
}

// New creates an Engine bound to tbl, reporting cycle breaks and scan
// events through obs.
func New(tbl *table.Table, obs observer.Observer) *Engine {
	return &Engine{tbl: tbl, obs: obs}
}

// CheckCycles performs the cycle-check pass described in spec.md §4.3
// over every member of the active list. It returns once every active
// record has reached table.Verified.
func (e *Engine) CheckCycles() {
	e.tbl.ResetChecked()
	for _, h := range e.tbl.Active() {
		e.checkOne(h)
	}
}

// checkOne runs the depth-first recursion for a single entry point,
// repeating cycle breaks until the subgraph rooted at h is acyclic.
func (e *Engine) checkOne(h table.Handle) {
	for {
		anchor, broke := e.dfs(h)
		if !broke {
			return
		}
		_ = anchor // breakCycle already reported and mutated edges; retry.
	}
}

// dfs walks `after` edges from h, returning (anchor, true) if a cycle
// was found and broken, or (NoHandle, false) once h's subgraph is fully
// verified with no cycle.
func (e *Engine) dfs(h table.Handle) (table.Handle, bool) {
	rec := e.tbl.Lookup(h)
	if rec == nil || rec.LoadState == table.Verified || e.tbl.Checked(h) {
		return table.NoHandle, false
	}

	if !e.tbl.PushScratch(h) {
		e.breakCycle(h)
		e.tbl.ResetScratch()
		return h, true
	}

	// Prune any `after` edge pointing to a handle that isn't
	// Loaded/Verified or isn't in the active list, before recursing.
	rec.After = e.pruneAfter(rec.After)

	for _, next := range rec.After {
		if anchor, broke := e.dfs(next); broke {
			e.tbl.PopScratch()
			return anchor, true
		}
	}

	e.tbl.PopScratch()
	rec.LoadState = table.Verified
	e.tbl.SetChecked(h, true)
	return table.NoHandle, false
}

func (e *Engine) pruneAfter(after []table.Handle) []table.Handle {
	kept := after[:0]
	for _, h := range after {
		rec := e.tbl.Lookup(h)
		if rec == nil {
			continue
		}
		if (rec.LoadState != table.Loaded && rec.LoadState != table.Verified) || !e.tbl.InActive(h) {
			continue
		}
		kept = append(kept, h)
	}
	return kept
}

// breakCycle walks the scratch list forward from the anchor (the handle
// that PushScratch rejected as a duplicate) looking for the first
// consecutive pair not also linked via `needs`; removing that `after`
// edge breaks an ordering-only cycle. If every consecutive pair is also
// a `needs` edge, the cycle is entirely via `needs`: remove the final
// edge from both `needs` and `after`, a hard break, per the explicit
// open-question decision to preserve this behavior while warning loudly.
func (e *Engine) breakCycle(anchor table.Handle) {
	path := e.tbl.Scratch()

	anchorPos := -1
	for i, h := range path {
		if h == anchor {
			anchorPos = i
			break
		}
	}
	if anchorPos == -1 {
		return
	}
	cycle := append(append([]table.Handle{}, path[anchorPos:]...), anchor)

	for i := 0; i < len(cycle)-1; i++ {
		cur, next := cycle[i], cycle[i+1]
		curRec := e.tbl.Lookup(cur)
		if curRec == nil {
			continue
		}
		if !table.ContainsEdge(curRec.Needs, next) {
			curRec.After = table.RemoveEdge(curRec.After, next)
			e.notifyBreak(anchor, cur, next, false)
			return
		}
	}

	// Entirely a needs-cycle: break the final edge from both lists.
	cur, next := cycle[len(cycle)-2], cycle[len(cycle)-1]
	if curRec := e.tbl.Lookup(cur); curRec != nil {
		curRec.Needs = table.RemoveEdge(curRec.Needs, next)
		curRec.After = table.RemoveEdge(curRec.After, next)
	}
	log.Warn("breaking a needs-only cycle; this configuration is wrong",
		"cycle", namesOf(e.tbl, cycle))
	e.notifyBreak(anchor, cur, next, true)
}

func (e *Engine) notifyBreak(anchor, cur, next table.Handle, isNeedsCycle bool) {
	if e.obs == nil {
		return
	}
	e.obs.CycleBroken(e.tbl.NameOf(anchor), e.tbl.NameOf(cur), e.tbl.NameOf(next), isNeedsCycle)
}

func namesOf(tbl *table.Table, handles []table.Handle) []string {
	names := make([]string, len(handles))
	for i, h := range handles {
		names[i] = tbl.NameOf(h)
	}
	return names
}

// ExecFunc is invoked by the scheduling pass for a service whose
// dependencies have all reached a terminal state. It returns true if the
// engine should treat the service as now in-flight (so the pass doesn't
// re-invoke it on the next scan).
type ExecFunc func(h table.Handle) (inFlight bool)

// IsOKFunc implements the service_is_ok helper of spec.md §4.6, used to
// decide whether a missing `needs` target that's no longer in the active
// list completed successfully elsewhere.
type IsOKFunc func(h table.Handle) bool

// InFlightFunc reports whether a service is already Starting/Stopping,
// so the scheduling pass doesn't re-invoke exec for it.
type InFlightFunc func(h table.Handle) bool

// Schedule runs the scheduling pass of spec.md §4.3: repeatedly scan the
// active list, pruning stale edges and invoking exec for every service
// whose `after` list has drained to empty, until a full pass makes no
// further progress.
func (e *Engine) Schedule(exec ExecFunc, isOK IsOKFunc, inFlight InFlightFunc) {
	for {
		progressed := e.scanOnce(exec, isOK, inFlight)
		if !progressed {
			return
		}
	}
}

func (e *Engine) scanOnce(exec ExecFunc, isOK IsOKFunc, inFlight InFlightFunc) bool {
	progressed := false

	for i := 0; i < len(e.tbl.Active()); i++ {
		h := e.tbl.Active()[i]
		rec := e.tbl.Lookup(h)
		if rec == nil {
			continue
		}

		rec.Needs = e.pruneNeeds(h, rec.Needs, isOK)
		if e.tbl.Lookup(h) == nil || !e.tbl.InActive(h) {
			// The service was dropped as a dependency failure inside
			// pruneNeeds; restart the scan from the top.
			progressed = true
			i = -1
			continue
		}
		rec.After = e.pruneAfterForSchedule(rec.After)

		if len(rec.After) == 0 && !inFlight(h) {
			if exec(h) {
				progressed = true
			}
		}
	}

	return progressed
}

// pruneNeeds drops `needs` edges pointing outside the active list,
// verifying completion via isOK first; a failed dependency fails h with
// Dependency and removes it from the active list.
func (e *Engine) pruneNeeds(h table.Handle, needs []table.Handle, isOK IsOKFunc) []table.Handle {
	kept := needs[:0]
	for _, target := range needs {
		if e.tbl.InActive(target) {
			kept = append(kept, target)
			continue
		}
		if isOK(target) {
			continue // completed successfully elsewhere, drop the edge
		}

		rec := e.tbl.Lookup(h)
		if rec != nil {
			rec.LoadErr = &DependencyError{Missing: e.tbl.NameOf(target)}
		}
		e.tbl.RemoveActive(h)
		if e.obs != nil {
			e.obs.ScanProgress(e.tbl.NameOf(h), "dependency_failed")
		}
		return nil
	}
	return kept
}

func (e *Engine) pruneAfterForSchedule(after []table.Handle) []table.Handle {
	kept := after[:0]
	for _, h := range after {
		if e.tbl.InActive(h) {
			kept = append(kept, h)
		}
	}
	return kept
}

// DependencyError is recorded on a service whose `needs` target failed
// or went missing mid-scan.
type DependencyError struct{ Missing string }

func (e *DependencyError) Error() string { return "dependency failed: " + e.Missing }
