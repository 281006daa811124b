// Package loader implements ensure_loaded: populating a service record
// from the repository and recursively loading its declared neighbors.
package loader

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/onyxsvc/onyx/internal/observer"
	"github.com/onyxsvc/onyx/internal/repo"
	"github.com/onyxsvc/onyx/internal/status"
	"github.com/onyxsvc/onyx/internal/table"
)

var log = slog.With("component", "loader")

// Mode selects which short-circuit rules apply while loading.
type Mode int

const (
	ModeStart Mode = iota
	ModeStop
	ModeStopAll
	ModeDryFull // suppresses the AlreadyUp/NotUp short-circuits
)

// ErrAlreadyUp is returned (and cached on the record) when a start is
// requested for a service already fully up.
type ErrAlreadyUp struct{ Name string }

func (e *ErrAlreadyUp) Error() string { return fmt.Sprintf("%s: already up", e.Name) }

// ErrNotUp is the stop-mode mirror of ErrAlreadyUp.
type ErrNotUp struct{ Name string }

func (e *ErrNotUp) Error() string { return fmt.Sprintf("%s: not up", e.Name) }

// ErrDependency is recorded on a service whose needs/wants neighbor
// could not be resolved.
type ErrDependency struct {
	Name    string
	Missing string
	Cause   error
}

func (e *ErrDependency) Error() string {
	return fmt.Sprintf("%s: dependency %s: %v", e.Name, e.Missing, e.Cause)
}
func (e *ErrDependency) Unwrap() error { return e.Cause }

// LongrunStatus resolves a longrun's current supervisor-observed status,
// used to determine "up" state at load time. Bound by the caller (core)
// to a supervisor.Client.
type LongrunStatus func(name string) (status.Record, bool, error)

// Loader populates table records from a Repo.
type Loader struct {
	tbl     *table.Table
	repo    *repo.Repo
	obs     observer.Observer
	longrun LongrunStatus
	timeout int // default timeout, from config
}

// New creates a Loader. defaultTimeoutSecs backs services with no
// timeout file. longrunStatus may be nil if no longruns are expected to
// load (e.g. a purely oneshot repository in tests).
func New(tbl *table.Table, rp *repo.Repo, obs observer.Observer, longrunStatus LongrunStatus, defaultTimeoutSecs int) *Loader {
	if obs == nil {
		obs = observer.Noop{}
	}
	return &Loader{tbl: tbl, repo: rp, obs: obs, longrun: longrunStatus, timeout: defaultTimeoutSecs}
}

// EnsureLoaded drives handle h from NotLoaded to Loaded, recursively
// loading every needs/wants/after/before neighbor along the way.
func (l *Loader) EnsureLoaded(h table.Handle, mode Mode, includeWants bool) error {
	rec := l.tbl.Lookup(h)
	if rec == nil {
		return fmt.Errorf("loader: invalid handle %d", h)
	}

	switch rec.LoadState {
	case table.Loaded, table.Loading, table.Verified:
		return nil // idempotent and cycle-tolerant
	case table.Failed:
		return rec.LoadErr
	}

	name := l.tbl.NameOf(h)
	desc, err := l.repo.Load(name)
	if err != nil {
		rec.LoadState = table.Failed
		rec.LoadErr = err
		return err
	}

	rec.Kind = desc.Kind
	rec.ReadinessCapable = desc.ReadinessCapable
	rec.NotifyHandle = desc.NotifyHandle

	persisted, _, _ := status.Read(l.repo.ServiceDir(name))
	rec.Status = persisted

	up, ready := l.isUp(name, rec, persisted)

	if mode != ModeDryFull {
		switch mode {
		case ModeStart:
			if up && (!rec.ReadinessCapable || ready) {
				rec.LoadState = table.Failed
				rec.LoadErr = &ErrAlreadyUp{Name: name}
				return rec.LoadErr
			}
		case ModeStop, ModeStopAll:
			if !up {
				rec.LoadState = table.Failed
				rec.LoadErr = &ErrNotUp{Name: name}
				return rec.LoadErr
			}
		}
	}

	rec.LoadState = table.Loading
	l.tbl.AddActive(h)

	if rec.Kind == table.KindLongrun && !strings.HasSuffix(name, "/log") && l.repo.HasLogger(name) {
		l.resolveEdge(h, name, "needs", name+"/log", mode, includeWants)
	}

	for _, dep := range desc.Needs {
		l.resolveEdge(h, name, "needs", dep, mode, includeWants)
	}
	if mode == ModeStart && includeWants {
		for _, dep := range desc.Wants {
			l.resolveEdge(h, name, "wants", dep, mode, includeWants)
		}
	}
	for _, dep := range desc.After {
		l.resolveEdge(h, name, "after", dep, mode, includeWants)
	}
	for _, dep := range desc.Before {
		// A "before X" edge is rewritten into "X after self".
		depH, err := l.tbl.GetOrCreate(dep)
		if err != nil {
			l.obs.LoadFailed(name, "before", dep, err)
			continue
		}
		if err := l.EnsureLoaded(depH, mode, includeWants); err != nil {
			l.obs.LoadFailed(name, "before", dep, err)
			continue
		}
		depRec := l.tbl.Lookup(depH)
		if depRec != nil && !table.ContainsEdge(depRec.After, h) {
			depRec.After = append(depRec.After, h)
		}
	}

	// Re-lookup: GetOrCreate calls made while resolving neighbors above
	// may have grown the table's backing slice, invalidating rec.
	rec = l.tbl.Lookup(h)
	if rec == nil {
		return fmt.Errorf("loader: handle %d vanished during load", h)
	}

	rec.TimeoutSecs = desc.TimeoutSecs
	if rec.TimeoutSecs <= 0 {
		rec.TimeoutSecs = l.timeout
	}
	// The stop-all cap only fires when a timeout file was actually
	// read and parsed, not as a blanket minimum — see the original's
	// conditional (secs_timeout > aa_secs_timeout || secs_timeout == 0).
	if mode == ModeStopAll && desc.TimeoutFileSet && desc.TimeoutSecs > l.timeout {
		rec.TimeoutSecs = l.timeout
	}

	rec.LoadState = table.Loaded
	return nil
}

func (l *Loader) resolveEdge(h table.Handle, name, kind, dep string, mode Mode, includeWants bool) {
	depH, err := l.tbl.GetOrCreate(dep)
	if err != nil {
		l.obs.LoadFailed(name, kind, dep, err)
		l.recordDependencyFailure(h, kind, dep, err)
		return
	}
	if err := l.EnsureLoaded(depH, mode, includeWants); err != nil {
		l.obs.LoadFailed(name, kind, dep, err)
		if kind == "needs" {
			l.recordDependencyFailure(h, kind, dep, err)
		}
		return
	}
	l.linkAfter(h, dep)
	rec := l.tbl.Lookup(h)
	if rec == nil {
		return
	}
	switch kind {
	case "needs":
		if !table.ContainsEdge(rec.Needs, depH) {
			rec.Needs = append(rec.Needs, depH)
		}
	case "wants":
		if !table.ContainsEdge(rec.Wants, depH) {
			rec.Wants = append(rec.Wants, depH)
		}
	}
}

func (l *Loader) recordDependencyFailure(h table.Handle, kind, missing string, cause error) {
	if kind != "needs" {
		return // unresolved wants/after are tolerated, not fatal
	}
	rec := l.tbl.Lookup(h)
	if rec == nil {
		return
	}
	rec.LoadErr = &ErrDependency{Name: l.tbl.NameOf(h), Missing: missing, Cause: cause}
}

func (l *Loader) linkAfter(h table.Handle, dep string) {
	depH, err := l.tbl.GetOrCreate(dep)
	if err != nil {
		return
	}
	rec := l.tbl.Lookup(h)
	if rec != nil && !table.ContainsEdge(rec.After, depH) {
		rec.After = append(rec.After, depH)
	}
}

// isUp determines current up/ready state per spec.md §4.2 step 5.
func (l *Loader) isUp(name string, rec *table.Record, persisted status.Record) (up, ready bool) {
	if rec.Kind == table.KindOneshot {
		switch persisted.Event {
		case status.EventStarted, status.EventStarting, status.EventStoppingFailed, status.EventStopFailed:
			return true, true
		}
		return false, false
	}

	// Longrun: query the supervisor's own status record.
	if l.longrun == nil {
		return false, false
	}
	supRec, ok, err := l.longrun(name)
	if err != nil || !ok {
		return false, false
	}
	switch supRec.Event {
	case status.EventStarted:
		return true, true
	case status.EventStarting:
		return true, !rec.ReadinessCapable
	default:
		return false, false
	}
}
