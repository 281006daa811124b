// Package scheduler implements the Runtime Scheduler: a single-threaded
// cooperative event loop multiplexing supervisor notifications, oneshot
// stdout/progress pipes, and per-service deadlines, driving every
// in-flight service in the active list to a terminal state.
package scheduler

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/onyxsvc/onyx/internal/execone"
	"github.com/onyxsvc/onyx/internal/graphengine"
	"github.com/onyxsvc/onyx/internal/observer"
	"github.com/onyxsvc/onyx/internal/pslot"
	"github.com/onyxsvc/onyx/internal/repo"
	"github.com/onyxsvc/onyx/internal/status"
	"github.com/onyxsvc/onyx/internal/supervisor"
	"github.com/onyxsvc/onyx/internal/table"
)

var log = slog.With("component", "scheduler")

// Mode mirrors loader.Mode: it selects which terminal status events a
// run's exec dispatch produces.
type Mode int

const (
	ModeStart Mode = iota
	ModeStop
)

// Scheduler drives one active-list transaction to completion.
type Scheduler struct {
	tbl  *table.Table
	repo *repo.Repo
	eng  *graphengine.Engine
	sup  supervisor.Client // nil when no longrun is in play
	obs  observer.Observer

	slots        *pslot.Allocator
	passwordGate PasswordGate // may be nil; a miss falls through to stdin
	stdin        io.Reader    // terminal passthrough; nil means no stdin

	mode Mode
}

// Option configures a Scheduler, matching the teacher's functional
// options pattern.
type Option func(*Scheduler)

// WithSupervisor wires a supervisor.Client for longrun execution.
func WithSupervisor(c supervisor.Client) Option {
	return func(s *Scheduler) { s.sup = c }
}

// WithObserver replaces the default no-op Observer.
func WithObserver(o observer.Observer) Option {
	return func(s *Scheduler) { s.obs = o }
}

// WithProgressSlots enables a bounded progress-table allocation.
func WithProgressSlots(maxSlots int) Option {
	return func(s *Scheduler) { s.slots = pslot.NewAllocator(maxSlots) }
}

// PasswordGate is the credential cache consulted before a oneshot's
// stdin falls through to the interactive terminal prompt. Satisfied by
// internal/keychain's cache; kept as a local interface here so the
// scheduler doesn't depend on keychain's concrete backend.
type PasswordGate interface {
	Get(service string) (string, bool)
	Put(service, secret string)
}

// WithPasswordGate wires a credential cache consulted before falling
// through to the interactive terminal prompt for a oneshot's stdin.
func WithPasswordGate(gate PasswordGate) Option {
	return func(s *Scheduler) { s.passwordGate = gate }
}

// WithStdin wires the terminal input fd a oneshot's interactive prompt
// falls through to when the password gate holds no cached secret.
func WithStdin(r io.Reader) Option {
	return func(s *Scheduler) { s.stdin = r }
}

// New creates a Scheduler bound to tbl and rp, running in mode.
func New(tbl *table.Table, rp *repo.Repo, mode Mode, opts ...Option) *Scheduler {
	s := &Scheduler{
		tbl:  tbl,
		repo: rp,
		mode: mode,
		obs:  observer.Noop{},
	}
	s.eng = graphengine.New(tbl, s.obs)
	for _, opt := range opts {
		opt(s)
	}
	// Re-bind the engine in case WithObserver ran after New set the
	// default, so cycle-break notifications reach the caller's Observer.
	s.eng = graphengine.New(tbl, s.obs)
	return s
}

// event is the unified notification the main loop selects over: a
// oneshot's completion, a longrun's supervisor transition, or a
// progress-sideband chunk. Exactly one field other than Handle is set.
type event struct {
	handle    table.Handle
	execDone  *execone.Result
	supNotify *supervisor.Notification
	progress  []byte
}

// Run drives the active list to completion: every member reaches a
// terminal state (removed from the active list) or the context is
// canceled. It returns once the active list is empty.
func (s *Scheduler) Run(ctx context.Context) error {
	events := make(chan event, 64)
	inFlight := make(map[table.Handle]bool)
	deadlines := make(map[table.Handle]time.Time)

	execFn := func(h table.Handle) bool {
		return s.exec(ctx, h, events, inFlight, deadlines)
	}
	isOKFn := func(h table.Handle) bool { return s.serviceIsOK(ctx, h) }
	inFlightFn := func(h table.Handle) bool { return inFlight[h] }

	for len(s.tbl.Active()) > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		s.eng.CheckCycles()
		s.eng.Schedule(execFn, isOKFn, inFlightFn)

		if len(s.tbl.Active()) == 0 {
			break
		}

		deadline, haveDeadline := earliestDeadline(deadlines)
		var timer *time.Timer
		var timerC <-chan time.Time
		if haveDeadline {
			timer = time.NewTimer(time.Until(deadline))
			timerC = timer.C
		}

		select {
		case <-ctx.Done():
			stopTimer(timer)
			return ctx.Err()
		case ev := <-events:
			stopTimer(timer)
			s.dispatch(ev, inFlight, deadlines)
		case <-timerC:
			s.expireDeadlines(deadlines, inFlight)
		}
	}

	s.reportSummary()
	return nil
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

func earliestDeadline(deadlines map[table.Handle]time.Time) (time.Time, bool) {
	var earliest time.Time
	found := false
	for _, d := range deadlines {
		if !found || d.Before(earliest) {
			earliest = d
			found = true
		}
	}
	return earliest, found
}

func (s *Scheduler) dispatch(ev event, inFlight map[table.Handle]bool, deadlines map[table.Handle]time.Time) {
	rec := s.tbl.Lookup(ev.handle)
	if rec == nil {
		return
	}
	name := s.tbl.NameOf(ev.handle)

	switch {
	case ev.execDone != nil:
		delete(inFlight, ev.handle)
		delete(deadlines, ev.handle)
		s.finishOneshot(ev.handle, rec, name, *ev.execDone)
	case ev.supNotify != nil:
		s.handleSupervisorEvent(ev.handle, rec, name, *ev.supNotify, inFlight, deadlines)
	case ev.progress != nil:
		s.obs.Progress(name, ev.progress)
	}
}

func (s *Scheduler) finishOneshot(h table.Handle, rec *table.Record, name string, res execone.Result) {
	var rs status.Record
	switch {
	case res.TimedOut:
		rec.TimedOut = true
		rs = status.Record{Event: failEventFor(s.mode), Code: int32(timedoutCode), Message: "timed out"}
	case res.Success():
		rs = status.Record{Event: okEventFor(s.mode)}
	default:
		rs = status.Record{Event: failEventFor(s.mode), Code: int32(res.ExitCode), Message: name}
	}

	if rec.TimedOut && !res.TimedOut {
		// A sticky timeout is never overwritten by a late success.
		return
	}

	if err := status.Write(s.repo.ServiceDir(name), rs); err != nil {
		log.Error("writing status", "service", name, "err", err)
	}
	rec.Status = rs
	s.tbl.RemoveActive(h)
	if s.slots != nil {
		s.slots.Release(name)
	}
	s.obs.Outcome(name, rs.Event.String(), rs.Code, rs.Message)
}

func (s *Scheduler) handleSupervisorEvent(h table.Handle, rec *table.Record, name string, n supervisor.Notification, inFlight map[table.Handle]bool, deadlines map[table.Handle]time.Time) {
	var rs status.Record
	terminal := false

	switch n.Event {
	case supervisor.EventUp:
		if rec.ReadinessCapable {
			rs = status.Record{Event: status.EventStarting, Message: "waiting for ready"}
		} else {
			rs = status.Record{Event: status.EventStarted}
			terminal = true
		}
	case supervisor.EventUpReady:
		rs = status.Record{Event: status.EventStarted}
		terminal = true
	case supervisor.EventDown:
		rs = status.Record{Event: status.EventStopping}
	case supervisor.EventDownReady:
		rs = status.Record{Event: status.EventStopped}
		terminal = true
	case supervisor.EventGone:
		rs = status.Record{Event: failEventFor(s.mode), Message: "supervisor reported exit"}
		terminal = true
	}

	rs.Stamp = n.Stamp
	if err := status.Write(s.repo.ServiceDir(name), rs); err != nil {
		log.Error("writing status", "service", name, "err", err)
	}
	rec.Status = rs

	if terminal {
		delete(inFlight, h)
		delete(deadlines, h)
		s.tbl.RemoveActive(h)
		s.obs.Outcome(name, rs.Event.String(), rs.Code, rs.Message)
	}
}

const timedoutCode = -2 // spec.md's Timedout error tag, numeric form for the status file

func okEventFor(m Mode) status.Event {
	if m == ModeStop {
		return status.EventStopped
	}
	return status.EventStarted
}

func failEventFor(m Mode) status.Event {
	if m == ModeStop {
		return status.EventStopFailed
	}
	return status.EventStartFailed
}

// exec dispatches execution for h according to its kind and the
// scheduler's mode, matching spec.md §4.5's oneshot/longrun split. It
// returns true once the service is considered in-flight.
func (s *Scheduler) exec(ctx context.Context, h table.Handle, events chan<- event, inFlight map[table.Handle]bool, deadlines map[table.Handle]time.Time) bool {
	rec := s.tbl.Lookup(h)
	if rec == nil {
		return false
	}
	name := s.tbl.NameOf(h)

	rec.TSExec = time.Now()
	if rec.TimeoutSecs > 0 {
		deadlines[h] = rec.TSExec.Add(time.Duration(rec.TimeoutSecs) * time.Second)
	}
	inFlight[h] = true

	startEvent := status.EventStarting
	if s.mode == ModeStop {
		startEvent = status.EventStopping
	}
	rec.Status = status.Record{Event: startEvent}
	status.Write(s.repo.ServiceDir(name), rec.Status)

	switch rec.Kind {
	case table.KindOneshot:
		s.execOneshot(ctx, h, name, rec, events, deadlines)
	case table.KindLongrun:
		s.execLongrun(ctx, h, name, events)
	}
	return true
}

func (s *Scheduler) execOneshot(ctx context.Context, h table.Handle, name string, rec *table.Record, events chan<- event, deadlines map[table.Handle]time.Time) {
	action := execone.ActionStart
	if s.mode == ModeStop {
		action = execone.ActionStop
	}

	runCtx := ctx
	cancel := func() {}
	if dl, ok := deadlines[h]; ok {
		runCtx, cancel = context.WithDeadline(ctx, dl)
	}

	stdin := s.stdinFor(name)
	if s.slots != nil {
		s.slots.Allocate(name)
	}

	go func() {
		defer cancel()
		res, err := execone.Run(runCtx, s.repo.ServiceDir(name), action, stdin, rec.OutputBuffer, func(chunk []byte) {
			events <- event{handle: h, progress: chunk}
		})
		if err != nil {
			log.Error("execone failed", "service", name, "err", err)
			res = execone.Result{ExitCode: -1}
		}
		events <- event{handle: h, execDone: &res}
	}()
}

func (s *Scheduler) execLongrun(ctx context.Context, h table.Handle, name string, events chan<- event) {
	if s.sup == nil {
		log.Error("longrun requires a supervisor client", "service", name)
		events <- event{handle: h, execDone: &execone.Result{ExitCode: -1}}
		return
	}

	cmd := supervisor.CommandUp
	if s.mode == ModeStop {
		cmd = supervisor.CommandDown
	}

	ch, unsub := s.sup.Subscribe(name)
	go func() {
		for n := range ch {
			events <- event{handle: h, supNotify: &n}
		}
	}()

	if err := s.sup.Send(ctx, name, cmd); err != nil {
		log.Error("sending supervisor command", "service", name, "err", err)
		unsub()
	}
	// unsub is intentionally leaked to the notification goroutine's
	// lifetime; it is released when the service leaves the active list
	// and the scheduler's caller tears down the subscription set.
}

// stdinFor consults the password-gate cache before falling through to
// the terminal passthrough wired by WithStdin, per spec.md §4.5's
// "interactive password prompt gate".
func (s *Scheduler) stdinFor(name string) io.Reader {
	if s.passwordGate != nil {
		if secret, ok := s.passwordGate.Get(name); ok {
			return strings.NewReader(secret + "\n")
		}
	}
	return s.stdin
}

func (s *Scheduler) expireDeadlines(deadlines map[table.Handle]time.Time, inFlight map[table.Handle]bool) {
	now := time.Now()
	for h, dl := range deadlines {
		if dl.After(now) {
			continue
		}
		rec := s.tbl.Lookup(h)
		if rec == nil {
			continue
		}
		name := s.tbl.NameOf(h)
		rec.TimedOut = true

		if rec.Kind == table.KindLongrun && s.sup != nil {
			s.sup.Send(context.Background(), name, supervisor.CommandDown)
		}

		rs := status.Record{Event: failEventFor(s.mode), Code: int32(timedoutCode), Message: "timed out"}
		status.Write(s.repo.ServiceDir(name), rs)
		rec.Status = rs
		s.tbl.RemoveActive(h)
		delete(inFlight, h)
		delete(deadlines, h)
		s.obs.Outcome(name, rs.Event.String(), rs.Code, rs.Message)
	}
}

// serviceIsOK implements the service_is_ok helper of spec.md §4.6. The
// longrun path re-reads the supervisor's status through WaitReady rather
// than Status directly, so repeated calls during the in-flight race
// window are throttled instead of hammering the supervisor.
func (s *Scheduler) serviceIsOK(ctx context.Context, h table.Handle) bool {
	rec := s.tbl.Lookup(h)
	if rec == nil {
		return false
	}

	if rec.Kind == table.KindOneshot {
		return rec.Status.Event == okEventFor(s.mode)
	}

	if rec.TimedOut {
		return false
	}
	if s.sup == nil {
		return false
	}
	supRec, ok, err := s.sup.WaitReady(ctx, s.tbl.NameOf(h))
	if err != nil || !ok {
		return false
	}
	if supRec.Stamp.After(rec.Status.Stamp) {
		return true
	}
	return rec.Status.Event == status.EventStarting || rec.Status.Event == status.EventStopping
}

func (s *Scheduler) reportSummary() {
	var succeeded, failed, timedOut []string
	for h := 0; h < s.tbl.Len(); h++ {
		rec := s.tbl.Lookup(table.Handle(h))
		if rec == nil {
			continue
		}
		name := s.tbl.NameOf(table.Handle(h))
		switch {
		case rec.TimedOut:
			timedOut = append(timedOut, name)
		case rec.Status.Event == status.EventStarted || rec.Status.Event == status.EventStopped:
			succeeded = append(succeeded, name)
		case rec.Status.Event == status.EventStartFailed || rec.Status.Event == status.EventStopFailed ||
			rec.Status.Event == status.EventStartingFailed || rec.Status.Event == status.EventStoppingFailed:
			failed = append(failed, name)
		}
	}
	s.obs.Summary(succeeded, failed, timedOut)
}

