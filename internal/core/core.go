// Package core ties the six components together and exposes the named
// entry points of spec.md §6: enable, start, stop, status, and the
// supplemented dry-listing capability, plan.
package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/onyxsvc/onyx/internal/audit"
	"github.com/onyxsvc/onyx/internal/graphengine"
	"github.com/onyxsvc/onyx/internal/loader"
	"github.com/onyxsvc/onyx/internal/observer"
	"github.com/onyxsvc/onyx/internal/repo"
	"github.com/onyxsvc/onyx/internal/scheduler"
	"github.com/onyxsvc/onyx/internal/status"
	"github.com/onyxsvc/onyx/internal/supervisor"
	"github.com/onyxsvc/onyx/internal/table"
)

var log = slog.With("component", "core")

// Tag names one of the error classes of spec.md §7.
type Tag int

const (
	ErrInvalidName Tag = iota
	ErrUnknown
	ErrIO
	ErrDependency
	ErrAlreadyUp
	ErrNotUp
	ErrTimedout
	ErrCycle
	ErrExitCode
	ErrSignal
)

func (t Tag) String() string {
	switch t {
	case ErrInvalidName:
		return "invalid_name"
	case ErrUnknown:
		return "unknown"
	case ErrIO:
		return "io"
	case ErrDependency:
		return "dependency"
	case ErrAlreadyUp:
		return "already_up"
	case ErrNotUp:
		return "not_up"
	case ErrTimedout:
		return "timedout"
	case ErrCycle:
		return "cycle"
	case ErrExitCode:
		return "exit_code"
	case ErrSignal:
		return "signal"
	default:
		return "unknown_tag"
	}
}

// CoreError is the value-error type every exported operation returns
// through, carrying one of the named tags plus the wrapped cause.
type CoreError struct {
	Tag     Tag
	Service string
	Errno   int // set only for ErrIO, per spec.md's "always paired with an OS error number"
	Cause   error
}

func (e *CoreError) Error() string {
	if e.Service != "" {
		return fmt.Sprintf("%s: %s: %v", e.Service, e.Tag, e.Cause)
	}
	return fmt.Sprintf("%s: %v", e.Tag, e.Cause)
}

func (e *CoreError) Unwrap() error { return e.Cause }

// Is supports errors.Is(err, core.ErrUnknown) style tag comparisons by
// matching on Tag rather than identity.
func (e *CoreError) Is(target error) bool {
	var other *CoreError
	if errors.As(target, &other) {
		return e.Tag == other.Tag
	}
	return false
}

func newError(tag Tag, service string, cause error) *CoreError {
	return &CoreError{Tag: tag, Service: service, Cause: cause}
}

// Flags mirrors spec.md §6's named flags, shared across enable/start/stop.
type Flags struct {
	SkipDown        bool
	AutoEnableNeeds bool
	AutoEnableWants bool
	DryFull         bool
	StopAll         bool
	IncludeWants    bool
}

// Core bundles the six components against a single repository root for
// the duration of one operation: construct, run, drop, per spec.md §9.
type Core struct {
	repo *repo.Repo
	tbl  *table.Table
	sup  supervisor.Client // nil when no longrun work is required
	obs  observer.Observer

	auditLog *audit.Logger // nil disables the lifecycle transcript

	passwordGate scheduler.PasswordGate // nil disables the credential-cache gate
	stdin        io.Reader              // terminal passthrough when the gate misses

	defaultTimeoutSecs int
	maxProgressSlots   int
}

// Option configures a Core, matching the teacher's functional options
// pattern.
type Option func(*Core)

// WithSupervisor wires a supervisor.Client for longrun operations. A
// nil Core talking only to oneshots never needs one.
func WithSupervisor(c supervisor.Client) Option {
	return func(co *Core) { co.sup = c }
}

// WithObserver replaces the default no-op Observer.
func WithObserver(o observer.Observer) Option {
	return func(co *Core) { co.obs = o }
}

// WithDefaultTimeout overrides the 7-second default applied to services
// with no timeout file.
func WithDefaultTimeout(secs int) Option {
	return func(co *Core) { co.defaultTimeoutSecs = secs }
}

// WithProgressSlots bounds the scheduler's progress-table allocation.
func WithProgressSlots(n int) Option {
	return func(co *Core) { co.maxProgressSlots = n }
}

// WithAuditLogger enables the lifecycle transcript: every outcome,
// cycle break, and run summary the configured Observer would otherwise
// only display is also appended to l, by wrapping the Observer in an
// audit.TranscriptObserver.
func WithAuditLogger(l *audit.Logger) Option {
	return func(co *Core) { co.auditLog = l }
}

// WithPasswordGate wires a credential cache consulted before falling
// back to the terminal for a oneshot's stdin, per spec.md §4.5.
func WithPasswordGate(gate scheduler.PasswordGate) Option {
	return func(co *Core) { co.passwordGate = gate }
}

// WithStdin sets the terminal passthrough used when the password gate
// misses. Defaults to nil (no stdin passed to oneshots) when unset.
func WithStdin(r io.Reader) Option {
	return func(co *Core) { co.stdin = r }
}

// New constructs a Core rooted at repoRoot.
func New(repoRoot string, opts ...Option) *Core {
	co := &Core{
		repo:               repo.New(repoRoot),
		tbl:                table.New(),
		obs:                observer.Noop{},
		defaultTimeoutSecs: repo.DefaultTimeoutSecs,
		maxProgressSlots:   32,
	}
	for _, opt := range opts {
		opt(co)
	}
	if co.auditLog != nil {
		co.obs = audit.NewTranscriptObserver(co.obs, co.auditLog)
	}
	return co
}

func (co *Core) longrunStatus(name string) (status.Record, bool, error) {
	if co.sup == nil {
		return status.Record{}, false, nil
	}
	return co.sup.Status(name)
}

func (co *Core) newLoader() *loader.Loader {
	return loader.New(co.tbl, co.repo, co.obs, co.longrunStatus, co.defaultTimeoutSecs)
}

func (co *Core) loadAll(names []string, mode loader.Mode, includeWants bool) ([]table.Handle, error) {
	handles := make([]table.Handle, 0, len(names))
	ld := co.newLoader()

	for _, name := range names {
		resolved := repo.ResolveName(name)
		h, err := co.tbl.GetOrCreate(resolved)
		if err != nil {
			var invalid *table.ErrInvalidName
			if errors.As(err, &invalid) {
				return nil, newError(ErrInvalidName, name, err)
			}
			return nil, newError(ErrIO, name, err)
		}
		if err := ld.EnsureLoaded(h, mode, includeWants); err != nil {
			if !errors.As(err, new(*loader.ErrAlreadyUp)) && !errors.As(err, new(*loader.ErrNotUp)) {
				log.Warn("load failed", "service", name, "err", err)
			}
		}
		handles = append(handles, h)
	}
	return handles, nil
}

// Start implements spec.md §6's start(names, opts): load, verify,
// schedule, and run every named service (and its transitive needs/after
// closure) to completion.
func (co *Core) Start(ctx context.Context, names []string, flags Flags) error {
	return co.run(ctx, names, loader.ModeStart, scheduler.ModeStart, flags)
}

// Stop implements spec.md §6's stop(names, opts).
func (co *Core) Stop(ctx context.Context, names []string, flags Flags) error {
	mode := loader.ModeStop
	if flags.StopAll {
		mode = loader.ModeStopAll
	}
	return co.run(ctx, names, mode, scheduler.ModeStop, flags)
}

func (co *Core) run(ctx context.Context, names []string, lmode loader.Mode, smode scheduler.Mode, flags Flags) error {
	if flags.DryFull {
		lmode = loader.ModeDryFull
	}
	if _, err := co.loadAll(names, lmode, flags.IncludeWants); err != nil {
		return err
	}

	eng := graphengine.New(co.tbl, co.obs)
	eng.CheckCycles()
	if flags.DryFull {
		return nil // resolve only; nothing is executed
	}

	opts := []scheduler.Option{
		scheduler.WithObserver(co.obs),
		scheduler.WithProgressSlots(co.maxProgressSlots),
	}
	if co.sup != nil {
		opts = append(opts, scheduler.WithSupervisor(co.sup))
	}
	if co.passwordGate != nil {
		opts = append(opts, scheduler.WithPasswordGate(co.passwordGate))
	}
	if co.stdin != nil {
		opts = append(opts, scheduler.WithStdin(co.stdin))
	}
	sched := scheduler.New(co.tbl, co.repo, smode, opts...)

	if err := sched.Run(ctx); err != nil {
		return fmt.Errorf("core: scheduler run: %w", err)
	}
	return nil
}

// Enable implements spec.md §6's enable(names, flags): the
// dependency-preparation pass without execution. The actual
// source-tree-to-repository materialization is out of scope (spec.md
// §1); this validates and recursively loads the requested names'
// declared needs/after/before neighbors so a subsequent start finds
// them already resolvable. Needs are always loaded, so AutoEnableNeeds
// is not consulted; AutoEnableWants is passed to the loader, which only
// follows wants edges in start mode, so enable never loads wants.
func (co *Core) Enable(names []string, flags Flags) error {
	mode := loader.ModeDryFull
	if _, err := co.loadAll(names, mode, flags.AutoEnableWants); err != nil {
		return err
	}
	return nil
}

// StatusFilter narrows which services Status reports on.
type StatusFilter struct {
	Names []string // empty means every interned service
}

// ServiceStatus is one row of a Status report.
type ServiceStatus struct {
	Name   string
	Kind   table.Kind
	Record status.Record
}

// Status implements spec.md §6's status(names, filter): a read-only
// report of persisted status records, performing no execution.
func (co *Core) Status(filter StatusFilter) ([]ServiceStatus, error) {
	names := filter.Names
	if len(names) == 0 {
		names = co.allKnownNames()
	}

	var out []ServiceStatus
	for _, name := range names {
		resolved := repo.ResolveName(name)
		if !co.repo.Exists(resolved) {
			return nil, newError(ErrUnknown, name, &repo.ErrUnknown{Name: resolved})
		}
		desc, err := co.repo.Load(resolved)
		if err != nil {
			return nil, newError(ErrIO, name, err)
		}
		rec, _, err := status.Read(co.repo.ServiceDir(resolved))
		if err != nil {
			return nil, newError(ErrIO, name, err)
		}
		out = append(out, ServiceStatus{Name: resolved, Kind: desc.Kind, Record: rec})
	}
	return out, nil
}

// allKnownNames lists every service directory under the repository
// root, used when Status is called with no explicit filter.
func (co *Core) allKnownNames() []string {
	entries, err := repo.ListServiceNames(co.repo.Root())
	if err != nil {
		log.Warn("listing repository root", "err", err)
		return nil
	}
	return entries
}

// Plan implements the supplemented dry-list capability (SPEC_FULL §12
// item 6): resolve the transitive closure of names without executing
// anything, returning the order a subsequent start would use.
func (co *Core) Plan(names []string, flags Flags) ([]string, error) {
	ld := co.newLoader()

	var order []string
	seen := make(map[table.Handle]bool)

	var visit func(h table.Handle)
	visit = func(h table.Handle) {
		if seen[h] {
			return
		}
		seen[h] = true
		rec := co.tbl.Lookup(h)
		if rec == nil {
			return
		}
		for _, dep := range rec.After {
			visit(dep)
		}
		order = append(order, co.tbl.NameOf(h))
	}

	for _, name := range names {
		resolved := repo.ResolveName(name)
		h, err := co.tbl.GetOrCreateScratch(resolved)
		if err != nil {
			return nil, newError(ErrInvalidName, name, err)
		}
		if err := ld.EnsureLoaded(h, loader.ModeDryFull, flags.IncludeWants); err != nil {
			return nil, newError(ErrDependency, name, err)
		}
	}

	eng := graphengine.New(co.tbl, co.obs)
	eng.CheckCycles()

	for _, name := range names {
		h, _ := co.tbl.GetOrCreate(repo.ResolveName(name))
		visit(h)
	}
	return order, nil
}
