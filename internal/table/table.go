// Package table implements the interned service registry: a mapping from
// service name to a dense integer handle, and a vector of service records
// indexed by handle. It owns all heap state for a single core run.
package table

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/onyxsvc/onyx/internal/logbuf"
	"github.com/onyxsvc/onyx/internal/status"
)

// nameRe matches the character set the repository permits: alphanumerics,
// dash, underscore, and an optional "/log" suffix naming the logger of a
// long-running service.
var nameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+(/log)?$`)

// ErrInvalidName is returned when a service name fails validation.
type ErrInvalidName struct{ Name string }

func (e *ErrInvalidName) Error() string {
	return fmt.Sprintf("invalid service name %q", e.Name)
}

// Handle is a dense, stable reference to a service record. Edges between
// records are always expressed as handles, never pointers, so the table can
// grow without invalidating existing references.
type Handle int32

// NoHandle is the zero value of an absent handle.
const NoHandle Handle = -1

// Kind classifies how a service is executed.
type Kind int

const (
	KindUnknown Kind = iota
	KindOneshot
	KindLongrun
)

func (k Kind) String() string {
	switch k {
	case KindOneshot:
		return "oneshot"
	case KindLongrun:
		return "longrun"
	default:
		return "unknown"
	}
}

// LoadState is the lifecycle stage of a service record, per spec.
type LoadState int

const (
	NotLoaded LoadState = iota
	Loading
	Loaded
	Verified
	Failed
)

func (s LoadState) String() string {
	switch s {
	case Loading:
		return "loading"
	case Loaded:
		return "loaded"
	case Verified:
		return "verified"
	case Failed:
		return "failed"
	default:
		return "not_loaded"
	}
}

// Origin distinguishes a record pulled into the explicit active
// transaction from one loaded only to probe/check during a dry run, per
// the original's FROM_MAIN vs FROM_TMP lists.
type Origin int

const (
	OriginMain Origin = iota
	OriginScratch
)

// Record is the central entity of the engine: one per service, addressed
// only by Handle.
type Record struct {
	NameOffset int
	Origin     Origin
	Kind       Kind
	Needs      []Handle // hard prerequisites
	Wants      []Handle // soft prerequisites, ignored on failure
	After      []Handle // ordering constraints only

	MarkCount int
	LoadState LoadState
	LoadErr   error

	Status status.Record
	TSExec time.Time

	TimeoutSecs      int
	ReadinessCapable bool
	NotifyHandle     uint16

	// Oneshot pipes. nil when not a oneshot or not currently executing.
	FDStdin    *os.File
	FDStdout   *os.File
	FDProgress *os.File

	OutputBuffer *logbuf.Ring

	ProgressIndex int // -1 when the service holds no progress-table slot
	TimedOut      bool

	// checked is the AA_LOAD_DONE_CHECKED sub-state: true once the cycle
	// pass has fully verified this record's After-subgraph in the current
	// CheckCycles call. It is reset at the start of every CheckCycles run.
	checked bool
}

// Table is the interned registry. It is not safe for concurrent use — per
// the single-threaded cooperative scheduling model, all mutation happens
// between suspension points in the caller's event loop.
type Table struct {
	arena   strings.Builder
	offsets []int // offsets[h] is the start of name h's bytes in arena
	lens    []int
	records []Record

	byName map[string]Handle

	active  []Handle // the active working set, topological insertion order
	scratch []Handle // transient DFS path, must be empty at public boundaries
}

// New creates an empty table.
func New() *Table {
	return &Table{
		byName: make(map[string]Handle),
	}
}

func validateName(name string) error {
	if name == "" || !nameRe.MatchString(name) {
		return &ErrInvalidName{Name: name}
	}
	return nil
}

// GetOrCreate idempotently interns name into the main active transaction,
// returning its handle. A freshly created record starts in NotLoaded
// state with an empty edge set. Equivalent to GetOrCreateWithOrigin with
// OriginMain.
func (t *Table) GetOrCreate(name string) (Handle, error) {
	return t.GetOrCreateWithOrigin(name, OriginMain)
}

// GetOrCreateMain interns name as a member of the explicit active
// transaction (the original's aa_main_list).
func (t *Table) GetOrCreateMain(name string) (Handle, error) {
	return t.GetOrCreateWithOrigin(name, OriginMain)
}

// GetOrCreateScratch interns name as a record pulled in only to
// probe/check during a dry run (the original's aa_tmp_list), without
// promoting it to the active transaction. If the name was already
// interned with OriginMain, its origin is left unchanged — scratch
// lookups never demote a main-list record.
func (t *Table) GetOrCreateScratch(name string) (Handle, error) {
	return t.GetOrCreateWithOrigin(name, OriginScratch)
}

// GetOrCreateWithOrigin is the shared implementation behind GetOrCreate,
// GetOrCreateMain and GetOrCreateScratch.
func (t *Table) GetOrCreateWithOrigin(name string, origin Origin) (Handle, error) {
	name = strings.TrimSuffix(name, "/")
	if h, ok := t.byName[name]; ok {
		return h, nil
	}
	if err := validateName(name); err != nil {
		return NoHandle, err
	}

	offset := t.arena.Len()
	t.arena.WriteString(name)
	h := Handle(len(t.records))

	t.offsets = append(t.offsets, offset)
	t.lens = append(t.lens, len(name))
	t.records = append(t.records, Record{
		NameOffset:    offset,
		Origin:        origin,
		LoadState:     NotLoaded,
		ProgressIndex: -1,
	})
	t.byName[name] = h
	return h, nil
}

// Lookup resolves a record for mutation. The caller must treat the pointer
// as valid only until the next call to GetOrCreate, which may grow the
// backing slice.
func (t *Table) Lookup(h Handle) *Record {
	if h < 0 || int(h) >= len(t.records) {
		return nil
	}
	return &t.records[h]
}

// NameOf resolves a handle back to its interned name via the name arena.
func (t *Table) NameOf(h Handle) string {
	if h < 0 || int(h) >= len(t.offsets) {
		return ""
	}
	s := t.arena.String()
	off := t.offsets[h]
	return s[off : off+t.lens[h]]
}

// Len returns the number of interned services.
func (t *Table) Len() int { return len(t.records) }

// Active returns the active working set in topological insertion order.
func (t *Table) Active() []Handle { return t.active }

// InActive reports whether h is a member of the active working set.
func (t *Table) InActive(h Handle) bool {
	for _, a := range t.active {
		if a == h {
			return true
		}
	}
	return false
}

// AddActive appends h to the active list if not already present.
func (t *Table) AddActive(h Handle) {
	if !t.InActive(h) {
		t.active = append(t.active, h)
	}
}

// RemoveActive removes h from the active list. A record leaving the active
// list on terminal outcome keeps its heap state until shutdown, per spec.
func (t *Table) RemoveActive(h Handle) {
	for i, a := range t.active {
		if a == h {
			t.active = append(t.active[:i], t.active[i+1:]...)
			return
		}
	}
}

// Scratch returns the current DFS path used by the cycle checker.
func (t *Table) Scratch() []Handle { return t.scratch }

// PushScratch appends h to the scratch list. It returns false without
// mutating the list when h is already present — the caller's signal that a
// cycle has been found, with h as the cycle anchor.
func (t *Table) PushScratch(h Handle) bool {
	for _, s := range t.scratch {
		if s == h {
			return false
		}
	}
	t.scratch = append(t.scratch, h)
	return true
}

// PopScratch removes the most recently pushed scratch entry.
func (t *Table) PopScratch() {
	if n := len(t.scratch); n > 0 {
		t.scratch = t.scratch[:n-1]
	}
}

// ResetScratch clears the scratch list. Call defensively at every public
// boundary — it must be empty on entry and exit of any exported operation.
func (t *Table) ResetScratch() { t.scratch = t.scratch[:0] }

// Checked reports the AA_LOAD_DONE_CHECKED sub-state for h.
func (t *Table) Checked(h Handle) bool {
	r := t.Lookup(h)
	return r != nil && r.checked
}

// SetChecked marks h as fully verified within the current cycle pass.
func (t *Table) SetChecked(h Handle, v bool) {
	if r := t.Lookup(h); r != nil {
		r.checked = v
	}
}

// ResetChecked clears the checked sub-state on every record, called once at
// the start of each CheckCycles invocation.
func (t *Table) ResetChecked() {
	for i := range t.records {
		t.records[i].checked = false
	}
}

// RemoveEdge deletes the first occurrence of target from edges, if
// present, and returns the shortened slice.
func RemoveEdge(edges []Handle, target Handle) []Handle {
	for i, h := range edges {
		if h == target {
			return append(edges[:i], edges[i+1:]...)
		}
	}
	return edges
}

// ContainsEdge reports whether target is present in edges.
func ContainsEdge(edges []Handle, target Handle) bool {
	for _, h := range edges {
		if h == target {
			return true
		}
	}
	return false
}
