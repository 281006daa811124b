// Package observer defines the single callback-replacement interface
// used across the core to report progress, failures and cycle breaks to
// whatever is driving it — normally the CLI boundary. The core never
// depends on concrete output code; it only calls methods on an Observer.
package observer

// Observer receives every user-visible event the core produces. A nil
// Observer is never passed to core operations; callers that want silence
// use Noop.
type Observer interface {
	// LoadFailed reports that service's attempt to resolve a neighbor
	// named missingName failed with err. kind distinguishes which edge
	// list (needs/wants/after/before) was being resolved. Called once
	// per unresolved neighbor; never aborts the loader.
	LoadFailed(service, kind, missingName string, err error)

	// CycleBroken reports a single cycle break made by the graph engine.
	// anchor is the service name where the cycle was detected; cur and
	// next name the edge that was removed. isNeedsCycle distinguishes a
	// hard break (needs+after both severed) from a soft break (after
	// only).
	CycleBroken(anchor, cur, next string, isNeedsCycle bool)

	// ScanProgress reports a scheduling-pass event. The graph engine
	// emits it with event "dependency_failed" when it drops a service
	// from the active list; starting a service is not reported here.
	ScanProgress(service, event string)

	// Progress reports a byte chunk written by a oneshot to its
	// progress sideband fd, for a live progress indicator.
	Progress(service string, data []byte)

	// Outcome reports a service's final event and optional message,
	// the "single, colored, prefixed line" spec.md requires for
	// failures and the per-service line for the end-of-run summary.
	Outcome(service, event string, code int32, message string)

	// Summary reports the end-of-run counts: succeeded, failed, and
	// timed-out service names.
	Summary(succeeded, failed, timedOut []string)
}

// Noop implements Observer with no-op methods, useful for tests and for
// core operations invoked without a CLI (e.g. programmatic use).
type Noop struct{}

func (Noop) LoadFailed(service, kind, missingName string, err error)    {}
func (Noop) CycleBroken(anchor, cur, next string, isNeedsCycle bool)    {}
func (Noop) ScanProgress(service, event string)                        {}
func (Noop) Progress(service string, data []byte)                      {}
func (Noop) Outcome(service, event string, code int32, message string) {}
func (Noop) Summary(succeeded, failed, timedOut []string)               {}
