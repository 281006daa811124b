package audit

import (
	"fmt"

	"github.com/onyxsvc/onyx/internal/observer"
)

// TranscriptObserver wraps an Observer, recording every outcome,
// cycle-break, and run summary to the audit log before forwarding the
// call unchanged to inner. LoadFailed, ScanProgress and Progress are
// forwarded without logging.
type TranscriptObserver struct {
	inner observer.Observer
	log   *Logger
}

// NewTranscriptObserver returns an Observer that records lifecycle
// events to log before delegating to inner. A nil inner is replaced
// with observer.Noop{}.
func NewTranscriptObserver(inner observer.Observer, log *Logger) *TranscriptObserver {
	if inner == nil {
		inner = observer.Noop{}
	}
	return &TranscriptObserver{inner: inner, log: log}
}

func (o *TranscriptObserver) LoadFailed(service, kind, missingName string, err error) {
	o.inner.LoadFailed(service, kind, missingName, err)
}

func (o *TranscriptObserver) CycleBroken(anchor, cur, next string, isNeedsCycle bool) {
	o.log.Log(Entry{
		Action:  ActionCycleBroken,
		Service: anchor,
		Message: fmt.Sprintf("%s -> %s removed (needs_cycle=%v)", cur, next, isNeedsCycle),
	})
	o.inner.CycleBroken(anchor, cur, next, isNeedsCycle)
}

func (o *TranscriptObserver) ScanProgress(service, event string) {
	o.inner.ScanProgress(service, event)
}

func (o *TranscriptObserver) Progress(service string, data []byte) {
	o.inner.Progress(service, data)
}

func (o *TranscriptObserver) Outcome(service, event string, code int32, message string) {
	o.log.Log(Entry{
		Action:  ActionServiceOutcome,
		Service: service,
		Event:   event,
		Code:    code,
		Message: message,
	})
	o.inner.Outcome(service, event, code, message)
}

func (o *TranscriptObserver) Summary(succeeded, failed, timedOut []string) {
	o.log.Log(Entry{
		Action:  ActionRunSummary,
		Message: fmt.Sprintf("succeeded=%d failed=%d timedout=%d", len(succeeded), len(failed), len(timedOut)),
	})
	o.inner.Summary(succeeded, failed, timedOut)
}
