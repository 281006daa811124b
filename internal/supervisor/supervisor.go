// Package supervisor is the client for the external process-supervision
// daemon that owns long-running services: a one-byte command protocol
// over a control fifo, and an event channel reporting readiness and
// exit transitions in the same alphabet, uppercase for readiness.
package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/onyxsvc/onyx/internal/status"
)

var log = slog.With("component", "supervisor")

// Command is a one-byte instruction written to the control fifo.
type Command byte

const (
	CommandUp   Command = 'u'
	CommandDown Command = 'd'
	CommandExit Command = 'x'
)

// Event is a one-byte notification read from the event channel. Lowercase
// letters report liveness transitions; uppercase letters report the
// corresponding readiness transition.
type Event byte

const (
	EventUp        Event = 'u' // process started
	EventUpReady   Event = 'U' // process signaled ready
	EventDown      Event = 'd' // process asked to stop
	EventDownReady Event = 'D' // process confirmed stopped
	EventGone      Event = 'x' // process disappeared unexpectedly
)

// Notification pairs an Event with the service name it concerns and the
// supervisor's observed timestamp, used by service_is_ok (spec.md §4.6)
// to compare against our own persisted timestamp.
type Notification struct {
	Service string
	Event   Event
	Stamp   time.Time
}

// Client is the supervisor abstraction the scheduler depends on. The
// core never talks to the supervisor's wire protocol directly.
type Client interface {
	// Send writes a command for name to the control fifo.
	Send(ctx context.Context, name string, cmd Command) error

	// Subscribe returns a channel of notifications for name and an
	// unsubscribe function. The channel is closed after unsubscribe is
	// called; callers must always call it to release the shared
	// connection's fan-out registration.
	Subscribe(name string) (<-chan Notification, func())

	// Status reads the supervisor's last-known status record for name,
	// analogous to internal/status.Read but sourced from the
	// supervisor's own state rather than our on-disk file.
	Status(name string) (status.Record, bool, error)

	// WaitReady is Status throttled by a poll limiter, for callers that
	// re-read status repeatedly across an in-flight race window instead
	// of taking one point-in-time snapshot.
	WaitReady(ctx context.Context, name string) (status.Record, bool, error)

	Close() error
}

// FifoClient is the real Client talking to a running supervisor over a
// control fifo (write-only) and an event channel (read-only stream of
// "name\x00" + event(1B) + stamp(12B) frames). Both are opened once and shared
// across every subscribed service, per spec.md §5 "a single connection
// shared by all long-runs".
type FifoClient struct {
	controlW io.WriteCloser
	eventR   io.ReadCloser

	mu   sync.Mutex
	subs map[string][]chan Notification

	pollLimiter *rate.Limiter

	statusOf func(name string) (status.Record, bool, error)

	closeOnce sync.Once
	done      chan struct{}
}

// NewFifoClient wires a Client to an already-open control fifo and event
// channel. statusOf resolves a service's last-known supervisor status;
// callers typically back it with a read of the supervisor's own status
// directory.
func NewFifoClient(controlW io.WriteCloser, eventR io.ReadCloser, statusOf func(name string) (status.Record, bool, error)) *FifoClient {
	c := &FifoClient{
		controlW: controlW,
		eventR:   eventR,
		subs:     make(map[string][]chan Notification),
		// Caps re-polling a longrun's status file while tolerating the
		// in-flight race window of spec.md §4.6, instead of a bare
		// sleep loop.
		pollLimiter: rate.NewLimiter(rate.Every(50*time.Millisecond), 1),
		statusOf:    statusOf,
		done:        make(chan struct{}),
	}
	go c.dispatchLoop()
	return c
}

func (c *FifoClient) Send(ctx context.Context, name string, cmd Command) error {
	_, err := c.controlW.Write([]byte{byte(cmd)})
	if err != nil {
		return fmt.Errorf("supervisor: sending %c for %s: %w", cmd, name, err)
	}
	log.Debug("sent command", "service", name, "cmd", string(cmd))
	return nil
}

func (c *FifoClient) Subscribe(name string) (<-chan Notification, func()) {
	ch := make(chan Notification, 16)

	c.mu.Lock()
	c.subs[name] = append(c.subs[name], ch)
	c.mu.Unlock()

	unsub := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		list := c.subs[name]
		for i, existing := range list {
			if existing == ch {
				c.subs[name] = append(list[:i], list[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, unsub
}

// WaitReady waits for the poll limiter (or for ctx to be done) and then
// returns a single Status read; it does not retry when statusOf reports
// no record. Used by callers that need a point-in-time read rather than
// the event stream (e.g. service_is_ok's supervisor-status fallback).
func (c *FifoClient) WaitReady(ctx context.Context, name string) (status.Record, bool, error) {
	if err := c.pollLimiter.Wait(ctx); err != nil {
		return status.Record{}, false, err
	}
	return c.Status(name)
}

func (c *FifoClient) Status(name string) (status.Record, bool, error) {
	return c.statusOf(name)
}

func (c *FifoClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.eventR.Close()
		if werr := c.controlW.Close(); werr != nil && err == nil {
			err = werr
		}
	})
	return err
}

// dispatchLoop reads frames (NUL-terminated name, one event byte, 12-byte
// stamp) from the event channel and fans them out to every subscriber of
// the named service.
func (c *FifoClient) dispatchLoop() {
	r := bufio.NewReader(c.eventR)
	for {
		select {
		case <-c.done:
			return
		default:
		}

		name, err := r.ReadString(0)
		if err != nil {
			return
		}
		name = name[:len(name)-1]

		evByte, err := r.ReadByte()
		if err != nil {
			return
		}

		var stampBuf [12]byte
		if _, err := io.ReadFull(r, stampBuf[:]); err != nil {
			return
		}

		n := Notification{
			Service: name,
			Event:   Event(evByte),
			Stamp:   status.DecodeTAI64N(stampBuf),
		}

		c.mu.Lock()
		subs := append([]chan Notification{}, c.subs[name]...)
		c.mu.Unlock()

		for _, ch := range subs {
			select {
			case ch <- n:
			default:
				log.Warn("dropping notification, subscriber channel full", "service", name)
			}
		}
	}
}
