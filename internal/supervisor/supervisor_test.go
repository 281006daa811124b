package supervisor

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/onyxsvc/onyx/internal/status"
)

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func writeFrame(w io.Writer, name string, ev Event, stamp time.Time) {
	w.Write([]byte(name))
	w.Write([]byte{0})
	w.Write([]byte{byte(ev)})
	buf := status.EncodeTAI64N(stamp)
	w.Write(buf[:])
}

func TestSubscribeReceivesNotification(t *testing.T) {
	controlR, controlW := io.Pipe()
	eventR, eventW := io.Pipe()
	defer controlR.Close()

	statusOf := func(name string) (status.Record, bool, error) { return status.Record{}, false, nil }
	c := NewFifoClient(nopCloser{controlW}, eventR, statusOf)
	defer c.Close()

	ch, unsub := c.Subscribe("web")
	defer unsub()

	go func() {
		writeFrame(eventW, "web", EventUp, time.Now())
	}()

	select {
	case n := <-ch:
		if n.Service != "web" || n.Event != EventUp {
			t.Errorf("got %+v, want service=web event=u", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
	}
}

func TestSubscribeIgnoresOtherServices(t *testing.T) {
	controlR, controlW := io.Pipe()
	eventR, eventW := io.Pipe()
	defer controlR.Close()

	statusOf := func(name string) (status.Record, bool, error) { return status.Record{}, false, nil }
	c := NewFifoClient(nopCloser{controlW}, eventR, statusOf)
	defer c.Close()

	ch, unsub := c.Subscribe("web")
	defer unsub()

	go func() {
		writeFrame(eventW, "other", EventUp, time.Now())
		writeFrame(eventW, "web", EventUpReady, time.Now())
	}()

	select {
	case n := <-ch:
		if n.Service != "web" {
			t.Errorf("got notification for %q, want web", n.Service)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
	}
}

func TestSendWritesCommandByte(t *testing.T) {
	controlR, controlW := io.Pipe()
	eventR, eventW := io.Pipe()
	defer eventW.Close()

	statusOf := func(name string) (status.Record, bool, error) { return status.Record{}, false, nil }
	c := NewFifoClient(nopCloser{controlW}, eventR, statusOf)
	defer c.Close()

	go func() {
		buf := make([]byte, 1)
		controlR.Read(buf)
		if buf[0] != 'u' {
			t.Errorf("got command byte %q, want 'u'", buf[0])
		}
	}()

	if err := c.Send(context.Background(), "web", CommandUp); err != nil {
		t.Fatalf("Send: %v", err)
	}
}
