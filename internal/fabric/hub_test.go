package fabric

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
)

// fakeConn records writes and can be told to fail.
type fakeConn struct {
	mu     sync.Mutex
	writes [][]byte
	fail   bool
	closed bool
}

func (f *fakeConn) WriteMessage(_ int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("write failed")
	}
	f.writes = append(f.writes, data)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) messages(t *testing.T) []Event {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Event, 0, len(f.writes))
	for _, w := range f.writes {
		var e Event
		if err := json.Unmarshal(w, &e); err != nil {
			t.Fatalf("bad frame: %v", err)
		}
		out = append(out, e)
	}
	return out
}

func newTestHub() *Hub { return NewHub(slog.Default()) }

func TestPublishReachesOnlySubscribedScope(t *testing.T) {
	h := newTestHub()
	coord := &fakeConn{}
	driver := &fakeConn{}
	h.subscribe(Coordinators(), coord)
	h.subscribe(Driver("d1"), driver)

	h.Publish(Driver("d1"), NewEvent(EventDispatchCreated, map[string]string{"dispatch_id": "x"}))

	if got := coord.messages(t); len(got) != 0 {
		t.Fatalf("coordinator should not receive driver events, got %d", len(got))
	}
	got := driver.messages(t)
	if len(got) != 1 || got[0].Type != EventDispatchCreated {
		t.Fatalf("driver expected one dispatch.created, got %+v", got)
	}
}

func TestPublishFansOutToAllScopeSessions(t *testing.T) {
	h := newTestHub()
	a, b := &fakeConn{}, &fakeConn{}
	h.subscribe(Family("elder-1"), a)
	h.subscribe(Family("elder-1"), b)

	h.Publish(Family("elder-1"), NewEvent(EventDispatchArrived, nil))

	if len(a.messages(t)) != 1 || len(b.messages(t)) != 1 {
		t.Fatal("both family sessions should receive the event")
	}
}

func TestFailedWriteEvictsSession(t *testing.T) {
	h := newTestHub()
	bad := &fakeConn{fail: true}
	h.subscribe(AmbulanceWatch("amb-1"), bad)

	h.Publish(AmbulanceWatch("amb-1"), NewEvent(EventAmbulanceLocation, nil))

	if !bad.closed {
		t.Fatal("failing session should be closed")
	}
	if n := h.SubscriberCount(AmbulanceWatch("amb-1")); n != 0 {
		t.Fatalf("expected 0 subscribers after eviction, got %d", n)
	}
}

func TestDetachRemovesSession(t *testing.T) {
	h := newTestHub()
	c := &fakeConn{}
	detach := h.subscribe(Coordinators(), c)
	detach()
	if n := h.SubscriberCount(Coordinators()); n != 0 {
		t.Fatalf("expected 0 after detach, got %d", n)
	}
	// publishing to an empty scope is a no-op, not an error
	h.Publish(Coordinators(), NewEvent(EventAlertRaised, nil))
}
