package fabric

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/example/eldercare-dispatch/internal/observability"
)

// conn is the subset of *websocket.Conn the hub writes through.
type conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type session struct {
	conn conn
	mu   sync.Mutex
}

func (s *session) send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub fans events out to websocket sessions grouped by scope. One session may
// subscribe to several scopes (a coordinator tracking a specific ambulance,
// say). Sends happen on the publisher's goroutine; a failed write evicts the
// session.
type Hub struct {
	mu     sync.RWMutex
	scopes map[Scope]map[*session]struct{}
	log    *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{scopes: make(map[Scope]map[*session]struct{}), log: log}
}

// Subscribe attaches a websocket connection to a scope and returns a detach
// function the read-loop calls on disconnect.
func (h *Hub) Subscribe(scope Scope, c *websocket.Conn) func() {
	return h.subscribe(scope, c)
}

func (h *Hub) subscribe(scope Scope, c conn) func() {
	s := &session{conn: c}
	h.mu.Lock()
	set, ok := h.scopes[scope]
	if !ok {
		set = make(map[*session]struct{})
		h.scopes[scope] = set
	}
	set[s] = struct{}{}
	h.mu.Unlock()
	observability.WSSessions.Inc()
	return func() { h.drop(scope, s) }
}

func (h *Hub) drop(scope Scope, s *session) {
	h.mu.Lock()
	set, ok := h.scopes[scope]
	if ok {
		if _, present := set[s]; present {
			delete(set, s)
			observability.WSSessions.Dec()
		}
		if len(set) == 0 {
			delete(h.scopes, scope)
		}
	}
	h.mu.Unlock()
	_ = s.conn.Close()
}

// Publish delivers to every current subscriber of the scope. At-most-once: a
// write failure drops that session and is only logged.
func (h *Hub) Publish(scope Scope, event Event) {
	data, err := event.marshal()
	if err != nil {
		h.log.Error("fabric marshal failed", "scope", scope, "type", event.Type, "error", err)
		return
	}
	h.mu.RLock()
	set := h.scopes[scope]
	targets := make([]*session, 0, len(set))
	for s := range set {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	for _, s := range targets {
		if err := s.send(data); err != nil {
			observability.NotificationsDropped.Inc()
			h.log.Warn("fabric send failed, dropping session", "scope", scope, "type", event.Type, "error", err)
			h.drop(scope, s)
		}
	}
}

// SubscriberCount reports current sessions on a scope, used by tests and the
// health surface.
func (h *Hub) SubscriberCount(scope Scope) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.scopes[scope])
}

// Close evicts every session, for shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	scopes := h.scopes
	h.scopes = make(map[Scope]map[*session]struct{})
	h.mu.Unlock()
	for _, set := range scopes {
		for s := range set {
			observability.WSSessions.Dec()
			_ = s.conn.Close()
		}
	}
}
