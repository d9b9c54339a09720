// Package fabric is the real-time notification layer: a scope-addressed
// publish/subscribe hub with at-most-once, fire-and-forget delivery. A
// subscriber that is offline when an event fires simply misses it; durable
// history lives in the store, not here.
package fabric

import (
	"encoding/json"
	"time"
)

// Scope addresses one audience: all coordinators, one driver, one family, or
// the watchers of one ambulance.
type Scope string

const coordinatorsScope Scope = "coordinators"

func Coordinators() Scope          { return coordinatorsScope }
func Driver(id string) Scope       { return Scope("driver:" + id) }
func Family(elderID string) Scope  { return Scope("family:" + elderID) }
func AmbulanceWatch(id string) Scope { return Scope("ambulance:" + id) }

// Event types published by the engine. Consumers must tolerate types they do
// not recognize.
const (
	EventAlertRaised       = "alert.raised"
	EventAlertAcknowledged = "alert.acknowledged"
	EventDispatchCreated   = "dispatch.created"
	EventDispatchAccepted  = "dispatch.accepted"
	EventDispatchStatus    = "dispatch.status"
	EventDispatchArrived   = "dispatch.arrived"
	EventDispatchCompleted = "dispatch.completed"
	EventDispatchCancelled = "dispatch.cancelled"
	EventAmbulanceLocation = "ambulance.location"
)

type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
	SentAt  time.Time   `json:"sent_at"`
}

func NewEvent(eventType string, payload interface{}) Event {
	return Event{Type: eventType, Payload: payload, SentAt: time.Now().UTC()}
}

func (e Event) marshal() ([]byte, error) { return json.Marshal(e) }

// Publisher is the capability every service takes; Publish never returns an
// error because delivery failures are absorbed by contract.
type Publisher interface {
	Publish(scope Scope, event Event)
}

// Nop discards every event, for tests and for running without the hub.
type Nop struct{}

func (Nop) Publish(Scope, Event) {}

// Recorder captures published events in order, for service tests.
type Recorder struct {
	Events []RecordedEvent
}

type RecordedEvent struct {
	Scope Scope
	Event Event
}

func (r *Recorder) Publish(scope Scope, event Event) {
	r.Events = append(r.Events, RecordedEvent{Scope: scope, Event: event})
}

// ByScope returns the events published to one scope, in publish order.
func (r *Recorder) ByScope(scope Scope) []Event {
	var out []Event
	for _, e := range r.Events {
		if e.Scope == scope {
			out = append(out, e.Event)
		}
	}
	return out
}
