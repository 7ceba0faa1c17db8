package coapserver

import (
	"sync"

	"github.com/nerrad567/homegate-core/internal/devicestate"
)

// Subscriber is one RFC 7641 observation registered against a path.
// transport.go constructs these from an incoming GET carrying the
// Observe option; Push writes a fresh notification back down that same
// connection with the matching token and an incremented sequence
// number.
type Subscriber struct {
	ID   string // token+connection identity, opaque to this package
	Addr string // the observing peer's address
	Push func(payload []byte)
}

// ObserverTable tracks, per resource path, who is observing it, and
// implements the asymmetric notification policy of spec §4.3: a
// device-originated state change is delivered to everyone except the
// device; a client-originated one is delivered only to the device.
type ObserverTable struct {
	mu   sync.Mutex
	subs map[string]map[string]*Subscriber // path -> id -> subscriber
}

// NewObserverTable returns an empty table.
func NewObserverTable() *ObserverTable {
	return &ObserverTable{subs: make(map[string]map[string]*Subscriber)}
}

// Subscribe registers sub against path.
func (t *ObserverTable) Subscribe(path string, sub *Subscriber) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.subs[path] == nil {
		t.subs[path] = make(map[string]*Subscriber)
	}
	t.subs[path][sub.ID] = sub
}

// Unsubscribe removes the observation id had on path.
func (t *ObserverTable) Unsubscribe(path, id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.subs[path], id)
}

// UnsubscribeAll drops every observation belonging to id, across all
// paths (used when a connection closes).
func (t *ObserverTable) UnsubscribeAll(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for path, set := range t.subs {
		delete(set, id)
		if len(set) == 0 {
			delete(t.subs, path)
		}
	}
}

func (t *ObserverTable) snapshot(path string) []*Subscriber {
	t.mu.Lock()
	defer t.mu.Unlock()
	set := t.subs[path]
	out := make([]*Subscriber, 0, len(set))
	for _, s := range set {
		out = append(out, s)
	}
	return out
}

// NotifyAll pushes payload to every observer of path, regardless of
// origin (spec §4.3: "all other resource changes → notify all
// observers").
func (t *ObserverTable) NotifyAll(path string, payload []byte) {
	for _, sub := range t.snapshot(path) {
		sub.Push(payload)
	}
}

// NotifyStateChange applies the asymmetric policy for a device state
// write: deviceAddr identifies the device that owns path; origin says
// which side of the write changed.
func (t *ObserverTable) NotifyStateChange(path, deviceAddr string, origin devicestate.Origin, payload []byte) {
	for _, sub := range t.snapshot(path) {
		isDeviceItself := sub.Addr == deviceAddr
		switch origin {
		case devicestate.DeviceOriginated:
			if !isDeviceItself {
				sub.Push(payload)
			}
		case devicestate.ClientOriginated:
			if isDeviceItself {
				sub.Push(payload)
			}
		}
	}
}
