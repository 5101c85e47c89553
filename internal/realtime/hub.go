package realtime

import (
	"sync"

	"github.com/rs/zerolog"
)

// Subscriber is a connection that can receive envelopes.
type Subscriber interface {
	ID() string
	// Deliver enqueues env without blocking and reports whether it was accepted.
	Deliver(env Envelope) bool
}

type roomKey struct {
	ns   Namespace
	room string
}

// Hub tracks room membership for the connections of this process.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[roomKey]map[string]Subscriber
	joined map[string]map[roomKey]struct{} // subscriber id -> rooms
	log    zerolog.Logger
}

// NewHub returns an empty hub.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		rooms:  make(map[roomKey]map[string]Subscriber),
		joined: make(map[string]map[roomKey]struct{}),
		log:    log,
	}
}

// Join adds sub to a room. Joining twice is a no-op.
func (h *Hub) Join(ns Namespace, room string, sub Subscriber) {
	k := roomKey{ns, room}
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[k]
	if !ok {
		members = make(map[string]Subscriber)
		h.rooms[k] = members
	}
	members[sub.ID()] = sub
	rs, ok := h.joined[sub.ID()]
	if !ok {
		rs = make(map[roomKey]struct{})
		h.joined[sub.ID()] = rs
	}
	rs[k] = struct{}{}
}

// Leave removes a subscriber from one room.
func (h *Hub) Leave(ns Namespace, room, subID string) {
	k := roomKey{ns, room}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(k, subID)
	if rs, ok := h.joined[subID]; ok {
		delete(rs, k)
		if len(rs) == 0 {
			delete(h.joined, subID)
		}
	}
}

// LeaveAll removes a subscriber from every room it joined.
func (h *Hub) LeaveAll(subID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for k := range h.joined[subID] {
		h.removeLocked(k, subID)
	}
	delete(h.joined, subID)
}

func (h *Hub) removeLocked(k roomKey, subID string) {
	members, ok := h.rooms[k]
	if !ok {
		return
	}
	delete(members, subID)
	if len(members) == 0 {
		delete(h.rooms, k)
	}
}

// InRoom reports whether subID is a member of the room.
func (h *Hub) InRoom(ns Namespace, room, subID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[roomKey{ns, room}][subID]
	return ok
}

// Members returns how many local subscribers are in the room.
func (h *Hub) Members(ns Namespace, room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomKey{ns, room}])
}

// Deliver hands env to every local member of its room except ExceptConn and
// returns how many accepted it. A member with a full buffer drops the event.
func (h *Hub) Deliver(env Envelope) int {
	h.mu.RLock()
	members := h.rooms[roomKey{env.Namespace, env.Room}]
	targets := make([]Subscriber, 0, len(members))
	for id, s := range members {
		if id == env.ExceptConn {
			continue
		}
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	n := 0
	for _, s := range targets {
		if s.Deliver(env) {
			n++
			continue
		}
		h.log.Warn().
			Str("conn_id", s.ID()).
			Str("room", env.Room).
			Str("event", env.Event).
			Msg("subscriber buffer full; dropping event")
	}
	return n
}
