// Package client is the delivery side that runs inside widget and operator
// clients: optimistic local echo, a pending ledger that survives restarts,
// bounded retries and resync after a reconnect.
package client

import (
	"sort"
	"sync"
	"time"
)

// Status of a local timeline entry.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// PendingMessage is a send that has not been acknowledged yet.
type PendingMessage struct {
	ClientMessageID string    `json:"clientMessageId"`
	ConversationID  string    `json:"conversationId"`
	Text            string    `json:"text"`
	CreatedAt       time.Time `json:"createdAt"`
	Status          Status    `json:"status"`
	RetryCount      int       `json:"retryCount"`
}

// Ledger stores pending messages by clientMessageId.
type Ledger interface {
	Put(p PendingMessage) error
	Get(clientMessageID string) (PendingMessage, bool, error)
	Delete(clientMessageID string) error
	// List returns entries oldest first.
	List() ([]PendingMessage, error)
}

// MemoryLedger is a process-local Ledger.
type MemoryLedger struct {
	mu    sync.Mutex
	items map[string]PendingMessage
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{items: make(map[string]PendingMessage)}
}

func (l *MemoryLedger) Put(p PendingMessage) error {
	l.mu.Lock()
	l.items[p.ClientMessageID] = p
	l.mu.Unlock()
	return nil
}

func (l *MemoryLedger) Get(id string) (PendingMessage, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.items[id]
	return p, ok, nil
}

func (l *MemoryLedger) Delete(id string) error {
	l.mu.Lock()
	delete(l.items, id)
	l.mu.Unlock()
	return nil
}

func (l *MemoryLedger) List() ([]PendingMessage, error) {
	l.mu.Lock()
	out := make([]PendingMessage, 0, len(l.items))
	for _, p := range l.items {
		out = append(out, p)
	}
	l.mu.Unlock()
	sortPending(out)
	return out, nil
}

func sortPending(ps []PendingMessage) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].CreatedAt.Equal(ps[j].CreatedAt) {
			return ps[i].ClientMessageID < ps[j].ClientMessageID
		}
		return ps[i].CreatedAt.Before(ps[j].CreatedAt)
	})
}
