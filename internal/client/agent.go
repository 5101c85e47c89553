package client

import (
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-sitechat/internal/callstate"
	"github.com/tbourn/go-sitechat/internal/clock"
	"github.com/tbourn/go-sitechat/internal/gateway"
	"github.com/tbourn/go-sitechat/internal/services"
)

// DefaultRetryDelays is the backoff schedule; attempt n waits
// delays[min(n, len-1)].
var DefaultRetryDelays = []time.Duration{
	3 * time.Second,
	6 * time.Second,
	12 * time.Second,
	24 * time.Second,
	48 * time.Second,
}

// DefaultMaxAttempts bounds how many times one message is emitted.
const DefaultMaxAttempts = 5

// DefaultSyncPageSize is the limit sent with sync:request. It matches the
// server's cap; a page this full means more may follow.
const DefaultSyncPageSize = 200

var (
	ErrOffline    = errors.New("client: not connected")
	ErrEmptyText  = errors.New("client: empty message")
	ErrNotFailed  = errors.New("client: message is not in failed state")
	ErrCallActive = errors.New("client: a call is already in progress")
	ErrNoCall     = errors.New("client: no matching call")
)

// Transport sends one protocol event.
type Transport interface {
	Emit(event string, payload any) error
}

// Entry is one line of the local timeline.
type Entry struct {
	ClientMessageID string    `json:"clientMessageId,omitempty"`
	ServerMessageID string    `json:"serverMessageId,omitempty"`
	ConversationID  string    `json:"conversationId"`
	Text            string    `json:"text"`
	SenderType      string    `json:"senderType"`
	SenderID        *string   `json:"senderId,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	Status          Status    `json:"status"`
	RetryCount      int       `json:"retryCount"`
}

func (e *Entry) id() string {
	if e.ServerMessageID != "" {
		return e.ServerMessageID
	}
	return e.ClientMessageID
}

// Option configures an Agent.
type Option func(*Agent)

func WithClock(c clock.Clock) Option { return func(a *Agent) { a.clock = c } }
func WithLedger(l Ledger) Option { return func(a *Agent) { a.ledger = l } }
func WithLogger(l zerolog.Logger) Option { return func(a *Agent) { a.log = l } }
func WithIDGenerator(f func() string) Option { return func(a *Agent) { a.newID = f } }

// WithRetryDelays replaces the backoff schedule.
func WithRetryDelays(d ...time.Duration) Option {
	return func(a *Agent) {
		if len(d) > 0 {
			a.delays = d
		}
	}
}

// WithMaxAttempts caps emissions per message.
func WithMaxAttempts(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.maxAttempts = n
		}
	}
}

// WithSyncPageSize sets the resync page limit.
func WithSyncPageSize(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.syncLimit = n
		}
	}
}

// WithRole sets the local sender type ("visitor" or "operator").
func WithRole(role string) Option { return func(a *Agent) { a.role = role } }

// WithCallSignalHandler receives every call signal for this conversation
// after the local machine has been updated. Media setup hooks in here.
func WithCallSignalHandler(h func(event string, sig gateway.CallSignal)) Option {
	return func(a *Agent) { a.onSignal = h }
}

type retryTimer struct {
	t   clock.Timer
	gen uint64
}

// Agent delivers one conversation's outgoing messages at least once and
// keeps a deduplicated, ordered local timeline. It also owns the call state
// machine of its session.
type Agent struct {
	conversationID string
	role           string
	transport      Transport
	ledger         Ledger
	clock          clock.Clock
	log            zerolog.Logger
	delays         []time.Duration
	maxAttempts    int
	syncLimit      int
	newID          func() string
	onSignal       func(string, gateway.CallSignal)

	mu         sync.Mutex
	online     bool
	entries    []*Entry
	byClient   map[string]*Entry
	byServer   map[string]*Entry
	timers     map[string]retryTimer
	gen        uint64
	checkpoint time.Time

	calls *callstate.Machine
}

// NewAgent returns an offline agent. Entries left in the ledger by an
// earlier run are restored to the timeline and replayed on the first
// OnReconnect.
func NewAgent(conversationID string, t Transport, opts ...Option) (*Agent, error) {
	a := &Agent{
		conversationID: conversationID,
		role:           "visitor",
		transport:      t,
		ledger:         NewMemoryLedger(),
		clock:          clock.Real{},
		log:            zerolog.Nop(),
		delays:         DefaultRetryDelays,
		maxAttempts:    DefaultMaxAttempts,
		syncLimit:      DefaultSyncPageSize,
		newID:          uuid.NewString,
		byClient:       make(map[string]*Entry),
		byServer:       make(map[string]*Entry),
		timers:         make(map[string]retryTimer),
	}
	for _, o := range opts {
		o(a)
	}
	a.log = a.log.With().Str("conversation_id", conversationID).Logger()
	a.calls = callstate.New(
		callstate.WithClock(a.clock),
		callstate.WithLogger(a.log),
		callstate.WithWatchdog(a.abandonCall),
	)

	pending, err := a.ledger.List()
	if err != nil {
		return nil, err
	}
	for _, p := range pending {
		if p.ConversationID != conversationID {
			continue
		}
		a.insertLocked(&Entry{
			ClientMessageID: p.ClientMessageID,
			ConversationID:  p.ConversationID,
			Text:            p.Text,
			SenderType:      a.role,
			CreatedAt:       p.CreatedAt,
			Status:          p.Status,
			RetryCount:      p.RetryCount,
		})
	}
	return a, nil
}

// ConversationID returns the conversation this agent delivers to.
func (a *Agent) ConversationID() string { return a.conversationID }

// Calls returns the session's call state machine.
func (a *Agent) Calls() *callstate.Machine { return a.calls }

// Send appends an optimistic entry, records it in the ledger and emits it.
// While offline the entry waits for OnReconnect.
func (a *Agent) Send(text string) (Entry, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Entry{}, ErrEmptyText
	}

	a.mu.Lock()
	p := PendingMessage{
		ClientMessageID: a.newID(),
		ConversationID:  a.conversationID,
		Text:            text,
		CreatedAt:       a.clock.Now().UTC(),
		Status:          StatusPending,
	}
	if err := a.ledger.Put(p); err != nil {
		a.mu.Unlock()
		return Entry{}, err
	}
	e := &Entry{
		ClientMessageID: p.ClientMessageID,
		ConversationID:  p.ConversationID,
		Text:            p.Text,
		SenderType:      a.role,
		CreatedAt:       p.CreatedAt,
		Status:          StatusPending,
	}
	a.insertLocked(e)
	online := a.online
	if online {
		a.scheduleLocked(p.ClientMessageID, 0)
	}
	out := *e
	a.mu.Unlock()

	if online {
		a.emitSend(p)
	}
	return out, nil
}

// Retry re-queues a failed message with a fresh attempt budget.
func (a *Agent) Retry(clientMessageID string) error {
	a.mu.Lock()
	p, ok, err := a.ledger.Get(clientMessageID)
	if err != nil || !ok || p.Status != StatusFailed {
		a.mu.Unlock()
		if err != nil {
			return err
		}
		return ErrNotFailed
	}
	p.Status, p.RetryCount = StatusPending, 0
	if err := a.ledger.Put(p); err != nil {
		a.mu.Unlock()
		return err
	}
	if e := a.byClient[clientMessageID]; e != nil {
		e.Status, e.RetryCount = StatusPending, 0
	}
	online := a.online
	if online {
		a.scheduleLocked(clientMessageID, 0)
	}
	a.mu.Unlock()

	if online {
		a.emitSend(p)
	}
	return nil
}

// OnReconnect replays every pending entry with a reset retry count, then
// asks for whatever was missed since the checkpoint.
func (a *Agent) OnReconnect() {
	a.mu.Lock()
	a.online = true
	pending, err := a.ledger.List()
	if err != nil {
		a.log.Error().Err(err).Msg("load pending ledger")
	}
	replay := make([]PendingMessage, 0, len(pending))
	for _, p := range pending {
		if p.Status != StatusPending || p.ConversationID != a.conversationID {
			continue
		}
		p.RetryCount = 0
		if err := a.ledger.Put(p); err != nil {
			a.log.Error().Err(err).Str("client_message_id", p.ClientMessageID).Msg("reset retry count")
		}
		if e := a.byClient[p.ClientMessageID]; e != nil {
			e.RetryCount = 0
		}
		a.scheduleLocked(p.ClientMessageID, 0)
		replay = append(replay, p)
	}
	req := a.syncRequestLocked()
	a.mu.Unlock()

	for _, p := range replay {
		a.emitSend(p)
	}
	a.emitSync(req)
}

func (a *Agent) syncRequestLocked() gateway.SyncRequest {
	req := gateway.SyncRequest{ConversationID: a.conversationID, Limit: a.syncLimit}
	if !a.checkpoint.IsZero() {
		req.SinceCreatedAt = a.checkpoint.Format(time.RFC3339Nano)
	}
	return req
}

func (a *Agent) emitSync(req gateway.SyncRequest) {
	if err := a.transport.Emit(gateway.EventSyncRequest, req); err != nil {
		a.log.Warn().Err(err).Msg("emit sync:request")
	}
}

// OnDisconnect pauses retries. Pending entries stay in the ledger.
func (a *Agent) OnDisconnect() {
	a.mu.Lock()
	a.online = false
	for id := range a.timers {
		a.stopTimerLocked(id)
	}
	a.mu.Unlock()
}

// Close stops all timers and resets the call machine.
func (a *Agent) Close() {
	a.OnDisconnect()
	a.calls.Reset()
}

// Handle applies one inbound frame.
func (a *Agent) Handle(f gateway.Frame) {
	switch f.Event {
	case gateway.EventMessageAck:
		var ack services.Ack
		if a.decode(f, &ack) {
			a.HandleAck(ack)
		}
	case gateway.EventMessageNew:
		var m gateway.MessageNew
		if a.decode(f, &m) {
			a.HandleMessage(m)
		}
	case gateway.EventSyncResponse:
		var r gateway.SyncResponse
		if a.decode(f, &r) {
			a.HandleSync(r)
		}
	case gateway.EventCallRing, gateway.EventCallOffer, gateway.EventCallAnswer, gateway.EventCallICE,
		gateway.EventCallHangup, gateway.EventCallBusy, gateway.EventCallFailed:
		var sig gateway.CallSignal
		if a.decode(f, &sig) {
			a.handleCall(f.Event, sig)
		}
	case gateway.EventError:
		var e gateway.ErrorPayload
		_ = json.Unmarshal(f.Data, &e)
		a.log.Warn().Str("message", e.Message).Str("code", e.Code).Msg("server error event")
	}
}

func (a *Agent) decode(f gateway.Frame, v any) bool {
	if err := json.Unmarshal(f.Data, v); err != nil {
		a.log.Warn().Err(err).Str("event", f.Event).Msg("undecodable frame")
		return false
	}
	return true
}

// HandleAck settles the pending entry and advances the checkpoint.
func (a *Agent) HandleAck(ack services.Ack) {
	if ack.ConversationID != a.conversationID {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.settleLocked(ack.ClientMessageID, ack.ServerMessageID, ack.CreatedAt)
	a.advanceLocked(ack.CreatedAt)
	a.sortLocked()
}

// HandleMessage merges a message:new notification. The same message may
// arrive through more than one room; later copies are ignored.
func (a *Agent) HandleMessage(m gateway.MessageNew) {
	if m.ConversationID != a.conversationID {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.mergeLocked(m)
	a.sortLocked()
}

// HandleSync merges a resync page and advances the checkpoint. A full page
// asks for the next one from the new checkpoint.
func (a *Agent) HandleSync(r gateway.SyncResponse) {
	if r.ConversationID != a.conversationID {
		return
	}
	a.mu.Lock()
	for _, m := range r.Messages {
		a.mergeLocked(m)
		a.advanceLocked(m.CreatedAt)
	}
	a.sortLocked()
	more := a.online && len(r.Messages) >= a.syncLimit
	var next gateway.SyncRequest
	if more {
		next = a.syncRequestLocked()
	}
	a.mu.Unlock()

	if more {
		a.emitSync(next)
	}
}

// Timeline returns a copy ordered by (createdAt, id).
func (a *Agent) Timeline() []Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Entry, len(a.entries))
	for i, e := range a.entries {
		out[i] = *e
	}
	return out
}

// Checkpoint returns the newest server createdAt seen through acks and
// resyncs. Live notifications do not move it since one can arrive ahead of
// a gap.
func (a *Agent) Checkpoint() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.checkpoint
}

func (a *Agent) mergeLocked(m gateway.MessageNew) {
	if _, ok := a.byServer[m.ServerMessageID]; ok {
		return
	}
	if m.ClientMessageID != "" {
		if _, ok := a.byClient[m.ClientMessageID]; ok {
			// Our own send, confirmed by a path other than the ack.
			a.settleLocked(m.ClientMessageID, m.ServerMessageID, m.CreatedAt)
			return
		}
	}
	a.insertLocked(&Entry{
		ClientMessageID: m.ClientMessageID,
		ServerMessageID: m.ServerMessageID,
		ConversationID:  m.ConversationID,
		Text:            m.Text,
		SenderType:      m.SenderType,
		SenderID:        m.SenderID,
		CreatedAt:       m.CreatedAt.UTC(),
		Status:          StatusSent,
	})
}

func (a *Agent) settleLocked(cmid, smid string, createdAt time.Time) {
	a.stopTimerLocked(cmid)
	if err := a.ledger.Delete(cmid); err != nil {
		a.log.Error().Err(err).Str("client_message_id", cmid).Msg("remove from ledger")
	}

	e := a.byClient[cmid]
	if known := a.byServer[smid]; known != nil {
		if e != nil && e != known {
			a.removeLocked(e)
		}
		known.ClientMessageID = cmid
		known.Status = StatusSent
		a.byClient[cmid] = known
		return
	}
	if e == nil {
		return
	}
	e.ServerMessageID = smid
	e.CreatedAt = createdAt.UTC()
	e.Status = StatusSent
	a.byServer[smid] = e
}

func (a *Agent) insertLocked(e *Entry) {
	a.entries = append(a.entries, e)
	if e.ClientMessageID != "" {
		a.byClient[e.ClientMessageID] = e
	}
	if e.ServerMessageID != "" {
		a.byServer[e.ServerMessageID] = e
	}
	a.sortLocked()
}

func (a *Agent) removeLocked(e *Entry) {
	for i, cur := range a.entries {
		if cur == e {
			a.entries = append(a.entries[:i], a.entries[i+1:]...)
			break
		}
	}
}

func (a *Agent) sortLocked() {
	sort.SliceStable(a.entries, func(i, j int) bool {
		x, y := a.entries[i], a.entries[j]
		if x.CreatedAt.Equal(y.CreatedAt) {
			return x.id() < y.id()
		}
		return x.CreatedAt.Before(y.CreatedAt)
	})
}

func (a *Agent) advanceLocked(t time.Time) {
	if t.After(a.checkpoint) {
		a.checkpoint = t.UTC()
	}
}

func (a *Agent) scheduleLocked(cmid string, retryCount int) {
	a.stopTimerLocked(cmid)
	d := a.delays[min(retryCount, len(a.delays)-1)]
	a.gen++
	gen := a.gen
	a.timers[cmid] = retryTimer{
		t:   a.clock.AfterFunc(d, func() { a.fire(cmid, gen) }),
		gen: gen,
	}
}

func (a *Agent) stopTimerLocked(cmid string) {
	if rt, ok := a.timers[cmid]; ok {
		rt.t.Stop()
		delete(a.timers, cmid)
	}
}

// fire re-emits a message whose ack did not arrive in time. A timer that
// was superseded, or whose message left the ledger, does nothing.
func (a *Agent) fire(cmid string, gen uint64) {
	a.mu.Lock()
	rt, ok := a.timers[cmid]
	if !ok || rt.gen != gen || !a.online {
		a.mu.Unlock()
		return
	}
	delete(a.timers, cmid)

	p, found, err := a.ledger.Get(cmid)
	if err != nil || !found || p.Status != StatusPending {
		a.mu.Unlock()
		return
	}
	p.RetryCount++
	e := a.byClient[cmid]
	if p.RetryCount >= a.maxAttempts {
		p.Status = StatusFailed
		if err := a.ledger.Put(p); err != nil {
			a.log.Error().Err(err).Str("client_message_id", cmid).Msg("mark failed")
		}
		if e != nil {
			e.Status, e.RetryCount = StatusFailed, p.RetryCount
		}
		a.mu.Unlock()
		a.log.Warn().Str("client_message_id", cmid).Int("attempts", p.RetryCount).Msg("message delivery failed")
		return
	}
	if err := a.ledger.Put(p); err != nil {
		a.log.Error().Err(err).Str("client_message_id", cmid).Msg("bump retry count")
	}
	if e != nil {
		e.RetryCount = p.RetryCount
	}
	a.scheduleLocked(cmid, p.RetryCount)
	a.mu.Unlock()

	a.emitSend(p)
}

func (a *Agent) emitSend(p PendingMessage) {
	err := a.transport.Emit(gateway.EventMessageSend, gateway.SendMessage{
		ConversationID:  p.ConversationID,
		Text:            p.Text,
		ClientMessageID: p.ClientMessageID,
	})
	if err != nil {
		a.log.Debug().Err(err).Str("client_message_id", p.ClientMessageID).Msg("emit message:send")
	}
}
