package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/tbourn/go-sitechat/internal/domain"
	"github.com/tbourn/go-sitechat/internal/observability"
	"github.com/tbourn/go-sitechat/internal/realtime"
	"github.com/tbourn/go-sitechat/internal/services"
)

var (
	errWidgetOnly   = errors.New("event is only accepted on the widget namespace")
	errOperatorOnly = errors.New("event is only accepted on the operator namespace")
)

// dispatch decodes one frame and routes it. Every inbound event is counted
// with the outcome kind it produced.
func (s *Server) dispatch(ctx context.Context, c *Conn, f Frame) {
	in, err := Decode(f)
	if err != nil {
		c.Emit(EventError, ErrorPayload{Message: err.Error()})
		s.count(c, f.Event, services.OutcomeValidationFailure)
		return
	}

	var out services.Outcome
	switch v := in.(type) {
	case SendMessage:
		out = s.handleSend(ctx, c, v)
	case SyncRequest:
		out = s.handleSync(ctx, c, v)
	case PresenceHeartbeat:
		out = s.handleHeartbeat(ctx, c)
	case JoinConversation:
		out = s.handleJoin(ctx, c, v)
	case CallOffer:
		out = s.handleCall(ctx, c, EventCallOffer, v.CallSignal)
	case CallAnswer:
		out = s.handleCall(ctx, c, EventCallAnswer, v.CallSignal)
	case CallICE:
		out = s.handleCall(ctx, c, EventCallICE, v.CallSignal)
	case CallHangup:
		out = s.handleCall(ctx, c, EventCallHangup, v.CallSignal)
	case CallBusy:
		out = s.handleCall(ctx, c, EventCallBusy, v.CallSignal)
	}
	s.count(c, f.Event, out)
}

// inboundEvents bounds the event label so arbitrary client strings never
// become metric series.
var inboundEvents = map[string]bool{
	EventMessageSend:       true,
	EventSyncRequest:       true,
	EventPresenceHeartbeat: true,
	EventConversationJoin:  true,
	EventCallOffer:         true,
	EventCallAnswer:        true,
	EventCallICE:           true,
	EventCallHangup:        true,
	EventCallBusy:          true,
}

func (s *Server) count(c *Conn, event string, out services.Outcome) {
	if !inboundEvents[event] {
		event = "unknown"
	}
	observability.WSEvents.WithLabelValues(string(c.ns), event, out.String()).Inc()
}

// handleSend acknowledges to the sender only after persistence, then fans
// the message out to the conversation room on both namespaces and to the
// channel's operator room. A replayed duplicate is acknowledged again but not
// re-broadcast.
func (s *Server) handleSend(ctx context.Context, c *Conn, v SendMessage) services.Outcome {
	res, err := s.Messages.Send(ctx, c.actor, services.SendInput{
		ConversationID:  v.ConversationID,
		Text:            v.Text,
		ClientMessageID: v.ClientMessageID,
	})
	out := services.Classify(err)
	if out != services.OutcomeOK {
		s.emitFailure(c, out, err, "send")
		return out
	}

	c.Emit(EventMessageAck, res.Ack)
	if res.Duplicate {
		return out
	}

	if err := s.AnnounceMessage(ctx, c.actor.ChannelID, res.Message, c.ID()); err != nil {
		c.log.Error().Err(err).Msg("broadcast message:new")
	}
	return out
}

// AnnounceMessage fans a stored message out as message:new to its
// conversation room and to the channel's operators, skipping the connection
// except (empty for sends that did not arrive over a socket).
func (s *Server) AnnounceMessage(ctx context.Context, channelID string, m domain.Message, except string) error {
	note := toWire(m)
	return errors.Join(
		s.Broadcast.ToConversation(ctx, note.ConversationID, EventMessageNew, note, except),
		s.Broadcast.ToChannelOperators(ctx, channelID, EventMessageNew, note, except),
	)
}

func (s *Server) handleSync(ctx context.Context, c *Conn, v SyncRequest) services.Outcome {
	msgs, err := s.Messages.Resync(ctx, c.actor, v.ConversationID, v.SinceCreatedAt, v.Limit)
	out := services.Classify(err)
	if out != services.OutcomeOK {
		s.emitFailure(c, out, err, "sync")
		return out
	}
	resp := SyncResponse{ConversationID: v.ConversationID, Messages: make([]MessageNew, 0, len(msgs))}
	for _, m := range msgs {
		resp.Messages = append(resp.Messages, toWire(m))
	}
	c.Emit(EventSyncResponse, resp)
	return out
}

func (s *Server) handleHeartbeat(ctx context.Context, c *Conn) services.Outcome {
	if c.ns != realtime.NamespaceWidget {
		c.Emit(EventError, ErrorPayload{Message: errWidgetOnly.Error()})
		return services.OutcomeValidationFailure
	}
	up, err := s.Presence.Heartbeat(ctx, c.actor.ChannelID, c.actor.VisitorID)
	if err != nil {
		// Presence is best effort; the next heartbeat retries.
		c.log.Warn().Err(err).Msg("presence heartbeat")
		return services.OutcomePersistenceFailure
	}
	if up != nil {
		if err := s.Broadcast.ToChannelOperators(ctx, up.ChannelID, EventPresenceUpdate, up, ""); err != nil {
			c.log.Error().Err(err).Msg("broadcast presence:update")
		} else {
			observability.PresenceBroadcasts.Inc()
		}
	}
	return services.OutcomeOK
}

func (s *Server) handleJoin(ctx context.Context, c *Conn, v JoinConversation) services.Outcome {
	if c.ns != realtime.NamespaceOperator {
		c.Emit(EventError, ErrorPayload{Message: errOperatorOnly.Error()})
		return services.OutcomeValidationFailure
	}
	_, err := s.Access.ConversationInChannel(ctx, v.ConversationID, c.actor.ChannelID)
	out := services.Classify(err)
	if out != services.OutcomeOK {
		s.emitFailure(c, out, err, "join")
		return out
	}
	s.Hub.Join(realtime.NamespaceOperator, realtime.ConversationRoom(v.ConversationID), c)
	c.Emit(EventConversationJoined, JoinConversation{ConversationID: v.ConversationID})
	return out
}

// handleCall runs the record side of a signaling event and relays it.
// Failures go back to the initiator as call:failed and are never forwarded.
func (s *Server) handleCall(ctx context.Context, c *Conn, event string, sig CallSignal) services.Outcome {
	in := services.CallInput{
		CallID:         sig.CallID,
		ConversationID: sig.ConversationID,
		ChannelID:      sig.ChannelID,
		Kind:           sig.Kind,
		Reason:         sig.Reason,
	}

	var (
		tgt *services.CallTarget
		err error
	)
	switch event {
	case EventCallOffer:
		tgt, err = s.Calls.Offer(ctx, c.actor, in)
	case EventCallAnswer:
		tgt, err = s.Calls.Answer(ctx, c.actor, in)
	case EventCallICE:
		tgt, err = s.Calls.ICE(ctx, c.actor, in)
	case EventCallHangup:
		tgt, err = s.Calls.Hangup(ctx, c.actor, in)
	case EventCallBusy:
		tgt, err = s.Calls.Busy(ctx, c.actor, in)
	}
	out := services.Classify(err)
	observability.CallSignals.WithLabelValues(event, out.String()).Inc()
	if err != nil {
		c.log.Warn().Err(err).Str("event", event).Str("call_id", sig.CallID).Msg("call signaling rejected")
		c.Emit(EventCallFailed, CallSignal{
			CallID:         sig.CallID,
			ConversationID: sig.ConversationID,
			ChannelID:      sig.ChannelID,
			FromRole:       c.actor.FromRole(),
			Reason:         services.FailureReason(err),
			Timestamp:      s.now().UnixMilli(),
		})
		return out
	}

	relay := sig
	relay.CallID = tgt.CallID
	relay.ConversationID = tgt.ConversationID
	relay.ChannelID = tgt.ChannelID
	relay.FromRole = c.actor.FromRole()
	relay.Timestamp = s.now().UnixMilli()
	if tgt.Kind != "" {
		relay.Kind = tgt.Kind
	}
	if event == EventCallHangup && tgt.Record != nil {
		relay.Reason = tgt.Record.EndedReason
	}

	var berr error
	switch event {
	case EventCallOffer:
		ring := relay
		ring.SDP = nil
		// The whole room rings, the initiator included; only the SDP offer
		// skips it.
		berr = errors.Join(
			s.Broadcast.ToConversation(ctx, relay.ConversationID, EventCallRing, ring, ""),
			// Operators not yet in the conversation room learn of the call here.
			s.Broadcast.ToChannelOperators(ctx, relay.ChannelID, EventCallRing, ring, c.ID()),
			s.Broadcast.ToConversation(ctx, relay.ConversationID, EventCallOffer, relay, c.ID()),
		)
	case EventCallHangup:
		berr = s.Broadcast.ToConversation(ctx, relay.ConversationID, event, relay, "")
	default:
		berr = s.Broadcast.ToConversation(ctx, relay.ConversationID, event, relay, c.ID())
	}
	if berr != nil {
		c.log.Error().Err(berr).Str("event", event).Msg("call relay")
	}
	return out
}

// ExpireCalls ends ringing calls older than olderThan and tells both ends.
func (s *Server) ExpireCalls(ctx context.Context, olderThan time.Duration) (int, error) {
	recs, err := s.Calls.ExpireRinging(ctx, olderThan)
	for _, r := range recs {
		sig := CallSignal{
			CallID:         r.ID,
			ConversationID: r.ConversationID,
			ChannelID:      r.ChannelID,
			FromRole:       "system",
			Kind:           r.Kind,
			Reason:         r.EndedReason,
			Timestamp:      s.now().UnixMilli(),
		}
		if berr := s.Broadcast.ToConversation(ctx, r.ConversationID, EventCallHangup, sig, ""); berr != nil {
			s.log.Error().Err(berr).Str("call_id", r.ID).Msg("broadcast call timeout")
		}
		observability.CallSignals.WithLabelValues("call:timeout", services.OutcomeOK.String()).Inc()
	}
	return len(recs), err
}

// emitFailure maps an outcome onto what the sender sees. Persistence
// failures are silent: the client's retry timer is the recovery path.
func (s *Server) emitFailure(c *Conn, out services.Outcome, err error, op string) {
	if out == services.OutcomePersistenceFailure {
		c.log.Error().Err(err).Str("op", op).Msg("store failure; nothing acknowledged")
		return
	}
	c.log.Debug().Err(err).Str("op", op).Str("outcome", out.String()).Msg("event rejected")
	c.Emit(EventError, ErrorPayload{Message: err.Error()})
}

func toWire(m domain.Message) MessageNew {
	return MessageNew{
		ServerMessageID: m.ID,
		ClientMessageID: m.ClientID(),
		ConversationID:  m.ConversationID,
		Text:            m.Text,
		SenderType:      m.SenderType,
		SenderID:        m.SenderID,
		CreatedAt:       m.CreatedAt.UTC(),
	}
}
