// Package services – CallService
//
// CallService is the record side of the call signaling coordinator. Every
// operation first checks the actor is a party to the call's conversation and
// channel, then advances the CallRecord. Relaying the SDP/ICE payloads is the
// gateway's job; this service only returns the resolved routing target.
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-sitechat/internal/domain"
	"github.com/tbourn/go-sitechat/internal/repo"
)

// Call failure reasons emitted on call:failed.
const (
	ReasonForbidden      = "forbidden"
	ReasonInvalidPayload = "invalid_payload"
	ReasonRecordFailed   = "record_failed"
	ReasonNotFound       = "not_found"
)

// Ended reasons stored on CallRecord.EndedReason.
const (
	EndedHangup  = "hangup"
	EndedBusy    = "busy"
	EndedTimeout = "timeout"
)

const staleRingingBatch = 100

// CallInput is the routing part of a signaling payload.
type CallInput struct {
	CallID         string
	ConversationID string
	ChannelID      string
	Kind           string
	Reason         string
}

// CallTarget is where the gateway relays the event. Record is nil for ICE.
type CallTarget struct {
	CallID         string
	ConversationID string
	ChannelID      string
	Kind           string
	Record         *domain.CallRecord
}

// CallService validates signaling and maintains call records.
type CallService struct {
	DB     *gorm.DB
	Access *AccessService
	Now    func() time.Time
}

// FailureReason maps a CallService error onto the call:failed reason string.
func FailureReason(err error) string {
	switch {
	case errors.Is(err, ErrForbidden):
		return ReasonForbidden
	case errors.Is(err, ErrInvalidPayload):
		return ReasonInvalidPayload
	case errors.Is(err, ErrCallNotFound):
		return ReasonNotFound
	}
	return ReasonRecordFailed
}

// Offer creates a ringing record. A retransmitted offer for the same live
// call in the same conversation is accepted again.
func (s *CallService) Offer(ctx context.Context, a Actor, in CallInput) (*CallTarget, error) {
	ctx, span := s.span(ctx, "Offer", in)
	defer span.End()

	callID, err := validCallID(in.CallID)
	if err != nil {
		return nil, err
	}
	kind := strings.TrimSpace(in.Kind)
	if kind == "" {
		kind = domain.CallAudio
	}
	if kind != domain.CallAudio && kind != domain.CallVideo {
		return nil, ErrInvalidPayload
	}
	conv, ch := in.ConversationID, in.ChannelID
	if conv == "" && !a.Operator {
		conv = a.ConversationID
	}
	if ch == "" {
		ch = a.ChannelID
	}
	if conv == "" {
		return nil, ErrInvalidPayload
	}
	if err := s.Access.AuthorizeCall(ctx, a, conv, ch); err != nil {
		return nil, err
	}

	now := s.now()
	rec := &domain.CallRecord{
		ID:             callID,
		ChannelID:      ch,
		ConversationID: conv,
		Kind:           kind,
		Status:         domain.CallRinging,
		CreatedByRole:  a.FromRole(),
		CreatedByID:    actorID(a),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := repo.CreateCallRecord(ctx, s.DB, rec); err != nil {
		if !errors.Is(err, repo.ErrDuplicate) {
			return nil, persistErr("create call record", err)
		}
		prev, gerr := repo.GetCallRecord(ctx, s.DB, callID)
		if gerr != nil {
			return nil, persistErr("load call record", gerr)
		}
		if prev.ConversationID != conv || prev.Status != domain.CallRinging {
			return nil, persistErr("create call record", err)
		}
		rec = prev
	}
	return targetOf(rec), nil
}

// Answer moves the record to in_call, recording startedAt once.
func (s *CallService) Answer(ctx context.Context, a Actor, in CallInput) (*CallTarget, error) {
	ctx, span := s.span(ctx, "Answer", in)
	defer span.End()

	rec, err := s.authorizeExisting(ctx, a, in)
	if err != nil {
		return nil, err
	}
	updated, err := repo.MarkCallInCall(ctx, s.DB, rec.ID, s.now())
	switch {
	case errors.Is(err, repo.ErrCallClosed):
		return nil, ErrCallEnded
	case errors.Is(err, repo.ErrNotFound):
		return nil, ErrCallNotFound
	case err != nil:
		return nil, persistErr("answer call", err)
	}
	return targetOf(updated), nil
}

// ICE is a pure relay: it authorizes and resolves the target without
// touching the record, except to fill a conversation the payload omitted.
func (s *CallService) ICE(ctx context.Context, a Actor, in CallInput) (*CallTarget, error) {
	ctx, span := s.span(ctx, "ICE", in)
	defer span.End()

	callID, err := validCallID(in.CallID)
	if err != nil {
		return nil, err
	}
	if in.ConversationID == "" || in.ChannelID == "" {
		rec, err := s.authorizeExisting(ctx, a, in)
		if err != nil {
			return nil, err
		}
		t := targetOf(rec)
		t.Record = nil
		return t, nil
	}
	if err := s.Access.AuthorizeCall(ctx, a, in.ConversationID, in.ChannelID); err != nil {
		return nil, err
	}
	return &CallTarget{
		CallID:         callID,
		ConversationID: in.ConversationID,
		ChannelID:      in.ChannelID,
		Kind:           in.Kind,
	}, nil
}

// Hangup ends the call. A record that is already terminal keeps its
// original endedAt and reason; the hangup is still relayed.
func (s *CallService) Hangup(ctx context.Context, a Actor, in CallInput) (*CallTarget, error) {
	ctx, span := s.span(ctx, "Hangup", in)
	defer span.End()

	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		reason = EndedHangup
	}
	return s.end(ctx, a, in, domain.CallEnded, reason)
}

// Busy ends the call as busy.
func (s *CallService) Busy(ctx context.Context, a Actor, in CallInput) (*CallTarget, error) {
	ctx, span := s.span(ctx, "Busy", in)
	defer span.End()

	return s.end(ctx, a, in, domain.CallBusy, EndedBusy)
}

// ExpireRinging ends records still ringing after olderThan with reason
// timeout and returns the records it ended.
func (s *CallService) ExpireRinging(ctx context.Context, olderThan time.Duration) ([]domain.CallRecord, error) {
	tr := otel.Tracer("services/CallService")
	ctx, span := tr.Start(ctx, "ExpireRinging",
		trace.WithAttributes(attribute.String("older_than", olderThan.String())),
	)
	defer span.End()

	now := s.now()
	stale, err := repo.ListStaleRinging(ctx, s.DB, now.Add(-olderThan), staleRingingBatch)
	if err != nil {
		return nil, persistErr("list ringing calls", err)
	}
	out := make([]domain.CallRecord, 0, len(stale))
	for _, r := range stale {
		rec, err := repo.EndCallRecord(ctx, s.DB, r.ID, domain.CallEnded, EndedTimeout, now)
		if err != nil {
			return out, persistErr("expire call", err)
		}
		if rec.Status == domain.CallEnded && rec.EndedReason == EndedTimeout {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (s *CallService) end(ctx context.Context, a Actor, in CallInput, status, reason string) (*CallTarget, error) {
	rec, err := s.authorizeExisting(ctx, a, in)
	if err != nil {
		return nil, err
	}
	updated, err := repo.EndCallRecord(ctx, s.DB, rec.ID, status, reason, s.now())
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrCallNotFound
		}
		return nil, persistErr("end call", err)
	}
	return targetOf(updated), nil
}

// authorizeExisting loads the record, fills conversation/channel the payload
// omitted, runs the party check and rejects payloads that point the call at
// another conversation.
func (s *CallService) authorizeExisting(ctx context.Context, a Actor, in CallInput) (*domain.CallRecord, error) {
	callID, err := validCallID(in.CallID)
	if err != nil {
		return nil, err
	}
	rec, err := repo.GetCallRecord(ctx, s.DB, callID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrCallNotFound
		}
		return nil, persistErr("load call record", err)
	}
	conv, ch := in.ConversationID, in.ChannelID
	if conv == "" {
		conv = rec.ConversationID
	}
	if ch == "" {
		ch = rec.ChannelID
	}
	if conv != rec.ConversationID || ch != rec.ChannelID {
		return nil, ErrForbidden
	}
	if err := s.Access.AuthorizeCall(ctx, a, conv, ch); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *CallService) span(ctx context.Context, name string, in CallInput) (context.Context, trace.Span) {
	tr := otel.Tracer("services/CallService")
	return tr.Start(ctx, name,
		trace.WithAttributes(
			attribute.String("call.id", in.CallID),
			attribute.String("conversation.id", in.ConversationID),
		),
	)
}

func (s *CallService) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

func validCallID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" || len(id) > maxClientIDLen {
		return "", ErrInvalidPayload
	}
	return id, nil
}

func actorID(a Actor) string {
	if a.Operator {
		return a.UserID
	}
	return a.VisitorID
}

func targetOf(rec *domain.CallRecord) *CallTarget {
	return &CallTarget{
		CallID:         rec.ID,
		ConversationID: rec.ConversationID,
		ChannelID:      rec.ChannelID,
		Kind:           rec.Kind,
		Record:         rec,
	}
}
