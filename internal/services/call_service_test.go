package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tbourn/go-sitechat/internal/domain"
	"github.com/tbourn/go-sitechat/internal/repo"
)

func newCallSvc(t *testing.T) (*CallService, *fixture, *stepClock) {
	t.Helper()
	f := newFixture(t)
	clk := newStepClock()
	return &CallService{DB: f.db, Access: f.access, Now: clk.Now}, f, clk
}

func offer(t *testing.T, s *CallService, a Actor, callID, conv string) *CallTarget {
	t.Helper()
	tgt, err := s.Offer(context.Background(), a, CallInput{CallID: callID, ConversationID: conv, ChannelID: "ch1", Kind: domain.CallVideo})
	if err != nil {
		t.Fatalf("Offer(%s): %v", callID, err)
	}
	return tgt
}

func TestOffer_CreatesRingingRecord(t *testing.T) {
	s, f, _ := newCallSvc(t)
	tgt := offer(t, s, f.operator, "call-1", f.conv.ID)

	if tgt.ConversationID != f.conv.ID || tgt.ChannelID != "ch1" || tgt.Kind != domain.CallVideo {
		t.Fatalf("bad target: %+v", tgt)
	}
	rec, err := repo.GetCallRecord(context.Background(), f.db, "call-1")
	if err != nil {
		t.Fatalf("GetCallRecord: %v", err)
	}
	if rec.Status != domain.CallRinging || rec.CreatedByRole != domain.SenderOperator || rec.CreatedByID != "op1" {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestOffer_VisitorDefaultsAndRetransmit(t *testing.T) {
	s, f, _ := newCallSvc(t)
	ctx := context.Background()

	tgt, err := s.Offer(ctx, f.visitor, CallInput{CallID: "v-call"})
	if err != nil {
		t.Fatalf("Offer: %v", err)
	}
	if tgt.ConversationID != f.conv.ID || tgt.Kind != domain.CallAudio {
		t.Fatalf("defaults not applied: %+v", tgt)
	}
	if _, err := s.Offer(ctx, f.visitor, CallInput{CallID: "v-call"}); err != nil {
		t.Fatalf("retransmitted offer rejected: %v", err)
	}
}

func TestOffer_Rejections(t *testing.T) {
	s, f, _ := newCallSvc(t)
	ctx := context.Background()
	other, _ := repo.CreateConversation(ctx, f.db, "ch2", "v5")

	cases := []struct {
		name  string
		actor Actor
		in    CallInput
		want  error
	}{
		{"missing call id", f.visitor, CallInput{ConversationID: f.conv.ID, ChannelID: "ch1"}, ErrInvalidPayload},
		{"bad kind", f.visitor, CallInput{CallID: "k", ConversationID: f.conv.ID, ChannelID: "ch1", Kind: "hologram"}, ErrInvalidPayload},
		{"operator without conversation", f.operator, CallInput{CallID: "o"}, ErrInvalidPayload},
		{"visitor foreign conversation", f.visitor, CallInput{CallID: "x", ConversationID: other.ID, ChannelID: "ch1"}, ErrForbidden},
		{"operator foreign channel", f.operator, CallInput{CallID: "y", ConversationID: other.ID, ChannelID: "ch2"}, ErrForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := s.Offer(ctx, tc.actor, tc.in); !errors.Is(err, tc.want) {
				t.Fatalf("want %v, got %v", tc.want, err)
			}
		})
	}
	if n := countRows(t, f.db, &domain.CallRecord{}); n != 0 {
		t.Fatalf("rejected offers created %d records", n)
	}
}

func TestAnswer_SetsStartedAtOnce(t *testing.T) {
	s, f, _ := newCallSvc(t)
	ctx := context.Background()
	offer(t, s, f.operator, "call-a", f.conv.ID)

	// visitor answers without repeating conversation/channel
	tgt, err := s.Answer(ctx, f.visitor, CallInput{CallID: "call-a"})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if tgt.Record.Status != domain.CallInCall || tgt.Record.StartedAt == nil {
		t.Fatalf("record not in call: %+v", tgt.Record)
	}
	first := *tgt.Record.StartedAt

	again, err := s.Answer(ctx, f.visitor, CallInput{CallID: "call-a"})
	if err != nil {
		t.Fatalf("second Answer: %v", err)
	}
	if !again.Record.StartedAt.Equal(first) {
		t.Fatalf("startedAt overwritten: %v -> %v", first, *again.Record.StartedAt)
	}
}

func TestAnswer_Failures(t *testing.T) {
	s, f, _ := newCallSvc(t)
	ctx := context.Background()

	if _, err := s.Answer(ctx, f.visitor, CallInput{CallID: "ghost"}); !errors.Is(err, ErrCallNotFound) {
		t.Fatalf("want ErrCallNotFound, got %v", err)
	}

	offer(t, s, f.operator, "call-b", f.conv.ID)
	conv2, _ := repo.CreateConversation(ctx, f.db, "ch1", "v2")
	if _, err := s.Answer(ctx, f.visitor, CallInput{CallID: "call-b", ConversationID: conv2.ID}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("payload pointing elsewhere: want ErrForbidden, got %v", err)
	}
	intruder := Actor{ChannelID: "ch1", ConversationID: conv2.ID, VisitorID: "v2"}
	if _, err := s.Answer(ctx, intruder, CallInput{CallID: "call-b"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("non-party visitor: want ErrForbidden, got %v", err)
	}

	if _, err := s.Hangup(ctx, f.operator, CallInput{CallID: "call-b"}); err != nil {
		t.Fatalf("Hangup: %v", err)
	}
	_, err := s.Answer(ctx, f.visitor, CallInput{CallID: "call-b"})
	if !errors.Is(err, ErrCallEnded) || FailureReason(err) != ReasonRecordFailed {
		t.Fatalf("answer after hangup: %v", err)
	}
}

func TestHangup_FirstEndWins(t *testing.T) {
	s, f, _ := newCallSvc(t)
	ctx := context.Background()
	offer(t, s, f.operator, "call-h", f.conv.ID)

	first, err := s.Hangup(ctx, f.visitor, CallInput{CallID: "call-h", Reason: "user_left"})
	if err != nil {
		t.Fatalf("Hangup: %v", err)
	}
	if first.Record.Status != domain.CallEnded || first.Record.EndedReason != "user_left" || first.Record.EndedAt == nil {
		t.Fatalf("unexpected record: %+v", first.Record)
	}

	second, err := s.Hangup(ctx, f.operator, CallInput{CallID: "call-h"})
	if err != nil {
		t.Fatalf("second Hangup must still relay: %v", err)
	}
	if !second.Record.EndedAt.Equal(*first.Record.EndedAt) || second.Record.EndedReason != "user_left" {
		t.Fatalf("terminal record overwritten: %+v", second.Record)
	}
}

func TestBusy(t *testing.T) {
	s, f, _ := newCallSvc(t)
	offer(t, s, f.operator, "call-busy", f.conv.ID)
	tgt, err := s.Busy(context.Background(), f.visitor, CallInput{CallID: "call-busy"})
	if err != nil {
		t.Fatalf("Busy: %v", err)
	}
	if tgt.Record.Status != domain.CallBusy || tgt.Record.EndedAt == nil || tgt.Record.EndedReason != EndedBusy {
		t.Fatalf("unexpected record: %+v", tgt.Record)
	}
}

func TestICE_RelayOnly(t *testing.T) {
	s, f, _ := newCallSvc(t)
	ctx := context.Background()
	offer(t, s, f.operator, "call-i", f.conv.ID)

	tgt, err := s.ICE(ctx, f.visitor, CallInput{CallID: "call-i"})
	if err != nil {
		t.Fatalf("ICE: %v", err)
	}
	if tgt.ConversationID != f.conv.ID || tgt.Record != nil {
		t.Fatalf("unexpected target: %+v", tgt)
	}

	// explicit routing needs no record at all
	if _, err := s.ICE(ctx, f.visitor, CallInput{CallID: "unrecorded", ConversationID: f.conv.ID, ChannelID: "ch1"}); err != nil {
		t.Fatalf("ICE with explicit routing: %v", err)
	}
	if _, err := s.ICE(ctx, f.visitor, CallInput{CallID: "unrecorded", ConversationID: f.conv.ID, ChannelID: "ch2"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("want ErrForbidden, got %v", err)
	}

	rec, _ := repo.GetCallRecord(ctx, f.db, "call-i")
	if rec.Status != domain.CallRinging {
		t.Fatalf("ICE mutated the record: %s", rec.Status)
	}
}

func TestExpireRinging(t *testing.T) {
	s, f, _ := newCallSvc(t)
	ctx := context.Background()
	base := time.Now().UTC()
	s.Now = func() time.Time { return base }
	offer(t, s, f.operator, "old", f.conv.ID)
	offer(t, s, f.operator, "answered", f.conv.ID)
	if _, err := s.Answer(ctx, f.visitor, CallInput{CallID: "answered"}); err != nil {
		t.Fatalf("Answer: %v", err)
	}

	s.Now = func() time.Time { return base.Add(30 * time.Second) }
	offer(t, s, f.operator, "fresh", f.conv.ID)

	s.Now = func() time.Time { return base.Add(50 * time.Second) }
	ended, err := s.ExpireRinging(ctx, 45*time.Second)
	if err != nil {
		t.Fatalf("ExpireRinging: %v", err)
	}
	if len(ended) != 1 || ended[0].ID != "old" || ended[0].EndedReason != EndedTimeout {
		t.Fatalf("unexpected expiry set: %+v", ended)
	}
	for id, want := range map[string]string{"old": domain.CallEnded, "answered": domain.CallInCall, "fresh": domain.CallRinging} {
		rec, _ := repo.GetCallRecord(ctx, f.db, id)
		if rec.Status != want {
			t.Errorf("%s: status %s, want %s", id, rec.Status, want)
		}
	}
}
