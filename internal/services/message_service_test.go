package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tbourn/go-sitechat/internal/domain"
	"github.com/tbourn/go-sitechat/internal/repo"
)

func newMsgSvc(t *testing.T) (*MessageService, *fixture) {
	t.Helper()
	f := newFixture(t)
	return &MessageService{
		DB:     f.db,
		Access: f.access,
		Now:    newStepClock().Now,
	}, f
}

func send(t *testing.T, s *MessageService, a Actor, conv, text, cmid string) *SendResult {
	t.Helper()
	res, err := s.Send(context.Background(), a, SendInput{ConversationID: conv, Text: text, ClientMessageID: cmid})
	if err != nil {
		t.Fatalf("Send(%s): %v", cmid, err)
	}
	return res
}

func TestSend_PersistsAndAcks(t *testing.T) {
	s, f := newMsgSvc(t)
	before, _ := repo.GetConversation(context.Background(), f.db, f.conv.ID)

	res := send(t, s, f.visitor, f.conv.ID, "  hello\r\nthere  ", "c-1")
	if res.Duplicate {
		t.Fatal("first send reported as duplicate")
	}
	if res.Ack.ClientMessageID != "c-1" || res.Ack.ConversationID != f.conv.ID || res.Ack.ServerMessageID == "" {
		t.Fatalf("bad ack: %+v", res.Ack)
	}
	if res.Message.Text != "hello\nthere" {
		t.Fatalf("text not normalized: %q", res.Message.Text)
	}
	if res.Message.SenderType != domain.SenderVisitor || res.Message.SenderID != nil {
		t.Fatalf("visitor sender fields wrong: %+v", res.Message)
	}

	stored, err := repo.GetMessage(context.Background(), f.db, res.Ack.ServerMessageID)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if !stored.CreatedAt.Equal(res.Ack.CreatedAt) {
		t.Fatalf("ack createdAt %v != stored %v", res.Ack.CreatedAt, stored.CreatedAt)
	}
	after, _ := repo.GetConversation(context.Background(), f.db, f.conv.ID)
	if !after.UpdatedAt.After(before.UpdatedAt) {
		t.Fatal("conversation updatedAt not bumped")
	}
}

func TestSend_OperatorSenderID(t *testing.T) {
	s, f := newMsgSvc(t)
	res := send(t, s, f.operator, f.conv.ID, "hi from support", "op-1")
	if res.Message.SenderType != domain.SenderOperator || res.Message.SenderID == nil || *res.Message.SenderID != "op1" {
		t.Fatalf("operator sender fields wrong: %+v", res.Message)
	}
}

func TestSend_DuplicateReplaysSameAck(t *testing.T) {
	s, f := newMsgSvc(t)
	first := send(t, s, f.visitor, f.conv.ID, "once", "dup-1")
	second := send(t, s, f.visitor, f.conv.ID, "once", "dup-1")

	if !second.Duplicate {
		t.Fatal("replay not flagged as duplicate")
	}
	if second.Ack.ServerMessageID != first.Ack.ServerMessageID ||
		second.Ack.ClientMessageID != first.Ack.ClientMessageID ||
		second.Ack.ConversationID != first.Ack.ConversationID ||
		!second.Ack.CreatedAt.Equal(first.Ack.CreatedAt) {
		t.Fatalf("replay ack differs:\n first=%+v\nsecond=%+v", first.Ack, second.Ack)
	}
	if n := countRows(t, f.db, &domain.Message{}); n != 1 {
		t.Fatalf("want 1 row, got %d", n)
	}
}

func TestSend_ConcurrentRetriesPersistOnce(t *testing.T) {
	s, f := newMsgSvc(t)
	const n = 8

	var wg sync.WaitGroup
	acks := make([]Ack, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := s.Send(context.Background(), f.visitor, SendInput{
				ConversationID:  f.conv.ID,
				Text:            "racing",
				ClientMessageID: "race-1",
			})
			if err != nil {
				errs[i] = err
				return
			}
			acks[i] = res.Ack
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	for i := 1; i < n; i++ {
		if acks[i].ServerMessageID != acks[0].ServerMessageID {
			t.Fatalf("ack %d references %s, want %s", i, acks[i].ServerMessageID, acks[0].ServerMessageID)
		}
	}
	if got := countRows(t, f.db, &domain.Message{}); got != 1 {
		t.Fatalf("want exactly one persisted row, got %d", got)
	}
}

func TestSend_ValidationPersistsNothing(t *testing.T) {
	s, f := newMsgSvc(t)
	s.MaxRunes = 10
	other, err := repo.CreateConversation(context.Background(), f.db, "ch2", "v2")
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	cases := []struct {
		name  string
		actor Actor
		in    SendInput
		want  error
	}{
		{"empty text", f.visitor, SendInput{f.conv.ID, " \n\t ", "a"}, ErrEmptyText},
		{"too long", f.visitor, SendInput{f.conv.ID, strings.Repeat("x", 11), "b"}, ErrTextTooLong},
		{"missing client id", f.visitor, SendInput{f.conv.ID, "hi", "  "}, ErrMissingClientID},
		{"client id too long", f.visitor, SendInput{f.conv.ID, "hi", strings.Repeat("k", 129)}, ErrClientIDTooLong},
		{"visitor foreign conversation", f.visitor, SendInput{other.ID, "hi", "c"}, ErrConversationMismatch},
		{"operator other channel", f.operator, SendInput{other.ID, "hi", "d"}, ErrConversationMismatch},
		{"operator unknown conversation", f.operator, SendInput{"nope", "hi", "e"}, ErrConversationNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.Send(context.Background(), tc.actor, tc.in)
			if !errors.Is(err, tc.want) {
				t.Fatalf("want %v, got %v", tc.want, err)
			}
			if Classify(err) != OutcomeValidationFailure {
				t.Fatalf("classified as %v", Classify(err))
			}
		})
	}
	if n := countRows(t, f.db, &domain.Message{}); n != 0 {
		t.Fatalf("validation failures persisted %d rows", n)
	}
}

func TestSend_LimitCountsRunesNotBytes(t *testing.T) {
	s, f := newMsgSvc(t)
	s.MaxRunes = 4
	send(t, s, f.visitor, f.conv.ID, "\u0100\u0100\u0100\u0100", "limit-1")
}

func TestSend_NFCNormalization(t *testing.T) {
	s, f := newMsgSvc(t)
	res := send(t, s, f.visitor, f.conv.ID, "cafe\u0301", "nfc-1")
	if res.Message.Text != "caf\u00e9" {
		t.Fatalf("expected composed form, got %q", res.Message.Text)
	}
}

func TestSend_ClientIDReusedInOtherConversation(t *testing.T) {
	s, f := newMsgSvc(t)
	ctx := context.Background()
	conv2, err := repo.CreateConversation(ctx, f.db, "ch1", "v2")
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	send(t, s, f.visitor, f.conv.ID, "first", "shared")
	_, err = s.Send(ctx, f.operator, SendInput{ConversationID: conv2.ID, Text: "second", ClientMessageID: "shared"})
	if !errors.Is(err, ErrClientIDConflict) {
		t.Fatalf("want ErrClientIDConflict, got %v", err)
	}
}

func TestSend_ClientIDReusedBySomeoneElseInSameConversation(t *testing.T) {
	s, f := newMsgSvc(t)
	ctx := context.Background()
	if _, err := repo.UpsertMembership(ctx, f.db, "ch1", "op2", "agent", true); err != nil {
		t.Fatalf("UpsertMembership: %v", err)
	}
	op2 := f.operator
	op2.UserID = "op2"

	visitorMsg := send(t, s, f.visitor, f.conv.ID, "from the visitor", "taken-v")
	operatorMsg := send(t, s, f.operator, f.conv.ID, "from op1", "taken-o")

	for _, tc := range []struct {
		name string
		a    Actor
		cmid string
	}{
		{"operator reuses visitor id", f.operator, "taken-v"},
		{"visitor reuses operator id", f.visitor, "taken-o"},
		{"other operator reuses operator id", op2, "taken-o"},
	} {
		res, err := s.Send(ctx, tc.a, SendInput{ConversationID: f.conv.ID, Text: "mine now", ClientMessageID: tc.cmid})
		if !errors.Is(err, ErrClientIDConflict) {
			t.Fatalf("%s: want ErrClientIDConflict, got %+v, %v", tc.name, res, err)
		}
	}

	// The original senders still get their replays.
	if again := send(t, s, f.visitor, f.conv.ID, "from the visitor", "taken-v"); !again.Duplicate || again.Ack.ServerMessageID != visitorMsg.Ack.ServerMessageID {
		t.Fatalf("visitor replay broken: %+v", again.Ack)
	}
	if again := send(t, s, f.operator, f.conv.ID, "from op1", "taken-o"); !again.Duplicate || again.Ack.ServerMessageID != operatorMsg.Ack.ServerMessageID {
		t.Fatalf("operator replay broken: %+v", again.Ack)
	}

	n, err := repo.CountMessages(ctx, f.db, f.conv.ID)
	if err != nil {
		t.Fatalf("CountMessages: %v", err)
	}
	if n != 2 {
		t.Fatalf("want 2 stored messages, got %d", n)
	}
}

func TestSend_PersistenceFailureNoAck(t *testing.T) {
	s, f := newMsgSvc(t)
	if err := f.db.Exec("DROP TABLE messages").Error; err != nil {
		t.Fatalf("drop: %v", err)
	}
	res, err := s.Send(context.Background(), f.visitor, SendInput{f.conv.ID, "hi", "p-1"})
	if res != nil {
		t.Fatal("acknowledged without a durable row")
	}
	if Classify(err) != OutcomePersistenceFailure {
		t.Fatalf("want persistence failure, got %v (%v)", Classify(err), err)
	}
}

type rot13 struct{}

func (rot13) Encode(s string) (string, error) { return strings.Map(rot, s), nil }
func (rot13) Decode(s string) (string, error) { return strings.Map(rot, s), nil }

func rot(r rune) rune {
	switch {
	case r >= 'a' && r <= 'z':
		return 'a' + (r-'a'+13)%26
	case r >= 'A' && r <= 'Z':
		return 'A' + (r-'A'+13)%26
	}
	return r
}

func TestSend_CodecAppliedAtStorageBoundary(t *testing.T) {
	s, f := newMsgSvc(t)
	s.Codec = rot13{}
	ctx := context.Background()

	res := send(t, s, f.visitor, f.conv.ID, "hello", "codec-1")
	if res.Message.Text != "hello" {
		t.Fatalf("caller sees %q", res.Message.Text)
	}
	raw, _ := repo.GetMessage(ctx, f.db, res.Ack.ServerMessageID)
	if raw.Text != "uryyb" {
		t.Fatalf("stored %q", raw.Text)
	}
	got, err := s.Resync(ctx, f.visitor, f.conv.ID, "", 0)
	if err != nil || len(got) != 1 || got[0].Text != "hello" {
		t.Fatalf("Resync decoded wrong: %v %+v", err, got)
	}
	again := send(t, s, f.visitor, f.conv.ID, "hello", "codec-1")
	if again.Message.Text != "hello" {
		t.Fatalf("replay not decoded: %q", again.Message.Text)
	}
}

func TestResync_OrderSinceAndLimit(t *testing.T) {
	s, f := newMsgSvc(t)
	ctx := context.Background()

	var acks []Ack
	for _, id := range []string{"m1", "m2", "m3", "m4"} {
		acks = append(acks, send(t, s, f.visitor, f.conv.ID, "text "+id, id).Ack)
	}

	all, err := s.Resync(ctx, f.visitor, f.conv.ID, "", 0)
	if err != nil {
		t.Fatalf("Resync: %v", err)
	}
	if got := clientIDs(all); got != "m1,m2,m3,m4" {
		t.Fatalf("order = %s", got)
	}

	since := acks[1].CreatedAt.Format(time.RFC3339Nano)
	tail, err := s.Resync(ctx, f.visitor, f.conv.ID, since, 0)
	if err != nil {
		t.Fatalf("Resync since: %v", err)
	}
	if got := clientIDs(tail); got != "m3,m4" {
		t.Fatalf("since filter = %s", got)
	}

	limited, _ := s.Resync(ctx, f.visitor, f.conv.ID, "", 2)
	if got := clientIDs(limited); got != "m1,m2" {
		t.Fatalf("limit = %s", got)
	}

	garbage, err := s.Resync(ctx, f.visitor, f.conv.ID, "not-a-time", 0)
	if err != nil || len(garbage) != 4 {
		t.Fatalf("garbage since must mean from the beginning: %v %d", err, len(garbage))
	}

	again, _ := s.Resync(ctx, f.visitor, f.conv.ID, "", 0)
	if clientIDs(again) != clientIDs(all) {
		t.Fatal("resync order is not stable across calls")
	}
}

func TestResync_LimitClamp(t *testing.T) {
	s, f := newMsgSvc(t)
	s.ResyncMaxLimit = 3
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		send(t, s, f.visitor, f.conv.ID, id, id)
	}
	for _, lim := range []int{0, -1, 500} {
		got, err := s.Resync(context.Background(), f.visitor, f.conv.ID, "", lim)
		if err != nil || len(got) != 3 {
			t.Fatalf("limit %d: got %d rows (%v)", lim, len(got), err)
		}
	}
}

func TestResync_OfflineScenario(t *testing.T) {
	// three queued sends flushed on reconnect, then a resync from the
	// second message's timestamp returns exactly the third.
	s, f := newMsgSvc(t)
	var acks []Ack
	for _, id := range []string{"q1", "q2", "q3"} {
		acks = append(acks, send(t, s, f.visitor, f.conv.ID, id, id).Ack)
	}
	got, err := s.Resync(context.Background(), f.visitor, f.conv.ID, acks[1].CreatedAt.Format(time.RFC3339Nano), 200)
	if err != nil {
		t.Fatalf("Resync: %v", err)
	}
	if len(got) != 1 || got[0].ID != acks[2].ServerMessageID {
		t.Fatalf("want only q3, got %s", clientIDs(got))
	}
}

func TestResync_AccessChecked(t *testing.T) {
	s, f := newMsgSvc(t)
	other, _ := repo.CreateConversation(context.Background(), f.db, "ch2", "v7")
	if _, err := s.Resync(context.Background(), f.visitor, other.ID, "", 0); !errors.Is(err, ErrConversationMismatch) {
		t.Fatalf("want mismatch, got %v", err)
	}
}

func TestListPage(t *testing.T) {
	s, f := newMsgSvc(t)
	ctx := context.Background()

	items, total, err := s.ListPage(ctx, f.operator, f.conv.ID, 1, 2)
	if err != nil || total != 0 || len(items) != 0 {
		t.Fatalf("empty page: %v %d %d", err, total, len(items))
	}
	for _, id := range []string{"p1", "p2", "p3"} {
		send(t, s, f.visitor, f.conv.ID, id, id)
	}
	items, total, err = s.ListPage(ctx, f.operator, f.conv.ID, 2, 2)
	if err != nil {
		t.Fatalf("ListPage: %v", err)
	}
	if total != 3 || clientIDs(items) != "p3" {
		t.Fatalf("page 2 = %s (total %d)", clientIDs(items), total)
	}
}

func TestParseSince(t *testing.T) {
	if ParseSince("") != nil || ParseSince("yesterday") != nil {
		t.Fatal("expected nil for empty/garbage")
	}
	got := ParseSince("2025-03-01T13:00:00.123456+01:00")
	if got == nil || got.Location() != time.UTC || got.Hour() != 12 {
		t.Fatalf("unexpected parse: %v", got)
	}
}

func clientIDs(ms []domain.Message) string {
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.ClientID())
	}
	return strings.Join(out, ",")
}
