// Package services – MessageService
//
// This file implements the message delivery protocol shared by both gateway
// namespaces: validated, duplicate-safe sends that acknowledge only after the
// row is durable, and ordered resync for clients filling a reconnect gap.
//
// The unique index on messages.client_message_id is the sole concurrency
// control. A send first looks for an existing row (replay); a racing insert
// that loses on the index re-reads the winner and replays it.
//
// Observability: all public methods are OpenTelemetry-instrumented; spans
// carry conversation ids and paging parameters.
package services

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-sitechat/internal/domain"
	"github.com/tbourn/go-sitechat/internal/observability"
	"github.com/tbourn/go-sitechat/internal/repo"
)

const (
	defaultMaxRunes    = 4000
	defaultResyncLimit = 200
	maxClientIDLen     = 128
)

// SendInput is one send request as decoded at the transport boundary.
type SendInput struct {
	ConversationID  string
	Text            string
	ClientMessageID string
}

// Ack is the durability signal returned to the sender only.
type Ack struct {
	ClientMessageID string    `json:"clientMessageId"`
	ServerMessageID string    `json:"serverMessageId"`
	ConversationID  string    `json:"conversationId"`
	CreatedAt       time.Time `json:"createdAt"`
}

// SendResult carries the ack plus the stored message for fan-out.
// Duplicate is true when the ack replays an earlier send.
type SendResult struct {
	Ack       Ack
	Message   domain.Message
	Duplicate bool
}

// MessageService persists and reads chat messages.
type MessageService struct {
	DB     *gorm.DB
	Access *AccessService

	// Optional; zero values fall back to 4000 runes, a 200-row resync cap,
	// the identity codec and time.Now.
	MaxRunes       int
	ResyncMaxLimit int
	Codec          TextCodec
	Now            func() time.Time
}

// Send validates the input, then either replays the stored message for the
// clientMessageId or persists a new row and touches the conversation. No
// acknowledgement is produced unless the row is durable.
func (s *MessageService) Send(ctx context.Context, a Actor, in SendInput) (*SendResult, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "Send",
		trace.WithAttributes(
			attribute.String("conversation.id", in.ConversationID),
			attribute.String("sender.type", a.SenderType()),
		),
	)
	defer span.End()

	if err := s.Access.AuthorizeConversation(ctx, a, in.ConversationID); err != nil {
		return nil, err
	}
	cmid := strings.TrimSpace(in.ClientMessageID)
	if cmid == "" {
		return nil, ErrMissingClientID
	}
	if len(cmid) > maxClientIDLen {
		return nil, ErrClientIDTooLong
	}
	text, err := s.normalizeText(in.Text)
	if err != nil {
		return nil, err
	}

	if res, err := s.replay(ctx, a, in.ConversationID, cmid); res != nil || err != nil {
		return res, err
	}

	stored, err := s.codec().Encode(text)
	if err != nil {
		return nil, err
	}
	m := &domain.Message{
		ClientMessageID: &cmid,
		ConversationID:  in.ConversationID,
		SenderType:      a.SenderType(),
		SenderID:        a.SenderID(),
		Text:            stored,
		CreatedAt:       s.now().UTC().Truncate(time.Microsecond),
	}
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.InsertMessage(ctx, tx, m); err != nil {
			return err
		}
		return repo.TouchConversation(ctx, tx, in.ConversationID, m.CreatedAt)
	})
	if errors.Is(err, repo.ErrDuplicate) {
		// Lost the race against a concurrent retry of the same id.
		res, rerr := s.replay(ctx, a, in.ConversationID, cmid)
		if rerr != nil {
			return nil, rerr
		}
		if res != nil {
			return res, nil
		}
		return nil, persistErr("insert message", err)
	}
	if err != nil {
		return nil, persistErr("insert message", err)
	}

	observability.MessagesPersisted.Inc()
	m.Text = text
	return &SendResult{Ack: ackFor(m), Message: *m}, nil
}

// Resync returns messages of the conversation created strictly after since,
// ordered by (createdAt, id, clientMessageId). A missing or unparsable since
// means "from the beginning"; limit is clamped to [1, ResyncMaxLimit].
func (s *MessageService) Resync(ctx context.Context, a Actor, conversationID, since string, limit int) ([]domain.Message, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "Resync",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.String("since", since),
			attribute.Int("limit", limit),
		),
	)
	defer span.End()

	if err := s.Access.AuthorizeConversation(ctx, a, conversationID); err != nil {
		return nil, err
	}

	maxLimit := s.ResyncMaxLimit
	if maxLimit <= 0 {
		maxLimit = defaultResyncLimit
	}
	if limit <= 0 || limit > maxLimit {
		limit = maxLimit
	}

	items, err := repo.ListMessagesSince(ctx, s.DB, conversationID, ParseSince(since), limit)
	if err != nil {
		return nil, persistErr("list messages", err)
	}
	return s.decodeAll(items)
}

// ListPage returns one page of conversation history and the total count.
func (s *MessageService) ListPage(ctx context.Context, a Actor, conversationID string, page, pageSize int) ([]domain.Message, int64, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if err := s.Access.AuthorizeConversation(ctx, a, conversationID); err != nil {
		return nil, 0, err
	}
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	total, err := repo.CountMessages(ctx, s.DB, conversationID)
	if err != nil {
		return nil, 0, persistErr("count messages", err)
	}
	if total == 0 {
		return []domain.Message{}, 0, nil
	}
	items, err := repo.ListMessagesPage(ctx, s.DB, conversationID, offset, pageSize)
	if err != nil {
		return nil, 0, persistErr("list messages", err)
	}
	items, err = s.decodeAll(items)
	return items, total, err
}

// ParseSince interprets a resync checkpoint. Anything that is not an
// RFC 3339 timestamp yields nil.
func ParseSince(since string) *time.Time {
	since = strings.TrimSpace(since)
	if since == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, since)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

// replay returns the ack for an already stored clientMessageId, or nil when
// none exists. Only the original sender in the original conversation gets
// the replay; anyone else reusing the id is refused.
func (s *MessageService) replay(ctx context.Context, a Actor, conversationID, cmid string) (*SendResult, error) {
	prev, err := repo.GetMessageByClientID(ctx, s.DB, cmid)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, persistErr("lookup client id", err)
	}
	if prev.ConversationID != conversationID || !sameSender(prev, a) {
		return nil, ErrClientIDConflict
	}
	if prev.Text, err = s.codec().Decode(prev.Text); err != nil {
		return nil, err
	}
	observability.MessagesDuplicate.Inc()
	return &SendResult{Ack: ackFor(prev), Message: *prev, Duplicate: true}, nil
}

func sameSender(m *domain.Message, a Actor) bool {
	if m.SenderType != a.SenderType() {
		return false
	}
	id := a.SenderID()
	if m.SenderID == nil || id == nil {
		return m.SenderID == nil && id == nil
	}
	return *m.SenderID == *id
}

// normalizeText applies NFC, unifies line endings and trims, then enforces
// the 1..MaxRunes bound.
func (s *MessageService) normalizeText(raw string) (string, error) {
	t := norm.NFC.String(raw)
	t = strings.ReplaceAll(t, "\r\n", "\n")
	t = strings.ReplaceAll(t, "\r", "\n")
	t = strings.TrimSpace(t)
	if t == "" {
		return "", ErrEmptyText
	}
	limit := s.MaxRunes
	if limit <= 0 {
		limit = defaultMaxRunes
	}
	if utf8.RuneCountInString(t) > limit {
		return "", ErrTextTooLong
	}
	return t, nil
}

func (s *MessageService) decodeAll(items []domain.Message) ([]domain.Message, error) {
	c := s.codec()
	for i := range items {
		txt, err := c.Decode(items[i].Text)
		if err != nil {
			return nil, err
		}
		items[i].Text = txt
	}
	return items, nil
}

func (s *MessageService) codec() TextCodec {
	if s.Codec == nil {
		return IdentityCodec{}
	}
	return s.Codec
}

func (s *MessageService) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func ackFor(m *domain.Message) Ack {
	return Ack{
		ClientMessageID: m.ClientID(),
		ServerMessageID: m.ID,
		ConversationID:  m.ConversationID,
		CreatedAt:       m.CreatedAt.UTC(),
	}
}
