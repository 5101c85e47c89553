// Package handlers implements the REST surface next to the socket gateway:
// session issuing for widgets and operators, conversation history and a
// REST send path that shares the gateway's delivery semantics.
//
// Handlers are transport-thin: they bind input, call the services and map
// their error kinds to status codes (see failFor).
package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tbourn/go-sitechat/internal/domain"
	"github.com/tbourn/go-sitechat/internal/services"
	"github.com/tbourn/go-sitechat/internal/utils"
)

//
// Service contracts (context-aware)
//

// SessionService mints session credentials.
type SessionService interface {
	StartWidgetSession(ctx context.Context, channelID, visitorID, origin string) (*services.WidgetSession, error)
	StartOperatorSession(ctx context.Context, channelID, userID string) (*services.OperatorSession, error)
}

// MessageService persists and pages conversation messages.
type MessageService interface {
	Send(ctx context.Context, a services.Actor, in services.SendInput) (*services.SendResult, error)
	ListPage(ctx context.Context, a services.Actor, conversationID string, page, pageSize int) ([]domain.Message, int64, error)
}

// Authorizer decides whether an actor may read a conversation.
type Authorizer interface {
	AuthorizeConversation(ctx context.Context, a services.Actor, conversationID string) error
}

// Announcer fans a stored message out to connected sockets. The gateway
// server implements it.
type Announcer interface {
	AnnounceMessage(ctx context.Context, channelID string, m domain.Message, except string) error
}

//
// Handler wiring
//

// Handlers groups the REST endpoints.
type Handlers struct {
	sessions SessionService
	messages MessageService
	access   Authorizer
	announce Announcer

	// db backs ETag stats and Idempotency-Key records; nil disables both.
	db      *gorm.DB
	idemTTL time.Duration
}

// Option customizes Handlers.
type Option func(*Handlers)

// WithStore enables conditional history responses and Idempotency-Key
// records kept for ttl.
func WithStore(db *gorm.DB, ttl time.Duration) Option {
	return func(h *Handlers) {
		h.db = db
		h.idemTTL = ttl
	}
}

// WithAnnouncer forwards REST sends to socket subscribers.
func WithAnnouncer(a Announcer) Option {
	return func(h *Handlers) { h.announce = a }
}

// New returns Handlers bound to the given services.
func New(sessions SessionService, messages MessageService, access Authorizer, opts ...Option) *Handlers {
	h := &Handlers{sessions: sessions, messages: messages, access: access, idemTTL: 24 * time.Hour}
	for _, o := range opts {
		o(h)
	}
	return h
}

//
// DTOs
//

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// MessageView is a stored message in the same shape as the socket
// message:new event.
type MessageView struct {
	ServerMessageID string    `json:"serverMessageId" example:"3f1c2a9e-7f0e-4c4b-9a57-0c1d2e3f4a5b"`
	ClientMessageID string    `json:"clientMessageId,omitempty" example:"c-1718270000-1"`
	ConversationID  string    `json:"conversationId"`
	Text            string    `json:"text" example:"Hi, is this in stock?"`
	SenderType      string    `json:"senderType" example:"visitor"`
	SenderID        *string   `json:"senderId,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

func viewOf(m domain.Message) MessageView {
	return MessageView{
		ServerMessageID: m.ID,
		ClientMessageID: m.ClientID(),
		ConversationID:  m.ConversationID,
		Text:            m.Text,
		SenderType:      m.SenderType,
		SenderID:        m.SenderID,
		CreatedAt:       m.CreatedAt.UTC(),
	}
}

//
// Helpers
//

// clampPagination reads page and page_size (or its alias limit).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPageSize = 50
		maxPageSize     = 200
	)
	size := c.Query("page_size")
	if size == "" {
		size = c.Query("limit")
	}
	return utils.ClampPage(c.Query("page"), size, defaultPageSize, maxPageSize)
}
