// Message HTTP handlers.
//
//   - GET  /messages?conversationId=…       (paged history, ETag support)
//   - POST /conversations/{id}/messages     (send outside a socket)
//
// Both require a session credential (BearerAuth). The REST send goes through
// the same MessageService.Send as socket sends, so clientMessageId dedup and
// durability rules are identical; stored messages are announced to socket
// subscribers as message:new.
//
// Idempotency:
// The Idempotency-Key header stands in for clientMessageId when the body has
// none. A key seen before for (actor, conversation) replays the stored
// message with `Idempotency-Replayed: true`.
package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-sitechat/internal/http/middleware"
	"github.com/tbourn/go-sitechat/internal/repo"
	"github.com/tbourn/go-sitechat/internal/services"
)

// PostMessageRequest is the JSON payload for a REST send.
type PostMessageRequest struct {
	Text string `json:"text" binding:"required" example:"Do you ship to Canada?"`
	// ClientMessageID defaults to the Idempotency-Key header.
	ClientMessageID string `json:"clientMessageId" example:"c-1718270000-1"`
}

// PostMessageResponse carries the durability ack and the stored message.
type PostMessageResponse struct {
	Ack     services.Ack `json:"ack"`
	Message MessageView  `json:"message"`
}

// ListMessagesResponse contains a page of messages and pagination metadata.
type ListMessagesResponse struct {
	Messages   []MessageView `json:"messages"`
	Pagination Pagination    `json:"pagination"`
}

// PostMessage godoc
// @ID          postMessage
// @Summary     Send a message
// @Description Persists a message and announces it to connected sockets. Repeating a
// @Description clientMessageId (or Idempotency-Key) returns the original message.
// @Tags        Messages
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       Idempotency-Key  header  string  false "Idempotency key; used as clientMessageId when the body has none"  example(c-1718270000-1)
// @Param       id               path    string  true  "Conversation ID"  format(uuid)
// @Param       body             body    handlers.PostMessageRequest  true  "Message payload"
// @Success     201  {object}  handlers.PostMessageResponse  "Stored"
// @Success     200  {object}  handlers.PostMessageResponse  "Replayed"
// @Failure     400  {object}  handlers.ErrorResponse        "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse        "Unauthorized"
// @Failure     403  {object}  handlers.ErrorResponse        "Not your conversation"
// @Failure     404  {object}  handlers.ErrorResponse        "Conversation not found"
// @Failure     409  {object}  handlers.ErrorResponse        "clientMessageId used elsewhere"
// @Failure     500  {object}  handlers.ErrorResponse        "Internal error"
// @Router      /conversations/{id}/messages [post]
func (h *Handlers) PostMessage(c *gin.Context) {
	ctx := c.Request.Context()
	a, authed := middleware.ActorFrom(c)
	if !authed {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "session required")
		return
	}
	convID := c.Param("id")

	var req PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "text required")
		return
	}

	key, _ := middleware.GetIdempotencyKey(c)
	cmid := strings.TrimSpace(req.ClientMessageID)
	if cmid == "" {
		cmid = key
	}

	// A recorded key pins the request to the message it produced.
	if key != "" && h.db != nil {
		if rec, err := repo.GetIdempotency(ctx, h.db, a.Subject(), convID, key, time.Now().UTC()); err == nil {
			if prev, err := repo.GetMessage(ctx, h.db, rec.MessageID); err == nil && prev.ClientID() != "" {
				cmid = prev.ClientID()
			}
		}
	}

	res, err := h.messages.Send(ctx, a, services.SendInput{
		ConversationID:  convID,
		Text:            req.Text,
		ClientMessageID: cmid,
	})
	if err != nil {
		failFor(c, err, ErrCodeSendFailed)
		return
	}

	body := PostMessageResponse{Ack: res.Ack, Message: viewOf(res.Message)}
	if res.Duplicate {
		c.Header(middleware.HeaderIdempotencyReplayed, "true")
		ok(c, http.StatusOK, body)
		return
	}

	if key != "" && h.db != nil {
		if _, err := repo.CreateIdempotency(ctx, h.db, a.Subject(), convID, key, res.Message.ID, http.StatusCreated, h.idemTTL); err != nil && !errors.Is(err, repo.ErrDuplicate) {
			middleware.LoggerFrom(c).Warn().Err(err).Msg("store idempotency record")
		}
	}
	if h.announce != nil {
		if err := h.announce.AnnounceMessage(ctx, a.ChannelID, res.Message, ""); err != nil {
			middleware.LoggerFrom(c).Error().Err(err).Str("conversation_id", convID).Msg("announce message")
		}
	}
	ok(c, http.StatusCreated, body)
}

// ListMessages godoc
// @ID          listMessages
// @Summary     List messages in a conversation
// @Description Returns a page of history ordered by creation time. Widgets may omit
// @Description conversationId to read their own conversation.
// @Tags        Messages
// @Produce     json
// @Security    BearerAuth
// @Param       conversationId  query  string  false "Conversation ID (required for operators)"  format(uuid)
// @Param       page            query  int     false "Page number"     minimum(1) default(1)
// @Param       page_size       query  int     false "Items per page (alias: limit)"  minimum(1) maximum(200) default(50)
// @Success     200  {object} handlers.ListMessagesResponse
// @Success     304  "Not modified"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     401  {object} handlers.ErrorResponse "Unauthorized"
// @Failure     403  {object} handlers.ErrorResponse "Not your conversation"
// @Failure     404  {object} handlers.ErrorResponse "Conversation not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /messages [get]
func (h *Handlers) ListMessages(c *gin.Context) {
	ctx := c.Request.Context()
	a, authed := middleware.ActorFrom(c)
	if !authed {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "session required")
		return
	}
	convID := strings.TrimSpace(c.Query("conversationId"))
	if convID == "" && !a.Operator {
		convID = a.ConversationID
	}
	if convID == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "conversationId required")
		return
	}

	if err := h.access.AuthorizeConversation(ctx, a, convID); err != nil {
		failFor(c, err, ErrCodeListFailed)
		return
	}

	page, pageSize := clampPagination(c)

	// ETag pre-check (best effort). Stats are read only after authorization.
	if h.db != nil {
		if count, latest, err := repo.MessagesStats(ctx, h.db, convID); err == nil {
			var ts int64
			if latest != nil {
				ts = latest.UnixMicro()
			}
			etag := fmt.Sprintf(`W/"messages:%s:%d:%d:%d:%d"`, convID, count, ts, page, pageSize)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	items, total, err := h.messages.ListPage(ctx, a, convID, page, pageSize)
	if err != nil {
		failFor(c, err, ErrCodeListFailed)
		return
	}

	views := make([]MessageView, 0, len(items))
	for _, m := range items {
		views = append(views, viewOf(m))
	}
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListMessagesResponse{
		Messages: views,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}
