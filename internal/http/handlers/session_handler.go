// Session HTTP handlers.
//
//   - POST /widget/session    (visitor credential bound to a conversation)
//   - POST /operator/session  (operator credential bound to a channel)
//
// Operator identity comes from X-User-ID, set by the identity proxy in front
// of the operator console; this service only checks membership.
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-sitechat/internal/services"
	"github.com/tbourn/go-sitechat/internal/sysutil"
)

// WidgetSessionRequest opens or resumes a visitor conversation.
type WidgetSessionRequest struct {
	ChannelID string `json:"channelId" binding:"required" example:"ch_shop"`
	// VisitorID resumes an earlier visitor; a new one is generated when empty.
	VisitorID string `json:"visitorId" example:"4b7f0d3e-2a8c-4f61-9d0e-5a6b7c8d9e0f"`
}

// OperatorSessionRequest names the channel an operator wants to serve.
type OperatorSessionRequest struct {
	ChannelID string `json:"channelId" binding:"required" example:"ch_shop"`
}

// PostWidgetSession godoc
// @ID          postWidgetSession
// @Summary     Start a widget session
// @Description Resolves the visitor's open conversation (creating one when needed) and returns a
// @Description short-lived credential for /ws/widget. The Origin header must be on the channel allow-list.
// @Tags        Sessions
// @Accept      json
// @Produce     json
// @Param       Origin  header  string                           true  "Embedding page origin"  example(https://shop.example.com)
// @Param       body    body    handlers.WidgetSessionRequest    true  "Channel and optional visitor"
// @Success     201  {object}  services.WidgetSession
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     403  {object}  handlers.ErrorResponse  "Domain not allowed"
// @Failure     404  {object}  handlers.ErrorResponse  "Channel not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /widget/session [post]
func (h *Handlers) PostWidgetSession(c *gin.Context) {
	var req WidgetSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "channelId required")
		return
	}
	origin := sysutil.EmbeddingOrigin(c.Request.Header)
	s, err := h.sessions.StartWidgetSession(c.Request.Context(), req.ChannelID, req.VisitorID, origin)
	if err != nil {
		failFor(c, err, ErrCodeSessionFailed)
		return
	}
	ok(c, http.StatusCreated, s)
}

// PostOperatorSession godoc
// @ID          postOperatorSession
// @Summary     Start an operator session
// @Description Returns a short-lived credential for /ws/operator when the user has an active membership.
// @Tags        Sessions
// @Accept      json
// @Produce     json
// @Param       X-User-ID  header  string                            true  "Operator user id"  example(op_42)
// @Param       body       body    handlers.OperatorSessionRequest   true  "Channel"
// @Success     201  {object}  services.OperatorSession
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Missing user"
// @Failure     403  {object}  handlers.ErrorResponse  "Not a member"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /operator/session [post]
func (h *Handlers) PostOperatorSession(c *gin.Context) {
	userID := strings.TrimSpace(c.GetHeader("X-User-ID"))
	if userID == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "X-User-ID required")
		return
	}
	var req OperatorSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "channelId required")
		return
	}

	s, err := h.sessions.StartOperatorSession(c.Request.Context(), req.ChannelID, userID)
	if err != nil {
		failFor(c, err, ErrCodeSessionFailed)
		return
	}
	ok(c, http.StatusCreated, s)
}

// compile-time check
var _ SessionService = (*services.SessionService)(nil)
