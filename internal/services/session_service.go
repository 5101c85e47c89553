// Package services – SessionService
//
// SessionService is the session issuer surface: it resolves the widget's
// conversation (reusing the open one so a page refresh keeps history) and
// mints the short-lived credentials the gateway verifies.
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-sitechat/internal/auth"
	"github.com/tbourn/go-sitechat/internal/repo"
)

// WidgetSession is returned to an embedded widget.
type WidgetSession struct {
	Token          string    `json:"token"`
	ExpiresAt      time.Time `json:"expiresAt"`
	ChannelID      string    `json:"channelId"`
	ConversationID string    `json:"conversationId"`
	VisitorID      string    `json:"visitorId"`
}

// OperatorSession is returned to an operator client.
type OperatorSession struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	ChannelID string    `json:"channelId"`
	UserID    string    `json:"userId"`
	Role      string    `json:"role"`
}

// SessionService mints widget and operator credentials.
type SessionService struct {
	DB     *gorm.DB
	Issuer *auth.Issuer
	Access *AccessService
}

// StartWidgetSession reuses or creates the open conversation for
// channel+visitor and returns a widget token bound to it. A visitor id is
// generated when visitorID is empty. origin is checked against the channel's
// allow-list.
func (s *SessionService) StartWidgetSession(ctx context.Context, channelID, visitorID, origin string) (*WidgetSession, error) {
	tr := otel.Tracer("services/SessionService")
	ctx, span := tr.Start(ctx, "StartWidgetSession",
		trace.WithAttributes(attribute.String("channel.id", channelID)),
	)
	defer span.End()

	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return nil, ErrChannelNotFound
	}
	if err := s.Access.CheckDomain(ctx, channelID, origin); err != nil {
		return nil, err
	}

	visitorID = strings.TrimSpace(visitorID)
	if visitorID == "" {
		visitorID = uuid.NewString()
	}

	conv, err := repo.FindOpenConversation(ctx, s.DB, channelID, visitorID)
	if errors.Is(err, repo.ErrNotFound) {
		conv, err = repo.CreateConversation(ctx, s.DB, channelID, visitorID)
	}
	if err != nil {
		return nil, persistErr("resolve conversation", err)
	}

	tok, exp, err := s.Issuer.IssueWidget(channelID, conv.ID, visitorID)
	if err != nil {
		return nil, err
	}
	return &WidgetSession{
		Token:          tok,
		ExpiresAt:      exp,
		ChannelID:      channelID,
		ConversationID: conv.ID,
		VisitorID:      visitorID,
	}, nil
}

// StartOperatorSession requires an active membership and returns an operator
// token carrying the membership role.
func (s *SessionService) StartOperatorSession(ctx context.Context, channelID, userID string) (*OperatorSession, error) {
	tr := otel.Tracer("services/SessionService")
	ctx, span := tr.Start(ctx, "StartOperatorSession",
		trace.WithAttributes(
			attribute.String("channel.id", channelID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	if strings.TrimSpace(channelID) == "" || strings.TrimSpace(userID) == "" {
		return nil, ErrNotMember
	}
	m, err := repo.GetMembership(ctx, s.DB, channelID, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrNotMember
		}
		return nil, persistErr("load membership", err)
	}
	if !m.Active {
		return nil, ErrNotMember
	}
	role := m.Role
	if role == "" {
		role = "agent"
	}

	tok, exp, err := s.Issuer.IssueOperator(channelID, userID, role)
	if err != nil {
		return nil, err
	}
	return &OperatorSession{
		Token:     tok,
		ExpiresAt: exp,
		ChannelID: channelID,
		UserID:    userID,
		Role:      role,
	}, nil
}
