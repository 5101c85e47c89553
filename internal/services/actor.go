package services

import (
	"github.com/tbourn/go-sitechat/internal/auth"
	"github.com/tbourn/go-sitechat/internal/domain"
)

// Actor is the verified session context a connection or request acts under.
// Visitors are bound to one conversation; operators to a channel.
type Actor struct {
	Operator       bool
	ChannelID      string
	ConversationID string
	VisitorID      string
	UserID         string
	Role           string
}

// ActorFromClaims builds the session context carried by a verified token.
func ActorFromClaims(c *auth.Claims) Actor {
	return Actor{
		Operator:       c.Kind == auth.KindOperator,
		ChannelID:      c.ChannelID,
		ConversationID: c.ConversationID,
		VisitorID:      c.VisitorID,
		UserID:         c.UserID,
		Role:           c.Role,
	}
}

// SenderType is the value stored on Message.SenderType.
func (a Actor) SenderType() string {
	if a.Operator {
		return domain.SenderOperator
	}
	return domain.SenderVisitor
}

// SenderID is nil for visitors.
func (a Actor) SenderID() *string {
	if !a.Operator || a.UserID == "" {
		return nil
	}
	id := a.UserID
	return &id
}

// FromRole is the role announced on call signaling events.
func (a Actor) FromRole() string {
	if a.Operator {
		return domain.SenderOperator
	}
	return domain.SenderVisitor
}

// Subject identifies the actor for idempotency records and logs.
func (a Actor) Subject() string {
	if a.Operator {
		return "operator:" + a.UserID
	}
	return "visitor:" + a.VisitorID
}
