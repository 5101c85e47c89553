// Package domain defines the persistence models for channels, conversations,
// messages and call records. These types are mapped with GORM and form the
// durable boundary of the realtime chat core.
package domain

import (
	"strings"
	"time"
)

// Sender types stored on Message.SenderType.
const (
	SenderVisitor  = "visitor"
	SenderOperator = "operator"
)

// ConversationOpen is the only status a conversation takes in this system.
const ConversationOpen = "open"

// Channel is a tenant's configured chat endpoint.
//
// AllowedDomains is a comma-separated list of host names a widget may be
// embedded on. An empty list means the channel is unconfigured and any origin
// is accepted.
type Channel struct {
	ID             string    `json:"id"              gorm:"type:varchar(64);primaryKey"`
	Name           string    `json:"name"            gorm:"type:varchar(255);not null;default:''"`
	AllowedDomains string    `json:"allowed_domains" gorm:"type:text;not null;default:''"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName returns the database table name for Channel.
func (Channel) TableName() string { return "channels" }

// Domains returns the normalized allow-list (lower-cased, no blanks).
func (c Channel) Domains() []string {
	if strings.TrimSpace(c.AllowedDomains) == "" {
		return nil
	}
	parts := strings.Split(c.AllowedDomains, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if d := strings.ToLower(strings.TrimSpace(p)); d != "" {
			out = append(out, d)
		}
	}
	return out
}

// Membership grants an operator access to a channel.
type Membership struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	ChannelID string    `json:"channel_id" gorm:"type:varchar(64);not null;uniqueIndex:ux_member_channel_user,priority:1"`
	UserID    string    `json:"user_id"    gorm:"type:varchar(64);not null;uniqueIndex:ux_member_channel_user,priority:2"`
	Role      string    `json:"role"       gorm:"type:varchar(32);not null;default:'agent'"`
	Active    bool      `json:"active"     gorm:"not null"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Channel Channel `json:"-" gorm:"foreignKey:ChannelID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Membership.
func (Membership) TableName() string { return "memberships" }

// Conversation is one visitor thread on a channel. A widget session reuses
// the open conversation for (channel, visitor) so a page refresh keeps history.
type Conversation struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	ChannelID string    `json:"channel_id" gorm:"type:varchar(64);not null;index:idx_conv_lookup,priority:1"`
	VisitorID string    `json:"visitor_id" gorm:"type:varchar(64);not null;index:idx_conv_lookup,priority:2"`
	Status    string    `json:"status"     gorm:"type:varchar(16);not null;default:'open';index:idx_conv_lookup,priority:3"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Channel Channel `json:"-" gorm:"foreignKey:ChannelID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Conversation.
func (Conversation) TableName() string { return "conversations" }

// Message is a single chat line. Rows are never mutated or deleted.
//
// ClientMessageID is the sender's idempotency key. The unique index on it is
// what guarantees at most one row per logical send under retries; NULLs do
// not collide.
type Message struct {
	ID              string    `json:"id"                          gorm:"type:char(36);primaryKey"`
	ClientMessageID *string   `json:"client_message_id,omitempty" gorm:"type:varchar(128);uniqueIndex:ux_messages_client_id"`
	ConversationID  string    `json:"conversation_id"             gorm:"type:char(36);not null;index:idx_conv_msgs,priority:1"`
	SenderType      string    `json:"sender_type"                 gorm:"type:varchar(16);not null;check:sender_type IN ('visitor','operator')"`
	SenderID        *string   `json:"sender_id,omitempty"         gorm:"type:varchar(64)"`
	Text            string    `json:"text"                        gorm:"type:text;not null"`
	CreatedAt       time.Time `json:"created_at"                  gorm:"not null;index:idx_conv_msgs,priority:2"`

	Conversation Conversation `json:"-" gorm:"foreignKey:ConversationID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// ClientID returns the client message id or "" when absent.
func (m Message) ClientID() string {
	if m.ClientMessageID == nil {
		return ""
	}
	return *m.ClientMessageID
}
