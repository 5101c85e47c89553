// Package repo implements the data persistence layer for domain entities,
// backed by GORM.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions. They follow the "thin repository"
// approach: no business logic, only persistence and query composition.
//
// Error semantics:
//   - Missing rows surface as ErrNotFound (gorm.ErrRecordNotFound).
//   - Unique violations on inserts the protocol relies on surface as ErrDuplicate.
//   - Everything else is the raw GORM error.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-sitechat/internal/domain"
)

// FindOpenConversation returns the open conversation for (channel, visitor).
// When several exist the most recently updated one wins.
func FindOpenConversation(ctx context.Context, db *gorm.DB, channelID, visitorID string) (*domain.Conversation, error) {
	var c domain.Conversation
	err := db.WithContext(ctx).
		Where("channel_id = ? AND visitor_id = ? AND status = ?", channelID, visitorID, domain.ConversationOpen).
		Order("updated_at DESC, id ASC").
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateConversation inserts an open conversation with a UUID id.
func CreateConversation(ctx context.Context, db *gorm.DB, channelID, visitorID string) (*domain.Conversation, error) {
	now := time.Now().UTC()
	c := &domain.Conversation{
		ID:        uuid.NewString(),
		ChannelID: channelID,
		VisitorID: visitorID,
		Status:    domain.ConversationOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.WithContext(ctx).Create(c).Error; err != nil {
		return nil, err
	}
	return c, nil
}

// GetConversation fetches a conversation by id, or ErrNotFound.
func GetConversation(ctx context.Context, db *gorm.DB, id string) (*domain.Conversation, error) {
	var c domain.Conversation
	if err := db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// TouchConversation bumps updated_at. Returns ErrNotFound if no row matched.
func TouchConversation(ctx context.Context, db *gorm.DB, id string, at time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("id = ?", id).
		Update("updated_at", at.UTC())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
