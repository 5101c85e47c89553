// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate queries used for
// conditional responses (ETag generation) in the HTTP layer.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-sitechat/internal/domain"
)

// MessagesStats returns the number of messages in a conversation and the
// greatest created_at among them (nil when empty). Messages are immutable,
// so the pair changes exactly when the history does.
func MessagesStats(ctx context.Context, db *gorm.DB, conversationID string) (count int64, latest *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.Message{}).Where("conversation_id = ?", conversationID)

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Order+limit instead of MAX(): SQLite returns MAX over a time column as TEXT.
	var row struct {
		CreatedAt time.Time
	}
	if err = db.WithContext(ctx).Model(&domain.Message{}).
		Where("conversation_id = ?", conversationID).
		Select("created_at").Order("created_at DESC").Limit(1).
		Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.CreatedAt, nil
}
