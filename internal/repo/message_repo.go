package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-sitechat/internal/domain"
)

// messageOrder is the deterministic read order used everywhere messages are
// listed: createdAt first, then the server id, then the client id.
const messageOrder = "created_at ASC, id ASC, client_message_id ASC"

// InsertMessage persists m, assigning a UUID when m.ID is empty.
// A clash on client_message_id returns ErrDuplicate.
func InsertMessage(ctx context.Context, db *gorm.DB, m *domain.Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if err := db.WithContext(ctx).Create(m).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetMessageByClientID looks up the row persisted for a client message id.
func GetMessageByClientID(ctx context.Context, db *gorm.DB, clientMessageID string) (*domain.Message, error) {
	var m domain.Message
	if err := db.WithContext(ctx).Where("client_message_id = ?", clientMessageID).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// GetMessage fetches a message by server id.
func GetMessage(ctx context.Context, db *gorm.DB, id string) (*domain.Message, error) {
	var m domain.Message
	if err := db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMessagesSince returns up to limit messages of a conversation created
// strictly after since (all messages when since is nil), in read order.
func ListMessagesSince(ctx context.Context, db *gorm.DB, conversationID string, since *time.Time, limit int) ([]domain.Message, error) {
	out := []domain.Message{}
	q := db.WithContext(ctx).Where("conversation_id = ?", conversationID)
	if since != nil {
		q = q.Where("created_at > ?", since.UTC())
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Order(messageOrder).Find(&out).Error
	return out, err
}

// CountMessages uses a raw COUNT so a missing table surfaces as an error.
func CountMessages(ctx context.Context, db *gorm.DB, conversationID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Raw("SELECT COUNT(*) FROM messages WHERE conversation_id = ?", conversationID).
		Scan(&total).Error
	return total, err
}

// ListMessagesPage returns a paginated slice in read order.
func ListMessagesPage(ctx context.Context, db *gorm.DB, conversationID string, offset, limit int) ([]domain.Message, error) {
	out := []domain.Message{}
	err := db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order(messageOrder).
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}
