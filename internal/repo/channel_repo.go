package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-sitechat/internal/domain"
)

// CreateChannel inserts a channel with an optional domain allow-list.
func CreateChannel(ctx context.Context, db *gorm.DB, id, name string, allowedDomains []string) (*domain.Channel, error) {
	if strings.TrimSpace(id) == "" {
		id = uuid.NewString()
	}
	ch := &domain.Channel{
		ID:             id,
		Name:           name,
		AllowedDomains: strings.Join(allowedDomains, ","),
	}
	if err := db.WithContext(ctx).Create(ch).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return ch, nil
}

// GetChannel fetches a channel by id, or ErrNotFound.
func GetChannel(ctx context.Context, db *gorm.DB, id string) (*domain.Channel, error) {
	var ch domain.Channel
	if err := db.WithContext(ctx).Where("id = ?", id).First(&ch).Error; err != nil {
		return nil, err
	}
	return &ch, nil
}

// UpsertMembership creates or updates the (channel, user) membership row.
func UpsertMembership(ctx context.Context, db *gorm.DB, channelID, userID, role string, active bool) (*domain.Membership, error) {
	m := &domain.Membership{
		ID:        uuid.NewString(),
		ChannelID: channelID,
		UserID:    userID,
		Role:      role,
		Active:    active,
		UpdatedAt: time.Now().UTC(),
	}
	err := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "channel_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"role", "active", "updated_at"}),
	}).Create(m).Error
	if err != nil {
		return nil, err
	}
	var out domain.Membership
	if err := db.WithContext(ctx).
		Where("channel_id = ? AND user_id = ?", channelID, userID).
		First(&out).Error; err != nil {
		return nil, err
	}
	return &out, nil
}

// GetMembership returns the (channel, user) membership row, active or not.
func GetMembership(ctx context.Context, db *gorm.DB, channelID, userID string) (*domain.Membership, error) {
	var m domain.Membership
	if err := db.WithContext(ctx).
		Where("channel_id = ? AND user_id = ?", channelID, userID).
		First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// IsActiveMember reports whether userID has an active membership on channelID.
func IsActiveMember(ctx context.Context, db *gorm.DB, channelID, userID string) (bool, error) {
	m, err := GetMembership(ctx, db, channelID, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return m.Active, nil
}
