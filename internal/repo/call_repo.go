package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-sitechat/internal/domain"
)

// CreateCallRecord inserts a ringing record. A reused call id returns ErrDuplicate.
func CreateCallRecord(ctx context.Context, db *gorm.DB, rec *domain.CallRecord) error {
	if rec.Status == "" {
		rec.Status = domain.CallRinging
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetCallRecord fetches a call record by id, or ErrNotFound.
func GetCallRecord(ctx context.Context, db *gorm.DB, id string) (*domain.CallRecord, error) {
	var rec domain.CallRecord
	if err := db.WithContext(ctx).Where("id = ?", id).First(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// MarkCallInCall moves a live record to in_call. started_at is written only
// the first time. Terminal records return ErrCallClosed.
func MarkCallInCall(ctx context.Context, db *gorm.DB, id string, at time.Time) (*domain.CallRecord, error) {
	var out *domain.CallRecord
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := GetCallRecord(ctx, tx, id)
		if err != nil {
			return err
		}
		if rec.Terminal() {
			return ErrCallClosed
		}
		if err := tx.Model(&domain.CallRecord{}).
			Where("id = ?", id).
			Updates(map[string]any{
				"status":     domain.CallInCall,
				"started_at": gorm.Expr("COALESCE(started_at, ?)", at.UTC()),
				"updated_at": time.Now().UTC(),
			}).Error; err != nil {
			return err
		}
		out, err = GetCallRecord(ctx, tx, id)
		return err
	})
	return out, err
}

// EndCallRecord moves a record to a terminal status with ended_at and reason.
// An already terminal record is returned unchanged so the first end wins.
func EndCallRecord(ctx context.Context, db *gorm.DB, id, status, reason string, at time.Time) (*domain.CallRecord, error) {
	var out *domain.CallRecord
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := GetCallRecord(ctx, tx, id)
		if err != nil {
			return err
		}
		if rec.Terminal() {
			out = rec
			return nil
		}
		if err := tx.Model(&domain.CallRecord{}).
			Where("id = ?", id).
			Updates(map[string]any{
				"status":       status,
				"ended_at":     at.UTC(),
				"ended_reason": reason,
				"updated_at":   time.Now().UTC(),
			}).Error; err != nil {
			return err
		}
		out, err = GetCallRecord(ctx, tx, id)
		return err
	})
	return out, err
}

// ListStaleRinging returns ringing records created before olderThan, oldest first.
func ListStaleRinging(ctx context.Context, db *gorm.DB, olderThan time.Time, limit int) ([]domain.CallRecord, error) {
	out := []domain.CallRecord{}
	q := db.WithContext(ctx).
		Where("status = ? AND created_at < ?", domain.CallRinging, olderThan.UTC()).
		Order("created_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}
