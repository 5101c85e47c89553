package domain

import "time"

// Idempotency records the message produced for an Idempotency-Key on the REST
// send endpoint, keyed by (subject, conversation_id, key). A replayed request
// returns the stored message instead of sending again.
type Idempotency struct {
	ID             string    `gorm:"type:varchar(36);primaryKey"`
	Subject        string    `gorm:"type:varchar(64);not null;uniqueIndex:ux_subject_conv_key,priority:1"`
	ConversationID string    `gorm:"type:varchar(36);not null;uniqueIndex:ux_subject_conv_key,priority:2"`
	Key            string    `gorm:"type:varchar(128);not null;uniqueIndex:ux_subject_conv_key,priority:3"`
	MessageID      string    `gorm:"type:varchar(36);not null"`
	Status         int       `gorm:"not null"`
	CreatedAt      time.Time `gorm:"not null;autoCreateTime"`
	ExpiresAt      time.Time `gorm:"not null;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
