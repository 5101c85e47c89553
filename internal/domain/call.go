package domain

import "time"

// Call kinds.
const (
	CallAudio = "audio"
	CallVideo = "video"
)

// Call record statuses. ended, busy and failed are terminal.
const (
	CallRinging = "ringing"
	CallInCall  = "in_call"
	CallEnded   = "ended"
	CallBusy    = "busy"
	CallFailed  = "failed"
)

// CallRecord tracks one call attempt. The id is chosen by the calling client.
type CallRecord struct {
	ID             string     `json:"id"                     gorm:"type:varchar(128);primaryKey"`
	ChannelID      string     `json:"channel_id"             gorm:"type:varchar(64);not null;index"`
	ConversationID string     `json:"conversation_id"        gorm:"type:char(36);not null;index"`
	Kind           string     `json:"kind"                   gorm:"type:varchar(8);not null;check:kind IN ('audio','video')"`
	Status         string     `json:"status"                 gorm:"type:varchar(16);not null;index:idx_call_status_created,priority:1"`
	CreatedByRole  string     `json:"created_by_role"        gorm:"type:varchar(16);not null"`
	CreatedByID    string     `json:"created_by_id"          gorm:"type:varchar(64);not null;default:''"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	EndedReason    string     `json:"ended_reason,omitempty" gorm:"type:varchar(64);not null;default:''"`
	CreatedAt      time.Time  `json:"created_at"             gorm:"index:idx_call_status_created,priority:2"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// TableName returns the database table name for CallRecord.
func (CallRecord) TableName() string { return "call_records" }

// Terminal reports whether the record reached a final status.
func (c CallRecord) Terminal() bool {
	switch c.Status {
	case CallEnded, CallBusy, CallFailed:
		return true
	}
	return false
}
