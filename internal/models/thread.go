package models

import "time"

// Thread is one conversation, upserted by (user_id, external_id).
type Thread struct {
	ID              string     `gorm:"column:id;primaryKey"`
	UserID          string     `gorm:"column:user_id;uniqueIndex:idx_threads_user_external"`
	ExternalID      string     `gorm:"column:external_id;uniqueIndex:idx_threads_user_external"`
	Subject         string     `gorm:"column:subject"`
	Snippet         string     `gorm:"column:snippet"`
	LastMessageDate *time.Time `gorm:"column:last_message_date"`
	Unread          bool       `gorm:"column:unread"`
	Starred         bool       `gorm:"column:starred"`
	Important       bool       `gorm:"column:important"`
	MessageCount    int        `gorm:"column:message_count"`
	CreatedAt       time.Time  `gorm:"column:created_at"`
	UpdatedAt       time.Time  `gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM
func (Thread) TableName() string {
	return "threads"
}
