package models

import "time"

// Attachment metadata for one message part; bytes live in the blob store
// under BlobKey. Unique per (message_id, external_id).
type Attachment struct {
	ID         string    `gorm:"column:id;primaryKey"`
	MessageID  string    `gorm:"column:message_id;uniqueIndex:idx_attachments_message_external"`
	ExternalID string    `gorm:"column:external_id;uniqueIndex:idx_attachments_message_external"`
	Filename   string    `gorm:"column:filename"`
	MimeType   string    `gorm:"column:mime_type"`
	Size       int64     `gorm:"column:size"`
	BlobKey    string    `gorm:"column:blob_key"`
	CreatedAt  time.Time `gorm:"column:created_at"`
	UpdatedAt  time.Time `gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM
func (Attachment) TableName() string {
	return "attachments"
}
