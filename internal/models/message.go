package models

import "time"

// Message is one mail message inside a thread. ExternalID is the remote
// system's globally unique message id; rows are inserted with
// skip-on-conflict semantics so a re-synced thread never overwrites
// locally known messages.
type Message struct {
	ID             string     `gorm:"column:id;primaryKey"`
	ThreadID       string     `gorm:"column:thread_id;index"`
	ExternalID     string     `gorm:"column:external_id;uniqueIndex"`
	FromAddress    string     `gorm:"column:from_address"`
	ToAddresses    string     `gorm:"column:to_addresses"`
	CcAddresses    string     `gorm:"column:cc_addresses"`
	BccAddresses   string     `gorm:"column:bcc_addresses"`
	Subject        string     `gorm:"column:subject"`
	SentAt         *time.Time `gorm:"column:sent_at"`
	Snippet        string     `gorm:"column:snippet"`
	BodyText       string     `gorm:"column:body_text"`
	BodyBlobKey    *string    `gorm:"column:body_blob_key"`
	InReplyTo      string     `gorm:"column:in_reply_to"`
	References     string     `gorm:"column:reference_ids"`
	LabelIDs       string     `gorm:"column:label_ids"`
	HasAttachments bool       `gorm:"column:has_attachments"`
	CreatedAt      time.Time  `gorm:"column:created_at"`
	UpdatedAt      time.Time  `gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM
func (Message) TableName() string {
	return "messages"
}
