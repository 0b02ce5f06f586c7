package models

import "time"

type LabelType string

const (
	LabelTypeSystem LabelType = "SYSTEM"
	LabelTypeUser   LabelType = "USER"
)

// Label is a mailbox label, upserted by (user_id, external_id).
type Label struct {
	ID                 string    `gorm:"column:id;primaryKey"`
	UserID             string    `gorm:"column:user_id;uniqueIndex:idx_labels_user_external"`
	ExternalID         string    `gorm:"column:external_id;uniqueIndex:idx_labels_user_external"`
	Name               string    `gorm:"column:name"`
	Type               LabelType `gorm:"column:type"`
	Color              *string   `gorm:"column:color"`
	LabelListVisible   bool      `gorm:"column:label_list_visible"`
	MessageListVisible bool      `gorm:"column:message_list_visible"`
	CreatedAt          time.Time `gorm:"column:created_at"`
	UpdatedAt          time.Time `gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM
func (Label) TableName() string {
	return "labels"
}

// LabelThread associates a label with a thread. The pair is unique and the
// set for a thread is rebuilt wholesale on every sync pass.
type LabelThread struct {
	LabelID   string    `gorm:"column:label_id;primaryKey"`
	ThreadID  string    `gorm:"column:thread_id;primaryKey"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

// TableName specifies the table name for GORM
func (LabelThread) TableName() string {
	return "label_threads"
}
