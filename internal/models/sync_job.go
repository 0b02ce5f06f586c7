package models

import "time"

type SyncJobStatus string

const (
	JobStatusRunning   SyncJobStatus = "RUNNING"
	JobStatusCompleted SyncJobStatus = "COMPLETED"
	JobStatusFailed    SyncJobStatus = "FAILED"
)

type SyncJobType string

const (
	SyncTypeFull    SyncJobType = "FULL"    // Full mailbox backfill
	SyncTypePartial SyncJobType = "PARTIAL" // Threads newer than the last completed sync
)

// SyncJob is one persisted attempt at synchronizing a user's mailbox.
// A RUNNING job with a non-nil NextPageToken is paused and resumable;
// COMPLETED and FAILED are terminal.
type SyncJob struct {
	ID             string        `gorm:"column:id;primaryKey"`
	UserID         string        `gorm:"column:user_id;index"`
	Status         SyncJobStatus `gorm:"column:status;index"`
	SyncType       SyncJobType   `gorm:"column:sync_type"`
	ProcessedItems int           `gorm:"column:processed_items"`
	TotalItems     int           `gorm:"column:total_items"`
	Progress       int           `gorm:"column:progress"`
	NextPageToken  *string       `gorm:"column:next_page_token"`
	StartedAt      time.Time     `gorm:"column:started_at"`
	CompletedAt    *time.Time    `gorm:"column:completed_at"`
	Error          *string       `gorm:"column:error"`
	CreatedAt      time.Time     `gorm:"column:created_at"`
	UpdatedAt      time.Time     `gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM
func (SyncJob) TableName() string {
	return "sync_jobs"
}

// Terminal reports whether the job can no longer make progress.
func (j *SyncJob) Terminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}
