package models

import "time"

type UserSyncStatus string

const (
	UserSyncIdle      UserSyncStatus = "IDLE"
	UserSyncRunning   UserSyncStatus = "RUNNING"
	UserSyncCompleted UserSyncStatus = "COMPLETED"
	UserSyncFailed    UserSyncStatus = "FAILED"
)

// User represents a mailbox owner and their OAuth credentials
type User struct {
	ID                   string         `gorm:"column:id;primaryKey"`
	Email                string         `gorm:"column:email;uniqueIndex"`
	AccessToken          *string        `gorm:"column:access_token"`
	RefreshToken         *string        `gorm:"column:refresh_token"`
	AccessTokenExpiresAt *time.Time     `gorm:"column:access_token_expires_at"`
	SyncStatus           UserSyncStatus `gorm:"column:sync_status"`
	LastSyncedAt         *time.Time     `gorm:"column:last_synced_at"`
	CreatedAt            time.Time      `gorm:"column:created_at"`
	UpdatedAt            time.Time      `gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM
func (User) TableName() string {
	return "users"
}
