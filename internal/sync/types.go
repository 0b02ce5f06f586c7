// Package sync implements the mailbox synchronization engine: the job state
// machine and the orchestrator that pulls a remote mailbox's thread graph
// into the record and blob stores in resumable, duplicate-safe batches.
package sync

import (
	"context"
	"time"

	"github.com/inboxpilot/sync-worker/internal/extract"
	"github.com/inboxpilot/sync-worker/internal/models"
	"github.com/inboxpilot/sync-worker/internal/repository"
)

// ThreadPage is one page of thread-id stubs from the mailbox API.
type ThreadPage struct {
	IDs            []string
	NextPageToken  string
	EstimatedTotal int
}

// RawMessage is one hydrated message as delivered by the mailbox API.
type RawMessage struct {
	ExternalID       string
	ThreadExternalID string
	Snippet          string
	LabelIDs         []string
	InternalDate     time.Time
	Headers          []extract.Header
	Payload          extract.Part
}

// RawThread is one fully hydrated thread.
type RawThread struct {
	ExternalID string
	Messages   []RawMessage
}

// RemoteLabel is one label as delivered by the mailbox API.
type RemoteLabel struct {
	ExternalID         string
	Name               string
	Type               models.LabelType
	Color              *string
	LabelListVisible   bool
	MessageListVisible bool
}

// TokenRefreshResult carries a refreshed access token and, when the provider
// rotates it, a new refresh token.
type TokenRefreshResult struct {
	AccessToken  string
	ExpiresAt    time.Time
	RefreshToken string
}

// MailboxClient is the external mailbox API collaborator.
type MailboxClient interface {
	ListThreadIDs(ctx context.Context, accessToken, query string, pageSize int, pageToken string) (*ThreadPage, error)
	GetThread(ctx context.Context, accessToken, threadID string) (*RawThread, error)
	ListLabels(ctx context.Context, accessToken string) ([]RemoteLabel, error)
	GetAttachment(ctx context.Context, accessToken, messageID, attachmentID string) ([]byte, error)
	RefreshAccessToken(ctx context.Context, refreshToken string) (*TokenRefreshResult, error)
}

// BlobStore is the external object storage collaborator.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// UserStore is the record-store surface for mailbox owners.
type UserStore interface {
	GetByID(ctx context.Context, userID string) (*models.User, error)
	UpdateTokens(ctx context.Context, userID, accessToken, refreshToken string, expiresAt time.Time) error
	UpdateSyncStatus(ctx context.Context, userID string, status models.UserSyncStatus, lastSyncedAt *time.Time) error
}

// JobStore is the record-store surface for sync jobs.
type JobStore interface {
	Create(ctx context.Context, job *models.SyncJob) error
	Update(ctx context.Context, job *models.SyncJob) error
	FindRunning(ctx context.Context, userID string) (*models.SyncJob, error)
	FindLatest(ctx context.Context, userID string) (*models.SyncJob, error)
}

// LabelStore is the record-store surface for labels.
type LabelStore interface {
	UpsertBatch(ctx context.Context, labels []models.Label) error
}

// BatchWriter is the transactional grouping primitive of the record store:
// thread upserts land before message inserts, message inserts before
// attachment inserts, then label associations are rebuilt.
type BatchWriter interface {
	PersistBatch(ctx context.Context, batch *repository.PersistBatch) (*repository.PersistResult, error)
}

// BatchResult is returned from one bounded batch invocation; an external
// scheduler calls RunOneBatch repeatedly until Completed is true.
type BatchResult struct {
	Completed      bool
	Progress       int
	ProcessedItems int
	TotalItems     int
}

// Status is the owner-facing view of the latest sync attempt.
type Status struct {
	LastJob      *models.SyncJob
	LastSyncedAt *time.Time
}
