package sync

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/inboxpilot/sync-worker/internal/models"
	"github.com/inboxpilot/sync-worker/internal/repository"
)

// JobManager owns the persisted sync-job state machine:
// NONE -> RUNNING -> {COMPLETED, FAILED}. A RUNNING job with a saved
// NextPageToken is paused and resumable.
type JobManager struct {
	jobs  JobStore
	users UserStore
	log   zerolog.Logger
}

func NewJobManager(jobs JobStore, users UserStore, log zerolog.Logger) *JobManager {
	return &JobManager{
		jobs:  jobs,
		users: users,
		log:   log.With().Str("component", "jobs").Logger(),
	}
}

// StartOrResume returns the user's RUNNING job if one exists (resume path),
// otherwise creates a fresh one. At most one RUNNING job exists per user;
// callers must treat this as a check-and-reuse operation, never create
// blindly.
func (m *JobManager) StartOrResume(ctx context.Context, userID string, syncType models.SyncJobType) (*models.SyncJob, bool, error) {
	existing, err := m.jobs.FindRunning(ctx, userID)
	if err == nil {
		m.log.Debug().Str("job_id", existing.ID).Str("user_id", userID).Msg("resuming running job")
		return existing, true, nil
	}
	if !errors.Is(err, repository.ErrJobNotFound) {
		return nil, false, fmt.Errorf("failed to look up running job: %w", err)
	}

	now := time.Now()
	job := &models.SyncJob{
		ID:        uuid.New().String(),
		UserID:    userID,
		Status:    models.JobStatusRunning,
		SyncType:  syncType,
		StartedAt: now,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := m.jobs.Create(ctx, job); err != nil {
		return nil, false, fmt.Errorf("failed to create sync job: %w", err)
	}

	if err := m.users.UpdateSyncStatus(ctx, userID, models.UserSyncRunning, nil); err != nil {
		return nil, false, fmt.Errorf("failed to mark user syncing: %w", err)
	}

	m.log.Info().Str("job_id", job.ID).Str("user_id", userID).Str("type", string(syncType)).Msg("created sync job")
	return job, false, nil
}

// RecordProgress persists the job counters. The total is clamped up to the
// processed count and the derived percentage never regresses or exceeds 100,
// so repeated calls with non-decreasing processed values are idempotent.
func (m *JobManager) RecordProgress(ctx context.Context, job *models.SyncJob, processed, totalEstimate int) error {
	total := totalEstimate
	if processed > total {
		total = processed
	}

	progress := job.Progress
	if total > 0 {
		p := int(math.Round(float64(processed) / float64(total) * 100))
		if p > 100 {
			p = 100
		}
		if p > progress {
			progress = p
		}
	}

	job.ProcessedItems = processed
	job.TotalItems = total
	job.Progress = progress
	job.UpdatedAt = time.Now()

	if err := m.jobs.Update(ctx, job); err != nil {
		return fmt.Errorf("failed to record progress: %w", err)
	}
	return nil
}

// Pause saves the continuation cursor and leaves the job RUNNING: more work
// remains and a later invocation picks up from the cursor.
func (m *JobManager) Pause(ctx context.Context, job *models.SyncJob, cursor string) error {
	job.NextPageToken = &cursor
	job.UpdatedAt = time.Now()

	if err := m.jobs.Update(ctx, job); err != nil {
		return fmt.Errorf("failed to pause job: %w", err)
	}

	m.log.Debug().Str("job_id", job.ID).Msg("job paused with cursor")
	return nil
}

// Complete transitions the job to a terminal state, clears the cursor and
// mirrors the outcome onto the owner's sync status. COMPLETED forces
// progress to 100 and stamps the owner's last-synced time.
func (m *JobManager) Complete(ctx context.Context, job *models.SyncJob, status models.SyncJobStatus, errMessage *string) error {
	// Terminal states are final; a racing second completion is a no-op.
	if job.Terminal() {
		return nil
	}

	now := time.Now()
	job.Status = status
	job.CompletedAt = &now
	job.NextPageToken = nil
	job.Error = errMessage
	job.UpdatedAt = now
	if status == models.JobStatusCompleted {
		job.Progress = 100
	}

	if err := m.jobs.Update(ctx, job); err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}

	switch status {
	case models.JobStatusCompleted:
		if err := m.users.UpdateSyncStatus(ctx, job.UserID, models.UserSyncCompleted, &now); err != nil {
			return fmt.Errorf("failed to update user sync status: %w", err)
		}
	case models.JobStatusFailed:
		if err := m.users.UpdateSyncStatus(ctx, job.UserID, models.UserSyncFailed, nil); err != nil {
			return fmt.Errorf("failed to update user sync status: %w", err)
		}
	}

	m.log.Info().Str("job_id", job.ID).Str("status", string(status)).Msg("sync job finished")
	return nil
}

// GetStatus returns the owner-facing view of the latest sync attempt.
func (m *JobManager) GetStatus(ctx context.Context, userID string) (*Status, error) {
	user, err := m.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	status := &Status{LastSyncedAt: user.LastSyncedAt}

	job, err := m.jobs.FindLatest(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrJobNotFound) {
			return status, nil
		}
		return nil, fmt.Errorf("failed to get latest job: %w", err)
	}

	status.LastJob = job
	return status, nil
}
