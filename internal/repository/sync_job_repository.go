package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/inboxpilot/sync-worker/internal/models"
)

var ErrJobNotFound = errors.New("sync job not found")

type SyncJobRepository struct {
	db *gorm.DB
}

func NewSyncJobRepository(db *gorm.DB) *SyncJobRepository {
	return &SyncJobRepository{db: db}
}

// Create creates a new sync job
func (r *SyncJobRepository) Create(ctx context.Context, job *models.SyncJob) error {
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("failed to create sync job: %w", err)
	}
	return nil
}

// Update persists the job's counters, cursor and status
func (r *SyncJobRepository) Update(ctx context.Context, job *models.SyncJob) error {
	if err := r.db.WithContext(ctx).Save(job).Error; err != nil {
		return fmt.Errorf("failed to update sync job: %w", err)
	}
	return nil
}

// FindRunning returns the user's RUNNING job, if any. The serialization
// point for concurrent sync triggers: callers reuse this row instead of
// creating a second job.
func (r *SyncJobRepository) FindRunning(ctx context.Context, userID string) (*models.SyncJob, error) {
	var job models.SyncJob
	result := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, models.JobStatusRunning).
		Order("started_at DESC").
		First(&job)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to find running job: %w", result.Error)
	}
	return &job, nil
}

// FindLatest returns the user's most recent job regardless of status
func (r *SyncJobRepository) FindLatest(ctx context.Context, userID string) (*models.SyncJob, error) {
	var job models.SyncJob
	result := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("started_at DESC").
		First(&job)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to find latest job: %w", result.Error)
	}
	return &job, nil
}

// FindResumable returns RUNNING jobs ordered by least recently touched,
// so the watcher spreads batches across owners round-robin.
func (r *SyncJobRepository) FindResumable(ctx context.Context, limit int) ([]models.SyncJob, error) {
	var jobs []models.SyncJob
	result := r.db.WithContext(ctx).
		Where("status = ?", models.JobStatusRunning).
		Order("updated_at ASC").
		Limit(limit).
		Find(&jobs)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to find resumable jobs: %w", result.Error)
	}
	return jobs, nil
}
