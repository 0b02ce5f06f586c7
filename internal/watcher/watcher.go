// Package watcher drives paused sync jobs to completion, one bounded batch
// per poll tick, playing the external-scheduler role of the trigger surface.
package watcher

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/inboxpilot/sync-worker/internal/config"
	"github.com/inboxpilot/sync-worker/internal/models"
	"github.com/inboxpilot/sync-worker/internal/sync"
)

// Jobs per tick. Each job advances by exactly one batch, so a small limit
// keeps one owner from starving the rest.
const jobsPerTick = 5

// SyncRunner advances one owner's sync by a single bounded batch.
type SyncRunner interface {
	RunOneBatch(ctx context.Context, userID string) (*sync.BatchResult, error)
}

// JobFinder lists RUNNING jobs that still have work.
type JobFinder interface {
	FindResumable(ctx context.Context, limit int) ([]models.SyncJob, error)
}

type Watcher struct {
	cfg    *config.Config
	jobs   JobFinder
	runner SyncRunner
	log    zerolog.Logger
}

func New(cfg *config.Config, jobs JobFinder, runner SyncRunner, log zerolog.Logger) *Watcher {
	return &Watcher{
		cfg:    cfg,
		jobs:   jobs,
		runner: runner,
		log:    log.With().Str("component", "watcher").Logger(),
	}
}

// Start begins polling for resumable sync jobs until the context is
// cancelled. The initial sweep picks up RUNNING jobs left behind by a
// previous process.
func (w *Watcher) Start(ctx context.Context) error {
	w.log.Info().Dur("poll_interval", w.cfg.PollInterval).Msg("starting sync watcher")

	if err := w.processResumableJobs(ctx); err != nil {
		w.log.Warn().Err(err).Msg("startup sweep failed")
	}

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("watcher shutting down")
			return ctx.Err()
		case <-ticker.C:
			if err := w.processResumableJobs(ctx); err != nil {
				w.log.Error().Err(err).Msg("error processing resumable jobs")
			}
		}
	}
}

// processResumableJobs advances each RUNNING job by one batch. Job-level
// failures are logged and do not stop other owners' jobs; the failed job
// has already been marked FAILED by the orchestrator.
func (w *Watcher) processResumableJobs(ctx context.Context) error {
	jobs, err := w.jobs.FindResumable(ctx, jobsPerTick)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		return nil
	}

	w.log.Debug().Int("jobs", len(jobs)).Msg("found resumable sync jobs")

	for _, job := range jobs {
		res, err := w.runner.RunOneBatch(ctx, job.UserID)
		if err != nil {
			w.log.Error().Err(err).Str("job_id", job.ID).Str("user_id", job.UserID).Msg("batch failed")
			continue
		}

		w.log.Info().
			Str("job_id", job.ID).
			Str("user_id", job.UserID).
			Int("progress", res.Progress).
			Int("processed", res.ProcessedItems).
			Int("total", res.TotalItems).
			Bool("completed", res.Completed).
			Msg("batch advanced")
	}

	return nil
}
