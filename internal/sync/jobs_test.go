package sync

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/inboxpilot/sync-worker/internal/models"
)

func newTestJobManager(store *memStore) *JobManager {
	return NewJobManager(store, store, zerolog.Nop())
}

func TestStartOrResume_CreatesJob(t *testing.T) {
	store := newMemStore()
	store.addUser("user-1")
	m := newTestJobManager(store)

	job, resumed, err := m.StartOrResume(context.Background(), "user-1", models.SyncTypeFull)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if resumed {
		t.Error("expected a fresh job, got resumed")
	}
	if job.Status != models.JobStatusRunning {
		t.Errorf("expected RUNNING, got %s", job.Status)
	}
	if job.ProcessedItems != 0 || job.TotalItems != 0 || job.Progress != 0 {
		t.Errorf("expected zero counters, got %+v", job)
	}

	user, _ := store.GetByID(context.Background(), "user-1")
	if user.SyncStatus != models.UserSyncRunning {
		t.Errorf("expected user sync status RUNNING, got %s", user.SyncStatus)
	}
}

func TestStartOrResume_ReusesRunningJob(t *testing.T) {
	store := newMemStore()
	store.addUser("user-1")
	m := newTestJobManager(store)

	first, _, err := m.StartOrResume(context.Background(), "user-1", models.SyncTypeFull)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	second, resumed, err := m.StartOrResume(context.Background(), "user-1", models.SyncTypeFull)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !resumed {
		t.Error("expected resume of the running job")
	}
	if second.ID != first.ID {
		t.Errorf("expected the same job, got %s and %s", first.ID, second.ID)
	}
}

func TestRecordProgress_MonotonicAndCapped(t *testing.T) {
	store := newMemStore()
	store.addUser("user-1")
	m := newTestJobManager(store)

	job, _, _ := m.StartOrResume(context.Background(), "user-1", models.SyncTypeFull)

	steps := []struct {
		processed int
		estimate  int
	}{
		{20, 120},
		{40, 120},
		{40, 120}, // repeat is idempotent
		{60, 50},  // estimate below processed gets clamped
		{120, 120},
		{130, 120}, // processed beyond estimate never pushes progress past 100
	}

	lastProgress := 0
	for _, step := range steps {
		if err := m.RecordProgress(context.Background(), job, step.processed, step.estimate); err != nil {
			t.Fatalf("RecordProgress(%d, %d): %v", step.processed, step.estimate, err)
		}
		if job.Progress < lastProgress {
			t.Errorf("progress regressed from %d to %d", lastProgress, job.Progress)
		}
		if job.Progress > 100 {
			t.Errorf("progress exceeded 100: %d", job.Progress)
		}
		if job.TotalItems < job.ProcessedItems {
			t.Errorf("total %d fell below processed %d", job.TotalItems, job.ProcessedItems)
		}
		lastProgress = job.Progress
	}

	if job.Progress != 100 {
		t.Errorf("expected final progress 100, got %d", job.Progress)
	}
}

func TestPause_SavesCursorAndStaysRunning(t *testing.T) {
	store := newMemStore()
	store.addUser("user-1")
	m := newTestJobManager(store)

	job, _, _ := m.StartOrResume(context.Background(), "user-1", models.SyncTypeFull)

	if err := m.Pause(context.Background(), job, "cursor-42"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	stored, err := store.FindRunning(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("expected job to stay RUNNING, got %v", err)
	}
	if stored.NextPageToken == nil || *stored.NextPageToken != "cursor-42" {
		t.Errorf("expected saved cursor, got %v", stored.NextPageToken)
	}
}

func TestComplete_Success(t *testing.T) {
	store := newMemStore()
	store.addUser("user-1")
	m := newTestJobManager(store)

	job, _, _ := m.StartOrResume(context.Background(), "user-1", models.SyncTypeFull)
	_ = m.Pause(context.Background(), job, "cursor")
	_ = m.RecordProgress(context.Background(), job, 90, 120)

	if err := m.Complete(context.Background(), job, models.JobStatusCompleted, nil); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if job.Progress != 100 {
		t.Errorf("expected progress forced to 100, got %d", job.Progress)
	}
	if job.NextPageToken != nil {
		t.Error("expected cursor cleared on completion")
	}
	if job.CompletedAt == nil {
		t.Error("expected completedAt set")
	}

	user, _ := store.GetByID(context.Background(), "user-1")
	if user.SyncStatus != models.UserSyncCompleted {
		t.Errorf("expected user status COMPLETED, got %s", user.SyncStatus)
	}
	if user.LastSyncedAt == nil {
		t.Error("expected user lastSyncedAt stamped")
	}
}

func TestComplete_Failure(t *testing.T) {
	store := newMemStore()
	store.addUser("user-1")
	m := newTestJobManager(store)

	job, _, _ := m.StartOrResume(context.Background(), "user-1", models.SyncTypeFull)

	msg := "credential revoked"
	if err := m.Complete(context.Background(), job, models.JobStatusFailed, &msg); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if job.Error == nil || *job.Error != msg {
		t.Errorf("expected captured error message, got %v", job.Error)
	}

	user, _ := store.GetByID(context.Background(), "user-1")
	if user.SyncStatus != models.UserSyncFailed {
		t.Errorf("expected user status FAILED, got %s", user.SyncStatus)
	}
	if user.LastSyncedAt != nil {
		t.Error("expected lastSyncedAt untouched on failure")
	}
}

func TestComplete_TerminalIsFinal(t *testing.T) {
	store := newMemStore()
	store.addUser("user-1")
	m := newTestJobManager(store)

	job, _, _ := m.StartOrResume(context.Background(), "user-1", models.SyncTypeFull)
	if err := m.Complete(context.Background(), job, models.JobStatusCompleted, nil); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	msg := "late failure"
	if err := m.Complete(context.Background(), job, models.JobStatusFailed, &msg); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}

	if job.Status != models.JobStatusCompleted {
		t.Errorf("terminal status must not change, got %s", job.Status)
	}
	user, _ := store.GetByID(context.Background(), "user-1")
	if user.SyncStatus != models.UserSyncCompleted {
		t.Errorf("expected user status unchanged, got %s", user.SyncStatus)
	}
}

func TestGetStatus(t *testing.T) {
	store := newMemStore()
	store.addUser("user-1")
	m := newTestJobManager(store)

	status, err := m.GetStatus(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if status.LastJob != nil {
		t.Error("expected no job before first sync")
	}

	job, _, _ := m.StartOrResume(context.Background(), "user-1", models.SyncTypeFull)
	_ = m.RecordProgress(context.Background(), job, 10, 100)

	status, err = m.GetStatus(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if status.LastJob == nil || status.LastJob.ID != job.ID {
		t.Fatalf("expected latest job %s, got %+v", job.ID, status.LastJob)
	}
	if status.LastJob.Progress != 10 {
		t.Errorf("expected progress 10, got %d", status.LastJob.Progress)
	}
}
