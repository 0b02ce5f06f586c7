package sync

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/inboxpilot/sync-worker/internal/extract"
	"github.com/inboxpilot/sync-worker/internal/models"
	"github.com/inboxpilot/sync-worker/internal/repository"
)

const noSubjectPlaceholder = "(no subject)"

// Label ids the mailbox API uses for thread-level flags.
const (
	labelUnread    = "UNREAD"
	labelStarred   = "STARRED"
	labelImportant = "IMPORTANT"
)

// Options are the orchestrator tunables; see config for the env knobs.
type Options struct {
	PageSize           int
	HydrateConcurrency int
	UploadConcurrency  int
	Deadline           time.Duration
	MaxRetries         int
	RetryBackoff       time.Duration
}

// Orchestrator coordinates label sync, thread discovery, batch hydration,
// bulk persistence, label-association rebuild and blob uploads for one
// owner at a time, under a wall-clock budget.
type Orchestrator struct {
	users   UserStore
	jobs    *JobManager
	labels  LabelStore
	writer  BatchWriter
	mailbox MailboxClient
	blobs   BlobStore
	opts    Options
	log     zerolog.Logger
}

func NewOrchestrator(
	users UserStore,
	jobs *JobManager,
	labels LabelStore,
	writer BatchWriter,
	mailbox MailboxClient,
	blobs BlobStore,
	opts Options,
	log zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		users:   users,
		jobs:    jobs,
		labels:  labels,
		writer:  writer,
		mailbox: mailbox,
		blobs:   blobs,
		opts:    opts,
		log:     log.With().Str("component", "orchestrator").Logger(),
	}
}

// StartOrResume exposes the job state machine's entry point to the trigger
// surface: it resolves the owner's RUNNING job or creates one, performing
// the one-time label sync on creation.
func (o *Orchestrator) StartOrResume(ctx context.Context, userID string, syncType models.SyncJobType) (*models.SyncJob, error) {
	user, token, err := o.resolveUserToken(ctx, userID)
	if err != nil {
		return nil, err
	}

	job, resumed, err := o.jobs.StartOrResume(ctx, userID, syncType)
	if err != nil {
		return nil, err
	}

	// Labels change rarely; a resumed job already synced them.
	if !resumed {
		if err := o.syncLabels(ctx, user, token); err != nil {
			return nil, o.failJob(ctx, job, err)
		}
	}

	return job, nil
}

// RunOneBatch processes exactly one bounded page of threads and returns the
// batch outcome. An external scheduler calls this repeatedly until
// Completed is true.
func (o *Orchestrator) RunOneBatch(ctx context.Context, userID string) (*BatchResult, error) {
	user, token, err := o.resolveUserToken(ctx, userID)
	if err != nil {
		return nil, err
	}

	job, resumed, err := o.jobs.StartOrResume(ctx, userID, models.SyncTypeFull)
	if err != nil {
		return nil, err
	}
	if !resumed {
		if err := o.syncLabels(ctx, user, token); err != nil {
			return nil, o.failJob(ctx, job, err)
		}
	}

	res, err := o.processNextPage(ctx, user, token, job)
	if err != nil {
		return nil, o.failJob(ctx, job, err)
	}
	return res, nil
}

// RunFullSync runs batches until the mailbox is exhausted or the wall-clock
// deadline expires. On expiry the job stays RUNNING with its cursor saved;
// the caller is expected to invoke again later to resume.
func (o *Orchestrator) RunFullSync(ctx context.Context, userID string) error {
	deadline := time.Now().Add(o.opts.Deadline)

	user, token, err := o.resolveUserToken(ctx, userID)
	if err != nil {
		return err
	}

	job, resumed, err := o.jobs.StartOrResume(ctx, userID, models.SyncTypeFull)
	if err != nil {
		return err
	}
	if !resumed {
		if err := o.syncLabels(ctx, user, token); err != nil {
			return o.failJob(ctx, job, err)
		}
	}

	for {
		res, err := o.processNextPage(ctx, user, token, job)
		if err != nil {
			return o.failJob(ctx, job, err)
		}
		if res.Completed {
			return nil
		}

		// Checked between pages only: in-flight work for a page always
		// finishes so the job pauses on a clean batch boundary.
		if time.Now().After(deadline) {
			o.log.Info().
				Str("job_id", job.ID).
				Int("processed", res.ProcessedItems).
				Msg("deadline exceeded, pausing until next invocation")
			return nil
		}
	}
}

// GetStatus reports the latest job and last-synced time for the owner.
func (o *Orchestrator) GetStatus(ctx context.Context, userID string) (*Status, error) {
	return o.jobs.GetStatus(ctx, userID)
}

// processNextPage advances the job by one discovery page: hydrate, extract,
// bulk-persist, rebuild labels, upload blobs, record progress, then either
// pause with the new cursor or complete.
func (o *Orchestrator) processNextPage(ctx context.Context, user *models.User, token string, job *models.SyncJob) (*BatchResult, error) {
	pageToken := ""
	if job.NextPageToken != nil {
		pageToken = *job.NextPageToken
	}

	var page *ThreadPage
	err := withRetry(ctx, o.opts.MaxRetries, o.opts.RetryBackoff, "list thread ids", func() error {
		var listErr error
		page, listErr = o.mailbox.ListThreadIDs(ctx, token, o.buildQuery(user, job), o.opts.PageSize, pageToken)
		return listErr
	})
	if err != nil {
		return nil, err
	}

	threads := o.hydrateThreads(ctx, token, page.IDs)

	batch := &repository.PersistBatch{UserID: user.ID}
	for _, raw := range threads {
		item, ok := o.buildThreadItem(user.ID, raw)
		if !ok {
			continue
		}
		batch.Items = append(batch.Items, item)
	}

	var result *repository.PersistResult
	err = withRetry(ctx, o.opts.MaxRetries, o.opts.RetryBackoff, "persist batch", func() error {
		var persistErr error
		result, persistErr = o.writer.PersistBatch(ctx, batch)
		return persistErr
	})
	if err != nil {
		return nil, err
	}

	o.uploadBlobs(ctx, token, batch, result)

	processed := job.ProcessedItems + len(threads)
	if err := o.jobs.RecordProgress(ctx, job, processed, page.EstimatedTotal); err != nil {
		return nil, err
	}

	completed := page.NextPageToken == ""
	if completed {
		if err := o.jobs.Complete(ctx, job, models.JobStatusCompleted, nil); err != nil {
			return nil, err
		}
	} else {
		if err := o.jobs.Pause(ctx, job, page.NextPageToken); err != nil {
			return nil, err
		}
	}

	o.log.Info().
		Str("job_id", job.ID).
		Int("page_threads", len(threads)).
		Int("processed", job.ProcessedItems).
		Int("total", job.TotalItems).
		Bool("completed", completed).
		Msg("batch processed")

	return &BatchResult{
		Completed:      completed,
		Progress:       job.Progress,
		ProcessedItems: job.ProcessedItems,
		TotalItems:     job.TotalItems,
	}, nil
}

// hydrateThreads fetches full threads with bounded concurrency. A failed
// thread is logged and skipped; it is absent from the record store and will
// be picked up by a later partial sync.
func (o *Orchestrator) hydrateThreads(ctx context.Context, token string, ids []string) []*RawThread {
	results := make([]*RawThread, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.HydrateConcurrency)

	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			thread, err := o.mailbox.GetThread(gctx, token, id)
			if err != nil {
				o.log.Warn().Err(err).Str("thread_id", id).Msg("skipping thread, hydration failed")
				return nil
			}
			results[i] = thread
			return nil
		})
	}
	_ = g.Wait()

	hydrated := make([]*RawThread, 0, len(ids))
	for _, t := range results {
		if t != nil {
			hydrated = append(hydrated, t)
		}
	}
	return hydrated
}

// buildThreadItem derives the thread row and its message/attachment rows
// from one hydrated thread. A malformed thread is skipped, never fatal.
func (o *Orchestrator) buildThreadItem(userID string, raw *RawThread) (repository.ThreadBatchItem, bool) {
	if len(raw.Messages) == 0 {
		o.log.Warn().Str("thread_id", raw.ExternalID).Msg("skipping thread with no messages")
		return repository.ThreadBatchItem{}, false
	}

	msgs := make([]RawMessage, len(raw.Messages))
	copy(msgs, raw.Messages)
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].InternalDate.Before(msgs[j].InternalDate)
	})
	last := msgs[len(msgs)-1]

	now := time.Now()
	item := repository.ThreadBatchItem{
		LabelExternalIDs: last.LabelIDs,
	}

	var threadSubject string
	for i, rm := range msgs {
		env := extract.ParseEnvelope(rm.Headers)
		content := extract.ExtractContent(rm.Payload)

		if i == 0 && env.Subject != "" {
			threadSubject = env.Subject
		}
		if i == len(msgs)-1 && env.Subject != "" {
			threadSubject = env.Subject
		}

		sentAt := env.Date
		if sentAt.IsZero() {
			sentAt = rm.InternalDate
		}

		msg := models.Message{
			ID:             uuid.New().String(),
			ExternalID:     rm.ExternalID,
			FromAddress:    env.From,
			ToAddresses:    strings.Join(env.To, ", "),
			CcAddresses:    strings.Join(env.Cc, ", "),
			BccAddresses:   strings.Join(env.Bcc, ", "),
			Subject:        env.Subject,
			Snippet:        rm.Snippet,
			BodyText:       content.Text,
			InReplyTo:      env.InReplyTo,
			References:     strings.Join(env.References, " "),
			LabelIDs:       strings.Join(rm.LabelIDs, ","),
			HasAttachments: len(content.Attachments) > 0,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if !sentAt.IsZero() {
			t := sentAt
			msg.SentAt = &t
		}
		if content.HTML != "" {
			key := bodyBlobKey(userID, rm.ExternalID)
			msg.BodyBlobKey = &key
		}

		attachments := make([]models.Attachment, 0, len(content.Attachments))
		for _, att := range content.Attachments {
			attachments = append(attachments, models.Attachment{
				ID:         uuid.New().String(),
				ExternalID: att.ExternalID,
				Filename:   att.Filename,
				MimeType:   att.MimeType,
				Size:       att.Size,
				BlobKey:    attachmentBlobKey(userID, rm.ExternalID, att.ExternalID),
				CreatedAt:  now,
				UpdatedAt:  now,
			})
		}

		item.Messages = append(item.Messages, repository.MessageBatchItem{
			Message:     msg,
			HTML:        content.HTML,
			Attachments: attachments,
		})
	}

	if threadSubject == "" {
		threadSubject = noSubjectPlaceholder
	}

	lastDate := last.InternalDate
	item.Thread = models.Thread{
		ID:           uuid.New().String(),
		UserID:       userID,
		ExternalID:   raw.ExternalID,
		Subject:      threadSubject,
		Snippet:      last.Snippet,
		Unread:       hasLabel(last.LabelIDs, labelUnread),
		Starred:      hasLabel(last.LabelIDs, labelStarred),
		Important:    hasLabel(last.LabelIDs, labelImportant),
		MessageCount: len(msgs),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if !lastDate.IsZero() {
		t := lastDate
		item.Thread.LastMessageDate = &t
	}

	return item, true
}

// uploadBlobs pushes HTML bodies of newly inserted messages and the bytes
// of newly inserted attachments to the blob store in small concurrent
// sub-batches. Upload failures are logged, never fatal for the batch.
func (o *Orchestrator) uploadBlobs(ctx context.Context, token string, batch *repository.PersistBatch, result *repository.PersistResult) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.UploadConcurrency)

	for _, item := range batch.Items {
		for _, mi := range item.Messages {
			if mi.HTML == "" || mi.Message.BodyBlobKey == nil {
				continue
			}
			// An already-known message keeps its stored body untouched.
			if !result.NewMessageExternalIDs[mi.Message.ExternalID] {
				continue
			}

			mi := mi
			g.Go(func() error {
				if err := o.blobs.Put(gctx, *mi.Message.BodyBlobKey, []byte(mi.HTML), "text/html"); err != nil {
					o.log.Warn().Err(err).Str("blob_key", *mi.Message.BodyBlobKey).Msg("html body upload failed")
				}
				return nil
			})
		}
	}

	// Existence filtering already happened in the batch write: only rows
	// that were actually inserted spend a download call here.
	for _, na := range result.NewAttachments {
		na := na
		g.Go(func() error {
			att := na.Attachment
			data, err := o.mailbox.GetAttachment(gctx, token, na.MessageExternalID, att.ExternalID)
			if err != nil {
				o.log.Warn().Err(err).Str("attachment_id", att.ExternalID).Msg("attachment download failed")
				return nil
			}
			if err := o.blobs.Put(gctx, att.BlobKey, data, att.MimeType); err != nil {
				o.log.Warn().Err(err).Str("blob_key", att.BlobKey).Msg("attachment upload failed")
			}
			return nil
		})
	}

	_ = g.Wait()
}

// syncLabels upserts the owner's full label list; runs once per job.
func (o *Orchestrator) syncLabels(ctx context.Context, user *models.User, token string) error {
	remote, err := o.mailbox.ListLabels(ctx, token)
	if err != nil {
		return fmt.Errorf("failed to list labels: %w", err)
	}

	now := time.Now()
	labels := make([]models.Label, 0, len(remote))
	for _, rl := range remote {
		labels = append(labels, models.Label{
			ID:                 uuid.New().String(),
			UserID:             user.ID,
			ExternalID:         rl.ExternalID,
			Name:               rl.Name,
			Type:               rl.Type,
			Color:              rl.Color,
			LabelListVisible:   rl.LabelListVisible,
			MessageListVisible: rl.MessageListVisible,
			CreatedAt:          now,
			UpdatedAt:          now,
		})
	}

	if err := o.labels.UpsertBatch(ctx, labels); err != nil {
		return fmt.Errorf("failed to upsert labels: %w", err)
	}

	o.log.Info().Str("user_id", user.ID).Int("labels", len(labels)).Msg("labels synced")
	return nil
}

// buildQuery narrows discovery for partial syncs to threads newer than the
// last completed sync.
func (o *Orchestrator) buildQuery(user *models.User, job *models.SyncJob) string {
	if job.SyncType == models.SyncTypePartial && user.LastSyncedAt != nil {
		return fmt.Sprintf("after:%s", user.LastSyncedAt.Format("2006/01/02"))
	}
	return ""
}

// failJob marks the job FAILED with the captured message and propagates the
// original error so external schedulers can alert.
func (o *Orchestrator) failJob(ctx context.Context, job *models.SyncJob, cause error) error {
	msg := cause.Error()
	if err := o.jobs.Complete(ctx, job, models.JobStatusFailed, &msg); err != nil {
		o.log.Error().Err(err).Str("job_id", job.ID).Msg("failed to mark job failed")
	}
	return fmt.Errorf("sync job %s failed: %w", job.ID, cause)
}

// resolveUserToken loads the owner and returns a usable access token,
// refreshing it when it is expired or about to expire.
func (o *Orchestrator) resolveUserToken(ctx context.Context, userID string) (*models.User, string, error) {
	user, err := o.users.GetByID(ctx, userID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to get user: %w", err)
	}
	if user.AccessToken == nil || user.RefreshToken == nil {
		return nil, "", fmt.Errorf("user %s missing oauth tokens", userID)
	}

	token := *user.AccessToken
	if tokenExpired(user.AccessTokenExpiresAt) {
		o.log.Debug().Str("user_id", userID).Msg("access token expired, refreshing")
		refreshed, err := o.mailbox.RefreshAccessToken(ctx, *user.RefreshToken)
		if err != nil {
			return nil, "", fmt.Errorf("failed to refresh token: %w", err)
		}
		if err := o.users.UpdateTokens(ctx, userID, refreshed.AccessToken, refreshed.RefreshToken, refreshed.ExpiresAt); err != nil {
			return nil, "", fmt.Errorf("failed to persist refreshed tokens: %w", err)
		}
		token = refreshed.AccessToken
	}

	return user, token, nil
}

// tokenExpired reports whether the token is expired or expires within the
// next five minutes.
func tokenExpired(expiresAt *time.Time) bool {
	if expiresAt == nil {
		return true
	}
	return time.Now().Add(5 * time.Minute).After(*expiresAt)
}

func hasLabel(labelIDs []string, want string) bool {
	for _, id := range labelIDs {
		if id == want {
			return true
		}
	}
	return false
}

func bodyBlobKey(userID, messageExternalID string) string {
	return fmt.Sprintf("bodies/%s/%s.html", userID, messageExternalID)
}

func attachmentBlobKey(userID, messageExternalID, attachmentExternalID string) string {
	return fmt.Sprintf("attachments/%s/%s/%s", userID, messageExternalID, attachmentExternalID)
}

