package sync

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	gosync "sync"
	"time"

	"github.com/inboxpilot/sync-worker/internal/models"
	"github.com/inboxpilot/sync-worker/internal/repository"
)

// memStore is an in-memory record store implementing UserStore, JobStore,
// LabelStore and BatchWriter with the same semantics as the gorm
// repositories: natural-key upserts, skip-on-conflict inserts, destructive
// label rebuild and referential checks.
type memStore struct {
	mu          gosync.Mutex
	users       map[string]*models.User
	jobs        map[string]*models.SyncJob
	labels      map[string]models.Label      // labelID -> label
	threads     map[string]models.Thread     // userID/externalID -> thread
	messages    map[string]models.Message    // externalID -> message
	attachments map[string]models.Attachment // messageID/externalID -> attachment
	labelLinks  map[string]map[string]bool   // threadID -> labelID set
}

func newMemStore() *memStore {
	return &memStore{
		users:       make(map[string]*models.User),
		jobs:        make(map[string]*models.SyncJob),
		labels:      make(map[string]models.Label),
		threads:     make(map[string]models.Thread),
		messages:    make(map[string]models.Message),
		attachments: make(map[string]models.Attachment),
		labelLinks:  make(map[string]map[string]bool),
	}
}

func (s *memStore) addUser(userID string) {
	access := "access-token"
	refresh := "refresh-token"
	expires := time.Now().Add(time.Hour)
	s.users[userID] = &models.User{
		ID:                   userID,
		Email:                userID + "@example.com",
		AccessToken:          &access,
		RefreshToken:         &refresh,
		AccessTokenExpiresAt: &expires,
		SyncStatus:           models.UserSyncIdle,
	}
}

func (s *memStore) GetByID(ctx context.Context, userID string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	copied := *user
	return &copied, nil
}

func (s *memStore) UpdateTokens(ctx context.Context, userID, accessToken, refreshToken string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return repository.ErrUserNotFound
	}
	user.AccessToken = &accessToken
	user.RefreshToken = &refreshToken
	user.AccessTokenExpiresAt = &expiresAt
	return nil
}

func (s *memStore) UpdateSyncStatus(ctx context.Context, userID string, status models.UserSyncStatus, lastSyncedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return repository.ErrUserNotFound
	}
	user.SyncStatus = status
	if lastSyncedAt != nil {
		user.LastSyncedAt = lastSyncedAt
	}
	return nil
}

func (s *memStore) Create(ctx context.Context, job *models.SyncJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *job
	s.jobs[job.ID] = &copied
	return nil
}

func (s *memStore) Update(ctx context.Context, job *models.SyncJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *job
	s.jobs[job.ID] = &copied
	return nil
}

func (s *memStore) FindRunning(ctx context.Context, userID string) (*models.SyncJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.jobs {
		if job.UserID == userID && job.Status == models.JobStatusRunning {
			copied := *job
			return &copied, nil
		}
	}
	return nil, repository.ErrJobNotFound
}

func (s *memStore) FindLatest(ctx context.Context, userID string) (*models.SyncJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *models.SyncJob
	for _, job := range s.jobs {
		if job.UserID != userID {
			continue
		}
		if latest == nil || job.StartedAt.After(latest.StartedAt) {
			latest = job
		}
	}
	if latest == nil {
		return nil, repository.ErrJobNotFound
	}
	copied := *latest
	return &copied, nil
}

func (s *memStore) UpsertBatch(ctx context.Context, labels []models.Label) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, label := range labels {
		replaced := false
		for id, existing := range s.labels {
			if existing.UserID == label.UserID && existing.ExternalID == label.ExternalID {
				label.ID = id
				s.labels[id] = label
				replaced = true
				break
			}
		}
		if !replaced {
			s.labels[label.ID] = label
		}
	}
	return nil
}

func (s *memStore) PersistBatch(ctx context.Context, batch *repository.PersistBatch) (*repository.PersistResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := &repository.PersistResult{NewMessageExternalIDs: make(map[string]bool)}

	threadIDs := make(map[string]string)
	for _, item := range batch.Items {
		key := batch.UserID + "/" + item.Thread.ExternalID
		if existing, ok := s.threads[key]; ok {
			updated := item.Thread
			updated.ID = existing.ID
			updated.CreatedAt = existing.CreatedAt
			s.threads[key] = updated
			threadIDs[item.Thread.ExternalID] = existing.ID
		} else {
			s.threads[key] = item.Thread
			threadIDs[item.Thread.ExternalID] = item.Thread.ID
		}
	}

	for _, item := range batch.Items {
		threadID := threadIDs[item.Thread.ExternalID]
		if !s.threadExists(threadID) {
			return nil, fmt.Errorf("message references missing thread %s", threadID)
		}

		for _, mi := range item.Messages {
			msg := mi.Message
			msg.ThreadID = threadID
			if _, ok := s.messages[msg.ExternalID]; ok {
				continue // skip duplicates, never overwrite
			}
			s.messages[msg.ExternalID] = msg
			result.NewMessageExternalIDs[msg.ExternalID] = true
		}

		messageID := ""
		for _, mi := range item.Messages {
			stored, ok := s.messages[mi.Message.ExternalID]
			if !ok {
				continue
			}
			messageID = stored.ID
			for _, att := range mi.Attachments {
				att.MessageID = messageID
				key := att.MessageID + "/" + att.ExternalID
				if _, exists := s.attachments[key]; exists {
					continue
				}
				s.attachments[key] = att
				result.NewAttachments = append(result.NewAttachments, repository.NewAttachment{
					Attachment:        att,
					MessageExternalID: mi.Message.ExternalID,
				})
			}
		}

		links := make(map[string]bool)
		for _, ext := range item.LabelExternalIDs {
			for id, label := range s.labels {
				if label.UserID == batch.UserID && label.ExternalID == ext {
					links[id] = true
				}
			}
		}
		s.labelLinks[threadID] = links
	}

	return result, nil
}

func (s *memStore) threadExists(threadID string) bool {
	for _, t := range s.threads {
		if t.ID == threadID {
			return true
		}
	}
	return false
}

func (s *memStore) threadByExternalID(userID, externalID string) (models.Thread, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[userID+"/"+externalID]
	return t, ok
}

func (s *memStore) labelLinkNames(userID, threadID string) map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]bool)
	for labelID := range s.labelLinks[threadID] {
		if label, ok := s.labels[labelID]; ok && label.UserID == userID {
			out[label.ExternalID] = true
		}
	}
	return out
}

// fakeMailbox serves a fixed ordered thread set page by page, using the
// numeric offset as an opaque cursor.
type fakeMailbox struct {
	mu       gosync.Mutex
	order    []string
	threads  map[string]*RawThread
	labels   []RemoteLabel
	listErr  error
	failOnce map[string]bool

	listTokens     []string
	threadFetches  map[string]int
	attachFetches  map[string]int
	refreshedCount int
}

func newFakeMailbox() *fakeMailbox {
	return &fakeMailbox{
		threads:       make(map[string]*RawThread),
		failOnce:      make(map[string]bool),
		threadFetches: make(map[string]int),
		attachFetches: make(map[string]int),
	}
}

func (f *fakeMailbox) addThread(t *RawThread) {
	f.order = append(f.order, t.ExternalID)
	f.threads[t.ExternalID] = t
}

func (f *fakeMailbox) ListThreadIDs(ctx context.Context, accessToken, query string, pageSize int, pageToken string) (*ThreadPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.listErr != nil {
		return nil, f.listErr
	}
	f.listTokens = append(f.listTokens, pageToken)

	offset := 0
	if pageToken != "" {
		offset, _ = strconv.Atoi(pageToken)
	}
	if offset > len(f.order) {
		offset = len(f.order)
	}

	end := offset + pageSize
	if end > len(f.order) {
		end = len(f.order)
	}

	page := &ThreadPage{
		IDs:            append([]string(nil), f.order[offset:end]...),
		EstimatedTotal: len(f.order),
	}
	if end < len(f.order) {
		page.NextPageToken = strconv.Itoa(end)
	}
	return page, nil
}

func (f *fakeMailbox) GetThread(ctx context.Context, accessToken, threadID string) (*RawThread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.threadFetches[threadID]++
	if f.failOnce[threadID] {
		delete(f.failOnce, threadID)
		return nil, errors.New("transient mailbox error")
	}

	t, ok := f.threads[threadID]
	if !ok {
		return nil, fmt.Errorf("thread %s not found", threadID)
	}
	return t, nil
}

func (f *fakeMailbox) ListLabels(ctx context.Context, accessToken string) ([]RemoteLabel, error) {
	return f.labels, nil
}

func (f *fakeMailbox) GetAttachment(ctx context.Context, accessToken, messageID, attachmentID string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attachFetches[messageID+"/"+attachmentID]++
	return []byte("attachment-bytes-" + attachmentID), nil
}

func (f *fakeMailbox) RefreshAccessToken(ctx context.Context, refreshToken string) (*TokenRefreshResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshedCount++
	return &TokenRefreshResult{
		AccessToken:  "refreshed-access",
		RefreshToken: refreshToken,
		ExpiresAt:    time.Now().Add(time.Hour),
	}, nil
}

// fakeBlob records puts; safe for concurrent use.
type fakeBlob struct {
	mu   gosync.Mutex
	data map[string][]byte
	puts map[string]int
}

func newFakeBlob() *fakeBlob {
	return &fakeBlob{
		data: make(map[string][]byte),
		puts: make(map[string]int),
	}
}

func (b *fakeBlob) Put(ctx context.Context, key string, data []byte, contentType string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = data
	b.puts[key]++
	return nil
}
