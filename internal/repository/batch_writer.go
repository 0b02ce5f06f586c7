package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/inboxpilot/sync-worker/internal/models"
)

// ThreadBatchItem is one thread prepared for bulk persistence together with
// its messages, attachment descriptors and the authoritative label set from
// the thread's last message.
type ThreadBatchItem struct {
	Thread           models.Thread
	LabelExternalIDs []string
	Messages         []MessageBatchItem
}

// MessageBatchItem is one message prepared for bulk persistence. HTML is
// carried alongside the row so the caller can upload it once the row is
// known to be new.
type MessageBatchItem struct {
	Message     models.Message
	HTML        string
	Attachments []models.Attachment
}

// PersistBatch groups one batch of threads for the transactional
// multi-entity bulk-persistence step.
type PersistBatch struct {
	UserID string
	Items  []ThreadBatchItem
}

// NewAttachment is one attachment row the batch write actually inserted,
// paired with its parent message's external id for the byte download.
type NewAttachment struct {
	Attachment        models.Attachment
	MessageExternalID string
}

// PersistResult reports what the batch write actually inserted. Messages
// and attachments already present were skipped, not overwritten.
type PersistResult struct {
	NewMessageExternalIDs map[string]bool
	NewAttachments        []NewAttachment
}

// BatchWriter performs the multi-entity bulk-persistence step in one
// transaction, in referential order: threads before messages, messages
// before attachments, label associations last.
type BatchWriter struct {
	db *gorm.DB
}

func NewBatchWriter(db *gorm.DB) *BatchWriter {
	return &BatchWriter{db: db}
}

// PersistBatch upserts threads by (user_id, external_id), bulk-inserts
// messages and attachments with skip-on-conflict semantics keyed by their
// external ids, and destructively rebuilds each thread's label
// associations from its last message's label set.
func (w *BatchWriter) PersistBatch(ctx context.Context, batch *PersistBatch) (*PersistResult, error) {
	result := &PersistResult{NewMessageExternalIDs: make(map[string]bool)}
	if len(batch.Items) == 0 {
		return result, nil
	}

	err := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		threadIDs, err := upsertThreads(tx, batch)
		if err != nil {
			return err
		}

		messageIDs, err := insertMessages(tx, batch, threadIDs, result)
		if err != nil {
			return err
		}

		if err := insertAttachments(tx, batch, messageIDs, result); err != nil {
			return err
		}

		return rebuildLabelLinks(tx, batch, threadIDs)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to persist batch: %w", err)
	}

	return result, nil
}

// upsertThreads writes the thread rows and returns external id -> row id,
// resolving ids for rows that already existed from a previous pass.
func upsertThreads(tx *gorm.DB, batch *PersistBatch) (map[string]string, error) {
	threads := make([]models.Thread, 0, len(batch.Items))
	externalIDs := make([]string, 0, len(batch.Items))
	for _, item := range batch.Items {
		threads = append(threads, item.Thread)
		externalIDs = append(externalIDs, item.Thread.ExternalID)
	}

	err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "external_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"subject", "snippet", "last_message_date", "unread", "starred",
			"important", "message_count", "updated_at",
		}),
	}).Create(&threads).Error
	if err != nil {
		return nil, fmt.Errorf("failed to upsert threads: %w", err)
	}

	var rows []models.Thread
	err = tx.Select("id", "external_id").
		Where("user_id = ? AND external_id IN ?", batch.UserID, externalIDs).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to resolve thread ids: %w", err)
	}

	ids := make(map[string]string, len(rows))
	for _, row := range rows {
		ids[row.ExternalID] = row.ID
	}
	return ids, nil
}

// insertMessages bulk-inserts messages with skip-duplicate semantics keyed
// by external message id. Threads are already visible at this point, so
// every row references an existing thread.
func insertMessages(tx *gorm.DB, batch *PersistBatch, threadIDs map[string]string, result *PersistResult) (map[string]string, error) {
	var messages []models.Message
	var externalIDs []string
	for _, item := range batch.Items {
		threadID, ok := threadIDs[item.Thread.ExternalID]
		if !ok {
			continue
		}
		for _, mi := range item.Messages {
			msg := mi.Message
			msg.ThreadID = threadID
			messages = append(messages, msg)
			externalIDs = append(externalIDs, msg.ExternalID)
		}
	}
	if len(messages) == 0 {
		return map[string]string{}, nil
	}

	// Known message rows are left untouched so locally added state is
	// never clobbered by a re-sync.
	existing := make(map[string]bool)
	var existingRows []models.Message
	err := tx.Select("external_id").
		Where("external_id IN ?", externalIDs).
		Find(&existingRows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to check existing messages: %w", err)
	}
	for _, row := range existingRows {
		existing[row.ExternalID] = true
	}

	err = tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "external_id"}},
		DoNothing: true,
	}).Create(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("failed to insert messages: %w", err)
	}

	for _, msg := range messages {
		if !existing[msg.ExternalID] {
			result.NewMessageExternalIDs[msg.ExternalID] = true
		}
	}

	var rows []models.Message
	err = tx.Select("id", "external_id").
		Where("external_id IN ?", externalIDs).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to resolve message ids: %w", err)
	}

	ids := make(map[string]string, len(rows))
	for _, row := range rows {
		ids[row.ExternalID] = row.ID
	}
	return ids, nil
}

// insertAttachments bulk-inserts attachment rows for resolved messages,
// filtering out pairs that already exist so their bytes are never
// re-downloaded. Attachments whose parent message failed to resolve are
// dropped.
func insertAttachments(tx *gorm.DB, batch *PersistBatch, messageIDs map[string]string, result *PersistResult) error {
	type pending struct {
		attachment        models.Attachment
		messageExternalID string
	}

	var candidates []pending
	var parentIDs []string
	for _, item := range batch.Items {
		for _, mi := range item.Messages {
			messageID, ok := messageIDs[mi.Message.ExternalID]
			if !ok {
				continue
			}
			for _, att := range mi.Attachments {
				att.MessageID = messageID
				candidates = append(candidates, pending{att, mi.Message.ExternalID})
				parentIDs = append(parentIDs, messageID)
			}
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	existing := make(map[string]bool)
	var existingRows []models.Attachment
	err := tx.Select("message_id", "external_id").
		Where("message_id IN ?", parentIDs).
		Find(&existingRows).Error
	if err != nil {
		return fmt.Errorf("failed to check existing attachments: %w", err)
	}
	for _, row := range existingRows {
		existing[row.MessageID+"/"+row.ExternalID] = true
	}

	var fresh []models.Attachment
	var freshMeta []pending
	for _, c := range candidates {
		if existing[c.attachment.MessageID+"/"+c.attachment.ExternalID] {
			continue
		}
		fresh = append(fresh, c.attachment)
		freshMeta = append(freshMeta, c)
	}
	if len(fresh) == 0 {
		return nil
	}

	err = tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "message_id"}, {Name: "external_id"}},
		DoNothing: true,
	}).Create(&fresh).Error
	if err != nil {
		return fmt.Errorf("failed to insert attachments: %w", err)
	}

	for _, c := range freshMeta {
		result.NewAttachments = append(result.NewAttachments, NewAttachment{
			Attachment:        c.attachment,
			MessageExternalID: c.messageExternalID,
		})
	}
	return nil
}

// rebuildLabelLinks deletes and recreates each thread's label associations
// from the authoritative label set on its last message. Destructive on
// purpose: the latest snapshot fully describes membership, so no diffing.
func rebuildLabelLinks(tx *gorm.DB, batch *PersistBatch, threadIDs map[string]string) error {
	var labels []models.Label
	err := tx.Select("id", "external_id").
		Where("user_id = ?", batch.UserID).
		Find(&labels).Error
	if err != nil {
		return fmt.Errorf("failed to load labels: %w", err)
	}

	labelByExternal := make(map[string]string, len(labels))
	for _, l := range labels {
		labelByExternal[l.ExternalID] = l.ID
	}

	now := time.Now()
	for _, item := range batch.Items {
		threadID, ok := threadIDs[item.Thread.ExternalID]
		if !ok {
			continue
		}

		err := tx.Where("thread_id = ?", threadID).Delete(&models.LabelThread{}).Error
		if err != nil {
			return fmt.Errorf("failed to clear label links: %w", err)
		}

		var links []models.LabelThread
		for _, ext := range item.LabelExternalIDs {
			labelID, known := labelByExternal[ext]
			if !known {
				continue
			}
			links = append(links, models.LabelThread{
				LabelID:   labelID,
				ThreadID:  threadID,
				CreatedAt: now,
			})
		}
		if len(links) == 0 {
			continue
		}

		if err := tx.Create(&links).Error; err != nil {
			return fmt.Errorf("failed to create label links: %w", err)
		}
	}

	return nil
}
