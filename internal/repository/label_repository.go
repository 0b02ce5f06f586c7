package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/inboxpilot/sync-worker/internal/models"
)

type LabelRepository struct {
	db *gorm.DB
}

func NewLabelRepository(db *gorm.DB) *LabelRepository {
	return &LabelRepository{db: db}
}

// UpsertBatch inserts labels, updating mutable fields on (user_id,
// external_id) conflicts so re-syncs never duplicate rows.
func (r *LabelRepository) UpsertBatch(ctx context.Context, labels []models.Label) error {
	if len(labels) == 0 {
		return nil
	}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "external_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "type", "color", "label_list_visible", "message_list_visible", "updated_at",
		}),
	}).Create(&labels).Error
	if err != nil {
		return fmt.Errorf("failed to upsert labels: %w", err)
	}
	return nil
}

// ListByUser returns all labels for the user
func (r *LabelRepository) ListByUser(ctx context.Context, userID string) ([]models.Label, error) {
	var labels []models.Label
	result := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("name ASC").
		Find(&labels)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list labels: %w", result.Error)
	}
	return labels, nil
}
