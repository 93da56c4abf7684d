package cache

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/backstage/services/changeorder/domain"
	"example.com/backstage/services/changeorder/models"
)

// GormMetadataCache keeps case metadata in the case_metadata table
type GormMetadataCache struct {
	db *gorm.DB
}

// NewGormMetadataCache creates a new GORM backed metadata cache
func NewGormMetadataCache(db *gorm.DB) *GormMetadataCache {
	return &GormMetadataCache{db: db}
}

// Update upserts the row unless the stored version is newer
func (c *GormMetadataCache) Update(ctx context.Context, meta CaseMetadata) error {
	row := toRow(meta)
	err := c.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "case_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"title", "project_id", "status", "combined_response",
			"requires_revision", "version", "last_event_at", "updated_at",
		}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "case_metadata.version <= excluded.version"},
		}},
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to update case metadata: %w", err)
	}
	return nil
}

func (c *GormMetadataCache) Get(ctx context.Context, caseID string) (*CaseMetadata, error) {
	var row models.CaseMetadata
	err := c.db.WithContext(ctx).Where("case_id = ?", caseID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get case metadata: %w", err)
	}

	meta := fromRow(row)
	return &meta, nil
}

func (c *GormMetadataCache) ListAll(ctx context.Context) ([]CaseMetadata, error) {
	var rows []models.CaseMetadata
	if err := c.db.WithContext(ctx).Order("case_id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list case metadata: %w", err)
	}

	out := make([]CaseMetadata, len(rows))
	for i, row := range rows {
		out[i] = fromRow(row)
	}
	return out, nil
}

func toRow(meta CaseMetadata) models.CaseMetadata {
	return models.CaseMetadata{
		CaseID:           meta.CaseID,
		Title:            meta.Title,
		ProjectID:        meta.ProjectID,
		Status:           string(meta.Status),
		CombinedResponse: string(meta.CombinedResponse),
		RequiresRevision: meta.RequiresRevision,
		Version:          meta.Version,
		LastEventAt:      meta.LastEventAt,
	}
}

func fromRow(row models.CaseMetadata) CaseMetadata {
	return CaseMetadata{
		CaseID:           row.CaseID,
		Title:            row.Title,
		ProjectID:        row.ProjectID,
		Status:           domain.CaseStatus(row.Status),
		CombinedResponse: domain.CombinedStatus(row.CombinedResponse),
		RequiresRevision: row.RequiresRevision,
		Version:          row.Version,
		LastEventAt:      row.LastEventAt.UTC(),
	}
}
