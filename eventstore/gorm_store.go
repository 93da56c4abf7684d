package eventstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"example.com/backstage/services/changeorder/domain"
	"example.com/backstage/services/changeorder/models"
)

// GormEventStore implements EventStore using GORM.
//
// Appends run in a transaction that reads the current version and inserts
// the next position. The unique (case_id, position) index turns a lost race
// into a duplicate-key error, which is reported as a version conflict.
type GormEventStore struct {
	db   *gorm.DB
	opts options
}

// NewGormEventStore creates a new GORM event store
func NewGormEventStore(db *gorm.DB, opts ...Option) *GormEventStore {
	return &GormEventStore{db: db, opts: buildOptions(opts)}
}

// Append stores an event if the case is still at expectedVersion
func (s *GormEventStore) Append(ctx context.Context, caseID string, event domain.Event, expectedVersion int) (int, error) {
	stored, err := prepare(caseID, event, expectedVersion, s.opts.stamp())
	if err != nil {
		return 0, err
	}

	data, err := domain.EncodePayload(stored.Payload)
	if err != nil {
		return 0, err
	}

	row := models.Event{
		CaseID:    stored.CaseID,
		Position:  stored.Position,
		EventType: string(stored.Type),
		Payload:   data,
		Timestamp: stored.Timestamp,
	}
	if stored.Actor != "" {
		actor := stored.Actor
		row.Actor = &actor
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := currentVersion(tx, caseID)
		if err != nil {
			return err
		}
		if current != expectedVersion {
			return &domain.ConcurrencyError{CaseID: caseID, Expected: expectedVersion, Actual: current}
		}

		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("failed to save event: %w", err)
		}
		return nil
	})

	if err != nil {
		var conflict *domain.ConcurrencyError
		if errors.As(err, &conflict) {
			return 0, conflict
		}
		if isDuplicateKey(err) {
			// Another writer committed this position first
			actual, verr := currentVersion(s.db.WithContext(ctx), caseID)
			if verr != nil {
				return 0, fmt.Errorf("failed to read version after conflict: %w", verr)
			}
			return 0, &domain.ConcurrencyError{CaseID: caseID, Expected: expectedVersion, Actual: actual}
		}
		return 0, err
	}

	log.Info().
		Str("caseID", caseID).
		Str("eventType", string(stored.Type)).
		Int("version", stored.Position).
		Msg("Event saved")

	return stored.Position, nil
}

func currentVersion(tx *gorm.DB, caseID string) (int, error) {
	var current int
	if err := tx.Model(&models.Event{}).
		Select("COALESCE(MAX(position), 0)").
		Where("case_id = ?", caseID).
		Scan(&current).Error; err != nil {
		return 0, fmt.Errorf("failed to read case version: %w", err)
	}
	return current, nil
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// Without TranslateError the driver error leaks through as text
	msg := err.Error()
	return strings.Contains(msg, "SQLSTATE 23505") || strings.Contains(msg, "duplicate key")
}

// GetEvents gets all events for a case
func (s *GormEventStore) GetEvents(ctx context.Context, caseID string) ([]domain.Event, int, error) {
	var rows []models.Event
	if err := s.db.WithContext(ctx).
		Where("case_id = ?", caseID).
		Order("position ASC").
		Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to get events: %w", err)
	}

	events, err := toDomainEvents(rows)
	if err != nil {
		return nil, 0, err
	}
	return events, len(events), nil
}

// ListCaseIDs returns the IDs of all cases with events
func (s *GormEventStore) ListCaseIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.db.WithContext(ctx).
		Model(&models.Event{}).
		Distinct("case_id").
		Order("case_id ASC").
		Pluck("case_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to list case ids: %w", err)
	}
	return ids, nil
}

// Exists checks if a case has any events
func (s *GormEventStore) Exists(ctx context.Context, caseID string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&models.Event{}).
		Where("case_id = ?", caseID).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check if case exists: %w", err)
	}

	return count > 0, nil
}

// GetUnprocessedEvents gets undelivered events in insertion order.
//
// A row that does not decode gets its error recorded and is left
// unprocessed; the rest of its case waits behind it while other cases are
// still returned.
func (s *GormEventStore) GetUnprocessedEvents(ctx context.Context, limit int) ([]domain.Event, error) {
	var rows []models.Event
	if err := s.db.WithContext(ctx).
		Where("processed = ?", false).
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to get unprocessed events: %w", err)
	}

	events := make([]domain.Event, 0, len(rows))
	corrupt := map[string]bool{}
	for _, row := range rows {
		if corrupt[row.CaseID] {
			continue
		}

		event, err := toDomainEvent(row)
		if err != nil {
			corrupt[row.CaseID] = true
			log.Error().Err(err).Str("caseID", row.CaseID).Int("position", row.Position).Msg("Skipping corrupt event in outbox")
			if err := s.MarkEventAsFailed(ctx, row.CaseID, row.Position, err.Error()); err != nil {
				log.Error().Err(err).Str("caseID", row.CaseID).Msg("Failed to record event error")
			}
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

// MarkEventAsProcessed marks an event as processed
func (s *GormEventStore) MarkEventAsProcessed(ctx context.Context, caseID string, position int) error {
	if err := s.db.WithContext(ctx).
		Model(&models.Event{}).
		Where("case_id = ? AND position = ?", caseID, position).
		Updates(map[string]interface{}{
			"processed": true,
			"error":     nil,
		}).Error; err != nil {
		return fmt.Errorf("failed to mark event as processed: %w", err)
	}

	return nil
}

// MarkEventAsFailed stores the delivery error on the event row
func (s *GormEventStore) MarkEventAsFailed(ctx context.Context, caseID string, position int, reason string) error {
	if err := s.db.WithContext(ctx).
		Model(&models.Event{}).
		Where("case_id = ? AND position = ?", caseID, position).
		Update("error", reason).Error; err != nil {
		return fmt.Errorf("failed to mark event as failed: %w", err)
	}

	return nil
}

// toDomainEvents decodes stored rows. A row whose payload does not decode
// for its declared type is a corruption of the case log.
func toDomainEvents(rows []models.Event) ([]domain.Event, error) {
	events := make([]domain.Event, len(rows))
	for i, row := range rows {
		event, err := toDomainEvent(row)
		if err != nil {
			return nil, err
		}
		events[i] = event
	}
	return events, nil
}

func toDomainEvent(row models.Event) (domain.Event, error) {
	eventType := domain.EventType(row.EventType)
	payload, err := domain.DecodePayload(eventType, row.Payload)
	if err != nil {
		return domain.Event{}, &domain.CorruptionError{
			CaseID:   row.CaseID,
			Position: row.Position,
			Type:     eventType,
			Err:      err,
		}
	}

	event := domain.Event{
		CaseID:    row.CaseID,
		Type:      eventType,
		Position:  row.Position,
		Timestamp: row.Timestamp.UTC(),
		Payload:   payload,
	}
	if row.Actor != nil {
		event.Actor = *row.Actor
	}
	return event, nil
}
