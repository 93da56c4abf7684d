package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/backstage/services/changeorder/models"
)

// DefaultTriggerRetention is how long a handled trigger id is remembered
const DefaultTriggerRetention = 30 * 24 * time.Hour

// TriggerDeduplicator remembers inbound trigger ids so that a redelivered
// message does not create a second case.
type TriggerDeduplicator interface {
	// MarkProcessed records triggerID and reports whether this is the first
	// time it was seen within the retention window
	MarkProcessed(ctx context.Context, triggerID, caseID string) (bool, error)
	// Release forgets triggerID so a redelivery is handled again
	Release(ctx context.Context, triggerID string) error
}

// RedisTriggerDedup stores trigger ids with SETNX and a TTL
type RedisTriggerDedup struct {
	client    redis.UniversalClient
	prefix    string
	retention time.Duration
}

// NewRedisTriggerDedup creates a Redis backed deduplicator
func NewRedisTriggerDedup(client redis.UniversalClient, prefix string, retention time.Duration) *RedisTriggerDedup {
	if retention <= 0 {
		retention = DefaultTriggerRetention
	}
	return &RedisTriggerDedup{client: client, prefix: prefix, retention: retention}
}

func (d *RedisTriggerDedup) MarkProcessed(ctx context.Context, triggerID, caseID string) (bool, error) {
	ok, err := d.client.SetNX(ctx, GetTriggerCacheKey(d.prefix, triggerID), caseID, d.retention).Result()
	if err != nil {
		return false, errors.Wrap(err, "failed to record trigger in Redis")
	}
	return ok, nil
}

func (d *RedisTriggerDedup) Release(ctx context.Context, triggerID string) error {
	if err := d.client.Del(ctx, GetTriggerCacheKey(d.prefix, triggerID)).Err(); err != nil {
		return errors.Wrap(err, "failed to release trigger in Redis")
	}
	return nil
}

// GormTriggerDedup stores trigger ids in the processed_triggers table
type GormTriggerDedup struct {
	db        *gorm.DB
	retention time.Duration
	now       func() time.Time
}

// NewGormTriggerDedup creates a database backed deduplicator
func NewGormTriggerDedup(db *gorm.DB, retention time.Duration) *GormTriggerDedup {
	if retention <= 0 {
		retention = DefaultTriggerRetention
	}
	return &GormTriggerDedup{db: db, retention: retention, now: time.Now}
}

func (d *GormTriggerDedup) MarkProcessed(ctx context.Context, triggerID, caseID string) (bool, error) {
	now := d.now().UTC()
	var inserted bool

	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("trigger_id = ? AND expires_at <= ?", triggerID, now).
			Delete(&models.ProcessedTrigger{}).Error; err != nil {
			return err
		}

		result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.ProcessedTrigger{
			TriggerID: triggerID,
			CaseID:    caseID,
			ExpiresAt: now.Add(d.retention),
		})
		if result.Error != nil {
			return result.Error
		}
		inserted = result.RowsAffected == 1
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to record trigger: %w", err)
	}
	return inserted, nil
}

func (d *GormTriggerDedup) Release(ctx context.Context, triggerID string) error {
	if err := d.db.WithContext(ctx).
		Where("trigger_id = ?", triggerID).
		Delete(&models.ProcessedTrigger{}).Error; err != nil {
		return fmt.Errorf("failed to release trigger: %w", err)
	}
	return nil
}

// MemoryTriggerDedup keeps trigger ids in process memory
type MemoryTriggerDedup struct {
	mu        sync.Mutex
	seen      map[string]time.Time
	retention time.Duration
	nextSweep time.Time
	now       func() time.Time
}

// NewMemoryTriggerDedup creates an in-memory deduplicator
func NewMemoryTriggerDedup(retention time.Duration) *MemoryTriggerDedup {
	if retention <= 0 {
		retention = DefaultTriggerRetention
	}
	return &MemoryTriggerDedup{seen: make(map[string]time.Time), retention: retention, now: time.Now}
}

func (d *MemoryTriggerDedup) MarkProcessed(ctx context.Context, triggerID, caseID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if !now.Before(d.nextSweep) {
		d.sweep(now)
	}
	if expires, ok := d.seen[triggerID]; ok && now.Before(expires) {
		return false, nil
	}
	d.seen[triggerID] = now.Add(d.retention)
	return true, nil
}

// sweep drops expired ids, at most once per retention period
func (d *MemoryTriggerDedup) sweep(now time.Time) {
	for id, expires := range d.seen {
		if !now.Before(expires) {
			delete(d.seen, id)
		}
	}
	d.nextSweep = now.Add(d.retention)
}

func (d *MemoryTriggerDedup) Release(ctx context.Context, triggerID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, triggerID)
	return nil
}
