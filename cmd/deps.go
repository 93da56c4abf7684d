package cmd

import (
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"example.com/backstage/services/changeorder/cache"
	"example.com/backstage/services/changeorder/eventstore"
	"example.com/backstage/services/changeorder/models"
)

// backends is the storage a command runs against
type backends struct {
	db    *gorm.DB
	redis *redis.Client
	store eventstore.EventStore
	cache cache.MetadataCache
	dedup cache.TriggerDeduplicator
}

func (b *backends) Close() {
	if b.redis != nil {
		if err := b.redis.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close Redis client")
		}
	}
	if b.db != nil {
		if sqlDB, err := b.db.DB(); err == nil {
			sqlDB.Close()
		}
	}
}

// openDatabase connects to Postgres and migrates the tables
func openDatabase() (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.Database.Source), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	if cfg.EnableMigrations {
		// Auto migrate tables
		if err := db.AutoMigrate(models.All()...); err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	return db, nil
}

// openBackends wires the event store, metadata cache and trigger dedup
// from configuration. Redis, when enabled, takes over the cache and dedup.
func openBackends() (*backends, error) {
	b := &backends{}

	switch cfg.Store {
	case "memory":
		log.Warn().Msg("Using in-memory event store, events are lost on exit")
		b.store = eventstore.NewMemoryEventStore()
		b.cache = cache.NewMemoryMetadataCache()
		b.dedup = cache.NewMemoryTriggerDedup(cfg.Dedup.Retention)
	case "postgres", "":
		db, err := openDatabase()
		if err != nil {
			return nil, err
		}
		b.db = db
		b.store = eventstore.NewGormEventStore(db)
		b.cache = cache.NewGormMetadataCache(db)
		b.dedup = cache.NewGormTriggerDedup(db, cfg.Dedup.Retention)
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}

	if cfg.Redis.Enabled {
		client, err := cache.NewRedisClient(cfg.Redis)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize Redis, continuing without it")
		} else {
			b.redis = client
			b.cache = cache.NewRedisMetadataCache(client, cfg.Redis.Prefix)
			b.dedup = cache.NewRedisTriggerDedup(client, cfg.Redis.Prefix, cfg.Dedup.Retention)
		}
	}

	return b, nil
}
