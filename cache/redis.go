package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"

	"example.com/backstage/services/changeorder/config"
)

// updateScript stores the entry unless a newer version is already cached.
// KEYS[1] entry key, KEYS[2] index set; ARGV[1] json, ARGV[2] version, ARGV[3] case id.
const updateScript = `
local current = redis.call('GET', KEYS[1])
if current then
  local decoded = cjson.decode(current)
  if tonumber(decoded['version']) > tonumber(ARGV[2]) then
    return 0
  end
end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('SADD', KEYS[2], ARGV[3])
return 1
`

// RedisMetadataCache keeps case metadata as JSON values plus an index set
type RedisMetadataCache struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisClient connects to Redis and checks the connection
func NewRedisClient(cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test the connection
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, errors.Wrap(err, "failed to connect to Redis")
	}

	return client, nil
}

// NewRedisMetadataCache creates a metadata cache on an existing client
func NewRedisMetadataCache(client redis.UniversalClient, prefix string) *RedisMetadataCache {
	return &RedisMetadataCache{client: client, prefix: prefix}
}

func (c *RedisMetadataCache) Update(ctx context.Context, meta CaseMetadata) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return errors.Wrap(err, "failed to marshal case metadata")
	}

	keys := []string{GetCaseCacheKey(c.prefix, meta.CaseID), GetCaseIndexKey(c.prefix)}
	if err := c.client.Eval(ctx, updateScript, keys, string(data), meta.Version, meta.CaseID).Err(); err != nil {
		return errors.Wrap(err, "failed to set case metadata in Redis")
	}
	return nil
}

func (c *RedisMetadataCache) Get(ctx context.Context, caseID string) (*CaseMetadata, error) {
	data, err := c.client.Get(ctx, GetCaseCacheKey(c.prefix, caseID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to get case metadata from Redis")
	}

	var meta CaseMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal cached case metadata")
	}
	return &meta, nil
}

func (c *RedisMetadataCache) ListAll(ctx context.Context) ([]CaseMetadata, error) {
	ids, err := c.client.SMembers(ctx, GetCaseIndexKey(c.prefix)).Result()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read case index from Redis")
	}
	if len(ids) == 0 {
		return []CaseMetadata{}, nil
	}
	sort.Strings(ids)

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = GetCaseCacheKey(c.prefix, id)
	}

	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get case metadata from Redis")
	}

	out := make([]CaseMetadata, 0, len(values))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			// Indexed but evicted; replay will back-fill it
			continue
		}
		var meta CaseMetadata
		if err := json.Unmarshal([]byte(s), &meta); err != nil {
			return nil, errors.Wrapf(err, "failed to unmarshal cached case metadata for %s", ids[i])
		}
		out = append(out, meta)
	}
	return out, nil
}

// GetCaseCacheKey generates a cache key for case metadata
func GetCaseCacheKey(prefix, caseID string) string {
	return fmt.Sprintf("%s:case:%s", prefix, caseID)
}

// GetCaseIndexKey generates the key of the set holding all cached case ids
func GetCaseIndexKey(prefix string) string {
	return fmt.Sprintf("%s:cases", prefix)
}

// GetTriggerCacheKey generates a cache key for a processed inbound trigger
func GetTriggerCacheKey(prefix, triggerID string) string {
	return fmt.Sprintf("%s:trigger:%s", prefix, triggerID)
}
