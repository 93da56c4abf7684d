package cache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/backstage/services/changeorder/domain"
)

func TestRedisCacheUpdate(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewRedisMetadataCache(db, "test")

	entry := meta("C1", 2, domain.StatusNotified)
	data, err := json.Marshal(entry)
	require.NoError(t, err)

	mock.ExpectEval(updateScript, []string{"test:case:C1", "test:cases"}, string(data), 2, "C1").SetVal(int64(1))

	require.NoError(t, c.Update(context.Background(), entry))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisCacheUpdateError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewRedisMetadataCache(db, "test")

	entry := meta("C1", 2, domain.StatusNotified)
	data, err := json.Marshal(entry)
	require.NoError(t, err)

	mock.ExpectEval(updateScript, []string{"test:case:C1", "test:cases"}, string(data), 2, "C1").
		SetErr(errors.New("connection refused"))

	err = c.Update(context.Background(), entry)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestRedisCacheGet(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewRedisMetadataCache(db, "test")

	entry := meta("C1", 3, domain.StatusClaimSubmitted)
	data, err := json.Marshal(entry)
	require.NoError(t, err)

	mock.ExpectGet("test:case:C1").SetVal(string(data))
	mock.ExpectGet("test:case:C2").RedisNil()

	got, err := c.Get(context.Background(), "C1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, entry, *got)

	missing, err := c.Get(context.Background(), "C2")
	require.NoError(t, err)
	assert.Nil(t, missing)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisCacheListAllSkipsEvicted(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewRedisMetadataCache(db, "test")

	first, err := json.Marshal(meta("C1", 1, domain.StatusDraft))
	require.NoError(t, err)

	mock.ExpectSMembers("test:cases").SetVal([]string{"C2", "C1"})
	mock.ExpectMGet("test:case:C1", "test:case:C2").SetVal([]interface{}{string(first), nil})

	all, err := c.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "C1", all[0].CaseID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisCacheListAllEmpty(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewRedisMetadataCache(db, "test")

	mock.ExpectSMembers("test:cases").SetVal([]string{})

	all, err := c.ListAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestRedisTriggerDedup(t *testing.T) {
	db, mock := redismock.NewClientMock()
	d := NewRedisTriggerDedup(db, "test", time.Hour)

	mock.ExpectSetNX("test:trigger:T1", "C1", time.Hour).SetVal(true)
	mock.ExpectSetNX("test:trigger:T1", "C1", time.Hour).SetVal(false)
	mock.ExpectDel("test:trigger:T1").SetVal(1)

	first, err := d.MarkProcessed(context.Background(), "T1", "C1")
	require.NoError(t, err)
	assert.True(t, first)

	again, err := d.MarkProcessed(context.Background(), "T1", "C1")
	require.NoError(t, err)
	assert.False(t, again)

	require.NoError(t, d.Release(context.Background(), "T1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisTriggerDedupDefaultRetention(t *testing.T) {
	db, _ := redismock.NewClientMock()
	d := NewRedisTriggerDedup(db, "test", 0)
	assert.Equal(t, DefaultTriggerRetention, d.retention)
}

func TestCacheKeys(t *testing.T) {
	assert.Equal(t, "co:case:C1", GetCaseCacheKey("co", "C1"))
	assert.Equal(t, "co:cases", GetCaseIndexKey("co"))
	assert.Equal(t, "co:trigger:T1", GetTriggerCacheKey("co", "T1"))
}
