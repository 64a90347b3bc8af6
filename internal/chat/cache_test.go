package chat

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/eternisai/chat-relay/internal/logger"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	log := logger.New(logger.Config{Level: slog.LevelError})
	return NewCache(rdb, time.Hour, log), mr
}

func TestCacheStatusRoundTrip(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.SetStatus(ctx, "u1", StatusActive))

	status, err := cache.GetStatus(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, status)

	// TTL is applied to the status key
	assert.Greater(t, mr.TTL(statusKey("u1")), time.Duration(0))
}

func TestCacheStatusNotFound(t *testing.T) {
	cache, _ := newTestCache(t)

	_, err := cache.GetStatus(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrStatusNotFound)
}

func TestCacheAppendAndSlice(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.SetStatus(ctx, "u2", StatusActive))
	require.NoError(t, cache.AppendBuffer(ctx, "u2", []string{"a", "b", "c"}))
	require.NoError(t, cache.AppendBuffer(ctx, "u2", []string{"d"}))

	status, chunks, err := cache.StatusAndSlice(ctx, "u2", 0)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, status)
	assert.Equal(t, []string{"a", "b", "c", "d"}, chunks)

	// Slicing resumes mid-buffer
	_, chunks, err = cache.StatusAndSlice(ctx, "u2", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "d"}, chunks)
}

func TestCacheSliceBeyondBufferIsEmpty(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.AppendBuffer(ctx, "u3", []string{"a"}))

	_, chunks, err := cache.StatusAndSlice(ctx, "u3", 10)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestCacheSliceMissingKeys(t *testing.T) {
	cache, _ := newTestCache(t)

	status, chunks, err := cache.StatusAndSlice(context.Background(), "nope", 0)
	require.NoError(t, err)
	assert.Equal(t, ChatStatus(""), status)
	assert.Empty(t, chunks)
}

func TestCacheAppendRefreshesStatusTTL(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.SetStatus(ctx, "u4", StatusActive))
	mr.FastForward(30 * time.Minute)

	require.NoError(t, cache.AppendBuffer(ctx, "u4", []string{"x"}))
	assert.Equal(t, time.Hour, mr.TTL(statusKey("u4")))
	assert.Equal(t, time.Hour, mr.TTL(bufferKey("u4")))
}

func TestCacheAppendNothingIsNoop(t *testing.T) {
	cache, mr := newTestCache(t)

	require.NoError(t, cache.AppendBuffer(context.Background(), "u5", nil))
	assert.False(t, mr.Exists(bufferKey("u5")))
}
