package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eternisai/chat-relay/internal/logger"
	"github.com/redis/go-redis/v9"
)

// ErrStatusNotFound is returned when no status entry exists for a chat.
var ErrStatusNotFound = errors.New("chat status not found")

func statusKey(chatUUID string) string {
	return "chat:status:" + chatUUID
}

func bufferKey(chatUUID string) string {
	return "chat:buffer:" + chatUUID
}

// Cache is the shared fast store: a status entry and an append-only chunk
// buffer per chat, both TTL'd. The buffer is best-effort; the chat record
// remains the source of truth at terminal.
type Cache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *logger.Logger
}

// NewCache wraps an existing Redis client.
func NewCache(rdb *redis.Client, ttl time.Duration, log *logger.Logger) *Cache {
	return &Cache{
		rdb:    rdb,
		ttl:    ttl,
		logger: log.WithComponent("chat-cache"),
	}
}

// SetStatus writes the status entry with a fresh TTL. Idempotent.
func (c *Cache) SetStatus(ctx context.Context, chatUUID string, status ChatStatus) error {
	if err := c.rdb.Set(ctx, statusKey(chatUUID), string(status), c.ttl).Err(); err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	return nil
}

// GetStatus reads the status entry. Returns ErrStatusNotFound when the key
// is absent or expired.
func (c *Cache) GetStatus(ctx context.Context, chatUUID string) (ChatStatus, error) {
	val, err := c.rdb.Get(ctx, statusKey(chatUUID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrStatusNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get status: %w", err)
	}
	return ChatStatus(val), nil
}

// AppendBuffer appends chunks to the buffer list and refreshes the TTL of
// both keys, all in a single round-trip pipeline. Refreshing on every flush
// keeps active streams from expiring mid-generation.
func (c *Cache) AppendBuffer(ctx context.Context, chatUUID string, chunks []string) error {
	if len(chunks) == 0 {
		return nil
	}

	items := make([]interface{}, len(chunks))
	for i, chunk := range chunks {
		items[i] = chunk
	}

	pipe := c.rdb.Pipeline()
	pipe.RPush(ctx, bufferKey(chatUUID), items...)
	pipe.Expire(ctx, bufferKey(chatUUID), c.ttl)
	pipe.Expire(ctx, statusKey(chatUUID), c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append buffer: %w", err)
	}
	return nil
}

// StatusAndSlice reads the current status and the buffer entries from
// fromIdx (0-based) to the end in one pipeline. An out-of-range fromIdx
// yields an empty slice; callers keep polling.
func (c *Cache) StatusAndSlice(ctx context.Context, chatUUID string, fromIdx int64) (ChatStatus, []string, error) {
	pipe := c.rdb.Pipeline()
	statusCmd := pipe.Get(ctx, statusKey(chatUUID))
	sliceCmd := pipe.LRange(ctx, bufferKey(chatUUID), fromIdx, -1)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return "", nil, fmt.Errorf("status and slice: %w", err)
	}

	var status ChatStatus
	if val, err := statusCmd.Result(); err == nil {
		status = ChatStatus(val)
	}

	chunks, err := sliceCmd.Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", nil, fmt.Errorf("buffer slice: %w", err)
	}

	return status, chunks, nil
}
