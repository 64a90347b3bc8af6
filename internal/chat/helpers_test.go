package chat

import (
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/eternisai/chat-relay/internal/config"
	"github.com/eternisai/chat-relay/internal/llm"
	"github.com/eternisai/chat-relay/internal/logger"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// testConfig returns a config with production defaults shrunk to test scale.
func testConfig() *config.Config {
	return &config.Config{
		RedisFlushEveryN:       25,
		DBFlushEveryM:          150,
		SSEReconnectionDelayMS: 30000,
		TotalResponseTimeout:   5 * time.Second,
		AliveInterval:          time.Second,
		ReconnectPollRedis:     10 * time.Millisecond,
		ReconnectPollDB:        10 * time.Millisecond,
		RedisTTL:               time.Hour,
	}
}

// newTestService wires a Service against miniredis and sqlmock.
func newTestService(t *testing.T, client llm.Client, cfg *config.Config) (*Service, *miniredis.Miniredis, sqlmock.Sqlmock) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	mock.MatchExpectationsInOrder(false)

	log := logger.New(logger.Config{Level: slog.LevelError})
	if cfg == nil {
		cfg = testConfig()
	}

	store := NewStore(db, log)
	cache := NewCache(rdb, cfg.RedisTTL, log)
	return NewService(cfg, store, cache, client, log), mr, mock
}

// waitForTerminalStatus polls the status key until it leaves "active".
func waitForTerminalStatus(t *testing.T, mr *miniredis.Miniredis, chatUUID string) ChatStatus {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if val, err := mr.Get(statusKey(chatUUID)); err == nil {
			if status := ChatStatus(val); status.Terminal() {
				return status
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("chat never reached a terminal status")
	return ""
}

// drain collects everything the producer puts on the channel until close.
func drain(ch <-chan string) []string {
	var received []string
	for chunk := range ch {
		received = append(received, chunk)
	}
	return received
}
