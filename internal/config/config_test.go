package config

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	LoadConfig()

	if AppConfig.RedisFlushEveryN != 25 {
		t.Errorf("expected default flush threshold 25, got %d", AppConfig.RedisFlushEveryN)
	}
	if AppConfig.DBFlushEveryM != 150 {
		t.Errorf("expected default db flush threshold 150, got %d", AppConfig.DBFlushEveryM)
	}
	if AppConfig.TotalResponseTimeout != 600*time.Second {
		t.Errorf("expected 600s total timeout, got %s", AppConfig.TotalResponseTimeout)
	}
	if AppConfig.AliveInterval != 20*time.Second {
		t.Errorf("expected 20s alive interval, got %s", AppConfig.AliveInterval)
	}
	if AppConfig.ReconnectPollRedis != 500*time.Millisecond {
		t.Errorf("expected 0.5s redis poll, got %s", AppConfig.ReconnectPollRedis)
	}
	if AppConfig.ReconnectPollDB != 3*time.Second {
		t.Errorf("expected 3s db poll, got %s", AppConfig.ReconnectPollDB)
	}
	if AppConfig.RedisTTL != time.Hour {
		t.Errorf("expected 1h ttl, got %s", AppConfig.RedisTTL)
	}
	if AppConfig.SSEReconnectionDelayMS != 30000 {
		t.Errorf("expected 30000ms retry hint, got %d", AppConfig.SSEReconnectionDelayMS)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("REDIS_FLUSH_EVERY_N", "5")
	t.Setenv("ALIVE_INTERVAL_S", "0.25")
	t.Setenv("LLM_MOCK_RESPONSE", "true")

	LoadConfig()

	if AppConfig.RedisFlushEveryN != 5 {
		t.Errorf("expected override 5, got %d", AppConfig.RedisFlushEveryN)
	}
	if AppConfig.AliveInterval != 250*time.Millisecond {
		t.Errorf("expected 250ms alive interval, got %s", AppConfig.AliveInterval)
	}
	if !AppConfig.LLMMockResponse {
		t.Error("expected mock response enabled")
	}
}

func TestLoadConfigIgnoresGarbage(t *testing.T) {
	t.Setenv("REDIS_FLUSH_EVERY_N", "not-a-number")

	LoadConfig()

	if AppConfig.RedisFlushEveryN != 25 {
		t.Errorf("expected default on parse failure, got %d", AppConfig.RedisFlushEveryN)
	}
}
