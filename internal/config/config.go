package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port    string
	GinMode string

	// Database
	DatabaseURL string

	// Redis
	RedisAddr     string
	RedisPassword string

	// Upstream LLM
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	LLMMockResponse bool

	// Chat streaming
	RedisFlushEveryN       int           // append to Redis every N chunks
	DBFlushEveryM          int           // partial DB write every M chunks
	SSEReconnectionDelayMS int           // retry: value sent on the init frame
	TotalResponseTimeout   time.Duration // overall producer deadline
	AliveInterval          time.Duration // per-chunk upstream read timeout (heartbeat)
	ReconnectPollRedis     time.Duration // replayer cache poll period
	ReconnectPollDB        time.Duration // replayer DB fallback poll period
	RedisTTL               time.Duration // TTL of status and buffer keys

	// Database Connection Pool
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxIdleTime int // in minutes
	DBConnMaxLifetime int // in minutes

	// Server
	ServerShutdownTimeoutSeconds int

	// Logging
	LogLevel  string
	LogFormat string
}

var AppConfig *Config

func LoadConfig() {
	// Load .env file if it exists
	if err := godotenv.Load(".env"); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	AppConfig = &Config{
		Port:    getEnvOrDefault("PORT", "8080"),
		GinMode: getEnvOrDefault("GIN_MODE", "release"),

		// Database
		DatabaseURL: getEnvOrDefault("DATABASE_URL", "postgres://localhost/chat_relay?sslmode=disable"),

		// Redis
		RedisAddr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnvOrDefault("REDIS_PASSWORD", ""),

		// Upstream LLM
		OpenAIAPIKey:    getEnvOrDefault("OPENAI_API_KEY", ""),
		OpenAIBaseURL:   getEnvOrDefault("OPENAI_BASE_URL", ""),
		LLMMockResponse: getEnvBoolOrDefault("LLM_MOCK_RESPONSE", false),

		// Chat streaming
		RedisFlushEveryN:       getEnvIntOrDefault("REDIS_FLUSH_EVERY_N", 25),
		DBFlushEveryM:          getEnvIntOrDefault("DB_FLUSH_EVERY_M", 150),
		SSEReconnectionDelayMS: getEnvIntOrDefault("SSE_RECONNECTION_DELAY_MS", 30000),
		TotalResponseTimeout:   getEnvSecondsOrDefault("TOTAL_RESPONSE_TIMEOUT_S", 600),
		AliveInterval:          getEnvSecondsOrDefault("ALIVE_INTERVAL_S", 20),
		ReconnectPollRedis:     getEnvSecondsOrDefault("RECONNECT_POLL_INTERVAL_REDIS_S", 0.5),
		ReconnectPollDB:        getEnvSecondsOrDefault("RECONNECT_POLL_INTERVAL_DB_S", 3),
		RedisTTL:               getEnvSecondsOrDefault("REDIS_TTL_S", 3600),

		// Database Connection Pool
		DBMaxOpenConns:    getEnvIntOrDefault("DB_MAX_OPEN_CONNS", 25),
		DBMaxIdleConns:    getEnvIntOrDefault("DB_MAX_IDLE_CONNS", 10),
		DBConnMaxIdleTime: getEnvIntOrDefault("DB_CONN_MAX_IDLE_TIME_MINUTES", 5),
		DBConnMaxLifetime: getEnvIntOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30),

		// Server
		ServerShutdownTimeoutSeconds: getEnvIntOrDefault("SERVER_SHUTDOWN_TIMEOUT_SECONDS", 15),

		// Logging
		LogLevel:  getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", ""),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
		log.Printf("Invalid integer for %s, using default %d", key, defaultValue)
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
		log.Printf("Invalid boolean for %s, using default %t", key, defaultValue)
	}
	return defaultValue
}

// getEnvSecondsOrDefault reads a duration expressed in seconds.
// Fractional values are accepted (e.g. "0.5").
func getEnvSecondsOrDefault(key string, defaultSeconds float64) time.Duration {
	seconds := defaultSeconds
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			seconds = parsed
		} else {
			log.Printf("Invalid duration for %s, using default %gs", key, defaultSeconds)
		}
	}
	return time.Duration(seconds * float64(time.Second))
}
