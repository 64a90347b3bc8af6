package chat

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ChatStatus is the lifecycle state of a chat. Transitions are monotone:
// active moves to exactly one of the terminal states and never back.
type ChatStatus string

const (
	StatusActive      ChatStatus = "active"
	StatusInterrupted ChatStatus = "interrupted"
	StatusCompleted   ChatStatus = "completed"
	StatusFailed      ChatStatus = "failed"
)

// Terminal reports whether the status is frozen.
func (s ChatStatus) Terminal() bool {
	return s == StatusInterrupted || s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is a known status value.
func (s ChatStatus) Valid() bool {
	return s == StatusActive || s.Terminal()
}

// In-band sentinels carried through the token buffer and the local channel.
// They are unusual enough to never collide with model output and are
// stripped before anything reaches a client or the final DB row.
const (
	SentinelHeartbeat   = "<:<alive>:>"
	SentinelInterrupted = "<:<interrupt>:>"
	SentinelFailed      = "<:<failed>:>"
	SentinelDone        = "<:<done>:>"
)

// IsSentinel reports whether chunk is one of the in-band markers.
func IsSentinel(chunk string) bool {
	switch chunk {
	case SentinelHeartbeat, SentinelInterrupted, SentinelFailed, SentinelDone:
		return true
	}
	return false
}

// terminalSentinel maps a terminal status to the sentinel appended as the
// last buffer entry.
func terminalSentinel(status ChatStatus) string {
	switch status {
	case StatusInterrupted:
		return SentinelInterrupted
	case StatusFailed:
		return SentinelFailed
	default:
		return SentinelDone
	}
}

// ChatThread groups chats into a conversation.
type ChatThread struct {
	ID          int64
	ThreadTitle string
	CreatedAt   time.Time
	UpdatedAt   sql.NullTime
	DeletedAt   sql.NullTime
}

// Chat is one user prompt / assistant response pair.
type Chat struct {
	ID               int64
	UUID             uuid.UUID
	ThreadID         sql.NullInt64
	UserPrompt       string
	FinalPrompt      string
	SystemPrompt     sql.NullString
	LLMResponse      string
	Status           ChatStatus
	Model            string
	Provider         string
	Role             string
	InputTokens      sql.NullInt64
	OutputTokens     sql.NullInt64
	ReasoningTokens  sql.NullInt64
	TotalTokens      sql.NullInt64
	Meta             json.RawMessage
	CompleteResponse json.RawMessage
	CreatedAt        time.Time
	UpdatedAt        sql.NullTime
	IsDeleted        bool
}

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Model        string     `json:"model"`
	Provider     string     `json:"provider"`
	UserPrompt   string     `json:"user_prompt"`
	SystemPrompt string     `json:"system_prompt"`
	Stream       *bool      `json:"stream"`
	ThreadID     *int64     `json:"thread_id"`
	ChatUUID     *uuid.UUID `json:"chat_uuid"`
}

// IsReconnect reports whether the request resumes an existing chat.
func (r *ChatRequest) IsReconnect() bool {
	return r.ChatUUID != nil
}

// Streaming reports the effective stream flag (defaults to true).
func (r *ChatRequest) Streaming() bool {
	return r.Stream == nil || *r.Stream
}

// ModelID is the provider-qualified model identifier sent upstream.
func (r *ChatRequest) ModelID() string {
	return r.Provider + "/" + r.Model
}

// Validate checks the fields a new chat requires. Reconnection requests
// carry only chat_uuid and are not validated here.
func (r *ChatRequest) Validate() error {
	if r.IsReconnect() {
		return nil
	}
	var missing []string
	if r.UserPrompt == "" {
		missing = append(missing, "user_prompt")
	}
	if r.Provider == "" {
		missing = append(missing, "provider")
	}
	if r.Model == "" {
		missing = append(missing, "model")
	}
	if len(missing) > 0 {
		return fmt.Errorf("fields required for new chat: %s", strings.Join(missing, ", "))
	}
	return nil
}

// StopRequest is the body of POST /chat/stop.
type StopRequest struct {
	ChatUUID string `json:"chat_uuid" binding:"required"`
}
