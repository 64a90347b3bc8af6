package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/eternisai/chat-relay/internal/llm"
	"github.com/eternisai/chat-relay/internal/logger"
	"github.com/eternisai/chat-relay/internal/title"
	"github.com/google/uuid"
)

// ErrChatNotFound is returned when no chat row exists for a UUID.
var ErrChatNotFound = errors.New("chat not found")

// Store handles persistence of chats and threads to PostgreSQL.
type Store struct {
	logger *logger.Logger
	db     *sql.DB
}

// NewStore creates a new chat store.
func NewStore(db *sql.DB, log *logger.Logger) *Store {
	return &Store{
		logger: log.WithComponent("chat-store"),
		db:     db,
	}
}

// SaveChat inserts a new chat row, minting a thread first when the request
// carries no thread_id. The chat UUID is assigned here and never changes.
func (s *Store) SaveChat(ctx context.Context, req ChatRequest, status ChatStatus, llmResponse string, usage *llm.Usage, completeResponse []byte) (*Chat, error) {
	chatUUID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to mint chat uuid: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var threadID int64
	if req.ThreadID != nil {
		threadID = *req.ThreadID
	} else {
		err = tx.QueryRowContext(ctx,
			`INSERT INTO chat_thread (thread_title) VALUES ($1) RETURNING id`,
			title.FromPrompt(req.UserPrompt),
		).Scan(&threadID)
		if err != nil {
			return nil, fmt.Errorf("failed to create thread: %w", err)
		}
	}

	chat := &Chat{
		UUID:        chatUUID,
		ThreadID:    sql.NullInt64{Int64: threadID, Valid: true},
		UserPrompt:  req.UserPrompt,
		FinalPrompt: req.UserPrompt,
		LLMResponse: llmResponse,
		Status:      status,
		Model:       req.Model,
		Provider:    req.Provider,
		Role:        "assistant",
	}
	if req.SystemPrompt != "" {
		chat.SystemPrompt = sql.NullString{String: req.SystemPrompt, Valid: true}
	}
	if completeResponse != nil {
		chat.CompleteResponse = completeResponse
	}

	query := `
		INSERT INTO chat (
			uuid, thread_id, user_prompt, final_prompt, system_prompt,
			llm_response, status, model, provider, role,
			input_tokens, output_tokens, reasoning_tokens, total_tokens,
			complete_response
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id, created_at
	`

	in, out, reasoning, total := usageColumns(usage)
	err = tx.QueryRowContext(ctx, query,
		chat.UUID, chat.ThreadID, chat.UserPrompt, chat.FinalPrompt, chat.SystemPrompt,
		chat.LLMResponse, string(chat.Status), chat.Model, chat.Provider, chat.Role,
		in, out, reasoning, total,
		nullBytes(chat.CompleteResponse),
	).Scan(&chat.ID, &chat.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert chat: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit chat: %w", err)
	}

	s.logger.Debug("chat saved",
		slog.String("chat_uuid", chat.UUID.String()),
		slog.Int64("thread_id", threadID),
		slog.String("status", string(status)))

	chat.InputTokens, chat.OutputTokens, chat.ReasoningTokens, chat.TotalTokens = in, out, reasoning, total
	return chat, nil
}

// GetByUUID fetches a chat row by its external handle.
func (s *Store) GetByUUID(ctx context.Context, chatUUID uuid.UUID) (*Chat, error) {
	query := `
		SELECT id, uuid, thread_id, user_prompt, final_prompt, system_prompt,
		       llm_response, status, model, provider, role,
		       input_tokens, output_tokens, reasoning_tokens, total_tokens,
		       created_at, updated_at, is_deleted
		FROM chat
		WHERE uuid = $1
	`

	var chat Chat
	var status string
	err := s.db.QueryRowContext(ctx, query, chatUUID).Scan(
		&chat.ID, &chat.UUID, &chat.ThreadID, &chat.UserPrompt, &chat.FinalPrompt, &chat.SystemPrompt,
		&chat.LLMResponse, &status, &chat.Model, &chat.Provider, &chat.Role,
		&chat.InputTokens, &chat.OutputTokens, &chat.ReasoningTokens, &chat.TotalTokens,
		&chat.CreatedAt, &chat.UpdatedAt, &chat.IsDeleted,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrChatNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query chat: %w", err)
	}

	chat.Status = ChatStatus(status)
	return &chat, nil
}

// GetStatus reads only the status column.
func (s *Store) GetStatus(ctx context.Context, chatUUID uuid.UUID) (ChatStatus, error) {
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT status FROM chat WHERE uuid = $1`, chatUUID,
	).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrChatNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to query chat status: %w", err)
	}
	return ChatStatus(status), nil
}

// GetStatusAndResponse reads the status and accumulated response in one
// query. Used by the replayer's DB fallback path.
func (s *Store) GetStatusAndResponse(ctx context.Context, chatUUID uuid.UUID) (ChatStatus, string, error) {
	var status, response string
	err := s.db.QueryRowContext(ctx,
		`SELECT status, llm_response FROM chat WHERE uuid = $1`, chatUUID,
	).Scan(&status, &response)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", ErrChatNotFound
	}
	if err != nil {
		return "", "", fmt.Errorf("failed to query chat: %w", err)
	}
	return ChatStatus(status), response, nil
}

// UpdatePartialResponse overwrites llm_response with the raw accumulation
// so far, sentinels included. Status and usage are untouched.
func (s *Store) UpdatePartialResponse(ctx context.Context, chatUUID uuid.UUID, content string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE chat SET llm_response = $2, updated_at = $3 WHERE uuid = $1`,
		chatUUID, content, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to write partial response: %w", err)
	}
	return nil
}

// FinalizeResponse is the single terminal write: cleaned response text,
// terminal status and usage counters in one UPDATE.
func (s *Store) FinalizeResponse(ctx context.Context, chatUUID uuid.UUID, content string, status ChatStatus, usage *llm.Usage) error {
	in, out, reasoning, total := usageColumns(usage)
	_, err := s.db.ExecContext(ctx, `
		UPDATE chat
		SET llm_response = $2, status = $3, updated_at = $4,
		    input_tokens = COALESCE($5, input_tokens),
		    output_tokens = COALESCE($6, output_tokens),
		    reasoning_tokens = COALESCE($7, reasoning_tokens),
		    total_tokens = COALESCE($8, total_tokens)
		WHERE uuid = $1`,
		chatUUID, content, string(status), time.Now().UTC(),
		in, out, reasoning, total,
	)
	if err != nil {
		return fmt.Errorf("failed to finalize chat: %w", err)
	}

	s.logger.Debug("chat finalized",
		slog.String("chat_uuid", chatUUID.String()),
		slog.String("status", string(status)),
		slog.Int("response_len", len(content)))
	return nil
}

// MarkInterrupted mirrors an external stop signal into the chat row.
func (s *Store) MarkInterrupted(ctx context.Context, chatUUID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE chat SET status = $2, updated_at = $3 WHERE uuid = $1`,
		chatUUID, string(StatusInterrupted), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to mark chat interrupted: %w", err)
	}
	return nil
}

// ListThreadChats returns the live chats of a thread ordered by creation
// time, oldest first. Used to assemble the conversation history sent
// upstream.
func (s *Store) ListThreadChats(ctx context.Context, threadID int64) ([]Chat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_prompt, llm_response
		FROM chat
		WHERE thread_id = $1 AND is_deleted = FALSE
		ORDER BY created_at ASC`,
		threadID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query thread chats: %w", err)
	}
	defer rows.Close()

	var chats []Chat
	for rows.Next() {
		var chat Chat
		if err := rows.Scan(&chat.UserPrompt, &chat.LLMResponse); err != nil {
			return nil, fmt.Errorf("failed to scan thread chat: %w", err)
		}
		chats = append(chats, chat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating thread chats: %w", err)
	}

	return chats, nil
}

// FormatPreviousMessages flattens thread history into alternating
// user/assistant messages for the upstream call.
func FormatPreviousMessages(chats []Chat) []llm.Message {
	messages := make([]llm.Message, 0, len(chats)*2)
	for _, chat := range chats {
		messages = append(messages, llm.Message{Role: llm.RoleUser, Content: chat.UserPrompt})
		if chat.LLMResponse != "" {
			messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: chat.LLMResponse})
		}
	}
	return messages
}

func usageColumns(usage *llm.Usage) (in, out, reasoning, total sql.NullInt64) {
	if usage == nil {
		return
	}
	return sql.NullInt64{Int64: usage.InputTokens, Valid: true},
		sql.NullInt64{Int64: usage.OutputTokens, Valid: true},
		sql.NullInt64{Int64: usage.ReasoningTokens, Valid: true},
		sql.NullInt64{Int64: usage.TotalTokens, Valid: true}
}

func nullBytes(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}
