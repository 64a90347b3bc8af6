package chat

import (
	"log/slog"
	"net/http"
	"strconv"

	apierrors "github.com/eternisai/chat-relay/internal/errors"
	"github.com/eternisai/chat-relay/internal/llm"
	"github.com/eternisai/chat-relay/internal/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Handler exposes the chat endpoints.
type Handler struct {
	service *Service
	logger  *logger.Logger
}

// NewHandler creates the chat handler.
func NewHandler(service *Service, log *logger.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  log.WithComponent("chat-handler"),
	}
}

// StartChat handles POST /chat: new streaming chats, new non-streaming
// chats, and reconnections (body carries chat_uuid).
func (h *Handler) StartChat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.AbortWithBadRequest(c, "invalid request body", map[string]interface{}{"reason": err.Error()})
		return
	}

	if req.IsReconnect() {
		h.reconnect(c, req)
		return
	}

	if err := req.Validate(); err != nil {
		apierrors.AbortWithBadRequest(c, err.Error(), nil)
		return
	}

	// Previous messages of the thread, replayed to the model.
	var history []llm.Message
	if req.ThreadID != nil {
		chats, err := h.service.Store().ListThreadChats(c.Request.Context(), *req.ThreadID)
		if err != nil {
			h.logger.Warn("failed to load thread history, continuing without it",
				slog.Int64("thread_id", *req.ThreadID),
				slog.String("error", err.Error()))
		}
		history = FormatPreviousMessages(chats)
	}

	if !req.Streaming() {
		h.completeNonStreaming(c, req, history)
		return
	}

	chat, err := h.service.Store().SaveChat(c.Request.Context(), req, StatusActive, "", nil, nil)
	if err != nil {
		h.logger.Error("failed to save chat", slog.String("error", err.Error()))
		apierrors.AbortWithInternal(c, "failed to save chat", nil)
		return
	}

	if err := h.service.Cache().SetStatus(c.Request.Context(), chat.UUID.String(), StatusActive); err != nil {
		// The producer falls back to the chat row for interrupt checks, so
		// a cache outage here only degrades the stop endpoint.
		h.logger.Warn("failed to seed status entry",
			slog.String("chat_uuid", chat.UUID.String()),
			slog.String("error", err.Error()))
	}

	ch, detach := h.service.StartProducer(chat, req, history)
	h.service.StreamToClient(c, chat, ch, detach)
}

// reconnect serves a request that carries a chat_uuid: replay an active
// stream, or return the stored result for a terminal one.
func (h *Handler) reconnect(c *gin.Context, req ChatRequest) {
	var lastEventID int64
	if v := c.GetHeader("Last-Event-ID"); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil && parsed > 0 {
			lastEventID = parsed
		}
	}

	chat, err := h.service.Store().GetByUUID(c.Request.Context(), *req.ChatUUID)
	if err == ErrChatNotFound {
		apierrors.AbortWithNotFound(c, "no such chat found", nil)
		return
	}
	if err != nil {
		h.logger.Error("failed to load chat", slog.String("error", err.Error()))
		apierrors.AbortWithInternal(c, "failed to load chat", nil)
		return
	}

	if chat.Status == StatusActive {
		// Producer still running: replay the buffer, then poll for new data.
		h.service.Replay(c, chat, lastEventID)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"text":   chat.LLMResponse,
		"status": chat.Status,
	})
}

// completeNonStreaming performs a blocking completion and saves a finished
// chat row in one go.
func (h *Handler) completeNonStreaming(c *gin.Context, req ChatRequest, history []llm.Message) {
	completion, err := h.service.Complete(c.Request.Context(), req, history)
	if err != nil {
		apierrors.AbortWithBadGateway(c, "LLM call failed", nil)
		return
	}

	chat, err := h.service.Store().SaveChat(c.Request.Context(), req, StatusCompleted, completion.Text, completion.Usage, completion.Raw)
	if err != nil {
		h.logger.Error("failed to save chat", slog.String("error", err.Error()))
		apierrors.AbortWithInternal(c, "failed to save chat", nil)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"chat_uuid": chat.UUID.String(),
		"text":      completion.Text,
		"usage":     usagePayload(completion.Usage),
		"thread_id": chat.ThreadID.Int64,
	})
}

// StopChat handles POST /chat/stop: signal the producer to interrupt on its
// next iteration. Idempotent once the chat is terminal.
func (h *Handler) StopChat(c *gin.Context) {
	var req StopRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.AbortWithBadRequest(c, "chat_uuid is required", nil)
		return
	}

	chatUUID, err := uuid.Parse(req.ChatUUID)
	if err != nil {
		apierrors.AbortWithBadRequest(c, "invalid chat_uuid", nil)
		return
	}

	status, err := h.service.Cache().GetStatus(c.Request.Context(), req.ChatUUID)
	if err == ErrStatusNotFound {
		apierrors.AbortWithNotFound(c, "chat session not found", nil)
		return
	}
	if err != nil {
		// Cache outage: the chat row still knows the status.
		status, err = h.service.Store().GetStatus(c.Request.Context(), chatUUID)
		if err == ErrChatNotFound {
			apierrors.AbortWithNotFound(c, "chat session not found", nil)
			return
		}
		if err != nil {
			h.logger.Error("failed to resolve chat status", slog.String("error", err.Error()))
			apierrors.AbortWithInternal(c, "failed to resolve chat status", nil)
			return
		}
	}

	if status != StatusActive {
		c.JSON(http.StatusOK, gin.H{
			"detail":    "Chat is already '" + string(status) + "'.",
			"chat_uuid": req.ChatUUID,
		})
		return
	}

	// Signal the producer to stop on its next chunk.
	if err := h.service.Cache().SetStatus(c.Request.Context(), req.ChatUUID, StatusInterrupted); err != nil {
		h.logger.Warn("failed to write interrupt to cache",
			slog.String("chat_uuid", req.ChatUUID),
			slog.String("error", err.Error()))
	}

	// Mirror the status change in the chat row; the producer reads it when
	// the cache is unavailable.
	if err := h.service.Store().MarkInterrupted(c.Request.Context(), chatUUID); err != nil {
		h.logger.Warn("failed to mirror interrupt to db",
			slog.String("chat_uuid", req.ChatUUID),
			slog.String("error", err.Error()))
	}

	c.JSON(http.StatusOK, gin.H{
		"detail":    "Chat interrupted.",
		"chat_uuid": req.ChatUUID,
	})
}

func usagePayload(usage *llm.Usage) gin.H {
	if usage == nil {
		return gin.H{}
	}
	return gin.H{
		"input_tokens":     usage.InputTokens,
		"output_tokens":    usage.OutputTokens,
		"reasoning_tokens": usage.ReasoningTokens,
		"total_tokens":     usage.TotalTokens,
	}
}
