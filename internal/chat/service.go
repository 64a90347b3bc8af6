package chat

import (
	"context"
	"sync"

	"github.com/eternisai/chat-relay/internal/config"
	"github.com/eternisai/chat-relay/internal/llm"
	"github.com/eternisai/chat-relay/internal/logger"
)

// Service owns the streaming relay core: producers, emitters and the
// reconnect replayer, wired to the chat store, the cache and the upstream
// client.
type Service struct {
	cfg    *config.Config
	store  *Store
	cache  *Cache
	llm    llm.Client
	logger *logger.Logger
}

// NewService creates the chat service.
func NewService(cfg *config.Config, store *Store, cache *Cache, llmClient llm.Client, log *logger.Logger) *Service {
	return &Service{
		cfg:    cfg,
		store:  store,
		cache:  cache,
		llm:    llmClient,
		logger: log,
	}
}

// Store exposes the chat store for handlers.
func (s *Service) Store() *Store { return s.store }

// Cache exposes the cache for handlers.
func (s *Service) Cache() *Cache { return s.cache }

// StartProducer spawns the detached producer goroutine for a chat and
// returns the local channel the emitter consumes, plus a detach function.
//
// The producer is deliberately NOT tied to the HTTP request context: a
// client disconnect must never abort upstream reading or persistence. The
// emitter calls detach (idempotent) when it stops consuming, which lets the
// producer skip further channel sends without blocking.
func (s *Service) StartProducer(chat *Chat, req ChatRequest, history []llm.Message) (<-chan string, func()) {
	ch := make(chan string, 256)
	clientGone := make(chan struct{})
	var once sync.Once
	detach := func() {
		once.Do(func() { close(clientGone) })
	}

	go s.produce(chat, req, history, ch, clientGone)

	return ch, detach
}

// Complete performs a blocking, non-streaming completion for a request.
func (s *Service) Complete(ctx context.Context, req ChatRequest, history []llm.Message) (*llm.Completion, error) {
	return s.llm.Complete(ctx, llm.CompletionRequest{
		Model:            req.ModelID(),
		UserPrompt:       req.UserPrompt,
		SystemPrompt:     req.SystemPrompt,
		PreviousMessages: history,
	})
}
