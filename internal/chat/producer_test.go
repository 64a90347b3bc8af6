package chat

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/eternisai/chat-relay/internal/llm"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStreamClient scripts an upstream token stream.
type fakeStreamClient struct {
	chunks  []llm.Chunk
	delay   time.Duration // between chunks
	openErr error         // delivered before any chunk
	midErr  error         // delivered after the scripted chunks
}

func (f *fakeStreamClient) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, <-chan error) {
	chunks := make(chan llm.Chunk, 1)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		if f.openErr != nil {
			errs <- f.openErr
			return
		}
		for _, chunk := range f.chunks {
			if f.delay > 0 {
				select {
				case <-time.After(f.delay):
				case <-ctx.Done():
					return
				}
			}
			select {
			case chunks <- chunk:
			case <-ctx.Done():
				return
			}
		}
		if f.midErr != nil {
			errs <- f.midErr
		}
	}()

	return chunks, errs
}

func (f *fakeStreamClient) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.Completion, error) {
	return nil, f.openErr
}

func newActiveChat(t *testing.T) *Chat {
	t.Helper()
	chatUUID, err := uuid.NewV7()
	require.NoError(t, err)
	return &Chat{
		UUID:      chatUUID,
		ThreadID:  sql.NullInt64{Int64: 1, Valid: true},
		Status:    StatusActive,
		CreatedAt: time.Now(),
	}
}

func textChunks(texts ...string) []llm.Chunk {
	chunks := make([]llm.Chunk, 0, len(texts))
	for _, text := range texts {
		chunks = append(chunks, llm.Chunk{Text: text, HasText: true})
	}
	return chunks
}

func TestProducerHappyStreaming(t *testing.T) {
	client := &fakeStreamClient{
		chunks: append(textChunks("a", "b", "c"),
			llm.Chunk{Usage: &llm.Usage{InputTokens: 3, OutputTokens: 3, TotalTokens: 6}}),
	}
	service, mr, mock := newTestService(t, client, nil)
	chat := newActiveChat(t)

	mock.ExpectExec("UPDATE chat").
		WithArgs(chat.UUID, "abc", string(StatusCompleted), sqlmock.AnyArg(),
			int64(3), int64(3), int64(0), int64(6)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ch, detach := service.StartProducer(chat, ChatRequest{Model: "gpt-4o", Provider: "openai", UserPrompt: "hi"}, nil)
	defer detach()

	received := drain(ch)
	assert.Equal(t, []string{"a", "b", "c", SentinelDone}, received)

	status := waitForTerminalStatus(t, mr, chat.UUID.String())
	assert.Equal(t, StatusCompleted, status)

	// The buffer holds every channel token plus one terminal sentinel.
	buffer, err := mr.List(bufferKey(chat.UUID.String()))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", SentinelDone}, buffer)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProducerImmediateUpstreamFailure(t *testing.T) {
	client := &fakeStreamClient{openErr: context.DeadlineExceeded}
	service, mr, mock := newTestService(t, client, nil)
	chat := newActiveChat(t)

	mock.ExpectExec("UPDATE chat").WillReturnResult(sqlmock.NewResult(0, 1))

	ch, detach := service.StartProducer(chat, ChatRequest{Model: "m", Provider: "p", UserPrompt: "q"}, nil)
	defer detach()

	received := drain(ch)
	require.NotEmpty(t, received)
	assert.Equal(t, SentinelFailed, received[0])

	status := waitForTerminalStatus(t, mr, chat.UUID.String())
	assert.Equal(t, StatusFailed, status)

	// Exactly one terminal sentinel lands in the buffer.
	buffer, err := mr.List(bufferKey(chat.UUID.String()))
	require.NoError(t, err)
	assert.Equal(t, []string{SentinelFailed}, buffer)
}

func TestProducerMidStreamFault(t *testing.T) {
	client := &fakeStreamClient{
		chunks: textChunks("partial"),
		midErr: assert.AnError,
	}
	service, mr, mock := newTestService(t, client, nil)
	chat := newActiveChat(t)

	mock.ExpectExec("UPDATE chat").WillReturnResult(sqlmock.NewResult(0, 1))

	ch, detach := service.StartProducer(chat, ChatRequest{Model: "m", Provider: "p", UserPrompt: "q"}, nil)
	defer detach()

	received := drain(ch)
	assert.Equal(t, "partial", received[0])
	assert.Contains(t, received, SentinelFailed)

	assert.Equal(t, StatusFailed, waitForTerminalStatus(t, mr, chat.UUID.String()))
}

func TestProducerInterrupt(t *testing.T) {
	client := &fakeStreamClient{
		chunks: textChunks("one", "two", "three", "four", "five", "six"),
		delay:  20 * time.Millisecond,
	}
	service, mr, mock := newTestService(t, client, nil)
	chat := newActiveChat(t)

	mock.ExpectExec("UPDATE chat").WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, service.cache.SetStatus(context.Background(), chat.UUID.String(), StatusActive))

	ch, detach := service.StartProducer(chat, ChatRequest{Model: "m", Provider: "p", UserPrompt: "q"}, nil)
	defer detach()

	var received []string
	for chunk := range ch {
		received = append(received, chunk)
		if len(received) == 2 {
			// External stop signal after two delivered chunks.
			require.NoError(t, service.cache.SetStatus(context.Background(), chat.UUID.String(), StatusInterrupted))
		}
	}

	assert.Contains(t, received, SentinelInterrupted)
	assert.NotContains(t, received, SentinelDone)
	assert.Less(t, len(received), 8, "producer should stop early")

	assert.Equal(t, StatusInterrupted, waitForTerminalStatus(t, mr, chat.UUID.String()))
}

func TestProducerHeartbeatOnStall(t *testing.T) {
	cfg := testConfig()
	cfg.AliveInterval = 30 * time.Millisecond

	client := &fakeStreamClient{
		chunks: textChunks("late"),
		delay:  100 * time.Millisecond,
	}
	service, _, mock := newTestService(t, client, cfg)
	chat := newActiveChat(t)

	mock.ExpectExec("UPDATE chat").WillReturnResult(sqlmock.NewResult(0, 1))

	ch, detach := service.StartProducer(chat, ChatRequest{Model: "m", Provider: "p", UserPrompt: "q"}, nil)
	defer detach()

	received := drain(ch)
	assert.Contains(t, received, SentinelHeartbeat)
	assert.Contains(t, received, "late")
	assert.Equal(t, SentinelDone, received[len(received)-1])

	// Heartbeats precede the real token.
	assert.Equal(t, SentinelHeartbeat, received[0])
}

func TestProducerFinalizesAfterClientGone(t *testing.T) {
	client := &fakeStreamClient{chunks: textChunks("x", "y")}
	service, mr, mock := newTestService(t, client, nil)
	chat := newActiveChat(t)

	mock.ExpectExec("UPDATE chat").WillReturnResult(sqlmock.NewResult(0, 1))

	_, detach := service.StartProducer(chat, ChatRequest{Model: "m", Provider: "p", UserPrompt: "q"}, nil)
	// Client disconnects immediately; nobody consumes the channel.
	detach()

	assert.Equal(t, StatusCompleted, waitForTerminalStatus(t, mr, chat.UUID.String()))

	buffer, err := mr.List(bufferKey(chat.UUID.String()))
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y", SentinelDone}, buffer)
}

func TestProducerBatchedRedisFlush(t *testing.T) {
	cfg := testConfig()
	cfg.RedisFlushEveryN = 2

	client := &fakeStreamClient{chunks: textChunks("a", "b", "c", "d", "e")}
	service, mr, mock := newTestService(t, client, cfg)
	chat := newActiveChat(t)

	mock.ExpectExec("UPDATE chat").WillReturnResult(sqlmock.NewResult(0, 1))

	ch, detach := service.StartProducer(chat, ChatRequest{Model: "m", Provider: "p", UserPrompt: "q"}, nil)
	defer detach()
	drain(ch)

	waitForTerminalStatus(t, mr, chat.UUID.String())

	buffer, err := mr.List(bufferKey(chat.UUID.String()))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d", "e", SentinelDone}, buffer)
}

func TestProducerTotalDeadline(t *testing.T) {
	cfg := testConfig()
	cfg.TotalResponseTimeout = 80 * time.Millisecond
	cfg.AliveInterval = time.Second

	// Upstream keeps producing past the overall deadline.
	many := make([]llm.Chunk, 100)
	for i := range many {
		many[i] = llm.Chunk{Text: "t", HasText: true}
	}
	client := &fakeStreamClient{chunks: many, delay: 10 * time.Millisecond}

	service, mr, mock := newTestService(t, client, cfg)
	chat := newActiveChat(t)

	mock.ExpectExec("UPDATE chat").WillReturnResult(sqlmock.NewResult(0, 1))

	ch, detach := service.StartProducer(chat, ChatRequest{Model: "m", Provider: "p", UserPrompt: "q"}, nil)
	defer detach()

	received := drain(ch)
	assert.Contains(t, received, SentinelFailed)
	assert.NotContains(t, received, SentinelDone)

	assert.Equal(t, StatusFailed, waitForTerminalStatus(t, mr, chat.UUID.String()))
}
