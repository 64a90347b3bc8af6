package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/eternisai/chat-relay/internal/llm"
)

// produce drives one upstream stream to terminal. It runs detached from any
// HTTP request: the emitter may stop consuming at any point (client
// disconnect), but finalization always completes.
//
// Persistence during the loop is batched: Redis every RedisFlushEveryN
// chunks (synchronously, to keep buffer order), a partial DB write every
// DBFlushEveryM chunks as a tracked background goroutine. The final DB
// write waits for all partial writes so it is strictly the last write for
// this chat.
func (s *Service) produce(chat *Chat, req ChatRequest, history []llm.Message, ch chan<- string, clientGone <-chan struct{}) {
	producersActive.Inc()
	defer producersActive.Dec()

	chatUUID := chat.UUID.String()
	log := s.logger.WithComponent("producer").With(slog.String("chat_uuid", chatUUID))

	var (
		redisBuf   []string
		allChunks  []string
		sinceDB    int
		finalUsage *llm.Usage
		flushWG    sync.WaitGroup
	)
	status := StatusCompleted

	// The total deadline is a hard cancel of the upstream read loop.
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.TotalResponseTimeout)
	defer cancel()

	chunks, errs := s.llm.StreamCompletion(ctx, llm.CompletionRequest{
		Model:            req.ModelID(),
		UserPrompt:       req.UserPrompt,
		SystemPrompt:     req.SystemPrompt,
		PreviousMessages: history,
	})

loop:
	for {
		var text string

		timer := time.NewTimer(s.cfg.AliveInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Warn("total response timeout hit")
			status = StatusFailed
			allChunks = append(allChunks, SentinelFailed)
			s.emit(ch, clientGone, SentinelFailed)
			break loop

		case err, ok := <-errs:
			timer.Stop()
			if !ok || err == nil {
				// Error channel closed with the stream; keep draining chunks.
				errs = nil
				continue
			}
			if errors.Is(err, context.DeadlineExceeded) {
				log.Warn("total response timeout hit")
			} else {
				log.Error("upstream stream fault", slog.String("error", err.Error()))
			}
			status = StatusFailed
			allChunks = append(allChunks, SentinelFailed)
			s.emit(ch, clientGone, SentinelFailed)
			break loop

		case chunk, ok := <-chunks:
			timer.Stop()
			if !ok {
				// The clients close the error channel before the chunk
				// channel, so a mid-stream fault is already waiting there.
				var streamErr error
				if errs != nil {
					select {
					case streamErr = <-errs:
					case <-ctx.Done():
					}
				}
				// A stream that ended on a fault, or because the deadline
				// cancelled it, is not a normal end-of-stream.
				if streamErr != nil || ctx.Err() != nil {
					if streamErr != nil && !errors.Is(streamErr, context.DeadlineExceeded) {
						log.Error("upstream stream fault", slog.String("error", streamErr.Error()))
					} else {
						log.Warn("total response timeout hit")
					}
					status = StatusFailed
					allChunks = append(allChunks, SentinelFailed)
					s.emit(ch, clientGone, SentinelFailed)
				}
				break loop
			}
			// Last chunk carries usage when include_usage is enabled.
			if chunk.Usage != nil {
				finalUsage = chunk.Usage
			}
			if !chunk.HasText {
				continue
			}
			text = chunk.Text

		case <-timer.C:
			// Upstream went silent. Emit a heartbeat so the consumer knows
			// the stream is alive.
			log.Debug("stream stalled, emitting heartbeat",
				slog.Duration("alive_interval", s.cfg.AliveInterval))
			text = SentinelHeartbeat
		}

		// accumulate
		redisBuf = append(redisBuf, text)
		allChunks = append(allChunks, text)
		sinceDB++
		s.emit(ch, clientGone, text)

		// Flush redis every N chunks. Synchronous on purpose: concurrent
		// appends could land batches out of order, and the buffer must
		// preserve channel order for replay.
		if len(redisBuf) >= s.cfg.RedisFlushEveryN {
			s.flushToRedis(chatUUID, redisBuf)
			redisBuf = nil
		}

		// partial DB write every M chunks; stores the full raw accumulation
		if sinceDB >= s.cfg.DBFlushEveryM {
			sinceDB = 0
			content := strings.Join(allChunks, "")
			flushWG.Add(1)
			go func() {
				defer flushWG.Done()
				s.flushToDB(chat, content)
			}()
		}

		// external interrupt
		if s.interruptRequested(ctx, chat) {
			log.Info("chat interrupted")
			interrupts.Inc()
			status = StatusInterrupted
			allChunks = append(allChunks, SentinelInterrupted)
			s.emit(ch, clientGone, SentinelInterrupted)
			break loop
		}
	}

	// Finalization: always runs, also when the client is long gone.
	terminal := terminalSentinel(status)
	redisBuf = append(redisBuf, terminal)
	allChunks = append(allChunks, terminal)
	s.emit(ch, clientGone, terminal)

	// The final write must be ordered after every in-flight partial flush.
	flushWG.Wait()

	bg := context.Background()
	s.flushToRedis(chatUUID, redisBuf)

	content := CleanResponse(strings.Join(allChunks, ""))
	if err := s.store.FinalizeResponse(bg, chat.UUID, content, status, finalUsage); err != nil {
		flushFailures.WithLabelValues("db").Inc()
		log.Error("final chat write failed", slog.String("error", err.Error()))
	}

	if err := s.cache.SetStatus(bg, chatUUID, status); err != nil {
		log.Warn("terminal status write failed", slog.String("error", err.Error()))
	}

	close(ch)

	log.Info("producer finished",
		slog.String("status", string(status)),
		slog.Int("chunks", len(allChunks)))
}

// emit puts a chunk on the local channel unless the emitter has detached.
func (s *Service) emit(ch chan<- string, clientGone <-chan struct{}, chunk string) {
	select {
	case ch <- chunk:
		chunksRelayed.Inc()
	case <-clientGone:
	}
}

// flushToRedis appends a batch to the token buffer. Best-effort: failures
// are logged and swallowed, the chat record stays authoritative.
func (s *Service) flushToRedis(chatUUID string, items []string) {
	if len(items) == 0 {
		return
	}
	if err := s.cache.AppendBuffer(context.Background(), chatUUID, items); err != nil {
		flushFailures.WithLabelValues("redis").Inc()
		s.logger.Warn("redis flush failed, continuing without buffer",
			slog.String("chat_uuid", chatUUID),
			slog.String("error", err.Error()))
	}
}

// flushToDB writes the raw accumulation so far, sentinels included. Only
// the final write cleans the response.
func (s *Service) flushToDB(chat *Chat, content string) {
	if err := s.store.UpdatePartialResponse(context.Background(), chat.UUID, content); err != nil {
		flushFailures.WithLabelValues("db").Inc()
		s.logger.Warn("partial db write failed",
			slog.String("chat_uuid", chat.UUID.String()),
			slog.String("error", err.Error()))
	}
}

// interruptRequested checks the status store for an external stop signal,
// falling back to the chat row when the cache is unavailable.
func (s *Service) interruptRequested(ctx context.Context, chat *Chat) bool {
	status, err := s.cache.GetStatus(ctx, chat.UUID.String())
	if err == nil {
		return status == StatusInterrupted
	}
	if errors.Is(err, ErrStatusNotFound) {
		return false
	}

	dbStatus, dbErr := s.store.GetStatus(ctx, chat.UUID)
	if dbErr != nil {
		return false
	}
	return dbStatus == StatusInterrupted
}
