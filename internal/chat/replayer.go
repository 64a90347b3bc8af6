package chat

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Replay serves a client that reconnects to an active chat. It replays the
// token buffer from lastEventID onward, then keeps polling until a terminal
// status is observed or the chat's generation window expires.
//
// lastEventID is a 0-based index into the buffer: 0 means "the client saw
// only the init frame", N>0 means frames 0..N-1 were already rendered, so
// the replay starts at index N. Ids emitted here are buffer indices, which
// keeps them strictly non-decreasing across disconnects.
//
// When the cache is unavailable the replayer degrades to polling the chat
// record; the raw row may still contain sentinels before the final write,
// so forwarded text is stripped first.
func (s *Service) Replay(c *gin.Context, chat *Chat, lastEventID int64) {
	reconnects.Inc()

	chatUUID := chat.UUID.String()
	log := s.logger.WithComponent("replayer").With(slog.String("chat_uuid", chatUUID))

	flusher := sseHeaders(c)
	if flusher == nil {
		return
	}
	if err := s.writeInit(c, flusher, chat, true); err != nil {
		return
	}

	// Time gate: the producer's window started at row creation. Past it the
	// producer has long finalized or died; nothing new can arrive.
	remaining := time.Until(chat.CreatedAt.Add(s.cfg.TotalResponseTimeout))
	if remaining <= 0 {
		writeFrame(c, flusher, chatUUID, "failed", "[FAILED]")
		return
	}
	deadline := time.Now().Add(remaining)

	sent := lastEventID // next buffer index to request
	dbSent := 0         // char offset into the raw DB accumulation
	useRedis := true

	ctx := c.Request.Context()
	for time.Now().Before(deadline) {
		var status ChatStatus

		if useRedis {
			st, chunks, err := s.cache.StatusAndSlice(ctx, chatUUID, sent)
			if err != nil {
				log.Warn("cache unavailable, switching to db polling",
					slog.String("error", err.Error()))
				useRedis = false
			} else {
				status = st
				for _, chunk := range chunks {
					idx := sent
					sent++
					// Sentinels never reach clients as content.
					if IsSentinel(chunk) {
						continue
					}
					payload := chunkData(chunk)
					if err := writeFrame(c, flusher, strconv.FormatInt(idx, 10), "chunk", payload); err != nil {
						return
					}
				}
			}
		}

		if !useRedis {
			st, content, err := s.store.GetStatusAndResponse(ctx, chat.UUID)
			if err != nil {
				log.Warn("db poll failed", slog.String("error", err.Error()))
			} else {
				status = st
				if len(content) > dbSent {
					fresh := content[dbSent:]
					dbSent = len(content)
					if text := stripSentinels(fresh); text != "" {
						if err := writeFrame(c, flusher, strconv.FormatInt(sent, 10), "chunk", chunkData(text)); err != nil {
							return
						}
					}
				}
			}
		}

		if status.Terminal() {
			id := strconv.FormatInt(sent, 10)
			switch status {
			case StatusCompleted:
				writeFrame(c, flusher, id, "done", "[DONE]")
			case StatusInterrupted:
				writeFrame(c, flusher, id, "done", "[INTERRUPT]")
			default:
				writeFrame(c, flusher, id, "failed", "[FAILED]")
			}
			return
		}

		interval := s.cfg.ReconnectPollRedis
		if !useRedis {
			interval = s.cfg.ReconnectPollDB
		}
		if left := time.Until(deadline); interval > left {
			interval = left
		}

		select {
		case <-time.After(interval):
		case <-ctx.Done():
			log.Debug("client disconnected during replay")
			return
		}
	}

	log.Warn("replay deadline exceeded")
	writeFrame(c, flusher, strconv.FormatInt(sent, 10), "failed", "[FAILED]")
}
