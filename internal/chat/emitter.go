package chat

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

type initPayload struct {
	ChatUUID    string `json:"chat_uuid"`
	ThreadID    int64  `json:"thread_id"`
	Reconnected bool   `json:"reconnected,omitempty"`
}

type chunkPayload struct {
	Text string `json:"text"`
}

// sseHeaders prepares the response for an event stream and returns the
// flusher, or nil when the writer cannot stream.
func sseHeaders(c *gin.Context) http.Flusher {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Streaming not supported"})
		return nil
	}
	return flusher
}

// writeFrame writes one SSE event: id, event name, data, blank dispatch line.
func writeFrame(c *gin.Context, flusher http.Flusher, id, event, data string) error {
	if _, err := fmt.Fprintf(c.Writer, "id: %s\nevent: %s\ndata: %s\n\n", id, event, data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// writeComment writes an SSE comment line. Clients ignore comments; they
// only keep the connection warm.
func writeComment(c *gin.Context, flusher http.Flusher) error {
	if _, err := fmt.Fprint(c.Writer, ": PING, still generating response\n\n"); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// writeInit sends the first frame. Its id is the chat UUID so the client
// can store it for reconnection; retry tells the browser when to retry.
func (s *Service) writeInit(c *gin.Context, flusher http.Flusher, chat *Chat, reconnected bool) error {
	payload, _ := json.Marshal(initPayload{
		ChatUUID:    chat.UUID.String(),
		ThreadID:    chat.ThreadID.Int64,
		Reconnected: reconnected,
	})
	if _, err := fmt.Fprintf(c.Writer, "id: %s\nevent: init\ndata: %s\nretry: %d\n\n",
		chat.UUID.String(), payload, s.cfg.SSEReconnectionDelayMS); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// StreamToClient translates the producer's channel into client-visible SSE
// frames. Chunk ids are 0-based and only incremented for real tokens, so a
// client can resume with Last-Event-ID after a disconnect.
//
// A client disconnect ends this function only. The producer keeps running
// to terminal and finishes persistence; detach tells it to stop waiting for
// this consumer.
func (s *Service) StreamToClient(c *gin.Context, chat *Chat, ch <-chan string, detach func()) {
	defer detach()

	log := s.logger.WithComponent("emitter").With(slog.String("chat_uuid", chat.UUID.String()))

	flusher := sseHeaders(c)
	if flusher == nil {
		return
	}

	if err := s.writeInit(c, flusher, chat, false); err != nil {
		log.Debug("client gone before init frame", slog.String("error", err.Error()))
		return
	}

	chunkIdx := 0
	for {
		timer := time.NewTimer(s.cfg.AliveInterval)
		select {
		case chunk, ok := <-ch:
			timer.Stop()
			if !ok {
				return
			}

			var err error
			switch chunk {
			case SentinelHeartbeat:
				err = writeComment(c, flusher)
			case SentinelDone:
				err = writeFrame(c, flusher, strconv.Itoa(chunkIdx), "done", "[DONE]")
			case SentinelFailed:
				err = writeFrame(c, flusher, strconv.Itoa(chunkIdx), "failed", "[FAILED]")
			case SentinelInterrupted:
				err = writeFrame(c, flusher, strconv.Itoa(chunkIdx), "done", "[INTERRUPT]")
			default:
				err = writeFrame(c, flusher, strconv.Itoa(chunkIdx), "chunk", chunkData(chunk))
				chunkIdx++
			}
			if err != nil {
				log.Debug("client write failed", slog.String("error", err.Error()))
				return
			}
			if IsSentinel(chunk) && chunk != SentinelHeartbeat {
				// Terminal frame sent.
				return
			}

		case <-c.Request.Context().Done():
			timer.Stop()
			// Client disconnected. The producer is unaffected; the buffer
			// keeps filling for a later reconnect.
			log.Info("client disconnected mid-stream", slog.Int("chunks_sent", chunkIdx))
			return

		case <-timer.C:
			// The producer normally emits its own heartbeats; this covers a
			// silent channel anyway.
			if err := writeComment(c, flusher); err != nil {
				return
			}
		}
	}
}

// chunkData renders the JSON body of a chunk frame.
func chunkData(text string) string {
	payload, _ := json.Marshal(chunkPayload{Text: text})
	return string(payload)
}
