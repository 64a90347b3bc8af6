package llm

import (
	"context"
	"strings"
	"time"
)

// mockParagraphs are cycled through by the mock client so repeated calls
// produce different-looking replies without network I/O.
var mockParagraphs = []string{
	"Based on my analysis, the approach you described is sound. I would start with the smallest reversible change, measure its effect, and only then commit to the larger refactor.",
	"Here is a short summary of the relevant trade-offs. Buffering more aggressively lowers external round-trips at the cost of recovery granularity, while smaller batches give finer resume points.",
	"That depends on the workload. For mostly-idle streams a longer poll interval is cheaper; for chatty streams the buffer fills quickly and the flush threshold dominates.",
}

// MockClient fakes the upstream provider. Used when LLM_MOCK_RESPONSE is set
// and by tests that need a deterministic token stream.
type MockClient struct {
	// Delay between emitted words; zero means as fast as the consumer reads.
	Delay time.Duration

	calls int
}

// NewMockClient creates a mock client with a small inter-word delay so
// streamed output looks like a real model.
func NewMockClient() *MockClient {
	return &MockClient{Delay: 20 * time.Millisecond}
}

func (c *MockClient) pick() string {
	text := mockParagraphs[c.calls%len(mockParagraphs)]
	c.calls++
	return text
}

// StreamCompletion emits the canned paragraph word by word, then a final
// usage-only chunk, mirroring include_usage behavior.
func (c *MockClient) StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, <-chan error) {
	chunks := make(chan Chunk, 64)
	errs := make(chan error, 1)
	text := c.pick()
	delay := c.Delay

	go func() {
		defer close(chunks)
		defer close(errs)

		words := strings.SplitAfter(text, " ")
		for _, word := range words {
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					errs <- ctx.Err()
					return
				}
			}
			select {
			case chunks <- Chunk{Text: word, HasText: true}:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}

		select {
		case chunks <- Chunk{Usage: mockUsage(req, text)}:
		case <-ctx.Done():
			errs <- ctx.Err()
		}
	}()

	return chunks, errs
}

// Complete returns the canned paragraph in one shot.
func (c *MockClient) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	text := c.pick()
	return &Completion{
		Text:  text,
		Usage: mockUsage(req, text),
		Raw:   []byte(`{"mock":true}`),
	}, nil
}

func mockUsage(req CompletionRequest, text string) *Usage {
	in := int64(len(strings.Fields(req.UserPrompt)))
	out := int64(len(strings.Fields(text)))
	return &Usage{
		InputTokens:  in,
		OutputTokens: out,
		TotalTokens:  in + out,
	}
}
