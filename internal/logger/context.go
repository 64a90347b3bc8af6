package logger

import "context"

// WithRequestID returns a context carrying the request ID.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// WithChatUUID returns a context carrying the chat UUID.
func WithChatUUID(ctx context.Context, chatUUID string) context.Context {
	return context.WithValue(ctx, ContextKeyChatUUID, chatUUID)
}
