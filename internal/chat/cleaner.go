package chat

import "strings"

// sentinelReplacer removes every sentinel literal in one pass.
var sentinelReplacer = strings.NewReplacer(
	SentinelHeartbeat, "",
	SentinelInterrupted, "",
	SentinelFailed, "",
	SentinelDone, "",
)

// stripSentinels removes the sentinel literals, leaving all other
// whitespace intact. The replayer's DB fallback uses this so token
// boundaries between polls survive.
func stripSentinels(raw string) string {
	return sentinelReplacer.Replace(raw)
}

// CleanResponse strips all in-band sentinels from an accumulated raw
// response and trims surrounding whitespace. Called exactly once per chat,
// at the final DB write; partial writes keep the raw form.
func CleanResponse(raw string) string {
	return strings.TrimSpace(stripSentinels(raw))
}
