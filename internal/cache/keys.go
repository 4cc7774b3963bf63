package cache

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// ModeKey holds the most recently published mode snapshot. It has no TTL;
// the mode loop overwrites it on every poll.
const ModeKey = "mode:current"

// hash8 returns the first 8 hex characters of the MD5 of the lowercased,
// whitespace-trimmed input. Keys must be stable across callers, so all
// normalisation happens here.
func hash8(s string) string {
	sum := md5.Sum([]byte(strings.ToLower(strings.TrimSpace(s))))
	return hex.EncodeToString(sum[:])[:8]
}

// IntentKey is the cache key for a classification of the given query.
func IntentKey(query string) string {
	return "intent:" + hash8(query)
}

// SearchKey is the cache key for one provider's results for a query at an
// optional location.
func SearchKey(provider, query, location string) string {
	return "search:" + provider + ":" + hash8(query) + ":" + hash8(location)
}

// SessionKey is the cache key for a conversation session.
func SessionKey(id string) string {
	return "session:" + id
}

// SessionRequestKey marks that a given request ID has already been
// appended to a session, making finalise idempotent under replays.
func SessionRequestKey(sessionID, requestID string) string {
	return "session:" + sessionID + ":req:" + requestID
}

// encodeJSON and decodeJSON are shared by the in-process store so that it
// round-trips values exactly like the Redis store does.
func encodeJSON(v any) ([]byte, error) { return json.Marshal(v) }
func decodeJSON(b []byte, v any) error { return json.Unmarshal(b, v) }
