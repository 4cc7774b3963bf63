// Package session stores conversation history in the distributed
// cache. Sessions are the only mutable shared state in the pipeline;
// concurrent writers for the same session race with last-writer-wins
// semantics, which is acceptable because conflicts are rare and the
// history is bounded.
package session

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/porchlabs/porchlight/internal/cache"
)

const (
	// DefaultTTL is the sliding inactivity window after which a session
	// expires.
	DefaultTTL = 30 * time.Minute

	// DefaultMaxMessages caps the stored history length.
	DefaultMaxMessages = 20

	// dedupTTL keeps request-ID markers long enough to absorb replays
	// without outliving the session itself.
	dedupTTL = 10 * time.Minute
)

// Turn is one message in a conversation.
type Turn struct {
	Role string    `json:"role"` // "user" or "assistant"
	Text string    `json:"text"`
	TS   time.Time `json:"ts"`
}

// Session is a conversation's stored state.
type Session struct {
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
	LastSeen  time.Time `json:"last_seen"`
	History   []Turn    `json:"history"`
}

// Store reads and writes sessions. Safe for concurrent use.
type Store struct {
	cache       cache.Store
	ttl         time.Duration
	maxMessages int
	now         func() time.Time
}

// Option is a functional option for NewStore.
type Option func(*Store)

// WithTTL overrides the sliding inactivity TTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithMaxMessages overrides the history cap.
func WithMaxMessages(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxMessages = n
		}
	}
}

// WithClock injects the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a Store over c.
func NewStore(c cache.Store, opts ...Option) *Store {
	s := &Store{
		cache:       c,
		ttl:         DefaultTTL,
		maxMessages: DefaultMaxMessages,
		now:         time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Load returns the session for id, creating a fresh one when none is
// stored. Loading refreshes the sliding TTL. History comes back sorted
// by timestamp since concurrent writers may interleave out of order.
func (s *Store) Load(ctx context.Context, id string) Session {
	var sess Session
	if !s.cache.Get(ctx, cache.SessionKey(id), &sess) {
		now := s.now()
		return Session{SessionID: id, CreatedAt: now, LastSeen: now}
	}
	sort.SliceStable(sess.History, func(i, j int) bool {
		return sess.History[i].TS.Before(sess.History[j].TS)
	})
	sess.LastSeen = s.now()
	s.cache.Set(ctx, cache.SessionKey(id), sess, s.ttl)
	return sess
}

// Recent returns the newest n turns of sess in chronological order.
func Recent(sess Session, n int) []Turn {
	if n <= 0 || len(sess.History) == 0 {
		return nil
	}
	if len(sess.History) > n {
		return sess.History[len(sess.History)-n:]
	}
	return sess.History
}

// Append records one user/assistant exchange on the session identified
// by sess.SessionID and writes it back with a refreshed TTL. The
// requestID deduplicates replays: a request whose turns were already
// appended is a no-op. History is trimmed to the newest maxMessages
// entries on every write.
//
// Append is best-effort: cache failures are logged by the cache layer
// and swallowed here, so the caller still returns its answer.
func (s *Store) Append(ctx context.Context, sess Session, requestID, userText, assistantText string) {
	if sess.SessionID == "" {
		return
	}
	if requestID != "" {
		dedupKey := cache.SessionRequestKey(sess.SessionID, requestID)
		var seen bool
		if s.cache.Get(ctx, dedupKey, &seen) && seen {
			slog.Debug("duplicate request, skipping session append",
				"session", sess.SessionID, "request", requestID)
			return
		}
		s.cache.Set(ctx, dedupKey, true, dedupTTL)
	}

	now := s.now()
	sess.History = append(sess.History,
		Turn{Role: "user", Text: userText, TS: now},
		Turn{Role: "assistant", Text: assistantText, TS: now},
	)
	if len(sess.History) > s.maxMessages {
		sess.History = sess.History[len(sess.History)-s.maxMessages:]
	}
	sess.LastSeen = now

	s.cache.Set(ctx, cache.SessionKey(sess.SessionID), sess, s.ttl)
}
