package session

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/porchlabs/porchlight/internal/cache"
)

func TestLoadCreatesFreshSession(t *testing.T) {
	s := NewStore(cache.NewMemory())

	sess := s.Load(context.Background(), "abc")
	if sess.SessionID != "abc" {
		t.Fatalf("session id = %q, want abc", sess.SessionID)
	}
	if len(sess.History) != 0 {
		t.Fatalf("fresh session has history: %+v", sess.History)
	}
	if sess.CreatedAt.IsZero() || sess.LastSeen.IsZero() {
		t.Fatal("timestamps not set on fresh session")
	}
}

func TestAppendAndLoadRoundTrip(t *testing.T) {
	s := NewStore(cache.NewMemory())
	ctx := context.Background()

	sess := s.Load(ctx, "abc")
	s.Append(ctx, sess, "req-1", "what's the weather", "72F and sunny")

	got := s.Load(ctx, "abc")
	if len(got.History) != 2 {
		t.Fatalf("history length = %d, want 2", len(got.History))
	}
	if got.History[0].Role != "user" || got.History[0].Text != "what's the weather" {
		t.Fatalf("unexpected user turn: %+v", got.History[0])
	}
	if got.History[1].Role != "assistant" || got.History[1].Text != "72F and sunny" {
		t.Fatalf("unexpected assistant turn: %+v", got.History[1])
	}
}

func TestAppendIdempotentPerRequest(t *testing.T) {
	s := NewStore(cache.NewMemory())
	ctx := context.Background()

	sess := s.Load(ctx, "abc")
	s.Append(ctx, sess, "req-1", "hello", "hi there")
	// Replay with the same request ID must not double-append.
	s.Append(ctx, s.Load(ctx, "abc"), "req-1", "hello", "hi there")

	got := s.Load(ctx, "abc")
	if len(got.History) != 2 {
		t.Fatalf("history length = %d after replay, want 2", len(got.History))
	}
}

func TestHistoryBounded(t *testing.T) {
	s := NewStore(cache.NewMemory(), WithMaxMessages(6))
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		sess := s.Load(ctx, "abc")
		s.Append(ctx, sess, fmt.Sprintf("req-%d", i),
			fmt.Sprintf("question %d", i), fmt.Sprintf("answer %d", i))
	}

	got := s.Load(ctx, "abc")
	if len(got.History) != 6 {
		t.Fatalf("history length = %d, want 6", len(got.History))
	}
	// The newest turns survive trimming.
	last := got.History[len(got.History)-1]
	if last.Text != "answer 9" {
		t.Fatalf("newest turn = %q, want \"answer 9\"", last.Text)
	}
}

func TestRecent(t *testing.T) {
	var sess Session
	for i := 0; i < 8; i++ {
		sess.History = append(sess.History, Turn{Text: fmt.Sprintf("t%d", i)})
	}

	got := Recent(sess, 3)
	if len(got) != 3 || got[0].Text != "t5" || got[2].Text != "t7" {
		t.Fatalf("Recent(3) = %+v", got)
	}
	if got := Recent(sess, 0); got != nil {
		t.Fatalf("Recent(0) = %+v, want nil", got)
	}
	if got := Recent(sess, 20); len(got) != 8 {
		t.Fatalf("Recent(20) length = %d, want 8", len(got))
	}
}

func TestLoadSortsHistoryByTimestamp(t *testing.T) {
	mem := cache.NewMemory()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	// Simulate two racing writers leaving history out of order.
	mem.Set(context.Background(), cache.SessionKey("abc"), Session{
		SessionID: "abc",
		History: []Turn{
			{Role: "user", Text: "second", TS: base.Add(time.Minute)},
			{Role: "user", Text: "first", TS: base},
		},
	}, 0)

	s := NewStore(mem)
	got := s.Load(context.Background(), "abc")
	if got.History[0].Text != "first" || got.History[1].Text != "second" {
		t.Fatalf("history not timestamp-sorted: %+v", got.History)
	}
}

func TestAppendWithoutSessionIDIsNoop(t *testing.T) {
	mem := cache.NewMemory()
	s := NewStore(mem)

	s.Append(context.Background(), Session{}, "req-1", "q", "a")
	if mem.Len() != 0 {
		t.Fatalf("anonymous append wrote %d entries", mem.Len())
	}
}
