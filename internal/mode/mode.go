// Package mode maintains Porchlight's guest/owner operating mode.
//
// A single background loop reconciles an iCal feed of bookings plus
// operator overrides into an immutable [Snapshot], published by atomic
// pointer swap so readers are lock-free and always see a whole value.
//
// The mode fails closed: until the first successful reconcile, and
// whenever the mode cannot be computed, the service reports guest — the
// more restrictive setting.
package mode

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/porchlabs/porchlight/internal/adminconfig"
	"github.com/porchlabs/porchlight/internal/cache"
	"github.com/porchlabs/porchlight/internal/observe"
)

// Mode is the binary operating state gating intents and entities.
type Mode string

const (
	Guest Mode = "guest"
	Owner Mode = "owner"
)

// IsValid reports whether m is a recognised mode.
func (m Mode) IsValid() bool { return m == Guest || m == Owner }

// Event is one stay window parsed from the iCal feed, normalised to UTC.
type Event struct {
	Checkin   time.Time `json:"checkin"`
	Checkout  time.Time `json:"checkout"`
	SourceUID string    `json:"source_uid"`
	Summary   string    `json:"summary,omitempty"`
}

// Snapshot is the immutable published mode state. Consumers only read.
type Snapshot struct {
	Mode             Mode      `json:"mode"`
	ActiveEvent      *Event    `json:"active_event,omitempty"`
	ComputedAt       time.Time `json:"computed_at"`
	SourceEventsHash string    `json:"source_events_hash,omitempty"`
}

// Config holds the mode service settings, sourced from admin config with
// local defaults.
type Config struct {
	Enabled             bool
	ICalURL             string
	PollInterval        time.Duration // default 600 s
	BufferBeforeCheckin time.Duration // default 2 h
	BufferAfterCheckout time.Duration // default 1 h
}

// withDefaults fills zero fields.
func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 600 * time.Second
	}
	if c.BufferBeforeCheckin <= 0 {
		c.BufferBeforeCheckin = 2 * time.Hour
	}
	if c.BufferAfterCheckout <= 0 {
		c.BufferAfterCheckout = time.Hour
	}
	return c
}

// Service owns the reconcile loop and the published snapshot.
type Service struct {
	cfg     Config
	admin   *adminconfig.Client
	store   cache.Store
	metrics *observe.Metrics
	fetch   func(ctx context.Context, url string) ([]Event, error)
	now     func() time.Time
	policy  *policyCache

	snapshot atomic.Pointer[Snapshot]

	mu          sync.Mutex
	lastEvents  []Event
	consecFails int
	loopDone    chan struct{}
	loopCancel  context.CancelFunc
	loopStarted bool
}

// Option is a functional option for New.
type Option func(*Service)

// WithFetcher replaces the iCal fetcher, for tests.
func WithFetcher(f func(ctx context.Context, url string) ([]Event, error)) Option {
	return func(s *Service) { s.fetch = f }
}

// WithClock replaces the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithMetrics overrides the metrics sink, for tests.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// New creates a Service. The store may be nil when no distributed cache
// is configured; the snapshot mirror write is skipped.
func New(cfg Config, admin *adminconfig.Client, store cache.Store, opts ...Option) *Service {
	s := &Service{
		cfg:    cfg.withDefaults(),
		admin:  admin,
		store:  store,
		fetch:  fetchICal,
		now:    time.Now,
		policy: newPolicyCache(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	// Fail closed until the first reconcile completes.
	s.snapshot.Store(&Snapshot{Mode: Guest, ComputedAt: s.now()})
	return s
}

// Current returns the latest published snapshot. Lock-free.
func (s *Service) Current() Snapshot {
	return *s.snapshot.Load()
}

// Events returns the most recently parsed calendar events, for the
// diagnostics endpoint.
func (s *Service) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.lastEvents))
	copy(out, s.lastEvents)
	return out
}

// Start launches the reconcile loop. One immediate reconcile runs before
// the ticker so the process does not sit in the fail-closed default for a
// full poll interval.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.loopStarted {
		s.mu.Unlock()
		return
	}
	s.loopStarted = true
	ctx, s.loopCancel = context.WithCancel(ctx)
	s.loopDone = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer close(s.loopDone)
		s.Reconcile(ctx)

		ticker := time.NewTicker(s.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Reconcile(ctx)
			}
		}
	}()
}

// Stop cancels the loop and waits for it to exit.
func (s *Service) Stop() {
	s.mu.Lock()
	cancel, done := s.loopCancel, s.loopDone
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Reconcile computes and publishes a new snapshot. Exported so tests can
// drive the loop synchronously.
func (s *Service) Reconcile(ctx context.Context) {
	now := s.now().UTC()

	// 1. Disabled or unconfigured: the house is always in owner mode.
	if !s.cfg.Enabled || s.cfg.ICalURL == "" {
		s.publish(ctx, Snapshot{Mode: Owner, ComputedAt: now})
		s.metrics.RecordModePoll(ctx, true)
		return
	}

	// 2. Fetch the feed. Failures keep the previous snapshot.
	events, err := s.fetch(ctx, s.cfg.ICalURL)
	if err != nil {
		s.mu.Lock()
		s.consecFails++
		fails := s.consecFails
		s.mu.Unlock()
		if fails >= 3 {
			slog.Warn("ical feed unreachable, keeping previous mode",
				"url", s.cfg.ICalURL, "consecutive_failures", fails, "error", err)
		} else {
			slog.Debug("ical fetch failed", "error", err)
		}
		s.metrics.RecordModePoll(ctx, false)
		return
	}

	s.mu.Lock()
	s.consecFails = 0
	s.lastEvents = events
	s.mu.Unlock()
	s.metrics.RecordModePoll(ctx, true)

	// 3. Overrides trump the calendar.
	if snap, ok := s.overrideSnapshot(ctx, now); ok {
		snap.SourceEventsHash = hashEvents(events)
		s.publish(ctx, snap)
		return
	}

	// 4. Calendar windows with buffers.
	snap := Snapshot{Mode: Owner, ComputedAt: now, SourceEventsHash: hashEvents(events)}
	var active *Event
	for i := range events {
		ev := events[i]
		windowStart := ev.Checkin.Add(-s.cfg.BufferBeforeCheckin)
		windowEnd := ev.Checkout.Add(s.cfg.BufferAfterCheckout)
		if now.Before(windowStart) || now.After(windowEnd) {
			continue
		}
		if active == nil || ev.Checkin.Before(active.Checkin) {
			cp := ev
			active = &cp
		}
	}
	if active != nil {
		snap.Mode = Guest
		snap.ActiveEvent = active
	}
	s.publish(ctx, snap)
}

// overrideSnapshot returns a snapshot dictated by the highest-priority
// active operator override, if any. Ties break on the most recent
// activation.
func (s *Service) overrideSnapshot(ctx context.Context, now time.Time) (Snapshot, bool) {
	if s.admin == nil {
		return Snapshot{}, false
	}
	overrides := s.admin.GetOverrides(ctx)
	active := overrides[:0:0]
	for _, o := range overrides {
		if o.Active(now) && Mode(o.Mode).IsValid() {
			active = append(active, o)
		}
	}
	if len(active) == 0 {
		return Snapshot{}, false
	}
	sort.SliceStable(active, func(i, j int) bool {
		if active[i].Priority != active[j].Priority {
			return active[i].Priority > active[j].Priority
		}
		return active[i].ActivatedAt.After(active[j].ActivatedAt)
	})
	winner := active[0]
	slog.Info("mode override active", "mode", winner.Mode, "source", winner.Source)
	return Snapshot{Mode: Mode(winner.Mode), ComputedAt: now}, true
}

// publish swaps in the new snapshot and mirrors it to the cache for
// diagnostics. The mirror write is best-effort.
func (s *Service) publish(ctx context.Context, snap Snapshot) {
	prev := s.snapshot.Load()
	s.snapshot.Store(&snap)
	if prev.Mode != snap.Mode {
		s.metrics.ModeChanges.Add(ctx, 1)
		slog.Info("operating mode changed", "from", prev.Mode, "to", snap.Mode)
	}
	if s.store != nil {
		s.store.Set(ctx, cache.ModeKey, snap, 0)
	}
}

// hashEvents returns a stable hash of the parsed events, exposed in the
// snapshot so operators can tell whether the feed content changed.
func hashEvents(events []Event) string {
	h := sha256.New()
	for _, e := range events {
		fmt.Fprintf(h, "%s|%d|%d\n", e.SourceUID, e.Checkin.Unix(), e.Checkout.Unix())
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}
