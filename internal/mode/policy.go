package mode

import (
	"context"
	"log/slog"
	"regexp"
	"sync"

	"github.com/porchlabs/porchlight/internal/intent"
)

// Policy is the projection of the current mode onto one intent.
type Policy struct {
	Allowed                  bool
	RateLimitPerMinute       int
	AllowedIntents           []intent.Intent
	RestrictedEntityPatterns []*regexp.Regexp
	AllowedDeviceDomains     []string
}

// defaultRateLimit applies when no admin policy row sets one.
const defaultRateLimit = 30

// guestDeniedIntents are blocked in guest mode absent an explicit admin
// policy row. Device control is the sensitive one; everything else is
// read-only.
var guestDeniedIntents = map[intent.Intent]bool{
	intent.Control: true,
}

// policyCache compiles admin restriction patterns once per pattern set.
type policyCache struct {
	mu       sync.Mutex
	compiled map[string]*regexp.Regexp
}

func newPolicyCache() *policyCache {
	return &policyCache{compiled: make(map[string]*regexp.Regexp)}
}

// compile returns the compiled form of pattern, caching results. Invalid
// patterns are dropped with a warning rather than failing the policy.
func (p *policyCache) compile(pattern string) *regexp.Regexp {
	p.mu.Lock()
	defer p.mu.Unlock()
	if re, ok := p.compiled[pattern]; ok {
		return re
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		slog.Warn("invalid policy pattern, ignoring", "pattern", pattern, "error", err)
		p.compiled[pattern] = nil
		return nil
	}
	p.compiled[pattern] = re
	return re
}

// PolicyFor projects the current mode onto in. Admin policy rows win;
// absent a row, owner mode allows everything and guest mode denies the
// sensitive intents. Failures to reach the admin store fall back to the
// same mode defaults, keeping policy decisions available offline.
func (s *Service) PolicyFor(ctx context.Context, in intent.Intent) Policy {
	snap := s.Current()

	pol := Policy{
		Allowed:            true,
		RateLimitPerMinute: defaultRateLimit,
	}
	if snap.Mode == Guest && guestDeniedIntents[in] {
		pol.Allowed = false
	}

	if s.admin == nil {
		return pol
	}
	row, ok := s.admin.GetPolicy(ctx, string(snap.Mode), in.String())
	if !ok {
		return pol
	}

	pol.Allowed = row.Allowed
	if row.RateLimitPerMinute > 0 {
		pol.RateLimitPerMinute = row.RateLimitPerMinute
	}
	pol.AllowedDeviceDomains = row.AllowedDeviceDomains
	for _, pat := range row.RestrictedEntityPatterns {
		if re := s.policy.compile(pat); re != nil {
			pol.RestrictedEntityPatterns = append(pol.RestrictedEntityPatterns, re)
		}
	}
	return pol
}

// EntityRestricted reports whether any extracted entity value matches a
// restricted pattern under pol. Used by the orchestrator's policy gate:
// a guest asking to "unlock the front door" is blocked even though the
// control intent itself may be permitted.
func (pol Policy) EntityRestricted(entities map[string]string) (string, bool) {
	for _, re := range pol.RestrictedEntityPatterns {
		for _, v := range entities {
			if re.MatchString(v) {
				return re.String(), true
			}
		}
	}
	return "", false
}
