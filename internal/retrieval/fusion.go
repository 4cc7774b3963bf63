package retrieval

import (
	"sort"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/porchlabs/porchlight/internal/intent"
	"github.com/porchlabs/porchlight/pkg/provider/search"
)

// dupSimilarity is the normalised-title Jaro-Winkler threshold above
// which two same-source results are folded into one.
const dupSimilarity = 0.92

// Cross-source confirmation boost parameters.
const (
	confirmBoostStep = 0.1
	confirmBoostCap  = 0.2
)

// intentWeights is the per-intent, per-provider weight table. Weight
// multiplies confidence after the confirmation boost; an absent entry
// means weight 1. A zero weight drops the provider's results for that
// intent outright.
var intentWeights = map[intent.Intent]map[string]float64{
	intent.EventSearch: {
		"ticketmaster": 1.0,
		"seatgeek":     0.9,
		"brave":        0.6,
		"serpapi":      0.6,
	},
	intent.News: {
		"brave":        1.0,
		"serpapi":      0.9,
		"ticketmaster": 0,
		"seatgeek":     0,
	},
	intent.General: {
		"brave":        1.0,
		"serpapi":      0.9,
		"ticketmaster": 0,
		"seatgeek":     0,
	},
	intent.LocalBusiness: {
		"brave":   1.0,
		"serpapi": 0.9,
	},
}

// ranked is one result with its fusion bookkeeping.
type ranked struct {
	result   search.Result
	weighted float64
	// order is the result's position in the flattened provider lists,
	// used as the deterministic tiebreak.
	order int
}

// Fuse merges per-provider result lists into one ranked evidence list:
// fold same-source near-duplicate titles, boost titles confirmed by
// multiple sources, weight by intent, sort, truncate to topK.
//
// Given the same inputs Fuse is deterministic: the sort is stable and
// ties break on original ordering within the provider lists.
func Fuse(in intent.Intent, lists [][]search.Result, topK int) []search.Result {
	if topK <= 0 {
		topK = DefaultTopK
	}

	// Flatten in provider order, remembering original positions.
	var flat []ranked
	order := 0
	for _, list := range lists {
		for _, r := range list {
			flat = append(flat, ranked{result: r, order: order})
			order++
		}
	}
	if len(flat) == 0 {
		return nil
	}

	flat = dedupe(flat)

	// Count distinct sources per normalised title for the boost.
	sources := make(map[string]map[string]bool)
	for _, r := range flat {
		title := normaliseTitle(r.result.Title)
		if sources[title] == nil {
			sources[title] = make(map[string]bool)
		}
		sources[title][r.result.Source] = true
	}

	weights := intentWeights[in]
	kept := flat[:0]
	for _, r := range flat {
		boost := confirmBoostStep * float64(len(sources[normaliseTitle(r.result.Title)])-1)
		if boost > confirmBoostCap {
			boost = confirmBoostCap
		}
		weight := 1.0
		if weights != nil {
			if w, ok := weights[r.result.Source]; ok {
				weight = w
			}
		}
		if weight == 0 {
			continue
		}
		r.weighted = clamp01(r.result.Confidence+boost) * weight
		kept = append(kept, r)
	}

	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].weighted != kept[j].weighted {
			return kept[i].weighted > kept[j].weighted
		}
		return kept[i].order < kept[j].order
	})

	if len(kept) > topK {
		kept = kept[:topK]
	}
	out := make([]search.Result, len(kept))
	for i, r := range kept {
		out[i] = r.result
		out[i].Confidence = r.weighted
	}
	return out
}

// dedupe folds same-source results whose normalised titles are
// near-identical, keeping the higher-confidence one. Quadratic, but the
// input is a handful of lists capped at the provider limit.
func dedupe(in []ranked) []ranked {
	out := make([]ranked, 0, len(in))
	for _, cand := range in {
		candTitle := normaliseTitle(cand.result.Title)
		folded := false
		for i, kept := range out {
			if kept.result.Source != cand.result.Source {
				continue
			}
			if matchr.JaroWinkler(candTitle, normaliseTitle(kept.result.Title), false) < dupSimilarity {
				continue
			}
			if cand.result.Confidence > kept.result.Confidence {
				// Keep the earlier slot so ordering stays deterministic.
				cand.order = kept.order
				out[i] = cand
			}
			folded = true
			break
		}
		if !folded {
			out = append(out, cand)
		}
	}
	return out
}

// normaliseTitle lowercases and collapses whitespace so similarity and
// confirmation counting ignore formatting drift.
func normaliseTitle(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
