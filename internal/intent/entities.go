package intent

import (
	"regexp"
	"strings"
)

// Entity extraction is deliberately shallow: the retrieval services do
// their own geocoding and lookup, so Porchlight only needs the obvious
// slots — a location phrase, a team name, an airport code.

var (
	// "in Baltimore", "near Fells Point", "for Denver"
	locationPattern = regexp.MustCompile(`(?i)\b(?:in|near|around|for|at)\s+([A-Z][A-Za-z]*(?:\s+[A-Z][A-Za-z]*){0,2})\b`)

	// Three-letter IATA codes, only when flight context is present.
	airportPattern = regexp.MustCompile(`\b([A-Z]{3})\b`)

	// Known team names worth slotting; the sports service resolves the rest.
	teamPattern = regexp.MustCompile(`(?i)\b(orioles|ravens|yankees|red sox|lakers|celtics|warriors|commanders|nationals|capitals|wizards)\b`)

	// Device nouns for control intents.
	devicePattern = regexp.MustCompile(`(?i)\b(?:the\s+)?(lights?|lamp|thermostat|door|garage|blinds|shades|curtains|tv|fan|lock)\b`)
)

// locationStopwords are capitalised words the location pattern tends to
// over-match at sentence starts.
var locationStopwords = map[string]bool{
	"the": true, "a": true, "an": true, "my": true, "me": true,
	"what": true, "when": true, "where": true, "how": true, "is": true,
	"tonight": true, "today": true, "tomorrow": true,
}

// ExtractEntities pulls the slots relevant to in from query. Keys are
// lowercase per the state contract; missing slots are simply absent.
func ExtractEntities(in Intent, query string) map[string]string {
	entities := make(map[string]string)

	if m := locationPattern.FindStringSubmatch(query); m != nil {
		loc := strings.TrimSpace(m[1])
		if !locationStopwords[strings.ToLower(loc)] {
			entities["location"] = loc
		}
	}

	switch in {
	case Airports:
		if m := airportPattern.FindStringSubmatch(query); m != nil {
			entities["airport_code"] = m[1]
		}
	case Sports:
		if m := teamPattern.FindStringSubmatch(query); m != nil {
			entities["team"] = strings.ToLower(m[1])
		}
	case Control:
		if m := devicePattern.FindStringSubmatch(query); m != nil {
			entities["device"] = strings.ToLower(m[1])
		}
	}

	if len(entities) == 0 {
		return nil
	}
	return entities
}
