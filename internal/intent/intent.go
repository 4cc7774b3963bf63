// Package intent defines the utterance categories Porchlight routes on and
// the two-stage classifier that assigns them.
//
// Classification is total: for any input the classifier returns a valid
// [Intent] and a confidence in [0,1], never an error. The optional LLM
// classifier is consulted first when its feature flag is on; the keyword
// classifier is the always-available fallback.
package intent

// Intent is the coarse categorisation of a user utterance. It selects the
// retrieval plan and the prompt template used for synthesis.
type Intent string

const (
	Control       Intent = "control"
	Weather       Intent = "weather"
	Sports        Intent = "sports"
	Airports      Intent = "airports"
	EventSearch   Intent = "event_search"
	News          Intent = "news"
	LocalBusiness Intent = "local_business"
	General       Intent = "general"
	Greeting      Intent = "greeting"
	Unknown       Intent = "unknown"
)

// All lists every valid intent. Order is not significant.
var All = []Intent{
	Control, Weather, Sports, Airports, EventSearch,
	News, LocalBusiness, General, Greeting, Unknown,
}

// IsValid reports whether i is a recognised intent.
func (i Intent) IsValid() bool {
	switch i {
	case Control, Weather, Sports, Airports, EventSearch,
		News, LocalBusiness, General, Greeting, Unknown:
		return true
	}
	return false
}

// String returns the wire name of the intent.
func (i Intent) String() string { return string(i) }

// NeedsRetrieval reports whether answering this intent requires external
// evidence. Control and greeting short-circuit the pipeline; unknown
// queries get a clarifying answer without retrieval.
func (i Intent) NeedsRetrieval() bool {
	switch i {
	case Control, Greeting, Unknown:
		return false
	}
	return true
}

// Parse returns the Intent matching name, or Unknown when name is not a
// recognised intent.
func Parse(name string) Intent {
	in := Intent(name)
	if in.IsValid() {
		return in
	}
	return Unknown
}
