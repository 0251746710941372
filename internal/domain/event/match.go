package event

import "strings"

// Match pairs an event with a subscription accepted by the matching rules.
type Match struct {
	Event        Event
	Subscription Subscription
}

// MatchSubscriptions returns one Match per subscription satisfying all of:
// the subscription is enabled, its event type equals the event's, its persona
// matches the event's target persona when one is set, and its source filter
// (when set) accepts the event's source. Result order follows subscription
// enumeration order.
func MatchSubscriptions(ev Event, subs []Subscription) []Match {
	var matches []Match
	for _, sub := range subs {
		if !sub.Enabled {
			continue
		}
		if sub.EventType != ev.EventType {
			continue
		}
		if ev.TargetPersonaID != "" && sub.PersonaID != ev.TargetPersonaID {
			continue
		}
		if sub.SourceFilter != "" && !SourceFilterMatches(sub.SourceFilter, ev.SourceID) {
			continue
		}
		matches = append(matches, Match{Event: ev, Subscription: sub})
	}
	return matches
}

// SourceFilterMatches reports whether sourceID satisfies filter. A filter
// ending in "*" matches any sourceID with the preceding prefix; otherwise the
// comparison is exact. An empty sourceID never matches. The "*" is not an
// escape character anywhere else in the filter.
func SourceFilterMatches(filter, sourceID string) bool {
	if sourceID == "" {
		return false
	}
	if strings.HasSuffix(filter, "*") {
		return strings.HasPrefix(sourceID, strings.TrimSuffix(filter, "*"))
	}
	return sourceID == filter
}
