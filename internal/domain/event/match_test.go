package event

import "testing"

func TestSourceFilterMatches(t *testing.T) {
	tests := []struct {
		filter   string
		sourceID string
		want     bool
	}{
		{"team/repoA", "team/repoA", true},
		{"team/repoA", "team/repoB", false},
		{"team/*", "team/repoA", true},
		{"team/*", "other/repoA", false},
		{"*", "anything", true},
		{"team/repoA", "", false},
		{"team/*", "", false},
		// "*" anywhere but the end is a literal character.
		{"te*m/repoA", "team/repoA", false},
		{"te*m/repoA", "te*m/repoA", true},
	}

	for _, tt := range tests {
		if got := SourceFilterMatches(tt.filter, tt.sourceID); got != tt.want {
			t.Errorf("SourceFilterMatches(%q, %q) = %v, want %v", tt.filter, tt.sourceID, got, tt.want)
		}
	}
}

func TestMatchSubscriptionsBasic(t *testing.T) {
	ev := Event{ID: "e1", EventType: "gitlab_push", SourceID: "team/repoA"}
	subs := []Subscription{
		{ID: "s1", PersonaID: "p1", EventType: "gitlab_push", Enabled: true},
		{ID: "s2", PersonaID: "p2", EventType: "gitlab_push", SourceFilter: "team/*", Enabled: true},
		{ID: "s3", PersonaID: "p3", EventType: "gitlab_push", SourceFilter: "other/*", Enabled: true},
		{ID: "s4", PersonaID: "p4", EventType: "slack_message", Enabled: true},
	}

	got := MatchSubscriptions(ev, subs)
	if len(got) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(got))
	}
	if got[0].Subscription.ID != "s1" || got[1].Subscription.ID != "s2" {
		t.Fatalf("expected matches s1, s2 in order, got %s, %s", got[0].Subscription.ID, got[1].Subscription.ID)
	}
}

func TestMatchSubscriptionsDisabledNeverChangesMatchSet(t *testing.T) {
	ev := Event{ID: "e1", EventType: "tick"}
	base := []Subscription{
		{ID: "s1", PersonaID: "p1", EventType: "tick", Enabled: true},
	}
	withDisabled := append([]Subscription{}, base...)
	withDisabled = append(withDisabled, Subscription{ID: "s2", PersonaID: "p2", EventType: "tick", Enabled: false})

	a := MatchSubscriptions(ev, base)
	b := MatchSubscriptions(ev, withDisabled)
	if len(a) != len(b) {
		t.Fatalf("adding a disabled subscription changed the match set: %d vs %d", len(a), len(b))
	}
}

func TestMatchSubscriptionsTargetPersona(t *testing.T) {
	ev := Event{ID: "e1", EventType: "tick", TargetPersonaID: "p2"}
	subs := []Subscription{
		{ID: "s1", PersonaID: "p1", EventType: "tick", Enabled: true},
		{ID: "s2", PersonaID: "p2", EventType: "tick", Enabled: true},
	}

	got := MatchSubscriptions(ev, subs)
	if len(got) != 1 {
		t.Fatalf("expected 1 match, got %d", len(got))
	}
	if got[0].Subscription.PersonaID != "p2" {
		t.Fatalf("expected match owned by p2, got %s", got[0].Subscription.PersonaID)
	}
}

func TestMatchSubscriptionsIsDeterministic(t *testing.T) {
	ev := Event{ID: "e1", EventType: "tick", SourceID: "cron/1"}
	subs := []Subscription{
		{ID: "s1", PersonaID: "p1", EventType: "tick", SourceFilter: "cron/*", Enabled: true},
		{ID: "s2", PersonaID: "p2", EventType: "tick", Enabled: true},
	}

	first := MatchSubscriptions(ev, subs)
	for range 10 {
		again := MatchSubscriptions(ev, subs)
		if len(again) != len(first) {
			t.Fatal("match count varies between calls")
		}
		for i := range again {
			if again[i].Subscription.ID != first[i].Subscription.ID {
				t.Fatal("match order varies between calls")
			}
		}
	}
}
