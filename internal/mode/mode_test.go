package mode

import (
	"testing"
	"time"
)

var adjacency = map[Mode][]Mode{
	CheckIn:          {Followup, OutcomeDiscovery, Probing},
	Followup:         {Teaching, OutcomeDiscovery, Probing, OutcomeCheck},
	OutcomeDiscovery: {Framing, Probing},
	Framing:          {Probing},
	Probing:          {Teaching, OutcomeCheck, Framing},
	Teaching:         {Verification, Probing},
	Verification:     {Teaching, Probing, OutcomeCheck},
	OutcomeCheck:     {OutcomeDiscovery, Probing, Framing},
}

func TestTransitionTableExhaustive(t *testing.T) {
	for _, from := range All() {
		allowed := map[Mode]bool{}
		for _, to := range adjacency[from] {
			allowed[to] = true
		}
		for _, to := range All() {
			if got := IsValidTransition(from, to); got != allowed[to] {
				t.Errorf("IsValidTransition(%s, %s) = %v, want %v", from, to, got, allowed[to])
			}
		}
	}
	if IsValidTransition("nonsense", Probing) {
		t.Error("unknown source mode must not be valid")
	}
}

func TestEveryModeDefined(t *testing.T) {
	for _, m := range All() {
		d, ok := Lookup(m)
		if !ok || d.Goal == "" || d.ExpectedOutput == "" || len(d.Next) == 0 {
			t.Errorf("mode %s incompletely defined: %+v", m, d)
		}
		if _, err := Parse(string(m)); err != nil {
			t.Errorf("parse %s: %v", m, err)
		}
	}
	if _, err := Parse("dreaming"); err == nil {
		t.Error("expected parse error")
	}
}

func TestContinuationRules(t *testing.T) {
	if Initial() != CheckIn {
		t.Fatal("initial mode must be check_in")
	}
	tests := []struct {
		name string
		ctx  Context
		gaps bool
		post Mode
		fu   Mode
	}{
		{"followups pending", Context{HasPendingFollowups: true, HasActiveOutcome: true}, false, Followup, Probing},
		{"no outcome", Context{}, false, OutcomeDiscovery, OutcomeDiscovery},
		{"active outcome", Context{HasActiveOutcome: true}, false, Probing, Probing},
		{"gaps revealed", Context{HasPendingFollowups: true}, true, Followup, Teaching},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PostCheckIn(tt.ctx); got != tt.post {
				t.Errorf("PostCheckIn = %s, want %s", got, tt.post)
			}
			if got := PostFollowup(tt.ctx, tt.gaps); got != tt.fu {
				t.Errorf("PostFollowup = %s, want %s", got, tt.fu)
			}
		})
	}
}

func TestNeedsReverification(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	day := 24 * time.Hour
	tests := []struct {
		foundational bool
		age          time.Duration
		want         bool
	}{
		{true, 59 * day, false},
		{true, 61 * day, true},
		{false, 61 * day, false},
		{false, 89 * day, false},
		{false, 91 * day, true},
		{true, 91 * day, true},
	}
	for _, tt := range tests {
		if got := NeedsReverification(tt.foundational, now.Add(-tt.age), now); got != tt.want {
			t.Errorf("foundational=%v age=%v: got %v want %v", tt.foundational, tt.age, got, tt.want)
		}
	}
	if NeedsReverification(true, time.Time{}, now) {
		t.Error("zero proof time must not require re-verification")
	}
}
