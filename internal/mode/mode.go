// Package mode is the dialogue state machine of the teaching cycle.
package mode

import (
	"fmt"
	"slices"
	"time"
)

// Mode is one state of the teaching cycle.
type Mode string

const (
	CheckIn          Mode = "check_in"
	Followup         Mode = "followup"
	OutcomeDiscovery Mode = "outcome_discovery"
	Framing          Mode = "framing"
	Probing          Mode = "probing"
	Teaching         Mode = "teaching"
	Verification     Mode = "verification"
	OutcomeCheck     Mode = "outcome_check"
)

// Definition declares what a mode is for and where it may lead.
type Definition struct {
	Mode           Mode
	Goal           string
	ExpectedOutput string
	Next           []Mode
}

var definitions = map[Mode]Definition{
	CheckIn: {
		Mode:           CheckIn,
		Goal:           "Learn the learner's energy, available time and mindset before starting.",
		ExpectedOutput: "A short warm check-in that captures time available and energy level.",
		Next:           []Mode{Followup, OutcomeDiscovery, Probing},
	},
	Followup: {
		Mode:           Followup,
		Goal:           "Ask how a planned real-world application went and what it revealed.",
		ExpectedOutput: "What worked, what was hard, and any gaps the situation exposed.",
		Next:           []Mode{Teaching, OutcomeDiscovery, Probing, OutcomeCheck},
	},
	OutcomeDiscovery: {
		Mode:           OutcomeDiscovery,
		Goal:           "Find a concrete outcome the learner wants to be able to achieve.",
		ExpectedOutput: "One specific, observable outcome with a reason it matters.",
		Next:           []Mode{Framing, Probing},
	},
	Framing: {
		Mode:           Framing,
		Goal:           "Frame the outcome: what success looks like and what it takes.",
		ExpectedOutput: "A shared picture of success and the rough shape of the path.",
		Next:           []Mode{Probing},
	},
	Probing: {
		Mode:           Probing,
		Goal:           "Find the specific concept gaps blocking the outcome.",
		ExpectedOutput: "Named gaps, one at a time, grounded in what the learner said.",
		Next:           []Mode{Teaching, OutcomeCheck, Framing},
	},
	Teaching: {
		Mode:           Teaching,
		Goal:           "Teach the current concept using what the learner already knows.",
		ExpectedOutput: "A clear explanation tied to known concepts and the learner's context.",
		Next:           []Mode{Verification, Probing},
	},
	Verification: {
		Mode:           Verification,
		Goal:           "Have the learner explain or apply the concept in their own words.",
		ExpectedOutput: "Evidence of understanding strong enough to earn a proof, or a gap to re-teach.",
		Next:           []Mode{Teaching, Probing, OutcomeCheck},
	},
	OutcomeCheck: {
		Mode:           OutcomeCheck,
		Goal:           "Check whether the learner can now achieve the outcome.",
		ExpectedOutput: "A judgment on readiness and the next outcome or gap.",
		Next:           []Mode{OutcomeDiscovery, Probing, Framing},
	},
}

// Lookup returns the definition of m.
func Lookup(m Mode) (Definition, bool) {
	d, ok := definitions[m]
	return d, ok
}

// Parse validates a wire mode name.
func Parse(s string) (Mode, error) {
	m := Mode(s)
	if _, ok := definitions[m]; !ok {
		return "", fmt.Errorf("unknown mode %q", s)
	}
	return m, nil
}

// All returns every mode in cycle order.
func All() []Mode {
	return []Mode{CheckIn, Followup, OutcomeDiscovery, Framing, Probing, Teaching, Verification, OutcomeCheck}
}

// IsValidTransition reports whether to is in from's declared next set.
func IsValidTransition(from, to Mode) bool {
	d, ok := definitions[from]
	if !ok {
		return false
	}
	return slices.Contains(d.Next, to)
}

// Context is the part of the learner's situation the continuation rules need.
type Context struct {
	HasPendingFollowups bool
	HasActiveOutcome    bool
}

// Initial is the mode every session starts in.
func Initial() Mode { return CheckIn }

// PostCheckIn picks the mode after check-in completes.
func PostCheckIn(c Context) Mode {
	if c.HasPendingFollowups {
		return Followup
	}
	return withoutFollowup(c)
}

// PostFollowup picks the mode after a follow-up conversation.
func PostFollowup(c Context, gapsRevealed bool) Mode {
	if gapsRevealed {
		return Teaching
	}
	return withoutFollowup(c)
}

func withoutFollowup(c Context) Mode {
	if !c.HasActiveOutcome {
		return OutcomeDiscovery
	}
	return Probing
}

// Re-verification windows.
const (
	FoundationalReverifyAfter = 60 * 24 * time.Hour
	ReverifyAfter             = 90 * 24 * time.Hour
)

// NeedsReverification reports whether a concept proven at provenAt should be
// re-verified before teaching builds on it.
func NeedsReverification(foundational bool, provenAt, now time.Time) bool {
	if provenAt.IsZero() {
		return false
	}
	age := now.Sub(provenAt)
	if foundational && age > FoundationalReverifyAfter {
		return true
	}
	return age > ReverifyAfter
}
