package engine

import (
	"fmt"
	"slices"
	"strings"

	"github.com/nidhogg/nuka-tutor/internal/learnctx"
	"github.com/nidhogg/nuka-tutor/internal/mode"
)

var (
	gapModes     = []mode.Mode{mode.Probing, mode.Followup, mode.Teaching, mode.Verification, mode.OutcomeCheck}
	outcomeModes = []mode.Mode{mode.OutcomeDiscovery, mode.Framing}
)

// Validate checks an answer against the current mode and context. The
// result is advisory only.
func Validate(a *Answer, m mode.Mode, fc *learnctx.FullContext) []string {
	var warnings []string
	warn := func(format string, args ...any) {
		warnings = append(warnings, fmt.Sprintf(format, args...))
	}

	if a.ProofEarned != nil {
		if m != mode.Verification {
			warn("proof_earned reported in %s mode", m)
		}
		if fc != nil && !knownConcept(fc, a.ProofEarned.Concept) {
			warn("proof_earned for unknown concept %q", a.ProofEarned.Concept)
		}
	}
	if a.GapIdentified != nil && !slices.Contains(gapModes, m) {
		warn("gap_identified reported in %s mode", m)
	}
	if a.FollowupResponse != nil && m != mode.Followup {
		warn("followup_response reported in %s mode", m)
	}
	if a.OutcomeDefined != nil && !slices.Contains(outcomeModes, m) {
		warn("outcome_defined reported in %s mode", m)
	}
	if a.OutcomeAchieved {
		if m != mode.OutcomeCheck {
			warn("outcome_achieved reported in %s mode", m)
		}
		if fc != nil && fc.ActiveOutcome == nil {
			warn("outcome_achieved without an active outcome")
		}
	}
	if t := a.ModeTransition; t != nil && t.To != "" {
		to, err := mode.Parse(t.To)
		switch {
		case err != nil:
			warn("transition to unknown mode %q", t.To)
		case to == m:
			warn("transition to the current mode %s", m)
		case !mode.IsValidTransition(m, to):
			warn("transition %s -> %s is not in the adjacency table", m, to)
		}
	}
	if c := a.ConnectionDiscovered; c != nil && fc != nil {
		if strings.EqualFold(strings.TrimSpace(c.From), strings.TrimSpace(c.To)) {
			warn("connection_discovered relates %q to itself", c.From)
		}
	}
	return warnings
}

func knownConcept(fc *learnctx.FullContext, ref string) bool {
	_, ok := findConcept(fc, ref)
	return ok
}

// findConcept resolves ref as a concept id or case-insensitive name.
func findConcept(fc *learnctx.FullContext, ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", false
	}
	if _, ok := fc.Concepts[ref]; ok {
		return ref, true
	}
	for id, c := range fc.Concepts {
		if strings.EqualFold(c.Name, ref) {
			return id, true
		}
	}
	return "", false
}
