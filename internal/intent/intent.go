// Package intent defines the closed set of things a learner can be trying to
// do in a turn, the field schema each one collects, and the oracle-backed
// extractor that classifies free text into one of them.
package intent

import (
	"fmt"
	"strings"
)

// Intent is a closed sum of known intents. Unknown and PendingExtraction are
// explicit variants rather than empty strings.
type Intent uint8

const (
	Unknown Intent = iota
	PendingExtraction
	CheckIn
	PracticeSetup
	Verification
	OutcomeDiscovery
	ApplicationEvent
	General

	numIntents
)

var names = [numIntents]string{
	Unknown:           "unknown",
	PendingExtraction: "pending_extraction",
	CheckIn:           "check_in",
	PracticeSetup:     "practice_setup",
	Verification:      "verification",
	OutcomeDiscovery:  "outcome_discovery",
	ApplicationEvent:  "application_event",
	General:           "general",
}

func (i Intent) String() string {
	if i < numIntents {
		return names[i]
	}
	return fmt.Sprintf("intent(%d)", uint8(i))
}

// Parse maps a wire name back to an Intent. Unrecognized names give Unknown.
func Parse(s string) Intent {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "-", "_")
	for i, n := range names {
		if n == s {
			return Intent(i)
		}
	}
	return Unknown
}

// Known reports whether i names a concrete intent with a schema.
func (i Intent) Known() bool { return i >= CheckIn && i < numIntents }

// MarshalText implements encoding.TextMarshaler.
func (i Intent) MarshalText() ([]byte, error) { return []byte(i.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *Intent) UnmarshalText(b []byte) error {
	*i = Parse(string(b))
	return nil
}

// All returns every concrete intent in declaration order.
func All() []Intent {
	out := make([]Intent, 0, numIntents-CheckIn)
	for i := CheckIn; i < numIntents; i++ {
		out = append(out, i)
	}
	return out
}

var formKeywords = []struct {
	keywords []string
	intent   Intent
}{
	{[]string{"check-in", "check_in", "checkin"}, CheckIn},
	{[]string{"practice-setup", "practice_setup", "practice"}, PracticeSetup},
	{[]string{"verification", "verify"}, Verification},
	{[]string{"outcome-discovery", "outcome_discovery", "outcome", "goal"}, OutcomeDiscovery},
	{[]string{"application-event", "application_event", "application"}, ApplicationEvent},
}

// FromFormID infers the intent of a form submission from keywords in its
// identifier. Forms that match nothing are General.
func FromFormID(formID string) Intent {
	id := strings.ToLower(formID)
	for _, fk := range formKeywords {
		for _, kw := range fk.keywords {
			if strings.Contains(id, kw) {
				return fk.intent
			}
		}
	}
	return General
}
