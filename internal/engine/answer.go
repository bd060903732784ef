package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nidhogg/nuka-tutor/internal/intent"
	"github.com/nidhogg/nuka-tutor/internal/knowledge"
	"github.com/nidhogg/nuka-tutor/internal/oracle"
	"github.com/nidhogg/nuka-tutor/internal/persist"
	"github.com/nidhogg/nuka-tutor/internal/workflow"
)

// Transition is a mode change proposed by the oracle. It decodes from either
// a bare mode name or an object.
type Transition struct {
	To      string `json:"to"`
	Concept string `json:"concept,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// UnmarshalJSON accepts "teaching" as well as {"to":"teaching",...}.
func (t *Transition) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		t.To = s
		return nil
	}
	type plain Transition
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*t = Transition(p)
	return nil
}

// ApplicationDetected is an application event mentioned by the learner.
type ApplicationDetected struct {
	Context     string   `json:"context"`
	PlannedDate string   `json:"planned_date"`
	Concepts    []string `json:"concepts,omitempty"`
}

// StateChange updates the session context mid-session. Empty fields keep
// their current values.
type StateChange struct {
	EnergyLevel       *int   `json:"energy_level,omitempty"`
	TimeAvailable     string `json:"time_available,omitempty"`
	Mindset           string `json:"mindset,omitempty"`
	Environment       string `json:"environment,omitempty"`
	IntentionStrength string `json:"intention_strength,omitempty"`
}

// Apply returns cur with the change applied.
func (s StateChange) Apply(cur knowledge.SessionContext) knowledge.SessionContext {
	if s.EnergyLevel != nil {
		cur.EnergyLevel = *s.EnergyLevel
	}
	if s.TimeAvailable != "" {
		cur.TimeAvailable = s.TimeAvailable
	}
	if s.Mindset != "" {
		cur.Mindset = s.Mindset
	}
	if s.Environment != "" {
		cur.Environment = s.Environment
	}
	if s.IntentionStrength != "" {
		cur.IntentionStrength = s.IntentionStrength
	}
	return cur
}

// Answer is the structured reply the oracle gives for a turn.
type Answer struct {
	Message              string                     `json:"message"`
	ModeTransition       *Transition                `json:"mode_transition,omitempty"`
	CurrentConcept       string                     `json:"current_concept,omitempty"`
	GapIdentified        *workflow.GapReport        `json:"gap_identified,omitempty"`
	ProofEarned          *workflow.ProofReport      `json:"proof_earned,omitempty"`
	ConnectionDiscovered *workflow.ConnectionReport `json:"connection_discovered,omitempty"`
	ApplicationDetected  *ApplicationDetected       `json:"application_detected,omitempty"`
	FollowupResponse     *workflow.FollowupReport   `json:"followup_response,omitempty"`
	GapsRevealed         []string                   `json:"gaps_revealed,omitempty"`
	StateChange          *StateChange               `json:"state_change,omitempty"`
	OutcomeDefined       *persist.OutcomeReport     `json:"outcome_defined,omitempty"`
	OutcomeAchieved      bool                       `json:"outcome_achieved,omitempty"`

	// Fallback marks a reply synthesized after the oracle failed.
	Fallback bool   `json:"fallback,omitempty"`
	Failure  string `json:"failure,omitempty"`
}

var errEmptyMessage = errors.New("answer has no message")

// ParseAnswer decodes the first JSON object in text.
func ParseAnswer(text string) (*Answer, error) {
	var a Answer
	if err := oracle.DecodeJSON(text, &a); err != nil {
		return nil, err
	}
	a.Message = strings.TrimSpace(a.Message)
	if a.Message == "" {
		return nil, errEmptyMessage
	}
	return &a, nil
}

// effects converts the answer into the persistence request. A state change
// is applied on top of current.
func (a *Answer) effects(current knowledge.SessionContext) (persist.Effects, []string) {
	var (
		e        persist.Effects
		warnings []string
	)
	if a.GapIdentified != nil && strings.TrimSpace(a.GapIdentified.Name) != "" {
		e.Gaps = append(e.Gaps, *a.GapIdentified)
	}
	if a.ProofEarned != nil {
		e.Proofs = append(e.Proofs, *a.ProofEarned)
	}
	if a.ConnectionDiscovered != nil {
		e.Connections = append(e.Connections, *a.ConnectionDiscovered)
	}
	if d := a.ApplicationDetected; d != nil && strings.TrimSpace(d.Context) != "" {
		planned, ok := intent.AsTime(d.PlannedDate)
		if !ok && d.PlannedDate != "" {
			warnings = append(warnings, fmt.Sprintf("application planned_date %q not understood", d.PlannedDate))
		}
		e.Applications = append(e.Applications, workflow.ApplicationReport{
			Context:     d.Context,
			PlannedDate: planned,
			Concepts:    d.Concepts,
		})
	}
	if f := a.FollowupResponse; f != nil {
		r := *f
		r.GapsRevealed = mergeNames(r.GapsRevealed, a.GapsRevealed)
		e.Followup = &r
	} else {
		for _, name := range a.GapsRevealed {
			if strings.TrimSpace(name) != "" {
				e.Gaps = append(e.Gaps, workflow.GapReport{Name: name})
			}
		}
	}
	if a.StateChange != nil {
		sc := a.StateChange.Apply(current)
		e.StateChange = &sc
	}
	e.OutcomeDefined = a.OutcomeDefined
	e.OutcomeAchieved = a.OutcomeAchieved
	return e, warnings
}

func mergeNames(a, b []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, n := range append(append([]string(nil), a...), b...) {
		k := strings.ToLower(strings.TrimSpace(n))
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, strings.TrimSpace(n))
	}
	return out
}

const answerSchema = `{
  "message": "string, what you say to the learner (required)",
  "mode_transition": {"to": "mode name", "concept": "concept name when entering teaching or verification", "reason": "string"},
  "current_concept": "name of the concept in focus",
  "gap_identified": {"concept_name": "string", "description": "string", "foundational": false},
  "proof_earned": {"concept": "name", "demonstration_type": "explanation|application|both",
    "signals": {"own_words": 0.0, "correct_application": 0.0, "boundary_awareness": 0.0, "connections": 0.0, "parroting": false, "misconception": false},
    "exchange": {"prompt": "what you asked", "response": "what the learner said", "analysis": "why it shows understanding"}},
  "connection_discovered": {"from": "concept", "to": "concept", "relationship": "string", "strength": 0.0, "used_in_teaching": false},
  "application_detected": {"context": "real situation", "planned_date": "YYYY-MM-DD", "concepts": ["name"]},
  "followup_response": {"application_id": "id", "response": "string", "what_worked": "string", "what_struggled": "string", "skipped": false},
  "gaps_revealed": ["concept name"],
  "state_change": {"energy_level": 0, "time_available": "quick|focused|deep", "mindset": "string", "intention_strength": "low|moderate|strong"},
  "outcome_defined": {"description": "string", "success": "how the learner will know"},
  "outcome_achieved": false
}
Only "message" is required. Omit every other field unless it applies to this turn.`
