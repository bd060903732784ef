// Package sessionstate keeps the cross-modality state of a session so a
// learner can switch between voice, chat and forms without losing progress.
package sessionstate

import (
	"maps"
	"slices"
	"time"

	"github.com/nidhogg/nuka-tutor/internal/input"
	"github.com/nidhogg/nuka-tutor/internal/intent"
)

// PendingDataRequest is the one partially collected request of a session.
type PendingDataRequest struct {
	Intent           intent.Intent  `json:"intent"`
	CollectedData    map[string]any `json:"collected_data"`
	MissingFields    []string       `json:"missing_fields"`
	ValidationErrors []string       `json:"validation_errors"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Clone returns a deep copy of p (nil-safe).
func (p *PendingDataRequest) Clone() *PendingDataRequest {
	if p == nil {
		return nil
	}
	cp := *p
	cp.CollectedData = maps.Clone(p.CollectedData)
	cp.MissingFields = slices.Clone(p.MissingFields)
	cp.ValidationErrors = slices.Clone(p.ValidationErrors)
	return &cp
}

// CheckInData holds check-in fields collected so far, from any modality.
type CheckInData struct {
	EnergyLevel       *int   `json:"energy_level,omitempty"`
	TimeAvailable     string `json:"time_available,omitempty"`
	Mindset           string `json:"mindset,omitempty"`
	Environment       string `json:"environment,omitempty"`
	IntentionStrength string `json:"intention_strength,omitempty"`
}

// Fields renders the check-in data with the check-in schema's field names.
func (c CheckInData) Fields() map[string]any {
	out := map[string]any{}
	if c.EnergyLevel != nil {
		out["energyLevel"] = *c.EnergyLevel
	}
	if c.TimeAvailable != "" {
		out["timeAvailable"] = c.TimeAvailable
	}
	if c.Mindset != "" {
		out["mindset"] = c.Mindset
	}
	if c.Environment != "" {
		out["environment"] = c.Environment
	}
	if c.IntentionStrength != "" {
		out["intentionStrength"] = c.IntentionStrength
	}
	return out
}

// Apply copies recognised check-in fields out of data. Values that do not
// parse are ignored; the schema reports them separately.
func (c *CheckInData) Apply(data map[string]any) {
	if v, ok := intent.AsFloat(data["energyLevel"]); ok && v >= 0 && v <= 100 {
		n := int(v)
		c.EnergyLevel = &n
	}
	if s, ok := data["timeAvailable"].(string); ok && s != "" {
		c.TimeAvailable = s
	}
	if s, ok := data["mindset"].(string); ok && s != "" {
		c.Mindset = s
	}
	if s, ok := data["environment"].(string); ok && s != "" {
		c.Environment = s
	}
	if s, ok := data["intentionStrength"].(string); ok && s != "" {
		c.IntentionStrength = s
	}
}

// Message is one modality-tagged utterance.
type Message struct {
	ID        string         `json:"id"`
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Modality  input.Modality `json:"modality"`
	Timestamp time.Time      `json:"timestamp"`
}

// State is the unified session state.
type State struct {
	SessionID          string              `json:"session_id"`
	ModalityPreference input.Modality      `json:"modality_preference"`
	Pending            *PendingDataRequest `json:"pending_data_request,omitempty"`
	CheckInData        CheckInData         `json:"check_in_data"`
	Messages           []Message           `json:"messages"`
	CheckInComplete    bool                `json:"check_in_complete"`
	LastActivity       time.Time           `json:"last_activity"`
}

// Clone returns a deep copy of s.
func (s *State) Clone() *State {
	cp := *s
	cp.Pending = s.Pending.Clone()
	if s.CheckInData.EnergyLevel != nil {
		e := *s.CheckInData.EnergyLevel
		cp.CheckInData.EnergyLevel = &e
	}
	cp.Messages = slices.Clone(s.Messages)
	return &cp
}

func newState(id string, now time.Time) *State {
	return &State{
		SessionID:          id,
		ModalityPreference: input.Chat,
		Messages:           []Message{},
		LastActivity:       now,
	}
}
