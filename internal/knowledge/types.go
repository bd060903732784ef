package knowledge

import (
	"time"
)

// NodeType names the kind of entity an edge endpoint refers to.
type NodeType string

const (
	NodeLearner     NodeType = "learner"
	NodeOutcome     NodeType = "outcome"
	NodeConcept     NodeType = "concept"
	NodeProof       NodeType = "proof"
	NodeSession     NodeType = "session"
	NodeApplication NodeType = "application"
)

// EdgeType is the relation carried by an edge.
type EdgeType string

const (
	EdgeRequires       EdgeType = "requires"
	EdgeRelatesTo      EdgeType = "relates_to"
	EdgeDemonstratedBy EdgeType = "demonstrated_by"
	EdgeExploredIn     EdgeType = "explored_in"
	EdgeBuildsOn       EdgeType = "builds_on"
	EdgeAppliedIn      EdgeType = "applied_in"
)

// Learner is the person being taught.
type Learner struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	ActiveOutcomeID string          `json:"active_outcome_id,omitempty"`
	Insights        LearnerInsights `json:"insights"`
	ProofCount      int             `json:"proof_count"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// LearnerInsights are durable observations about how a learner learns best.
type LearnerInsights struct {
	PrefersExamples          bool     `json:"prefers_examples"`
	NeedsFrequentChecks      bool     `json:"needs_frequent_checks"`
	PrefersBigPicture        bool     `json:"prefers_big_picture"`
	StrugglesWithAbstraction bool     `json:"struggles_with_abstraction"`
	Notes                    []string `json:"notes,omitempty"`
}

// OutcomeStatus tracks a learning outcome through its life.
type OutcomeStatus string

const (
	OutcomeActive    OutcomeStatus = "active"
	OutcomeAchieved  OutcomeStatus = "achieved"
	OutcomePaused    OutcomeStatus = "paused"
	OutcomeAbandoned OutcomeStatus = "abandoned"
)

// Outcome is something concrete the learner wants to be able to do.
type Outcome struct {
	ID          string        `json:"id"`
	LearnerID   string        `json:"learner_id"`
	Description string        `json:"description"`
	Success     string        `json:"success,omitempty"`
	Status      OutcomeStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	AchievedAt  *time.Time    `json:"achieved_at,omitempty"`
}

// ConceptStatus moves forward only: identified, teaching, understood.
type ConceptStatus string

const (
	ConceptIdentified ConceptStatus = "identified"
	ConceptTeaching   ConceptStatus = "teaching"
	ConceptUnderstood ConceptStatus = "understood"
)

// rank orders concept statuses so workflows never move a concept backward.
func (s ConceptStatus) rank() int {
	switch s {
	case ConceptTeaching:
		return 1
	case ConceptUnderstood:
		return 2
	default:
		return 0
	}
}

// Before reports whether s precedes other in the concept lifecycle.
func (s ConceptStatus) Before(other ConceptStatus) bool {
	return s.rank() < other.rank()
}

// Concept is a discrete unit of understanding.
type Concept struct {
	ID           string        `json:"id"`
	LearnerID    string        `json:"learner_id"`
	Name         string        `json:"name"`
	Description  string        `json:"description,omitempty"`
	Status       ConceptStatus `json:"status"`
	Foundational bool          `json:"foundational"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	UnderstoodAt *time.Time    `json:"understood_at,omitempty"`
}

// DemonstrationType is how a learner showed understanding.
type DemonstrationType string

const (
	DemoExplanation DemonstrationType = "explanation"
	DemoApplication DemonstrationType = "application"
	DemoBoth        DemonstrationType = "both"
)

// Exchange is the verification dialogue a proof was earned in.
type Exchange struct {
	Prompt   string `json:"prompt"`
	Response string `json:"response"`
	Analysis string `json:"analysis,omitempty"`
}

// Proof is a scored demonstration of understanding for one concept.
type Proof struct {
	ID                string            `json:"id"`
	ConceptID         string            `json:"concept_id"`
	LearnerID         string            `json:"learner_id"`
	SessionID         string            `json:"session_id,omitempty"`
	DemonstrationType DemonstrationType `json:"demonstration_type"`
	Confidence        float64           `json:"confidence"`
	Exchange          Exchange          `json:"exchange"`
	EarnedAt          time.Time         `json:"earned_at"`
}

// SessionContext is the learner's state at check-in time.
type SessionContext struct {
	EnergyLevel       int    `json:"energy_level"`
	TimeAvailable     string `json:"time_available,omitempty"`
	Mindset           string `json:"mindset,omitempty"`
	Environment       string `json:"environment,omitempty"`
	IntentionStrength string `json:"intention_strength,omitempty"`
}

// Message is one utterance in a session transcript.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Mode      string    `json:"mode,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EndingState describes how a session finished.
type EndingState string

const (
	EndingNone            EndingState = ""
	EndingNatural         EndingState = "natural"
	EndingInterrupted     EndingState = "interrupted"
	EndingOutcomeAchieved EndingState = "outcome_achieved"
	EndingAbandoned       EndingState = "abandoned"
)

// Session is one sitting of the teaching cycle.
type Session struct {
	ID               string         `json:"id"`
	LearnerID        string         `json:"learner_id"`
	OutcomeID        string         `json:"outcome_id,omitempty"`
	Context          SessionContext `json:"context"`
	Messages         []Message      `json:"messages"`
	ConceptsExplored []string       `json:"concepts_explored"`
	ProofsEarned     []string       `json:"proofs_earned"`
	EndingState      EndingState    `json:"ending_state,omitempty"`
	StartedAt        time.Time      `json:"started_at"`
	EndedAt          *time.Time     `json:"ended_at,omitempty"`
}

// Ended reports whether the session has already been closed.
func (s *Session) Ended() bool { return s.EndedAt != nil }

// ApplicationStatus is the lifecycle of a real-world application event.
type ApplicationStatus string

const (
	AppUpcoming        ApplicationStatus = "upcoming"
	AppPendingFollowup ApplicationStatus = "pending_followup"
	AppCompleted       ApplicationStatus = "completed"
	AppSkipped         ApplicationStatus = "skipped"
)

// ApplicationEvent is a real-world situation where the learner plans to use
// what they learned.
type ApplicationEvent struct {
	ID               string            `json:"id"`
	LearnerID        string            `json:"learner_id"`
	OutcomeID        string            `json:"outcome_id,omitempty"`
	ConceptIDs       []string          `json:"concept_ids,omitempty"`
	Context          string            `json:"context"`
	PlannedDate      time.Time         `json:"planned_date"`
	Status           ApplicationStatus `json:"status"`
	FollowupResponse string            `json:"followup_response,omitempty"`
	WhatWorked       string            `json:"what_worked,omitempty"`
	WhatStruggled    string            `json:"what_struggled,omitempty"`
	GapsRevealed     []string          `json:"gaps_revealed,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	CompletedAt      *time.Time        `json:"completed_at,omitempty"`
}

// Due reports whether an upcoming event's planned date has elapsed.
func (a *ApplicationEvent) Due(now time.Time) bool {
	return a.Status == AppUpcoming && !a.PlannedDate.After(now)
}

// Edge is a typed, directed relation between two graph entities.
type Edge struct {
	ID        string         `json:"id"`
	FromID    string         `json:"from_id"`
	FromType  NodeType       `json:"from_type"`
	ToID      string         `json:"to_id"`
	ToType    NodeType       `json:"to_type"`
	Type      EdgeType       `json:"edge_type"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Metadata keys used on relates_to edges.
const (
	MetaRelationship   = "relationship"
	MetaStrength       = "strength"
	MetaUsedInTeaching = "used_in_teaching"
)

// Strength returns the relates_to strength metadata, or 0.
func (e *Edge) Strength() float64 {
	switch v := e.Metadata[MetaStrength].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

// Relationship returns the free-text relationship label, or "".
func (e *Edge) Relationship() string {
	s, _ := e.Metadata[MetaRelationship].(string)
	return s
}

// UsedInTeaching reports whether the connection was already used to teach.
func (e *Edge) UsedInTeaching() bool {
	b, _ := e.Metadata[MetaUsedInTeaching].(bool)
	return b
}

// Other returns the endpoint of e that is not id.
func (e *Edge) Other(id string) string {
	if e.FromID == id {
		return e.ToID
	}
	return e.FromID
}
