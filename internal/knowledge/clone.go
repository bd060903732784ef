package knowledge

import (
	"maps"
	"slices"
	"time"
)

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Clone returns a deep copy of l.
func (l *Learner) Clone() *Learner {
	cp := *l
	cp.Insights.Notes = slices.Clone(l.Insights.Notes)
	return &cp
}

// Clone returns a deep copy of o.
func (o *Outcome) Clone() *Outcome {
	cp := *o
	cp.AchievedAt = cloneTime(o.AchievedAt)
	return &cp
}

// Clone returns a deep copy of c.
func (c *Concept) Clone() *Concept {
	cp := *c
	cp.UnderstoodAt = cloneTime(c.UnderstoodAt)
	return &cp
}

// Clone returns a deep copy of s.
func (s *Session) Clone() *Session {
	cp := *s
	cp.Messages = slices.Clone(s.Messages)
	cp.ConceptsExplored = slices.Clone(s.ConceptsExplored)
	cp.ProofsEarned = slices.Clone(s.ProofsEarned)
	cp.EndedAt = cloneTime(s.EndedAt)
	return &cp
}

// Clone returns a deep copy of a.
func (a *ApplicationEvent) Clone() *ApplicationEvent {
	cp := *a
	cp.ConceptIDs = slices.Clone(a.ConceptIDs)
	cp.GapsRevealed = slices.Clone(a.GapsRevealed)
	cp.CompletedAt = cloneTime(a.CompletedAt)
	return &cp
}

// Clone returns a copy of e with its own metadata map.
func (e *Edge) Clone() *Edge {
	cp := *e
	cp.Metadata = maps.Clone(e.Metadata)
	return &cp
}
