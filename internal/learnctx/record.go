package learnctx

import (
	"slices"

	"github.com/nidhogg/nuka-tutor/internal/knowledge"
)

// The Record methods keep a loaded FullContext in step with what a turn
// committed, so later turns see it without re-reading the store.

// RecordConcept stores a created or updated concept. linkedToOutcome adds it
// to the active outcome's concepts if it is not there yet.
func (fc *FullContext) RecordConcept(c knowledge.Concept, linkedToOutcome bool) {
	fc.Concepts[c.ID] = c
	replaced := false
	for i := range fc.OutcomeConcepts {
		if fc.OutcomeConcepts[i].ID == c.ID {
			fc.OutcomeConcepts[i] = c
			replaced = true
		}
	}
	if linkedToOutcome && !replaced && fc.ActiveOutcome != nil {
		fc.OutcomeConcepts = append(fc.OutcomeConcepts, c)
	}
	for i := range fc.ProvenConcepts {
		if fc.ProvenConcepts[i].Concept.ID == c.ID {
			fc.ProvenConcepts[i].Concept = c
		}
	}
	if !slices.Contains(fc.Session.ConceptsExplored, c.ID) {
		fc.Session.ConceptsExplored = append(fc.Session.ConceptsExplored, c.ID)
	}
}

// RecordProof adds p to its concept, marks the concept proven and adds the
// proof to the session.
func (fc *FullContext) RecordProof(c knowledge.Concept, p knowledge.Proof) {
	fc.RecordConcept(c, false)
	fc.Session.ProofsEarned = append(fc.Session.ProofsEarned, p.ID)
	if pc, ok := fc.Proven(c.ID); ok {
		pc.Proofs = append(pc.Proofs, p)
		return
	}
	fc.ProvenConcepts = append(fc.ProvenConcepts, ProvenConcept{Concept: c, Proofs: []knowledge.Proof{p}})
}

// RecordRelation inserts or replaces a relates_to edge in the index.
func (fc *FullContext) RecordRelation(e knowledge.Edge) {
	found := false
	for _, id := range []string{e.FromID, e.ToID} {
		edges := fc.Relations[id]
		for i := range edges {
			if edges[i].ID == e.ID {
				edges[i] = e
				found = true
			}
		}
	}
	if !found {
		fc.indexRelation(e)
	}
}

// RecordApplication files a created or advanced application event under the
// list matching its status.
func (fc *FullContext) RecordApplication(a knowledge.ApplicationEvent) {
	drop := func(list []knowledge.ApplicationEvent) []knowledge.ApplicationEvent {
		return slices.DeleteFunc(list, func(x knowledge.ApplicationEvent) bool { return x.ID == a.ID })
	}
	fc.PendingFollowups = drop(fc.PendingFollowups)
	fc.CompletedApplications = drop(fc.CompletedApplications)

	switch a.Status {
	case knowledge.AppPendingFollowup:
		fc.PendingFollowups = append(fc.PendingFollowups, a)
		SortFollowups(fc.PendingFollowups)
	case knowledge.AppCompleted:
		fc.CompletedApplications = append([]knowledge.ApplicationEvent{a}, fc.CompletedApplications...)
	}
}

// ClearActiveOutcome drops the active outcome after it was achieved.
func (fc *FullContext) ClearActiveOutcome() {
	fc.ActiveOutcome = nil
	fc.OutcomeConcepts = nil
	fc.Learner.ActiveOutcomeID = ""
}

// SetActiveOutcome installs a newly discovered outcome.
func (fc *FullContext) SetActiveOutcome(o knowledge.Outcome) {
	fc.ActiveOutcome = &o
	fc.OutcomeConcepts = nil
	fc.Learner.ActiveOutcomeID = o.ID
	fc.Session.OutcomeID = o.ID
}

// Proven returns the proven concept with id, if any.
func (fc *FullContext) Proven(id string) (*ProvenConcept, bool) {
	for i := range fc.ProvenConcepts {
		if fc.ProvenConcepts[i].Concept.ID == id {
			return &fc.ProvenConcepts[i], true
		}
	}
	return nil, false
}
