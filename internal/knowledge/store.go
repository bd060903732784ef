// Package knowledge holds the durable learning graph: learners, outcomes,
// concepts, proofs, sessions, application events and the edges between them.
//
// Every Store returns value copies. Callers mutate the copy and call the
// matching Update to persist it.
package knowledge

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is matched by every lookup miss.
var ErrNotFound = errors.New("not found")

// NotFoundError names the entity kind and id that could not be found.
type NotFoundError struct {
	Kind NodeType
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// Is lets errors.Is(err, ErrNotFound) match.
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// NotFound builds a NotFoundError.
func NotFound(kind NodeType, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// EdgeStore persists typed edges.
type EdgeStore interface {
	CreateEdge(ctx context.Context, e *Edge) error
	UpdateEdge(ctx context.Context, e *Edge) error
	// EdgesFrom returns edges leaving nodeID. An empty edgeType matches all.
	EdgesFrom(ctx context.Context, nodeID string, edgeType EdgeType) ([]Edge, error)
	// EdgesTo returns edges arriving at nodeID. An empty edgeType matches all.
	EdgesTo(ctx context.Context, nodeID string, edgeType EdgeType) ([]Edge, error)
}

// Store is the create/get/update contract per entity type.
type Store interface {
	EdgeStore

	GetLearner(ctx context.Context, id string) (*Learner, error)
	CreateLearner(ctx context.Context, l *Learner) error
	UpdateLearner(ctx context.Context, l *Learner) error
	ListLearnerIDs(ctx context.Context) ([]string, error)

	GetOutcome(ctx context.Context, id string) (*Outcome, error)
	CreateOutcome(ctx context.Context, o *Outcome) error
	UpdateOutcome(ctx context.Context, o *Outcome) error

	GetConcept(ctx context.Context, id string) (*Concept, error)
	CreateConcept(ctx context.Context, c *Concept) error
	UpdateConcept(ctx context.Context, c *Concept) error
	// FindConceptByName matches case-insensitively within one learner.
	FindConceptByName(ctx context.Context, learnerID, name string) (*Concept, error)
	ListConcepts(ctx context.Context, learnerID string) ([]Concept, error)

	GetProof(ctx context.Context, id string) (*Proof, error)
	CreateProof(ctx context.Context, p *Proof) error
	ListProofs(ctx context.Context, learnerID string) ([]Proof, error)

	GetSession(ctx context.Context, id string) (*Session, error)
	CreateSession(ctx context.Context, s *Session) error
	UpdateSession(ctx context.Context, s *Session) error
	// LatestSession returns the most recently started session of the learner
	// other than excludeID.
	LatestSession(ctx context.Context, learnerID, excludeID string) (*Session, error)

	GetApplication(ctx context.Context, id string) (*ApplicationEvent, error)
	CreateApplication(ctx context.Context, a *ApplicationEvent) error
	UpdateApplication(ctx context.Context, a *ApplicationEvent) error
	ListApplications(ctx context.Context, learnerID string) ([]ApplicationEvent, error)
}

// withEdges overlays a dedicated EdgeStore on top of a Store.
type withEdges struct {
	Store
	edges EdgeStore
}

// WithEdgeStore returns a Store whose edge operations go to edges and every
// other operation to base.
func WithEdgeStore(base Store, edges EdgeStore) Store {
	if edges == nil {
		return base
	}
	return &withEdges{Store: base, edges: edges}
}

func (w *withEdges) CreateEdge(ctx context.Context, e *Edge) error { return w.edges.CreateEdge(ctx, e) }
func (w *withEdges) UpdateEdge(ctx context.Context, e *Edge) error { return w.edges.UpdateEdge(ctx, e) }

func (w *withEdges) EdgesFrom(ctx context.Context, nodeID string, t EdgeType) ([]Edge, error) {
	return w.edges.EdgesFrom(ctx, nodeID, t)
}

func (w *withEdges) EdgesTo(ctx context.Context, nodeID string, t EdgeType) ([]Edge, error) {
	return w.edges.EdgesTo(ctx, nodeID, t)
}
