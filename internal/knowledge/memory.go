package knowledge

import (
	"context"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store. It backs tests and single-node
// deployments that run without PostgreSQL.
type MemoryStore struct {
	mu           sync.RWMutex
	learners     map[string]*Learner
	outcomes     map[string]*Outcome
	concepts     map[string]*Concept
	proofs       map[string]*Proof
	sessions     map[string]*Session
	applications map[string]*ApplicationEvent
	edges        []*Edge
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		learners:     make(map[string]*Learner),
		outcomes:     make(map[string]*Outcome),
		concepts:     make(map[string]*Concept),
		proofs:       make(map[string]*Proof),
		sessions:     make(map[string]*Session),
		applications: make(map[string]*ApplicationEvent),
	}
}

func newID(id string) string {
	if id != "" {
		return id
	}
	return uuid.New().String()
}

func stamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

// --- Learners ---

func (m *MemoryStore) GetLearner(_ context.Context, id string) (*Learner, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.learners[id]
	if !ok {
		return nil, NotFound(NodeLearner, id)
	}
	return l.Clone(), nil
}

func (m *MemoryStore) CreateLearner(_ context.Context, l *Learner) error {
	l.ID = newID(l.ID)
	l.CreatedAt = stamp(l.CreatedAt)
	l.UpdatedAt = l.CreatedAt
	m.mu.Lock()
	defer m.mu.Unlock()
	m.learners[l.ID] = l.Clone()
	return nil
}

func (m *MemoryStore) UpdateLearner(_ context.Context, l *Learner) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.learners[l.ID]; !ok {
		return NotFound(NodeLearner, l.ID)
	}
	l.UpdatedAt = time.Now().UTC()
	m.learners[l.ID] = l.Clone()
	return nil
}

func (m *MemoryStore) ListLearnerIDs(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := slices.Collect(maps.Keys(m.learners))
	sort.Strings(ids)
	return ids, nil
}

// --- Outcomes ---

func (m *MemoryStore) GetOutcome(_ context.Context, id string) (*Outcome, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.outcomes[id]
	if !ok {
		return nil, NotFound(NodeOutcome, id)
	}
	return o.Clone(), nil
}

func (m *MemoryStore) CreateOutcome(_ context.Context, o *Outcome) error {
	o.ID = newID(o.ID)
	o.CreatedAt = stamp(o.CreatedAt)
	if o.Status == "" {
		o.Status = OutcomeActive
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes[o.ID] = o.Clone()
	return nil
}

func (m *MemoryStore) UpdateOutcome(_ context.Context, o *Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.outcomes[o.ID]; !ok {
		return NotFound(NodeOutcome, o.ID)
	}
	m.outcomes[o.ID] = o.Clone()
	return nil
}

// --- Concepts ---

func (m *MemoryStore) GetConcept(_ context.Context, id string) (*Concept, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.concepts[id]
	if !ok {
		return nil, NotFound(NodeConcept, id)
	}
	return c.Clone(), nil
}

func (m *MemoryStore) CreateConcept(_ context.Context, c *Concept) error {
	c.ID = newID(c.ID)
	c.CreatedAt = stamp(c.CreatedAt)
	c.UpdatedAt = c.CreatedAt
	if c.Status == "" {
		c.Status = ConceptIdentified
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.concepts[c.ID] = c.Clone()
	return nil
}

func (m *MemoryStore) UpdateConcept(_ context.Context, c *Concept) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.concepts[c.ID]; !ok {
		return NotFound(NodeConcept, c.ID)
	}
	c.UpdatedAt = time.Now().UTC()
	m.concepts[c.ID] = c.Clone()
	return nil
}

func (m *MemoryStore) FindConceptByName(_ context.Context, learnerID, name string) (*Concept, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	want := strings.TrimSpace(name)
	for _, c := range m.concepts {
		if c.LearnerID == learnerID && strings.EqualFold(strings.TrimSpace(c.Name), want) {
			return c.Clone(), nil
		}
	}
	return nil, NotFound(NodeConcept, name)
}

func (m *MemoryStore) ListConcepts(_ context.Context, learnerID string) ([]Concept, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Concept
	for _, c := range m.concepts {
		if c.LearnerID == learnerID {
			out = append(out, *c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// --- Proofs ---

func (m *MemoryStore) GetProof(_ context.Context, id string) (*Proof, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.proofs[id]
	if !ok {
		return nil, NotFound(NodeProof, id)
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) CreateProof(_ context.Context, p *Proof) error {
	p.ID = newID(p.ID)
	p.EarnedAt = stamp(p.EarnedAt)
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.proofs[p.ID] = &cp
	return nil
}

func (m *MemoryStore) ListProofs(_ context.Context, learnerID string) ([]Proof, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Proof
	for _, p := range m.proofs {
		if p.LearnerID == learnerID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EarnedAt.Before(out[j].EarnedAt) })
	return out, nil
}

// --- Sessions ---

func (m *MemoryStore) GetSession(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, NotFound(NodeSession, id)
	}
	return s.Clone(), nil
}

func (m *MemoryStore) CreateSession(_ context.Context, s *Session) error {
	s.ID = newID(s.ID)
	s.StartedAt = stamp(s.StartedAt)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s.Clone()
	return nil
}

func (m *MemoryStore) UpdateSession(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; !ok {
		return NotFound(NodeSession, s.ID)
	}
	m.sessions[s.ID] = s.Clone()
	return nil
}

func (m *MemoryStore) LatestSession(_ context.Context, learnerID, excludeID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *Session
	for _, s := range m.sessions {
		if s.LearnerID != learnerID || s.ID == excludeID {
			continue
		}
		if latest == nil || s.StartedAt.After(latest.StartedAt) {
			latest = s
		}
	}
	if latest == nil {
		return nil, NotFound(NodeSession, "latest:"+learnerID)
	}
	return latest.Clone(), nil
}

// --- Applications ---

func (m *MemoryStore) GetApplication(_ context.Context, id string) (*ApplicationEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.applications[id]
	if !ok {
		return nil, NotFound(NodeApplication, id)
	}
	return a.Clone(), nil
}

func (m *MemoryStore) CreateApplication(_ context.Context, a *ApplicationEvent) error {
	a.ID = newID(a.ID)
	a.CreatedAt = stamp(a.CreatedAt)
	if a.Status == "" {
		a.Status = AppUpcoming
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applications[a.ID] = a.Clone()
	return nil
}

func (m *MemoryStore) UpdateApplication(_ context.Context, a *ApplicationEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.applications[a.ID]; !ok {
		return NotFound(NodeApplication, a.ID)
	}
	m.applications[a.ID] = a.Clone()
	return nil
}

func (m *MemoryStore) ListApplications(_ context.Context, learnerID string) ([]ApplicationEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ApplicationEvent
	for _, a := range m.applications {
		if a.LearnerID == learnerID {
			out = append(out, *a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlannedDate.Before(out[j].PlannedDate) })
	return out, nil
}

// --- Edges ---

func (m *MemoryStore) CreateEdge(_ context.Context, e *Edge) error {
	e.ID = newID(e.ID)
	e.CreatedAt = stamp(e.CreatedAt)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edges = append(m.edges, e.Clone())
	return nil
}

func (m *MemoryStore) UpdateEdge(_ context.Context, e *Edge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.edges {
		if existing.ID == e.ID {
			m.edges[i] = e.Clone()
			return nil
		}
	}
	return NotFound("edge", e.ID)
}

func (m *MemoryStore) EdgesFrom(_ context.Context, nodeID string, t EdgeType) ([]Edge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Edge
	for _, e := range m.edges {
		if e.FromID == nodeID && (t == "" || e.Type == t) {
			out = append(out, *e.Clone())
		}
	}
	return out, nil
}

func (m *MemoryStore) EdgesTo(_ context.Context, nodeID string, t EdgeType) ([]Edge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Edge
	for _, e := range m.edges {
		if e.ToID == nodeID && (t == "" || e.Type == t) {
			out = append(out, *e.Clone())
		}
	}
	return out, nil
}
