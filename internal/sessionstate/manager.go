package sessionstate

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/nidhogg/nuka-tutor/internal/input"
	"github.com/nidhogg/nuka-tutor/internal/intent"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// Snapshotter persists states outside the process. Load returns (nil, nil)
// when no snapshot exists.
type Snapshotter interface {
	Save(ctx context.Context, s *State) error
	Load(ctx context.Context, sessionID string) (*State, error)
	Delete(ctx context.Context, sessionID string) error
}

type entry struct {
	mu    sync.Mutex
	state *State
	// removed is set by Clear under mu; holders of a removed entry retry.
	removed bool
}

// Manager is a session-keyed table of states. Access to one key is mutually
// exclusive; different keys never contend beyond the table lookup.
type Manager struct {
	mu      sync.Mutex
	entries map[string]*entry
	snap    Snapshotter
	now     func() time.Time
	logger  *zap.Logger
}

// NewManager creates a Manager. snap may be nil.
func NewManager(snap Snapshotter, logger *zap.Logger) *Manager {
	return &Manager{
		entries: make(map[string]*entry),
		snap:    snap,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  logger,
	}
}

// entry returns the slot for id, creating it lazily.
func (m *Manager) entry(id string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		e = &entry{}
		m.entries[id] = e
	}
	return e
}

// lock returns the live slot for id with its mutex held.
func (m *Manager) lock(id string) *entry {
	for {
		e := m.entry(id)
		e.mu.Lock()
		if !e.removed {
			return e
		}
		e.mu.Unlock()
	}
}

// load fills e.state on first use, restoring a snapshot when one exists.
// Caller holds e.mu.
func (m *Manager) load(ctx context.Context, id string, e *entry) {
	if e.state != nil {
		return
	}
	if m.snap != nil {
		s, err := m.snap.Load(ctx, id)
		if err != nil {
			m.logger.Warn("session state snapshot load failed", zap.String("session", id), zap.Error(err))
		} else if s != nil {
			e.state = s
			return
		}
	}
	e.state = newState(id, m.now())
}

// Get returns a copy of the state of id, creating it if needed.
func (m *Manager) Get(ctx context.Context, id string) *State {
	e := m.lock(id)
	defer e.mu.Unlock()
	m.load(ctx, id, e)
	return e.state.Clone()
}

// Update applies fn to the state of id under its key lock, stamps
// last_activity, snapshots, and returns a copy of the result.
func (m *Manager) Update(ctx context.Context, id string, fn func(s *State)) *State {
	e := m.lock(id)
	defer e.mu.Unlock()
	m.load(ctx, id, e)
	fn(e.state)
	e.state.LastActivity = m.now()
	out := e.state.Clone()
	if m.snap != nil {
		if err := m.snap.Save(ctx, out); err != nil {
			m.logger.Warn("session state snapshot save failed", zap.String("session", id), zap.Error(err))
		}
	}
	return out
}

// Clear drops the state of id and its snapshot. The next reference
// recreates it empty; an Update already waiting on the old state applies to
// the new one.
func (m *Manager) Clear(ctx context.Context, id string) {
	e := m.lock(id)
	defer e.mu.Unlock()
	e.removed = true
	m.mu.Lock()
	delete(m.entries, id)
	m.mu.Unlock()
	if m.snap != nil {
		if err := m.snap.Delete(ctx, id); err != nil {
			m.logger.Warn("session state snapshot delete failed", zap.String("session", id), zap.Error(err))
		}
	}
}

// SetModality replaces the modality preference.
func (m *Manager) SetModality(ctx context.Context, id string, mod input.Modality) *State {
	return m.Update(ctx, id, func(s *State) { s.ModalityPreference = mod })
}

// AppendMessage records one modality-tagged message.
func (m *Manager) AppendMessage(ctx context.Context, id, role, content string, mod input.Modality) *State {
	return m.Update(ctx, id, func(s *State) {
		s.Messages = append(s.Messages, Message{
			ID:        ulid.Make().String(),
			Role:      role,
			Content:   content,
			Modality:  mod,
			Timestamp: m.now(),
		})
	})
}

// MergeCollected layers data over the pending request for in, starting a new
// request when none exists or it belongs to another intent. Check-in fields
// also land in the check-in data.
func (m *Manager) MergeCollected(ctx context.Context, id string, in intent.Intent, data map[string]any) *State {
	return m.Update(ctx, id, func(s *State) {
		if in == intent.CheckIn {
			s.CheckInData.Apply(data)
		}
		p := s.Pending
		if p == nil || p.Intent != in {
			p = &PendingDataRequest{Intent: in, CollectedData: map[string]any{}}
		}
		if p.CollectedData == nil {
			p.CollectedData = map[string]any{}
		}
		maps.Copy(p.CollectedData, data)
		res := intent.SchemaFor(in).Validate(p.CollectedData)
		p.MissingFields = res.MissingFields
		p.ValidationErrors = res.ValidationErrors
		p.UpdatedAt = m.now()
		s.Pending = p
	})
}

// Prefill returns everything already known for in, regardless of the
// modality it was collected through.
func (m *Manager) Prefill(ctx context.Context, id string, in intent.Intent) map[string]any {
	s := m.Get(ctx, id)
	out := map[string]any{}
	if in == intent.CheckIn {
		maps.Copy(out, s.CheckInData.Fields())
	}
	if s.Pending != nil && s.Pending.Intent == in {
		maps.Copy(out, s.Pending.CollectedData)
	}
	return out
}

// CompleteCheckIn stores the final check-in values and marks it done.
func (m *Manager) CompleteCheckIn(ctx context.Context, id string, data map[string]any) *State {
	return m.Update(ctx, id, func(s *State) {
		s.CheckInData.Apply(data)
		s.CheckInComplete = true
	})
}

// GetPending returns a copy of the pending request of id.
func (m *Manager) GetPending(ctx context.Context, id string) (*PendingDataRequest, bool) {
	s := m.Get(ctx, id)
	return s.Pending, s.Pending != nil
}

// PutPending stores or replaces the pending request of id.
func (m *Manager) PutPending(ctx context.Context, id string, p *PendingDataRequest) {
	m.Update(ctx, id, func(s *State) {
		cp := p.Clone()
		cp.UpdatedAt = m.now()
		s.Pending = cp
	})
}

// ClearPending discards the pending request of id.
func (m *Manager) ClearPending(ctx context.Context, id string) {
	m.Update(ctx, id, func(s *State) { s.Pending = nil })
}
