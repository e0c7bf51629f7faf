package visit

import (
	"context"
	"sync"
	"time"

	"portaria.org/internal/ids"
)

// Ledger owns visits and the access log.
//
// Callers that need the ordering guarantee between a log row and the
// visit transition it records must Append the entry before applying the
// transition: the log is then visible no later than the state change.
type Ledger interface {
	Begin(ctx context.Context, actorID, actorKind, credentialID, unitID string, at time.Time) (Visit, error)
	// Enter moves awaiting -> in_progress, stamping entry time and point.
	Enter(ctx context.Context, visitID, pointID string, at time.Time) (Visit, error)
	// Deny moves awaiting -> denied. The visit becomes terminal; a retry
	// needs a fresh visit.
	Deny(ctx context.Context, visitID, reason string, at time.Time) (Visit, error)
	// Finish moves in_progress -> finished, stamping exit time and point.
	// Any other source state yields ErrNoActiveVisit without mutation.
	Finish(ctx context.Context, visitID, pointID string, at time.Time) (Visit, error)
	Get(ctx context.Context, visitID string) (Visit, error)
	// InProgressForActor resolves the actor's current open visit.
	InProgressForActor(ctx context.Context, actorID string) (Visit, error)
	// List filters by unit and/or state; empty filters match everything.
	List(ctx context.Context, unitID string, state State) ([]Visit, error)

	Append(ctx context.Context, e LogEntry) (LogEntry, error)
	Entries(ctx context.Context, limit int, afterSeq uint64) ([]LogEntry, uint64, error)
}

// InMemory implements Ledger with in-process concurrency safety.
type InMemory struct {
	mu         sync.Mutex
	visits     map[string]*Visit
	inProgress map[string]string // actorID -> visitID
	seq        uint64
	entries    []LogEntry
}

var _ Ledger = (*InMemory)(nil)

// NewInMemory creates an empty ledger.
func NewInMemory() *InMemory {
	return &InMemory{
		visits:     make(map[string]*Visit),
		inProgress: make(map[string]string),
	}
}

func (s *InMemory) Begin(ctx context.Context, actorID, actorKind, credentialID, unitID string, at time.Time) (Visit, error) {
	v := Visit{
		ID:           ids.New(),
		ActorID:      actorID,
		ActorKind:    actorKind,
		CredentialID: credentialID,
		UnitID:       unitID,
		State:        StateAwaiting,
		CreatedAt:    at,
	}
	s.mu.Lock()
	s.visits[v.ID] = &v
	s.mu.Unlock()
	return v, nil
}

func (s *InMemory) Enter(ctx context.Context, visitID, pointID string, at time.Time) (Visit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.visits[visitID]
	if !ok {
		return Visit{}, ErrNotFound
	}
	if v.State != StateAwaiting {
		return *v, ErrInvalidTransition
	}
	entered := at
	v.State = StateInProgress
	v.EnteredAt = &entered
	v.EntryPointID = pointID
	if v.ActorID != "" {
		s.inProgress[v.ActorID] = v.ID
	}
	return *v, nil
}

func (s *InMemory) Deny(ctx context.Context, visitID, reason string, at time.Time) (Visit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.visits[visitID]
	if !ok {
		return Visit{}, ErrNotFound
	}
	if v.State != StateAwaiting {
		return *v, ErrInvalidTransition
	}
	v.State = StateDenied
	v.DenialReason = reason
	return *v, nil
}

func (s *InMemory) Finish(ctx context.Context, visitID, pointID string, at time.Time) (Visit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.visits[visitID]
	if !ok {
		return Visit{}, ErrNotFound
	}
	if v.State != StateInProgress {
		return *v, ErrNoActiveVisit
	}
	exited := at
	v.State = StateFinished
	v.ExitedAt = &exited
	v.ExitPointID = pointID
	if s.inProgress[v.ActorID] == v.ID {
		delete(s.inProgress, v.ActorID)
	}
	return *v, nil
}

func (s *InMemory) Get(ctx context.Context, visitID string) (Visit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.visits[visitID]
	if !ok {
		return Visit{}, ErrNotFound
	}
	return *v, nil
}

func (s *InMemory) InProgressForActor(ctx context.Context, actorID string) (Visit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.inProgress[actorID]
	if !ok {
		return Visit{}, ErrNoActiveVisit
	}
	return *s.visits[id], nil
}

func (s *InMemory) List(ctx context.Context, unitID string, state State) ([]Visit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Visit
	for _, v := range s.visits {
		if unitID != "" && v.UnitID != unitID {
			continue
		}
		if state != "" && v.State != state {
			continue
		}
		out = append(out, *v)
	}
	return out, nil
}

func (s *InMemory) Append(ctx context.Context, e LogEntry) (LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	e.ID = ids.New()
	e.Sequence = s.seq
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	s.entries = append(s.entries, e)
	return e, nil
}

func (s *InMemory) Entries(ctx context.Context, limit int, afterSeq uint64) ([]LogEntry, uint64, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []LogEntry
	var last uint64
	for _, e := range s.entries {
		if e.Sequence <= afterSeq {
			continue
		}
		res = append(res, e)
		last = e.Sequence
		if len(res) >= limit {
			break
		}
	}
	return res, last, nil
}
