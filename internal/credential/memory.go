package credential

import (
	"context"
	"strings"
	"sync"
	"time"

	"portaria.org/internal/ids"
	"portaria.org/internal/obs"
	"portaria.org/internal/schedule"
)

// InMemory implements Service with in-process concurrency safety.
type InMemory struct {
	mu      sync.Mutex
	byID    map[string]*Credential
	byToken map[string]string // token -> id
	now     func() time.Time
}

var _ Service = (*InMemory)(nil)

// NewInMemory creates an empty credential store.
func NewInMemory() *InMemory {
	return &InMemory{
		byID:    make(map[string]*Credential),
		byToken: make(map[string]string),
		now:     time.Now,
	}
}

// SetClock overrides the time source, for tests.
func (s *InMemory) SetClock(fn func() time.Time) {
	if fn != nil {
		s.now = fn
	}
}

func (s *InMemory) Issue(ctx context.Context, req IssueRequest) (Credential, error) {
	if err := req.Validate(); err != nil {
		return Credential{}, err
	}
	token, err := NewToken()
	if err != nil {
		return Credential{}, err
	}

	now := s.now().UTC()
	status := StatusPending
	if schedule.SameOrAfterDay(now, req.StartDate) {
		status = StatusActive
	}

	c := Credential{
		ID:           ids.New(),
		UnitID:       strings.TrimSpace(req.UnitID),
		IssuerID:     strings.TrimSpace(req.IssuerID),
		GuestName:    strings.TrimSpace(req.GuestName),
		GuestKind:    strings.TrimSpace(strings.ToLower(req.GuestKind)),
		Document:     strings.TrimSpace(req.Document),
		VehiclePlate: normalizePlate(req.VehiclePlate),
		StartDate:    req.StartDate,
		EndDate:      req.EndDate,
		Window:       req.Window,
		Weekdays:     req.Weekdays,
		MaxUses:      req.MaxUses,
		PointID:      strings.TrimSpace(req.PointID),
		Token:        token,
		Status:       status,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	s.mu.Lock()
	s.byID[c.ID] = &c
	s.byToken[c.Token] = c.ID
	s.publishActiveLocked()
	s.mu.Unlock()
	return c, nil
}

func (s *InMemory) Get(ctx context.Context, id string) (Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return Credential{}, ErrNotFound
	}
	return *c, nil
}

func (s *InMemory) ListByUnit(ctx context.Context, unitID string) ([]Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Credential
	for _, c := range s.byID {
		if c.UnitID == unitID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (s *InMemory) FindByToken(ctx context.Context, token string) (Credential, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Credential{}, ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byToken[token]
	if !ok {
		return Credential{}, ErrNotFound
	}
	return *s.byID[id], nil
}

func (s *InMemory) Validate(ctx context.Context, token, atPointID string, at time.Time) (Credential, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Credential{}, ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byToken[token]
	if !ok {
		return Credential{}, ErrNotFound
	}
	c := s.byID[id]

	newStatus, err := Check(*c, atPointID, at)
	if newStatus != c.Status {
		// Lazy pending->active promotion and expiry happen on read.
		c.Status = newStatus
		c.UpdatedAt = s.now().UTC()
		s.publishActiveLocked()
	}
	if err != nil {
		return *c, err
	}
	return *c, nil
}

func (s *InMemory) Consume(ctx context.Context, id string) (Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[id]
	if !ok {
		return Credential{}, ErrNotFound
	}
	switch c.Status {
	case StatusCancelled:
		return *c, ErrRevoked
	case StatusExpired:
		return *c, ErrExpired
	case StatusExhausted:
		return *c, ErrExhausted
	case StatusPending:
		// Validate promotes pending first; a direct Consume on a
		// pending credential is refused, matching the Postgres guard.
		return *c, ErrNotYetActive
	}
	if c.UsesConsumed >= c.MaxUses {
		return *c, ErrExhausted
	}
	c.UsesConsumed++
	if c.UsesConsumed >= c.MaxUses {
		c.Status = StatusExhausted
	}
	c.UpdatedAt = s.now().UTC()
	s.publishActiveLocked()
	return *c, nil
}

func (s *InMemory) Revoke(ctx context.Context, id string) (Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[id]
	if !ok {
		return Credential{}, ErrNotFound
	}
	if c.Status != StatusCancelled {
		c.Status = StatusCancelled
		c.UpdatedAt = s.now().UTC()
		s.publishActiveLocked()
	}
	return *c, nil
}

func (s *InMemory) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expired := 0
	for _, c := range s.byID {
		if c.Status != StatusActive && c.Status != StatusPending {
			continue
		}
		if !now.Before(endOfDay(c.EndDate)) {
			c.Status = StatusExpired
			c.UpdatedAt = s.now().UTC()
			expired++
		}
	}
	if expired > 0 {
		s.publishActiveLocked()
	}
	return expired, nil
}

func (s *InMemory) publishActiveLocked() {
	active := 0
	for _, c := range s.byID {
		if c.Status == StatusActive {
			active++
		}
	}
	obs.SetActiveCredentials(active)
}

func normalizePlate(plate string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(plate), "-", ""))
}

func endOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location()).AddDate(0, 0, 1)
}
