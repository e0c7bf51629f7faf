package access

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	ErrPointNotFound = errors.New("access: point not found")
	ErrGroupNotFound = errors.New("access: group not found")
	ErrInvalidPair   = errors.New("access: invalid pair")
	ErrInvalidInput  = errors.New("access: invalid input")
)

// Store is the in-memory policy store: access points, access groups and
// the point-to-group assignment table. Lookups on the evaluation path
// are read-locked; configuration writes are rare and take the write
// lock. Pairing invariants (symmetric, never self-referential, at most
// one partner) are enforced here, at write time, so the evaluation path
// never has to re-check them.
type Store struct {
	mu          sync.RWMutex
	points      map[string]*AccessPoint
	groups      map[string]*AccessGroup
	assignments map[string]map[string]bool // pointID -> groupID set
}

func NewStore() *Store {
	return &Store{
		points:      make(map[string]*AccessPoint),
		groups:      make(map[string]*AccessGroup),
		assignments: make(map[string]map[string]bool),
	}
}

// PutPoint creates or replaces an access point. Pairing is not set
// here; use SetPair so both halves change together.
func (s *Store) PutPoint(ctx context.Context, p AccessPoint) (AccessPoint, error) {
	p.ID = strings.TrimSpace(p.ID)
	if p.ID == "" {
		return AccessPoint{}, fmt.Errorf("%w: point id is required", ErrInvalidInput)
	}
	switch p.Kind {
	case PointSocialDoor, PointServiceDoor, PointVehicleIn, PointVehicleOut, PointTurnstile, PointPedestrianGate:
	default:
		return AccessPoint{}, fmt.Errorf("%w: unsupported point kind %q", ErrInvalidInput, p.Kind)
	}
	if p.Status == "" {
		p.Status = StatusOnline
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.points[p.ID]; ok {
		p.PairID = prev.PairID
		if p.LastHeartbeat.IsZero() {
			p.LastHeartbeat = prev.LastHeartbeat
		}
	} else {
		p.PairID = ""
	}
	s.points[p.ID] = &p
	return p, nil
}

// RemovePoint deletes a point, its assignments and, when paired, the
// partner's back-reference so no dangling pair survives.
func (s *Store) RemovePoint(ctx context.Context, pointID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.points[pointID]
	if !ok {
		return ErrPointNotFound
	}
	if p.PairID != "" {
		if partner, ok := s.points[p.PairID]; ok {
			partner.PairID = ""
		}
	}
	delete(s.points, pointID)
	delete(s.assignments, pointID)
	return nil
}

func (s *Store) Point(ctx context.Context, pointID string) (AccessPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.points[pointID]
	if !ok {
		return AccessPoint{}, ErrPointNotFound
	}
	return *p, nil
}

func (s *Store) ListPoints(ctx context.Context) ([]AccessPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]AccessPoint, 0, len(s.points))
	for _, p := range s.points {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SetPair links two points into an airlock. Both halves must exist, be
// distinct and not already belong to another pair.
func (s *Store) SetPair(ctx context.Context, aID, bID string) error {
	if aID == bID {
		return fmt.Errorf("%w: a point cannot pair with itself", ErrInvalidPair)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.points[aID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPointNotFound, aID)
	}
	b, ok := s.points[bID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPointNotFound, bID)
	}
	if a.PairID != "" && a.PairID != bID {
		return fmt.Errorf("%w: %s is already paired with %s", ErrInvalidPair, aID, a.PairID)
	}
	if b.PairID != "" && b.PairID != aID {
		return fmt.Errorf("%w: %s is already paired with %s", ErrInvalidPair, bID, b.PairID)
	}
	a.PairID = bID
	b.PairID = aID
	return nil
}

// ClearPair unlinks a point and its partner.
func (s *Store) ClearPair(ctx context.Context, pointID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.points[pointID]
	if !ok {
		return ErrPointNotFound
	}
	if p.PairID != "" {
		if partner, ok := s.points[p.PairID]; ok {
			partner.PairID = ""
		}
		p.PairID = ""
	}
	return nil
}

// Partner reports the other half of a point's airlock pair. It has the
// shape the interlock coordinator expects from a PairResolver.
func (s *Store) Partner(pointID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.points[pointID]
	if !ok || p.PairID == "" {
		return "", false
	}
	return p.PairID, true
}

// MarkHeartbeat stamps the controller's last report. A point that was
// offline comes back online; maintenance and fault states need an
// explicit SetStatus to clear.
func (s *Store) MarkHeartbeat(ctx context.Context, pointID string, at time.Time) (AccessPoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.points[pointID]
	if !ok {
		return AccessPoint{}, ErrPointNotFound
	}
	p.LastHeartbeat = at.UTC()
	if p.Status == StatusOffline {
		p.Status = StatusOnline
	}
	return *p, nil
}

func (s *Store) SetStatus(ctx context.Context, pointID string, status PointStatus) (AccessPoint, error) {
	switch status {
	case StatusOnline, StatusOffline, StatusMaintenance, StatusFault:
	default:
		return AccessPoint{}, fmt.Errorf("%w: unsupported status %q", ErrInvalidInput, status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.points[pointID]
	if !ok {
		return AccessPoint{}, ErrPointNotFound
	}
	p.Status = status
	return *p, nil
}

func (s *Store) PutGroup(ctx context.Context, g AccessGroup) (AccessGroup, error) {
	g.ID = strings.TrimSpace(g.ID)
	if g.ID == "" {
		return AccessGroup{}, fmt.Errorf("%w: group id is required", ErrInvalidInput)
	}
	if g.Window != nil && !g.Window.Valid() {
		return AccessGroup{}, fmt.Errorf("%w: window start must precede end", ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[g.ID] = &g
	return g, nil
}

func (s *Store) RemoveGroup(ctx context.Context, groupID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[groupID]; !ok {
		return ErrGroupNotFound
	}
	delete(s.groups, groupID)
	for _, set := range s.assignments {
		delete(set, groupID)
	}
	return nil
}

func (s *Store) Group(ctx context.Context, groupID string) (AccessGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[groupID]
	if !ok {
		return AccessGroup{}, ErrGroupNotFound
	}
	return *g, nil
}

func (s *Store) ListGroups(ctx context.Context) ([]AccessGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]AccessGroup, 0, len(s.groups))
	for _, g := range s.groups {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Assign attaches a group's rules to a point.
func (s *Store) Assign(ctx context.Context, pointID, groupID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.points[pointID]; !ok {
		return ErrPointNotFound
	}
	if _, ok := s.groups[groupID]; !ok {
		return ErrGroupNotFound
	}
	set, ok := s.assignments[pointID]
	if !ok {
		set = make(map[string]bool)
		s.assignments[pointID] = set
	}
	set[groupID] = true
	return nil
}

func (s *Store) Unassign(ctx context.Context, pointID, groupID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.assignments[pointID]
	if !ok || !set[groupID] {
		return ErrGroupNotFound
	}
	delete(set, groupID)
	return nil
}

// GroupsFor returns every group assigned to a point, sorted by id.
func (s *Store) GroupsFor(ctx context.Context, pointID string) ([]AccessGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.points[pointID]; !ok {
		return nil, ErrPointNotFound
	}
	var out []AccessGroup
	for groupID := range s.assignments[pointID] {
		if g, ok := s.groups[groupID]; ok {
			out = append(out, *g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// IsAssigned reports whether a group is attached to a point.
func (s *Store) IsAssigned(ctx context.Context, pointID, groupID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.assignments[pointID][groupID]
}
