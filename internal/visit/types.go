// Package visit tracks one physical entry-to-exit episode per actor and
// owns the append-only access log.
package visit

import (
	"errors"
	"time"
)

// State is the visit lifecycle position. The only paths are
// awaiting -> in_progress -> finished and awaiting -> denied.
type State string

const (
	StateAwaiting   State = "awaiting"
	StateInProgress State = "in_progress"
	StateFinished   State = "finished"
	StateDenied     State = "denied"
)

var (
	ErrNotFound          = errors.New("visit: not found")
	ErrNoActiveVisit     = errors.New("visit: no active visit")
	ErrInvalidTransition = errors.New("visit: invalid transition")
)

// Visit is created on arrival and closed, never erased.
type Visit struct {
	ID           string     `json:"id"`
	ActorID      string     `json:"actor_id"`
	ActorKind    string     `json:"actor_kind"`
	CredentialID string     `json:"credential_id,omitempty"`
	UnitID       string     `json:"unit_id"`
	State        State      `json:"state"`
	CreatedAt    time.Time  `json:"created_at"`
	EnteredAt    *time.Time `json:"entered_at,omitempty"`
	ExitedAt     *time.Time `json:"exited_at,omitempty"`
	EntryPointID string     `json:"entry_point_id,omitempty"`
	ExitPointID  string     `json:"exit_point_id,omitempty"`
	DenialReason string     `json:"denial_reason,omitempty"`
}

// LogEntry is one immutable row per granted or denied passage attempt.
// Sequence is assigned by the ledger and is strictly monotonic.
type LogEntry struct {
	ID           string    `json:"id"`
	Sequence     uint64    `json:"sequence"`
	At           time.Time `json:"at"`
	PointID      string    `json:"point_id"`
	ActorID      string    `json:"actor_id,omitempty"`
	ActorKind    string    `json:"actor_kind,omitempty"`
	UnitID       string    `json:"unit_id,omitempty"`
	VisitID      string    `json:"visit_id,omitempty"`
	CredentialID string    `json:"credential_id,omitempty"`
	Direction    string    `json:"direction"`
	Allowed      bool      `json:"allowed"`
	Reason       string    `json:"reason,omitempty"`
}
