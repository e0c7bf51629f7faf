// Package credential manages pre-authorizations: time-boxed, usage-limited
// entry grants redeemed through an opaque QR token.
package credential

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"portaria.org/internal/schedule"
)

// Status is the lifecycle state of a credential.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusExhausted Status = "exhausted"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

var (
	ErrNotFound      = errors.New("credential: not found")
	ErrNotYetActive  = errors.New("credential: not yet active")
	ErrExpired       = errors.New("credential: expired")
	ErrExhausted     = errors.New("credential: exhausted")
	ErrRevoked       = errors.New("credential: revoked")
	ErrPointMismatch = errors.New("credential: bound to a different access point")
	ErrOutsideWindow = errors.New("credential: outside daily time window")
	ErrOutsideDays   = errors.New("credential: outside permitted weekdays")
	ErrInvalidInput  = errors.New("credential: invalid input")
)

// Credential is a pre-authorization issued ahead of arrival.
type Credential struct {
	ID           string            `json:"id"`
	UnitID       string            `json:"unit_id"`
	IssuerID     string            `json:"issuer_id"` // resident who pre-authorized the visit
	GuestName    string            `json:"guest_name"`
	GuestKind    string            `json:"guest_kind"` // visitor, provider or courier
	Document     string            `json:"document,omitempty"`
	VehiclePlate string            `json:"vehicle_plate,omitempty"`
	StartDate    time.Time         `json:"start_date"`
	EndDate      time.Time         `json:"end_date"`
	Window       *schedule.Window  `json:"window,omitempty"`
	Weekdays     schedule.Weekdays `json:"weekdays,omitempty"`
	MaxUses      int               `json:"max_uses"`
	UsesConsumed int               `json:"uses_consumed"`
	PointID      string            `json:"point_id,omitempty"` // empty = any permitted point
	Token        string            `json:"token"`
	Status       Status            `json:"status"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// SingleUse reports whether the credential carries exactly one use.
func (c Credential) SingleUse() bool { return c.MaxUses == 1 }

// IssueRequest carries the fields needed to create a credential.
type IssueRequest struct {
	UnitID       string            `json:"unit_id"`
	IssuerID     string            `json:"issuer_id"`
	GuestName    string            `json:"guest_name"`
	GuestKind    string            `json:"guest_kind"`
	Document     string            `json:"document"`
	VehiclePlate string            `json:"vehicle_plate"`
	StartDate    time.Time         `json:"start_date"`
	EndDate      time.Time         `json:"end_date"`
	Window       *schedule.Window  `json:"window"`
	Weekdays     schedule.Weekdays `json:"weekdays"`
	MaxUses      int               `json:"max_uses"`
	PointID      string            `json:"point_id"`
}

// Validate checks an issue request before any store work happens.
func (r IssueRequest) Validate() error {
	if strings.TrimSpace(r.UnitID) == "" {
		return fmt.Errorf("%w: unit_id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(r.GuestName) == "" {
		return fmt.Errorf("%w: guest_name is required", ErrInvalidInput)
	}
	switch strings.TrimSpace(strings.ToLower(r.GuestKind)) {
	case "visitor", "provider", "courier":
	default:
		return fmt.Errorf("%w: unsupported guest_kind %q", ErrInvalidInput, r.GuestKind)
	}
	if r.StartDate.IsZero() || r.EndDate.IsZero() {
		return fmt.Errorf("%w: start_date and end_date are required", ErrInvalidInput)
	}
	if !schedule.SameOrAfterDay(r.EndDate, r.StartDate) {
		return fmt.Errorf("%w: end_date precedes start_date", ErrInvalidInput)
	}
	if r.Window != nil && !r.Window.Valid() {
		return fmt.Errorf("%w: daily window start must precede end", ErrInvalidInput)
	}
	if r.MaxUses < 1 {
		return fmt.Errorf("%w: max_uses must be at least 1", ErrInvalidInput)
	}
	return nil
}

// Service defines credential lifecycle operations.
type Service interface {
	Issue(ctx context.Context, req IssueRequest) (Credential, error)
	Get(ctx context.Context, id string) (Credential, error)
	ListByUnit(ctx context.Context, unitID string) ([]Credential, error)
	// FindByToken resolves a token regardless of status. Exit scans use
	// it so an already-exhausted single-use credential can still leave.
	FindByToken(ctx context.Context, token string) (Credential, error)
	// Validate resolves the token and checks every redemption condition.
	// atPointID may be empty when the scan channel does not know its point.
	Validate(ctx context.Context, token, atPointID string, at time.Time) (Credential, error)
	// Consume atomically increments the usage counter. Concurrent calls on
	// the same credential never push usesConsumed past maxUses.
	Consume(ctx context.Context, id string) (Credential, error)
	Revoke(ctx context.Context, id string) (Credential, error)
	// ExpireDue transitions credentials whose end date has passed to
	// expired, returning how many were affected.
	ExpireDue(ctx context.Context, now time.Time) (int, error)
}

const tokenEntropyBytes = 24

// NewToken returns an opaque unguessable token for the QR payload.
func NewToken() (string, error) {
	raw := make([]byte, tokenEntropyBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Check evaluates every redemption condition against c without mutating
// it. It returns the status the credential should hold after lazy
// promotion/expiry (StatusActive, StatusExpired, or c.Status unchanged)
// and the first failed condition, in the fixed order: status, date range,
// daily window, weekday, point binding, usage cap.
//
// Both the in-memory and the Postgres store run their Validate through
// this single implementation.
func Check(c Credential, atPointID string, at time.Time) (Status, error) {
	status := c.Status

	switch c.Status {
	case StatusCancelled:
		return status, ErrRevoked
	case StatusExhausted:
		return status, ErrExhausted
	case StatusExpired:
		return status, ErrExpired
	case StatusPending:
		if !schedule.SameOrAfterDay(at, c.StartDate) {
			return status, ErrNotYetActive
		}
		status = StatusActive
	case StatusActive:
	default:
		return status, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, c.Status)
	}

	if !schedule.SameOrAfterDay(at, c.StartDate) {
		return status, ErrNotYetActive
	}
	if !schedule.SameOrBeforeDay(at, c.EndDate) {
		return StatusExpired, ErrExpired
	}
	if c.Window != nil && !c.Window.Contains(at) {
		return status, ErrOutsideWindow
	}
	if !c.Weekdays.Allows(at.Weekday()) {
		return status, ErrOutsideDays
	}
	if c.PointID != "" && atPointID != "" && c.PointID != atPointID {
		return status, ErrPointMismatch
	}
	if c.UsesConsumed >= c.MaxUses {
		return status, ErrExhausted
	}
	return status, nil
}
