package access

import (
	"errors"

	"portaria.org/internal/credential"
	"portaria.org/internal/interlock"
	"portaria.org/internal/visit"
)

// Reason is the machine-readable decision trace attached to every
// authorization outcome. Denials are always specific, never generic.
type Reason string

const (
	// Grants.
	ReasonCredentialValid Reason = "credential_valid"
	ReasonGroupPolicy     Reason = "group_policy_match"
	ReasonExitAllowed     Reason = "exit_allowed"

	// Policy denials.
	ReasonPointUnavailable    Reason = "point_unavailable"
	ReasonNoPolicyConfigured  Reason = "no_policy_configured"
	ReasonOutsideTimeWindow   Reason = "outside_time_window"
	ReasonOutsideWeekday      Reason = "outside_weekday"
	ReasonZoneNotAllowed      Reason = "zone_not_allowed"
	ReasonActorKindNotAllowed Reason = "actor_kind_not_permitted"

	// Credential denials.
	ReasonCredentialNotFound      Reason = "credential_not_found"
	ReasonCredentialNotYetActive  Reason = "credential_not_yet_active"
	ReasonCredentialExpired       Reason = "credential_expired"
	ReasonCredentialExhausted     Reason = "credential_exhausted"
	ReasonCredentialRevoked       Reason = "credential_revoked"
	ReasonCredentialPointMismatch Reason = "credential_point_mismatch"

	// Coordination and hardware failures.
	ReasonInterlockBusyTimeout Reason = "interlock_busy_timeout"
	ReasonActuatorTimeout      Reason = "actuator_timeout"
	ReasonActuatorFault        Reason = "actuator_fault"

	// Visit state machine misuse.
	ReasonNoActiveVisit Reason = "no_active_visit"

	ReasonInternalError Reason = "internal_error"
)

// reasonForError folds a collaborator failure into its decision trace.
// The evaluator is the only layer that performs this conversion.
func reasonForError(err error) Reason {
	switch {
	case errors.Is(err, credential.ErrNotFound):
		return ReasonCredentialNotFound
	case errors.Is(err, credential.ErrNotYetActive):
		return ReasonCredentialNotYetActive
	case errors.Is(err, credential.ErrExpired):
		return ReasonCredentialExpired
	case errors.Is(err, credential.ErrExhausted):
		return ReasonCredentialExhausted
	case errors.Is(err, credential.ErrRevoked):
		return ReasonCredentialRevoked
	case errors.Is(err, credential.ErrPointMismatch):
		return ReasonCredentialPointMismatch
	case errors.Is(err, credential.ErrOutsideWindow):
		return ReasonOutsideTimeWindow
	case errors.Is(err, credential.ErrOutsideDays):
		return ReasonOutsideWeekday
	case errors.Is(err, interlock.ErrBusyTimeout):
		return ReasonInterlockBusyTimeout
	case errors.Is(err, interlock.ErrActuatorTimeout):
		return ReasonActuatorTimeout
	case errors.Is(err, interlock.ErrGatewayFault):
		return ReasonActuatorFault
	case errors.Is(err, visit.ErrNoActiveVisit):
		return ReasonNoActiveVisit
	}
	return ReasonInternalError
}
