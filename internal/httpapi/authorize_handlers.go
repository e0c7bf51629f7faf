package httpapi

import (
	"net/http"
	"strings"
	"time"

	"portaria.org/internal/access"
	"portaria.org/internal/audit"
)

type authorizeRequest struct {
	Actor     access.Actor `json:"actor"`
	PointID   string       `json:"point_id"`
	Token     string       `json:"token,omitempty"`
	Direction string       `json:"direction,omitempty"`
	At        time.Time    `json:"at,omitempty"`
}

// handleAuthorize is the scan endpoint: gate controllers post every
// arrival here and actuate on the decision. Denials are still HTTP 200;
// the decision payload carries the outcome.
func (a *API) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req authorizeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.PointID) == "" {
		writeError(w, r, http.StatusBadRequest, "point_id is required")
		return
	}
	switch req.Direction {
	case "", access.DirectionEntry, access.DirectionExit:
	default:
		writeError(w, r, http.StatusBadRequest, "direction must be entry or exit")
		return
	}
	if strings.TrimSpace(req.Token) == "" && strings.TrimSpace(req.Actor.ID) == "" {
		writeError(w, r, http.StatusBadRequest, "either a credential token or an actor is required")
		return
	}

	decision, err := a.deps.Evaluator.Authorize(r.Context(), access.Request{
		Actor:     req.Actor,
		PointID:   req.PointID,
		Token:     req.Token,
		Direction: req.Direction,
		At:        req.At,
	})
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	_ = audit.LogEvent(r.Context(), "access.decision", map[string]any{
		"point_id": req.PointID,
		"allow":    decision.Allow,
		"reason":   string(decision.Reason),
		"visit_id": decision.VisitID,
	})
	writeJSON(w, http.StatusOK, decision)
}
