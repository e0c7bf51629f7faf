package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"portaria.org/internal/access"
	"portaria.org/internal/audit"
	"portaria.org/internal/interlock"
)

type listPointsResponse struct {
	Items []access.AccessPoint `json:"items"`
}

func (a *API) handlePointsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		items, err := a.deps.Policy.ListPoints(r.Context())
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "internal error")
			return
		}
		if items == nil {
			items = []access.AccessPoint{}
		}
		writeJSON(w, http.StatusOK, listPointsResponse{Items: items})
	case http.MethodPost:
		var p access.AccessPoint
		if err := decodeJSON(w, r, &p); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		saved, err := a.deps.Policy.PutPoint(r.Context(), p)
		if err != nil {
			writePolicyError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "point.saved", map[string]any{
			"point_id": saved.ID,
			"kind":     string(saved.Kind),
			"zone":     saved.Zone,
		})
		writeJSON(w, http.StatusCreated, saved)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// handlePointResource serves /v1/points/{id} and the point
// subresources /heartbeat, /status and /closed.
func (a *API) handlePointResource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/points/")
	id, sub := rest, ""
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		id, sub = rest[:i], rest[i+1:]
	}
	if id == "" {
		writeError(w, r, http.StatusNotFound, "not found")
		return
	}

	switch sub {
	case "":
		a.pointByID(w, r, id)
	case "heartbeat":
		a.pointHeartbeat(w, r, id)
	case "status":
		a.pointStatus(w, r, id)
	case "closed":
		a.pointClosed(w, r, id)
	default:
		writeError(w, r, http.StatusNotFound, "not found")
	}
}

func (a *API) pointByID(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		p, err := a.deps.Policy.Point(r.Context(), id)
		if err != nil {
			writePolicyError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	case http.MethodDelete:
		if err := a.deps.Policy.RemovePoint(r.Context(), id); err != nil {
			writePolicyError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "point.removed", map[string]any{"point_id": id})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
	}
}

func (a *API) pointHeartbeat(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	p, err := a.deps.Policy.MarkHeartbeat(r.Context(), id, time.Now().UTC())
	if err != nil {
		writePolicyError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type pointStatusRequest struct {
	Status access.PointStatus `json:"status"`
}

func (a *API) pointStatus(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req pointStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	p, err := a.deps.Policy.SetStatus(r.Context(), id, req.Status)
	if err != nil {
		writePolicyError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "point.status_changed", map[string]any{
		"point_id": id,
		"status":   string(req.Status),
	})
	writeJSON(w, http.StatusOK, p)
}

// pointClosed is the door-closed confirmation from the gate controller.
// For airlock pairs it is what releases the next holder in line.
func (a *API) pointClosed(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if err := a.deps.Interlock.ConfirmClosed(r.Context(), id); err != nil {
		if errors.Is(err, interlock.ErrNotOpen) {
			writeError(w, r, http.StatusConflict, "point has no open passage to confirm")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type listGroupsResponse struct {
	Items []access.AccessGroup `json:"items"`
}

func (a *API) handleGroupsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		items, err := a.deps.Policy.ListGroups(r.Context())
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "internal error")
			return
		}
		if items == nil {
			items = []access.AccessGroup{}
		}
		writeJSON(w, http.StatusOK, listGroupsResponse{Items: items})
	case http.MethodPost:
		var g access.AccessGroup
		if err := decodeJSON(w, r, &g); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		saved, err := a.deps.Policy.PutGroup(r.Context(), g)
		if err != nil {
			writePolicyError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "group.saved", map[string]any{
			"group_id": saved.ID,
			"name":     saved.Name,
		})
		writeJSON(w, http.StatusCreated, saved)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleGroupResource(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/groups/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		g, err := a.deps.Policy.Group(r.Context(), id)
		if err != nil {
			writePolicyError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, g)
	case http.MethodDelete:
		if err := a.deps.Policy.RemoveGroup(r.Context(), id); err != nil {
			writePolicyError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "group.removed", map[string]any{"group_id": id})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
	}
}

type assignmentRequest struct {
	PointID string `json:"point_id"`
	GroupID string `json:"group_id"`
}

// handleAssignments binds access groups to points. GET with ?point_id=
// returns the groups currently attached to that point.
func (a *API) handleAssignments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		pointID := strings.TrimSpace(r.URL.Query().Get("point_id"))
		if pointID == "" {
			writeError(w, r, http.StatusBadRequest, "point_id query parameter is required")
			return
		}
		items, err := a.deps.Policy.GroupsFor(r.Context(), pointID)
		if err != nil {
			writePolicyError(w, r, err)
			return
		}
		if items == nil {
			items = []access.AccessGroup{}
		}
		writeJSON(w, http.StatusOK, listGroupsResponse{Items: items})
	case http.MethodPost, http.MethodDelete:
		var req assignmentRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		var err error
		event := "assignment.created"
		if r.Method == http.MethodPost {
			err = a.deps.Policy.Assign(r.Context(), req.PointID, req.GroupID)
		} else {
			err = a.deps.Policy.Unassign(r.Context(), req.PointID, req.GroupID)
			event = "assignment.removed"
		}
		if err != nil {
			writePolicyError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), event, map[string]any{
			"point_id": req.PointID,
			"group_id": req.GroupID,
		})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost, http.MethodDelete)
	}
}

type pairRequest struct {
	AID string `json:"a_id"`
	BID string `json:"b_id"`
}

// handlePairs manages airlock pairings between two points.
func (a *API) handlePairs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req pairRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.deps.Policy.SetPair(r.Context(), req.AID, req.BID); err != nil {
			writePolicyError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "pair.created", map[string]any{
			"a_id": req.AID,
			"b_id": req.BID,
		})
		w.WriteHeader(http.StatusNoContent)
	case http.MethodDelete:
		pointID := strings.TrimSpace(r.URL.Query().Get("point_id"))
		if pointID == "" {
			writeError(w, r, http.StatusBadRequest, "point_id query parameter is required")
			return
		}
		if err := a.deps.Policy.ClearPair(r.Context(), pointID); err != nil {
			writePolicyError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "pair.removed", map[string]any{"point_id": pointID})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodDelete)
	}
}

func writePolicyError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, access.ErrPointNotFound):
		writeError(w, r, http.StatusNotFound, "access point not found")
	case errors.Is(err, access.ErrGroupNotFound):
		writeError(w, r, http.StatusNotFound, "access group not found")
	case errors.Is(err, access.ErrInvalidPair), errors.Is(err, access.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
