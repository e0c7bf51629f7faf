package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"portaria.org/internal/visit"
)

type listVisitsResponse struct {
	Items []visit.Visit `json:"items"`
}

func (a *API) handleVisits(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}

	q := r.URL.Query()
	state := visit.State(strings.TrimSpace(q.Get("state")))
	switch state {
	case "", visit.StateAwaiting, visit.StateInProgress, visit.StateFinished, visit.StateDenied:
	default:
		writeError(w, r, http.StatusBadRequest, "unknown visit state")
		return
	}

	items, err := a.deps.Visits.List(r.Context(), strings.TrimSpace(q.Get("unit_id")), state)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	if items == nil {
		items = []visit.Visit{}
	}
	writeJSON(w, http.StatusOK, listVisitsResponse{Items: items})
}

func (a *API) handleVisitResource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/v1/visits/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "not found")
		return
	}

	v, err := a.deps.Visits.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, visit.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "visit not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type accessLogResponse struct {
	Items     []visit.LogEntry `json:"items"`
	NextAfter uint64           `json:"next_after"`
	AsOf      time.Time        `json:"as_of"`
}

// handleAccessLog pages through the append-only decision log.
// Clients poll with after=<next_after> to tail new entries.
func (a *API) handleAccessLog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}

	q := r.URL.Query()
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, r, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	var afterSeq uint64
	if raw := q.Get("after"); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "after must be a non-negative integer")
			return
		}
		afterSeq = n
	}

	items, next, err := a.deps.Visits.Entries(r.Context(), limit, afterSeq)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	if items == nil {
		items = []visit.LogEntry{}
	}
	writeJSON(w, http.StatusOK, accessLogResponse{
		Items:     items,
		NextAfter: next,
		AsOf:      time.Now().UTC(),
	})
}
