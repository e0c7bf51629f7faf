package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"portaria.org/internal/audit"
	"portaria.org/internal/credential"
)

type listCredentialsResponse struct {
	Items []credential.Credential `json:"items"`
}

func (a *API) handleCredentialsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.issueCredential(w, r)
	case http.MethodGet:
		a.listCredentials(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) issueCredential(w http.ResponseWriter, r *http.Request) {
	var req credential.IssueRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	cred, err := a.deps.Credentials.Issue(r.Context(), req)
	if err != nil {
		writeCredentialError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "credential.issued", map[string]any{
		"credential_id": cred.ID,
		"unit_id":       cred.UnitID,
		"guest_kind":    cred.GuestKind,
		"max_uses":      cred.MaxUses,
	})
	writeJSON(w, http.StatusCreated, cred)
}

func (a *API) listCredentials(w http.ResponseWriter, r *http.Request) {
	unitID := strings.TrimSpace(r.URL.Query().Get("unit_id"))
	if unitID == "" {
		writeError(w, r, http.StatusBadRequest, "unit_id query parameter is required")
		return
	}

	items, err := a.deps.Credentials.ListByUnit(r.Context(), unitID)
	if err != nil {
		writeCredentialError(w, r, err)
		return
	}
	if items == nil {
		items = []credential.Credential{}
	}
	writeJSON(w, http.StatusOK, listCredentialsResponse{Items: items})
}

// handleCredentialResource serves /v1/credentials/{id}: GET reads one
// credential, DELETE revokes it.
func (a *API) handleCredentialResource(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/credentials/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		cred, err := a.deps.Credentials.Get(r.Context(), id)
		if err != nil {
			writeCredentialError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, cred)
	case http.MethodDelete:
		cred, err := a.deps.Credentials.Revoke(r.Context(), id)
		if err != nil {
			writeCredentialError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "credential.revoked", map[string]any{
			"credential_id": cred.ID,
			"unit_id":       cred.UnitID,
		})
		writeJSON(w, http.StatusOK, cred)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
	}
}

func writeCredentialError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, credential.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, credential.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "credential not found")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
