// Package httpapi exposes the authorization engine, credential
// lifecycle and gate configuration over HTTP.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"portaria.org/internal/access"
	"portaria.org/internal/auth"
	"portaria.org/internal/credential"
	"portaria.org/internal/interlock"
	"portaria.org/internal/obs"
	"portaria.org/internal/stream"
	"portaria.org/internal/visit"
)

// ReadyProbe checks readiness (for example, a DB ping).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Deps carries the services the API serves.
type Deps struct {
	Evaluator   *access.Evaluator
	Policy      *access.Store
	Credentials credential.Service
	Visits      visit.Ledger
	Interlock   *interlock.Coordinator
	Porters     *auth.Porters
	Events      *stream.Stream
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string
	deps       Deps

	rateBurst  int
	ratePerSec int
}

func New(rp ReadyProbe, version string, deps Deps) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		deps:       deps,
		rateBurst:  20,
		ratePerSec: 10,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// auth
	a.mux.HandleFunc("/v1/auth/token", a.handleAuthToken)
	a.mux.HandleFunc("/v1/auth/register", a.handleAuthRegister)
	a.mux.HandleFunc("/v1/auth/login", a.handleAuthLogin)

	// decision point
	a.handle("/v1/authorize", a.handleAuthorize, auth.RoleDevice, auth.RolePorter)

	// credentials
	a.handle("/v1/credentials", a.handleCredentialsCollection, auth.RolePorter, auth.RoleManager)
	a.handle("/v1/credentials/", a.handleCredentialResource, auth.RolePorter, auth.RoleManager)

	// visits and the access log
	a.handle("/v1/visits", a.handleVisits, auth.RolePorter, auth.RoleManager)
	a.handle("/v1/visits/", a.handleVisitResource, auth.RolePorter, auth.RoleManager)
	a.handle("/v1/access-log", a.handleAccessLog, auth.RolePorter, auth.RoleManager)

	// gate topology and group policy
	a.handle("/v1/points", a.handlePointsCollection, auth.RoleManager)
	a.handle("/v1/points/", a.handlePointResource, auth.RoleDevice, auth.RoleManager)
	a.handle("/v1/groups", a.handleGroupsCollection, auth.RoleManager)
	a.handle("/v1/groups/", a.handleGroupResource, auth.RoleManager)
	a.handle("/v1/assignments", a.handleAssignments, auth.RoleManager)
	a.handle("/v1/pairs", a.handlePairs, auth.RoleManager)

	// live decision feed
	a.handle("/v1/events", a.Stream, auth.RolePorter, auth.RoleManager)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

func (a *API) handle(pattern string, h http.HandlerFunc, roles ...string) {
	a.mux.Handle(pattern, RequireRole(roles...)(h))
}

// Handler assembles the full middleware chain.
func (a *API) Handler() http.Handler {
	h := http.Handler(a.mux)
	h = a.withAuth(h)
	h = obs.Instrument(h)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = LoggingJSON(h)
	h = RequestID(h)
	h = CORS(h)
	h = SecurityHeaders(h)
	return h
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "portaria-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "portaria-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
