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

	"lynxtms.io/internal/audit"
	"lynxtms.io/internal/authz"
	"lynxtms.io/internal/obs"
)

// ReadyProbe reports readiness, usually by pinging the database.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer over the decision engine.
type API struct {
	mux        *http.ServeMux
	evaluator  *authz.Evaluator
	workflow   *authz.Workflow
	keys       *authz.KeyService
	sweeper    *authz.Sweeper
	audits     authz.AuditStore
	sink       *audit.Sink
	readyProbe ReadyProbe
	version    string
}

func New(ev *authz.Evaluator, wf *authz.Workflow, keys *authz.KeyService, sw *authz.Sweeper, audits authz.AuditStore, sink *audit.Sink, rp ReadyProbe, version string) *API {
	a := &API{
		mux:        http.NewServeMux(),
		evaluator:  ev,
		workflow:   wf,
		keys:       keys,
		sweeper:    sw,
		audits:     audits,
		sink:       sink,
		readyProbe: rp,
		version:    version,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	a.mux.HandleFunc("/v1/authz/check", a.handleCheck)
	a.mux.HandleFunc("/v1/authz/entitlement", a.handleEntitlement)
	a.mux.HandleFunc("/v1/authz/attributes", a.handleAttributes)
	a.mux.HandleFunc("/v1/authz/decisions", a.handleDecisions)
	a.mux.HandleFunc("/v1/authz/cleanup", a.handleCleanup)

	a.mux.HandleFunc("/v1/organizations/", a.handleOrganizationResource)
	a.mux.HandleFunc("/v1/access-requests/", a.handleAccessRequestResource)
	a.mux.HandleFunc("/v1/api-keys/", a.handleAPIKeyResource)

	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the full middleware-wrapped handler. ctx bounds the
// rate-limit janitor goroutine.
func (a *API) Handler(ctx context.Context) http.Handler {
	h := a.withAuth(a.mux)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(ctx, h, 50, 25)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = Logging(h)
	return obs.Instrument(h)
}

// --- probes ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "lynx-authz",
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
		"name":    "lynx-authz",
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
	writeJSON(w, code, map[string]any{
		"error": msg,
	})
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

func handleAuthzError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, authz.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, authz.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, authz.ErrConflict), errors.Is(err, authz.ErrInvalidState):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
