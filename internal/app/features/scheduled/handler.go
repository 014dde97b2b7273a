// Package scheduled serves the HTTP entry points an external scheduler
// calls to start the cache refresh and session keep-alive sweeps.
package scheduled

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/dalemusser/respondentpro/internal/app/system/refresh"
	"github.com/dalemusser/respondentpro/internal/app/system/timeouts"
	"github.com/dalemusser/respondentpro/internal/app/system/tokenauth"
	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

// TokenHeader carries the shared scheduler token when one is configured.
const TokenHeader = "X-Scheduler-Token"

// Refresher is satisfied by *refresh.Refresher.
type Refresher interface {
	DispatchStale(ctx context.Context, maxAge time.Duration) (string, bool)
	DispatchAllUsers(ctx context.Context, maxAge time.Duration) (string, bool)
	RefreshOne(ctx context.Context, userID string, maxAge time.Duration) refresh.Outcome
}

// KeepAlive is satisfied by *keepalive.Sweeper.
type KeepAlive interface {
	Dispatch(ctx context.Context) (string, bool)
}

// Pinger is satisfied by *mongo.Client.
type Pinger interface {
	Ping(ctx context.Context, rp *readpref.ReadPref) error
}

// Handler serves the /scheduled endpoints.
type Handler struct {
	DB        Pinger
	Refresher Refresher
	KeepAlive KeepAlive
	MaxAge    time.Duration // used when max_age_hours is absent
	Token     string        // empty disables the token check
	Log       *zap.Logger
}

// NewHandler constructs a scheduled-jobs Handler.
func NewHandler(db Pinger, r Refresher, k KeepAlive, maxAge time.Duration, token string, logger *zap.Logger) *Handler {
	if maxAge <= 0 {
		maxAge = refresh.DefaultMaxAge
	}
	return &Handler{DB: db, Refresher: r, KeepAlive: k, MaxAge: maxAge, Token: token, Log: logger}
}

type response struct {
	Status  string           `json:"status"`
	Message string           `json:"message"`
	RunID   string           `json:"run_id,omitempty"`
	Outcome *refresh.Outcome `json:"outcome,omitempty"`
}

// ServeCacheRefresh handles GET|POST /scheduled/cache-refresh.
// The sweep runs in the background; the response does not wait for it.
func (h *Handler) ServeCacheRefresh(w http.ResponseWriter, r *http.Request) {
	if !h.dbReady(w, r) {
		return
	}
	maxAge := h.maxAge(r, h.MaxAge)
	runID, started := h.Refresher.DispatchStale(r.Context(), maxAge)
	if !started {
		writeJSON(w, http.StatusOK, response{Status: "success", Message: "Cache refresh already running"})
		return
	}
	h.Log.Info("cache refresh dispatched", zap.String("run_id", runID), zap.Duration("max_age", maxAge))
	writeJSON(w, http.StatusOK, response{Status: "success", Message: "Cache refresh started in background", RunID: runID})
}

// ServeSessionKeepAlive handles GET /scheduled/session-keepalive.
func (h *Handler) ServeSessionKeepAlive(w http.ResponseWriter, r *http.Request) {
	if !h.dbReady(w, r) {
		return
	}
	runID, started := h.KeepAlive.Dispatch(r.Context())
	if !started {
		writeJSON(w, http.StatusOK, response{Status: "success", Message: "Session keep-alive already running"})
		return
	}
	h.Log.Info("session keep-alive dispatched", zap.String("run_id", runID))
	writeJSON(w, http.StatusOK, response{Status: "success", Message: "Session keep-alive tasks started in background", RunID: runID})
}

// ServeRefreshAllUsers handles GET /scheduled/refresh-all-users.
func (h *Handler) ServeRefreshAllUsers(w http.ResponseWriter, r *http.Request) {
	if !h.dbReady(w, r) {
		return
	}
	maxAge := h.maxAge(r, h.MaxAge)
	runID, started := h.Refresher.DispatchAllUsers(r.Context(), maxAge)
	if !started {
		writeJSON(w, http.StatusOK, response{Status: "success", Message: "Refresh of all users already running"})
		return
	}
	h.Log.Info("refresh of all users dispatched", zap.String("run_id", runID), zap.Duration("max_age", maxAge))
	writeJSON(w, http.StatusOK, response{Status: "success", Message: "Refresh of all users started in background", RunID: runID})
}

// ServeRefreshOne handles POST /scheduled/refresh-one/{userID}. It runs
// synchronously and forces the refresh unless max_age_hours is given.
func (h *Handler) ServeRefreshOne(w http.ResponseWriter, r *http.Request) {
	if !h.dbReady(w, r) {
		return
	}
	userID := chi.URLParam(r, "userID")
	out := h.Refresher.RefreshOne(r.Context(), userID, h.maxAge(r, 0))
	writeJSON(w, http.StatusOK, response{Status: "success", Message: string(out.Status), Outcome: &out})
}

// maxAge reads max_age_hours. Missing, malformed, non-finite or
// out-of-range values fall back to def.
func (h *Handler) maxAge(r *http.Request, def time.Duration) time.Duration {
	raw := r.URL.Query().Get("max_age_hours")
	if raw == "" {
		return def
	}
	hours, err := strconv.ParseFloat(raw, 64)
	// The range check also rejects NaN.
	if err != nil || !(hours >= 0 && hours <= refresh.MaxAgeHoursLimit) {
		h.Log.Warn("ignoring invalid max_age_hours", zap.String("value", raw))
		return def
	}
	return time.Duration(hours * float64(time.Hour))
}

func (h *Handler) dbReady(w http.ResponseWriter, r *http.Request) bool {
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Ping())
	defer cancel()
	if err := h.DB.Ping(ctx, readpref.Primary()); err != nil {
		h.Log.Error("scheduled job: mongo ping failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, response{Status: "error", Message: "Database unavailable: " + err.Error()})
		return false
	}
	return true
}

// requireToken rejects requests without the configured scheduler token.
func (h *Handler) requireToken(next http.Handler) http.Handler {
	return tokenauth.Require(TokenHeader, h.Token, func(w http.ResponseWriter, r *http.Request) {
		h.Log.Warn("rejected scheduled request without a valid token", zap.String("path", r.URL.Path))
		writeJSON(w, http.StatusUnauthorized, response{Status: "error", Message: "invalid scheduler token"})
	})(next)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
