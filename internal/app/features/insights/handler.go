// Package insights serves per-user read views over the project cache and
// the hidden-project ledger, plus manual hides and project details.
package insights

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/dalemusser/respondentpro/internal/app/store/credentials"
	"github.com/dalemusser/respondentpro/internal/app/store/hiddenprojects"
	"github.com/dalemusser/respondentpro/internal/app/store/projectcache"
	"github.com/dalemusser/respondentpro/internal/app/system/respondent"
	"github.com/dalemusser/respondentpro/internal/app/system/timeouts"
	"github.com/dalemusser/respondentpro/internal/app/system/tokenauth"
	"github.com/dalemusser/respondentpro/internal/domain/models"
	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"
)

// TokenHeader carries the shared insights token when one is configured.
const TokenHeader = "X-Insights-Token"

// DefaultDetailsMaxAge is how long cached project details are served.
const DefaultDetailsMaxAge = 7 * 24 * time.Hour

// Cache is satisfied by *projectcache.Store.
type Cache interface {
	GetProjects(ctx context.Context, userID string) (*projectcache.Snapshot, bool)
	Stats(ctx context.Context, userID string) projectcache.Stats
	DeleteSet(ctx context.Context, userID string, projectIDs []string) bool
}

// Ledger is satisfied by *hiddenprojects.Store.
type Ledger interface {
	Record(ctx context.Context, userID, projectID string, method models.HiddenMethod, feedback, category string) bool
	Count(ctx context.Context, userID string) int64
	IsHidden(ctx context.Context, userID, projectID string) bool
	Timeline(ctx context.Context, userID string, start, end *time.Time, groupBy string) []hiddenprojects.TimelinePoint
	Stats(ctx context.Context, userID string) hiddenprojects.Stats
	Recent(ctx context.Context, userID string, limit int) []models.HiddenProjectRecord
	Paginate(ctx context.Context, userID string, page, limit int) hiddenprojects.Page
}

// Details is satisfied by *projectdetails.Store.
type Details interface {
	Get(ctx context.Context, projectID string, maxAge time.Duration) (models.Project, bool)
	Put(ctx context.Context, projectID string, details models.Project) bool
}

// DetailsAPI fetches project details upstream. Satisfied by *respondent.Client.
type DetailsAPI interface {
	ProjectDetails(ctx context.Context, s respondent.Session, projectID string) (models.Project, error)
}

// Sessions loads stored upstream sessions.
type Sessions interface {
	Get(ctx context.Context, userID string) (models.SessionCredentials, error)
}

// Handler serves the /insights endpoints.
type Handler struct {
	Cache    Cache
	Ledger   Ledger
	Details  Details
	Upstream DetailsAPI
	Sessions Sessions
	Token    string // empty disables the token check
	Log      *zap.Logger
}

// NewHandler constructs an insights Handler.
func NewHandler(cache Cache, ledger Ledger, details Details, upstream DetailsAPI, sessions Sessions, logger *zap.Logger) *Handler {
	return &Handler{Cache: cache, Ledger: ledger, Details: details, Upstream: upstream, Sessions: sessions, Log: logger}
}

type projectsResponse struct {
	UserID     string           `json:"user_id"`
	CachedAt   time.Time        `json:"cached_at"`
	TotalCount int              `json:"total_count"`
	Projects   []models.Project `json:"projects"`
}

// ServeProjects handles GET /insights/{userID}/projects.
func (h *Handler) ServeProjects(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	snap, ok := h.Cache.GetProjects(r.Context(), userID)
	if !ok {
		writeError(w, http.StatusNotFound, "no cached projects")
		return
	}
	writeJSON(w, http.StatusOK, projectsResponse{
		UserID:     userID,
		CachedAt:   snap.CachedAt,
		TotalCount: snap.TotalCount,
		Projects:   snap.Projects,
	})
}

// ServeCacheStats handles GET /insights/{userID}/cache.
func (h *Handler) ServeCacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Cache.Stats(r.Context(), chi.URLParam(r, "userID")))
}

// ServeHiddenStats handles GET /insights/{userID}/hidden/stats.
func (h *Handler) ServeHiddenStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Ledger.Stats(r.Context(), chi.URLParam(r, "userID")))
}

// ServeHiddenPage handles GET /insights/{userID}/hidden?page=&limit=.
func (h *Handler) ServeHiddenPage(w http.ResponseWriter, r *http.Request) {
	page := intParam(r, "page", 1)
	limit := intParam(r, "limit", hiddenprojects.DefaultPageLimit)
	if page > 1 && !hiddenprojects.PageInRange(page, limit) {
		writeError(w, http.StatusBadRequest, "page is beyond the readable range")
		return
	}
	writeJSON(w, http.StatusOK, h.Ledger.Paginate(r.Context(), chi.URLParam(r, "userID"), page, limit))
}

// ServeHiddenRecent handles GET /insights/{userID}/hidden/recent?limit=.
func (h *Handler) ServeHiddenRecent(w http.ResponseWriter, r *http.Request) {
	limit := intParam(r, "limit", hiddenprojects.DefaultRecentLimit)
	writeJSON(w, http.StatusOK, h.Ledger.Recent(r.Context(), chi.URLParam(r, "userID"), limit))
}

type countResponse struct {
	Count int64 `json:"count"`
}

// ServeHiddenCount handles GET /insights/{userID}/hidden/count.
func (h *Handler) ServeHiddenCount(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, countResponse{Count: h.Ledger.Count(r.Context(), chi.URLParam(r, "userID"))})
}

// ServeTimeline handles GET /insights/{userID}/hidden/timeline.
// start and end are RFC 3339 timestamps or YYYY-MM-DD dates; group_by is
// day, week or month.
func (h *Handler) ServeTimeline(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, err := timeParam(q.Get("start"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid start")
		return
	}
	end, err := timeParam(q.Get("end"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid end")
		return
	}
	points := h.Ledger.Timeline(r.Context(), chi.URLParam(r, "userID"), start, end, q.Get("group_by"))
	writeJSON(w, http.StatusOK, points)
}

type hideRequest struct {
	ProjectID string `json:"project_id"`
	Method    string `json:"method"`
	Feedback  string `json:"feedback"`
	Category  string `json:"category"`
}

type hideResponse struct {
	ProjectID string `json:"project_id"`
	Hidden    bool   `json:"hidden"`
}

// ServeHide handles POST /insights/{userID}/hidden. The project is recorded
// in the ledger and removed from the user's cached set.
func (h *Handler) ServeHide(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	var req hideRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	method := models.HiddenMethod(req.Method)
	if method == "" {
		method = models.HiddenManual
	}
	if req.ProjectID == "" || !method.Valid() {
		writeError(w, http.StatusBadRequest, "project_id and a known method are required")
		return
	}

	if !h.Ledger.Record(r.Context(), userID, req.ProjectID, method, req.Feedback, req.Category) {
		writeError(w, http.StatusInternalServerError, "failed to record hide")
		return
	}
	if !h.Cache.DeleteSet(r.Context(), userID, []string{req.ProjectID}) {
		h.Log.Debug("no cache entry to prune after hide", zap.String("user_id", userID))
	}
	writeJSON(w, http.StatusOK, hideResponse{ProjectID: req.ProjectID, Hidden: true})
}

// ServeIsHidden handles GET /insights/{userID}/hidden/{projectID}.
func (h *Handler) ServeIsHidden(w http.ResponseWriter, r *http.Request) {
	pid := chi.URLParam(r, "projectID")
	writeJSON(w, http.StatusOK, hideResponse{
		ProjectID: pid,
		Hidden:    h.Ledger.IsHidden(r.Context(), chi.URLParam(r, "userID"), pid),
	})
}

// ServeProjectDetails handles GET /insights/{userID}/projects/{projectID}.
// Cached details are served while fresh; otherwise they are fetched with
// the user's stored session and cached.
func (h *Handler) ServeProjectDetails(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	pid := chi.URLParam(r, "projectID")
	if d, ok := h.Details.Get(r.Context(), pid, DefaultDetailsMaxAge); ok {
		writeJSON(w, http.StatusOK, d)
		return
	}

	creds, err := h.Sessions.Get(r.Context(), userID)
	if err != nil {
		if errors.Is(err, credentials.ErrNotFound) || errors.Is(err, credentials.ErrUnreadable) {
			writeError(w, http.StatusNotFound, "no usable session for user")
			return
		}
		h.Log.Error("load session for details", zap.String("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	s := respondent.NewSession(creds.Cookies)
	if !s.Usable() {
		writeError(w, http.StatusNotFound, "no usable session for user")
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Upstream(), h.Log, "project details")
	defer cancel()
	d, err := h.Upstream.ProjectDetails(ctx, s, pid)
	if err != nil {
		h.Log.Warn("fetch project details", zap.String("project_id", pid), zap.Error(err))
		writeError(w, http.StatusBadGateway, "upstream details unavailable")
		return
	}
	h.Details.Put(r.Context(), pid, d)
	writeJSON(w, http.StatusOK, d)
}

func intParam(r *http.Request, name string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return def
	}
	return v
}

func timeParam(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, errors.New("unrecognized time")
}

type errorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// requireToken rejects requests without the configured insights token.
func (h *Handler) requireToken(next http.Handler) http.Handler {
	return tokenauth.Require(TokenHeader, h.Token, func(w http.ResponseWriter, r *http.Request) {
		h.Log.Warn("rejected insights request without a valid token", zap.String("path", r.URL.Path))
		writeError(w, http.StatusUnauthorized, "invalid insights token")
	})(next)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Status: "error", Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
