package health

import (
	"context"
	"net/http"

	"github.com/dalemusser/respondentpro/internal/app/system/timeouts"
	json "github.com/goccy/go-json"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

// Pinger is satisfied by *mongo.Client.
type Pinger interface {
	Ping(ctx context.Context, rp *readpref.ReadPref) error
}

// JobLister reports the scheduled background jobs. It may be nil.
type JobLister interface {
	Jobs() []string
}

// Handler holds dependencies needed for health checks.
type Handler struct {
	Client Pinger
	Jobs   JobLister
	Log    *zap.Logger
}

// NewHandler constructs a health Handler with the Mongo client and logger.
func NewHandler(client Pinger, jobs JobLister, logger *zap.Logger) *Handler {
	return &Handler{
		Client: client,
		Jobs:   jobs,
		Log:    logger,
	}
}

// healthResponse is the JSON structure for the health check response.
type healthResponse struct {
	Status   string   `json:"status"`
	Database string   `json:"database"`
	Message  string   `json:"message,omitempty"`
	Error    string   `json:"error,omitempty"`
	Jobs     []string `json:"scheduled_jobs,omitempty"`
}

// Serve handles GET /health.
//
// On success: 200 and
//
//	{ "status":"ok", "database":"connected", "scheduled_jobs":["cache-refresh"] }
//
// On DB failure: 503 and
//
//	{ "status":"error", "message":"Database unavailable", "error":"…"}
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Ping())
	defer cancel()

	w.Header().Set("Content-Type", "application/json")

	resp := healthResponse{
		Status:   "ok",
		Database: "connected",
	}

	if err := h.Client.Ping(ctx, readpref.Primary()); err != nil {
		h.Log.Error("health-check: mongo ping failed", zap.Error(err))
		w.WriteHeader(http.StatusServiceUnavailable)
		resp.Status = "error"
		resp.Database = "disconnected"
		resp.Message = "Database unavailable"
		resp.Error = err.Error()
		_ = json.NewEncoder(w).Encode(resp)
		return
	}

	if h.Jobs != nil {
		resp.Jobs = h.Jobs.Jobs()
	}

	_ = json.NewEncoder(w).Encode(resp)
}
