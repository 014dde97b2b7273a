package health_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dalemusser/respondentpro/internal/app/features/health"
	"github.com/dalemusser/respondentpro/internal/testutil"
	json "github.com/goccy/go-json"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

type response struct {
	Status   string   `json:"status"`
	Database string   `json:"database"`
	Message  string   `json:"message"`
	Jobs     []string `json:"scheduled_jobs"`
}

type downPinger struct{}

func (downPinger) Ping(context.Context, *readpref.ReadPref) error {
	return errors.New("connection refused")
}

type jobs []string

func (j jobs) Jobs() []string { return j }

func TestServe_DatabaseConnected(t *testing.T) {
	db := testutil.SetupTestDB(t)
	handler := health.NewHandler(db.Client(), jobs{"cache-refresh", "session-keepalive"}, zap.NewNop())

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()

	handler.Serve(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q, want %q", ct, "application/json")
	}

	var got response
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if got.Status != "ok" {
		t.Errorf("status: got %q, want %q", got.Status, "ok")
	}
	if got.Database != "connected" {
		t.Errorf("database: got %q, want %q", got.Database, "connected")
	}
	if len(got.Jobs) != 2 {
		t.Errorf("scheduled_jobs: got %v, want 2 entries", got.Jobs)
	}
}

func TestServe_DatabaseDown(t *testing.T) {
	handler := health.NewHandler(downPinger{}, nil, zap.NewNop())

	rec := httptest.NewRecorder()
	handler.Serve(rec, httptest.NewRequest("GET", "/health", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status %d, got %d", http.StatusServiceUnavailable, rec.Code)
	}
	var got response
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if got.Status != "error" || got.Database != "disconnected" {
		t.Errorf("got %+v, want error/disconnected", got)
	}
}
