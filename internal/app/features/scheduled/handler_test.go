package scheduled_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dalemusser/respondentpro/internal/app/features/scheduled"
	"github.com/dalemusser/respondentpro/internal/app/system/refresh"
	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context, *readpref.ReadPref) error { return p.err }

type fakeRefresher struct {
	busy     bool
	maxAge   time.Duration
	dispatch string
	oneUser  string
}

func (f *fakeRefresher) DispatchStale(_ context.Context, maxAge time.Duration) (string, bool) {
	f.dispatch, f.maxAge = "stale", maxAge
	return "run-1", !f.busy
}

func (f *fakeRefresher) DispatchAllUsers(_ context.Context, maxAge time.Duration) (string, bool) {
	f.dispatch, f.maxAge = "all", maxAge
	return "run-2", !f.busy
}

func (f *fakeRefresher) RefreshOne(_ context.Context, userID string, maxAge time.Duration) refresh.Outcome {
	f.oneUser, f.maxAge = userID, maxAge
	return refresh.Outcome{UserID: userID, Status: refresh.StatusRefreshed, Projects: 7}
}

type fakeKeepAlive struct{ calls int }

func (f *fakeKeepAlive) Dispatch(context.Context) (string, bool) {
	f.calls++
	return "run-3", true
}

type body struct {
	Status  string           `json:"status"`
	Message string           `json:"message"`
	RunID   string           `json:"run_id"`
	Outcome *refresh.Outcome `json:"outcome"`
}

func serve(t *testing.T, h *scheduled.Handler, method, target string, hdr http.Header) (int, body) {
	t.Helper()
	r := chi.NewRouter()
	r.Mount("/scheduled", scheduled.Routes(h))

	req := httptest.NewRequest(method, target, nil)
	for k, v := range hdr {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	var b body
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &b), rec.Body.String())
	return rec.Code, b
}

func TestCacheRefresh(t *testing.T) {
	fr := &fakeRefresher{}
	h := scheduled.NewHandler(pinger{}, fr, &fakeKeepAlive{}, 24*time.Hour, "", zap.NewNop())

	code, b := serve(t, h, http.MethodGet, "/scheduled/cache-refresh", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "success", b.Status)
	assert.Equal(t, "run-1", b.RunID)
	assert.Equal(t, 24*time.Hour, fr.maxAge)

	code, _ = serve(t, h, http.MethodPost, "/scheduled/cache-refresh?max_age_hours=6", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 6*time.Hour, fr.maxAge)

	serve(t, h, http.MethodGet, "/scheduled/cache-refresh?max_age_hours=soon", nil)
	assert.Equal(t, 24*time.Hour, fr.maxAge, "malformed value falls back to the default")

	for _, raw := range []string{"1e300", "87601", "Inf", "NaN", "-1"} {
		fr.maxAge = 0
		serve(t, h, http.MethodGet, "/scheduled/cache-refresh?max_age_hours="+raw, nil)
		assert.Equal(t, 24*time.Hour, fr.maxAge, "max_age_hours=%s falls back to the default", raw)
	}

	serve(t, h, http.MethodGet, "/scheduled/cache-refresh?max_age_hours=87600", nil)
	assert.Equal(t, time.Duration(refresh.MaxAgeHoursLimit)*time.Hour, fr.maxAge, "the limit itself is accepted")
}

func TestCacheRefresh_AlreadyRunning(t *testing.T) {
	fr := &fakeRefresher{busy: true}
	h := scheduled.NewHandler(pinger{}, fr, &fakeKeepAlive{}, 0, "", zap.NewNop())

	code, b := serve(t, h, http.MethodGet, "/scheduled/cache-refresh", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Empty(t, b.RunID)
	assert.Contains(t, b.Message, "already running")
}

func TestDatabaseDownIs500(t *testing.T) {
	fr := &fakeRefresher{}
	h := scheduled.NewHandler(pinger{err: errors.New("no servers")}, fr, &fakeKeepAlive{}, 0, "", zap.NewNop())

	code, b := serve(t, h, http.MethodGet, "/scheduled/cache-refresh", nil)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "error", b.Status)
	assert.Empty(t, fr.dispatch, "nothing is dispatched without a database")
}

func TestSessionKeepAlive(t *testing.T) {
	ka := &fakeKeepAlive{}
	h := scheduled.NewHandler(pinger{}, &fakeRefresher{}, ka, 0, "", zap.NewNop())

	code, b := serve(t, h, http.MethodGet, "/scheduled/session-keepalive", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "run-3", b.RunID)
	assert.Equal(t, 1, ka.calls)
}

func TestRefreshAllUsers(t *testing.T) {
	fr := &fakeRefresher{}
	h := scheduled.NewHandler(pinger{}, fr, &fakeKeepAlive{}, 0, "", zap.NewNop())

	code, b := serve(t, h, http.MethodGet, "/scheduled/refresh-all-users?max_age_hours=0", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "all", fr.dispatch)
	assert.Equal(t, "run-2", b.RunID)
	assert.Zero(t, fr.maxAge)
}

func TestRefreshOne(t *testing.T) {
	fr := &fakeRefresher{}
	h := scheduled.NewHandler(pinger{}, fr, &fakeKeepAlive{}, 0, "", zap.NewNop())

	code, b := serve(t, h, http.MethodPost, "/scheduled/refresh-one/user-42", nil)
	assert.Equal(t, http.StatusOK, code)
	require.NotNil(t, b.Outcome)
	assert.Equal(t, "user-42", fr.oneUser)
	assert.Zero(t, fr.maxAge, "a manual refresh is forced by default")
	assert.Equal(t, refresh.StatusRefreshed, b.Outcome.Status)
	assert.Equal(t, 7, b.Outcome.Projects)
}

func TestToken(t *testing.T) {
	h := scheduled.NewHandler(pinger{}, &fakeRefresher{}, &fakeKeepAlive{}, 0, "s3cret", zap.NewNop())

	code, _ := serve(t, h, http.MethodGet, "/scheduled/session-keepalive", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = serve(t, h, http.MethodGet, "/scheduled/session-keepalive", http.Header{scheduled.TokenHeader: {"s3cret"}})
	assert.Equal(t, http.StatusOK, code)
}
