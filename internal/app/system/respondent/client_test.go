package respondent

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL, 5*time.Second, zap.NewNop())
	c.sleep = func(time.Duration) {}
	return c
}

var session = NewSession(map[string]string{SessionCookie: "sid-value"})

func TestVerify_Success(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ck, err := r.Cookie(SessionCookie)
		if err != nil || ck.Value != "sid-value" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, pathMe, r.URL.Path)
		w.Write([]byte(`{"id":"user-1","profile":{"id":"prof-1"}}`))
	}))

	v := c.Verify(context.Background(), session.Cookies)
	assert.True(t, v.Success)
	assert.Equal(t, "prof-1", v.ProfileID)
}

func TestVerify_Unauthorized(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	v := c.Verify(context.Background(), session.Cookies)
	assert.False(t, v.Success)
	assert.True(t, v.Unauthorized)
	assert.NotEmpty(t, v.Message)
}

func TestVerify_ServerErrorIsNotARejection(t *testing.T) {
	var calls int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	v := c.Verify(context.Background(), session.Cookies)
	assert.False(t, v.Success)
	assert.False(t, v.Unauthorized)
	assert.Contains(t, v.Message, "503")
	assert.Equal(t, int32(maxAttempts), atomic.LoadInt32(&calls))
}

func TestVerify_ConnectionErrorIsNotARejection(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	c := NewClient(srv.URL, time.Second, zap.NewNop())
	c.sleep = func(time.Duration) {}

	v := c.Verify(context.Background(), session.Cookies)
	assert.False(t, v.Success)
	assert.False(t, v.Unauthorized)
}

func TestVerify_MissingCookie(t *testing.T) {
	var calls int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))

	v := c.Verify(context.Background(), map[string]string{"other": "x"})
	assert.False(t, v.Success)
	assert.True(t, v.Unauthorized)
	assert.Zero(t, atomic.LoadInt32(&calls), "no request without a session cookie")
}

func TestDo_RetriesServerErrors(t *testing.T) {
	var calls int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"profile":{"id":"p"}}`))
	}))

	v := c.Verify(context.Background(), session.Cookies)
	assert.True(t, v.Success)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestDo_GivesUpAfterMaxAttempts(t *testing.T) {
	var calls int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	_, err := c.HideProject(context.Background(), session, "p1")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Equal(t, int32(maxAttempts), atomic.LoadInt32(&calls))
}

func TestFetchAll_Pages(t *testing.T) {
	const total = 120
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v4/matching/projects/search/profiles/prof-1", r.URL.Path)
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		size, _ := strconv.Atoi(r.URL.Query().Get("pageSize"))
		var results []map[string]interface{}
		for i := (page - 1) * size; i < page*size && i < total; i++ {
			results = append(results, map[string]interface{}{"id": "p" + strconv.Itoa(i)})
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"results": results, "count": total})
	}))

	projects, count, err := c.FetchAll(context.Background(), FetchRequest{
		Session:   session,
		ProfileID: "prof-1",
		PageSize:  50,
		UserID:    "u1",
	})
	require.NoError(t, err)
	assert.Equal(t, total, count)
	require.Len(t, projects, total)
	assert.Equal(t, "p0", projects[0].ID())
	assert.Equal(t, "p119", projects[total-1].ID())
}

func TestFetchAll_Unauthorized(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))

	_, _, err := c.FetchAll(context.Background(), FetchRequest{Session: session, ProfileID: "prof-1"})
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestFetchAll_RequiresProfile(t *testing.T) {
	c := NewClient("", 0, nil)
	_, _, err := c.FetchAll(context.Background(), FetchRequest{Session: session})
	assert.Error(t, err)
}

func TestHideProject(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		switch r.URL.Path {
		case "/api/v4/projects/ok/hide":
			w.Write([]byte(`{"success":true}`))
		case "/api/v4/projects/empty/hide":
			w.WriteHeader(http.StatusNoContent)
		default:
			w.Write([]byte(`{"success":false}`))
		}
	}))
	ctx := context.Background()

	ok, err := c.HideProject(ctx, session, "ok")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.HideProject(ctx, session, "empty")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.HideProject(ctx, session, "declined")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestProjectDetails(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v4/projects/p7", r.URL.Path)
		w.Write([]byte(`{"id":"p7","name":"Diet study","incentive":75}`))
	}))

	d, err := c.ProjectDetails(context.Background(), session, "p7")
	require.NoError(t, err)
	assert.Equal(t, "p7", d.ID())
	n, ok := d.Number("incentive")
	assert.True(t, ok)
	assert.Equal(t, 75.0, n)
}

func TestSession_Usable(t *testing.T) {
	assert.True(t, session.Usable())
	assert.False(t, NewSession(nil).Usable())
	assert.False(t, NewSession(map[string]string{SessionCookie: ""}).Usable())
}
