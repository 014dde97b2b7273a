package respondent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dalemusser/respondentpro/internal/domain/models"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"
)

// DefaultBaseURL is the upstream API host.
const DefaultBaseURL = "https://app.respondent.io"

// Upstream paths, relative to the base URL.
const (
	pathMe       = "/api/v4/profiles/me"
	pathProjects = "/api/v4/matching/projects/search/profiles/%s"
	pathHide     = "/api/v4/projects/%s/hide"
	pathDetails  = "/api/v4/projects/%s"
)

const (
	maxAttempts = 3
	// maxPages guards against an upstream that never reports the last page.
	maxPages = 200
)

// Client talks to the upstream API. It implements Fetcher, HideAPI and
// Verifier.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger

	// sleep is replaced in tests to skip retry back-off.
	sleep func(time.Duration)
}

// NewClient creates a client. An empty baseURL means DefaultBaseURL; a
// timeout of zero or less means 30 seconds.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		log:        logger,
		sleep:      time.Sleep,
	}
}

// do sends one request, retrying on connection errors, HTTP 5xx and 429
// with exponential back-off. 401 and 403 map to ErrUnauthorized.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, s Session, body interface{}, out interface{}) error {
	urlStr := c.baseURL + path
	if len(query) > 0 {
		urlStr += "?" + query.Encode()
	}

	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		payload = b
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		var rd io.Reader
		if payload != nil {
			rd = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, urlStr, rd)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/json, text/plain, */*")
		req.Header.Set("X-Requested-With", "XMLHttpRequest")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		for name, value := range s.Cookies {
			req.AddCookie(&http.Cookie{Name: name, Value: value})
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil || attempt == maxAttempts {
				return fmt.Errorf("request failed: %w", err)
			}
			c.backoff(attempt, 0, method, path, "connection error")
			continue
		}
		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return fmt.Errorf("read response body: %w", readErr)
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return ErrUnauthorized
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			lastErr = &APIError{StatusCode: resp.StatusCode, Message: string(data)}
			if attempt == maxAttempts {
				return lastErr
			}
			var retryAfter time.Duration
			if ra := resp.Header.Get("Retry-After"); ra != "" {
				if secs, err := strconv.Atoi(ra); err == nil {
					retryAfter = time.Duration(secs) * time.Second
				}
			}
			c.backoff(attempt, retryAfter, method, path, "HTTP "+strconv.Itoa(resp.StatusCode))
			continue
		case resp.StatusCode >= 400:
			return &APIError{StatusCode: resp.StatusCode, Message: string(data)}
		}

		if out == nil || len(data) == 0 {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("parse JSON response: %w", err)
		}
		return nil
	}
	return lastErr
}

func (c *Client) backoff(attempt int, retryAfter time.Duration, method, path, reason string) {
	wait := time.Duration(1<<(attempt-1)) * time.Second
	if retryAfter > 0 {
		wait = retryAfter
	}
	c.log.Debug("upstream request failed, retrying",
		zap.String("method", method),
		zap.String("path", path),
		zap.String("reason", reason),
		zap.Int("attempt", attempt),
		zap.Duration("wait", wait),
	)
	c.sleep(wait)
}

type profileResponse struct {
	ID      string `json:"id"`
	Profile struct {
		ID string `json:"id"`
	} `json:"profile"`
}

// Verify checks the session cookies against the upstream profile endpoint.
func (c *Client) Verify(ctx context.Context, credentials map[string]string) Verification {
	s := NewSession(credentials)
	if !s.Usable() {
		return Verification{Message: "missing " + SessionCookie + " cookie", Unauthorized: true}
	}

	var resp profileResponse
	err := c.do(ctx, http.MethodGet, pathMe, nil, s, nil, &resp)
	switch {
	case err == nil:
	case errors.Is(err, ErrUnauthorized):
		return Verification{Message: "session expired or not authorized", Unauthorized: true}
	default:
		return Verification{Message: err.Error()}
	}

	pid := resp.Profile.ID
	if pid == "" {
		pid = resp.ID
	}
	return Verification{Success: true, Message: "authenticated", ProfileID: pid}
}

type projectsPage struct {
	Results []models.Project `json:"results"`
	Count   int              `json:"count"`
}

// FetchAll pages through the profile's matching projects. The returned
// total is the upstream count when reported, else the number fetched.
func (c *Client) FetchAll(ctx context.Context, req FetchRequest) ([]models.Project, int, error) {
	if req.ProfileID == "" {
		return nil, 0, fmt.Errorf("fetch projects: profile id is required")
	}
	pageSize := req.PageSize
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	s := req.Session
	if !s.Usable() && len(req.Credentials) > 0 {
		s = NewSession(req.Credentials)
	}
	path := fmt.Sprintf(pathProjects, url.PathEscape(req.ProfileID))

	var all []models.Project
	total := 0
	for page := 1; page <= maxPages; page++ {
		q := url.Values{}
		q.Set("page", strconv.Itoa(page))
		q.Set("pageSize", strconv.Itoa(pageSize))
		q.Set("sort", "v4Score")

		var resp projectsPage
		if err := c.do(ctx, http.MethodGet, path, q, s, nil, &resp); err != nil {
			return nil, 0, fmt.Errorf("fetch projects page %d: %w", page, err)
		}
		if resp.Count > total {
			total = resp.Count
		}
		all = append(all, resp.Results...)
		c.log.Debug("fetched projects page",
			zap.String("user_id", req.UserID),
			zap.Int("page", page),
			zap.Int("items", len(resp.Results)),
			zap.Int("total_so_far", len(all)),
		)

		if len(resp.Results) < pageSize || (total > 0 && len(all) >= total) {
			break
		}
	}
	if total < len(all) {
		total = len(all)
	}
	return all, total, nil
}

type hideResponse struct {
	Success *bool `json:"success"`
}

// HideProject hides a project for the session's user upstream.
func (c *Client) HideProject(ctx context.Context, s Session, projectID string) (bool, error) {
	var resp hideResponse
	err := c.do(ctx, http.MethodPost, fmt.Sprintf(pathHide, url.PathEscape(projectID)), nil, s,
		map[string]bool{"hidden": true}, &resp)
	if err != nil {
		return false, err
	}
	// An empty 2xx body counts as success.
	return resp.Success == nil || *resp.Success, nil
}

// ProjectDetails fetches the full details document of a project.
func (c *Client) ProjectDetails(ctx context.Context, s Session, projectID string) (models.Project, error) {
	var out models.Project
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf(pathDetails, url.PathEscape(projectID)), nil, s, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}
