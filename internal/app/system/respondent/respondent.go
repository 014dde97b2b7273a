// Package respondent defines the upstream collaborators the cache refresh
// and keep-alive sweeps depend on, and an HTTP client that implements them
// against the Respondent API.
package respondent

import (
	"context"
	"errors"
	"fmt"

	"github.com/dalemusser/respondentpro/internal/domain/models"
)

// SessionCookie is the upstream session cookie. A credential row without
// it is not usable.
const SessionCookie = "respondent.session.sid"

// DefaultPageSize is the page size used when fetching a user's projects.
const DefaultPageSize = 50

// ErrUnauthorized is returned when the upstream rejects the session.
var ErrUnauthorized = errors.New("respondent: session not authorized")

// APIError is returned when the upstream answers with an error status.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("respondent API error (HTTP %d): %s", e.StatusCode, e.Message)
}

// Session is an authenticated upstream session.
type Session struct {
	Cookies map[string]string
}

// NewSession builds a session from stored cookies.
func NewSession(cookies map[string]string) Session {
	return Session{Cookies: cookies}
}

// Usable reports whether the session carries the upstream session cookie.
func (s Session) Usable() bool {
	return s.Cookies[SessionCookie] != ""
}

// FetchRequest describes a full fetch of a user's upstream projects.
type FetchRequest struct {
	Session   Session
	ProfileID string
	PageSize  int
	UserID    string
	// UseCache allows the fetcher to answer from a cache of its own.
	// Sweeps always pass false.
	UseCache    bool
	Credentials map[string]string
}

// Verification is the outcome of checking a session upstream.
type Verification struct {
	Success   bool
	Message   string
	ProfileID string // when the upstream reports one

	// Unauthorized is set when the upstream rejected the credentials (or
	// there were none to send). A failure without it is transient: the
	// upstream could not be reached or answered with a server error.
	Unauthorized bool
}

// Fetcher returns every upstream project visible to a profile, and the
// upstream's total count.
type Fetcher interface {
	FetchAll(ctx context.Context, req FetchRequest) ([]models.Project, int, error)
}

// HideAPI hides a project upstream. ok is false when the upstream declined.
type HideAPI interface {
	HideProject(ctx context.Context, s Session, projectID string) (bool, error)
}

// Verifier checks whether stored credentials are still authenticated.
// Failures are reported in the Verification, never as an error.
type Verifier interface {
	Verify(ctx context.Context, credentials map[string]string) Verification
}

// HidePolicy decides whether a project should be hidden for a user.
type HidePolicy interface {
	ShouldHide(p models.Project, filters models.UserFilters) bool
}
