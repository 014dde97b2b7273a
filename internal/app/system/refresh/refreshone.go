package refresh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dalemusser/respondentpro/internal/app/store/credentials"
	"github.com/dalemusser/respondentpro/internal/app/system/identity"
	"github.com/dalemusser/respondentpro/internal/app/system/metrics"
	"github.com/dalemusser/respondentpro/internal/app/system/respondent"
	"github.com/dalemusser/respondentpro/internal/app/system/timeouts"
	"github.com/dalemusser/respondentpro/internal/domain/models"
	"go.uber.org/zap"
)

// RefreshOne refreshes a single user synchronously. A maxAge of zero or
// less refreshes even when the cache is fresh. Concurrent calls for the same
// canonical id share one refresh and its outcome.
func (r *Refresher) RefreshOne(ctx context.Context, userID string, maxAge time.Duration) Outcome {
	if userID == "" {
		return Outcome{Status: StatusSkippedNoID, Message: "no user id"}
	}
	id := r.deps.Identities.Resolve(ctx, userID)

	v, _, _ := r.flight.Do(id.Canonical, func() (interface{}, error) {
		return r.refreshOne(ctx, id, maxAge), nil
	})
	out := v.(Outcome)
	out.UserID = userID
	return out
}

func (r *Refresher) refreshOne(ctx context.Context, id identity.Identity, maxAge time.Duration) Outcome {
	uid := id.Canonical
	log := r.log.With(zap.String("user_id", uid))

	creds, err := r.loadCredentials(ctx, id)
	switch {
	case errors.Is(err, credentials.ErrNotFound):
		return Outcome{Status: StatusSkippedNoSession, Message: "no stored session"}
	case errors.Is(err, credentials.ErrUnreadable):
		log.Warn("stored session unreadable", zap.Error(err))
		return Outcome{Status: StatusSkippedNoSession, Message: "stored session unreadable"}
	case err != nil:
		log.Error("load session credentials failed", zap.Error(err))
		return failed("load credentials: %v", err)
	}
	if creds.MarkedInvalid() {
		return Outcome{Status: StatusSkippedInvalid, Message: "session marked invalid"}
	}
	session := respondent.NewSession(creds.Cookies)
	if !session.Usable() {
		return Outcome{Status: StatusSkippedNoSession, Message: "session cookie missing"}
	}

	if maxAge > 0 && r.deps.Cache.IsFresh(ctx, uid, maxAge) {
		return Outcome{Status: StatusSkippedFresh}
	}

	vctx, cancel := timeouts.WithTimeout(ctx, timeouts.Upstream(), log, "verify session")
	ver := r.deps.Verifier.Verify(vctx, creds.Cookies)
	cancel()
	if !ver.Success {
		if !ver.Unauthorized {
			// Transient; the stored validity is left alone so the next
			// cycle tries again.
			log.Warn("session verification unavailable", zap.String("message", ver.Message))
			return failed("session verification unavailable: %s", ver.Message)
		}
		r.markValidity(ctx, creds.UserID, credentials.Validity{Valid: false, Message: ver.Message})
		log.Warn("session verification rejected", zap.String("message", ver.Message))
		return failed("session verification failed: %s", ver.Message)
	}

	profileID := creds.ProfileID
	if profileID == "" {
		profileID = ver.ProfileID
	}
	r.markValidity(ctx, creds.UserID, credentials.Validity{Valid: true, Message: ver.Message, ProfileID: ver.ProfileID})
	if profileID == "" {
		return Outcome{Status: StatusSkippedNoID, Message: "no upstream profile id"}
	}

	projects, total, err := r.deps.Fetcher.FetchAll(ctx, respondent.FetchRequest{
		Session:     session,
		ProfileID:   profileID,
		PageSize:    respondent.DefaultPageSize,
		UserID:      uid,
		UseCache:    false,
		Credentials: creds.Cookies,
	})
	if err != nil {
		if errors.Is(err, respondent.ErrUnauthorized) {
			r.markValidity(ctx, creds.UserID, credentials.Validity{Valid: false, Message: err.Error()})
		}
		log.Warn("fetch projects failed", zap.Error(err))
		return failed("fetch projects: %v", err)
	}
	if len(projects) == 0 {
		log.Warn("upstream returned no projects")
		return failed("no projects fetched")
	}

	filters, err := r.deps.Filters.Get(ctx, uid)
	if err != nil {
		log.Warn("load filters failed, using none", zap.Error(err))
		filters = models.UserFilters{UserID: uid}
	}

	hidden := r.autoHide(ctx, log, uid, session, projects, filters)

	remaining := projects
	if len(hidden) > 0 {
		remaining = make([]models.Project, 0, len(projects)-len(hidden))
		for _, p := range projects {
			if _, ok := hidden[p.ID()]; !ok {
				remaining = append(remaining, p)
			}
		}
		ids := make([]string, 0, len(hidden))
		for pid := range hidden {
			ids = append(ids, pid)
		}
		if !r.deps.Cache.DeleteSet(ctx, uid, ids) {
			log.Debug("no cache entry to prune before rewrite")
		}
	}

	count := total - len(hidden)
	if count < len(remaining) {
		count = len(remaining)
	}
	if !r.deps.Cache.ReplaceAll(ctx, uid, remaining, count) {
		return failed("cache rewrite failed")
	}

	log.Info("cache refreshed",
		zap.Int("projects", len(remaining)),
		zap.Int("hidden", len(hidden)),
		zap.Int("total_count", count))
	return Outcome{Status: StatusRefreshed, Projects: len(remaining), Hidden: len(hidden)}
}

// autoHide hides every project the policy flags and returns the ids the
// upstream accepted.
func (r *Refresher) autoHide(ctx context.Context, log *zap.Logger, uid string, s respondent.Session, projects []models.Project, f models.UserFilters) map[string]struct{} {
	hidden := map[string]struct{}{}
	for _, p := range projects {
		pid := p.ID()
		if pid == "" || !r.deps.Policy.ShouldHide(p, f) {
			continue
		}
		hctx, cancel := timeouts.WithTimeout(ctx, timeouts.Upstream(), log, "hide project")
		ok, err := r.deps.Hider.HideProject(hctx, s, pid)
		cancel()
		switch {
		case err != nil:
			metrics.UpstreamHidesTotal.WithLabelValues("error").Inc()
			log.Warn("auto-hide failed", zap.String("project_id", pid), zap.Error(err))
			continue
		case !ok:
			metrics.UpstreamHidesTotal.WithLabelValues("declined").Inc()
			log.Warn("auto-hide declined upstream", zap.String("project_id", pid))
			continue
		}
		metrics.UpstreamHidesTotal.WithLabelValues("hidden").Inc()
		if !r.deps.Ledger.Record(ctx, uid, pid, models.HiddenAIAuto, "", "") {
			log.Warn("failed to record auto-hide", zap.String("project_id", pid))
		}
		hidden[pid] = struct{}{}
	}
	return hidden
}

// loadCredentials reads the credential row under the canonical id, then
// under the legacy id for accounts whose session predates migration.
func (r *Refresher) loadCredentials(ctx context.Context, id identity.Identity) (models.SessionCredentials, error) {
	c, err := r.deps.Credentials.Get(ctx, id.Canonical)
	if errors.Is(err, credentials.ErrNotFound) && id.HasLegacy() {
		return r.deps.Credentials.Get(ctx, id.Legacy)
	}
	return c, err
}

func (r *Refresher) markValidity(ctx context.Context, userID string, v credentials.Validity) {
	v.CheckedAt = r.clock.Now().UTC()
	if err := r.deps.Credentials.MarkValidity(ctx, userID, v); err != nil {
		r.log.Warn("failed to record session validity",
			zap.String("user_id", userID), zap.Bool("valid", v.Valid), zap.Error(err))
	}
}

func failed(format string, args ...interface{}) Outcome {
	return Outcome{Status: StatusError, Message: fmt.Sprintf(format, args...)}
}
