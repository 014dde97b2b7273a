package hiddenprojects

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dalemusser/respondentpro/internal/app/system/timeouts"
	"github.com/dalemusser/respondentpro/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// Timeline grouping periods.
const (
	GroupByDay   = "day"
	GroupByWeek  = "week"
	GroupByMonth = "month"
)

// Defaults for list reads.
const (
	DefaultRecentLimit = 10
	DefaultPageLimit   = 50

	// MaxPageLimit caps the rows of one page and of Recent.
	MaxPageLimit = 100

	// MaxPaginateDepth caps limit*page. Pages beyond it are not read.
	MaxPaginateDepth = 10000

	// pageBuffer is the number of rows Paginate reads past the requested
	// page to learn whether more exist.
	pageBuffer = 1
)

// TimelinePoint is the number of hides in one period.
type TimelinePoint struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// Stats summarizes a user's ledger.
type Stats struct {
	Total    int                          `json:"total"`
	ByMethod map[string]int               `json:"by_method"`
	Recent   []models.HiddenProjectRecord `json:"recent"`
}

// Page is one page of a user's ledger, newest first.
type Page struct {
	Projects   []models.HiddenProjectRecord `json:"projects"`
	Total      int                          `json:"total"`
	Page       int                          `json:"page"`
	Limit      int                          `json:"limit"`
	TotalPages int                          `json:"total_pages"`

	// TotalIsLowerBound means at least Total rows exist; the read stopped
	// before reaching the end of the ledger.
	TotalIsLowerBound bool `json:"total_is_lower_bound"`
}

// periodKey formats t as the bucket label for groupBy. Weeks use the ISO
// week-numbering year so late-December days of week 1 land in the new year.
func periodKey(t time.Time, groupBy string) string {
	t = t.UTC()
	switch groupBy {
	case GroupByWeek:
		y, w := t.ISOWeek()
		return fmt.Sprintf("%04d-W%02d", y, w)
	case GroupByMonth:
		return t.Format("2006-01")
	default:
		return t.Format("2006-01-02")
	}
}

// Timeline counts the user's hides per period between start and end
// (inclusive, either may be nil), ordered by period ascending. An unknown
// groupBy groups by day.
func (s *Store) Timeline(ctx context.Context, userID string, start, end *time.Time, groupBy string) []TimelinePoint {
	ctx, cancel := timeouts.WithTimeout(ctx, timeouts.Batch(), s.log, "ledger timeline")
	defer cancel()

	id := s.ids.Resolve(ctx, userID)
	filter := ownerFilter(id)
	if start != nil || end != nil {
		rng := bson.M{}
		if start != nil {
			rng["$gte"] = start.UTC()
		}
		if end != nil {
			rng["$lte"] = end.UTC()
		}
		filter["hidden_at"] = rng
	}

	rows, err := s.find(ctx, filter, options.Find().SetProjection(bson.M{"hidden_at": 1}))
	if err != nil {
		s.log.Error("read ledger timeline", zap.String("user_id", id.Canonical), zap.Error(err))
		return []TimelinePoint{}
	}

	counts := make(map[string]int)
	for _, r := range rows {
		if r.HiddenAt.IsZero() {
			continue
		}
		counts[periodKey(r.HiddenAt, groupBy)]++
	}

	out := make([]TimelinePoint, 0, len(counts))
	for date, n := range counts {
		out = append(out, TimelinePoint{Date: date, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

// Stats totals the user's ledger by method and lists the most recent hides.
// ByMethod always carries the manual, auto_similar, category and
// feedback_based keys; Total counts every row.
func (s *Store) Stats(ctx context.Context, userID string) Stats {
	ctx, cancel := timeouts.WithTimeout(ctx, timeouts.Batch(), s.log, "ledger stats")
	defer cancel()

	st := Stats{
		ByMethod: map[string]int{
			string(models.HiddenManual):        0,
			string(models.HiddenAutoSimilar):   0,
			string(models.HiddenCategory):      0,
			string(models.HiddenFeedbackBased): 0,
		},
		Recent: []models.HiddenProjectRecord{},
	}

	id := s.ids.Resolve(ctx, userID)
	rows, err := s.find(ctx, ownerFilter(id), nil)
	if err != nil {
		s.log.Error("read ledger stats", zap.String("user_id", id.Canonical), zap.Error(err))
		return st
	}

	st.Total = len(rows)
	for _, r := range rows {
		if _, tracked := st.ByMethod[string(r.HiddenMethod)]; tracked {
			st.ByMethod[string(r.HiddenMethod)]++
		}
	}

	sort.SliceStable(rows, func(i, j int) bool { return rows[i].HiddenAt.After(rows[j].HiddenAt) })
	if len(rows) > DefaultRecentLimit {
		rows = rows[:DefaultRecentLimit]
	}
	st.Recent = rows
	return st
}

// PageInRange reports whether page of size limit lies within
// MaxPaginateDepth. limit is taken after clamping.
func PageInRange(page, limit int) bool {
	limit = clampLimit(limit, DefaultPageLimit)
	return page >= 1 && page <= MaxPaginateDepth/limit
}

func clampLimit(limit, def int) int {
	switch {
	case limit < 1:
		return def
	case limit > MaxPageLimit:
		return MaxPageLimit
	}
	return limit
}

// Recent returns the user's most recently hidden projects, newest first.
// A limit below 1 means DefaultRecentLimit; above MaxPageLimit, MaxPageLimit.
func (s *Store) Recent(ctx context.Context, userID string, limit int) []models.HiddenProjectRecord {
	limit = clampLimit(limit, DefaultRecentLimit)
	ctx, cancel := timeouts.WithTimeout(ctx, timeouts.Medium(), s.log, "ledger recent")
	defer cancel()

	id := s.ids.Resolve(ctx, userID)
	rows, err := s.find(ctx, ownerFilter(id), options.Find().
		SetSort(bson.D{{Key: "hidden_at", Value: -1}}).
		SetLimit(int64(limit)))
	if err != nil {
		s.log.Error("read recent hidden projects", zap.String("user_id", id.Canonical), zap.Error(err))
		return []models.HiddenProjectRecord{}
	}
	if rows == nil {
		rows = []models.HiddenProjectRecord{}
	}
	return rows
}

// Paginate returns one page of the user's ledger, newest first. It reads
// only limit*page plus a one-row buffer, so Total is exact only when the
// read came back short; otherwise TotalIsLowerBound is set.
// Page below 1 means 1; limit below 1 means DefaultPageLimit and above
// MaxPageLimit means MaxPageLimit. A page past MaxPaginateDepth is returned
// empty without reading.
func (s *Store) Paginate(ctx context.Context, userID string, page, limit int) Page {
	if page < 1 {
		page = 1
	}
	limit = clampLimit(limit, DefaultPageLimit)
	out := Page{Projects: []models.HiddenProjectRecord{}, Page: page, Limit: limit}
	if !PageInRange(page, limit) {
		s.log.Debug("paginate past read depth", zap.String("user_id", userID), zap.Int("page", page), zap.Int("limit", limit))
		out.TotalIsLowerBound = true
		return out
	}

	ctx, cancel := timeouts.WithTimeout(ctx, timeouts.Medium(), s.log, "ledger paginate")
	defer cancel()

	fetch := limit*page + pageBuffer
	id := s.ids.Resolve(ctx, userID)
	rows, err := s.find(ctx, ownerFilter(id), options.Find().
		SetSort(bson.D{{Key: "hidden_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(fetch)))
	if err != nil {
		s.log.Error("paginate hidden projects", zap.String("user_id", id.Canonical), zap.Error(err))
		return out
	}

	out.Total = len(rows)
	out.TotalIsLowerBound = len(rows) >= fetch
	if out.Total > 0 {
		out.TotalPages = (out.Total + limit - 1) / limit
	}

	start := (page - 1) * limit
	if start < len(rows) {
		end := start + limit
		if end > len(rows) {
			end = len(rows)
		}
		out.Projects = rows[start:end]
	}
	return out
}
