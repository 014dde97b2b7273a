package projectcache_test

import (
	"sort"
	"testing"
	"time"

	"github.com/dalemusser/respondentpro/internal/app/store/projectcache"
	userstore "github.com/dalemusser/respondentpro/internal/app/store/users"
	"github.com/dalemusser/respondentpro/internal/app/system/identity"
	"github.com/dalemusser/respondentpro/internal/domain/models"
	"github.com/dalemusser/respondentpro/internal/testutil"
	"github.com/jonboulle/clockwork"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

func newStore(t *testing.T, db *mongo.Database, clock clockwork.Clock) *projectcache.Store {
	t.Helper()
	ids := identity.NewResolver(userstore.New(db), 0, 0, zap.NewNop())
	return projectcache.New(db, ids, clock, zap.NewNop())
}

func projectIDs(ps []models.Project) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.ID())
	}
	sort.Strings(out)
	return out
}

func TestReplaceAll_ThenGetProjects(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := newStore(t, db, nil)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	projects := testutil.Projects("p", 12)
	if !store.ReplaceAll(ctx, "u1", projects, len(projects)) {
		t.Fatal("ReplaceAll returned false")
	}

	snap, ok := store.GetProjects(ctx, "u1")
	if !ok {
		t.Fatal("GetProjects: expected a snapshot")
	}
	if snap.TotalCount != len(projects) {
		t.Errorf("TotalCount: got %d, want %d", snap.TotalCount, len(projects))
	}
	got, want := projectIDs(snap.Projects), projectIDs(projects)
	if len(got) != len(want) {
		t.Fatalf("projects: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("project[%d]: got %q, want %q", i, got[i], want[i])
		}
	}
	if snap.CachedAt.IsZero() {
		t.Error("expected CachedAt to be set")
	}
}

func TestReplaceAll_DropsPreviousGeneration(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := newStore(t, db, nil)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	store.ReplaceAll(ctx, "u1", testutil.Projects("old", 5), 5)
	store.ReplaceAll(ctx, "u1", testutil.Projects("new", 3), 3)

	snap, ok := store.GetProjects(ctx, "u1")
	if !ok {
		t.Fatal("GetProjects: expected a snapshot")
	}
	want := []string{"new-0", "new-1", "new-2"}
	got := projectIDs(snap.Projects)
	if len(got) != len(want) {
		t.Fatalf("projects: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("project[%d]: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestReplaceAll_LargeSetSpansChunks(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := newStore(t, db, nil)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	projects := testutil.Projects("big", 1203)
	if !store.ReplaceAll(ctx, "u1", projects, len(projects)) {
		t.Fatal("ReplaceAll returned false")
	}
	if st := store.Stats(ctx, "u1"); st.TotalCount != 1203 {
		t.Errorf("Stats.TotalCount: got %d, want 1203", st.TotalCount)
	}
}

func TestReplaceAll_NestedFieldsRoundTrip(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := newStore(t, db, nil)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	p := models.Project{
		"id":        "nested",
		"incentive": 150.0,
		"location":  map[string]interface{}{"city": "Austin"},
		"tags":      []interface{}{"remote", "paid"},
	}
	store.ReplaceAll(ctx, "u1", []models.Project{p}, 1)

	snap, ok := store.GetProjects(ctx, "u1")
	if !ok || len(snap.Projects) != 1 {
		t.Fatalf("GetProjects: got %+v, %v", snap, ok)
	}
	got := snap.Projects[0]
	loc, isMap := got["location"].(map[string]interface{})
	if !isMap || loc["city"] != "Austin" {
		t.Errorf("location: got %#v", got["location"])
	}
	if tags, isSlice := got["tags"].([]interface{}); !isSlice || len(tags) != 2 {
		t.Errorf("tags: got %#v", got["tags"])
	}
}

func TestGetProjects_MissingEntry(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := newStore(t, db, nil)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	if snap, ok := store.GetProjects(ctx, "nobody"); ok || snap != nil {
		t.Errorf("expected no snapshot, got %+v", snap)
	}
}

func TestDeleteSet_HundredMinusThree(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := newStore(t, db, nil)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	store.ReplaceAll(ctx, "u1", testutil.Projects("p", 100), 100)

	removed := []string{"p-7", "p-42", "p-99"}
	if !store.DeleteSet(ctx, "u1", removed) {
		t.Fatal("DeleteSet returned false")
	}

	snap, ok := store.GetProjects(ctx, "u1")
	if !ok {
		t.Fatal("GetProjects: expected a snapshot")
	}
	if len(snap.Projects) != 97 {
		t.Errorf("projects: got %d, want 97", len(snap.Projects))
	}
	for _, p := range snap.Projects {
		for _, r := range removed {
			if p.ID() == r {
				t.Errorf("removed project %q still cached", r)
			}
		}
	}
	if st := store.Stats(ctx, "u1"); st.TotalCount != 97 {
		t.Errorf("Stats.TotalCount: got %d, want 97", st.TotalCount)
	}
}

func TestDeleteSet_DisjointSetsKeepEstimateExact(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := newStore(t, db, nil)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	store.ReplaceAll(ctx, "u1", testutil.Projects("p", 20), 20)
	store.DeleteSet(ctx, "u1", []string{"p-0", "p-1"})
	store.DeleteSet(ctx, "u1", []string{"p-2"})
	store.DeleteSet(ctx, "u1", []string{"p-3", "p-4", "p-5"})

	var e models.CacheEntry
	if err := db.Collection(projectcache.EntriesCollection).FindOne(ctx, bson.M{"_id": "u1"}).Decode(&e); err != nil {
		t.Fatalf("read entry: %v", err)
	}
	if e.TotalCount != 14 {
		t.Errorf("stored total_count: got %d, want 14", e.TotalCount)
	}
	if st := store.Stats(ctx, "u1"); st.TotalCount != 14 {
		t.Errorf("Stats.TotalCount: got %d, want 14", st.TotalCount)
	}
}

func TestDeleteSet_EstimateNeverNegative(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := newStore(t, db, nil)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	store.ReplaceAll(ctx, "u1", testutil.Projects("p", 2), 2)
	if !store.DeleteSet(ctx, "u1", []string{"p-0", "p-1", "absent-1", "absent-2"}) {
		t.Fatal("DeleteSet returned false")
	}

	var e models.CacheEntry
	if err := db.Collection(projectcache.EntriesCollection).FindOne(ctx, bson.M{"_id": "u1"}).Decode(&e); err != nil {
		t.Fatalf("read entry: %v", err)
	}
	if e.TotalCount != 0 {
		t.Errorf("stored total_count: got %d, want 0", e.TotalCount)
	}
}

func TestDeleteSet_EmptyAndMissing(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := newStore(t, db, nil)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	if !store.DeleteSet(ctx, "nobody", nil) {
		t.Error("empty id list should succeed")
	}
	if store.DeleteSet(ctx, "nobody", []string{"x"}) {
		t.Error("DeleteSet on a missing entry should return false")
	}
}

func TestIsFresh(t *testing.T) {
	db := testutil.SetupTestDB(t)
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store := newStore(t, db, clock)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	if store.IsFresh(ctx, "u1", 24*time.Hour) {
		t.Error("missing entry should not be fresh")
	}

	store.ReplaceAll(ctx, "u1", testutil.Projects("p", 1), 1)

	clock.Advance(time.Hour)
	if !store.IsFresh(ctx, "u1", 24*time.Hour) {
		t.Error("cache written 1h ago should be fresh")
	}

	clock.Advance(24 * time.Hour)
	if store.IsFresh(ctx, "u1", 24*time.Hour) {
		t.Error("cache written 25h ago should be stale")
	}
}

func TestIsFresh_UnsetTimestamp(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := newStore(t, db, nil)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	if _, err := db.Collection(projectcache.EntriesCollection).InsertOne(ctx, bson.M{"_id": "u1", "total_count": 0}); err != nil {
		t.Fatalf("insert entry: %v", err)
	}
	if store.IsFresh(ctx, "u1", 24*time.Hour) {
		t.Error("entry without cached_at should not be fresh")
	}
}

func TestStats(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := newStore(t, db, nil)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	if st := store.Stats(ctx, "nobody"); st.Exists {
		t.Errorf("expected no entry, got %+v", st)
	}

	store.ReplaceAll(ctx, "u1", testutil.Projects("p", 4), 4)
	st := store.Stats(ctx, "u1")
	if !st.Exists || st.CachedAt == nil || st.LastUpdated == nil {
		t.Fatalf("Stats: got %+v", st)
	}
	if st.TotalCount != 4 {
		t.Errorf("TotalCount: got %d, want 4", st.TotalCount)
	}
}

func TestDelete_Cascades(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := newStore(t, db, nil)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	store.ReplaceAll(ctx, "u1", testutil.Projects("p", 3), 3)
	store.ReplaceAll(ctx, "u2", testutil.Projects("q", 2), 2)

	if !store.Delete(ctx, "u1") {
		t.Fatal("Delete returned false")
	}
	if _, ok := store.GetProjects(ctx, "u1"); ok {
		t.Error("expected u1 entry to be gone")
	}
	n, err := db.Collection(projectcache.ItemsCollection).CountDocuments(ctx, bson.M{"user_id": "u1"})
	if err != nil {
		t.Fatalf("count items: %v", err)
	}
	if n != 0 {
		t.Errorf("u1 children: got %d, want 0", n)
	}
	if st := store.Stats(ctx, "u2"); st.TotalCount != 2 {
		t.Errorf("u2 should be untouched, got %+v", st)
	}
}

func TestListUserIDs(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := newStore(t, db, nil)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	store.ReplaceAll(ctx, "b", testutil.Projects("p", 1), 1)
	store.ReplaceAll(ctx, "a", testutil.Projects("p", 1), 1)

	ids, err := store.ListUserIDs(ctx)
	if err != nil {
		t.Fatalf("ListUserIDs failed: %v", err)
	}
	sort.Strings(ids)
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Errorf("ListUserIDs: got %v, want [a b]", ids)
	}
}
