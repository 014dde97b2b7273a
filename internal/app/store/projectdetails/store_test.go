package projectdetails_test

import (
	"testing"
	"time"

	"github.com/dalemusser/respondentpro/internal/app/store/projectdetails"
	"github.com/dalemusser/respondentpro/internal/domain/models"
	"github.com/dalemusser/respondentpro/internal/testutil"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

func TestPutAndGet(t *testing.T) {
	db := testutil.SetupTestDB(t)
	clock := clockwork.NewFakeClockAt(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
	store := projectdetails.New(db, clock, zap.NewNop())
	ctx, cancel := testutil.TestContext()
	defer cancel()

	if _, ok := store.Get(ctx, "p1", 0); ok {
		t.Fatal("expected miss before Put")
	}
	if !store.Put(ctx, "p1", models.Project{"id": "p1", "screener": map[string]interface{}{"questions": 4.0}}) {
		t.Fatal("Put returned false")
	}

	got, ok := store.Get(ctx, "p1", time.Hour)
	if !ok {
		t.Fatal("expected hit")
	}
	screener, isMap := got["screener"].(map[string]interface{})
	if !isMap || screener["questions"] != 4.0 {
		t.Errorf("screener: got %#v", got["screener"])
	}

	clock.Advance(2 * time.Hour)
	if _, ok := store.Get(ctx, "p1", time.Hour); ok {
		t.Error("expected stale details to miss")
	}
	if _, ok := store.Get(ctx, "p1", 0); !ok {
		t.Error("maxAge 0 should accept any age")
	}
}
