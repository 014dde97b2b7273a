package identity_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dalemusser/respondentpro/internal/app/system/identity"
	"github.com/dalemusser/respondentpro/internal/domain/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

type fakeUsers struct {
	mu       sync.Mutex
	byID     map[string]*models.User
	byLegacy map[string]*models.User
	err      error
	calls    int
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{byID: map[string]*models.User{}, byLegacy: map[string]*models.User{}}
}

func (f *fakeUsers) add(u models.User) {
	f.byID[u.ID] = &u
	if u.LegacyUID != "" {
		f.byLegacy[u.LegacyUID] = &u
	}
}

func (f *fakeUsers) GetByID(_ context.Context, id string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if u, ok := f.byID[id]; ok {
		return u, nil
	}
	return nil, mongo.ErrNoDocuments
}

func (f *fakeUsers) GetByLegacyUID(_ context.Context, legacy string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if u, ok := f.byLegacy[legacy]; ok {
		return u, nil
	}
	return nil, mongo.ErrNoDocuments
}

func TestResolve_CanonicalRecord(t *testing.T) {
	users := newFakeUsers()
	users.add(models.User{ID: "canon"})
	r := identity.NewResolver(users, 16, time.Minute, zap.NewNop())

	got := r.Resolve(context.Background(), "canon")
	assert.Equal(t, identity.Identity{Canonical: "canon"}, got)
	assert.False(t, got.HasLegacy())
}

func TestResolve_LegacyCrossReference(t *testing.T) {
	users := newFakeUsers()
	// The record keyed "old-key" names "new-id" as its legacy uid.
	users.byLegacy["new-id"] = &models.User{ID: "old-key", LegacyUID: "new-id"}
	r := identity.NewResolver(users, 16, time.Minute, zap.NewNop())

	got := r.Resolve(context.Background(), "new-id")
	assert.Equal(t, "new-id", got.Canonical, "caller id is passed through as canonical")
	assert.Equal(t, "old-key", got.Legacy)
	assert.True(t, got.HasLegacy())
}

func TestResolve_UnknownPassesThrough(t *testing.T) {
	r := identity.NewResolver(newFakeUsers(), 16, time.Minute, zap.NewNop())

	got := r.Resolve(context.Background(), "stranger")
	assert.Equal(t, identity.Identity{Canonical: "stranger"}, got)
}

func TestResolve_LookupErrorFailsOpen(t *testing.T) {
	users := newFakeUsers()
	users.err = errors.New("connection reset")
	r := identity.NewResolver(users, 16, time.Minute, zap.NewNop())

	got := r.Resolve(context.Background(), "anyone")
	assert.Equal(t, identity.Identity{Canonical: "anyone"}, got)
}

func TestResolve_MemoizesPositiveResultsOnly(t *testing.T) {
	users := newFakeUsers()
	users.add(models.User{ID: "known"})
	r := identity.NewResolver(users, 16, time.Minute, zap.NewNop())
	ctx := context.Background()

	r.Resolve(ctx, "known")
	r.Resolve(ctx, "known")
	require.Equal(t, 1, users.calls, "second resolve of a known user should hit the memo")

	users.calls = 0
	r.Resolve(ctx, "missing")
	r.Resolve(ctx, "missing")
	assert.Equal(t, 4, users.calls, "misses are looked up every time")

	users.add(models.User{ID: "missing"})
	assert.Equal(t, identity.Identity{Canonical: "missing"}, r.Resolve(ctx, "missing"))
}

func TestResolve_Forget(t *testing.T) {
	users := newFakeUsers()
	users.add(models.User{ID: "known"})
	r := identity.NewResolver(users, 16, time.Minute, zap.NewNop())
	ctx := context.Background()

	r.Resolve(ctx, "known")
	r.Forget("known")
	r.Resolve(ctx, "known")
	assert.Equal(t, 2, users.calls)
}

func TestResolve_EmptyID(t *testing.T) {
	users := newFakeUsers()
	r := identity.NewResolver(users, 16, time.Minute, zap.NewNop())

	assert.Equal(t, identity.Identity{}, r.Resolve(context.Background(), ""))
	assert.Zero(t, users.calls)
}

func TestResolve_ConcurrentUse(t *testing.T) {
	users := newFakeUsers()
	users.add(models.User{ID: "u1", LegacyUID: "old1"})
	users.add(models.User{ID: "u2"})
	r := identity.NewResolver(users, 4, time.Minute, zap.NewNop())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			switch i % 3 {
			case 0:
				assert.Equal(t, identity.Identity{Canonical: "old1", Legacy: "u1"}, r.Resolve(ctx, "old1"))
			case 1:
				assert.Equal(t, identity.Identity{Canonical: "u2"}, r.Resolve(ctx, "u2"))
			default:
				r.Forget("u2")
			}
		}(i)
	}
	wg.Wait()
}
