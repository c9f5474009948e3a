package authflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seojinpark/crosspost/internal/domain"
)

func TestMemoryStore_TakeConsumes(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	pending := domain.PendingAuth{
		Token:    "tok",
		Platform: domain.PlatformBluesky,
		State:    "state-1",
	}
	store.Put(ctx, "tok", pending, time.Now().Add(time.Minute))

	got, ok := store.Take(ctx, "tok")
	require.True(t, ok)
	assert.Equal(t, pending, got)

	_, ok = store.Take(ctx, "tok")
	assert.False(t, ok, "second take of the same token fails")
}

func TestMemoryStore_TakeUnknownToken(t *testing.T) {
	store := NewMemoryStore()

	_, ok := store.Take(context.Background(), "never-stored")
	assert.False(t, ok)
}

func TestMemoryStore_ExpiredRequestIsRejected(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	now := time.Now().UTC()
	store.nowF = func() time.Time { return now }

	store.Put(ctx, "tok", domain.PendingAuth{Token: "tok"}, now.Add(10*time.Minute))

	now = now.Add(10*time.Minute + time.Second)

	_, ok := store.Take(ctx, "tok")
	assert.False(t, ok, "expired request behaves like a missing one")
}

func TestMemoryStore_NotYetExpired(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	now := time.Now().UTC()
	store.nowF = func() time.Time { return now }

	store.Put(ctx, "tok", domain.PendingAuth{Token: "tok"}, now.Add(10*time.Minute))

	now = now.Add(9 * time.Minute)

	_, ok := store.Take(ctx, "tok")
	assert.True(t, ok)
}
