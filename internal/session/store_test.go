package session

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seojinpark/crosspost/internal/domain"
)

func TestSealer_RoundTrip(t *testing.T) {
	s, err := newSealer("secret")
	require.NoError(t, err)

	sealed, err := s.seal([]byte("hello"))
	require.NoError(t, err)
	assert.NotEqual(t, []byte("hello"), sealed)

	plain, err := s.open(sealed)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), plain)
}

func TestSealer_WrongSecretFails(t *testing.T) {
	s1, err := newSealer("secret-one")
	require.NoError(t, err)
	s2, err := newSealer("secret-two")
	require.NoError(t, err)

	sealed, err := s1.seal([]byte("hello"))
	require.NoError(t, err)

	_, err = s2.open(sealed)
	assert.Error(t, err)
}

func TestSealer_RejectsEmptySecret(t *testing.T) {
	_, err := newSealer("")
	assert.Error(t, err)
}

func TestSealer_RejectsTruncatedBlob(t *testing.T) {
	s, err := newSealer("secret")
	require.NoError(t, err)

	_, err = s.open([]byte{1, 2, 3})
	assert.Error(t, err)
}

// repositoryContract exercises the behavior shared by every
// domain.SessionRepository implementation.
func repositoryContract(t *testing.T, store domain.SessionRepository) {
	t.Helper()
	ctx := context.Background()

	account, err := store.GetAccount(ctx, "session-1", domain.PlatformTwitter)
	require.NoError(t, err)
	assert.Nil(t, account, "unlinked platform reads as nil without error")

	want := &domain.LinkedAccount{
		ID:          "12345",
		DisplayName: "Alice",
		Handle:      "alice",
		AvatarURL:   "https://example.com/a.png",
		AccessToken: "access-token",
		Refreshable: true,
	}
	require.NoError(t, store.PutAccount(ctx, "session-1", domain.PlatformTwitter, want))

	got, err := store.GetAccount(ctx, "session-1", domain.PlatformTwitter)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// Re-linking replaces the stored account.
	replacement := &domain.LinkedAccount{ID: "67890", Handle: "alice2", AccessToken: "new-token"}
	require.NoError(t, store.PutAccount(ctx, "session-1", domain.PlatformTwitter, replacement))

	got, err = store.GetAccount(ctx, "session-1", domain.PlatformTwitter)
	require.NoError(t, err)
	assert.Equal(t, "67890", got.ID)

	// Sessions are isolated from each other.
	other, err := store.GetAccount(ctx, "session-2", domain.PlatformTwitter)
	require.NoError(t, err)
	assert.Nil(t, other)

	// Platforms within a session are independent.
	misskey := &domain.LinkedAccount{ID: "m1", Handle: "alice", Host: "misskey.io", AccessToken: "tok"}
	require.NoError(t, store.PutAccount(ctx, "session-1", domain.PlatformMisskey, misskey))

	accounts, err := store.ListAccounts(ctx, "session-1")
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "misskey.io", accounts[domain.PlatformMisskey].Host)

	require.NoError(t, store.DeleteAccount(ctx, "session-1", domain.PlatformTwitter))
	got, err = store.GetAccount(ctx, "session-1", domain.PlatformTwitter)
	require.NoError(t, err)
	assert.Nil(t, got)

	accounts, err = store.ListAccounts(ctx, "session-1")
	require.NoError(t, err)
	assert.Len(t, accounts, 1)
}

func TestMemoryStore(t *testing.T) {
	repositoryContract(t, NewMemoryStore())
}

func TestSQLiteStore(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), "secret")
	require.NoError(t, err)
	defer store.Close()

	repositoryContract(t, store)
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(path, "secret")
	require.NoError(t, err)
	require.NoError(t, store.PutAccount(ctx, "session-1", domain.PlatformBluesky,
		&domain.LinkedAccount{ID: "did:plc:abc", Handle: "alice.bsky.social", AccessToken: "tok"}))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(path, "secret")
	require.NoError(t, err)
	defer reopened.Close()

	account, err := reopened.GetAccount(ctx, "session-1", domain.PlatformBluesky)
	require.NoError(t, err)
	require.NotNil(t, account)
	assert.Equal(t, "did:plc:abc", account.ID)
}

func TestSQLiteStore_WrongSecretCannotDecode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(path, "secret")
	require.NoError(t, err)
	require.NoError(t, store.PutAccount(ctx, "session-1", domain.PlatformTwitter,
		&domain.LinkedAccount{ID: "1", AccessToken: "tok"}))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(path, "other-secret")
	require.NoError(t, err)
	defer reopened.Close()

	_, err = reopened.GetAccount(ctx, "session-1", domain.PlatformTwitter)
	assert.Error(t, err)
}
