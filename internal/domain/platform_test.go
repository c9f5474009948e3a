package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePlatform(t *testing.T) {
	for _, name := range []string{"twitter", "bluesky", "misskey"} {
		platform, err := ParsePlatform(name)
		require.NoError(t, err)
		assert.Equal(t, Platform(name), platform)
	}

	_, err := ParsePlatform("myspace")
	assert.Error(t, err)

	_, err = ParsePlatform("")
	assert.Error(t, err)
}

func TestParseVisibility(t *testing.T) {
	visibility, err := ParseVisibility("")
	require.NoError(t, err)
	assert.Equal(t, VisibilityPublic, visibility, "empty defaults to public")

	for _, name := range []string{"public", "home", "followers"} {
		visibility, err := ParseVisibility(name)
		require.NoError(t, err)
		assert.Equal(t, Visibility(name), visibility)
	}

	_, err = ParseVisibility("secret")
	assert.Error(t, err)
}

func TestProfileStripsCredential(t *testing.T) {
	account := &LinkedAccount{
		ID:          "acct-1",
		DisplayName: "Alice",
		Handle:      "alice",
		AvatarURL:   "https://img.example/a.png",
		Host:        "misskey.example",
		AccessToken: "secret-token",
		Refreshable: true,
	}

	profile := account.Profile()
	assert.Equal(t, "acct-1", profile.ID)
	assert.Equal(t, "alice", profile.Handle)
	assert.Equal(t, "misskey.example", profile.Host)
}
