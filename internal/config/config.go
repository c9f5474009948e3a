package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds all configuration for the application.
type Config struct {
	// PublicURL is the externally reachable base URL of this service. It is
	// used for OAuth redirect URIs and as the OAuth client id for platforms
	// that identify clients by URL.
	PublicURL string

	// Port is the HTTP server port.
	Port int

	// CookieSecret keys the browser session cookie and the at-rest
	// encryption of stored credentials.
	CookieSecret string

	// DatabasePath is the SQLite database file.
	DatabasePath string

	// TwitterClientID and TwitterClientSecret are the X API OAuth2 app
	// credentials.
	TwitterClientID     string
	TwitterClientSecret string

	// BlueskyPDS is the Bluesky PDS base URL.
	BlueskyPDS string
}

// RedirectURI returns the OAuth callback URL for the given platform id.
func (c *Config) RedirectURI(platform string) string {
	return c.PublicURL + "/callback/" + platform
}

// ClientMetadataURL returns the URL of the OAuth client metadata document
// served by this app, used as the Bluesky client id.
func (c *Config) ClientMetadataURL() string {
	return c.PublicURL + "/auth/client-metadata.json"
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	port := 3000
	if p := os.Getenv("PORT"); p != "" {
		var err error
		port, err = strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
	}

	publicURL := os.Getenv("PUBLIC_URL")
	if publicURL == "" {
		publicURL = fmt.Sprintf("http://localhost:%d", port)
	}
	publicURL = strings.TrimSuffix(publicURL, "/")

	cookieSecret := os.Getenv("COOKIE_SECRET")
	if cookieSecret == "" {
		return nil, fmt.Errorf("COOKIE_SECRET is required")
	}

	dbPath := os.Getenv("DATABASE_PATH")
	if dbPath == "" {
		dbPath = "crosspost.db"
	}

	twitterClientID := os.Getenv("TWITTER_CLIENT_ID")
	if twitterClientID == "" {
		return nil, fmt.Errorf("TWITTER_CLIENT_ID is required")
	}
	twitterClientSecret := os.Getenv("TWITTER_CLIENT_SECRET")
	if twitterClientSecret == "" {
		return nil, fmt.Errorf("TWITTER_CLIENT_SECRET is required")
	}

	blueskyPDS := os.Getenv("BLUESKY_PDS")
	if blueskyPDS == "" {
		blueskyPDS = "https://bsky.social"
	}

	return &Config{
		PublicURL:           publicURL,
		Port:                port,
		CookieSecret:        cookieSecret,
		DatabasePath:        dbPath,
		TwitterClientID:     twitterClientID,
		TwitterClientSecret: twitterClientSecret,
		BlueskyPDS:          blueskyPDS,
	}, nil
}
