package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Platform identifies one of the supported social networks.
type Platform string

const (
	PlatformTwitter Platform = "twitter"
	PlatformBluesky Platform = "bluesky"
	PlatformMisskey Platform = "misskey"
)

// ParsePlatform validates a platform identifier from external input.
func ParsePlatform(s string) (Platform, error) {
	switch Platform(s) {
	case PlatformTwitter, PlatformBluesky, PlatformMisskey:
		return Platform(s), nil
	}
	return "", fmt.Errorf("unknown platform: %q", s)
}

// LinkedAccount is the stored credential and profile snapshot for one
// platform. Host is set only for federated platforms where the instance
// varies per user.
type LinkedAccount struct {
	ID          string `json:"id"`
	DisplayName string `json:"name"`
	Handle      string `json:"handle"`
	AvatarURL   string `json:"avatar,omitempty"`
	Host        string `json:"host,omitempty"`
	AccessToken string `json:"accessToken"`
	Refreshable bool   `json:"refreshable"`
}

// Profile is the outward-facing view of a LinkedAccount with the credential
// stripped.
type Profile struct {
	ID          string `json:"id"`
	DisplayName string `json:"name"`
	Handle      string `json:"handle"`
	AvatarURL   string `json:"avatar,omitempty"`
	Host        string `json:"host,omitempty"`
}

// Profile returns the account without its access credential.
func (a *LinkedAccount) Profile() Profile {
	return Profile{
		ID:          a.ID,
		DisplayName: a.DisplayName,
		Handle:      a.Handle,
		AvatarURL:   a.AvatarURL,
		Host:        a.Host,
	}
}

// IdentityHint carries the user-supplied target identity for an authorization
// attempt: the handle for Bluesky, the instance hostname for Misskey.
// RedirectTo is where the browser should land after the flow completes.
// Interactive forces an interactive consent screen on platforms that would
// otherwise attempt silent authorization.
type IdentityHint struct {
	Handle      string
	Host        string
	RedirectTo  string
	Interactive bool
}

// PendingAuth is the ephemeral server-held state for one in-flight
// authorization attempt. It is stored under Token with a short TTL and is
// consumed exactly once by the callback.
type PendingAuth struct {
	Token        string
	Platform     Platform
	State        string
	CodeVerifier string
	Handle       string
	Host         string
	RedirectTo   string
	CreatedAt    time.Time
}

// AuthRedirect is the result of starting an authorization attempt.
type AuthRedirect struct {
	URL     string
	Pending PendingAuth
}

// CallbackParams are the query parameters delivered to the OAuth callback.
// Issuer is set by platforms that echo their issuer (Misskey's iss
// parameter). ErrorCode is set when the authorization server rejected the
// attempt instead of issuing a code.
type CallbackParams struct {
	Code      string
	State     string
	Issuer    string
	ErrorCode string
}

// AttachmentRef is an opaque reference to an uploaded attachment, usable at
// publish time. ID is set for platforms that key uploads by id; Blob carries
// the raw reference for platforms that embed it in the post record. Width and
// Height are the pixel dimensions of the uploaded image.
type AttachmentRef struct {
	ID       string
	Blob     json.RawMessage
	MimeType string
	Width    int
	Height   int
}

// Visibility is the audience level for platforms that support one.
type Visibility string

const (
	VisibilityPublic    Visibility = "public"
	VisibilityHome      Visibility = "home"
	VisibilityFollowers Visibility = "followers"
)

// ParseVisibility validates a visibility value, defaulting to public when
// empty.
func ParseVisibility(s string) (Visibility, error) {
	if s == "" {
		return VisibilityPublic, nil
	}
	switch Visibility(s) {
	case VisibilityPublic, VisibilityHome, VisibilityFollowers:
		return Visibility(s), nil
	}
	return "", fmt.Errorf("unknown visibility: %q", s)
}

// PublishOptions carries platform-specific knobs for a publish call.
// Adapters ignore options they do not support.
type PublishOptions struct {
	Visibility Visibility
}

// PublishResult identifies the created post on the remote platform.
type PublishResult struct {
	RemoteID  string
	Permalink string
}
