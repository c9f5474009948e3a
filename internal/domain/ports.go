package domain

import (
	"context"
	"time"
)

// Adapter is the uniform capability surface over one platform's API.
// Implementations live in internal/twitter, internal/bluesky, and
// internal/misskey.
type Adapter interface {
	// Platform returns the platform this adapter serves.
	Platform() Platform

	// Authorize builds the authorization redirect URL and the ephemeral
	// request state the caller must persist until the callback arrives.
	Authorize(ctx context.Context, hint IdentityHint) (*AuthRedirect, error)

	// CompleteAuthorization validates the callback against the pending
	// request, exchanges the authorization code for an access credential,
	// fetches the account profile, and returns the populated account.
	// Fails with an auth-kind error on state mismatch or upstream rejection.
	CompleteAuthorization(ctx context.Context, params CallbackParams, pending PendingAuth) (*LinkedAccount, error)

	// UploadAttachment uploads prepared image bytes and returns a reference
	// usable at publish time.
	UploadAttachment(ctx context.Context, account *LinkedAccount, data []byte, mimeType string) (*AttachmentRef, error)

	// Publish creates the post and returns its remote id and permalink.
	Publish(ctx context.Context, account *LinkedAccount, content string, refs []AttachmentRef, opts PublishOptions) (*PublishResult, error)

	// MaxAttachments is the platform's attachment count ceiling. Excess
	// attachments are dropped before upload.
	MaxAttachments() int

	// MaxAttachmentBytes is the platform's per-attachment byte ceiling.
	// Zero means no ceiling.
	MaxAttachmentBytes() int
}

// SessionRepository stores linked accounts per browser session, keyed by
// platform. GetAccount returns (nil, nil) when the platform is not linked.
// The orchestrator only reads; writes come from the authorization flow and
// explicit unlink.
type SessionRepository interface {
	GetAccount(ctx context.Context, sessionID string, platform Platform) (*LinkedAccount, error)
	PutAccount(ctx context.Context, sessionID string, platform Platform, account *LinkedAccount) error
	DeleteAccount(ctx context.Context, sessionID string, platform Platform) error
	ListAccounts(ctx context.Context, sessionID string) (map[Platform]*LinkedAccount, error)
}

// PendingAuthStore holds in-flight authorization requests under a random
// token until their TTL expires. Take consumes the request: a second Take of
// the same token reports ok false.
type PendingAuthStore interface {
	Put(ctx context.Context, token string, pending PendingAuth, expiresAt time.Time)
	Take(ctx context.Context, token string) (PendingAuth, bool)
}

// PreparedAttachment is an image normalized for upload.
type PreparedAttachment struct {
	Data     []byte
	MimeType string
	Width    int
	Height   int
}

// AttachmentPreparer re-encodes a raw image so it fits under maxBytes.
// maxBytes zero means encode once without the shrink loop.
type AttachmentPreparer interface {
	Prepare(ctx context.Context, data []byte, maxBytes int) (*PreparedAttachment, error)
}
