// Package authflow runs the per-platform authorization lifecycle: minting
// and persisting the ephemeral request state, validating the callback, and
// committing the linked account to the session. Nothing is written to the
// session unless the whole flow succeeds.
package authflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/seojinpark/crosspost/internal/domain"
)

// RequestTTL is how long an in-flight authorization request stays valid.
const RequestTTL = 10 * time.Minute

// Flow drives authorization attempts over the platform adapters.
type Flow struct {
	adapters map[domain.Platform]domain.Adapter
	pending  domain.PendingAuthStore
	sessions domain.SessionRepository
	logger   *slog.Logger
}

// NewFlow creates a Flow over the given adapters.
func NewFlow(
	adapters []domain.Adapter,
	pending domain.PendingAuthStore,
	sessions domain.SessionRepository,
	logger *slog.Logger,
) *Flow {
	byPlatform := make(map[domain.Platform]domain.Adapter, len(adapters))
	for _, a := range adapters {
		byPlatform[a.Platform()] = a
	}
	return &Flow{
		adapters: byPlatform,
		pending:  pending,
		sessions: sessions,
		logger:   logger,
	}
}

// StartResult is a freshly initiated authorization attempt. Token must be
// carried to the callback request (a short-TTL cookie) to locate the
// pending state.
type StartResult struct {
	RedirectURL string
	Token       string
	ExpiresAt   time.Time
}

// CallbackResult is the outcome of a completed callback. When Retry is
// non-nil, the silent attempt was rejected for requiring interactive
// consent and a fresh interactive attempt has been issued; the caller
// should store the new token and redirect again instead of surfacing an
// error.
type CallbackResult struct {
	RedirectTo string
	Retry      *StartResult
}

// Start initiates an authorization attempt and persists its ephemeral state
// under a fresh random token with a 10-minute TTL.
func (f *Flow) Start(ctx context.Context, platform domain.Platform, hint domain.IdentityHint) (*StartResult, error) {
	adapter, ok := f.adapters[platform]
	if !ok {
		return nil, domain.NewConfigurationError(platform, "no adapter configured for %s", platform)
	}

	redirect, err := adapter.Authorize(ctx, hint)
	if err != nil {
		return nil, err
	}

	token := uuid.NewString()
	pending := redirect.Pending
	pending.Token = token
	expiresAt := time.Now().UTC().Add(RequestTTL)
	f.pending.Put(ctx, token, pending, expiresAt)

	f.logger.Info("authorization started",
		"platform", platform,
		"interactive", hint.Interactive,
	)

	return &StartResult{
		RedirectURL: redirect.URL,
		Token:       token,
		ExpiresAt:   expiresAt,
	}, nil
}

// HandleCallback consumes the pending request for token and completes the
// authorization. An expired, already-used, or mismatched request is rejected
// without touching the session. On success the linked account is written to
// the session and the original redirect target is returned.
func (f *Flow) HandleCallback(
	ctx context.Context,
	sessionID string,
	platform domain.Platform,
	token string,
	params domain.CallbackParams,
) (*CallbackResult, error) {
	adapter, ok := f.adapters[platform]
	if !ok {
		return nil, domain.NewConfigurationError(platform, "no adapter configured for %s", platform)
	}

	pending, ok := f.pending.Take(ctx, token)
	if !ok || pending.Platform != platform {
		return nil, domain.NewAuthError(platform, "authorization request expired or already used")
	}

	if params.ErrorCode != "" {
		if consentRequired(params.ErrorCode) {
			retry, err := f.Start(ctx, platform, domain.IdentityHint{
				Handle:      pending.Handle,
				Host:        pending.Host,
				RedirectTo:  pending.RedirectTo,
				Interactive: true,
			})
			if err != nil {
				return nil, err
			}
			f.logger.Info("silent authorization rejected, retrying interactively",
				"platform", platform,
				"code", params.ErrorCode,
			)
			return &CallbackResult{Retry: retry}, nil
		}
		return nil, domain.NewAuthError(platform, "authorization rejected: %s", params.ErrorCode)
	}

	account, err := adapter.CompleteAuthorization(ctx, params, pending)
	if err != nil {
		return nil, err
	}

	if err := f.sessions.PutAccount(ctx, sessionID, platform, account); err != nil {
		return nil, fmt.Errorf("store linked account: %w", err)
	}

	f.logger.Info("account linked",
		"platform", platform,
		"handle", account.Handle,
	)

	redirectTo := pending.RedirectTo
	if redirectTo == "" {
		redirectTo = "/"
	}
	return &CallbackResult{RedirectTo: redirectTo}, nil
}

// Unlink removes the platform's linked account from the session.
func (f *Flow) Unlink(ctx context.Context, sessionID string, platform domain.Platform) error {
	if err := f.sessions.DeleteAccount(ctx, sessionID, platform); err != nil {
		return fmt.Errorf("delete linked account: %w", err)
	}
	f.logger.Info("account unlinked", "platform", platform)
	return nil
}

// consentRequired reports whether the authorization server rejected a
// silent attempt because the user must interact.
func consentRequired(code string) bool {
	switch code {
	case "login_required", "consent_required", "interaction_required":
		return true
	}
	return false
}
