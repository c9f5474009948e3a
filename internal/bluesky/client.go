package bluesky

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"github.com/seojinpark/crosspost/internal/domain"
	"github.com/seojinpark/crosspost/internal/oauth"
)

const (
	defaultPDS = "https://bsky.social"

	maxAttachments     = 4
	maxAttachmentBytes = 970_000
)

const scope = "atproto transition:generic"

// handlePattern matches a valid Bluesky handle (a DNS name).
var handlePattern = regexp.MustCompile(`^([a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?$`)

// Config holds the OAuth client identity for the Bluesky adapter.
type Config struct {
	// ClientID is the public URL of this app's OAuth client metadata
	// document.
	ClientID    string
	RedirectURI string

	// PDS overrides the PDS base URL. Defaults to https://bsky.social.
	PDS string
}

// Client is a Bluesky/AT Protocol adapter: DID-based OAuth authorization,
// blob upload, and post creation via applyWrites. It implements
// domain.Adapter.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient creates a new Bluesky adapter. If cfg.PDS is empty, it defaults
// to https://bsky.social.
func NewClient(cfg Config) *Client {
	if cfg.PDS == "" {
		cfg.PDS = defaultPDS
	}
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Platform returns domain.PlatformBluesky.
func (c *Client) Platform() domain.Platform {
	return domain.PlatformBluesky
}

// MaxAttachments returns the per-post image limit.
func (c *Client) MaxAttachments() int {
	return maxAttachments
}

// MaxAttachmentBytes returns the blob byte ceiling.
func (c *Client) MaxAttachmentBytes() int {
	return maxAttachmentBytes
}

// Authorize resolves the handle to a DID and builds the authorization URL.
// Unless hint.Interactive is set, the URL requests silent authorization
// (prompt=none); a consent-required rejection is retried interactively by
// the authorization flow.
func (c *Client) Authorize(ctx context.Context, hint domain.IdentityHint) (*domain.AuthRedirect, error) {
	if !handlePattern.MatchString(hint.Handle) {
		return nil, domain.NewValidationError(domain.PlatformBluesky, "invalid Bluesky handle: %q", hint.Handle)
	}

	did, err := c.resolveHandle(ctx, hint.Handle)
	if err != nil {
		return nil, err
	}

	state, err := oauth.GenerateState()
	if err != nil {
		return nil, fmt.Errorf("generate state: %w", err)
	}
	verifier, err := oauth.GenerateVerifier()
	if err != nil {
		return nil, fmt.Errorf("generate code verifier: %w", err)
	}

	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", c.cfg.ClientID)
	q.Set("redirect_uri", c.cfg.RedirectURI)
	q.Set("scope", scope)
	q.Set("state", state)
	q.Set("code_challenge", oauth.S256Challenge(verifier))
	q.Set("code_challenge_method", "S256")
	q.Set("login_hint", hint.Handle)
	if !hint.Interactive {
		q.Set("prompt", "none")
	}

	return &domain.AuthRedirect{
		URL: c.cfg.PDS + "/oauth/authorize?" + q.Encode(),
		Pending: domain.PendingAuth{
			Platform:     domain.PlatformBluesky,
			State:        state,
			CodeVerifier: verifier,
			Handle:       hint.Handle,
			Host:         did,
			RedirectTo:   hint.RedirectTo,
			CreatedAt:    time.Now().UTC(),
		},
	}, nil
}

// CompleteAuthorization validates the callback, exchanges the code with the
// PKCE verifier, and fetches the account profile.
func (c *Client) CompleteAuthorization(ctx context.Context, params domain.CallbackParams, pending domain.PendingAuth) (*domain.LinkedAccount, error) {
	if params.Code == "" || params.State == "" || params.State != pending.State {
		return nil, domain.NewAuthError(domain.PlatformBluesky, "invalid authorization callback")
	}

	token, did, err := c.exchangeCode(ctx, params.Code, pending.CodeVerifier)
	if err != nil {
		return nil, err
	}
	if did == "" {
		did = pending.Host
	}

	profile, err := c.fetchProfile(ctx, token, did)
	if err != nil {
		return nil, err
	}

	name := profile.DisplayName
	if name == "" {
		name = profile.Handle
	}

	return &domain.LinkedAccount{
		ID:          profile.DID,
		DisplayName: name,
		Handle:      profile.Handle,
		AvatarURL:   profile.Avatar,
		AccessToken: token,
		Refreshable: true,
	}, nil
}

// UploadAttachment uploads raw image bytes as a blob. The blob is garbage
// collected upstream if not referenced in a record within a time window.
func (c *Client) UploadAttachment(ctx context.Context, account *domain.LinkedAccount, data []byte, mimeType string) (*domain.AttachmentRef, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.PDS+"/xrpc/com.atproto.repo.uploadBlob", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mimeType)
	req.Header.Set("Authorization", "Bearer "+account.AccessToken)

	var result uploadBlobResponse
	if err := c.do(req, &result); err != nil {
		return nil, err
	}

	return &domain.AttachmentRef{Blob: result.Blob, MimeType: mimeType}, nil
}

// Publish creates an app.bsky.feed.post record via applyWrites, embedding
// uploaded images with their declared aspect ratios.
func (c *Client) Publish(ctx context.Context, account *domain.LinkedAccount, content string, refs []domain.AttachmentRef, _ domain.PublishOptions) (*domain.PublishResult, error) {
	rkey := nextTID()

	record := postRecord{
		Type:      "app.bsky.feed.post",
		Text:      content,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if len(refs) > 0 {
		embed := &imagesEmbed{Type: "app.bsky.embed.images"}
		for _, ref := range refs {
			embed.Images = append(embed.Images, embeddedImage{
				Alt:   "",
				Image: ref.Blob,
				AspectRatio: &aspectRatio{
					Width:  ref.Width,
					Height: ref.Height,
				},
			})
		}
		record.Embed = embed
	}

	body := applyWritesRequest{
		Repo:     account.ID,
		Validate: true,
		Writes: []applyWritesCreate{{
			Type:       "com.atproto.repo.applyWrites#create",
			Collection: "app.bsky.feed.post",
			RKey:       rkey,
			Value:      record,
		}},
	}

	var resp json.RawMessage
	if err := c.postJSON(ctx, "/xrpc/com.atproto.repo.applyWrites", account.AccessToken, body, &resp); err != nil {
		return nil, err
	}

	return &domain.PublishResult{
		RemoteID:  rkey,
		Permalink: fmt.Sprintf("https://bsky.app/profile/%s/post/%s", account.Handle, rkey),
	}, nil
}

func (c *Client) resolveHandle(ctx context.Context, handle string) (string, error) {
	u := c.cfg.PDS + "/xrpc/com.atproto.identity.resolveHandle?handle=" + url.QueryEscape(handle)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	var result struct {
		DID string `json:"did"`
	}
	if err := c.do(req, &result); err != nil {
		return "", err
	}
	if result.DID == "" {
		return "", domain.NewValidationError(domain.PlatformBluesky, "could not resolve handle %q", handle)
	}
	return result.DID, nil
}

func (c *Client) exchangeCode(ctx context.Context, code, verifier string) (token, did string, err error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", c.cfg.RedirectURI)
	form.Set("client_id", c.cfg.ClientID)
	form.Set("code_verifier", verifier)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.PDS+"/oauth/token", bytes.NewReader([]byte(form.Encode())))
	if err != nil {
		return "", "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var result tokenResponse
	if err := c.do(req, &result); err != nil {
		return "", "", err
	}
	if result.AccessToken == "" {
		return "", "", domain.NewAuthError(domain.PlatformBluesky, "token endpoint returned no access token")
	}
	return result.AccessToken, result.Sub, nil
}

func (c *Client) fetchProfile(ctx context.Context, token, did string) (*profileResponse, error) {
	u := c.cfg.PDS + "/xrpc/app.bsky.actor.getProfile?actor=" + url.QueryEscape(did)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	var result profileResponse
	if err := c.do(req, &result); err != nil {
		return nil, err
	}
	if result.DID == "" {
		return nil, domain.NewAuthError(domain.PlatformBluesky, "failed to fetch profile")
	}
	return &result, nil
}

func (c *Client) postJSON(ctx context.Context, path, token string, body, result any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.PDS+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	return c.do(req, result)
}

func (c *Client) do(req *http.Request, result any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.NewTransientError(domain.PlatformBluesky, fmt.Errorf("send request: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.NewTransientError(domain.PlatformBluesky, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classifyStatus(resp.StatusCode, respBody)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

func classifyStatus(status int, body []byte) error {
	msg := fmt.Sprintf("bluesky API error (status %d): %s", status, string(body))
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domain.NewAuthError(domain.PlatformBluesky, "%s", msg)
	case status >= 500:
		return domain.NewTransientError(domain.PlatformBluesky, fmt.Errorf("%s", msg))
	default:
		return domain.NewValidationError(domain.PlatformBluesky, "%s", msg)
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	Sub         string `json:"sub"`
	TokenType   string `json:"token_type"`
}

type profileResponse struct {
	DID         string `json:"did"`
	Handle      string `json:"handle"`
	DisplayName string `json:"displayName"`
	Avatar      string `json:"avatar"`
}

type uploadBlobResponse struct {
	Blob json.RawMessage `json:"blob"`
}

type aspectRatio struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type embeddedImage struct {
	Alt         string          `json:"alt"`
	Image       json.RawMessage `json:"image"`
	AspectRatio *aspectRatio    `json:"aspectRatio,omitempty"`
}

type imagesEmbed struct {
	Type   string          `json:"$type"`
	Images []embeddedImage `json:"images"`
}

type postRecord struct {
	Type      string       `json:"$type"`
	Text      string       `json:"text"`
	Embed     *imagesEmbed `json:"embed,omitempty"`
	CreatedAt string       `json:"createdAt"`
}

type applyWritesCreate struct {
	Type       string     `json:"$type"`
	Collection string     `json:"collection"`
	RKey       string     `json:"rkey"`
	Value      postRecord `json:"value"`
}

type applyWritesRequest struct {
	Repo     string              `json:"repo"`
	Validate bool                `json:"validate"`
	Writes   []applyWritesCreate `json:"writes"`
}
