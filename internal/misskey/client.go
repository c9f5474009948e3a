package misskey

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/seojinpark/crosspost/internal/domain"
	"github.com/seojinpark/crosspost/internal/oauth"
)

const (
	maxAttachments = 16

	// Misskey's upload limit is instance-configured; no ceiling is enforced
	// here, so attachments are encoded once without the shrink loop.
	maxAttachmentBytes = 0
)

var scopes = []string{"read:account", "write:notes", "write:drive"}

// Config holds the OAuth client identity for the Misskey adapter. Misskey
// follows IndieAuth: ClientID is the app's public URL.
type Config struct {
	ClientID    string
	RedirectURI string

	// BaseURL overrides the scheme+host used to reach an instance, mainly
	// for tests. When empty, instances are reached at https://{host}.
	BaseURL string
}

// Client is a Misskey adapter: per-instance OAuth discovery, drive upload,
// and note creation. The instance hostname varies per user, so every call
// is keyed by the account's host. It implements domain.Adapter.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient creates a new Misskey adapter.
func NewClient(cfg Config) *Client {
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Platform returns domain.PlatformMisskey.
func (c *Client) Platform() domain.Platform {
	return domain.PlatformMisskey
}

// MaxAttachments returns the per-note file limit.
func (c *Client) MaxAttachments() int {
	return maxAttachments
}

// MaxAttachmentBytes returns 0: no byte ceiling is enforced.
func (c *Client) MaxAttachmentBytes() int {
	return maxAttachmentBytes
}

// Authorize fetches the instance's OAuth discovery document and builds the
// authorization URL with a PKCE challenge.
func (c *Client) Authorize(ctx context.Context, hint domain.IdentityHint) (*domain.AuthRedirect, error) {
	if hint.Host == "" {
		return nil, domain.NewValidationError(domain.PlatformMisskey, "instance hostname is required")
	}

	endpoints, err := c.discoverEndpoints(ctx, hint.Host)
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
	q.Set("client_id", c.cfg.ClientID)
	q.Set("response_type", "code")
	q.Set("code_challenge", oauth.S256Challenge(verifier))
	q.Set("code_challenge_method", "S256")
	q.Set("redirect_uri", c.cfg.RedirectURI)
	q.Set("scope", strings.Join(scopes, " "))
	q.Set("state", state)

	return &domain.AuthRedirect{
		URL: endpoints.AuthorizationEndpoint + "?" + q.Encode(),
		Pending: domain.PendingAuth{
			Platform:     domain.PlatformMisskey,
			State:        state,
			CodeVerifier: verifier,
			Host:         hint.Host,
			RedirectTo:   hint.RedirectTo,
			CreatedAt:    time.Now().UTC(),
		},
	}, nil
}

// CompleteAuthorization validates the callback, re-discovers the token
// endpoint from the echoed issuer, exchanges the code, and fetches the
// account profile.
func (c *Client) CompleteAuthorization(ctx context.Context, params domain.CallbackParams, pending domain.PendingAuth) (*domain.LinkedAccount, error) {
	if params.Code == "" || params.State == "" || params.State != pending.State {
		return nil, domain.NewAuthError(domain.PlatformMisskey, "invalid authorization callback")
	}
	if params.Issuer == "" {
		return nil, domain.NewAuthError(domain.PlatformMisskey, "callback is missing the issuer parameter")
	}

	issuerURL, err := url.Parse(params.Issuer)
	if err != nil || issuerURL.Hostname() == "" {
		return nil, domain.NewAuthError(domain.PlatformMisskey, "invalid issuer: %q", params.Issuer)
	}
	host := issuerURL.Hostname()
	if host != pending.Host {
		return nil, domain.NewAuthError(domain.PlatformMisskey, "issuer %q does not match the requested instance %q", host, pending.Host)
	}

	endpoints, err := c.discoverEndpoints(ctx, host)
	if err != nil {
		return nil, err
	}

	token, err := c.exchangeCode(ctx, endpoints.TokenEndpoint, params.Code, pending.CodeVerifier)
	if err != nil {
		return nil, err
	}

	user, err := c.fetchMe(ctx, host, token)
	if err != nil {
		return nil, err
	}

	return &domain.LinkedAccount{
		ID:          user.ID,
		DisplayName: user.Name,
		Handle:      user.Username,
		AvatarURL:   user.AvatarURL,
		Host:        host,
		AccessToken: token,
		Refreshable: false,
	}, nil
}

// UploadAttachment uploads image bytes to the instance's drive via
// multipart form.
func (c *Client) UploadAttachment(ctx context.Context, account *domain.LinkedAccount, data []byte, mimeType string) (*domain.AttachmentRef, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	part, err := mw.CreateFormFile("file", "file")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("write form file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.instanceURL(account.Host)+"/api/drive/files/create", &body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+account.AccessToken)

	var result driveFile
	if err := c.do(req, &result); err != nil {
		return nil, err
	}

	return &domain.AttachmentRef{ID: result.ID, MimeType: mimeType}, nil
}

// Publish creates a note with the given text, visibility, and uploaded
// media.
func (c *Client) Publish(ctx context.Context, account *domain.LinkedAccount, content string, refs []domain.AttachmentRef, opts domain.PublishOptions) (*domain.PublishResult, error) {
	visibility := opts.Visibility
	if visibility == "" {
		visibility = domain.VisibilityPublic
	}

	body := createNoteRequest{
		Text:       content,
		Visibility: string(visibility),
	}
	for _, ref := range refs {
		body.MediaIDs = append(body.MediaIDs, ref.ID)
	}

	var result createNoteResponse
	if err := c.postJSON(ctx, account.Host, "/api/notes/create", account.AccessToken, body, &result); err != nil {
		return nil, err
	}

	return &domain.PublishResult{
		RemoteID:  result.CreatedNote.ID,
		Permalink: fmt.Sprintf("https://%s/notes/%s", account.Host, result.CreatedNote.ID),
	}, nil
}

// discoverEndpoints fetches the instance's OAuth authorization server
// metadata from its well-known location.
func (c *Client) discoverEndpoints(ctx context.Context, host string) (*oauthEndpoints, error) {
	u := c.instanceURL(host) + "/.well-known/oauth-authorization-server"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	var result oauthEndpoints
	if err := c.do(req, &result); err != nil {
		return nil, err
	}
	if result.AuthorizationEndpoint == "" || result.TokenEndpoint == "" {
		return nil, domain.NewValidationError(domain.PlatformMisskey, "instance %q does not advertise OAuth endpoints", host)
	}
	return &result, nil
}

func (c *Client) exchangeCode(ctx context.Context, tokenEndpoint, code, verifier string) (string, error) {
	// Misskey rejects the exchange unless client_id carries a trailing
	// slash, unlike the authorize request.
	body := tokenRequest{
		GrantType:    "authorization_code",
		ClientID:     c.cfg.ClientID + "/",
		RedirectURI:  c.cfg.RedirectURI,
		Scope:        strings.Join(scopes, " "),
		Code:         code,
		CodeVerifier: verifier,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenEndpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var result tokenResponse
	if err := c.do(req, &result); err != nil {
		return "", err
	}
	if result.AccessToken == "" {
		return "", domain.NewAuthError(domain.PlatformMisskey, "token endpoint returned no access token")
	}
	return result.AccessToken, nil
}

func (c *Client) fetchMe(ctx context.Context, host, token string) (*meResponse, error) {
	var result meResponse
	if err := c.postJSON(ctx, host, "/api/i", token, struct{}{}, &result); err != nil {
		return nil, err
	}
	if result.ID == "" {
		return nil, domain.NewAuthError(domain.PlatformMisskey, "failed to fetch account")
	}
	return &result, nil
}

func (c *Client) instanceURL(host string) string {
	if c.cfg.BaseURL != "" {
		return c.cfg.BaseURL
	}
	return "https://" + host
}

func (c *Client) postJSON(ctx context.Context, host, path, token string, body, result any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.instanceURL(host)+path, bytes.NewReader(payload))
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
		return domain.NewTransientError(domain.PlatformMisskey, fmt.Errorf("send request: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.NewTransientError(domain.PlatformMisskey, fmt.Errorf("read response: %w", err))
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
	msg := fmt.Sprintf("misskey API error (status %d): %s", status, string(body))
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domain.NewAuthError(domain.PlatformMisskey, "%s", msg)
	case status >= 500:
		return domain.NewTransientError(domain.PlatformMisskey, fmt.Errorf("%s", msg))
	default:
		return domain.NewValidationError(domain.PlatformMisskey, "%s", msg)
	}
}

type oauthEndpoints struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
}

type tokenRequest struct {
	GrantType    string `json:"grant_type"`
	ClientID     string `json:"client_id"`
	RedirectURI  string `json:"redirect_uri"`
	Scope        string `json:"scope"`
	Code         string `json:"code"`
	CodeVerifier string `json:"code_verifier"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type meResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatarUrl"`
}

type driveFile struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type createNoteRequest struct {
	Text       string   `json:"text"`
	Visibility string   `json:"visibility"`
	MediaIDs   []string `json:"mediaIds,omitempty"`
}

type createNoteResponse struct {
	CreatedNote struct {
		ID string `json:"id"`
	} `json:"createdNote"`
}
