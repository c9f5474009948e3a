package twitter

import (
	"bytes"
	"context"
	"encoding/base64"
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
	defaultAPIBase  = "https://api.x.com"
	defaultAuthBase = "https://x.com"

	maxAttachments     = 4
	maxAttachmentBytes = 5_000_000
)

var scopes = []string{"users.read", "tweet.read", "tweet.write", "media.write"}

// Config holds the OAuth2 application credentials for the X API.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string

	// APIBase and AuthBase override the X API endpoints, mainly for tests.
	APIBase  string
	AuthBase string
}

// Client is a Twitter/X API v2 adapter: OAuth2+PKCE authorization, media
// upload, and tweet creation. It implements domain.Adapter.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient creates a new Twitter adapter.
func NewClient(cfg Config) *Client {
	if cfg.APIBase == "" {
		cfg.APIBase = defaultAPIBase
	}
	if cfg.AuthBase == "" {
		cfg.AuthBase = defaultAuthBase
	}
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Platform returns domain.PlatformTwitter.
func (c *Client) Platform() domain.Platform {
	return domain.PlatformTwitter
}

// MaxAttachments returns the per-tweet image limit.
func (c *Client) MaxAttachments() int {
	return maxAttachments
}

// MaxAttachmentBytes returns the per-image byte ceiling.
func (c *Client) MaxAttachmentBytes() int {
	return maxAttachmentBytes
}

// Authorize mints state and PKCE verifier and builds the authorization URL.
func (c *Client) Authorize(ctx context.Context, hint domain.IdentityHint) (*domain.AuthRedirect, error) {
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
	q.Set("scope", strings.Join(scopes, " "))
	q.Set("state", state)
	q.Set("code_challenge", oauth.S256Challenge(verifier))
	q.Set("code_challenge_method", "S256")

	return &domain.AuthRedirect{
		URL: c.cfg.AuthBase + "/i/oauth2/authorize?" + q.Encode(),
		Pending: domain.PendingAuth{
			Platform:     domain.PlatformTwitter,
			State:        state,
			CodeVerifier: verifier,
			RedirectTo:   hint.RedirectTo,
			CreatedAt:    time.Now().UTC(),
		},
	}, nil
}

// CompleteAuthorization validates the callback, exchanges the code using the
// PKCE verifier and the app's basic credentials, and fetches the user's
// profile.
func (c *Client) CompleteAuthorization(ctx context.Context, params domain.CallbackParams, pending domain.PendingAuth) (*domain.LinkedAccount, error) {
	if params.Code == "" || params.State == "" || params.State != pending.State {
		return nil, domain.NewAuthError(domain.PlatformTwitter, "invalid authorization callback")
	}

	token, err := c.exchangeCode(ctx, params.Code, pending.CodeVerifier)
	if err != nil {
		return nil, err
	}

	user, err := c.fetchMe(ctx, token)
	if err != nil {
		return nil, err
	}

	return &domain.LinkedAccount{
		ID:          user.ID,
		DisplayName: user.Name,
		Handle:      user.Username,
		AvatarURL:   user.ProfileImageURL,
		AccessToken: token,
		Refreshable: false,
	}, nil
}

// UploadAttachment uploads image bytes as tweet media via the v2 media
// upload endpoint.
func (c *Client) UploadAttachment(ctx context.Context, account *domain.LinkedAccount, data []byte, mimeType string) (*domain.AttachmentRef, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	part, err := mw.CreateFormFile("media", "media")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("write form file: %w", err)
	}
	if err := mw.WriteField("media_category", "tweet_image"); err != nil {
		return nil, fmt.Errorf("write form field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIBase+"/2/media/upload", &body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+account.AccessToken)

	var result mediaUploadResponse
	if err := c.do(req, &result); err != nil {
		return nil, err
	}

	return &domain.AttachmentRef{ID: result.Data.ID, MimeType: mimeType}, nil
}

// Publish creates a tweet with the given text and media references.
func (c *Client) Publish(ctx context.Context, account *domain.LinkedAccount, content string, refs []domain.AttachmentRef, _ domain.PublishOptions) (*domain.PublishResult, error) {
	body := createTweetRequest{Text: content}
	if len(refs) > 0 {
		body.Media = &tweetMedia{}
		for _, ref := range refs {
			body.Media.MediaIDs = append(body.Media.MediaIDs, ref.ID)
		}
	}

	var result createTweetResponse
	if err := c.postJSON(ctx, "/2/tweets", account.AccessToken, body, &result); err != nil {
		return nil, err
	}

	return &domain.PublishResult{
		RemoteID:  result.Data.ID,
		Permalink: fmt.Sprintf("https://twitter.com/%s/status/%s", account.ID, result.Data.ID),
	}, nil
}

// exchangeCode trades the authorization code for an access token at the
// token endpoint, authenticating with the app's basic credentials.
func (c *Client) exchangeCode(ctx context.Context, code, verifier string) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", c.cfg.RedirectURI)
	form.Set("code_verifier", verifier)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIBase+"/2/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	basic := base64.StdEncoding.EncodeToString([]byte(c.cfg.ClientID + ":" + c.cfg.ClientSecret))
	req.Header.Set("Authorization", "Basic "+basic)

	var result tokenResponse
	if err := c.do(req, &result); err != nil {
		return "", err
	}
	if result.AccessToken == "" {
		return "", domain.NewAuthError(domain.PlatformTwitter, "token endpoint returned no access token")
	}
	return result.AccessToken, nil
}

func (c *Client) fetchMe(ctx context.Context, token string) (*userObject, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.APIBase+"/2/users/me?user.fields=id,name,username,profile_image_url", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	var result userResponse
	if err := c.do(req, &result); err != nil {
		return nil, err
	}
	if result.Data.ID == "" {
		return nil, domain.NewAuthError(domain.PlatformTwitter, "failed to fetch user profile")
	}
	return &result.Data, nil
}

func (c *Client) postJSON(ctx context.Context, path, token string, body, result any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIBase+path, bytes.NewReader(payload))
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
		return domain.NewTransientError(domain.PlatformTwitter, fmt.Errorf("send request: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.NewTransientError(domain.PlatformTwitter, fmt.Errorf("read response: %w", err))
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
	msg := fmt.Sprintf("twitter API error (status %d): %s", status, string(body))
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domain.NewAuthError(domain.PlatformTwitter, "%s", msg)
	case status >= 500:
		return domain.NewTransientError(domain.PlatformTwitter, fmt.Errorf("%s", msg))
	default:
		return domain.NewValidationError(domain.PlatformTwitter, "%s", msg)
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

type userObject struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Username        string `json:"username"`
	ProfileImageURL string `json:"profile_image_url"`
}

type userResponse struct {
	Data userObject `json:"data"`
}

type mediaUploadResponse struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

type tweetMedia struct {
	MediaIDs []string `json:"media_ids"`
}

type createTweetRequest struct {
	Text  string      `json:"text"`
	Media *tweetMedia `json:"media,omitempty"`
}

type createTweetResponse struct {
	Data struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"data"`
}
