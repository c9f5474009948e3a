package httpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/seojinpark/crosspost/internal/authflow"
	"github.com/seojinpark/crosspost/internal/config"
	"github.com/seojinpark/crosspost/internal/domain"
)

const (
	sessionCookie     = "sid"
	authRequestCookie = "auth_request"

	// maxUploadBytes bounds the multipart submit body.
	maxUploadBytes = 64 << 20
)

// Server is the HTTP server exposing the publish and account-linking
// surface to the UI layer.
type Server struct {
	cfg          *config.Config
	orchestrator *domain.Orchestrator
	flow         *authflow.Flow
	sessions     domain.SessionRepository
	logger       *slog.Logger
	httpServer   *http.Server
}

// NewServer creates a new HTTP server.
func NewServer(
	cfg *config.Config,
	orchestrator *domain.Orchestrator,
	flow *authflow.Flow,
	sessions domain.SessionRepository,
	logger *slog.Logger,
) *Server {
	s := &Server{
		cfg:          cfg,
		orchestrator: orchestrator,
		flow:         flow,
		sessions:     sessions,
		logger:       logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/post", s.handleSubmitPost)
	mux.HandleFunc("GET /api/queue", s.handleQueue)
	mux.HandleFunc("GET /api/queue/ws", s.handleQueueFeed)
	mux.HandleFunc("GET /api/session", s.handleSession)
	mux.HandleFunc("GET /auth/client-metadata.json", s.handleClientMetadata)
	mux.HandleFunc("GET /auth/{platform}", s.handleLink)
	mux.HandleFunc("GET /callback/{platform}", s.handleCallback)
	mux.HandleFunc("POST /api/unlink/{platform}", s.handleUnlink)
	mux.HandleFunc("GET /health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      withLogging(logger, mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start begins listening for HTTP requests. It blocks until the server is
// shut down or an error occurs.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the server's root handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSubmitPost accepts a multipart post submission and fans it out to
// the selected platforms. It responds immediately with the created job ids;
// progress is observed through the queue.
func (s *Server) handleSubmitPost(w http.ResponseWriter, r *http.Request) {
	sessionID := s.sessionID(w, r)

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "invalid multipart form")
		return
	}

	content := r.FormValue("content")

	platforms, err := parsePlatforms(r.Form["platforms"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "InvalidRequest", err.Error())
		return
	}
	if len(platforms) == 0 {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "at least one platform is required")
		return
	}

	visibility, err := domain.ParseVisibility(r.FormValue("visibility"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "InvalidRequest", err.Error())
		return
	}

	var attachments []domain.Attachment
	if r.MultipartForm != nil {
		for _, header := range r.MultipartForm.File["files"] {
			file, err := header.Open()
			if err != nil {
				writeError(w, http.StatusBadRequest, "InvalidRequest", "unreadable attachment")
				return
			}
			data, err := io.ReadAll(file)
			file.Close()
			if err != nil {
				writeError(w, http.StatusBadRequest, "InvalidRequest", "unreadable attachment")
				return
			}
			attachments = append(attachments, domain.Attachment{
				Filename: header.Filename,
				MimeType: header.Header.Get("Content-Type"),
				Data:     data,
			})
		}
	}

	if content == "" && len(attachments) == 0 {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "content or attachments are required")
		return
	}

	ids := s.orchestrator.SubmitPost(r.Context(), sessionID, content, attachments, platforms, domain.PublishOptions{
		Visibility: visibility,
	})

	writeJSON(w, http.StatusAccepted, map[string]any{"jobs": ids})
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	sessionID := s.sessionID(w, r)
	writeJSON(w, http.StatusOK, map[string]any{"queue": s.orchestrator.Queue().Items(sessionID)})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	sessionID := s.sessionID(w, r)

	accounts, err := s.sessions.ListAccounts(r.Context(), sessionID)
	if err != nil {
		s.logger.Error("failed to list accounts", "error", err)
		writeError(w, http.StatusInternalServerError, "InternalError", "failed to load session")
		return
	}

	profiles := make(map[domain.Platform]domain.Profile, len(accounts))
	for platform, account := range accounts {
		profiles[platform] = account.Profile()
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": profiles})
}

// handleClientMetadata serves the OAuth client metadata document that acts
// as this app's Bluesky client id.
func (s *Server) handleClientMetadata(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"client_id":                  s.cfg.ClientMetadataURL(),
		"client_name":                "crosspost",
		"client_uri":                 s.cfg.PublicURL,
		"redirect_uris":              []string{s.cfg.RedirectURI("bluesky")},
		"grant_types":                []string{"authorization_code", "refresh_token"},
		"response_types":             []string{"code"},
		"scope":                      "atproto transition:generic",
		"token_endpoint_auth_method": "none",
		"application_type":           "web",
	})
}

// handleLink starts the authorization flow for a platform and redirects the
// browser to the platform's consent page.
func (s *Server) handleLink(w http.ResponseWriter, r *http.Request) {
	platform, err := domain.ParsePlatform(r.PathValue("platform"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "InvalidRequest", err.Error())
		return
	}

	hint := domain.IdentityHint{
		Handle:     r.URL.Query().Get("handle"),
		Host:       r.URL.Query().Get("host"),
		RedirectTo: r.URL.Query().Get("redirect_to"),
	}

	result, err := s.flow.Start(r.Context(), platform, hint)
	if err != nil {
		s.redirectError(w, r, err)
		return
	}

	s.setAuthCookie(w, result)
	http.Redirect(w, r, result.RedirectURL, http.StatusFound)
}

// handleCallback completes the authorization flow. A silent-authorization
// rejection transparently re-issues an interactive attempt; any other
// failure redirects to the error page with the message attached.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	platform, err := domain.ParsePlatform(r.PathValue("platform"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "InvalidRequest", err.Error())
		return
	}

	sessionID := s.sessionID(w, r)

	var token string
	if cookie, err := r.Cookie(authRequestCookie); err == nil {
		token = cookie.Value
	}
	s.clearAuthCookie(w)

	q := r.URL.Query()
	params := domain.CallbackParams{
		Code:      q.Get("code"),
		State:     q.Get("state"),
		Issuer:    q.Get("iss"),
		ErrorCode: q.Get("error"),
	}

	result, err := s.flow.HandleCallback(r.Context(), sessionID, platform, token, params)
	if err != nil {
		s.redirectError(w, r, err)
		return
	}

	if result.Retry != nil {
		s.setAuthCookie(w, result.Retry)
		http.Redirect(w, r, result.Retry.RedirectURL, http.StatusFound)
		return
	}

	http.Redirect(w, r, s.cfg.PublicURL+result.RedirectTo, http.StatusFound)
}

func (s *Server) handleUnlink(w http.ResponseWriter, r *http.Request) {
	platform, err := domain.ParsePlatform(r.PathValue("platform"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "InvalidRequest", err.Error())
		return
	}

	sessionID := s.sessionID(w, r)
	if err := s.flow.Unlink(r.Context(), sessionID, platform); err != nil {
		s.logger.Error("failed to unlink account", "platform", platform, "error", err)
		writeError(w, http.StatusInternalServerError, "InternalError", "failed to unlink account")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) redirectError(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Error("authorization failed", "error", err)
	target := s.cfg.PublicURL + "/auth/error?error=" + url.QueryEscape(err.Error())
	http.Redirect(w, r, target, http.StatusFound)
}

// sessionID returns the browser session id, minting a cookie when absent.
func (s *Server) sessionID(w http.ResponseWriter, r *http.Request) string {
	if cookie, err := r.Cookie(sessionCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

func (s *Server) setAuthCookie(w http.ResponseWriter, result *authflow.StartResult) {
	http.SetCookie(w, &http.Cookie{
		Name:     authRequestCookie,
		Value:    result.Token,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		Expires:  result.ExpiresAt,
	})
}

func (s *Server) clearAuthCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     authRequestCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		MaxAge:   -1,
	})
}

func parsePlatforms(values []string) ([]domain.Platform, error) {
	var platforms []domain.Platform
	seen := make(map[domain.Platform]bool)
	for _, value := range values {
		for _, raw := range strings.Split(value, ",") {
			raw = strings.TrimSpace(raw)
			if raw == "" {
				continue
			}
			platform, err := domain.ParsePlatform(raw)
			if err != nil {
				return nil, err
			}
			if !seen[platform] {
				seen[platform] = true
				platforms = append(platforms, platform)
			}
		}
	}
	return platforms, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, map[string]string{
		"error":   errType,
		"message": message,
	})
}

func withLogging(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration", time.Since(start),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Hijack delegates to the underlying writer so the websocket upgrade works
// through the logging middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hj.Hijack()
}
