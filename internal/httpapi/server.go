// File: internal/httpapi/server.go
// Description: Administrative HTTP surface for the consent workflow, origin
// policy, and runtime health. All routes except the health probe sit behind
// bearer-token auth.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/nkoudela/scout-cli/api/schemas"
	"github.com/nkoudela/scout-cli/internal/config"
	"github.com/nkoudela/scout-cli/internal/consent"
	"github.com/nkoudela/scout-cli/internal/origin"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ConsentService is the slice of the consent manager the API needs.
type ConsentService interface {
	CreateRequest(userID, origin, action string) (*schemas.ConsentRequest, error)
	Grant(requestID string, permissions []string) (*schemas.ConsentGrant, error)
	Deny(requestID string) error
	GetRequest(requestID string) (*schemas.ConsentRequest, error)
	Stats() consent.Stats
}

// OriginService exposes the origin gate and its runtime controls.
type OriginService interface {
	Validate(origin string) error
	UpdateAllowList(origins []string)
	SetStrictMode(strict bool)
	ViolationStats() origin.Stats
	Violations() []origin.Violation
}

// HealthService reports engine health.
type HealthService interface {
	CheckHealth() schemas.HealthSample
	Alerts(includeResolved bool) []schemas.Alert
}

// Server is the admin API over the policy components.
type Server struct {
	cfg     config.APIConfig
	consent ConsentService
	origins OriginService
	health  HealthService
	logger  *zap.Logger
	httpSrv *http.Server
}

// NewServer wires the routes. Call Start to begin listening, or use Handler
// directly in tests.
func NewServer(cfg config.APIConfig, consentSvc ConsentService, originSvc OriginService, healthSvc HealthService, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:     cfg,
		consent: consentSvc,
		origins: originSvc,
		health:  healthSvc,
		logger:  logger.Named("httpapi"),
	}
	s.httpSrv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", s.handleHealth)

	mux.Handle("POST /api/v1/consent/requests", s.authenticated(s.handleCreateRequest))
	mux.Handle("GET /api/v1/consent/requests/{id}", s.authenticated(s.handleGetRequest))
	mux.Handle("POST /api/v1/consent/requests/{id}/grant", s.authenticated(s.handleGrant))
	mux.Handle("POST /api/v1/consent/requests/{id}/deny", s.authenticated(s.handleDeny))
	mux.Handle("GET /api/v1/consent/stats", s.authenticated(s.handleConsentStats))

	mux.Handle("GET /api/v1/origins/violations", s.authenticated(s.handleViolations))
	mux.Handle("PUT /api/v1/origins/allowlist", s.authenticated(s.handleUpdateAllowList))

	return mux
}

// Start begins serving. Blocks until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	s.logger.Info("API server listening", zap.String("addr", s.cfg.ListenAddr))
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// --- Middleware ---

// authenticated enforces a Bearer token signed with the configured secret.
func (s *Server) authenticated(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		tokenStr, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || tokenStr == "" {
			s.writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}

		_, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
			return []byte(s.cfg.JWTSecret), nil
		}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithExpirationRequired())
		if err != nil {
			s.logger.Debug("Token rejected", zap.Error(err))
			s.writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
			return
		}

		if s.cfg.MaxBodyBytes > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
		}
		next(w, r)
	})
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sample := s.health.CheckHealth()
	status := http.StatusOK
	if sample.Status == schemas.HealthUnhealthy {
		status = http.StatusServiceUnavailable
	}
	s.writeData(w, status, map[string]any{
		"health": sample,
		"alerts": s.health.Alerts(false),
	})
}

type createRequestBody struct {
	UserID string `json:"user_id"`
	Origin string `json:"origin"`
	Action string `json:"action"`
}

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	var body createRequestBody
	if !s.decode(w, r, &body) {
		return
	}
	if body.UserID == "" || body.Origin == "" || body.Action == "" {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "user_id, origin and action are required")
		return
	}

	// The origin gate runs before the request is ever recorded.
	if err := s.origins.Validate(body.Origin); err != nil {
		if errors.Is(err, origin.ErrOriginRejected) {
			s.writeError(w, http.StatusForbidden, "policy_rejection", err.Error())
		} else {
			s.logger.Error("Origin validation failed", zap.Error(err))
			s.writeError(w, http.StatusInternalServerError, "internal", "internal error")
		}
		return
	}

	request, err := s.consent.CreateRequest(body.UserID, body.Origin, body.Action)
	if err != nil {
		s.writeConsentError(w, err)
		return
	}
	s.writeData(w, http.StatusCreated, request)
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	request, err := s.consent.GetRequest(r.PathValue("id"))
	if err != nil {
		s.writeConsentError(w, err)
		return
	}
	s.writeData(w, http.StatusOK, request)
}

type grantBody struct {
	Permissions []string `json:"permissions"`
}

func (s *Server) handleGrant(w http.ResponseWriter, r *http.Request) {
	var body grantBody
	if !s.decode(w, r, &body) {
		return
	}

	grant, err := s.consent.Grant(r.PathValue("id"), body.Permissions)
	if err != nil {
		s.writeConsentError(w, err)
		return
	}
	s.writeData(w, http.StatusOK, grant)
}

func (s *Server) handleDeny(w http.ResponseWriter, r *http.Request) {
	if err := s.consent.Deny(r.PathValue("id")); err != nil {
		s.writeConsentError(w, err)
		return
	}
	s.writeData(w, http.StatusOK, map[string]string{"status": string(schemas.ConsentDenied)})
}

func (s *Server) handleConsentStats(w http.ResponseWriter, r *http.Request) {
	s.writeData(w, http.StatusOK, s.consent.Stats())
}

func (s *Server) handleViolations(w http.ResponseWriter, r *http.Request) {
	s.writeData(w, http.StatusOK, map[string]any{
		"stats":  s.origins.ViolationStats(),
		"recent": s.origins.Violations(),
	})
}

type allowListBody struct {
	Origins    []string `json:"origins"`
	StrictMode *bool    `json:"strict_mode,omitempty"`
}

func (s *Server) handleUpdateAllowList(w http.ResponseWriter, r *http.Request) {
	var body allowListBody
	if !s.decode(w, r, &body) {
		return
	}
	if body.Origins == nil && body.StrictMode == nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "nothing to update")
		return
	}

	if body.Origins != nil {
		s.origins.UpdateAllowList(body.Origins)
	}
	if body.StrictMode != nil {
		s.origins.SetStrictMode(*body.StrictMode)
	}
	s.logger.Info("Origin policy updated",
		zap.Int("origins", len(body.Origins)),
		zap.Bool("strict_mode_changed", body.StrictMode != nil))
	s.writeData(w, http.StatusOK, map[string]string{"status": "updated"})
}

// --- Response plumbing ---

type envelope struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *apiError `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed_body", "request body is not valid JSON")
		return false
	}
	return true
}

func (s *Server) writeData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Success: true, Data: data}); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Error: &apiError{Code: code, Message: message}}); err != nil {
		s.logger.Error("Failed to encode error response", zap.Error(err))
	}
}

// writeConsentError maps consent manager sentinels to HTTP statuses.
func (s *Server) writeConsentError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, consent.ErrRequestNotFound), errors.Is(err, consent.ErrGrantNotFound):
		s.writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, consent.ErrUnknownAction):
		s.writeError(w, http.StatusBadRequest, "unknown_action", err.Error())
	case errors.Is(err, consent.ErrTooManyPending):
		s.writeError(w, http.StatusTooManyRequests, "too_many_pending", err.Error())
	case errors.Is(err, consent.ErrNotPending), errors.Is(err, consent.ErrRequestExpired):
		s.writeError(w, http.StatusConflict, "invalid_state", err.Error())
	default:
		s.logger.Error("Unexpected consent error", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
