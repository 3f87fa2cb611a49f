package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/omar-gamzatov/content-guardian/internal/auth"
	"github.com/omar-gamzatov/content-guardian/internal/config"
	"github.com/omar-gamzatov/content-guardian/internal/console"
	"github.com/omar-gamzatov/content-guardian/internal/moderation"
	"github.com/omar-gamzatov/content-guardian/internal/policy"
	"github.com/omar-gamzatov/content-guardian/internal/redact"
	"github.com/omar-gamzatov/content-guardian/internal/rules"
	"github.com/omar-gamzatov/content-guardian/internal/telemetry"
	"github.com/omar-gamzatov/content-guardian/internal/verdict"
)

const robotsTxt = "User-agent: *\nDisallow: /\n"

// Error types reported in the error envelope.
const (
	errTypeInvalidRequest = "invalid_request_error"
	errTypePolicy         = "policy_error"
	errTypeAggregation    = "aggregation_error"
	errTypeAuth           = "authentication_error"
	errTypeTooLarge       = "request_too_large"
	errTypeUpstream       = "upstream_error"
	errTypeInternal       = "internal_error"
)

// Server wraps the HTTP routes of the guardian API.
type Server struct {
	cfg    *config.Config
	svc    *moderation.Service
	auth   *auth.Auth
	tel    *telemetry.Provider
	router chi.Router
}

// New creates a server with all routes registered. authz and tel may be nil.
func New(cfg *config.Config, svc *moderation.Service, authz *auth.Auth, tel *telemetry.Provider) *Server {
	s := &Server{cfg: cfg, svc: svc, auth: authz, tel: tel}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	if cfg.Server.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.Server.RequestTimeout))
	}

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/robots.txt", handleRobots)
	if cfg.Server.Console {
		r.Method(http.MethodGet, "/console", console.Handler())
	}
	if h := tel.MetricsHandler(); h != nil {
		r.Method(http.MethodGet, "/metrics", h)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.limitBody, s.authenticate)
		r.Post("/rules/evaluate", s.handleEvaluate)
		r.Post("/verdicts", s.handleVerdicts)
		r.Post("/moderations", s.handleModerations)
	})

	s.router = r
	return s
}

// Handler exposes the router, mainly for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Server.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: s.cfg.Server.ReadTimeout,
		ReadTimeout:       s.cfg.Server.ReadTimeout,
		WriteTimeout:      s.cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		redact.Logf("content-guardian listening on %s", s.cfg.Server.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// --- Middleware ---

type tenantKey struct{}

func (s *Server) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if limit := s.cfg.Server.MaxBodyBytes; limit > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, limit)
		}
		next.ServeHTTP(w, r)
	})
}

// authenticate resolves the bearer key to a tenant when tenants are
// configured. Without tenants every request passes.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.auth.Enabled() {
			next.ServeHTTP(w, r)
			return
		}
		token, ok := auth.ParseBearer(r.Header.Get("Authorization"))
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing or malformed bearer token", errTypeAuth)
			return
		}
		tenant, ok := s.auth.Lookup(token)
		if !ok {
			writeError(w, http.StatusUnauthorized, "invalid API key", errTypeAuth)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), tenantKey{}, tenant.ID)))
	})
}

func tenantFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(tenantKey{}).(string)
	return id, ok
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = io.WriteString(w, "ok\n")
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.svc.Ready(ctx); err != nil {
		redact.Logf("readiness check failed: %v", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func handleRobots(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = io.WriteString(w, robotsTxt)
}

type evaluateRequest struct {
	Policy  any `json:"policy"`
	Signals any `json:"signals"`
}

type evaluateResponse struct {
	Decision any `json:"decision"`
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	decision, err := s.svc.Evaluate(r.Context(), req.Policy, req.Signals)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, evaluateResponse{Decision: decision})
}

type verdictRequest struct {
	Categories []verdict.CategoryScore `json:"categories"`
	Action     verdict.Action          `json:"action,omitempty"`
	Severity   verdict.Severity        `json:"severity,omitempty"`
	Explain    *verdict.Explain        `json:"explain,omitempty"`
}

func (s *Server) handleVerdicts(w http.ResponseWriter, r *http.Request) {
	var req verdictRequest
	if !decodeBody(w, r, &req) {
		return
	}
	in := verdict.Input{
		Categories: req.Categories,
		Action:     req.Action,
		Severity:   req.Severity,
	}
	if e := req.Explain; e != nil {
		in.PolicyVersion = e.PolicyVersion
		in.RulesFired = e.RulesFired
		in.Uncertainty = e.Uncertainty
		in.Model = e.Model
	}
	v, err := s.svc.Aggregate(r.Context(), in)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleModerations(w http.ResponseWriter, r *http.Request) {
	var req moderation.Request
	if !decodeBody(w, r, &req) {
		return
	}
	if tenant, ok := tenantFromContext(r.Context()); ok {
		req.TenantID = tenant
	}
	if req.RequestID == "" {
		req.RequestID = middleware.GetReqID(r.Context())
	}
	resp, err := s.svc.Moderate(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- Encoding helpers ---

// decodeBody decodes a single JSON object. On failure it writes the error
// response and returns false.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit), errTypeTooLarge)
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error(), errTypeInvalidRequest)
		return false
	}
	if dec.More() {
		writeError(w, http.StatusBadRequest, "invalid JSON body: trailing data", errTypeInvalidRequest)
		return false
	}
	return true
}

// writeServiceError maps domain errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	var (
		pe  *rules.PolicyError
		age *verdict.AggregationError
	)
	switch {
	case errors.As(err, &pe):
		writeError(w, http.StatusBadRequest, err.Error(), errTypePolicy)
	case errors.Is(err, rules.ErrInvalidInput),
		errors.Is(err, moderation.ErrInvalidRequest),
		errors.Is(err, policy.ErrUnknownVersion):
		writeError(w, http.StatusBadRequest, err.Error(), errTypeInvalidRequest)
	case errors.As(err, &age):
		writeError(w, http.StatusUnprocessableEntity, err.Error(), errTypeAggregation)
	case errors.Is(err, moderation.ErrModelUnavailable):
		writeError(w, http.StatusBadGateway, "upstream classifier unavailable", errTypeUpstream)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		writeError(w, http.StatusServiceUnavailable, "request timed out", errTypeInternal)
	default:
		redact.Logf("internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error", errTypeInternal)
	}
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func writeError(w http.ResponseWriter, status int, message, typ string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Message: message, Type: typ}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		redact.Logf("failed to write response: %v", err)
	}
}
