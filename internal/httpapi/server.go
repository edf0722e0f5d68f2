// Package httpapi is the thin HTTP adapter in front of the orchestrator
// and the HITL review service. It does no governance logic of its own:
// every handler decodes a request, calls a collaborator, and encodes the
// result.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/agentwarden/agentwarden/internal/gwerror"
	"github.com/agentwarden/agentwarden/internal/llm"
	"github.com/agentwarden/agentwarden/internal/orchestrator"
	"github.com/agentwarden/agentwarden/internal/policy"
	"github.com/agentwarden/agentwarden/internal/review"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/cors"
)

// Processor runs a governed chat request end to end. Implemented by
// *orchestrator.Orchestrator.
type Processor interface {
	Process(ctx context.Context, req orchestrator.Request) (orchestrator.Result, error)
}

// ReviewService is the subset of review.Service the reviewer endpoints
// need.
type ReviewService interface {
	GetReview(ctx context.Context, reviewID int64) (*review.Review, error)
	DequeueReview(ctx context.Context, assignedTo string, lockDuration time.Duration, limit int) ([]review.Review, error)
	Approve(ctx context.Context, reviewID int64, reviewedBy, notes string) (review.Review, error)
	Reject(ctx context.Context, reviewID int64, reviewedBy, notes string) (review.Review, error)
	QueryReviews(ctx context.Context, q review.Query) ([]review.Review, error)
}

// Server is the gateway's public HTTP surface.
type Server struct {
	orchestrator Processor
	reviews      ReviewService
	cors         bool
	jwtSecret    []byte
	lockDuration time.Duration
	mux          *http.ServeMux
	httpServer   *http.Server
	logger       *slog.Logger
}

// Option configures a Server via functional options.
type Option func(*Server)

// WithCORS enables permissive CORS on every route.
func WithCORS(enabled bool) Option {
	return func(s *Server) { s.cors = enabled }
}

// WithJWTSecret requires a valid bearer JWT, signed with secret, on every
// /api/hitl/* route. Empty secret (the default) disables reviewer auth.
func WithJWTSecret(secret string) Option {
	return func(s *Server) { s.jwtSecret = []byte(secret) }
}

// WithLockDuration sets how long a dequeued review is held by its
// assignee before it can be reclaimed. Defaults to 10 minutes.
func WithLockDuration(d time.Duration) Option {
	return func(s *Server) { s.lockDuration = d }
}

// New constructs a Server. orchestrator is required; reviews may be nil
// if the deployment has no HITL queue configured, in which case the
// /api/hitl/* routes return 503.
func New(orch Processor, reviews ReviewService, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		orchestrator: orch,
		reviews:      reviews,
		lockDuration: 10 * time.Minute,
		mux:          http.NewServeMux(),
		logger:       logger.With("component", "httpapi.Server"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /api/chat", s.handleChat)

	s.mux.HandleFunc("GET /api/hitl/reviews", s.authRequired(s.handleListReviews))
	s.mux.HandleFunc("GET /api/hitl/reviews/{id}", s.authRequired(s.handleGetReview))
	s.mux.HandleFunc("POST /api/hitl/reviews/dequeue", s.authRequired(s.handleDequeue))
	s.mux.HandleFunc("POST /api/hitl/reviews/{id}/approve", s.authRequired(s.handleApprove))
	s.mux.HandleFunc("POST /api/hitl/reviews/{id}/reject", s.authRequired(s.handleReject))
}

// authRequired wraps a handler with bearer-JWT validation. With no
// secret configured, auth is a no-op (matching the gateway's default of
// running without a reviewer identity provider in dev).
func (s *Server) authRequired(next http.HandlerFunc) http.HandlerFunc {
	if len(s.jwtSecret) == 0 {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token")
			return
		}
		raw := strings.TrimPrefix(header, "Bearer ")

		token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrTokenSignatureInvalid
			}
			return s.jwtSecret, nil
		})
		if err != nil || !token.Valid {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired token")
			return
		}
		next(w, r)
	}
}

// Handler returns the server's HTTP handler, wrapped in CORS middleware
// if enabled.
func (s *Server) Handler() http.Handler {
	if !s.cors {
		return s.mux
	}
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	})
	return c.Handler(s.mux)
}

// Start runs the server on addr until the process is stopped.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.logger.Info("gateway listening", "addr", addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Messages    []chatMessage          `json:"messages"`
	Model       string                 `json:"model,omitempty"`
	Temperature *float64               `json:"temperature,omitempty"`
	MaxTokens   *int                   `json:"maxTokens,omitempty"`
	UserID      string                 `json:"userId"`
	UserRole    string                 `json:"userRole,omitempty"`
	UserEmail   string                 `json:"userEmail,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

type usageResponse struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

type chatResponseMetadata struct {
	TraceID             string   `json:"traceId"`
	InputPolicyOutcome  string   `json:"inputPolicyOutcome"`
	OutputPolicyOutcome string   `json:"outputPolicyOutcome"`
	PoliciesEvaluated   []string `json:"policiesEvaluated"`
}

type chatResponse struct {
	Content      string                `json:"content"`
	Model        string                `json:"model"`
	Provider     string                `json:"provider"`
	FinishReason string                `json:"finishReason,omitempty"`
	Usage        *usageResponse        `json:"usage,omitempty"`
	PolicyOutcome string               `json:"policyOutcome"`
	Redacted     bool                  `json:"redacted"`
	Metadata     chatResponseMetadata  `json:"metadata"`
}

type apiErrorDetails struct {
	Reason  string `json:"reason,omitempty"`
	TraceID string `json:"traceId,omitempty"`
}

type apiError struct {
	Error     string          `json:"error"`
	ErrorCode string          `json:"errorCode"`
	Details   apiErrorDetails `json:"details"`
}

// lastUserMessage returns the content of the last user-role message, or
// the last message of any role if none is explicitly "user" — the text
// the orchestrator's single-string Prompt checkpoints evaluate.
func lastUserMessage(messages []chatMessage) string {
	var last, lastUser string
	for _, m := range messages {
		if m.Content == "" {
			continue
		}
		last = m.Content
		if m.Role == "user" {
			lastUser = m.Content
		}
	}
	if lastUser != "" {
		return lastUser
	}
	return last
}

// evaluatedPolicyNames collects the name of every policy module that
// ran at either checkpoint, in evaluation order, input then output.
func evaluatedPolicyNames(result orchestrator.Result) []string {
	names := make([]string, 0, len(result.InputResult.AllResults)+len(result.OutputResult.AllResults))
	for _, r := range result.InputResult.AllResults {
		names = append(names, r.PolicyName)
	}
	for _, r := range result.OutputResult.AllResults {
		names = append(names, r.PolicyName)
	}
	return names
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "BAD_REQUEST", "malformed request body", "", "")
		return
	}
	if len(req.Messages) == 0 || req.UserID == "" {
		writeAPIError(w, http.StatusBadRequest, "BAD_REQUEST", "messages and userId are required", "", "")
		return
	}

	prompt := lastUserMessage(req.Messages)

	result, err := s.orchestrator.Process(r.Context(), orchestrator.Request{
		Prompt:      prompt,
		UserID:      req.UserID,
		UserRole:    req.UserRole,
		UserEmail:   req.UserEmail,
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Metadata:    req.Metadata,
	})
	if result.TraceID != "" {
		w.Header().Set("X-Trace-Id", result.TraceID)
	}
	if err != nil {
		s.writeGovernanceError(w, err, result)
		return
	}

	var usage *usageResponse
	if result.Response.Usage != (llm.Usage{}) {
		usage = &usageResponse{
			Prompt:     result.Response.Usage.PromptTokens,
			Completion: result.Response.Usage.CompletionTokens,
			Total:      result.Response.Usage.TotalTokens,
		}
	}

	writeJSON(w, http.StatusOK, chatResponse{
		Content:       result.Response.Text,
		Model:         result.Response.Model,
		Provider:      result.Response.Provider,
		FinishReason:  result.Response.FinishReason,
		Usage:         usage,
		PolicyOutcome: result.OutputResult.Outcome.String(),
		Redacted:      result.OutputResult.Outcome == policy.REDACT,
		Metadata: chatResponseMetadata{
			TraceID:             result.TraceID,
			InputPolicyOutcome:  result.InputResult.Outcome.String(),
			OutputPolicyOutcome: result.OutputResult.Outcome.String(),
			PoliciesEvaluated:   evaluatedPolicyNames(result),
		},
	})
}

// writeGovernanceError maps the orchestrator's typed errors to HTTP
// status codes without leaking internal error text for anything else.
func (s *Server) writeGovernanceError(w http.ResponseWriter, err error, result orchestrator.Result) {
	var blocked *gwerror.RequestBlocked
	var respBlocked *gwerror.ResponseBlocked
	var escalated *gwerror.RequestEscalated
	var respEscalated *gwerror.ResponseEscalated
	var noProviders *gwerror.NoProviders
	var modelNotFound *gwerror.ModelNotFound

	switch {
	case asError(err, &blocked):
		writeAPIError(w, http.StatusForbidden, "POLICY_BLOCKED", blocked.Error(), blocked.Reason, result.TraceID)
	case asError(err, &respBlocked):
		writeAPIError(w, http.StatusForbidden, "POLICY_BLOCKED", respBlocked.Error(), respBlocked.Reason, result.TraceID)
	case asError(err, &escalated):
		writeEscalation(w, escalated.ReviewID, escalated.Reason, "input", result.TraceID)
	case asError(err, &respEscalated):
		writeEscalation(w, respEscalated.ReviewID, respEscalated.Reason, "output", result.TraceID)
	case asError(err, &modelNotFound):
		writeAPIError(w, http.StatusInternalServerError, "INTERNAL_ERROR", modelNotFound.Error(), "", result.TraceID)
	case asError(err, &noProviders):
		writeAPIError(w, http.StatusInternalServerError, "INTERNAL_ERROR", noProviders.Error(), "", result.TraceID)
	default:
		s.logger.Error("chat request failed", "error", err)
		writeAPIError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "upstream model request failed", "", result.TraceID)
	}
}

// writeEscalation writes the 202 pending-review body spec.md §6 defines
// for both RequestEscalated and ResponseEscalated.
func writeEscalation(w http.ResponseWriter, reviewID, reason, checkpoint, traceID string) {
	writeJSON(w, http.StatusAccepted, map[string]string{
		"reviewId":   reviewID,
		"status":     "pending_review",
		"message":    "request requires human review before it can proceed",
		"reason":     reason,
		"traceId":    traceID,
		"checkpoint": checkpoint,
	})
}

func (s *Server) handleListReviews(w http.ResponseWriter, r *http.Request) {
	if s.reviews == nil {
		writeError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "hitl review queue is not configured")
		return
	}
	q := review.Query{
		Status:     review.Status(r.URL.Query().Get("status")),
		RequestID:  r.URL.Query().Get("request_id"),
		TraceID:    r.URL.Query().Get("trace_id"),
		Checkpoint: r.URL.Query().Get("checkpoint"),
		AssignedTo: r.URL.Query().Get("assigned_to"),
		Limit:      queryInt(r, "limit", 50),
		Offset:     queryInt(r, "offset", 0),
	}
	reviews, err := s.reviews.QueryReviews(r.Context(), q)
	if err != nil {
		s.logger.Error("list reviews failed", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to list reviews")
		return
	}
	writeJSON(w, http.StatusOK, reviews)
}

func (s *Server) handleGetReview(w http.ResponseWriter, r *http.Request) {
	if s.reviews == nil {
		writeError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "hitl review queue is not configured")
		return
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid review id")
		return
	}
	rv, err := s.reviews.GetReview(r.Context(), id)
	if err != nil {
		s.logger.Error("get review failed", "review_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to fetch review")
		return
	}
	if rv == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "review not found")
		return
	}
	writeJSON(w, http.StatusOK, rv)
}

type dequeueRequest struct {
	AssignedTo string `json:"assigned_to"`
	Limit      int    `json:"limit"`
}

func (s *Server) handleDequeue(w http.ResponseWriter, r *http.Request) {
	if s.reviews == nil {
		writeError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "hitl review queue is not configured")
		return
	}
	var req dequeueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AssignedTo == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "assigned_to is required")
		return
	}
	if req.Limit <= 0 {
		req.Limit = 1
	}
	reviews, err := s.reviews.DequeueReview(r.Context(), req.AssignedTo, s.lockDuration, req.Limit)
	if err != nil {
		s.logger.Error("dequeue failed", "assigned_to", req.AssignedTo, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to dequeue reviews")
		return
	}
	writeJSON(w, http.StatusOK, reviews)
}

type decisionRequest struct {
	ReviewedBy string `json:"reviewed_by"`
	Notes      string `json:"notes"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	s.handleDecision(w, r, func(ctx context.Context, id int64, by, notes string) (review.Review, error) {
		return s.reviews.Approve(ctx, id, by, notes)
	})
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	s.handleDecision(w, r, func(ctx context.Context, id int64, by, notes string) (review.Review, error) {
		return s.reviews.Reject(ctx, id, by, notes)
	})
}

func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request, decide func(context.Context, int64, string, string) (review.Review, error)) {
	if s.reviews == nil {
		writeError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "hitl review queue is not configured")
		return
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid review id")
		return
	}
	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ReviewedBy == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "reviewed_by is required")
		return
	}
	rv, err := decide(r.Context(), id, req.ReviewedBy, req.Notes)
	if err != nil {
		s.logger.Error("review decision failed", "review_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to record decision")
		return
	}
	writeJSON(w, http.StatusOK, rv)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a generic error body with an errorCode so every
// route, not just /api/chat, satisfies the errorCode/details contract.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeAPIError(w, status, code, message, "", "")
}

// writeAPIError writes the {error, errorCode, details:{reason, traceId}}
// body spec.md §6 requires for /api/chat errors, reused by every route
// for a consistent error shape.
func writeAPIError(w http.ResponseWriter, status int, code, message, reason, traceID string) {
	writeJSON(w, status, apiError{
		Error:     message,
		ErrorCode: code,
		Details:   apiErrorDetails{Reason: reason, TraceID: traceID},
	})
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return defaultVal
	}
	return v
}

// asError is a small errors.As wrapper so the switch above reads as a
// flat list of candidate types instead of repeated errors.As calls.
func asError[T error](err error, target *T) bool {
	return errors.As(err, target)
}
