package review

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/agentwarden/agentwarden/internal/alert"
)

// Notifier is the minimal surface Service needs to announce a new
// escalation to human reviewers. *alert.Manager (adapted from the
// teacher's Slack/webhook alert delivery) satisfies it.
type Notifier interface {
	Send(a alert.Alert)
}

// Service is the business-logic layer over Store: escalate, approve,
// reject, dequeue, and the bypass lookup. It mirrors the reference
// HITLService's error-handling posture exactly — escalate swallows
// repository failures and returns a synthetic review ID rather than
// propagating the error, per spec.md §9's deliberate fail-open carve-out
// for escalation specifically; every other operation here propagates
// failures normally (fail-closed is the default, this is the one
// exception).
type Service struct {
	store    Store
	notifier Notifier
	logger   *slog.Logger
}

// NewService constructs a Service. notifier may be nil, in which case
// escalations are not announced anywhere but still enqueued.
func NewService(store Store, notifier Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, notifier: notifier, logger: logger.With("component", "review.Service")}
}

// Escalate enqueues a new review. On any repository failure it logs the
// error and returns the synthetic ID "review_failed_<requestId>" instead
// of propagating the failure, so the orchestrator can still return a
// coherent response to the caller even when the review store is down.
func (s *Service) Escalate(ctx context.Context, requestID, traceID, checkpoint, reason, prompt, response string, contextData map[string]interface{}) string {
	rv, err := s.store.CreateReview(ctx, CreateParams{
		RequestID:   requestID,
		TraceID:     traceID,
		Checkpoint:  checkpoint,
		Reason:      reason,
		ContextData: contextData,
		Prompt:      prompt,
		Response:    response,
		Priority:    0,
		Metadata:    map[string]interface{}{},
	})
	if err != nil {
		s.logger.Error("hitl escalation failed",
			"request_id", requestID,
			"error", err,
		)
		return fmt.Sprintf("review_failed_%s", requestID)
	}

	s.logger.Info("hitl review created",
		"review_id", rv.ID,
		"request_id", requestID,
		"trace_id", traceID,
		"checkpoint", checkpoint,
		"reason", reason,
	)

	if s.notifier != nil {
		s.notifier.Send(alert.Alert{
			Type:     "hitl_escalation",
			Severity: "warning",
			Title:    "Request escalated for human review",
			Message:  reason,
			Details: map[string]interface{}{
				"review_id":  rv.ID,
				"request_id": requestID,
				"checkpoint": checkpoint,
			},
		})
	}

	return fmt.Sprintf("%d", rv.ID)
}

// Approve records an approval decision.
func (s *Service) Approve(ctx context.Context, reviewID int64, reviewedBy, notes string) (Review, error) {
	rv, err := s.store.MakeDecision(ctx, reviewID, StatusApproved, reviewedBy, notes)
	if err != nil {
		s.logger.Error("hitl review approval failed", "review_id", reviewID, "error", err)
		return Review{}, err
	}
	s.logger.Info("hitl review approved", "review_id", reviewID, "reviewed_by", reviewedBy, "request_id", rv.RequestID)
	return rv, nil
}

// Reject records a rejection decision.
func (s *Service) Reject(ctx context.Context, reviewID int64, reviewedBy, notes string) (Review, error) {
	rv, err := s.store.MakeDecision(ctx, reviewID, StatusRejected, reviewedBy, notes)
	if err != nil {
		s.logger.Error("hitl review rejection failed", "review_id", reviewID, "error", err)
		return Review{}, err
	}
	s.logger.Info("hitl review rejected", "review_id", reviewID, "reviewed_by", reviewedBy, "request_id", rv.RequestID)
	return rv, nil
}

// GetReview looks up a review by ID.
func (s *Service) GetReview(ctx context.Context, reviewID int64) (*Review, error) {
	return s.store.GetReviewByID(ctx, reviewID)
}

// DequeueReview claims up to limit pending reviews for assignedTo.
func (s *Service) DequeueReview(ctx context.Context, assignedTo string, lockDuration time.Duration, limit int) ([]Review, error) {
	reviews, err := s.store.DequeueReview(ctx, assignedTo, lockDuration, limit)
	if err != nil {
		s.logger.Error("hitl review dequeue failed", "assigned_to", assignedTo, "error", err)
		return nil, err
	}
	if len(reviews) > 0 {
		ids := make([]int64, len(reviews))
		for i, r := range reviews {
			ids[i] = r.ID
		}
		s.logger.Info("hitl reviews dequeued", "count", len(reviews), "assigned_to", assignedTo, "review_ids", ids)
	}
	return reviews, nil
}

// GetReviewsByRequestID returns every review associated with a request.
func (s *Service) GetReviewsByRequestID(ctx context.Context, requestID string) ([]Review, error) {
	return s.store.GetReviewsByRequestID(ctx, requestID)
}

// GetReviewsByTraceID returns every review associated with a trace.
func (s *Service) GetReviewsByTraceID(ctx context.Context, traceID string) ([]Review, error) {
	return s.store.GetReviewsByTraceID(ctx, traceID)
}

// QueryReviews runs a filtered review listing for the HTTP adapter.
func (s *Service) QueryReviews(ctx context.Context, q Query) ([]Review, error) {
	return s.store.QueryReviews(ctx, q)
}

// CheckApprovedReview implements the bypass lookup: if the same user has
// an approved review for an identical prompt at the same checkpoint
// within maxAge, escalation can be skipped entirely. Prompts are compared
// byte for byte. It is fail-closed — any store error returns nil, never
// a false bypass.
func (s *Service) CheckApprovedReview(ctx context.Context, prompt, userID, checkpoint string, maxAge time.Duration) (*Review, error) {
	cutoff := time.Now().Add(-maxAge)

	reviews, err := s.store.QueryReviews(ctx, Query{
		Status:     StatusApproved,
		Checkpoint: checkpoint,
		StartTime:  &cutoff,
		Limit:      100,
	})
	if err != nil {
		s.logger.Error("hitl bypass check failed", "user_id", userID, "checkpoint", checkpoint, "error", err)
		return nil, nil
	}

	for _, rv := range reviews {
		if rv.Prompt != prompt {
			continue
		}
		reviewUserID, _ := rv.ContextData["user_id"].(string)
		if reviewUserID != userID {
			continue
		}
		s.logger.Info("hitl bypass review found", "review_id", rv.ID, "user_id", userID, "checkpoint", checkpoint)
		return &rv, nil
	}

	return nil, nil
}
