package review

import (
	"context"
	"time"
)

// Store is the persistence boundary for reviews. PostgresStore is the
// only production implementation — the at-most-one-assignee dequeue
// guarantee requires a real row-level lock primitive that SQLite cannot
// express.
type Store interface {
	CreateReview(ctx context.Context, params CreateParams) (Review, error)
	GetReviewByID(ctx context.Context, id int64) (*Review, error)
	// DequeueReview atomically assigns up to limit pending, unexpired
	// reviews to assignedTo and locks them for lockDuration, returning
	// the rows it claimed. Concurrent callers never receive overlapping
	// rows.
	DequeueReview(ctx context.Context, assignedTo string, lockDuration time.Duration, limit int) ([]Review, error)
	MakeDecision(ctx context.Context, id int64, decision Status, reviewedBy, notes string) (Review, error)
	// UpdateReview applies patch to the review identified by id and
	// returns the row as it exists after the update. Setting
	// patch.Status to approved or rejected must stamp
	// DecisionTimestamp; see PostgresStore.UpdateReview.
	UpdateReview(ctx context.Context, id int64, patch ReviewPatch) (Review, error)
	GetReviewsByRequestID(ctx context.Context, requestID string) ([]Review, error)
	GetReviewsByTraceID(ctx context.Context, traceID string) ([]Review, error)
	QueryReviews(ctx context.Context, q Query) ([]Review, error)
}
