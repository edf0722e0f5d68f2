// Package review implements the durable human-in-the-loop review queue:
// a Postgres-backed store offering exactly-once concurrent dequeue via
// SELECT ... FOR UPDATE SKIP LOCKED, and a Service layer wrapping it with
// the escalate/approve/reject/dequeue/bypass-check operations the
// orchestrator and HTTP adapter call.
package review

import "time"

// Status is the lifecycle state of a Review.
type Status string

const (
	StatusPending    Status = "pending"
	StatusAssigned   Status = "assigned"
	StatusProcessing Status = "processing"
	StatusApproved   Status = "approved"
	StatusRejected   Status = "rejected"
	StatusExpired    Status = "expired"
)

// decidable reports whether a review currently in status s can still
// receive a decision. Approved, rejected and expired reviews are terminal.
func decidable(s Status) bool {
	return s == StatusPending || s == StatusAssigned || s == StatusProcessing
}

// Review is a single human-in-the-loop review record.
type Review struct {
	ID                int64
	RequestID         string
	TraceID           string
	Checkpoint        string // "input" or "output"
	Reason            string
	ContextData       map[string]interface{}
	Prompt            string
	Response          string
	Status            Status
	Priority          int
	AssignedTo        string
	LockedUntil       *time.Time
	ReviewedBy        string
	ReviewNotes       string
	DecisionTimestamp *time.Time
	CreatedAt         time.Time
	AssignedAt        *time.Time
	ExpiresAt         *time.Time
	Metadata          map[string]interface{}
}

// CreateParams holds the fields needed to enqueue a new Review.
type CreateParams struct {
	RequestID   string
	TraceID     string
	Checkpoint  string
	Reason      string
	ContextData map[string]interface{}
	Prompt      string
	Response    string
	Priority    int
	ExpiresAt   *time.Time
	Metadata    map[string]interface{}
}

// ReviewPatch describes a partial update to a Review. Nil fields are
// left unchanged; non-nil fields overwrite the current value.
type ReviewPatch struct {
	Status      *Status
	AssignedTo  *string
	LockedUntil *time.Time
	ReviewedBy  *string
	ReviewNotes *string
	ExpiresAt   *time.Time
	Metadata    map[string]interface{}
}

// Query filters reviews for QueryReviews / the bypass check.
type Query struct {
	Status     Status
	RequestID  string
	TraceID    string
	Checkpoint string
	AssignedTo string
	StartTime  *time.Time
	EndTime    *time.Time
	Limit      int
	Offset     int
}
