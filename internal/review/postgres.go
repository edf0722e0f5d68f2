package review

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agentwarden/agentwarden/internal/gwerror"
)

// schema is applied by EnsureSchema on startup. Postgres supports the
// row-level SELECT ... FOR UPDATE SKIP LOCKED semantics the queue's
// at-most-one-assignee dequeue guarantee depends on; no other storage
// driver in this gateway can serve this table.
const schema = `
CREATE TABLE IF NOT EXISTS hitl_reviews (
	id                 BIGSERIAL PRIMARY KEY,
	request_id         TEXT NOT NULL,
	trace_id           TEXT,
	checkpoint         TEXT NOT NULL,
	reason             TEXT NOT NULL,
	context_data       JSONB NOT NULL DEFAULT '{}',
	prompt             TEXT,
	response           TEXT,
	status             TEXT NOT NULL DEFAULT 'pending',
	priority           INTEGER NOT NULL DEFAULT 0,
	assigned_to        TEXT,
	locked_until       TIMESTAMPTZ,
	reviewed_by        TEXT,
	review_notes       TEXT,
	decision_timestamp TIMESTAMPTZ,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	assigned_at        TIMESTAMPTZ,
	expires_at         TIMESTAMPTZ,
	metadata           JSONB NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_hitl_reviews_status ON hitl_reviews (status, priority DESC, created_at ASC);
CREATE INDEX IF NOT EXISTS idx_hitl_reviews_request_id ON hitl_reviews (request_id);
CREATE INDEX IF NOT EXISTS idx_hitl_reviews_trace_id ON hitl_reviews (trace_id);
`

const reviewColumns = `
	id, request_id, trace_id, checkpoint, reason, context_data,
	prompt, response, status, priority, assigned_to, locked_until,
	reviewed_by, review_notes, decision_timestamp, created_at,
	assigned_at, expires_at, metadata`

// PostgresStore is the pgx/v5-backed Store implementation.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresStore wraps an already-connected pgxpool.Pool.
func NewPostgresStore(pool *pgxpool.Pool, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{pool: pool, logger: logger.With("component", "review.PostgresStore")}
}

// EnsureSchema creates the hitl_reviews table and its indexes if they do
// not already exist. Safe to call on every startup.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to ensure hitl_reviews schema: %w", err)
	}
	return nil
}

// CreateReview implements Store, mirroring the reference
// INSERT ... RETURNING shape.
func (s *PostgresStore) CreateReview(ctx context.Context, p CreateParams) (Review, error) {
	contextJSON, err := marshalOrEmpty(p.ContextData)
	if err != nil {
		return Review{}, fmt.Errorf("failed to marshal context_data: %w", err)
	}
	metaJSON, err := marshalOrEmpty(p.Metadata)
	if err != nil {
		return Review{}, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO hitl_reviews
			(request_id, trace_id, checkpoint, reason, context_data, prompt, response, priority, expires_at, metadata, status)
		VALUES
			($1, $2, $3, $4, $5::jsonb, $6, $7, $8, $9, $10::jsonb, 'pending')
		RETURNING `+reviewColumns,
		p.RequestID, p.TraceID, p.Checkpoint, p.Reason, contextJSON, p.Prompt, p.Response, p.Priority, p.ExpiresAt, metaJSON,
	)

	return scanReview(row)
}

// DequeueReview implements Store using UPDATE ... WHERE id IN (SELECT ...
// FOR UPDATE SKIP LOCKED): the subquery selects and row-locks up to limit
// pending, unexpired reviews ordered by priority then age, skipping any
// row a concurrent transaction already has locked, and the outer UPDATE
// assigns and returns exactly the rows this call claimed. Two callers
// racing on the same queue can never be handed the same review.
func (s *PostgresStore) DequeueReview(ctx context.Context, assignedTo string, lockDuration time.Duration, limit int) ([]Review, error) {
	if limit <= 0 {
		limit = 1
	}
	lockedUntil := time.Now().Add(lockDuration)

	rows, err := s.pool.Query(ctx, `
		UPDATE hitl_reviews
		SET
			status = 'assigned',
			assigned_to = $1,
			assigned_at = NOW(),
			locked_until = $2
		WHERE id IN (
			SELECT id
			FROM hitl_reviews
			WHERE status = 'pending'
				AND (expires_at IS NULL OR expires_at > NOW())
			ORDER BY priority DESC, created_at ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+reviewColumns,
		assignedTo, lockedUntil, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("dequeue query failed: %w", err)
	}
	defer rows.Close()

	var out []Review
	for rows.Next() {
		rv, err := scanReviewRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dequeue row iteration failed: %w", err)
	}
	return out, nil
}

// GetReviewByID implements Store.
func (s *PostgresStore) GetReviewByID(ctx context.Context, id int64) (*Review, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+reviewColumns+` FROM hitl_reviews WHERE id = $1`, id)
	rv, err := scanReview(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &rv, nil
}

// MakeDecision implements Store: sets status to decision (approved or
// rejected), stamps decision_timestamp and reviewed_by in one statement.
// A review whose current status is not pending, assigned or processing
// cannot be decided; it fails with *gwerror.IllegalTransition rather
// than silently overwriting an already-final decision.
func (s *PostgresStore) MakeDecision(ctx context.Context, id int64, decision Status, reviewedBy, notes string) (Review, error) {
	if decision != StatusApproved && decision != StatusRejected {
		return Review{}, &gwerror.InvalidDecision{Decision: string(decision)}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Review{}, fmt.Errorf("failed to begin decision transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var current Status
	err = tx.QueryRow(ctx, `SELECT status FROM hitl_reviews WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if err != nil {
		if err == pgx.ErrNoRows {
			return Review{}, fmt.Errorf("review %d not found", id)
		}
		return Review{}, err
	}
	if !decidable(current) {
		return Review{}, &gwerror.IllegalTransition{From: string(current), To: string(decision)}
	}

	row := tx.QueryRow(ctx, `
		UPDATE hitl_reviews
		SET status = $1, decision_timestamp = NOW(), reviewed_by = $2, review_notes = $3
		WHERE id = $4
		RETURNING `+reviewColumns,
		string(decision), reviewedBy, notes, id,
	)
	rv, err := scanReview(row)
	if err != nil {
		return Review{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Review{}, fmt.Errorf("failed to commit decision transaction: %w", err)
	}
	return rv, nil
}

// UpdateReview implements Store with a dynamic SET-clause builder, the
// same shape QueryReviews uses for its WHERE clause. A transition of
// Status to approved or rejected without ReviewedBy is rejected with
// *gwerror.InvariantViolation; with it, decision_timestamp is stamped
// NOW() in the same statement, since the data model requires it to be
// set exactly when a review reaches a decided state. A Status change on
// a review that is no longer pending, assigned or processing fails with
// *gwerror.IllegalTransition.
func (s *PostgresStore) UpdateReview(ctx context.Context, id int64, patch ReviewPatch) (Review, error) {
	if patch.Status != nil {
		decided := *patch.Status == StatusApproved || *patch.Status == StatusRejected
		if decided && patch.ReviewedBy == nil {
			return Review{}, &gwerror.InvariantViolation{Reason: "status transition to approved/rejected requires reviewed_by and decision_timestamp; use MakeDecision or supply ReviewedBy"}
		}
	}

	var set []string
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if patch.Status != nil {
		set = append(set, "status = "+arg(string(*patch.Status)))
		if *patch.Status == StatusApproved || *patch.Status == StatusRejected {
			set = append(set, "decision_timestamp = NOW()")
		}
	}
	if patch.AssignedTo != nil {
		set = append(set, "assigned_to = "+arg(*patch.AssignedTo))
	}
	if patch.LockedUntil != nil {
		set = append(set, "locked_until = "+arg(*patch.LockedUntil))
	}
	if patch.ReviewedBy != nil {
		set = append(set, "reviewed_by = "+arg(*patch.ReviewedBy))
	}
	if patch.ReviewNotes != nil {
		set = append(set, "review_notes = "+arg(*patch.ReviewNotes))
	}
	if patch.ExpiresAt != nil {
		set = append(set, "expires_at = "+arg(*patch.ExpiresAt))
	}
	if patch.Metadata != nil {
		metaJSON, err := json.Marshal(patch.Metadata)
		if err != nil {
			return Review{}, fmt.Errorf("failed to marshal metadata: %w", err)
		}
		set = append(set, "metadata = "+arg(metaJSON)+"::jsonb")
	}

	if len(set) == 0 {
		rv, err := s.GetReviewByID(ctx, id)
		if err != nil {
			return Review{}, err
		}
		if rv == nil {
			return Review{}, fmt.Errorf("review %d not found", id)
		}
		return *rv, nil
	}

	where := " WHERE id = " + arg(id)
	if patch.Status != nil {
		where += " AND status IN ('pending', 'assigned', 'processing')"
	}
	query := "UPDATE hitl_reviews SET " + strings.Join(set, ", ") + where + " RETURNING " + reviewColumns
	row := s.pool.QueryRow(ctx, query, args...)
	rv, err := scanReview(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			if patch.Status != nil {
				if cur, getErr := s.GetReviewByID(ctx, id); getErr == nil && cur != nil {
					return Review{}, &gwerror.IllegalTransition{From: string(cur.Status), To: string(*patch.Status)}
				}
			}
			return Review{}, fmt.Errorf("review %d not found", id)
		}
		return Review{}, err
	}
	return rv, nil
}

// GetReviewsByRequestID implements Store.
func (s *PostgresStore) GetReviewsByRequestID(ctx context.Context, requestID string) ([]Review, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+reviewColumns+` FROM hitl_reviews WHERE request_id = $1 ORDER BY created_at DESC`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAll(rows)
}

// GetReviewsByTraceID implements Store.
func (s *PostgresStore) GetReviewsByTraceID(ctx context.Context, traceID string) ([]Review, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+reviewColumns+` FROM hitl_reviews WHERE trace_id = $1 ORDER BY created_at DESC`, traceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAll(rows)
}

// QueryReviews implements Store with a dynamic WHERE-clause builder
// matching the reference "WHERE 1=1" + AND-conditions shape.
func (s *PostgresStore) QueryReviews(ctx context.Context, q Query) ([]Review, error) {
	query := `SELECT ` + reviewColumns + ` FROM hitl_reviews WHERE 1=1`
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if q.Status != "" {
		query += " AND status = " + arg(string(q.Status))
	}
	if q.RequestID != "" {
		query += " AND request_id = " + arg(q.RequestID)
	}
	if q.TraceID != "" {
		query += " AND trace_id = " + arg(q.TraceID)
	}
	if q.Checkpoint != "" {
		query += " AND checkpoint = " + arg(q.Checkpoint)
	}
	if q.AssignedTo != "" {
		query += " AND assigned_to = " + arg(q.AssignedTo)
	}
	if q.StartTime != nil {
		query += " AND created_at >= " + arg(*q.StartTime)
	}
	if q.EndTime != nil {
		query += " AND created_at <= " + arg(*q.EndTime)
	}

	query += " ORDER BY priority DESC, created_at DESC"

	if q.Limit > 0 {
		query += " LIMIT " + arg(q.Limit)
	}
	if q.Offset > 0 {
		query += " OFFSET " + arg(q.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query_reviews failed: %w", err)
	}
	defer rows.Close()
	return scanAll(rows)
}

func marshalOrEmpty(m map[string]interface{}) ([]byte, error) {
	if m == nil {
		m = map[string]interface{}{}
	}
	return json.Marshal(m)
}

// rowScanner abstracts pgx.Row and pgx.Rows, which share a Scan method
// but not a common interface in pgx/v5.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanReview(row pgx.Row) (Review, error) {
	return scanReviewRows(row)
}

func scanReviewRows(row rowScanner) (Review, error) {
	var rv Review
	var contextJSON, metaJSON []byte
	var traceID, assignedTo, reviewedBy, reviewNotes, prompt, response *string

	err := row.Scan(
		&rv.ID, &rv.RequestID, &traceID, &rv.Checkpoint, &rv.Reason, &contextJSON,
		&prompt, &response, &rv.Status, &rv.Priority, &assignedTo, &rv.LockedUntil,
		&reviewedBy, &reviewNotes, &rv.DecisionTimestamp, &rv.CreatedAt,
		&rv.AssignedAt, &rv.ExpiresAt, &metaJSON,
	)
	if err != nil {
		return Review{}, err
	}

	rv.TraceID = strOrEmpty(traceID)
	rv.AssignedTo = strOrEmpty(assignedTo)
	rv.ReviewedBy = strOrEmpty(reviewedBy)
	rv.ReviewNotes = strOrEmpty(reviewNotes)
	rv.Prompt = strOrEmpty(prompt)
	rv.Response = strOrEmpty(response)

	if len(contextJSON) > 0 {
		if err := json.Unmarshal(contextJSON, &rv.ContextData); err != nil {
			return Review{}, fmt.Errorf("failed to unmarshal context_data: %w", err)
		}
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &rv.Metadata); err != nil {
			return Review{}, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return rv, nil
}

func scanAll(rows pgx.Rows) ([]Review, error) {
	var out []Review
	for rows.Next() {
		rv, err := scanReviewRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
