package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id  TEXT NOT NULL,
	trace_id    TEXT,
	event_type  TEXT NOT NULL,
	data        TEXT,
	created_at  DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_events_request_id ON audit_events(request_id);
CREATE INDEX IF NOT EXISTS idx_audit_events_trace_id ON audit_events(trace_id);
CREATE INDEX IF NOT EXISTS idx_audit_events_type ON audit_events(event_type);
CREATE INDEX IF NOT EXISTS idx_audit_events_created_at ON audit_events(created_at);
`

// SQLiteSink is the append-only Sink implementation, backed by the
// pure-Go modernc.org/sqlite driver (no cgo).
type SQLiteSink struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteSink opens (creating if absent) the event log at path.
func NewSQLiteSink(path string, logger *slog.Logger) (*SQLiteSink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open audit sqlite: %w", err)
	}
	return &SQLiteSink{db: db, logger: logger.With("component", "audit.SQLiteSink")}, nil
}

// Initialize creates the audit_events table if it doesn't exist. Safe to
// call on every startup.
func (s *SQLiteSink) Initialize() error {
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

// Log writes one event and swallows any failure, matching the reference
// AuditService.log's try/except-and-continue behavior: an audit write
// must never be able to fail the request it is describing.
func (s *SQLiteSink) Log(requestID, traceID, eventType string, data map[string]interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		s.logger.Error("audit event marshal failed", "request_id", requestID, "event_type", eventType, "error", err)
		return
	}

	_, err = s.db.Exec(
		`INSERT INTO audit_events (request_id, trace_id, event_type, data, created_at) VALUES (?, ?, ?, ?, ?)`,
		requestID, nullStr(traceID), eventType, string(payload), time.Now().UTC(),
	)
	if err != nil {
		s.logger.Error("audit event write failed", "request_id", requestID, "event_type", eventType, "error", err)
	}
}

// GetEventsByRequestID implements Sink.
func (s *SQLiteSink) GetEventsByRequestID(requestID string) ([]Event, error) {
	return s.queryEvents(`SELECT id, request_id, trace_id, event_type, data, created_at FROM audit_events WHERE request_id = ? ORDER BY created_at ASC`, requestID)
}

// GetEventsByTraceID implements Sink.
func (s *SQLiteSink) GetEventsByTraceID(traceID string) ([]Event, error) {
	return s.queryEvents(`SELECT id, request_id, trace_id, event_type, data, created_at FROM audit_events WHERE trace_id = ? ORDER BY created_at ASC`, traceID)
}

// GetEventsByUserID implements Sink. user_id lives inside the JSON data
// column (it is request-scoped metadata, not a first-class column), so
// this scans the window and filters in Go rather than indexing into JSON
// the way the Postgres-backed review store can with JSONB.
func (s *SQLiteSink) GetEventsByUserID(userID string, startUnixNanos, endUnixNanos int64) ([]Event, error) {
	start := time.Unix(0, startUnixNanos).UTC()
	end := time.Unix(0, endUnixNanos).UTC()

	events, err := s.queryEvents(
		`SELECT id, request_id, trace_id, event_type, data, created_at FROM audit_events WHERE created_at >= ? AND created_at <= ? ORDER BY created_at ASC`,
		start, end,
	)
	if err != nil {
		return nil, err
	}

	var out []Event
	for _, ev := range events {
		if uid, _ := ev.Data["user_id"].(string); uid == userID {
			out = append(out, ev)
		}
	}
	return out, nil
}

// GetPolicyViolations returns every blocked or escalated event (at either
// checkpoint) within the window. Redactions are not included.
func (s *SQLiteSink) GetPolicyViolations(startUnixNanos, endUnixNanos int64) ([]Event, error) {
	start := time.Unix(0, startUnixNanos).UTC()
	end := time.Unix(0, endUnixNanos).UTC()

	return s.queryEvents(
		`SELECT id, request_id, trace_id, event_type, data, created_at
		 FROM audit_events
		 WHERE created_at >= ? AND created_at <= ?
		 AND event_type IN ('request_blocked', 'request_escalated', 'response_blocked', 'response_escalated')
		 ORDER BY created_at ASC`,
		start, end,
	)
}

func (s *SQLiteSink) queryEvents(query string, args ...interface{}) ([]Event, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit query failed: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		var traceID sql.NullString
		var data sql.NullString
		var createdAt time.Time

		if err := rows.Scan(&ev.ID, &ev.RequestID, &traceID, &ev.EventType, &data, &createdAt); err != nil {
			return nil, err
		}
		ev.TraceID = traceID.String
		ev.Timestamp = createdAt.UnixNano()
		if data.Valid && data.String != "" {
			if err := json.Unmarshal([]byte(data.String), &ev.Data); err != nil {
				return nil, fmt.Errorf("failed to unmarshal audit event data: %w", err)
			}
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
