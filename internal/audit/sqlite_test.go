package audit

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestSink(t *testing.T) *SQLiteSink {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.db")
	sink, err := NewSQLiteSink(path, nil)
	if err != nil {
		t.Fatalf("NewSQLiteSink() error: %v", err)
	}
	if err := sink.Initialize(); err != nil {
		t.Fatalf("Initialize() error: %v", err)
	}
	t.Cleanup(func() { sink.Close() })
	return sink
}

func TestLogAndGetEventsByRequestID(t *testing.T) {
	sink := newTestSink(t)

	sink.Log("req-1", "trace-1", "request_received", map[string]interface{}{"user_id": "u1"})
	sink.Log("req-1", "trace-1", "request_completed", map[string]interface{}{"final_outcome": "ALLOW"})
	sink.Log("req-2", "trace-2", "request_received", map[string]interface{}{"user_id": "u2"})

	events, err := sink.GetEventsByRequestID("req-1")
	if err != nil {
		t.Fatalf("GetEventsByRequestID() error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2", len(events))
	}
	if events[0].EventType != "request_received" || events[1].EventType != "request_completed" {
		t.Errorf("events out of order: %+v", events)
	}
	if events[0].Data["user_id"] != "u1" {
		t.Errorf("Data[user_id] = %v, want u1", events[0].Data["user_id"])
	}
}

func TestGetEventsByTraceID(t *testing.T) {
	sink := newTestSink(t)

	sink.Log("req-1", "trace-shared", "request_received", nil)
	sink.Log("req-2", "trace-shared", "request_completed", nil)
	sink.Log("req-3", "trace-other", "request_received", nil)

	events, err := sink.GetEventsByTraceID("trace-shared")
	if err != nil {
		t.Fatalf("GetEventsByTraceID() error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2", len(events))
	}
}

func TestGetEventsByUserIDFiltersWithinWindow(t *testing.T) {
	sink := newTestSink(t)

	sink.Log("req-1", "", "request_received", map[string]interface{}{"user_id": "alice"})
	sink.Log("req-2", "", "request_received", map[string]interface{}{"user_id": "bob"})

	start := time.Now().Add(-time.Hour).UnixNano()
	end := time.Now().Add(time.Hour).UnixNano()

	events, err := sink.GetEventsByUserID("alice", start, end)
	if err != nil {
		t.Fatalf("GetEventsByUserID() error: %v", err)
	}
	if len(events) != 1 || events[0].RequestID != "req-1" {
		t.Fatalf("events = %+v, want one event for req-1", events)
	}
}

func TestGetPolicyViolationsFiltersByEventType(t *testing.T) {
	sink := newTestSink(t)

	sink.Log("req-1", "", "request_received", nil)
	sink.Log("req-1", "", "request_blocked", map[string]interface{}{"reason": "pii"})
	sink.Log("req-2", "", "request_escalated", map[string]interface{}{"reason": "risky"})
	sink.Log("req-3", "", "request_completed", nil)

	start := time.Now().Add(-time.Hour).UnixNano()
	end := time.Now().Add(time.Hour).UnixNano()

	events, err := sink.GetPolicyViolations(start, end)
	if err != nil {
		t.Fatalf("GetPolicyViolations() error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2 (request_blocked + request_escalated)", len(events))
	}
}

func TestLogSwallowsMarshalFailureWithoutPanicking(t *testing.T) {
	sink := newTestSink(t)

	// A channel value cannot be marshaled to JSON; Log must not panic,
	// just skip the write.
	sink.Log("req-bad", "", "request_received", map[string]interface{}{"bad": make(chan int)})

	events, err := sink.GetEventsByRequestID("req-bad")
	if err != nil {
		t.Fatalf("GetEventsByRequestID() error: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected no events written for an unmarshalable payload, got %d", len(events))
	}
}

func TestGetEventsByRequestIDEmptyResult(t *testing.T) {
	sink := newTestSink(t)

	events, err := sink.GetEventsByRequestID("does-not-exist")
	if err != nil {
		t.Fatalf("GetEventsByRequestID() error: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("len(events) = %d, want 0", len(events))
	}
}
