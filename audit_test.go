package goSession

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type countingSink struct {
	count atomic.Int64
}

func (s *countingSink) Emit(context.Context, AuditEvent) {
	s.count.Add(1)
}

func (s *countingSink) Count() int64 {
	return s.count.Load()
}

type gateSink struct {
	gate chan struct{}
}

func newGateSink() *gateSink {
	return &gateSink{
		gate: make(chan struct{}),
	}
}

func (s *gateSink) Emit(context.Context, AuditEvent) {
	<-s.gate
}

func TestAuditDispatcherDisabledIsNil(t *testing.T) {
	d := newAuditDispatcher(AuditConfig{Enabled: false}, NoOpSink{}, nil)
	if d != nil {
		t.Fatal("expected nil dispatcher when audit disabled")
	}
	d.Emit(context.Background(), AuditEvent{})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher must report zero drops")
	}
}

func TestAuditDispatcherDeliversAndDrainsOnClose(t *testing.T) {
	sink := &countingSink{}
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 64}, sink, nil)

	for i := 0; i < 50; i++ {
		d.Emit(context.Background(), AuditEvent{EventType: auditEventSessionCreated})
	}
	d.Close()

	if got := sink.Count(); got != 50 {
		t.Fatalf("expected 50 delivered events, got %d", got)
	}

	d.Emit(context.Background(), AuditEvent{})
	if got := sink.Count(); got != 50 {
		t.Fatalf("emit after close must be ignored, got %d", got)
	}
}

func TestAuditDispatcherDropIfFull(t *testing.T) {
	sink := newGateSink()
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 1, DropIfFull: true}, sink, nil)

	// The first event blocks the worker, the second fills the buffer.
	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), AuditEvent{EventType: auditEventLogin})
	}

	deadline := time.Now().Add(2 * time.Second)
	for d.Dropped() < 8 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := d.Dropped(); got < 8 {
		t.Fatalf("expected at least 8 drops, got %d", got)
	}
	if byType := d.DroppedByType(); byType[auditEventLogin] != d.Dropped() {
		t.Fatalf("expected all drops under %s, got %v", auditEventLogin, byType)
	}

	close(sink.gate)
	d.Close()
}

func TestAuditDispatcherBlockingRespectsContext(t *testing.T) {
	sink := newGateSink()
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 1}, sink, nil)
	defer func() {
		close(sink.gate)
		d.Close()
	}()

	d.Emit(context.Background(), AuditEvent{})
	d.Emit(context.Background(), AuditEvent{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		d.Emit(ctx, AuditEvent{})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit did not return after context deadline")
	}
}

type panickingSink struct {
	countingSink
}

func (s *panickingSink) Emit(ctx context.Context, event AuditEvent) {
	if event.EventType == auditEventSessionSaveFailure {
		panic("sink failure")
	}
	s.countingSink.Emit(ctx, event)
}

func TestAuditDispatcherSurvivesPanickingSink(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	sink := &panickingSink{}
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 8}, sink, logger)

	d.Emit(context.Background(), AuditEvent{EventType: auditEventSessionCreated})
	d.Emit(context.Background(), AuditEvent{EventType: auditEventSessionSaveFailure})
	d.Emit(context.Background(), AuditEvent{EventType: auditEventSessionDeleted})
	d.Close()

	if got := sink.Count(); got != 2 {
		t.Fatalf("expected 2 delivered events, got %d", got)
	}
	if got := d.DroppedByType(); len(got) != 1 || got[auditEventSessionSaveFailure] != 1 {
		t.Fatalf("unexpected drops %v", got)
	}
	if !strings.Contains(logs.String(), "audit sink panicked") {
		t.Fatalf("expected panic to be logged, got %q", logs.String())
	}
}

func TestAuditDispatcherCloseUnblocksEmitters(t *testing.T) {
	sink := newGateSink()
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 1}, sink, nil)

	d.Emit(context.Background(), AuditEvent{})
	d.Emit(context.Background(), AuditEvent{})

	blocked := make(chan struct{})
	go func() {
		d.Emit(context.Background(), AuditEvent{})
		close(blocked)
	}()

	closed := make(chan struct{})
	go func() {
		d.Close()
		close(closed)
	}()

	select {
	case <-blocked:
	case <-time.After(2 * time.Second):
		t.Fatal("blocked Emit did not return on Close")
	}
	close(sink.gate)
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return after the sink drained")
	}
}

func TestJSONWriterSinkWritesOneLinePerEvent(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)

	sink.Emit(context.Background(), AuditEvent{
		EventType: auditEventLogin,
		SessionID: "sid-1",
		Principal: "alice",
		Success:   true,
	})
	sink.Emit(context.Background(), AuditEvent{EventType: auditEventLogoutAll})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}

	var ev AuditEvent
	if err := json.Unmarshal([]byte(lines[0]), &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Principal != "alice" || ev.SessionID != "sid-1" || !ev.Success {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestSlogSinkLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	sink := NewSlogSink(logger)

	sink.Emit(context.Background(), AuditEvent{
		EventType: auditEventSessionDeleted,
		SessionID: "sid-9",
		Success:   true,
		Metadata:  map[string]string{"deleted": "1"},
	})
	sink.Emit(context.Background(), AuditEvent{
		EventType: auditEventSessionSaveFailure,
		Error:     string(auditErrUnavailable),
	})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 records, got %d", len(lines))
	}

	var first, second map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if first["level"] != "INFO" || first["session_id"] != "sid-9" {
		t.Fatalf("unexpected first record: %v", first)
	}
	meta, ok := first["metadata"].(map[string]any)
	if !ok || meta["deleted"] != "1" {
		t.Fatalf("expected metadata group, got %v", first["metadata"])
	}
	if second["level"] != "WARN" || second["error"] != "backend_unavailable" {
		t.Fatalf("unexpected second record: %v", second)
	}
}

func TestAuditErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want AuditErrorCode
	}{
		{nil, ""},
		{ErrSessionNotFound, auditErrSessionNotFound},
		{ErrSessionCorrupt, auditErrSessionCorrupt},
		{ErrBackendUnavailable, auditErrUnavailable},
		{context.Canceled, auditErrCanceled},
		{ErrPrincipalRequired, auditErrInternal},
	}
	for _, tt := range tests {
		if got := auditErrorCode(tt.err); got != tt.want {
			t.Fatalf("auditErrorCode(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
