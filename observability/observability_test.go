package observability

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/hazyhaar/accesspdf/dbopen"
)

func setupObsDB(t *testing.T) *sql.DB {
	t.Helper()
	return dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
}

func TestInit_CreatesTables(t *testing.T) {
	db := setupObsDB(t)
	for _, table := range []string{"worker_heartbeats", "metrics_timeseries"} {
		var n int
		db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&n)
		if n != 1 {
			t.Fatalf("table %s not found", table)
		}
	}
	// Idempotent.
	if err := Init(db); err != nil {
		t.Fatal(err)
	}
}

// --- MetricsManager ---

func TestMetricsManager_RecordAndQuery(t *testing.T) {
	// WHAT: recorded metrics are persisted on Close with labels and units.
	// WHY: Close must not lose the last batch at shutdown.
	db := setupObsDB(t)
	mm := NewMetricsManager(db, nil, 100, time.Hour)

	mm.RecordDuration(MetricStageDurationMs, 1500*time.Millisecond, map[string]string{"stage": "extract"})
	mm.RecordCount(MetricIssues, 2, map[string]string{"category": "image_alt"})
	mm.Close()
	mm.Close() // second call is a no-op

	ctx := context.Background()
	got, err := mm.Query(ctx, MetricStageDurationMs, nil, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("count = %d, want 1", len(got))
	}
	if got[0].Value != 1500 || got[0].Unit != "milliseconds" {
		t.Errorf("metric = %+v", got[0])
	}
	if got[0].Labels["stage"] != "extract" {
		t.Errorf("labels = %v", got[0].Labels)
	}

	all, err := mm.Query(ctx, "", nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("all = %d, want 2", len(all))
	}
}

func TestMetricsManager_FlushOnFullBuffer(t *testing.T) {
	db := setupObsDB(t)
	mm := NewMetricsManager(db, nil, 2, time.Hour)
	defer mm.Close()

	mm.RecordCount(MetricPages, 1, nil)
	mm.RecordCount(MetricPages, 3, nil)

	var n int
	db.QueryRow("SELECT COUNT(*) FROM metrics_timeseries").Scan(&n)
	if n != 2 {
		t.Fatalf("rows = %d, want 2 after buffer filled", n)
	}
}

func TestMetricsManager_QuerySince(t *testing.T) {
	db := setupObsDB(t)
	mm := NewMetricsManager(db, nil, 100, time.Hour)
	defer mm.Close()

	old := time.Now().Add(-2 * time.Hour)
	mm.Record(&Metric{Name: MetricOCRPages, Timestamp: old, Value: 1, Unit: "count"})
	mm.Record(&Metric{Name: MetricOCRPages, Value: 2, Unit: "count"})
	mm.Flush()

	since := time.Now().Add(-time.Hour)
	got, err := mm.Query(context.Background(), MetricOCRPages, &since, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Value != 2 {
		t.Fatalf("got %+v, want only the recent metric", got)
	}
}

func TestMetricsManager_Cleanup(t *testing.T) {
	db := setupObsDB(t)
	mm := NewMetricsManager(db, nil, 100, time.Hour)
	defer mm.Close()

	mm.Record(&Metric{Name: "old", Timestamp: time.Now().AddDate(0, 0, -30), Value: 1})
	mm.Record(&Metric{Name: "new", Value: 1})
	mm.Flush()

	n, err := mm.Cleanup(context.Background(), 7)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("deleted = %d, want 1", n)
	}
}

// --- Heartbeat ---

func TestHeartbeat_WriteAndLatest(t *testing.T) {
	db := setupObsDB(t)
	ctx := context.Background()

	if hs, err := LatestHeartbeat(ctx, db, "accesspdf", time.Minute); err != nil || hs != nil {
		t.Fatalf("before any beat: %v, %v", hs, err)
	}

	hw := NewHeartbeatWriter(db, nil, "accesspdf", time.Hour)
	if err := hw.WriteHeartbeat(ctx); err != nil {
		t.Fatal(err)
	}
	hs, err := LatestHeartbeat(ctx, db, "accesspdf", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if hs == nil || !hs.Alive {
		t.Fatalf("status = %+v, want alive", hs)
	}
	if hs.PID == 0 || hs.GoroutinesCount == 0 {
		t.Errorf("runtime fields not filled: %+v", hs)
	}
}

func TestHeartbeat_Stale(t *testing.T) {
	db := setupObsDB(t)
	db.Exec(`INSERT INTO worker_heartbeats (worker_name, hostname, worker_pid, timestamp,
		goroutines_count, memory_alloc_mb, memory_sys_mb, gc_count) VALUES (?,?,?,?,?,?,?,?)`,
		"accesspdf", "h", 1, time.Now().Add(-time.Hour).Unix(), 1, 1.0, 1.0, 0)

	hs, err := LatestHeartbeat(context.Background(), db, "accesspdf", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if hs.Alive || hs.StaleSince == nil {
		t.Fatalf("status = %+v, want stale", hs)
	}
}

func TestHeartbeat_StartStop(t *testing.T) {
	db := setupObsDB(t)
	hw := NewHeartbeatWriter(db, nil, "svc", time.Hour)
	hw.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for {
		var n int
		db.QueryRow("SELECT COUNT(*) FROM worker_heartbeats").Scan(&n)
		if n >= 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no immediate heartbeat")
		}
		time.Sleep(10 * time.Millisecond)
	}
	hw.Stop()
	hw.Stop()
}

func TestCleanupHeartbeats(t *testing.T) {
	db := setupObsDB(t)
	db.Exec(`INSERT INTO worker_heartbeats (worker_name, hostname, worker_pid, timestamp) VALUES (?,?,?,?)`,
		"svc", "h", 1, time.Now().AddDate(0, 0, -10).Unix())
	n, err := CleanupHeartbeats(context.Background(), db, 7)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("deleted = %d, want 1", n)
	}
}

// --- Logger ---

func TestNewLogger_Level(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "warn")
	logger.Info("hidden")
	logger.Warn("shown")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Fatalf("output = %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug, "info": slog.LevelInfo, "WARN": slog.LevelWarn,
		"error": slog.LevelError, "bogus": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestTraceHandler_AddsIDs(t *testing.T) {
	// WHAT: a record logged under a span context carries trace_id and span_id.
	// WHY: log lines must be joinable with exported traces.
	var buf bytes.Buffer
	logger := NewLogger(&buf, "info").With("component", "test")

	tid, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	sid, _ := trace.SpanIDFromHex("0102030405060708")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: tid, SpanID: sid, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	logger.InfoContext(ctx, "traced")
	logger.Info("untraced")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d", len(lines))
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatal(err)
	}
	if rec["trace_id"] != tid.String() || rec["span_id"] != sid.String() {
		t.Errorf("record = %v", rec)
	}
	if rec["component"] != "test" {
		t.Errorf("WithAttrs lost: %v", rec)
	}
	if strings.Contains(lines[1], "trace_id") {
		t.Errorf("untraced record has trace_id: %s", lines[1])
	}
}
