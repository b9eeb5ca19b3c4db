package cleanup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// mockPruner はRunPrunerのテスト用モック。
type mockPruner struct {
	mu      sync.Mutex
	calls   int
	before  time.Time
	deleted int64
	err     error
}

func (m *mockPruner) DeleteOlderThan(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.before = before
	return m.deleted, m.err
}

func (m *mockPruner) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

func TestNewCleanupJob_DefaultRetention(t *testing.T) {
	var buf bytes.Buffer
	job := NewCleanupJob(&mockPruner{}, newTestLogger(&buf), 0)
	if job.RetentionDays != 30 {
		t.Errorf("RetentionDays = %d, want 30", job.RetentionDays)
	}

	job = NewCleanupJob(&mockPruner{}, newTestLogger(&buf), 7)
	if job.RetentionDays != 7 {
		t.Errorf("RetentionDays = %d, want 7", job.RetentionDays)
	}
}

func TestCleanupJob_Run_DeletesBeforeRetentionCutoff(t *testing.T) {
	var buf bytes.Buffer
	pruner := &mockPruner{deleted: 5}
	job := NewCleanupJob(pruner, newTestLogger(&buf), 30)
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	want := time.Date(2024, 2, 14, 12, 0, 0, 0, time.UTC)
	if !pruner.before.Equal(want) {
		t.Errorf("cutoff = %v, want %v", pruner.before, want)
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry); err != nil {
		t.Fatalf("log is not JSON: %v\n%s", err, buf.String())
	}
	if entry["deleted_count"] != float64(5) {
		t.Errorf("deleted_count = %v, want 5", entry["deleted_count"])
	}
	if entry["retention_days"] != float64(30) {
		t.Errorf("retention_days = %v, want 30", entry["retention_days"])
	}
}

func TestCleanupJob_Run_NothingToDelete(t *testing.T) {
	var buf bytes.Buffer
	job := NewCleanupJob(&mockPruner{}, newTestLogger(&buf), 30)

	if err := job.Run(context.Background()); err != nil {
		t.Errorf("Run should be idempotent, got error: %v", err)
	}
}

func TestCleanupJob_Run_Error(t *testing.T) {
	var buf bytes.Buffer
	dbErr := errors.New("connection refused")
	job := NewCleanupJob(&mockPruner{err: dbErr}, newTestLogger(&buf), 30)

	err := job.Run(context.Background())
	if !errors.Is(err, dbErr) {
		t.Errorf("expected wrapped error, got %v", err)
	}
	if !strings.Contains(buf.String(), `"level":"ERROR"`) {
		t.Errorf("failure should be logged at ERROR:\n%s", buf.String())
	}
}

func TestCleanupJob_Start_StopsOnCancel(t *testing.T) {
	var buf bytes.Buffer
	pruner := &mockPruner{}
	job := NewCleanupJob(pruner, newTestLogger(&buf), 30)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		job.Start(ctx, 10*time.Millisecond)
	}()

	deadline := time.After(2 * time.Second)
	for pruner.callCount() < 2 {
		select {
		case <-deadline:
			t.Fatalf("expected at least 2 runs, got %d", pruner.callCount())
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancellation")
	}
}
