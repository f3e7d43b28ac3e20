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
)

// --- モック定義 ---

type mockSessionPurger struct {
	mu       sync.Mutex
	calls    int
	deleted  int64
	err      error
	calledCh chan struct{}
}

func (m *mockSessionPurger) DeleteExpired(ctx context.Context) (int64, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.calledCh != nil {
		select {
		case m.calledCh <- struct{}{}:
		default:
		}
	}
	return m.deleted, m.err
}

func (m *mockSessionPurger) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// findLogEntry はJSONログからkeyを持つ最初のエントリを返す。
func findLogEntry(buf *bytes.Buffer, key string) map[string]interface{} {
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]interface{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if _, ok := entry[key]; ok {
			return entry
		}
	}
	return nil
}

// --- テスト ---

func TestCleanupJob_Run_LogsDeletedCount(t *testing.T) {
	tests := []struct {
		name    string
		deleted int64
	}{
		{"some sessions", 42},
		// 0件削除でもログを出力する
		{"no sessions", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			purger := &mockSessionPurger{deleted: tt.deleted}
			job := NewCleanupJob(purger, newTestLogger(&buf))

			if err := job.Run(context.Background()); err != nil {
				t.Fatalf("Run() がエラーを返した: %v", err)
			}
			if purger.callCount() != 1 {
				t.Errorf("DeleteExpired calls = %d, want 1", purger.callCount())
			}

			entry := findLogEntry(&buf, "deleted_count")
			if entry == nil {
				t.Fatalf("ログに deleted_count が記録されていない。ログ出力: %s", buf.String())
			}
			if entry["deleted_count"] != float64(tt.deleted) {
				t.Errorf("deleted_count = %v, want %d", entry["deleted_count"], tt.deleted)
			}
		})
	}
}

func TestCleanupJob_Run_ReturnsErrorOnFailure(t *testing.T) {
	var buf bytes.Buffer
	dbErr := errors.New("connection refused")
	job := NewCleanupJob(&mockSessionPurger{err: dbErr}, newTestLogger(&buf))

	err := job.Run(context.Background())
	if !errors.Is(err, dbErr) {
		t.Fatalf("error = %v, want %v", err, dbErr)
	}
	if !strings.Contains(buf.String(), "ERROR") {
		t.Errorf("エラー時にERRORレベルのログが記録されていない。ログ出力: %s", buf.String())
	}
}

func TestCleanupJob_Run_Idempotent(t *testing.T) {
	purger := &mockSessionPurger{}
	job := NewCleanupJob(purger, nil)

	for i := 0; i < 2; i++ {
		if err := job.Run(context.Background()); err != nil {
			t.Fatalf("%d回目の Run() がエラーを返した: %v", i+1, err)
		}
	}
}

func TestCleanupJob_Start_RunsImmediatelyAndStopsOnCancel(t *testing.T) {
	purger := &mockSessionPurger{calledCh: make(chan struct{}, 1)}
	job := NewCleanupJob(purger, newTestLogger(&bytes.Buffer{}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.Start(ctx, time.Hour)
		close(done)
	}()

	select {
	case <-purger.calledCh:
	case <-time.After(2 * time.Second):
		t.Fatal("Start は起動直後に Run を実行するべき")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start はキャンセル後に戻るべき")
	}
	if purger.callCount() != 1 {
		t.Errorf("DeleteExpired calls = %d, want 1", purger.callCount())
	}
}

// 失敗しても次の周期で再実行する。
func TestCleanupJob_Start_ContinuesAfterFailure(t *testing.T) {
	purger := &mockSessionPurger{err: errors.New("temporary"), calledCh: make(chan struct{}, 1)}
	job := NewCleanupJob(purger, newTestLogger(&bytes.Buffer{}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go job.Start(ctx, 10*time.Millisecond)

	for i := 0; i < 3; i++ {
		select {
		case <-purger.calledCh:
		case <-time.After(2 * time.Second):
			t.Fatalf("call %d did not happen", i+1)
		}
	}
}
