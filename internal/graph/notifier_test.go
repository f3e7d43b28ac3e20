package graph

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// --- モック定義 ---

type mockRevoker struct {
	mu       sync.Mutex
	calls    int
	revokeFn func(attempt int) error
}

func (m *mockRevoker) RevokeAuthorization(_ context.Context, _ int64) error {
	m.mu.Lock()
	m.calls++
	attempt := m.calls
	m.mu.Unlock()
	return m.revokeFn(attempt)
}

func (m *mockRevoker) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func testNotifierConfig() NotifierConfig {
	return NotifierConfig{MaxTries: 3, InitialInterval: time.Millisecond, Timeout: time.Second}
}

// --- テスト ---

func TestNotifyDeletion_Success(t *testing.T) {
	r := &mockRevoker{revokeFn: func(int) error { return nil }}
	n := NewDeletionNotifier(r, discardLogger(), testNotifierConfig())

	n.NotifyDeletion(context.Background(), 42)
	n.Wait()

	if r.callCount() != 1 {
		t.Errorf("calls = %d, want 1", r.callCount())
	}
}

func TestNotifyDeletion_RetriesTransportErrors(t *testing.T) {
	r := &mockRevoker{revokeFn: func(attempt int) error {
		if attempt < 3 {
			return &TransportError{Op: "revoke_authorization", Cause: CauseConnectionReset, Err: errors.New("reset")}
		}
		return nil
	}}
	n := NewDeletionNotifier(r, discardLogger(), testNotifierConfig())

	n.NotifyDeletion(context.Background(), 42)
	n.Wait()

	if r.callCount() != 3 {
		t.Errorf("calls = %d, want 3", r.callCount())
	}
}

func TestNotifyDeletion_GivesUpAfterMaxTries(t *testing.T) {
	r := &mockRevoker{revokeFn: func(int) error {
		return &APIError{Type: "OAuthException", Code: 1, StatusCode: 500}
	}}
	n := NewDeletionNotifier(r, discardLogger(), testNotifierConfig())

	n.NotifyDeletion(context.Background(), 42)
	n.Wait()

	if r.callCount() != 3 {
		t.Errorf("calls = %d, want 3", r.callCount())
	}
}

func TestNotifyDeletion_DoesNotRetryClientErrors(t *testing.T) {
	r := &mockRevoker{revokeFn: func(int) error {
		return &APIError{Type: "GraphMethodException", Code: 100, StatusCode: 400}
	}}
	n := NewDeletionNotifier(r, discardLogger(), testNotifierConfig())

	n.NotifyDeletion(context.Background(), 42)
	n.Wait()

	if r.callCount() != 1 {
		t.Errorf("calls = %d, want 1", r.callCount())
	}
}

func TestNotifyDeletion_SurvivesCanceledContext(t *testing.T) {
	r := &mockRevoker{revokeFn: func(int) error { return nil }}
	n := NewDeletionNotifier(r, discardLogger(), testNotifierConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n.NotifyDeletion(ctx, 42)
	n.Wait()

	if r.callCount() != 1 {
		t.Errorf("calls = %d, want 1", r.callCount())
	}
}

func TestNotifyDeletion_IgnoresZeroID(t *testing.T) {
	r := &mockRevoker{revokeFn: func(int) error { return nil }}
	n := NewDeletionNotifier(r, discardLogger(), testNotifierConfig())

	n.NotifyDeletion(context.Background(), 0)
	n.Wait()

	if r.callCount() != 0 {
		t.Errorf("calls = %d, want 0", r.callCount())
	}
}
