package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/fbconnect/internal/graph"
	"github.com/hitoshi/fbconnect/internal/metrics"
	"github.com/hitoshi/fbconnect/internal/middleware"
	"github.com/hitoshi/fbconnect/internal/model"
	"github.com/prometheus/client_golang/prometheus"
)

// --- モック定義 ---

type mockSessionFinder struct {
	sessions map[string]*model.Session
}

func (m *mockSessionFinder) FindByID(_ context.Context, id string) (*model.Session, error) {
	return m.sessions[id], nil
}

// mockLocalAuth はmiddleware.LocalAuthのモック実装。
type mockLocalAuth struct {
	users     map[string]*model.User
	loggedOut []string
}

func (m *mockLocalAuth) Logout(_ context.Context, sessionID string) error {
	m.loggedOut = append(m.loggedOut, sessionID)
	return nil
}

func (m *mockLocalAuth) FindUser(_ context.Context, userID string) (*model.User, error) {
	return m.users[userID], nil
}

type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) PingContext(context.Context) error {
	return m.err
}

// --- ヘルパー ---

type routerFixture struct {
	router http.Handler
	auth   *mockLocalAuth
	graph  *fakeGraph
	reg    *prometheus.Registry
}

// newRouterFixture はuser-1（Facebook ID 111で登録）がログイン済みの状態を想定したルーターを組み立てる。
func newRouterFixture(t *testing.T, assertion *graph.Assertion, health HealthChecker) *routerFixture {
	t.Helper()

	g := defaultGraph()
	store := defaultStore()
	profileHandler := newProfileHandler(g, store)
	reg := prometheus.NewRegistry()
	localAuth := &mockLocalAuth{
		users: map[string]*model.User{
			"user-1": {ID: "user-1", Username: "111", Name: "Alice"},
		},
	}
	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)

	deps := &RouterDeps{
		SessionFinder: &mockSessionFinder{sessions: map[string]*model.Session{
			"session-1": {ID: "session-1", UserID: "user-1", ExpiresAt: time.Now().Add(time.Hour)},
		}},
		Decoder:           &mockDecoder{assertion: assertion},
		LocalAuth:         localAuth,
		Mappings:          store,
		CORSAllowedOrigin: "http://localhost:3000",
		RateLimiter:       rl,
		FacebookConfig:    middleware.FacebookConfig{SetupPath: "/auth/facebook/setup"},
		LoginPath:         "/auth/facebook/login",
		Metrics:           metrics.NewCollector(reg),
		Logger:            nil,
		HealthChecker:     health,
		Gatherer:          reg,
		AuthService:       &mockAuthService{},
		AuthConfig:        testAuthConfig(),
		ProfileService:    profileHandler.profiles,
		UserService:       &mockUserService{},
	}

	return &routerFixture{
		router: NewRouter(deps),
		auth:   localAuth,
		graph:  g,
		reg:    reg,
	}
}

func loggedInRequest(method, target string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "session-1"})
	return req
}

func (f *routerFixture) metricsBody(t *testing.T) string {
	t.Helper()
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(w.Body)
	return string(body)
}

// --- テスト ---

func TestRouter_Health(t *testing.T) {
	tests := []struct {
		name       string
		checker    HealthChecker
		wantStatus int
	}{
		{"no checker", nil, http.StatusOK},
		{"database reachable", &mockHealthChecker{}, http.StatusOK},
		{"database down", &mockHealthChecker{err: errors.New("connection refused")}, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRouterFixture(t, nil, tt.checker)
			w := httptest.NewRecorder()
			f.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
				t.Errorf("X-Content-Type-Options = %q, want %q", got, "nosniff")
			}
		})
	}
}

func TestRouter_Profile_RequiresSession(t *testing.T) {
	f := newRouterFixture(t, &graph.Assertion{UID: 111, AccessToken: "tok-111"}, nil)

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/profile", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestRouter_Profile_MatchingFacebookSession(t *testing.T) {
	f := newRouterFixture(t, &graph.Assertion{UID: 111, AccessToken: "tok-111"}, nil)

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, loggedInRequest(http.MethodGet, "/api/profile"))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body = %s", w.Code, http.StatusOK, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"name":"Alice Example"`) {
		t.Errorf("unexpected body: %s", w.Body.String())
	}
	if len(f.auth.loggedOut) != 0 {
		t.Errorf("unexpected logout: %v", f.auth.loggedOut)
	}
}

// 別のFacebookアカウントでログインしているブラウザはローカルセッションを失う。
func TestRouter_Profile_IdentityMismatchForcesLogout(t *testing.T) {
	f := newRouterFixture(t, &graph.Assertion{UID: 222, AccessToken: "tok-222"}, nil)

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, loggedInRequest(http.MethodGet, "/api/profile"))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if len(f.auth.loggedOut) != 1 || f.auth.loggedOut[0] != "session-1" {
		t.Errorf("loggedOut = %v, want [session-1]", f.auth.loggedOut)
	}
	if f.graph.batchCalls != 0 {
		t.Errorf("graph should not be called, got %d calls", f.graph.batchCalls)
	}
	if body := f.metricsBody(t); !strings.Contains(body, `fbconnect_forced_logouts_total{reason="identity_mismatch"} 1`) {
		t.Errorf("forced logout metric missing:\n%s", body)
	}
}

func TestRouter_ProfileStatus_SessionExpiredRedirectsToLogin(t *testing.T) {
	f := newRouterFixture(t, &graph.Assertion{UID: 111, AccessToken: "tok-111"}, nil)
	f.graph.err = &graph.APIError{Type: "OAuthException", Code: 190, Message: "Session has expired", StatusCode: http.StatusBadRequest}

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, loggedInRequest(http.MethodGet, "/api/profile/status"))

	if w.Code != http.StatusFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusFound)
	}
	if loc := w.Header().Get("Location"); loc != "/auth/facebook/login" {
		t.Errorf("Location = %q, want %q", loc, "/auth/facebook/login")
	}
	if body := f.metricsBody(t); !strings.Contains(body, "fbconnect_session_expired_total 1") {
		t.Errorf("session expired metric missing:\n%s", body)
	}
}

func TestRouter_Friends_InvalidLimit(t *testing.T) {
	f := newRouterFixture(t, &graph.Assertion{UID: 111, AccessToken: "tok-111"}, nil)

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, loggedInRequest(http.MethodGet, "/api/profile/friends?limit=500"))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if !strings.Contains(w.Body.String(), model.ErrCodeInvalidLimit) {
		t.Errorf("unexpected body: %s", w.Body.String())
	}
}

func TestRouter_Withdraw_RequiresCSRFToken(t *testing.T) {
	f := newRouterFixture(t, &graph.Assertion{UID: 111, AccessToken: "tok-111"}, nil)

	t.Run("without token", func(t *testing.T) {
		w := httptest.NewRecorder()
		f.router.ServeHTTP(w, loggedInRequest(http.MethodDelete, "/api/users/me"))
		if w.Code != http.StatusForbidden {
			t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
		}
	})

	t.Run("with token", func(t *testing.T) {
		req := loggedInRequest(http.MethodDelete, "/api/users/me")
		req.AddCookie(&http.Cookie{Name: "csrf_token", Value: "token-abc"})
		req.Header.Set("X-CSRF-Token", "token-abc")
		w := httptest.NewRecorder()
		f.router.ServeHTTP(w, req)
		if w.Code != http.StatusNoContent {
			t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
		}
	})
}

func TestRouter_AuthRoutes(t *testing.T) {
	f := newRouterFixture(t, &graph.Assertion{UID: 333, AccessToken: "tok-333"}, nil)

	tests := []struct {
		name       string
		method     string
		target     string
		wantStatus int
	}{
		// mockAuthServiceは既定で未連携を返す
		{"login redirects to setup", http.MethodGet, "/auth/facebook/login", http.StatusFound},
		{"setup info", http.MethodGet, "/auth/facebook/setup", http.StatusOK},
		{"me requires session", http.MethodGet, "/auth/me", http.StatusUnauthorized},
		{"csrf token", http.MethodGet, "/api/csrf-token", http.StatusOK},
		{"logout requires csrf", http.MethodPost, "/auth/logout", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			f.router.ServeHTTP(w, httptest.NewRequest(tt.method, tt.target, nil))
			if w.Code != tt.wantStatus {
				t.Errorf("%s %s status = %d, want %d", tt.method, tt.target, w.Code, tt.wantStatus)
			}
		})
	}
}
