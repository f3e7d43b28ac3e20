package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/hitoshi/fbconnect/internal/cache"
	"github.com/hitoshi/fbconnect/internal/graph"
	"github.com/hitoshi/fbconnect/internal/middleware"
	"github.com/hitoshi/fbconnect/internal/model"
	"github.com/hitoshi/fbconnect/internal/profile"
)

// --- モック定義 ---

// fakeGraph はprofile.GraphAPIのテスト実装。
type fakeGraph struct {
	mu         sync.Mutex
	profiles   map[int64]*model.ProfileSnapshot
	friends    []int64
	me         int64
	err        error
	batchCalls int
}

func (g *fakeGraph) BatchFetchProfiles(_ context.Context, ids []int64, _ string) (map[int64]*model.ProfileSnapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.batchCalls++
	if g.err != nil {
		return nil, g.err
	}
	out := make(map[int64]*model.ProfileSnapshot)
	for _, id := range ids {
		if p, ok := g.profiles[id]; ok {
			c := *p
			out[id] = &c
		}
	}
	return out, nil
}

func (g *fakeGraph) FetchConnections(_ context.Context, _ string) ([]int64, error) {
	if g.err != nil {
		return nil, g.err
	}
	return g.friends, nil
}

func (g *fakeGraph) Me(_ context.Context, _ string) (int64, error) {
	if g.err != nil {
		return 0, g.err
	}
	return g.me, nil
}

func (g *fakeGraph) PictureURL(id int64) string {
	return "https://graph.example.com/" + strconv.FormatInt(id, 10) + "/picture"
}

// mappingStore はFacebook IDとユーザーIDの双方向の紐付けを保持する。
type mappingStore struct {
	byUser map[string]*model.FacebookProfile
	err    error
}

func newMappingStore(ms ...*model.FacebookProfile) *mappingStore {
	s := &mappingStore{byUser: make(map[string]*model.FacebookProfile)}
	for _, m := range ms {
		s.byUser[m.UserID] = m
	}
	return s
}

func (s *mappingStore) FindByUserID(_ context.Context, userID string) (*model.FacebookProfile, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.byUser[userID], nil
}

func (s *mappingStore) FindByFacebookIDs(_ context.Context, facebookIDs []int64) (map[int64]*model.FacebookProfile, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make(map[int64]*model.FacebookProfile)
	for _, m := range s.byUser {
		for _, id := range facebookIDs {
			if m.FacebookID == id {
				out[id] = m
			}
		}
	}
	return out, nil
}

// --- ヘルパー ---

func fbMapping(userID string, facebookID int64) *model.FacebookProfile {
	return &model.FacebookProfile{ID: "fp-" + userID, UserID: userID, FacebookID: facebookID}
}

func newProfileHandler(g *fakeGraph, store *mappingStore) *ProfileHandler {
	svc := profile.NewService(g, cache.NewMemoryCache(), store, profile.Config{
		TTL:         time.Minute,
		Placeholder: profile.DefaultPlaceholder(),
	}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return NewProfileHandler(svc, store)
}

// profileRequest はログイン済みかつFacebookセッションを持つリクエストを返す。
func profileRequest(target, userID string, uid int64) *http.Request {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req = withFacebook(req, uid, "tok-"+strconv.FormatInt(uid, 10))
	return withUserID(req, userID)
}

func defaultStore() *mappingStore {
	return newMappingStore(fbMapping("user-1", 111), fbMapping("user-2", 222), fbMapping("user-3", 333))
}

func defaultGraph() *fakeGraph {
	return &fakeGraph{
		profiles: map[int64]*model.ProfileSnapshot{
			111: {ID: "111", Name: "Alice Example", FirstName: "Alice", LastName: "Example", Link: "https://www.facebook.com/alice.example"},
			222: {ID: "222", Name: "Bob Example", FirstName: "Bob"},
			333: {ID: "333", Name: "Carol Example", FirstName: "Carol"},
		},
		friends: []int64{222, 444, 333},
		me:      111,
	}
}

// --- GET /api/profile テスト ---

func TestProfileHandler_GetProfile(t *testing.T) {
	h := newProfileHandler(defaultGraph(), defaultStore())

	w := httptest.NewRecorder()
	if err := h.GetProfile(w, profileRequest("/api/profile", "user-1", 111)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var body profileResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.UserID != "user-1" || body.FacebookID != 111 {
		t.Errorf("ids = (%q, %d), want (%q, %d)", body.UserID, body.FacebookID, "user-1", 111)
	}
	if body.Name != "Alice Example" {
		t.Errorf("name = %q, want %q", body.Name, "Alice Example")
	}
	if body.Username != "alice.example" {
		t.Errorf("username = %q, want %q", body.Username, "alice.example")
	}
	if body.ProfileURL != "http://www.facebook.com/profile.php?id=111" {
		t.Errorf("profile_url = %q", body.ProfileURL)
	}
}

// Graph APIが失敗してもプレースホルダーで応答する。
func TestProfileHandler_GetProfile_GraphFailureUsesPlaceholder(t *testing.T) {
	g := defaultGraph()
	g.err = &graph.TransportError{Op: "batch_fetch", Cause: graph.CauseTimeout, Err: errors.New("timeout")}
	h := newProfileHandler(g, defaultStore())

	w := httptest.NewRecorder()
	if err := h.GetProfile(w, profileRequest("/api/profile", "user-1", 111)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var body profileResponse
	json.NewDecoder(w.Body).Decode(&body)
	placeholder := profile.DefaultPlaceholder()
	if body.Name != placeholder.Name || body.PictureURL != placeholder.PictureURL {
		t.Errorf("name, picture = %q, %q, want placeholder", body.Name, body.PictureURL)
	}
}

func TestProfileHandler_GetProfile_Errors(t *testing.T) {
	dbErr := errors.New("db down")
	tests := []struct {
		name     string
		userID   string
		storeErr error
		wantCode string
		wantErr  error
	}{
		{"anonymous", "", nil, model.ErrCodeUnauthorized, nil},
		{"not linked", "user-9", nil, model.ErrCodeProfileNotLinked, nil},
		{"repository failure", "user-1", dbErr, "", dbErr},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := defaultStore()
			store.err = tt.storeErr
			h := newProfileHandler(defaultGraph(), store)

			req := httptest.NewRequest(http.MethodGet, "/api/profile", nil)
			if tt.userID != "" {
				req = withUserID(req, tt.userID)
			}
			err := h.GetProfile(httptest.NewRecorder(), req)

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			var apiErr *model.APIError
			if !errors.As(err, &apiErr) || apiErr.Code != tt.wantCode {
				t.Errorf("error = %v, want code %q", err, tt.wantCode)
			}
		})
	}
}

// --- GET /api/profile/status テスト ---

func TestProfileHandler_GetStatus(t *testing.T) {
	tests := []struct {
		name string
		me   int64
		want bool
	}{
		{"own token", 111, true},
		{"someone else's token", 999, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := defaultGraph()
			g.me = tt.me
			h := newProfileHandler(g, defaultStore())

			w := httptest.NewRecorder()
			if err := h.GetStatus(w, profileRequest("/api/profile/status", "user-1", 111)); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			var body map[string]bool
			json.NewDecoder(w.Body).Decode(&body)
			if body["authenticated"] != tt.want {
				t.Errorf("authenticated = %v, want %v", body["authenticated"], tt.want)
			}
		})
	}
}

// トークン期限切れはハンドラーから伝播し、インターセプターがログインへリダイレクトする。
func TestProfileHandler_GetStatus_SessionExpiredIsIntercepted(t *testing.T) {
	g := defaultGraph()
	g.err = &graph.APIError{Type: "OAuthException", Code: 190, Message: "Session has expired", StatusCode: http.StatusBadRequest}
	h := newProfileHandler(g, defaultStore())

	var loggedOut []string
	terminator := &mockTerminator{logoutFn: func(ctx context.Context, sessionID string) error {
		loggedOut = append(loggedOut, sessionID)
		return nil
	}}
	interceptor := middleware.NewErrorInterceptor(terminator, middleware.ErrorInterceptorConfig{LoginPath: "/auth/facebook/login"}, nil, nil)

	w := httptest.NewRecorder()
	interceptor.Wrap(h.GetStatus)(w, profileRequest("/api/profile/status", "user-1", 111))

	if w.Code != http.StatusFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusFound)
	}
	if loc := w.Header().Get("Location"); loc != "/auth/facebook/login" {
		t.Errorf("Location = %q, want %q", loc, "/auth/facebook/login")
	}
	if diff := cmp.Diff([]string{"session-123"}, loggedOut); diff != "" {
		t.Errorf("logged out sessions mismatch (-want +got):\n%s", diff)
	}
}

// mockTerminator はmiddleware.SessionTerminatorのモック実装。
type mockTerminator struct {
	logoutFn func(ctx context.Context, sessionID string) error
}

func (m *mockTerminator) Logout(ctx context.Context, sessionID string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, sessionID)
	}
	return nil
}

// --- GET /api/profile/friends テスト ---

func TestProfileHandler_ListFriends(t *testing.T) {
	g := defaultGraph()
	h := newProfileHandler(g, defaultStore())

	w := httptest.NewRecorder()
	if err := h.ListFriends(w, profileRequest("/api/profile/friends", "user-1", 111)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var body struct {
		Friends []friendResponse `json:"friends"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}

	// 紐付けのない444は含まれない
	want := []friendResponse{
		{UserID: "user-2", FacebookID: 222, Name: "Bob Example", PictureURL: "https://graph.example.com/222/picture", ProfileURL: "http://www.facebook.com/profile.php?id=222"},
		{UserID: "user-3", FacebookID: 333, Name: "Carol Example", PictureURL: "https://graph.example.com/333/picture", ProfileURL: "http://www.facebook.com/profile.php?id=333"},
	}
	if diff := cmp.Diff(want, body.Friends); diff != "" {
		t.Errorf("friends mismatch (-want +got):\n%s", diff)
	}
	// 友達全員と本人のプロフィールを1回で取得する
	if g.batchCalls != 1 {
		t.Errorf("batch calls = %d, want 1", g.batchCalls)
	}
}

func TestProfileHandler_ListFriends_Limit(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		wantCount int
		wantErr   bool
	}{
		{"limit 1", "?limit=1", 1, false},
		{"default", "", 2, false},
		{"max", "?limit=100", 2, false},
		{"zero", "?limit=0", 0, true},
		{"over max", "?limit=101", 0, true},
		{"not a number", "?limit=abc", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newProfileHandler(defaultGraph(), defaultStore())

			w := httptest.NewRecorder()
			err := h.ListFriends(w, profileRequest("/api/profile/friends"+tt.query, "user-1", 111))

			if tt.wantErr {
				var apiErr *model.APIError
				if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeInvalidLimit {
					t.Errorf("error = %v, want code %q", err, model.ErrCodeInvalidLimit)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			var body struct {
				Friends []friendResponse `json:"friends"`
			}
			json.NewDecoder(w.Body).Decode(&body)
			if len(body.Friends) != tt.wantCount {
				t.Errorf("friends = %d, want %d", len(body.Friends), tt.wantCount)
			}
		})
	}
}

func TestParseLimit(t *testing.T) {
	if got, err := parseLimit(""); err != nil || got != defaultFriendsLimit {
		t.Errorf("parseLimit(\"\") = %d, %v, want %d", got, err, defaultFriendsLimit)
	}
	if got, err := parseLimit("5"); err != nil || got != 5 {
		t.Errorf("parseLimit(\"5\") = %d, %v, want 5", got, err)
	}
}
