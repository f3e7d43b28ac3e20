// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/fbconnect/internal/auth"
	"github.com/hitoshi/fbconnect/internal/fbcontext"
	"github.com/hitoshi/fbconnect/internal/middleware"
	"github.com/hitoshi/fbconnect/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	LoginWithFacebook(ctx context.Context, facebookID int64) (*model.Session, error)
	RegisterWithFacebook(ctx context.Context, facebookID int64, name, email string) (*model.Session, error)
	Logout(ctx context.Context, sessionID string) error
	GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	BaseURL       string
	SetupPath     string
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
}

// AuthHandler はFacebook認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	decoder middleware.AssertionDecoder
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, decoder middleware.AssertionDecoder, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		decoder: decoder,
		config:  config,
	}
}

// Login はFacebookの署名付きCookieでローカルにログインする。
// GET /auth/facebook/login
// 紐付けのないFacebookアカウントは連携設定パスへリダイレクトする。
// ローカル未ログインの間はFacebookミドルウェアが認証情報をクリアするため、Cookieを直接検証する。
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	assertion, err := h.decoder.Decode(r)
	if err != nil {
		slog.Warn("facebook login with invalid assertion", slog.String("error", err.Error()))
	}
	if err != nil || assertion == nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	session, err := h.service.LoginWithFacebook(r.Context(), assertion.UID)
	if errors.Is(err, auth.ErrNotLinked) {
		http.Redirect(w, r, h.config.SetupPath, http.StatusFound)
		return
	}
	if err != nil {
		slog.Error("facebook login failed", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	h.setSessionCookie(w, session)
	http.Redirect(w, r, h.config.BaseURL, http.StatusFound)
}

// SetupInfo は連携設定の対象となるFacebookアカウントを返す。
// GET /auth/facebook/setup
func (h *AuthHandler) SetupInfo(w http.ResponseWriter, r *http.Request) {
	uid, ok := bonaFideUID(r.Context())
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"facebook_id": uid,
		"csrf_token":  middleware.CSRFTokenFromRequest(r),
	})
}

// Setup はFacebookアカウントに紐付くローカルユーザーを作成してログインする。
// POST /auth/facebook/setup
// フォームのname、emailは任意。
func (h *AuthHandler) Setup(w http.ResponseWriter, r *http.Request) {
	uid, ok := bonaFideUID(r.Context())
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	name := strings.TrimSpace(r.PostFormValue("name"))
	email := strings.TrimSpace(r.PostFormValue("email"))

	session, err := h.service.RegisterWithFacebook(r.Context(), uid, name, email)
	if err != nil {
		slog.Error("facebook setup failed",
			slog.Int64("facebook_id", uid),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	h.setSessionCookie(w, session)
	http.Redirect(w, r, h.config.BaseURL, http.StatusSeeOther)
}

// Logout はセッションを破棄する。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(middleware.SessionCookieName)
	if err == nil && cookie.Value != "" {
		if logoutErr := h.service.Logout(r.Context(), cookie.Value); logoutErr != nil {
			slog.Error("failed to logout", slog.String("error", logoutErr.Error()))
			// ログアウト失敗してもCookieはクリアする
		}
	}

	middleware.ClearSessionCookie(w, h.cookieConfig())
	http.Redirect(w, r, h.config.BaseURL, http.StatusSeeOther)
}

// Me は現在のログインユーザー情報を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	sessionID := middleware.SessionIDFromContext(r.Context())
	if sessionID == "" {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	user, err := h.service.GetCurrentUser(r.Context(), sessionID)
	if err != nil {
		slog.Error("failed to get current user", slog.String("error", err.Error()))
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	body := map[string]any{
		"id":       user.ID,
		"username": user.Username,
		"email":    user.Email,
		"name":     user.Name,
	}
	if uid, ok := bonaFideUID(r.Context()); ok {
		body["facebook_id"] = uid
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, session *model.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    session.ID,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   h.config.SessionMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) cookieConfig() middleware.CookieConfig {
	return middleware.CookieConfig{Domain: h.config.CookieDomain, Secure: h.config.CookieSecure}
}

// bonaFideUID はリクエストのFacebookセッションが有効な場合にFacebook IDを返す。
func bonaFideUID(ctx context.Context) (int64, bool) {
	client, err := fbcontext.FromContext(ctx)
	if err != nil {
		return 0, false
	}
	uid, _, ok := client.Credentials()
	return uid, ok
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
