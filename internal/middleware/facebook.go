package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/fbconnect/internal/fbcontext"
	"github.com/hitoshi/fbconnect/internal/graph"
	"github.com/hitoshi/fbconnect/internal/metrics"
	"github.com/hitoshi/fbconnect/internal/model"
)

// 強制ログアウトの理由。メトリクスのラベルにも使う。
const (
	LogoutReasonDecodeFailure    = "decode_failure"
	LogoutReasonIdentityMismatch = "identity_mismatch"
	LogoutReasonReconcileFailure = "reconcile_failure"
	LogoutReasonSessionExpired   = "session_expired"
)

// AssertionDecoder はリクエストからFacebookの認証情報を取り出す。
// graph.CookieDecoderが実装する。
type AssertionDecoder interface {
	Decode(r *http.Request) (*graph.Assertion, error)
}

// SessionTerminator はローカルセッションを破棄する。
type SessionTerminator interface {
	Logout(ctx context.Context, sessionID string) error
}

// LocalAuth はローカル認証サブシステムのうちミドルウェアが使う操作。
// auth.Serviceが実装する。
type LocalAuth interface {
	SessionTerminator
	FindUser(ctx context.Context, userID string) (*model.User, error)
}

// MappingFinder はローカルユーザーに紐付くFacebookアカウントを検索する。
type MappingFinder interface {
	FindByUserID(ctx context.Context, userID string) (*model.FacebookProfile, error)
}

// FacebookConfig はFacebookミドルウェアの設定。
type FacebookConfig struct {
	SetupPath   string // 未連携ユーザーの連携設定パス
	MediaPrefix string // 静的ファイルのパス接頭辞。デバッグログを抑止する
	Cookie      CookieConfig
}

// facebookMiddleware はリクエストごとのFacebookセッションを組み立てて照合する。
type facebookMiddleware struct {
	decoder  AssertionDecoder
	auth     LocalAuth
	mappings MappingFinder
	config   FacebookConfig
	metrics  metrics.MetricsCollector
	logger   *slog.Logger
}

// NewFacebookMiddleware はFacebookセッションの照合ミドルウェアを返す。
// NewSessionLoaderの後に配置する。
//
// 処理の流れ:
//  1. Cookieから認証情報を取り出す
//  2. fbcontext.Clientを生成してコンテキストに公開する（Batchも新規）
//  3. ローカルのログイン状態と照合し、不整合があれば強制ログアウトする
//
// このミドルウェア自身はレスポンスを書かず、常に次のハンドラーに処理を渡す。
func NewFacebookMiddleware(
	decoder AssertionDecoder,
	auth LocalAuth,
	mappings MappingFinder,
	config FacebookConfig,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) func(next http.Handler) http.Handler {
	if collector == nil {
		collector = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &facebookMiddleware{
		decoder:  decoder,
		auth:     auth,
		mappings: mappings,
		config:   config,
		metrics:  collector,
		logger:   logger,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, m.process(w, r))
		})
	}
}

// process はClientを公開し、照合結果を反映したリクエストを返す。
func (m *facebookMiddleware) process(w http.ResponseWriter, r *http.Request) *http.Request {
	client := fbcontext.NewClient(0, "")
	r = r.WithContext(fbcontext.Publish(r.Context(), client))

	assertion, err := m.decoder.Decode(r)
	if err != nil {
		m.logger.Error("failed to decode facebook assertion",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		return m.forceLogout(w, r, client, LogoutReasonDecodeFailure)
	}
	if assertion != nil {
		client.Set(assertion.UID, assertion.AccessToken)
	}

	userID, _ := UserIDFromContext(r.Context())
	if m.config.MediaPrefix == "" || !strings.HasPrefix(r.URL.Path, m.config.MediaPrefix) {
		m.logger.Debug("facebook session",
			slog.String("path", r.URL.Path),
			slog.Bool("bona_fide", client.BonaFide()),
			slog.Bool("authenticated", userID != ""),
		)
	}

	logout, err := m.reconcile(r, client, userID)
	if err != nil {
		m.logger.Error("failed to reconcile facebook session",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return m.forceLogout(w, r, client, LogoutReasonReconcileFailure)
	}
	if logout {
		m.logger.Info("facebook identity does not match local user",
			slog.String("user_id", userID),
			slog.Int64("facebook_id", client.UID()),
		)
		return m.forceLogout(w, r, client, LogoutReasonIdentityMismatch)
	}
	return r
}

// reconcile はFacebookの認証状態とローカルのログイン状態を照合する。
// 強制ログアウトが必要な場合はtrueを返す。
func (m *facebookMiddleware) reconcile(r *http.Request, client *fbcontext.Client, userID string) (bool, error) {
	if userID == "" {
		// Facebook認証済みだがローカル未ログイン: 連携設定が終わるまでは未認証として扱う
		if client.BonaFide() && r.URL.Path != m.config.SetupPath {
			m.logger.Debug("facebook user has no local account yet",
				slog.Int64("facebook_id", client.UID()),
			)
			client.Clear()
		}
		return false, nil
	}

	user, err := m.auth.FindUser(r.Context(), userID)
	if err != nil {
		return false, fmt.Errorf("find user: %w", err)
	}
	if user == nil {
		return false, nil
	}

	mapping, err := m.mappings.FindByUserID(r.Context(), userID)
	if err != nil {
		return false, fmt.Errorf("find facebook profile: %w", err)
	}
	if mapping == nil {
		return false, nil
	}

	// Facebookのみで利用しているユーザーは、Cookieの認証情報と一致しなければログアウトさせる
	if mapping.FacebookOnly(user) && mapping.FacebookID != client.UID() {
		return true, nil
	}
	return false, nil
}

// forceLogout はローカルセッションを破棄し、Clientの認証情報をクリアする。
// 後続のハンドラーからは匿名ユーザーとして見えるリクエストを返す。
// メトリクスはセッションを実際に破棄した場合のみ記録する。
func (m *facebookMiddleware) forceLogout(w http.ResponseWriter, r *http.Request, client *fbcontext.Client, reason string) *http.Request {
	client.Clear()
	hadSession := SessionIDFromContext(r.Context()) != ""
	r = endLocalSession(w, r, m.auth, m.config.Cookie, m.logger)
	if hadSession {
		m.metrics.RecordForcedLogout(reason)
	}
	return r
}

// endLocalSession はセッションを削除してCookieをクリアする。
// セッション削除の失敗はログに記録するのみで処理を続ける。
func endLocalSession(w http.ResponseWriter, r *http.Request, auth SessionTerminator, cookie CookieConfig, logger *slog.Logger) *http.Request {
	if sessionID := SessionIDFromContext(r.Context()); sessionID != "" {
		if err := auth.Logout(r.Context(), sessionID); err != nil {
			logger.Error("failed to delete session on forced logout",
				slog.String("error", err.Error()),
			)
		}
		ClearSessionCookie(w, cookie)
	}
	return r.WithContext(ContextWithSession(r.Context(), "", ""))
}
