package middleware

import (
	"log/slog"
	"net/http"

	"github.com/hitoshi/fbconnect/internal/fbcontext"
	"github.com/hitoshi/fbconnect/internal/graph"
	"github.com/hitoshi/fbconnect/internal/metrics"
)

// HandlerFunc はエラーを返すHTTPハンドラー。
// 返されたエラーはErrorInterceptorが分類してレスポンスに変換する。
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

// ErrorInterceptorConfig はErrorInterceptorの設定。
type ErrorInterceptorConfig struct {
	LoginPath string // セッション期限切れ時のリダイレクト先
	Cookie    CookieConfig
}

// ErrorInterceptor はハンドラーが返したエラーを分類する。
type ErrorInterceptor struct {
	auth    SessionTerminator
	config  ErrorInterceptorConfig
	metrics metrics.MetricsCollector
	logger  *slog.Logger
}

// NewErrorInterceptor はErrorInterceptorを生成する。
func NewErrorInterceptor(auth SessionTerminator, config ErrorInterceptorConfig, collector metrics.MetricsCollector, logger *slog.Logger) *ErrorInterceptor {
	if collector == nil {
		collector = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ErrorInterceptor{
		auth:    auth,
		config:  config,
		metrics: collector,
		logger:  logger,
	}
}

// Wrap はHandlerFuncをhttp.HandlerFuncに変換する。
// Interceptがレスポンスを生成しなかったエラーはWriteErrorで書き込む。
func (i *ErrorInterceptor) Wrap(h HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := h(w, r)
		if err == nil {
			return
		}
		if i.Intercept(w, r, err) {
			return
		}
		WriteError(w, err)
	}
}

// Intercept はエラーを分類し、レスポンスを書き込んだ場合にtrueを返す。
//
//   - Facebookセッションの期限切れ: ローカルセッションを破棄し、ログインパスへリダイレクトする
//   - ネットワークエラー: 原因の分類をログとメトリクスに記録し、falseを返す
//   - それ以外: 何もせずfalseを返す
func (i *ErrorInterceptor) Intercept(w http.ResponseWriter, r *http.Request, err error) bool {
	if graph.IsSessionExpired(err) {
		userID, _ := UserIDFromContext(r.Context())
		i.logger.Error("facebook session expired",
			slog.String("user_id", userID),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		if client, cerr := fbcontext.FromContext(r.Context()); cerr == nil {
			client.Clear()
		}
		endLocalSession(w, r, i.auth, i.config.Cookie, i.logger)
		i.metrics.RecordSessionExpired()
		i.metrics.RecordForcedLogout(LogoutReasonSessionExpired)
		http.Redirect(w, r, i.config.LoginPath, http.StatusFound)
		return true
	}

	if te, ok := graph.AsTransportError(err); ok {
		i.logger.Error("facebook transport error",
			slog.String("op", te.Op),
			slog.String("cause", string(te.Cause)),
			slog.String("path", r.URL.Path),
		)
		i.metrics.RecordTransportError(string(te.Cause))
	}
	return false
}
