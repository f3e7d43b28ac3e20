package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/fbconnect/internal/fbcontext"
	"github.com/hitoshi/fbconnect/internal/graph"
	"github.com/hitoshi/fbconnect/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
// すべてのAPIエンドポイントで一貫したエラーレスポンスを提供する。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// WriteError はハンドラーが返したエラーを統一フォーマットで書き込む。
// model.APIErrorはコードに応じたステータス、Graph APIへの到達失敗やAPIエラーは502、
// それ以外は500とする。
func WriteError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		WriteErrorResponse(w, StatusForAPIError(apiErr), apiErr)
		return
	}

	if _, ok := graph.AsTransportError(err); ok {
		WriteErrorResponse(w, http.StatusBadGateway, model.NewProviderUnavailableError())
		return
	}
	var graphErr *graph.APIError
	if errors.As(err, &graphErr) {
		slog.Warn("facebook api error", slog.String("error", err.Error()))
		WriteErrorResponse(w, http.StatusBadGateway, model.NewProviderUnavailableError())
		return
	}

	if errors.Is(err, fbcontext.ErrNotConfigured) {
		slog.Error("facebook middleware is not installed", slog.String("error", err.Error()))
	} else {
		slog.Error("internal server error", slog.String("error", err.Error()))
	}
	WriteInternalServerError(w)
}

// StatusForAPIError はAPIErrorコードからHTTPステータスコードにマッピングする。
func StatusForAPIError(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeUnauthorized, model.ErrCodeSessionExpired:
		return http.StatusUnauthorized
	case model.ErrCodeProfileNotLinked, model.ErrCodeUserNotFound:
		return http.StatusNotFound
	case model.ErrCodeProviderUnavailable:
		return http.StatusBadGateway
	case model.ErrCodeInvalidLimit:
		return http.StatusBadRequest
	case model.ErrCodeCSRFInvalid:
		return http.StatusForbidden
	case model.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusBadRequest
	}
}
