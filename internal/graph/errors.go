package graph

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
)

// ErrMalformedAssertion は署名付きCookieが解析できない、または検証に失敗したことを示す。
// 改ざんと期限切れを区別できないため、呼び出し側はどちらも同じく扱う。
var ErrMalformedAssertion = errors.New("malformed facebook identity assertion")

// sessionExpiredType はアクセストークン失効時にGraph APIが返すエラー種別。
const sessionExpiredType = "OAuthException"

// sessionExpiredCode はアクセストークン失効を示すGraph APIのエラーコード。
const sessionExpiredCode = 190

// APIError はGraph APIがエラーレスポンスを返したことを表す。
type APIError struct {
	Type       string
	Code       int
	Message    string
	StatusCode int
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("graph api error: %s (code=%d, status=%d): %s", e.Type, e.Code, e.StatusCode, e.Message)
}

// IsSessionExpired はアクセストークンが無効になったことを示すエラーかを返す。
func (e *APIError) IsSessionExpired() bool {
	return e.Type == sessionExpiredType || e.Code == sessionExpiredCode
}

// TransportCause はネットワークエラーの大まかな分類。
type TransportCause string

const (
	CauseConnectionReset TransportCause = "connection_reset"
	CauseNameResolution  TransportCause = "name_resolution"
	CauseTimeout         TransportCause = "timeout"
	CauseOther           TransportCause = "other"
)

// TransportError はGraph APIへの到達に失敗したことを表す。
type TransportError struct {
	Op    string
	Cause TransportCause
	Err   error
}

// Error はerrorインターフェースを実装する。
func (e *TransportError) Error() string {
	return fmt.Sprintf("graph transport error during %s (%s): %v", e.Op, e.Cause, e.Err)
}

// Unwrap は元のエラーを返す。
func (e *TransportError) Unwrap() error {
	return e.Err
}

// newTransportError はネットワークエラーを分類してTransportErrorに包む。
func newTransportError(op string, err error) *TransportError {
	return &TransportError{Op: op, Cause: ClassifyTransport(err), Err: err}
}

// ClassifyTransport はネットワークエラーの原因を分類する。
func ClassifyTransport(err error) TransportCause {
	var dnsErr *net.DNSError
	switch {
	case errors.Is(err, syscall.ECONNRESET):
		return CauseConnectionReset
	case errors.As(err, &dnsErr):
		return CauseNameResolution
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return CauseTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CauseTimeout
	}
	return CauseOther
}

// IsSessionExpired はエラーチェーン中にセッション失効を示すAPIErrorが含まれるかを返す。
func IsSessionExpired(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.IsSessionExpired()
}

// AsTransportError はエラーチェーン中のTransportErrorを取り出す。
func AsTransportError(err error) (*TransportError, bool) {
	var tErr *TransportError
	if errors.As(err, &tErr) {
		return tErr, true
	}
	return nil, false
}
