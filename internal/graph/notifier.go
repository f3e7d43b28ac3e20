package graph

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Revoker はFacebook側のアプリ連携を解除するインターフェース。
type Revoker interface {
	RevokeAuthorization(ctx context.Context, facebookID int64) error
}

// NotifierConfig はDeletionNotifierの設定。
type NotifierConfig struct {
	MaxTries        uint
	InitialInterval time.Duration
	Timeout         time.Duration
}

// DefaultNotifierConfig はデフォルト設定を返す。
func DefaultNotifierConfig() NotifierConfig {
	return NotifierConfig{
		MaxTries:        4,
		InitialInterval: 500 * time.Millisecond,
		Timeout:         30 * time.Second,
	}
}

// DeletionNotifier はローカルユーザー削除時にFacebookへ連携解除を通知する。
// 通知はバックグラウンドで行い、失敗してもログに残すだけで削除処理は妨げない。
type DeletionNotifier struct {
	revoker Revoker
	logger  *slog.Logger
	config  NotifierConfig
	wg      sync.WaitGroup
}

// NewDeletionNotifier はDeletionNotifierを生成する。
func NewDeletionNotifier(revoker Revoker, logger *slog.Logger, config NotifierConfig) *DeletionNotifier {
	return &DeletionNotifier{
		revoker: revoker,
		logger:  logger,
		config:  config,
	}
}

// NotifyDeletion は連携解除の通知をバックグラウンドで開始し、すぐに戻る。
// 呼び出し元のコンテキストがキャンセルされても通知は継続する。
func (n *DeletionNotifier) NotifyDeletion(ctx context.Context, facebookID int64) {
	if facebookID == 0 {
		return
	}

	ctx = context.WithoutCancel(ctx)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()

		ctx, cancel := context.WithTimeout(ctx, n.config.Timeout)
		defer cancel()

		expBackoff := backoff.NewExponentialBackOff()
		expBackoff.InitialInterval = n.config.InitialInterval
		expBackoff.Reset()

		_, err := backoff.Retry(ctx, func() (struct{}, error) {
			err := n.revoker.RevokeAuthorization(ctx, facebookID)
			if err != nil && !retryable(err) {
				return struct{}{}, backoff.Permanent(err)
			}
			return struct{}{}, err
		},
			backoff.WithBackOff(expBackoff),
			backoff.WithMaxTries(n.config.MaxTries),
			backoff.WithNotify(func(err error, d time.Duration) {
				n.logger.Debug("retrying facebook deauthorization",
					slog.Int64("facebook_id", facebookID),
					slog.Duration("after", d),
					slog.String("error", err.Error()),
				)
			}),
		)
		if err != nil {
			n.logger.Error("failed to notify facebook of user deletion",
				slog.Int64("facebook_id", facebookID),
				slog.String("error", err.Error()),
			)
			return
		}
		n.logger.Info("facebook deauthorization notified",
			slog.Int64("facebook_id", facebookID),
		)
	}()
}

// Wait は実行中の通知がすべて終わるまで待つ。シャットダウン時に使う。
func (n *DeletionNotifier) Wait() {
	n.wg.Wait()
}

// retryable は再試行に意味があるエラーかを返す。
// ネットワークエラーとサーバー側エラーのみ再試行する。
func retryable(err error) bool {
	if _, ok := AsTransportError(err); ok {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= http.StatusInternalServerError
	}
	return false
}
