package fbcontext

import (
	"context"
	"errors"
)

// ErrNotConfigured はFacebookミドルウェアを経由していないコンテキストから
// Clientを取得しようとした場合に返る。デプロイ構成の不備を示す。
var ErrNotConfigured = errors.New("facebook client not configured: make sure the facebook middleware is installed")

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	clientContextKey = contextKey("facebook_client")
	batchContextKey  = contextKey("facebook_batch")
)

// WithClient はClientを格納したコンテキストを返す。
func WithClient(ctx context.Context, c *Client) context.Context {
	return context.WithValue(ctx, clientContextKey, c)
}

// FromContext はコンテキストに格納されたClientを返す。
// 格納されていない場合はErrNotConfiguredを返す。
func FromContext(ctx context.Context) (*Client, error) {
	c, ok := ctx.Value(clientContextKey).(*Client)
	if !ok || c == nil {
		return nil, ErrNotConfigured
	}
	return c, nil
}

// WithBatch はBatchを格納したコンテキストを返す。
func WithBatch(ctx context.Context, b *Batch) context.Context {
	return context.WithValue(ctx, batchContextKey, b)
}

// BatchFromContext はコンテキストに格納されたBatchを返す。
// 格納されていない場合はnilを返す。
func BatchFromContext(ctx context.Context) *Batch {
	b, _ := ctx.Value(batchContextKey).(*Batch)
	return b
}

// Publish はリクエスト開始時の状態をまとめて格納する。
// Batchは毎回新しく生成するため、前のリクエストのIDが残ることはない。
func Publish(ctx context.Context, c *Client) context.Context {
	return WithBatch(WithClient(ctx, c), NewBatch())
}
