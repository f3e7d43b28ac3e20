// Package cache はプロフィールスナップショットを共有するTTL付きキャッシュを提供する。
// 複数プロセスで共有する場合はRedis、単一プロセスではメモリ実装を使う。
package cache

import (
	"context"
	"time"
)

// Cache はTTL付きのキーバリューストア。
// 値は書き込み後に変更されず、同じキーへの再書き込みは新しい値での上書きのみとなる。
type Cache interface {
	// Get はキーに対応する値を返す。存在しないか期限切れの場合はokがfalseになる。
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	// Set は値をttlの期間だけ保持する。
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}
