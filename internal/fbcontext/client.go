// Package fbcontext はリクエスト単位のFacebookセッションコンテキストを提供する。
// ミドルウェアがリクエスト開始時にClientとBatchを生成してcontext.Contextに格納し、
// 同じリクエスト内のプロフィール参照やハンドラーから取り出して利用する。
package fbcontext

import (
	"strconv"
	"sync"
)

// Client はリクエストごとに1つだけ存在するFacebookセッション。
// Facebook IDとアクセストークンは常に両方揃っているか両方空であり、
// 片方だけを変更する手段は提供しない。
type Client struct {
	mu          sync.RWMutex
	uid         int64
	accessToken string
}

// NewClient はClientを生成する。uidかtokenのどちらかが空の場合は未認証のClientを返す。
func NewClient(uid int64, accessToken string) *Client {
	c := &Client{}
	c.Set(uid, accessToken)
	return c
}

// Set はFacebook IDとアクセストークンを設定する。
// どちらかが空の場合は両方ともクリアする。
func (c *Client) Set(uid int64, accessToken string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if uid == 0 || accessToken == "" {
		c.uid, c.accessToken = 0, ""
		return
	}
	c.uid, c.accessToken = uid, accessToken
}

// Clear は認証情報を破棄し、以降このリクエストを未認証として扱わせる。
func (c *Client) Clear() {
	c.Set(0, "")
}

// Credentials はFacebook IDとアクセストークンを同時に返す。
// okがfalseの場合はどちらも空。
func (c *Client) Credentials() (uid int64, accessToken string, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.uid, c.accessToken, c.uid != 0
}

// UID はFacebook IDを返す。未認証の場合は0。
func (c *Client) UID() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.uid
}

// AccessToken はアクセストークンを返す。未認証の場合は空文字列。
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// BonaFide はFacebookの正当な認証情報を保持しているかを返す。
func (c *Client) BonaFide() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.uid != 0
}

// String はログ出力用の表現を返す。アクセストークンは含めない。
func (c *Client) String() string {
	return "<fbcontext.Client: " + strconv.FormatInt(c.UID(), 10) + ">"
}
