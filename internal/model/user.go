// Package model はドメインモデルを定義する。
package model

import (
	"strconv"
	"time"
)

// User はサービス利用ユーザーを表す。
// Facebookのみで登録したユーザーはUsernameにFacebook IDの文字列を持つ。
type User struct {
	ID        string
	Username  string
	Email     string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// FacebookProfile はローカルユーザーとFacebookアカウントの紐付けを表す。
// user_id、facebook_idともに一意であり、1対1で対応する。
type FacebookProfile struct {
	ID         string
	UserID     string
	FacebookID int64
	CreatedAt  time.Time
}

// FacebookOnly はこの紐付けのユーザーがFacebook認証のみで利用しているかを返す。
// ローカルのユーザー名がFacebook IDの文字列と一致する場合にtrueとなる。
func (p *FacebookProfile) FacebookOnly(user *User) bool {
	if p == nil || user == nil || p.FacebookID == 0 {
		return false
	}
	return strconv.FormatInt(p.FacebookID, 10) == user.Username
}

// AbsoluteURL はFacebook上のプロフィールページのURLを返す。
func (p *FacebookProfile) AbsoluteURL() string {
	return "http://www.facebook.com/profile.php?id=" + strconv.FormatInt(p.FacebookID, 10)
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}
