package graph

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/golang-jwt/jwt/v5"
)

// cookiePrefix はFacebook JavaScript SDKが設定する署名付きCookie名の接頭辞。
const cookiePrefix = "fbsr_"

// Assertion は署名付きCookieから取り出したFacebookの認証情報。
type Assertion struct {
	UID         int64
	AccessToken string
}

// assertionClaims は署名付きCookieのペイロード。
type assertionClaims struct {
	UserID     string `json:"user_id"`
	OAuthToken string `json:"oauth_token"`
	jwt.RegisteredClaims
}

// CookieDecoder はアプリケーションシークレットで署名されたCookieを検証する。
type CookieDecoder struct {
	appID     string
	appSecret []byte
}

// NewCookieDecoder はCookieDecoderを生成する。
func NewCookieDecoder(appID, appSecret string) *CookieDecoder {
	return &CookieDecoder{appID: appID, appSecret: []byte(appSecret)}
}

// CookieName は検証対象のCookie名を返す。
func (d *CookieDecoder) CookieName() string {
	return cookiePrefix + d.appID
}

// Decode はリクエストのCookieから認証情報を取り出す。
// Cookieが存在しない場合は (nil, nil) を返す。
// 署名不正・期限切れ・必須項目の欠落はErrMalformedAssertionをラップして返す。
func (d *CookieDecoder) Decode(r *http.Request) (*Assertion, error) {
	cookie, err := r.Cookie(d.CookieName())
	if err != nil || cookie.Value == "" {
		return nil, nil
	}

	claims := &assertionClaims{}
	_, err = jwt.ParseWithClaims(cookie.Value, claims,
		func(token *jwt.Token) (any, error) {
			return d.appSecret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(d.appID),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedAssertion, err)
	}

	if claims.UserID == "" || claims.OAuthToken == "" {
		return nil, fmt.Errorf("%w: missing user_id or oauth_token", ErrMalformedAssertion)
	}
	uid, err := strconv.ParseInt(claims.UserID, 10, 64)
	if err != nil || uid <= 0 {
		return nil, fmt.Errorf("%w: invalid user_id %q", ErrMalformedAssertion, claims.UserID)
	}

	return &Assertion{UID: uid, AccessToken: claims.OAuthToken}, nil
}
