// Package graph はFacebook Graph APIとの連携を提供する。
// 署名付きCookieの検証、プロフィールの一括取得、友達一覧の取得、
// アプリ連携解除の通知と、それらが返すエラーの分類を含む。
package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/fbconnect/internal/model"
	"golang.org/x/oauth2"
)

const (
	// defaultBaseURL はGraph APIのエンドポイント。
	defaultBaseURL = "https://graph.facebook.com"
	// defaultTimeout はGraph API呼び出しのタイムアウト。
	defaultTimeout = 10 * time.Second
	// maxIDsPerRequest は1リクエストで取得できるIDの上限。
	maxIDsPerRequest = 50
	// maxResponseSize はレスポンスボディの読み取り上限。
	maxResponseSize = 4 << 20
)

// ProfileFields はプロフィール取得時に要求するフィールド。
var ProfileFields = []string{
	"id", "name", "first_name", "last_name", "link", "about", "birthday",
	"email", "website", "gender", "relationship_status", "religion", "political",
	"hometown", "location", "significant_other", "work", "education",
	"interested_in", "meeting_for", "verified", "timezone",
}

// Config はGraph APIクライアントの設定。
type Config struct {
	BaseURL   string
	AppID     string
	AppSecret string
	Timeout   time.Duration
}

// Client はGraph APIのクライアント。
// アクセストークンはリクエストごとにoauth2のTokenSourceとして付与する。
type Client struct {
	baseURL    string
	appID      string
	appSecret  string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient はClientを生成する。
func NewClient(cfg Config, httpClient *http.Client, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		appID:      cfg.AppID,
		appSecret:  cfg.AppSecret,
		httpClient: httpClient,
		logger:     logger,
	}
}

// PictureURL は指定IDのプロフィール画像URLを返す。
func (c *Client) PictureURL(id int64) string {
	return c.baseURL + "/" + strconv.FormatInt(id, 10) + "/picture"
}

// BatchFetchProfiles は複数IDのプロフィールを1回のAPI呼び出しで取得する。
// レスポンスに含まれないIDは結果のマップにも含まれない（削除済み・連携解除済み等）。
func (c *Client) BatchFetchProfiles(ctx context.Context, ids []int64, accessToken string) (map[int64]*model.ProfileSnapshot, error) {
	if len(ids) == 0 {
		return map[int64]*model.ProfileSnapshot{}, nil
	}
	if len(ids) > maxIDsPerRequest {
		return nil, fmt.Errorf("IDの数が上限を超えています: %d > %d", len(ids), maxIDsPerRequest)
	}

	idStrs := make([]string, len(ids))
	for i, id := range ids {
		idStrs[i] = strconv.FormatInt(id, 10)
	}
	sort.Strings(idStrs)

	q := url.Values{
		"ids":    {strings.Join(idStrs, ",")},
		"fields": {strings.Join(ProfileFields, ",")},
	}

	var raw map[string]json.RawMessage
	if err := c.get(ctx, accessToken, "batch_fetch_profiles", "/", q, &raw); err != nil {
		return nil, err
	}

	result := make(map[int64]*model.ProfileSnapshot, len(raw))
	for key, body := range raw {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			c.logger.Warn("unexpected profile key in graph response", slog.String("key", key))
			continue
		}
		snapshot := &model.ProfileSnapshot{}
		if err := json.Unmarshal(body, snapshot); err != nil {
			return nil, fmt.Errorf("failed to parse profile %d: %w", id, err)
		}
		if snapshot.ID == "" {
			snapshot.ID = key
		}
		result[id] = snapshot
	}
	return result, nil
}

// friendsResponse は友達一覧APIのレスポンス。
type friendsResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// FetchConnections はアクセストークンの持ち主の友達のうち、
// このアプリを利用しているユーザーのFacebook IDを返す。
func (c *Client) FetchConnections(ctx context.Context, accessToken string) ([]int64, error) {
	q := url.Values{
		"fields": {"id"},
		"limit":  {"5000"},
	}
	var resp friendsResponse
	if err := c.get(ctx, accessToken, "fetch_connections", "/me/friends", q, &resp); err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(resp.Data))
	for _, f := range resp.Data {
		id, err := strconv.ParseInt(f.ID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse friend id %q: %w", f.ID, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Me はアクセストークンの持ち主のFacebook IDを返す。
func (c *Client) Me(ctx context.Context, accessToken string) (int64, error) {
	var me struct {
		ID string `json:"id"`
	}
	if err := c.get(ctx, accessToken, "me", "/me", url.Values{"fields": {"id"}}, &me); err != nil {
		return 0, err
	}
	id, err := strconv.ParseInt(me.ID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse me id %q: %w", me.ID, err)
	}
	return id, nil
}

// RevokeAuthorization はアプリのアクセストークンで指定ユーザーのアプリ連携を解除する。
func (c *Client) RevokeAuthorization(ctx context.Context, facebookID int64) error {
	path := "/" + strconv.FormatInt(facebookID, 10) + "/permissions"
	return c.do(ctx, c.appAccessToken(), "revoke_authorization", http.MethodDelete, path, nil, nil)
}

// appAccessToken はアプリ自身のアクセストークンを返す。
func (c *Client) appAccessToken() string {
	return c.appID + "|" + c.appSecret
}

// get はGETリクエストを実行しレスポンスをoutにデコードする。
func (c *Client) get(ctx context.Context, accessToken, op, path string, q url.Values, out any) error {
	return c.do(ctx, accessToken, op, http.MethodGet, path, q, out)
}

// graphErrorResponse はGraph APIのエラーレスポンス。
type graphErrorResponse struct {
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// do はGraph APIを呼び出す。
// ネットワークエラーはTransportError、エラーレスポンスはAPIErrorとして返す。
func (c *Client) do(ctx context.Context, accessToken, op, method, path string, q url.Values, out any) error {
	reqURL := c.baseURL + path
	if len(q) > 0 {
		reqURL += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create graph request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.clientFor(ctx, accessToken).Do(req)
	if err != nil {
		tErr := newTransportError(op, err)
		c.logger.Error("graph api request failed",
			slog.String("op", op),
			slog.String("cause", string(tErr.Cause)),
			slog.String("error", err.Error()),
		)
		return tErr
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return newTransportError(op, err)
	}

	c.logger.Debug("graph api request completed",
		slog.String("op", op),
		slog.Int("status", resp.StatusCode),
		slog.Float64("duration_ms", float64(time.Since(start).Microseconds())/1000),
	)

	if resp.StatusCode != http.StatusOK {
		return parseAPIError(resp.StatusCode, body)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse graph response for %s: %w", op, err)
	}
	return nil
}

// clientFor はアクセストークンを付与するHTTPクライアントを返す。
// トークンが空の場合は匿名で呼び出す。
func (c *Client) clientFor(ctx context.Context, accessToken string) *http.Client {
	if accessToken == "" {
		return c.httpClient
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}))
}

// parseAPIError はエラーレスポンスをAPIErrorに変換する。
func parseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Message: http.StatusText(status)}
	var errResp graphErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != nil {
		apiErr.Type = errResp.Error.Type
		apiErr.Code = errResp.Error.Code
		apiErr.Message = errResp.Error.Message
	}
	return apiErr
}
