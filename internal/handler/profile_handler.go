package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/hitoshi/fbconnect/internal/middleware"
	"github.com/hitoshi/fbconnect/internal/model"
	"github.com/hitoshi/fbconnect/internal/profile"
)

const (
	defaultFriendsLimit = 20
	maxFriendsLimit     = 100
)

// ProfileServiceInterface はプロフィールハンドラーが必要とするサービスインターフェース。
type ProfileServiceInterface interface {
	Profile(ctx context.Context, m *model.FacebookProfile) *profile.Profile
}

// profileResponse はプロフィールのレスポンス形式。
type profileResponse struct {
	UserID             string   `json:"user_id"`
	FacebookID         int64    `json:"facebook_id"`
	Username           string   `json:"username"`
	Name               string   `json:"name"`
	FirstName          string   `json:"first_name"`
	LastName           string   `json:"last_name"`
	Link               string   `json:"link"`
	About              string   `json:"about"`
	Birthday           string   `json:"birthday"`
	Email              string   `json:"email"`
	Website            string   `json:"website"`
	Gender             string   `json:"gender"`
	Religion           string   `json:"religion"`
	Political          string   `json:"political"`
	RelationshipStatus string   `json:"relationship_status"`
	Hometown           string   `json:"hometown"`
	Location           string   `json:"location"`
	SignificantOther   string   `json:"significant_other"`
	InterestedIn       []string `json:"interested_in"`
	MeetingFor         []string `json:"meeting_for"`
	Work               string   `json:"work"`
	Education          string   `json:"education"`
	Verified           bool     `json:"verified"`
	Timezone           string   `json:"timezone"`
	PictureURL         string   `json:"picture_url"`
	ProfileURL         string   `json:"profile_url"`
}

// friendResponse は友達一覧の1件分のレスポンス形式。
type friendResponse struct {
	UserID     string `json:"user_id"`
	FacebookID int64  `json:"facebook_id"`
	Name       string `json:"name"`
	PictureURL string `json:"picture_url"`
	ProfileURL string `json:"profile_url"`
}

// ProfileHandler はFacebookプロフィールのHTTPハンドラー。
// 各メソッドはエラーを返し、middleware.ErrorInterceptorが分類する。
type ProfileHandler struct {
	profiles ProfileServiceInterface
	mappings middleware.MappingFinder
}

// NewProfileHandler はProfileHandlerを生成する。
func NewProfileHandler(profiles ProfileServiceInterface, mappings middleware.MappingFinder) *ProfileHandler {
	return &ProfileHandler{
		profiles: profiles,
		mappings: mappings,
	}
}

// GetProfile はログインユーザーのプロフィールを返す。
// GET /api/profile
// Facebookから取得できない項目はプレースホルダーで返す。
func (h *ProfileHandler) GetProfile(w http.ResponseWriter, r *http.Request) error {
	p, err := h.currentProfile(r)
	if err != nil {
		return err
	}

	ctx := r.Context()
	writeJSON(w, http.StatusOK, profileResponse{
		UserID:             p.UserID(),
		FacebookID:         p.FacebookID(),
		Username:           p.Username(ctx),
		Name:               p.Name(ctx),
		FirstName:          p.FirstName(ctx),
		LastName:           p.LastName(ctx),
		Link:               p.Link(ctx),
		About:              p.About(ctx),
		Birthday:           p.Birthday(ctx),
		Email:              p.Email(ctx),
		Website:            p.Website(ctx),
		Gender:             p.Gender(ctx),
		Religion:           p.Religion(ctx),
		Political:          p.Political(ctx),
		RelationshipStatus: p.RelationshipStatus(ctx),
		Hometown:           p.Hometown(ctx),
		Location:           p.Location(ctx),
		SignificantOther:   p.SignificantOther(ctx),
		InterestedIn:       p.InterestedIn(ctx),
		MeetingFor:         p.MeetingFor(ctx),
		Work:               p.Work(ctx),
		Education:          p.Education(ctx),
		Verified:           p.Verified(ctx),
		Timezone:           p.Timezone(ctx),
		PictureURL:         p.PictureURL(ctx),
		ProfileURL:         p.AbsoluteURL(),
	})
	return nil
}

// GetStatus はFacebookのトークンがログインユーザー本人のものとして有効かを返す。
// GET /api/profile/status
// トークンの期限切れはエラーとして返し、ErrorInterceptorがログインへリダイレクトする。
func (h *ProfileHandler) GetStatus(w http.ResponseWriter, r *http.Request) error {
	p, err := h.currentProfile(r)
	if err != nil {
		return err
	}

	ok, err := p.Authenticate(r.Context())
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]bool{"authenticated": ok})
	return nil
}

// ListFriends はログインユーザーの友達のうち紐付けのあるユーザーを返す。
// GET /api/profile/friends?limit=N
func (h *ProfileHandler) ListFriends(w http.ResponseWriter, r *http.Request) error {
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		return err
	}

	p, err := h.currentProfile(r)
	if err != nil {
		return err
	}

	ctx := r.Context()
	friends := p.FriendsProfiles(ctx, limit)
	items := make([]friendResponse, 0, len(friends))
	for _, f := range friends {
		items = append(items, friendResponse{
			UserID:     f.UserID(),
			FacebookID: f.FacebookID(),
			Name:       f.Name(ctx),
			PictureURL: f.PictureURL(ctx),
			ProfileURL: f.AbsoluteURL(),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"friends": items})
	return nil
}

// currentProfile はログインユーザーのProfileを返す。
func (h *ProfileHandler) currentProfile(r *http.Request) (*profile.Profile, error) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		return nil, model.NewUnauthorizedError()
	}

	mapping, err := h.mappings.FindByUserID(r.Context(), userID)
	if err != nil {
		return nil, err
	}
	if mapping == nil {
		return nil, model.NewProfileNotLinkedError()
	}
	return h.profiles.Profile(r.Context(), mapping), nil
}

// parseLimit は件数指定を解析する。空の場合はデフォルト値を返す。
func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultFriendsLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 || limit > maxFriendsLimit {
		return 0, model.NewInvalidLimitError(raw)
	}
	return limit, nil
}
