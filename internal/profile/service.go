// Package profile はFacebookプロフィールの遅延取得とキャッシュを提供する。
//
// Profileの各アクセサは初回呼び出し時に、同じリクエスト内で参照された
// すべてのFacebook IDを1回のGraph API呼び出しでまとめて取得し、
// 共有キャッシュにTTL付きで保存する。取得に失敗した場合は例外を返さず、
// 設定されたプレースホルダーの値を返す。
package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"github.com/hitoshi/fbconnect/internal/cache"
	"github.com/hitoshi/fbconnect/internal/fbcontext"
	"github.com/hitoshi/fbconnect/internal/metrics"
	"github.com/hitoshi/fbconnect/internal/model"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultTTL は共有キャッシュの保持期間のデフォルト値。
	DefaultTTL = 1800 * time.Second
	// maxIDsPerCall はGraph APIの1回の呼び出しで取得するIDの上限。
	maxIDsPerCall = 50
)

// GraphAPI はプロフィールキャッシュが利用するGraph APIの操作。
type GraphAPI interface {
	BatchFetchProfiles(ctx context.Context, ids []int64, accessToken string) (map[int64]*model.ProfileSnapshot, error)
	FetchConnections(ctx context.Context, accessToken string) ([]int64, error)
	Me(ctx context.Context, accessToken string) (int64, error)
	PictureURL(id int64) string
}

// ProfileFinder はFacebook IDからローカルの紐付けを検索する。
// repository.FacebookProfileRepositoryの部分集合として定義する。
type ProfileFinder interface {
	FindByFacebookIDs(ctx context.Context, facebookIDs []int64) (map[int64]*model.FacebookProfile, error)
}

// Config はプロフィールキャッシュの設定。起動時に1回組み立て、以降は変更しない。
type Config struct {
	TTL         time.Duration
	Placeholder model.ProfileSnapshot
}

// DefaultPlaceholder はプロフィールを取得できない場合に使う値を返す。
func DefaultPlaceholder() model.ProfileSnapshot {
	return model.ProfileSnapshot{
		ID:         "0",
		Name:       "(Private)",
		FirstName:  "(Private)",
		LastName:   "(Private)",
		PictureURL: "http://www.facebook.com/pics/t_silhouette.gif",
	}
}

// Service はプロフィールの取得とキャッシュを管理する。
// 複数のリクエストから並行して利用される。
type Service struct {
	graph     GraphAPI
	cache     cache.Cache
	finder    ProfileFinder
	config    Config
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
	sanitizer *bluemonday.Policy
	group     singleflight.Group
}

// NewService はServiceを生成する。
func NewService(
	graph GraphAPI,
	c cache.Cache,
	finder ProfileFinder,
	config Config,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Service {
	if config.TTL <= 0 {
		config.TTL = DefaultTTL
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		graph:     graph,
		cache:     c,
		finder:    finder,
		config:    config,
		metrics:   collector,
		logger:    logger,
		sanitizer: bluemonday.StrictPolicy(),
	}
}

// Profile は紐付けに対応するProfileを返す。
// 同時にFacebook IDを現在のリクエストのBatchに登録し、後続の取得でまとめて取得されるようにする。
func (s *Service) Profile(ctx context.Context, m *model.FacebookProfile) *Profile {
	if b := fbcontext.BatchFromContext(ctx); b != nil {
		b.Add(m.FacebookID)
	}
	return &Profile{svc: s, mapping: *m}
}

// Placeholder はプレースホルダーのコピーを返す。
func (s *Service) Placeholder() model.ProfileSnapshot {
	return clone(&s.config.Placeholder)
}

// fetchInfo は指定IDのプロフィールを共有キャッシュまたはGraph APIから取得する。
// キャッシュにないIDだけをまとめてGraph APIで取得し、結果をキャッシュに書き込む。
func (s *Service) fetchInfo(ctx context.Context, client *fbcontext.Client, ids []int64) (map[int64]*model.ProfileSnapshot, error) {
	uid, token, _ := client.Credentials()

	result := make(map[int64]*model.ProfileSnapshot, len(ids))
	var misses []int64
	for _, id := range ids {
		if id == 0 {
			continue
		}
		key := infoCacheKey(uid, id)
		snapshot, ok := s.cachedSnapshot(ctx, key)
		if ok {
			s.logger.Debug("profile found in cache", slog.Int64("facebook_id", id))
			result[id] = snapshot
			continue
		}
		s.logger.Debug("profile not found in cache", slog.String("cache_key", key))
		misses = append(misses, id)
	}

	s.metrics.RecordProfileCacheHit(len(result))
	s.metrics.RecordProfileCacheMiss(len(misses))

	for chunk := range slices.Chunk(misses, maxIDsPerCall) {
		fetched, err := s.batchFetch(ctx, uid, token, chunk)
		if err != nil {
			return nil, err
		}
		for id, snapshot := range fetched {
			s.sanitize(snapshot)
			s.storeSnapshot(ctx, infoCacheKey(uid, id), snapshot)
			result[id] = snapshot
		}
	}

	return result, nil
}

// batchFetch はGraph APIを1回呼び出す。同じ内容の呼び出しが並行した場合は1回にまとめる。
func (s *Service) batchFetch(ctx context.Context, uid int64, token string, ids []int64) (map[int64]*model.ProfileSnapshot, error) {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	key := fmt.Sprintf("info:%d:%v", uid, sorted)

	s.logger.Debug("calling graph api for profiles", slog.Any("facebook_ids", sorted))
	v, err, _ := s.group.Do(key, func() (any, error) {
		start := time.Now()
		fetched, err := s.graph.BatchFetchProfiles(ctx, sorted, token)
		s.metrics.RecordGraphCall("batch_fetch_profiles", time.Since(start), err)
		return fetched, err
	})
	if err != nil {
		return nil, err
	}

	// singleflightの結果は共有されるため、呼び出し元ごとに複製する
	shared := v.(map[int64]*model.ProfileSnapshot)
	out := make(map[int64]*model.ProfileSnapshot, len(shared))
	for id, snapshot := range shared {
		c := clone(snapshot)
		out[id] = &c
	}
	return out, nil
}

// friendIDs はトークンの持ち主の友達のFacebook IDを返す。結果は共有キャッシュに保存する。
func (s *Service) friendIDs(ctx context.Context, client *fbcontext.Client) ([]int64, error) {
	uid, token, ok := client.Credentials()
	if !ok {
		return nil, nil
	}

	key := friendsCacheKey(uid)
	if data, hit, err := s.cache.Get(ctx, key); err != nil {
		s.logger.Warn("failed to read friends cache",
			slog.String("cache_key", key),
			slog.String("error", err.Error()),
		)
	} else if hit {
		var ids []int64
		if err := json.Unmarshal(data, &ids); err == nil {
			return ids, nil
		}
	}

	s.logger.Debug("calling graph api for friends", slog.String("cache_key", key))
	v, err, _ := s.group.Do("friends:"+strconv.FormatInt(uid, 10), func() (any, error) {
		start := time.Now()
		ids, err := s.graph.FetchConnections(ctx, token)
		s.metrics.RecordGraphCall("fetch_connections", time.Since(start), err)
		return ids, err
	})
	if err != nil {
		return nil, err
	}
	ids := slices.Clone(v.([]int64))

	if data, err := json.Marshal(ids); err == nil {
		if err := s.cache.Set(ctx, key, data, s.config.TTL); err != nil {
			s.logger.Warn("failed to write friends cache",
				slog.String("cache_key", key),
				slog.String("error", err.Error()),
			)
		}
	}
	return ids, nil
}

// cachedSnapshot はキャッシュからスナップショットを読み出す。
// 読み出しやデコードに失敗した場合はキャッシュミスとして扱う。
func (s *Service) cachedSnapshot(ctx context.Context, key string) (*model.ProfileSnapshot, bool) {
	data, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn("failed to read profile cache",
			slog.String("cache_key", key),
			slog.String("error", err.Error()),
		)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	snapshot := &model.ProfileSnapshot{}
	if err := json.Unmarshal(data, snapshot); err != nil {
		s.logger.Warn("discarding undecodable profile cache entry",
			slog.String("cache_key", key),
			slog.String("error", err.Error()),
		)
		return nil, false
	}
	return snapshot, true
}

// storeSnapshot はスナップショットをキャッシュに書き込む。失敗はログに残すだけ。
func (s *Service) storeSnapshot(ctx context.Context, key string, snapshot *model.ProfileSnapshot) {
	data, err := json.Marshal(snapshot)
	if err != nil {
		s.logger.Error("failed to encode profile", slog.String("error", err.Error()))
		return
	}
	s.logger.Debug("caching profile", slog.String("cache_key", key))
	if err := s.cache.Set(ctx, key, data, s.config.TTL); err != nil {
		s.logger.Warn("failed to write profile cache",
			slog.String("cache_key", key),
			slog.String("error", err.Error()),
		)
	}
}

// sanitize は自由記述のフィールドからHTMLを取り除く。
func (s *Service) sanitize(p *model.ProfileSnapshot) {
	for _, f := range []*string{
		&p.Name, &p.FirstName, &p.LastName, &p.About, &p.Website,
		&p.RelationshipStatus, &p.Religion, &p.Political,
	} {
		if *f != "" {
			*f = s.sanitizeText(*f)
		}
	}
}

// maxSanitizePasses はsanitizeTextが値の安定を待つ最大回数。
const maxSanitizePasses = 4

// sanitizeText はタグの除去と実体参照の復元を、値が変わらなくなるまで繰り返す。
// 実体参照で書かれたタグも復元後に除去される。
// 安定しない場合はエスケープされたままの値を返す。
func (s *Service) sanitizeText(v string) string {
	for i := 0; i < maxSanitizePasses; i++ {
		out := html.UnescapeString(s.sanitizer.Sanitize(v))
		if out == v {
			return out
		}
		v = out
	}
	return s.sanitizer.Sanitize(v)
}

// infoCacheKey はプロフィールのキャッシュキーを返す。
// 閲覧者ごとに見えるフィールドが異なるため、閲覧者のIDを含める。
func infoCacheKey(viewer, id int64) string {
	if viewer == 0 {
		return fmt.Sprintf("fb_user_info_%d", id)
	}
	return fmt.Sprintf("fb_user_info_%d_%d", viewer, id)
}

// friendsCacheKey は友達一覧のキャッシュキーを返す。
func friendsCacheKey(uid int64) string {
	return fmt.Sprintf("fb_friends_%d", uid)
}

// clone はスナップショットを複製する。スライスとポインタも複製する。
func clone(p *model.ProfileSnapshot) model.ProfileSnapshot {
	c := *p
	c.Hometown = cloneRef(p.Hometown)
	c.Location = cloneRef(p.Location)
	c.SignificantOther = cloneRef(p.SignificantOther)
	c.InterestedIn = slices.Clone(p.InterestedIn)
	c.MeetingFor = slices.Clone(p.MeetingFor)
	if p.Work != nil {
		c.Work = make([]model.WorkEntry, len(p.Work))
		for i, w := range p.Work {
			c.Work[i] = model.WorkEntry{Employer: cloneRef(w.Employer), Position: cloneRef(w.Position)}
		}
	}
	if p.Education != nil {
		c.Education = make([]model.EducationEntry, len(p.Education))
		for i, e := range p.Education {
			c.Education[i] = model.EducationEntry{School: cloneRef(e.School), Type: e.Type}
		}
	}
	if p.Verified != nil {
		v := *p.Verified
		c.Verified = &v
	}
	if p.Timezone != nil {
		tz := *p.Timezone
		c.Timezone = &tz
	}
	return c
}

func cloneRef(r *model.NamedRef) *model.NamedRef {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}
