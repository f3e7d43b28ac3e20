package profile

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/fbconnect/internal/fbcontext"
	"github.com/hitoshi/fbconnect/internal/graph"
	"github.com/hitoshi/fbconnect/internal/model"
)

// resolveState はProfileの取得状態を表す。
type resolveState int

const (
	stateUnresolved resolveState = iota
	stateResolved
	stateFailed
)

// Profile はローカルの紐付けに遅延取得されたFacebookプロフィールを組み合わせたもの。
// 1リクエストの間だけ使うことを想定している。
type Profile struct {
	svc     *Service
	mapping model.FacebookProfile

	mu       sync.Mutex
	state    resolveState
	snapshot *model.ProfileSnapshot
}

// FacebookID はFacebook IDを返す。
func (p *Profile) FacebookID() int64 { return p.mapping.FacebookID }

// UserID はローカルユーザーIDを返す。
func (p *Profile) UserID() string { return p.mapping.UserID }

// Mapping は紐付けのコピーを返す。
func (p *Profile) Mapping() model.FacebookProfile { return p.mapping }

// AbsoluteURL はFacebook上のプロフィールページのURLを返す。取得は行わない。
func (p *Profile) AbsoluteURL() string { return p.mapping.AbsoluteURL() }

// Resolve はプロフィールを取得し、取得できたかどうかを返す。
//
// 取得は1インスタンスにつき最大1回で、結果は失敗も含めて記憶される。
// 同じリクエストのBatchに登録されたIDがあれば、それらもまとめて取得してキャッシュする。
// 失敗は呼び出し元に返さずログに記録する。
func (p *Profile) Resolve(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != stateUnresolved {
		return p.state == stateResolved
	}

	snapshot, err := p.fetch(ctx)
	if err != nil {
		p.logFailure(err)
		p.state = stateFailed
		return false
	}
	if snapshot == nil {
		p.svc.logger.Debug("facebook returned no profile",
			slog.Int64("facebook_id", p.mapping.FacebookID),
		)
		p.state = stateFailed
		return false
	}

	p.snapshot = snapshot
	p.state = stateResolved
	return true
}

func (p *Profile) fetch(ctx context.Context) (*model.ProfileSnapshot, error) {
	client, err := fbcontext.FromContext(ctx)
	if err != nil {
		return nil, err
	}

	ids := []int64{p.mapping.FacebookID}
	if b := fbcontext.BatchFromContext(ctx); b != nil && b.Len() > 0 {
		ids = b.IDs()
		if !containsID(ids, p.mapping.FacebookID) {
			ids = append(ids, p.mapping.FacebookID)
		}
	}

	infos, err := p.svc.fetchInfo(ctx, client, ids)
	if err != nil {
		return nil, err
	}
	return infos[p.mapping.FacebookID], nil
}

func (p *Profile) logFailure(err error) {
	attrs := []any{
		slog.Int64("facebook_id", p.mapping.FacebookID),
		slog.String("error", err.Error()),
	}
	if te, ok := graph.AsTransportError(err); ok {
		attrs = append(attrs, slog.String("cause", string(te.Cause)))
	}
	switch {
	case errors.Is(err, fbcontext.ErrNotConfigured):
		p.svc.logger.Error("facebook is not set up for this request", attrs...)
	case graph.IsSessionExpired(err):
		p.svc.logger.Warn("facebook session expired while fetching profile", attrs...)
	default:
		p.svc.logger.Error("failed to fetch facebook profile", attrs...)
	}
}

// current は取得済みならスナップショットを、そうでなければプレースホルダーを返す。
// 実際の値とプレースホルダーの値が混ざることはない。
func (p *Profile) current(ctx context.Context) *model.ProfileSnapshot {
	if p.Resolve(ctx) {
		return p.snapshot
	}
	return &p.svc.config.Placeholder
}

// Snapshot は取得したプロフィール、または取得できなかった場合はプレースホルダーのコピーを返す。
func (p *Profile) Snapshot(ctx context.Context) model.ProfileSnapshot {
	c := clone(p.current(ctx))
	if c.PictureURL == "" {
		c.PictureURL = p.PictureURL(ctx)
	}
	return c
}

func (p *Profile) Name(ctx context.Context) string      { return p.current(ctx).Name }
func (p *Profile) FirstName(ctx context.Context) string { return p.current(ctx).FirstName }
func (p *Profile) LastName(ctx context.Context) string  { return p.current(ctx).LastName }
func (p *Profile) Link(ctx context.Context) string      { return p.current(ctx).Link }
func (p *Profile) About(ctx context.Context) string     { return p.current(ctx).About }
func (p *Profile) Birthday(ctx context.Context) string  { return p.current(ctx).Birthday }
func (p *Profile) Email(ctx context.Context) string     { return p.current(ctx).Email }
func (p *Profile) Website(ctx context.Context) string   { return p.current(ctx).Website }
func (p *Profile) Gender(ctx context.Context) string    { return p.current(ctx).Gender }
func (p *Profile) Religion(ctx context.Context) string  { return p.current(ctx).Religion }
func (p *Profile) Political(ctx context.Context) string { return p.current(ctx).Political }

// FullName はNameの別名。
func (p *Profile) FullName(ctx context.Context) string { return p.Name(ctx) }

func (p *Profile) RelationshipStatus(ctx context.Context) string {
	return p.current(ctx).RelationshipStatus
}

func (p *Profile) Hometown(ctx context.Context) string { return refName(p.current(ctx).Hometown) }
func (p *Profile) Location(ctx context.Context) string { return refName(p.current(ctx).Location) }

func (p *Profile) SignificantOther(ctx context.Context) string {
	return refName(p.current(ctx).SignificantOther)
}

func (p *Profile) InterestedIn(ctx context.Context) []string {
	return append([]string(nil), p.current(ctx).InterestedIn...)
}

func (p *Profile) MeetingFor(ctx context.Context) []string {
	return append([]string(nil), p.current(ctx).MeetingFor...)
}

// Work は勤務先を「勤務先 (役職)」の形式でカンマ区切りにして返す。
func (p *Profile) Work(ctx context.Context) string {
	var parts []string
	for _, w := range p.current(ctx).Work {
		employer := refName(w.Employer)
		if employer == "" {
			continue
		}
		if position := refName(w.Position); position != "" {
			employer += " (" + position + ")"
		}
		parts = append(parts, employer)
	}
	return strings.Join(parts, ", ")
}

// Education は学校名をカンマ区切りにして返す。
func (p *Profile) Education(ctx context.Context) string {
	var parts []string
	for _, e := range p.current(ctx).Education {
		if name := refName(e.School); name != "" {
			parts = append(parts, name)
		}
	}
	return strings.Join(parts, ", ")
}

func (p *Profile) Verified(ctx context.Context) bool {
	v := p.current(ctx).Verified
	return v != nil && *v
}

// Timezone はUTCからの時差を文字列で返す。不明な場合は空文字列。
func (p *Profile) Timezone(ctx context.Context) string {
	tz := p.current(ctx).Timezone
	if tz == nil {
		return ""
	}
	return strconv.FormatFloat(*tz, 'f', -1, 64)
}

// PictureURL はプロフィール画像のURLを返す。
// 取得できなかった場合はプレースホルダーの画像URLを返す。
func (p *Profile) PictureURL(ctx context.Context) string {
	if !p.Resolve(ctx) {
		return p.svc.config.Placeholder.PictureURL
	}
	if p.snapshot.PictureURL != "" {
		return p.snapshot.PictureURL
	}
	return p.svc.graph.PictureURL(p.mapping.FacebookID)
}

// Username はプロフィールURLから導いたユーザー名を返す。
// URLがprofile.php形式か、ユーザー名を含まない場合はFacebook IDを返す。
func (p *Profile) Username(ctx context.Context) string {
	fallback := strconv.FormatInt(p.mapping.FacebookID, 10)
	link := p.Link(ctx)
	if link == "" || strings.Contains(link, "profile.php") {
		return fallback
	}
	u, err := url.Parse(link)
	if err != nil {
		return fallback
	}
	segment, _, _ := strings.Cut(strings.TrimPrefix(u.Path, "/"), "/")
	if segment == "" {
		return fallback
	}
	return segment
}

// IsAuthenticated はリクエストのトークンが有効で、このプロフィールの持ち主のものかどうかを返す。
// 失敗した場合はログに記録してfalseを返す。
func (p *Profile) IsAuthenticated(ctx context.Context) bool {
	ok, err := p.Authenticate(ctx)
	if err != nil {
		p.logFailure(err)
		return false
	}
	return ok
}

// Authenticate はIsAuthenticatedと同じ確認を行い、Graph APIのエラーをそのまま返す。
// セッション期限切れをハンドラーから伝播させたい場合に使う。
func (p *Profile) Authenticate(ctx context.Context) (bool, error) {
	client, err := fbcontext.FromContext(ctx)
	if err != nil {
		return false, err
	}
	_, token, ok := client.Credentials()
	if !ok {
		return false, nil
	}

	start := time.Now()
	id, err := p.svc.graph.Me(ctx, token)
	p.svc.metrics.RecordGraphCall("me", time.Since(start), err)
	if err != nil {
		return false, err
	}
	return id == p.mapping.FacebookID, nil
}

// FriendsProfiles はリクエストのユーザーの友達のうち、このサービスに紐付けがあるものを最大limit件返す。
// limitが0以下の場合は件数を制限しない。失敗した場合は取得できた分だけを返す。
//
// 友達全員とリクエストのBatchに登録済みのIDのプロフィールを1回でキャッシュしてから、
// 紐付けをまとめて検索する。
func (p *Profile) FriendsProfiles(ctx context.Context, limit int) []*Profile {
	client, err := fbcontext.FromContext(ctx)
	if err != nil {
		p.logFailure(err)
		return nil
	}

	ids, err := p.svc.friendIDs(ctx, client)
	if err != nil {
		p.logFailure(err)
		return nil
	}
	if len(ids) == 0 {
		return nil
	}

	warm := slices.Clone(ids)
	if b := fbcontext.BatchFromContext(ctx); b != nil {
		for _, id := range b.IDs() {
			if !containsID(warm, id) {
				warm = append(warm, id)
			}
		}
	}
	if _, err := p.svc.fetchInfo(ctx, client, warm); err != nil {
		p.logFailure(err)
	}

	mappings, err := p.svc.finder.FindByFacebookIDs(ctx, ids)
	if err != nil {
		p.svc.logger.Error("failed to find facebook profiles",
			slog.Int("count", len(ids)),
			slog.String("error", err.Error()),
		)
		return nil
	}

	var friends []*Profile
	for _, id := range ids {
		m, ok := mappings[id]
		if !ok || m == nil {
			continue
		}
		friends = append(friends, p.svc.Profile(ctx, m))
		if limit > 0 && len(friends) >= limit {
			break
		}
	}
	return friends
}

func refName(r *model.NamedRef) string {
	if r == nil {
		return ""
	}
	return r.Name
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
