// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/fbconnect/internal/model"
)

// ErrConflict は一意制約に違反したことを示す。
// 同じFacebook IDやユーザー名がすでに登録されている場合に返る。
var ErrConflict = errors.New("record already exists")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByUsername はユーザー名でユーザーを取得する。見つからない場合はnilを返す。
	FindByUsername(ctx context.Context, username string) (*model.User, error)

	// CreateWithFacebookProfile はユーザーとFacebookの紐付けを同一トランザクションで作成する。
	// 一意制約に違反した場合はErrConflictを返す。
	CreateWithFacebookProfile(ctx context.Context, user *model.User, profile *model.FacebookProfile) error

	// DeleteByID は指定IDのユーザーを削除する。
	// 関連するfacebook_profiles、sessionsはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error
}

// FacebookProfileRepository はローカルユーザーとFacebookアカウントの紐付けの永続化インターフェース。
type FacebookProfileRepository interface {
	// FindByUserID はローカルユーザーIDで紐付けを検索する。見つからない場合はnilを返す。
	FindByUserID(ctx context.Context, userID string) (*model.FacebookProfile, error)

	// FindByFacebookID はFacebook IDで紐付けを検索する。見つからない場合はnilを返す。
	FindByFacebookID(ctx context.Context, facebookID int64) (*model.FacebookProfile, error)

	// FindByFacebookIDs は複数のFacebook IDの紐付けを1回の問い合わせで検索する。
	// 紐付けのないIDは結果のマップに含まれない。
	FindByFacebookIDs(ctx context.Context, facebookIDs []int64) (map[int64]*model.FacebookProfile, error)

	// Create は既存ユーザーに紐付けを作成する。一意制約に違反した場合はErrConflictを返す。
	Create(ctx context.Context, profile *model.FacebookProfile) error

	// DeleteByUserID は指定ユーザーの紐付けを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
	// DeleteExpired は期限切れのセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}
