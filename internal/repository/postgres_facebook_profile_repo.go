package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/fbconnect/internal/model"
	"github.com/lib/pq"
)

// PostgresFacebookProfileRepo はPostgreSQLを使用したFacebook紐付けリポジトリ。
type PostgresFacebookProfileRepo struct {
	db *sql.DB
}

// NewPostgresFacebookProfileRepo はPostgresFacebookProfileRepoを生成する。
func NewPostgresFacebookProfileRepo(db *sql.DB) *PostgresFacebookProfileRepo {
	return &PostgresFacebookProfileRepo{db: db}
}

const selectFacebookProfileColumns = `SELECT id, user_id, facebook_id, created_at FROM facebook_profiles`

// FindByUserID はローカルユーザーIDで紐付けを検索する。見つからない場合はnilを返す。
func (r *PostgresFacebookProfileRepo) FindByUserID(ctx context.Context, userID string) (*model.FacebookProfile, error) {
	profile, err := scanFacebookProfile(r.db.QueryRowContext(ctx,
		selectFacebookProfileColumns+` WHERE user_id = $1`, userID))
	if err != nil {
		return nil, fmt.Errorf("failed to find facebook profile by user ID: %w", err)
	}
	return profile, nil
}

// FindByFacebookID はFacebook IDで紐付けを検索する。見つからない場合はnilを返す。
func (r *PostgresFacebookProfileRepo) FindByFacebookID(ctx context.Context, facebookID int64) (*model.FacebookProfile, error) {
	profile, err := scanFacebookProfile(r.db.QueryRowContext(ctx,
		selectFacebookProfileColumns+` WHERE facebook_id = $1`, facebookID))
	if err != nil {
		return nil, fmt.Errorf("failed to find facebook profile by facebook ID: %w", err)
	}
	return profile, nil
}

// FindByFacebookIDs は複数のFacebook IDの紐付けをまとめて検索する。
// 紐付けのないIDは結果に含まれない。空のスライスでは問い合わせを行わない。
func (r *PostgresFacebookProfileRepo) FindByFacebookIDs(ctx context.Context, facebookIDs []int64) (map[int64]*model.FacebookProfile, error) {
	profiles := make(map[int64]*model.FacebookProfile, len(facebookIDs))
	if len(facebookIDs) == 0 {
		return profiles, nil
	}

	rows, err := r.db.QueryContext(ctx,
		selectFacebookProfileColumns+` WHERE facebook_id = ANY($1)`, pq.Array(facebookIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to find facebook profiles by facebook IDs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		profile := &model.FacebookProfile{}
		if err := rows.Scan(&profile.ID, &profile.UserID, &profile.FacebookID, &profile.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan facebook profile: %w", err)
		}
		profiles[profile.FacebookID] = profile
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate facebook profiles: %w", err)
	}
	return profiles, nil
}

// Create は既存ユーザーに紐付けを作成する。
func (r *PostgresFacebookProfileRepo) Create(ctx context.Context, profile *model.FacebookProfile) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO facebook_profiles (id, user_id, facebook_id, created_at)
		 VALUES ($1, $2, $3, $4)`,
		profile.ID, profile.UserID, profile.FacebookID, profile.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("failed to create facebook profile: %w", ErrConflict)
		}
		return fmt.Errorf("failed to create facebook profile: %w", err)
	}
	return nil
}

// DeleteByUserID は指定ユーザーの紐付けを削除する。
func (r *PostgresFacebookProfileRepo) DeleteByUserID(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM facebook_profiles WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete facebook profile: %w", err)
	}
	return nil
}

// scanFacebookProfile は1行をFacebookProfileに読み込む。行がない場合は (nil, nil) を返す。
func scanFacebookProfile(row *sql.Row) (*model.FacebookProfile, error) {
	profile := &model.FacebookProfile{}
	err := row.Scan(&profile.ID, &profile.UserID, &profile.FacebookID, &profile.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return profile, nil
}

// compile-time interface check
var _ FacebookProfileRepository = (*PostgresFacebookProfileRepo)(nil)
