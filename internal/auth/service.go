// Package auth はFacebookアカウントによるログインとセッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/fbconnect/internal/model"
	"github.com/hitoshi/fbconnect/internal/repository"
)

// ErrNotLinked はFacebookアカウントがどのローカルユーザーにも紐付いていないことを示す。
// 呼び出し側はセットアップ画面へ誘導する。
var ErrNotLinked = errors.New("facebook account is not linked to a local user")

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	userRepo    repository.UserRepository
	profileRepo repository.FacebookProfileRepository
	sessionRepo repository.SessionRepository
	config      ServiceConfig
}

// NewService はServiceを生成する。
func NewService(
	userRepo repository.UserRepository,
	profileRepo repository.FacebookProfileRepository,
	sessionRepo repository.SessionRepository,
	config ServiceConfig,
) *Service {
	return &Service{
		userRepo:    userRepo,
		profileRepo: profileRepo,
		sessionRepo: sessionRepo,
		config:      config,
	}
}

// LoginWithFacebook はFacebook IDに紐付いたローカルユーザーのセッションを発行する。
// 紐付けがない場合、または紐付け先のユーザーが存在しない場合はErrNotLinkedを返す。
func (s *Service) LoginWithFacebook(ctx context.Context, facebookID int64) (*model.Session, error) {
	if facebookID == 0 {
		return nil, ErrNotLinked
	}

	profile, err := s.profileRepo.FindByFacebookID(ctx, facebookID)
	if err != nil {
		return nil, fmt.Errorf("failed to find facebook profile: %w", err)
	}
	if profile == nil {
		slog.Debug("facebook account not linked", slog.Int64("facebook_id", facebookID))
		return nil, ErrNotLinked
	}

	user, err := s.userRepo.FindByID(ctx, profile.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		slog.Error("facebook profile points at a missing user",
			slog.Int64("facebook_id", facebookID),
			slog.String("user_id", profile.UserID),
		)
		return nil, ErrNotLinked
	}

	session, err := s.createSession(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	slog.Info("user logged in with facebook",
		slog.String("user_id", user.ID),
		slog.Int64("facebook_id", facebookID),
	)
	return session, nil
}

// RegisterWithFacebook はFacebook認証のみで利用するユーザーを作成し、セッションを発行する。
// ユーザー名にはFacebook IDの文字列を使う。すでに紐付けがある場合はそのユーザーでログインする。
func (s *Service) RegisterWithFacebook(ctx context.Context, facebookID int64, name, email string) (*model.Session, error) {
	if facebookID == 0 {
		return nil, fmt.Errorf("facebook ID is required")
	}

	now := time.Now()
	user := &model.User{
		ID:        uuid.New().String(),
		Username:  strconv.FormatInt(facebookID, 10),
		Email:     email,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	profile := &model.FacebookProfile{
		ID:         uuid.New().String(),
		UserID:     user.ID,
		FacebookID: facebookID,
		CreatedAt:  now,
	}

	err := s.userRepo.CreateWithFacebookProfile(ctx, user, profile)
	if errors.Is(err, repository.ErrConflict) {
		// 同時に登録された場合など、既存の紐付けでログインする
		return s.LoginWithFacebook(ctx, facebookID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create user and facebook profile: %w", err)
	}

	slog.Info("new facebook user created",
		slog.String("user_id", user.ID),
		slog.Int64("facebook_id", facebookID),
	)

	session, err := s.createSession(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

// Logout はセッションを破棄する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user logged out", slog.String("session_id", sessionID))
	return nil
}

// FindUser は指定IDのユーザーを返す。見つからない場合はnilを返す。
func (s *Service) FindUser(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}

// GetCurrentUser はセッションから現在のユーザーを取得する。
func (s *Service) GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session ID is required")
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, fmt.Errorf("session not found or expired")
	}

	user, err := s.FindUser(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("user not found")
	}

	return user, nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID string) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := time.Now()
	session := &model.Session{
		ID:        sessionID,
		UserID:    userID,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
