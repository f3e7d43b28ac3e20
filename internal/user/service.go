// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/fbconnect/internal/model"
	"github.com/hitoshi/fbconnect/internal/repository"
)

// FacebookProfileFinder は退会するユーザーの紐付けを検索するインターフェース。
type FacebookProfileFinder interface {
	FindByUserID(ctx context.Context, userID string) (*model.FacebookProfile, error)
}

// DeletionNotifier はユーザー削除をFacebookへ通知するインターフェース。
// 通知はベストエフォートで、呼び出しはすぐに戻る。
type DeletionNotifier interface {
	NotifyDeletion(ctx context.Context, facebookID int64)
}

// Service はユーザー管理のサービス層。
// 退会処理のビジネスロジックを提供する。
type Service struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	profiles    FacebookProfileFinder
	notifier    DeletionNotifier
}

// NewService はServiceの新しいインスタンスを生成する。
// notifierがnilの場合はFacebookへの通知を行わない。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	profiles FacebookProfileFinder,
	notifier DeletionNotifier,
) *Service {
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		profiles:    profiles,
		notifier:    notifier,
	}
}

// Withdraw はユーザーの退会処理を実行する。
// 削除順序: sessions → user（+ CASCADE: facebook_profiles）
// 削除後、Facebookと紐付いていればアプリ連携の解除を通知する。通知の失敗は退会を妨げない。
func (s *Service) Withdraw(ctx context.Context, userID string) error {
	// ユーザー存在確認
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}

	// 削除前に紐付けを控えておく
	var facebookID int64
	if s.profiles != nil {
		profile, err := s.profiles.FindByUserID(ctx, userID)
		if err != nil {
			return fmt.Errorf("Facebook紐付けの取得に失敗しました: %w", err)
		}
		if profile != nil {
			facebookID = profile.FacebookID
		}
	}

	slog.Info("退会処理を開始します",
		slog.String("user_id", userID),
		slog.Int64("facebook_id", facebookID),
	)

	// 1. セッションを削除
	if s.sessionRepo != nil {
		if err := s.sessionRepo.DeleteByUserID(ctx, userID); err != nil {
			return fmt.Errorf("セッションの削除に失敗しました: %w", err)
		}
	}

	// 2. ユーザーを削除（facebook_profilesはCASCADE削除）
	if err := s.userRepo.DeleteByID(ctx, userID); err != nil {
		return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}

	// 3. Facebookへ通知
	if facebookID != 0 && s.notifier != nil {
		s.notifier.NotifyDeletion(ctx, facebookID)
	}

	slog.Info("退会処理が完了しました",
		slog.String("user_id", userID),
	)

	return nil
}
