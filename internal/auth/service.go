// Package auth はOAuth認証フロー、外部プロフィールの同期、セッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/nmrsched/internal/model"
	"github.com/hitoshi/nmrsched/internal/repository"
	"github.com/hitoshi/nmrsched/internal/security"
)

// ErrSessionNotFound はセッションが存在しないか期限切れの場合のエラー。
var ErrSessionNotFound = errors.New("session not found or expired")

// OAuthUserInfo はOAuthプロバイダーから取得したプロフィール。
type OAuthUserInfo struct {
	Provider string
	Profile  model.ExternalProfile
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、プロフィールを取得する。
	ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	oauth       OAuthProvider
	userRepo    repository.UserRepository
	identRepo   repository.IdentityRepository
	sessionRepo repository.SessionRepository
	sanitizer   security.NameSanitizerService
	urlGuard    security.URLGuardService
	config      ServiceConfig
}

// NewService はServiceを生成する。
func NewService(
	oauth OAuthProvider,
	userRepo repository.UserRepository,
	identRepo repository.IdentityRepository,
	sessionRepo repository.SessionRepository,
	config ServiceConfig,
) *Service {
	return &Service{
		oauth:       oauth,
		userRepo:    userRepo,
		identRepo:   identRepo,
		sessionRepo: sessionRepo,
		sanitizer:   security.NewNameSanitizer(),
		urlGuard:    security.NewURLGuard(),
		config:      config,
	}
}

// GetLoginURL はOAuth認証URLを生成する。
func (s *Service) GetLoginURL(state string) string {
	return s.oauth.GetLoginURL(state)
}

// HandleCallback はOAuthコールバックを処理し、プロフィールを同期してセッションを発行する。
func (s *Service) HandleCallback(ctx context.Context, code string) (*model.Session, *model.User, error) {
	info, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	user, err := s.SyncProfile(ctx, info.Provider, info.Profile)
	if err != nil {
		return nil, nil, err
	}

	session, err := s.createSession(ctx, user.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, user, nil
}

// SyncProfile は外部プロフィールをユーザーに反映する。
// identityが登録済みならメールアドレス・氏名・プロフィール画像のみを更新し、承認状態と管理者権限は保持する。
// 未登録ならユーザーとidentityを未承認・一般ユーザーとして作成する。
func (s *Service) SyncProfile(ctx context.Context, provider string, profile model.ExternalProfile) (*model.User, error) {
	if profile.ID == "" {
		return nil, fmt.Errorf("external profile has no id")
	}
	profile = s.cleanProfile(profile)

	identity, err := s.identRepo.FindByProviderAndProviderUserID(ctx, provider, profile.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}

	now := time.Now()

	if identity != nil {
		return s.updateExisting(ctx, provider, identity, profile, now)
	}

	user := &model.User{
		ID:              uuid.New().String(),
		Email:           profile.Email,
		FirstName:       profile.FirstName,
		LastName:        profile.LastName,
		ProfileImageURL: profile.ProfileImageURL,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	newIdentity := &model.Identity{
		ID:             uuid.New().String(),
		UserID:         user.ID,
		Provider:       provider,
		ProviderUserID: profile.ID,
		CreatedAt:      now,
	}
	if err := s.userRepo.CreateWithIdentity(ctx, user, newIdentity); err != nil {
		if !errors.Is(err, repository.ErrIdentityExists) {
			return nil, fmt.Errorf("failed to create user and identity: %w", err)
		}
		// 同じアカウントの初回ログインが並行し、先に作成された
		identity, err := s.identRepo.FindByProviderAndProviderUserID(ctx, provider, profile.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to find identity: %w", err)
		}
		if identity == nil {
			return nil, fmt.Errorf("identity %s/%s vanished after conflict", provider, profile.ID)
		}
		return s.updateExisting(ctx, provider, identity, profile, now)
	}

	slog.Info("新規ユーザーを承認待ちで作成しました",
		slog.String("user_id", user.ID),
		slog.String("email", user.Email),
		slog.String("provider", provider),
	)
	return user, nil
}

// updateExisting はidentityに紐づく既存ユーザーのプロフィールを最新化する。承認状態は変えない。
func (s *Service) updateExisting(ctx context.Context, provider string, identity *model.Identity, profile model.ExternalProfile, now time.Time) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, identity.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("identity %s references missing user %s", identity.ID, identity.UserID)
	}

	user.Email = profile.Email
	user.FirstName = profile.FirstName
	user.LastName = profile.LastName
	user.ProfileImageURL = profile.ProfileImageURL
	user.UpdatedAt = now
	if err := s.userRepo.UpdateProfile(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}

	slog.Info("既存ユーザーがログインしました",
		slog.String("user_id", user.ID),
		slog.String("provider", provider),
	)
	return user, nil
}

// cleanProfile は氏名からマークアップを除去し、安全でない画像URLを破棄する。
func (s *Service) cleanProfile(p model.ExternalProfile) model.ExternalProfile {
	p.FirstName = s.sanitizer.Sanitize(p.FirstName)
	p.LastName = s.sanitizer.Sanitize(p.LastName)

	if p.ProfileImageURL != "" {
		if err := s.urlGuard.ValidateImageURL(p.ProfileImageURL); err != nil {
			slog.Warn("プロフィール画像URLを破棄しました",
				slog.String("external_id", p.ID),
				slog.String("error", err.Error()),
			)
			p.ProfileImageURL = ""
		}
	}
	return p
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

// GetCurrentUser はセッションから現在のユーザーを取得する。
// セッションが無効な場合、またはユーザーが削除済みの場合はErrSessionNotFoundを返す。
func (s *Service) GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error) {
	if sessionID == "" {
		return nil, ErrSessionNotFound
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}

	user, err := s.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, ErrSessionNotFound
	}
	return user, nil
}

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
