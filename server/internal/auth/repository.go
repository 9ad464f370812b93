package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/onsembl/onsembl/server/internal/db"
)

// ErrNotFound is returned by repository methods when the requested record
// does not exist.
var ErrNotFound = errors.New("auth: record not found")

// UserRepository persists operator accounts (local and OIDC-provisioned).
type UserRepository interface {
	Create(ctx context.Context, user *db.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*db.User, error)
	GetByEmail(ctx context.Context, email string) (*db.User, error)
	GetByOIDC(ctx context.Context, provider, sub string) (*db.User, error)
	Update(ctx context.Context, user *db.User) error
}

// RefreshTokenRepository persists hashed, rotating refresh tokens.
type RefreshTokenRepository interface {
	Create(ctx context.Context, token *db.RefreshToken) error
	GetByHash(ctx context.Context, hash string) (*db.RefreshToken, error)
	DeleteByHash(ctx context.Context, hash string) error
	RevokeAllForUser(ctx context.Context, userID uuid.UUID) error
	DeleteExpired(ctx context.Context) error
}

// OIDCProviderRepository reads the single configured external identity
// provider's settings. Settings live in the database (not static config) so
// they can be updated from the admin UI without a restart.
type OIDCProviderRepository interface {
	GetEnabled(ctx context.Context) (*db.OIDCProvider, error)
	Create(ctx context.Context, provider *db.OIDCProvider) error
	Update(ctx context.Context, provider *db.OIDCProvider) error
}

type gormUserRepository struct{ db *gorm.DB }

// NewUserRepository returns a UserRepository backed by gdb.
func NewUserRepository(gdb *gorm.DB) UserRepository { return &gormUserRepository{db: gdb} }

func (r *gormUserRepository) Create(ctx context.Context, user *db.User) error {
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		return fmt.Errorf("auth: create user: %w", err)
	}
	return nil
}

func (r *gormUserRepository) GetByID(ctx context.Context, id uuid.UUID) (*db.User, error) {
	var user db.User
	if err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("auth: get user by id: %w", err)
	}
	return &user, nil
}

func (r *gormUserRepository) GetByEmail(ctx context.Context, email string) (*db.User, error) {
	var user db.User
	if err := r.db.WithContext(ctx).First(&user, "email = ?", email).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("auth: get user by email: %w", err)
	}
	return &user, nil
}

func (r *gormUserRepository) GetByOIDC(ctx context.Context, provider, sub string) (*db.User, error) {
	var user db.User
	err := r.db.WithContext(ctx).First(&user, "oidc_provider = ? AND oidc_sub = ?", provider, sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("auth: get user by oidc: %w", err)
	}
	return &user, nil
}

func (r *gormUserRepository) Update(ctx context.Context, user *db.User) error {
	result := r.db.WithContext(ctx).Save(user)
	if result.Error != nil {
		return fmt.Errorf("auth: update user: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

type gormRefreshTokenRepository struct{ db *gorm.DB }

// NewRefreshTokenRepository returns a RefreshTokenRepository backed by gdb.
func NewRefreshTokenRepository(gdb *gorm.DB) RefreshTokenRepository {
	return &gormRefreshTokenRepository{db: gdb}
}

func (r *gormRefreshTokenRepository) Create(ctx context.Context, token *db.RefreshToken) error {
	if err := r.db.WithContext(ctx).Create(token).Error; err != nil {
		return fmt.Errorf("auth: create refresh token: %w", err)
	}
	return nil
}

func (r *gormRefreshTokenRepository) GetByHash(ctx context.Context, hash string) (*db.RefreshToken, error) {
	var token db.RefreshToken
	if err := r.db.WithContext(ctx).First(&token, "token_hash = ?", hash).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("auth: get refresh token: %w", err)
	}
	return &token, nil
}

// DeleteByHash permanently removes a refresh token. A no-op if it is already
// gone — the desired post-condition (token unusable) is already met.
func (r *gormRefreshTokenRepository) DeleteByHash(ctx context.Context, hash string) error {
	if err := r.db.WithContext(ctx).Where("token_hash = ?", hash).Delete(&db.RefreshToken{}).Error; err != nil {
		return fmt.Errorf("auth: delete refresh token: %w", err)
	}
	return nil
}

func (r *gormRefreshTokenRepository) RevokeAllForUser(ctx context.Context, userID uuid.UUID) error {
	err := r.db.WithContext(ctx).
		Model(&db.RefreshToken{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Update("revoked_at", gorm.Expr("CURRENT_TIMESTAMP")).Error
	if err != nil {
		return fmt.Errorf("auth: revoke all refresh tokens: %w", err)
	}
	return nil
}

// DeleteExpired removes every refresh token past its expiry. No scheduled
// job in the server calls it.
func (r *gormRefreshTokenRepository) DeleteExpired(ctx context.Context) error {
	if err := r.db.WithContext(ctx).Where("expires_at < CURRENT_TIMESTAMP").Delete(&db.RefreshToken{}).Error; err != nil {
		return fmt.Errorf("auth: delete expired refresh tokens: %w", err)
	}
	return nil
}

type gormOIDCProviderRepository struct{ db *gorm.DB }

// NewOIDCProviderRepository returns an OIDCProviderRepository backed by gdb.
func NewOIDCProviderRepository(gdb *gorm.DB) OIDCProviderRepository {
	return &gormOIDCProviderRepository{db: gdb}
}

// GetEnabled returns the single enabled external identity provider, or nil
// if none is configured. Only one provider may be enabled at a time.
func (r *gormOIDCProviderRepository) GetEnabled(ctx context.Context) (*db.OIDCProvider, error) {
	var provider db.OIDCProvider
	err := r.db.WithContext(ctx).First(&provider, "enabled = ?", true).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("auth: get enabled oidc provider: %w", err)
	}
	return &provider, nil
}

func (r *gormOIDCProviderRepository) Create(ctx context.Context, provider *db.OIDCProvider) error {
	if err := r.db.WithContext(ctx).Create(provider).Error; err != nil {
		return fmt.Errorf("auth: create oidc provider: %w", err)
	}
	return nil
}

func (r *gormOIDCProviderRepository) Update(ctx context.Context, provider *db.OIDCProvider) error {
	if err := r.db.WithContext(ctx).Save(provider).Error; err != nil {
		return fmt.Errorf("auth: update oidc provider: %w", err)
	}
	return nil
}
