package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/argon2"

	"github.com/onsembl/onsembl/server/internal/db"
)

const (
	refreshTokenDuration = 7 * 24 * time.Hour

	argon2Time    = 2
	argon2Memory  = 64 * 1024
	argon2Threads = 2
	argon2KeyLen  = 32
	argon2SaltLen = 16

	refreshTokenBytes = 32
)

// LocalProvider authenticates operators via email/password stored in the
// database. Passwords are hashed with Argon2id. Refresh tokens are stored
// as SHA-256 hashes so the raw token is never persisted.
type LocalProvider struct {
	users  UserRepository
	tokens RefreshTokenRepository
	jwt    *JWTManager
}

// NewLocalProvider creates a LocalProvider with the given dependencies.
func NewLocalProvider(users UserRepository, tokens RefreshTokenRepository, jwt *JWTManager) *LocalProvider {
	return &LocalProvider{users: users, tokens: tokens, jwt: jwt}
}

// TokenPair is returned after a successful login or token refresh.
type TokenPair struct {
	AccessToken           string
	RefreshToken          string
	RefreshTokenExpiresAt time.Time
}

// Login validates email/password and returns a token pair on success.
func (p *LocalProvider) Login(ctx context.Context, email, password string) (*TokenPair, error) {
	user, err := p.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Returning ErrInvalidCredentials (not ErrUserNotFound) avoids
			// leaking whether the email address is registered.
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("auth: fetching user by email: %w", err)
	}
	if !user.IsActive {
		return nil, ErrUserDisabled
	}
	if !verifyPassword(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	return issueTokenPair(ctx, p.tokens, p.jwt, user.ID, user.Email, user.Role)
}

// RefreshToken validates a refresh token, rotates it (delete-before-reissue,
// so a failed reissue forces re-login rather than allowing replay), and
// returns a new token pair.
func (p *LocalProvider) RefreshToken(ctx context.Context, rawToken string) (*TokenPair, error) {
	tokenHash := hashRefreshToken(rawToken)

	stored, err := p.tokens.GetByHash(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrRefreshTokenNotFound
		}
		return nil, fmt.Errorf("auth: fetching refresh token: %w", err)
	}

	if err := p.tokens.DeleteByHash(ctx, tokenHash); err != nil {
		return nil, fmt.Errorf("auth: deleting old refresh token: %w", err)
	}

	if time.Now().After(stored.ExpiresAt) {
		return nil, ErrTokenExpired
	}
	if stored.RevokedAt != nil {
		return nil, ErrTokenInvalid
	}

	user, err := p.users.GetByID(ctx, stored.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("auth: fetching user for token refresh: %w", err)
	}
	if !user.IsActive {
		return nil, ErrUserDisabled
	}

	return issueTokenPair(ctx, p.tokens, p.jwt, user.ID, user.Email, user.Role)
}

// Logout invalidates the given refresh token. A no-op if it no longer
// exists — the client should forget it regardless.
func (p *LocalProvider) Logout(ctx context.Context, rawToken string) error {
	if err := p.tokens.DeleteByHash(ctx, hashRefreshToken(rawToken)); err != nil {
		return fmt.Errorf("auth: revoking refresh token on logout: %w", err)
	}
	return nil
}

// issueTokenPair mints a new access token and rotates in a fresh refresh
// token. Shared by LocalProvider and OIDCVerifier since a refresh token is
// provider-agnostic once issued.
func issueTokenPair(ctx context.Context, tokens RefreshTokenRepository, jwt *JWTManager, userID uuid.UUID, email, role string) (*TokenPair, error) {
	accessToken, err := jwt.GenerateAccessToken(userID.String(), email, role)
	if err != nil {
		return nil, err
	}

	rawRefresh, err := generateRefreshToken()
	if err != nil {
		return nil, fmt.Errorf("auth: generating refresh token: %w", err)
	}
	expiresAt := time.Now().Add(refreshTokenDuration)

	if err := tokens.Create(ctx, &db.RefreshToken{
		UserID:    userID,
		TokenHash: hashRefreshToken(rawRefresh),
		ExpiresAt: expiresAt,
	}); err != nil {
		return nil, fmt.Errorf("auth: persisting refresh token: %w", err)
	}

	return &TokenPair{
		AccessToken:           accessToken,
		RefreshToken:          rawRefresh,
		RefreshTokenExpiresAt: expiresAt,
	}, nil
}

// HashPassword returns an Argon2id hash of the given plaintext password in
// "saltHex:hashHex" format.
func HashPassword(password string) (string, error) {
	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("auth: generating password salt: %w", err)
	}
	hash := argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(hash), nil
}

func verifyPassword(password, stored string) bool {
	saltHex, hashHex, ok := splitHash(stored)
	if !ok {
		return false
	}
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return false
	}
	expectedHash, err := hex.DecodeString(hashHex)
	if err != nil {
		return false
	}
	actual := argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, uint32(len(expectedHash)))
	return constantTimeEqual(actual, expectedHash)
}

func hashRefreshToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func generateRefreshToken() (string, error) {
	b := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func splitHash(s string) (salt, hash string, ok bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}

func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := range a {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}
