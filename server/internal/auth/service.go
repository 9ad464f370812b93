package auth

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// AuthService is the entry point for all authentication operations. The
// REST API and WebSocket upgrade handlers depend on AuthService, never on
// LocalProvider or OIDCVerifier directly.
type AuthService struct {
	local  *LocalProvider
	oidc   *OIDCVerifier
	tokens RefreshTokenRepository
	jwt    *JWTManager
}

// NewAuthService creates an AuthService with the given providers and
// dependencies. oidc may be nil — ExchangeOIDC returns ErrNoOIDCProvider in
// that case rather than panicking.
func NewAuthService(local *LocalProvider, oidc *OIDCVerifier, tokens RefreshTokenRepository, jwt *JWTManager) *AuthService {
	return &AuthService{local: local, oidc: oidc, tokens: tokens, jwt: jwt}
}

// LoginLocal authenticates an operator via email and password.
func (s *AuthService) LoginLocal(ctx context.Context, req LoginRequest) (*TokenPair, error) {
	return s.local.Login(ctx, req.Email, req.Password)
}

// ExchangeOIDC verifies a raw ID token from the configured external identity
// provider and returns a core token pair, provisioning the local operator
// account on first login.
func (s *AuthService) ExchangeOIDC(ctx context.Context, rawIDToken string) (*TokenPair, error) {
	if s.oidc == nil {
		return nil, ErrNoOIDCProvider
	}
	return s.oidc.Exchange(ctx, rawIDToken)
}

// RefreshToken validates and rotates a refresh token issued by either
// provider. Refresh tokens are provider-agnostic once issued, so this
// delegates to the local provider's shared rotation logic.
func (s *AuthService) RefreshToken(ctx context.Context, rawToken string) (*TokenPair, error) {
	return s.local.RefreshToken(ctx, rawToken)
}

// Logout invalidates the given refresh token.
func (s *AuthService) Logout(ctx context.Context, rawToken string) error {
	return s.local.Logout(ctx, rawToken)
}

// LogoutAllSessions revokes all active refresh tokens for a user. Called on
// password change or a detected compromise.
func (s *AuthService) LogoutAllSessions(ctx context.Context, userID uuid.UUID) error {
	if err := s.tokens.RevokeAllForUser(ctx, userID); err != nil {
		return fmt.Errorf("auth: revoking all sessions for user %s: %w", userID, err)
	}
	return nil
}

// ValidateAccessToken parses and verifies a JWT access token. The WebSocket
// upgrade handler and HTTP middleware call the JWTManager's method of the
// same name directly rather than this one.
func (s *AuthService) ValidateAccessToken(tokenString string) (*Claims, error) {
	return s.jwt.ValidateAccessToken(tokenString)
}

// JWTManager exposes the underlying JWTManager, e.g. to serve the RS256
// public key for dashboard-side verification.
func (s *AuthService) JWTManager() *JWTManager {
	return s.jwt
}
