package auth

import (
	"context"
	"errors"
	"fmt"

	gooidc "github.com/coreos/go-oidc/v3/oidc"

	"github.com/onsembl/onsembl/server/internal/db"
)

// OIDCClaims holds the standard claims extracted from a verified external
// ID token.
type OIDCClaims struct {
	Subject string
	Email   string
	Name    string
}

// OIDCVerifier validates ID tokens minted by an external identity provider
// and maps the verified subject to a local operator account. It does not
// drive the browser-facing Authorization Code redirect — the dashboard
// obtains the raw ID token from the external IdP itself and presents it
// here for verification and exchange.
type OIDCVerifier struct {
	providerRepo OIDCProviderRepository
	users        UserRepository
	tokens       RefreshTokenRepository
	jwt          *JWTManager
}

// NewOIDCVerifier creates an OIDCVerifier with the given dependencies.
func NewOIDCVerifier(providerRepo OIDCProviderRepository, users UserRepository, tokens RefreshTokenRepository, jwt *JWTManager) *OIDCVerifier {
	return &OIDCVerifier{providerRepo: providerRepo, users: users, tokens: tokens, jwt: jwt}
}

// Exchange verifies a raw external ID token's signature and claims against
// the configured provider's JWKS, then finds or JIT-provisions the local
// operator account for the verified subject and issues a core token pair.
func (v *OIDCVerifier) Exchange(ctx context.Context, rawIDToken string) (*TokenPair, error) {
	cfg, err := v.providerRepo.GetEnabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("auth: loading OIDC provider config: %w", err)
	}
	if cfg == nil {
		return nil, ErrNoOIDCProvider
	}

	provider, err := gooidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("auth: initializing OIDC provider for issuer %q: %w", cfg.Issuer, err)
	}
	verifier := provider.Verifier(&gooidc.Config{ClientID: cfg.ClientID})

	idToken, err := verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("auth: verifying OIDC id_token: %w", err)
	}

	var claims OIDCClaims
	var raw struct {
		Sub   string `json:"sub"`
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := idToken.Claims(&raw); err != nil {
		return nil, fmt.Errorf("auth: extracting OIDC claims: %w", err)
	}
	claims.Subject, claims.Email, claims.Name = raw.Sub, raw.Email, raw.Name

	user, err := v.findOrProvisionUser(ctx, cfg.Name, claims)
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrUserDisabled
	}

	return issueTokenPair(ctx, v.tokens, v.jwt, user.ID, user.Email, user.Role)
}

func (v *OIDCVerifier) findOrProvisionUser(ctx context.Context, providerName string, claims OIDCClaims) (*db.User, error) {
	user, err := v.users.GetByOIDC(ctx, providerName, claims.Subject)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("auth: looking up OIDC user: %w", err)
	}

	// JIT provisioning: first successful login from this external subject
	// creates the local operator account.
	user = &db.User{
		Email:        claims.Email,
		DisplayName:  claims.Name,
		Role:         "operator",
		IsActive:     true,
		OIDCProvider: providerName,
		OIDCSub:      claims.Subject,
	}
	if err := v.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("auth: provisioning OIDC user: %w", err)
	}
	return user, nil
}
