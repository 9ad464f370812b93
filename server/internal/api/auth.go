package api

import (
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/onsembl/onsembl/server/internal/auth"
)

// refreshTokenCookie is the name of the httpOnly cookie that stores the
// refresh token. It is never exposed in API response bodies.
const refreshTokenCookie = "onsembl_refresh_token"

// AuthHandler groups all authentication-related HTTP handlers. It depends
// on AuthService as the single entry point for all auth operations.
type AuthHandler struct {
	svc    *auth.AuthService
	logger *zap.Logger
	secure bool // true in production (HTTPS), false in development
}

// NewAuthHandler creates a new AuthHandler. secure controls whether cookies
// are set with the Secure flag — true in production, false over local HTTP.
func NewAuthHandler(svc *auth.AuthService, logger *zap.Logger, secure bool) *AuthHandler {
	return &AuthHandler{
		svc:    svc,
		logger: logger.Named("auth_handler"),
		secure: secure,
	}
}

// loginRequest is the JSON body expected by POST /api/v1/auth/login.
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// oidcExchangeRequest is the JSON body expected by POST /api/v1/auth/oidc.
// The dashboard obtains the raw ID token from the external identity
// provider itself — this endpoint only verifies it and mints a core
// session. There is no hosted Authorization Code redirect here.
type oidcExchangeRequest struct {
	IDToken string `json:"id_token"`
}

// loginResponse is the JSON body returned on successful authentication. The
// refresh token is not included here — it is set as an httpOnly cookie.
type loginResponse struct {
	AccessToken string `json:"access_token"`
}

// Login handles POST /api/v1/auth/login. Authenticates via email/password
// and returns an access token in the body and a refresh token in an
// httpOnly cookie.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if req.Email == "" || req.Password == "" {
		ErrBadRequest(w, "email and password are required")
		return
	}

	pair, err := h.svc.LoginLocal(r.Context(), auth.LoginRequest{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		// Same 401 for wrong credentials and disabled accounts, to avoid
		// user enumeration.
		if errors.Is(err, auth.ErrInvalidCredentials) || errors.Is(err, auth.ErrUserDisabled) {
			ErrUnauthorized(w)
			return
		}
		h.logger.Error("login failed", zap.String("email", req.Email), zap.Error(err))
		ErrInternal(w)
		return
	}

	h.setRefreshCookie(w, pair.RefreshToken, pair.RefreshTokenExpiresAt)
	Ok(w, loginResponse{AccessToken: pair.AccessToken})
}

// OIDCExchange handles POST /api/v1/auth/oidc. Verifies an externally
// obtained ID token and mints a core session for the resolved operator,
// JIT-provisioning the account on first login.
func (h *AuthHandler) OIDCExchange(w http.ResponseWriter, r *http.Request) {
	var req oidcExchangeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.IDToken == "" {
		ErrBadRequest(w, "id_token is required")
		return
	}

	pair, err := h.svc.ExchangeOIDC(r.Context(), req.IDToken)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrNoOIDCProvider):
			ErrBadRequest(w, "no external identity provider is configured")
		case errors.Is(err, auth.ErrUserDisabled):
			ErrUnauthorized(w)
		default:
			h.logger.Error("oidc exchange failed", zap.Error(err))
			ErrUnauthorized(w)
		}
		return
	}

	h.setRefreshCookie(w, pair.RefreshToken, pair.RefreshTokenExpiresAt)
	Ok(w, loginResponse{AccessToken: pair.AccessToken})
}

// Logout handles POST /api/v1/auth/logout. Invalidates the refresh token
// stored in the cookie and clears it.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(refreshTokenCookie)
	if err != nil {
		// No cookie present — already logged out, treat as success.
		NoContent(w)
		return
	}

	if err := h.svc.Logout(r.Context(), cookie.Value); err != nil {
		h.logger.Warn("logout error", zap.Error(err))
	}

	h.clearRefreshCookie(w)
	NoContent(w)
}

// Refresh handles POST /api/v1/auth/refresh. Rotates the refresh token and
// returns a new access token.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(refreshTokenCookie)
	if err != nil {
		ErrUnauthorized(w)
		return
	}

	pair, err := h.svc.RefreshToken(r.Context(), cookie.Value)
	if err != nil {
		h.clearRefreshCookie(w)
		ErrUnauthorized(w)
		return
	}

	h.setRefreshCookie(w, pair.RefreshToken, pair.RefreshTokenExpiresAt)
	Ok(w, loginResponse{AccessToken: pair.AccessToken})
}

// setRefreshCookie writes the refresh token as an httpOnly cookie.
func (h *AuthHandler) setRefreshCookie(w http.ResponseWriter, token string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshTokenCookie,
		Value:    token,
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteStrictMode,
		Path:     "/api/v1/auth",
	})
}

// clearRefreshCookie expires the refresh token cookie immediately.
func (h *AuthHandler) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshTokenCookie,
		Value:    "",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteStrictMode,
		Path:     "/api/v1/auth",
	})
}
