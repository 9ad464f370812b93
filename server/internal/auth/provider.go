package auth

// LoginRequest carries credentials for a local email/password login attempt.
// External-IdP logins present a raw ID token to AuthService.ExchangeOIDC
// instead and bypass this entirely.
type LoginRequest struct {
	Email    string
	Password string
}
