package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/onsembl/onsembl/server/internal/db"
)

// fakeOIDCProviderRepo is an in-memory auth.OIDCProviderRepository backing
// SettingsHandler tests; it never touches a real database.
type fakeOIDCProviderRepo struct {
	provider *db.OIDCProvider
}

func (f *fakeOIDCProviderRepo) GetEnabled(context.Context) (*db.OIDCProvider, error) {
	return f.provider, nil
}

func (f *fakeOIDCProviderRepo) Create(_ context.Context, p *db.OIDCProvider) error {
	f.provider = p
	return nil
}

func (f *fakeOIDCProviderRepo) Update(_ context.Context, p *db.OIDCProvider) error {
	f.provider = p
	return nil
}

func TestGetOIDCReturnsNotFoundWhenUnconfigured(t *testing.T) {
	h := NewSettingsHandler(&fakeOIDCProviderRepo{}, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/settings/oidc", nil)
	w := httptest.NewRecorder()

	h.GetOIDC(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestUpsertOIDCCreatesWhenNoneExists(t *testing.T) {
	repo := &fakeOIDCProviderRepo{}
	h := NewSettingsHandler(repo, zap.NewNop())

	body := `{"name":"okta","issuer":"https://example.okta.com","client_id":"abc","client_secret":"shh","enabled":true}`
	req := httptest.NewRequest(http.MethodPut, "/api/v1/settings/oidc", strings.NewReader(body))
	w := httptest.NewRecorder()

	h.UpsertOIDC(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if repo.provider == nil {
		t.Fatal("expected a provider to be created")
	}
	if repo.provider.Scopes != "openid email profile" {
		t.Fatalf("expected default scopes, got %q", repo.provider.Scopes)
	}
}

func TestUpsertOIDCUpdatesExisting(t *testing.T) {
	repo := &fakeOIDCProviderRepo{provider: &db.OIDCProvider{Name: "old"}}
	h := NewSettingsHandler(repo, zap.NewNop())

	body := `{"name":"new-name","issuer":"https://example.okta.com","client_id":"abc","client_secret":"shh"}`
	req := httptest.NewRequest(http.MethodPut, "/api/v1/settings/oidc", strings.NewReader(body))
	w := httptest.NewRecorder()

	h.UpsertOIDC(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if repo.provider.Name != "new-name" {
		t.Fatalf("expected name to be replaced, got %q", repo.provider.Name)
	}
}

func TestUpsertOIDCRejectsMissingRequiredFields(t *testing.T) {
	h := NewSettingsHandler(&fakeOIDCProviderRepo{}, zap.NewNop())

	req := httptest.NewRequest(http.MethodPut, "/api/v1/settings/oidc", strings.NewReader(`{"name":"okta"}`))
	w := httptest.NewRecorder()

	h.UpsertOIDC(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}
