package api

import (
	"net/http/httptest"
	"testing"
)

func TestBearerTokenFromAuthorizationHeader(t *testing.T) {
	req := httptest.NewRequest("GET", "/ws/dashboard", nil)
	req.Header.Set("Authorization", "Bearer abc123")

	if got := bearerToken(req); got != "abc123" {
		t.Fatalf("expected abc123, got %q", got)
	}
}

func TestBearerTokenFromQueryParamFallback(t *testing.T) {
	req := httptest.NewRequest("GET", "/ws/dashboard?token=xyz789", nil)

	if got := bearerToken(req); got != "xyz789" {
		t.Fatalf("expected xyz789, got %q", got)
	}
}

func TestBearerTokenMissingReturnsEmpty(t *testing.T) {
	req := httptest.NewRequest("GET", "/ws/dashboard", nil)

	if got := bearerToken(req); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}

func TestBearerTokenIgnoresNonBearerScheme(t *testing.T) {
	req := httptest.NewRequest("GET", "/ws/dashboard", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")

	if got := bearerToken(req); got != "" {
		t.Fatalf("expected empty for non-bearer scheme, got %q", got)
	}
}
