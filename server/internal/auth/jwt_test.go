package auth

import "testing"

func TestGenerateAndValidateAccessTokenRoundTrip(t *testing.T) {
	mgr, err := NewJWTManagerGenerated("onsembl-core")
	if err != nil {
		t.Fatalf("NewJWTManagerGenerated: %v", err)
	}

	token, err := mgr.GenerateAccessToken("user-1", "op@example.com", "operator")
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}

	claims, err := mgr.ValidateAccessToken(token)
	if err != nil {
		t.Fatalf("ValidateAccessToken: %v", err)
	}
	if claims.UserID != "user-1" || claims.Email != "op@example.com" || claims.Role != "operator" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestValidateAccessTokenRejectsForeignIssuer(t *testing.T) {
	minted, err := NewJWTManagerGenerated("onsembl-core")
	if err != nil {
		t.Fatalf("NewJWTManagerGenerated: %v", err)
	}
	other, err := NewJWTManagerGenerated("some-other-issuer")
	if err != nil {
		t.Fatalf("NewJWTManagerGenerated: %v", err)
	}

	token, err := other.GenerateAccessToken("user-1", "op@example.com", "operator")
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}

	if _, err := minted.ValidateAccessToken(token); err == nil {
		t.Fatal("ValidateAccessToken accepted a token signed by a different key/issuer")
	}
}

func TestValidateAccessTokenRejectsGarbage(t *testing.T) {
	mgr, err := NewJWTManagerGenerated("onsembl-core")
	if err != nil {
		t.Fatalf("NewJWTManagerGenerated: %v", err)
	}
	if _, err := mgr.ValidateAccessToken("not.a.jwt"); err == nil {
		t.Fatal("ValidateAccessToken accepted a garbage token string")
	}
}

func TestPublicKeyPEMIsWellFormed(t *testing.T) {
	mgr, err := NewJWTManagerGenerated("onsembl-core")
	if err != nil {
		t.Fatalf("NewJWTManagerGenerated: %v", err)
	}
	pemBytes, err := mgr.PublicKeyPEM()
	if err != nil {
		t.Fatalf("PublicKeyPEM: %v", err)
	}
	if len(pemBytes) == 0 {
		t.Fatal("PublicKeyPEM returned empty output")
	}
}
