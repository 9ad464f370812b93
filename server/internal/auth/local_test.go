package auth

import "testing"

func TestHashAndVerifyPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !verifyPassword("correct horse battery staple", hash) {
		t.Fatal("verifyPassword rejected the correct password")
	}
	if verifyPassword("wrong password", hash) {
		t.Fatal("verifyPassword accepted an incorrect password")
	}
}

func TestVerifyPasswordRejectsMalformedHash(t *testing.T) {
	if verifyPassword("anything", "not-a-valid-hash") {
		t.Fatal("verifyPassword accepted a malformed stored hash")
	}
	if verifyPassword("anything", "") {
		t.Fatal("verifyPassword accepted an empty stored hash")
	}
}

func TestHashPasswordProducesDistinctSalts(t *testing.T) {
	a, err := HashPassword("same password")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	b, err := HashPassword("same password")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if a == b {
		t.Fatal("HashPassword produced identical output for two calls; salts are not being randomized")
	}
}

func TestGenerateRefreshTokenIsUnpredictableAndHashStable(t *testing.T) {
	a, err := generateRefreshToken()
	if err != nil {
		t.Fatalf("generateRefreshToken: %v", err)
	}
	b, err := generateRefreshToken()
	if err != nil {
		t.Fatalf("generateRefreshToken: %v", err)
	}
	if a == b {
		t.Fatal("generateRefreshToken produced identical tokens across calls")
	}
	if hashRefreshToken(a) != hashRefreshToken(a) {
		t.Fatal("hashRefreshToken is not deterministic")
	}
	if hashRefreshToken(a) == hashRefreshToken(b) {
		t.Fatal("hashRefreshToken collided for distinct tokens")
	}
}
