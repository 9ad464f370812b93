package audit

import "testing"

func TestRedactDropsTokenKeepsPasswordMasked(t *testing.T) {
	in := map[string]interface{}{
		"password": "p",
		"token":    "t",
		"email":    "op@example.com",
	}
	out := Redact(in)

	if _, ok := out["token"]; ok {
		t.Fatal("token key should be dropped entirely, not masked")
	}
	if out["password"] != "[REDACTED]" {
		t.Fatalf("password = %v, want [REDACTED]", out["password"])
	}
	if out["email"] != "op@example.com" {
		t.Fatalf("non-sensitive key email was altered: %v", out["email"])
	}
}

func TestRedactWalksNestedMaps(t *testing.T) {
	in := map[string]interface{}{
		"auth": map[string]interface{}{
			"secret": "s",
			"scope":  "read",
		},
	}
	out := Redact(in)
	nested, ok := out["auth"].(map[string]interface{})
	if !ok {
		t.Fatalf("nested map was not preserved: %#v", out["auth"])
	}
	if nested["secret"] != "[REDACTED]" {
		t.Fatalf("nested secret = %v, want [REDACTED]", nested["secret"])
	}
	if nested["scope"] != "read" {
		t.Fatalf("nested scope = %v, want unchanged", nested["scope"])
	}
}

func TestRedactNilPassesThrough(t *testing.T) {
	if Redact(nil) != nil {
		t.Fatal("Redact(nil) should return nil")
	}
}
