package security

import (
	"testing"
)

func TestGenerateSecureToken(t *testing.T) {
	token, err := GenerateSecureToken(32)
	if err != nil {
		t.Fatalf("GenerateSecureToken returned error: %v", err)
	}
	if len(token) != 64 {
		t.Fatalf("expected 64 hex characters for 32 bytes, got %d", len(token))
	}
	for _, r := range token {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			t.Fatalf("unexpected character %q in token %q", r, token)
		}
	}

	other, err := GenerateSecureToken(32)
	if err != nil {
		t.Fatalf("GenerateSecureToken returned error: %v", err)
	}
	if token == other {
		t.Fatalf("two tokens must not collide")
	}

	if _, err := GenerateSecureToken(0); err == nil {
		t.Fatalf("expected an error for a non-positive length")
	}
}

func TestGenerateNumericCode(t *testing.T) {
	code, err := GenerateNumericCode(6)
	if err != nil {
		t.Fatalf("GenerateNumericCode returned error: %v", err)
	}
	if len(code) != 6 {
		t.Fatalf("expected 6 digits, got %q", code)
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			t.Fatalf("unexpected character %q in code %q", r, code)
		}
	}

	if _, err := GenerateNumericCode(-1); err == nil {
		t.Fatalf("expected an error for a negative length")
	}
}

func TestHashToken(t *testing.T) {
	first := HashToken("some secret value")
	second := HashToken("some secret value")
	if first != second {
		t.Fatalf("hashing must be deterministic")
	}
	if len(first) != 64 {
		t.Fatalf("expected a 64-character sha-256 hex digest, got %d", len(first))
	}
	if HashToken("another value") == first {
		t.Fatalf("distinct inputs must hash differently")
	}
}
