package auth

import (
	"net/http/httptest"
	"testing"
)

func TestKeyVerifier(t *testing.T) {
	key, hash, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("GenerateAPIKey failed: %v", err)
	}
	if key == "" || hash == "" {
		t.Fatal("GenerateAPIKey returned empty key or hash")
	}

	v := NewKeyVerifier(hash)
	if !v.Enabled() {
		t.Error("Verifier with hash should be enabled")
	}

	if err := v.Verify(key); err != nil {
		t.Errorf("Valid key rejected: %v", err)
	}

	// Second verification takes the cached path
	if err := v.Verify(key); err != nil {
		t.Errorf("Valid key rejected on cached path: %v", err)
	}

	if err := v.Verify("wrong-key"); err != ErrInvalidAPIKey {
		t.Errorf("Expected ErrInvalidAPIKey, got %v", err)
	}

	if err := v.Verify(""); err != ErrMissingAPIKey {
		t.Errorf("Expected ErrMissingAPIKey, got %v", err)
	}
}

func TestKeyVerifierDisabled(t *testing.T) {
	v := NewKeyVerifier("")
	if v.Enabled() {
		t.Error("Verifier without hash should be disabled")
	}

	// Everything passes when disabled
	if err := v.Verify(""); err != nil {
		t.Errorf("Disabled verifier rejected empty key: %v", err)
	}
	if err := v.Verify("anything"); err != nil {
		t.Errorf("Disabled verifier rejected key: %v", err)
	}
}

func TestExtractKey(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		value    string
		expected string
	}{
		{"X-API-Key header", "X-API-Key", "secret123", "secret123"},
		{"Bearer token", "Authorization", "Bearer tok456", "tok456"},
		{"Basic auth ignored", "Authorization", "Basic dXNlcg==", ""},
		{"no headers", "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			if got := ExtractKey(req); got != tt.expected {
				t.Errorf("ExtractKey() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestSecureCompare(t *testing.T) {
	if !SecureCompare("same", "same") {
		t.Error("Equal strings should compare true")
	}
	if SecureCompare("same", "different") {
		t.Error("Different strings should compare false")
	}
	if SecureCompare("same", "samelonger") {
		t.Error("Different length strings should compare false")
	}
}
