package auth

import (
	"strings"
	"testing"
)

func TestGenerateKey(t *testing.T) {
	for _, env := range []string{"admin", "dev"} {
		key, err := GenerateKey(env)
		if err != nil {
			t.Fatalf("GenerateKey(%q) failed: %v", env, err)
		}
		prefix := "aegis-" + env + "-"
		if !strings.HasPrefix(key, prefix) {
			t.Errorf("key should start with %q, got: %s", prefix, key)
		}
		if len(key) != len(prefix)+32 {
			t.Errorf("expected %d random chars, got key %s", 32, key)
		}
	}

	a, _ := GenerateKey("admin")
	b, _ := GenerateKey("admin")
	if a == b {
		t.Error("two generated keys should not be identical")
	}
}

func TestHashKey(t *testing.T) {
	key := "aegis-admin-abcdefghijklmnopqrstuvwxyz012345"
	hash := HashKey(key)
	if len(hash) != 64 {
		t.Errorf("expected hash length 64, got %d", len(hash))
	}
	if hash != HashKey(key) {
		t.Error("same key should produce same hash")
	}
	if hash == HashKey("aegis-admin-different") {
		t.Error("different keys should produce different hashes")
	}
}

func TestMatches(t *testing.T) {
	tests := []struct {
		presented, expected string
		want                bool
	}{
		{"secret", "secret", true},
		{"secret", "Secret", false},
		{"secret-longer", "secret", false},
		{"", "secret", false},
	}
	for _, tt := range tests {
		if got := Matches(tt.presented, tt.expected); got != tt.want {
			t.Errorf("Matches(%q, %q) = %v, want %v", tt.presented, tt.expected, got, tt.want)
		}
	}
}

func TestKeyPrefix(t *testing.T) {
	tests := []struct {
		key      string
		expected string
	}{
		{"aegis-admin-abcdefghijklmnopqrstuvwxyz012345", "aegis-admin-abcdefgh"},
		{"aegis-dev-12345678901234567890123456789012", "aegis-dev-12345678"},
		{"short", "short"},
		{"nodashesatallinthisone", "nodashesatallint"},
	}
	for _, tt := range tests {
		if got := KeyPrefix(tt.key); got != tt.expected {
			t.Errorf("KeyPrefix(%q) = %q, want %q", tt.key, got, tt.expected)
		}
	}
}
