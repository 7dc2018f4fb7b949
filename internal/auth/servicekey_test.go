package auth

import (
	"strings"
	"testing"
)

func TestHashServiceKey(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "typical key", input: "svc-key-123"},
		{name: "special characters", input: "!@#$%^&*()_+-={}[]|\\:;\"'<>?,./"},
		{name: "too long for bcrypt", input: strings.Repeat("k", 100), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := HashServiceKey(tt.input)

			if tt.wantErr {
				if err == nil {
					t.Errorf("HashServiceKey() expected error but got none")
				}
				return
			}

			if err != nil {
				t.Fatalf("HashServiceKey() unexpected error: %v", err)
			}
			if hash == tt.input {
				t.Errorf("HashServiceKey() hash should differ from the key")
			}
			if !strings.HasPrefix(hash, "$2a$") && !strings.HasPrefix(hash, "$2b$") {
				t.Errorf("HashServiceKey() hash should have bcrypt prefix, got: %s", hash)
			}
		})
	}
}

func TestVerifyServiceKey(t *testing.T) {
	key := "svc-key-123"
	hash, err := HashServiceKey(key)
	if err != nil {
		t.Fatalf("Failed to hash key: %v", err)
	}

	tests := []struct {
		name     string
		key      string
		hash     string
		expected bool
	}{
		{name: "correct key", key: key, hash: hash, expected: true},
		{name: "wrong key", key: "other", hash: hash, expected: false},
		{name: "empty key", key: "", hash: hash, expected: false},
		{name: "empty hash", key: key, hash: "", expected: false},
		{name: "invalid hash format", key: key, hash: "not-a-hash", expected: false},
		{name: "case sensitive", key: strings.ToUpper(key), hash: hash, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifyServiceKey(tt.key, tt.hash); got != tt.expected {
				t.Errorf("VerifyServiceKey() = %v, expected %v", got, tt.expected)
			}
		})
	}
}

func TestHashServiceKey_Salted(t *testing.T) {
	h1, err := HashServiceKey("same")
	if err != nil {
		t.Fatal(err)
	}
	h2, err := HashServiceKey("same")
	if err != nil {
		t.Fatal(err)
	}
	if h1 == h2 {
		t.Errorf("hashes of the same key should differ due to salt")
	}
}
