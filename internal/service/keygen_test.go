package service

import (
	"strings"
	"testing"

	"github.com/kohaku-project/kohaku/internal/apperr"
)

func TestGenerateKeyFormat(t *testing.T) {
	full, prefix, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if len(full) != 42 {
		t.Errorf("key length = %d, want 42", len(full))
	}
	if len(prefix) != 10 {
		t.Errorf("prefix length = %d, want 10", len(prefix))
	}
	if !strings.HasPrefix(prefix, "khk_") {
		t.Errorf("prefix = %q, want khk_ tag", prefix)
	}
	if !strings.HasPrefix(full, prefix+"_") {
		t.Errorf("key %q does not start with prefix %q", full, prefix)
	}

	got, err := SplitKey(full)
	if err != nil {
		t.Fatalf("SplitKey: %v", err)
	}
	if got != prefix {
		t.Errorf("SplitKey = %q, want %q", got, prefix)
	}
}

func TestGenerateKeyUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 32; i++ {
		full, _, err := GenerateKey()
		if err != nil {
			t.Fatalf("GenerateKey: %v", err)
		}
		if seen[full] {
			t.Fatalf("duplicate key generated: %q", full)
		}
		seen[full] = true
	}
}

func TestSplitKeyMalformed(t *testing.T) {
	for _, key := range []string{"", "khk", "khk_abcdef", "khk_ab_cd_ef", "no separators here"} {
		_, err := SplitKey(key)
		if apperr.KindOf(err) != apperr.ValidationError {
			t.Errorf("SplitKey(%q) kind = %s, want ValidationError", key, apperr.KindOf(err))
		}
	}
}

func TestHashKeyRoundtrip(t *testing.T) {
	full, _, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	hash, err := HashKey(full)
	if err != nil {
		t.Fatalf("HashKey: %v", err)
	}
	if strings.Contains(hash, full) {
		t.Fatal("hash contains the plaintext key")
	}

	ok, err := VerifyKey(full, hash)
	if err != nil {
		t.Fatalf("VerifyKey: %v", err)
	}
	if !ok {
		t.Error("correct key did not verify")
	}

	ok, err = VerifyKey(full[:41]+"X", hash)
	if err != nil {
		t.Fatalf("VerifyKey (wrong key): %v", err)
	}
	if ok {
		t.Error("wrong key verified")
	}
}

func TestHashKeySalted(t *testing.T) {
	h1, err := HashKey("same-input")
	if err != nil {
		t.Fatalf("HashKey: %v", err)
	}
	h2, err := HashKey("same-input")
	if err != nil {
		t.Fatalf("HashKey: %v", err)
	}
	if h1 == h2 {
		t.Error("two hashes of the same key are equal; salt is not random")
	}
}

func TestVerifyKeyMalformedHash(t *testing.T) {
	for _, h := range []string{"", "plain", "$bcrypt$whatever", "$argon2id$v=19$m=bad$x$y"} {
		_, err := VerifyKey("key", h)
		if apperr.KindOf(err) != apperr.AuthenticationError {
			t.Errorf("VerifyKey(%q) kind = %s, want AuthenticationError", h, apperr.KindOf(err))
		}
	}
}
