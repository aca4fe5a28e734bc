package auth

import (
	"errors"
	"testing"
)

func TestHashPasswordIsSalted(t *testing.T) {
	h1, err := HashPassword("tutor-pass-123")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	h2, err := HashPassword("tutor-pass-123")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if h1 == h2 {
		t.Fatalf("expected different hashes for same password")
	}
}

func TestVerifyPassword(t *testing.T) {
	h, err := HashPassword("tutor-pass-123")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}

	if ok, err := VerifyPassword(h, "tutor-pass-123"); err != nil || !ok {
		t.Fatalf("expected password to verify, ok=%v err=%v", ok, err)
	}
	if ok, err := VerifyPassword(h, "wrong"); err != nil || ok {
		t.Fatalf("expected wrong password to fail, ok=%v err=%v", ok, err)
	}
	if NeedsRehash(h) {
		t.Fatalf("fresh hash should not need a rehash")
	}
}

func TestVerifyPasswordMalformed(t *testing.T) {
	for _, h := range []string{"", "plain", "$argon2i$v=19$m=1,t=1,p=1$c2FsdA$a2V5", "$argon2id$v=18$m=1,t=1,p=1$c2FsdA$a2V5", "$argon2id$v=19$m=x$c2FsdA$a2V5"} {
		if _, err := VerifyPassword(h, "x"); !errors.Is(err, ErrMalformedHash) {
			t.Fatalf("expected ErrMalformedHash for %q, got %v", h, err)
		}
	}
}

func TestNeedsRehashWeakParams(t *testing.T) {
	weak, err := hashWith("pw", hashParams{memory: 1024, time: 1, threads: 1, saltLen: 8, keyLen: 16})
	if err != nil {
		t.Fatalf("hashWith: %v", err)
	}
	if !NeedsRehash(weak) {
		t.Fatalf("expected weak hash to need rehash")
	}
	if ok, _ := VerifyPassword(weak, "pw"); !ok {
		t.Fatalf("weak hash must still verify")
	}
}
