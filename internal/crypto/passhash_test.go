package crypto

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestRandBytes_LengthAndUniqueness(t *testing.T) {
	t.Parallel()

	const n = 64
	a, err := RandBytes(n)
	if err != nil {
		t.Fatalf("RandBytes: %v", err)
	}
	if len(a) != n {
		t.Fatalf("len=%d, want=%d", len(a), n)
	}
	b, err := RandBytes(n)
	if err != nil {
		t.Fatalf("RandBytes(2): %v", err)
	}
	if bytes.Equal(a, b) {
		t.Fatalf("two subsequent RandBytes(%d) are equal", n)
	}
}

func TestHashSecret_DeterministicOnSameInput(t *testing.T) {
	t.Parallel()

	secret := []byte("s3cret")
	salt := []byte("NaCl-16-bytes?")

	h1 := HashSecret(secret, salt)
	if !bytes.Equal(h1, HashSecret(secret, salt)) {
		t.Fatalf("hash not deterministic for same input")
	}
	if bytes.Equal(h1, HashSecret(secret, []byte("another-salt----"))) {
		t.Fatalf("hash should differ when salt differs")
	}
	if bytes.Equal(h1, HashSecret([]byte("s3cret!"), salt)) {
		t.Fatalf("hash should differ when secret differs")
	}
}

func TestVerifySecret(t *testing.T) {
	t.Parallel()

	secret := []byte("correct horse battery staple")
	salt := []byte("salty-salt-123456")
	hash := HashSecret(secret, salt)

	if !VerifySecret(secret, salt, hash) {
		t.Fatalf("expected true for correct secret")
	}
	if VerifySecret([]byte("wrong"), salt, hash) {
		t.Fatalf("expected false for wrong secret")
	}
	if VerifySecret(secret, []byte("wrong-salt"), hash) {
		t.Fatalf("expected false for wrong salt")
	}
	if VerifySecret(nil, salt, hash) {
		t.Fatalf("expected false for empty secret")
	}
}

func TestNewKey_RoundTripsThroughParse(t *testing.T) {
	t.Parallel()

	g, err := NewKey()
	if err != nil {
		t.Fatalf("NewKey: %v", err)
	}
	if !strings.HasPrefix(g.Plain, g.ID.String()+".") {
		t.Fatalf("plain key %q does not start with id", g.Plain)
	}
	id, secret, err := ParseKey(g.Plain)
	if err != nil {
		t.Fatalf("ParseKey: %v", err)
	}
	if id != g.ID || !VerifySecret(secret, g.Salt, g.Hash) {
		t.Fatalf("parsed key does not verify")
	}
}

func TestParseKey_Malformed(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "abc", "not-a-uuid.secret", "6ba7b810-9dad-11d1-80b4-00c04fd430c8."} {
		if _, _, err := ParseKey(in); !errors.Is(err, ErrMalformedKey) {
			t.Fatalf("ParseKey(%q): want ErrMalformedKey, got %v", in, err)
		}
	}
}

func TestHashPassword_RoundTrip(t *testing.T) {
	t.Parallel()

	salt, hash, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if len(salt) != saltLen {
		t.Fatalf("salt len=%d, want=%d", len(salt), saltLen)
	}
	if !VerifyPassword("correct horse", salt, hash) {
		t.Fatalf("VerifyPassword rejected the right password")
	}
	if VerifyPassword("battery staple", salt, hash) {
		t.Fatalf("VerifyPassword accepted a wrong password")
	}
	if VerifyPassword("", salt, hash) {
		t.Fatalf("VerifyPassword accepted an empty password")
	}
	if VerifyPassword("correct horse", salt, nil) {
		t.Fatalf("VerifyPassword accepted an account without a password")
	}

	salt2, _, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("HashPassword(2): %v", err)
	}
	if bytes.Equal(salt, salt2) {
		t.Fatalf("two passwords got the same salt")
	}
}
