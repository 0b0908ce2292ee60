package innercrypto

import (
	"bytes"
	"strings"
	"testing"
)

func TestRoundTripPasswordKey(t *testing.T) {
	key := KeyFromPassword("s3cr3t")
	plaintexts := [][]byte{
		[]byte(""),
		[]byte("a"),
		[]byte(`{"vin":"LGXC64DD6P0000001","random":"0123456789abcdef0123456789abcdef"}`),
		bytes.Repeat([]byte{0x42}, 64),
	}
	for _, pt := range plaintexts {
		ct, err := Encrypt(key, pt)
		if err != nil {
			t.Fatalf("Encrypt: %v", err)
		}
		if ct != strings.ToUpper(ct) {
			t.Fatalf("ciphertext not upper hex: %s", ct)
		}
		got, err := Decrypt(key, ct)
		if err != nil {
			t.Fatalf("Decrypt: %v", err)
		}
		if !bytes.Equal(got, pt) {
			t.Fatalf("round trip mismatch: want %q got %q", pt, got)
		}
	}
}

func TestKeyFromEncryTokenDeterministic(t *testing.T) {
	a := KeyFromEncryToken("tok-1")
	b := KeyFromEncryToken("tok-1")
	if a != b {
		t.Fatal("expected deterministic key derivation")
	}
	c := KeyFromEncryToken("tok-2")
	if a == c {
		t.Fatal("expected different tokens to derive different keys")
	}
}

func TestDecryptRejectsEmpty(t *testing.T) {
	key := KeyFromPassword("x")
	if _, err := Decrypt(key, ""); err != ErrEmptyInput {
		t.Fatalf("expected ErrEmptyInput, got %v", err)
	}
}

func TestDecryptLowerHexAccepted(t *testing.T) {
	key := KeyFromPassword("x")
	ct, _ := Encrypt(key, []byte("payload"))
	got, err := Decrypt(key, strings.ToLower(ct))
	if err != nil {
		t.Fatalf("Decrypt lower hex: %v", err)
	}
	if string(got) != "payload" {
		t.Fatalf("unexpected value: %s", got)
	}
}
