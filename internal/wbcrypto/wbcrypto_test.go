package wbcrypto

import (
	"bytes"
	"testing"
)

func TestRoundTripVariousLengths(t *testing.T) {
	c, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	lengths := []int{0, 1, 15, 16, 17, 31, 32, 100, 257}
	for _, n := range lengths {
		in := bytes.Repeat([]byte{0xAB}, n)
		ct, err := c.Encode(in)
		if err != nil {
			t.Fatalf("Encode(len=%d): %v", n, err)
		}
		if len(ct)%16 != 0 {
			t.Fatalf("ciphertext not block aligned for len=%d", n)
		}
		pt, err := c.Decode(ct)
		if err != nil {
			t.Fatalf("Decode(len=%d): %v", n, err)
		}
		if !bytes.Equal(pt, in) {
			t.Fatalf("round trip mismatch at len=%d", n)
		}
	}
}

func TestDecodeRejectsBadPadding(t *testing.T) {
	c, _ := New()
	ct, _ := c.Encode([]byte("hello world"))
	ct[len(ct)-1] ^= 0xFF
	if _, err := c.Decode(ct); err == nil {
		t.Fatal("expected padding error")
	}
}

func TestDecodeRejectsNonBlockSized(t *testing.T) {
	c, _ := New()
	if _, err := c.Decode([]byte{1, 2, 3}); err != ErrNotBlockSized {
		t.Fatalf("expected ErrNotBlockSized, got %v", err)
	}
}

func TestWireRoundTrip(t *testing.T) {
	c, _ := New()
	text, err := c.EncodeWire([]byte(`{"hello":"world"}`))
	if err != nil {
		t.Fatalf("EncodeWire: %v", err)
	}
	out, err := c.DecodeWire(text)
	if err != nil {
		t.Fatalf("DecodeWire: %v", err)
	}
	if string(out) != `{"hello":"world"}` {
		t.Fatalf("unexpected roundtrip value: %s", out)
	}
}
