package signer

import "testing"

func TestSignDeterministicAndShape(t *testing.T) {
	inner := map[string]string{
		"vin":     "LGXC64DD6P0000001",
		"version": "1.0",
	}
	outer := OuterIdentifiers{
		CountryCode:  "1",
		Identifier:   "1434",
		ImeiMD5:      "abc123",
		Language:     "en",
		ReqTimestamp: "1770817900000",
	}
	signKey := SignKeyFromToken("S")

	a := Sign(inner, outer, signKey)
	b := Sign(inner, outer, signKey)
	if a != b {
		t.Fatal("expected deterministic signature")
	}
	if len(a) != 40 {
		t.Fatalf("expected 40 hex chars, got %d (%s)", len(a), a)
	}
	for _, r := range a {
		if !((r >= '0' && r <= '9') || (r >= 'A' && r <= 'F')) {
			t.Fatalf("expected upper hex, got %q in %s", r, a)
		}
	}
}

func TestSignChangesWithInput(t *testing.T) {
	outer := OuterIdentifiers{CountryCode: "1", Identifier: "1434", ImeiMD5: "x", Language: "en", ReqTimestamp: "1"}
	a := Sign(map[string]string{"vin": "A"}, outer, "k")
	b := Sign(map[string]string{"vin": "B"}, outer, "k")
	if a == b {
		t.Fatal("expected signature to change with inner payload")
	}
}

func TestCheckcodeDeterministicAndShape(t *testing.T) {
	in := CheckcodeInputs{
		Identifier:   "1434",
		ImeiMD5:      "abc123",
		ReqTimestamp: "1770817900000",
		ServiceTime:  "1770817900000",
		SignKey:      "deadbeef",
	}
	a := Checkcode(in)
	b := Checkcode(in)
	if a != b {
		t.Fatal("expected deterministic checkcode")
	}
	if len(a) != 32 {
		t.Fatalf("expected 32 hex chars (MD5), got %d", len(a))
	}
}

func TestSignKeyFromTokenDeterministic(t *testing.T) {
	a := SignKeyFromToken("S")
	b := SignKeyFromToken("S")
	if a != b {
		t.Fatal("expected deterministic sign key derivation")
	}
	if len(a) != 32 {
		t.Fatalf("expected 32 hex chars, got %d", len(a))
	}
}
