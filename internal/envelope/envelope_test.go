package envelope

import (
	"encoding/json"
	"testing"

	"github.com/Ap3pp3rs94/vehiclecore/internal/innercrypto"
	"github.com/Ap3pp3rs94/vehiclecore/internal/wbcrypto"
)

func testIdentity() Identity {
	return Identity{
		CountryCode: "1",
		Language:    "en",
		OSType:      "android",
		NetworkType: "wifi",
		DeviceType:  "1",
		AppVersion:  "3.2.1",
		Device: DeviceIdentity{
			IMEI:  "123456789012345",
			MAC:   "AA:BB:CC:DD:EE:FF",
			Model: "Pixel",
			SDK:   "33",
			Mod:   "android",
		},
	}
}

func TestBuildRequestRoundTripsThroughWhiteBox(t *testing.T) {
	codec, err := NewCodec(testIdentity())
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	key := innercrypto.KeyFromPassword("hunter2")
	keys := KeyMaterial{InnerKey: key, SignKey: "deadbeef"}

	wire, err := codec.BuildRequest("u@x", map[string]any{"vin": "VIN1"}, keys)
	if err != nil {
		t.Fatalf("BuildRequest: %v", err)
	}

	var req wireRequest
	if err := json.Unmarshal([]byte(wire), &req); err != nil {
		t.Fatalf("unmarshal wire: %v", err)
	}

	wb, _ := wbcrypto.New()
	plain, err := wb.DecodeWire(req.Request)
	if err != nil {
		t.Fatalf("DecodeWire: %v", err)
	}

	var outer Outer
	if err := json.Unmarshal(plain, &outer); err != nil {
		t.Fatalf("unmarshal outer: %v", err)
	}
	if outer.Identifier != "u@x" {
		t.Fatalf("unexpected identifier: %s", outer.Identifier)
	}
	if len(outer.Sign) != 40 {
		t.Fatalf("expected 40-char sign, got %d", len(outer.Sign))
	}
	if len(outer.Checkcode) != 32 {
		t.Fatalf("expected 32-char checkcode, got %d", len(outer.Checkcode))
	}

	innerJSON, err := innercrypto.Decrypt(key, outer.EncryData)
	if err != nil {
		t.Fatalf("decrypt inner: %v", err)
	}
	var inner map[string]any
	if err := json.Unmarshal(innerJSON, &inner); err != nil {
		t.Fatalf("unmarshal inner: %v", err)
	}
	if inner["vin"] != "VIN1" {
		t.Fatalf("expected vin extra to survive, got %v", inner["vin"])
	}
	if _, ok := inner["random"].(string); !ok {
		t.Fatal("expected random field in inner payload")
	}
}

func TestParseResponseSuccessWithRespondData(t *testing.T) {
	codec, _ := NewCodec(testIdentity())
	contentKey := innercrypto.KeyFromEncryToken("E")

	payload := map[string]any{"elecPercent": 70}
	payloadJSON, _ := json.Marshal(payload)
	encData, err := innercrypto.Encrypt(contentKey, payloadJSON)
	if err != nil {
		t.Fatalf("encrypt payload: %v", err)
	}

	ro := ResponseOuter{Code: 0, Message: "ok", RespondData: encData}
	roJSON, _ := json.Marshal(ro)
	wbText, err := codec.wb.EncodeWire(roJSON)
	if err != nil {
		t.Fatalf("EncodeWire: %v", err)
	}
	wireBody, _ := json.Marshal(wireResponse{Response: wbText})

	parsed, err := codec.ParseResponse(wireBody, contentKey)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if parsed.Code != 0 || parsed.Message != "ok" {
		t.Fatalf("unexpected parsed code/message: %+v", parsed)
	}
	var got map[string]any
	if err := json.Unmarshal(parsed.RespondData, &got); err != nil {
		t.Fatalf("unmarshal respondData: %v", err)
	}
	if got["elecPercent"].(float64) != 70 {
		t.Fatalf("unexpected elecPercent: %v", got["elecPercent"])
	}
}

func TestParseResponseEmptyRespondData(t *testing.T) {
	codec, _ := NewCodec(testIdentity())
	contentKey := innercrypto.KeyFromEncryToken("E")

	ro := ResponseOuter{Code: 0, Message: "ok"}
	roJSON, _ := json.Marshal(ro)
	wbText, _ := codec.wb.EncodeWire(roJSON)
	wireBody, _ := json.Marshal(wireResponse{Response: wbText})

	parsed, err := codec.ParseResponse(wireBody, contentKey)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if parsed.RespondData != nil {
		t.Fatalf("expected nil respondData, got %s", parsed.RespondData)
	}
}

func TestParseResponseMalformed(t *testing.T) {
	codec, _ := NewCodec(testIdentity())
	contentKey := innercrypto.KeyFromEncryToken("E")
	if _, err := codec.ParseResponse([]byte(`not json`), contentKey); err == nil {
		t.Fatal("expected error for malformed wire body")
	}
}
