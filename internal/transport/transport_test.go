package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Ap3pp3rs94/vehiclecore/internal/envelope"
	"github.com/Ap3pp3rs94/vehiclecore/internal/faketransport"
	"github.com/Ap3pp3rs94/vehiclecore/internal/innercrypto"
	"github.com/Ap3pp3rs94/vehiclecore/internal/session"
)

func testIdentity() envelope.Identity {
	return envelope.Identity{
		CountryCode: "1",
		Language:    "en",
		OSType:      "android",
		NetworkType: "wifi",
		DeviceType:  "1",
		AppVersion:  "3.2.1",
		Device: envelope.DeviceIdentity{
			IMEI:  "123456789012345",
			MAC:   "AA:BB:CC:DD:EE:FF",
			Model: "Pixel",
			SDK:   "33",
			Mod:   "android",
		},
	}
}

func newTestTransport(t *testing.T, baseURL string) (*Transport, *session.Holder) {
	t.Helper()
	codec, err := envelope.NewCodec(testIdentity())
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	sessions := session.NewHolder()
	tr, err := New(Options{BaseURL: baseURL, HTTPTimeout: 2 * time.Second}, codec, sessions, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return tr, sessions
}

func TestLoginSuccess(t *testing.T) {
	srv, err := faketransport.New()
	if err != nil {
		t.Fatalf("faketransport.New: %v", err)
	}
	defer srv.Close()

	loginKey := innercrypto.KeyFromPassword("hunter2")
	srv.KeyFor = func(identifier string) [16]byte { return loginKey }
	srv.Handle("account/login", func(inner map[string]any) (int, string, any) {
		return 0, "ok", map[string]any{"userId": "u1", "signToken": "tok", "encryToken": "enc"}
	})

	tr, _ := newTestTransport(t, srv.URL())
	keys := envelope.KeyMaterial{InnerKey: loginKey, SignKey: "deadbeef"}

	parsed, err := tr.Login(context.Background(), "account/login", "driver@example.com", nil, keys)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if parsed.Code != 0 {
		t.Fatalf("expected code 0, got %d", parsed.Code)
	}
	var data map[string]any
	if err := json.Unmarshal(parsed.RespondData, &data); err != nil {
		t.Fatalf("decode respondData: %v", err)
	}
	if data["userId"] != "u1" {
		t.Fatalf("unexpected userId: %v", data["userId"])
	}
}

func TestPostSecureRequiresSession(t *testing.T) {
	tr, _ := newTestTransport(t, "http://127.0.0.1:1")
	_, err := tr.PostSecure(context.Background(), "vehicle/status", nil)
	if err != ErrSessionRequired {
		t.Fatalf("expected ErrSessionRequired, got %v", err)
	}
}

func TestPostSecureRoundTrip(t *testing.T) {
	srv, err := faketransport.New()
	if err != nil {
		t.Fatalf("faketransport.New: %v", err)
	}
	defer srv.Close()

	contentKey := innercrypto.KeyFromEncryToken("enc-token")
	srv.KeyFor = func(identifier string) [16]byte { return contentKey }
	srv.Handle("vehicle/status", func(inner map[string]any) (int, string, any) {
		if inner["vin"] != "VIN123" {
			return 1, "missing vin", nil
		}
		return 0, "ok", map[string]any{"elecPercent": 71}
	})

	tr, sessions := newTestTransport(t, srv.URL())
	sessions.Replace(session.New("u1", "sign-token", "enc-token", time.Hour))

	parsed, err := tr.PostSecure(context.Background(), "vehicle/status", map[string]any{"vin": "VIN123"})
	if err != nil {
		t.Fatalf("PostSecure: %v", err)
	}
	var data map[string]any
	if err := json.Unmarshal(parsed.RespondData, &data); err != nil {
		t.Fatalf("decode respondData: %v", err)
	}
	if data["elecPercent"].(float64) != 71 {
		t.Fatalf("unexpected elecPercent: %v", data["elecPercent"])
	}
}

func TestPostSecureClassifiesServerError(t *testing.T) {
	srv, err := faketransport.New()
	if err != nil {
		t.Fatalf("faketransport.New: %v", err)
	}
	defer srv.Close()

	contentKey := innercrypto.KeyFromEncryToken("enc-token")
	srv.KeyFor = func(identifier string) [16]byte { return contentKey }
	srv.Handle("vehicle/control", func(inner map[string]any) (int, string, any) {
		return codeControlPasswordWrong, "wrong pin", nil
	})

	tr, sessions := newTestTransport(t, srv.URL())
	sessions.Replace(session.New("u1", "sign-token", "enc-token", time.Hour))

	_, err = tr.PostSecure(context.Background(), "vehicle/control", nil)
	if err == nil {
		t.Fatal("expected an APIError")
	}
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected *APIError, got %T: %v", err, err)
	}
	if apiErr.Code != codeControlPasswordWrong {
		t.Fatalf("unexpected code: %d", apiErr.Code)
	}
	if apiErr.Retryable() {
		t.Fatal("control password wrong should not be retryable")
	}
}

func TestPostSecureInvalidatesSessionOnExpiry(t *testing.T) {
	srv, err := faketransport.New()
	if err != nil {
		t.Fatalf("faketransport.New: %v", err)
	}
	defer srv.Close()

	contentKey := innercrypto.KeyFromEncryToken("enc-token")
	srv.KeyFor = func(identifier string) [16]byte { return contentKey }
	srv.Handle("vehicle/status", func(inner map[string]any) (int, string, any) {
		return SessionExpiredCode, "session expired", nil
	})

	tr, sessions := newTestTransport(t, srv.URL())
	sessions.Replace(session.New("u1", "sign-token", "enc-token", time.Hour))

	_, err = tr.PostSecure(context.Background(), "vehicle/status", nil)
	if err == nil {
		t.Fatal("expected an error")
	}
	if _, getErr := sessions.Get(); getErr != session.ErrAbsent {
		t.Fatalf("expected session to be invalidated, got err=%v", getErr)
	}
}

func TestPostSecureRetriesNetworkErrorsThenFails(t *testing.T) {
	// A server that is closed before the request: http.NewRequestWithContext
	// succeeds but Do fails, which should be retried up to MaxAttempts and
	// then surfaced as a network error.
	h := http.NewServeMux()
	srv := httptest.NewServer(h)
	srv.Close() // immediately closed: every dial fails

	tr, sessions := newTestTransport(t, srv.URL)
	tr.retry = retryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond, Multiplier: 2, JitterPct: 0}
	sessions.Replace(session.New("u1", "sign-token", "enc-token", time.Hour))

	start := time.Now()
	_, err := tr.PostSecure(context.Background(), "vehicle/status", nil)
	if err == nil {
		t.Fatal("expected a network error after retries")
	}
	if elapsed := time.Since(start); elapsed <= 0 {
		t.Fatalf("expected retries to take non-zero time, got %v", elapsed)
	}
}

func TestPostSecureContextCancellationDuringBackoff(t *testing.T) {
	h := http.NewServeMux()
	srv := httptest.NewServer(h)
	srv.Close()

	tr, sessions := newTestTransport(t, srv.URL)
	tr.retry = retryPolicy{MaxAttempts: 3, BaseDelay: time.Second, Multiplier: 2, JitterPct: 0}
	sessions.Replace(session.New("u1", "sign-token", "enc-token", time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := tr.PostSecure(ctx, "vehicle/status", nil)
	if err != context.DeadlineExceeded {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
}
