// Package transport implements the secure HTTP channel described in spec
// §4.6: envelope in, envelope out, network retry/backoff, cookie jar, and
// server error classification. Adapters never retry; all network-level
// retry lives here.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/Ap3pp3rs94/vehiclecore/internal/envelope"
	"github.com/Ap3pp3rs94/vehiclecore/internal/session"
	verrors "github.com/Ap3pp3rs94/vehiclecore/pkg/errors"
	"github.com/Ap3pp3rs94/vehiclecore/pkg/telemetry"
)

// DefaultUserAgent matches the vendor app's HTTP client fingerprint.
const DefaultUserAgent = "okhttp/4.12.0"

// Options configures a Transport instance.
type Options struct {
	BaseURL     string
	UserAgent   string
	HTTPTimeout time.Duration
}

func (o *Options) setDefaults() {
	if o.UserAgent == "" {
		o.UserAgent = DefaultUserAgent
	}
	if o.HTTPTimeout <= 0 {
		o.HTTPTimeout = 30 * time.Second
	}
}

// Transport is the single HTTP channel a core instance uses for every
// request/response call. It owns one cookie jar for its lifetime.
type Transport struct {
	opts     Options
	client   *http.Client
	codec    *envelope.Codec
	sessions *session.Holder
	log      *telemetry.Logger
	meter    telemetry.Meter
	retry    retryPolicy
}

// New builds a Transport. codec and sessions are injected per spec §2
// ("C5 is injected into C4 and C7" — the transport shares the same
// session holder so it can fetch content/sign keys and invalidate on
// SessionExpired). meter may be nil; request latency is then recorded
// against telemetry.NopMeterInstance.
func New(opts Options, codec *envelope.Codec, sessions *session.Holder, log *telemetry.Logger, meter telemetry.Meter) (*Transport, error) {
	opts.setDefaults()
	if strings.TrimSpace(opts.BaseURL) == "" {
		return nil, fmt.Errorf("transport: base url required")
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("transport: cookie jar: %w", err)
	}
	if log == nil {
		log = telemetry.Nop
	}
	return &Transport{
		opts: opts,
		client: &http.Client{
			Jar:     jar,
			Timeout: opts.HTTPTimeout,
		},
		codec:    codec,
		sessions: sessions,
		log:      log,
		meter:    meter,
		retry:    defaultRetryPolicy(),
	}, nil
}

// ErrSessionRequired is returned when a call needs an active session and
// none is present.
var ErrSessionRequired = fmt.Errorf("transport: %s", "session required")

// Login posts a request signed with the caller-supplied key material
// instead of the session's (there is no session yet).
func (t *Transport) Login(ctx context.Context, path, username string, innerExtras map[string]any, keys envelope.KeyMaterial) (envelope.Parsed, error) {
	return t.post(ctx, path, username, innerExtras, keys)
}

// PostSecure posts an authenticated request using the current session's
// identifiers and keys. Returns ErrSessionRequired if no session exists.
func (t *Transport) PostSecure(ctx context.Context, path string, innerExtras map[string]any) (envelope.Parsed, error) {
	sess, err := t.sessions.Get()
	if err != nil {
		return envelope.Parsed{}, ErrSessionRequired
	}
	keys := envelope.KeyMaterial{InnerKey: sess.ContentKey, SignKey: sess.SignKey}
	return t.post(ctx, path, sess.UserID, innerExtras, keys)
}

func (t *Transport) post(ctx context.Context, path, identifier string, innerExtras map[string]any, keys envelope.KeyMaterial) (envelope.Parsed, error) {
	wire, err := t.codec.BuildRequest(identifier, innerExtras, keys)
	if err != nil {
		return envelope.Parsed{}, fmt.Errorf("transport: build request: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= t.retry.MaxAttempts; attempt++ {
		parsed, err := t.doOnce(ctx, path, wire, keys)
		if err == nil {
			if parsed.Code != codeSuccess {
				apiErr := NewAPIError(path, parsed.Code, parsed.Message)
				if apiErr.Class == verrors.VehicleSessionExpired {
					t.sessions.Invalidate()
				}
				return parsed, apiErr
			}
			return parsed, nil
		}
		if !isNetworkError(err) {
			return envelope.Parsed{}, err
		}
		lastErr = err
		if attempt == t.retry.MaxAttempts {
			break
		}
		t.log.Warn(ctx, "transport: network error, retrying", map[string]any{
			"endpoint": path, "attempt": attempt, "error": err.Error(),
		})
		delay, ok := t.retry.next(path+identifier, attempt)
		if !ok {
			break
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return envelope.Parsed{}, ctx.Err()
		case <-timer.C:
		}
	}
	return envelope.Parsed{}, fmt.Errorf("transport: %s: network error after retries: %w", path, lastErr)
}

func (t *Transport) doOnce(ctx context.Context, path, wireBody string, keys envelope.KeyMaterial) (envelope.Parsed, error) {
	start := time.Now()
	parsed, err := t.doOnceUntimed(ctx, path, wireBody, keys)
	t.recordLatency(ctx, path, time.Since(start), err)
	return parsed, err
}

func (t *Transport) doOnceUntimed(ctx context.Context, path, wireBody string, keys envelope.KeyMaterial) (envelope.Parsed, error) {
	url := strings.TrimRight(t.opts.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader([]byte(wireBody)))
	if err != nil {
		return envelope.Parsed{}, fmt.Errorf("transport: build http request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	req.Header.Set("User-Agent", t.opts.UserAgent)
	req.Header.Set("Accept-Encoding", "identity")

	resp, err := t.client.Do(req)
	if err != nil {
		return envelope.Parsed{}, &networkError{err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return envelope.Parsed{}, &networkError{err: err}
	}
	return t.codec.ParseResponse(body, keys.InnerKey)
}

func (t *Transport) recordLatency(ctx context.Context, path string, elapsed time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	labels := telemetry.Labels{"endpoint": path, "outcome": outcome}
	_ = telemetry.ObserveHistogram(t.meter, ctx, "vehiclecore_transport_request_duration_seconds",
		elapsed.Seconds(), telemetry.DefaultHistogramBuckets(), labels)
}

// networkError marks a low-level I/O failure so the caller knows whether
// to retry (C6) rather than surface (C4/C9 errors).
type networkError struct{ err error }

func (n *networkError) Error() string { return fmt.Sprintf("transport: network error: %v", n.err) }
func (n *networkError) Unwrap() error { return n.err }

func isNetworkError(err error) bool {
	_, ok := err.(*networkError)
	return ok
}
