package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Ap3pp3rs94/vehiclecore/internal/state"
)

const (
	gpsTriggerPath = "control/getGpsInfo"
	gpsResultPath  = "control/getGpsInfoResult"
)

// ErrGPSUnresolved mirrors ErrRealtimeUnresolved for the GPS trigger/poll
// pair: every poll attempt came back without a fix.
var ErrGPSUnresolved = errors.New("adapters: gps poll exhausted without a fix")

func triggerGPS(ctx context.Context, caller Caller, vin string) (string, error) {
	parsed, err := caller.PostSecure(ctx, gpsTriggerPath, map[string]any{"vin": vin})
	if err != nil {
		return "", err
	}
	var body map[string]any
	if len(parsed.RespondData) > 0 {
		if err := json.Unmarshal(parsed.RespondData, &body); err != nil {
			return "", fmt.Errorf("adapters: gps trigger: parse response: %w", err)
		}
	}
	serial := stringBody(body, "requestSerial")
	if serial == "" {
		return "", fmt.Errorf("adapters: gps trigger: missing requestSerial")
	}
	return serial, nil
}

func pollGPSOnce(ctx context.Context, caller Caller, vin, requestSerial string) (map[string]any, error) {
	parsed, err := caller.PostSecure(ctx, gpsResultPath, map[string]any{"vin": vin, "requestSerial": requestSerial})
	if err != nil {
		return nil, err
	}
	var body map[string]any
	if len(parsed.RespondData) > 0 {
		if err := json.Unmarshal(parsed.RespondData, &body); err != nil {
			return nil, fmt.Errorf("adapters: gps poll: parse response: %w", err)
		}
	}
	return body, nil
}

// FetchGPS drives control/getGpsInfo/getGpsInfoResult, the same
// trigger-then-poll shape FetchRealtime uses, distinguishing a fix from
// "not yet available" via presence of a lat/lng pair rather than an
// onlineState flag (the vendor does not report one on this endpoint).
func FetchGPS(ctx context.Context, caller Caller, store *state.Store, vin string, attempts int, interval time.Duration) error {
	if attempts <= 0 {
		attempts = 1
	}
	serial, err := triggerGPS(ctx, caller, vin)
	if err != nil {
		return err
	}

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if !sleepCtx(ctx, interval) {
				return ctx.Err()
			}
		}
		body, err := pollGPSOnce(ctx, caller, vin, serial)
		if err != nil {
			return err
		}
		_, hasLat := body["lat"]
		_, hasLng := body["lng"]
		if !hasLat || !hasLng {
			continue
		}

		observedAt := time.Now().UnixMilli()
		if secs, ok := intBody(body, "time"); ok {
			observedAt = time.Unix(int64(secs), 0).UnixMilli()
		}
		normalized := normalizeAll(body)
		delete(normalized, "requestSerial")
		delete(normalized, "time")
		store.Apply(state.Event{
			VIN: vin, Section: state.SectionGPS, Origin: state.OriginREST,
			ObservedAt: observedAt, Fields: normalized,
		})
		return nil
	}
	return ErrGPSUnresolved
}
