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
	realtimeTriggerPath = "vehicleRealTimeRequest"
	realtimeResultPath  = "vehicleRealTimeResult"
)

// ErrRealtimeUnresolved is returned when every poll attempt still
// reports onlineState=0 (stale), the boundary case spec.md §8 names:
// "poll exhausts and returns unresolved".
var ErrRealtimeUnresolved = errors.New("adapters: realtime poll exhausted without a fresh reading")

func triggerRealtime(ctx context.Context, caller Caller, vin string) (string, error) {
	parsed, err := caller.PostSecure(ctx, realtimeTriggerPath, map[string]any{"vin": vin})
	if err != nil {
		return "", err
	}
	var body map[string]any
	if len(parsed.RespondData) > 0 {
		if err := json.Unmarshal(parsed.RespondData, &body); err != nil {
			return "", fmt.Errorf("adapters: realtime trigger: parse response: %w", err)
		}
	}
	serial := stringBody(body, "requestSerial")
	if serial == "" {
		return "", fmt.Errorf("adapters: realtime trigger: missing requestSerial")
	}
	return serial, nil
}

func pollRealtimeOnce(ctx context.Context, caller Caller, vin, requestSerial string) (map[string]any, error) {
	parsed, err := caller.PostSecure(ctx, realtimeResultPath, map[string]any{"vin": vin, "requestSerial": requestSerial})
	if err != nil {
		return nil, err
	}
	var body map[string]any
	if len(parsed.RespondData) > 0 {
		if err := json.Unmarshal(parsed.RespondData, &body); err != nil {
			return nil, fmt.Errorf("adapters: realtime poll: parse response: %w", err)
		}
	}
	return body, nil
}

// FetchRealtime drives the vehicleRealTimeRequest/Result trigger+poll
// pair (spec.md §8 scenario 2) and, once onlineState=1 is observed,
// applies the reading to the realtime section as one state.Event.
// A run that never sees onlineState=1 returns ErrRealtimeUnresolved;
// the caller still has whatever the store already held.
func FetchRealtime(ctx context.Context, caller Caller, store *state.Store, vin string, attempts int, interval time.Duration) error {
	if attempts <= 0 {
		attempts = 1
	}
	serial, err := triggerRealtime(ctx, caller, vin)
	if err != nil {
		return err
	}

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if !sleepCtx(ctx, interval) {
				return ctx.Err()
			}
		}
		body, err := pollRealtimeOnce(ctx, caller, vin, serial)
		if err != nil {
			return err
		}
		online, _ := intBody(body, "onlineState")
		if online != 1 {
			continue
		}

		observedAt := time.Now().UnixMilli()
		if secs, ok := intBody(body, "time"); ok {
			observedAt = time.Unix(int64(secs), 0).UnixMilli()
		}
		normalized := normalizeAll(body)
		delete(normalized, "onlineState")
		delete(normalized, "requestSerial")
		delete(normalized, "time")
		store.Apply(state.Event{
			VIN: vin, Section: state.SectionRealtime, Origin: state.OriginREST,
			ObservedAt: observedAt, Fields: normalized,
		})
		return nil
	}
	return ErrRealtimeUnresolved
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
