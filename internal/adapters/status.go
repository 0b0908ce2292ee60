package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Ap3pp3rs94/vehiclecore/internal/state"
)

const statusPath = "control/getStatusNow"

// FetchStatus drives control/getStatusNow, a single-shot (no
// trigger/poll) snapshot of the vehicle's current door/lock/climate
// status, and applies it to the realtime section.
func FetchStatus(ctx context.Context, caller Caller, store *state.Store, vin string) error {
	parsed, err := caller.PostSecure(ctx, statusPath, map[string]any{"vin": vin})
	if err != nil {
		return err
	}
	if len(parsed.RespondData) == 0 {
		return nil
	}
	var body map[string]any
	if err := json.Unmarshal(parsed.RespondData, &body); err != nil {
		return fmt.Errorf("adapters: status: parse response: %w", err)
	}
	store.Apply(state.Event{
		VIN: vin, Section: state.SectionRealtime, Origin: state.OriginREST,
		ObservedAt: time.Now().UnixMilli(), Fields: normalizeAll(body),
	})
	return nil
}
