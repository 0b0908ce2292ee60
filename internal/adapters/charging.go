package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Ap3pp3rs94/vehiclecore/internal/state"
)

const chargingPath = "control/smartCharge/homePage"

// FetchCharging drives control/smartCharge/homePage, a single-shot
// charging summary (charge state, current/voltage, time-to-full), and
// applies it to the charging section. fullHour/fullMinute's -1
// "unavailable" sentinel is handled generically by normalizeAll.
func FetchCharging(ctx context.Context, caller Caller, store *state.Store, vin string) error {
	parsed, err := caller.PostSecure(ctx, chargingPath, map[string]any{"vin": vin})
	if err != nil {
		return err
	}
	if len(parsed.RespondData) == 0 {
		return nil
	}
	var body map[string]any
	if err := json.Unmarshal(parsed.RespondData, &body); err != nil {
		return fmt.Errorf("adapters: charging: parse response: %w", err)
	}
	store.Apply(state.Event{
		VIN: vin, Section: state.SectionCharging, Origin: state.OriginREST,
		ObservedAt: time.Now().UnixMilli(), Fields: normalizeAll(body),
	})
	return nil
}
