package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Ap3pp3rs94/vehiclecore/internal/state"
)

const energyPath = "vehicleInfo/vehicle/getEnergyConsumption"

// FetchEnergy drives vehicleInfo/vehicle/getEnergyConsumption, a
// single-shot consumption/range summary, and applies it to the energy
// section.
func FetchEnergy(ctx context.Context, caller Caller, store *state.Store, vin string) error {
	parsed, err := caller.PostSecure(ctx, energyPath, map[string]any{"vin": vin})
	if err != nil {
		return err
	}
	if len(parsed.RespondData) == 0 {
		return nil
	}
	var body map[string]any
	if err := json.Unmarshal(parsed.RespondData, &body); err != nil {
		return fmt.Errorf("adapters: energy: parse response: %w", err)
	}
	store.Apply(state.Event{
		VIN: vin, Section: state.SectionEnergy, Origin: state.OriginREST,
		ObservedAt: time.Now().UnixMilli(), Fields: normalizeAll(body),
	})
	return nil
}
