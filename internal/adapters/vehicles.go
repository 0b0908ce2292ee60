package adapters

import (
	"context"
	"encoding/json"
	"fmt"
)

const vehicleListPath = "account/getAllListByUserId"

// VehicleSummary is one entry of the authenticated account's vehicle
// fleet. Fields beyond VIN vary by vendor deployment and are not load
// bearing for the rest of the core, so they are kept as the raw
// normalized map rather than a fixed struct.
type VehicleSummary struct {
	VIN    string
	Fields map[string]any
}

type vehicleListBody struct {
	List []map[string]any `json:"list"`
}

// ListVehicles drives account/getAllListByUserId, the one read endpoint
// whose response is a collection rather than a single vehicle's status.
// Entries missing a vin are dropped; a vin is the only field every
// deployment is known to carry.
func ListVehicles(ctx context.Context, caller Caller) ([]VehicleSummary, error) {
	parsed, err := caller.PostSecure(ctx, vehicleListPath, nil)
	if err != nil {
		return nil, err
	}
	if len(parsed.RespondData) == 0 {
		return nil, nil
	}
	var body vehicleListBody
	if err := json.Unmarshal(parsed.RespondData, &body); err != nil {
		return nil, fmt.Errorf("adapters: list vehicles: parse response: %w", err)
	}

	out := make([]VehicleSummary, 0, len(body.List))
	for _, raw := range body.List {
		vin := stringBody(raw, "vin")
		if vin == "" {
			continue
		}
		out = append(out, VehicleSummary{VIN: vin, Fields: normalizeAll(raw)})
	}
	return out, nil
}
