package adapters

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Ap3pp3rs94/vehiclecore/internal/state"
)

// ParsePushVehicleInfo decodes a decrypted `vehicleInfo` push payload
// (spec.md §6's push topic) into a state.Event ready for state.Store.Apply,
// applying the same sentinel normalization REST reads get so a pushed
// update and a polled one are indistinguishable once merged.
func ParsePushVehicleInfo(payload []byte) (state.Event, error) {
	var body map[string]any
	if err := json.Unmarshal(payload, &body); err != nil {
		return state.Event{}, fmt.Errorf("adapters: vehicleInfo push: parse: %w", err)
	}
	vin := stringBody(body, "vin")
	if vin == "" {
		return state.Event{}, fmt.Errorf("adapters: vehicleInfo push: missing vin")
	}

	observedAt := time.Now().UnixMilli()
	if secs, ok := intBody(body, "time"); ok {
		observedAt = time.Unix(int64(secs), 0).UnixMilli()
	}
	fields := normalizeAll(body)
	delete(fields, "vin")
	delete(fields, "time")

	return state.Event{
		VIN: vin, Section: state.SectionRealtime, Origin: state.OriginPush,
		ObservedAt: observedAt, Fields: fields,
	}, nil
}
