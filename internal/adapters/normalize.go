// Package adapters implements C10: one stateless function per vendor
// endpoint (spec.md §6's endpoint set). Each function builds the
// endpoint's inner extras, calls the transport through the narrow
// Caller interface, validates and normalizes the returned JSON per
// spec.md §4.10's sentinel rules, and applies the result to the state
// store as an Event — the same shape the teacher's normalizer engine's
// mapper.go/transformer.go give field aliasing and sentinel handling,
// generalized here from arbitrary telemetry fields to this vendor's
// fixed vehicle-status schema.
package adapters

import (
	"context"
	"math"

	"github.com/Ap3pp3rs94/vehiclecore/internal/envelope"
	"github.com/Ap3pp3rs94/vehiclecore/internal/state"
)

// Caller is the narrow slice of *transport.Transport an adapter needs
// to drive one authenticated request/response round trip.
type Caller interface {
	PostSecure(ctx context.Context, path string, innerExtras map[string]any) (envelope.Parsed, error)
}

// normalizeValue applies spec.md §4.10's sentinel rules: "", "--", NaN,
// and null all collapse to state.Absent. Everything else passes
// through unchanged — including out-of-range enum integers, which stay
// raw per spec.md's "known-enum-or-raw-int" typing.
func normalizeValue(v any) any {
	switch x := v.(type) {
	case nil:
		return state.Absent
	case string:
		if x == "" || x == "--" {
			return state.Absent
		}
		return x
	case float64:
		if math.IsNaN(x) {
			return state.Absent
		}
		return x
	default:
		return v
	}
}

// normalizeCabinTemp additionally treats -129 as absent (spec.md's
// cabin-temperature sentinel), on top of the generic rule.
func normalizeCabinTemp(v any) any {
	if f, ok := asFloat(v); ok && f == -129 {
		return state.Absent
	}
	return normalizeValue(v)
}

// normalizeTimeToFull additionally treats -1 as absent (spec.md's
// "not available" sentinel for fullHour/fullMinute-style fields).
func normalizeTimeToFull(v any) any {
	if f, ok := asFloat(v); ok && f == -1 {
		return state.Absent
	}
	return normalizeValue(v)
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	}
	return 0, false
}

// cabinTempKey and timeToFullKeys name the fields spec.md §4.10 calls
// out with their own sentinel beyond the generic absent rule.
const cabinTempKey = "tempInCar"

var timeToFullKeys = map[string]bool{"fullHour": true, "fullMinute": true}

// normalizeAll walks every key the server returned and applies the
// matching sentinel rule, passing unknown-enum integers through
// unchanged per spec.md's "known-enum-or-raw-int" typing. Used by
// endpoints whose response shape is an open, evolving field set rather
// than a small fixed schema.
func normalizeAll(body map[string]any) map[string]any {
	out := make(map[string]any, len(body))
	for k, v := range body {
		switch {
		case k == cabinTempKey:
			out[k] = normalizeCabinTemp(v)
		case timeToFullKeys[k]:
			out[k] = normalizeTimeToFull(v)
		default:
			out[k] = normalizeValue(v)
		}
	}
	return out
}

// fields builds a state.Event.Fields map by normalizing each named key
// out of body with fn, skipping keys body doesn't contain at all (a
// missing key is "never observed", distinct from an observed sentinel
// that normalizes to absent).
func fields(body map[string]any, fn func(any) any, keys ...string) map[string]any {
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		if v, ok := body[k]; ok {
			out[k] = fn(v)
		}
	}
	return out
}

func intBody(body map[string]any, key string) (int, bool) {
	v, ok := body[key]
	if !ok {
		return 0, false
	}
	switch x := v.(type) {
	case float64:
		return int(x), true
	case int:
		return x, true
	}
	return 0, false
}

func stringBody(body map[string]any, key string) string {
	s, _ := body[key].(string)
	return s
}
