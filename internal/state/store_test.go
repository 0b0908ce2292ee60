package state

import (
	"testing"
	"time"
)

func TestApplyLaterObservedAtWins(t *testing.T) {
	s := NewStore()
	s.Apply(Event{VIN: "V1", Section: SectionRealtime, Origin: OriginREST, ObservedAt: 100, Fields: map[string]any{"elecPercent": float64(50)}})
	s.Apply(Event{VIN: "V1", Section: SectionRealtime, Origin: OriginREST, ObservedAt: 200, Fields: map[string]any{"elecPercent": float64(70)}})

	snap := s.GetSection("V1", SectionRealtime, time.Now())
	got, ok := snap.Fields["elecPercent"]
	if !ok {
		t.Fatal("expected elecPercent to be present")
	}
	if got.Value.(float64) != 70 {
		t.Fatalf("expected 70, got %v", got.Value)
	}
}

func TestApplyEarlierObservedAtDoesNotOverride(t *testing.T) {
	s := NewStore()
	s.Apply(Event{VIN: "V1", Section: SectionRealtime, Origin: OriginPush, ObservedAt: 200, Fields: map[string]any{"elecPercent": float64(70)}})
	s.Apply(Event{VIN: "V1", Section: SectionRealtime, Origin: OriginREST, ObservedAt: 100, Fields: map[string]any{"elecPercent": float64(50)}})

	snap := s.GetSection("V1", SectionRealtime, time.Now())
	got := snap.Fields["elecPercent"]
	if got.Value.(float64) != 70 {
		t.Fatalf("expected stale update to be rejected, got %v", got.Value)
	}
}

func TestApplyAbsentSentinelClearsField(t *testing.T) {
	s := NewStore()
	s.Apply(Event{VIN: "V1", Section: SectionRealtime, Origin: OriginREST, ObservedAt: 100, Fields: map[string]any{"tempInCar": float64(22)}})
	s.Apply(Event{VIN: "V1", Section: SectionRealtime, Origin: OriginREST, ObservedAt: 200, Fields: map[string]any{"tempInCar": Absent}})

	snap := s.GetSection("V1", SectionRealtime, time.Now())
	if _, ok := snap.Fields["tempInCar"]; ok {
		t.Fatal("expected tempInCar to be cleared")
	}
}

func TestOverlayThenRealUpdateOverrides(t *testing.T) {
	s := NewStore()
	now := time.Now()
	s.Overlay("V1", SectionRealtime, map[string]any{"doorLock": "Locked"}, 120*time.Second, now)

	snap := s.GetSection("V1", SectionRealtime, now.Add(time.Second))
	if snap.Fields["doorLock"].Origin != OriginOptimistic {
		t.Fatalf("expected optimistic origin, got %v", snap.Fields["doorLock"].Origin)
	}

	// A real telemetry update, even with an observedAt earlier than the
	// overlay's own write time, must still override the overlay.
	s.Apply(Event{
		VIN: "V1", Section: SectionRealtime, Origin: OriginPush,
		ObservedAt: now.Add(-time.Minute).UnixMilli(),
		Fields:     map[string]any{"doorLock": "Unlocked"},
	})

	snap = s.GetSection("V1", SectionRealtime, now.Add(time.Second))
	if snap.Fields["doorLock"].Value != "Unlocked" {
		t.Fatalf("expected real update to override overlay, got %v", snap.Fields["doorLock"].Value)
	}
	if snap.Fields["doorLock"].Origin != OriginPush {
		t.Fatalf("expected push origin after override, got %v", snap.Fields["doorLock"].Origin)
	}
}

func TestOverlayExpiresLazily(t *testing.T) {
	s := NewStore()
	now := time.Now()
	s.Overlay("V1", SectionRealtime, map[string]any{"doorLock": "Locked"}, 10*time.Millisecond, now)

	snap := s.GetSection("V1", SectionRealtime, now.Add(time.Millisecond))
	if _, ok := snap.Fields["doorLock"]; !ok {
		t.Fatal("expected overlay to still be present before expiry")
	}

	snap = s.GetSection("V1", SectionRealtime, now.Add(time.Second))
	if _, ok := snap.Fields["doorLock"]; ok {
		t.Fatal("expected overlay to be expired and dropped")
	}
}

func TestGetSectionUnknownVINReturnsEmptySnapshot(t *testing.T) {
	s := NewStore()
	snap := s.GetSection("unknown", SectionGPS, time.Now())
	if len(snap.Fields) != 0 {
		t.Fatalf("expected empty snapshot, got %v", snap.Fields)
	}
}

func TestSectionsAreIndependent(t *testing.T) {
	s := NewStore()
	s.Apply(Event{VIN: "V1", Section: SectionRealtime, Origin: OriginREST, ObservedAt: 1, Fields: map[string]any{"elecPercent": float64(10)}})
	s.Apply(Event{VIN: "V1", Section: SectionGPS, Origin: OriginREST, ObservedAt: 1, Fields: map[string]any{"lat": float64(1.23)}})

	rt := s.GetSection("V1", SectionRealtime, time.Now())
	if _, ok := rt.Fields["lat"]; ok {
		t.Fatal("expected gps field not to leak into realtime section")
	}
	gps := s.GetSection("V1", SectionGPS, time.Now())
	if _, ok := gps.Fields["elecPercent"]; ok {
		t.Fatal("expected realtime field not to leak into gps section")
	}
}
