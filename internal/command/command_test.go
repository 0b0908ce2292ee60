package command

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Ap3pp3rs94/vehiclecore/internal/envelope"
	"github.com/Ap3pp3rs94/vehiclecore/internal/push"
	"github.com/Ap3pp3rs94/vehiclecore/internal/state"
	"github.com/Ap3pp3rs94/vehiclecore/internal/transport"
)

type fakeTrigger struct {
	mu        sync.Mutex
	responses []fakeResponse
	calls     []string
}

type fakeResponse struct {
	body map[string]any
	err  error
}

func (f *fakeTrigger) push(body map[string]any, err error) {
	f.responses = append(f.responses, fakeResponse{body: body, err: err})
}

func (f *fakeTrigger) PostSecure(ctx context.Context, path string, innerExtras map[string]any) (envelope.Parsed, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, path)
	if len(f.responses) == 0 {
		return envelope.Parsed{}, errors.New("fakeTrigger: no response queued")
	}
	next := f.responses[0]
	f.responses = f.responses[1:]
	if next.err != nil {
		return envelope.Parsed{}, next.err
	}
	raw, err := json.Marshal(next.body)
	if err != nil {
		return envelope.Parsed{}, err
	}
	return envelope.Parsed{Code: 0, RespondData: raw}, nil
}

func newTestOrchestrator(t *testing.T, trig *fakeTrigger) (*Orchestrator, *push.Waiters, *state.Store) {
	t.Helper()
	waiters := push.NewWaiters()
	store := state.NewStore()
	checker := NewChecker(PermOptions{})
	opts := Options{
		ControlPIN:   "1234",
		Profile:      ProfilePremiumControl,
		MQTTTimeout:  50 * time.Millisecond,
		PollInterval: 10 * time.Millisecond,
		PollAttempts: 3,
	}
	orch := New(opts, trig, waiters, store, checker, nil, nil)
	return orch, waiters, store
}

func TestExecuteImmediateSuccessAppliesOverlay(t *testing.T) {
	trig := &fakeTrigger{}
	trig.push(map[string]any{"controlState": 1, "requestSerial": "S1"}, nil)
	orch, _, store := newTestOrchestrator(t, trig)

	res := orch.Execute(context.Background(), "VIN1", Lock, nil)
	if res.Outcome != OutcomeSuccess || res.Mechanism != MechanismImmediate {
		t.Fatalf("unexpected result: %+v", res)
	}
	snap := store.GetSection("VIN1", state.SectionRealtime, time.Now())
	if snap.Fields["doorLock"].Value != "Locked" {
		t.Fatalf("expected doorLock overlay, got %+v", snap.Fields)
	}
}

func TestExecuteMQTTFastPathResolves(t *testing.T) {
	trig := &fakeTrigger{}
	trig.push(map[string]any{"controlState": 0, "requestSerial": "X1"}, nil)
	orch, waiters, store := newTestOrchestrator(t, trig)

	go func() {
		time.Sleep(5 * time.Millisecond)
		waiters.ResolveBySerial("X1", push.CommandResult{RequestSerial: "X1", ControlState: 1})
	}()

	res := orch.Execute(context.Background(), "VIN1", Lock, nil)
	if res.Outcome != OutcomeSuccess || res.Mechanism != MechanismMQTT {
		t.Fatalf("unexpected result: %+v", res)
	}
	snap := store.GetSection("VIN1", state.SectionRealtime, time.Now())
	if snap.Fields["doorLock"].Value != "Locked" {
		t.Fatalf("expected doorLock overlay, got %+v", snap.Fields)
	}
}

func TestExecutePollFallbackResolves(t *testing.T) {
	trig := &fakeTrigger{}
	trig.push(map[string]any{"controlState": 0, "requestSerial": "P1"}, nil)
	trig.push(map[string]any{"controlState": 0}, nil)
	trig.push(map[string]any{"controlState": 1}, nil)
	orch, _, store := newTestOrchestrator(t, trig)

	res := orch.Execute(context.Background(), "VIN1", Unlock, nil)
	if res.Outcome != OutcomeSuccess || res.Mechanism != MechanismPoll {
		t.Fatalf("unexpected result: %+v", res)
	}
	snap := store.GetSection("VIN1", state.SectionRealtime, time.Now())
	if snap.Fields["doorLock"].Value != "Unlocked" {
		t.Fatalf("expected doorLock overlay, got %+v", snap.Fields)
	}
}

func TestExecutePollExhaustionTimesOut(t *testing.T) {
	trig := &fakeTrigger{}
	trig.push(map[string]any{"controlState": 0, "requestSerial": "T1"}, nil)
	trig.push(map[string]any{"controlState": 0}, nil)
	trig.push(map[string]any{"controlState": 0}, nil)
	trig.push(map[string]any{"controlState": 0}, nil)
	orch, _, _ := newTestOrchestrator(t, trig)

	res := orch.Execute(context.Background(), "VIN1", FindCar, nil)
	if res.Outcome != OutcomeTimeout {
		t.Fatalf("expected timeout, got %+v", res)
	}
}

func TestExecuteRemoteControlFailure(t *testing.T) {
	trig := &fakeTrigger{}
	trig.push(map[string]any{"controlState": 2, "requestSerial": "F1"}, nil)
	orch, _, _ := newTestOrchestrator(t, trig)

	res := orch.Execute(context.Background(), "VIN1", Lock, nil)
	if res.Outcome != OutcomeFailure {
		t.Fatalf("expected failure, got %+v", res)
	}
}

func TestExecuteRateLimitedRetriesThenSucceeds(t *testing.T) {
	trig := &fakeTrigger{}
	trig.push(nil, transport.NewAPIError("control/remoteControl", 6024, "rate limited"))
	trig.push(map[string]any{"controlState": 1, "requestSerial": "R1"}, nil)
	orch, _, _ := newTestOrchestrator(t, trig)
	orch.opts.MQTTTimeout = time.Second // irrelevant here, immediate success

	// Rate-limit backoff is 1s/2s/4s; use a short-lived context-free call
	// but accept the real first-tier delay in this test.
	res := orch.Execute(context.Background(), "VIN1", Lock, nil)
	if res.Outcome != OutcomeSuccess {
		t.Fatalf("expected eventual success after rate-limit retry, got %+v", res)
	}
}

func TestExecuteWrongPinLocksOutSubsequentCommands(t *testing.T) {
	trig := &fakeTrigger{}
	trig.push(nil, transport.NewAPIError("control/remoteControl", 5005, "wrong control password"))
	orch, _, _ := newTestOrchestrator(t, trig)

	res := orch.Execute(context.Background(), "VIN1", Lock, nil)
	if res.Outcome != OutcomeFailure {
		t.Fatalf("expected failure on wrong pin, got %+v", res)
	}

	// The next call must be rejected locally without touching the network.
	before := len(trig.calls)
	res2 := orch.Execute(context.Background(), "VIN1", Unlock, nil)
	if res2.Outcome != OutcomeFailure {
		t.Fatalf("expected the orchestrator to stay locked out, got %+v", res2)
	}
	if len(trig.calls) != before {
		t.Fatalf("expected no additional network calls once locked out, got %d new calls", len(trig.calls)-before)
	}
}

func TestExecuteDeniesBatteryHeatUnderBasicControl(t *testing.T) {
	trig := &fakeTrigger{}
	waiters := push.NewWaiters()
	store := state.NewStore()
	checker := NewChecker(PermOptions{})
	opts := Options{ControlPIN: "1234", Profile: ProfileBasicControl}
	orch := New(opts, trig, waiters, store, checker, nil, nil)

	res := orch.Execute(context.Background(), "VIN1", BatteryHeat, nil)
	if res.Outcome != OutcomeFailure {
		t.Fatalf("expected BATTERY_HEAT to be denied, got %+v", res)
	}
	if len(trig.calls) != 0 {
		t.Fatal("expected a denied command never to reach the transport")
	}
}

func TestExecuteCancellationDuringPoll(t *testing.T) {
	trig := &fakeTrigger{}
	trig.push(map[string]any{"controlState": 0, "requestSerial": "C1"}, nil)
	orch, _, _ := newTestOrchestrator(t, trig)
	orch.opts.PollInterval = time.Second // MQTT wait ends at 50ms; cancel lands in the first poll sleep

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	res := orch.Execute(ctx, "VIN1", Lock, nil)
	if res.Outcome != OutcomeCancelled {
		t.Fatalf("expected cancelled outcome, got %+v", res)
	}
}

func TestExecuteSeatClimateOverlayCarriesParams(t *testing.T) {
	trig := &fakeTrigger{}
	trig.push(map[string]any{"controlState": 1, "requestSerial": "S2"}, nil)
	orch, _, store := newTestOrchestrator(t, trig)

	res := orch.Execute(context.Background(), "VIN1", SeatClimate, map[string]any{"seatHeatLevel": float64(2)})
	if res.Outcome != OutcomeSuccess {
		t.Fatalf("unexpected result: %+v", res)
	}
	snap := store.GetSection("VIN1", state.SectionHVAC, time.Now())
	if snap.Fields["seatHeatLevel"].Value != float64(2) {
		t.Fatalf("expected seatHeatLevel overlay, got %+v", snap.Fields)
	}
}
