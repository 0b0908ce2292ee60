// Package command implements the trigger/race/retry/overlay orchestration
// described in spec.md §4.9: a remote command is a trigger request
// followed by either an MQTT-delivered result (fast path) or HTTP result
// polling (fallback), with rate-limit retry, a permission check, and an
// optimistic state overlay applied on success.
package command

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Ap3pp3rs94/vehiclecore/internal/envelope"
	"github.com/Ap3pp3rs94/vehiclecore/internal/push"
	"github.com/Ap3pp3rs94/vehiclecore/internal/state"
	"github.com/Ap3pp3rs94/vehiclecore/internal/transport"
	verrors "github.com/Ap3pp3rs94/vehiclecore/pkg/errors"
	"github.com/Ap3pp3rs94/vehiclecore/pkg/telemetry"
)

// Trigger is the narrow slice of *transport.Transport the orchestrator
// needs, so tests can substitute a fake without standing up a real HTTP
// server.
type Trigger interface {
	PostSecure(ctx context.Context, path string, innerExtras map[string]any) (envelope.Parsed, error)
}

const (
	triggerPath = "control/remoteControl"
	pollPath    = "control/remoteControlResult"
	overlayTTL  = 120 * time.Second
)

var rateLimitDelays = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

// CodeError pairs a stable pkg/errors.Code with a human message, the
// same classification the transport layer attaches to a non-zero
// server response (internal/transport.APIError), but for failures the
// orchestrator itself raises rather than ones the server reports.
type CodeError struct {
	Code    verrors.Code
	Message string
}

func (e *CodeError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("command: %s", e.Code)
	}
	return fmt.Sprintf("command: %s: %s", e.Code, e.Message)
}

// AttemptRecord is one command attempt, handed to an AuditSink for
// durable logging regardless of outcome.
type AttemptRecord struct {
	VIN           string
	Code          Code
	RequestSerial string
	Outcome       Outcome
	Mechanism     Mechanism
	StartedAt     time.Time
	Err           error
}

// AuditSink receives every command attempt, success or failure.
type AuditSink interface {
	RecordAttempt(ctx context.Context, rec AttemptRecord)
}

type nopAudit struct{}

func (nopAudit) RecordAttempt(context.Context, AttemptRecord) {}

// Options configures an Orchestrator.
type Options struct {
	ControlPIN  string
	Profile     ProfileName
	MQTTTimeout time.Duration
	PollInterval time.Duration
	PollAttempts int
}

func (o *Options) setDefaults() {
	if o.MQTTTimeout <= 0 {
		o.MQTTTimeout = 10 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 3 * time.Second
	}
	if o.PollAttempts <= 0 {
		o.PollAttempts = 5
	}
}

// Orchestrator is C9: it validates permission, triggers a command over
// the secure transport, races an MQTT waiter against HTTP polling, and
// applies an optimistic overlay to the state store on success.
type Orchestrator struct {
	opts     Options
	trigger  Trigger
	waiters  *push.Waiters
	store    *state.Store
	checker  *Checker
	audit    AuditSink
	log      *telemetry.Logger

	retryDelays []time.Duration

	mu          sync.Mutex
	locked      bool
	lockedCause error
}

// New builds an Orchestrator. audit and log may be nil.
func New(opts Options, trigger Trigger, waiters *push.Waiters, store *state.Store, checker *Checker, audit AuditSink, log *telemetry.Logger) *Orchestrator {
	opts.setDefaults()
	if audit == nil {
		audit = nopAudit{}
	}
	if log == nil {
		log = telemetry.Nop
	}
	return &Orchestrator{
		opts:        opts,
		trigger:     trigger,
		waiters:     waiters,
		store:       store,
		checker:     checker,
		audit:       audit,
		log:         log,
		retryDelays: rateLimitDelays,
	}
}

// Execute runs the full trigger/race/retry/overlay flow for one command.
func (o *Orchestrator) Execute(ctx context.Context, vin string, code Code, params map[string]any) Result {
	start := time.Now()
	res := o.execute(ctx, vin, code, params, start)
	o.audit.RecordAttempt(ctx, AttemptRecord{
		VIN: vin, Code: code, RequestSerial: res.RequestSerial,
		Outcome: res.Outcome, Mechanism: res.Mechanism, StartedAt: start, Err: res.Err,
	})
	return res
}

func (o *Orchestrator) execute(ctx context.Context, vin string, code Code, params map[string]any, start time.Time) Result {
	if cause := o.lockedState(); cause != nil {
		return Result{VIN: vin, Code: code, Outcome: OutcomeFailure, Err: cause}
	}

	if o.checker != nil {
		if rep := o.checker.Check(o.opts.Profile, vin, code); rep.Denied() {
			return Result{VIN: vin, Code: code, Outcome: OutcomeFailure,
				Err: &CodeError{Code: verrors.VehicleEndpointNotSupported, Message: rep.Issues[0].Message}}
		}
	}

	wireType, ok := wireCommandType[code]
	if !ok {
		return Result{VIN: vin, Code: code, Outcome: OutcomeFailure, Err: fmt.Errorf("command: unmapped command code %q", code)}
	}

	inner := map[string]any{
		"vin":         vin,
		"commandType": wireType,
		"commandPwd":  md5Upper(o.opts.ControlPIN),
	}
	if len(params) > 0 {
		b, err := json.Marshal(params)
		if err != nil {
			return Result{VIN: vin, Code: code, Outcome: OutcomeFailure, Err: fmt.Errorf("command: encode params: %w", err)}
		}
		inner["controlParamsMap"] = string(b)
	}

	parsed, err := o.triggerWithRetry(ctx, inner)
	if err != nil {
		if apiErr, ok := err.(*transport.APIError); ok {
			if apiErr.Code == 5005 || apiErr.Code == 5006 {
				o.lockOut(apiErr)
			}
		}
		return Result{VIN: vin, Code: code, Outcome: OutcomeFailure, Err: err}
	}

	var body map[string]any
	_ = json.Unmarshal(parsed.RespondData, &body)
	requestSerial, _ := body["requestSerial"].(string)
	controlState, _ := intField(body["controlState"])
	resVal, _ := intField(body["res"])

	if controlState == 1 || resVal == 2 {
		o.applyOverlay(vin, code, params)
		return Result{VIN: vin, Code: code, RequestSerial: requestSerial, Outcome: OutcomeSuccess, Mechanism: MechanismImmediate}
	}
	if controlState == 2 {
		return Result{VIN: vin, Code: code, RequestSerial: requestSerial, Outcome: OutcomeFailure,
			Err: &CodeError{Code: verrors.VehicleRemoteControlFailure}}
	}
	if requestSerial == "" {
		return Result{VIN: vin, Code: code, Outcome: OutcomeFailure, Err: fmt.Errorf("command: trigger response missing requestSerial")}
	}

	ch := o.waiters.Register(vin, wireType, requestSerial)
	defer o.waiters.Cancel(vin, wireType, requestSerial)

	mqttCtx, cancel := context.WithTimeout(ctx, o.opts.MQTTTimeout)
	select {
	case result := <-ch:
		cancel()
		return o.resolvePush(vin, code, requestSerial, result, params)
	case <-mqttCtx.Done():
		cancel()
		if ctx.Err() != nil {
			return Result{VIN: vin, Code: code, RequestSerial: requestSerial, Outcome: OutcomeCancelled}
		}
	}

	return o.pollForResult(ctx, vin, code, requestSerial, params)
}

func (o *Orchestrator) resolvePush(vin string, code Code, requestSerial string, result push.CommandResult, params map[string]any) Result {
	if result.ControlState == 1 || result.Res == 2 {
		o.applyOverlay(vin, code, params)
		return Result{VIN: vin, Code: code, RequestSerial: requestSerial, Outcome: OutcomeSuccess, Mechanism: MechanismMQTT}
	}
	return Result{VIN: vin, Code: code, RequestSerial: requestSerial, Outcome: OutcomeFailure, Mechanism: MechanismMQTT,
		Err: &CodeError{Code: verrors.VehicleRemoteControlFailure}}
}

func (o *Orchestrator) pollForResult(ctx context.Context, vin string, code Code, requestSerial string, params map[string]any) Result {
	for attempt := 1; attempt <= o.opts.PollAttempts; attempt++ {
		if !sleepCtx(ctx, o.opts.PollInterval) {
			return Result{VIN: vin, Code: code, RequestSerial: requestSerial, Outcome: OutcomeCancelled}
		}
		parsed, err := o.trigger.PostSecure(ctx, pollPath, map[string]any{"vin": vin, "requestSerial": requestSerial})
		if err != nil {
			continue
		}
		var body map[string]any
		_ = json.Unmarshal(parsed.RespondData, &body)
		controlState, _ := intField(body["controlState"])
		switch controlState {
		case 1:
			o.applyOverlay(vin, code, params)
			return Result{VIN: vin, Code: code, RequestSerial: requestSerial, Outcome: OutcomeSuccess, Mechanism: MechanismPoll}
		case 2:
			return Result{VIN: vin, Code: code, RequestSerial: requestSerial, Outcome: OutcomeFailure, Mechanism: MechanismPoll,
				Err: &CodeError{Code: verrors.VehicleRemoteControlFailure}}
		}
	}
	return Result{VIN: vin, Code: code, RequestSerial: requestSerial, Outcome: OutcomeTimeout, Mechanism: MechanismPoll,
		Err: &CodeError{Code: verrors.VehicleTimeout}}
}

// triggerWithRetry posts the trigger request, retrying up to 3 times
// with 1s/2s/4s backoff when the server reports 6024 (rate limit or a
// previous command still in flight).
func (o *Orchestrator) triggerWithRetry(ctx context.Context, inner map[string]any) (envelope.Parsed, error) {
	var lastErr error
	for attempt := 0; attempt <= len(o.retryDelays); attempt++ {
		parsed, err := o.trigger.PostSecure(ctx, triggerPath, inner)
		if err == nil {
			return parsed, nil
		}
		apiErr, ok := err.(*transport.APIError)
		if !ok || apiErr.Code != 6024 {
			return envelope.Parsed{}, err
		}
		lastErr = err
		if attempt == len(o.retryDelays) {
			break
		}
		o.log.Warn(ctx, "command: rate limited, retrying", map[string]any{"attempt": attempt + 1})
		if !sleepCtx(ctx, o.retryDelays[attempt]) {
			return envelope.Parsed{}, ctx.Err()
		}
	}
	return envelope.Parsed{}, &CodeError{Code: verrors.VehicleEndpointNotSupported, Message: fmt.Sprintf("persistent rate limiting after retries: %v", lastErr)}
}

func (o *Orchestrator) lockOut(apiErr *transport.APIError) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.locked {
		return
	}
	o.locked = true
	o.lockedCause = apiErr
}

func (o *Orchestrator) lockedState() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.locked {
		return nil
	}
	return &CodeError{Code: verrors.VehicleControlPasswordLocked, Message: fmt.Sprintf("control password rejected earlier this session: %v", o.lockedCause)}
}

// overlaySection and overlayFields implement the optimistic overlay
// table from spec.md §4.9.
func overlaySection(code Code) state.Section {
	switch code {
	case StartClimate, StopClimate, SeatClimate, BatteryHeat:
		return state.SectionHVAC
	default:
		return state.SectionRealtime
	}
}

func overlayFields(code Code, params map[string]any) map[string]any {
	switch code {
	case Lock:
		return map[string]any{"doorLock": "Locked"}
	case Unlock:
		return map[string]any{"doorLock": "Unlocked"}
	case StartClimate:
		out := map[string]any{"acSwitch": "on"}
		if v, ok := params["mainSettingTemp"]; ok {
			out["mainSettingTemp"] = v
		}
		return out
	case StopClimate:
		return map[string]any{"acSwitch": "off"}
	case CloseWindows:
		return map[string]any{"windows": "Closed"}
	case SeatClimate:
		out := map[string]any{}
		if v, ok := params["seatHeatLevel"]; ok {
			out["seatHeatLevel"] = v
		}
		if v, ok := params["seatVentLevel"]; ok {
			out["seatVentLevel"] = v
		}
		return out
	case BatteryHeat:
		out := map[string]any{}
		if v, ok := params["batteryHeatState"]; ok {
			out["batteryHeatState"] = v
		}
		return out
	default:
		return nil
	}
}

func (o *Orchestrator) applyOverlay(vin string, code Code, params map[string]any) {
	fields := overlayFields(code, params)
	if len(fields) == 0 {
		return
	}
	o.store.Overlay(vin, overlaySection(code), fields, overlayTTL, time.Now())
}

func md5Upper(s string) string {
	sum := md5.Sum([]byte(s))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
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

func intField(v any) (int, bool) {
	switch x := v.(type) {
	case float64:
		return int(x), true
	case int:
		return x, true
	case string:
		var n int
		if _, err := fmt.Sscanf(x, "%d", &n); err == nil {
			return n, true
		}
		return 0, false
	default:
		return 0, false
	}
}
