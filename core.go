// Package vehiclecore is the public façade over the client library's
// internal components (C1-C10): one Core instance per authenticated
// account, owning its own session, transport, push listener, state
// store, and command orchestrator, with no process-wide globals beyond
// the immutable white-box tables (spec.md §9's design note).
package vehiclecore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Ap3pp3rs94/vehiclecore/internal/adapters"
	"github.com/Ap3pp3rs94/vehiclecore/internal/audit"
	"github.com/Ap3pp3rs94/vehiclecore/internal/command"
	vconfig "github.com/Ap3pp3rs94/vehiclecore/internal/config"
	"github.com/Ap3pp3rs94/vehiclecore/internal/envelope"
	"github.com/Ap3pp3rs94/vehiclecore/internal/push"
	"github.com/Ap3pp3rs94/vehiclecore/internal/session"
	"github.com/Ap3pp3rs94/vehiclecore/internal/state"
	"github.com/Ap3pp3rs94/vehiclecore/internal/transport"
	verrors "github.com/Ap3pp3rs94/vehiclecore/pkg/errors"
	"github.com/Ap3pp3rs94/vehiclecore/pkg/queue"
	"github.com/Ap3pp3rs94/vehiclecore/pkg/telemetry"
)

// Options bundles everything New needs to wire a Core. Only Config is
// required; the telemetry fields default to no-ops so a Core is usable
// without standing up a logging/metrics backend first.
type Options struct {
	Config *vconfig.Config

	Log   *telemetry.Logger
	Meter telemetry.Meter

	// AuditStore, AuditDLQ and AuditCases back the command ledger
	// (internal/audit). All three are optional: a nil value keeps that
	// concern in-memory only (chain hashing still works; nothing is
	// persisted).
	AuditStore audit.Store
	AuditDLQ   queue.DLQStore
	AuditCases audit.CaseStore

	// Profile resolves the command.Checker's profile-tier defaults,
	// per spec.md §4.9 step 1. cfg.Grants supplies the per-VIN
	// overrides.
	Profile command.ProfileName
}

// Core is one authenticated account's fully wired client instance.
type Core struct {
	cfg *vconfig.Config
	log *telemetry.Logger

	sessions *session.Holder
	transp   *transport.Transport
	waiters  *push.Waiters
	listener *push.Listener
	store    *state.Store
	orch     *command.Orchestrator

	tenant string
}

// New wires C1-C10 into one Core for the given tenant (account/fleet
// identifier used to scope the audit ledger — never the vehicle VIN,
// which stays per-call).
func New(tenant string, opts Options) (*Core, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("vehiclecore: config is required")
	}
	cfg := opts.Config
	log := opts.Log
	if log == nil {
		log = telemetry.Nop
	}

	sessions := session.NewHolder()

	identity := envelope.Identity{
		CountryCode: cfg.CountryCode,
		Language:    cfg.Language,
		OSType:      "android",
		NetworkType: "wifi",
		DeviceType:  "1",
		AppVersion:  "1.0.0",
		Device: envelope.DeviceIdentity{
			IMEI:  cfg.Device.IMEI,
			MAC:   cfg.Device.MAC,
			Model: cfg.Device.Model,
			SDK:   cfg.Device.SDK,
			Mod:   cfg.Device.Mod,
		},
	}
	codec, err := envelope.NewCodec(identity)
	if err != nil {
		return nil, fmt.Errorf("vehiclecore: build codec: %w", err)
	}

	transp, err := transport.New(transport.Options{
		BaseURL:     cfg.BaseURL,
		UserAgent:   cfg.UserAgent,
		HTTPTimeout: cfg.HTTPTimeout,
	}, codec, sessions, log, opts.Meter)
	if err != nil {
		return nil, fmt.Errorf("vehiclecore: build transport: %w", err)
	}

	store := state.NewStore()
	waiters := push.NewWaiters()

	var listener *push.Listener
	if cfg.MQTTEnabled {
		resolver := adapters.NewEmqResolver(transp)
		listener, err = push.New(push.Options{
			Keepalive:      cfg.MQTTKeepalive,
			ConnectTimeout: cfg.MQTTTimeout,
		}, sessions, resolver, waiters, func(ctx context.Context, payload json.RawMessage) {
			applyVehicleInfoPush(store, payload)
		}, log, opts.Meter)
		if err != nil {
			return nil, fmt.Errorf("vehiclecore: build push listener: %w", err)
		}
	}

	checker := command.NewChecker(command.PermOptions{Grants: convertGrants(cfg.Grants)})
	auditSink := audit.New(tenant, audit.Options{
		Store: opts.AuditStore,
		DLQ:   opts.AuditDLQ,
		Cases: opts.AuditCases,
		Log:   log,
	})

	orch := command.New(command.Options{
		ControlPIN:   cfg.ControlPIN,
		Profile:      opts.Profile,
		PollInterval: cfg.PollInterval,
		PollAttempts: cfg.PollAttempts,
	}, transp, waiters, store, checker, auditSink, log)

	return &Core{
		cfg: cfg, log: log,
		sessions: sessions, transp: transp, waiters: waiters,
		listener: listener, store: store, orch: orch,
		tenant: tenant,
	}, nil
}

// Login authenticates and installs a new session, the prerequisite for
// every other Core method.
func (c *Core) Login(ctx context.Context) error {
	sess, err := adapters.Login(ctx, c.transp, c.cfg.Username, c.cfg.Password, c.cfg.SessionTTL)
	if err != nil {
		return err
	}
	c.sessions.Replace(sess)
	return nil
}

// RunPush blocks maintaining the MQTT push connection until ctx is
// cancelled. Callers that disabled MQTT in configuration should not
// call this; it returns immediately with an error.
func (c *Core) RunPush(ctx context.Context) error {
	if c.listener == nil {
		return fmt.Errorf("vehiclecore: mqtt disabled in configuration")
	}
	return c.listener.Run(ctx)
}

// Vehicles lists the authenticated account's fleet.
func (c *Core) Vehicles(ctx context.Context) ([]adapters.VehicleSummary, error) {
	var out []adapters.VehicleSummary
	err := c.ensureSession(ctx, func() error {
		v, err := adapters.ListVehicles(ctx, c.transp)
		out = v
		return err
	})
	return out, err
}

// Refresh drives every REST read adapter for vin and merges the
// results into the state store. Errors from individual endpoints are
// collected rather than aborting the whole refresh, since a vendor
// endpoint being down (e.g. EndpointNotSupported) should not prevent
// the others from updating.
func (c *Core) Refresh(ctx context.Context, vin string) []error {
	var errs []error
	run := func(fn func() error) {
		if err := c.ensureSession(ctx, fn); err != nil {
			errs = append(errs, err)
		}
	}
	run(func() error { return adapters.FetchStatus(ctx, c.transp, c.store, vin) })
	run(func() error {
		return adapters.FetchRealtime(ctx, c.transp, c.store, vin, c.cfg.PollAttempts, c.cfg.PollInterval)
	})
	run(func() error {
		return adapters.FetchGPS(ctx, c.transp, c.store, vin, c.cfg.PollAttempts, c.cfg.PollInterval)
	})
	run(func() error { return adapters.FetchCharging(ctx, c.transp, c.store, vin) })
	run(func() error { return adapters.FetchEnergy(ctx, c.transp, c.store, vin) })
	return errs
}

// VerifyControlPassword checks pin against vin's stored control
// password without issuing a command.
func (c *Core) VerifyControlPassword(ctx context.Context, vin, pin string) error {
	return c.ensureSession(ctx, func() error {
		return adapters.VerifyControlPassword(ctx, c.transp, vin, pin)
	})
}

// Execute runs a remote command against vin, per spec.md §4.9. A
// VehicleSessionExpired outcome triggers one re-login and one retry of
// the whole command (spec.md §7's propagation policy, §8 scenario 6);
// the state store's optimistic overlay only ever applies on
// OutcomeSuccess, so a retried execute can never double-apply it.
func (c *Core) Execute(ctx context.Context, vin string, code command.Code, params map[string]any) command.Result {
	res := c.orch.Execute(ctx, vin, code, params)
	if !isSessionExpired(res.Err) {
		return res
	}
	if err := c.Login(ctx); err != nil {
		return res
	}
	return c.orch.Execute(ctx, vin, code, params)
}

// ensureSession runs fn, and if it fails with a classified
// session-expired error, re-authenticates and retries fn exactly once.
func (c *Core) ensureSession(ctx context.Context, fn func() error) error {
	err := fn()
	if !isSessionExpired(err) {
		return err
	}
	if loginErr := c.Login(ctx); loginErr != nil {
		return err
	}
	return fn()
}

func isSessionExpired(err error) bool {
	var apiErr *transport.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Class == verrors.VehicleSessionExpired
}

// State returns a snapshot of one section of vin's merged state.
func (c *Core) State(vin string, section state.Section) state.Snapshot {
	return c.store.GetSection(vin, section, time.Now())
}

// Health reports a point-in-time health snapshot: session presence and
// whether the MQTT push listener is running, in the shape any caller
// exposing a /healthz-style endpoint can serialize directly.
func (c *Core) Health(ctx context.Context) (telemetry.HealthSnapshot, error) {
	now := time.Now().UTC()
	comps := []telemetry.ComponentStatus{sessionHealth(c.sessions, now)}
	if c.listener != nil {
		comps = append(comps, pushHealth(c.listener, now))
	}
	return telemetry.NewHealthSnapshot("vehiclecore", "", c.tenant, comps, now)
}

func sessionHealth(sessions *session.Holder, now time.Time) telemetry.ComponentStatus {
	if sessions.Valid(now) {
		return telemetry.ComponentStatus{Name: "session", Status: telemetry.StatusOK, CheckedAt: now}
	}
	return telemetry.ComponentStatus{
		Name: "session", Status: telemetry.StatusDegraded, CheckedAt: now,
		Message: "no active session; call Login",
	}
}

func pushHealth(l *push.Listener, now time.Time) telemetry.ComponentStatus {
	if l.Connected() {
		return telemetry.ComponentStatus{Name: "push", Status: telemetry.StatusOK, CheckedAt: now}
	}
	return telemetry.ComponentStatus{
		Name: "push", Status: telemetry.StatusDegraded, CheckedAt: now,
		Message: "mqtt listener not currently connected",
	}
}

// Err converts any error this Core's methods return into the public
// error envelope shape, suitable for an HTTP or RPC boundary.
func Err(err error, requestID, traceID string) verrors.ErrorEnvelope {
	return verrors.FromError(err, verrors.VehicleAPIError, requestID, traceID)
}

func convertGrants(in map[string]map[string]bool) map[string]map[command.Code]bool {
	if in == nil {
		return nil
	}
	out := make(map[string]map[command.Code]bool, len(in))
	for vin, perVin := range in {
		m := make(map[command.Code]bool, len(perVin))
		for code, allowed := range perVin {
			m[command.Code(code)] = allowed
		}
		out[vin] = m
	}
	return out
}

func applyVehicleInfoPush(store *state.Store, payload json.RawMessage) {
	ev, err := adapters.ParsePushVehicleInfo(payload)
	if err != nil {
		return
	}
	store.Apply(ev)
}
