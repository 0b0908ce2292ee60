// Package audit implements the command.AuditSink the orchestrator (C9)
// writes every attempt to: a hash-chained, tamper-evident ledger of
// command attempts, plus PIN-lockout incident tracking, the same roles
// the teacher's audit service's ledger.Event/hash_chain.go play for
// compliance-grade write trails, shaped down to what a single vehicle
// command attempt actually carries.
package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/Ap3pp3rs94/vehiclecore/internal/command"
	"github.com/Ap3pp3rs94/vehiclecore/pkg/queue"
	"github.com/Ap3pp3rs94/vehiclecore/pkg/telemetry"
)

const (
	eventType    = "vehicle.command.attempt"
	dlqQueueName = queue.QueueName("vehicle.command.deadletter")
	lockoutTitle = "control password locked"
)

// Record is one chained ledger entry, the audit-facing shape of a
// command.AttemptRecord.
type Record struct {
	Event    ledgerEvent
	Tenant   string
	VIN      string
	Code     command.Code
	Outcome  command.Outcome
}

// CaseStore persists PIN-lockout incidents. An implementation may
// back onto a relational table; Sink itself only shapes the case.
type CaseStore interface {
	PutCase(ctx context.Context, c lockoutCase) error
}

// Store persists ledger Records. It is optional: a nil Store means
// Sink only keeps the chain in memory for hash-linking purposes.
// Dead-lettered terminal failures go to the separate, equally optional
// Options.DLQ.
type Store interface {
	PutEvent(ctx context.Context, rec Record) error
}

// Sink is the command.AuditSink implementation: every attempt becomes
// a chained ledgerEvent; terminal failures are also dead-lettered; a
// run of consecutive control-password failures opens a lockoutCase so
// operators see the lockout as an incident, not just a log line.
type Sink struct {
	tenant string
	log    *telemetry.Logger
	store  Store
	dlq    queue.DLQStore
	cases  CaseStore

	mu       sync.Mutex
	prevHash map[string]string // per-VIN chain head
	lockCase map[string]lockoutCase
}

// Options configures a Sink. All fields are optional.
type Options struct {
	Store Store
	DLQ   queue.DLQStore
	Cases CaseStore
	Log   *telemetry.Logger
}

// New builds a Sink scoped to tenant (the account identifier or device
// fleet name; never the vehicle VIN itself, which stays per-record).
func New(tenant string, opts Options) *Sink {
	log := opts.Log
	if log == nil {
		log = telemetry.Nop
	}
	return &Sink{
		tenant:   tenant,
		log:      log,
		store:    opts.Store,
		dlq:      opts.DLQ,
		cases:    opts.Cases,
		prevHash: make(map[string]string),
		lockCase: make(map[string]lockoutCase),
	}
}

// RecordAttempt implements command.AuditSink.
func (s *Sink) RecordAttempt(ctx context.Context, rec command.AttemptRecord) {
	ev := s.chain(rec)
	if s.store != nil {
		if err := s.store.PutEvent(ctx, Record{Event: ev, Tenant: s.tenant, VIN: rec.VIN, Code: rec.Code, Outcome: rec.Outcome}); err != nil {
			s.log.Warn(ctx, "audit: failed to persist ledger event", map[string]any{"error": err.Error(), "vin": rec.VIN})
		}
	}

	if rec.Outcome == command.OutcomeFailure || rec.Outcome == command.OutcomeTimeout {
		s.deadLetter(ctx, rec, ev)
	}
	s.trackLockout(ctx, rec)
}

// chain builds the next ledgerEvent in rec.VIN's chain and advances
// the in-memory chain head, the same progression the teacher's
// hash_chain.go performs with "GENESIS"-seeded prev/hash pairs, but
// keyed per-VIN here rather than per-tenant-batch.
func (s *Sink) chain(rec command.AttemptRecord) ledgerEvent {
	payload, err := json.Marshal(attemptPayload{
		Code:          string(rec.Code),
		RequestSerial: rec.RequestSerial,
		Outcome:       string(rec.Outcome),
		Mechanism:     string(rec.Mechanism),
		Error:         errString(rec.Err),
	})
	if err != nil {
		payload = json.RawMessage(`{}`)
	}

	corr := correlationID(s.tenant, "command", rec.VIN, string(rec.Code), rec.RequestSerial)
	ev := newLedgerEvent(s.tenant, rec.VIN, eventType, rec.StartedAt, corr, payload)

	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.prevHash[rec.VIN]
	if prev == "" {
		prev = "GENESIS"
	}
	_ = ev.computeHash(prev)
	s.prevHash[rec.VIN] = ev.Hash
	return ev
}

type attemptPayload struct {
	Code          string `json:"code"`
	RequestSerial string `json:"request_serial,omitempty"`
	Outcome       string `json:"outcome"`
	Mechanism     string `json:"mechanism,omitempty"`
	Error         string `json:"error,omitempty"`
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// deadLetter moves a failed/timed-out attempt to the DLQ so a
// terminal command failure is never silently dropped, mirroring
// pkg/queue's dead-letter contract for poison messages.
func (s *Sink) deadLetter(ctx context.Context, rec command.AttemptRecord, ev ledgerEvent) {
	if s.dlq == nil {
		return
	}
	body, err := ev.canonicalBytes()
	if err != nil {
		return
	}
	env := queue.Envelope{
		Queue:      dlqQueueName,
		Type:       eventType,
		Tenant:     s.tenant,
		ProducedAt: rec.StartedAt,
		DedupKey:   ev.ID,
		Payload:    body,
	}
	dlqRec, err := queue.NewDLQRecord(dlqQueueName, env, 1, errString(rec.Err), time.Now())
	if err != nil {
		s.log.Warn(ctx, "audit: failed to build dlq record", map[string]any{"error": err.Error()})
		return
	}
	if err := s.dlq.Put(ctx, dlqRec); err != nil {
		s.log.Warn(ctx, "audit: failed to write dlq record", map[string]any{"error": err.Error()})
	}
}

// trackLockout opens a lockoutCase the moment an orchestrator reports
// a control-password lockout (spec.md §4.9), already moved to
// "investigate" so it surfaces on whatever case queue operators
// watch.
func (s *Sink) trackLockout(ctx context.Context, rec command.AttemptRecord) {
	if s.cases == nil || rec.Err == nil {
		return
	}
	ce, ok := rec.Err.(*command.CodeError)
	if !ok {
		return
	}
	if string(ce.Code) != "vehicle.control_password_locked" {
		return
	}

	s.mu.Lock()
	_, exists := s.lockCase[rec.VIN]
	s.mu.Unlock()
	if exists {
		return
	}

	c := newLockoutCase(s.tenant, rec.VIN, lockoutTitle+" for "+rec.VIN, rec.StartedAt)

	s.mu.Lock()
	s.lockCase[rec.VIN] = c
	s.mu.Unlock()

	if err := s.cases.PutCase(ctx, c); err != nil {
		s.log.Warn(ctx, "audit: failed to persist lockout case", map[string]any{"error": err.Error()})
	}
}

var _ command.AuditSink = (*Sink)(nil)
