package audit

// This file replaces the generic canonical.Event/Case/EntityRef engine
// with the slice of it the command ledger actually needs: a
// hash-chained attempt record and a lockout incident, both scoped to
// one VIN. No trace/span/schema/partition-key machinery survives —
// nothing in this repository reads any of that.

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// ledgerEvent is one hash-chained command-attempt ledger entry.
type ledgerEvent struct {
	ID            string
	Tenant        string
	VIN           string
	Type          string
	Occurred      time.Time
	CorrelationID string
	PrevHash      string
	Hash          string
	Payload       json.RawMessage
}

// newLedgerEvent builds an event with a deterministic ID derived from
// its content, leaving PrevHash/Hash for chain() to fill in.
func newLedgerEvent(tenant, vin, typ string, occurred time.Time, correlationID string, payload json.RawMessage) ledgerEvent {
	ev := ledgerEvent{
		Tenant: tenant, VIN: vin, Type: typ,
		Occurred: occurred.UTC(), CorrelationID: correlationID, Payload: payload,
	}
	sum := sha256.Sum256(ev.signingBytes())
	ev.ID = hex.EncodeToString(sum[:16])
	return ev
}

// signingBytes is the deterministic encoding both the ID and the hash
// chain are computed over.
func (e ledgerEvent) signingBytes() []byte {
	b, _ := json.Marshal(struct {
		Tenant        string          `json:"tenant"`
		VIN           string          `json:"vin"`
		Type          string          `json:"type"`
		Occurred      string          `json:"occurred"`
		CorrelationID string          `json:"correlation_id,omitempty"`
		Payload       json.RawMessage `json:"payload"`
	}{e.Tenant, e.VIN, e.Type, e.Occurred.Format(time.RFC3339Nano), e.CorrelationID, e.Payload})
	return b
}

// canonicalBytes is the stable, fully-chained encoding persisted to
// storage and put on the dead-letter queue.
func (e ledgerEvent) canonicalBytes() ([]byte, error) {
	return json.Marshal(struct {
		ID            string          `json:"id"`
		Tenant        string          `json:"tenant"`
		VIN           string          `json:"vin"`
		Type          string          `json:"type"`
		Occurred      string          `json:"occurred"`
		CorrelationID string          `json:"correlation_id,omitempty"`
		PrevHash      string          `json:"prev_hash"`
		Hash          string          `json:"hash"`
		Payload       json.RawMessage `json:"payload"`
	}{e.ID, e.Tenant, e.VIN, e.Type, e.Occurred.Format(time.RFC3339Nano), e.CorrelationID, e.PrevHash, e.Hash, e.Payload})
}

// computeHash seals e onto the chain headed by prevHash.
func (e *ledgerEvent) computeHash(prevHash string) error {
	e.PrevHash = prevHash
	sum := sha256.Sum256(append([]byte(prevHash+"|"), e.signingBytes()...))
	e.Hash = hex.EncodeToString(sum[:])
	return nil
}

// Lockout case status values. The only transition this domain
// exercises is open -> investigate, so that is the only one modeled.
const (
	caseStatusOpen       = "open"
	caseStatusInvestigate = "investigate"
)

// lockoutCase is an open incident tracking repeated control-password
// failures for one VIN.
type lockoutCase struct {
	ID      string
	Tenant  string
	VIN     string
	Title   string
	Status  string
	Created time.Time
	Updated time.Time
}

// newLockoutCase opens a case already moved to "investigate", since
// every caller in this package transitions it there immediately.
func newLockoutCase(tenant, vin, title string, now time.Time) lockoutCase {
	now = now.UTC()
	id := caseID(tenant, vin, now)
	return lockoutCase{
		ID: id, Tenant: tenant, VIN: vin, Title: title,
		Status: caseStatusInvestigate, Created: now, Updated: now,
	}
}

func caseID(tenant, vin string, now time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", tenant, vin, now.UnixNano())))
	return hex.EncodeToString(sum[:12])
}

func (c lockoutCase) canonicalBytes() ([]byte, error) {
	return json.Marshal(struct {
		ID      string `json:"id"`
		Tenant  string `json:"tenant"`
		VIN     string `json:"vin"`
		Title   string `json:"title"`
		Status  string `json:"status"`
		Created string `json:"created"`
		Updated string `json:"updated"`
	}{c.ID, c.Tenant, c.VIN, c.Title, c.Status, c.Created.Format(time.RFC3339Nano), c.Updated.Format(time.RFC3339Nano)})
}

// correlationID derives a stable per-attempt correlation token from
// the fields that identify a command attempt, the same role
// idempotency.BuildKey played but scoped to this one call site rather
// than a general-purpose key builder.
func correlationID(tenant, scope, vin, code, requestSerial string) string {
	sum := sha256.Sum256([]byte(tenant + "\x00" + scope + "\x00" + vin + "\x00" + code + "\x00" + requestSerial))
	return hex.EncodeToString(sum[:])
}
