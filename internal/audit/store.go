package audit

// SQLStore persists the ledger, its dead-letter queue, and lockout
// cases over database/sql, the same library-only persistence idiom
// the teacher's storage service uses for its Postgres-backed object
// store, generalized here to also drive mattn/go-sqlite3 for an
// embedded deployment (spec.md's ambient "test tooling and embedded
// operation" requirement). A postgres driver (lib/pq) or sqlite
// driver (mattn/go-sqlite3) must be registered by the caller via a
// blank import; this package never imports a driver directly so
// either backend works behind the same interface.
//
// Table name is validated before being interpolated into DDL/DML, the
// same injection guard the teacher's relational store applies.

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Ap3pp3rs94/vehiclecore/pkg/queue"
)

var (
	ErrInvalidInput = errors.New("audit: invalid input")
	ErrDB           = errors.New("audit: db error")
)

// Dialect names the placeholder/DDL syntax to emit. Postgres uses
// "$1, $2, ..."; SQLite (and anything else) uses "?".
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// SQLStoreOptions configures a SQLStore.
type SQLStoreOptions struct {
	Dialect    Dialect
	EventTable string
	CaseTable  string
	DLQTable   string
	Clock      func() time.Time
}

func (o *SQLStoreOptions) setDefaults() error {
	if o.Dialect == "" {
		o.Dialect = DialectSQLite
	}
	if o.Dialect != DialectPostgres && o.Dialect != DialectSQLite {
		return fmt.Errorf("%w: unsupported dialect %q", ErrInvalidInput, o.Dialect)
	}
	if o.EventTable == "" {
		o.EventTable = "vehicle_audit_events"
	}
	if o.CaseTable == "" {
		o.CaseTable = "vehicle_audit_cases"
	}
	if o.DLQTable == "" {
		o.DLQTable = "vehicle_audit_dlq"
	}
	for _, name := range []string{o.EventTable, o.CaseTable, o.DLQTable} {
		if err := validateTableName(name); err != nil {
			return err
		}
	}
	if o.Clock == nil {
		o.Clock = func() time.Time { return time.Now().UTC() }
	}
	return nil
}

// SQLStore implements Store, CaseStore, and queue.DLQStore over a
// single *sql.DB.
type SQLStore struct {
	db   *sql.DB
	opts SQLStoreOptions
}

// NewSQLStore wraps db. Callers own the *sql.DB's lifecycle (open,
// SetMaxOpenConns, Close).
func NewSQLStore(db *sql.DB, opts SQLStoreOptions) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("%w: db is nil", ErrInvalidInput)
	}
	if err := opts.setDefaults(); err != nil {
		return nil, err
	}
	return &SQLStore{db: db, opts: opts}, nil
}

// EnsureSchema creates the backing tables if they do not exist.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	blobType := "BYTEA"
	tsType := "TIMESTAMPTZ"
	if s.opts.Dialect == DialectSQLite {
		blobType = "BLOB"
		tsType = "TIMESTAMP"
	}

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  event_id     TEXT NOT NULL,
  tenant       TEXT NOT NULL,
  vin          TEXT NOT NULL,
  code         TEXT NOT NULL,
  outcome      TEXT NOT NULL,
  occurred_at  %s NOT NULL,
  prev_hash    TEXT NOT NULL,
  hash         TEXT NOT NULL,
  payload      %s NOT NULL,
  PRIMARY KEY (tenant, event_id)
);`, s.opts.EventTable, tsType, blobType),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  case_id      TEXT NOT NULL,
  tenant       TEXT NOT NULL,
  vin          TEXT NOT NULL,
  status       TEXT NOT NULL,
  created_at   %s NOT NULL,
  updated_at   %s NOT NULL,
  payload      %s NOT NULL,
  PRIMARY KEY (tenant, case_id)
);`, s.opts.CaseTable, tsType, tsType, blobType),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  record_id       TEXT NOT NULL,
  queue_name       TEXT NOT NULL,
  final_attempt   INTEGER NOT NULL,
  reason          TEXT NOT NULL,
  dead_lettered_at %s NOT NULL,
  payload         %s NOT NULL,
  PRIMARY KEY (record_id)
);`, s.opts.DLQTable, tsType, blobType),
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("%w: ensure schema: %v", ErrDB, err)
		}
	}
	return nil
}

func (s *SQLStore) ph(n int) string {
	if s.opts.Dialect == DialectPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// PutEvent implements Store.
func (s *SQLStore) PutEvent(ctx context.Context, rec Record) error {
	payload, err := rec.Event.canonicalBytes()
	if err != nil {
		return fmt.Errorf("%w: canonicalize: %v", ErrDB, err)
	}
	q := fmt.Sprintf(
		`INSERT INTO %s (event_id, tenant, vin, code, outcome, occurred_at, prev_hash, hash, payload)
VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s)`,
		s.opts.EventTable, s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6), s.ph(7), s.ph(8), s.ph(9))
	_, err = s.db.ExecContext(ctx, q,
		rec.Event.ID, rec.Tenant, rec.VIN, string(rec.Code), string(rec.Outcome),
		rec.Event.Occurred, rec.Event.PrevHash, rec.Event.Hash, payload)
	if err != nil {
		return fmt.Errorf("%w: put event: %v", ErrDB, err)
	}
	return nil
}

// PutCase implements CaseStore.
func (s *SQLStore) PutCase(ctx context.Context, c lockoutCase) error {
	payload, err := c.canonicalBytes()
	if err != nil {
		return fmt.Errorf("%w: canonicalize case: %v", ErrDB, err)
	}
	q := fmt.Sprintf(
		`INSERT INTO %s (case_id, tenant, vin, status, created_at, updated_at, payload)
VALUES (%s, %s, %s, %s, %s, %s, %s)`,
		s.opts.CaseTable, s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6), s.ph(7))
	_, err = s.db.ExecContext(ctx, q,
		c.ID, c.Tenant, c.VIN, c.Status, c.Created, c.Updated, payload)
	if err != nil {
		return fmt.Errorf("%w: put case: %v", ErrDB, err)
	}
	return nil
}

// Put implements queue.DLQStore.
func (s *SQLStore) Put(ctx context.Context, rec queue.DLQRecord) error {
	id := rec.RecordID
	if id == "" {
		h := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", rec.Queue, rec.Envelope.DedupKey, rec.DeadLetteredAt.UnixNano())))
		id = hex.EncodeToString(h[:16])
	}
	payload, err := json.Marshal(rec.Envelope)
	if err != nil {
		return fmt.Errorf("%w: marshal envelope: %v", ErrDB, err)
	}
	q := fmt.Sprintf(
		`INSERT INTO %s (record_id, queue_name, final_attempt, reason, dead_lettered_at, payload)
VALUES (%s, %s, %s, %s, %s, %s)`,
		s.opts.DLQTable, s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6))
	_, err = s.db.ExecContext(ctx, q, id, string(rec.Queue), rec.FinalAttempt, rec.Reason, rec.DeadLetteredAt, payload)
	if err != nil {
		return fmt.Errorf("%w: put dlq record: %v", ErrDB, err)
	}
	return nil
}

// Get implements queue.DLQStore.
func (s *SQLStore) Get(ctx context.Context, recordID string) (queue.DLQRecord, error) {
	q := fmt.Sprintf(`SELECT queue_name, final_attempt, reason, dead_lettered_at, payload FROM %s WHERE record_id = %s`, s.opts.DLQTable, s.ph(1))
	var qn, reason string
	var attempt int
	var deadAt time.Time
	var payload []byte
	err := s.db.QueryRowContext(ctx, q, recordID).Scan(&qn, &attempt, &reason, &deadAt, &payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return queue.DLQRecord{}, fmt.Errorf("%w: %s", queue.ErrDLQInvalid, recordID)
		}
		return queue.DLQRecord{}, fmt.Errorf("%w: get dlq record: %v", ErrDB, err)
	}
	var env queue.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return queue.DLQRecord{}, fmt.Errorf("%w: decode envelope: %v", ErrDB, err)
	}
	return queue.DLQRecord{
		RecordID: recordID, Queue: queue.QueueName(qn), Envelope: env,
		FinalAttempt: attempt, Reason: reason, DeadLetteredAt: deadAt.UTC(),
	}, nil
}

// List implements queue.DLQStore.
func (s *SQLStore) List(ctx context.Context, q queue.QueueName, limit int) ([]queue.DLQRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`SELECT record_id, final_attempt, reason, dead_lettered_at, payload FROM %s WHERE queue_name = %s ORDER BY dead_lettered_at ASC`, s.opts.DLQTable, s.ph(1))
	rows, err := s.db.QueryContext(ctx, query, string(q))
	if err != nil {
		return nil, fmt.Errorf("%w: list dlq: %v", ErrDB, err)
	}
	defer rows.Close()

	out := make([]queue.DLQRecord, 0, limit)
	for rows.Next() && len(out) < limit {
		var recordID, reason string
		var attempt int
		var deadAt time.Time
		var payload []byte
		if err := rows.Scan(&recordID, &attempt, &reason, &deadAt, &payload); err != nil {
			return nil, fmt.Errorf("%w: scan dlq row: %v", ErrDB, err)
		}
		var env queue.Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			return nil, fmt.Errorf("%w: decode envelope: %v", ErrDB, err)
		}
		out = append(out, queue.DLQRecord{
			RecordID: recordID, Queue: q, Envelope: env,
			FinalAttempt: attempt, Reason: reason, DeadLetteredAt: deadAt.UTC(),
		})
	}
	return out, rows.Err()
}

// Delete implements queue.DLQStore.
func (s *SQLStore) Delete(ctx context.Context, recordID string) error {
	q := fmt.Sprintf(`DELETE FROM %s WHERE record_id = %s`, s.opts.DLQTable, s.ph(1))
	if _, err := s.db.ExecContext(ctx, q, recordID); err != nil {
		return fmt.Errorf("%w: delete dlq record: %v", ErrDB, err)
	}
	return nil
}

// validateTableName guards the fmt.Sprintf-interpolated DDL/DML above
// against injection: letters, digits, and underscore only.
func validateTableName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty table name", ErrInvalidInput)
	}
	for i, r := range name {
		if r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (i > 0 && r >= '0' && r <= '9') {
			continue
		}
		return fmt.Errorf("%w: invalid table name %q", ErrInvalidInput, name)
	}
	return nil
}
