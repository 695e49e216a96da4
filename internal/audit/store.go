// Package audit persists a durable trail of every alert and action
// invocation the Pipeline Runtime produces, independent of whatever
// outbound message the Messaging Adapter eventually builds from them.
// It follows the same query-then-insert idiom and sqlx wiring the
// orchestrator's database client uses for its own audit_logs table,
// generalized to the engine's alert/action payloads and backed by
// either Postgres or SQLite.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/edgefabric/telemetry-policy/internal/circuitbreaker"
	"github.com/edgefabric/telemetry-policy/internal/functions"
)

// AlertRecord is one row of the alert audit trail.
type AlertRecord struct {
	ID        uuid.UUID `db:"id"`
	DeviceID  string    `db:"device_id"`
	FormatURN string    `db:"format_urn"`
	Attribute string    `db:"attribute"`
	Severity  string    `db:"severity"`
	Fields    string    `db:"fields"` // JSON-encoded map[string]float64
	CreatedAt time.Time `db:"created_at"`
}

// ActionRecord is one row of the action-invocation audit trail.
type ActionRecord struct {
	ID        uuid.UUID `db:"id"`
	DeviceID  string    `db:"device_id"`
	Attribute string    `db:"attribute"`
	Name      string    `db:"name"`
	Args      string    `db:"args"` // JSON-encoded []any
	CreatedAt time.Time `db:"created_at"`
}

// Store is the audit trail's persistence layer.
type Store struct {
	db      *sqlx.DB
	driver  string
	logger  *zap.Logger
	breaker *circuitbreaker.DatabaseWrapper
}

// Open connects to driver ("postgres" or "sqlite3") using dsn and ensures
// the audit tables exist.
func Open(driver, dsn string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: connect %s: %w", driver, err)
	}
	s := &Store{
		db:      db,
		driver:  driver,
		logger:  logger,
		breaker: circuitbreaker.NewDatabaseWrapper(db.DB, logger),
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewWithDB wraps an already-open *sqlx.DB (used by tests against
// sqlmock, where Open's real driver connection can't be exercised).
func NewWithDB(db *sqlx.DB, driver string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, driver: driver, logger: logger, breaker: circuitbreaker.NewDatabaseWrapper(db.DB, logger)}
}

// Ping checks the audit database's liveness, routed through the circuit
// breaker so repeated failures fail fast instead of piling up blocked
// connection attempts.
func (s *Store) Ping(ctx context.Context) error {
	return s.breaker.PingContext(ctx)
}

func (s *Store) migrate() error {
	blobType := "TEXT"
	idType := "TEXT"
	if s.driver == "postgres" {
		idType = "UUID"
	}
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS alert_audit_log (
			id %s PRIMARY KEY,
			device_id %s NOT NULL,
			format_urn %s NOT NULL,
			attribute %s NOT NULL,
			severity %s NOT NULL,
			fields %s NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`, idType, blobType, blobType, blobType, blobType, blobType),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS action_audit_log (
			id %s PRIMARY KEY,
			device_id %s NOT NULL,
			attribute %s NOT NULL,
			name %s NOT NULL,
			args %s NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`, idType, blobType, blobType, blobType, blobType),
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("audit: migrate: %w", err)
		}
	}
	return nil
}

// RecordAlert appends one alert to the trail.
func (s *Store) RecordAlert(ctx context.Context, deviceID string, alert functions.Alert) error {
	fields, err := json.Marshal(alert.Fields)
	if err != nil {
		return fmt.Errorf("audit: marshal alert fields: %w", err)
	}
	rec := AlertRecord{
		ID:        uuid.New(),
		DeviceID:  deviceID,
		FormatURN: alert.FormatURN,
		Attribute: alert.Attribute,
		Severity:  alert.Severity.String(),
		Fields:    string(fields),
		CreatedAt: time.Now(),
	}
	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO alert_audit_log (id, device_id, format_urn, attribute, severity, fields, created_at)
		VALUES (:id, :device_id, :format_urn, :attribute, :severity, :fields, :created_at)`, rec)
	if err != nil {
		return fmt.Errorf("audit: insert alert: %w", err)
	}
	return nil
}

// RecordAction appends one action invocation to the trail.
func (s *Store) RecordAction(ctx context.Context, deviceID string, inv functions.ActionInvocation) error {
	args, err := json.Marshal(inv.Args)
	if err != nil {
		return fmt.Errorf("audit: marshal action args: %w", err)
	}
	rec := ActionRecord{
		ID:        uuid.New(),
		DeviceID:  deviceID,
		Attribute: inv.Attribute,
		Name:      inv.Name,
		Args:      string(args),
		CreatedAt: time.Now(),
	}
	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO action_audit_log (id, device_id, attribute, name, args, created_at)
		VALUES (:id, :device_id, :attribute, :name, :args, :created_at)`, rec)
	if err != nil {
		return fmt.Errorf("audit: insert action: %w", err)
	}
	return nil
}

// RecentAlerts returns up to limit alert records for deviceID, newest
// first.
func (s *Store) RecentAlerts(ctx context.Context, deviceID string, limit int) ([]AlertRecord, error) {
	var out []AlertRecord
	query := s.db.Rebind(`
		SELECT id, device_id, format_urn, attribute, severity, fields, created_at
		FROM alert_audit_log WHERE device_id = ? ORDER BY created_at DESC LIMIT ?`)
	err := s.db.SelectContext(ctx, &out, query, deviceID, limit)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("audit: query recent alerts: %w", err)
	}
	return out, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
