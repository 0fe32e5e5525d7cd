package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/StricklySoft/stricklysoft-authz/pkg/clients/postgres"
	sserr "github.com/StricklySoft/stricklysoft-authz/pkg/errors"
)

// List limits.
const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS audit_entries (
		seq          BIGINT GENERATED ALWAYS AS IDENTITY,
		id           UUID PRIMARY KEY,
		principal_id TEXT NOT NULL,
		action       TEXT NOT NULL,
		entity_type  TEXT NOT NULL,
		entity_id    TEXT NOT NULL DEFAULT '',
		metadata     JSONB,
		ip_address   TEXT NOT NULL DEFAULT '',
		user_agent   TEXT NOT NULL DEFAULT '',
		request_id   TEXT NOT NULL DEFAULT '',
		recorded_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS audit_entries_principal_idx ON audit_entries (principal_id, seq)`,
	`CREATE INDEX IF NOT EXISTS audit_entries_entity_idx ON audit_entries (entity_type, entity_id, seq)`,
}

const insertEntry = `INSERT INTO audit_entries
	(id, principal_id, action, entity_type, entity_id, metadata, ip_address, user_agent, request_id, recorded_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

const selectEntries = `SELECT id::text, principal_id, action, entity_type, entity_id, COALESCE(metadata::text, ''),
	ip_address, user_agent, request_id, recorded_at FROM audit_entries`

// PostgresStore appends entries to the audit_entries table. It only ever
// inserts; retention belongs to whoever operates the database.
type PostgresStore struct {
	db *postgres.Client
}

// NewPostgresStore returns a store over db.
func NewPostgresStore(db *postgres.Client) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the audit_entries table and its indexes when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Append implements Store.
func (s *PostgresStore) Append(ctx context.Context, e Entry) error {
	var metadata []byte
	if len(e.Metadata) > 0 {
		var err error
		if metadata, err = json.Marshal(e.Metadata); err != nil {
			return sserr.Wrap(err, sserr.CodeValidationFormat, "audit: metadata is not JSON-encodable")
		}
	}
	_, err := s.db.Exec(ctx, insertEntry,
		e.ID, e.PrincipalID, e.Action, e.EntityType, e.EntityID, metadata,
		e.IPAddress, e.UserAgent, e.RequestID, e.Timestamp,
	)
	return err
}

// Filter selects entries for List. Zero fields match everything.
type Filter struct {
	PrincipalID string
	Action      string
	EntityType  string
	EntityID    string

	// Since is inclusive, Until exclusive.
	Since time.Time
	Until time.Time

	// Limit defaults to DefaultListLimit and may not exceed MaxListLimit.
	Limit int
}

func (f Filter) validate() error {
	if f.Limit < 0 || f.Limit > MaxListLimit {
		return sserr.Newf(sserr.CodeValidationRange, "audit: limit must be between 0 and %d", MaxListLimit)
	}
	if !f.Since.IsZero() && !f.Until.IsZero() && !f.Until.After(f.Since) {
		return sserr.New(sserr.CodeValidation, "audit: until must be after since")
	}
	return nil
}

// where renders the filter as a WHERE clause with positional arguments.
func (f Filter) where() (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.PrincipalID != "" {
		add("principal_id = $%d", f.PrincipalID)
	}
	if f.Action != "" {
		add("action = $%d", f.Action)
	}
	if f.EntityType != "" {
		add("entity_type = $%d", f.EntityType)
	}
	if f.EntityID != "" {
		add("entity_id = $%d", f.EntityID)
	}
	if !f.Since.IsZero() {
		add("recorded_at >= $%d", f.Since)
	}
	if !f.Until.IsZero() {
		add("recorded_at < $%d", f.Until)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// List returns the entries matching f, newest first.
func (s *PostgresStore) List(ctx context.Context, f Filter) ([]Entry, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}
	limit := f.Limit
	if limit == 0 {
		limit = DefaultListLimit
	}
	where, args := f.where()
	args = append(args, limit)
	sql := fmt.Sprintf("%s%s ORDER BY seq DESC LIMIT $%d", selectEntries, where, len(args))

	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	entries, err := pgx.CollectRows(rows, scanEntry)
	if err != nil {
		if _, coded := sserr.AsError(err); coded {
			return nil, err
		}
		return nil, sserr.Wrap(err, sserr.CodeInternalDatabase, "audit: read entries failed")
	}
	return entries, nil
}

func scanEntry(row pgx.CollectableRow) (Entry, error) {
	var e Entry
	var metadata string
	if err := row.Scan(&e.ID, &e.PrincipalID, &e.Action, &e.EntityType, &e.EntityID, &metadata,
		&e.IPAddress, &e.UserAgent, &e.RequestID, &e.Timestamp); err != nil {
		return Entry{}, err
	}
	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &e.Metadata); err != nil {
			return Entry{}, sserr.Wrap(err, sserr.CodeInternalDatabase, "audit: stored metadata is not valid JSON")
		}
	}
	e.Timestamp = e.Timestamp.UTC()
	return e, nil
}
