// Package directory is the PostgreSQL user directory. [PostgresStore]
// implements auth.IdentityStore for the request path and carries the
// administrative operations that provision, re-role and deactivate users.
//
// Users are created here explicitly. A valid token for a subject the
// directory does not know never creates an account.
package directory

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/StricklySoft/stricklysoft-authz/pkg/auth"
	"github.com/StricklySoft/stricklysoft-authz/pkg/clients/postgres"
	sserr "github.com/StricklySoft/stricklysoft-authz/pkg/errors"
)

const uniqueViolation = "23505"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id              UUID PRIMARY KEY,
		external_id     TEXT NOT NULL UNIQUE,
		email           TEXT NOT NULL,
		organization_id TEXT,
		is_active       BOOLEAN NOT NULL DEFAULT TRUE,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS user_roles (
		user_id UUID NOT NULL REFERENCES users (id) ON DELETE CASCADE,
		role    TEXT NOT NULL,
		PRIMARY KEY (user_id, role)
	)`,
}

const (
	selectUserByExternalID = `SELECT id::text, external_id, email, COALESCE(organization_id, ''), is_active
		FROM users WHERE external_id = $1`
	selectRoles = `SELECT role FROM user_roles WHERE user_id = $1 ORDER BY role`
	insertUser  = `INSERT INTO users (id, external_id, email, organization_id, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), TRUE, $5, $5)`
	insertRoles = `INSERT INTO user_roles (user_id, role) SELECT $1::uuid, unnest($2::text[])`
	deleteRoles = `DELETE FROM user_roles WHERE user_id = $1`
	touchUser   = `UPDATE users SET updated_at = $2 WHERE id = $1`
	deactivate  = `UPDATE users SET is_active = FALSE, updated_at = $2 WHERE id = $1`
)

// NewUser describes a user to provision.
type NewUser struct {
	// ExternalID is the identity provider's subject id. Required.
	ExternalID string

	// Email is required.
	Email string

	// OrganizationID is empty for users outside any organization.
	OrganizationID string

	Roles []auth.Role
}

// Option customizes a PostgresStore.
type Option func(*PostgresStore)

// WithClock sets the clock used for created_at and updated_at.
func WithClock(c auth.Clock) Option {
	return func(s *PostgresStore) { s.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *PostgresStore) { s.logger = l }
}

// WithRoleTable rejects roles the table does not define. Without it any
// non-empty role name is accepted.
func WithRoleTable(t *auth.RoleTable) Option {
	return func(s *PostgresStore) { s.roles = t }
}

// PostgresStore is safe for concurrent use.
type PostgresStore struct {
	db     *postgres.Client
	clock  auth.Clock
	roles  *auth.RoleTable
	logger *slog.Logger
}

var _ auth.IdentityStore = (*PostgresStore)(nil)

// NewPostgresStore returns a store over db.
func NewPostgresStore(db *postgres.Client, opts ...Option) *PostgresStore {
	s := &PostgresStore{
		db:     db,
		clock:  auth.SystemClock,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureSchema creates the users and user_roles tables when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// FindUserByExternalID implements auth.IdentityStore.
func (s *PostgresStore) FindUserByExternalID(ctx context.Context, externalID string) (auth.UserRecord, bool, error) {
	var u auth.UserRecord
	err := s.db.QueryRow(ctx, selectUserByExternalID, externalID).
		Scan(&u.ID, &u.ExternalID, &u.Email, &u.OrganizationID, &u.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return auth.UserRecord{}, false, nil
	}
	if err != nil {
		return auth.UserRecord{}, false, storeError(err, "directory: find user failed")
	}
	return u, true, nil
}

// RolesOf implements auth.IdentityStore. Roles come back sorted.
func (s *PostgresStore) RolesOf(ctx context.Context, userID string) ([]auth.Role, error) {
	rows, err := s.db.Query(ctx, selectRoles, userID)
	if err != nil {
		return nil, err
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, storeError(err, "directory: read roles failed")
	}
	roles := make([]auth.Role, len(names))
	for i, name := range names {
		roles[i] = auth.Role(name)
	}
	return roles, nil
}

// Provision creates an active user with the given roles in one
// transaction. A second user with the same external id is CONF_002.
func (s *PostgresStore) Provision(ctx context.Context, nu NewUser) (auth.UserRecord, error) {
	nu.ExternalID = strings.TrimSpace(nu.ExternalID)
	nu.Email = strings.TrimSpace(nu.Email)
	if nu.ExternalID == "" {
		return auth.UserRecord{}, sserr.New(sserr.CodeValidationRequired, "directory: external id is required")
	}
	if nu.Email == "" {
		return auth.UserRecord{}, sserr.New(sserr.CodeValidationRequired, "directory: email is required")
	}
	roles, err := s.normalizeRoles(nu.Roles)
	if err != nil {
		return auth.UserRecord{}, err
	}

	user := auth.UserRecord{
		ID:             uuid.NewString(),
		ExternalID:     nu.ExternalID,
		Email:          nu.Email,
		OrganizationID: nu.OrganizationID,
		Active:         true,
	}
	now := s.clock.Now().UTC()
	err = s.db.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, insertUser, user.ID, user.ExternalID, user.Email, user.OrganizationID, now); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return sserr.Wrap(err, sserr.CodeConflictAlreadyExists,
					"directory: a user with this external id already exists")
			}
			return err
		}
		return insertRoleRows(ctx, tx, user.ID, roles)
	})
	if err != nil {
		return auth.UserRecord{}, err
	}
	s.logger.InfoContext(ctx, "directory: user provisioned",
		"user_id", user.ID, "organization_id", user.OrganizationID, "roles", roles)
	return user, nil
}

// SetRoles replaces the roles of userID in one transaction. An unknown
// user is NF_002. The change applies to the user's next request.
func (s *PostgresStore) SetRoles(ctx context.Context, userID string, roles []auth.Role) error {
	normalized, err := s.normalizeRoles(roles)
	if err != nil {
		return err
	}
	err = s.db.WithTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, touchUser, userID, s.clock.Now().UTC())
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return userNotFound(userID)
		}
		if _, err := tx.Exec(ctx, deleteRoles, userID); err != nil {
			return err
		}
		return insertRoleRows(ctx, tx, userID, normalized)
	})
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "directory: roles replaced", "user_id", userID, "roles", normalized)
	return nil
}

// Deactivate marks userID inactive. Its valid tokens are rejected from the
// next request on. An unknown user is NF_002.
func (s *PostgresStore) Deactivate(ctx context.Context, userID string) error {
	tag, err := s.db.Exec(ctx, deactivate, userID, s.clock.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return userNotFound(userID)
	}
	s.logger.InfoContext(ctx, "directory: user deactivated", "user_id", userID)
	return nil
}

// normalizeRoles sorts and de-duplicates roles and rejects empty or
// undefined ones.
func (s *PostgresStore) normalizeRoles(roles []auth.Role) ([]string, error) {
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		if r == "" {
			return nil, sserr.New(sserr.CodeValidation, "directory: role must not be empty")
		}
		if s.roles != nil && !s.roles.Has(r) {
			return nil, sserr.Newf(sserr.CodeValidation, "directory: role %q is not defined", r).
				WithDetail("role", string(r))
		}
		out = append(out, string(r))
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

func insertRoleRows(ctx context.Context, tx pgx.Tx, userID string, roles []string) error {
	if len(roles) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, insertRoles, userID, roles)
	return err
}

func userNotFound(userID string) error {
	return sserr.New(sserr.CodeNotFoundUser, "directory: user not found").WithDetail("user_id", userID)
}

// storeError classifies an error surfaced outside the client wrapper, such
// as one returned by Scan.
func storeError(err error, message string) error {
	if _, coded := sserr.AsError(err); coded {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return sserr.Wrap(err, sserr.CodeTimeoutDatabase, message)
	}
	return sserr.Wrap(err, sserr.CodeInternalDatabase, message)
}
