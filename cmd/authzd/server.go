package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/StricklySoft/stricklysoft-authz/pkg/audit"
	"github.com/StricklySoft/stricklysoft-authz/pkg/auth"
	sserr "github.com/StricklySoft/stricklysoft-authz/pkg/errors"
	"github.com/StricklySoft/stricklysoft-authz/pkg/lifecycle"
)

// Audit vocabulary for the routes below.
const (
	actionDeactivateUser = "user.deactivate"
	entityUser           = "user"
)

type userDeactivator interface {
	Deactivate(ctx context.Context, userID string) error
}

type eventRecorder interface {
	Record(ctx context.Context, ev audit.Event) (audit.Entry, error)
}

type auditLister interface {
	List(ctx context.Context, f audit.Filter) ([]audit.Entry, error)
}

// archiveReader reads back one UTC day of archived entries.
type archiveReader interface {
	ListDay(ctx context.Context, day time.Time) ([]audit.Entry, error)
}

// server holds the demo API. Every route except the health checks declares its
// AccessRequirement at registration.
type server struct {
	gate     *auth.Gatekeeper
	service  *lifecycle.Service
	users    userDeactivator
	recorder eventRecorder
	entries  auditLister
	archive  archiveReader // nil when archiving is disabled
	logger   *slog.Logger
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	mux.Handle("GET /v1/me",
		auth.Protect(s.gate, auth.Authenticated(), http.HandlerFunc(s.handleMe)))
	mux.Handle("GET /v1/projects",
		auth.Protect(s.gate, auth.RequirePermissions(auth.PermReadProjects), http.HandlerFunc(s.handleProjects)))
	mux.Handle("POST /v1/users/{id}/deactivate",
		auth.Protect(s.gate,
			auth.RequireRoles(auth.RoleSystemAdmin, auth.RoleBranchAdmin).WithPermissions(auth.PermWriteUsers),
			http.HandlerFunc(s.handleDeactivate)))
	mux.Handle("GET /v1/audit",
		auth.Protect(s.gate, auth.RequireRoles(auth.RoleSystemAdmin), http.HandlerFunc(s.handleAudit)))
	mux.Handle("GET /v1/audit/archive/{day}",
		auth.Protect(s.gate, auth.RequireRoles(auth.RoleSystemAdmin), http.HandlerFunc(s.handleArchive)))
	return mux
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	if err := s.service.Health(r.Context()); err != nil {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, r, status, s.service.Info())
}

func (s *server) handleReady(w http.ResponseWriter, r *http.Request) {
	report := s.service.Ready(r.Context())
	status := http.StatusOK
	if !report.Ready() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, r, status, report)
}

type meResponse struct {
	UserID         string      `json:"user_id"`
	Subject        string      `json:"subject"`
	Email          string      `json:"email"`
	OrganizationID string      `json:"organization_id,omitempty"`
	Roles          []auth.Role `json:"roles"`
	Permissions    []string    `json:"permissions"`
}

func (s *server) handleMe(w http.ResponseWriter, r *http.Request) {
	id := auth.MustIdentityFromContext(r.Context())
	writeJSON(w, r, http.StatusOK, meResponse{
		UserID:         id.UserID(),
		Subject:        id.SubjectID(),
		Email:          id.Email(),
		OrganizationID: id.OrganizationID(),
		Roles:          id.Roles(),
		Permissions:    id.Permissions().Strings(),
	})
}

type project struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// demoProjects stands in for the project service that would normally sit
// behind this route.
var demoProjects = []project{
	{ID: "prj-0001", Name: "Riverside Clinic renovation"},
	{ID: "prj-0002", Name: "North depot roof survey"},
}

func (s *server) handleProjects(w http.ResponseWriter, r *http.Request) {
	id := auth.MustIdentityFromContext(r.Context())
	writeJSON(w, r, http.StatusOK, map[string]any{
		"organization_id": id.OrganizationID(),
		"projects":        demoProjects,
	})
}

func (s *server) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := auth.MustIdentityFromContext(ctx)

	target := r.PathValue("id")
	if err := uuid.Validate(target); err != nil {
		auth.WriteError(w, r, sserr.Wrapf(err, sserr.CodeValidationFormat, "authzd: user id %q is not a UUID", target))
		return
	}
	if target == actor.UserID() {
		auth.WriteError(w, r, sserr.New(sserr.CodeConflict, "authzd: users cannot deactivate themselves"))
		return
	}
	if err := s.users.Deactivate(ctx, target); err != nil {
		if sserr.IsServerError(err) {
			s.logger.ErrorContext(ctx, "authzd: deactivation failed", "user_id", target, "error", err)
		}
		auth.WriteError(w, r, err)
		return
	}

	ev := audit.Event{
		PrincipalID: actor.UserID(),
		Action:      actionDeactivateUser,
		EntityType:  entityUser,
		EntityID:    target,
		Metadata:    map[string]any{"roles": actor.Roles()},
	}.WithRequest(r)
	if _, err := s.recorder.Record(ctx, ev); err != nil {
		// The deactivation has happened; the recorder already logged the
		// entry that is missing.
		s.logger.WarnContext(ctx, "authzd: deactivation completed without an audit entry",
			"user_id", target, "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleAudit(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		auth.WriteError(w, r, err)
		return
	}
	entries, err := s.entries.List(r.Context(), f)
	if err != nil {
		auth.WriteError(w, r, err)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"entries": entries})
}

// handleArchive returns the entries archived on one UTC day (YYYY-MM-DD),
// oldest first.
func (s *server) handleArchive(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		auth.WriteError(w, r, sserr.New(sserr.CodeNotFound, "authzd: audit archive is not enabled"))
		return
	}
	day, err := time.Parse(time.DateOnly, r.PathValue("day"))
	if err != nil {
		auth.WriteError(w, r, sserr.Wrap(err, sserr.CodeValidationFormat, "authzd: day must be YYYY-MM-DD"))
		return
	}
	entries, err := s.archive.ListDay(r.Context(), day)
	if err != nil {
		if sserr.IsServerError(err) {
			s.logger.ErrorContext(r.Context(), "authzd: archive read failed", "day", day.Format(time.DateOnly), "error", err)
		}
		auth.WriteError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"day": day.Format(time.DateOnly), "entries": entries})
}

// parseFilter reads principal_id, action, entity_type, entity_id, since,
// until (RFC 3339) and limit from the query string.
func parseFilter(r *http.Request) (audit.Filter, error) {
	q := r.URL.Query()
	f := audit.Filter{
		PrincipalID: q.Get("principal_id"),
		Action:      q.Get("action"),
		EntityType:  q.Get("entity_type"),
		EntityID:    q.Get("entity_id"),
	}
	for name, dst := range map[string]*time.Time{"since": &f.Since, "until": &f.Until} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return audit.Filter{}, sserr.Wrapf(err, sserr.CodeValidationFormat,
				"authzd: %s must be an RFC 3339 timestamp", name)
		}
		*dst = t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return audit.Filter{}, sserr.Wrap(err, sserr.CodeValidationFormat, "authzd: limit must be an integer")
		}
		f.Limit = n
	}
	return f, nil
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.WarnContext(r.Context(), "authzd: failed to write response", "error", err)
	}
}
