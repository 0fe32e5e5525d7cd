// Package audit keeps the append-only record of security-relevant actions:
// who did what to which entity, and when.
//
// A [Recorder] stamps each [Event] with an id and a timestamp and appends it
// to a [Store]. Recording happens after the business action it describes
// has completed, so a recording failure is reported to the caller and to
// the error log but never undoes that action.
//
//	rec := audit.NewRecorder(audit.Tee(pgStore, archive))
//	if _, err := rec.Record(ctx, audit.Event{
//		PrincipalID: identity.UserID(),
//		Action:      "user.deactivate",
//		EntityType:  "user",
//		EntityID:    userID,
//	}); err != nil {
//		// the user stays deactivated; err is INT_004
//	}
package audit

import (
	"context"
	"time"
)

// Event describes an action that has already happened.
type Event struct {
	PrincipalID string         `json:"principal_id"`
	Action      string         `json:"action"`
	EntityType  string         `json:"entity_type"`
	EntityID    string         `json:"entity_id,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`

	// Request origin.
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// Entry is a recorded Event. Entries are never mutated or deleted.
type Entry struct {
	ID string `json:"id"`
	Event
	Timestamp time.Time `json:"timestamp"`
}

// Store appends entries durably.
type Store interface {
	Append(ctx context.Context, entry Entry) error
}
