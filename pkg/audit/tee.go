package audit

import (
	"context"
	"log/slog"
)

// TeeStore appends to a primary store and then to archives.
type TeeStore struct {
	primary  Store
	archives []Store
	logger   *slog.Logger
}

// Tee returns a store that appends to primary and, once that succeeds, to
// every archive. Only a primary failure fails the append; archive failures
// are logged at Warn.
func Tee(primary Store, archives ...Store) *TeeStore {
	return &TeeStore{primary: primary, archives: archives, logger: slog.Default()}
}

// WithLogger sets the logger archive failures are reported to.
func (t *TeeStore) WithLogger(l *slog.Logger) *TeeStore {
	t.logger = l
	return t
}

// Append implements Store.
func (t *TeeStore) Append(ctx context.Context, e Entry) error {
	if err := t.primary.Append(ctx, e); err != nil {
		return err
	}
	for i, archive := range t.archives {
		if err := archive.Append(ctx, e); err != nil {
			t.logger.WarnContext(ctx, "audit: archive append failed",
				"archive", i, "entry_id", e.ID, "action", e.Action, "error", err)
		}
	}
	return nil
}
