// Package retention implements C10: manual, operator-invoked deletion of
// workflows (and their cascading children) older than a configured age.
// This is never run on a timer — spec's retention Open Question resolves
// to admin-CLI-only, so the only caller of Run is cmd/relbotctl.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360studio/relbot/pkg/sqlstore"
)

// DefaultMaxAge is the 60-day retention window spec §4.10 names.
const DefaultMaxAge = 60 * 24 * time.Hour

// Run deletes workflows older than maxAge and returns how many were removed.
func Run(ctx context.Context, store *sqlstore.Store, logger *slog.Logger, maxAge time.Duration) (int64, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cutoff := time.Now().Add(-maxAge)
	n, err := store.CleanupOldData(ctx, cutoff)
	if err != nil {
		return n, fmt.Errorf("retention: cleanup: %w", err)
	}
	logger.Info("retention: cleanup complete", "deleted", n, "cutoff", cutoff)
	return n, nil
}
