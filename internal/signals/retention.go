package signals

import (
	"context"
	"time"

	"github.com/sawpanic/stratum/internal/persistence"
)

// PurgeOlderThan removes signal rows older than retentionDays. Called from
// internal/retention's sweep loop (C11), not the per-cycle path.
func PurgeOlderThan(ctx context.Context, repo persistence.SignalRepository, retentionDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	return repo.DeleteOlderThan(ctx, cutoff)
}
