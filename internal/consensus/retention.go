package consensus

import (
	"context"
	"time"

	"github.com/sawpanic/stratum/internal/persistence"
)

// PurgeOlderThan removes consensus rows older than retentionDays, grounded
// on original_source consensus.py's cleanup_old_consensus_snapshots. Called
// from internal/retention's sweep loop (C11), not the per-cycle path.
func PurgeOlderThan(ctx context.Context, repo persistence.ConsensusRepository, retentionDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	return repo.DeleteOlderThan(ctx, cutoff)
}
