package signals

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sawpanic/stratum/internal/kv"
)

// dedupeSignal claims key for ttl via the shared KV store, returning true
// when the caller should suppress emission (a prior claim is still live).
// Ported as `_dedupe_signal`: a KV failure degrades to "not deduped" rather
// than blocking detection.
func dedupeSignal(ctx context.Context, store *kv.Store, key string, ttl time.Duration) bool {
	if store == nil {
		return false
	}
	claimed, err := store.Dedupe(ctx, key, ttl)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("signals: redis dedupe failed, not deduping")
		return false
	}
	return !claimed
}
