package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sawpanic/stratum/internal/domain"
)

// allowed applies a subscriber's SubscriberPrefs to one signal: the market
// gate, the minimum strength floor, and a per-(subscriber, market) cooldown
// claimed through the shared KV store — the same SET-NX-EX dedupe shape
// internal/signals uses for its own emission cooldown.
func (d *Dispatcher) allowed(ctx context.Context, sub domain.Subscriber, strength int, market domain.Market) bool {
	if !marketAllowed(sub, market) {
		return false
	}
	if strength < sub.Preferences.MinStrength {
		return false
	}
	if sub.Preferences.CooldownSeconds <= 0 {
		return true
	}
	key := fmt.Sprintf("alerts:cooldown:%s:%s", sub.ID, market)
	if d.store == nil {
		return true
	}
	claimed, err := d.store.Cooldown(ctx, key, time.Duration(sub.Preferences.CooldownSeconds)*time.Second)
	if err != nil {
		log.Warn().Err(err).Str("subscriber_id", sub.ID).Msg("alerts: cooldown check failed, not suppressing")
		return true
	}
	return claimed
}

func marketAllowed(sub domain.Subscriber, market domain.Market) bool {
	if len(sub.Preferences.MarketGates) == 0 {
		return true
	}
	for _, m := range sub.Preferences.MarketGates {
		if m == market {
			return true
		}
	}
	return false
}
