// Package quotemoves builds the append-only per-venue quote-move ledger
// (C4) that internal/structural walks over. Grounded on spec.md's venue-tier
// classification (pinnacle as the canonical T1 example) and the teacher's
// plain static-map lookup style for classification tables.
package quotemoves

import "github.com/sawpanic/stratum/internal/domain"

// VenueTiers maps a sportsbook key to its sharpness tier. Operators can
// extend this via VenueTiers.Set without redeploying the detection logic.
type VenueTiers struct {
	tiers map[string]domain.VenueTier
}

// DefaultVenueTiers seeds the well-known T1 (sharp) and T2 books; anything
// unlisted defaults to T3.
func DefaultVenueTiers() *VenueTiers {
	return &VenueTiers{tiers: map[string]domain.VenueTier{
		"pinnacle":    domain.VenueTierT1,
		"circasports": domain.VenueTierT1,
		"draftkings":  domain.VenueTierT2,
		"fanduel":     domain.VenueTierT2,
		"betmgm":      domain.VenueTierT2,
		"caesars":     domain.VenueTierT2,
	}}
}

// Set overrides or adds a venue's tier.
func (v *VenueTiers) Set(venue string, tier domain.VenueTier) {
	v.tiers[venue] = tier
}

// TierOf returns venue's tier, defaulting to T3 when unclassified.
func (v *VenueTiers) TierOf(venue string) domain.VenueTier {
	if t, ok := v.tiers[venue]; ok {
		return t
	}
	return domain.VenueTierT3
}
