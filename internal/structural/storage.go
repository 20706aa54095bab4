package structural

import "github.com/sawpanic/stratum/internal/domain"

// toStorageRows converts a confirmed group and its computed metrics into the
// persistence-shaped StructuralEvent and its venue-participation rows.
func toStorageRows(group ConfirmationResult, m metrics) (domain.StructuralEvent, []domain.StructuralEventVenueParticipation) {
	adoptionPct := m.adoptionPercentage
	ev := domain.StructuralEvent{
		EventID:                group.EventID,
		MarketKey:              group.Market,
		OutcomeName:            group.OutcomeName,
		ThresholdValue:         group.ThresholdValue,
		ThresholdType:          group.ThresholdType,
		BreakDirection:         group.BreakDirection,
		OriginVenue:            group.OriginVenue,
		OriginVenueTier:        group.OriginVenueTier,
		OriginTimestamp:        group.OriginTimestamp,
		ConfirmationTimestamp:  group.ConfirmationTimestamp,
		AdoptionPercentage:     &adoptionPct,
		AdoptionCount:          m.adoptionCount,
		ActiveVenueCount:       m.activeVenueCount,
		TimeToConsensusSeconds: &m.timeToConsensusSecs,
		DispersionPre:          m.dispersionPre,
		DispersionPost:         m.dispersionPost,
		BreakHoldMinutes:       &m.breakHoldMinutes,
		ReversalDetected:       m.reversalDetected,
		ReversalTimestamp:      m.reversalTimestamp,
	}

	participation := make([]domain.StructuralEventVenueParticipation, 0, len(m.participatingVenues))
	for _, c := range m.participatingVenues {
		participation = append(participation, domain.StructuralEventVenueParticipation{
			Venue:      c.Venue,
			VenueTier:  c.VenueTier,
			CrossedAt:  c.Timestamp,
			LineBefore: c.LineBefore,
			LineAfter:  c.LineAfter,
			Delta:      c.Delta,
		})
	}
	return ev, participation
}
