// Package persistence defines repository interfaces for every entity in
// SPEC_FULL.md §3 and their Postgres implementations. Grounded on the
// teacher's internal/persistence/interfaces.go (interface-per-aggregate,
// context-first methods) and its postgres/trades_repo.go /
// postgres/regime_repo.go implementations (sqlx transactions, pq.Error
// 23505 idempotency-conflict detection, ON CONFLICT upsert SQL).
package persistence

import (
	"context"
	"time"

	"github.com/sawpanic/stratum/internal/domain"
)

// GameRepository persists canonical sportsbook events.
type GameRepository interface {
	Upsert(ctx context.Context, g domain.Game) error
	Get(ctx context.Context, eventID string) (*domain.Game, error)
	ListUpcoming(ctx context.Context, within time.Duration) ([]domain.Game, error)
	// ListRecentlyFinished returns games whose commence_time falls in
	// [since, until), newest first — internal/closing's backfill job scans
	// this for candidates missing a closing consensus.
	ListRecentlyFinished(ctx context.Context, since, until time.Time) ([]domain.Game, error)
}

// OddsSnapshotRepository persists append-only per-book quote observations.
type OddsSnapshotRepository interface {
	InsertBatch(ctx context.Context, snapshots []domain.OddsSnapshot) (int, error)
	LatestPerBook(ctx context.Context, eventID string, market domain.Market, lookback time.Duration, asOf time.Time) ([]domain.OddsSnapshot, error)
	// InWindow returns every raw observation (not deduped to latest-per-book)
	// for eventIDs/market within [asOf-lookback, asOf], ordered by event_id,
	// fetched_at; internal/signals' move/steam/multibook rules regroup the rows
	// per book and sort each group to compare earliest vs latest per book.
	InWindow(ctx context.Context, eventIDs []string, market domain.Market, lookback time.Duration, asOf time.Time) ([]domain.OddsSnapshot, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// ConsensusRepository persists computed median/dispersion rows.
type ConsensusRepository interface {
	Upsert(ctx context.Context, snap domain.MarketConsensusSnapshot) error
	// UpsertMany writes every snapshot from one consensus cycle in a single
	// transaction, committing once so a mid-batch failure never leaves a
	// partially-persisted cycle.
	UpsertMany(ctx context.Context, snaps []domain.MarketConsensusSnapshot) error
	Latest(ctx context.Context, eventID string, market domain.Market, outcomeName string) (*domain.MarketConsensusSnapshot, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// QuoteMoveRepository persists per-venue line/price change events.
type QuoteMoveRepository interface {
	Insert(ctx context.Context, mv domain.QuoteMoveEvent) (int64, error)
	RecentForOutcome(ctx context.Context, eventID string, market domain.Market, outcomeName string, since time.Time) ([]domain.QuoteMoveEvent, error)
}

// StructuralEventRepository persists confirmed threshold breaks and their
// per-venue participation rows.
type StructuralEventRepository interface {
	InsertWithParticipation(ctx context.Context, ev domain.StructuralEvent, participation []domain.StructuralEventVenueParticipation) (int64, error)
	OpenEvents(ctx context.Context, eventID string, market domain.Market, outcomeName string) ([]domain.StructuralEvent, error)
	MarkReversal(ctx context.Context, id int64, at time.Time) error
	UpdateHoldMetrics(ctx context.Context, id int64, dispersionPost float64, holdMinutes float64) error
	// ByEventID returns every structural event for a sportsbook event id
	// (any market/outcome), confirmation_timestamp ascending — internal/
	// crossmarket's lead/lag aligner walks the full set.
	ByEventID(ctx context.Context, eventID string) ([]domain.StructuralEvent, error)
	// LatestSince returns the most recently confirmed structural event for a
	// sportsbook event id confirmed at or after since, or nil if none.
	LatestSince(ctx context.Context, eventID string, since time.Time) (*domain.StructuralEvent, error)
}

// SignalRepository persists emitted detections.
type SignalRepository interface {
	Insert(ctx context.Context, s domain.Signal) error
	Get(ctx context.Context, id string) (*domain.Signal, error)
	ListSince(ctx context.Context, since time.Time, signalType *domain.SignalType, minStrength int) ([]domain.Signal, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// AlignmentRepository persists the sportsbook-to-exchange event bridge.
type AlignmentRepository interface {
	Upsert(ctx context.Context, a domain.CanonicalEventAlignment) error
	ByCanonicalKey(ctx context.Context, key string) (*domain.CanonicalEventAlignment, error)
	BySportsbookEventID(ctx context.Context, eventID string) (*domain.CanonicalEventAlignment, error)
	ListUnaligned(ctx context.Context) ([]domain.CanonicalEventAlignment, error)
}

// ExchangeQuoteRepository persists append-only exchange probability observations.
type ExchangeQuoteRepository interface {
	InsertBatch(ctx context.Context, quotes []domain.ExchangeQuoteEvent) (int, error)
	RecentForMarket(ctx context.Context, canonicalEventKey string, source domain.ExchangeSource, since time.Time) ([]domain.ExchangeQuoteEvent, error)
	// RecentForEvent returns quotes for a canonical event across every
	// exchange source, timestamp ascending — internal/crossmarket's crossing
	// detector groups these by (source, market_id) itself.
	RecentForEvent(ctx context.Context, canonicalEventKey string, since time.Time) ([]domain.ExchangeQuoteEvent, error)
}

// LeadLagRepository persists cross-market lead/lag observations.
type LeadLagRepository interface {
	Insert(ctx context.Context, ev domain.CrossMarketLeadLagEvent) (int64, error)
}

// DivergenceRepository persists cross-market divergence classification rows.
type DivergenceRepository interface {
	Upsert(ctx context.Context, ev domain.CrossMarketDivergenceEvent) error
	Unresolved(ctx context.Context, canonicalEventKey string) ([]domain.CrossMarketDivergenceEvent, error)
	MarkResolved(ctx context.Context, idempotencyKey string, at time.Time, resolutionType string) error
}

// ClosingConsensusRepository persists last-pre-tipoff snapshots.
type ClosingConsensusRepository interface {
	Upsert(ctx context.Context, cc domain.ClosingConsensus) error
	Get(ctx context.Context, eventID string, market domain.Market, outcomeName string) (*domain.ClosingConsensus, error)
	// MarketsForEvent returns the distinct markets already closed for an
	// event, used by the backfill job to skip markets it has already filled.
	MarketsForEvent(ctx context.Context, eventID string) ([]domain.Market, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// ClvRepository persists closing-line-value outcomes.
type ClvRepository interface {
	Upsert(ctx context.Context, c domain.ClvRecord) error
	ListForSignal(ctx context.Context, signalID string) (*domain.ClvRecord, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	// RecentRecords returns every CLV row computed at or after since, used by
	// internal/retention's performance dashboard to group win rate by
	// signal_type/market without a bespoke SQL aggregation per call site.
	RecentRecords(ctx context.Context, since time.Time) ([]domain.ClvRecord, error)
}

// CycleKpiRepository persists per-cycle audit rows.
type CycleKpiRepository interface {
	Insert(ctx context.Context, k domain.CycleKpi) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	RecentSummary(ctx context.Context, since time.Time) (CycleKpiSummary, error)
}

// CycleKpiSummary is an aggregated view over recent CycleKpi rows.
type CycleKpiSummary struct {
	CycleCount         int     `db:"cycle_count"`
	AvgDurationMS      float64 `db:"avg_duration_ms"`
	TotalSignals       int     `db:"total_signals"`
	TotalAlertsSent    int     `db:"total_alerts_sent"`
	TotalAlertsFailed  int     `db:"total_alerts_failed"`
	DegradedCycleCount int     `db:"degraded_cycle_count"`
}

// SubscriberRepository reads the minimal owned subscriber projection.
type SubscriberRepository interface {
	ListActive(ctx context.Context) ([]domain.Subscriber, error)
	Get(ctx context.Context, id string) (*domain.Subscriber, error)
}

// WebhookDeliveryRepository audits webhook delivery attempts.
type WebhookDeliveryRepository interface {
	Insert(ctx context.Context, o domain.WebhookDeliveryOutcome) error
	RecentForSubscriber(ctx context.Context, subscriberID string, since time.Time) ([]domain.WebhookDeliveryOutcome, error)
}
