package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Market is the canonical market key used across odds and consensus rows.
type Market string

const (
	MarketSpreads Market = "spreads"
	MarketTotals  Market = "totals"
	MarketH2H     Market = "h2h"
)

// VenueTier classifies a sportsbook by how quickly it reflects sharp money.
type VenueTier string

const (
	VenueTierT1 VenueTier = "T1"
	VenueTierT2 VenueTier = "T2"
	VenueTierT3 VenueTier = "T3"
)

// ThresholdType distinguishes integer-number thresholds from half-point ones.
type ThresholdType string

const (
	ThresholdTypeInteger ThresholdType = "INTEGER"
	ThresholdTypeHalf    ThresholdType = "HALF"
)

// BreakDirection is the direction a structural threshold was crossed in.
type BreakDirection string

const (
	BreakDirectionUp   BreakDirection = "UP"
	BreakDirectionDown BreakDirection = "DOWN"
)

// SignalType enumerates every rule the detector in internal/signals can emit.
type SignalType string

const (
	SignalTypeMove               SignalType = "MOVE"
	SignalTypeKeyCross           SignalType = "KEY_CROSS"
	SignalTypeMultibookSync      SignalType = "MULTIBOOK_SYNC"
	SignalTypeDislocation        SignalType = "DISLOCATION"
	SignalTypeSteam              SignalType = "STEAM"
	SignalTypeLiveShock          SignalType = "LIVE_SHOCK"
	SignalTypeExchangeDivergence SignalType = "EXCHANGE_DIVERGENCE"
)

// SignalDirection is the direction of the underlying price move.
type SignalDirection string

const (
	SignalDirectionUp   SignalDirection = "UP"
	SignalDirectionDown SignalDirection = "DOWN"
	SignalDirectionFlat SignalDirection = "FLAT"
)

// TimeBucket is the coarse classification of a signal's timing relative to tipoff.
type TimeBucket string

const (
	TimeBucketOpen    TimeBucket = "OPEN"
	TimeBucketMid     TimeBucket = "MID"
	TimeBucketLate    TimeBucket = "LATE"
	TimeBucketPretip  TimeBucket = "PRETIP"
	TimeBucketInplay  TimeBucket = "INPLAY"
	TimeBucketUnknown TimeBucket = "UNKNOWN"
)

// ComputeTimeBucket applies the exact rule from SPEC_FULL.md §8: PRETIP <=
// [0,15], LATE <= (15,60], MID <= (60,240], OPEN > 240, INPLAY < 0, UNKNOWN
// when tipoff is unknown.
func ComputeTimeBucket(minutesToTip *float64) TimeBucket {
	if minutesToTip == nil {
		return TimeBucketUnknown
	}
	m := *minutesToTip
	switch {
	case m < 0:
		return TimeBucketInplay
	case m <= 15:
		return TimeBucketPretip
	case m <= 60:
		return TimeBucketLate
	case m <= 240:
		return TimeBucketMid
	default:
		return TimeBucketOpen
	}
}

// ExchangeSource identifies a prediction-market exchange.
type ExchangeSource string

const (
	ExchangeSourceKalshi     ExchangeSource = "KALSHI"
	ExchangeSourcePolymarket ExchangeSource = "POLYMARKET"
)

// ExchangeOutcome is the binary outcome name on a prediction-market contract.
type ExchangeOutcome string

const (
	ExchangeOutcomeYes ExchangeOutcome = "YES"
	ExchangeOutcomeNo  ExchangeOutcome = "NO"
)

// LeadSource identifies which venue type moved first in a cross-market comparison.
type LeadSource string

const (
	LeadSourceExchange   LeadSource = "EXCHANGE"
	LeadSourceSportsbook LeadSource = "SPORTSBOOK"
	LeadSourceNone       LeadSource = "NONE"
)

// DivergenceType classifies the relationship between a sportsbook structural
// break and an exchange probability crossing for the same canonical event.
type DivergenceType string

const (
	DivergenceAligned          DivergenceType = "ALIGNED"
	DivergenceExchangeLeads    DivergenceType = "EXCHANGE_LEADS"
	DivergenceSportsbookLeads  DivergenceType = "SPORTSBOOK_LEADS"
	DivergenceOpposed          DivergenceType = "OPPOSED"
	DivergenceUnconfirmed      DivergenceType = "UNCONFIRMED"
	DivergenceReverted         DivergenceType = "REVERTED"
)

// Game is the canonical sportsbook event row. Shared with ingestion only;
// never deleted.
type Game struct {
	EventID      string    `db:"event_id" json:"event_id"`
	SportKey     string    `db:"sport_key" json:"sport_key"`
	CommenceTime time.Time `db:"commence_time" json:"commence_time"`
	HomeTeam     string    `db:"home_team" json:"home_team"`
	AwayTeam     string    `db:"away_team" json:"away_team"`
}

// MinutesToTip returns the signed minutes between asOf and the game's
// commence time, UTC-normalized. Negative once the game has started.
func (g Game) MinutesToTip(asOf time.Time) float64 {
	return g.CommenceTime.UTC().Sub(asOf.UTC()).Minutes()
}

// OddsSnapshot is an append-only per-book quote observation.
type OddsSnapshot struct {
	ID            int64     `db:"id" json:"id"`
	EventID       string    `db:"event_id" json:"event_id"`
	SportKey      string    `db:"sport_key" json:"sport_key"`
	SportsbookKey string    `db:"sportsbook_key" json:"sportsbook_key"`
	Market        Market    `db:"market" json:"market"`
	OutcomeName   string    `db:"outcome_name" json:"outcome_name"`
	Line          *float64  `db:"line" json:"line,omitempty"`
	Price         int       `db:"price" json:"price"`
	FetchedAt     time.Time `db:"fetched_at" json:"fetched_at"`
}

// MarketConsensusSnapshot is the computed per-outcome median/dispersion row.
type MarketConsensusSnapshot struct {
	EventID        string    `db:"event_id" json:"event_id"`
	Market         Market    `db:"market" json:"market"`
	OutcomeName    string    `db:"outcome_name" json:"outcome_name"`
	ConsensusLine  *float64  `db:"consensus_line" json:"consensus_line,omitempty"`
	ConsensusPrice *float64  `db:"consensus_price" json:"consensus_price,omitempty"`
	Dispersion     *float64  `db:"dispersion" json:"dispersion,omitempty"`
	BooksCount     int       `db:"books_count" json:"books_count"`
	FetchedAt      time.Time `db:"fetched_at" json:"fetched_at"`
}

// QuoteMoveEvent records a single venue's line/price change, the raw
// material structural analysis walks over.
type QuoteMoveEvent struct {
	ID          int64     `db:"id" json:"id"`
	EventID     string    `db:"event_id" json:"event_id"`
	MarketKey   Market    `db:"market_key" json:"market_key"`
	OutcomeName string    `db:"outcome_name" json:"outcome_name"`
	Venue       string    `db:"venue" json:"venue"`
	VenueTier   VenueTier `db:"venue_tier" json:"venue_tier"`
	OldLine     *float64  `db:"old_line" json:"old_line,omitempty"`
	NewLine     *float64  `db:"new_line" json:"new_line,omitempty"`
	Delta       *float64  `db:"delta" json:"delta,omitempty"`
	OldPrice    *int      `db:"old_price" json:"old_price,omitempty"`
	NewPrice    *int      `db:"new_price" json:"new_price,omitempty"`
	Timestamp   time.Time `db:"timestamp" json:"timestamp"`
}

// StructuralEvent is a confirmed threshold break.
type StructuralEvent struct {
	ID                     int64          `db:"id" json:"id"`
	EventID                string         `db:"event_id" json:"event_id"`
	MarketKey              Market         `db:"market_key" json:"market_key"`
	OutcomeName            string         `db:"outcome_name" json:"outcome_name"`
	ThresholdValue         float64        `db:"threshold_value" json:"threshold_value"`
	ThresholdType          ThresholdType  `db:"threshold_type" json:"threshold_type"`
	BreakDirection         BreakDirection `db:"break_direction" json:"break_direction"`
	OriginVenue            string         `db:"origin_venue" json:"origin_venue"`
	OriginVenueTier        VenueTier      `db:"origin_venue_tier" json:"origin_venue_tier"`
	OriginTimestamp        time.Time      `db:"origin_timestamp" json:"origin_timestamp"`
	ConfirmationTimestamp  time.Time      `db:"confirmation_timestamp" json:"confirmation_timestamp"`
	AdoptionPercentage     *float64       `db:"adoption_percentage" json:"adoption_percentage,omitempty"`
	AdoptionCount          int            `db:"adoption_count" json:"adoption_count"`
	ActiveVenueCount       int            `db:"active_venue_count" json:"active_venue_count"`
	TimeToConsensusSeconds *int64         `db:"time_to_consensus_seconds" json:"time_to_consensus_seconds,omitempty"`
	DispersionPre          *float64       `db:"dispersion_pre" json:"dispersion_pre,omitempty"`
	DispersionPost         *float64       `db:"dispersion_post" json:"dispersion_post,omitempty"`
	BreakHoldMinutes       *float64       `db:"break_hold_minutes" json:"break_hold_minutes,omitempty"`
	ReversalDetected       bool           `db:"reversal_detected" json:"reversal_detected"`
	ReversalTimestamp      *time.Time     `db:"reversal_timestamp" json:"reversal_timestamp,omitempty"`
}

// StructuralEventVenueParticipation is a per-venue confirmation row for a
// StructuralEvent; cascade-deletes with its parent.
type StructuralEventVenueParticipation struct {
	StructuralEventID int64     `db:"structural_event_id" json:"structural_event_id"`
	Venue             string    `db:"venue" json:"venue"`
	VenueTier         VenueTier `db:"venue_tier" json:"venue_tier"`
	CrossedAt         time.Time `db:"crossed_at" json:"crossed_at"`
	LineBefore        *float64  `db:"line_before" json:"line_before,omitempty"`
	LineAfter         *float64  `db:"line_after" json:"line_after,omitempty"`
	Delta             *float64  `db:"delta" json:"delta,omitempty"`
}

// Signal is an emitted detection row.
type Signal struct {
	ID              string          `db:"id" json:"id"`
	EventID         string          `db:"event_id" json:"event_id"`
	Market          Market          `db:"market" json:"market"`
	SignalType      SignalType      `db:"signal_type" json:"signal_type"`
	Direction       SignalDirection `db:"direction" json:"direction"`
	FromValue       *float64        `db:"from_value" json:"from_value,omitempty"`
	ToValue         *float64        `db:"to_value" json:"to_value,omitempty"`
	FromPrice       *int            `db:"from_price" json:"from_price,omitempty"`
	ToPrice         *int            `db:"to_price" json:"to_price,omitempty"`
	WindowMinutes   int             `db:"window_minutes" json:"window_minutes"`
	BooksAffected   int             `db:"books_affected" json:"books_affected"`
	VelocityMinutes float64         `db:"velocity_minutes" json:"velocity_minutes"`
	TimeBucket      TimeBucket      `db:"time_bucket" json:"time_bucket"`
	StrengthScore   int             `db:"strength_score" json:"strength_score"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	Metadata        Metadata        `db:"metadata" json:"metadata"`
}

// CanonicalEventAlignment bridges a sportsbook event to its exchange markets.
type CanonicalEventAlignment struct {
	CanonicalEventKey  string    `db:"canonical_event_key" json:"canonical_event_key"`
	Sport              string    `db:"sport" json:"sport"`
	League             string    `db:"league" json:"league"`
	HomeTeam           string    `db:"home_team" json:"home_team"`
	AwayTeam           string    `db:"away_team" json:"away_team"`
	StartTime          time.Time `db:"start_time" json:"start_time"`
	SportsbookEventID  string    `db:"sportsbook_event_id" json:"sportsbook_event_id"`
	KalshiMarketID     *string   `db:"kalshi_market_id" json:"kalshi_market_id,omitempty"`
	PolymarketMarketID *string   `db:"polymarket_market_id" json:"polymarket_market_id,omitempty"`
}

// ExchangeQuoteEvent is an append-only exchange probability observation.
type ExchangeQuoteEvent struct {
	ID                int64           `db:"id" json:"id"`
	CanonicalEventKey string          `db:"canonical_event_key" json:"canonical_event_key"`
	Source            ExchangeSource  `db:"source" json:"source"`
	MarketID          string          `db:"market_id" json:"market_id"`
	OutcomeName       ExchangeOutcome `db:"outcome_name" json:"outcome_name"`
	Probability       float64         `db:"probability" json:"probability"`
	Price             *float64        `db:"price" json:"price,omitempty"`
	Timestamp         time.Time       `db:"timestamp" json:"timestamp"`
}

// CrossMarketLeadLagEvent records the nearest exchange/sportsbook threshold
// pairing for a canonical event.
type CrossMarketLeadLagEvent struct {
	ID                          int64         `db:"id" json:"id"`
	CanonicalEventKey           string        `db:"canonical_event_key" json:"canonical_event_key"`
	ThresholdType               ThresholdType `db:"threshold_type" json:"threshold_type"`
	SportsbookThresholdValue    float64       `db:"sportsbook_threshold_value" json:"sportsbook_threshold_value"`
	ExchangeProbabilityThreshold float64      `db:"exchange_probability_threshold" json:"exchange_probability_threshold"`
	LeadSource                  LeadSource    `db:"lead_source" json:"lead_source"`
	SportsbookBreakTimestamp    time.Time     `db:"sportsbook_break_timestamp" json:"sportsbook_break_timestamp"`
	ExchangeBreakTimestamp      time.Time     `db:"exchange_break_timestamp" json:"exchange_break_timestamp"`
	LagSeconds                  int64         `db:"lag_seconds" json:"lag_seconds"`
}

// CrossMarketDivergenceEvent is the classified divergence state between a
// sportsbook break and an exchange crossing.
type CrossMarketDivergenceEvent struct {
	ID                           int64          `db:"id" json:"id"`
	CanonicalEventKey            string         `db:"canonical_event_key" json:"canonical_event_key"`
	DivergenceType               DivergenceType `db:"divergence_type" json:"divergence_type"`
	LeadSource                   LeadSource     `db:"lead_source" json:"lead_source"`
	SportsbookThresholdValue     *float64       `db:"sportsbook_threshold_value" json:"sportsbook_threshold_value,omitempty"`
	ExchangeProbabilityThreshold *float64       `db:"exchange_probability_threshold" json:"exchange_probability_threshold,omitempty"`
	SportsbookBreakTimestamp     *time.Time     `db:"sportsbook_break_timestamp" json:"sportsbook_break_timestamp,omitempty"`
	ExchangeBreakTimestamp       *time.Time     `db:"exchange_break_timestamp" json:"exchange_break_timestamp,omitempty"`
	LagSeconds                   *int64         `db:"lag_seconds" json:"lag_seconds,omitempty"`
	Resolved                     bool           `db:"resolved" json:"resolved"`
	ResolvedAt                   *time.Time     `db:"resolved_at" json:"resolved_at,omitempty"`
	ResolutionType               *string        `db:"resolution_type" json:"resolution_type,omitempty"`
	IdempotencyKey               string         `db:"idempotency_key" json:"idempotency_key"`
}

// ClosingConsensus is the last pre-tipoff consensus snapshot per outcome.
type ClosingConsensus struct {
	EventID       string    `db:"event_id" json:"event_id"`
	Market        Market    `db:"market" json:"market"`
	OutcomeName   string    `db:"outcome_name" json:"outcome_name"`
	CloseLine     *float64  `db:"close_line" json:"close_line,omitempty"`
	ClosePrice    *float64  `db:"close_price" json:"close_price,omitempty"`
	CloseFetchedAt time.Time `db:"close_fetched_at" json:"close_fetched_at"`
	ComputedAt    time.Time `db:"computed_at" json:"computed_at"`
}

// ClvRecord is the closing-line-value outcome for one signal.
type ClvRecord struct {
	SignalID    string    `db:"signal_id" json:"signal_id"`
	EventID     string    `db:"event_id" json:"event_id"`
	SignalType  SignalType `db:"signal_type" json:"signal_type"`
	Market      Market    `db:"market" json:"market"`
	OutcomeName string    `db:"outcome_name" json:"outcome_name"`
	EntryLine   *float64  `db:"entry_line" json:"entry_line,omitempty"`
	EntryPrice  *float64  `db:"entry_price" json:"entry_price,omitempty"`
	CloseLine   *float64  `db:"close_line" json:"close_line,omitempty"`
	ClosePrice  *float64  `db:"close_price" json:"close_price,omitempty"`
	ClvLine     *float64  `db:"clv_line" json:"clv_line,omitempty"`
	ClvProb     *float64  `db:"clv_prob" json:"clv_prob,omitempty"`
	ComputedAt  time.Time `db:"computed_at" json:"computed_at"`
}

// CycleKpi is the per-orchestrator-tick audit row.
type CycleKpi struct {
	CycleID                string         `db:"cycle_id" json:"cycle_id"`
	StartedAt              time.Time      `db:"started_at" json:"started_at"`
	CompletedAt            time.Time      `db:"completed_at" json:"completed_at"`
	DurationMS             int64          `db:"duration_ms" json:"duration_ms"`
	RequestsUsedDelta      int            `db:"requests_used_delta" json:"requests_used_delta"`
	EventsProcessed        int            `db:"events_processed" json:"events_processed"`
	SnapshotsInserted      int            `db:"snapshots_inserted" json:"snapshots_inserted"`
	ConsensusPointsWritten int            `db:"consensus_points_written" json:"consensus_points_written"`
	SignalsCreatedTotal    int            `db:"signals_created_total" json:"signals_created_total"`
	SignalsCreatedByType   map[string]int `db:"signals_created_by_type" json:"signals_created_by_type"`
	AlertsSent             int            `db:"alerts_sent" json:"alerts_sent"`
	AlertsFailed           int            `db:"alerts_failed" json:"alerts_failed"`
	Degraded               bool           `db:"degraded" json:"degraded"`
	Notes                  string         `db:"notes" json:"notes,omitempty"`
}

// Subscriber is the minimal owned read model the dispatcher needs; onboarding
// and entitlement management are external (SPEC_FULL.md §1).
type Subscriber struct {
	ID                string             `db:"id" json:"id"`
	URL               string             `db:"url" json:"url"`
	Secret            string             `db:"secret" json:"-"`
	DiscordWebhookURL *string            `db:"discord_webhook_url" json:"discord_webhook_url,omitempty"`
	IsActive          bool               `db:"is_active" json:"is_active"`
	IsPro             bool               `db:"is_pro" json:"is_pro"`
	Preferences       SubscriberPrefs    `db:"preferences" json:"preferences"`
}

// SubscriberPrefs gates which signals a subscriber receives.
type SubscriberPrefs struct {
	MinStrength    int      `json:"min_strength"`
	MarketGates    []Market `json:"market_gates"`
	CooldownSeconds int     `json:"cooldown_seconds"`
}

// Value implements driver.Valuer so SubscriberPrefs round-trips through a
// single JSONB column the same way Metadata does.
func (p SubscriberPrefs) Value() (driver.Value, error) {
	return json.Marshal(p)
}

// Scan implements sql.Scanner for the preferences JSONB column.
func (p *SubscriberPrefs) Scan(src any) error {
	if src == nil {
		*p = SubscriberPrefs{}
		return nil
	}
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("subscriber_prefs: unsupported scan type %T", src)
	}
	if len(raw) == 0 {
		*p = SubscriberPrefs{}
		return nil
	}
	return json.Unmarshal(raw, p)
}

// WebhookDeliveryOutcome audits one delivery attempt batch for one
// (signal, subscriber) pair.
type WebhookDeliveryOutcome struct {
	ID           int64     `db:"id" json:"id"`
	SubscriberID string    `db:"subscriber_id" json:"subscriber_id"`
	SignalID     string    `db:"signal_id" json:"signal_id"`
	Status       string    `db:"status" json:"status"`
	HTTPStatus   *int      `db:"http_status" json:"http_status,omitempty"`
	BodyPreview  string    `db:"body_preview" json:"body_preview"`
	DurationMS   int64     `db:"duration_ms" json:"duration_ms"`
	Error        *string   `db:"error" json:"error,omitempty"`
	Attempts     int       `db:"attempts" json:"attempts"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}
