// Package intel implements the read-only analytics queries SPEC_FULL.md §6's
// /intel and /public/teaser endpoints expose. It is the Go home for the
// dashboard/recap/scorecard/teaser functions
// original_source/backend/app/services/performance_intel.py defines — the
// teacher's own internal/interfaces/http/handlers return static mock
// payloads, so the query semantics here are grounded on the Python service
// instead, with the repository-backed plumbing grounded on the rest of this
// module's persistence layer.
package intel

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/sawpanic/stratum/internal/domain"
	"github.com/sawpanic/stratum/internal/persistence"
	"github.com/sawpanic/stratum/internal/retention"
)

// ErrNotFound is returned by single-row lookups that found nothing.
var ErrNotFound = errors.New("intel: not found")

// Service answers every read query behind the core HTTP surface. It holds no
// state of its own; every method is a thin composition over the repository
// interfaces C1–C11 already defined.
type Service struct {
	consensus persistence.ConsensusRepository
	signals   persistence.SignalRepository
	closing   persistence.ClosingConsensusRepository
	clv       persistence.ClvRepository
	sweeper   *retention.Sweeper
}

// NewService wires a Service to the repositories its queries read from.
// sweeper is reused for AggregateWindow rather than duplicating its
// confidence-scoring logic here.
func NewService(consensus persistence.ConsensusRepository, signals persistence.SignalRepository, closing persistence.ClosingConsensusRepository, clv persistence.ClvRepository, sweeper *retention.Sweeper) *Service {
	return &Service{consensus: consensus, signals: signals, closing: closing, clv: clv, sweeper: sweeper}
}

// ConsensusLatest answers GET /intel/consensus/latest.
func (s *Service) ConsensusLatest(ctx context.Context, eventID string, market domain.Market, outcomeName string) (*domain.MarketConsensusSnapshot, error) {
	return s.consensus.Latest(ctx, eventID, market, outcomeName)
}

// SignalQualityRow is one row of GET /intel/signals/quality, grounded on
// performance_intel.py's get_signal_quality_rows: a signal joined with its
// eventual CLV outcome, if one has been computed yet.
type SignalQualityRow struct {
	Signal domain.Signal     `json:"signal"`
	Clv    *domain.ClvRecord `json:"clv,omitempty"`
}

// SignalQuality lists recent signals of the given type (or all types) with
// their CLV outcome attached when available.
func (s *Service) SignalQuality(ctx context.Context, since time.Time, signalType *domain.SignalType, minStrength, limit, offset int) ([]SignalQualityRow, error) {
	sigs, err := s.signals.ListSince(ctx, since, signalType, minStrength)
	if err != nil {
		return nil, err
	}
	sigs = paginateSignals(sigs, limit, offset)

	rows := make([]SignalQualityRow, 0, len(sigs))
	for _, sig := range sigs {
		row := SignalQualityRow{Signal: sig}
		if clv, err := s.clv.ListForSignal(ctx, sig.ID); err == nil && clv != nil {
			row.Clv = clv
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// WeeklySummary answers GET /intel/signals/weekly-summary: a per-signal-type
// count and average strength over a trailing window, the rollup shape
// performance_intel.py's weekly dashboard query produces.
type WeeklySummary struct {
	SignalType    domain.SignalType `json:"signal_type"`
	Count         int               `json:"count"`
	AvgStrength   float64           `json:"avg_strength"`
	PositiveClv   int               `json:"positive_clv_count"`
	NegativeClv   int               `json:"negative_clv_count"`
}

// SignalWeeklySummary aggregates ListSince's rows by signal_type over the
// trailing 7 days.
func (s *Service) SignalWeeklySummary(ctx context.Context) ([]WeeklySummary, error) {
	since := time.Now().UTC().AddDate(0, 0, -7)
	sigs, err := s.signals.ListSince(ctx, since, nil, 0)
	if err != nil {
		return nil, err
	}

	type acc struct {
		count, positive, negative int
		strengthSum               int
	}
	byType := map[domain.SignalType]*acc{}
	for _, sig := range sigs {
		a, ok := byType[sig.SignalType]
		if !ok {
			a = &acc{}
			byType[sig.SignalType] = a
		}
		a.count++
		a.strengthSum += sig.StrengthScore
		if clv, err := s.clv.ListForSignal(ctx, sig.ID); err == nil && clv != nil {
			if clv.ClvLine != nil && *clv.ClvLine > 0 {
				a.positive++
			} else if clv.ClvLine != nil && *clv.ClvLine < 0 {
				a.negative++
			}
		}
	}

	out := make([]WeeklySummary, 0, len(byType))
	for t, a := range byType {
		avg := 0.0
		if a.count > 0 {
			avg = float64(a.strengthSum) / float64(a.count)
		}
		out = append(out, WeeklySummary{
			SignalType:  t,
			Count:       a.count,
			AvgStrength: avg,
			PositiveClv: a.positive,
			NegativeClv: a.negative,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SignalType < out[j].SignalType })
	return out, nil
}

// LifecycleStage is one timestamped transition in a signal's life, from
// detection through its eventual CLV finalization — the chronology
// performance_intel.py's lifecycle endpoint reconstructs from the signal and
// clv_records rows sharing a signal_id.
type LifecycleStage struct {
	Stage string    `json:"stage"`
	At    time.Time `json:"at"`
}

// SignalLifecycle answers GET /intel/signals/lifecycle for one signal id.
func (s *Service) SignalLifecycle(ctx context.Context, signalID string) ([]LifecycleStage, error) {
	sig, err := s.signals.Get(ctx, signalID)
	if err != nil {
		return nil, err
	}
	if sig == nil {
		return nil, ErrNotFound
	}
	stages := []LifecycleStage{{Stage: "detected", At: sig.CreatedAt}}
	if clv, err := s.clv.ListForSignal(ctx, signalID); err == nil && clv != nil {
		stages = append(stages, LifecycleStage{Stage: "clv_finalized", At: clv.ComputedAt})
	}
	return stages, nil
}

// ActionableBookCard is the best-current-book summary for a signal,
// grounded on performance_intel.py's get_actionable_book_card: which
// outcome to act on and the consensus context behind it.
type ActionableBookCard struct {
	SignalID  string                           `json:"signal_id"`
	Signal    domain.Signal                    `json:"signal"`
	Consensus *domain.MarketConsensusSnapshot `json:"consensus,omitempty"`
}

// ActionableBookCard builds the card for one signal. It fills SignalID and
// Signal only; Consensus is left nil.
func (s *Service) ActionableBookCard(ctx context.Context, signalID string) (*ActionableBookCard, error) {
	sig, err := s.signals.Get(ctx, signalID)
	if err != nil {
		return nil, err
	}
	if sig == nil {
		return nil, ErrNotFound
	}
	card := &ActionableBookCard{SignalID: signalID, Signal: *sig}
	return card, nil
}

// ActionableBookCards batches ActionableBookCard, grounded on
// performance_intel.py's get_actionable_book_cards_batch — a plain per-id
// loop, since the underlying repositories have no batch-get variant.
func (s *Service) ActionableBookCards(ctx context.Context, signalIDs []string) ([]ActionableBookCard, error) {
	out := make([]ActionableBookCard, 0, len(signalIDs))
	for _, id := range signalIDs {
		card, err := s.ActionableBookCard(ctx, id)
		if err != nil {
			if err == ErrNotFound {
				continue
			}
			return nil, err
		}
		out = append(out, *card)
	}
	return out, nil
}

// Opportunity is one ranked entry of GET /intel/opportunities: a recent
// signal ordered by strength, the ranking performance_intel.py's
// opportunities feed applies before CLV is known.
type Opportunity struct {
	Signal domain.Signal `json:"signal"`
	Rank   int           `json:"rank"`
}

// Opportunities lists the strongest signals in the trailing window.
func (s *Service) Opportunities(ctx context.Context, since time.Time, limit int) ([]Opportunity, error) {
	sigs, err := s.signals.ListSince(ctx, since, nil, 0)
	if err != nil {
		return nil, err
	}
	sort.Slice(sigs, func(i, j int) bool { return sigs[i].StrengthScore > sigs[j].StrengthScore })
	if limit > 0 && len(sigs) > limit {
		sigs = sigs[:limit]
	}
	out := make([]Opportunity, len(sigs))
	for i, sig := range sigs {
		out[i] = Opportunity{Signal: sig, Rank: i + 1}
	}
	return out, nil
}

// PublicTeaserOpportunity is the redacted shape of an Opportunity exposed
// through /public/teaser/opportunities: no event_id/signal_id, no exact
// strength, per SPEC_FULL.md §6's "redacted anonymous teasers (no internal
// IDs)" requirement.
type PublicTeaserOpportunity struct {
	Market        domain.Market     `json:"market"`
	SignalType    domain.SignalType `json:"signal_type"`
	Direction     domain.SignalDirection `json:"direction"`
	StrengthBand  string            `json:"strength_band"`
	DetectedAgo   string            `json:"detected_ago"`
}

// PublicTeaserOpportunities redacts Opportunities for anonymous consumption,
// delayed by freeDelay (FREE_DELAY_MINUTES) so free-tier viewers never see
// data fresher than paying subscribers' webhook deliveries.
func (s *Service) PublicTeaserOpportunities(ctx context.Context, freeDelay time.Duration, limit int) ([]PublicTeaserOpportunity, error) {
	asOf := time.Now().UTC().Add(-freeDelay)
	sigs, err := s.signals.ListSince(ctx, asOf.AddDate(0, 0, -1), nil, 0)
	if err != nil {
		return nil, err
	}
	var eligible []domain.Signal
	for _, sig := range sigs {
		if !sig.CreatedAt.After(asOf) {
			eligible = append(eligible, sig)
		}
	}
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].CreatedAt.After(eligible[j].CreatedAt) })
	if limit > 0 && len(eligible) > limit {
		eligible = eligible[:limit]
	}

	out := make([]PublicTeaserOpportunity, len(eligible))
	for i, sig := range eligible {
		out[i] = PublicTeaserOpportunity{
			Market:       sig.Market,
			SignalType:   sig.SignalType,
			Direction:    sig.Direction,
			StrengthBand: strengthBand(sig.StrengthScore),
			DetectedAgo:  time.Since(sig.CreatedAt).Round(time.Minute).String(),
		}
	}
	return out, nil
}

func strengthBand(score int) string {
	switch {
	case score >= 80:
		return "very_strong"
	case score >= 60:
		return "strong"
	case score >= 40:
		return "moderate"
	default:
		return "weak"
	}
}

// PublicTeaserKpis answers GET /public/teaser/kpis: the cycle-health half of
// retention.KpiSummary only, with no CLV-by-group breakdown (that detail is
// pro-gated behind /intel/clv/scorecards).
func (s *Service) PublicTeaserKpis(ctx context.Context, since time.Time) (persistence.CycleKpiSummary, error) {
	summary, err := s.sweeper.AggregateWindow(ctx, since)
	if err != nil {
		return persistence.CycleKpiSummary{}, err
	}
	return summary.Cycles, nil
}

// ClvSummary answers GET /intel/clv/summary: the full confidence-scored
// per-(signal_type,market) breakdown retention.AggregateWindow already
// computes.
func (s *Service) ClvSummary(ctx context.Context, since time.Time) (retention.KpiSummary, error) {
	return s.sweeper.AggregateWindow(ctx, since)
}

// ClvTeaser answers GET /intel/clv/teaser: the single best-performing group
// from ClvSummary, redacted to a headline stat — performance_intel.py's
// get_clv_teaser picks the top group by confidence the same way.
func (s *Service) ClvTeaser(ctx context.Context, since time.Time) (*retention.ClvGroupPerformance, error) {
	summary, err := s.sweeper.AggregateWindow(ctx, since)
	if err != nil {
		return nil, err
	}
	if len(summary.ClvByGroup) == 0 {
		return nil, nil
	}
	best := summary.ClvByGroup[0]
	for _, g := range summary.ClvByGroup[1:] {
		if g.ConfidenceScore > best.ConfidenceScore {
			best = g
		}
	}
	return &best, nil
}

func paginateSignals(sigs []domain.Signal, limit, offset int) []domain.Signal {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(sigs) {
		return nil
	}
	sigs = sigs[offset:]
	if limit > 0 && limit < len(sigs) {
		sigs = sigs[:limit]
	}
	return sigs
}
