package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Metadata is the schemaless per-signal payload (SPEC_FULL.md §9: "duck-typed
// ... but define named subshapes"). It round-trips through Postgres JSONB via
// Value/Scan. Only the MOVE/KEY_CROSS shape has a validating reader
// (ParseMoveMetadata below); the other subshapes have builders only.
type Metadata map[string]any

// Value implements driver.Valuer for JSONB columns.
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]any(m))
}

// Scan implements sql.Scanner for JSONB columns.
func (m *Metadata) Scan(src any) error {
	if src == nil {
		*m = Metadata{}
		return nil
	}
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("metadata: unsupported scan type %T", src)
	}
	out := Metadata{}
	if len(raw) == 0 {
		*m = out
		return nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("metadata: unmarshal: %w", err)
	}
	*m = out
	return nil
}

// Float64 reads a numeric field from a raw Metadata map. Exported for
// callers outside this package that need to probe a signal's metadata
// generically (internal/closing's CLV entry-value resolver) rather than
// through one of the named ParseXxxMetadata shapes.
func (m Metadata) Float64(key string) (float64, bool) {
	return m.float(key)
}

// String reads a string field from a raw Metadata map. See Float64.
func (m Metadata) String(key string) (string, bool) {
	return m.str(key)
}

func (m Metadata) float(key string) (float64, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

func (m Metadata) str(key string) (string, bool) {
	v, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func (m Metadata) boolean(key string) bool {
	v, ok := m[key]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// MoveMetadata is the named subshape for MOVE/KEY_CROSS signals.
type MoveMetadata struct {
	OutcomeName      string         `json:"outcome_name"`
	Books            []string       `json:"books"`
	Magnitude        float64        `json:"magnitude"`
	VelocityMinutes  float64        `json:"velocity_minutes"`
	MinutesToTip     *float64       `json:"minutes_to_tip,omitempty"`
	KeyCross         bool           `json:"key_cross"`
	Components       map[string]float64 `json:"components"`
}

// NewMoveMetadata builds the MOVE/KEY_CROSS metadata subshape.
func NewMoveMetadata(mm MoveMetadata) Metadata {
	out := Metadata{
		"outcome_name":     mm.OutcomeName,
		"books":            mm.Books,
		"magnitude":        mm.Magnitude,
		"velocity_minutes": mm.VelocityMinutes,
		"key_cross":        mm.KeyCross,
		"components":       mm.Components,
	}
	if mm.MinutesToTip != nil {
		out["minutes_to_tip"] = *mm.MinutesToTip
	}
	return out
}

// ParseMoveMetadata validates and extracts a MoveMetadata from a raw Metadata map.
func ParseMoveMetadata(m Metadata) (MoveMetadata, error) {
	outcome, ok := m.str("outcome_name")
	if !ok {
		return MoveMetadata{}, fmt.Errorf("metadata: missing outcome_name")
	}
	magnitude, _ := m.float("magnitude")
	velocity, _ := m.float("velocity_minutes")
	return MoveMetadata{
		OutcomeName:     outcome,
		Magnitude:       magnitude,
		VelocityMinutes: velocity,
		KeyCross:        m.boolean("key_cross"),
	}, nil
}

// DislocationMetadata is the named subshape for DISLOCATION signals.
type DislocationMetadata struct {
	OutcomeName    string  `json:"outcome_name"`
	BookKey        string  `json:"book_key"`
	BookLine       *float64 `json:"book_line,omitempty"`
	BookPrice      *int     `json:"book_price,omitempty"`
	ConsensusLine  *float64 `json:"consensus_line,omitempty"`
	ConsensusPrice *float64 `json:"consensus_price,omitempty"`
	Delta          float64  `json:"delta"`
	BooksCount     int      `json:"books_count"`
}

// NewDislocationMetadata builds the DISLOCATION metadata subshape.
func NewDislocationMetadata(dm DislocationMetadata) Metadata {
	out := Metadata{
		"outcome_name": dm.OutcomeName,
		"book_key":     dm.BookKey,
		"delta":        dm.Delta,
		"books_count":  dm.BooksCount,
	}
	if dm.BookLine != nil {
		out["book_line"] = *dm.BookLine
	}
	if dm.BookPrice != nil {
		out["book_price"] = *dm.BookPrice
	}
	if dm.ConsensusLine != nil {
		out["consensus_line"] = *dm.ConsensusLine
	}
	if dm.ConsensusPrice != nil {
		out["consensus_price"] = *dm.ConsensusPrice
	}
	return out
}

// SteamMetadata is the named subshape for STEAM signals.
type SteamMetadata struct {
	OutcomeName string   `json:"outcome_name"`
	Books       []string `json:"books"`
	StartMedian float64  `json:"start_median"`
	EndMedian   float64  `json:"end_median"`
	Speed       float64  `json:"speed"`
}

// NewSteamMetadata builds the STEAM metadata subshape.
func NewSteamMetadata(sm SteamMetadata) Metadata {
	return Metadata{
		"outcome_name": sm.OutcomeName,
		"books":        sm.Books,
		"start_median": sm.StartMedian,
		"end_median":   sm.EndMedian,
		"speed":        sm.Speed,
	}
}

// MultibookSyncMetadata is the named subshape for MULTIBOOK_SYNC signals.
type MultibookSyncMetadata struct {
	OutcomeName string             `json:"outcome_name"`
	Books       []string           `json:"books"`
	MeanFrom    float64            `json:"mean_from"`
	MeanTo      float64            `json:"mean_to"`
	Components  map[string]float64 `json:"components,omitempty"`
}

// NewMultibookSyncMetadata builds the MULTIBOOK_SYNC metadata subshape.
func NewMultibookSyncMetadata(mm MultibookSyncMetadata) Metadata {
	out := Metadata{
		"outcome_name": mm.OutcomeName,
		"books":        mm.Books,
		"mean_from":    mm.MeanFrom,
		"mean_to":      mm.MeanTo,
	}
	if mm.Components != nil {
		out["components"] = mm.Components
	}
	return out
}

// LiveShockMetadata is the named subshape for LIVE_SHOCK signals.
type LiveShockMetadata struct {
	OutcomeName  string   `json:"outcome_name"`
	Books        []string `json:"books,omitempty"`
	MinutesToTip float64  `json:"minutes_to_tip"`
	Magnitude    float64  `json:"magnitude"`
}

// NewLiveShockMetadata builds the LIVE_SHOCK metadata subshape.
func NewLiveShockMetadata(lm LiveShockMetadata) Metadata {
	return Metadata{
		"outcome_name":   lm.OutcomeName,
		"books":          lm.Books,
		"minutes_to_tip": lm.MinutesToTip,
		"magnitude":      lm.Magnitude,
	}
}

// ExchangeDivergenceMetadata is the named subshape for EXCHANGE_DIVERGENCE signals.
type ExchangeDivergenceMetadata struct {
	CanonicalEventKey string  `json:"canonical_event_key"`
	DivergenceType    string  `json:"divergence_type"`
	LagSeconds        *int64  `json:"lag_seconds,omitempty"`
}

// NewExchangeDivergenceMetadata builds the EXCHANGE_DIVERGENCE metadata subshape.
func NewExchangeDivergenceMetadata(em ExchangeDivergenceMetadata) Metadata {
	out := Metadata{
		"canonical_event_key": em.CanonicalEventKey,
		"divergence_type":     em.DivergenceType,
	}
	if em.LagSeconds != nil {
		out["lag_seconds"] = *em.LagSeconds
	}
	return out
}
