package alerts

import "github.com/sawpanic/stratum/internal/domain"

// buildSignalPayload mirrors dispatch_signal_to_webhooks's payload dict.
// kalshi_gate is intentionally omitted — see the package doc comment.
func buildSignalPayload(sig domain.Signal) map[string]any {
	return map[string]any{
		"event":          "signal.detected",
		"signal_id":      sig.ID,
		"event_id":       sig.EventID,
		"market":         sig.Market,
		"signal_type":    sig.SignalType,
		"direction":      sig.Direction,
		"strength_score": sig.StrengthScore,
		"time_bucket":    sig.TimeBucket,
		"from_value":     sig.FromValue,
		"to_value":       sig.ToValue,
		"created_at":     sig.CreatedAt.UTC().Format(rfc3339Micro),
		"metadata":       sig.Metadata,
	}
}

// buildClvPayload mirrors dispatch_clv_to_webhooks's payload dict.
func buildClvPayload(rec domain.ClvRecord) map[string]any {
	return map[string]any{
		"event":        "signal.clv_finalized",
		"signal_id":    rec.SignalID,
		"event_id":     rec.EventID,
		"market":       rec.Market,
		"signal_type":  rec.SignalType,
		"outcome_name": rec.OutcomeName,
		"entry_line":   rec.EntryLine,
		"entry_price":  rec.EntryPrice,
		"close_line":   rec.CloseLine,
		"close_price":  rec.ClosePrice,
		"clv_line":     rec.ClvLine,
		"clv_prob":     rec.ClvProb,
		"computed_at":  rec.ComputedAt.UTC().Format(rfc3339Micro),
	}
}

const rfc3339Micro = "2006-01-02T15:04:05.999999Z07:00"
