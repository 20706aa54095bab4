package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/sawpanic/stratum/internal/domain"
	"github.com/sawpanic/stratum/internal/intel"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, `{"error":"json_encoding_failed"}`, http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{
		Error:     http.StatusText(status),
		Code:      code,
		Message:   message,
		RequestID: requestIDFrom(r.Context()),
		Timestamp: time.Now().UTC(),
	})
}

func parseLimit(r *http.Request, def int) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			return n
		}
	}
	return def
}

func parseOffset(r *http.Request) int {
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return 0
}

func parseSince(r *http.Request, def time.Time) time.Time {
	if v := r.URL.Query().Get("since"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t
		}
	}
	return def
}

// handlers bundles the read-service and answers every route registered in
// server.go. Its methods carry no business logic of their own — query
// parameter parsing plus delegation to intel.Service, in keeping with the
// teacher's handlers.Handlers being a thin HTTP-shape adapter over the real
// service layer.
type handlers struct {
	svc *intel.Service
}

func newHandlers(svc *intel.Service) *handlers { return &handlers{svc: svc} }

func (h *handlers) notFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusNotFound, "endpoint_not_found", "the requested endpoint does not exist")
}

func (h *handlers) consensusLatest(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	eventID := q.Get("event_id")
	market := domain.Market(q.Get("market"))
	outcomeName := q.Get("outcome_name")
	if eventID == "" || market == "" || outcomeName == "" {
		writeError(w, r, http.StatusBadRequest, "missing_params", "event_id, market and outcome_name are required")
		return
	}
	snap, err := h.svc.ConsensusLatest(r.Context(), eventID, market, outcomeName)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "query_failed", err.Error())
		return
	}
	if snap == nil {
		writeError(w, r, http.StatusNotFound, "not_found", "no consensus snapshot for that key")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *handlers) clvSummary(w http.ResponseWriter, r *http.Request) {
	since := parseSince(r, time.Now().UTC().AddDate(0, 0, -30))
	summary, err := h.svc.ClvSummary(r.Context(), since)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "query_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *handlers) clvRecap(w http.ResponseWriter, r *http.Request) {
	// Recap reuses the summary shape over a caller-chosen window (default 7
	// days) rather than the 30-day default clvSummary uses — the
	// distinguishing behavior performance_intel.py's postgame recap has
	// versus its rolling summary.
	since := parseSince(r, time.Now().UTC().AddDate(0, 0, -7))
	summary, err := h.svc.ClvSummary(r.Context(), since)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "query_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *handlers) clvScorecards(w http.ResponseWriter, r *http.Request) {
	since := parseSince(r, time.Now().UTC().AddDate(0, 0, -90))
	summary, err := h.svc.ClvSummary(r.Context(), since)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "query_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summary.ClvByGroup)
}

func (h *handlers) clvTeaser(w http.ResponseWriter, r *http.Request) {
	since := time.Now().UTC().AddDate(0, 0, -30)
	best, err := h.svc.ClvTeaser(r.Context(), since)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "query_failed", err.Error())
		return
	}
	if best == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "insufficient_data"})
		return
	}
	writeJSON(w, http.StatusOK, best)
}

func (h *handlers) signalQuality(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var st *domain.SignalType
	if v := q.Get("signal_type"); v != "" {
		t := domain.SignalType(v)
		st = &t
	}
	minStrength, _ := strconv.Atoi(q.Get("min_strength"))
	since := parseSince(r, time.Now().UTC().AddDate(0, 0, -7))
	limit, offset := parseLimit(r, 100), parseOffset(r)

	rows, err := h.svc.SignalQuality(r.Context(), since, st, minStrength, limit, offset)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "query_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ListEnvelope{
		Items:      rows,
		Pagination: PaginationInfo{Limit: limit, Offset: offset, ReturnedAt: len(rows), HasMore: len(rows) == limit},
	})
}

func (h *handlers) signalWeeklySummary(w http.ResponseWriter, r *http.Request) {
	rows, err := h.svc.SignalWeeklySummary(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "query_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *handlers) signalLifecycle(w http.ResponseWriter, r *http.Request) {
	signalID := r.URL.Query().Get("signal_id")
	if signalID == "" {
		writeError(w, r, http.StatusBadRequest, "missing_params", "signal_id is required")
		return
	}
	stages, err := h.svc.SignalLifecycle(r.Context(), signalID)
	if err != nil {
		if err == intel.ErrNotFound {
			writeError(w, r, http.StatusNotFound, "not_found", "no such signal")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "query_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stages)
}

func (h *handlers) actionableBook(w http.ResponseWriter, r *http.Request) {
	signalID := r.URL.Query().Get("signal_id")
	if signalID == "" {
		writeError(w, r, http.StatusBadRequest, "missing_params", "signal_id is required")
		return
	}
	card, err := h.svc.ActionableBookCard(r.Context(), signalID)
	if err != nil {
		if err == intel.ErrNotFound {
			writeError(w, r, http.StatusNotFound, "not_found", "no such signal")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "query_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, card)
}

func (h *handlers) actionableBookBatch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SignalIDs []string `json:"signal_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_body", "expected {\"signal_ids\": [...]}")
		return
	}
	cards, err := h.svc.ActionableBookCards(r.Context(), body.SignalIDs)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "query_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cards)
}

func (h *handlers) opportunities(w http.ResponseWriter, r *http.Request) {
	since := parseSince(r, time.Now().UTC().Add(-24*time.Hour))
	limit := parseLimit(r, 100)
	ops, err := h.svc.Opportunities(r.Context(), since, limit)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "query_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ops)
}

func (h *handlers) opportunitiesTeaser(w http.ResponseWriter, r *http.Request, freeDelay time.Duration) {
	limit := parseLimit(r, 10)
	ops, err := h.svc.PublicTeaserOpportunities(r.Context(), freeDelay, limit)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "query_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ops)
}

func (h *handlers) publicTeaserKpis(w http.ResponseWriter, r *http.Request) {
	since := parseSince(r, time.Now().UTC().AddDate(0, 0, -1))
	kpis, err := h.svc.PublicTeaserKpis(r.Context(), since)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "query_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, kpis)
}

func (h *handlers) teaserEvents(w http.ResponseWriter, r *http.Request) {
	var ev TeaserEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_body", "malformed teaser event")
		return
	}
	// Logged, not persisted: the read surface has no teaser_events table in
	// §3's data model, so this endpoint only acknowledges receipt the way an
	// analytics beacon does.
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "logged"})
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}
