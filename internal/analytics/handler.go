package analytics

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
)

// SnapshotSource returns the newest persisted statistics, or nil when none
// exist yet.
type SnapshotSource interface {
	Latest(ctx context.Context) (*AggregatedStats, error)
}

type Handler struct {
	aggregator *Aggregator
	snapshots  SnapshotSource
	logger     *slog.Logger
}

// NewHandler serves live statistics from aggregator. snapshots may be nil.
func NewHandler(aggregator *Aggregator, snapshots SnapshotSource) *Handler {
	return &Handler{
		aggregator: aggregator,
		snapshots:  snapshots,
		logger:     slog.Default().With("component", "analytics-handler"),
	}
}

// Stats serves live query statistics, or the newest snapshot with
// ?source=snapshot. ?top=N trims both query lists to N entries.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	top := -1
	if raw := q.Get("top"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "top must be a non-negative integer"})
			return
		}
		top = n
	}

	var stats AggregatedStats
	switch q.Get("source") {
	case "", "live":
		stats = h.aggregator.Stats()
	case "snapshot":
		if h.snapshots == nil {
			h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "snapshots disabled"})
			return
		}
		latest, err := h.snapshots.Latest(r.Context())
		if err != nil {
			h.logger.Error("loading analytics snapshot failed", "error", err)
			h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
			return
		}
		if latest == nil {
			h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "no snapshot yet"})
			return
		}
		stats = *latest
	default:
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "source must be live or snapshot"})
		return
	}

	if top >= 0 {
		stats.TopQueries = trim(stats.TopQueries, top)
		stats.ZeroResultQueries = trim(stats.ZeroResultQueries, top)
	}
	h.writeJSON(w, http.StatusOK, stats)
}

func trim(qs []QueryCount, n int) []QueryCount {
	if len(qs) > n {
		return qs[:n]
	}
	return qs
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to write analytics response", "error", err)
	}
}
