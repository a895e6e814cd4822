package bandwidth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/peerdash/peerdash/pkg/clients"
	"github.com/peerdash/peerdash/pkg/config"
	"github.com/peerdash/peerdash/pkg/httpx"
)

// Handler exposes the engine's query and maintenance operations over HTTP.
type Handler struct {
	engine *Engine
}

// NewHandler creates a new bandwidth query handler
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

func contextWithTimeout(r *http.Request, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), d)
}

// rangeParams are the query-string parameters shared by all range queries.
type rangeParams struct {
	start       int64
	end         int64
	instanceIDs []string
}

// parseRangeParams reads start/end (ms epoch) and the optional
// comma-separated instances filter. Defaults: end = now, start = end - 1h.
func parseRangeParams(r *http.Request) (rangeParams, error) {
	q := r.URL.Query()
	now := time.Now().UnixMilli()

	var p rangeParams
	p.end = now
	if raw := q.Get("end"); raw != "" {
		v, err := cast.ToInt64E(raw)
		if err != nil {
			return p, fmt.Errorf("invalid end: %q", raw)
		}
		p.end = v
	}
	p.start = p.end - config.DefaultQueryWindow.Milliseconds()
	if raw := q.Get("start"); raw != "" {
		v, err := cast.ToInt64E(raw)
		if err != nil {
			return p, fmt.Errorf("invalid start: %q", raw)
		}
		p.start = v
	}
	if p.end < p.start {
		return p, fmt.Errorf("start must not be after end")
	}
	if p.end-p.start > config.MaxQueryWindow.Milliseconds() {
		return p, fmt.Errorf("query window exceeds %v", config.MaxQueryWindow)
	}

	if raw := q.Get("instances"); raw != "" {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				p.instanceIDs = append(p.instanceIDs, id)
			}
		}
	}
	return p, nil
}

// HandleAggregate handles GET /v1/bandwidth/aggregate.
// Parameters: start, end (ms epoch), bucket (ms, default 60000), instances.
func (h *Handler) HandleAggregate(w http.ResponseWriter, r *http.Request) {
	params, err := parseRangeParams(r)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	bucketMs := config.DefaultBucketMs
	if raw := r.URL.Query().Get("bucket"); raw != "" {
		v, err := cast.ToInt64E(raw)
		if err != nil {
			httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("invalid bucket: %q", raw))
			return
		}
		bucketMs = v
	}
	if bucketMs < config.MinBucketMs {
		httpx.RespondErrorString(w, http.StatusBadRequest,
			fmt.Sprintf("bucket must be at least %d ms", config.MinBucketMs))
		return
	}

	ctx, cancel := contextWithTimeout(r, config.QueryTimeout)
	defer cancel()

	buckets, err := h.engine.Aggregate(ctx, params.start, params.end, bucketMs, params.instanceIDs)
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}
	if buckets == nil {
		buckets = []Bucket{}
	}
	httpx.RespondJSON(w, http.StatusOK, buckets)
}

// HandleTotals handles GET /v1/bandwidth/totals.
func (h *Handler) HandleTotals(w http.ResponseWriter, r *http.Request) {
	params, err := parseRangeParams(r)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := contextWithTimeout(r, config.QueryTimeout)
	defer cancel()

	totals, err := h.engine.Totals(ctx, params.start, params.end, params.instanceIDs)
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, totals)
}

// HandlePeaks handles GET /v1/bandwidth/peaks.
func (h *Handler) HandlePeaks(w http.ResponseWriter, r *http.Request) {
	params, err := parseRangeParams(r)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := contextWithTimeout(r, config.QueryTimeout)
	defer cancel()

	peaks, err := h.engine.PeakSpeeds(ctx, params.start, params.end, params.instanceIDs)
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, peaks)
}

// AdoptRequest is the payload for POST /v1/adopt.
type AdoptRequest struct {
	Instances []clients.Instance `json:"instances"`
}

// HandleAdopt handles POST /v1/adopt, the registry hand-off that reassigns
// placeholder rows to real instance IDs.
func (h *Handler) HandleAdopt(w http.ResponseWriter, r *http.Request) {
	var req AdoptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}

	ctx, cancel := contextWithTimeout(r, config.AdoptTimeout)
	defer cancel()

	if err := h.engine.AdoptLegacy(ctx, req.Instances); err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// CleanupResponse reports how many rows a retention sweep removed.
type CleanupResponse struct {
	RowsDeleted int `json:"rows_deleted"`
}

// HandleCleanup handles POST /v1/cleanup?retention_hours=N.
func (h *Handler) HandleCleanup(w http.ResponseWriter, r *http.Request) {
	retention := time.Duration(config.DefaultRetentionDays) * 24 * time.Hour
	if raw := r.URL.Query().Get("retention_hours"); raw != "" {
		hours, err := cast.ToInt64E(raw)
		if err != nil || hours <= 0 {
			httpx.RespondErrorString(w, http.StatusBadRequest, "retention_hours must be a positive integer")
			return
		}
		retention = time.Duration(hours) * time.Hour
	}

	ctx, cancel := contextWithTimeout(r, config.CleanupTimeout)
	defer cancel()

	removed, err := h.engine.Cleanup(ctx, retention)
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, CleanupResponse{RowsDeleted: removed})
}
