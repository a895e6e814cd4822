package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/peerdash/peerdash/pkg/bandwidth"
	"github.com/peerdash/peerdash/pkg/config"
	"github.com/peerdash/peerdash/pkg/httpx"
	"github.com/peerdash/peerdash/pkg/sample"
)

// Handler receives ingestion ticks from the polling driver and hands them
// to the bandwidth engine.
type Handler struct {
	engine *bandwidth.Engine
	hub    *TickHub
}

// NewHandler creates a new ingest handler. hub may be nil when live
// streaming is disabled.
func NewHandler(engine *bandwidth.Engine, hub *TickHub) *Handler {
	return &Handler{engine: engine, hub: hub}
}

// TickRequest is one polling tick: a timestamp and one raw sample per
// reporting instance.
type TickRequest struct {
	Timestamp int64              `json:"timestamp"`
	Samples   []sample.RawSample `json:"samples"`
}

// TickResponse echoes the corrected samples that were stored.
type TickResponse struct {
	Status  string          `json:"status"`
	Count   int             `json:"count"`
	Samples []sample.Sample `json:"samples"`
}

// HandleTick handles POST /v1/tick. Re-posting an identical tick is
// idempotent: rows are upserted by (timestamp, instance).
func (h *Handler) HandleTick(w http.ResponseWriter, r *http.Request) {
	var req TickRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}

	if len(req.Samples) > config.MaxSamplesPerTick {
		httpx.RespondErrorString(w, http.StatusBadRequest,
			fmt.Sprintf("too many samples in one tick (max %d)", config.MaxSamplesPerTick))
		return
	}
	if req.Timestamp <= 0 {
		req.Timestamp = time.Now().UnixMilli()
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.IngestTimeout)
	defer cancel()

	corrected, err := h.engine.RecordTick(ctx, req.Timestamp, req.Samples)
	if err != nil {
		// No partial write happened; the next tick heals the gap.
		zap.L().Error("tick ingestion failed", zap.Int64("timestamp", req.Timestamp), zap.Error(err))
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}

	if h.hub != nil && len(corrected) > 0 {
		h.hub.BroadcastTick(req.Timestamp, corrected)
	}

	if corrected == nil {
		corrected = []sample.Sample{}
	}
	httpx.RespondJSON(w, http.StatusOK, TickResponse{
		Status:  "success",
		Count:   len(corrected),
		Samples: corrected,
	})
}
