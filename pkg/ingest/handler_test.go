package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/peerdash/peerdash/pkg/bandwidth"
	"github.com/peerdash/peerdash/pkg/clients"
	"github.com/peerdash/peerdash/pkg/config"
	"github.com/peerdash/peerdash/pkg/sample"
	"github.com/peerdash/peerdash/pkg/storage/memory"
)

func newTestHandler() (*Handler, *memory.Storage) {
	store := memory.New()
	engine := bandwidth.New(store, clients.DefaultCatalog())
	return NewHandler(engine, nil), store
}

func postTick(t *testing.T, handler *Handler, req TickRequest) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodPost, "/v1/tick", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	handler.HandleTick(rr, r)
	return rr
}

func TestHandleTick_StoresCorrectedSamples(t *testing.T) {
	handler, _ := newTestHandler()

	rr := postTick(t, handler, TickRequest{
		Timestamp: 5000,
		Samples: []sample.RawSample{
			{InstanceID: "ed2k-1", ClientType: clients.TypeAmule, UploadTotal: 500, DownloadTotal: 700, PID: 100},
			{InstanceID: "bt-1", ClientType: clients.TypeQBittorrent, UploadTotal: 900, DownloadTotal: 1800},
		},
	})

	require.Equal(t, http.StatusOK, rr.Code)
	var resp TickResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, "success", resp.Status)
	require.Equal(t, 2, resp.Count)
	require.Equal(t, int64(5000), resp.Samples[0].Timestamp)
}

func TestHandleTick_InvalidJSON(t *testing.T) {
	handler, _ := newTestHandler()

	r := httptest.NewRequest(http.MethodPost, "/v1/tick", strings.NewReader("{not json"))
	rr := httptest.NewRecorder()
	handler.HandleTick(rr, r)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Contains(t, resp["message"], "invalid JSON")
}

func TestHandleTick_TooManySamples(t *testing.T) {
	handler, _ := newTestHandler()

	samples := make([]sample.RawSample, config.MaxSamplesPerTick+1)
	for i := range samples {
		samples[i] = sample.RawSample{InstanceID: "bt-1", ClientType: clients.TypeQBittorrent}
	}
	rr := postTick(t, handler, TickRequest{Timestamp: 1000, Samples: samples})

	require.Equal(t, http.StatusBadRequest, rr.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Contains(t, resp["message"], "too many samples")
}

func TestHandleTick_MissingTimestampDefaultsToNow(t *testing.T) {
	handler, _ := newTestHandler()

	rr := postTick(t, handler, TickRequest{
		Samples: []sample.RawSample{
			{InstanceID: "bt-1", ClientType: clients.TypeQBittorrent, UploadTotal: 10},
		},
	})

	require.Equal(t, http.StatusOK, rr.Code)
	var resp TickResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	require.Positive(t, resp.Samples[0].Timestamp)
}

func TestHandleTick_EmptyTick(t *testing.T) {
	handler, store := newTestHandler()

	rr := postTick(t, handler, TickRequest{Timestamp: 1000})

	require.Equal(t, http.StatusOK, rr.Code)
	var resp TickResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Zero(t, resp.Count)
	require.NotNil(t, resp.Samples)

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	require.Zero(t, stats.TotalSamples)
}
