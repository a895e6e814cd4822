package bandwidth

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/peerdash/peerdash/pkg/sample"
)

// RestartState metadata fields, stored per instance under
// "<instanceID>:<field>" keys in the metadata table.
const (
	fieldPID         = "pid"
	fieldAccUp       = "accumulated_uploaded"
	fieldAccDown     = "accumulated_downloaded"
	fieldSessionUp   = "last_session_uploaded"
	fieldSessionDown = "last_session_downloaded"
)

// restartFields is every per-instance field, in the order they are listed
// above. The adoption bridge renames exactly this set.
var restartFields = []string{fieldPID, fieldAccUp, fieldAccDown, fieldSessionUp, fieldSessionDown}

func isRestartField(field string) bool {
	for _, f := range restartFields {
		if f == field {
			return true
		}
	}
	return false
}

// StateKey builds the metadata key for one instance's restart-state field.
func StateKey(instanceID, field string) string {
	return instanceID + ":" + field
}

// correct converts one raw sample into a stored sample with restart-safe
// effective totals, returning the metadata updates that must commit with
// the same tick.
//
// Client counters reset to zero when the client process restarts. For
// client types that report a pid we detect the restart (pid changed) and
// fold the previous session's final counters into a per-instance
// accumulated offset, so the stored totals never go backwards.
func (e *Engine) correct(ctx context.Context, ts int64, raw sample.RawSample) (sample.Sample, map[string]string, error) {
	raw = raw.Sanitize()

	out := sample.Sample{
		Timestamp:       ts,
		InstanceID:      raw.InstanceID,
		ClientType:      raw.ClientType,
		UploadSpeed:     raw.UploadSpeed,
		DownloadSpeed:   raw.DownloadSpeed,
		TotalUploaded:   raw.UploadTotal,
		TotalDownloaded: raw.DownloadTotal,
	}

	// Only pid-reporting client types participate in correction; everything
	// else passes raw totals through unchanged.
	if !e.catalog.TracksPID(raw.ClientType) {
		return out, nil, nil
	}

	// pid 0 means no restart detection is possible this tick: record raw
	// totals as-is and leave the stored state (including the last known
	// pid) untouched.
	if raw.PID == 0 {
		return out, nil, nil
	}

	lastPid, err := e.metaInt64(ctx, raw.InstanceID, fieldPID)
	if err != nil {
		return out, nil, err
	}
	accUp, err := e.metaFloat(ctx, raw.InstanceID, fieldAccUp)
	if err != nil {
		return out, nil, err
	}
	accDown, err := e.metaFloat(ctx, raw.InstanceID, fieldAccDown)
	if err != nil {
		return out, nil, err
	}

	if lastPid > 0 && raw.PID != lastPid {
		// Restart: the old process's counters died with it. Its last
		// reported session totals are everything it transferred, so fold
		// them into the accumulated offset. With no prior session totals
		// stored the contribution is simply zero.
		sessUp, err := e.metaFloat(ctx, raw.InstanceID, fieldSessionUp)
		if err != nil {
			return out, nil, err
		}
		sessDown, err := e.metaFloat(ctx, raw.InstanceID, fieldSessionDown)
		if err != nil {
			return out, nil, err
		}
		accUp += sessUp
		accDown += sessDown
		zap.L().Info("client restart detected",
			zap.String("instance", raw.InstanceID),
			zap.Int64("old_pid", lastPid),
			zap.Int64("new_pid", raw.PID))
	}

	out.TotalUploaded = raw.UploadTotal + accUp
	out.TotalDownloaded = raw.DownloadTotal + accDown

	puts := map[string]string{
		StateKey(raw.InstanceID, fieldPID):         strconv.FormatInt(raw.PID, 10),
		StateKey(raw.InstanceID, fieldAccUp):       formatFloat(accUp),
		StateKey(raw.InstanceID, fieldAccDown):     formatFloat(accDown),
		StateKey(raw.InstanceID, fieldSessionUp):   formatFloat(raw.UploadTotal),
		StateKey(raw.InstanceID, fieldSessionDown): formatFloat(raw.DownloadTotal),
	}
	return out, puts, nil
}

// metaFloat reads a numeric restart-state field, defaulting to 0 when the
// key is absent or unparseable.
func (e *Engine) metaFloat(ctx context.Context, instanceID, field string) (float64, error) {
	v, err := e.store.GetMeta(ctx, StateKey(instanceID, field))
	if err != nil {
		return 0, fmt.Errorf("read restart state: %w", err)
	}
	return sample.SanitizeValue(cast.ToFloat64(v)), nil
}

func (e *Engine) metaInt64(ctx context.Context, instanceID, field string) (int64, error) {
	v, err := e.store.GetMeta(ctx, StateKey(instanceID, field))
	if err != nil {
		return 0, fmt.Errorf("read restart state: %w", err)
	}
	return cast.ToInt64(v), nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
