package sample

import "math"

// RawSample is one instance's reading for a single ingestion tick, exactly
// as reported by the download client. UploadTotal/DownloadTotal are the
// client's own cumulative counters and reset to zero whenever the client
// process restarts. PID is zero for client types that cannot report a
// process identity.
type RawSample struct {
	InstanceID    string  `json:"instance_id"`
	ClientType    string  `json:"client_type"`
	UploadSpeed   float64 `json:"upload_speed"`
	DownloadSpeed float64 `json:"download_speed"`
	UploadTotal   float64 `json:"upload_total"`
	DownloadTotal float64 `json:"download_total"`
	PID           int64   `json:"pid,omitempty"`
}

// Sample is one stored bandwidth reading. TotalUploaded/TotalDownloaded are
// restart-corrected effective totals, non-decreasing per instance for the
// lifetime of the database. Timestamp is milliseconds since epoch; the pair
// (Timestamp, InstanceID) identifies a row.
type Sample struct {
	Timestamp       int64   `json:"timestamp"`
	InstanceID      string  `json:"instance_id"`
	ClientType      string  `json:"client_type"`
	UploadSpeed     float64 `json:"upload_speed"`
	DownloadSpeed   float64 `json:"download_speed"`
	TotalUploaded   float64 `json:"total_uploaded"`
	TotalDownloaded float64 `json:"total_downloaded"`
}

// SanitizeValue coerces a malformed byte counter to zero. NaN, infinities
// and negative values all map to 0 so one bad reading never aborts a tick.
func SanitizeValue(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

// Sanitize returns a copy of the raw sample with all numeric fields coerced
// into valid range.
func (r RawSample) Sanitize() RawSample {
	r.UploadSpeed = SanitizeValue(r.UploadSpeed)
	r.DownloadSpeed = SanitizeValue(r.DownloadSpeed)
	r.UploadTotal = SanitizeValue(r.UploadTotal)
	r.DownloadTotal = SanitizeValue(r.DownloadTotal)
	if r.PID < 0 {
		r.PID = 0
	}
	return r
}

// Valid reports whether the raw sample can be stored at all.
func (r RawSample) Valid() bool {
	return r.InstanceID != "" && r.ClientType != ""
}
