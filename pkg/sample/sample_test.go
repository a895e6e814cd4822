package sample

import (
	"math"
	"testing"
)

func TestSanitizeValue(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		want float64
	}{
		{"normal", 123.5, 123.5},
		{"zero", 0, 0},
		{"negative", -1, 0},
		{"nan", math.NaN(), 0},
		{"positive infinity", math.Inf(1), 0},
		{"negative infinity", math.Inf(-1), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeValue(tt.in); got != tt.want {
				t.Errorf("SanitizeValue(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestRawSample_Sanitize(t *testing.T) {
	r := RawSample{
		InstanceID:    "bt-1",
		ClientType:    "qbittorrent",
		UploadSpeed:   math.NaN(),
		DownloadSpeed: -10,
		UploadTotal:   math.Inf(1),
		DownloadTotal: 42,
		PID:           -7,
	}
	s := r.Sanitize()

	if s.UploadSpeed != 0 || s.DownloadSpeed != 0 || s.UploadTotal != 0 {
		t.Errorf("malformed fields not coerced: %+v", s)
	}
	if s.DownloadTotal != 42 {
		t.Errorf("valid field changed: %v", s.DownloadTotal)
	}
	if s.PID != 0 {
		t.Errorf("negative pid should coerce to 0, got %d", s.PID)
	}
	if r.UploadTotal == 0 {
		t.Error("Sanitize should not mutate the receiver")
	}
}

func TestRawSample_Valid(t *testing.T) {
	if (RawSample{InstanceID: "bt-1", ClientType: "qbittorrent"}).Valid() != true {
		t.Error("complete sample should be valid")
	}
	if (RawSample{ClientType: "qbittorrent"}).Valid() {
		t.Error("missing instance ID should be invalid")
	}
	if (RawSample{InstanceID: "bt-1"}).Valid() {
		t.Error("missing client type should be invalid")
	}
}
