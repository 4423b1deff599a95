package sink

import (
	"testing"
	"time"
)

func TestKeyFormat(t *testing.T) {
	at := time.Date(2026, 8, 26, 14, 30, 5, 0, time.UTC)

	spec := KeySpec{Prefix: "ipfix_flows", Format: "parquet"}
	if got, want := spec.Key(at, ""), "ipfix_flows_20260826_143005.parquet"; got != want {
		t.Errorf("Key = %q, want %q", got, want)
	}

	// Leading dot on the format is tolerated.
	spec.Format = ".csv"
	if got, want := spec.Key(at, ""), "ipfix_flows_20260826_143005.csv"; got != want {
		t.Errorf("Key = %q, want %q", got, want)
	}
}

func TestKeyRunIDSuffix(t *testing.T) {
	at := time.Date(2026, 8, 26, 14, 30, 5, 0, time.UTC)
	spec := DefaultKeySpec("flows")

	got := spec.Key(at, "0d9f6f2a-1d25-4a8e-9a50-111122223333")
	want := "flows_20260826_143005_0d9f6f2a.parquet"
	if got != want {
		t.Errorf("Key = %q, want %q", got, want)
	}

	// Same second, different run: keys must not collide.
	other := spec.Key(at, "aaaa1111-2222-3333-4444-555566667777")
	if other == got {
		t.Error("two runs in the same second produced the same key")
	}
}

func TestKeyLocalTimeNormalizedToUTC(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*3600)
	at := time.Date(2026, 8, 26, 16, 0, 0, 0, loc)

	spec := KeySpec{Prefix: "flows", Format: "parquet"}
	if got, want := spec.Key(at, ""), "flows_20260826_140000.parquet"; got != want {
		t.Errorf("Key = %q, want %q", got, want)
	}
}

func TestObjectURL(t *testing.T) {
	tests := []struct {
		endpoint string
		want     string
	}{
		{"minio:9000", "http://minio:9000/archive/k.parquet"},
		{"minio:9000/", "http://minio:9000/archive/k.parquet"},
		{"https://s3.example.com", "https://s3.example.com/archive/k.parquet"},
	}
	for _, tt := range tests {
		if got := ObjectURL(tt.endpoint, "archive", "k.parquet"); got != tt.want {
			t.Errorf("ObjectURL(%q) = %q, want %q", tt.endpoint, got, tt.want)
		}
	}
}
