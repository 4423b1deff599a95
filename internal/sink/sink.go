// Package sink computes deterministic object keys for export artifacts.
//
// The key template is {prefix}_{YYYYMMDD_HHMMSS}.{format}, second
// granularity. Two runs inside the same second would collide and the
// later artifact would silently overwrite the earlier archive, so
// callers running at sub-second frequency enable the run-ID suffix.
package sink

import (
	"fmt"
	"strings"
	"time"
)

// KeySpec describes how artifact keys are built.
type KeySpec struct {
	Prefix    string
	Format    string // file extension, e.g. "parquet"
	WithRunID bool   // append a run-ID disambiguator
}

// DefaultKeySpec is the standard export layout: parquet artifacts with a
// run-ID suffix so no two runs can ever share a key.
func DefaultKeySpec(prefix string) KeySpec {
	return KeySpec{Prefix: prefix, Format: "parquet", WithRunID: true}
}

// Key renders the object key for a run starting at t. runID may be any
// unique run identifier; only its first 8 characters are used.
func (s KeySpec) Key(t time.Time, runID string) string {
	stamp := t.UTC().Format("20060102_150405")
	format := strings.TrimPrefix(s.Format, ".")
	if s.WithRunID && runID != "" {
		return fmt.Sprintf("%s_%s_%s.%s", s.Prefix, stamp, shortID(runID), format)
	}
	return fmt.Sprintf("%s_%s.%s", s.Prefix, stamp, format)
}

// ObjectURL joins the sink endpoint, bucket, and key into the s3() URL
// form the export statement embeds.
func ObjectURL(endpoint, bucket, key string) string {
	endpoint = strings.TrimSuffix(endpoint, "/")
	if !strings.Contains(endpoint, "://") {
		endpoint = "http://" + endpoint
	}
	return fmt.Sprintf("%s/%s/%s", endpoint, bucket, key)
}

func shortID(id string) string {
	id = strings.ReplaceAll(id, "-", "")
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
