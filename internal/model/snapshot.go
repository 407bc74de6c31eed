package model

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"time"
)

// BillSnapshot is an immutable point-in-time capture of a bill's tracked
// fields. Snapshots are values: they are built fresh on every detection pass
// and never mutated.
type BillSnapshot struct {
	BillID        string            `json:"bill_id"`
	SnapshotTime  time.Time         `json:"snapshot_time"`
	TrackedFields map[string]string `json:"tracked_fields"`
	DataHash      string            `json:"data_hash"`
	QualityScore  float64           `json:"quality_score"`
}

// HashFields computes the content hash over the tracked fields in sorted key
// order. Two snapshots with equal hashes carry identical field values, which
// lets the detector short-circuit before any per-field comparison.
func HashFields(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write([]byte(fields[k]))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Value returns a tracked field value; ok is false when the field was absent
// at snapshot time.
func (s *BillSnapshot) Value(field string) (string, bool) {
	v, ok := s.TrackedFields[field]
	return v, ok
}
