package detector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kokkai-watch/diet-tracker/internal/model"
)

func snapshotAt(billID string, at time.Time, fields map[string]string) model.BillSnapshot {
	return model.BillSnapshot{
		BillID:        billID,
		SnapshotTime:  at,
		TrackedFields: fields,
		DataHash:      model.HashFields(fields),
	}
}

func TestDetectChanges_FirstObservation(t *testing.T) {
	d := New(nil, DefaultScoringParams())
	current := snapshotAt("bill-1", time.Now(), map[string]string{"status": "審議中"})

	changes := d.DetectChanges(current, nil)

	assert.Nil(t, changes, "first observation establishes the baseline without changes")
}

func TestDetectChanges_IdenticalSnapshots(t *testing.T) {
	d := New(nil, DefaultScoringParams())
	fields := map[string]string{"status": "審議中", "title": "地方自治法の一部を改正する法律案"}
	now := time.Now()

	current := snapshotAt("bill-1", now, fields)
	previous := snapshotAt("bill-1", now.Add(-time.Hour), fields)

	assert.Empty(t, d.DetectChanges(current, &previous))
}

func TestDetectChanges_StatusPassage(t *testing.T) {
	d := New(nil, DefaultScoringParams())
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

	previous := snapshotAt("bill-217-12", now.Add(-24*time.Hour), map[string]string{
		"status": "審議中",
		"title":  "地方自治法の一部を改正する法律案",
	})
	current := snapshotAt("bill-217-12", now, map[string]string{
		"status": "成立",
		"title":  "地方自治法の一部を改正する法律案",
	})

	changes := d.DetectChanges(current, &previous)
	require.Len(t, changes, 1)

	change := changes[0]
	assert.Equal(t, "status", change.FieldName)
	assert.Equal(t, model.ChangeStatus, change.ChangeType)
	assert.Equal(t, model.SignificanceCritical, change.Significance)
	assert.Equal(t, "Status changed from 審議中 to 成立", change.ChangeReason)
	require.NotNil(t, change.OldValue)
	require.NotNil(t, change.NewValue)
	assert.Equal(t, "審議中", *change.OldValue)
	assert.Equal(t, "成立", *change.NewValue)
	// status is on the significant-field list: base + boost.
	assert.InDelta(t, 0.95, change.Confidence, 1e-9)
	assert.Equal(t, now, change.DetectedAt)
}

func TestDetectChanges_DataAdded(t *testing.T) {
	d := New(nil, DefaultScoringParams())
	now := time.Now()

	previous := snapshotAt("bill-1", now.Add(-time.Hour), map[string]string{
		"title": "法律案",
	})
	current := snapshotAt("bill-1", now, map[string]string{
		"title":     "法律案",
		"vote_date": "2025-06-10",
	})

	changes := d.DetectChanges(current, &previous)
	require.Len(t, changes, 1)

	change := changes[0]
	assert.Equal(t, "vote_date", change.FieldName)
	assert.Equal(t, "Data added", change.ChangeReason)
	assert.Nil(t, change.OldValue)
	require.NotNil(t, change.NewValue)
	// vote_date is significant and this is a null transition: 0.8+0.15+0.1
	// clamps to 1.0.
	assert.Equal(t, 1.0, change.Confidence)
}

func TestDetectChanges_DataRemoved(t *testing.T) {
	d := New(nil, DefaultScoringParams())
	now := time.Now()

	previous := snapshotAt("bill-1", now.Add(-time.Hour), map[string]string{
		"title":   "法律案",
		"outline": "本法律案は地方自治体の権限を拡大する。",
	})
	current := snapshotAt("bill-1", now, map[string]string{
		"title": "法律案",
	})

	changes := d.DetectChanges(current, &previous)
	require.Len(t, changes, 1)
	assert.Equal(t, "outline", changes[0].FieldName)
	assert.Equal(t, "Data removed", changes[0].ChangeReason)
	assert.Nil(t, changes[0].NewValue)
}

func TestDetectChanges_SimilarTextBelowThresholdIgnored(t *testing.T) {
	d := New(nil, DefaultScoringParams())
	now := time.Now()

	// One rune of drift in a long outline stays above the 0.8 similarity
	// threshold and is not a change.
	previous := snapshotAt("bill-1", now.Add(-time.Hour), map[string]string{
		"title":   "something",
		"outline": "本法律案は地方自治体の権限を大幅に拡大するものである",
	})
	current := snapshotAt("bill-1", now, map[string]string{
		"title":   "something",
		"outline": "本法律案は地方自治体の権限を大幅に拡大するものです",
	})

	assert.Empty(t, d.DetectChanges(current, &previous))
}

func TestDetectChanges_VoteDateShiftedOneDay(t *testing.T) {
	d := New(nil, DefaultScoringParams())
	now := time.Date(2025, 6, 23, 8, 0, 0, 0, time.UTC)

	// Adjacent dates are >0.8 similar as strings; vote_date still compares
	// by equality, so a one-day shift is a change.
	previous := snapshotAt("bill-217-3", now.Add(-time.Hour), map[string]string{
		"status":    "採決待ち",
		"vote_date": "2025-06-21",
	})
	current := snapshotAt("bill-217-3", now, map[string]string{
		"status":    "採決待ち",
		"vote_date": "2025-06-22",
	})

	changes := d.DetectChanges(current, &previous)
	require.Len(t, changes, 1)

	change := changes[0]
	assert.Equal(t, "vote_date", change.FieldName)
	assert.Equal(t, model.ChangeVote, change.ChangeType)
	assert.Equal(t, model.SignificanceCritical, change.Significance)
	require.NotNil(t, change.OldValue)
	require.NotNil(t, change.NewValue)
	assert.Equal(t, "2025-06-21", *change.OldValue)
	assert.Equal(t, "2025-06-22", *change.NewValue)
	// No near-identical penalty for exact fields: base + significant boost.
	assert.InDelta(t, 0.95, change.Confidence, 1e-9)
}

func TestDetectChanges_QualityScoreComparedExactly(t *testing.T) {
	d := New(nil, DefaultScoringParams())
	now := time.Now()

	previous := snapshotAt("bill-1", now.Add(-time.Hour), map[string]string{
		"quality_score": "0.420",
	})
	current := snapshotAt("bill-1", now, map[string]string{
		"quality_score": "0.430",
	})

	changes := d.DetectChanges(current, &previous)
	require.Len(t, changes, 1)
	assert.Equal(t, "quality_score", changes[0].FieldName)
	assert.Equal(t, model.SignificanceTrivial, changes[0].Significance)
}

func TestDetectChanges_MultipleFields(t *testing.T) {
	d := New(nil, DefaultScoringParams())
	now := time.Now()

	previous := snapshotAt("bill-1", now.Add(-time.Hour), map[string]string{
		"status":    "審議中",
		"committee": "内閣委員会",
	})
	current := snapshotAt("bill-1", now, map[string]string{
		"status":    "成立",
		"committee": "総務委員会",
		"vote_date": "2025-06-10",
	})

	changes := d.DetectChanges(current, &previous)
	require.Len(t, changes, 3)

	byField := map[string]model.BillChange{}
	for _, c := range changes {
		byField[c.FieldName] = c
	}
	assert.Equal(t, model.ChangeStatus, byField["status"].ChangeType)
	assert.Equal(t, model.ChangeCommittee, byField["committee"].ChangeType)
	assert.Equal(t, model.ChangeVote, byField["vote_date"].ChangeType)
}

func TestConfidence_Bounds(t *testing.T) {
	d := New(nil, DefaultScoringParams())

	// Every combination of boosts and penalties stays in [0,1].
	cases := []struct {
		field          string
		oldVal, newVal string
		oldOK, newOK   bool
	}{
		{"status", "", "成立", false, true},
		{"status", "審議中", "", true, false},
		{"title", "abcdefghij", "abcdefghik", true, true},
		{"outline", "totally", "different", true, true},
		{"submitter", "", "内閣", false, true},
	}
	for _, tc := range cases {
		score := d.confidence(tc.field, tc.oldVal, tc.oldOK, tc.newVal, tc.newOK)
		assert.GreaterOrEqual(t, score, 0.0, "field %s", tc.field)
		assert.LessOrEqual(t, score, 1.0, "field %s", tc.field)
	}
}

func TestConfidence_NearIdenticalPenalty(t *testing.T) {
	d := New(nil, DefaultScoringParams())

	// Long strings one rune apart are >0.9 similar; a non-significant field
	// scores base minus the penalty.
	score := d.confidence("note", "abcdefghijklmnopqrstuvwxyz", true, "abcdefghijklmnopqrstuvwxyy", true)
	assert.InDelta(t, 0.6, score, 1e-9)

	// Exact fields take no similarity penalty however close the strings
	// look. Adjacent dates are 0.9 similar, above this tightened cutoff.
	params := DefaultScoringParams()
	params.NearIdenticalAbove = 0.85
	tight := New(nil, params)
	score = tight.confidence("implementation_date", "2026-04-01", true, "2026-04-02", true)
	assert.InDelta(t, 0.95, score, 1e-9)
}

func TestRecordFor_ManualFieldsAndMetadata(t *testing.T) {
	oldVal, newVal := "審議中", "成立"
	change := model.BillChange{
		BillID:       "bill-1",
		FieldName:    "status",
		OldValue:     &oldVal,
		NewValue:     &newVal,
		ChangeType:   model.ChangeStatus,
		Significance: model.SignificanceCritical,
		Confidence:   0.95,
		ChangeReason: "Status changed from 審議中 to 成立",
	}

	at := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)
	rec := RecordFor(change, model.ModeIncremental, at)

	assert.Equal(t, "bill-1", rec.BillID)
	assert.Equal(t, model.EventStatusChanged, rec.EventType)
	assert.Equal(t, model.ChangeStatus, rec.ChangeType)
	assert.Equal(t, at, rec.RecordedAt)
	assert.Equal(t, map[string]string{"status": "審議中"}, rec.PreviousValues)
	assert.Equal(t, map[string]string{"status": "成立"}, rec.NewValues)
	assert.Equal(t, model.SourceAutoRecorder, rec.SourceSystem)
	assert.Equal(t, "incremental", rec.Metadata["detection_mode"])
	assert.Equal(t, "critical", rec.Metadata["significance"])
	assert.Equal(t, "status: Status changed from 審議中 to 成立", rec.ChangeSummary)
}
