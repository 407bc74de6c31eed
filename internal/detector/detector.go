package detector

import (
	"fmt"
	"time"

	"github.com/kokkai-watch/diet-tracker/internal/model"
)

// ScoringParams are the confidence scoring constants. They are empirical and
// deliberately configurable rather than hard-coded.
type ScoringParams struct {
	Base                float64 `yaml:"base" mapstructure:"base"`
	SignificantBoost    float64 `yaml:"significant_boost" mapstructure:"significant_boost"`
	NullTransitionBoost float64 `yaml:"null_transition_boost" mapstructure:"null_transition_boost"`
	NearIdenticalPenalty float64 `yaml:"near_identical_penalty" mapstructure:"near_identical_penalty"`
	NearIdenticalAbove  float64 `yaml:"near_identical_above" mapstructure:"near_identical_above"`
	SimilarityThreshold float64 `yaml:"similarity_threshold" mapstructure:"similarity_threshold"`
}

// DefaultScoringParams returns the production scoring constants.
func DefaultScoringParams() ScoringParams {
	return ScoringParams{
		Base:                 0.8,
		SignificantBoost:     0.15,
		NullTransitionBoost:  0.1,
		NearIdenticalPenalty: 0.2,
		NearIdenticalAbove:   0.9,
		SimilarityThreshold:  0.8,
	}
}

// Detector compares bill snapshots field by field and emits classified,
// confidence-scored changes. It holds no I/O and no mutable state.
type Detector struct {
	tables *Classification
	params ScoringParams
}

// New creates a detector. A nil classification uses the defaults.
func New(tables *Classification, params ScoringParams) *Detector {
	if tables == nil {
		tables = DefaultClassification()
	}
	if params.Base == 0 {
		params = DefaultScoringParams()
	}
	return &Detector{tables: tables, params: params}
}

// DetectChanges diffs current against previous and returns one BillChange per
// significantly changed field. A nil previous snapshot means the bill is seen
// for the first time: no changes are reported, the snapshot itself becomes
// the baseline.
func (d *Detector) DetectChanges(current model.BillSnapshot, previous *model.BillSnapshot) []model.BillChange {
	if previous == nil {
		return nil
	}
	if current.DataHash == previous.DataHash {
		return nil
	}

	var changes []model.BillChange
	for _, field := range model.TrackedFields {
		oldVal, oldOK := previous.Value(field)
		newVal, newOK := current.Value(field)

		if !d.significant(field, oldVal, oldOK, newVal, newOK) {
			continue
		}

		change := model.BillChange{
			BillID:       current.BillID,
			FieldName:    field,
			ChangeType:   d.tables.ChangeTypeFor(field),
			Significance: d.tables.SignificanceFor(field),
			Confidence:   d.confidence(field, oldVal, oldOK, newVal, newOK),
			DetectedAt:   current.SnapshotTime,
			ChangeReason: changeReason(field, oldVal, oldOK, newVal, newOK),
		}
		if oldOK {
			v := oldVal
			change.OldValue = &v
		}
		if newOK {
			v := newVal
			change.NewValue = &v
		}
		changes = append(changes, change)
	}
	return changes
}

// significant decides whether a field pair counts as changed. Both absent is
// never a change; exactly one absent always is. Date and numeric fields
// change on any inequality; free-text fields change only when their
// similarity drops below the threshold.
func (d *Detector) significant(field, oldVal string, oldOK bool, newVal string, newOK bool) bool {
	switch {
	case !oldOK && !newOK:
		return false
	case oldOK != newOK:
		return true
	case d.tables.IsExactField(field):
		return oldVal != newVal
	default:
		return Similarity(oldVal, newVal) < d.params.SimilarityThreshold
	}
}

// confidence scores trust in a detected change: base score, boosted for
// fields on the significant list and for clean add/remove transitions,
// penalized when the flagged strings barely differ. Clamped to [0,1].
func (d *Detector) confidence(field, oldVal string, oldOK bool, newVal string, newOK bool) float64 {
	score := d.params.Base

	if d.tables.IsSignificantField(field) {
		score += d.params.SignificantBoost
	}
	if oldOK != newOK {
		score += d.params.NullTransitionBoost
	}
	// The near-identical penalty only makes sense for free text; an exact
	// field either changed or it did not.
	if oldOK && newOK && !d.tables.IsExactField(field) &&
		Similarity(oldVal, newVal) > d.params.NearIdenticalAbove {
		score -= d.params.NearIdenticalPenalty
	}

	if score > 1.0 {
		score = 1.0
	}
	if score < 0.0 {
		score = 0.0
	}
	return score
}

func changeReason(field, oldVal string, oldOK bool, newVal string, newOK bool) string {
	switch {
	case !oldOK && newOK:
		return "Data added"
	case oldOK && !newOK:
		return "Data removed"
	}

	switch field {
	case "status":
		return fmt.Sprintf("Status changed from %s to %s", oldVal, newVal)
	case "stage":
		return fmt.Sprintf("Stage transition from %s to %s", oldVal, newVal)
	case "outline", "background", "effects":
		return "Document content updated"
	default:
		return fmt.Sprintf("Field %s updated", field)
	}
}

// Summarize builds the one-line human summary stored on a history record.
func Summarize(change model.BillChange) string {
	if change.ChangeReason != "" {
		return fmt.Sprintf("%s: %s", change.FieldName, change.ChangeReason)
	}
	return fmt.Sprintf("%s changed", change.FieldName)
}

// RecordFor converts a detected change into its persisted history record.
// Detection mode and snapshot context travel in the metadata.
func RecordFor(change model.BillChange, mode model.DetectionMode, recordedAt time.Time) model.HistoryRecord {
	prev := map[string]string{}
	next := map[string]string{}
	if change.OldValue != nil {
		prev[change.FieldName] = *change.OldValue
	}
	if change.NewValue != nil {
		next[change.FieldName] = *change.NewValue
	}

	return model.HistoryRecord{
		BillID:          change.BillID,
		EventType:       model.EventTypeFor(change.ChangeType),
		ChangeType:      change.ChangeType,
		RecordedAt:      recordedAt.UTC(),
		PreviousValues:  prev,
		NewValues:       next,
		ChangeSummary:   Summarize(change),
		ConfidenceScore: change.Confidence,
		SourceSystem:    model.SourceAutoRecorder,
		Metadata: map[string]any{
			"detection_mode": string(mode),
			"significance":   string(change.Significance),
			"field":          change.FieldName,
		},
	}
}
