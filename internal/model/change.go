package model

import "time"

// ChangeType classifies what kind of change a field diff represents.
type ChangeType string

const (
	ChangeStatus        ChangeType = "status_change"
	ChangeStage         ChangeType = "stage_transition"
	ChangeCommittee     ChangeType = "committee_assignment"
	ChangeVote          ChangeType = "vote_recorded"
	ChangeDocument      ChangeType = "document_update"
	ChangeMetadata      ChangeType = "metadata_update"
	ChangeImplementation ChangeType = "implementation"
	ChangeCorrection    ChangeType = "data_correction"
)

// ChangeSignificance grades how much a change matters to consumers of the
// history feed.
type ChangeSignificance string

const (
	SignificanceCritical ChangeSignificance = "critical"
	SignificanceMajor    ChangeSignificance = "major"
	SignificanceMinor    ChangeSignificance = "minor"
	SignificanceTrivial  ChangeSignificance = "trivial"
)

// BillChange is a single detected field-level difference between two
// snapshots. Changes are transient: each one is converted 1:1 into a
// persisted HistoryRecord and then discarded.
type BillChange struct {
	BillID       string             `json:"bill_id"`
	FieldName    string             `json:"field_name"`
	OldValue     *string            `json:"old_value,omitempty"`
	NewValue     *string            `json:"new_value,omitempty"`
	ChangeType   ChangeType         `json:"change_type"`
	Significance ChangeSignificance `json:"significance"`
	Confidence   float64            `json:"confidence"`
	DetectedAt   time.Time          `json:"detected_at"`
	ChangeReason string             `json:"change_reason,omitempty"`
}
