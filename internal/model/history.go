package model

import "time"

// EventType is the coarse event classification stored on a history record,
// derived from the change type.
type EventType string

const (
	EventStatusChanged  EventType = "status_changed"
	EventStageChanged   EventType = "stage_changed"
	EventCommitteeMoved EventType = "committee_moved"
	EventVoteRecorded   EventType = "vote_recorded"
	EventDocumentEdited EventType = "document_edited"
	EventImplemented    EventType = "implemented"
	EventDataUpdated    EventType = "data_updated"
)

// Source systems for history records. Automatic detection and manual entry
// are the only writers; the distinction drives statistics filtering and the
// manual-confidence invariant.
const (
	SourceAutoRecorder = "auto_history_recorder"
	SourceManualEntry  = "manual_entry"
)

// EventTypeFor maps a change type to its history event type.
func EventTypeFor(ct ChangeType) EventType {
	switch ct {
	case ChangeStatus:
		return EventStatusChanged
	case ChangeStage:
		return EventStageChanged
	case ChangeCommittee:
		return EventCommitteeMoved
	case ChangeVote:
		return EventVoteRecorded
	case ChangeDocument:
		return EventDocumentEdited
	case ChangeImplementation:
		return EventImplemented
	default:
		return EventDataUpdated
	}
}

// HistoryRecord is the persisted, append-only audit record of a bill change.
// Records are immutable once written; the only deletion path is the explicit
// retention cleanup for aged data corrections.
type HistoryRecord struct {
	ID              string            `json:"id"`
	BillID          string            `json:"bill_id"`
	EventType       EventType         `json:"event_type"`
	ChangeType      ChangeType        `json:"change_type"`
	RecordedAt      time.Time         `json:"recorded_at"`
	PreviousValues  map[string]string `json:"previous_values"`
	NewValues       map[string]string `json:"new_values"`
	ChangeSummary   string            `json:"change_summary"`
	ConfidenceScore float64           `json:"confidence_score"`
	SourceSystem    string            `json:"source_system"`
	Metadata        map[string]any    `json:"metadata,omitempty"`
}
