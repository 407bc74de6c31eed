package store

import (
	"context"
	"time"

	"github.com/kokkai-watch/diet-tracker/internal/model"
)

// HistoryFilter specifies criteria for querying history records.
type HistoryFilter struct {
	BillID        string            `json:"bill_id,omitempty"`
	From          *time.Time        `json:"from,omitempty"`
	To            *time.Time        `json:"to,omitempty"`
	EventType     model.EventType   `json:"event_type,omitempty"`
	ChangeType    model.ChangeType  `json:"change_type,omitempty"`
	SourceSystem  string            `json:"source_system,omitempty"`
	MinConfidence float64           `json:"min_confidence,omitempty"`
	Ascending     bool              `json:"ascending,omitempty"`
	Limit         int               `json:"limit,omitempty"`
	Offset        int               `json:"offset,omitempty"`
}

// BillStore reads bills for change detection. Implementations tolerate
// partially populated records; absent fields diff as null.
type BillStore interface {
	ListAllBills(ctx context.Context) ([]model.Bill, error)
	ListBillsUpdatedSince(ctx context.Context, since time.Time) ([]model.Bill, error)
	ListBillsByIDs(ctx context.Context, ids []string) ([]model.Bill, error)
}

// HistoryStore owns the append-only change history and the current-snapshot
// table. AppendChanges writes a batch of records and their bills' current
// snapshots in one transaction, which is the recorder's commit boundary.
type HistoryStore interface {
	AppendChanges(ctx context.Context, records []model.HistoryRecord, snapshots []model.BillSnapshot) error
	AppendRecord(ctx context.Context, rec model.HistoryRecord) (model.HistoryRecord, error)
	QueryRecords(ctx context.Context, f HistoryFilter) ([]model.HistoryRecord, error)
	// DeleteAgedCorrections removes data-correction records older than the
	// cutoff. All other change types are retained forever.
	DeleteAgedCorrections(ctx context.Context, cutoff time.Time) (int64, error)
	GetSnapshot(ctx context.Context, billID string) (*model.BillSnapshot, error)
}

// MeetingStore persists ingested meetings and speeches. All creates are
// idempotent-by-lookup on the natural key.
type MeetingStore interface {
	FindMeetingByIssueID(ctx context.Context, issueID string) (*model.Meeting, error)
	CreateMeeting(ctx context.Context, m model.Meeting) (model.Meeting, error)
	CreateSpeeches(ctx context.Context, speeches []model.Speech) (int, error)
	FindOrCreateMember(ctx context.Context, name, house, party string) (model.Member, error)
	FindOrCreateParty(ctx context.Context, name string) (model.Party, error)
}

// Store aggregates the persistence surfaces plus lifecycle.
type Store interface {
	BillStore
	HistoryStore
	MeetingStore

	Migrate(ctx context.Context) error
	Close() error
}
