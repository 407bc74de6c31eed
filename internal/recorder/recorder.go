// Package recorder orchestrates bill change detection: it pulls candidate
// bills, snapshots them, diffs against the last recorded state, and persists
// history records batch by batch.
package recorder

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/kokkai-watch/diet-tracker/internal/detector"
	"github.com/kokkai-watch/diet-tracker/internal/model"
	"github.com/kokkai-watch/diet-tracker/internal/store"
)

// Options selects what a detection pass examines.
type Options struct {
	Mode    model.DetectionMode
	BillIDs []string   // targeted mode
	Since   *time.Time // incremental mode; nil = now - incremental window
}

// Result aggregates one detection pass.
type Result struct {
	Mode                  model.DetectionMode                 `json:"mode"`
	TotalBillsChecked     int                                 `json:"total_bills_checked"`
	ChangesDetected       int                                 `json:"changes_detected"`
	HistoryRecordsCreated int                                 `json:"history_records_created"`
	Errors                []string                            `json:"errors,omitempty"`
	ProcessingTime        time.Duration                       `json:"processing_time_ms"`
	ChangesByType         map[model.ChangeType]int            `json:"changes_by_type"`
	ChangesBySignificance map[model.ChangeSignificance]int    `json:"changes_by_significance"`
	BillsWithChanges      map[string]struct{}                 `json:"-"`
}

// Recorder runs detection passes against the bill and history stores.
// Designed for sequential single-writer execution per scheduler tick; batches
// bound transaction size, not concurrency.
type Recorder struct {
	bills     store.BillStore
	history   store.HistoryStore
	det       *detector.Detector
	batchSize int
	incWindow time.Duration
	now       func() time.Time
}

// NewRecorder creates a recorder. batchSize <= 0 defaults to 1000;
// incrementalHours <= 0 defaults to 24.
func NewRecorder(bills store.BillStore, history store.HistoryStore, det *detector.Detector, batchSize, incrementalHours int) *Recorder {
	if batchSize <= 0 {
		batchSize = 1000
	}
	if incrementalHours <= 0 {
		incrementalHours = 24
	}
	return &Recorder{
		bills:     bills,
		history:   history,
		det:       det,
		batchSize: batchSize,
		incWindow: time.Duration(incrementalHours) * time.Hour,
		now:       time.Now,
	}
}

// WithNow sets a fixed clock for testing.
func (r *Recorder) WithNow(fn func() time.Time) *Recorder {
	r.now = fn
	return r
}

// DetectAndRecord runs one detection pass. Per-bill failures are isolated:
// they are appended to the result's errors and never abort the batch. Batch
// commit failures abandon the batch; incremental mode re-selects those bills
// on the next pass.
func (r *Recorder) DetectAndRecord(ctx context.Context, opts Options) (*Result, error) {
	start := r.now()
	log := zap.L().With(
		zap.String("component", "recorder"),
		zap.String("mode", string(opts.Mode)),
	)

	result := &Result{
		Mode:                  opts.Mode,
		ChangesByType:         make(map[model.ChangeType]int),
		ChangesBySignificance: make(map[model.ChangeSignificance]int),
		BillsWithChanges:      make(map[string]struct{}),
	}

	bills, err := r.selectBills(ctx, opts)
	if err != nil {
		return nil, err
	}
	log.Info("detection pass starting", zap.Int("candidates", len(bills)))

	for offset := 0; offset < len(bills); offset += r.batchSize {
		end := offset + r.batchSize
		if end > len(bills) {
			end = len(bills)
		}
		r.processBatch(ctx, bills[offset:end], result, log)

		if ctx.Err() != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("pass cancelled: %v", ctx.Err()))
			break
		}
	}

	result.ProcessingTime = r.now().Sub(start)
	log.Info("detection pass complete",
		zap.Int("bills_checked", result.TotalBillsChecked),
		zap.Int("changes_detected", result.ChangesDetected),
		zap.Int("records_created", result.HistoryRecordsCreated),
		zap.Int("errors", len(result.Errors)),
		zap.Duration("elapsed", result.ProcessingTime),
	)
	return result, nil
}

func (r *Recorder) selectBills(ctx context.Context, opts Options) ([]model.Bill, error) {
	switch opts.Mode {
	case model.ModeTargeted:
		if len(opts.BillIDs) == 0 {
			return nil, eris.New("recorder: targeted mode requires bill ids")
		}
		bills, err := r.bills.ListBillsByIDs(ctx, opts.BillIDs)
		return bills, eris.Wrap(err, "recorder: select targeted bills")
	case model.ModeIncremental:
		since := r.now().Add(-r.incWindow)
		if opts.Since != nil {
			since = *opts.Since
		}
		bills, err := r.bills.ListBillsUpdatedSince(ctx, since)
		return bills, eris.Wrap(err, "recorder: select updated bills")
	case model.ModeFullScan:
		bills, err := r.bills.ListAllBills(ctx)
		return bills, eris.Wrap(err, "recorder: select all bills")
	default:
		return nil, eris.Errorf("recorder: unknown detection mode %q", opts.Mode)
	}
}

// processBatch diffs each bill in the batch and commits all detected changes
// plus updated snapshots in one transaction.
func (r *Recorder) processBatch(ctx context.Context, bills []model.Bill, result *Result, log *zap.Logger) {
	var (
		records   []model.HistoryRecord
		snapshots []model.BillSnapshot
		pending   []pendingBill
	)

	for i := range bills {
		bill := &bills[i]
		result.TotalBillsChecked++

		changes, snapshot, err := r.detectBill(ctx, bill)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("bill %s: %v", bill.ID, err))
			log.Warn("bill detection failed", zap.String("bill_id", bill.ID), zap.Error(err))
			continue
		}
		if snapshot != nil {
			snapshots = append(snapshots, *snapshot)
		}
		if len(changes) == 0 {
			continue
		}

		pending = append(pending, pendingBill{id: bill.ID, changes: changes})
		for _, c := range changes {
			records = append(records, detector.RecordFor(c, result.Mode, r.now()))
		}
	}

	if len(records) == 0 && len(snapshots) == 0 {
		return
	}

	if err := r.history.AppendChanges(ctx, records, snapshots); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("batch commit: %v", err))
		log.Error("batch commit failed", zap.Int("records", len(records)), zap.Error(err))
		return
	}

	result.HistoryRecordsCreated += len(records)
	for _, p := range pending {
		result.BillsWithChanges[p.id] = struct{}{}
		for _, c := range p.changes {
			result.ChangesDetected++
			result.ChangesByType[c.ChangeType]++
			result.ChangesBySignificance[c.Significance]++
		}
	}
}

type pendingBill struct {
	id      string
	changes []model.BillChange
}

// detectBill builds the current snapshot, loads the previous one, and diffs.
// The returned snapshot is nil when nothing needs persisting (unchanged
// hash).
func (r *Recorder) detectBill(ctx context.Context, bill *model.Bill) ([]model.BillChange, *model.BillSnapshot, error) {
	if bill.ID == "" {
		return nil, nil, eris.New("missing bill id")
	}

	current := detector.BuildSnapshot(bill, r.now())

	previous, err := r.history.GetSnapshot(ctx, bill.ID)
	if err != nil {
		return nil, nil, err
	}

	changes := r.det.DetectChanges(current, previous)

	if previous != nil && previous.DataHash == current.DataHash {
		return changes, nil, nil
	}
	return changes, &current, nil
}

// RecordManualChange creates a history record outside detection. Manual
// entries are the only records with confidence exactly 1.0.
func (r *Recorder) RecordManualChange(ctx context.Context, billID, field string, oldValue, newValue *string, changeType model.ChangeType, summary, userID string) (model.HistoryRecord, error) {
	if billID == "" || field == "" {
		return model.HistoryRecord{}, eris.New("recorder: manual change requires bill id and field")
	}

	prev := map[string]string{}
	next := map[string]string{}
	if oldValue != nil {
		prev[field] = *oldValue
	}
	if newValue != nil {
		next[field] = *newValue
	}
	if summary == "" {
		summary = fmt.Sprintf("%s updated manually", field)
	}

	meta := map[string]any{"field": field}
	if userID != "" {
		meta["user_id"] = userID
	}

	rec := model.HistoryRecord{
		BillID:          billID,
		EventType:       model.EventTypeFor(changeType),
		ChangeType:      changeType,
		RecordedAt:      r.now().UTC(),
		PreviousValues:  prev,
		NewValues:       next,
		ChangeSummary:   summary,
		ConfidenceScore: 1.0,
		SourceSystem:    model.SourceManualEntry,
		Metadata:        meta,
	}
	return r.history.AppendRecord(ctx, rec)
}

// CleanupOldRecords deletes data-correction records older than the retention
// window. Critical and major history is never removed.
func (r *Recorder) CleanupOldRecords(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, eris.New("recorder: retention days must be positive")
	}
	cutoff := r.now().AddDate(0, 0, -retentionDays)
	n, err := r.history.DeleteAgedCorrections(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	zap.L().Info("retention cleanup complete",
		zap.String("component", "recorder"),
		zap.Int("retention_days", retentionDays),
		zap.Int64("deleted", n),
	)
	return n, nil
}
