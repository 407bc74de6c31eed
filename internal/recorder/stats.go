package recorder

import (
	"context"
	"time"

	"github.com/kokkai-watch/diet-tracker/internal/model"
	"github.com/kokkai-watch/diet-tracker/internal/store"
)

// Statistics summarizes automatic change detection over a trailing window.
// Manual entries are excluded.
type Statistics struct {
	Days           int                              `json:"days"`
	TotalChanges   int                              `json:"total_changes"`
	BillsAffected  int                              `json:"bills_affected"`
	AvgConfidence  float64                          `json:"avg_confidence"`
	ByChangeType   map[model.ChangeType]int         `json:"by_change_type"`
	ByEventType    map[model.EventType]int          `json:"by_event_type"`
	ChangesPerDay  float64                          `json:"changes_per_day"`
}

const statsPageSize = 1000

// ChangeStatistics aggregates auto-recorded history over the trailing
// window, paging through the store.
func (r *Recorder) ChangeStatistics(ctx context.Context, days int) (*Statistics, error) {
	if days <= 0 {
		days = 7
	}
	from := r.now().AddDate(0, 0, -days)

	stats := &Statistics{
		Days:         days,
		ByChangeType: make(map[model.ChangeType]int),
		ByEventType:  make(map[model.EventType]int),
	}
	bills := make(map[string]struct{})
	confidenceSum := 0.0

	offset := 0
	for {
		page, err := r.history.QueryRecords(ctx, store.HistoryFilter{
			From:         &from,
			SourceSystem: model.SourceAutoRecorder,
			Limit:        statsPageSize,
			Offset:       offset,
			Ascending:    true,
		})
		if err != nil {
			return nil, err
		}

		for _, rec := range page {
			stats.TotalChanges++
			stats.ByChangeType[rec.ChangeType]++
			stats.ByEventType[rec.EventType]++
			confidenceSum += rec.ConfidenceScore
			bills[rec.BillID] = struct{}{}
		}

		if len(page) < statsPageSize {
			break
		}
		offset += statsPageSize
	}

	stats.BillsAffected = len(bills)
	if stats.TotalChanges > 0 {
		stats.AvgConfidence = confidenceSum / float64(stats.TotalChanges)
	}
	stats.ChangesPerDay = float64(stats.TotalChanges) / float64(days)
	return stats, nil
}

// WindowStart returns the start of the statistics window relative to now,
// for callers formatting output.
func (s *Statistics) WindowStart(now time.Time) time.Time {
	return now.AddDate(0, 0, -s.Days)
}
