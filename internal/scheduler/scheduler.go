// Package scheduler runs the history recorder on a cron cadence with retry,
// overlap protection, and consecutive-failure alerting.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/kokkai-watch/diet-tracker/internal/model"
	"github.com/kokkai-watch/diet-tracker/internal/monitoring"
	"github.com/kokkai-watch/diet-tracker/internal/recorder"
	"github.com/kokkai-watch/diet-tracker/internal/resilience"
)

// maxHistoryEntries bounds the in-memory execution history ring buffer.
const maxHistoryEntries = 1000

// Scheduler triggers detection passes on a schedule. At most one pass runs
// at a time process-wide; overlapping triggers are skipped, not queued.
type Scheduler struct {
	rec     *recorder.Recorder
	alerter *monitoring.Alerter

	// runMu is the execution guard: TryLock at trigger time, so two
	// near-simultaneous triggers cannot both start a pass.
	runMu sync.Mutex

	mu      sync.Mutex // guards everything below
	cfg     model.ScheduleConfig
	cron    *cron.Cron
	running bool

	inProgress           bool
	totalExecutions      int
	successfulExecutions int
	failedExecutions     int
	consecutiveFailures  int
	avgExecutionSecs     float64
	lastExecution        *time.Time
	history              []model.ExecutionResult
	historyNext          int // ring buffer write cursor
}

// New creates a scheduler with the given config.
func New(rec *recorder.Recorder, alerter *monitoring.Alerter, cfg model.ScheduleConfig) *Scheduler {
	if cfg.Frequency == "" {
		cfg = model.DefaultScheduleConfig()
	}
	return &Scheduler{rec: rec, alerter: alerter, cfg: cfg}
}

// Start registers the cron jobs and begins ticking. Idempotent.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	if err := s.buildCronLocked(ctx); err != nil {
		return err
	}
	s.cron.Start()
	s.running = true
	zap.L().Info("scheduler started",
		zap.String("component", "scheduler"),
		zap.String("frequency", string(s.cfg.Frequency)),
		zap.String("mode", string(s.cfg.Mode)),
	)
	return nil
}

// Stop halts scheduling. An in-flight pass runs to completion.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.cron.Stop()
	s.cron = nil
	s.running = false
	zap.L().Info("scheduler stopped", zap.String("component", "scheduler"))
}

// buildCronLocked registers the main detection job plus the weekly full scan
// and the daily retention cleanup. Caller holds s.mu.
func (s *Scheduler) buildCronLocked(ctx context.Context) error {
	c := cron.New()

	mode := s.cfg.Mode
	if _, err := c.AddFunc(s.cfg.Frequency.CronSpec(), func() {
		s.runScheduled(ctx, mode, "scheduled")
	}); err != nil {
		return eris.Wrap(err, "scheduler: register main job")
	}

	if s.cfg.WeeklyFullScan {
		spec := fmt.Sprintf("0 %d * * %d", s.cfg.FullScanHour, int(s.cfg.FullScanWeekday))
		if _, err := c.AddFunc(spec, func() {
			s.runScheduled(ctx, model.ModeFullScan, "weekly_full_scan")
		}); err != nil {
			return eris.Wrap(err, "scheduler: register weekly full scan")
		}
	}

	if s.cfg.CleanupRetentionDays > 0 {
		retention := s.cfg.CleanupRetentionDays
		if _, err := c.AddFunc("30 4 * * *", func() {
			s.runCleanup(ctx, retention)
		}); err != nil {
			return eris.Wrap(err, "scheduler: register cleanup job")
		}
	}

	s.cron = c
	return nil
}

// UpdateConfig hot-swaps the schedule: all jobs are torn down and rebuilt
// atomically under the config lock.
func (s *Scheduler) UpdateConfig(ctx context.Context, cfg model.ScheduleConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wasRunning := s.running
	if wasRunning {
		s.cron.Stop()
		s.cron = nil
		s.running = false
	}

	s.cfg = cfg

	if wasRunning {
		if err := s.buildCronLocked(ctx); err != nil {
			return err
		}
		s.cron.Start()
		s.running = true
	}

	zap.L().Info("scheduler config updated",
		zap.String("component", "scheduler"),
		zap.String("frequency", string(cfg.Frequency)),
		zap.String("mode", string(cfg.Mode)),
	)
	return nil
}

// ForceExecution runs a detection pass synchronously, outside the schedule.
// It shares the overlap guard with scheduled runs.
func (s *Scheduler) ForceExecution(ctx context.Context, mode model.DetectionMode) (*model.ExecutionResult, error) {
	if mode == "" {
		s.mu.Lock()
		mode = s.cfg.Mode
		s.mu.Unlock()
	}
	res, skipped := s.execute(ctx, mode, "forced")
	if skipped {
		return nil, eris.New("scheduler: a detection pass is already running")
	}
	return res, nil
}

// runScheduled is the cron entry point. Skipped runs are logged, never
// queued or retried.
func (s *Scheduler) runScheduled(ctx context.Context, mode model.DetectionMode, trigger string) {
	if _, skipped := s.execute(ctx, mode, trigger); skipped {
		zap.L().Warn("skipping detection pass: previous pass still running",
			zap.String("component", "scheduler"),
			zap.String("trigger", trigger),
		)
	}
}

// execute runs one guarded detection pass with retries. Returns skipped=true
// when another pass held the guard.
func (s *Scheduler) execute(ctx context.Context, mode model.DetectionMode, trigger string) (*model.ExecutionResult, bool) {
	if !s.runMu.TryLock() {
		return nil, true
	}
	defer s.runMu.Unlock()

	s.mu.Lock()
	cfg := s.cfg
	s.inProgress = true
	s.mu.Unlock()

	log := zap.L().With(
		zap.String("component", "scheduler"),
		zap.String("trigger", trigger),
		zap.String("mode", string(mode)),
	)

	start := time.Now()
	attempts := 0

	retryCfg := resilience.FixedRetryConfig(1, 0)
	if cfg.RetryOnFailure && cfg.MaxRetries > 0 {
		retryCfg = resilience.FixedRetryConfig(cfg.MaxRetries+1, time.Duration(cfg.RetryDelaySeconds)*time.Second)
	}
	retryCfg.OnRetry = func(attempt int, err error) {
		log.Warn("retrying detection pass", zap.Int("attempt", attempt), zap.Error(err))
	}

	recResult, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*recorder.Result, error) {
		attempts++
		return s.rec.DetectAndRecord(ctx, recorder.Options{Mode: mode})
	})

	exec := model.ExecutionResult{
		ExecutionID: uuid.New().String(),
		StartedAt:   start.UTC(),
		Duration:    time.Since(start),
		Mode:        mode,
		Success:     err == nil,
		Attempts:    attempts,
	}
	if recResult != nil {
		exec.BillsChecked = recResult.TotalBillsChecked
		exec.ChangesFound = recResult.ChangesDetected
		exec.RecordsCreated = recResult.HistoryRecordsCreated
	}
	if err != nil {
		exec.Error = err.Error()
		log.Error("detection pass failed", zap.Int("attempts", attempts), zap.Error(err))
	}

	s.recordExecution(ctx, exec)
	return &exec, false
}

// recordExecution folds a finished execution into status and the ring
// buffer, and fires the consecutive-failure alert when warranted.
func (s *Scheduler) recordExecution(ctx context.Context, exec model.ExecutionResult) {
	s.mu.Lock()

	s.inProgress = false
	s.totalExecutions++
	now := exec.StartedAt
	s.lastExecution = &now

	if exec.Success {
		s.successfulExecutions++
		s.consecutiveFailures = 0
	} else {
		s.failedExecutions++
		s.consecutiveFailures++
	}

	// Exponential smoothing, heavily weighted toward history.
	secs := exec.Duration.Seconds()
	if s.totalExecutions == 1 {
		s.avgExecutionSecs = secs
	} else {
		s.avgExecutionSecs = 0.9*s.avgExecutionSecs + 0.1*secs
	}

	if len(s.history) < maxHistoryEntries {
		s.history = append(s.history, exec)
	} else {
		s.history[s.historyNext] = exec
	}
	s.historyNext = (s.historyNext + 1) % maxHistoryEntries

	failures := s.consecutiveFailures
	threshold := s.cfg.MaxConsecutiveFailures
	s.mu.Unlock()

	// The scheduler never self-terminates on repeated failure; it alerts
	// and keeps ticking.
	if threshold > 0 && failures >= threshold && s.alerter != nil {
		s.alerter.Critical(ctx, monitoring.AlertConsecutiveFailures,
			fmt.Sprintf("change detection has failed %d times in a row", failures),
			map[string]any{
				"consecutive_failures": failures,
				"threshold":            threshold,
				"last_error":           exec.Error,
			})
	}
}

func (s *Scheduler) runCleanup(ctx context.Context, retentionDays int) {
	if !s.runMu.TryLock() {
		zap.L().Warn("skipping retention cleanup: detection pass running",
			zap.String("component", "scheduler"))
		return
	}
	defer s.runMu.Unlock()

	if _, err := s.rec.CleanupOldRecords(ctx, retentionDays); err != nil {
		zap.L().Error("retention cleanup failed",
			zap.String("component", "scheduler"), zap.Error(err))
		if s.alerter != nil {
			s.alerter.Warning(ctx, monitoring.AlertCleanupFailure,
				"retention cleanup failed", map[string]any{"error": err.Error()})
		}
	}
}

// Status returns a snapshot of the scheduler's live state.
func (s *Scheduler) Status() model.ScheduleStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.ScheduleStatus{
		Running:              s.running,
		ExecutionInProgress:  s.inProgress,
		TotalExecutions:      s.totalExecutions,
		SuccessfulExecutions: s.successfulExecutions,
		FailedExecutions:     s.failedExecutions,
		ConsecutiveFailures:  s.consecutiveFailures,
		AvgExecutionSecs:     s.avgExecutionSecs,
		LastExecution:        s.lastExecution,
		Config:               s.cfg,
	}
}

// RecentResults returns up to limit execution results, newest first.
func (s *Scheduler) RecentResults(limit int) []model.ExecutionResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 || limit > len(s.history) {
		limit = len(s.history)
	}

	// Walk backward from the most recent entry in the ring.
	out := make([]model.ExecutionResult, 0, limit)
	idx := s.historyNext - 1
	for i := 0; i < limit; i++ {
		if idx < 0 {
			idx = len(s.history) - 1
		}
		out = append(out, s.history[idx])
		idx--
	}
	return out
}

// PerformanceMetrics aggregates execution history over the trailing window.
type PerformanceMetrics struct {
	Days            int     `json:"days"`
	Executions      int     `json:"executions"`
	Successes       int     `json:"successes"`
	Failures        int     `json:"failures"`
	SuccessRate     float64 `json:"success_rate"`
	AvgDurationSecs float64 `json:"avg_duration_seconds"`
	TotalChanges    int     `json:"total_changes"`
	TotalRecords    int     `json:"total_records"`
}

// Metrics computes performance metrics from the in-memory execution history.
func (s *Scheduler) Metrics(days int) PerformanceMetrics {
	if days <= 0 {
		days = 7
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)

	s.mu.Lock()
	defer s.mu.Unlock()

	m := PerformanceMetrics{Days: days}
	var durationSum float64
	for _, exec := range s.history {
		if exec.StartedAt.Before(cutoff) {
			continue
		}
		m.Executions++
		if exec.Success {
			m.Successes++
		} else {
			m.Failures++
		}
		durationSum += exec.Duration.Seconds()
		m.TotalChanges += exec.ChangesFound
		m.TotalRecords += exec.RecordsCreated
	}
	if m.Executions > 0 {
		m.SuccessRate = float64(m.Successes) / float64(m.Executions)
		m.AvgDurationSecs = durationSum / float64(m.Executions)
	}
	return m
}
