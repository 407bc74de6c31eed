package model

import "time"

// DetectionMode selects which bills a detection pass examines.
type DetectionMode string

const (
	ModeFullScan    DetectionMode = "full_scan"
	ModeIncremental DetectionMode = "incremental"
	ModeTargeted    DetectionMode = "targeted"
)

// ScheduleFrequency is the cadence of the main detection job.
type ScheduleFrequency string

const (
	FreqEveryMinute    ScheduleFrequency = "every_minute"
	FreqEvery15Minutes ScheduleFrequency = "every_15_minutes"
	FreqHourly         ScheduleFrequency = "hourly"
	FreqEvery6Hours    ScheduleFrequency = "every_6_hours"
	FreqDaily          ScheduleFrequency = "daily"
	FreqWeekly         ScheduleFrequency = "weekly"
)

// CronSpec returns the cron expression for the frequency. Unknown values
// fall back to hourly.
func (f ScheduleFrequency) CronSpec() string {
	switch f {
	case FreqEveryMinute:
		return "* * * * *"
	case FreqEvery15Minutes:
		return "*/15 * * * *"
	case FreqHourly:
		return "0 * * * *"
	case FreqEvery6Hours:
		return "0 */6 * * *"
	case FreqDaily:
		return "0 3 * * *"
	case FreqWeekly:
		return "0 3 * * 1"
	default:
		return "0 * * * *"
	}
}

// ScheduleConfig is the scheduler's hot-swappable configuration.
type ScheduleConfig struct {
	Frequency              ScheduleFrequency `json:"frequency" yaml:"frequency" mapstructure:"frequency"`
	Mode                   DetectionMode     `json:"mode" yaml:"mode" mapstructure:"mode"`
	RetryOnFailure         bool              `json:"retry_on_failure" yaml:"retry_on_failure" mapstructure:"retry_on_failure"`
	MaxRetries             int               `json:"max_retries" yaml:"max_retries" mapstructure:"max_retries"`
	RetryDelaySeconds      int               `json:"retry_delay_seconds" yaml:"retry_delay_seconds" mapstructure:"retry_delay_seconds"`
	WeeklyFullScan         bool              `json:"weekly_full_scan" yaml:"weekly_full_scan" mapstructure:"weekly_full_scan"`
	FullScanWeekday        time.Weekday      `json:"full_scan_weekday" yaml:"full_scan_weekday" mapstructure:"full_scan_weekday"`
	FullScanHour           int               `json:"full_scan_hour" yaml:"full_scan_hour" mapstructure:"full_scan_hour"`
	CleanupRetentionDays   int               `json:"cleanup_retention_days" yaml:"cleanup_retention_days" mapstructure:"cleanup_retention_days"`
	MaxConsecutiveFailures int               `json:"max_consecutive_failures" yaml:"max_consecutive_failures" mapstructure:"max_consecutive_failures"`
}

// DefaultScheduleConfig returns the production defaults.
func DefaultScheduleConfig() ScheduleConfig {
	return ScheduleConfig{
		Frequency:              FreqHourly,
		Mode:                   ModeIncremental,
		RetryOnFailure:         true,
		MaxRetries:             2,
		RetryDelaySeconds:      60,
		WeeklyFullScan:         true,
		FullScanWeekday:        time.Sunday,
		FullScanHour:           2,
		CleanupRetentionDays:   90,
		MaxConsecutiveFailures: 3,
	}
}

// ExecutionResult is one entry in the scheduler's bounded execution history.
type ExecutionResult struct {
	ExecutionID    string        `json:"execution_id"`
	StartedAt      time.Time     `json:"started_at"`
	Duration       time.Duration `json:"duration"`
	Mode           DetectionMode `json:"mode"`
	Success        bool          `json:"success"`
	Attempts       int           `json:"attempts"`
	BillsChecked   int           `json:"bills_checked"`
	ChangesFound   int           `json:"changes_found"`
	RecordsCreated int           `json:"records_created"`
	Error          string        `json:"error,omitempty"`
}

// ScheduleStatus is the scheduler's live status snapshot. It accumulates for
// the life of the process and is never persisted.
type ScheduleStatus struct {
	Running              bool           `json:"running"`
	ExecutionInProgress  bool           `json:"execution_in_progress"`
	TotalExecutions      int            `json:"total_executions"`
	SuccessfulExecutions int            `json:"successful_executions"`
	FailedExecutions     int            `json:"failed_executions"`
	ConsecutiveFailures  int            `json:"consecutive_failures"`
	AvgExecutionSecs     float64        `json:"avg_execution_seconds"`
	LastExecution        *time.Time     `json:"last_execution,omitempty"`
	Config               ScheduleConfig `json:"config"`
}
