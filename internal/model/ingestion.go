package model

import "time"

// DataSource identifies which pipeline supplies meeting data.
type DataSource string

const (
	SourceNDLAPI     DataSource = "ndl_api"
	SourceWhisperSTT DataSource = "whisper_stt"
	SourceUnknown    DataSource = "unknown"
)

// IngestionPriority orders competing ingestion requests.
type IngestionPriority string

const (
	PriorityLow    IngestionPriority = "low"
	PriorityNormal IngestionPriority = "normal"
	PriorityHigh   IngestionPriority = "high"
)

// IngestionRequest describes one ingestion call. All selectors are optional;
// the routing engine decides the source from whatever is present.
type IngestionRequest struct {
	MeetingDate *time.Time        `json:"meeting_date,omitempty"`
	MeetingID   string            `json:"meeting_id,omitempty"`
	DietSession int               `json:"diet_session,omitempty"`
	ForceSource DataSource        `json:"force_source,omitempty"`
	Priority    IngestionPriority `json:"priority,omitempty"`
}

// RoutingDecision is the outcome of the routing decision table. Decisions are
// never persisted, only logged and counted in aggregate.
type RoutingDecision struct {
	DataSource        DataSource `json:"data_source"`
	Rationale         string     `json:"rationale"`
	Confidence        float64    `json:"confidence"`
	FallbackAvailable bool       `json:"fallback_available"`
	ManualOverride    bool       `json:"manual_override"`
}

// IngestionResult summarizes one ingestion call. Expected pipeline failures
// land in Errors with Success=false; the executor does not raise for them.
type IngestionResult struct {
	Success        bool       `json:"success"`
	DataSource     DataSource `json:"data_source"`
	MeetingCount   int        `json:"meeting_count"`
	SpeechCount    int        `json:"speech_count"`
	ProcessingSecs float64    `json:"processing_time_seconds"`
	FallbackUsed   bool       `json:"fallback_used"`
	Errors         []string   `json:"errors,omitempty"`
	Warnings       []string   `json:"warnings,omitempty"`
}
