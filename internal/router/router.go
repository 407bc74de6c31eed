// Package router decides, per ingestion request, whether meeting data comes
// from the historical NDL API pipeline or the real-time Whisper STT pipeline.
// Decisions are pure input→output; no I/O, no clock reads.
package router

import (
	"fmt"
	"time"

	"github.com/kokkai-watch/diet-tracker/internal/model"
)

// Boundaries holds the date and session boundaries the decision table pivots
// on. The NDL API publishes transcripts through the end of session 217; later
// meetings exist only as live video until NDL catches up.
type Boundaries struct {
	// NDLCutoff is the last meeting date covered by the NDL API (inclusive).
	NDLCutoff time.Time `json:"ndl_cutoff"`
	// TrackedSessionStart is the first day of the last NDL-covered session.
	TrackedSessionStart time.Time `json:"tracked_session_start"`
	// LiveSessionStart is the first day of the first Whisper-era session.
	LiveSessionStart time.Time `json:"live_session_start"`
	// CutoffSession is the last session number served by the NDL API.
	CutoffSession int `json:"cutoff_session"`
}

// DefaultBoundaries returns the session 217/218 boundary: NDL coverage ends
// 2025-06-21, live coverage begins 2025-06-22.
func DefaultBoundaries() Boundaries {
	return Boundaries{
		NDLCutoff:           time.Date(2025, 6, 21, 0, 0, 0, 0, time.UTC),
		TrackedSessionStart: time.Date(2025, 1, 24, 0, 0, 0, 0, time.UTC),
		LiveSessionStart:    time.Date(2025, 6, 22, 0, 0, 0, 0, time.UTC),
		CutoffSession:       217,
	}
}

// Engine evaluates the routing decision table.
type Engine struct {
	b Boundaries
}

// New creates a routing engine. Zero boundaries use the defaults.
func New(b Boundaries) *Engine {
	if b.NDLCutoff.IsZero() {
		b = DefaultBoundaries()
	}
	return &Engine{b: b}
}

// Boundaries returns the configured boundaries, for statistics reporting.
func (e *Engine) Boundaries() Boundaries {
	return e.b
}

// Decide evaluates the request in strict priority order: manual override,
// explicit meeting date, explicit session number, then the conservative
// live-pipeline default.
func (e *Engine) Decide(req model.IngestionRequest) model.RoutingDecision {
	if req.ForceSource != "" && req.ForceSource != model.SourceUnknown {
		return model.RoutingDecision{
			DataSource:        req.ForceSource,
			Rationale:         fmt.Sprintf("manual override to %s", req.ForceSource),
			Confidence:        1.0,
			FallbackAvailable: true,
			ManualOverride:    true,
		}
	}

	if req.MeetingDate != nil {
		return e.decideByDate(*req.MeetingDate)
	}

	if req.DietSession > 0 {
		return e.decideBySession(req.DietSession)
	}

	return model.RoutingDecision{
		DataSource:        model.SourceWhisperSTT,
		Rationale:         "no date or session given; defaulting to live pipeline",
		Confidence:        0.5,
		FallbackAvailable: true,
	}
}

func (e *Engine) decideByDate(d time.Time) model.RoutingDecision {
	day := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)

	if !day.After(e.b.NDLCutoff) {
		conf := 0.8
		rationale := fmt.Sprintf("date %s predates tracked session; NDL coverage less certain", day.Format("2006-01-02"))
		if !day.Before(e.b.TrackedSessionStart) {
			conf = 1.0
			rationale = fmt.Sprintf("date %s falls within NDL-covered session %d", day.Format("2006-01-02"), e.b.CutoffSession)
		}
		return model.RoutingDecision{
			DataSource: model.SourceNDLAPI,
			Rationale:  rationale,
			Confidence: conf,
			// Whisper cannot retroactively transcribe past sessions.
			FallbackAvailable: false,
		}
	}

	conf := 0.9
	rationale := fmt.Sprintf("date %s is past NDL cutoff but before session %d", day.Format("2006-01-02"), e.b.CutoffSession+1)
	if !day.Before(e.b.LiveSessionStart) {
		conf = 1.0
		rationale = fmt.Sprintf("date %s falls within live session %d or later", day.Format("2006-01-02"), e.b.CutoffSession+1)
	}
	return model.RoutingDecision{
		DataSource: model.SourceWhisperSTT,
		Rationale:  rationale,
		Confidence: conf,
		// NDL may eventually publish the transcript.
		FallbackAvailable: true,
	}
}

func (e *Engine) decideBySession(session int) model.RoutingDecision {
	if session <= e.b.CutoffSession {
		return model.RoutingDecision{
			DataSource:        model.SourceNDLAPI,
			Rationale:         fmt.Sprintf("session %d is within NDL API coverage", session),
			Confidence:        0.9,
			FallbackAvailable: false,
		}
	}
	return model.RoutingDecision{
		DataSource:        model.SourceWhisperSTT,
		Rationale:         fmt.Sprintf("session %d is past NDL API coverage", session),
		Confidence:        0.9,
		FallbackAvailable: true,
	}
}
