// Package ingest executes ingestion requests against the source the routing
// engine selects, with a single-level fallback to the other source when the
// decision permits it.
package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/kokkai-watch/diet-tracker/internal/model"
	"github.com/kokkai-watch/diet-tracker/internal/monitoring"
	"github.com/kokkai-watch/diet-tracker/internal/router"
)

// A fallback rate this high means the configured primary sources are
// misrouted or degraded; operators get a warning once per crossing.
const (
	fallbackRateAlertThreshold = 0.5
	fallbackRateAlertMinimum   = 4
)

// SourceResult is what one source ingester reports back on success. Errors
// holds per-meeting failures that did not abort the run.
type SourceResult struct {
	MeetingCount int
	SpeechCount  int
	Warnings     []string
	Errors       []string
}

// SourceIngester runs one data source's pipeline for a request. Expected
// per-item problems (a meeting with no video, a transcript failing quality
// gates) surface as warnings, and per-meeting persistence failures as
// accumulated errors; an error return means the source as a whole failed
// and fallback may apply.
type SourceIngester interface {
	Source() model.DataSource
	Ingest(ctx context.Context, req model.IngestionRequest) (*SourceResult, error)
}

// RoutingStatistics aggregates executor activity since process start.
// BySource counts dispatches, not successes: a fallback attempt ticks the
// alternate source's counter too. SourcePercent, FallbackRate, and
// Boundaries are derived at read time.
type RoutingStatistics struct {
	TotalRequests     int                          `json:"total_requests"`
	BySource          map[model.DataSource]int     `json:"requests_by_source"`
	SourcePercent     map[model.DataSource]float64 `json:"source_percent"`
	FallbacksUsed     int                          `json:"fallbacks_used"`
	FallbackRate      float64                      `json:"fallback_rate"`
	FailedRequests    int                          `json:"failed_requests"`
	ManualOverrides   int                          `json:"manual_overrides"`
	MeetingsProcessed int                          `json:"meetings_processed"`
	SpeechesProcessed int                          `json:"speeches_processed"`
	Boundaries        router.Boundaries            `json:"boundaries"`
}

// Executor routes requests and dispatches them to source ingesters.
type Executor struct {
	engine  *router.Engine
	sources map[model.DataSource]SourceIngester
	alerter *monitoring.Alerter

	mu               sync.Mutex
	stats            RoutingStatistics
	fallbacksAlerted int
}

// NewExecutor creates an executor over the given source ingesters.
func NewExecutor(engine *router.Engine, sources ...SourceIngester) *Executor {
	m := make(map[model.DataSource]SourceIngester, len(sources))
	for _, s := range sources {
		m[s.Source()] = s
	}
	return &Executor{
		engine:  engine,
		sources: m,
		stats:   RoutingStatistics{BySource: make(map[model.DataSource]int)},
	}
}

// SetAlerter enables fallback-rate warnings.
func (e *Executor) SetAlerter(a *monitoring.Alerter) {
	e.alerter = a
}

// fallbackFor maps each source to its alternate.
func fallbackFor(src model.DataSource) model.DataSource {
	switch src {
	case model.SourceNDLAPI:
		return model.SourceWhisperSTT
	case model.SourceWhisperSTT:
		return model.SourceNDLAPI
	default:
		return model.SourceUnknown
	}
}

// Execute routes one request and runs it. Source pipeline failures are
// reported in the result, not raised; the returned error is reserved for
// requests that could not be dispatched at all.
func (e *Executor) Execute(ctx context.Context, req model.IngestionRequest) (*model.IngestionResult, error) {
	decision := e.engine.Decide(req)

	log := zap.L().With(
		zap.String("component", "ingest"),
		zap.String("source", string(decision.DataSource)),
		zap.String("rationale", decision.Rationale),
		zap.Float64("confidence", decision.Confidence),
	)
	log.Info("routing decision made",
		zap.Bool("fallback_available", decision.FallbackAvailable),
		zap.Bool("manual_override", decision.ManualOverride),
	)

	e.mu.Lock()
	e.stats.TotalRequests++
	if decision.ManualOverride {
		e.stats.ManualOverrides++
	}
	e.mu.Unlock()

	start := time.Now()
	result := &model.IngestionResult{DataSource: decision.DataSource}

	// Attempt loop: primary first, then at most one fallback. Overridden
	// decisions and decisions without a viable alternate never fall back.
	source := decision.DataSource
	var primaryErr error
	for attempt := 0; attempt < 2; attempt++ {
		ing, ok := e.sources[source]
		if !ok {
			return nil, eris.Errorf("ingest: no ingester registered for source %s", source)
		}

		e.mu.Lock()
		e.stats.BySource[source]++
		e.mu.Unlock()

		srcResult, err := ing.Ingest(ctx, req)
		if err == nil {
			result.Success = true
			result.DataSource = source
			result.MeetingCount = srcResult.MeetingCount
			result.SpeechCount = srcResult.SpeechCount
			result.Warnings = append(result.Warnings, srcResult.Warnings...)
			result.Errors = append(result.Errors, srcResult.Errors...)
			result.FallbackUsed = attempt > 0
			if attempt > 0 {
				result.Warnings = append(result.Warnings, fmt.Sprintf(
					"fell back from %s to %s: %s",
					decision.DataSource, source, eris.ToString(primaryErr, false)))
			}
			break
		}

		result.Errors = append(result.Errors, eris.ToString(err, false))

		if attempt > 0 {
			// Fallback also failed; keep the primary error visible.
			log.Error("fallback source failed",
				zap.String("fallback_source", string(source)),
				zap.NamedError("primary_error", primaryErr),
				zap.Error(err),
			)
			break
		}
		primaryErr = err

		if decision.ManualOverride || !decision.FallbackAvailable {
			log.Error("ingestion failed, no fallback applicable", zap.Error(err))
			break
		}
		if ctx.Err() != nil {
			break
		}

		source = fallbackFor(source)
		log.Warn("primary source failed, attempting fallback",
			zap.String("fallback_source", string(source)),
			zap.Error(err),
		)
	}

	result.ProcessingSecs = time.Since(start).Seconds()

	e.mu.Lock()
	if result.Success {
		e.stats.MeetingsProcessed += result.MeetingCount
		e.stats.SpeechesProcessed += result.SpeechCount
		if result.FallbackUsed {
			e.stats.FallbacksUsed++
		}
	} else {
		e.stats.FailedRequests++
	}
	total, fallbacks := e.stats.TotalRequests, e.stats.FallbacksUsed
	alertDue := e.alerter != nil &&
		total >= fallbackRateAlertMinimum &&
		float64(fallbacks) >= fallbackRateAlertThreshold*float64(total) &&
		fallbacks > e.fallbacksAlerted
	if alertDue {
		e.fallbacksAlerted = fallbacks
	}
	e.mu.Unlock()

	if alertDue {
		e.alerter.Warning(ctx, monitoring.AlertFallbackRate,
			"ingestion fallback rate above threshold",
			map[string]any{
				"total_requests": total,
				"fallbacks_used": fallbacks,
				"rate":           float64(fallbacks) / float64(total),
			})
	}

	if result.Success {
		log.Info("ingestion completed",
			zap.String("used_source", string(result.DataSource)),
			zap.Bool("fallback_used", result.FallbackUsed),
			zap.Int("meetings", result.MeetingCount),
			zap.Int("speeches", result.SpeechCount),
			zap.Float64("seconds", result.ProcessingSecs),
		)
	}
	return result, nil
}

// Statistics returns a copy of the aggregate routing counters, with the
// source distribution, fallback rate, and cutoff configuration filled in.
func (e *Executor) Statistics() RoutingStatistics {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := e.stats
	out.BySource = make(map[model.DataSource]int, len(e.stats.BySource))
	dispatches := 0
	for k, v := range e.stats.BySource {
		out.BySource[k] = v
		dispatches += v
	}

	out.SourcePercent = make(map[model.DataSource]float64, len(out.BySource))
	if dispatches > 0 {
		for k, v := range out.BySource {
			out.SourcePercent[k] = 100 * float64(v) / float64(dispatches)
		}
	}
	if e.stats.TotalRequests > 0 {
		out.FallbackRate = float64(e.stats.FallbacksUsed) / float64(e.stats.TotalRequests)
	}
	out.Boundaries = e.engine.Boundaries()
	return out
}
