package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/kokkai-watch/diet-tracker/internal/config"
	"github.com/kokkai-watch/diet-tracker/internal/detector"
	"github.com/kokkai-watch/diet-tracker/internal/ingest"
	"github.com/kokkai-watch/diet-tracker/internal/monitoring"
	"github.com/kokkai-watch/diet-tracker/internal/recorder"
	"github.com/kokkai-watch/diet-tracker/internal/router"
	"github.com/kokkai-watch/diet-tracker/internal/scheduler"
	"github.com/kokkai-watch/diet-tracker/internal/store"
	"github.com/kokkai-watch/diet-tracker/pkg/ndl"
	"github.com/kokkai-watch/diet-tracker/pkg/whisper"
)

// appEnv holds the initialized store and the components the commands share.
type appEnv struct {
	Store     store.Store
	Detector  *detector.Detector
	Recorder  *recorder.Recorder
	Alerter   *monitoring.Alerter
	Router    *router.Engine
	Executor  *ingest.Executor
	Scheduler *scheduler.Scheduler
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "diet-tracker.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initRouter() (*router.Engine, error) {
	b := router.DefaultBoundaries()

	if cfg.Routing.NDLCutoff != "" {
		d, err := config.ParseDate(cfg.Routing.NDLCutoff)
		if err != nil {
			return nil, err
		}
		b.NDLCutoff = d
	}
	if cfg.Routing.TrackedSessionStart != "" {
		d, err := config.ParseDate(cfg.Routing.TrackedSessionStart)
		if err != nil {
			return nil, err
		}
		b.TrackedSessionStart = d
	}
	if cfg.Routing.LiveSessionStart != "" {
		d, err := config.ParseDate(cfg.Routing.LiveSessionStart)
		if err != nil {
			return nil, err
		}
		b.LiveSessionStart = d
	}
	if cfg.Routing.CutoffSession > 0 {
		b.CutoffSession = cfg.Routing.CutoffSession
	}

	return router.New(b), nil
}

func initDetector() (*detector.Detector, error) {
	tables := detector.DefaultClassification()
	if cfg.Detector.ClassificationPath != "" {
		t, err := detector.LoadClassification(cfg.Detector.ClassificationPath)
		if err != nil {
			return nil, err
		}
		tables = t
		zap.L().Info("classification tables loaded",
			zap.String("path", cfg.Detector.ClassificationPath))
	}

	params := detector.DefaultScoringParams()
	if cfg.Detector.SimilarityThreshold > 0 {
		params.SimilarityThreshold = cfg.Detector.SimilarityThreshold
	}
	if cfg.Detector.BaseConfidence > 0 {
		params.Base = cfg.Detector.BaseConfidence
	}
	if cfg.Detector.SignificantBoost > 0 {
		params.SignificantBoost = cfg.Detector.SignificantBoost
	}
	if cfg.Detector.NullTransitionBoost > 0 {
		params.NullTransitionBoost = cfg.Detector.NullTransitionBoost
	}
	if cfg.Detector.NearIdenticalPenalty > 0 {
		params.NearIdenticalPenalty = cfg.Detector.NearIdenticalPenalty
	}
	if cfg.Detector.NearIdenticalAbove > 0 {
		params.NearIdenticalAbove = cfg.Detector.NearIdenticalAbove
	}

	return detector.New(tables, params), nil
}

// initEnv sets up the store, detector, recorder, routing engine, ingestion
// executor, and scheduler. Callers should defer env.Close().
func initEnv(ctx context.Context) (*appEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	det, err := initDetector()
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	engine, err := initRouter()
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	alerter := monitoring.NewAlerter(cfg.Alerts.WebhookURL)

	rec := recorder.NewRecorder(st, st, det, cfg.Recorder.BatchSize, cfg.Recorder.IncrementalHours)

	ndlClient := ndl.NewClient(
		ndl.WithBaseURL(cfg.NDL.BaseURL),
		ndl.WithRateLimit(cfg.NDL.RequestsPerSecond),
		ndl.WithPageSize(cfg.NDL.PageSize),
		ndl.WithTimeout(time.Duration(cfg.NDL.TimeoutSecs)*time.Second),
	)
	whisperClient := whisper.NewClient(
		whisper.WithBaseURL(cfg.Whisper.BaseURL),
		whisper.WithTimeout(time.Duration(cfg.Whisper.TimeoutSecs)*time.Second),
	)

	thresholds := whisper.DefaultQualityThresholds()
	if cfg.Whisper.MinAvgLogProb != 0 {
		thresholds.MinAvgLogProb = cfg.Whisper.MinAvgLogProb
	}
	if cfg.Whisper.MaxNoSpeechProb > 0 {
		thresholds.MaxNoSpeechProb = cfg.Whisper.MaxNoSpeechProb
	}
	if cfg.Whisper.MinTextLength > 0 {
		thresholds.MinTextLength = cfg.Whisper.MinTextLength
	}

	pace := time.Duration(cfg.Ingest.APICallDelayMillis) * time.Millisecond
	exec := ingest.NewExecutor(engine,
		ingest.NewNDLIngester(ndlClient, st, pace),
		ingest.NewWhisperIngester(whisperClient, st, thresholds),
	)
	exec.SetAlerter(alerter)

	sched := scheduler.New(rec, alerter, cfg.Schedule)

	return &appEnv{
		Store:     st,
		Detector:  det,
		Recorder:  rec,
		Alerter:   alerter,
		Router:    engine,
		Executor:  exec,
		Scheduler: sched,
	}, nil
}
