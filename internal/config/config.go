package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kokkai-watch/diet-tracker/internal/model"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	NDL      NDLConfig      `yaml:"ndl" mapstructure:"ndl"`
	Whisper  WhisperConfig  `yaml:"whisper" mapstructure:"whisper"`
	Detector DetectorConfig `yaml:"detector" mapstructure:"detector"`
	Recorder RecorderConfig `yaml:"recorder" mapstructure:"recorder"`
	Schedule model.ScheduleConfig `yaml:"schedule" mapstructure:"schedule"`
	Routing  RoutingConfig  `yaml:"routing" mapstructure:"routing"`
	Ingest   IngestConfig   `yaml:"ingest" mapstructure:"ingest"`
	Alerts   AlertConfig    `yaml:"alerts" mapstructure:"alerts"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// NDLConfig holds National Diet Library API settings.
type NDLConfig struct {
	BaseURL           string  `yaml:"base_url" mapstructure:"base_url"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	PageSize          int     `yaml:"page_size" mapstructure:"page_size"`
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// WhisperConfig holds the transcription service settings.
type WhisperConfig struct {
	BaseURL         string  `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs     int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MinAvgLogProb   float64 `yaml:"min_avg_logprob" mapstructure:"min_avg_logprob"`
	MaxNoSpeechProb float64 `yaml:"max_no_speech_prob" mapstructure:"max_no_speech_prob"`
	MinTextLength   int     `yaml:"min_text_length" mapstructure:"min_text_length"`
}

// DetectorConfig configures change detection.
type DetectorConfig struct {
	ClassificationPath   string  `yaml:"classification_path" mapstructure:"classification_path"`
	SimilarityThreshold  float64 `yaml:"similarity_threshold" mapstructure:"similarity_threshold"`
	BaseConfidence       float64 `yaml:"base_confidence" mapstructure:"base_confidence"`
	SignificantBoost     float64 `yaml:"significant_boost" mapstructure:"significant_boost"`
	NullTransitionBoost  float64 `yaml:"null_transition_boost" mapstructure:"null_transition_boost"`
	NearIdenticalPenalty float64 `yaml:"near_identical_penalty" mapstructure:"near_identical_penalty"`
	NearIdenticalAbove   float64 `yaml:"near_identical_above" mapstructure:"near_identical_above"`
}

// RecorderConfig configures the history recorder.
type RecorderConfig struct {
	BatchSize        int `yaml:"batch_size" mapstructure:"batch_size"`
	IncrementalHours int `yaml:"incremental_hours" mapstructure:"incremental_hours"`
}

// RoutingConfig holds the NDL/Whisper boundary dates.
type RoutingConfig struct {
	NDLCutoff           string `yaml:"ndl_cutoff" mapstructure:"ndl_cutoff"`
	TrackedSessionStart string `yaml:"tracked_session_start" mapstructure:"tracked_session_start"`
	LiveSessionStart    string `yaml:"live_session_start" mapstructure:"live_session_start"`
	CutoffSession       int    `yaml:"cutoff_session" mapstructure:"cutoff_session"`
}

// IngestConfig configures the hybrid executor.
type IngestConfig struct {
	APICallDelayMillis int `yaml:"api_call_delay_millis" mapstructure:"api_call_delay_millis"`
}

// AlertConfig configures alert delivery.
type AlertConfig struct {
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// ServerConfig configures the operational HTTP API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("DIET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.driver", "postgres")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)

	v.SetDefault("ndl.base_url", "https://kokkai.ndl.go.jp/api")
	v.SetDefault("ndl.requests_per_second", 2.0)
	v.SetDefault("ndl.page_size", 30)
	v.SetDefault("ndl.timeout_secs", 60)

	v.SetDefault("whisper.base_url", "http://localhost:8178")
	v.SetDefault("whisper.timeout_secs", 600)
	v.SetDefault("whisper.min_avg_logprob", -1.0)
	v.SetDefault("whisper.max_no_speech_prob", 0.6)
	v.SetDefault("whisper.min_text_length", 50)

	v.SetDefault("detector.similarity_threshold", 0.8)
	v.SetDefault("detector.base_confidence", 0.8)
	v.SetDefault("detector.significant_boost", 0.15)
	v.SetDefault("detector.null_transition_boost", 0.1)
	v.SetDefault("detector.near_identical_penalty", 0.2)
	v.SetDefault("detector.near_identical_above", 0.9)

	v.SetDefault("recorder.batch_size", 1000)
	v.SetDefault("recorder.incremental_hours", 24)

	v.SetDefault("routing.ndl_cutoff", "2025-06-21")
	v.SetDefault("routing.tracked_session_start", "2025-01-24")
	v.SetDefault("routing.live_session_start", "2025-06-22")
	v.SetDefault("routing.cutoff_session", 217)

	v.SetDefault("ingest.api_call_delay_millis", 500)

	v.SetDefault("schedule.frequency", "hourly")
	v.SetDefault("schedule.mode", "incremental")
	v.SetDefault("schedule.retry_on_failure", true)
	v.SetDefault("schedule.max_retries", 2)
	v.SetDefault("schedule.retry_delay_seconds", 60)
	v.SetDefault("schedule.weekly_full_scan", true)
	v.SetDefault("schedule.full_scan_weekday", 0)
	v.SetDefault("schedule.full_scan_hour", 2)
	v.SetDefault("schedule.cleanup_retention_days", 90)
	v.SetDefault("schedule.max_consecutive_failures", 3)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// ParseDate parses a YYYY-MM-DD config value as UTC midnight.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "config: parse date %q", s)
	}
	return t.UTC(), nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
