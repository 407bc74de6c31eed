package router

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kokkai-watch/diet-tracker/internal/model"
)

func datePtr(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func TestDecide_ManualOverride(t *testing.T) {
	e := New(DefaultBoundaries())

	// Override wins even when the date would route the other way.
	d := e.Decide(model.IngestionRequest{
		MeetingDate: datePtr(2025, 3, 1),
		ForceSource: model.SourceWhisperSTT,
	})

	assert.Equal(t, model.SourceWhisperSTT, d.DataSource)
	assert.True(t, d.ManualOverride)
	assert.Equal(t, 1.0, d.Confidence)
}

func TestDecide_DateOnCutoffRoutesNDL(t *testing.T) {
	e := New(DefaultBoundaries())

	d := e.Decide(model.IngestionRequest{MeetingDate: datePtr(2025, 6, 21)})

	assert.Equal(t, model.SourceNDLAPI, d.DataSource)
	assert.Equal(t, 1.0, d.Confidence)
	assert.False(t, d.FallbackAvailable, "whisper cannot transcribe past sessions")
}

func TestDecide_DayAfterCutoffRoutesWhisper(t *testing.T) {
	e := New(DefaultBoundaries())

	d := e.Decide(model.IngestionRequest{MeetingDate: datePtr(2025, 6, 22)})

	assert.Equal(t, model.SourceWhisperSTT, d.DataSource)
	assert.Equal(t, 1.0, d.Confidence)
	assert.True(t, d.FallbackAvailable, "NDL may eventually publish the transcript")
}

func TestDecide_DateBeforeTrackedSession(t *testing.T) {
	e := New(DefaultBoundaries())

	d := e.Decide(model.IngestionRequest{MeetingDate: datePtr(2024, 11, 1)})

	assert.Equal(t, model.SourceNDLAPI, d.DataSource)
	assert.Equal(t, 0.8, d.Confidence)
	assert.False(t, d.FallbackAvailable)
}

func TestDecide_DateTimezoneNormalized(t *testing.T) {
	e := New(DefaultBoundaries())

	// 2025-06-21 23:00 JST is still the cutoff day.
	jst := time.FixedZone("JST", 9*3600)
	late := time.Date(2025, 6, 21, 23, 0, 0, 0, jst)

	d := e.Decide(model.IngestionRequest{MeetingDate: &late})
	assert.Equal(t, model.SourceNDLAPI, d.DataSource)
}

func TestDecide_SessionAtCutoff(t *testing.T) {
	e := New(DefaultBoundaries())

	d := e.Decide(model.IngestionRequest{DietSession: 217})

	assert.Equal(t, model.SourceNDLAPI, d.DataSource)
	assert.Equal(t, 0.9, d.Confidence)
	assert.False(t, d.FallbackAvailable)
}

func TestDecide_SessionPastCutoff(t *testing.T) {
	e := New(DefaultBoundaries())

	d := e.Decide(model.IngestionRequest{DietSession: 218})

	assert.Equal(t, model.SourceWhisperSTT, d.DataSource)
	assert.Equal(t, 0.9, d.Confidence)
	assert.True(t, d.FallbackAvailable)
}

func TestDecide_DateTakesPriorityOverSession(t *testing.T) {
	e := New(DefaultBoundaries())

	// Date says NDL era, session says whisper era: date wins.
	d := e.Decide(model.IngestionRequest{
		MeetingDate: datePtr(2025, 5, 1),
		DietSession: 218,
	})

	assert.Equal(t, model.SourceNDLAPI, d.DataSource)
}

func TestDecide_NoSelectorsDefaultsToWhisper(t *testing.T) {
	e := New(DefaultBoundaries())

	d := e.Decide(model.IngestionRequest{})

	assert.Equal(t, model.SourceWhisperSTT, d.DataSource)
	assert.Equal(t, 0.5, d.Confidence)
	assert.True(t, d.FallbackAvailable)
}

func TestDecide_Deterministic(t *testing.T) {
	e := New(DefaultBoundaries())
	req := model.IngestionRequest{MeetingDate: datePtr(2025, 6, 15), DietSession: 217}

	first := e.Decide(req)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, e.Decide(req))
	}
}

func TestDecide_RationaleAlwaysSet(t *testing.T) {
	e := New(DefaultBoundaries())

	reqs := []model.IngestionRequest{
		{},
		{MeetingDate: datePtr(2025, 1, 1)},
		{MeetingDate: datePtr(2025, 8, 1)},
		{DietSession: 200},
		{DietSession: 220},
		{ForceSource: model.SourceNDLAPI},
	}
	for _, req := range reqs {
		assert.NotEmpty(t, e.Decide(req).Rationale)
	}
}

func TestNew_ZeroBoundariesUseDefaults(t *testing.T) {
	e := New(Boundaries{})
	assert.Equal(t, 217, e.Boundaries().CutoffSession)
}
