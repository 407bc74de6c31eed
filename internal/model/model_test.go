package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBillFieldPresence(t *testing.T) {
	voteDate := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	b := Bill{
		Status:       "審議中",
		Title:        "  環境基本法改正案  ",
		VoteDate:     &voteDate,
		QualityScore: 0.42,
	}

	v, ok := b.Field("status")
	assert.True(t, ok)
	assert.Equal(t, "審議中", v)

	v, ok = b.Field("title")
	assert.True(t, ok)
	assert.Equal(t, "環境基本法改正案", v, "surrounding whitespace is trimmed")

	v, ok = b.Field("vote_date")
	assert.True(t, ok)
	assert.Equal(t, "2026-03-15", v)

	v, ok = b.Field("quality_score")
	assert.True(t, ok)
	assert.Equal(t, "0.420", v)
}

func TestBillFieldAbsentValues(t *testing.T) {
	var b Bill
	for _, name := range TrackedFields {
		_, ok := b.Field(name)
		assert.False(t, ok, "zero bill should have no %s", name)
	}

	b.Stage = "   "
	_, ok := b.Field("stage")
	assert.False(t, ok, "whitespace-only values are absent")

	_, ok = b.Field("no_such_field")
	assert.False(t, ok)
}

func TestEventTypeForCoversAllChangeTypes(t *testing.T) {
	cases := map[ChangeType]EventType{
		ChangeStatus:         EventStatusChanged,
		ChangeStage:          EventStageChanged,
		ChangeCommittee:      EventCommitteeMoved,
		ChangeVote:           EventVoteRecorded,
		ChangeDocument:       EventDocumentEdited,
		ChangeImplementation: EventImplemented,
		ChangeMetadata:       EventDataUpdated,
		ChangeCorrection:     EventDataUpdated,
	}
	for ct, want := range cases {
		assert.Equal(t, want, EventTypeFor(ct), "change type %s", ct)
	}
}

func TestCronSpecMapping(t *testing.T) {
	assert.Equal(t, "* * * * *", FreqEveryMinute.CronSpec())
	assert.Equal(t, "*/15 * * * *", FreqEvery15Minutes.CronSpec())
	assert.Equal(t, "0 * * * *", FreqHourly.CronSpec())
	assert.Equal(t, "0 */6 * * *", FreqEvery6Hours.CronSpec())
	assert.Equal(t, "0 3 * * *", FreqDaily.CronSpec())
	assert.Equal(t, "0 3 * * 1", FreqWeekly.CronSpec())
	assert.Equal(t, "0 * * * *", ScheduleFrequency("fortnightly").CronSpec())
}

func TestDefaultScheduleConfig(t *testing.T) {
	cfg := DefaultScheduleConfig()
	assert.Equal(t, FreqHourly, cfg.Frequency)
	assert.Equal(t, ModeIncremental, cfg.Mode)
	assert.Equal(t, time.Sunday, cfg.FullScanWeekday)
	assert.Equal(t, 90, cfg.CleanupRetentionDays)
}
