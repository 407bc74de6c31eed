package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/kokkai-watch/diet-tracker/internal/model"
	"github.com/kokkai-watch/diet-tracker/internal/store"
	"github.com/kokkai-watch/diet-tracker/pkg/whisper"
)

// WhisperIngester transcribes session video streams for meetings the NDL API
// has not yet published. Every speech it produces carries NeedsReview=true.
type WhisperIngester struct {
	client     whisper.Client
	meetings   store.MeetingStore
	thresholds whisper.QualityThresholds
	now        func() time.Time
}

// NewWhisperIngester creates the speech-to-text source pipeline.
func NewWhisperIngester(client whisper.Client, meetings store.MeetingStore, thresholds whisper.QualityThresholds) *WhisperIngester {
	return &WhisperIngester{client: client, meetings: meetings, thresholds: thresholds, now: time.Now}
}

func (w *WhisperIngester) Source() model.DataSource { return model.SourceWhisperSTT }

// Ingest transcribes live meetings in the request's window. A specific
// meeting ID restricts to that meeting; otherwise the trailing 48 hours are
// scanned, since streams for older meetings rotate out.
func (w *WhisperIngester) Ingest(ctx context.Context, req model.IngestionRequest) (*SourceResult, error) {
	since := w.now().Add(-48 * time.Hour)
	if req.MeetingDate != nil {
		since = *req.MeetingDate
	}

	live, err := w.client.ListRecentMeetings(ctx, since)
	if err != nil {
		return nil, err
	}
	if req.MeetingID != "" {
		live = filterByID(live, req.MeetingID)
		if len(live) == 0 {
			return nil, eris.Errorf("whisper: no live meeting %s", req.MeetingID)
		}
	}

	result := &SourceResult{}
	for _, lm := range live {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "whisper: ingest canceled")
		}
		if err := w.transcribeMeeting(ctx, lm, result); err != nil {
			// One meeting failing must not cost the rest of the batch.
			result.Errors = append(result.Errors,
				eris.ToString(eris.Wrapf(err, "whisper: meeting %s", lm.MeetingID), false))
		}
	}
	return result, nil
}

func filterByID(meetings []whisper.LiveMeeting, id string) []whisper.LiveMeeting {
	out := meetings[:0]
	for _, m := range meetings {
		if m.MeetingID == id {
			out = append(out, m)
		}
	}
	return out
}

// transcribeMeeting runs one meeting through transcription and the quality
// gate, recording outcomes on the result. Missing video and already-seen
// meetings are warnings. A transcript failing quality validation is a soft
// failure: the meeting record is still created so the session is visible,
// its speeches are skipped, and the rejection lands in the result's errors.
func (w *WhisperIngester) transcribeMeeting(ctx context.Context, lm whisper.LiveMeeting, result *SourceResult) error {
	if lm.VideoURL == "" {
		result.Warnings = append(result.Warnings, "meeting has no video stream: "+lm.MeetingID)
		return nil
	}

	existing, err := w.meetings.FindMeetingByIssueID(ctx, lm.MeetingID)
	if err != nil {
		return err
	}
	if existing != nil {
		result.Warnings = append(result.Warnings, "meeting already ingested: "+lm.MeetingID)
		return nil
	}

	transcript, err := w.client.Transcribe(ctx, whisper.TranscriptionRequest{
		MeetingID: lm.MeetingID,
		VideoURL:  lm.VideoURL,
	})
	if err != nil {
		return err
	}

	report := whisper.ValidateQuality(transcript, w.thresholds)

	meeting, err := w.meetings.CreateMeeting(ctx, model.Meeting{
		IssueID:     lm.MeetingID,
		Title:       lm.Title,
		House:       lm.House,
		Committee:   lm.Committee,
		DietSession: lm.DietSession,
		MeetingDate: lm.MeetingDate,
		VideoURL:    lm.VideoURL,
		Source:      model.SourceWhisperSTT,
	})
	if err != nil {
		return err
	}
	result.MeetingCount++

	if !report.Passed {
		zap.L().Warn("transcript failed quality validation",
			zap.String("component", "ingest"),
			zap.String("meeting_id", lm.MeetingID),
			zap.Strings("reasons", report.Reasons),
		)
		result.Errors = append(result.Errors,
			fmt.Sprintf("transcript rejected for %s: %v", lm.MeetingID, report.Reasons))
		return nil
	}

	speeches := make([]model.Speech, 0, len(transcript.Segments))
	for _, seg := range transcript.Segments {
		if seg.Text == "" {
			continue
		}
		speeches = append(speeches, model.Speech{
			MeetingID:   meeting.ID,
			SpeechID:    fmt.Sprintf("%s-seg%04d", lm.MeetingID, seg.Index),
			Sequence:    seg.Index,
			SpeakerName: seg.Speaker,
			Body:        seg.Text,
			Source:      model.SourceWhisperSTT,
			NeedsReview: true,
		})
	}

	count, err := w.meetings.CreateSpeeches(ctx, speeches)
	if err != nil {
		return err
	}
	result.SpeechCount += count
	return nil
}
