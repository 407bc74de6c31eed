package ingest

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/kokkai-watch/diet-tracker/internal/model"
	"github.com/kokkai-watch/diet-tracker/internal/store"
	"github.com/kokkai-watch/diet-tracker/pkg/ndl"
)

// defaultLookbackDays bounds an unselective NDL request to a recent window.
const defaultLookbackDays = 7

// NDLIngester pulls published minutes from the Kokkai API and persists them.
type NDLIngester struct {
	client   ndl.Client
	meetings store.MeetingStore
	pace     time.Duration
	now      func() time.Time
}

// NewNDLIngester creates the NDL source pipeline. pace is the delay inserted
// between persisting consecutive meetings during session backfills.
func NewNDLIngester(client ndl.Client, meetings store.MeetingStore, pace time.Duration) *NDLIngester {
	return &NDLIngester{client: client, meetings: meetings, pace: pace, now: time.Now}
}

func (n *NDLIngester) Source() model.DataSource { return model.SourceNDLAPI }

// Ingest dispatches on the request's selectors: a meeting ID fetches one
// record, a date searches that day, a session number backfills the whole
// session, and an empty request covers the recent window.
func (n *NDLIngester) Ingest(ctx context.Context, req model.IngestionRequest) (*SourceResult, error) {
	switch {
	case req.MeetingID != "":
		return n.ingestOne(ctx, req.MeetingID)
	case req.MeetingDate != nil:
		return n.ingestSearch(ctx, ndl.SearchParams{From: req.MeetingDate, Until: req.MeetingDate})
	case req.DietSession > 0:
		return n.ingestSession(ctx, req.DietSession)
	default:
		from := n.now().AddDate(0, 0, -defaultLookbackDays)
		return n.ingestSearch(ctx, ndl.SearchParams{From: &from})
	}
}

func (n *NDLIngester) ingestOne(ctx context.Context, issueID string) (*SourceResult, error) {
	rec, err := n.client.FetchMeeting(ctx, issueID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, eris.Errorf("ndl: no meeting record for issue %s", issueID)
	}
	return n.persistAll(ctx, []ndl.MeetingRecord{*rec}, nil)
}

func (n *NDLIngester) ingestSearch(ctx context.Context, params ndl.SearchParams) (*SourceResult, error) {
	records, err := n.client.SearchMeetings(ctx, params)
	if err != nil {
		return nil, err
	}
	return n.persistAll(ctx, records, nil)
}

// ingestSession backfills a complete Diet session with progress logging.
// Sessions run to hundreds of meetings, so persists are paced.
func (n *NDLIngester) ingestSession(ctx context.Context, session int) (*SourceResult, error) {
	log := zap.L().With(
		zap.String("component", "ingest"),
		zap.String("source", "ndl_api"),
		zap.Int("diet_session", session),
	)
	log.Info("starting session backfill")

	records, err := n.client.SearchMeetings(ctx, ndl.SearchParams{DietSession: session})
	if err != nil {
		return nil, err
	}
	log.Info("session backfill search complete", zap.Int("meetings", len(records)))

	return n.persistAll(ctx, records, func(done int) {
		if done%25 == 0 {
			log.Info("session backfill progress",
				zap.Int("done", done), zap.Int("total", len(records)))
		}
	})
}

func (n *NDLIngester) persistAll(ctx context.Context, records []ndl.MeetingRecord, progress func(done int)) (*SourceResult, error) {
	result := &SourceResult{}
	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "ndl: ingest canceled")
		}
		if i > 0 && n.pace > 0 {
			select {
			case <-ctx.Done():
				return nil, eris.Wrap(ctx.Err(), "ndl: ingest canceled")
			case <-time.After(n.pace):
			}
		}

		speeches, warn, err := n.persistMeeting(ctx, rec)
		if err != nil {
			// One meeting failing to persist must not cost the rest of
			// the batch.
			result.Errors = append(result.Errors,
				eris.ToString(eris.Wrapf(err, "ndl: meeting %s", rec.IssueID), false))
			continue
		}
		if warn != "" {
			result.Warnings = append(result.Warnings, warn)
			continue
		}
		result.MeetingCount++
		result.SpeechCount += speeches

		if progress != nil {
			progress(i + 1)
		}
	}
	return result, nil
}

// persistMeeting stores one meeting record and its speeches. A meeting that
// already exists is skipped whole; the NDL API republishes records verbatim.
func (n *NDLIngester) persistMeeting(ctx context.Context, rec ndl.MeetingRecord) (int, string, error) {
	existing, err := n.meetings.FindMeetingByIssueID(ctx, rec.IssueID)
	if err != nil {
		return 0, "", err
	}
	if existing != nil {
		return 0, "meeting already ingested: " + rec.IssueID, nil
	}

	date, err := rec.MeetingDate()
	if err != nil {
		return 0, "", err
	}

	meeting, err := n.meetings.CreateMeeting(ctx, model.Meeting{
		IssueID:     rec.IssueID,
		Title:       rec.NameOfMeeting + " " + rec.Issue,
		House:       rec.NameOfHouse,
		Committee:   rec.NameOfMeeting,
		DietSession: rec.Session,
		MeetingDate: date,
		Source:      model.SourceNDLAPI,
	})
	if err != nil {
		return 0, "", err
	}

	speeches := make([]model.Speech, 0, len(rec.SpeechRecords))
	for _, sp := range rec.SpeechRecords {
		if sp.Speaker != "" {
			if _, err := n.meetings.FindOrCreateMember(ctx, sp.Speaker, rec.NameOfHouse, sp.SpeakerGroup); err != nil {
				return 0, "", err
			}
		}
		if sp.SpeakerGroup != "" {
			if _, err := n.meetings.FindOrCreateParty(ctx, sp.SpeakerGroup); err != nil {
				return 0, "", err
			}
		}
		speeches = append(speeches, model.Speech{
			MeetingID:    meeting.ID,
			SpeechID:     sp.SpeechID,
			Sequence:     sp.SpeechOrder,
			SpeakerName:  sp.Speaker,
			SpeakerGroup: sp.SpeakerGroup,
			SpeakerRole:  sp.SpeakerPosition,
			Body:         sp.Speech,
			Source:       model.SourceNDLAPI,
			NeedsReview:  false,
		})
	}

	count, err := n.meetings.CreateSpeeches(ctx, speeches)
	if err != nil {
		return 0, "", err
	}
	return count, "", nil
}
