package ingest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kokkai-watch/diet-tracker/internal/model"
	"github.com/kokkai-watch/diet-tracker/pkg/ndl"
	"github.com/kokkai-watch/diet-tracker/pkg/whisper"
)

// memMeetingStore is an in-memory MeetingStore. Setting failIssueID makes
// CreateMeeting fail for that meeting only.
type memMeetingStore struct {
	meetings    map[string]model.Meeting
	speeches    []model.Speech
	members     map[string]model.Member
	parties     map[string]model.Party
	failIssueID string
}

func newMemMeetingStore() *memMeetingStore {
	return &memMeetingStore{
		meetings: map[string]model.Meeting{},
		members:  map[string]model.Member{},
		parties:  map[string]model.Party{},
	}
}

func (m *memMeetingStore) FindMeetingByIssueID(_ context.Context, issueID string) (*model.Meeting, error) {
	if mt, ok := m.meetings[issueID]; ok {
		return &mt, nil
	}
	return nil, nil
}

func (m *memMeetingStore) CreateMeeting(_ context.Context, mt model.Meeting) (model.Meeting, error) {
	if mt.IssueID == m.failIssueID {
		return model.Meeting{}, errors.New("insert failed")
	}
	mt.ID = fmt.Sprintf("mt-%d", len(m.meetings)+1)
	m.meetings[mt.IssueID] = mt
	return mt, nil
}

func (m *memMeetingStore) CreateSpeeches(_ context.Context, speeches []model.Speech) (int, error) {
	m.speeches = append(m.speeches, speeches...)
	return len(speeches), nil
}

func (m *memMeetingStore) FindOrCreateMember(_ context.Context, name, house, party string) (model.Member, error) {
	if mb, ok := m.members[name]; ok {
		return mb, nil
	}
	mb := model.Member{ID: fmt.Sprintf("mb-%d", len(m.members)+1), Name: name, House: house, PartyName: party}
	m.members[name] = mb
	return mb, nil
}

func (m *memMeetingStore) FindOrCreateParty(_ context.Context, name string) (model.Party, error) {
	if p, ok := m.parties[name]; ok {
		return p, nil
	}
	p := model.Party{ID: fmt.Sprintf("p-%d", len(m.parties)+1), Name: name}
	m.parties[name] = p
	return p, nil
}

// fakeNDLClient serves canned meeting records.
type fakeNDLClient struct {
	records []ndl.MeetingRecord
	err     error
}

func (f *fakeNDLClient) SearchMeetings(context.Context, ndl.SearchParams) ([]ndl.MeetingRecord, error) {
	return f.records, f.err
}

func (f *fakeNDLClient) FetchMeeting(_ context.Context, issueID string) (*ndl.MeetingRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	for i := range f.records {
		if f.records[i].IssueID == issueID {
			return &f.records[i], nil
		}
	}
	return nil, nil
}

func sampleMeetingRecord(issueID string) ndl.MeetingRecord {
	return ndl.MeetingRecord{
		IssueID:       issueID,
		Session:       217,
		NameOfHouse:   "衆議院",
		NameOfMeeting: "内閣委員会",
		Issue:         "第3号",
		Date:          "2025-03-05",
		SpeechRecords: []ndl.SpeechRecord{
			{SpeechID: issueID + "-1", SpeechOrder: 1, Speaker: "山田太郎", SpeakerGroup: "自由民主党", Speech: "議事を開始します。"},
			{SpeechID: issueID + "-2", SpeechOrder: 2, Speaker: "佐藤花子", SpeakerGroup: "立憲民主党", Speech: "質問いたします。"},
		},
	}
}

func TestNDLIngester_FetchByMeetingID(t *testing.T) {
	st := newMemMeetingStore()
	client := &fakeNDLClient{records: []ndl.MeetingRecord{sampleMeetingRecord("121704889X00320250305")}}
	ing := NewNDLIngester(client, st, 0)

	result, err := ing.Ingest(context.Background(), model.IngestionRequest{MeetingID: "121704889X00320250305"})
	require.NoError(t, err)

	assert.Equal(t, 1, result.MeetingCount)
	assert.Equal(t, 2, result.SpeechCount)
	require.Len(t, st.speeches, 2)
	assert.False(t, st.speeches[0].NeedsReview, "published minutes need no review")
	assert.Equal(t, model.SourceNDLAPI, st.speeches[0].Source)
	assert.Len(t, st.members, 2)
	assert.Len(t, st.parties, 2)
}

func TestNDLIngester_UnknownMeetingID(t *testing.T) {
	ing := NewNDLIngester(&fakeNDLClient{}, newMemMeetingStore(), 0)

	_, err := ing.Ingest(context.Background(), model.IngestionRequest{MeetingID: "missing"})
	assert.Error(t, err)
}

func TestNDLIngester_AlreadyIngestedIsWarning(t *testing.T) {
	st := newMemMeetingStore()
	rec := sampleMeetingRecord("issue-1")
	client := &fakeNDLClient{records: []ndl.MeetingRecord{rec}}
	ing := NewNDLIngester(client, st, 0)

	_, err := ing.Ingest(context.Background(), model.IngestionRequest{MeetingID: "issue-1"})
	require.NoError(t, err)

	result, err := ing.Ingest(context.Background(), model.IngestionRequest{MeetingID: "issue-1"})
	require.NoError(t, err)

	assert.Zero(t, result.MeetingCount)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "already ingested")
	assert.Len(t, st.speeches, 2, "no duplicate speeches")
}

func TestNDLIngester_PerMeetingFailureDoesNotAbortBatch(t *testing.T) {
	st := newMemMeetingStore()
	st.failIssueID = "issue-B"
	client := &fakeNDLClient{records: []ndl.MeetingRecord{
		sampleMeetingRecord("issue-A"),
		sampleMeetingRecord("issue-B"),
		sampleMeetingRecord("issue-C"),
	}}
	ing := NewNDLIngester(client, st, 0)

	date := time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC)
	result, err := ing.Ingest(context.Background(), model.IngestionRequest{MeetingDate: &date})
	require.NoError(t, err, "one bad meeting is not a source failure")

	assert.Equal(t, 2, result.MeetingCount, "the meetings after the failure are still persisted")
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "issue-B")
	assert.Contains(t, st.meetings, "issue-A")
	assert.Contains(t, st.meetings, "issue-C")
}

func TestNDLIngester_ClientFailurePropagates(t *testing.T) {
	ing := NewNDLIngester(&fakeNDLClient{err: errors.New("api down")}, newMemMeetingStore(), 0)

	_, err := ing.Ingest(context.Background(), model.IngestionRequest{DietSession: 217})
	assert.Error(t, err)
}

// fakeWhisperClient serves canned live meetings and transcripts.
type fakeWhisperClient struct {
	live        []whisper.LiveMeeting
	transcripts map[string]*whisper.Transcript
	listErr     error
}

func (f *fakeWhisperClient) ListRecentMeetings(context.Context, time.Time) ([]whisper.LiveMeeting, error) {
	return f.live, f.listErr
}

func (f *fakeWhisperClient) Transcribe(_ context.Context, req whisper.TranscriptionRequest) (*whisper.Transcript, error) {
	tr, ok := f.transcripts[req.MeetingID]
	if !ok {
		return nil, errors.New("no transcript")
	}
	return tr, nil
}

func goodTranscript(meetingID string) *whisper.Transcript {
	return &whisper.Transcript{
		MeetingID: meetingID,
		Language:  "ja",
		Segments: []whisper.Segment{
			{Index: 0, Text: "ただいまから内閣委員会を開会いたします。本日の議題は地方自治法改正案であります。", AvgLogProb: -0.3, NoSpeechProb: 0.1},
			{Index: 1, Text: "委員長、質問させていただきます。本改正案の財源措置について伺います。", AvgLogProb: -0.4, NoSpeechProb: 0.05},
		},
	}
}

func liveMeeting(id, videoURL string) whisper.LiveMeeting {
	return whisper.LiveMeeting{
		MeetingID:   id,
		Title:       "内閣委員会",
		House:       "衆議院",
		Committee:   "内閣委員会",
		DietSession: 218,
		MeetingDate: time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC),
		VideoURL:    videoURL,
	}
}

func TestWhisperIngester_TranscribesAndFlagsForReview(t *testing.T) {
	st := newMemMeetingStore()
	client := &fakeWhisperClient{
		live:        []whisper.LiveMeeting{liveMeeting("live-1", "https://video.example/1.m3u8")},
		transcripts: map[string]*whisper.Transcript{"live-1": goodTranscript("live-1")},
	}
	ing := NewWhisperIngester(client, st, whisper.DefaultQualityThresholds())

	result, err := ing.Ingest(context.Background(), model.IngestionRequest{})
	require.NoError(t, err)

	assert.Equal(t, 1, result.MeetingCount)
	assert.Equal(t, 2, result.SpeechCount)
	require.Len(t, st.speeches, 2)
	for _, sp := range st.speeches {
		assert.True(t, sp.NeedsReview, "machine transcripts always need review")
		assert.Equal(t, model.SourceWhisperSTT, sp.Source)
	}
	assert.Equal(t, model.SourceWhisperSTT, st.meetings["live-1"].Source)
}

func TestWhisperIngester_MissingVideoIsWarning(t *testing.T) {
	st := newMemMeetingStore()
	client := &fakeWhisperClient{live: []whisper.LiveMeeting{liveMeeting("live-1", "")}}
	ing := NewWhisperIngester(client, st, whisper.DefaultQualityThresholds())

	result, err := ing.Ingest(context.Background(), model.IngestionRequest{})
	require.NoError(t, err, "a missing stream is expected, not a pipeline failure")

	assert.Zero(t, result.MeetingCount)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "no video stream")
}

func TestWhisperIngester_RejectsLowQualityTranscript(t *testing.T) {
	st := newMemMeetingStore()
	bad := &whisper.Transcript{
		MeetingID: "live-1",
		Segments: []whisper.Segment{
			{Index: 0, Text: "……", AvgLogProb: -2.5, NoSpeechProb: 0.9},
		},
	}
	client := &fakeWhisperClient{
		live:        []whisper.LiveMeeting{liveMeeting("live-1", "https://video.example/1.m3u8")},
		transcripts: map[string]*whisper.Transcript{"live-1": bad},
	}
	ing := NewWhisperIngester(client, st, whisper.DefaultQualityThresholds())

	result, err := ing.Ingest(context.Background(), model.IngestionRequest{})
	require.NoError(t, err)

	// The meeting record survives so the session is visible; the rejected
	// transcript never reaches the speech store.
	assert.Equal(t, 1, result.MeetingCount)
	assert.Contains(t, st.meetings, "live-1")
	assert.Empty(t, st.speeches, "rejected transcripts never reach the store")
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "rejected")
	assert.Zero(t, result.SpeechCount)
}

func TestWhisperIngester_PerMeetingFailureDoesNotAbortBatch(t *testing.T) {
	st := newMemMeetingStore()
	client := &fakeWhisperClient{
		live: []whisper.LiveMeeting{
			liveMeeting("live-1", "https://video.example/1.m3u8"),
			liveMeeting("live-2", "https://video.example/2.m3u8"),
		},
		// live-1 has no transcript available, so its Transcribe call fails.
		transcripts: map[string]*whisper.Transcript{"live-2": goodTranscript("live-2")},
	}
	ing := NewWhisperIngester(client, st, whisper.DefaultQualityThresholds())

	result, err := ing.Ingest(context.Background(), model.IngestionRequest{})
	require.NoError(t, err, "one bad meeting is not a source failure")

	assert.Equal(t, 1, result.MeetingCount)
	assert.Equal(t, 2, result.SpeechCount)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "live-1")
	assert.Contains(t, st.meetings, "live-2")
}

func TestWhisperIngester_SpecificMeetingNotLive(t *testing.T) {
	ing := NewWhisperIngester(&fakeWhisperClient{}, newMemMeetingStore(), whisper.DefaultQualityThresholds())

	_, err := ing.Ingest(context.Background(), model.IngestionRequest{MeetingID: "gone"})
	assert.Error(t, err)
}
