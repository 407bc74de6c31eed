package ndl

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func testClient(srv *httptest.Server, opts ...Option) Client {
	base := []Option{
		WithBaseURL(srv.URL),
		WithRateLimit(10000),
		WithHTTPClient(srv.Client()),
	}
	return NewClient(append(base, opts...)...)
}

func writeSearchResponse(t *testing.T, w http.ResponseWriter, resp searchResponse) {
	t.Helper()
	require.NoError(t, json.NewEncoder(w).Encode(resp))
}

func TestSearchMeetingsSinglePage(t *testing.T) {
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/meeting", r.URL.Path)
		gotQuery = map[string]string{}
		for k := range r.URL.Query() {
			gotQuery[k] = r.URL.Query().Get(k)
		}
		writeSearchResponse(t, w, searchResponse{
			NumberOfRecords: 1,
			NumberOfReturn:  1,
			StartRecord:     1,
			MeetingRecords: []MeetingRecord{{
				IssueID:       "121714024X01020260115",
				Session:       217,
				NameOfHouse:   "衆議院",
				NameOfMeeting: "環境委員会",
				Issue:         "第10号",
				Date:          "2026-01-15",
			}},
		})
	}))
	defer srv.Close()

	c := testClient(srv)
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	until := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	records, err := c.SearchMeetings(context.Background(), SearchParams{
		From:        &from,
		Until:       &until,
		DietSession: 217,
		House:       "衆議院",
		Committee:   "環境委員会",
	})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "121714024X01020260115", records[0].IssueID)

	assert.Equal(t, "json", gotQuery["recordPacking"])
	assert.Equal(t, "1", gotQuery["startRecord"])
	assert.Equal(t, "30", gotQuery["maximumRecords"])
	assert.Equal(t, "2026-01-01", gotQuery["from"])
	assert.Equal(t, "2026-01-31", gotQuery["until"])
	assert.Equal(t, "217", gotQuery["sessionFrom"])
	assert.Equal(t, "217", gotQuery["sessionTo"])
	assert.Equal(t, "衆議院", gotQuery["nameOfHouse"])
	assert.Equal(t, "環境委員会", gotQuery["nameOfMeeting"])
}

func TestSearchMeetingsFollowsPagination(t *testing.T) {
	var starts []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := r.URL.Query().Get("startRecord")
		starts = append(starts, start)
		switch start {
		case "1":
			writeSearchResponse(t, w, searchResponse{
				NumberOfRecords:    3,
				NumberOfReturn:     2,
				NextRecordPosition: 3,
				MeetingRecords: []MeetingRecord{
					{IssueID: "issue-1", Date: "2026-01-10"},
					{IssueID: "issue-2", Date: "2026-01-11"},
				},
			})
		case "3":
			writeSearchResponse(t, w, searchResponse{
				NumberOfRecords: 3,
				NumberOfReturn:  1,
				MeetingRecords:  []MeetingRecord{{IssueID: "issue-3", Date: "2026-01-12"}},
			})
		default:
			t.Errorf("unexpected startRecord %q", start)
		}
	}))
	defer srv.Close()

	c := testClient(srv, WithPageSize(2))
	records, err := c.SearchMeetings(context.Background(), SearchParams{})
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []string{"1", "3"}, starts)
	assert.Equal(t, "issue-3", records[2].IssueID)
}

func TestSearchMeetingsRetriesTransientStatus(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeSearchResponse(t, w, searchResponse{
			NumberOfRecords: 1,
			MeetingRecords:  []MeetingRecord{{IssueID: "issue-1", Date: "2026-01-10"}},
		})
	}))
	defer srv.Close()

	c := testClient(srv)
	records, err := c.SearchMeetings(context.Background(), SearchParams{})
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, 2, calls)
}

func TestSearchMeetingsDoesNotRetryClientError(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := testClient(srv)
	_, err := c.SearchMeetings(context.Background(), SearchParams{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 400")
	assert.Equal(t, 1, calls)
}

func TestSearchMeetingsSurfacesAPIErrorMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeSearchResponse(t, w, searchResponse{
			Message: "検索条件が不正です",
		})
	}))
	defer srv.Close()

	c := testClient(srv)
	_, err := c.SearchMeetings(context.Background(), SearchParams{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "検索条件が不正です")
}

func TestFetchMeetingReturnsNilWhenAbsent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "missing-id", r.URL.Query().Get("issueID"))
		writeSearchResponse(t, w, searchResponse{NumberOfRecords: 0})
	}))
	defer srv.Close()

	c := testClient(srv)
	rec, err := c.FetchMeeting(context.Background(), "missing-id")
	assert.NoError(t, err)
	assert.Nil(t, rec)
}

func TestFetchMeetingIncludesSpeeches(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeSearchResponse(t, w, searchResponse{
			NumberOfRecords: 1,
			MeetingRecords: []MeetingRecord{{
				IssueID: "issue-1",
				Date:    "2026-01-15",
				SpeechRecords: []SpeechRecord{
					{SpeechID: "sp-1", SpeechOrder: 1, Speaker: "田中太郎", Speech: "これより会議を開きます。"},
					{SpeechID: "sp-2", SpeechOrder: 2, Speaker: "佐藤花子", Speech: "質問いたします。"},
				},
			}},
		})
	}))
	defer srv.Close()

	c := testClient(srv)
	rec, err := c.FetchMeeting(context.Background(), "issue-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Len(t, rec.SpeechRecords, 2)
	assert.Equal(t, "田中太郎", rec.SpeechRecords[0].Speaker)
}

func TestMeetingDateParsing(t *testing.T) {
	rec := MeetingRecord{Date: "2026-01-15"}
	got, err := rec.MeetingDate()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC), got)

	rec.Date = "January 15"
	_, err = rec.MeetingDate()
	assert.Error(t, err)
}

func TestWithPageSizeCapsAtAPIMaximum(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query().Get("maximumRecords")
		writeSearchResponse(t, w, searchResponse{NumberOfRecords: 0})
	}))
	defer srv.Close()

	c := testClient(srv, WithPageSize(500))
	_, err := c.FetchMeeting(context.Background(), "issue-1")
	require.NoError(t, err)
	// Out-of-range page sizes are ignored; the default applies.
	assert.Equal(t, "30", got)
}

func TestWithBaseURLIgnoresEmpty(t *testing.T) {
	c := NewClient(WithBaseURL("")).(*httpClient)
	assert.Equal(t, defaultBaseURL, c.baseURL)
}

func TestWithTimeout(t *testing.T) {
	c := NewClient(WithTimeout(90 * time.Second)).(*httpClient)
	assert.Equal(t, 90*time.Second, c.http.Timeout)

	// Nonpositive values keep the default.
	c = NewClient(WithTimeout(0)).(*httpClient)
	assert.Equal(t, 30*time.Second, c.http.Timeout)
}
