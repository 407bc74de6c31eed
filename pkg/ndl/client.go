// Package ndl is a client for the National Diet Library Kokkai Kaigiroku
// (Diet minutes) search API. The API is unauthenticated but rate-sensitive,
// so all calls go through a shared limiter and a circuit breaker.
package ndl

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/rotisserie/eris"

	"github.com/kokkai-watch/diet-tracker/internal/resilience"
)

const (
	defaultBaseURL  = "https://kokkai.ndl.go.jp/api"
	defaultPageSize = 30
	maxPageSize     = 100
)

// SearchParams narrows a meeting search. Zero-valued fields are omitted from
// the query. Dates use the API's YYYY-MM-DD format.
type SearchParams struct {
	From        *time.Time
	Until       *time.Time
	DietSession int
	House       string // 衆議院, 参議院, 両院
	Committee   string
	IssueID     string
}

// MeetingRecord is one meeting in an API response, with its speeches inline.
type MeetingRecord struct {
	IssueID       string         `json:"issueID"`
	Session       int            `json:"session"`
	NameOfHouse   string         `json:"nameOfHouse"`
	NameOfMeeting string         `json:"nameOfMeeting"`
	Issue         string         `json:"issue"`
	Date          string         `json:"date"`
	MeetingURL    string         `json:"meetingURL"`
	SpeechRecords []SpeechRecord `json:"speechRecord"`
}

// SpeechRecord is one speaker turn within a meeting record.
type SpeechRecord struct {
	SpeechID        string `json:"speechID"`
	SpeechOrder     int    `json:"speechOrder"`
	Speaker         string `json:"speaker"`
	SpeakerGroup    string `json:"speakerGroup"`
	SpeakerPosition string `json:"speakerPosition"`
	Speech          string `json:"speech"`
	SpeechURL       string `json:"speechURL"`
}

// MeetingDate parses the record's date field.
func (m MeetingRecord) MeetingDate() (time.Time, error) {
	t, err := time.Parse("2006-01-02", m.Date)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "ndl: parse meeting date %q", m.Date)
	}
	return t, nil
}

type searchResponse struct {
	NumberOfRecords    int             `json:"numberOfRecords"`
	NumberOfReturn     int             `json:"numberOfReturn"`
	StartRecord        int             `json:"startRecord"`
	NextRecordPosition int             `json:"nextRecordPosition"`
	Message            string          `json:"message"`
	MeetingRecords     []MeetingRecord `json:"meetingRecord"`
}

// Client searches Diet meeting minutes.
type Client interface {
	// SearchMeetings returns all meetings matching params, following
	// pagination to the end.
	SearchMeetings(ctx context.Context, params SearchParams) ([]MeetingRecord, error)

	// FetchMeeting returns the single meeting with the given issue ID, or
	// nil when the API has no such record.
	FetchMeeting(ctx context.Context, issueID string) (*MeetingRecord, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL. Empty values are ignored.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		if u != "" {
			c.baseURL = u
		}
	}
}

// WithTimeout overrides the request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithPageSize sets records per page, capped at the API maximum.
func WithPageSize(n int) Option {
	return func(c *httpClient) {
		if n > 0 && n <= maxPageSize {
			c.pageSize = n
		}
	}
}

// WithRateLimit sets the request rate in requests per second.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

type httpClient struct {
	baseURL  string
	pageSize int
	http     *http.Client
	limiter  *rate.Limiter
	circuit  *resilience.Circuit
	retry    resilience.RetryConfig
}

// NewClient creates a Kokkai API client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL:  defaultBaseURL,
		pageSize: defaultPageSize,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(2), 1),
		circuit: resilience.NewCircuit(resilience.CircuitConfig{}),
		retry:   resilience.DefaultRetryConfig(),
	}
	c.retry.OnRetry = resilience.RetryLogger("ndl", "search")
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) SearchMeetings(ctx context.Context, params SearchParams) ([]MeetingRecord, error) {
	var all []MeetingRecord
	start := 1
	for {
		page, err := c.fetchPage(ctx, params, start)
		if err != nil {
			return nil, err
		}
		all = append(all, page.MeetingRecords...)
		if page.NextRecordPosition <= 0 || len(page.MeetingRecords) == 0 {
			return all, nil
		}
		start = page.NextRecordPosition
	}
}

func (c *httpClient) FetchMeeting(ctx context.Context, issueID string) (*MeetingRecord, error) {
	page, err := c.fetchPage(ctx, SearchParams{IssueID: issueID}, 1)
	if err != nil {
		return nil, err
	}
	if len(page.MeetingRecords) == 0 {
		return nil, nil
	}
	return &page.MeetingRecords[0], nil
}

// fetchPage performs one rate-limited, retried GET against /meeting.
func (c *httpClient) fetchPage(ctx context.Context, params SearchParams, startRecord int) (*searchResponse, error) {
	q := url.Values{}
	q.Set("recordPacking", "json")
	q.Set("startRecord", strconv.Itoa(startRecord))
	q.Set("maximumRecords", strconv.Itoa(c.pageSize))
	if params.From != nil {
		q.Set("from", params.From.Format("2006-01-02"))
	}
	if params.Until != nil {
		q.Set("until", params.Until.Format("2006-01-02"))
	}
	if params.DietSession > 0 {
		q.Set("sessionFrom", strconv.Itoa(params.DietSession))
		q.Set("sessionTo", strconv.Itoa(params.DietSession))
	}
	if params.House != "" {
		q.Set("nameOfHouse", params.House)
	}
	if params.Committee != "" {
		q.Set("nameOfMeeting", params.Committee)
	}
	if params.IssueID != "" {
		q.Set("issueID", params.IssueID)
	}
	endpoint := c.baseURL + "/meeting?" + q.Encode()

	return resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*searchResponse, error) {
		return resilience.ExecuteVal(ctx, c.circuit, func(ctx context.Context) (*searchResponse, error) {
			return c.get(ctx, endpoint)
		})
	})
}

func (c *httpClient) get(ctx context.Context, endpoint string) (*searchResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "ndl: rate limit wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, eris.Wrap(err, "ndl: create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "ndl: send request"), 0)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "ndl: read response"), 0)
	}

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("ndl: unexpected status %d: %s", resp.StatusCode, truncate(body, 200))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	var result searchResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "ndl: unmarshal response")
	}
	if result.Message != "" && result.NumberOfRecords == 0 && len(result.MeetingRecords) == 0 {
		// The API reports query errors as 200s with a message field.
		return nil, eris.Errorf("ndl: api error: %s", result.Message)
	}
	return &result, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
