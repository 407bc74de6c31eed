// Package whisper is a client for the internal speech-to-text service that
// transcribes Diet session video streams. Transcripts are machine-generated
// and must pass quality validation before they reach the speech store.
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/kokkai-watch/diet-tracker/internal/resilience"
)

const defaultBaseURL = "http://localhost:8178"

// TranscriptionRequest asks the service to transcribe one meeting video.
type TranscriptionRequest struct {
	MeetingID string `json:"meeting_id"`
	VideoURL  string `json:"video_url"`
	Language  string `json:"language,omitempty"` // defaults to ja server-side
}

// Segment is one diarized chunk of a transcript.
type Segment struct {
	Index        int     `json:"index"`
	StartSec     float64 `json:"start_sec"`
	EndSec       float64 `json:"end_sec"`
	Speaker      string  `json:"speaker,omitempty"`
	Text         string  `json:"text"`
	AvgLogProb   float64 `json:"avg_logprob"`
	NoSpeechProb float64 `json:"no_speech_prob"`
}

// Transcript is a completed transcription job result.
type Transcript struct {
	MeetingID    string    `json:"meeting_id"`
	Language     string    `json:"language"`
	DurationSecs float64   `json:"duration_secs"`
	Segments     []Segment `json:"segments"`
}

// Text joins all segment texts.
func (t *Transcript) Text() string {
	var buf bytes.Buffer
	for _, s := range t.Segments {
		buf.WriteString(s.Text)
	}
	return buf.String()
}

// LiveMeeting is an in-progress or recently finished session with a video
// stream the service can transcribe.
type LiveMeeting struct {
	MeetingID   string    `json:"meeting_id"`
	Title       string    `json:"title"`
	House       string    `json:"house"`
	Committee   string    `json:"committee"`
	DietSession int       `json:"diet_session"`
	MeetingDate time.Time `json:"meeting_date"`
	VideoURL    string    `json:"video_url"`
}

// QualityThresholds gate whether a transcript is usable.
type QualityThresholds struct {
	MinAvgLogProb   float64 // segments below this are considered unreliable
	MaxNoSpeechProb float64 // segments above this are likely silence
	MinTextLength   int     // runes; shorter transcripts are rejected outright
}

// DefaultQualityThresholds returns the production gate values.
func DefaultQualityThresholds() QualityThresholds {
	return QualityThresholds{
		MinAvgLogProb:   -1.0,
		MaxNoSpeechProb: 0.6,
		MinTextLength:   50,
	}
}

// QualityReport is the outcome of validating one transcript.
type QualityReport struct {
	Passed           bool     `json:"passed"`
	TotalSegments    int      `json:"total_segments"`
	RejectedSegments int      `json:"rejected_segments"`
	TextLength       int      `json:"text_length"`
	Reasons          []string `json:"reasons,omitempty"`
}

// ValidateQuality checks a transcript against the thresholds. A transcript
// passes when its joined text meets the minimum length and more than half of
// its segments clear both probability gates.
func ValidateQuality(t *Transcript, th QualityThresholds) QualityReport {
	report := QualityReport{TotalSegments: len(t.Segments)}
	report.TextLength = len([]rune(t.Text()))

	if report.TextLength < th.MinTextLength {
		report.Reasons = append(report.Reasons,
			eris.Errorf("transcript too short: %d runes", report.TextLength).Error())
	}

	for _, s := range t.Segments {
		if s.AvgLogProb < th.MinAvgLogProb || s.NoSpeechProb > th.MaxNoSpeechProb {
			report.RejectedSegments++
		}
	}
	if len(t.Segments) > 0 && report.RejectedSegments*2 >= len(t.Segments) {
		report.Reasons = append(report.Reasons,
			eris.Errorf("low confidence: %d/%d segments rejected",
				report.RejectedSegments, len(t.Segments)).Error())
	}

	report.Passed = len(report.Reasons) == 0
	return report
}

// Client talks to the transcription service.
type Client interface {
	// ListRecentMeetings returns meetings with video streams available for
	// transcription, newest first.
	ListRecentMeetings(ctx context.Context, since time.Time) ([]LiveMeeting, error)

	// Transcribe submits a video for transcription and blocks until the
	// transcript is ready.
	Transcribe(ctx context.Context, req TranscriptionRequest) (*Transcript, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default service URL. Empty values are ignored.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		if u != "" {
			c.baseURL = u
		}
	}
}

// WithTimeout overrides the request timeout. Transcription jobs run long,
// so the default is generous.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

type httpClient struct {
	baseURL string
	http    *http.Client
	retry   resilience.RetryConfig
}

// NewClient creates a transcription service client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Minute,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		retry: resilience.DefaultRetryConfig(),
	}
	c.retry.OnRetry = resilience.RetryLogger("whisper", "request")
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) ListRecentMeetings(ctx context.Context, since time.Time) ([]LiveMeeting, error) {
	endpoint := c.baseURL + "/v1/meetings?since=" + since.UTC().Format(time.RFC3339)

	var result struct {
		Meetings []LiveMeeting `json:"meetings"`
	}
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &result); err != nil {
		return nil, err
	}
	return result.Meetings, nil
}

func (c *httpClient) Transcribe(ctx context.Context, req TranscriptionRequest) (*Transcript, error) {
	if req.VideoURL == "" {
		return nil, eris.New("whisper: video URL is required")
	}

	var result Transcript
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/v1/transcribe", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *httpClient) doJSON(ctx context.Context, method, endpoint string, in, out any) error {
	return resilience.Do(ctx, c.retry, func(ctx context.Context) error {
		var body io.Reader
		if in != nil {
			b, err := json.Marshal(in)
			if err != nil {
				return eris.Wrap(err, "whisper: marshal request")
			}
			body = bytes.NewReader(b)
		}

		req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
		if err != nil {
			return eris.Wrap(err, "whisper: create request")
		}
		if in != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return resilience.NewTransientError(eris.Wrap(err, "whisper: send request"), 0)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return resilience.NewTransientError(eris.Wrap(err, "whisper: read response"), 0)
		}

		if resp.StatusCode != http.StatusOK {
			err := eris.Errorf("whisper: unexpected status %d: %s", resp.StatusCode, string(respBody))
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return resilience.NewTransientError(err, resp.StatusCode)
			}
			return err
		}

		return eris.Wrap(json.Unmarshal(respBody, out), "whisper: unmarshal response")
	})
}
