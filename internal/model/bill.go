package model

import (
	"fmt"
	"strings"
	"time"
)

// Bill represents a Diet bill as read from the bill store. Only the tracked
// fields participate in change detection; everything else is carried for
// display and provenance.
type Bill struct {
	ID                 string     `json:"id"`
	BillNumber         string     `json:"bill_number"`
	Title              string     `json:"title"`
	Status             string     `json:"status"`
	Stage              string     `json:"stage"`
	Committee          string     `json:"committee"`
	Submitter          string     `json:"submitter"`
	DietSession        int        `json:"diet_session"`
	SubmissionDate     *time.Time `json:"submission_date,omitempty"`
	VoteDate           *time.Time `json:"vote_date,omitempty"`
	VoteResults        string     `json:"vote_results"`
	PromulgationDate   *time.Time `json:"promulgation_date,omitempty"`
	ImplementationDate *time.Time `json:"implementation_date,omitempty"`
	Outline            string     `json:"outline"`
	Background         string     `json:"background"`
	Effects            string     `json:"effects"`
	QualityScore       float64    `json:"quality_score"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// TrackedFields lists the field names examined by change detection, in the
// order they are serialized into snapshots.
var TrackedFields = []string{
	"status",
	"stage",
	"committee",
	"submitter",
	"title",
	"submission_date",
	"vote_date",
	"vote_results",
	"promulgation_date",
	"implementation_date",
	"outline",
	"background",
	"effects",
	"quality_score",
}

// Field returns the raw string form of a tracked field. The second return is
// false when the field is absent (empty string, nil date, or an unknown
// field name); absent values diff as null.
func (b *Bill) Field(name string) (string, bool) {
	switch name {
	case "status":
		return present(b.Status)
	case "stage":
		return present(b.Stage)
	case "committee":
		return present(b.Committee)
	case "submitter":
		return present(b.Submitter)
	case "title":
		return present(b.Title)
	case "submission_date":
		return presentDate(b.SubmissionDate)
	case "vote_date":
		return presentDate(b.VoteDate)
	case "vote_results":
		return present(b.VoteResults)
	case "promulgation_date":
		return presentDate(b.PromulgationDate)
	case "implementation_date":
		return presentDate(b.ImplementationDate)
	case "outline":
		return present(b.Outline)
	case "background":
		return present(b.Background)
	case "effects":
		return present(b.Effects)
	case "quality_score":
		if b.QualityScore == 0 {
			return "", false
		}
		return fmt.Sprintf("%.3f", b.QualityScore), true
	default:
		return "", false
	}
}

func present(s string) (string, bool) {
	s = strings.TrimSpace(s)
	return s, s != ""
}

func presentDate(t *time.Time) (string, bool) {
	if t == nil || t.IsZero() {
		return "", false
	}
	return t.Format("2006-01-02"), true
}
