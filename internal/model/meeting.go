package model

import "time"

// Meeting is a Diet committee or plenary session meeting.
type Meeting struct {
	ID          string     `json:"id"`
	IssueID     string     `json:"issue_id"` // NDL issue identifier, natural key
	Title       string     `json:"title"`
	House       string     `json:"house"` // 衆議院 / 参議院
	Committee   string     `json:"committee"`
	DietSession int        `json:"diet_session"`
	MeetingDate time.Time  `json:"meeting_date"`
	VideoURL    string     `json:"video_url,omitempty"`
	Source      DataSource `json:"source"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Speech is a single speaker turn within a meeting. Whisper-derived speeches
// always carry NeedsReview=true until an operator confirms them.
type Speech struct {
	ID           string     `json:"id"`
	MeetingID    string     `json:"meeting_id"`
	SpeechID     string     `json:"speech_id"` // NDL speech identifier, natural key
	Sequence     int        `json:"sequence"`
	SpeakerName  string     `json:"speaker_name"`
	SpeakerGroup string     `json:"speaker_group,omitempty"`
	SpeakerRole  string     `json:"speaker_role,omitempty"`
	Body         string     `json:"body"`
	Source       DataSource `json:"source"`
	NeedsReview  bool       `json:"needs_review"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Member is a Diet member referenced by speeches.
type Member struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	House     string    `json:"house,omitempty"`
	PartyName string    `json:"party_name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Party is a parliamentary group.
type Party struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}
