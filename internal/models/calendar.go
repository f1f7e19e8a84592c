package models

import "time"

// Event sources for the merged deadline feed.
const (
	EventSourceInternal = "internal"
	EventSourceExternal = "external_calendar"
)

// DeadlineEvent is a single entry in the merged deadline feed. Internal
// events project assignments; external events project public holidays.
type DeadlineEvent struct {
	ID          string    `json:"id"`
	Source      string    `json:"source"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	AllDay      bool      `json:"all_day"`
	Subject     string    `json:"subject,omitempty"`
	SubjectCode string    `json:"subject_code,omitempty"`
	Professor   string    `json:"professor,omitempty"`
}

// DeadlineToday describes the caller's "today" for presentation.
type DeadlineToday struct {
	Date    string `json:"date"`
	DayName string `json:"day_name"`
}

// DeadlineMeta accompanies the merged feed result.
type DeadlineMeta struct {
	ExternalCalendarProvider  string        `json:"external_calendar_provider"`
	ExternalCalendarConnected bool          `json:"external_calendar_connected"`
	Today                     DeadlineToday `json:"today"`
}

// DeadlineFeed bundles the merged events with their metadata.
type DeadlineFeed struct {
	Events []DeadlineEvent `json:"events"`
	Meta   DeadlineMeta    `json:"meta"`
}
