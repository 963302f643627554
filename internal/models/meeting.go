package models

import "time"

// MeetingType selects which remote session kind a meeting is scheduled as.
type MeetingType string

const (
	MeetingCenter  MeetingType = "meeting_center"
	TrainingCenter MeetingType = "training_center"
	// SupportCenter exists in the vendor API but is not implemented here.
	SupportCenter MeetingType = "support_center"
)

// MeetingStatus is the live state of a session as last reported by the provider.
const (
	MeetingNeverStarted = "never_started"
	MeetingStopped      = "stopped"
	MeetingInProgress   = "in_progress"
)

// TimeStatus is the derived scheduling state of a meeting.
type TimeStatus string

const (
	TimeUpcoming   TimeStatus = "upcoming"
	TimeAvailable  TimeStatus = "available"
	TimeInProgress TimeStatus = "in_progress"
	TimePast       TimeStatus = "past"
	TimeLongPast   TimeStatus = "long_past"
)

// Meeting is one schedulable remote session bound 1:1 to a course activity.
// MeetingKey is empty until the first successful remote create.
type Meeting struct {
	ID              int64       `json:"id"`
	Course          int64       `json:"course"`
	Name            string      `json:"name"`
	Description     string      `json:"description,omitempty"`
	Type            MeetingType `json:"type"`
	MeetingKey      string      `json:"meeting_key,omitempty"`
	GuestKey        string      `json:"guest_key,omitempty"`
	EventID         string      `json:"event_id,omitempty"`
	HostKey         string      `json:"host_key,omitempty"`
	CreatorUser     string      `json:"creator_user,omitempty"` // remote-service username of the owner
	StartTime       time.Time   `json:"start_time"`
	Duration        int         `json:"duration"` // minutes
	Status          string      `json:"status"`
	LastStatusCheck time.Time   `json:"last_status_check,omitempty"`
	StudentDownload bool        `json:"student_download"`
	TimeModified    time.Time   `json:"time_modified"`
}

// Created reports whether the meeting exists on the provider.
func (m *Meeting) Created() bool {
	return m.MeetingKey != ""
}
