package models

import (
	"time"

	"github.com/google/uuid"
)

// FileStatus tracks where the authoritative copy of a recording's media lives.
type FileStatus string

const (
	FileWebexOnly        FileStatus = "webex_only"
	FileInternalAndWebex FileStatus = "internal_and_webex"
	FileInternalOnly     FileStatus = "internal_only"
	FileNone             FileStatus = "none"
)

// Association classifies which meeting, if any, a recording belongs to.
type Association string

const (
	AssociationLocal  Association = "local"
	AssociationRemote Association = "remote"
	AssociationNone   Association = "none"
)

// Additional keys used when a recording's provider URLs are cleared.
const (
	AdditionalOldStreamURL = "old_stream_url"
	AdditionalOldFileURL   = "old_file_url"
)

// Recording is one recorded session artifact. The provider copy, the
// internal copy, or both may exist; FileStatus says which.
type Recording struct {
	ID           int64             `json:"id"`
	MeetingID    *int64            `json:"meeting_id,omitempty"` // owning local meeting, nil when unknown
	MeetingKey   string            `json:"meeting_key"`
	RecordingID  string            `json:"recording_id"` // provider artifact identifier
	HostID       string            `json:"host_id,omitempty"`
	Name         string            `json:"name"`
	TimeCreated  time.Time         `json:"time_created"`
	StreamURL    string            `json:"stream_url,omitempty"`
	FileURL      string            `json:"file_url,omitempty"`
	FileSize     int64             `json:"file_size"`
	Duration     int               `json:"duration"` // seconds
	StoredVisib  bool              `json:"-"`
	Deleted      *time.Time        `json:"deleted,omitempty"` // soft-delete mark
	FileStatus   FileStatus        `json:"file_status"`
	StorageKey   string            `json:"-"` // object key of the internal copy
	UniqueID     uuid.UUID         `json:"unique_id"`
	Additional   map[string]string `json:"additional,omitempty"`
	TimeModified time.Time         `json:"time_modified"`
	Notified     bool              `json:"notified"`
	RemoteServer *int64            `json:"remote_server,omitempty"` // resolved federation server, nil until known
}

// Visible reads false whenever the recording is soft-deleted, regardless of
// the stored flag.
func (r *Recording) Visible() bool {
	if r.Deleted != nil {
		return false
	}
	return r.StoredVisib
}

// HasInternalFileFlag reports whether FileStatus claims an internal copy.
// Use the service-level check to verify against storage.
func (r *Recording) HasInternalFileFlag() bool {
	return r.FileStatus == FileInternalOnly || r.FileStatus == FileInternalAndWebex
}

// HasExternalFile reports whether the provider still holds a copy.
func (r *Recording) HasExternalFile() bool {
	return r.FileStatus == FileWebexOnly || r.FileStatus == FileInternalAndWebex
}

// SetAdditional stores a key in the open extension bag, allocating it lazily.
func (r *Recording) SetAdditional(key, value string) {
	if r.Additional == nil {
		r.Additional = make(map[string]string)
	}
	r.Additional[key] = value
}

// RemoteServer identifies another deployment whose meeting keys this install
// can recognize (federation support).
type RemoteServer struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	KeyPrefix string    `json:"key_prefix"` // meeting keys starting with this belong to the server
	CreatedAt time.Time `json:"created_at"`
}
