package pgdb

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an UploadRequest, per the §4.4 DAG:
// queued -> in_progress -> {completed, failed, duplicate}.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusDuplicate  Status = "duplicate"
)

// Terminal reports whether s is a terminal status (no further transitions).
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusDuplicate:
		return true
	case StatusQueued, StatusInProgress:
		return false
	default:
		return false
	}
}

type User struct {
	UserID    string
	Username  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Batch struct {
	ID        int64
	BatchUID  uuid.UUID
	UserID    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ErrorPayload is the structured error persisted on upload_requests.error and
// streamed verbatim to hub subscribers, per §7.
type ErrorPayload struct {
	Type    string      `json:"type"`
	Message string      `json:"message"`
	Reason  string      `json:"reason,omitempty"`
	Links   []ErrorLink `json:"links,omitempty"`
}

type ErrorLink struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// UploadRequest is one row of upload_requests.
type UploadRequest struct {
	ID                int64
	BatchID           int64
	UserID            string
	Username          string // the submitter's username, joined from users
	Key               string
	Handler           string
	Filename          string
	Wikitext          string
	SDC               []byte // serialized proposed/merged claim list, nullable
	Labels            []byte // nullable
	Collection        string
	CopyrightOverride bool
	Status            Status
	Result            string
	Error             *ErrorPayload
	Success           string
	AccessToken       []byte // sealed ciphertext, nullable after terminal
	LastEditedBy      string // resolved username, not userid, once joined
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Item is a new upload request as submitted by a client, before persistence.
type Item struct {
	Key               string
	Filename          string
	Wikitext          string
	SDC               []byte
	Labels            []byte
	Collection        string
	CopyrightOverride bool
}

// Stats is a batch's aggregate over its requests' statuses, per invariant 3.
type Stats struct {
	Total       int
	Queued      int
	InProgress  int
	Completed   int
	Failed      int
	Duplicate   int
}

type Preset struct {
	ID        int64
	UserID    string
	Handler   string
	Name      string
	Data      []byte
	IsDefault bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
