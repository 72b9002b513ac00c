// Package grants defines the solicitation/topic/subtopic domain shared by the
// ingestion pipeline, the stores, and the query API.
package grants

import (
	"errors"
	"time"
)

// ErrNotFound is returned by read-side stores when a row does not exist.
var ErrNotFound = errors.New("not found")

// Solicitation is a funding opportunity row. ID is the local surrogate key;
// SolicitationID is the upstream identifier and is never used as a key.
//
// Upstream documents bounded, mandatory fields that it does not honor, so
// every column except the title is nullable and limits are deliberately wide.
type Solicitation struct {
	ID                  int64    `json:"id"`
	SolicitationID      *string  `json:"solicitationId" validate:"omitempty,max=512"`
	Title               *string  `json:"solicitationTitle" validate:"required,max=4096"`
	Number              *string  `json:"solicitationNumber" validate:"omitempty,max=512"`
	Program             *string  `json:"program" validate:"omitempty,max=512"`
	Phase               *string  `json:"phase" validate:"omitempty,max=512"`
	Agency              *string  `json:"agency" validate:"omitempty,max=512"`
	Branch              *string  `json:"branch" validate:"omitempty,max=512"`
	Year                *string  `json:"solicitationYear" validate:"omitempty,max=64"`
	ReleaseDate         *string  `json:"releaseDate" validate:"omitempty,max=64"`
	OpenDate            *string  `json:"openDate" validate:"omitempty,max=64"`
	CloseDate           *string  `json:"closeDate" validate:"omitempty,max=64"`
	ApplicationDueDates []string `json:"applicationDueDate" validate:"omitempty,max=256,dive,max=64"`
	AgencyURL           *string  `json:"solicitationAgencyUrl" validate:"omitempty,max=2048"`
	CurrentStatus       *string  `json:"currentStatus" validate:"omitempty,max=128"`
}

// Topic belongs to exactly one Solicitation through SolicitationFK.
type Topic struct {
	ID             int64   `json:"id"`
	SolicitationFK int64   `json:"solicitationFK" validate:"required,gt=0"`
	Title          *string `json:"topicTitle" validate:"required,max=4096"`
	Number         *string `json:"topicNumber" validate:"omitempty,max=512"`
	Branch         *string `json:"branch" validate:"omitempty,max=512"`
	OpenDate       *string `json:"topicOpenDate" validate:"omitempty,max=64"`
	ClosedDate     *string `json:"topicClosedDate" validate:"omitempty,max=64"`
	Description    *string `json:"topicDescription" validate:"omitempty,max=1048576"`
	Link           *string `json:"sbirTopicLink" validate:"omitempty,max=2048"`
}

// Subtopic belongs to exactly one Topic through TopicFK.
type Subtopic struct {
	ID          int64   `json:"id"`
	TopicFK     int64   `json:"topicFK" validate:"required,gt=0"`
	Title       *string `json:"subtopicTitle" validate:"required,max=4096"`
	Branch      *string `json:"branch" validate:"omitempty,max=512"`
	Number      *string `json:"subtopicNumber" validate:"omitempty,max=512"`
	Description *string `json:"subtopicDescription" validate:"omitempty,max=1048576"`
	Link        *string `json:"sbirSubtopicLink" validate:"omitempty,max=2048"`
}

// Listing window bounds.
const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Page is a limit/offset window over a listing.
type Page struct {
	Limit  int
	Offset int
}

// Normalize applies DefaultLimit to a non-positive limit, caps it at
// MaxLimit, and clamps a negative offset to zero.
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultLimit
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// SolicitationFilter narrows a solicitation search. Zero values are ignored.
type SolicitationFilter struct {
	Page
	ID       int64
	Keywords string
	Agency   string
}

// TopicFilter narrows a topic search. Agency matches the parent solicitation.
type TopicFilter struct {
	Page
	ID             int64
	SolicitationFK int64
	Keywords       string
	Agency         string
}

// Counts tallies the outcome of one entity level during a load.
type Counts struct {
	Inserted int `json:"inserted"`
	Invalid  int `json:"invalid"`
	Failed   int `json:"failed"`
}

// LoadSummary reports what the cascading loader did with a batch.
type LoadSummary struct {
	Solicitations Counts `json:"solicitations"`
	Topics        Counts `json:"topics"`
	Subtopics     Counts `json:"subtopics"`
}

// RunStatus is the terminal state of an ingestion run.
type RunStatus string

// Terminal run states.
const (
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// RunSummary describes one ingestion run. It is logged, archived alongside
// the raw batch, and published as the completion notification.
type RunSummary struct {
	RunID         string      `json:"run_id"`
	Status        RunStatus   `json:"status"`
	StartedAt     time.Time   `json:"started_at"`
	FinishedAt    time.Time   `json:"finished_at"`
	Fetched       int         `json:"fetched"`
	Load          LoadSummary `json:"load"`
	ArchiveURI    string      `json:"archive_uri,omitempty"`
	ArchiveSHA256 string      `json:"archive_sha256,omitempty"`
	Error         string      `json:"error,omitempty"`
}
