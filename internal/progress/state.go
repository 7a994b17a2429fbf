// Package progress owns per-job state and the WebSocket that streams it.
// Every mutation of a JobState flows through that job's actor goroutine, so
// the state machine below needs no locks.
package progress

import (
	"encoding/json"
	"time"

	"github.com/jackzampolin/tome/internal/tomerr"
)

// Pipeline identifies which driver owns a job.
type Pipeline string

const (
	PipelineSingleEnrichment Pipeline = "single_enrichment"
	PipelineBatchEnrichment  Pipeline = "batch_enrichment"
	PipelineCSVImport        Pipeline = "csv_import"
	PipelineBookshelfScan    Pipeline = "bookshelf_scan"
)

// Status is a job lifecycle state. Terminal statuses are absorbing.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether a status has no outgoing transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// PhotoStatus values for bookshelf scans.
const (
	PhotoPending   = "pending"
	PhotoCompleted = "completed"
	PhotoFailed    = "failed"
)

// PhotoState tracks one photo of a bookshelf scan.
type PhotoState struct {
	Index      int    `json:"index"`
	Status     string `json:"status"`
	BooksFound int    `json:"booksFound"`
	Version    int    `json:"version"`
}

// JobState is the actor-owned record for one job.
type JobState struct {
	JobID          string       `json:"jobId"`
	Pipeline       Pipeline     `json:"pipeline"`
	Status         Status       `json:"status"`
	Progress       float64      `json:"progress"`
	ProcessedCount int          `json:"processedCount"`
	TotalCount     int          `json:"totalCount"`
	Version        int64        `json:"version"`
	CreatedAt      time.Time    `json:"createdAt"`
	LastUpdateAt   time.Time    `json:"lastUpdateAt"`
	CompletedAt    *time.Time   `json:"completedAt,omitempty"`
	Error          string       `json:"error,omitempty"`
	Photos         []PhotoState `json:"photos,omitempty"`

	// Result holds the terminal complete/error payload so reconnecting
	// clients can read the outcome.
	Result json.RawMessage `json:"result,omitempty"`

	AuthToken          string    `json:"authToken,omitempty"`
	AuthTokenExpiresAt time.Time `json:"authTokenExpiresAt,omitempty"`
	Cancelled          bool      `json:"cancelled"`

	UpdatesSinceCheckpoint int `json:"-"`
}

// NewJobState creates a pending job.
func NewJobState(jobID string, pipeline Pipeline, totalCount int, now time.Time) JobState {
	return JobState{
		JobID:        jobID,
		Pipeline:     pipeline,
		Status:       StatusPending,
		TotalCount:   totalCount,
		CreatedAt:    now,
		LastUpdateAt: now,
	}
}

// touch records an accepted mutation.
func (s *JobState) touch(now time.Time) {
	s.Version++
	s.LastUpdateAt = now
	s.UpdatesSinceCheckpoint++
}

func (s *JobState) invalidTransition(to Status) error {
	return tomerr.Newf(tomerr.CodeInvalidTransition,
		"cannot transition from %s to %s", s.Status, to)
}

// MarkRunning moves pending to running.
func (s *JobState) MarkRunning(now time.Time) error {
	if s.Status == StatusRunning {
		return nil
	}
	if s.Status != StatusPending {
		return s.invalidTransition(StatusRunning)
	}
	s.Status = StatusRunning
	s.touch(now)
	return nil
}

// ApplyProgress records a progress update. Progress never decreases while
// running; late or out-of-order updates clamp instead of erroring.
func (s *JobState) ApplyProgress(progress float64, processed, total int, now time.Time) error {
	if s.Status.Terminal() {
		return s.invalidTransition(StatusRunning)
	}
	if s.Status == StatusPending {
		s.Status = StatusRunning
	}
	if progress > 1 {
		progress = 1
	}
	if progress > s.Progress {
		s.Progress = progress
	}
	if total > 0 {
		s.TotalCount = total
	}
	if processed > s.ProcessedCount {
		s.ProcessedCount = processed
	}
	if s.TotalCount > 0 && s.ProcessedCount > s.TotalCount {
		s.ProcessedCount = s.TotalCount
	}
	s.touch(now)
	return nil
}

// Complete moves the job to completed. Returns already=true when the job is
// completed already; a different terminal status is an error.
func (s *JobState) Complete(payload json.RawMessage, now time.Time) (already bool, err error) {
	if s.Status == StatusCompleted {
		return true, nil
	}
	if s.Status.Terminal() || s.Status == StatusPending {
		return false, s.invalidTransition(StatusCompleted)
	}
	s.Status = StatusCompleted
	s.Progress = 1
	s.Result = payload
	t := now
	s.CompletedAt = &t
	s.touch(now)
	return false, nil
}

// Fail moves the job to failed with an error message.
func (s *JobState) Fail(message string, payload json.RawMessage, now time.Time) (already bool, err error) {
	if s.Status == StatusFailed {
		return true, nil
	}
	if s.Status.Terminal() || s.Status == StatusPending {
		return false, s.invalidTransition(StatusFailed)
	}
	s.Status = StatusFailed
	s.Error = message
	s.Result = payload
	t := now
	s.CompletedAt = &t
	s.touch(now)
	return false, nil
}

// Cancel moves pending or running to cancelled and raises the cancelled
// flag pipelines poll.
func (s *JobState) Cancel(now time.Time) (already bool, err error) {
	if s.Status == StatusCancelled {
		return true, nil
	}
	if s.Status.Terminal() {
		return false, s.invalidTransition(StatusCancelled)
	}
	s.Status = StatusCancelled
	s.Cancelled = true
	t := now
	s.CompletedAt = &t
	s.touch(now)
	return false, nil
}

// InitBatch seeds the per-photo array for a bookshelf scan.
func (s *JobState) InitBatch(totalPhotos int, now time.Time) error {
	if s.Status.Terminal() {
		return s.invalidTransition(StatusRunning)
	}
	photos := make([]PhotoState, totalPhotos)
	for i := range photos {
		photos[i] = PhotoState{Index: i, Status: PhotoPending}
	}
	s.Photos = photos
	s.TotalCount = totalPhotos
	s.touch(now)
	return nil
}

// UpdatePhoto applies one photo outcome with an optimistic version check.
func (s *JobState) UpdatePhoto(index int, status string, booksFound, expectedVersion int, now time.Time) error {
	if s.Status.Terminal() {
		return s.invalidTransition(StatusRunning)
	}
	if index < 0 || index >= len(s.Photos) {
		return tomerr.Newf(tomerr.CodeInvalidQuery, "photo index %d out of range", index)
	}
	p := &s.Photos[index]
	if p.Version != expectedVersion {
		return tomerr.Newf(tomerr.CodeVersionConflict,
			"photo %d at version %d, expected %d", index, p.Version, expectedVersion)
	}
	p.Status = status
	p.BooksFound = booksFound
	p.Version++
	if status != PhotoPending {
		s.ProcessedCount++
	}
	s.touch(now)
	return nil
}

// TotalBooksFound sums the per-photo counts.
func (s *JobState) TotalBooksFound() int {
	total := 0
	for _, p := range s.Photos {
		total += p.BooksFound
	}
	return total
}

// Public is the state without the auth token, safe for API responses.
func (s JobState) Public() JobState {
	s.AuthToken = ""
	return s
}
