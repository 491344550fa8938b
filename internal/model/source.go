package model

import (
	"fmt"
	"time"
)

// Source status constants. Terminal states are READ, BROWSED, REJECTED
// and ERRORED.
const (
	StatusQueued        = "QUEUED"
	StatusReading       = "READING"
	StatusRead          = "READ"
	StatusBrowserNeeded = "BROWSER_NEEDED"
	StatusBrowsing      = "BROWSING"
	StatusBrowsed       = "BROWSED"
	StatusRejected      = "REJECTED"
	StatusErrored       = "ERRORED"
)

// Reason codes attached to a source during ranking.
const (
	ReasonAuthority = "authority"
	ReasonRecency   = "recency"
	ReasonRelevance = "relevance"
	ReasonDiversity = "diversity"
	ReasonPrimary   = "primary"
	ReasonCited     = "cited"
)

// SourceQueueItem is one candidate source in the session queue. It is
// owned by the session's queue store and mutated only through the
// orchestrator and the component it dispatches to.
type SourceQueueItem struct {
	ID      string `json:"id"`
	URL     string `json:"url"`
	Title   string `json:"title,omitempty"`
	Snippet string `json:"snippet,omitempty"`

	RankScore   float64  `json:"rank_score"`
	ReasonCodes []string `json:"reason_codes,omitempty"`

	Mode   string `json:"mode"`
	Status string `json:"status"`

	ArtifactID   string `json:"artifact_id,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	RetryCount   int    `json:"retry_count"`

	Domain      string `json:"domain,omitempty"`
	PublishDate string `json:"publish_date,omitempty"`

	QueuedAt    string `json:"queued_at"`
	ProcessedAt string `json:"processed_at,omitempty"`
}

// NewSource creates a queued source item.
func NewSource(id, url, domain, mode string) SourceQueueItem {
	return SourceQueueItem{
		ID:       id,
		URL:      url,
		Domain:   domain,
		Mode:     mode,
		Status:   StatusQueued,
		QueuedAt: time.Now().UTC().Format(time.RFC3339),
	}
}

// Terminal reports whether a status admits no further transitions.
func Terminal(status string) bool {
	switch status {
	case StatusRead, StatusBrowsed, StatusRejected, StatusErrored:
		return true
	}
	return false
}

// validTransitions is the single source of truth for the per-source state
// machine. QUEUED appears as a target only for the explicit requeue of a
// cancelled or transiently-failed in-flight item.
var validTransitions = map[string][]string{
	StatusQueued:        {StatusReading, StatusBrowsing, StatusRejected},
	StatusReading:       {StatusRead, StatusErrored, StatusBrowserNeeded, StatusQueued},
	StatusBrowserNeeded: {StatusBrowsing, StatusRejected, StatusErrored},
	StatusBrowsing:      {StatusBrowsed, StatusRejected, StatusErrored, StatusQueued},
}

// Transition moves the item to a new status, enforcing the state machine.
// All status mutations in the pipeline go through here so the queue
// invariants stay checkable in one place.
func (s *SourceQueueItem) Transition(to string) error {
	for _, allowed := range validTransitions[s.Status] {
		if allowed == to {
			s.Status = to
			if Terminal(to) {
				s.ProcessedAt = time.Now().UTC().Format(time.RFC3339)
			}
			return nil
		}
	}
	return fmt.Errorf("source %s: invalid transition %s -> %s", s.URL, s.Status, to)
}

// MarkRead records a successful reader fetch.
func (s *SourceQueueItem) MarkRead(artifactID string) error {
	if err := s.Transition(StatusRead); err != nil {
		return err
	}
	s.ArtifactID = artifactID
	return nil
}

// MarkBrowsed records a successful browser fetch.
func (s *SourceQueueItem) MarkBrowsed(artifactID string) error {
	if err := s.Transition(StatusBrowsed); err != nil {
		return err
	}
	s.ArtifactID = artifactID
	return nil
}

// MarkErrored records a terminal failure.
func (s *SourceQueueItem) MarkErrored(msg string) error {
	if err := s.Transition(StatusErrored); err != nil {
		return err
	}
	s.ErrorMessage = msg
	return nil
}

// MarkRejected records a terminal rejection with a reason.
func (s *SourceQueueItem) MarkRejected(reason string) error {
	if err := s.Transition(StatusRejected); err != nil {
		return err
	}
	s.ErrorMessage = reason
	return nil
}

// Requeue returns an in-flight item to the queue after a cancellation or
// a retryable failure. The retry count only ever increases.
func (s *SourceQueueItem) Requeue(msg string) error {
	if err := s.Transition(StatusQueued); err != nil {
		return err
	}
	s.RetryCount++
	s.ErrorMessage = msg
	return nil
}
