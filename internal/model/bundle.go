package model

import "time"

// Review status constants. INCONCLUSIVE marks a bundle assembled after
// budget exhaustion with gaps still open.
const (
	ReviewApproved        = "APPROVED"
	ReviewNeedsMoreSource = "NEEDS_MORE_SOURCES"
	ReviewNeedsRefresh    = "NEEDS_REFRESH"
	ReviewInconclusive    = "INCONCLUSIVE"
)

// Citation is one entry in the bundle's citation list.
type Citation struct {
	ArtifactID  string `json:"artifact_id"`
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	PublishDate string `json:"publish_date,omitempty"`
	Provenance  string `json:"provenance"`
}

// ResearchBundle is the final, size-bounded output of a session. It is
// built once on completion and read-only to the consumer.
type ResearchBundle struct {
	SessionID        string     `json:"session_id"`
	ExecutiveSummary string     `json:"executive_summary"`
	Findings         []Finding  `json:"findings"`
	Citations        []Citation `json:"citations"`
	Status           string     `json:"status"`
	OpenGaps         []Gap      `json:"open_gaps,omitempty"`
	TokenEstimate    int        `json:"token_estimate"`
	CompletedAt      string     `json:"completed_at"`
}

// NewBundle creates a bundle stamped with the current time.
func NewBundle(sessionID string) ResearchBundle {
	return ResearchBundle{
		SessionID:   sessionID,
		CompletedAt: time.Now().UTC().Format(time.RFC3339),
	}
}
