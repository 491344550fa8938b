package model

import "time"

// Provenance constants describing how an artifact was obtained.
const (
	ProvenanceReader  = "reader"
	ProvenanceBrowser = "browser"
)

// Confidence levels for findings.
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

// EvidenceRecord links a fetched source to its stored artifact. Records
// are append-only; one record per artifact id.
type EvidenceRecord struct {
	ArtifactID  string   `json:"artifact_id"`
	URL         string   `json:"url"`
	Title       string   `json:"title,omitempty"`
	Domain      string   `json:"domain,omitempty"`
	PublishDate string   `json:"publish_date,omitempty"`
	FetchedAt   string   `json:"fetched_at"`
	Provenance  string   `json:"provenance"`
	Excerpt     string   `json:"excerpt,omitempty"`
	Quotes      []string `json:"quotes,omitempty"`
}

// NewEvidenceRecord creates a record stamped with the current time.
func NewEvidenceRecord(artifactID, url, domain, provenance string) EvidenceRecord {
	return EvidenceRecord{
		ArtifactID: artifactID,
		URL:        url,
		Domain:     domain,
		Provenance: provenance,
		FetchedAt:  time.Now().UTC().Format(time.RFC3339),
	}
}

// Finding is a distilled, cited unit of knowledge. Findings are immutable
// once written; a re-distillation supersedes earlier findings instead of
// editing them.
type Finding struct {
	ID          string   `json:"id"`
	Statement   string   `json:"statement"`
	Confidence  string   `json:"confidence"`
	EvidenceIDs []string `json:"evidence_ids"`
	Caveat      string   `json:"caveat,omitempty"`
	Pass        int      `json:"pass"`
	Superseded  bool     `json:"superseded,omitempty"`
}

// Gap types emitted by the reviewer.
const (
	GapMissingCitation       = "missing_citation"
	GapMissingOutput         = "missing_output"
	GapInsufficientDiversity = "insufficient_diversity"
	GapStaleSource           = "stale_source"
	GapLowConfidence         = "low_confidence"
	GapContradictedClaim     = "contradicted_claim"
)

// Gap describes missing coverage or quality relative to the brief.
type Gap struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Severity    string `json:"severity"` // low, medium, high
	Target      string `json:"target,omitempty"`
}

// Follow-up action constants.
const (
	FollowUpSearch   = "search"
	FollowUpRefetch  = "refetch"
	FollowUpEscalate = "escalate"
)

// FollowUpTask is a concrete action addressing a Gap. Search tasks carry
// a query for the collector; refetch and escalate tasks name a URL.
type FollowUpTask struct {
	Action string `json:"action"`
	Query  string `json:"query,omitempty"`
	URL    string `json:"url,omitempty"`
	Reason string `json:"reason"`
}
