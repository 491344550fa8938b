package review

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/yangwenmai/scout/internal/artifact"
	"github.com/yangwenmai/scout/internal/config"
	"github.com/yangwenmai/scout/internal/model"
	"github.com/yangwenmai/scout/internal/session"
)

func testConfig() config.Config {
	return config.Config{
		CitationRequired:          true,
		MinSourceAuthorityScore:   0.3,
		SourceDiversityMinDomains: 2,
	}
}

func newTestSession(t *testing.T) *session.Session {
	t.Helper()
	sess, err := session.Create(context.Background(), config.Config{WorkspaceBaseDir: t.TempDir()})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return sess
}

func addEvidence(t *testing.T, sess *session.Session, url, domain, publishDate string) string {
	t.Helper()
	return addEvidenceVia(t, sess, url, domain, publishDate, model.ProvenanceReader)
}

func addEvidenceVia(t *testing.T, sess *session.Session, url, domain, publishDate, provenance string) string {
	t.Helper()
	meta, err := sess.Artifacts.Write([]byte("content for "+url), artifact.WriteOptions{SourceURL: url})
	if err != nil {
		t.Fatal(err)
	}
	rec := model.NewEvidenceRecord(meta.ArtifactID, url, domain, provenance)
	rec.PublishDate = publishDate
	if err := sess.Ledger.Append(rec); err != nil {
		t.Fatal(err)
	}
	return meta.ArtifactID
}

func TestReview_Approved(t *testing.T) {
	sess := newTestSession(t)
	id1 := addEvidence(t, sess, "https://a.com/1", "a.com", "")
	id2 := addEvidence(t, sess, "https://b.com/2", "b.com", "")

	brief := model.NewBrief("compare engines")
	brief.RequiredOutputs = []string{"benchmarks"}
	findings := []model.Finding{
		{ID: "f1", Statement: "The benchmarks show engine A ahead.", Confidence: model.ConfidenceHigh, EvidenceIDs: []string{id1, id2}, Pass: 1},
	}

	result := New(testConfig()).Review(findings, brief, sess)
	if result.Status != model.ReviewApproved {
		t.Fatalf("Status = %s, want APPROVED; gaps: %+v", result.Status, result.Gaps)
	}
	if result.EvidenceCoverage != 1.0 {
		t.Errorf("EvidenceCoverage = %f, want 1.0", result.EvidenceCoverage)
	}
}

// An uncited finding covering a required output must produce exactly one
// missing-citation gap with a follow-up targeting that output.
func TestReview_UncitedRequiredOutput(t *testing.T) {
	sess := newTestSession(t)
	addEvidence(t, sess, "https://a.com/1", "a.com", "")
	addEvidence(t, sess, "https://b.com/2", "b.com", "")

	brief := model.NewBrief("compare engines")
	brief.RequiredOutputs = []string{"pricing"}
	findings := []model.Finding{
		{ID: "f1", Statement: "Pricing starts at $10 per month.", Confidence: model.ConfidenceMedium, Pass: 1},
	}

	result := New(testConfig()).Review(findings, brief, sess)

	citationGaps := 0
	var gap model.Gap
	for _, g := range result.Gaps {
		if g.Type == model.GapMissingCitation {
			citationGaps++
			gap = g
		}
	}
	if citationGaps != 1 {
		t.Fatalf("missing-citation gaps = %d, want exactly 1 (all gaps: %+v)", citationGaps, result.Gaps)
	}
	if gap.Target != "pricing" {
		t.Errorf("gap target = %q, want pricing", gap.Target)
	}

	var followUp *model.FollowUpTask
	for i := range result.FollowUps {
		if result.FollowUps[i].Action == model.FollowUpSearch && result.FollowUps[i].Query == brief.Goal+" pricing" {
			followUp = &result.FollowUps[i]
		}
	}
	if followUp == nil {
		t.Fatalf("no follow-up targeting the uncited output: %+v", result.FollowUps)
	}
	if result.Status != model.ReviewNeedsMoreSource {
		t.Errorf("Status = %s, want NEEDS_MORE_SOURCES", result.Status)
	}
}

func TestReview_DanglingCitation(t *testing.T) {
	sess := newTestSession(t)
	addEvidence(t, sess, "https://a.com/1", "a.com", "")
	addEvidence(t, sess, "https://b.com/2", "b.com", "")

	brief := model.NewBrief("goal")
	findings := []model.Finding{
		{ID: "f1", Statement: "A claim citing nothing real.", Confidence: model.ConfidenceHigh, EvidenceIDs: []string{"art_missing"}, Pass: 1},
	}

	result := New(testConfig()).Review(findings, brief, sess)
	found := false
	for _, g := range result.Gaps {
		if g.Type == model.GapMissingCitation {
			found = true
		}
	}
	if !found {
		t.Fatalf("dangling citation not flagged: %+v", result.Gaps)
	}
}

func TestReview_MissingOutput(t *testing.T) {
	sess := newTestSession(t)
	id := addEvidence(t, sess, "https://a.com/1", "a.com", "")
	addEvidence(t, sess, "https://b.com/2", "b.com", "")

	brief := model.NewBrief("compare engines")
	brief.RequiredOutputs = []string{"migration path"}
	findings := []model.Finding{
		{ID: "f1", Statement: "Something unrelated.", Confidence: model.ConfidenceHigh, EvidenceIDs: []string{id}, Pass: 1},
	}

	result := New(testConfig()).Review(findings, brief, sess)
	var gap *model.Gap
	for i := range result.Gaps {
		if result.Gaps[i].Type == model.GapMissingOutput {
			gap = &result.Gaps[i]
		}
	}
	if gap == nil {
		t.Fatalf("missing output not flagged: %+v", result.Gaps)
	}
	if gap.Target != "migration path" {
		t.Errorf("gap target = %q", gap.Target)
	}
	if result.Status != model.ReviewNeedsMoreSource {
		t.Errorf("Status = %s, want NEEDS_MORE_SOURCES", result.Status)
	}
}

func TestReview_InsufficientDiversity(t *testing.T) {
	sess := newTestSession(t)
	id := addEvidence(t, sess, "https://a.com/1", "a.com", "")

	brief := model.NewBrief("goal")
	findings := []model.Finding{
		{ID: "f1", Statement: "A well cited claim.", Confidence: model.ConfidenceHigh, EvidenceIDs: []string{id}, Pass: 1},
	}

	result := New(testConfig()).Review(findings, brief, sess)
	found := false
	for _, g := range result.Gaps {
		if g.Type == model.GapInsufficientDiversity {
			found = true
		}
	}
	if !found {
		t.Fatalf("diversity shortfall not flagged with 1 of 2 domains: %+v", result.Gaps)
	}
	if result.SourceDiversity != 0.5 {
		t.Errorf("SourceDiversity = %f, want 0.5", result.SourceDiversity)
	}
}

func TestReview_StaleSources(t *testing.T) {
	sess := newTestSession(t)
	old := time.Now().UTC().AddDate(0, 0, -90).Format(time.RFC3339)
	id := addEvidence(t, sess, "https://a.com/old", "a.com", old)
	id2 := addEvidence(t, sess, "https://b.com/2", "b.com", "")

	brief := model.NewBrief("goal")
	brief.RecencyDays = 30
	findings := []model.Finding{
		{ID: "f1", Statement: "A claim.", Confidence: model.ConfidenceHigh, EvidenceIDs: []string{id, id2}, Pass: 1},
	}

	result := New(testConfig()).Review(findings, brief, sess)
	if result.Status != model.ReviewNeedsRefresh {
		t.Fatalf("Status = %s, want NEEDS_REFRESH; gaps: %+v", result.Status, result.Gaps)
	}
	var refetch *model.FollowUpTask
	for i := range result.FollowUps {
		if result.FollowUps[i].Action == model.FollowUpRefetch {
			refetch = &result.FollowUps[i]
		}
	}
	if refetch == nil || refetch.URL != "https://a.com/old" {
		t.Fatalf("no refetch follow-up for the stale source: %+v", result.FollowUps)
	}
}

func TestReview_NoFindings(t *testing.T) {
	sess := newTestSession(t)
	addEvidence(t, sess, "https://a.com/1", "a.com", "")
	addEvidence(t, sess, "https://b.com/2", "b.com", "")

	result := New(testConfig()).Review(nil, model.NewBrief("goal"), sess)
	if result.Status != model.ReviewNeedsMoreSource {
		t.Errorf("Status = %s, want NEEDS_MORE_SOURCES", result.Status)
	}
	if result.EvidenceCoverage != 0 {
		t.Errorf("EvidenceCoverage = %f, want 0", result.EvidenceCoverage)
	}
}

// Two findings restating the same claim with different figures must be
// flagged as a contradiction with a follow-up to resolve it.
func TestReview_ContradictedClaim(t *testing.T) {
	sess := newTestSession(t)
	id1 := addEvidence(t, sess, "https://a.com/1", "a.com", "")
	id2 := addEvidence(t, sess, "https://b.com/2", "b.com", "")

	brief := model.NewBrief("service throughput")
	findings := []model.Finding{
		{ID: "f1", Statement: "The service processed 10 million requests per day in 2024.", Confidence: model.ConfidenceMedium, EvidenceIDs: []string{id1}, Pass: 1},
		{ID: "f2", Statement: "The service processed 25 million requests per day in 2024.", Confidence: model.ConfidenceMedium, EvidenceIDs: []string{id2}, Pass: 2},
	}

	result := New(testConfig()).Review(findings, brief, sess)

	var gap *model.Gap
	for i := range result.Gaps {
		if result.Gaps[i].Type == model.GapContradictedClaim {
			gap = &result.Gaps[i]
		}
	}
	if gap == nil {
		t.Fatalf("conflicting figures not flagged: %+v", result.Gaps)
	}
	if gap.Severity != "high" {
		t.Errorf("severity = %q, want high", gap.Severity)
	}
	var followUp *model.FollowUpTask
	for i := range result.FollowUps {
		if result.FollowUps[i].Reason == "resolve conflicting figures" {
			followUp = &result.FollowUps[i]
		}
	}
	if followUp == nil || followUp.Action != model.FollowUpSearch {
		t.Fatalf("no search follow-up for the contradiction: %+v", result.FollowUps)
	}
	if result.Status != model.ReviewNeedsMoreSource {
		t.Errorf("Status = %s, want NEEDS_MORE_SOURCES", result.Status)
	}
}

// A superseded finding no longer participates in contradiction checks.
func TestReview_SupersededFindingNotContradicted(t *testing.T) {
	sess := newTestSession(t)
	id1 := addEvidence(t, sess, "https://a.com/1", "a.com", "")
	id2 := addEvidence(t, sess, "https://b.com/2", "b.com", "")

	brief := model.NewBrief("service throughput")
	findings := []model.Finding{
		{ID: "f1", Statement: "The service processed 10 million requests per day in 2024.", Confidence: model.ConfidenceMedium, EvidenceIDs: []string{id1}, Pass: 1, Superseded: true},
		{ID: "f2", Statement: "The service processed 25 million requests per day in 2024.", Confidence: model.ConfidenceHigh, EvidenceIDs: []string{id2}, Pass: 2},
	}

	result := New(testConfig()).Review(findings, brief, sess)
	for _, g := range result.Gaps {
		if g.Type == model.GapContradictedClaim {
			t.Fatalf("superseded finding flagged as contradiction: %+v", g)
		}
	}
}

// A stale source rendered by the browser escalates back to the browser;
// sending it through the reader again would hit the same script shell.
func TestReview_StaleBrowserSourceEscalates(t *testing.T) {
	sess := newTestSession(t)
	old := time.Now().UTC().AddDate(0, 0, -90).Format(time.RFC3339)
	id := addEvidenceVia(t, sess, "https://app.example.com/dash", "app.example.com", old, model.ProvenanceBrowser)
	id2 := addEvidence(t, sess, "https://b.com/2", "b.com", "")

	brief := model.NewBrief("dashboard metrics")
	brief.RecencyDays = 30
	findings := []model.Finding{
		{ID: "f1", Statement: "A claim.", Confidence: model.ConfidenceHigh, EvidenceIDs: []string{id, id2}, Pass: 1},
	}

	result := New(testConfig()).Review(findings, brief, sess)
	var escalate *model.FollowUpTask
	for i := range result.FollowUps {
		if result.FollowUps[i].Action == model.FollowUpEscalate {
			escalate = &result.FollowUps[i]
		}
	}
	if escalate == nil || escalate.URL != "https://app.example.com/dash" {
		t.Fatalf("no escalate follow-up for the stale browser source: %+v", result.FollowUps)
	}
}

func TestTruncate_MultibyteSafe(t *testing.T) {
	s := strings.Repeat("研", 80)
	got := truncate(s, 60)
	if !utf8.ValidString(got) {
		t.Fatalf("truncate split a rune: %q", got)
	}
	if got != strings.Repeat("研", 60)+"..." {
		t.Errorf("truncate = %q", got)
	}
	if short := truncate("short", 60); short != "short" {
		t.Errorf("truncate(short) = %q", short)
	}
}
