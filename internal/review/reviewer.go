// Package review evaluates the current finding set against the brief's
// required outputs and quality gates. The reviewer never fetches or
// distills; it only reads existing evidence and findings and emits gaps
// with concrete follow-up tasks.
package review

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"github.com/yangwenmai/scout/internal/config"
	"github.com/yangwenmai/scout/internal/model"
	"github.com/yangwenmai/scout/internal/session"
)

// Result is the outcome of one review pass.
type Result struct {
	Status string

	Gaps      []model.Gap
	FollowUps []model.FollowUpTask

	EvidenceCoverage float64
	SourceDiversity  float64
	ConfidenceDist   map[string]int
	Summary          string
}

// Reviewer applies the configured quality gates.
type Reviewer struct {
	cfg config.Config
}

// New creates a reviewer.
func New(cfg config.Config) *Reviewer {
	return &Reviewer{cfg: cfg}
}

// Review evaluates findings against the brief. Each gap is paired with a
// follow-up task the orchestrator can re-inject through the collector.
func (r *Reviewer) Review(findings []model.Finding, brief model.ResearchBrief, sess *session.Session) *Result {
	var gaps []model.Gap
	var followUps []model.FollowUpTask

	addGap := func(gap model.Gap, task model.FollowUpTask) {
		gaps = append(gaps, gap)
		followUps = append(followUps, task)
	}

	if r.cfg.CitationRequired {
		for _, f := range findings {
			if cited(f, sess) {
				continue
			}
			target := coveredOutput(f, brief)
			query := brief.Goal
			if target != "" {
				query = brief.Goal + " " + target
			}
			addGap(model.Gap{
				Type:        model.GapMissingCitation,
				Description: fmt.Sprintf("finding %q has no resolvable citation", truncate(f.Statement, 60)),
				Severity:    "high",
				Target:      target,
			}, model.FollowUpTask{
				Action: model.FollowUpSearch,
				Query:  query,
				Reason: "re-source an uncited claim",
			})
		}
	}

	for _, output := range brief.RequiredOutputs {
		if outputCovered(output, findings) {
			continue
		}
		addGap(model.Gap{
			Type:        model.GapMissingOutput,
			Description: "required output not covered: " + output,
			Severity:    "high",
			Target:      output,
		}, model.FollowUpTask{
			Action: model.FollowUpSearch,
			Query:  brief.Goal + " " + output,
			Reason: "cover required output " + output,
		})
	}

	domains := sess.Ledger.UniqueDomains()
	if len(domains) < r.cfg.SourceDiversityMinDomains {
		addGap(model.Gap{
			Type:        model.GapInsufficientDiversity,
			Description: fmt.Sprintf("%d domains consulted, %d required", len(domains), r.cfg.SourceDiversityMinDomains),
			Severity:    "medium",
		}, model.FollowUpTask{
			Action: model.FollowUpSearch,
			Query:  brief.Goal,
			Reason: "broaden domain coverage",
		})
	}

	r.checkContradictions(findings, brief, addGap)

	staleGaps := r.checkStaleness(brief, sess, addGap)

	if len(findings) == 0 {
		addGap(model.Gap{
			Type:        model.GapLowConfidence,
			Description: "no findings distilled from evidence",
			Severity:    "high",
		}, model.FollowUpTask{
			Action: model.FollowUpSearch,
			Query:  brief.Goal,
			Reason: "no usable findings yet",
		})
	} else if high := countConfidence(findings, model.ConfidenceHigh); float64(high)/float64(len(findings)) < 0.2 {
		gaps = append(gaps, model.Gap{
			Type:        model.GapLowConfidence,
			Description: fmt.Sprintf("only %d of %d findings are high confidence", high, len(findings)),
			Severity:    "medium",
		})
	}

	result := &Result{
		Status:           statusFor(gaps, staleGaps),
		Gaps:             gaps,
		FollowUps:        followUps,
		EvidenceCoverage: coverage(brief, findings),
		SourceDiversity:  diversity(len(domains), r.cfg.SourceDiversityMinDomains),
		ConfidenceDist:   confidenceDist(findings),
	}
	result.Summary = summarize(findings, sess.Ledger.Count(), result)
	return result
}

// checkStaleness flags evidence older than the recency window and returns
// how many stale gaps were added.
func (r *Reviewer) checkStaleness(brief model.ResearchBrief, sess *session.Session, addGap func(model.Gap, model.FollowUpTask)) int {
	thresholdDays := brief.RecencyDays
	if thresholdDays == 0 {
		thresholdDays = r.cfg.RecencyThresholdDays
	}
	if thresholdDays == 0 {
		return 0
	}

	stale := 0
	for _, rec := range sess.Ledger.All() {
		if rec.PublishDate == "" {
			continue
		}
		if !olderThanDays(rec.PublishDate, thresholdDays) {
			continue
		}
		stale++
		// A browser-rendered source needs the browser again to refresh;
		// a plain refetch would route it through the reader.
		task := model.FollowUpTask{
			Action: model.FollowUpRefetch,
			URL:    rec.URL,
			Reason: "refresh a stale source",
		}
		if rec.Provenance == model.ProvenanceBrowser {
			task.Action = model.FollowUpEscalate
			task.Reason = "re-render a stale script-dependent source"
		}
		addGap(model.Gap{
			Type:        model.GapStaleSource,
			Description: fmt.Sprintf("source %s published before the %d-day window", rec.URL, thresholdDays),
			Severity:    "medium",
			Target:      rec.URL,
		}, task)
	}
	return stale
}

var numberPattern = regexp.MustCompile(`\d[\d,.]*%?`)

// checkContradictions flags pairs of findings that largely restate each
// other but disagree on the figures they carry. Same-pass findings are
// merged by the distiller, so conflicts surface across passes, typically
// after a refetch brings in updated numbers.
func (r *Reviewer) checkContradictions(findings []model.Finding, brief model.ResearchBrief, addGap func(model.Gap, model.FollowUpTask)) {
	for i := 0; i < len(findings); i++ {
		if findings[i].Superseded {
			continue
		}
		for j := i + 1; j < len(findings); j++ {
			if findings[j].Superseded {
				continue
			}
			if !conflictingClaims(findings[i].Statement, findings[j].Statement) {
				continue
			}
			addGap(model.Gap{
				Type:        model.GapContradictedClaim,
				Description: fmt.Sprintf("findings %s and %s agree in wording but disagree on figures", findings[i].ID, findings[j].ID),
				Severity:    "high",
				Target:      truncate(findings[i].Statement, 60),
			}, model.FollowUpTask{
				Action: model.FollowUpSearch,
				Query:  brief.Goal + " " + truncate(findings[i].Statement, 40),
				Reason: "resolve conflicting figures",
			})
		}
	}
}

// conflictingClaims reports whether two statements share most of their
// wording while carrying different numbers.
func conflictingClaims(a, b string) bool {
	na := numberPattern.FindAllString(a, -1)
	nb := numberPattern.FindAllString(b, -1)
	if len(na) == 0 || len(nb) == 0 || sameStrings(na, nb) {
		return false
	}
	return wordOverlap(a, b) > 0.4
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	counts := make(map[string]int, len(a))
	for _, s := range a {
		counts[s]++
	}
	for _, s := range b {
		counts[s]--
		if counts[s] < 0 {
			return false
		}
	}
	return true
}

func wordOverlap(a, b string) float64 {
	wa := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(a)) {
		wa[w] = true
	}
	wb := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(b)) {
		wb[w] = true
	}
	larger := len(wa)
	if len(wb) > larger {
		larger = len(wb)
	}
	if larger == 0 {
		return 0
	}
	common := 0
	for w := range wa {
		if wb[w] {
			common++
		}
	}
	return float64(common) / float64(larger)
}

// statusFor maps gaps to a review status: high-severity gaps demand more
// sources, staleness alone demands a refresh, minor gaps still approve.
// INCONCLUSIVE is assigned by the orchestrator on budget exhaustion, never
// here.
func statusFor(gaps []model.Gap, staleCount int) string {
	high := 0
	for _, g := range gaps {
		if g.Severity == "high" {
			high++
		}
	}
	switch {
	case high > 0:
		return model.ReviewNeedsMoreSource
	case staleCount > 0:
		return model.ReviewNeedsRefresh
	default:
		return model.ReviewApproved
	}
}

// cited reports whether a finding's citations all resolve: at least one
// evidence id, each present in the ledger and backed by a stored artifact.
func cited(f model.Finding, sess *session.Session) bool {
	if len(f.EvidenceIDs) == 0 {
		return false
	}
	for _, id := range f.EvidenceIDs {
		if _, ok := sess.Ledger.Get(id); !ok {
			return false
		}
		if _, ok := sess.Artifacts.Get(id); !ok {
			return false
		}
	}
	return true
}

func outputCovered(output string, findings []model.Finding) bool {
	needle := strings.ToLower(output)
	for _, f := range findings {
		if strings.Contains(strings.ToLower(f.Statement), needle) {
			return true
		}
	}
	return false
}

// coveredOutput returns the first required output a finding mentions.
func coveredOutput(f model.Finding, brief model.ResearchBrief) string {
	statement := strings.ToLower(f.Statement)
	for _, output := range brief.RequiredOutputs {
		if strings.Contains(statement, strings.ToLower(output)) {
			return output
		}
	}
	return ""
}

func coverage(brief model.ResearchBrief, findings []model.Finding) float64 {
	if len(brief.RequiredOutputs) == 0 {
		if len(findings) > 0 {
			return 1.0
		}
		return 0.0
	}
	covered := 0
	for _, output := range brief.RequiredOutputs {
		if outputCovered(output, findings) {
			covered++
		}
	}
	return float64(covered) / float64(len(brief.RequiredOutputs))
}

func diversity(domains, min int) float64 {
	if min == 0 {
		return 1.0
	}
	d := float64(domains) / float64(min)
	if d > 1.0 {
		d = 1.0
	}
	return d
}

func confidenceDist(findings []model.Finding) map[string]int {
	dist := map[string]int{
		model.ConfidenceHigh:   0,
		model.ConfidenceMedium: 0,
		model.ConfidenceLow:    0,
	}
	for _, f := range findings {
		dist[f.Confidence]++
	}
	return dist
}

func countConfidence(findings []model.Finding, level string) int {
	n := 0
	for _, f := range findings {
		if f.Confidence == level {
			n++
		}
	}
	return n
}

func summarize(findings []model.Finding, evidenceCount int, result *Result) string {
	parts := []string{
		fmt.Sprintf("Reviewed %d findings from %d sources.", len(findings), evidenceCount),
		fmt.Sprintf("Evidence coverage: %.0f%%.", result.EvidenceCoverage*100),
	}
	if len(result.Gaps) > 0 {
		high := 0
		for _, g := range result.Gaps {
			if g.Severity == "high" {
				high++
			}
		}
		parts = append(parts, fmt.Sprintf("Found %d gaps (%d high severity).", len(result.Gaps), high))
	} else {
		parts = append(parts, "All quality gates passed.")
	}
	return strings.Join(parts, " ")
}

func olderThanDays(publishDate string, days int) bool {
	t, err := dateparse.ParseAny(publishDate)
	if err != nil {
		return false
	}
	return time.Since(t) > time.Duration(days)*24*time.Hour
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
