package distill

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/yangwenmai/scout/internal/collector"
	"github.com/yangwenmai/scout/internal/config"
	"github.com/yangwenmai/scout/internal/model"
	"github.com/yangwenmai/scout/internal/session"
	"github.com/yangwenmai/scout/internal/tokens"
)

// similarityThreshold is the word-overlap ratio above which two facts are
// treated as the same claim from different sources.
const similarityThreshold = 0.3

// Distiller synthesizes findings across stored artifacts. Each pass is
// incremental: only artifacts not consumed by an earlier pass are read,
// and an artifact whose extraction fails is left unmarked so the next
// pass retries it.
type Distiller struct {
	cfg       config.Config
	extractor Extractor
	estimator tokens.Estimator
}

// New creates a distiller. A nil extractor or estimator falls back to the
// heuristic implementations.
func New(cfg config.Config, extractor Extractor, estimator tokens.Estimator) *Distiller {
	if extractor == nil {
		extractor = HeuristicExtractor{}
	}
	if estimator == nil {
		estimator = tokens.HeuristicEstimator{}
	}
	return &Distiller{cfg: cfg, extractor: extractor, estimator: estimator}
}

// Outcome summarizes one distillation pass.
type Outcome struct {
	Pass        int
	NewFindings []model.Finding
	Consumed    int
	Failed      int
}

// Run performs one incremental distillation pass over the session's
// artifacts and persists the resulting findings. Findings from earlier
// passes are never edited; a pass only appends.
func (d *Distiller) Run(ctx context.Context, sess *session.Session, brief model.ResearchBrief) (*Outcome, error) {
	distilled, err := sess.Queue.DistilledSet(ctx)
	if err != nil {
		return nil, fmt.Errorf("load distilled set: %w", err)
	}

	var extractions []Extraction
	var consumedIDs []string
	failed := 0
	for _, rec := range sess.Ledger.All() {
		if distilled[rec.ArtifactID] {
			continue
		}
		content, err := sess.Artifacts.Read(rec.ArtifactID)
		if err != nil {
			// One unreadable artifact never sinks the pass; it stays
			// unmarked and is retried next time.
			slog.Warn("skipping artifact in distillation", "artifact_id", rec.ArtifactID, "error", err)
			failed++
			continue
		}
		extractions = append(extractions, d.extractor.Extract(string(content), brief.Goal, rec.ArtifactID, rec.URL))
		consumedIDs = append(consumedIDs, rec.ArtifactID)
	}

	pass, err := d.nextPass(ctx, sess)
	if err != nil {
		return nil, err
	}
	outcome := &Outcome{Pass: pass, Consumed: len(consumedIDs), Failed: failed}
	if len(extractions) == 0 {
		return outcome, nil
	}

	findings := d.synthesize(extractions, sess, pass)
	if err := sess.Queue.AddFindings(ctx, findings); err != nil {
		return nil, fmt.Errorf("persist findings: %w", err)
	}
	for _, id := range consumedIDs {
		if err := sess.Queue.MarkDistilled(ctx, id); err != nil {
			return nil, fmt.Errorf("mark distilled %s: %w", id, err)
		}
	}

	outcome.NewFindings = findings
	slog.Info("distillation pass complete", "pass", pass, "artifacts", len(consumedIDs), "findings", len(findings), "failed", failed)
	return outcome, nil
}

func (d *Distiller) nextPass(ctx context.Context, sess *session.Session) (int, error) {
	existing, err := sess.Queue.Findings(ctx)
	if err != nil {
		return 0, fmt.Errorf("load findings: %w", err)
	}
	pass := 1
	for _, f := range existing {
		if f.Pass >= pass {
			pass = f.Pass + 1
		}
	}
	return pass, nil
}

// synthesize groups similar facts across extractions, derives confidence
// from corroboration and source authority, adds quote findings, and trims
// the batch to the bundle token budget.
func (d *Distiller) synthesize(extractions []Extraction, sess *session.Session, pass int) []model.Finding {
	var findings []model.Finding

	for _, group := range groupSimilarFacts(extractions) {
		if f := d.findingFromGroup(group, sess, pass); f != nil {
			findings = append(findings, *f)
		}
	}

	for _, ex := range extractions {
		for i, quote := range ex.Quotes {
			if i >= 2 {
				break
			}
			if runes := []rune(quote); len(runes) > 150 {
				quote = string(runes[:150])
			}
			findings = append(findings, model.Finding{
				ID:          newFindingID(),
				Statement:   fmt.Sprintf("Source states: %q", quote),
				Confidence:  model.ConfidenceHigh,
				EvidenceIDs: []string{ex.ArtifactID},
				Pass:        pass,
			})
		}
	}

	sort.SliceStable(findings, func(i, j int) bool {
		return confidenceWeight(findings[i].Confidence) > confidenceWeight(findings[j].Confidence)
	})

	// Trim to the bundle budget so distillation output can never exceed
	// what the final bundle may carry.
	budget := d.cfg.BundleTokenBudget
	used := 0
	var kept []model.Finding
	for _, f := range findings {
		cost := d.estimator.Estimate(f.Statement) + 12
		if used+cost > budget {
			continue
		}
		kept = append(kept, f)
		used += cost
	}
	return kept
}

type attributedFact struct {
	fact       string
	artifactID string
}

// groupSimilarFacts clusters facts whose word overlap exceeds the
// similarity threshold, so corroborating sources merge into one claim.
func groupSimilarFacts(extractions []Extraction) [][]attributedFact {
	var all []attributedFact
	for _, ex := range extractions {
		for _, fact := range ex.KeyFacts {
			all = append(all, attributedFact{fact: fact, artifactID: ex.ArtifactID})
		}
	}

	var groups [][]attributedFact
	used := make(map[int]bool)
	for i, first := range all {
		if used[i] {
			continue
		}
		group := []attributedFact{first}
		used[i] = true
		firstWords := wordSet(first.fact)
		for j := i + 1; j < len(all); j++ {
			if used[j] {
				continue
			}
			if overlap(firstWords, wordSet(all[j].fact)) > similarityThreshold {
				group = append(group, all[j])
				used[j] = true
			}
		}
		groups = append(groups, group)
	}
	return groups
}

// findingFromGroup turns a fact group into a finding. Confidence comes
// from the number of distinct corroborating artifacts; a claim supported
// only by sources below the authority floor carries a caveat instead of
// being presented as settled.
func (d *Distiller) findingFromGroup(group []attributedFact, sess *session.Session, pass int) *model.Finding {
	if len(group) == 0 {
		return nil
	}

	ids := make([]string, 0, len(group))
	seen := make(map[string]bool)
	for _, af := range group {
		if !seen[af.artifactID] {
			ids = append(ids, af.artifactID)
			seen[af.artifactID] = true
		}
	}

	confidence := model.ConfidenceLow
	switch {
	case len(ids) >= 3:
		confidence = model.ConfidenceHigh
	case len(ids) >= 2:
		confidence = model.ConfidenceMedium
	}

	f := &model.Finding{
		ID:          newFindingID(),
		Statement:   group[0].fact,
		Confidence:  confidence,
		EvidenceIDs: ids,
		Pass:        pass,
	}
	if d.allLowAuthority(ids, sess) {
		f.Caveat = "supported only by low-authority sources"
		f.Confidence = model.ConfidenceLow
	}
	return f
}

func (d *Distiller) allLowAuthority(artifactIDs []string, sess *session.Session) bool {
	for _, id := range artifactIDs {
		rec, ok := sess.Ledger.Get(id)
		if !ok {
			continue
		}
		if collector.DomainAuthority(rec.Domain) >= d.cfg.MinSourceAuthorityScore {
			return false
		}
	}
	return true
}

func wordSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(s)) {
		set[w] = true
	}
	return set
}

func overlap(a, b map[string]bool) float64 {
	larger := len(a)
	if len(b) > larger {
		larger = len(b)
	}
	if larger == 0 {
		return 0
	}
	common := 0
	for w := range a {
		if b[w] {
			common++
		}
	}
	return float64(common) / float64(larger)
}

func confidenceWeight(c string) int {
	switch c {
	case model.ConfidenceHigh:
		return 3
	case model.ConfidenceMedium:
		return 2
	case model.ConfidenceLow:
		return 1
	}
	return 0
}

func newFindingID() string {
	return "fnd_" + uuid.New().String()[:8]
}
