// Package orchestrator drives one research run end to end: collect
// candidate sources, dispatch them to the reader or the browser operator
// through the per-source state machine, distill and review on a fixed
// cadence, re-inject follow-ups while budget remains, and assemble the
// final bundle.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/yangwenmai/scout/internal/artifact"
	"github.com/yangwenmai/scout/internal/browser"
	"github.com/yangwenmai/scout/internal/collector"
	"github.com/yangwenmai/scout/internal/config"
	"github.com/yangwenmai/scout/internal/distill"
	"github.com/yangwenmai/scout/internal/model"
	"github.com/yangwenmai/scout/internal/reader"
	"github.com/yangwenmai/scout/internal/review"
	"github.com/yangwenmai/scout/internal/session"
	"github.com/yangwenmai/scout/internal/tokens"
)

// Orchestrator coordinates the pipeline components over one session.
type Orchestrator struct {
	cfg       config.Config
	sess      *session.Session
	collector *collector.Collector
	reader    *reader.Reader
	operator  *browser.Operator
	distiller *distill.Distiller
	reviewer  *review.Reviewer
	estimator tokens.Estimator
}

// New wires the orchestrator. A nil estimator falls back to the heuristic.
func New(cfg config.Config, sess *session.Session, col *collector.Collector, rdr *reader.Reader, op *browser.Operator, dist *distill.Distiller, rev *review.Reviewer, est tokens.Estimator) *Orchestrator {
	if est == nil {
		est = tokens.HeuristicEstimator{}
	}
	return &Orchestrator{
		cfg:       cfg,
		sess:      sess,
		collector: col,
		reader:    rdr,
		operator:  op,
		distiller: dist,
		reviewer:  rev,
		estimator: est,
	}
}

// Run executes the research loop for the given brief and returns the
// bundle. Component-local failures are recorded on the affected source;
// only an unsatisfiable brief or a total collection failure is terminal.
func (o *Orchestrator) Run(ctx context.Context, brief model.ResearchBrief) (*model.ResearchBundle, error) {
	stored, err := o.sess.Brief(ctx)
	if err != nil {
		return nil, err
	}
	if stored != nil {
		// A resumed session keeps its original brief.
		brief = *stored
	}
	if err := brief.Validate(); err != nil {
		return nil, err
	}
	if len(brief.AllowedDomains) > 0 && len(brief.EffectiveAllowedDomains()) == 0 {
		return nil, fmt.Errorf("%w: allowlist fully cancelled by denylist", model.ErrNoUsableDomains)
	}
	if stored == nil {
		if err := o.sess.SetBrief(ctx, brief); err != nil {
			return nil, err
		}
	}

	if err := o.initialCollect(ctx, brief); err != nil {
		return nil, err
	}

	var lastReview *review.Result
	sinceDistill := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if o.budgetExhausted(brief) {
			break
		}

		dispatched, err := o.dispatchBatch(ctx, brief)
		if err != nil {
			return nil, err
		}
		sinceDistill += dispatched

		drained := dispatched == 0
		if !drained && sinceDistill < o.cfg.DistillEvery {
			continue
		}
		sinceDistill = 0

		lastReview, err = o.distillAndReview(ctx, brief)
		if err != nil {
			return nil, err
		}
		if lastReview.Status == model.ReviewApproved {
			break
		}

		if drained {
			injected, err := o.injectFollowUps(ctx, brief, lastReview.FollowUps)
			if err != nil {
				return nil, err
			}
			if injected == 0 {
				break
			}
		}
	}

	// Budget exhaustion can leave fetched evidence undistilled; fold it
	// into the finding set before assembling.
	if lastReview == nil || (lastReview.Status != model.ReviewApproved && sinceDistill > 0) {
		if lastReview, err = o.distillAndReview(ctx, brief); err != nil {
			return nil, err
		}
	}
	return o.assembleBundle(ctx, brief, lastReview)
}

// initialCollect seeds the queue from the brief. All providers failing
// with nothing already queued is session-fatal.
func (o *Orchestrator) initialCollect(ctx context.Context, brief model.ResearchBrief) error {
	counts, err := o.sess.Queue.CountByStatus(ctx)
	if err != nil {
		return err
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	if total > 0 {
		return nil // resumed session, queue already seeded
	}

	items, err := o.collector.Collect(ctx, brief, nil)
	if err != nil {
		return err
	}
	added, err := o.enqueue(ctx, brief, items)
	if err != nil {
		return err
	}
	slog.Info("seeded source queue", "session_id", o.sess.ID, "enqueued", added)
	return nil
}

func (o *Orchestrator) enqueue(ctx context.Context, brief model.ResearchBrief, items []model.SourceQueueItem) (int, error) {
	added := 0
	for _, item := range items {
		dup, err := o.sess.Queue.HasURL(ctx, item.URL)
		if err != nil {
			return added, err
		}
		if dup {
			continue
		}
		outcome, err := o.sess.Queue.AddSourceCapped(ctx, item, brief.MaxSources)
		if err != nil {
			return added, err
		}
		if outcome != session.EnqueueDropped {
			added++
		}
	}
	return added, nil
}

// budgetExhausted is the pre-step admission check: once max_steps is
// reached or the distilled finding set already fills the bundle token
// budget, no new fetch is dispatched.
func (o *Orchestrator) budgetExhausted(brief model.ResearchBrief) bool {
	if o.sess.Steps() >= int64(brief.MaxSteps) {
		slog.Info("step budget exhausted", "steps", o.sess.Steps(), "max_steps", brief.MaxSteps)
		return true
	}
	if o.sess.Tokens() >= int64(brief.BundleTokenBudget) {
		slog.Info("bundle token budget reached", "tokens", o.sess.Tokens(), "budget", brief.BundleTokenBudget)
		return true
	}
	return false
}

// dispatchBatch claims and processes up to FetchParallelism reader items
// concurrently, then at most one browser item. Browser work is serialized
// because automation drivers are single-session-stateful. Returns how
// many sources were dispatched.
func (o *Orchestrator) dispatchBatch(ctx context.Context, brief model.ResearchBrief) (int, error) {
	dispatched := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.FetchParallelism)
	for i := 0; i < o.cfg.FetchParallelism; i++ {
		if o.sess.Steps()+int64(dispatched) >= int64(brief.MaxSteps) {
			break
		}
		item, err := o.sess.Queue.ClaimNextReader(ctx)
		if err != nil {
			return dispatched, err
		}
		if item == nil {
			break
		}
		dispatched++
		if _, err := o.sess.AddSteps(ctx, 1); err != nil {
			return dispatched, err
		}
		claimed := item
		g.Go(func() error {
			o.processReader(gctx, claimed, brief)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return dispatched, err
	}

	if o.sess.Steps() < int64(brief.MaxSteps) {
		item, err := o.sess.Queue.ClaimNextBrowser(ctx)
		if err != nil {
			return dispatched, err
		}
		if item != nil {
			dispatched++
			if _, err := o.sess.AddSteps(ctx, 1); err != nil {
				return dispatched, err
			}
			o.processBrowser(ctx, item, brief)
		}
	}
	return dispatched, nil
}

// processReader runs one reader fetch and applies the resulting state
// transition. Failures here never propagate; they are recorded on the
// source item.
func (o *Orchestrator) processReader(ctx context.Context, item *model.SourceQueueItem, brief model.ResearchBrief) {
	page, err := o.reader.Read(ctx, item.URL)
	if err != nil {
		o.handleReaderFailure(ctx, item, brief, err)
		return
	}

	if err := o.persistFetch(ctx, item, page.Text, page.Title, page.PublishDate, model.ProvenanceReader, item.MarkRead); err != nil {
		slog.Error("persist reader fetch", "url", item.URL, "error", err)
		o.recordFailure(ctx, item, item.MarkErrored, "persist: "+err.Error())
		return
	}
	slog.Info("source read", "url", item.URL, "words", page.WordCount, "truncated", page.Truncated)
}

func (o *Orchestrator) handleReaderFailure(ctx context.Context, item *model.SourceQueueItem, brief model.ResearchBrief, err error) {
	kind := model.FetchKind(err)
	switch {
	case kind == model.KindNeedsScript:
		// Escalation signal, not a failure: no retry is consumed.
		if brief.ModePreference == model.ModeReaderOnly {
			o.recordFailure(ctx, item, item.MarkErrored, "requires script execution but browser mode is disabled")
			return
		}
		if terr := item.Transition(model.StatusBrowserNeeded); terr != nil {
			slog.Error("escalate source", "url", item.URL, "error", terr)
			return
		}
		item.ErrorMessage = "requires script execution"
		o.update(ctx, item)
		slog.Info("source escalated to browser", "url", item.URL, "reason", "needs_script")

	case kind == model.KindNonText || kind == model.KindDenied:
		o.recordFailure(ctx, item, item.MarkErrored, err.Error())

	case ctx.Err() != nil:
		// Cancelled in flight: back to the queue, never lost.
		if rerr := item.Requeue("cancelled: " + err.Error()); rerr != nil {
			slog.Error("requeue cancelled source", "url", item.URL, "error", rerr)
			return
		}
		o.update(ctx, item)

	default:
		// Transient failure consumes a retry. Reaching the escalation
		// count moves the source to browser mode, not ERRORED.
		if item.RetryCount+1 >= o.cfg.ReaderFailEscalationCount {
			if brief.ModePreference == model.ModeReaderOnly {
				o.recordFailure(ctx, item, item.MarkErrored, err.Error())
				return
			}
			item.RetryCount++
			if terr := item.Transition(model.StatusBrowserNeeded); terr != nil {
				slog.Error("escalate source", "url", item.URL, "error", terr)
				return
			}
			item.ErrorMessage = err.Error()
			o.update(ctx, item)
			slog.Info("source escalated to browser", "url", item.URL, "reason", "retries_exhausted", "retries", item.RetryCount)
			return
		}
		if rerr := item.Requeue(err.Error()); rerr != nil {
			slog.Error("requeue source", "url", item.URL, "error", rerr)
			return
		}
		o.update(ctx, item)
	}
}

// processBrowser runs one browser render. A budget-exhausted signal
// rejects this and every other source still waiting on the browser.
func (o *Orchestrator) processBrowser(ctx context.Context, item *model.SourceQueueItem, brief model.ResearchBrief) {
	result, err := o.operator.Render(ctx, item.URL)
	if err != nil {
		if errors.Is(err, model.ErrBrowserBudget) {
			o.recordFailure(ctx, item, item.MarkRejected, "browser budget exhausted")
			o.rejectRemainingBrowserWork(ctx)
			return
		}
		if ctx.Err() != nil {
			if rerr := item.Requeue("cancelled: " + err.Error()); rerr == nil {
				o.update(ctx, item)
			}
			return
		}
		o.recordFailure(ctx, item, item.MarkErrored, err.Error())
		return
	}

	if err := o.persistFetch(ctx, item, result.Text, result.Title, item.PublishDate, model.ProvenanceBrowser, item.MarkBrowsed); err != nil {
		slog.Error("persist browser fetch", "url", item.URL, "error", err)
		o.recordFailure(ctx, item, item.MarkErrored, "persist: "+err.Error())
		return
	}
	slog.Info("source browsed", "url", item.URL, "actions", result.ActionsTaken)
}

// rejectRemainingBrowserWork marks every source still waiting on browser
// mode REJECTED once the budget is gone, instead of leaving them to rot
// in the queue.
func (o *Orchestrator) rejectRemainingBrowserWork(ctx context.Context) {
	items, err := o.sess.Queue.ListSources(ctx, model.StatusBrowserNeeded, model.StatusQueued)
	if err != nil {
		slog.Error("list browser work", "error", err)
		return
	}
	for i := range items {
		item := &items[i]
		if item.Status == model.StatusQueued && item.Mode != model.ModeBrowserRequire {
			continue
		}
		if err := item.MarkRejected("browser budget exhausted"); err != nil {
			continue
		}
		o.update(ctx, item)
	}
}

// persistFetch stores the fetched text as an artifact, appends the
// evidence record, and applies the success transition. The artifact and
// ledger writes are durable before the queue item is marked done, so a
// crash in between re-fetches at worst, never losing the evidence link.
func (o *Orchestrator) persistFetch(ctx context.Context, item *model.SourceQueueItem, text, title, publishDate, provenance string, mark func(string) error) error {
	tool := "page_reader"
	if provenance == model.ProvenanceBrowser {
		tool = "browser_operator"
	}
	meta, err := o.sess.Artifacts.Write([]byte(text), artifact.WriteOptions{
		SourceURL:   item.URL,
		ContentType: "text/plain",
		Title:       title,
		Tool:        tool,
		PublishDate: publishDate,
	})
	if err != nil {
		return err
	}

	rec := model.NewEvidenceRecord(meta.ArtifactID, item.URL, item.Domain, provenance)
	rec.Title = title
	rec.PublishDate = publishDate
	rec.Excerpt = excerpt(text)
	if err := o.sess.Ledger.Append(rec); err != nil {
		return err
	}

	if err := mark(meta.ArtifactID); err != nil {
		return err
	}
	o.update(ctx, item)
	return nil
}

func (o *Orchestrator) recordFailure(ctx context.Context, item *model.SourceQueueItem, mark func(string) error, msg string) {
	if err := mark(msg); err != nil {
		slog.Error("record source failure", "url", item.URL, "error", err)
		return
	}
	o.update(ctx, item)
}

func (o *Orchestrator) update(ctx context.Context, item *model.SourceQueueItem) {
	if err := o.sess.Queue.UpdateSource(ctx, *item); err != nil {
		slog.Error("update source", "url", item.URL, "error", err)
	}
}

// distillAndReview runs a serialized distill pass over the evidence
// snapshot, charges the new findings against the token budget, and
// reviews the full finding set.
func (o *Orchestrator) distillAndReview(ctx context.Context, brief model.ResearchBrief) (*review.Result, error) {
	outcome, err := o.distiller.Run(ctx, o.sess, brief)
	if err != nil {
		return nil, err
	}
	if cost := findingsCost(outcome.NewFindings, o.estimator); cost > 0 {
		if _, err := o.sess.AddTokens(ctx, int64(cost)); err != nil {
			return nil, err
		}
	}

	findings, err := o.sess.Queue.Findings(ctx)
	if err != nil {
		return nil, err
	}
	result := o.reviewer.Review(findings, brief, o.sess)
	slog.Info("review complete", "status", result.Status, "gaps", len(result.Gaps), "coverage", result.EvidenceCoverage)
	return result, nil
}

// injectFollowUps turns reviewer follow-ups into new queue items: search
// tasks go back through the collector, refetch tasks supersede the stale
// findings and enqueue a fresh item, escalate tasks enqueue a
// browser-required item.
func (o *Orchestrator) injectFollowUps(ctx context.Context, brief model.ResearchBrief, tasks []model.FollowUpTask) (int, error) {
	injected := 0
	for _, task := range tasks {
		switch task.Action {
		case model.FollowUpSearch:
			items, err := o.collector.Collect(ctx, brief, []string{task.Query})
			if err != nil {
				if errors.Is(err, model.ErrAllProvidersFailed) {
					slog.Warn("follow-up search failed", "query", task.Query, "error", err)
					continue
				}
				return injected, err
			}
			added, err := o.enqueue(ctx, brief, items)
			if err != nil {
				return injected, err
			}
			injected += added

		case model.FollowUpRefetch:
			added, err := o.enqueueRefetch(ctx, brief, task.URL, brief.ModePreference)
			if err != nil {
				return injected, err
			}
			injected += added

		case model.FollowUpEscalate:
			added, err := o.enqueueRefetch(ctx, brief, task.URL, model.ModeBrowserRequire)
			if err != nil {
				return injected, err
			}
			injected += added
		}
	}
	if injected > 0 {
		slog.Info("re-injected follow-up work", "tasks", len(tasks), "enqueued", injected)
	}
	return injected, nil
}

// enqueueRefetch creates a fresh queue item for a URL that was already
// processed, superseding findings backed by the old artifact. A re-fetch
// never transitions the old item; it is a new item by design.
func (o *Orchestrator) enqueueRefetch(ctx context.Context, brief model.ResearchBrief, url, mode string) (int, error) {
	if url == "" {
		return 0, nil
	}
	for _, rec := range o.sess.Ledger.All() {
		if rec.URL == url {
			if err := o.sess.Queue.SupersedeByEvidence(ctx, rec.ArtifactID); err != nil {
				return 0, err
			}
		}
	}
	item := model.NewSource(uuid.New().String(), url, collector.SearchResult{URL: url}.Domain(), mode)
	item.RankScore = 0.5
	outcome, err := o.sess.Queue.AddSourceCapped(ctx, item, brief.MaxSources)
	if err != nil {
		return 0, err
	}
	if outcome == session.EnqueueDropped {
		return 0, nil
	}
	return 1, nil
}

// assembleBundle builds the final output from the current findings and
// evidence. On budget exhaustion with gaps still open the bundle is
// annotated INCONCLUSIVE with the gaps listed, never silently truncated.
func (o *Orchestrator) assembleBundle(ctx context.Context, brief model.ResearchBrief, last *review.Result) (*model.ResearchBundle, error) {
	findings, err := o.sess.Queue.Findings(ctx)
	if err != nil {
		return nil, err
	}

	bundle := model.NewBundle(o.sess.ID)
	bundle.Status = last.Status
	if last.Status != model.ReviewApproved && o.budgetExhausted(brief) {
		bundle.Status = model.ReviewInconclusive
	}
	if bundle.Status != model.ReviewApproved {
		bundle.OpenGaps = last.Gaps
	}

	// Trim to the token budget, highest confidence first; findings are
	// already ordered by pass and the distiller sorts within a pass.
	budget := brief.BundleTokenBudget
	used := 0
	for _, f := range findings {
		cost := o.estimator.Estimate(f.Statement) + 12
		if used+cost > budget {
			continue
		}
		bundle.Findings = append(bundle.Findings, f)
		used += cost
	}

	bundle.Citations = o.citations(bundle.Findings)
	bundle.ExecutiveSummary = o.executiveSummary(brief, &bundle)
	bundle.TokenEstimate = used + o.estimator.Estimate(bundle.ExecutiveSummary)

	slog.Info("bundle assembled",
		"session_id", o.sess.ID,
		"status", bundle.Status,
		"findings", len(bundle.Findings),
		"citations", len(bundle.Citations),
		"token_estimate", bundle.TokenEstimate,
	)
	return &bundle, nil
}

// citations resolves every evidence id referenced by the kept findings to
// a deduplicated citation list in ledger order.
func (o *Orchestrator) citations(findings []model.Finding) []model.Citation {
	referenced := make(map[string]bool)
	for _, f := range findings {
		for _, id := range f.EvidenceIDs {
			referenced[id] = true
		}
	}

	var out []model.Citation
	for _, rec := range o.sess.Ledger.All() {
		if !referenced[rec.ArtifactID] {
			continue
		}
		out = append(out, model.Citation{
			ArtifactID:  rec.ArtifactID,
			URL:         rec.URL,
			Title:       rec.Title,
			PublishDate: rec.PublishDate,
			Provenance:  rec.Provenance,
		})
	}
	return out
}

func (o *Orchestrator) executiveSummary(brief model.ResearchBrief, bundle *model.ResearchBundle) string {
	goal := brief.Goal
	if runes := []rune(goal); len(runes) > 100 {
		goal = string(runes[:100])
	}
	high := 0
	for _, f := range bundle.Findings {
		if f.Confidence == model.ConfidenceHigh {
			high++
		}
	}
	summary := fmt.Sprintf("Research on: %s. Consulted %d sources from %d domains. Found %d findings (%d high confidence).",
		goal, o.sess.Ledger.Count(), len(o.sess.Ledger.UniqueDomains()), len(bundle.Findings), high)
	if bundle.Status == model.ReviewInconclusive {
		summary += fmt.Sprintf(" Budget exhausted with %d gaps open.", len(bundle.OpenGaps))
	}
	return summary
}

func findingsCost(findings []model.Finding, est tokens.Estimator) int {
	total := 0
	for _, f := range findings {
		total += est.Estimate(f.Statement) + 12
	}
	return total
}

func excerpt(text string) string {
	if runes := []rune(text); len(runes) > 200 {
		return string(runes[:200])
	}
	return text
}
