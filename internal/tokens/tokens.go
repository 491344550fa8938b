// Package tokens provides the token estimation service consumed by the
// orchestrator and distiller when enforcing bundle budgets.
package tokens

// Estimator estimates token counts for a piece of text.
type Estimator interface {
	Estimate(text string) int
}

// HeuristicEstimator approximates tokens as one per four bytes, which is
// close enough for budget projection on English prose.
type HeuristicEstimator struct{}

// Estimate returns the approximate token count for text.
func (HeuristicEstimator) Estimate(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}
