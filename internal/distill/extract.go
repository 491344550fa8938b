// Package distill turns stored artifacts into cited findings. Extraction
// is a narrow capability interface so the heuristic implementation can be
// swapped for a model-backed one without touching the distiller.
package distill

import (
	"regexp"
	"strings"
)

// Extraction is the structured information pulled from one artifact.
type Extraction struct {
	ArtifactID string
	SourceURL  string

	KeyFacts []string
	Quotes   []string
	Entities []string

	TopicRelevance     float64
	InformationDensity float64
}

// Extractor pulls key facts, quotes and entities from artifact text.
type Extractor interface {
	Extract(text, goal, artifactID, sourceURL string) Extraction
}

// HeuristicExtractor extracts information with pattern matching: factual
// indicator sentences, quoted spans, capitalized-phrase entities, keyword
// relevance against the goal, and a facts-per-100-words density score.
type HeuristicExtractor struct{}

// factIndicators mark sentences likely to carry a factual claim.
var factIndicators = []*regexp.Regexp{
	regexp.MustCompile(`\b\d+%`),
	regexp.MustCompile(`\$[\d,]+`),
	regexp.MustCompile(`\b\d{4}\b`),
	regexp.MustCompile(`(?i)\b(according to|research shows|studies indicate|data shows)\b`),
	regexp.MustCompile(`(?i)\b(announced|released|launched|introduced)\b`),
	regexp.MustCompile(`(?i)\b(increased|decreased|grew|declined)\b`),
}

var (
	sentenceSplit = regexp.MustCompile(`[.!?]+`)
	quotedSpan    = regexp.MustCompile(`"([^"]{20,200})"`)
	entityPhrase  = regexp.MustCompile(`\b([A-Z][a-z]+(?:\s+[A-Z][a-z]+)+)\b`)
	goalKeyword   = regexp.MustCompile(`\b\w{4,}\b`)
)

func (HeuristicExtractor) Extract(text, goal, artifactID, sourceURL string) Extraction {
	facts := extractKeyFacts(text)
	quotes := extractQuotes(text)

	ex := Extraction{
		ArtifactID:         artifactID,
		SourceURL:          sourceURL,
		KeyFacts:           capList(facts, 10),
		Quotes:             capList(quotes, 5),
		Entities:           capList(extractEntities(text), 20),
		TopicRelevance:     0.5,
		InformationDensity: density(text, len(facts)+len(quotes)),
	}
	if goal != "" {
		ex.TopicRelevance = relevance(text, goal)
	}
	return ex
}

func extractKeyFacts(text string) []string {
	var facts []string
	for _, sentence := range sentenceSplit.Split(text, -1) {
		sentence = strings.TrimSpace(sentence)
		if len(sentence) < 20 || len(sentence) > 300 {
			continue
		}
		for _, indicator := range factIndicators {
			if indicator.MatchString(sentence) {
				facts = append(facts, sentence)
				break
			}
		}
	}
	return facts
}

func extractQuotes(text string) []string {
	var quotes []string
	for _, m := range quotedSpan.FindAllStringSubmatch(text, -1) {
		quotes = append(quotes, m[1])
	}
	return quotes
}

func extractEntities(text string) []string {
	var entities []string
	seen := make(map[string]bool)
	for _, m := range entityPhrase.FindAllStringSubmatch(text, -1) {
		entity := m[1]
		if len(entity) > 3 && !seen[entity] {
			entities = append(entities, entity)
			seen[entity] = true
		}
	}
	return entities
}

// relevance is the fraction of the goal's keywords present in the text.
func relevance(text, goal string) float64 {
	textLower := strings.ToLower(text)
	words := goalKeyword.FindAllString(strings.ToLower(goal), -1)
	unique := make(map[string]bool)
	for _, w := range words {
		unique[w] = true
	}
	if len(unique) == 0 {
		return 0.5
	}
	matches := 0
	for w := range unique {
		if strings.Contains(textLower, w) {
			matches++
		}
	}
	r := float64(matches) / float64(len(unique))
	if r > 1.0 {
		r = 1.0
	}
	return r
}

// density scores information items per 100 words, normalized to [0,1].
func density(text string, infoItems int) float64 {
	wordCount := len(strings.Fields(text))
	if wordCount == 0 {
		return 0
	}
	d := float64(infoItems) / float64(wordCount) * 100 / 5
	if d > 1.0 {
		d = 1.0
	}
	return d
}

func capList(items []string, max int) []string {
	if len(items) > max {
		return items[:max]
	}
	return items
}
