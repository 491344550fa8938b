package collector

import "strings"

// domainAuthorityScores ranks known domains; higher is more
// authoritative. Unknown domains default to 0.5.
var domainAuthorityScores = map[string]float64{
	// Official/documentation sites
	"docs.python.org":       0.95,
	"developer.mozilla.org": 0.95,
	"docs.microsoft.com":    0.90,
	"cloud.google.com":      0.90,
	"aws.amazon.com":        0.90,
	"docs.github.com":       0.90,

	// Academic/research
	"arxiv.org":               0.95,
	"scholar.google.com":      0.90,
	"pubmed.ncbi.nlm.nih.gov": 0.95,

	// News/tech
	"techcrunch.com":  0.70,
	"theverge.com":    0.65,
	"arstechnica.com": 0.75,
	"wired.com":       0.70,

	// Q&A
	"stackoverflow.com": 0.80,
	"superuser.com":     0.75,

	// Wikipedia
	"en.wikipedia.org": 0.80,
	"wikipedia.org":    0.75,

	// GitHub
	"github.com": 0.80,
}

// DomainAuthority returns the authority score for a domain, matching
// subdomains of known entries, with a 0.5 default.
func DomainAuthority(domain string) float64 {
	domain = strings.ToLower(domain)
	if score, ok := domainAuthorityScores[domain]; ok {
		return score
	}
	for known, score := range domainAuthorityScores {
		if strings.HasSuffix(domain, "."+known) || strings.Contains(domain, known) {
			return score
		}
	}
	return 0.5
}
