package dedupe

import (
	"regexp"
	"strings"
)

const (
	metricBoost          = 2.0
	keywordBoostPerHit   = 0.5
	maxToolHits          = 3
	maxRegulatoryHits    = 2
	metricBonus          = 1.0
	sourceCountWeight    = 2.0
	prioritySimilarity   = 5.0
	averageSimilarityDPs = 1000.0
)

var (
	metricPattern = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?\s?%|[$€£]\s?\d[\d,]*(?:\.\d+)?(?:\s?(?:k|m|mm|b|bn|thousand|million|billion)\b)?|\b\d+(?:\.\d+)?x\b|\b(?:doubled|tripled|quadrupled|halved)\b)`)
	numberPattern = regexp.MustCompile(`(?i)[$€£]?\d[\d,]*(?:\.\d+)?(?:%|[kmbx]\b)?`)
)

// ToolKeywords are technologies and business tools that make a bullet concrete.
var ToolKeywords = []string{
	"python", "java", "javascript", "typescript", "golang", "rust", "c++", "c#",
	"sql", "postgresql", "mysql", "mongodb", "redis", "kafka", "spark", "airflow",
	"snowflake", "databricks", "aws", "azure", "gcp", "docker", "kubernetes",
	"terraform", "ansible", "jenkins", "ci/cd", "github actions", "react", "angular",
	"vue", "node.js", "django", "flask", "graphql", "tableau", "power bi", "looker",
	"excel", "salesforce", "hubspot", "jira", "confluence", "figma", "sap", "netsuite",
	"quickbooks", "workday", "pytorch", "tensorflow", "scikit-learn",
}

// RegulatoryKeywords are compliance regimes worth surfacing in regulated industries.
var RegulatoryKeywords = []string{
	"hipaa", "gdpr", "ccpa", "sox", "sarbanes-oxley", "pci", "pci-dss", "soc 2",
	"soc2", "iso 27001", "fedramp", "fisma", "nist", "ferpa", "fda", "gxp", "glba",
	"finra", "aml", "kyc", "osha", "basel iii", "mifid",
}

var (
	toolMatchers       = compileKeywords(ToolKeywords)
	regulatoryMatchers = compileKeywords(RegulatoryKeywords)
)

type keywordMatcher struct {
	keyword string
	re      *regexp.Regexp
}

// compileKeywords builds matchers that treat any non-alphanumeric rune as a
// boundary, so keywords like "c++" and "ci/cd" match where \b would not.
func compileKeywords(keywords []string) []keywordMatcher {
	out := make([]keywordMatcher, 0, len(keywords))
	for _, kw := range keywords {
		pattern := `(?:^|[^a-z0-9])` + regexp.QuoteMeta(kw) + `(?:$|[^a-z0-9])`
		out = append(out, keywordMatcher{keyword: kw, re: regexp.MustCompile(pattern)})
	}
	return out
}

// Signals are the content-derived features used for scoring and merge gating.
type Signals struct {
	HasMetric      bool     `json:"hasMetric"`
	ToolHits       []string `json:"toolHits"`
	RegulatoryHits []string `json:"regulatoryHits"`
	NumericTokens  []string `json:"numericTokens"`
	ContentBoost   float64  `json:"contentBoost"`
}

// AnalyzeContent extracts scoring signals from bullet text.
func AnalyzeContent(content string) Signals {
	lower := strings.ToLower(content)
	signals := Signals{
		HasMetric:      metricPattern.MatchString(content),
		ToolHits:       matchKeywords(lower, toolMatchers),
		RegulatoryHits: matchKeywords(lower, regulatoryMatchers),
		NumericTokens:  extractNumericTokens(lower),
	}

	boost := 0.0
	if signals.HasMetric {
		boost += metricBoost
	}
	boost += keywordBoostPerHit * float64(min(len(signals.ToolHits), maxToolHits))
	boost += keywordBoostPerHit * float64(min(len(signals.RegulatoryHits), maxRegulatoryHits))
	signals.ContentBoost = boost
	return signals
}

func matchKeywords(lower string, matchers []keywordMatcher) []string {
	var hits []string
	for _, m := range matchers {
		if m.re.MatchString(lower) {
			hits = append(hits, m.keyword)
		}
	}
	return hits
}

func extractNumericTokens(lower string) []string {
	raw := numberPattern.FindAllString(lower, -1)
	if len(raw) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, token := range raw {
		token = strings.NewReplacer("$", "", "€", "", "£", "", "%", "", ",", "").Replace(token)
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		if _, ok := seen[token]; ok {
			continue
		}
		seen[token] = struct{}{}
		out = append(out, token)
	}
	return out
}
