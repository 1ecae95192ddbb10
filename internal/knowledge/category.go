package knowledge

import "regexp"

// CategoryGeneral is the fallback category when no rule matches.
const CategoryGeneral = "General"

// maxClassifyLength bounds classifier input to keep regex matching cheap on
// pathological inputs.
const maxClassifyLength = 10000

// categoryRule pairs a compiled regex with the category it detects and a
// base confidence on the stored 0-100 scale. Rules are evaluated in order;
// the first match wins.
type categoryRule struct {
	regex      *regexp.Regexp
	category   string
	confidence int
}

// categoryRules are ordered most-specific first to avoid shadowing.
// All patterns are case-insensitive.
var categoryRules = []categoryRule{
	{
		regex:      regexp.MustCompile(`(?i)\b(?:vulnerab|CVE-\d|OWASP|injection|XSS|CSRF|auth(?:entication|orization)|secrets?\s+(?:leak|expos)|SQL\s+inject|credential|path\s+travers)`),
		category:   "Security",
		confidence: 90,
	},
	{
		regex:      regexp.MustCompile(`(?i)\b(?:(?:go|npm|yarn|pip|cargo|make|docker|kubectl|helm|terraform)\s+(?:run|build|install|test|deploy|start|exec|apply)|localhost:\d+|port\s+\d+|\.env\b|Dockerfile|docker-compose|env(?:ironment)?\s+var)`),
		category:   "Operations",
		confidence: 85,
	},
	{
		regex:      regexp.MustCompile(`(?i)\b(?:root\s+cause|stack\s*trace|panic|segfault|deadlock|race\s+condition|goroutine\s+leak|nil\s+pointer)\b`),
		category:   "Debugging",
		confidence: 85,
	},
	{
		regex:      regexp.MustCompile(`(?i)\b(?:design\s+(?:decision|pattern|choice)|interface\s+(?:design|contract|boundary)|module\s+(?:boundary|structure)|separation\s+of\s+concerns|(?:domain|clean|hexagonal|layered)\s+architecture)`),
		category:   "Architecture",
		confidence: 85,
	},
	{
		regex:      regexp.MustCompile(`(?i)\b(?:unit\s+test|integration\s+test|table[-\s]driven|test\s+coverage|mock|fixture|assert(?:ion)?s?)\b`),
		category:   "Testing",
		confidence: 80,
	},
	{
		regex:      regexp.MustCompile(`(?i)\b(?:error|bug|fix|workaround|regression|crash|timeout|OOM)\b`),
		category:   "Debugging",
		confidence: 70,
	},
	{
		regex:      regexp.MustCompile(`(?i)\b(?:deploy|CI/?CD|pipeline|container|cluster|scaling|health\s*check)\b`),
		category:   "Operations",
		confidence: 70,
	},
	{
		regex:      regexp.MustCompile(`(?i)\b(?:refactor|decouple|extract|migrate|restructur)\b`),
		category:   "Architecture",
		confidence: 65,
	},
}

// Categorize labels content by keyword matching against the ordered rule
// table. Returns CategoryGeneral and a neutral confidence when nothing
// matches.
func Categorize(content string) (string, int) {
	if len(content) > maxClassifyLength {
		content = content[:maxClassifyLength]
	}
	for _, rule := range categoryRules {
		if rule.regex.MatchString(content) {
			return rule.category, rule.confidence
		}
	}
	return CategoryGeneral, DefaultConfidence
}
