// Package citation extracts knowledge-item citation markers from model
// output.
//
// A marker is a tier letter, a colon, and the first eight hex characters
// of an item identifier: [M:aa11bb22] cites a mandate, [G:cc33dd44] a
// guardrail. Markers appear anywhere in free-form text. Malformed or
// partial markers are skipped; parsing never fails.
package citation

import (
	"regexp"
	"sort"
)

// maxInputLength caps the text scanned for markers. Longer output is
// truncated before regex execution to bound cost on unbounded input.
const maxInputLength = 1 << 20

// markerPattern matches one well-formed marker: tier letter, colon, and
// exactly eight lowercase hex characters inside square brackets.
var markerPattern = regexp.MustCompile(`\[([MG]):([0-9a-f]{8})\]`)

// Result summarizes the citations found in one piece of text.
type Result struct {
	// MandateCount and GuardrailCount are raw occurrence counts and do
	// include repeats of the same marker.
	MandateCount   int `json:"mandate_count"`
	GuardrailCount int `json:"guardrail_count"`

	// Unique holds each cited short identifier once, sorted. Repeated
	// citations of one item collapse here, so this is the set that feeds
	// referenced-tracking.
	Unique []string `json:"unique"`
}

// Total returns the combined marker occurrence count.
func (r Result) Total() int {
	return r.MandateCount + r.GuardrailCount
}

// Cited reports whether any marker was found.
func (r Result) Cited() bool {
	return len(r.Unique) > 0
}

// Parse scans text for citation markers and tallies them. Text beyond
// maxInputLength is ignored.
func Parse(text string) Result {
	if len(text) > maxInputLength {
		text = text[:maxInputLength]
	}

	var res Result
	matches := markerPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return res
	}

	seen := make(map[string]bool, len(matches))
	for _, m := range matches {
		switch m[1] {
		case "M":
			res.MandateCount++
		case "G":
			res.GuardrailCount++
		}
		seen[m[2]] = true
	}

	res.Unique = make([]string, 0, len(seen))
	for prefix := range seen {
		res.Unique = append(res.Unique, prefix)
	}
	sort.Strings(res.Unique)
	return res
}
