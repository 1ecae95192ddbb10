// Package cluster keeps mandate-tier knowledge canonical.
//
// Recording new mandate content runs a similarity search against existing
// canonical items; a close match is adjudicated by the disambiguation model
// as either a rephrase (merge into the canonical item) or a variation (link
// to it). Consolidation promotes task-scoped knowledge into the project
// scope when a task completes successfully.
package cluster

import "strings"

// Decision is the adjudication outcome for two similar texts.
//
// The zero value is DecisionVariation, the safe default: linking preserves
// both pieces of content, while a wrong merge destroys one.
type Decision int

const (
	// DecisionVariation means the texts are related but distinct. The new
	// item is kept and linked to the canonical one.
	DecisionVariation Decision = iota

	// DecisionRephrase means the texts state the same rule. The new text is
	// absorbed as a synonym of the canonical item.
	DecisionRephrase
)

// String returns the wire label for the decision.
func (d Decision) String() string {
	if d == DecisionRephrase {
		return "rephrase"
	}
	return "variation"
}

// ParseDecision extracts the decision from model output. It accepts the bare
// decision word or a "DECISION: <word>" line anywhere in the reply, case
// insensitive. The second return is false when no decision was recognized;
// the first is then the safe default.
func ParseDecision(s string) (Decision, bool) {
	for _, line := range strings.Split(s, "\n") {
		line = strings.ToLower(strings.TrimSpace(line))
		if rest, ok := strings.CutPrefix(line, "decision:"); ok {
			line = strings.TrimSpace(rest)
		}
		switch line {
		case "rephrase":
			return DecisionRephrase, true
		case "variation":
			return DecisionVariation, true
		}
	}
	return DecisionVariation, false
}
