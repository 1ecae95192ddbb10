// Package index derives the adaptive index: a compact, periodically
// rebuilt view of the knowledge items visible from a scope.
//
// Each entry carries a one-line summary, a category label, and the item's
// referenced/loaded ratio. The builder also computes the statistical
// demotion threshold; items whose ratio falls well below their peers are
// marked demoted and stop being injected. Pinned and auto-inject items
// are never demoted. Rebuilds are TTL-bounded and single-flight per scope.
package index

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/fyrsmithlabs/relevanced/internal/knowledge"
)

const (
	// DefaultMinSamples is how many loads an item needs before its ratio
	// counts, both toward the threshold and toward its own demotion.
	DefaultMinSamples = 5

	// defaultMaxSummaryLength bounds derived one-line summaries.
	defaultMaxSummaryLength = 100
)

// tierRank orders entries mandate first.
var tierRank = map[knowledge.Tier]int{
	knowledge.TierMandate:   0,
	knowledge.TierGuardrail: 1,
	knowledge.TierReference: 2,
}

// Entry is one item's row in the adaptive index.
type Entry struct {
	ID         string         `json:"id"`
	ShortID    string         `json:"short_id"`
	Summary    string         `json:"summary"`
	Category   string         `json:"category"`
	Tier       knowledge.Tier `json:"tier"`
	Ratio      float64        `json:"ratio"`
	Loaded     int            `json:"loaded"`
	Referenced int            `json:"referenced"`
	Pinned     bool           `json:"pinned,omitempty"`
	AutoInject bool           `json:"auto_inject,omitempty"`
	Demoted    bool           `json:"demoted,omitempty"`
}

// Snapshot is one build of the adaptive index for a scope.
type Snapshot struct {
	Scope   knowledge.Scope `json:"scope"`
	Entries []Entry         `json:"entries"`

	// Threshold is the demotion cutoff; meaningful only when
	// HasThreshold is true (at least two entries had enough samples).
	Threshold    float64 `json:"threshold"`
	HasThreshold bool    `json:"has_threshold"`

	BuiltAt time.Time     `json:"built_at"`
	TTL     time.Duration `json:"ttl"`
}

// DemotedIDs returns the full identifiers of demoted entries, sorted.
func (s *Snapshot) DemotedIDs() []string {
	var ids []string
	for _, e := range s.Entries {
		if e.Demoted {
			ids = append(ids, e.ID)
		}
	}
	sort.Strings(ids)
	return ids
}

// Expired reports whether the snapshot is older than its TTL at now.
func (s *Snapshot) Expired(now time.Time) bool {
	if s.TTL <= 0 {
		return true
	}
	return now.After(s.BuiltAt.Add(s.TTL))
}

// Builder turns a set of items into a Snapshot. It holds no mutable
// state and is safe for concurrent use.
type Builder struct {
	minSamples       int
	maxSummaryLength int
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithMinSamples sets the sample floor for demotion statistics.
func WithMinSamples(n int) BuilderOption {
	return func(b *Builder) {
		if n > 0 {
			b.minSamples = n
		}
	}
}

// WithMaxSummaryLength sets the derived-summary truncation length.
func WithMaxSummaryLength(n int) BuilderOption {
	return func(b *Builder) {
		if n > 0 {
			b.maxSummaryLength = n
		}
	}
}

// NewBuilder returns a builder with default thresholds.
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{
		minSamples:       DefaultMinSamples,
		maxSummaryLength: defaultMaxSummaryLength,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build produces a snapshot over the given items. Pending-review items
// are not indexed. The demotion threshold is median − stdev over the
// ratios of entries with at least minSamples loads; with fewer than two
// such entries nothing is demoted.
func (b *Builder) Build(items []*knowledge.Item) *Snapshot {
	entries := make([]Entry, 0, len(items))
	for _, it := range items {
		if _, injectable := tierRank[it.Tier]; !injectable {
			continue
		}
		entries = append(entries, b.entry(it))
	}

	sort.Slice(entries, func(i, j int) bool {
		if tierRank[entries[i].Tier] != tierRank[entries[j].Tier] {
			return tierRank[entries[i].Tier] < tierRank[entries[j].Tier]
		}
		return entries[i].ID < entries[j].ID
	})

	snap := &Snapshot{
		Entries: entries,
		BuiltAt: time.Now(),
	}

	var sampled []float64
	for _, e := range entries {
		if e.Loaded >= b.minSamples {
			sampled = append(sampled, e.Ratio)
		}
	}
	// One heavily-loaded item has no peers to be compared against.
	if len(sampled) < 2 {
		return snap
	}

	snap.Threshold = median(sampled) - stdev(sampled)
	snap.HasThreshold = true

	for i := range snap.Entries {
		e := &snap.Entries[i]
		if e.Pinned || e.AutoInject {
			continue
		}
		if e.Loaded >= b.minSamples && e.Ratio < snap.Threshold {
			e.Demoted = true
		}
	}
	return snap
}

func (b *Builder) entry(it *knowledge.Item) Entry {
	summary := strings.TrimSpace(it.Summary)
	if summary == "" {
		summary = deriveSummary(it.Content, b.maxSummaryLength)
	}

	category := it.Source.Category
	if category == "" {
		category, _ = knowledge.Categorize(it.Content)
	}

	return Entry{
		ID:         it.ID,
		ShortID:    it.ShortID(),
		Summary:    summary,
		Category:   category,
		Tier:       it.Tier,
		Ratio:      it.Usage.Effectiveness(),
		Loaded:     it.Usage.Loaded,
		Referenced: it.Usage.Referenced,
		Pinned:     it.Pinned,
		AutoInject: it.AutoInject,
	}
}

// deriveSummary produces a one-line summary: the first sentence when it
// fits, otherwise a truncation with a trailing ellipsis.
func deriveSummary(content string, max int) string {
	line := content
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)

	for i, r := range line {
		if r == '.' || r == '!' || r == '?' {
			if i+1 <= max {
				return line[:i+1]
			}
			break
		}
		if i >= max {
			break
		}
	}
	if len(line) > max {
		return strings.TrimSpace(line[:max]) + "..."
	}
	return line
}

// median of a non-empty sample. The input slice is sorted in place.
func median(vals []float64) float64 {
	sort.Float64s(vals)
	n := len(vals)
	if n%2 == 1 {
		return vals[n/2]
	}
	return (vals[n/2-1] + vals[n/2]) / 2
}

// stdev is the population standard deviation of a non-empty sample.
func stdev(vals []float64) float64 {
	var sum float64
	for _, v := range vals {
		sum += v
	}
	mean := sum / float64(len(vals))

	var varSum float64
	for _, v := range vals {
		d := v - mean
		varSum += d * d
	}
	return math.Sqrt(varSum / float64(len(vals)))
}
