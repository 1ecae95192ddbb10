// Package rules migrates static rule text into knowledge items.
//
// Rule files are the flat predecessor of the knowledge store: markdown
// bullet lists or plain lines, one rule each. Migration parses them, infers
// a tier from the rule's wording, and records each rule as an item with a
// migrated-rule source descriptor so provenance survives.
package rules

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/relevanced/internal/knowledge"
)

// Rule is one parsed rule line with its inferred tier.
type Rule struct {
	Text string
	Tier knowledge.Tier
}

var (
	// bulletPrefix strips markdown list markers: "-", "*", "+", "1.", "2)".
	bulletPrefix = regexp.MustCompile(`^\s*(?:[-*+]|\d+[.)])\s+`)

	// guardrailWords marks prohibitions. Checked before mandate words so
	// "must not" does not read as a mandate.
	guardrailWords = regexp.MustCompile(`(?i)\b(?:never|must\s+not|do\s+not|don't|forbidden|prohibited|under\s+no\s+circumstances)\b`)

	// mandateWords marks binding obligations.
	mandateWords = regexp.MustCompile(`(?i)\b(?:always|must|required|ensure|shall)\b`)
)

// InferTier classifies a rule's wording: prohibitions become guardrails,
// obligations become mandates, everything else is reference knowledge.
func InferTier(text string) knowledge.Tier {
	if guardrailWords.MatchString(text) {
		return knowledge.TierGuardrail
	}
	if mandateWords.MatchString(text) {
		return knowledge.TierMandate
	}
	return knowledge.TierReference
}

// ParseRules extracts rules from raw rule text. Bullet lines start rules;
// indented continuation lines extend the rule above; headings, comments,
// and blank lines are skipped. Text without any bullets is treated as one
// rule per non-empty line.
func ParseRules(text string) []Rule {
	var rules []Rule
	sawBullet := false

	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)

		if trimmed == "" || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "<!--") {
			continue
		}

		if loc := bulletPrefix.FindStringIndex(line); loc != nil {
			sawBullet = true
			rules = append(rules, Rule{Text: strings.TrimSpace(line[loc[1]:])})
			continue
		}

		// Indented text under a bullet continues that rule.
		indented := strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t")
		if sawBullet && len(rules) > 0 && indented {
			rules[len(rules)-1].Text += " " + trimmed
			continue
		}

		if !sawBullet {
			rules = append(rules, Rule{Text: trimmed})
		}
	}

	out := rules[:0]
	for _, r := range rules {
		if r.Text == "" {
			continue
		}
		r.Tier = InferTier(r.Text)
		out = append(out, r)
	}
	return out
}

// Report summarizes one migration run.
type Report struct {
	// Parsed is the number of rules found in the input.
	Parsed int

	// Inserted is the number of items written to the store.
	Inserted int

	// Skipped is the number of rules that already existed in the scope.
	Skipped int

	// Items are the inserted items, in input order.
	Items []*knowledge.Item
}

// Migrator turns parsed rules into stored knowledge items.
type Migrator struct {
	store  knowledge.Store
	logger *zap.Logger
}

// NewMigrator creates a migrator writing to the given store.
func NewMigrator(store knowledge.Store, logger *zap.Logger) *Migrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Migrator{store: store, logger: logger}
}

// Migrate parses rule text and inserts one item per rule into the scope.
// Rules whose exact text already exists in the scope are skipped, so
// re-running a migration is harmless.
func (m *Migrator) Migrate(ctx context.Context, text string, scope knowledge.Scope) (*Report, error) {
	if err := scope.Validate(); err != nil {
		return nil, fmt.Errorf("validating scope: %w", err)
	}

	rules := ParseRules(text)
	report := &Report{Parsed: len(rules)}
	if len(rules) == 0 {
		return report, nil
	}

	existing, err := m.store.ListByScope(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("listing scope %s: %w", scope.Key(), err)
	}
	seen := make(map[string]bool, len(existing))
	for _, it := range existing {
		seen[it.Content] = true
	}

	now := time.Now()
	for i, rule := range rules {
		if seen[rule.Text] {
			report.Skipped++
			continue
		}
		seen[rule.Text] = true

		category, confidence := knowledge.Categorize(rule.Text)
		item := &knowledge.Item{
			ID:           uuid.New().String(),
			Content:      rule.Text,
			Tier:         rule.Tier,
			Scope:        scope,
			DisplayOrder: i + 1,
			Source: knowledge.SourceDescriptor{
				Category:   category,
				Tier:       rule.Tier,
				Origin:     knowledge.OriginMigratedRule,
				Confidence: confidence,
			},
			CreatedAt: now,
			UpdatedAt: now,
		}

		if err := m.store.Insert(ctx, item); err != nil {
			return report, fmt.Errorf("inserting rule %d: %w", i+1, err)
		}
		report.Inserted++
		report.Items = append(report.Items, item)
	}

	m.logger.Info("rule migration complete",
		zap.String("scope", scope.Key()),
		zap.Int("parsed", report.Parsed),
		zap.Int("inserted", report.Inserted),
		zap.Int("skipped", report.Skipped),
	)
	return report, nil
}

// MigrateFile reads a rule file and migrates its contents.
func (m *Migrator) MigrateFile(ctx context.Context, path string, scope knowledge.Scope) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rule file: %w", err)
	}
	return m.Migrate(ctx, string(data), scope)
}
