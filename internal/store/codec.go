package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fyrsmithlabs/relevanced/internal/knowledge"
)

// Flat metadata keys the backends filter on. The full item travels as one
// JSON document under metaKeyItem; the flat keys exist only so the vector
// backends can filter without decoding every document.
const (
	metaKeyItem       = "item"
	metaKeyID         = "id"
	metaKeyShortID    = "short_id"
	metaKeyScope      = "scope"
	metaKeyTier       = "tier"
	metaKeyAutoInject = "auto_inject"
	metaKeyTriggers   = "triggers"
)

// shortIDLength is the citation short-identifier length. Prefix resolution
// takes a fast indexed path for prefixes of exactly this length.
const shortIDLength = 8

// itemRecord is the wire form of a knowledge item. The source descriptor is
// carried in its compact token encoding; timestamps are Unix seconds with
// zero meaning never.
type itemRecord struct {
	ID               string   `json:"id"`
	Content          string   `json:"content"`
	Summary          string   `json:"summary,omitempty"`
	Tier             string   `json:"tier"`
	ScopeLevel       string   `json:"scope_level"`
	ProjectID        string   `json:"project_id,omitempty"`
	TaskID           string   `json:"task_id,omitempty"`
	Pinned           bool     `json:"pinned,omitempty"`
	AutoInject       bool     `json:"auto_inject,omitempty"`
	DisplayOrder     int      `json:"display_order,omitempty"`
	TriggerTaskTypes []string `json:"trigger_task_types,omitempty"`
	Tags             []string `json:"tags,omitempty"`
	Synonyms         []string `json:"synonyms,omitempty"`
	RefinesID        string   `json:"refines_id,omitempty"`
	Source           string   `json:"source,omitempty"`
	Loaded           int      `json:"loaded,omitempty"`
	Referenced       int      `json:"referenced,omitempty"`
	Helpful          int      `json:"helpful,omitempty"`
	Harmful          int      `json:"harmful,omitempty"`
	Utility          float64  `json:"utility,omitempty"`
	CreatedAt        int64    `json:"created_at"`
	LastUsedAt       int64    `json:"last_used_at,omitempty"`
	UpdatedAt        int64    `json:"updated_at"`
}

// encodeItem serializes an item to its wire JSON document.
func encodeItem(it *knowledge.Item) (string, error) {
	rec := itemRecord{
		ID:               it.ID,
		Content:          it.Content,
		Summary:          it.Summary,
		Tier:             string(it.Tier),
		ScopeLevel:       string(it.Scope.Level),
		ProjectID:        it.Scope.ProjectID,
		TaskID:           it.Scope.TaskID,
		Pinned:           it.Pinned,
		AutoInject:       it.AutoInject,
		DisplayOrder:     it.DisplayOrder,
		TriggerTaskTypes: it.TriggerTaskTypes,
		Tags:             it.Tags,
		Synonyms:         it.Synonyms,
		RefinesID:        it.RefinesID,
		Source:           it.Source.Encode(),
		Loaded:           it.Usage.Loaded,
		Referenced:       it.Usage.Referenced,
		Helpful:          it.Usage.Helpful,
		Harmful:          it.Usage.Harmful,
		Utility:          it.Usage.Utility,
		CreatedAt:        unixOrZero(it.CreatedAt),
		LastUsedAt:       unixOrZero(it.LastUsedAt),
		UpdatedAt:        unixOrZero(it.UpdatedAt),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("encoding item %s: %w", it.ID, err)
	}
	return string(data), nil
}

// decodeItem deserializes a wire JSON document back into an item.
func decodeItem(doc string) (*knowledge.Item, error) {
	var rec itemRecord
	if err := json.Unmarshal([]byte(doc), &rec); err != nil {
		return nil, fmt.Errorf("decoding item record: %w", err)
	}
	if rec.ID == "" {
		return nil, fmt.Errorf("decoding item record: missing id")
	}

	it := &knowledge.Item{
		ID:      rec.ID,
		Content: rec.Content,
		Summary: rec.Summary,
		Tier:    knowledge.Tier(rec.Tier),
		Scope: knowledge.Scope{
			Level:     knowledge.ScopeLevel(rec.ScopeLevel),
			ProjectID: rec.ProjectID,
			TaskID:    rec.TaskID,
		},
		Pinned:           rec.Pinned,
		AutoInject:       rec.AutoInject,
		DisplayOrder:     rec.DisplayOrder,
		TriggerTaskTypes: rec.TriggerTaskTypes,
		Tags:             rec.Tags,
		Synonyms:         rec.Synonyms,
		RefinesID:        rec.RefinesID,
		Source:           knowledge.ParseSourceDescriptor(rec.Source),
		Usage: knowledge.UsageStats{
			Loaded:     rec.Loaded,
			Referenced: rec.Referenced,
			Helpful:    rec.Helpful,
			Harmful:    rec.Harmful,
			Utility:    rec.Utility,
		},
		CreatedAt:  timeOrZero(rec.CreatedAt),
		LastUsedAt: timeOrZero(rec.LastUsedAt),
		UpdatedAt:  timeOrZero(rec.UpdatedAt),
	}
	return it, nil
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func timeOrZero(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(n, 0)
}

// embedText returns the text a vector adapter embeds for an item: content
// plus any merged synonyms, so alternate phrasings participate in
// similarity the same way they do in the in-memory store.
func embedText(it *knowledge.Item) string {
	if len(it.Synonyms) == 0 {
		return it.Content
	}
	return it.Content + "\n" + strings.Join(it.Synonyms, "\n")
}

// sortItems orders a listing by display order, then identifier, matching
// the in-memory store so every backend lists deterministically.
func sortItems(items []*knowledge.Item) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].DisplayOrder != items[j].DisplayOrder {
			return items[i].DisplayOrder < items[j].DisplayOrder
		}
		return items[i].ID < items[j].ID
	})
}

// hasTriggerType reports whether the item lists taskType as a trigger.
func hasTriggerType(it *knowledge.Item, taskType string) bool {
	for _, t := range it.TriggerTaskTypes {
		if t == taskType {
			return true
		}
	}
	return false
}

// applyCuration folds one curation update into an item. Nil pointer fields
// leave the stored value unchanged. Semantics match the in-memory store.
func applyCuration(it *knowledge.Item, u knowledge.CurationUpdate, now time.Time) {
	if u.Tier != nil {
		it.Tier = *u.Tier
	}
	if u.Pinned != nil {
		it.Pinned = *u.Pinned
	}
	if u.AutoInject != nil {
		it.AutoInject = *u.AutoInject
	}
	if u.DisplayOrder != nil {
		it.DisplayOrder = *u.DisplayOrder
	}
	if u.TriggerTaskTypes != nil {
		it.TriggerTaskTypes = append([]string(nil), u.TriggerTaskTypes...)
	}
	if u.Summary != nil {
		it.Summary = *u.Summary
	}
	it.UpdatedAt = now
}

// applyUsage folds one additive usage delta into an item, stamping
// LastUsedAt when the item was loaded or referenced.
func applyUsage(it *knowledge.Item, d knowledge.UsageDelta, now time.Time) {
	it.Usage.Loaded += d.Loaded
	it.Usage.Referenced += d.Referenced
	it.Usage.Helpful += d.Helpful
	it.Usage.Harmful += d.Harmful
	it.Usage.Utility = it.Usage.Effectiveness()
	if d.Loaded > 0 || d.Referenced > 0 {
		it.LastUsedAt = now
	}
	it.UpdatedAt = now
}

// applyMerge appends an alternate phrasing to a canonical item and folds in
// the absorbed item's usage statistics.
func applyMerge(it *knowledge.Item, synonym string, stats knowledge.UsageDelta, now time.Time) {
	it.Synonyms = append(it.Synonyms, synonym)
	it.Usage.Loaded += stats.Loaded
	it.Usage.Referenced += stats.Referenced
	it.Usage.Helpful += stats.Helpful
	it.Usage.Harmful += stats.Harmful
	it.Usage.Utility = it.Usage.Effectiveness()
	it.UpdatedAt = now
}
