package knowledge

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Common errors for knowledge operations.
var (
	ErrItemNotFound    = errors.New("item not found")
	ErrEmptyContent    = errors.New("item content cannot be empty")
	ErrInvalidTier     = errors.New("invalid tier")
	ErrInvalidScope    = errors.New("invalid scope")
	ErrInvalidItem     = errors.New("invalid item")
	ErrAmbiguousPrefix = errors.New("identifier prefix matches multiple items")
	ErrStoreClosed     = errors.New("store is closed")
)

// Tier is the priority class of an item.
type Tier string

const (
	// TierMandate marks binding rules that are always injected.
	TierMandate Tier = "mandate"

	// TierGuardrail marks hard constraints that are always injected.
	TierGuardrail Tier = "guardrail"

	// TierReference marks soft facts injected only when relevant.
	TierReference Tier = "reference"

	// TierPendingReview marks items recorded but not yet classified.
	// Pending items are never injected.
	TierPendingReview Tier = "pending_review"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierMandate, TierGuardrail, TierReference, TierPendingReview:
		return true
	}
	return false
}

// Letter returns the citation-marker letter for the tier.
func (t Tier) Letter() string {
	switch t {
	case TierMandate:
		return "M"
	case TierGuardrail:
		return "G"
	case TierReference:
		return "R"
	default:
		return "P"
	}
}

// InjectionTiers lists the tiers the assembler fetches, in priority order.
var InjectionTiers = []Tier{TierMandate, TierGuardrail, TierReference}

// ScopeLevel is one level of the visibility hierarchy.
type ScopeLevel string

const (
	// ScopeGlobal is visible to every task on the platform.
	ScopeGlobal ScopeLevel = "global"

	// ScopeProject is visible to every task within one project.
	ScopeProject ScopeLevel = "project"

	// ScopeTask is visible only to one task.
	ScopeTask ScopeLevel = "task"
)

// Scope identifies a visibility boundary: GLOBAL ⊃ PROJECT ⊃ TASK.
type Scope struct {
	Level     ScopeLevel `json:"level"`
	ProjectID string     `json:"project_id,omitempty"`
	TaskID    string     `json:"task_id,omitempty"`
}

// GlobalScope returns the platform-wide scope.
func GlobalScope() Scope {
	return Scope{Level: ScopeGlobal}
}

// ProjectScope returns the scope for a single project.
func ProjectScope(projectID string) Scope {
	return Scope{Level: ScopeProject, ProjectID: projectID}
}

// TaskScope returns the scope for a single task within a project.
func TaskScope(projectID, taskID string) Scope {
	return Scope{Level: ScopeTask, ProjectID: projectID, TaskID: taskID}
}

// Validate checks that the scope identifiers match the level.
func (s Scope) Validate() error {
	switch s.Level {
	case ScopeGlobal:
		return nil
	case ScopeProject:
		if s.ProjectID == "" {
			return fmt.Errorf("%w: project scope requires a project ID", ErrInvalidScope)
		}
		return nil
	case ScopeTask:
		if s.ProjectID == "" || s.TaskID == "" {
			return fmt.Errorf("%w: task scope requires project and task IDs", ErrInvalidScope)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown level %q", ErrInvalidScope, s.Level)
	}
}

// Key returns a stable string form usable as a map key or store filter.
func (s Scope) Key() string {
	switch s.Level {
	case ScopeProject:
		return "project:" + s.ProjectID
	case ScopeTask:
		return "task:" + s.ProjectID + ":" + s.TaskID
	default:
		return "global"
	}
}

// Widen returns the next wider scope, or the scope itself at GLOBAL.
func (s Scope) Widen() Scope {
	switch s.Level {
	case ScopeTask:
		return ProjectScope(s.ProjectID)
	case ScopeProject:
		return GlobalScope()
	default:
		return s
	}
}

// Chain returns the visibility chain from s outward to GLOBAL,
// narrowest first. A task sees items in every scope of its chain.
func (s Scope) Chain() []Scope {
	chain := []Scope{s}
	for cur := s; cur.Level != ScopeGlobal; {
		cur = cur.Widen()
		chain = append(chain, cur)
	}
	return chain
}

// UsageStats holds the per-item feedback counters.
//
// Loaded counts injections into a context window; Referenced counts citations
// observed in model output. Helpful and Harmful count explicit feedback.
type UsageStats struct {
	Loaded     int     `json:"loaded"`
	Referenced int     `json:"referenced"`
	Helpful    int     `json:"helpful"`
	Harmful    int     `json:"harmful"`
	Utility    float64 `json:"utility"`
}

// Effectiveness returns referenced/loaded clamped to [0, 1], with 0.5 for
// items that have never been loaded. The neutral default keeps unproven
// items competitive without rewarding them.
func (u UsageStats) Effectiveness() float64 {
	if u.Loaded <= 0 {
		return 0.5
	}
	r := float64(u.Referenced) / float64(u.Loaded)
	if r < 0 {
		return 0
	}
	if r > 1 {
		return 1
	}
	return r
}

// Item is a stored unit of knowledge.
type Item struct {
	// ID is the unique item identifier (UUID).
	ID string `json:"id"`

	// Content is the full knowledge text injected into context windows.
	Content string `json:"content"`

	// Summary is a one-line description used by the adaptive index.
	Summary string `json:"summary,omitempty"`

	// Tier controls injection priority. See the Tier constants.
	Tier Tier `json:"tier"`

	// Scope bounds which tasks can see the item.
	Scope Scope `json:"scope"`

	// Pinned items are exempt from statistical demotion.
	Pinned bool `json:"pinned,omitempty"`

	// AutoInject forces the item into every assembly for its scope,
	// regardless of relevance score. Auto-injected items are also exempt
	// from demotion.
	AutoInject bool `json:"auto_inject,omitempty"`

	// DisplayOrder breaks score ties during assembly. Lower comes first.
	DisplayOrder int `json:"display_order,omitempty"`

	// TriggerTaskTypes lists task types that pull this reference item in
	// even when its semantic score alone would not.
	TriggerTaskTypes []string `json:"trigger_task_types,omitempty"`

	// Tags are explicit labels matched against query tags for the boost.
	Tags []string `json:"tags,omitempty"`

	// Synonyms holds alternate phrasings merged in by clustering.
	Synonyms []string `json:"synonyms,omitempty"`

	// RefinesID points at the canonical item this item refines, when
	// clustering adjudicated it a variation.
	RefinesID string `json:"refines_id,omitempty"`

	// Source records provenance. Serialized as the compact key:value
	// token string at the store boundary.
	Source SourceDescriptor `json:"source"`

	// Usage holds the feedback counters maintained by the usage tracker.
	Usage UsageStats `json:"usage"`

	// CreatedAt is when the item was first recorded.
	CreatedAt time.Time `json:"created_at"`

	// LastUsedAt is when the item was last injected or referenced.
	// Zero means never used.
	LastUsedAt time.Time `json:"last_used_at,omitempty"`

	// UpdatedAt is when the item was last modified.
	UpdatedAt time.Time `json:"updated_at"`
}

// NewItem creates an item with a generated UUID and default values.
func NewItem(content, summary string, tier Tier, scope Scope, tags []string) (*Item, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}
	if !tier.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTier, tier)
	}
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	now := time.Now()
	return &Item{
		ID:        uuid.New().String(),
		Content:   content,
		Summary:   summary,
		Tier:      tier,
		Scope:     scope,
		Tags:      tags,
		Source:    SourceDescriptor{Tier: tier, Origin: OriginSystem, Confidence: DefaultConfidence},
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Validate checks the item's fields.
func (it *Item) Validate() error {
	if it.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidItem)
	}
	if _, err := uuid.Parse(it.ID); err != nil {
		return fmt.Errorf("%w: malformed ID %q", ErrInvalidItem, it.ID)
	}
	if strings.TrimSpace(it.Content) == "" {
		return ErrEmptyContent
	}
	if !it.Tier.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidTier, it.Tier)
	}
	if err := it.Scope.Validate(); err != nil {
		return err
	}
	return it.Source.Validate()
}

// ShortID returns the 8-character identifier prefix used in citation markers.
func (it *Item) ShortID() string {
	return ShortID(it.ID)
}

// Marker returns the inline citation marker for the item, e.g. "[M:aa11bb22]".
func (it *Item) Marker() string {
	return "[" + it.Tier.Letter() + ":" + it.ShortID() + "]"
}

// LastActivity returns the more recent of creation and last-used time.
// Recency decay is computed against this, so a chronically useful old item
// does not fade just because it is old.
func (it *Item) LastActivity() time.Time {
	if it.LastUsedAt.After(it.CreatedAt) {
		return it.LastUsedAt
	}
	return it.CreatedAt
}

// Clone returns a deep copy. Store implementations hand out clones so
// callers cannot mutate shared state.
func (it *Item) Clone() *Item {
	cp := *it
	cp.TriggerTaskTypes = append([]string(nil), it.TriggerTaskTypes...)
	cp.Tags = append([]string(nil), it.Tags...)
	cp.Synonyms = append([]string(nil), it.Synonyms...)
	return &cp
}

// ShortID returns the first 8 characters of an identifier, the form used in
// citation markers. UUIDs begin with 8 lowercase hex characters.
func ShortID(id string) string {
	if len(id) < 8 {
		return id
	}
	return strings.ToLower(id[:8])
}
