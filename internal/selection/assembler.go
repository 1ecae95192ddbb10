// Package selection assembles the relevance-ranked knowledge block that is
// injected into an agent's context window.
//
// One assembly fans out a fetch per candidate source: each injection tier,
// auto-inject items, trigger-matched references, the similarity search for
// the query, and the adaptive-index snapshot. Every fetch walks the scope
// visibility chain and runs under its own timeout; a failed or timed-out
// fetch degrades to empty instead of failing the assembly. Candidates are
// scored under the task's assigned parameter set, demoted entries are
// filtered out, and the survivors render one block per item prefixed with
// its citation marker so the model can cite what it used.
package selection

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/relevanced/internal/index"
	"github.com/fyrsmithlabs/relevanced/internal/knowledge"
	"github.com/fyrsmithlabs/relevanced/internal/scoring"
	"github.com/fyrsmithlabs/relevanced/internal/usage"
)

var tracer = otel.Tracer("relevanced/selection")

// ErrNilStore indicates the assembler was constructed without a store.
var ErrNilStore = errors.New("store cannot be nil")

const (
	// DefaultTokenBudget bounds the rendered context size when the request
	// does not carry its own budget.
	DefaultTokenBudget = 2048

	// DefaultFetchTimeout bounds each candidate fetch. Injected context has
	// no value once the enclosing LLM call has started, so a slow source is
	// dropped rather than awaited.
	DefaultFetchTimeout = 2 * time.Second

	defaultSimilarityTopK = 128

	// charsPerToken is the rough character-per-token ratio used to estimate
	// rendered size against the budget.
	charsPerToken = 4
)

// Candidate source names used in logs and degradation metrics. The three
// injection tiers name themselves.
const (
	sourceAutoInject = "auto_inject"
	sourceTrigger    = "trigger"
	sourceSimilarity = "similarity"
	sourceIndex      = "index"
)

// Request describes one context assembly.
type Request struct {
	// Query is the task prompt or question driving semantic relevance.
	// Empty is allowed; candidates then score with zero semantic component.
	Query string

	// Scope is the visibility scope of the requesting task. Candidates are
	// gathered from the whole chain outward to GLOBAL.
	Scope knowledge.Scope

	// TaskType pulls in reference items whose trigger task types match,
	// regardless of their semantic score. Empty disables trigger matching.
	TaskType string

	// QueryTags are matched against item tags for the tag boost.
	QueryTags []string

	// TokenBudget caps the rendered context size. Zero or negative uses the
	// assembler default. Mandates and guardrails are always included even
	// when they alone exceed the budget; references fill the remainder.
	TokenBudget int
}

// Metrics summarizes one assembly for logs, experiments, and callers that
// feed injected identifiers back into usage tracking.
type Metrics struct {
	Variant       string        `json:"variant"`
	Mandates      int           `json:"mandates"`
	Guardrails    int           `json:"guardrails"`
	References    int           `json:"references"`
	TotalTokens   int           `json:"total_tokens"`
	InjectedIDs   []string      `json:"injected_ids,omitempty"`
	DegradedTiers []string      `json:"degraded_tiers,omitempty"`
	Duration      time.Duration `json:"duration"`
}

// Result is an assembled context block.
type Result struct {
	// Text is the rendered context, one marker-prefixed block per item,
	// mandates first, then guardrails, then references.
	Text string

	// Items lists the injected items in render order.
	Items []*knowledge.Item

	Metrics Metrics
}

// Assembler selects and renders knowledge for injection.
type Assembler struct {
	store     knowledge.Store
	engine    *scoring.Engine
	variants  *scoring.Variants
	refresher *index.Refresher
	tracker   *usage.Tracker
	logger    *zap.Logger

	tokenBudget    int
	fetchTimeout   time.Duration
	similarityTopK int
}

// AssemblerOption configures an Assembler.
type AssemblerOption func(*Assembler)

// WithTokenBudget sets the default token budget for requests that do not
// carry one.
func WithTokenBudget(n int) AssemblerOption {
	return func(a *Assembler) {
		if n > 0 {
			a.tokenBudget = n
		}
	}
}

// WithFetchTimeout bounds each candidate fetch.
func WithFetchTimeout(d time.Duration) AssemblerOption {
	return func(a *Assembler) {
		if d > 0 {
			a.fetchTimeout = d
		}
	}
}

// WithSimilarityTopK caps the number of similarity matches fetched per scope.
func WithSimilarityTopK(k int) AssemblerOption {
	return func(a *Assembler) {
		if k > 0 {
			a.similarityTopK = k
		}
	}
}

// WithRefresher enables demotion filtering from the adaptive index. Without
// a refresher, or when the snapshot cannot be fetched, assembly proceeds
// unfiltered.
func WithRefresher(r *index.Refresher) AssemblerOption {
	return func(a *Assembler) {
		a.refresher = r
	}
}

// WithTracker records injected identifiers as loads after each assembly.
func WithTracker(t *usage.Tracker) AssemblerOption {
	return func(a *Assembler) {
		a.tracker = t
	}
}

// NewAssembler creates a context assembler. A nil engine or variants falls
// back to the defaults; a nil logger falls back to a no-op logger.
func NewAssembler(store knowledge.Store, engine *scoring.Engine, variants *scoring.Variants, logger *zap.Logger, opts ...AssemblerOption) (*Assembler, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	if engine == nil {
		engine = scoring.NewEngine()
	}
	if variants == nil {
		variants = scoring.DefaultVariants()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &Assembler{
		store:          store,
		engine:         engine,
		variants:       variants,
		logger:         logger,
		tokenBudget:    DefaultTokenBudget,
		fetchTimeout:   DefaultFetchTimeout,
		similarityTopK: defaultSimilarityTopK,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// candidate is one deduplicated item joined with its fetch provenance.
type candidate struct {
	item  *knowledge.Item
	score scoring.Score

	// forced items are auto-injected: exempt from the relevance threshold,
	// the demotion filter, and the token budget.
	forced bool

	// triggered items matched the request task type: exempt from the
	// relevance threshold but still subject to demotion and budget.
	triggered bool
}

// fetched holds the joined results of the concurrent candidate fetches.
// A nil slice or map means that source degraded to empty.
type fetched struct {
	tiers      map[knowledge.Tier][]*knowledge.Item
	autoInject []*knowledge.Item
	triggered  []*knowledge.Item
	similarity map[string]float64
	demoted    map[string]bool
}

// Assemble selects, scores, and renders the knowledge block for one request.
// Store trouble on any single source degrades that source to empty; the only
// errors returned are an invalid scope and context cancellation.
func (a *Assembler) Assemble(ctx context.Context, req Request) (*Result, error) {
	if err := req.Scope.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	ctx, span := tracer.Start(ctx, "selection.assemble")
	defer span.End()

	ps := a.variants.Assign(req.Scope.TaskID, req.Scope.ProjectID)
	span.SetAttributes(
		attribute.String("scope", req.Scope.Key()),
		attribute.String("variant", ps.Name),
		attribute.String("task_type", req.TaskType),
		attribute.Int("query_length", len(req.Query)),
	)

	got, degraded := a.fetch(ctx, req)
	if err := ctx.Err(); err != nil {
		assembliesTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	cands := a.merge(req, got)
	a.scoreAll(cands, req, got.similarity, ps)

	mandates := passing(cands, knowledge.TierMandate, got.demoted)
	guardrails := passing(cands, knowledge.TierGuardrail, got.demoted)
	references := passing(cands, knowledge.TierReference, got.demoted)
	sortCandidates(mandates)
	sortCandidates(guardrails)
	sortCandidates(references)

	budget := req.TokenBudget
	if budget <= 0 {
		budget = a.tokenBudget
	}
	res := render(mandates, guardrails, references, budget)

	res.Metrics.Variant = ps.Name
	res.Metrics.DegradedTiers = degraded
	res.Metrics.Duration = time.Since(start)

	a.record(req, res, degraded)
	span.SetAttributes(
		attribute.Int("mandates", res.Metrics.Mandates),
		attribute.Int("guardrails", res.Metrics.Guardrails),
		attribute.Int("references", res.Metrics.References),
		attribute.Int("tokens", res.Metrics.TotalTokens),
		attribute.StringSlice("degraded", degraded),
	)
	return res, nil
}

// fetch runs every candidate fetch concurrently and joins the results.
// Each fetch gets its own timeout; failures leave the slot empty and the
// source name in the degraded list.
func (a *Assembler) fetch(ctx context.Context, req Request) (*fetched, []string) {
	got := &fetched{tiers: make(map[knowledge.Tier][]*knowledge.Item, len(knowledge.InjectionTiers))}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		degraded []string
	)
	run := func(source string, fn func(ctx context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fctx, cancel := context.WithTimeout(ctx, a.fetchTimeout)
			defer cancel()
			if err := fn(fctx); err != nil {
				mu.Lock()
				degraded = append(degraded, source)
				mu.Unlock()
				degradedFetches.WithLabelValues(source).Inc()
				a.logger.Warn("candidate fetch degraded to empty",
					zap.String("source", source),
					zap.String("scope", req.Scope.Key()),
					zap.Error(err))
			}
		}()
	}

	for _, tier := range knowledge.InjectionTiers {
		run(string(tier), func(ctx context.Context) error {
			items, err := a.listChain(ctx, req.Scope, func(ctx context.Context, sc knowledge.Scope) ([]*knowledge.Item, error) {
				return a.store.ListByTier(ctx, sc, tier)
			})
			if err != nil {
				return err
			}
			mu.Lock()
			got.tiers[tier] = items
			mu.Unlock()
			return nil
		})
	}

	run(sourceAutoInject, func(ctx context.Context) error {
		items, err := a.listChain(ctx, req.Scope, a.store.ListAutoInject)
		if err != nil {
			return err
		}
		got.autoInject = items
		return nil
	})

	if req.TaskType != "" {
		run(sourceTrigger, func(ctx context.Context) error {
			items, err := a.listChain(ctx, req.Scope, func(ctx context.Context, sc knowledge.Scope) ([]*knowledge.Item, error) {
				return a.store.ListByTrigger(ctx, sc, req.TaskType)
			})
			if err != nil {
				return err
			}
			got.triggered = items
			return nil
		})
	}

	if req.Query != "" {
		run(sourceSimilarity, func(ctx context.Context) error {
			sims, err := a.fetchSimilarity(ctx, req.Scope, req.Query)
			if err != nil {
				return err
			}
			got.similarity = sims
			return nil
		})
	}

	if a.refresher != nil {
		run(sourceIndex, func(ctx context.Context) error {
			snap, err := a.refresher.Get(ctx, req.Scope)
			if err != nil {
				return err
			}
			demoted := make(map[string]bool)
			for _, id := range snap.DemotedIDs() {
				demoted[id] = true
			}
			got.demoted = demoted
			return nil
		})
	}

	wg.Wait()
	sort.Strings(degraded)
	return got, degraded
}

// listChain collects items from every scope in the visibility chain.
func (a *Assembler) listChain(ctx context.Context, scope knowledge.Scope, list func(context.Context, knowledge.Scope) ([]*knowledge.Item, error)) ([]*knowledge.Item, error) {
	var out []*knowledge.Item
	for _, sc := range scope.Chain() {
		items, err := list(ctx, sc)
		if err != nil {
			return nil, err
		}
		out = append(out, items...)
	}
	return out, nil
}

// fetchSimilarity searches every scope in the chain and keeps the highest
// similarity seen per item.
func (a *Assembler) fetchSimilarity(ctx context.Context, scope knowledge.Scope, query string) (map[string]float64, error) {
	sims := make(map[string]float64)
	for _, sc := range scope.Chain() {
		matches, err := a.store.SearchSimilar(ctx, knowledge.SimilarityQuery{
			Text:  query,
			Scope: sc,
			TopK:  a.similarityTopK,
		})
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			if m.Similarity > sims[m.ID] {
				sims[m.ID] = m.Similarity
			}
		}
	}
	return sims, nil
}

// merge deduplicates the fetched items by identifier. Inclusion flags come
// from the item itself, not from which fetch returned it, so a degraded
// auto-inject fetch does not strip the forced flag from an item the tier
// fetch already found.
func (a *Assembler) merge(req Request, got *fetched) map[string]*candidate {
	merged := make(map[string]*candidate)
	add := func(items []*knowledge.Item) {
		for _, it := range items {
			if it == nil || !injectable(it.Tier) {
				continue
			}
			if _, ok := merged[it.ID]; ok {
				continue
			}
			merged[it.ID] = &candidate{
				item:      it,
				forced:    it.AutoInject,
				triggered: req.TaskType != "" && hasTrigger(it, req.TaskType),
			}
		}
	}
	for _, tier := range knowledge.InjectionTiers {
		add(got.tiers[tier])
	}
	add(got.autoInject)
	add(got.triggered)
	return merged
}

// scoreAll scores every candidate under the assigned parameter set.
func (a *Assembler) scoreAll(cands map[string]*candidate, req Request, sims map[string]float64, ps scoring.ParameterSet) {
	for _, c := range cands {
		c.score = a.engine.Score(scoring.Candidate{
			Item:       c.item,
			Similarity: sims[c.item.ID],
			QueryTags:  req.QueryTags,
		}, c.item.Tier, ps)
	}
}

// passing returns the candidates of one tier that survive the relevance
// threshold and the demotion filter. Forced items bypass both; triggered
// items bypass only the threshold. Pinned items are never demoted.
func passing(cands map[string]*candidate, tier knowledge.Tier, demoted map[string]bool) []*candidate {
	var out []*candidate
	for _, c := range cands {
		if c.item.Tier != tier {
			continue
		}
		if !c.forced {
			if demoted[c.item.ID] && !c.item.Pinned {
				continue
			}
			if !c.score.Passes && !c.triggered {
				continue
			}
		}
		out = append(out, c)
	}
	return out
}

// sortCandidates orders by final score descending, breaking ties by display
// order and then identifier so equal-scored output is stable.
func sortCandidates(cands []*candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].score.Final != cands[j].score.Final {
			return cands[i].score.Final > cands[j].score.Final
		}
		if cands[i].item.DisplayOrder != cands[j].item.DisplayOrder {
			return cands[i].item.DisplayOrder < cands[j].item.DisplayOrder
		}
		return cands[i].item.ID < cands[j].item.ID
	})
}

// render assembles the final text. Mandates and guardrails are always
// included; references fill whatever budget remains. Once a reference does
// not fit, later cheaper references are not considered, keeping inclusion
// strictly by rank. Forced references ignore the budget.
func render(mandates, guardrails, references []*candidate, budget int) *Result {
	res := &Result{}
	var blocks []string
	tokens := 0

	include := func(c *candidate) {
		block := c.item.Marker() + " " + c.item.Content
		blocks = append(blocks, block)
		res.Items = append(res.Items, c.item)
		res.Metrics.InjectedIDs = append(res.Metrics.InjectedIDs, c.item.ID)
		tokens += estimateTokens(block)
	}

	for _, c := range mandates {
		include(c)
	}
	res.Metrics.Mandates = len(blocks)

	for _, c := range guardrails {
		include(c)
	}
	res.Metrics.Guardrails = len(blocks) - res.Metrics.Mandates

	exhausted := false
	for _, c := range references {
		if !c.forced {
			if exhausted {
				continue
			}
			cost := estimateTokens(c.item.Marker() + " " + c.item.Content)
			if tokens+cost > budget {
				exhausted = true
				continue
			}
		}
		include(c)
	}
	res.Metrics.References = len(blocks) - res.Metrics.Mandates - res.Metrics.Guardrails

	res.Text = strings.Join(blocks, "\n")
	res.Metrics.TotalTokens = tokens
	return res
}

// record emits metrics and logs for one finished assembly and feeds the
// injected identifiers into usage tracking.
func (a *Assembler) record(req Request, res *Result, degraded []string) {
	result := "success"
	if len(degraded) > 0 {
		result = "degraded"
	}
	assembliesTotal.WithLabelValues(result).Inc()
	injectedItems.WithLabelValues(string(knowledge.TierMandate)).Add(float64(res.Metrics.Mandates))
	injectedItems.WithLabelValues(string(knowledge.TierGuardrail)).Add(float64(res.Metrics.Guardrails))
	injectedItems.WithLabelValues(string(knowledge.TierReference)).Add(float64(res.Metrics.References))
	assemblyDuration.Observe(res.Metrics.Duration.Seconds())
	assemblyTokens.Observe(float64(res.Metrics.TotalTokens))

	if a.tracker != nil && len(res.Metrics.InjectedIDs) > 0 {
		a.tracker.RecordLoaded(res.Metrics.InjectedIDs...)
	}

	a.logger.Debug("assembled context",
		zap.String("scope", req.Scope.Key()),
		zap.String("variant", res.Metrics.Variant),
		zap.Int("mandates", res.Metrics.Mandates),
		zap.Int("guardrails", res.Metrics.Guardrails),
		zap.Int("references", res.Metrics.References),
		zap.Int("tokens", res.Metrics.TotalTokens),
		zap.Strings("degraded", degraded),
		zap.Duration("duration", res.Metrics.Duration))
}

func injectable(tier knowledge.Tier) bool {
	for _, t := range knowledge.InjectionTiers {
		if tier == t {
			return true
		}
	}
	return false
}

func hasTrigger(it *knowledge.Item, taskType string) bool {
	for _, t := range it.TriggerTaskTypes {
		if t == taskType {
			return true
		}
	}
	return false
}

// estimateTokens approximates the token cost of rendered text. Budgets are
// soft bounds, so a character heuristic beats carrying a tokenizer.
func estimateTokens(s string) int {
	if s == "" {
		return 0
	}
	return (len(s) + charsPerToken - 1) / charsPerToken
}
