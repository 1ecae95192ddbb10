package selection

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/relevanced/internal/index"
	"github.com/fyrsmithlabs/relevanced/internal/knowledge"
	"github.com/fyrsmithlabs/relevanced/internal/scoring"
	"github.com/fyrsmithlabs/relevanced/internal/usage"
)

// faultyStore wraps the in-memory store and fails ListByTier for one tier.
type faultyStore struct {
	knowledge.Store

	failTier knowledge.Tier
}

func (f *faultyStore) ListByTier(ctx context.Context, scope knowledge.Scope, tier knowledge.Tier) ([]*knowledge.Item, error) {
	if tier == f.failTier {
		return nil, knowledge.ErrStoreUnavailable
	}
	return f.Store.ListByTier(ctx, scope, tier)
}

// mustAssembler builds an assembler pinned to the control parameter set so
// score expectations are deterministic.
func mustAssembler(t *testing.T, store knowledge.Store, opts ...AssemblerOption) *Assembler {
	t.Helper()
	variants, err := scoring.NewVariants(scoring.DefaultParameterSet())
	require.NoError(t, err)
	a, err := NewAssembler(store, scoring.NewEngine(), variants, nil, opts...)
	require.NoError(t, err)
	return a
}

func seedItem(t *testing.T, store knowledge.Store, content string, tier knowledge.Tier, scope knowledge.Scope, mut ...func(*knowledge.Item)) *knowledge.Item {
	t.Helper()
	item, err := knowledge.NewItem(content, "", tier, scope, nil)
	require.NoError(t, err)
	for _, m := range mut {
		m(item)
	}
	require.NoError(t, store.Insert(context.Background(), item))
	return item
}

// stale pushes the item two years back with usage and confidence zeroed, so
// only the semantic component or an inclusion flag can save it.
func stale(it *knowledge.Item) {
	it.CreatedAt = time.Now().Add(-2 * 365 * 24 * time.Hour)
	it.UpdatedAt = it.CreatedAt
	it.Usage = knowledge.UsageStats{Loaded: 10}
	it.Source.Confidence = 0
}

func block(it *knowledge.Item) string {
	return it.Marker() + " " + it.Content
}

func TestNewAssembler_NilStore(t *testing.T) {
	_, err := NewAssembler(nil, nil, nil, nil)
	assert.ErrorIs(t, err, ErrNilStore)
}

func TestAssembler_Assemble_InvalidScope(t *testing.T) {
	a := mustAssembler(t, knowledge.NewInMemoryStore(nil))

	_, err := a.Assemble(context.Background(), Request{Scope: knowledge.Scope{Level: knowledge.ScopeTask}})
	assert.ErrorIs(t, err, knowledge.ErrInvalidScope)
}

func TestAssembler_Assemble_EmptyStore(t *testing.T) {
	a := mustAssembler(t, knowledge.NewInMemoryStore(nil))

	res, err := a.Assemble(context.Background(), Request{Scope: knowledge.GlobalScope()})
	require.NoError(t, err)
	assert.Empty(t, res.Text)
	assert.Empty(t, res.Items)
	assert.Empty(t, res.Metrics.InjectedIDs)
	assert.Zero(t, res.Metrics.TotalTokens)
	assert.Equal(t, "control", res.Metrics.Variant)
}

func TestAssembler_Assemble_TierOrdering(t *testing.T) {
	store := knowledge.NewInMemoryStore(nil)
	scope := knowledge.GlobalScope()
	mandate := seedItem(t, store, "Always run migrations inside a transaction.", knowledge.TierMandate, scope)
	guardrail := seedItem(t, store, "Never disable TLS verification.", knowledge.TierGuardrail, scope)
	ref := seedItem(t, store, "The staging cluster lives in us-east-1.", knowledge.TierReference, scope)
	a := mustAssembler(t, store)

	res, err := a.Assemble(context.Background(), Request{Scope: scope})
	require.NoError(t, err)

	wantText := strings.Join([]string{block(mandate), block(guardrail), block(ref)}, "\n")
	assert.Equal(t, wantText, res.Text)
	assert.Equal(t, []string{mandate.ID, guardrail.ID, ref.ID}, res.Metrics.InjectedIDs)
	assert.Equal(t, 1, res.Metrics.Mandates)
	assert.Equal(t, 1, res.Metrics.Guardrails)
	assert.Equal(t, 1, res.Metrics.References)
	assert.Empty(t, res.Metrics.DegradedTiers)
	assert.Positive(t, res.Metrics.TotalTokens)

	require.Len(t, res.Items, 3)
	assert.True(t, strings.HasPrefix(res.Text, "[M:"))
	assert.Contains(t, res.Text, "\n[G:")
	assert.Contains(t, res.Text, "\n[R:")
}

func TestAssembler_Assemble_ReferenceBudget(t *testing.T) {
	store := knowledge.NewInMemoryStore(nil)
	scope := knowledge.GlobalScope()
	mandate := seedItem(t, store, "Review every schema change.", knowledge.TierMandate, scope)
	refFirst := seedItem(t, store, "Connection pool defaults to twenty.", knowledge.TierReference, scope, func(it *knowledge.Item) {
		it.DisplayOrder = 1
	})
	refSecond := seedItem(t, store, "Retention for audit logs is ninety days.", knowledge.TierReference, scope, func(it *knowledge.Item) {
		it.DisplayOrder = 2
	})
	a := mustAssembler(t, store)

	// Room for the mandate and exactly one reference.
	budget := estimateTokens(block(mandate)) + estimateTokens(block(refFirst))
	res, err := a.Assemble(context.Background(), Request{Scope: scope, TokenBudget: budget})
	require.NoError(t, err)

	assert.Equal(t, []string{mandate.ID, refFirst.ID}, res.Metrics.InjectedIDs)
	assert.Equal(t, 1, res.Metrics.References)
	assert.NotContains(t, res.Text, refSecond.ShortID())
	assert.LessOrEqual(t, res.Metrics.TotalTokens, budget)
}

func TestAssembler_Assemble_MandatesExceedBudget(t *testing.T) {
	store := knowledge.NewInMemoryStore(nil)
	scope := knowledge.GlobalScope()
	mandate := seedItem(t, store, "Secrets rotate every thirty days and never land in source control or logs.", knowledge.TierMandate, scope)
	ref := seedItem(t, store, "Build images are cached per branch.", knowledge.TierReference, scope)
	a := mustAssembler(t, store)

	res, err := a.Assemble(context.Background(), Request{Scope: scope, TokenBudget: 1})
	require.NoError(t, err)

	// The mandate is injected even though it alone blows the budget; the
	// reference no longer fits.
	assert.Equal(t, []string{mandate.ID}, res.Metrics.InjectedIDs)
	assert.Equal(t, 1, res.Metrics.Mandates)
	assert.Zero(t, res.Metrics.References)
	assert.NotContains(t, res.Text, ref.ShortID())
	assert.Greater(t, res.Metrics.TotalTokens, 1)
}

func TestAssembler_Assemble_AutoInjectBypassesBudgetAndThreshold(t *testing.T) {
	store := knowledge.NewInMemoryStore(nil)
	scope := knowledge.GlobalScope()
	forced := seedItem(t, store, "Feature flags live in the platform config service.", knowledge.TierReference, scope, stale, func(it *knowledge.Item) {
		it.AutoInject = true
	})
	seedItem(t, store, "Unforced reference that scores fine.", knowledge.TierReference, scope)
	a := mustAssembler(t, store)

	res, err := a.Assemble(context.Background(), Request{Scope: scope, TokenBudget: 1})
	require.NoError(t, err)

	assert.Equal(t, []string{forced.ID}, res.Metrics.InjectedIDs)
	assert.Equal(t, 1, res.Metrics.References)
}

func TestAssembler_Assemble_PendingNeverInjected(t *testing.T) {
	store := knowledge.NewInMemoryStore(nil)
	scope := knowledge.GlobalScope()
	seedItem(t, store, "Captured but not yet reviewed.", knowledge.TierPendingReview, scope, func(it *knowledge.Item) {
		it.AutoInject = true
	})
	a := mustAssembler(t, store)

	res, err := a.Assemble(context.Background(), Request{Scope: scope})
	require.NoError(t, err)
	assert.Empty(t, res.Metrics.InjectedIDs)
	assert.Empty(t, res.Text)
}

func TestAssembler_Assemble_TriggerMatchBypassesThreshold(t *testing.T) {
	store := knowledge.NewInMemoryStore(nil)
	scope := knowledge.GlobalScope()
	runbook := seedItem(t, store, "Deploys drain the old pods before shifting traffic.", knowledge.TierReference, scope, stale, func(it *knowledge.Item) {
		it.TriggerTaskTypes = []string{"deploy"}
	})
	a := mustAssembler(t, store)

	res, err := a.Assemble(context.Background(), Request{Scope: scope, TaskType: "deploy"})
	require.NoError(t, err)
	assert.Equal(t, []string{runbook.ID}, res.Metrics.InjectedIDs)

	res, err = a.Assemble(context.Background(), Request{Scope: scope, TaskType: "refactor"})
	require.NoError(t, err)
	assert.Empty(t, res.Metrics.InjectedIDs)

	res, err = a.Assemble(context.Background(), Request{Scope: scope})
	require.NoError(t, err)
	assert.Empty(t, res.Metrics.InjectedIDs)
}

func TestAssembler_Assemble_SimilarityDrivesInclusion(t *testing.T) {
	store := knowledge.NewInMemoryStore(nil)
	scope := knowledge.GlobalScope()
	match := seedItem(t, store, "rotate the signing keys quarterly", knowledge.TierReference, scope, stale)
	other := seedItem(t, store, "database connection pooling guidance", knowledge.TierReference, scope, stale)
	a := mustAssembler(t, store)

	res, err := a.Assemble(context.Background(), Request{
		Scope: scope,
		Query: "rotate the signing keys quarterly",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{match.ID}, res.Metrics.InjectedIDs)
	assert.NotContains(t, res.Text, other.ShortID())
}

func TestAssembler_Assemble_DemotedFiltered(t *testing.T) {
	ctx := context.Background()
	scope := knowledge.GlobalScope()

	seed := func(t *testing.T, pinCold bool) (*knowledge.InMemoryStore, [3]*knowledge.Item) {
		t.Helper()
		store := knowledge.NewInMemoryStore(nil)
		withStats := func(referenced int, pinned bool) func(*knowledge.Item) {
			return func(it *knowledge.Item) {
				it.Usage = knowledge.UsageStats{Loaded: 10, Referenced: referenced}
				it.Source.Confidence = 80
				it.Pinned = pinned
			}
		}
		hot := seedItem(t, store, "Trace IDs propagate through every queue hop.", knowledge.TierReference, scope, withStats(9, false))
		warm := seedItem(t, store, "Canary traffic starts at five percent.", knowledge.TierReference, scope, withStats(8, false))
		cold := seedItem(t, store, "Old notes about the retired cron host.", knowledge.TierReference, scope, withStats(3, pinCold))
		return store, [3]*knowledge.Item{hot, warm, cold}
	}

	t.Run("demoted item dropped", func(t *testing.T) {
		store, items := seed(t, false)
		refresher, err := index.NewRefresher(store, nil, nil)
		require.NoError(t, err)
		a := mustAssembler(t, store, WithRefresher(refresher))

		res, err := a.Assemble(ctx, Request{Scope: scope})
		require.NoError(t, err)

		assert.Contains(t, res.Metrics.InjectedIDs, items[0].ID)
		assert.Contains(t, res.Metrics.InjectedIDs, items[1].ID)
		assert.NotContains(t, res.Metrics.InjectedIDs, items[2].ID)
	})

	t.Run("pinned item survives demotion", func(t *testing.T) {
		store, items := seed(t, true)
		refresher, err := index.NewRefresher(store, nil, nil)
		require.NoError(t, err)
		a := mustAssembler(t, store, WithRefresher(refresher))

		res, err := a.Assemble(ctx, Request{Scope: scope})
		require.NoError(t, err)
		assert.Contains(t, res.Metrics.InjectedIDs, items[2].ID)
	})

	t.Run("no refresher no filtering", func(t *testing.T) {
		store, items := seed(t, false)
		a := mustAssembler(t, store)

		res, err := a.Assemble(ctx, Request{Scope: scope})
		require.NoError(t, err)
		assert.Contains(t, res.Metrics.InjectedIDs, items[2].ID)
	})
}

func TestAssembler_Assemble_DegradedTierContinues(t *testing.T) {
	store := knowledge.NewInMemoryStore(nil)
	scope := knowledge.GlobalScope()
	mandate := seedItem(t, store, "Production access goes through the bastion.", knowledge.TierMandate, scope)
	seedItem(t, store, "Never bypass the review queue.", knowledge.TierGuardrail, scope)
	ref := seedItem(t, store, "The bastion host rotates weekly.", knowledge.TierReference, scope)

	a := mustAssembler(t, &faultyStore{Store: store, failTier: knowledge.TierGuardrail})

	res, err := a.Assemble(context.Background(), Request{Scope: scope})
	require.NoError(t, err)

	assert.Equal(t, []string{mandate.ID, ref.ID}, res.Metrics.InjectedIDs)
	assert.Zero(t, res.Metrics.Guardrails)
	assert.Equal(t, []string{string(knowledge.TierGuardrail)}, res.Metrics.DegradedTiers)
}

func TestAssembler_Assemble_ScopeChain(t *testing.T) {
	store := knowledge.NewInMemoryStore(nil)
	global := seedItem(t, store, "Platform mandates apply everywhere.", knowledge.TierMandate, knowledge.GlobalScope())
	project := seedItem(t, store, "Project guardrail for api-gateway.", knowledge.TierGuardrail, knowledge.ProjectScope("api-gateway"))
	task := seedItem(t, store, "Scratch notes for this migration task.", knowledge.TierReference, knowledge.TaskScope("api-gateway", "task-7"))
	a := mustAssembler(t, store)

	res, err := a.Assemble(context.Background(), Request{Scope: knowledge.TaskScope("api-gateway", "task-7")})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{global.ID, project.ID, task.ID}, res.Metrics.InjectedIDs)

	res, err = a.Assemble(context.Background(), Request{Scope: knowledge.ProjectScope("api-gateway")})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{global.ID, project.ID}, res.Metrics.InjectedIDs)
}

func TestAssembler_Assemble_TieBreakByDisplayOrder(t *testing.T) {
	store := knowledge.NewInMemoryStore(nil)
	scope := knowledge.GlobalScope()
	created := time.Now().Add(-time.Hour)
	pin := func(order int) func(*knowledge.Item) {
		return func(it *knowledge.Item) {
			it.CreatedAt = created
			it.UpdatedAt = created
			it.DisplayOrder = order
		}
	}
	second := seedItem(t, store, "Second by explicit order.", knowledge.TierReference, scope, pin(2))
	first := seedItem(t, store, "First by explicit order.", knowledge.TierReference, scope, pin(1))
	a := mustAssembler(t, store)

	res, err := a.Assemble(context.Background(), Request{Scope: scope})
	require.NoError(t, err)
	assert.Equal(t, []string{first.ID, second.ID}, res.Metrics.InjectedIDs)
}

func TestAssembler_Assemble_RecordsLoads(t *testing.T) {
	store := knowledge.NewInMemoryStore(nil)
	scope := knowledge.GlobalScope()
	mandate := seedItem(t, store, "Keep rollbacks to one command.", knowledge.TierMandate, scope)
	ref := seedItem(t, store, "Deployment history is kept for a year.", knowledge.TierReference, scope)

	tracker, err := usage.NewTracker(store, nil)
	require.NoError(t, err)
	a := mustAssembler(t, store, WithTracker(tracker))

	res, err := a.Assemble(context.Background(), Request{Scope: scope})
	require.NoError(t, err)
	require.Len(t, res.Metrics.InjectedIDs, 2)

	assert.Equal(t, 2, tracker.Pending())
	require.NoError(t, tracker.Flush(context.Background()))

	for _, id := range []string{mandate.ID, ref.ID} {
		got, err := store.Get(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, 1, got.Usage.Loaded)
	}
}

func TestAssembler_Assemble_VariantStableAcrossCalls(t *testing.T) {
	store := knowledge.NewInMemoryStore(nil)
	a, err := NewAssembler(store, nil, nil, nil)
	require.NoError(t, err)

	scope := knowledge.TaskScope("api-gateway", "task-42")
	first, err := a.Assemble(context.Background(), Request{Scope: scope})
	require.NoError(t, err)
	require.NotEmpty(t, first.Metrics.Variant)

	for i := 0; i < 5; i++ {
		res, err := a.Assemble(context.Background(), Request{Scope: scope})
		require.NoError(t, err)
		assert.Equal(t, first.Metrics.Variant, res.Metrics.Variant)
	}
}

func TestEstimateTokens(t *testing.T) {
	assert.Zero(t, estimateTokens(""))
	assert.Equal(t, 1, estimateTokens("abc"))
	assert.Equal(t, 1, estimateTokens("abcd"))
	assert.Equal(t, 2, estimateTokens("abcde"))
}
