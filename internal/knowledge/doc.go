// Package knowledge defines the data model and store contract for the
// relevance-scoring layer.
//
// The package owns the Item type (a unit of stored knowledge with tier, scope,
// and usage statistics), the three-level visibility Scope, the SourceDescriptor
// wire codec, and the Store interface every backend adapter implements. An
// in-memory Store ships here for tests and ephemeral runs.
//
// # Tiers
//
// Items carry a tier that controls injection priority:
//   - mandate: binding rules, always injected
//   - guardrail: hard constraints, always injected
//   - reference: soft facts, injected when relevant within the token budget
//   - pending_review: recorded but not yet classified, never injected
//
// # Scopes
//
// Visibility is hierarchical: GLOBAL ⊃ PROJECT ⊃ TASK. A task sees items in
// its own task scope, its project scope, and the global scope. Promotion only
// ever widens an item's scope.
//
// # Usage feedback
//
// Every item accumulates loaded/referenced counters. Their ratio (the item's
// effectiveness) feeds the scoring engine and the adaptive index demotion
// rule, closing the selection feedback loop.
package knowledge
