// Package scoring computes composite relevance scores for knowledge items.
//
// The engine is a pure function of a candidate and a parameter set: four
// weighted components (semantic similarity, usage effectiveness, stored
// confidence, recency decay) multiplied by a tier multiplier and an optional
// tag-match boost. Parameter sets are named, immutable variants; tasks are
// assigned one deterministically by hashing their identifiers, which keeps
// controlled experiments reproducible.
package scoring
