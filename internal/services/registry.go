package services

import (
	"github.com/fyrsmithlabs/relevanced/internal/cluster"
	"github.com/fyrsmithlabs/relevanced/internal/embeddings"
	"github.com/fyrsmithlabs/relevanced/internal/index"
	"github.com/fyrsmithlabs/relevanced/internal/knowledge"
	"github.com/fyrsmithlabs/relevanced/internal/selection"
	"github.com/fyrsmithlabs/relevanced/internal/usage"
)

// Registry provides access to all relevanced services.
// Use accessor methods to retrieve individual services.
type Registry interface {
	Store() knowledge.Store
	Embedder() embeddings.Provider
	Tracker() *usage.Tracker
	Scheduler() *usage.Scheduler
	Refresher() *index.Refresher
	Assembler() *selection.Assembler
	Clusterer() *cluster.Clusterer
	Consolidator() *cluster.Consolidator
}

// Options configures the registry with service instances.
type Options struct {
	Store        knowledge.Store
	Embedder     embeddings.Provider
	Tracker      *usage.Tracker
	Scheduler    *usage.Scheduler
	Refresher    *index.Refresher
	Assembler    *selection.Assembler
	Clusterer    *cluster.Clusterer
	Consolidator *cluster.Consolidator
}

// registry is the concrete implementation of Registry.
type registry struct {
	store        knowledge.Store
	embedder     embeddings.Provider
	tracker      *usage.Tracker
	scheduler    *usage.Scheduler
	refresher    *index.Refresher
	assembler    *selection.Assembler
	clusterer    *cluster.Clusterer
	consolidator *cluster.Consolidator
}

// NewRegistry creates a new service registry.
func NewRegistry(opts Options) Registry {
	return &registry{
		store:        opts.Store,
		embedder:     opts.Embedder,
		tracker:      opts.Tracker,
		scheduler:    opts.Scheduler,
		refresher:    opts.Refresher,
		assembler:    opts.Assembler,
		clusterer:    opts.Clusterer,
		consolidator: opts.Consolidator,
	}
}

func (r *registry) Store() knowledge.Store              { return r.store }
func (r *registry) Embedder() embeddings.Provider       { return r.embedder }
func (r *registry) Tracker() *usage.Tracker             { return r.tracker }
func (r *registry) Scheduler() *usage.Scheduler         { return r.scheduler }
func (r *registry) Refresher() *index.Refresher         { return r.refresher }
func (r *registry) Assembler() *selection.Assembler     { return r.assembler }
func (r *registry) Clusterer() *cluster.Clusterer       { return r.clusterer }
func (r *registry) Consolidator() *cluster.Consolidator { return r.consolidator }
