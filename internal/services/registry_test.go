package services

import (
	"testing"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/relevanced/internal/cluster"
	"github.com/fyrsmithlabs/relevanced/internal/embeddings"
	"github.com/fyrsmithlabs/relevanced/internal/index"
	"github.com/fyrsmithlabs/relevanced/internal/knowledge"
	"github.com/fyrsmithlabs/relevanced/internal/selection"
	"github.com/fyrsmithlabs/relevanced/internal/usage"
)

func TestNewRegistry(t *testing.T) {
	var _ Registry = (*registry)(nil)
}

func TestRegistryAccessors_Empty(t *testing.T) {
	reg := NewRegistry(Options{})

	if reg.Store() != nil {
		t.Error("expected nil store")
	}
	if reg.Embedder() != nil {
		t.Error("expected nil embedder")
	}
	if reg.Tracker() != nil {
		t.Error("expected nil tracker")
	}
	if reg.Scheduler() != nil {
		t.Error("expected nil scheduler")
	}
	if reg.Refresher() != nil {
		t.Error("expected nil refresher")
	}
	if reg.Assembler() != nil {
		t.Error("expected nil assembler")
	}
	if reg.Clusterer() != nil {
		t.Error("expected nil clusterer")
	}
	if reg.Consolidator() != nil {
		t.Error("expected nil consolidator")
	}
}

func TestRegistryWithServices(t *testing.T) {
	store := knowledge.NewInMemoryStore(zap.NewNop())
	embedder, err := embeddings.NewHashEmbedder(64)
	if err != nil {
		t.Fatalf("NewHashEmbedder: %v", err)
	}
	tracker, err := usage.NewTracker(store, zap.NewNop())
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}
	consolidator, err := cluster.NewConsolidator(store, zap.NewNop())
	if err != nil {
		t.Fatalf("NewConsolidator: %v", err)
	}

	var scheduler *usage.Scheduler
	var refresher *index.Refresher
	var assembler *selection.Assembler
	var clusterer *cluster.Clusterer

	reg := NewRegistry(Options{
		Store:        store,
		Embedder:     embedder,
		Tracker:      tracker,
		Scheduler:    scheduler,
		Refresher:    refresher,
		Assembler:    assembler,
		Clusterer:    clusterer,
		Consolidator: consolidator,
	})

	if reg.Store() != store {
		t.Error("store mismatch")
	}
	if reg.Embedder() != embedder {
		t.Error("embedder mismatch")
	}
	if reg.Tracker() != tracker {
		t.Error("tracker mismatch")
	}
	if reg.Scheduler() != scheduler {
		t.Error("scheduler mismatch")
	}
	if reg.Refresher() != refresher {
		t.Error("refresher mismatch")
	}
	if reg.Assembler() != assembler {
		t.Error("assembler mismatch")
	}
	if reg.Clusterer() != clusterer {
		t.Error("clusterer mismatch")
	}
	if reg.Consolidator() != consolidator {
		t.Error("consolidator mismatch")
	}
}
