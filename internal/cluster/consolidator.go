package cluster

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/relevanced/internal/knowledge"
)

// ConsolidationRequest names the finished task whose knowledge should be
// promoted into its project.
type ConsolidationRequest struct {
	// ProjectID is the project the task ran under and the promotion target.
	ProjectID string `json:"project_id"`

	// TaskID is the completed task.
	TaskID string `json:"task_id"`

	// Success reports how the task concluded. A failed task promotes
	// nothing; its items stay task-scoped for manual review.
	Success bool `json:"success"`
}

// Scope returns the task scope the request drains.
func (r ConsolidationRequest) Scope() knowledge.Scope {
	return knowledge.TaskScope(r.ProjectID, r.TaskID)
}

// ConsolidationResult reports one consolidation run.
type ConsolidationResult struct {
	// Target is the scope the items were promoted into.
	Target knowledge.Scope `json:"target"`

	// Promoted is how many items were copied into the target scope. The
	// task-scoped originals are retired.
	Promoted int `json:"promoted"`

	// PromotedIDs are the identifiers of the promoted copies.
	PromotedIDs []string `json:"promoted_ids,omitempty"`

	// Duration is how long the run took.
	Duration time.Duration `json:"duration"`
}

// Consolidator moves task-scoped knowledge into the project scope when a
// task completes successfully.
type Consolidator struct {
	store  knowledge.Store
	logger *zap.Logger
}

// NewConsolidator creates a consolidator.
func NewConsolidator(store knowledge.Store, logger *zap.Logger) (*Consolidator, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consolidator{store: store, logger: logger}, nil
}

// Consolidate promotes every item in the request's task scope into the
// project scope and retires the originals. When a promotion fails mid-run
// the partial result is returned alongside the error so callers can see
// how far it got.
func (c *Consolidator) Consolidate(ctx context.Context, req ConsolidationRequest) (*ConsolidationResult, error) {
	source := req.Scope()
	if err := source.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	ctx, span := tracer.Start(ctx, "cluster.consolidate")
	defer span.End()
	span.SetAttributes(
		attribute.String("scope", source.Key()),
		attribute.Bool("success", req.Success),
	)

	res := &ConsolidationResult{Target: knowledge.ProjectScope(req.ProjectID)}

	if !req.Success {
		c.logger.Info("skipping consolidation for failed task",
			zap.String("project_id", req.ProjectID),
			zap.String("task_id", req.TaskID))
		res.Duration = time.Since(start)
		return res, nil
	}

	items, err := c.store.ListByScope(ctx, source)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("list task items for %s: %w", source.Key(), err)
	}

	for _, it := range items {
		newID, err := c.store.Promote(ctx, it.ID, res.Target)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			res.Duration = time.Since(start)
			return res, fmt.Errorf("promote %s: %w", it.ID, err)
		}
		res.Promoted++
		res.PromotedIDs = append(res.PromotedIDs, newID)
	}
	res.Duration = time.Since(start)

	promotedItemsTotal.Add(float64(res.Promoted))
	span.SetAttributes(attribute.Int("promoted", res.Promoted))
	c.logger.Info("consolidated task knowledge",
		zap.String("project_id", req.ProjectID),
		zap.String("task_id", req.TaskID),
		zap.Int("promoted", res.Promoted))
	return res, nil
}
