package cluster

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrNilClient indicates the adjudicator was constructed without a model
// client.
var ErrNilClient = errors.New("model client cannot be nil")

const (
	// Adjudication rides on the write path of golden-standard recording,
	// which is rare, so the throttle is conservative.
	defaultAdjudicationRate  = rate.Limit(30.0 / 60.0)
	defaultAdjudicationBurst = 3

	defaultAdjudicationTimeout = 30 * time.Second

	maxPromptTextLength = 4096
)

const adjudicationSystemPrompt = `You compare two engineering standards and decide how the second relates to the first.

Answer "rephrase" when both state the same rule in different words: merging them loses nothing.
Answer "variation" when the second adds, narrows, or changes the rule in any way: both must be kept.
When unsure, answer "variation".

Reply with exactly one line in the form:
DECISION: rephrase
or
DECISION: variation`

// Adjudicator asks the disambiguation model whether new content rephrases an
// existing canonical item or varies it. Calls are rate limited and carry
// their own timeout.
type Adjudicator struct {
	client  LLMClient
	logger  *zap.Logger
	limiter *rate.Limiter
	timeout time.Duration
}

// AdjudicatorOption configures an Adjudicator.
type AdjudicatorOption func(*Adjudicator)

// WithRateLimit overrides the calls-per-second throttle.
func WithRateLimit(limit rate.Limit, burst int) AdjudicatorOption {
	return func(a *Adjudicator) {
		if limit > 0 && burst > 0 {
			a.limiter = rate.NewLimiter(limit, burst)
		}
	}
}

// WithTimeout bounds a single adjudication call.
func WithTimeout(d time.Duration) AdjudicatorOption {
	return func(a *Adjudicator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// NewAdjudicator creates an adjudicator around the given model client.
func NewAdjudicator(client LLMClient, logger *zap.Logger, opts ...AdjudicatorOption) (*Adjudicator, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &Adjudicator{
		client:  client,
		logger:  logger,
		limiter: rate.NewLimiter(defaultAdjudicationRate, defaultAdjudicationBurst),
		timeout: defaultAdjudicationTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Adjudicate decides whether candidate rephrases canonical. On any failure
// it returns DecisionVariation alongside the error so callers can apply the
// safe default and still observe what went wrong.
func (a *Adjudicator) Adjudicate(ctx context.Context, canonical, candidate string) (Decision, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		adjudicationsTotal.WithLabelValues("error").Inc()
		return DecisionVariation, fmt.Errorf("adjudication throttled: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	reply, err := a.client.Complete(ctx, adjudicationSystemPrompt, buildPrompt(canonical, candidate))
	if err != nil {
		adjudicationsTotal.WithLabelValues("error").Inc()
		return DecisionVariation, fmt.Errorf("adjudicate: %w", err)
	}

	decision, ok := ParseDecision(reply)
	if !ok {
		a.logger.Warn("unrecognized adjudication reply, keeping items separate",
			zap.String("reply", clip(reply, 200)))
	}
	adjudicationsTotal.WithLabelValues(decision.String()).Inc()
	return decision, nil
}

func buildPrompt(canonical, candidate string) string {
	var b strings.Builder
	b.WriteString("Existing canonical standard:\n")
	b.WriteString(clip(canonical, maxPromptTextLength))
	b.WriteString("\n\nNew content:\n")
	b.WriteString(clip(candidate, maxPromptTextLength))
	return b.String()
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
