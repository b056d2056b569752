// Package decision implements the decision engine: it turns an endpoint
// descriptor plus business context into a DecisionPlan, preferring the
// external reasoning backend and degrading silently to the deterministic
// fallback planner. Plan never fails; the rest of the pipeline is total.
package decision

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"

	"apiguardian/internal/planner"
	"apiguardian/types"
)

// MemoryRecaller retrieves summaries of similar prior analyses to enrich the
// reasoning prompt. Implementations must be safe for concurrent use.
type MemoryRecaller interface {
	SimilarAnalyses(ctx context.Context, endpoint types.EndpointDescriptor, n int) []string
}

// Engine is the decision engine.
type Engine struct {
	backend      types.ReasoningBackend // nil means fallback-only operation
	fallback     *planner.FallbackPlanner
	memory       MemoryRecaller // optional
	timeout      time.Duration
	schema       string
	schemaLoader gojsonschema.JSONLoader
}

// Option configures an Engine.
type Option func(*Engine)

// WithMemory attaches a decision-memory recaller.
func WithMemory(m MemoryRecaller) Option {
	return func(e *Engine) { e.memory = m }
}

// New creates a decision engine. backend may be nil, in which case every plan
// comes from the fallback planner.
func New(backend types.ReasoningBackend, fallback *planner.FallbackPlanner, timeout time.Duration, opts ...Option) (*Engine, error) {
	schema, err := planSchema()
	if err != nil {
		return nil, err
	}

	e := &Engine{
		backend:      backend,
		fallback:     fallback,
		timeout:      timeout,
		schema:       schema,
		schemaLoader: gojsonschema.NewStringLoader(schema),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Plan produces a DecisionPlan for the endpoint. It never returns an error:
// backend timeout, transport failure and schema violations all resolve to the
// deterministic fallback plan, surfaced only as Source == fallback.
func (e *Engine) Plan(ctx context.Context, endpoint types.EndpointDescriptor, bctx types.BusinessContext) *types.DecisionPlan {
	if e.backend == nil {
		log.Printf("  📋 No reasoning backend configured, using fallback planner for %s", endpoint.Path)
		return e.fallback.Plan(endpoint, bctx)
	}

	var priorAnalyses []string
	if e.memory != nil {
		priorAnalyses = e.memory.SimilarAnalyses(ctx, endpoint, 3)
	}

	prompt := buildPrompt(endpoint, bctx, priorAnalyses)

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	raw, err := e.backend.GenerateStructuredOutput(callCtx, prompt, e.schema)
	if err != nil {
		log.Printf("  ⚠️  Reasoning backend failed for %s: %v. Degrading to fallback planner.", endpoint.Path, err)
		return e.fallback.Plan(endpoint, bctx)
	}

	actions, err := e.parseAndValidate(raw, endpoint)
	if err != nil {
		log.Printf("  ⚠️  Reasoning response rejected for %s: %v. Degrading to fallback planner.", endpoint.Path, err)
		return e.fallback.Plan(endpoint, bctx)
	}

	log.Printf("  🤖 Reasoning backend produced %d actions for %s", len(actions), endpoint.Path)
	return &types.DecisionPlan{
		ID:          uuid.NewString(),
		Endpoint:    endpoint.ID,
		Source:      types.PlanSourceLLM,
		GeneratedAt: time.Now().UTC(),
		Actions:     actions,
		Frameworks:  e.fallback.Frameworks(endpoint, bctx),
		Validated:   true,
	}
}

// Schema exposes the plan-response JSON schema, used by the server to
// document the reasoning contract.
func (e *Engine) Schema() string {
	return e.schema
}
