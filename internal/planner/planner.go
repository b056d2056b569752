// Package planner provides the deterministic rule-based action planner used
// when the reasoning backend is unavailable, times out, or returns an invalid
// response. The planner is a pure function over the finding catalog: no I/O,
// no clock-dependent decisions beyond the plan timestamp.
package planner

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"apiguardian/internal/catalog"
	"apiguardian/types"
)

// FallbackPlanner generates action plans from the static rule catalog.
type FallbackPlanner struct {
	catalog *catalog.Catalog
}

// New creates a fallback planner over the given catalog.
func New(cat *catalog.Catalog) *FallbackPlanner {
	return &FallbackPlanner{catalog: cat}
}

// Plan builds a deterministic DecisionPlan for the endpoint. For identical
// (endpoint, context) inputs the actions are identical in kind, target, risk
// and order; only the plan ID and timestamp differ between invocations.
func (p *FallbackPlanner) Plan(endpoint types.EndpointDescriptor, bctx types.BusinessContext) *types.DecisionPlan {
	industry := endpoint.Industry
	if industry == "" {
		industry = bctx.Industry
	}
	scanned := endpoint
	scanned.Industry = industry

	findings := p.catalog.Scan(scanned)
	frameworks := p.catalog.FrameworksForIndustry(industry)

	actions := make([]types.Action, 0, len(findings))
	for _, finding := range findings {
		rule, ok := p.catalog.RuleByID(finding.RuleID)
		if !ok {
			continue
		}
		risk := types.RiskForSeverity(finding.Severity)
		for _, tmpl := range rule.Actions {
			actions = append(actions, types.Action{
				Kind:             tmpl.Kind,
				Target:           resolveTarget(tmpl.Target, endpoint),
				Params:           copyParams(tmpl.Params),
				Risk:             risk,
				RequiresApproval: tmpl.Kind.Mutating() && risk != types.RiskLow,
				RuleID:           rule.ID,
				Reason:           finding.Title,
			})
		}
	}

	return &types.DecisionPlan{
		ID:          uuid.NewString(),
		Endpoint:    endpoint.ID,
		Source:      types.PlanSourceFallback,
		GeneratedAt: time.Now().UTC(),
		Actions:     actions,
		Findings:    findings,
		Frameworks:  frameworks,
		Validated:   true,
	}
}

// Frameworks returns the compliance frameworks implicated by the analysis
// context, preferring the descriptor's industry tag over the business
// context's.
func (p *FallbackPlanner) Frameworks(endpoint types.EndpointDescriptor, bctx types.BusinessContext) []string {
	industry := endpoint.Industry
	if industry == "" {
		industry = bctx.Industry
	}
	return p.catalog.FrameworksForIndustry(industry)
}

// resolveTarget substitutes the endpoint placeholder in an action template
// target.
func resolveTarget(target string, endpoint types.EndpointDescriptor) string {
	if strings.Contains(target, "{endpoint}") {
		id := endpoint.ID
		if id == "" {
			id = endpoint.Path
		}
		return strings.ReplaceAll(target, "{endpoint}", id)
	}
	return target
}

func copyParams(params map[string]string) map[string]string {
	if len(params) == 0 {
		return nil
	}
	out := make(map[string]string, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}
