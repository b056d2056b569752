package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apiguardian/internal/catalog"
	"apiguardian/types"
)

func newTestPlanner(t *testing.T) *FallbackPlanner {
	t.Helper()
	cat, err := catalog.New()
	require.NoError(t, err)
	return New(cat)
}

// TestPlanDeterminism verifies two invocations over the same input produce
// identical actions (kinds, targets, risk levels, order).
func TestPlanDeterminism(t *testing.T) {
	p := newTestPlanner(t)

	endpoint := types.EndpointDescriptor{
		ID:       "ep-1",
		Path:     "/patients/{id}",
		Method:   "POST",
		Industry: "healthcare",
	}
	bctx := types.BusinessContext{Industry: "healthcare", DataSensitivity: "regulated"}

	first := p.Plan(endpoint, bctx)
	second := p.Plan(endpoint, bctx)

	assert.Equal(t, first.Actions, second.Actions)
	assert.Equal(t, first.Findings, second.Findings)
	assert.Equal(t, first.Frameworks, second.Frameworks)
	assert.NotEqual(t, first.ID, second.ID, "each plan is a new plan")
}

// TestPlanHealthcareNoAuth mirrors the canonical scenario: an endpoint with
// no security schemes in a healthcare context yields a high-severity
// API2:2023 finding mapped to HIPAA.
func TestPlanHealthcareNoAuth(t *testing.T) {
	p := newTestPlanner(t)

	endpoint := types.EndpointDescriptor{
		ID:       "ep-2",
		Path:     "/patients",
		Method:   "GET",
		Security: []types.SecurityScheme{},
		Industry: "healthcare",
	}

	plan := p.Plan(endpoint, types.BusinessContext{})

	require.NotEmpty(t, plan.Actions, "a non-trivial endpoint never yields an empty plan")
	assert.Equal(t, types.PlanSourceFallback, plan.Source)
	assert.True(t, plan.Validated)
	assert.Contains(t, plan.Frameworks, "HIPAA")

	var authFinding bool
	for _, f := range plan.Findings {
		if f.Category == "API2:2023" && f.Severity == types.SeverityHigh {
			authFinding = true
		}
	}
	assert.True(t, authFinding, "API2:2023 high finding expected")
}

// TestPlanRiskDerivedFromSeverity verifies the uniform severity→risk mapping
// that lets the safety governor treat both plan sources identically.
func TestPlanRiskDerivedFromSeverity(t *testing.T) {
	p := newTestPlanner(t)

	endpoint := types.EndpointDescriptor{
		ID:     "ep-3",
		Path:   "/orders",
		Method: "GET",
		Security: []types.SecurityScheme{
			{Type: "apiKey", Name: "api_key", In: "query"},
		},
		Industry: "retail",
	}

	plan := p.Plan(endpoint, types.BusinessContext{})

	require.NotEmpty(t, plan.Actions)
	for _, action := range plan.Actions {
		if action.RuleID == "KEY-001" {
			assert.Equal(t, types.RiskMedium, action.Risk)
			if action.Kind.Mutating() {
				assert.True(t, action.RequiresApproval)
			}
		}
	}
}

// TestPlanIndustryFromBusinessContext verifies the business context supplies
// the industry when the descriptor omits it.
func TestPlanIndustryFromBusinessContext(t *testing.T) {
	p := newTestPlanner(t)

	endpoint := types.EndpointDescriptor{ID: "ep-4", Path: "/claims", Method: "GET"}
	plan := p.Plan(endpoint, types.BusinessContext{Industry: "financial"})

	assert.Equal(t, []string{"PCI-DSS", "SOX"}, plan.Frameworks)
}

// TestPlanEmptyDescriptor verifies the planner is total: malformed or empty
// input still returns a usable plan.
func TestPlanEmptyDescriptor(t *testing.T) {
	p := newTestPlanner(t)

	var plan *types.DecisionPlan
	assert.NotPanics(t, func() {
		plan = p.Plan(types.EndpointDescriptor{}, types.BusinessContext{})
	})
	require.NotNil(t, plan)
	assert.Equal(t, types.PlanSourceFallback, plan.Source)
	assert.NotNil(t, plan.Actions)
}

// TestPlanMutatingTargetsCarryExtensions verifies every mutating action the
// catalog suggests targets a whitelisted-style file path, not an endpoint id.
func TestPlanMutatingTargetsCarryExtensions(t *testing.T) {
	p := newTestPlanner(t)

	endpoint := types.EndpointDescriptor{
		ID:     "ep-5",
		Path:   "/payments",
		Method: "POST",
		Security: []types.SecurityScheme{
			{Type: "apiKey", Name: "key", In: "query"},
		},
		Industry: "financial",
	}

	plan := p.Plan(endpoint, types.BusinessContext{})
	for _, action := range plan.Actions {
		if action.Kind.Mutating() {
			assert.Contains(t, action.Target, ".", "mutating action %s needs a file target", action.RuleID)
		}
	}
}
