package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apiguardian/types"
)

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	cat, err := New()
	require.NoError(t, err)
	return cat
}

// TestNewCompilesAllRules ensures every embedded rule parses, validates and
// compiles.
func TestNewCompilesAllRules(t *testing.T) {
	cat := newTestCatalog(t)
	assert.NotEmpty(t, cat.Rules())
	for _, rule := range cat.Rules() {
		assert.NotEmpty(t, rule.ID)
		assert.NotEmpty(t, rule.Category)
		assert.True(t, types.ValidSeverity(rule.Severity), "rule %s severity", rule.ID)
	}
}

// TestScanMissingAuth covers the no-auth endpoint shape.
func TestScanMissingAuth(t *testing.T) {
	cat := newTestCatalog(t)

	endpoint := types.EndpointDescriptor{
		ID:       "ep-1",
		Path:     "/patients",
		Method:   "GET",
		Security: nil,
		Industry: "healthcare",
	}

	findings := cat.Scan(endpoint)

	var hit *types.Finding
	for i := range findings {
		if findings[i].RuleID == "AUTH-001" {
			hit = &findings[i]
		}
	}
	require.NotNil(t, hit, "AUTH-001 must fire for an endpoint with no security schemes")
	assert.Equal(t, "API2:2023", hit.Category)
	assert.Equal(t, types.SeverityHigh, hit.Severity)
	assert.Contains(t, hit.Frameworks, "HIPAA")
	assert.Contains(t, hit.Frameworks, "HITECH")
}

// TestScanAPIKeyInQuery covers the query-string API key shape.
func TestScanAPIKeyInQuery(t *testing.T) {
	cat := newTestCatalog(t)

	endpoint := types.EndpointDescriptor{
		ID:     "ep-2",
		Path:   "/orders",
		Method: "GET",
		Security: []types.SecurityScheme{
			{Type: "apiKey", Name: "api_key", In: "query"},
		},
		Industry: "financial",
	}

	findings := cat.Scan(endpoint)

	ruleIDs := make([]string, 0, len(findings))
	for _, f := range findings {
		ruleIDs = append(ruleIDs, f.RuleID)
	}
	assert.Contains(t, ruleIDs, "KEY-001")
	assert.NotContains(t, ruleIDs, "AUTH-001")
}

// TestScanKeyLocationConditions verifies the key-location rules evaluate the
// scheme and parameter `in` fields, firing only for query placement.
func TestScanKeyLocationConditions(t *testing.T) {
	cat := newTestCatalog(t)

	inQuery := types.EndpointDescriptor{
		ID:     "ep-loc-1",
		Path:   "/orders",
		Method: "GET",
		Security: []types.SecurityScheme{
			{Type: "apiKey", Name: "api_key", In: "query"},
		},
		Parameters: []types.ParameterDescriptor{
			{Name: "access_token", In: "query"},
		},
	}
	ruleIDs := ruleIDsOf(cat.Scan(inQuery))
	assert.Contains(t, ruleIDs, "KEY-001")
	assert.Contains(t, ruleIDs, "KEY-002")

	inHeader := inQuery
	inHeader.ID = "ep-loc-2"
	inHeader.Security = []types.SecurityScheme{
		{Type: "apiKey", Name: "X-Api-Key", In: "header"},
	}
	inHeader.Parameters = []types.ParameterDescriptor{
		{Name: "access_token", In: "header"},
	}
	ruleIDs = ruleIDsOf(cat.Scan(inHeader))
	assert.NotContains(t, ruleIDs, "KEY-001")
	assert.NotContains(t, ruleIDs, "KEY-002")
}

func ruleIDsOf(findings []types.Finding) []string {
	ids := make([]string, 0, len(findings))
	for _, f := range findings {
		ids = append(ids, f.RuleID)
	}
	return ids
}

// TestScanUnauthenticatedWrite covers the critical combined shape.
func TestScanUnauthenticatedWrite(t *testing.T) {
	cat := newTestCatalog(t)

	endpoint := types.EndpointDescriptor{
		ID:       "ep-3",
		Path:     "/accounts/{id}",
		Method:   "DELETE",
		Industry: "financial",
	}

	findings := cat.Scan(endpoint)

	var critical bool
	for _, f := range findings {
		if f.RuleID == "OBJ-002" {
			critical = true
			assert.Equal(t, types.SeverityCritical, f.Severity)
			assert.Equal(t, "API1:2023", f.Category)
		}
	}
	assert.True(t, critical, "OBJ-002 must fire for unauthenticated delete on identified object")
}

// TestScanIndependentRules verifies multiple rules can fire for one endpoint.
func TestScanIndependentRules(t *testing.T) {
	cat := newTestCatalog(t)

	endpoint := types.EndpointDescriptor{
		ID:     "ep-4",
		Path:   "/records",
		Method: "GET",
		Parameters: []types.ParameterDescriptor{
			{Name: "api_key", In: "query"},
		},
		Industry: "healthcare",
	}

	findings := cat.Scan(endpoint)
	// AUTH-001 (no security), KEY-002 (credential param) and RATE-001 (no
	// pagination) all apply independently.
	assert.GreaterOrEqual(t, len(findings), 3)
}

// TestScanDeterminism verifies two scans of the same endpoint produce
// identical findings in identical order.
func TestScanDeterminism(t *testing.T) {
	cat := newTestCatalog(t)

	endpoint := types.EndpointDescriptor{
		ID:       "ep-5",
		Path:     "/claims/{id}",
		Method:   "POST",
		Industry: "healthcare",
	}

	first := cat.Scan(endpoint)
	second := cat.Scan(endpoint)
	assert.Equal(t, first, second)
}

// TestScanEmptyDescriptor verifies a zero-value descriptor never panics.
func TestScanEmptyDescriptor(t *testing.T) {
	cat := newTestCatalog(t)
	assert.NotPanics(t, func() {
		cat.Scan(types.EndpointDescriptor{})
	})
}

func TestFrameworksForIndustry(t *testing.T) {
	cat := newTestCatalog(t)

	assert.Equal(t, []string{"HIPAA", "HITECH"}, cat.FrameworksForIndustry("healthcare"))
	assert.Equal(t, []string{"PCI-DSS", "SOX"}, cat.FrameworksForIndustry("Financial"))
	assert.Equal(t, []string{"GDPR", "SOC 2"}, cat.FrameworksForIndustry(""))
	assert.Equal(t, []string{"GDPR", "SOC 2"}, cat.FrameworksForIndustry("agriculture"))
}

func TestRuleByID(t *testing.T) {
	cat := newTestCatalog(t)

	rule, ok := cat.RuleByID("AUTH-001")
	assert.True(t, ok)
	assert.Equal(t, "API2:2023", rule.Category)

	_, ok = cat.RuleByID("NOPE-999")
	assert.False(t, ok)
}
