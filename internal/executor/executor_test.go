package executor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apiguardian/internal/catalog"
	"apiguardian/internal/config"
	"apiguardian/internal/safety"
	"apiguardian/types"
)

type harness struct {
	executor *Executor
	governor *safety.Governor
	ledger   *safety.SessionLedger
	store    *safety.MemoryBackupStore
	dir      string
}

func newHarness(t *testing.T, policy config.SafetyConfig) *harness {
	t.Helper()
	cat, err := catalog.New()
	require.NoError(t, err)

	dir := t.TempDir()
	store := safety.NewMemoryBackupStore()
	governor := safety.NewGovernor(policy, store, dir)
	return &harness{
		executor: New(governor, cat),
		governor: governor,
		ledger:   safety.NewLedger("s1"),
		store:    store,
		dir:      dir,
	}
}

func openPolicy() config.SafetyConfig {
	return config.SafetyConfig{
		SafeMode:             false,
		MaxFileModifications: 5,
		AllowedExtensions:    []string{".go", ".yaml"},
		BackupsEnabled:       true,
	}
}

func plan(endpoint string, actions ...types.Action) *types.DecisionPlan {
	return &types.DecisionPlan{
		ID:          "plan-1",
		Endpoint:    endpoint,
		Source:      types.PlanSourceFallback,
		GeneratedAt: time.Now().UTC(),
		Actions:     actions,
		Validated:   true,
	}
}

func healthcareEndpoint() types.EndpointDescriptor {
	return types.EndpointDescriptor{
		ID:       "ep-1",
		Path:     "/patients",
		Method:   "GET",
		Industry: "healthcare",
	}
}

// TestExecuteScan verifies scan actions surface catalog findings into the
// report.
func TestExecuteScan(t *testing.T) {
	h := newHarness(t, openPolicy())

	p := plan("ep-1", types.Action{Kind: types.ActionScan, Target: "ep-1", Risk: types.RiskLow})
	report := h.executor.Execute(context.Background(), p, healthcareEndpoint(), h.ledger)

	require.Len(t, report.Results, 1)
	assert.Equal(t, types.StatusSuccess, report.Results[0].Status)
	assert.Greater(t, report.VulnerabilitiesFound, 0)
	assert.Equal(t, 0, report.FixesApplied, "scans are not fixes")
	assert.NotZero(t, report.SeverityCounts[types.SeverityHigh])
}

// TestExecuteSafeModeSkip covers the canonical scenario: safe mode on, a
// remediation planned, zero files touched.
func TestExecuteSafeModeSkip(t *testing.T) {
	policy := openPolicy()
	policy.SafeMode = true
	h := newHarness(t, policy)

	target := filepath.Join(h.dir, "app.go")
	require.NoError(t, os.WriteFile(target, []byte("debug = true"), 0644))

	p := plan("ep-1", types.Action{
		Kind:   types.ActionRemediateFile,
		Target: "app.go",
		Params: map[string]string{"match": "debug = true", "replacement": "debug = false"},
		Risk:   types.RiskMedium,
	})
	report := h.executor.Execute(context.Background(), p, healthcareEndpoint(), h.ledger)

	require.Len(t, report.Results, 1)
	assert.Equal(t, types.StatusSkipped, report.Results[0].Status)
	assert.Equal(t, types.ReasonSafeModeEnabled, report.Results[0].Reason)
	assert.Equal(t, 0, report.FixesApplied)

	content, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "debug = true", string(content), "file untouched under safe mode")
	assert.Equal(t, 0, h.store.Len(), "no backup written for a denied action")
}

// TestExecuteRemediateSuccess verifies apply + verify + backup bookkeeping.
func TestExecuteRemediateSuccess(t *testing.T) {
	h := newHarness(t, openPolicy())

	target := filepath.Join(h.dir, "app.go")
	require.NoError(t, os.WriteFile(target, []byte("hash := md5.Sum(data)"), 0644))

	p := plan("ep-1", types.Action{
		Kind:   types.ActionRemediateFile,
		Target: "app.go",
		Params: map[string]string{"match": "md5.Sum", "replacement": "sha256.Sum256"},
		Risk:   types.RiskMedium,
	})
	report := h.executor.Execute(context.Background(), p, healthcareEndpoint(), h.ledger)

	require.Len(t, report.Results, 1)
	assert.Equal(t, types.StatusSuccess, report.Results[0].Status)
	assert.Equal(t, 1, report.FixesApplied)

	content, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "hash := sha256.Sum256(data)", string(content))

	// The pre-mutation content is locatable via the ledger.
	location, ok := h.ledger.BackupFor(target)
	require.True(t, ok)
	backup, err := h.store.Get(location)
	require.NoError(t, err)
	assert.Equal(t, "hash := md5.Sum(data)", string(backup))
}

// TestExecuteVerificationFailureRollsBack verifies a failed verification
// restores the file byte-identically and reports failed.
func TestExecuteVerificationFailureRollsBack(t *testing.T) {
	h := newHarness(t, openPolicy())

	original := "listen: 0.0.0.0\ndebug: enabled\n"
	target := filepath.Join(h.dir, "server.yaml")
	require.NoError(t, os.WriteFile(target, []byte(original), 0644))

	// The match is present so Apply succeeds, but the verify expectation
	// names content the fix never writes.
	p := plan("ep-1", types.Action{
		Kind:   types.ActionRemediateFile,
		Target: "server.yaml",
		Params: map[string]string{
			"match":       "debug: enabled",
			"replacement": "debug: disabled",
			"expect":      "tls: required",
		},
		Risk: types.RiskMedium,
	})
	report := h.executor.Execute(context.Background(), p, healthcareEndpoint(), h.ledger)

	require.Len(t, report.Results, 1)
	assert.Equal(t, types.StatusFailed, report.Results[0].Status)
	assert.Equal(t, types.ReasonVerificationFailed, report.Results[0].Reason)
	assert.Equal(t, 0, report.FixesApplied)

	content, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, original, string(content), "rollback must restore exact pre-action bytes")
}

// TestExecuteQuota covers the canonical two-mutations-one-slot scenario.
func TestExecuteQuota(t *testing.T) {
	policy := openPolicy()
	policy.MaxFileModifications = 1
	h := newHarness(t, policy)

	for _, name := range []string{"a.go", "b.go"} {
		require.NoError(t, os.WriteFile(filepath.Join(h.dir, name), []byte("x := 1"), 0644))
	}

	mutate := func(name string) types.Action {
		return types.Action{
			Kind:   types.ActionRemediateFile,
			Target: name,
			Params: map[string]string{"match": "x := 1", "replacement": "x := 2"},
			Risk:   types.RiskLow,
		}
	}

	p := plan("ep-1", mutate("a.go"), mutate("b.go"))
	report := h.executor.Execute(context.Background(), p, healthcareEndpoint(), h.ledger)

	require.Len(t, report.Results, 2)
	assert.Equal(t, types.StatusSuccess, report.Results[0].Status)
	assert.Equal(t, types.StatusSkipped, report.Results[1].Status)
	assert.Equal(t, types.ReasonQuotaExceeded, report.Results[1].Reason)
	assert.Equal(t, 1, report.FixesApplied)
}

// TestExecuteUnknownKind verifies unsupported kinds produce a defined status,
// not a failure.
func TestExecuteUnknownKind(t *testing.T) {
	h := newHarness(t, openPolicy())

	p := plan("ep-1", types.Action{Kind: types.ActionKind("deploy"), Target: "ep-1", Risk: types.RiskLow})
	report := h.executor.Execute(context.Background(), p, healthcareEndpoint(), h.ledger)

	require.Len(t, report.Results, 1)
	assert.Equal(t, types.StatusUnsupported, report.Results[0].Status)
	assert.Equal(t, types.ReasonUnknownKind, report.Results[0].Reason)
}

// TestExecuteConfigChange verifies key updates and file creation.
func TestExecuteConfigChange(t *testing.T) {
	h := newHarness(t, openPolicy())

	p := plan("ep-1",
		types.Action{
			Kind:   types.ActionConfigChange,
			Target: "security.yaml",
			Params: map[string]string{"key": "audit_logging", "value": "enabled"},
			Risk:   types.RiskLow,
		},
		types.Action{
			Kind:   types.ActionConfigChange,
			Target: "security.yaml",
			Params: map[string]string{"key": "audit_logging", "value": "verbose"},
			Risk:   types.RiskLow,
		},
	)
	report := h.executor.Execute(context.Background(), p, healthcareEndpoint(), h.ledger)

	require.Len(t, report.Results, 2)
	assert.Equal(t, types.StatusSuccess, report.Results[0].Status)
	assert.Equal(t, types.StatusSuccess, report.Results[1].Status)

	content, err := os.ReadFile(filepath.Join(h.dir, "security.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(content), "audit_logging: verbose")
	assert.NotContains(t, string(content), "audit_logging: enabled")
}

// TestExecuteOrderPreserved verifies actions run strictly in plan order so a
// compliance check sees the findings of the preceding scan.
func TestExecuteOrderPreserved(t *testing.T) {
	h := newHarness(t, openPolicy())

	p := plan("ep-1",
		types.Action{Kind: types.ActionScan, Target: "ep-1", Risk: types.RiskLow},
		types.Action{Kind: types.ActionComplianceCheck, Target: "ep-1", Risk: types.RiskLow},
	)
	report := h.executor.Execute(context.Background(), p, healthcareEndpoint(), h.ledger)

	require.Len(t, report.Results, 2)
	// The unauthenticated healthcare endpoint scans high, so the compliance
	// check that follows must flag HIPAA exposure.
	assert.Equal(t, types.StatusSuccess, report.Results[1].Status)
	require.NotEmpty(t, report.Results[1].Findings)
	assert.Contains(t, report.Results[1].Findings[0].RuleID, "COMPLIANCE-")
}

// TestExecuteCancelledContext verifies pending actions are not dispatched
// after cancellation.
func TestExecuteCancelledContext(t *testing.T) {
	h := newHarness(t, openPolicy())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := plan("ep-1", types.Action{Kind: types.ActionScan, Target: "ep-1", Risk: types.RiskLow})
	report := h.executor.Execute(ctx, p, healthcareEndpoint(), h.ledger)

	require.Len(t, report.Results, 1)
	assert.Equal(t, types.StatusSkipped, report.Results[0].Status)
}

// TestExecuteDedupesFindings verifies planner findings plus a scan of the
// same endpoint do not double-count vulnerabilities.
func TestExecuteDedupesFindings(t *testing.T) {
	h := newHarness(t, openPolicy())

	cat, err := catalog.New()
	require.NoError(t, err)
	endpoint := healthcareEndpoint()
	preFindings := cat.Scan(endpoint)
	require.NotEmpty(t, preFindings)

	p := plan("ep-1", types.Action{Kind: types.ActionScan, Target: "ep-1", Risk: types.RiskLow})
	p.Findings = preFindings

	report := h.executor.Execute(context.Background(), p, endpoint, h.ledger)
	assert.Equal(t, len(preFindings), report.VulnerabilitiesFound)
}
