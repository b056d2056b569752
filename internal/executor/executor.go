// Package executor dispatches the actions of a DecisionPlan to concrete
// tools, honoring the safety governor's verdict for every mutation and
// aggregating the per-action outcomes into an ExecutionReport. Actions within
// one plan run strictly in order; plans for different endpoints may run
// concurrently against a shared session ledger.
package executor

import (
	"context"
	"log"
	"sync"
	"time"

	"apiguardian/internal/catalog"
	"apiguardian/internal/safety"
	"apiguardian/types"
)

// Run carries the per-execution state tools may consult: the analyzed
// endpoint and the findings accumulated so far (later actions may rely on
// earlier scan results).
type Run struct {
	Endpoint types.EndpointDescriptor

	mu       sync.Mutex
	findings []types.Finding
}

// Findings returns a snapshot of the findings accumulated so far.
func (r *Run) Findings() []types.Finding {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.Finding, len(r.findings))
	copy(out, r.findings)
	return out
}

func (r *Run) addFindings(findings []types.Finding) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.findings = append(r.findings, findings...)
}

// Executor runs decision plans through an explicit dispatch table.
type Executor struct {
	governor *safety.Governor
	tools    map[types.ActionKind]Tool
}

// New creates an executor with the standard tool set.
func New(governor *safety.Governor, cat *catalog.Catalog) *Executor {
	e := &Executor{
		governor: governor,
		tools:    make(map[types.ActionKind]Tool),
	}
	e.Register(NewScanTool(cat))
	e.Register(NewComplianceTool(cat))
	e.Register(NewRemediateFileTool())
	e.Register(NewConfigChangeTool())
	return e
}

// Register adds a tool to the dispatch table. Registering a second tool for
// the same kind replaces the first.
func (e *Executor) Register(tool Tool) {
	e.tools[tool.Kind()] = tool
}

// Execute runs every action of the plan in order and returns the aggregate
// report. It never returns an error: policy denials, tool failures and
// unknown kinds all land in per-action statuses, keeping the engine total.
func (e *Executor) Execute(ctx context.Context, plan *types.DecisionPlan, endpoint types.EndpointDescriptor, ledger *safety.SessionLedger) *types.ExecutionReport {
	startedAt := time.Now().UTC()
	run := &Run{Endpoint: endpoint}
	run.addFindings(plan.Findings)

	results := make([]types.ExecutionResult, 0, len(plan.Actions))
	for _, action := range plan.Actions {
		results = append(results, e.executeAction(ctx, action, run, ledger))
	}

	return e.buildReport(plan, run, results, startedAt)
}

// executeAction dispatches one action. Cancellation is honored between
// actions only: once a mutation begins it runs to verify/rollback completion
// so no file is left in an unverified state.
func (e *Executor) executeAction(ctx context.Context, action types.Action, run *Run, ledger *safety.SessionLedger) types.ExecutionResult {
	start := time.Now()
	result := types.ExecutionResult{Action: action}

	tool, ok := e.tools[action.Kind]
	if !ok {
		log.Printf("  ❓ Unsupported action kind %q for %s", action.Kind, action.Target)
		result.Status = types.StatusUnsupported
		result.Reason = types.ReasonUnknownKind
		result.Duration = time.Since(start)
		return result
	}

	if err := ctx.Err(); err != nil {
		result.Status = types.StatusSkipped
		result.Reason = "request_cancelled"
		result.Duration = time.Since(start)
		return result
	}

	switch impl := tool.(type) {
	case ReadOnlyTool:
		findings, err := impl.Execute(ctx, action, run)
		if err != nil {
			result.Status = types.StatusFailed
			result.Error = err.Error()
		} else {
			run.addFindings(findings)
			result.Status = types.StatusSuccess
			result.Findings = findings
		}
	case MutatingTool:
		result = e.executeMutation(action, impl, ledger)
	default:
		result.Status = types.StatusUnsupported
		result.Reason = types.ReasonUnknownKind
	}

	result.Action = action
	result.Duration = time.Since(start)
	return result
}

// executeMutation drives the authorize → apply → verify → rollback cycle for
// one mutating action, holding the per-target mutation lock throughout.
func (e *Executor) executeMutation(action types.Action, tool MutatingTool, ledger *safety.SessionLedger) types.ExecutionResult {
	result := types.ExecutionResult{Action: action}

	abs, err := e.governor.ResolveTarget(action.Target)
	if err != nil {
		result.Status = types.StatusSkipped
		result.Reason = types.ReasonInvalidTarget
		result.Error = err.Error()
		return result
	}

	unlock := ledger.LockTarget(abs)
	defer unlock()

	auth := e.governor.Authorize(action, ledger)
	result.BackupPath = auth.BackupPath
	if !auth.Allowed {
		log.Printf("  🚫 Action %s on %s denied: %s", action.Kind, action.Target, auth.Reason)
		result.Status = types.StatusSkipped
		result.Reason = auth.Reason
		return result
	}

	if err := tool.Apply(action, auth.Target); err != nil {
		log.Printf("  ⚠️  Apply failed for %s: %v. Rolling back.", action.Target, err)
		e.rollback(auth)
		result.Status = types.StatusFailed
		result.Error = err.Error()
		return result
	}

	if err := tool.Verify(action, auth.Target); err != nil {
		log.Printf("  ⚠️  Verification failed for %s: %v. Rolling back.", action.Target, err)
		e.rollback(auth)
		result.Status = types.StatusFailed
		result.Reason = types.ReasonVerificationFailed
		result.Error = err.Error()
		return result
	}

	log.Printf("  🔧 Applied %s to %s", action.Kind, action.Target)
	result.Status = types.StatusSuccess
	return result
}

func (e *Executor) rollback(auth safety.Authorization) {
	if err := e.governor.Restore(auth.Target, auth.BackupPath); err != nil {
		log.Printf("  ❌ Rollback failed for %s: %v", auth.Target, err)
	}
}

// buildReport aggregates per-action results into the final report.
func (e *Executor) buildReport(plan *types.DecisionPlan, run *Run, results []types.ExecutionResult, startedAt time.Time) *types.ExecutionReport {
	findings := run.Findings()
	findings = dedupeFindings(findings)

	severityCounts := make(map[types.Severity]int)
	for _, f := range findings {
		severityCounts[f.Severity]++
	}

	fixesApplied := 0
	for _, r := range results {
		if r.Status == types.StatusSuccess && r.Action.Kind.Mutating() {
			fixesApplied++
		}
	}

	return &types.ExecutionReport{
		PlanID:               plan.ID,
		Endpoint:             plan.Endpoint,
		PlanSource:           plan.Source,
		Findings:             findings,
		Results:              results,
		FixesApplied:         fixesApplied,
		VulnerabilitiesFound: len(findings),
		SeverityCounts:       severityCounts,
		Frameworks:           plan.Frameworks,
		StartedAt:            startedAt,
		CompletedAt:          time.Now().UTC(),
	}
}

// dedupeFindings removes duplicate findings by (rule, endpoint), preserving
// first-seen order. A plan that carries planner findings and also runs a scan
// action would otherwise double-count.
func dedupeFindings(findings []types.Finding) []types.Finding {
	seen := make(map[string]bool, len(findings))
	out := make([]types.Finding, 0, len(findings))
	for _, f := range findings {
		key := f.RuleID + "|" + f.Endpoint
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, f)
	}
	return out
}
