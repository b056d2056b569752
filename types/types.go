package types

import (
	"context"
	"time"
)

// ============================================================================
// ENDPOINT DESCRIPTORS
// ============================================================================

// EndpointDescriptor is the immutable input supplied by the discovery
// collaborator. It describes one API endpoint plus its business context.
type EndpointDescriptor struct {
	ID              string                `json:"id"`
	Path            string                `json:"path"`
	Method          string                `json:"method"`
	Security        []SecurityScheme      `json:"security"`
	Parameters      []ParameterDescriptor `json:"parameters"`
	Industry        string                `json:"industry"`
	BusinessContext string                `json:"business_context"`
}

// SecurityScheme describes one declared authentication scheme on an endpoint.
type SecurityScheme struct {
	Type   string `json:"type"`   // "apiKey", "http", "oauth2", "openIdConnect"
	Scheme string `json:"scheme"` // e.g. "bearer", "basic" for type "http"
	Name   string `json:"name"`   // parameter name for type "apiKey"
	In     string `json:"in"`     // "header", "query", "cookie" for type "apiKey"
}

// ParameterDescriptor describes one declared endpoint parameter.
type ParameterDescriptor struct {
	Name     string `json:"name"`
	In       string `json:"in"` // "path", "query", "header", "cookie", "body"
	Required bool   `json:"required"`
}

// ============================================================================
// FINDINGS
// ============================================================================

// Severity classifies how serious a finding is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ValidSeverity reports whether s is a known severity tier.
func ValidSeverity(s Severity) bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Finding is a single vulnerability observation produced by the rule catalog
// or a scan tool. Findings are never mutated after creation.
type Finding struct {
	RuleID      string   `json:"rule_id"`
	Category    string   `json:"category"` // OWASP API Top 10 (2023) identifier, e.g. "API2:2023"
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
	Endpoint    string   `json:"endpoint"`
	Frameworks  []string `json:"frameworks,omitempty"` // compliance frameworks implicated
}

// ============================================================================
// ACTIONS & PLANS
// ============================================================================

// ActionKind is the closed set of operations the executor can dispatch.
// Unknown kinds are reported as StatusUnsupported, never executed.
type ActionKind string

const (
	ActionScan            ActionKind = "scan"
	ActionComplianceCheck ActionKind = "compliance_check"
	ActionRemediateFile   ActionKind = "remediate_file"
	ActionConfigChange    ActionKind = "config_change"
)

// ValidActionKind reports whether k is a known action kind.
func ValidActionKind(k ActionKind) bool {
	switch k {
	case ActionScan, ActionComplianceCheck, ActionRemediateFile, ActionConfigChange:
		return true
	}
	return false
}

// Mutating reports whether the kind writes to a target file.
func (k ActionKind) Mutating() bool {
	return k == ActionRemediateFile || k == ActionConfigChange
}

// RiskLevel classifies the blast radius of an action.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// ValidRiskLevel reports whether r is a known risk tier.
func ValidRiskLevel(r RiskLevel) bool {
	return r == RiskLow || r == RiskMedium || r == RiskHigh
}

// RiskForSeverity derives an action risk level from a finding severity.
// Both plan sources use this mapping, which is what lets the safety governor
// treat LLM and fallback plans uniformly.
func RiskForSeverity(s Severity) RiskLevel {
	switch s {
	case SeverityCritical, SeverityHigh:
		return RiskHigh
	case SeverityMedium:
		return RiskMedium
	default:
		return RiskLow
	}
}

// Action is a single typed operation proposed by a planner. Read-only after
// creation.
type Action struct {
	Kind             ActionKind        `json:"kind"`
	Target           string            `json:"target"` // endpoint id or file path
	Params           map[string]string `json:"params,omitempty"`
	Risk             RiskLevel         `json:"risk"`
	RequiresApproval bool              `json:"requires_approval"`
	RuleID           string            `json:"rule_id,omitempty"`
	Reason           string            `json:"reason,omitempty"`
}

// PlanSource identifies which planner produced a DecisionPlan.
type PlanSource string

const (
	PlanSourceLLM      PlanSource = "llm"
	PlanSourceFallback PlanSource = "fallback"
)

// DecisionPlan is an ordered sequence of actions for one endpoint analysis.
// A plan is immutable once emitted; re-planning creates a new plan.
type DecisionPlan struct {
	ID          string     `json:"id"`
	Endpoint    string     `json:"endpoint"`
	Source      PlanSource `json:"source"`
	GeneratedAt time.Time  `json:"generated_at"`
	Actions     []Action   `json:"actions"`
	Findings    []Finding  `json:"findings,omitempty"`
	Frameworks  []string   `json:"frameworks,omitempty"`
	Validated   bool       `json:"validated"`
}

// ============================================================================
// EXECUTION RESULTS
// ============================================================================

// ExecutionStatus is the terminal status of one executed action.
type ExecutionStatus string

const (
	StatusSuccess     ExecutionStatus = "success"
	StatusFailed      ExecutionStatus = "failed"
	StatusSkipped     ExecutionStatus = "skipped"
	StatusUnsupported ExecutionStatus = "unsupported"
)

// Machine-readable reasons attached to skipped/failed results.
const (
	ReasonSafeModeEnabled     = "safe_mode_enabled"
	ReasonQuotaExceeded       = "quota_exceeded"
	ReasonExtensionNotAllowed = "extension_not_allowed"
	ReasonBackupsDisabled     = "backups_disabled"
	ReasonBackupFailed        = "backup_failed"
	ReasonVerificationFailed  = "verification_failed"
	ReasonUnknownKind         = "unknown_action_kind"
	ReasonInvalidTarget       = "invalid_target"
)

// ExecutionResult is the per-action outcome.
type ExecutionResult struct {
	Action     Action          `json:"action"`
	Status     ExecutionStatus `json:"status"`
	Reason     string          `json:"reason,omitempty"`
	Error      string          `json:"error,omitempty"`
	Findings   []Finding       `json:"findings,omitempty"`
	BackupPath string          `json:"backup_path,omitempty"`
	Duration   time.Duration   `json:"duration_ns"`
}

// Telemetry is a host resource snapshot captured when a report is assembled.
type Telemetry struct {
	MemoryUsedPercent float64 `json:"memory_used_percent"`
	CPUPercent        float64 `json:"cpu_percent"`
	GoRoutines        int     `json:"goroutines"`
}

// ExecutionReport aggregates the execution of one DecisionPlan. It is the
// only output the engine hands to the reporting collaborator; the engine
// always produces one, for every well-formed input.
type ExecutionReport struct {
	PlanID               string            `json:"plan_id"`
	SessionID            string            `json:"session_id"`
	Endpoint             string            `json:"endpoint"`
	PlanSource           PlanSource        `json:"plan_source"`
	Findings             []Finding         `json:"findings"`
	Results              []ExecutionResult `json:"actions"`
	FixesApplied         int               `json:"fixes_applied_count"`
	VulnerabilitiesFound int               `json:"vulnerabilities_found_count"`
	SeverityCounts       map[Severity]int  `json:"severity_counts"`
	Frameworks           []string          `json:"frameworks,omitempty"`
	Telemetry            *Telemetry        `json:"telemetry,omitempty"`
	StartedAt            time.Time         `json:"started_at"`
	CompletedAt          time.Time         `json:"completed_at"`
}

// ============================================================================
// CAPABILITIES
// ============================================================================

// ReasoningBackend is the injected capability for the external LLM-style
// reasoning service. Implementations must honor ctx cancellation; callers
// bound every invocation with a timeout.
type ReasoningBackend interface {
	// GenerateStructuredOutput returns raw JSON conforming to the supplied
	// JSON schema, or an error. Schema conformance is re-checked by the
	// caller; backends are not trusted.
	GenerateStructuredOutput(ctx context.Context, prompt string, schema string) (string, error)
}

// BusinessContext carries the collaborator-supplied analysis context that is
// not part of the endpoint shape itself.
type BusinessContext struct {
	Industry        string   `json:"industry"`
	DataSensitivity string   `json:"data_sensitivity,omitempty"` // "public", "internal", "confidential", "regulated"
	ComplianceHints []string `json:"compliance_hints,omitempty"`
	Notes           string   `json:"notes,omitempty"`
}
