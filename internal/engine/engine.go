// Package engine wires the decision, safety and execution layers into the
// analysis pipeline collaborators call. One AnalyzeEndpoint call takes an
// endpoint descriptor through plan, governed execution and reporting.
package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"apiguardian/internal/audit"
	"apiguardian/internal/catalog"
	"apiguardian/internal/config"
	"apiguardian/internal/decision"
	"apiguardian/internal/events"
	"apiguardian/internal/executor"
	"apiguardian/internal/memory"
	"apiguardian/internal/planner"
	"apiguardian/internal/reasoning"
	"apiguardian/internal/safety"
	"apiguardian/internal/telemetry"
	"apiguardian/types"
)

// AnalysisRequest is one endpoint analysis. SessionID groups successive
// requests under a shared remediation quota; empty means a fresh session.
type AnalysisRequest struct {
	SessionID string                   `json:"session_id,omitempty"`
	Endpoint  types.EndpointDescriptor `json:"endpoint"`
	Context   types.BusinessContext    `json:"business_context"`
}

// Engine is the top-level orchestrator.
type Engine struct {
	config   *config.Config
	decider  *decision.Engine
	executor *executor.Executor
	sessions *SessionManager
	memory   *memory.Store // nil when disabled
	auditLog audit.Logger
	producer events.Producer
}

// New assembles an engine from config. The reasoning backend is optional:
// when no provider can be initialized the engine runs fallback-only, which
// is a supported mode rather than an error.
func New(cfg *config.Config) (*Engine, error) {
	log.Println("🚀 Initializing APIGuardian engine...")

	// Only the safety policy is the engine's concern; embedded callers (tests,
	// one-shot CLI analysis) run without a server or reasoning backend.
	if err := cfg.Safety.Validate(); err != nil {
		return nil, fmt.Errorf("invalid safety policy: %w", err)
	}

	cat, err := catalog.New()
	if err != nil {
		return nil, fmt.Errorf("failed to load finding catalog: %w", err)
	}
	log.Printf("✅ Finding catalog loaded (%d rules)", len(cat.Rules()))

	fallback := planner.New(cat)

	var backend types.ReasoningBackend
	if svc, err := reasoning.NewService(cfg.Reasoning); err != nil {
		log.Printf("⚠️  No reasoning backend available: %v. Running fallback-only.", err)
	} else {
		backend = svc
		log.Printf("✅ Reasoning backend ready (providers: %v)", svc.Providers())
	}

	var store *memory.Store
	opts := []decision.Option{}
	if cfg.Memory.Enable {
		store, err = memory.New(cfg.Memory.Path)
		if err != nil {
			log.Printf("⚠️  Decision memory failed to open: %v. Continuing without it.", err)
			store = nil
		} else {
			opts = append(opts, decision.WithMemory(store))
			log.Printf("✅ Decision memory ready (%d prior analyses)", store.Count())
		}
	}

	timeout := cfg.Reasoning.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	decider, err := decision.New(backend, fallback, timeout, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build decision engine: %w", err)
	}

	governor := safety.NewGovernor(cfg.Safety, safety.NewDiskBackupStore(), cfg.WorkDir)
	if cfg.Safety.SafeMode {
		log.Println("🔒 Safe mode is ON: no files will be modified.")
	} else {
		log.Printf("🔓 Safe mode is OFF: up to %d file modifications per session.", cfg.Safety.MaxFileModifications)
	}

	var auditLog audit.Logger = &audit.NoOpLogger{}
	if cfg.AuditLog != "" {
		fileLog, err := audit.NewFileLogger(cfg.AuditLog)
		if err != nil {
			log.Printf("⚠️  Audit log unavailable: %v. Continuing without it.", err)
		} else {
			auditLog = fileLog
			log.Printf("✅ Audit log at %s", cfg.AuditLog)
		}
	}

	return &Engine{
		config:   cfg,
		decider:  decider,
		executor: executor.New(governor, cat),
		sessions: NewSessionManager(),
		memory:   store,
		auditLog: auditLog,
		producer: events.New(cfg.Events),
	}, nil
}

// AnalyzeEndpoint runs the full pipeline for one endpoint: plan (LLM or
// fallback), governed execution, then reporting side effects (audit trail,
// lifecycle events, decision memory, telemetry). It returns an error only
// for malformed requests; analysis itself is total.
func (e *Engine) AnalyzeEndpoint(ctx context.Context, req AnalysisRequest) (*types.ExecutionReport, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	session := e.sessions.GetOrCreate(req.SessionID)
	log.Printf("🔍 Analyzing %s %s (session %s)", req.Endpoint.Method, req.Endpoint.Path, session.ID)

	e.logAudit(audit.Entry{
		SessionID: session.ID,
		Endpoint:  req.Endpoint.ID,
		Event:     audit.EventSessionStarted,
	})
	e.emit(ctx, events.Event{
		Type:      events.AnalysisStartedEvent,
		SessionID: session.ID,
		Endpoint:  req.Endpoint.ID,
	})

	plan := e.decider.Plan(ctx, req.Endpoint, req.Context)
	log.Printf("📋 Plan %s ready: %d actions (source: %s)", plan.ID, len(plan.Actions), plan.Source)
	e.logAudit(audit.Entry{
		SessionID:   session.ID,
		Endpoint:    req.Endpoint.ID,
		Event:       audit.EventPlanGenerated,
		PlanSource:  plan.Source,
		ActionCount: len(plan.Actions),
	})
	e.emit(ctx, events.Event{
		Type:      events.PlanGeneratedEvent,
		SessionID: session.ID,
		Endpoint:  req.Endpoint.ID,
		Data: map[string]interface{}{
			"plan_id":      plan.ID,
			"source":       string(plan.Source),
			"action_count": len(plan.Actions),
		},
	})

	report := e.executor.Execute(ctx, plan, req.Endpoint, session.Ledger())
	report.SessionID = session.ID
	report.Telemetry = telemetry.Snapshot(ctx)
	session.addReport(report)

	for _, entry := range audit.ForReport(session.ID, report) {
		e.logAudit(entry)
	}
	events.EmitReport(ctx, e.producer, report)

	if e.memory != nil {
		if err := e.memory.Record(ctx, req.Endpoint, report); err != nil {
			log.Printf("⚠️  Failed to record analysis in decision memory: %v", err)
		}
	}

	log.Printf("✅ Analysis complete: %d vulnerabilities, %d fixes applied",
		report.VulnerabilitiesFound, report.FixesApplied)
	return report, nil
}

// Session exposes a session for the serving layer.
func (e *Engine) Session(id string) (*Session, bool) {
	return e.sessions.Get(id)
}

// EndSession discards a session's ledger so a new quota applies to future
// work under the same ID.
func (e *Engine) EndSession(id string) {
	e.sessions.Drop(id)
}

// Schema returns the JSON schema plans are validated against.
func (e *Engine) Schema() string {
	return e.decider.Schema()
}

// Close flushes the audit log and event producer.
func (e *Engine) Close() error {
	if err := e.producer.Close(); err != nil {
		log.Printf("⚠️  Event producer close failed: %v", err)
	}
	return e.auditLog.Close()
}

func validateRequest(req AnalysisRequest) error {
	if req.Endpoint.ID == "" {
		return fmt.Errorf("endpoint id is required")
	}
	if req.Endpoint.Path == "" {
		return fmt.Errorf("endpoint path is required")
	}
	if req.Endpoint.Method == "" {
		return fmt.Errorf("endpoint method is required")
	}
	return nil
}

func (e *Engine) logAudit(entry audit.Entry) {
	if err := e.auditLog.Log(entry); err != nil {
		log.Printf("⚠️  Audit write failed: %v", err)
	}
}

func (e *Engine) emit(ctx context.Context, event events.Event) {
	if err := e.producer.Produce(ctx, event); err != nil {
		log.Printf("⚠️  Failed to produce %s event: %v", event.Type, err)
	}
}
