package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"apiguardian/internal/catalog"
	"apiguardian/types"
)

// Tool is a concrete implementation of one action kind. Read-only tools
// receive no authorization; mutating tools are driven through the
// apply/verify cycle by the executor, which owns backup and rollback.
type Tool interface {
	Kind() types.ActionKind
}

// ReadOnlyTool executes without touching any file.
type ReadOnlyTool interface {
	Tool
	Execute(ctx context.Context, action types.Action, run *Run) ([]types.Finding, error)
}

// MutatingTool applies a parameterized change to an absolute target path and
// verifies it afterwards. Verify runs against a fresh re-read of the file.
type MutatingTool interface {
	Tool
	Apply(action types.Action, absTarget string) error
	Verify(action types.Action, absTarget string) error
}

// ----------------------------------------------------------------------------
// scan
// ----------------------------------------------------------------------------

// ScanTool runs the rule catalog against the analyzed endpoint.
type ScanTool struct {
	catalog *catalog.Catalog
}

// NewScanTool creates the scan tool.
func NewScanTool(cat *catalog.Catalog) *ScanTool {
	return &ScanTool{catalog: cat}
}

func (t *ScanTool) Kind() types.ActionKind { return types.ActionScan }

// Execute scans the endpoint and returns its findings.
func (t *ScanTool) Execute(_ context.Context, _ types.Action, run *Run) ([]types.Finding, error) {
	return t.catalog.Scan(run.Endpoint), nil
}

// ----------------------------------------------------------------------------
// compliance_check
// ----------------------------------------------------------------------------

// ComplianceTool checks the findings accumulated so far against the
// compliance frameworks implicated by the endpoint's industry. Each framework
// with outstanding high or critical findings yields one violation finding.
type ComplianceTool struct {
	catalog *catalog.Catalog
}

// NewComplianceTool creates the compliance-check tool.
func NewComplianceTool(cat *catalog.Catalog) *ComplianceTool {
	return &ComplianceTool{catalog: cat}
}

func (t *ComplianceTool) Kind() types.ActionKind { return types.ActionComplianceCheck }

// Execute reports one violation per implicated framework when serious
// findings are outstanding.
func (t *ComplianceTool) Execute(_ context.Context, _ types.Action, run *Run) ([]types.Finding, error) {
	serious := false
	for _, f := range run.Findings() {
		if f.Severity == types.SeverityHigh || f.Severity == types.SeverityCritical {
			serious = true
			break
		}
	}
	if !serious {
		return nil, nil
	}

	frameworks := t.catalog.FrameworksForIndustry(run.Endpoint.Industry)
	findings := make([]types.Finding, 0, len(frameworks))
	for _, framework := range frameworks {
		findings = append(findings, types.Finding{
			RuleID:      "COMPLIANCE-" + framework,
			Category:    "compliance",
			Title:       fmt.Sprintf("%s exposure from outstanding findings", framework),
			Description: fmt.Sprintf("High or critical findings on this endpoint put %s compliance at risk until remediated.", framework),
			Severity:    types.SeverityHigh,
			Endpoint:    run.Endpoint.ID,
			Frameworks:  []string{framework},
		})
	}
	return findings, nil
}

// ----------------------------------------------------------------------------
// remediate_file
// ----------------------------------------------------------------------------

// RemediateFileTool applies a parameterized textual fix: every occurrence of
// params["match"] is replaced by params["replacement"]. Verification requires
// the replacement to be present in the re-read file.
type RemediateFileTool struct{}

// NewRemediateFileTool creates the file remediation tool.
func NewRemediateFileTool() *RemediateFileTool {
	return &RemediateFileTool{}
}

func (t *RemediateFileTool) Kind() types.ActionKind { return types.ActionRemediateFile }

// Apply rewrites the target file with the parameterized replacement.
func (t *RemediateFileTool) Apply(action types.Action, absTarget string) error {
	match := action.Params["match"]
	replacement := action.Params["replacement"]
	if match == "" || replacement == "" {
		return fmt.Errorf("remediate_file requires match and replacement parameters")
	}

	content, err := os.ReadFile(absTarget)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", absTarget, err)
	}

	fixed := strings.ReplaceAll(string(content), match, replacement)
	if err := os.WriteFile(absTarget, []byte(fixed), 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", absTarget, err)
	}
	return nil
}

// Verify re-reads the file and requires the expected content to be present.
// The expected string is params["expect"] when set, else the replacement.
func (t *RemediateFileTool) Verify(action types.Action, absTarget string) error {
	expect := action.Params["expect"]
	if expect == "" {
		expect = action.Params["replacement"]
	}

	content, err := os.ReadFile(absTarget)
	if err != nil {
		return fmt.Errorf("failed to re-read %s: %w", absTarget, err)
	}
	if !strings.Contains(string(content), expect) {
		return fmt.Errorf("expected content %q absent after remediation", expect)
	}
	return nil
}

// ----------------------------------------------------------------------------
// config_change
// ----------------------------------------------------------------------------

// ConfigChangeTool sets params["key"] to params["value"] in a flat YAML-style
// config file, creating the file when absent.
type ConfigChangeTool struct{}

// NewConfigChangeTool creates the config-change tool.
func NewConfigChangeTool() *ConfigChangeTool {
	return &ConfigChangeTool{}
}

func (t *ConfigChangeTool) Kind() types.ActionKind { return types.ActionConfigChange }

// Apply sets or replaces the key's line in the target file.
func (t *ConfigChangeTool) Apply(action types.Action, absTarget string) error {
	key := action.Params["key"]
	value := action.Params["value"]
	if key == "" || value == "" {
		return fmt.Errorf("config_change requires key and value parameters")
	}

	var lines []string
	content, err := os.ReadFile(absTarget)
	if err == nil {
		lines = strings.Split(strings.TrimRight(string(content), "\n"), "\n")
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to read %s: %w", absTarget, err)
	}

	entry := fmt.Sprintf("%s: %s", key, value)
	replaced := false
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), key+":") {
			lines[i] = entry
			replaced = true
		}
	}
	if !replaced {
		lines = append(lines, entry)
	}

	if err := os.MkdirAll(filepath.Dir(absTarget), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", absTarget, err)
	}
	out := strings.Join(lines, "\n") + "\n"
	if err := os.WriteFile(absTarget, []byte(out), 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", absTarget, err)
	}
	return nil
}

// Verify re-reads the file and requires the key/value line to be present.
func (t *ConfigChangeTool) Verify(action types.Action, absTarget string) error {
	entry := fmt.Sprintf("%s: %s", action.Params["key"], action.Params["value"])

	content, err := os.ReadFile(absTarget)
	if err != nil {
		return fmt.Errorf("failed to re-read %s: %w", absTarget, err)
	}
	if !strings.Contains(string(content), entry) {
		return fmt.Errorf("config entry %q absent after change", entry)
	}
	return nil
}
