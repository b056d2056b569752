// Package safety enforces the mutation policy: safe-mode gating, per-session
// modification quota, file-extension whitelist and mandatory
// backup-before-write. The governor treats every plan identically regardless
// of which planner produced it.
package safety

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"apiguardian/internal/config"
	"apiguardian/types"
)

// Authorization is the governor's verdict on one action.
type Authorization struct {
	Allowed    bool   `json:"allowed"`
	Reason     string `json:"reason,omitempty"`
	Target     string `json:"target,omitempty"` // resolved absolute path for mutations
	BackupPath string `json:"backup_path,omitempty"`
}

// Governor enforces the safety policy. The policy itself is an immutable
// value object supplied at construction; a restart is required to change it.
type Governor struct {
	policy  config.SafetyConfig
	store   BackupStore
	workDir string
}

// NewGovernor creates a governor over the given policy and backup store.
// workDir is the root under which relative mutation targets are resolved.
func NewGovernor(policy config.SafetyConfig, store BackupStore, workDir string) *Governor {
	return &Governor{policy: policy, store: store, workDir: workDir}
}

// Policy returns the governing safety config.
func (g *Governor) Policy() config.SafetyConfig {
	return g.policy
}

// ResolveTarget resolves an action target to an absolute path under the work
// directory. Targets escaping the work directory are rejected.
func (g *Governor) ResolveTarget(target string) (string, error) {
	abs := target
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(g.workDir, target)
	}
	abs = filepath.Clean(abs)

	root, err := filepath.Abs(g.workDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve work directory: %w", err)
	}
	if abs != root && !strings.HasPrefix(abs, root+string(filepath.Separator)) {
		return "", fmt.Errorf("target %q escapes the work directory", target)
	}
	return abs, nil
}

// Authorize applies the mutation policy to one action. Read-only actions are
// always allowed. For an allowed mutating action the governor writes the
// backup first, then charges the session quota; the returned authorization
// carries the backup location for rollback.
//
// The caller must hold the ledger's target lock for the action's resolved
// path before calling Authorize, and must keep holding it until mutate and
// verify complete.
func (g *Governor) Authorize(action types.Action, ledger *SessionLedger) Authorization {
	if !action.Kind.Mutating() {
		return Authorization{Allowed: true}
	}

	if g.policy.SafeMode && !(g.policy.AutoFixLowRisk && action.Risk == types.RiskLow) {
		return Authorization{Allowed: false, Reason: types.ReasonSafeModeEnabled}
	}

	if !g.policy.ExtensionAllowed(action.Target) {
		return Authorization{Allowed: false, Reason: types.ReasonExtensionNotAllowed}
	}

	if !g.policy.BackupsEnabled {
		return Authorization{Allowed: false, Reason: types.ReasonBackupsDisabled}
	}

	abs, err := g.ResolveTarget(action.Target)
	if err != nil {
		log.Printf("  🚫 Target resolution failed for %s: %v", action.Target, err)
		return Authorization{Allowed: false, Reason: types.ReasonInvalidTarget}
	}

	// Quota check, backup write and counter increment are serialized on the
	// session mutex so concurrent plans cannot over-commit the quota.
	ledger.mu.Lock()
	defer ledger.mu.Unlock()

	if ledger.modifications >= g.policy.MaxFileModifications {
		return Authorization{Allowed: false, Reason: types.ReasonQuotaExceeded}
	}

	content, err := os.ReadFile(abs)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("  🚫 Cannot read %s for backup: %v", abs, err)
			return Authorization{Allowed: false, Reason: types.ReasonBackupFailed}
		}
		// A config_change may create the file; back up its absent state as
		// empty content so rollback restores emptiness.
		content = nil
	}

	backupPath, err := g.store.Put(abs, content)
	if err != nil {
		log.Printf("  🚫 Backup write failed for %s: %v", abs, err)
		return Authorization{Allowed: false, Reason: types.ReasonBackupFailed}
	}

	ledger.charge(abs, backupPath)
	log.Printf("  💾 Backup written for %s (%d/%d modifications used)", abs, ledger.modifications, g.policy.MaxFileModifications)

	return Authorization{Allowed: true, Target: abs, BackupPath: backupPath}
}

// Restore rolls a target back to its backed-up content.
func (g *Governor) Restore(target, backupPath string) error {
	content, err := g.store.Get(backupPath)
	if err != nil {
		return fmt.Errorf("failed to load backup for %s: %w", target, err)
	}
	if err := os.WriteFile(target, content, 0600); err != nil {
		return fmt.Errorf("failed to restore %s: %w", target, err)
	}
	return nil
}
